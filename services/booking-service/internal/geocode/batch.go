package geocode

import (
	"context"
	"log/slog"

	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
)

// CoordinateWriter persists a resolved point for a customer.
type CoordinateWriter interface {
	SetCoordinates(ctx context.Context, customerID string, lat, lng float64) error
}

type BatchResult struct {
	Geocoded int `json:"geocoded"`
	NoMatch  int `json:"no_match"`
	Failed   int `json:"failed"`
}

// Batch geocodes customers one after another. A failing customer is logged
// and counted and the batch moves on; only context cancellation stops it.
func Batch(ctx context.Context, geo Geocoder, w CoordinateWriter, customers []model.Customer, logger *slog.Logger) (BatchResult, error) {
	var res BatchResult
	for _, c := range customers {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		p, err := geo.Geocode(ctx, c.Address)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			logger.Warn("geocode failed", "tenant_id", c.TenantID, "customer_id", c.ID, "err", err)
			continue
		}
		if p == nil {
			res.NoMatch++
			continue
		}
		if err := w.SetCoordinates(ctx, c.ID, p.Lat, p.Lng); err != nil {
			res.Failed++
			logger.Error("save coordinates failed", "tenant_id", c.TenantID, "customer_id", c.ID, "err", err)
			continue
		}
		res.Geocoded++
	}
	return res, nil
}
