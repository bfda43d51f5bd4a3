package storage

import (
	"context"

	"github.com/cleanroute/cleanroute/libs/db"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/tenantconfig"
)

// ConfigRepository stores one scheduling_configs row per tenant.
type ConfigRepository struct {
	conn db.Queryer
}

func NewConfigRepository(conn db.Queryer) *ConfigRepository {
	return &ConfigRepository{conn: conn}
}

func (r *ConfigRepository) GetConfig(ctx context.Context, tenantID string) (tenantconfig.Input, error) {
	var in tenantconfig.Input
	err := r.conn.QueryRow(ctx, `
		SELECT weekly_availability, holidays, min_duration_min,
			rate_normal::text, rate_normal2::text, rate_urgent::text,
			notify_day_before, notify_on_the_way, notify_service_started, notify_service_finished,
			timezone
		FROM scheduling_configs
		WHERE tenant_id = $1
	`, tenantID).Scan(
		&in.WeeklyAvailability,
		&in.Holidays,
		&in.MinDurationMin,
		&in.RateNormal,
		&in.RateNormal2,
		&in.RateUrgent,
		&in.Notify.DayBefore,
		&in.Notify.OnTheWay,
		&in.Notify.ServiceStarted,
		&in.Notify.ServiceFinished,
		&in.Timezone,
	)
	if err != nil {
		return tenantconfig.Input{}, notFound(err)
	}
	return in, nil
}

func (r *ConfigRepository) UpsertConfig(ctx context.Context, tenantID string, in tenantconfig.Input) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO scheduling_configs
			(tenant_id, weekly_availability, holidays, min_duration_min, rate_normal, rate_normal2, rate_urgent,
			 notify_day_before, notify_on_the_way, notify_service_started, notify_service_finished, timezone, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, now())
		ON CONFLICT (tenant_id) DO UPDATE
		SET weekly_availability = EXCLUDED.weekly_availability,
			holidays = EXCLUDED.holidays,
			min_duration_min = EXCLUDED.min_duration_min,
			rate_normal = EXCLUDED.rate_normal,
			rate_normal2 = EXCLUDED.rate_normal2,
			rate_urgent = EXCLUDED.rate_urgent,
			notify_day_before = EXCLUDED.notify_day_before,
			notify_on_the_way = EXCLUDED.notify_on_the_way,
			notify_service_started = EXCLUDED.notify_service_started,
			notify_service_finished = EXCLUDED.notify_service_finished,
			timezone = EXCLUDED.timezone,
			updated_at = now()
	`, tenantID, in.WeeklyAvailability, in.Holidays, in.MinDurationMin, in.RateNormal, in.RateNormal2, in.RateUrgent,
		in.Notify.DayBefore, in.Notify.OnTheWay, in.Notify.ServiceStarted, in.Notify.ServiceFinished, in.Timezone)
	return err
}
