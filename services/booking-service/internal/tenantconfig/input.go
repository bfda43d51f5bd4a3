package tenantconfig

import (
	"strings"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/shopspring/decimal"
)

// Input is the raw form accepted on upsert and read from storage.
type Input struct {
	WeeklyAvailability string  `json:"weekly_availability"`
	Holidays           string  `json:"holidays"`
	MinDurationMin     int     `json:"min_duration_min"`
	RateNormal         string  `json:"rate_normal"`
	RateNormal2        string  `json:"rate_normal2"`
	RateUrgent         string  `json:"rate_urgent"`
	Notify             Toggles `json:"notify"`
	Timezone           string  `json:"timezone"`
}

// Parse validates in and builds the typed config.
func Parse(tenantID string, in Input) (Config, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Config{}, apperr.Validation("tenant_id is required")
	}
	weekly, err := ParseWeekly(in.WeeklyAvailability)
	if err != nil {
		return Config{}, err
	}
	holidays, err := ParseHolidays(in.Holidays)
	if err != nil {
		return Config{}, err
	}
	if in.MinDurationMin < 0 {
		return Config{}, apperr.Validation("min_duration_min must not be negative")
	}
	loc, err := LoadLocation(in.Timezone)
	if err != nil {
		return Config{}, err
	}
	var rates Rates
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"rate_normal", in.RateNormal, &rates.Normal},
		{"rate_normal2", in.RateNormal2, &rates.Normal2},
		{"rate_urgent", in.RateUrgent, &rates.Urgent},
	} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil || d.IsNegative() {
			return Config{}, apperr.Validation(f.name + " must be a non-negative decimal")
		}
		*f.dst = d
	}
	return Config{
		TenantID:       tenantID,
		Weekly:         weekly,
		Holidays:       holidays,
		MinDurationMin: in.MinDurationMin,
		Rates:          rates,
		Notify:         in.Notify,
		Location:       loc,
	}, nil
}

// Input renders c back into its storable form.
func (c Config) Input() Input {
	return Input{
		WeeklyAvailability: EncodeWeekly(c.Weekly),
		Holidays:           EncodeHolidays(c.Holidays),
		MinDurationMin:     c.MinDurationMin,
		RateNormal:         c.Rates.Normal.String(),
		RateNormal2:        c.Rates.Normal2.String(),
		RateUrgent:         c.Rates.Urgent.String(),
		Notify:             c.Notify,
		Timezone:           c.Loc().String(),
	}
}
