package model

import "time"

type Frequency string

const (
	FrequencyOneTime  Frequency = "ONE_TIME"
	FrequencyWeekly   Frequency = "WEEKLY"
	FrequencyBiweekly Frequency = "BIWEEKLY"
	FrequencyMonthly  Frequency = "MONTHLY"
)

func ParseFrequency(s string) (Frequency, bool) {
	switch f := Frequency(s); f {
	case FrequencyOneTime, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return f, true
	}
	return "", false
}

func (f Frequency) Recurring() bool { return f != FrequencyOneTime }

type Customer struct {
	ID         string
	TenantID   string
	UserID     *string
	Name       string
	Email      string
	Phone      string
	Address    string
	Lat        *float64
	Lng        *float64
	Frequency  Frequency
	BillingDay int
	Active     bool
	CreatedAt  time.Time
}
