// Package tenantconfig holds the per-tenant scheduling rules as a typed value
// parsed once from the JSON columns of scheduling_configs.
package tenantconfig

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// ClockRange is a [Start, End) range of minutes since local midnight.
type ClockRange struct {
	Start int
	End   int
}

func (r ClockRange) String() string {
	return formatClock(r.Start) + "-" + formatClock(r.End)
}

type Toggles struct {
	DayBefore       bool `json:"day_before"`
	OnTheWay        bool `json:"on_the_way"`
	ServiceStarted  bool `json:"service_started"`
	ServiceFinished bool `json:"service_finished"`
}

type Rates struct {
	Normal  decimal.Decimal
	Normal2 decimal.Decimal
	Urgent  decimal.Decimal
}

type Config struct {
	TenantID       string
	Weekly         map[time.Weekday][]ClockRange
	Holidays       map[string]struct{}
	MinDurationMin int
	Rates          Rates
	Notify         Toggles
	Location       *time.Location
	UpdatedAt      time.Time
}

// Default is used for tenants that never saved a config: closed every day,
// all notifications on, UTC.
func Default(tenantID string) Config {
	return Config{
		TenantID: tenantID,
		Weekly:   map[time.Weekday][]ClockRange{},
		Holidays: map[string]struct{}{},
		Notify:   Toggles{DayBefore: true, OnTheWay: true, ServiceStarted: true, ServiceFinished: true},
		Location: time.UTC,
	}
}

func (c Config) IsHoliday(day time.Time) bool {
	_, ok := c.Holidays[day.Format(dateLayout)]
	return ok
}

func (c Config) Ranges(wd time.Weekday) []ClockRange {
	return c.Weekly[wd]
}

func (c Config) Loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// FloorDuration applies the tenant minimum to a requested duration.
func (c Config) FloorDuration(minutes int) int {
	if minutes < c.MinDurationMin {
		return c.MinDurationMin
	}
	return minutes
}

type rangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ParseWeekly decodes {"0":[{"start":"08:00","end":"12:00"}], ...}.
func ParseWeekly(raw string) (map[time.Weekday][]ClockRange, error) {
	out := map[time.Weekday][]ClockRange{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	var decoded map[string][]rangeJSON
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, apperr.Validation(fmt.Sprintf("weekly availability is not valid json: %v", err))
	}
	for key, ranges := range decoded {
		day, err := strconv.Atoi(key)
		if err != nil || day < 0 || day > 6 {
			return nil, apperr.Validation(fmt.Sprintf("weekly availability: invalid weekday key %q", key))
		}
		parsed := make([]ClockRange, 0, len(ranges))
		for _, r := range ranges {
			start, err := parseClock(r.Start)
			if err != nil {
				return nil, apperr.Validation(fmt.Sprintf("weekly availability day %d: %v", day, err))
			}
			end, err := parseClock(r.End)
			if err != nil {
				return nil, apperr.Validation(fmt.Sprintf("weekly availability day %d: %v", day, err))
			}
			if end <= start {
				return nil, apperr.Validation(fmt.Sprintf("weekly availability day %d: range %s-%s ends before it starts", day, r.Start, r.End))
			}
			parsed = append(parsed, ClockRange{Start: start, End: end})
		}
		if len(parsed) > 0 {
			out[time.Weekday(day)] = parsed
		}
	}
	return out, nil
}

// ParseHolidays decodes ["2026-12-25", ...].
func ParseHolidays(raw string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	var dates []string
	if err := json.Unmarshal([]byte(raw), &dates); err != nil {
		return nil, apperr.Validation(fmt.Sprintf("holidays are not valid json: %v", err))
	}
	for _, d := range dates {
		t, err := time.Parse(dateLayout, strings.TrimSpace(d))
		if err != nil {
			return nil, apperr.Validation(fmt.Sprintf("holiday %q is not a YYYY-MM-DD date", d))
		}
		out[t.Format(dateLayout)] = struct{}{}
	}
	return out, nil
}

// EncodeWeekly is the inverse of ParseWeekly. Days are written in order.
func EncodeWeekly(weekly map[time.Weekday][]ClockRange) string {
	out := make(map[string][]rangeJSON, len(weekly))
	for day, ranges := range weekly {
		items := make([]rangeJSON, 0, len(ranges))
		for _, r := range ranges {
			items = append(items, rangeJSON{Start: formatClock(r.Start), End: formatClock(r.End)})
		}
		out[strconv.Itoa(int(day))] = items
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func EncodeHolidays(holidays map[string]struct{}) string {
	dates := make([]string, 0, len(holidays))
	for d := range holidays {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	b, _ := json.Marshal(dates)
	return string(b)
}

func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("unknown timezone %q", name))
	}
	return loc, nil
}

func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" {
		return 24 * 60, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
