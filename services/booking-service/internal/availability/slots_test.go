package availability

import (
	"testing"
	"time"

	"github.com/cleanroute/cleanroute/services/booking-service/internal/tenantconfig"
)

func mondayConfig(t *testing.T, weekly string) tenantconfig.Config {
	t.Helper()
	cfg, err := tenantconfig.Parse("tenant-1", tenantconfig.Input{WeeklyAvailability: weekly})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func TestComputeSlots_MorningWithOneBooking(t *testing.T) {
	cfg := mondayConfig(t, `{"1":[{"start":"08:00","end":"12:00"}]}`)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // Monday
	busy := []Interval{{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}}

	res, err := ComputeSlots(day, cfg, 60, busy)
	if err != nil {
		t.Fatalf("ComputeSlots failed: %v", err)
	}
	want := []struct {
		clock     string
		available bool
	}{
		{"08:00", true},
		{"08:30", true},
		{"09:00", false},
		{"09:30", false},
		{"10:00", true},
		{"10:30", true},
		{"11:00", true},
	}
	if len(res.Slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(res.Slots))
	}
	for i, w := range want {
		got := res.Slots[i]
		if got.Start.Format("15:04") != w.clock || got.Available != w.available {
			t.Fatalf("slot %d: got %s available=%v, want %s available=%v", i, got.Start.Format("15:04"), got.Available, w.clock, w.available)
		}
		if !got.End.Equal(got.Start.Add(time.Hour)) {
			t.Fatalf("slot %d: end %s is not start+60m", i, got.End.Format("15:04"))
		}
	}
}

func TestComputeSlots_Holiday(t *testing.T) {
	cfg, err := tenantconfig.Parse("tenant-1", tenantconfig.Input{
		WeeklyAvailability: `{"1":[{"start":"08:00","end":"12:00"}]}`,
		Holidays:           `["2026-03-02"]`,
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	res, err := ComputeSlots(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), cfg, 30, nil)
	if err != nil {
		t.Fatalf("ComputeSlots failed: %v", err)
	}
	if res.Reason != ReasonHoliday || len(res.Slots) != 0 {
		t.Fatalf("expected holiday with no slots, got %q %d", res.Reason, len(res.Slots))
	}
}

func TestComputeSlots_Closed(t *testing.T) {
	cfg := mondayConfig(t, `{"1":[{"start":"08:00","end":"12:00"}]}`)
	res, err := ComputeSlots(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), cfg, 30, nil) // Tuesday
	if err != nil {
		t.Fatalf("ComputeSlots failed: %v", err)
	}
	if res.Reason != ReasonClosed || len(res.Slots) != 0 {
		t.Fatalf("expected closed, got %q %d", res.Reason, len(res.Slots))
	}
}

func TestComputeSlots_NeverOverrunsRange(t *testing.T) {
	cfg := mondayConfig(t, `{"1":[{"start":"08:00","end":"10:15"},{"start":"09:00","end":"10:00"}]}`)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	res, err := ComputeSlots(day, cfg, 45, nil)
	if err != nil {
		t.Fatalf("ComputeSlots failed: %v", err)
	}
	// First range: 08:00, 08:30, 09:00, 09:30 (09:30+45=10:15). Second: 09:00 only.
	got := make([]string, 0, len(res.Slots))
	for _, s := range res.Slots {
		got = append(got, s.Start.Format("15:04"))
		if s.Start.Minute()%30 != 0 {
			t.Fatalf("slot %s is off the 30 minute grid", s.Start.Format("15:04"))
		}
	}
	want := []string{"08:00", "08:30", "09:00", "09:30", "09:00"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestComputeSlots_BackToBackIsAvailable(t *testing.T) {
	cfg := mondayConfig(t, `{"1":[{"start":"08:00","end":"10:00"}]}`)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	busy := []Interval{{Start: day.Add(9 * time.Hour), End: day.Add(9*time.Hour + 30*time.Minute)}}

	res, err := ComputeSlots(day, cfg, 60, busy)
	if err != nil {
		t.Fatalf("ComputeSlots failed: %v", err)
	}
	// 08:00-09:00 ends exactly when the booking starts.
	if !res.Slots[0].Available {
		t.Fatal("back-to-back slot should be available")
	}
	if res.Slots[1].Available || res.Slots[2].Available {
		t.Fatal("overlapping slots should be unavailable")
	}
}

func TestComputeSlots_TenantTimezone(t *testing.T) {
	cfg, err := tenantconfig.Parse("tenant-1", tenantconfig.Input{
		WeeklyAvailability: `{"1":[{"start":"08:00","end":"09:00"}]}`,
		Timezone:           "America/New_York",
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	res, err := ComputeSlots(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), cfg, 30, nil)
	if err != nil {
		t.Fatalf("ComputeSlots failed: %v", err)
	}
	if len(res.Slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(res.Slots))
	}
	if res.Slots[0].Start.UTC().Hour() != 13 {
		t.Fatalf("expected 08:00 EST = 13:00 UTC, got %s", res.Slots[0].Start.UTC().Format(time.RFC3339))
	}
}

func TestComputeSlots_RejectsNonPositiveDuration(t *testing.T) {
	cfg := mondayConfig(t, `{"1":[{"start":"08:00","end":"12:00"}]}`)
	if _, err := ComputeSlots(time.Now(), cfg, 0, nil); err == nil {
		t.Fatal("expected error for zero duration")
	}
}
