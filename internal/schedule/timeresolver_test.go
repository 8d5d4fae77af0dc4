package schedule

import (
	"testing"
	"time"

	"eventbell/internal/types"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("zone %s unavailable: %v", name, err)
	}
	return loc
}

func TestResolver_FireTime_Tokyo(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	r := NewResolver(tokyo)
	slot := time.Date(2025, 12, 10, 14, 0, 0, 0, tokyo)

	tests := []struct {
		name      string
		offset    int
		timeOfDay string
		want      time.Time
	}{
		{"day before at 14:00", -1, "14:00", time.Date(2025, 12, 9, 14, 0, 0, 0, tokyo)},
		{"day-of at 08:00", 0, "08:00", time.Date(2025, 12, 10, 8, 0, 0, 0, tokyo)},
		{"empty time keeps slot time", -1, "", time.Date(2025, 12, 9, 14, 0, 0, 0, tokyo)},
		{"after the slot", 3, "10:00", time.Date(2025, 12, 13, 10, 0, 0, 0, tokyo)},
		{"crosses month", 22, "9:30", time.Date(2026, 1, 1, 9, 30, 0, 0, tokyo)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.FireTime(slot, tt.offset, tt.timeOfDay)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("FireTime = %s, want %s", got.In(tokyo), tt.want)
			}
		})
	}
}

// The local date is taken in the resolver's zone, not from the instant's own
// location: 23:30 UTC on Dec 9 is already Dec 10 in Tokyo.
func TestResolver_FireTime_UsesLocalCalendarDate(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	r := NewResolver(tokyo)
	slot := time.Date(2025, 12, 9, 23, 30, 0, 0, time.UTC)

	got, err := r.FireTime(slot, 0, "08:00")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 12, 10, 8, 0, 0, 0, tokyo)
	if !got.Equal(want) {
		t.Errorf("FireTime = %s, want %s", got.In(tokyo), want)
	}
}

func TestResolver_FireTime_DSTUsesTargetDateOffset(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	r := NewResolver(ny)
	// March 9, 2025 is the spring-forward date in New York.
	slot := time.Date(2025, 3, 10, 14, 0, 0, 0, ny)

	got, err := r.FireTime(slot, -2, "14:00")
	if err != nil {
		t.Fatal(err)
	}
	local := got.In(ny)
	if local.Day() != 8 || local.Hour() != 14 || local.Minute() != 0 {
		t.Errorf("FireTime local = %s, want 2025-03-08 14:00", local)
	}
	if d := slot.Sub(got); d != 47*time.Hour {
		t.Errorf("distance to slot = %s, want 47h across the DST change", d)
	}
}

func TestResolver_FireTime_PropertyLocalRepresentation(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	r := NewResolver(tokyo)
	slots := []time.Time{
		time.Date(2025, 1, 31, 0, 5, 0, 0, tokyo),
		time.Date(2025, 6, 15, 23, 59, 0, 0, tokyo),
		time.Date(2024, 2, 29, 12, 0, 0, 0, tokyo),
	}
	for _, slot := range slots {
		for offset := -10; offset <= 10; offset++ {
			got, err := r.FireTime(slot, offset, "07:45")
			if err != nil {
				t.Fatal(err)
			}
			local := got.In(tokyo)
			wantDate := slot.AddDate(0, 0, offset)
			if local.Year() != wantDate.Year() || local.YearDay() != wantDate.YearDay() {
				t.Errorf("slot %s offset %d: date = %s, want %s", slot, offset, local.Format("2006-01-02"), wantDate.Format("2006-01-02"))
			}
			if local.Hour() != 7 || local.Minute() != 45 {
				t.Errorf("slot %s offset %d: time = %s, want 07:45", slot, offset, local.Format(timeLayout))
			}
		}
	}
}

func TestParseTimeOfDay(t *testing.T) {
	valid := map[string][2]int{
		"00:00": {0, 0},
		"08:00": {8, 0},
		"8:05":  {8, 5},
		"23:59": {23, 59},
	}
	for in, want := range valid {
		h, m, err := ParseTimeOfDay(in)
		if err != nil {
			t.Errorf("ParseTimeOfDay(%q) error: %v", in, err)
			continue
		}
		if h != want[0] || m != want[1] {
			t.Errorf("ParseTimeOfDay(%q) = %d:%d, want %d:%d", in, h, m, want[0], want[1])
		}
	}

	for _, in := range []string{"24:00", "12:60", "1200", "12:5", "ab:cd", "", "123:00"} {
		if _, _, err := ParseTimeOfDay(in); !types.HasCode(err, types.ErrCodeValidationTimeOfDay) {
			t.Errorf("ParseTimeOfDay(%q) error = %v, want %s", in, err, types.ErrCodeValidationTimeOfDay)
		}
	}
}

func TestResolver_Formatting(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	r := NewResolver(tokyo)
	instant := time.Date(2025, 12, 10, 5, 0, 0, 0, time.UTC)

	if got := r.FormatTime(instant); got != "14:00" {
		t.Errorf("FormatTime = %q", got)
	}
	if got := r.FormatDateTime(instant); got != "2025/12/10 14:00" {
		t.Errorf("FormatDateTime = %q", got)
	}
	if got := r.LocalDate(instant); !got.Equal(time.Date(2025, 12, 10, 0, 0, 0, 0, tokyo)) {
		t.Errorf("LocalDate = %s", got)
	}
}
