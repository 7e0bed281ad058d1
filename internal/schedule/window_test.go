package schedule

import (
	"errors"
	"testing"
	"time"
)

func mkWindow(startHour, startMin, endHour, endMin int) Window {
	day := time.Date(2026, 10, 30, 0, 0, 0, 0, time.UTC)
	return Window{
		Start: day.Add(time.Duration(startHour)*time.Hour + time.Duration(startMin)*time.Minute),
		End:   day.Add(time.Duration(endHour)*time.Hour + time.Duration(endMin)*time.Minute),
	}
}

func TestWindowOverlaps(t *testing.T) {
	base := mkWindow(10, 0, 11, 30)

	tests := []struct {
		name  string
		other Window
		want  bool
	}{
		{"identical", mkWindow(10, 0, 11, 30), true},
		{"contained", mkWindow(10, 30, 11, 0), true},
		{"contains", mkWindow(9, 0, 12, 0), true},
		{"overlaps start", mkWindow(9, 0, 10, 30), true},
		{"overlaps end", mkWindow(11, 0, 12, 0), true},
		{"abuts before", mkWindow(9, 0, 10, 0), false},
		{"abuts after", mkWindow(11, 30, 12, 0), false},
		{"disjoint before", mkWindow(8, 0, 9, 0), false},
		{"disjoint after", mkWindow(12, 0, 13, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Overlaps(tt.other); got != tt.want {
				t.Fatalf("Overlaps(%v, %v) = %v, want %v", base, tt.other, got, tt.want)
			}
			// Предикат симметричен
			if got := tt.other.Overlaps(base); got != tt.want {
				t.Fatalf("Overlaps(%v, %v) = %v, want %v", tt.other, base, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 10, 29, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		w       Window
		wantErr bool
	}{
		{"valid future window", mkWindow(10, 0, 11, 0), false},
		{"end equals start", mkWindow(10, 0, 10, 0), true},
		{"end before start", mkWindow(11, 0, 10, 0), true},
		{
			"start in the past",
			Window{Start: now.Add(-time.Hour), End: now.Add(time.Hour)},
			true,
		},
		{
			"start exactly now",
			Window{Start: now, End: now.Add(time.Hour)},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.w, now)
			if tt.wantErr && !errors.Is(err, ErrInvalidWindow) {
				t.Fatalf("Validate() = %v, want ErrInvalidWindow", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestFreeSlots(t *testing.T) {
	day := time.Date(2026, 10, 30, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 10, 29, 12, 0, 0, 0, time.UTC)

	busy := []Window{
		mkWindow(10, 0, 11, 30),
		mkWindow(14, 0, 15, 0),
	}

	slots := FreeSlots(day, busy, now)

	want := []string{"09:00", "12:00", "13:00", "15:00", "16:00", "17:00"}
	if len(slots) != len(want) {
		t.Fatalf("FreeSlots() = %v, want %v", slots, want)
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Fatalf("FreeSlots()[%d] = %q, want %q", i, slots[i], want[i])
		}
	}
}

func TestFreeSlotsSkipsPastHoursToday(t *testing.T) {
	day := time.Date(2026, 10, 30, 0, 0, 0, 0, time.UTC)
	now := day.Add(15*time.Hour + 30*time.Minute)

	slots := FreeSlots(day, nil, now)

	want := []string{"16:00", "17:00"}
	if len(slots) != len(want) {
		t.Fatalf("FreeSlots() = %v, want %v", slots, want)
	}
}

func TestFreeSlotsPastDayEmpty(t *testing.T) {
	day := time.Date(2026, 10, 30, 0, 0, 0, 0, time.UTC)
	now := day.AddDate(0, 0, 1)

	if slots := FreeSlots(day, nil, now); len(slots) != 0 {
		t.Fatalf("FreeSlots() for past day = %v, want empty", slots)
	}
}
