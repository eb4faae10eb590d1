// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package timeslot

import (
	"reflect"
	"testing"
)

func mustParse(t *testing.T, s string) WallClock {
	t.Helper()
	w, err := ParseWallClock(s)
	if err != nil {
		t.Fatalf("ParseWallClock(%q): %v", s, err)
	}
	return w
}

func TestParseWallClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:05", 9*60 + 5, false},
		{"23:59", 23*60 + 59, false},
		{"24:00", 0, true},
		{"9:00", 0, true},
		{"09:60", 0, true},
		{"0900", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseWallClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseWallClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && int(got) != tt.want {
			t.Errorf("ParseWallClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWallClockRoundTrip(t *testing.T) {
	for _, s := range []string{"00:00", "09:15", "13:07", "23:59"} {
		if got := mustParse(t, s).String(); got != s {
			t.Errorf("String() = %q, want %q", got, s)
		}
	}
}

func TestPartitionEvenRange(t *testing.T) {
	slots := Partition(mustParse(t, "09:00"), mustParse(t, "10:00"), 15)

	want := []string{"09:00 - 09:15", "09:15 - 09:30", "09:30 - 09:45", "09:45 - 10:00"}
	if len(slots) != len(want) {
		t.Fatalf("len(slots) = %d, want %d", len(slots), len(want))
	}
	for i, label := range want {
		if slots[i].Range != label {
			t.Errorf("slots[%d].Range = %q, want %q", i, slots[i].Range, label)
		}
	}
}

func TestPartitionTruncatedFinalSlot(t *testing.T) {
	slots := Partition(mustParse(t, "09:00"), mustParse(t, "09:50"), 15)

	want := []string{"09:00 - 09:15", "09:15 - 09:30", "09:30 - 09:45", "09:45 - 09:50"}
	if len(slots) != len(want) {
		t.Fatalf("len(slots) = %d, want %d", len(slots), len(want))
	}
	for i, label := range want {
		if slots[i].Range != label {
			t.Errorf("slots[%d].Range = %q, want %q", i, slots[i].Range, label)
		}
	}
	last := slots[len(slots)-1]
	if got := int(last.End - last.Start); got != 5 {
		t.Errorf("final slot length = %d minutes, want 5", got)
	}
}

func TestPartitionCoversRangeWithoutGaps(t *testing.T) {
	tests := []struct {
		start, end string
		duration   int
	}{
		{"09:00", "10:00", 15},
		{"09:00", "09:50", 15},
		{"08:30", "17:00", 30},
		{"00:00", "23:59", 60},
		{"13:00", "13:01", 15},
	}
	for _, tt := range tests {
		start := mustParse(t, tt.start)
		end := mustParse(t, tt.end)
		slots := Partition(start, end, tt.duration)
		if len(slots) == 0 {
			t.Errorf("Partition(%s, %s, %d) is empty", tt.start, tt.end, tt.duration)
			continue
		}

		cursor := start
		for i, s := range slots {
			if s.Start != cursor {
				t.Errorf("Partition(%s, %s, %d): slot %d starts at %s, want %s",
					tt.start, tt.end, tt.duration, i, s.Start, cursor)
			}
			if s.End <= s.Start {
				t.Errorf("Partition(%s, %s, %d): slot %d has non-positive length",
					tt.start, tt.end, tt.duration, i)
			}
			if length := int(s.End - s.Start); length > tt.duration {
				t.Errorf("Partition(%s, %s, %d): slot %d length %d exceeds duration",
					tt.start, tt.end, tt.duration, i, length)
			}
			if length := int(s.End - s.Start); length < tt.duration && i != len(slots)-1 {
				t.Errorf("Partition(%s, %s, %d): non-final slot %d is truncated",
					tt.start, tt.end, tt.duration, i)
			}
			cursor = s.End
		}
		if cursor != end {
			t.Errorf("Partition(%s, %s, %d) ends at %s, want %s",
				tt.start, tt.end, tt.duration, cursor, end)
		}
	}
}

func TestPartitionEmptyRange(t *testing.T) {
	if slots := Partition(mustParse(t, "09:00"), mustParse(t, "09:00"), 15); slots != nil {
		t.Errorf("Partition of empty range = %v, want nil", slots)
	}
}

func TestPartitionIsPure(t *testing.T) {
	start, end := mustParse(t, "09:00"), mustParse(t, "11:20")
	first := Partition(start, end, 30)
	second := Partition(start, end, 30)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated Partition calls differ: %v vs %v", first, second)
	}
}
