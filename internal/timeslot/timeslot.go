// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package timeslot partitions a wall-clock time range into reservable slots.
package timeslot

import (
	"fmt"
	"strconv"
	"strings"
)

// WallClock is a time of day with minute granularity, independent of date and
// timezone. The zero value is midnight.
type WallClock int

const minutesPerDay = 24 * 60

// ParseWallClock parses a 24-hour "HH:MM" string.
func ParseWallClock(s string) (WallClock, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid wall-clock time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid wall-clock hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid wall-clock minute in %q", s)
	}
	return WallClock(h*60 + m), nil
}

// String formats the time as zero-padded 24-hour "HH:MM".
func (w WallClock) String() string {
	return fmt.Sprintf("%02d:%02d", int(w)/60, int(w)%60)
}

// Valid reports whether the value falls within a single day.
func (w WallClock) Valid() bool {
	return w >= 0 && w < minutesPerDay
}

// Slot is one emitted slot of a partitioned range. Start is inclusive, End
// exclusive. Range is the human-readable label stored on the meeting document.
type Slot struct {
	Start WallClock
	End   WallClock
	Range string
}

// Label formats a slot range label for the given bounds.
func Label(start, end WallClock) string {
	return start.String() + " - " + end.String()
}

// Partition splits [start, end) into consecutive slots of durationMinutes.
// The cursor always advances by the full duration, so the final slot is
// truncated to end when the range does not divide evenly. The result is
// deterministic and the function has no side effects.
//
// Callers must reject start == end before calling; an empty range yields an
// empty partition here, not an error.
func Partition(start, end WallClock, durationMinutes int) []Slot {
	if durationMinutes <= 0 {
		return nil
	}

	var slots []Slot
	for cursor := start; cursor < end; cursor += WallClock(durationMinutes) {
		slotEnd := cursor + WallClock(durationMinutes)
		if slotEnd > end {
			slotEnd = end
		}
		slots = append(slots, Slot{
			Start: cursor,
			End:   slotEnd,
			Range: Label(cursor, slotEnd),
		})
	}
	return slots
}
