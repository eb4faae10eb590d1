// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package meeting defines the meeting aggregate: the persisted document that
// owns a partitioned slot sequence and the participants holding reservations.
package meeting

import (
	"errors"
	"fmt"
	"strings"

	"github.com/akamensky/base58"
	"github.com/google/uuid"

	"github.com/slotmeet/slotmeet/internal/timeslot"
)

// Validation failures reported by New before anything is persisted.
var (
	ErrEmptyTitle      = errors.New("meeting title must not be empty")
	ErrDegenerateRange = errors.New("starting time and ending time must differ")
	ErrInvalidDuration = errors.New("slot duration is not an allowed granularity")
)

// AllowedDurations are the slot granularities (in minutes) a meeting may use.
var AllowedDurations = []int{15, 30, 60}

// Participant identifies a user on a meeting document.
type Participant struct {
	UID         string `json:"uid" msgpack:"uid"`
	DisplayName string `json:"displayName" msgpack:"displayName"`
}

// TimeSlot is one reservable sub-interval of a meeting. Participants holds
// the slot's reservations in creation order; under the conditional-write
// reservation protocol it holds at most one entry.
type TimeSlot struct {
	Range        string        `json:"range" msgpack:"range"`
	Available    bool          `json:"available" msgpack:"available"`
	Participants []Participant `json:"participants,omitempty" msgpack:"participants,omitempty"`
}

// Meeting is the persisted meeting document, keyed by MeetingID in the
// meetings bucket. The document is created once by the owner and afterwards
// mutated only through slot reservation.
type Meeting struct {
	Title        string        `json:"title" msgpack:"title"`
	StartingTime string        `json:"startingTime" msgpack:"startingTime"`
	EndingTime   string        `json:"endingTime" msgpack:"endingTime"`
	Duration     int           `json:"duration" msgpack:"duration"`
	UID          string        `json:"uid" msgpack:"uid"`
	Participants []Participant `json:"participants" msgpack:"participants"`
	Link         string        `json:"link" msgpack:"link"`
	MeetingID    string        `json:"meetingId" msgpack:"meetingId"`
	TimeSlots    []TimeSlot    `json:"timeSlots" msgpack:"timeSlots"`
}

// NewID returns a fresh opaque meeting id: a v4 UUID encoded with base58 so
// it stays short and safe to embed in shareable links.
func NewID() string {
	id := uuid.New()
	return base58.Encode(id[:])
}

// LinkFunc produces the canonical share link for a freshly generated meeting
// id, typically by building the deep link and running it through the link
// shortener. A nil LinkFunc leaves the link empty.
type LinkFunc func(meetingID string) (string, error)

// New validates the input and builds a meeting aggregate with its full slot
// partition. Validation order: title, degenerate range, duration. The share
// link comes from linkFor and is immutable afterwards; a linkFor failure
// aborts creation.
func New(title string, start, end timeslot.WallClock, durationMinutes int, ownerID string, linkFor LinkFunc) (*Meeting, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrEmptyTitle
	}
	if start == end {
		return nil, ErrDegenerateRange
	}
	allowed := false
	for _, d := range AllowedDurations {
		if durationMinutes == d {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %d minutes", ErrInvalidDuration, durationMinutes)
	}

	parts := timeslot.Partition(start, end, durationMinutes)
	slots := make([]TimeSlot, len(parts))
	for i, s := range parts {
		slots[i] = TimeSlot{Range: s.Range, Available: true}
	}

	meetingID := NewID()
	var link string
	if linkFor != nil {
		var err error
		if link, err = linkFor(meetingID); err != nil {
			return nil, fmt.Errorf("build share link for meeting %s: %w", meetingID, err)
		}
	}

	return &Meeting{
		Title:        title,
		StartingTime: start.String(),
		EndingTime:   end.String(),
		Duration:     durationMinutes,
		UID:          ownerID,
		Participants: []Participant{},
		Link:         link,
		MeetingID:    meetingID,
		TimeSlots:    slots,
	}, nil
}

// CloneSlots returns a deep copy of the slot sequence, so a reservation can
// be staged without mutating the observed document.
func (m *Meeting) CloneSlots() []TimeSlot {
	slots := make([]TimeSlot, len(m.TimeSlots))
	copy(slots, m.TimeSlots)
	for i := range slots {
		if len(m.TimeSlots[i].Participants) > 0 {
			slots[i].Participants = append([]Participant(nil), m.TimeSlots[i].Participants...)
		}
	}
	return slots
}

// ReservedSlotIndex returns the index of the slot holding a reservation for
// uid, or -1 when the user holds none.
func (m *Meeting) ReservedSlotIndex(uid string) int {
	for i, slot := range m.TimeSlots {
		for _, p := range slot.Participants {
			if p.UID == uid {
				return i
			}
		}
	}
	return -1
}

// MergeParticipant adds p to the flat participant set unless a participant
// with the same uid is already present. The union is duplicate-tolerant by
// uid, matching the additive-merge semantics of the store layer.
func (m *Meeting) MergeParticipant(p Participant) {
	for _, existing := range m.Participants {
		if existing.UID == p.UID {
			return
		}
	}
	m.Participants = append(m.Participants, p)
}
