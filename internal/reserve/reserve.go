// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package reserve applies slot reservations to shared meeting documents.
//
// A reservation is an optimistic read-modify-write cycle: read the document
// and its revision, stage the mutated slot sequence, and commit with a write
// conditioned on that revision. Concurrent writers never overwrite each
// other; the loser of a revision race re-reads and either retries (the slot
// is still free) or surfaces that the slot was taken. A bounded number of
// attempts guards against livelock on hot documents.
package reserve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/slotmeet/slotmeet/internal/meeting"
	"github.com/slotmeet/slotmeet/internal/store"
)

var (
	// ErrSlotUnavailableLocally is the fast-path rejection: the caller's own
	// projection already shows the slot reserved, so no remote write is made.
	ErrSlotUnavailableLocally = errors.New("slot already reserved in local projection")
	// ErrSlotTaken reports that the authoritative document shows the slot
	// reserved, typically because a concurrent writer won the revision race.
	ErrSlotTaken = errors.New("slot already reserved")
	// ErrReservationConflict reports that every attempt lost its revision
	// race. The caller may re-trigger the reservation manually.
	ErrReservationConflict = errors.New("reservation conflict: concurrent writers exhausted retries")
	// ErrOwnReservation rejects owners reserving slots in their own meeting.
	ErrOwnReservation = errors.New("meeting owner cannot reserve a slot")
	// ErrSlotIndex reports a slot index outside the meeting's slot sequence.
	ErrSlotIndex = errors.New("slot index out of range")
	// ErrRemoteWrite wraps store or network failures. No automatic retry.
	ErrRemoteWrite = errors.New("remote write failed")
)

const (
	defaultMaxAttempts   = 5
	defaultProjectionTTL = 5 * time.Minute
)

// Reconciler coordinates reservations against the shared document store.
type Reconciler struct {
	store       store.MeetingStore
	projections *gocache.Cache
	logger      *slog.Logger
	maxAttempts int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithMaxAttempts bounds the read-modify-write retry loop.
func WithMaxAttempts(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// NewReconciler builds a reconciler over the given store. Observed snapshots
// are cached with a TTL so the local pre-check never trusts arbitrarily old
// projections.
func NewReconciler(st store.MeetingStore, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		store:       st,
		projections: gocache.New(defaultProjectionTTL, 2*defaultProjectionTTL),
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe records the most recently seen snapshot of a meeting. Live
// projection consumers call this on every update so the pre-check in Reserve
// reflects the freshest local state.
func (r *Reconciler) Observe(snap store.Snapshot) {
	r.projections.Set(snap.Meeting.MeetingID, snap, gocache.DefaultExpiration)
}

// Reserve claims the slot at slotIndex for p. On success it returns the
// committed snapshot. The pre-check against the local projection is a UX
// optimization only; the authoritative check happens inside the conditional
// write cycle.
func (r *Reconciler) Reserve(ctx context.Context, meetingID string, slotIndex int, p meeting.Participant) (store.Snapshot, error) {
	if cached, ok := r.projections.Get(meetingID); ok {
		snap := cached.(store.Snapshot)
		if slotIndex >= 0 && slotIndex < len(snap.Meeting.TimeSlots) && !snap.Meeting.TimeSlots[slotIndex].Available {
			return store.Snapshot{}, fmt.Errorf("%w: %s slot %d", ErrSlotUnavailableLocally, meetingID, slotIndex)
		}
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		snap, err := r.store.Get(ctx, meetingID)
		if err != nil {
			if errors.Is(err, store.ErrMeetingNotFound) {
				return store.Snapshot{}, err
			}
			return store.Snapshot{}, fmt.Errorf("%w: %w", ErrRemoteWrite, err)
		}

		if slotIndex < 0 || slotIndex >= len(snap.Meeting.TimeSlots) {
			return store.Snapshot{}, fmt.Errorf("%w: %d of %d", ErrSlotIndex, slotIndex, len(snap.Meeting.TimeSlots))
		}
		if snap.Meeting.UID == p.UID {
			return store.Snapshot{}, ErrOwnReservation
		}
		if !snap.Meeting.TimeSlots[slotIndex].Available {
			r.Observe(snap)
			return store.Snapshot{}, fmt.Errorf("%w: %s slot %d", ErrSlotTaken, meetingID, slotIndex)
		}

		staged := snap.Meeting
		staged.TimeSlots = snap.Meeting.CloneSlots()
		staged.Participants = append([]meeting.Participant(nil), snap.Meeting.Participants...)
		staged.TimeSlots[slotIndex].Available = false
		staged.TimeSlots[slotIndex].Participants = append(staged.TimeSlots[slotIndex].Participants, p)
		staged.MergeParticipant(p)

		newRevision, err := r.store.Update(ctx, &staged, snap.Revision)
		if err != nil {
			if errors.Is(err, store.ErrWrongRevision) {
				r.logger.With("meeting_id", meetingID, "slot", slotIndex, "revision", snap.Revision, "attempt", attempt).
					DebugContext(ctx, "reservation lost revision race, re-reading")
				continue
			}
			return store.Snapshot{}, fmt.Errorf("%w: %w", ErrRemoteWrite, err)
		}

		committed := store.Snapshot{Meeting: staged, Revision: newRevision}
		r.Observe(committed)
		r.logger.With("meeting_id", meetingID, "slot", slotIndex, "uid", p.UID, "revision", newRevision).
			InfoContext(ctx, "reserved slot")
		return committed, nil
	}

	return store.Snapshot{}, fmt.Errorf("%w: %s slot %d after %d attempts", ErrReservationConflict, meetingID, slotIndex, r.maxAttempts)
}
