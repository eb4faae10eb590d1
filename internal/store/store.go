// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package store persists meeting documents in a NATS JetStream KV bucket.
// The bucket is the single source of truth; every consumer holds only a
// transient snapshot. Updates are conditioned on the entry revision, which is
// the optimistic-concurrency token for the reservation protocol.
package store

import (
	"context"
	"errors"

	"github.com/slotmeet/slotmeet/internal/meeting"
)

// Failures mapped from the underlying bucket.
var (
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrMeetingExists   = errors.New("meeting already exists")
	// ErrWrongRevision reports that the document changed between the read and
	// the conditional write. Callers re-read and retry.
	ErrWrongRevision = errors.New("meeting revision mismatch")
)

// Snapshot is one observed state of a meeting document, paired with the store
// revision it was read at.
type Snapshot struct {
	Meeting  meeting.Meeting
	Revision uint64
}

// MeetingStore is the narrow document-store surface the core depends on.
// Implementations must not assume transactions; conditional single-document
// updates are the only concurrency primitive.
type MeetingStore interface {
	// Create persists a new meeting document atomically. ErrMeetingExists is
	// returned when the id is already taken.
	Create(ctx context.Context, m *meeting.Meeting) error
	// Get reads the current document and its revision.
	Get(ctx context.Context, meetingID string) (Snapshot, error)
	// Update writes the full document conditioned on revision, returning the
	// new revision. ErrWrongRevision signals a concurrent writer won.
	Update(ctx context.Context, m *meeting.Meeting, revision uint64) (uint64, error)
	// ListByOwner scans the bucket for meetings owned by ownerID.
	ListByOwner(ctx context.Context, ownerID string) ([]meeting.Meeting, error)
}
