// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package reserve

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/slotmeet/slotmeet/internal/meeting"
	"github.com/slotmeet/slotmeet/internal/store"
	"github.com/slotmeet/slotmeet/internal/timeslot"
)

// fakeStore is an in-memory MeetingStore with revision-conditioned updates,
// mimicking the KV bucket's semantics. beforeUpdate lets a test interleave a
// concurrent writer between a client's read and its conditional write.
type fakeStore struct {
	doc          *meeting.Meeting
	revision     uint64
	gets         int
	updates      int
	updateErr    error
	beforeUpdate func(s *fakeStore)
}

func (s *fakeStore) Create(_ context.Context, m *meeting.Meeting) error {
	s.doc = m
	s.revision = 1
	return nil
}

func (s *fakeStore) Get(context.Context, string) (store.Snapshot, error) {
	s.gets++
	if s.doc == nil {
		return store.Snapshot{}, store.ErrMeetingNotFound
	}
	copied := *s.doc
	copied.TimeSlots = s.doc.CloneSlots()
	copied.Participants = append([]meeting.Participant(nil), s.doc.Participants...)
	return store.Snapshot{Meeting: copied, Revision: s.revision}, nil
}

func (s *fakeStore) Update(_ context.Context, m *meeting.Meeting, revision uint64) (uint64, error) {
	if s.beforeUpdate != nil {
		hook := s.beforeUpdate
		s.beforeUpdate = nil
		hook(s)
	}
	s.updates++
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	if revision != s.revision {
		return 0, store.ErrWrongRevision
	}
	s.doc = m
	s.revision++
	return s.revision, nil
}

func (s *fakeStore) ListByOwner(context.Context, string) ([]meeting.Meeting, error) {
	return nil, nil
}

// commitDirect applies a reservation straight to the fake's document,
// standing in for a concurrent client whose write already landed.
func (s *fakeStore) commitDirect(slotIndex int, p meeting.Participant) {
	s.doc.TimeSlots[slotIndex].Available = false
	s.doc.TimeSlots[slotIndex].Participants = append(s.doc.TimeSlots[slotIndex].Participants, p)
	s.doc.MergeParticipant(p)
	s.revision++
}

func newTestStore(t *testing.T) *fakeStore {
	t.Helper()
	start, _ := timeslot.ParseWallClock("09:00")
	end, _ := timeslot.ParseWallClock("10:00")
	m, err := meeting.New("Office hours", start, end, 15, "owner-1", func(string) (string, error) {
		return "https://tinyurl.com/abc", nil
	})
	if err != nil {
		t.Fatalf("meeting.New: %v", err)
	}
	m.MeetingID = "m1"
	s := &fakeStore{}
	if err := s.Create(context.Background(), m); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

var (
	ada   = meeting.Participant{UID: "u-ada", DisplayName: "Ada"}
	grace = meeting.Participant{UID: "u-grace", DisplayName: "Grace"}
)

func TestReserveSuccess(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, nil)

	snap, err := r.Reserve(context.Background(), "m1", 2, ada)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	slot := snap.Meeting.TimeSlots[2]
	if slot.Available {
		t.Error("reserved slot still available")
	}
	if len(slot.Participants) != 1 || slot.Participants[0].UID != ada.UID {
		t.Errorf("slot participants = %v, want exactly ada", slot.Participants)
	}
	if len(snap.Meeting.Participants) != 1 || snap.Meeting.Participants[0].UID != ada.UID {
		t.Errorf("flat participants = %v, want exactly ada", snap.Meeting.Participants)
	}
	for i, s := range snap.Meeting.TimeSlots {
		if i != 2 && !s.Available {
			t.Errorf("slot %d flipped unavailable as a side effect", i)
		}
	}
	if st.revision != 2 {
		t.Errorf("store revision = %d, want 2", st.revision)
	}
}

func TestReserveLocalPreCheckIssuesNoRemoteCalls(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, nil)

	// The local projection already shows slot 1 reserved.
	observed, _ := st.Get(context.Background(), "m1")
	observed.Meeting.TimeSlots[1].Available = false
	st.gets = 0
	r.Observe(observed)

	_, err := r.Reserve(context.Background(), "m1", 1, ada)
	if !errors.Is(err, ErrSlotUnavailableLocally) {
		t.Fatalf("Reserve error = %v, want ErrSlotUnavailableLocally", err)
	}
	if st.gets != 0 || st.updates != 0 {
		t.Errorf("remote calls made (gets=%d, updates=%d), want none", st.gets, st.updates)
	}
}

func TestReserveRaceOnSameSlotSurfacesSlotTaken(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, nil)

	// Grace's client commits between our read and our conditional write.
	st.beforeUpdate = func(s *fakeStore) { s.commitDirect(0, grace) }

	_, err := r.Reserve(context.Background(), "m1", 0, ada)
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("Reserve error = %v, want ErrSlotTaken", err)
	}

	// The race is observable, never a silent overwrite: grace keeps the slot.
	slot := st.doc.TimeSlots[0]
	if len(slot.Participants) != 1 || slot.Participants[0].UID != grace.UID {
		t.Errorf("slot participants = %v, want exactly grace", slot.Participants)
	}
}

func TestReserveRaceOnOtherSlotRetriesAndMerges(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, nil)

	// Grace reserves slot 3 while we reserve slot 0; our first write loses the
	// revision race, the retry merges both reservations.
	st.beforeUpdate = func(s *fakeStore) { s.commitDirect(3, grace) }

	snap, err := r.Reserve(context.Background(), "m1", 0, ada)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if snap.Meeting.TimeSlots[0].Available || snap.Meeting.TimeSlots[0].Participants[0].UID != ada.UID {
		t.Error("ada's reservation missing from slot 0")
	}
	if snap.Meeting.TimeSlots[3].Available || snap.Meeting.TimeSlots[3].Participants[0].UID != grace.UID {
		t.Error("grace's earlier reservation lost by the retry")
	}
	if len(snap.Meeting.Participants) != 2 {
		t.Errorf("flat participants = %v, want both", snap.Meeting.Participants)
	}
	if st.updates != 2 {
		t.Errorf("updates = %d, want 2 (one lost race, one commit)", st.updates)
	}
}

func TestReserveConflictExhaustsRetries(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, nil, WithMaxAttempts(3))

	// Every conditional write loses its race.
	st.updateErr = fmt.Errorf("wrapped: %w", store.ErrWrongRevision)

	_, err := r.Reserve(context.Background(), "m1", 0, ada)
	if !errors.Is(err, ErrReservationConflict) {
		t.Fatalf("Reserve error = %v, want ErrReservationConflict", err)
	}
	if st.updates != 3 {
		t.Errorf("updates = %d, want 3 bounded attempts", st.updates)
	}
}

func TestReserveOwnMeetingRejected(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, nil)

	_, err := r.Reserve(context.Background(), "m1", 0, meeting.Participant{UID: "owner-1", DisplayName: "Owner"})
	if !errors.Is(err, ErrOwnReservation) {
		t.Fatalf("Reserve error = %v, want ErrOwnReservation", err)
	}
	if st.updates != 0 {
		t.Errorf("updates = %d, want 0", st.updates)
	}
}

func TestReserveSlotIndexOutOfRange(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, nil)

	for _, idx := range []int{-1, 4, 99} {
		if _, err := r.Reserve(context.Background(), "m1", idx, ada); !errors.Is(err, ErrSlotIndex) {
			t.Errorf("Reserve(%d) error = %v, want ErrSlotIndex", idx, err)
		}
	}
}

func TestReserveRemoteWriteErrorSurfaced(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, nil)

	st.updateErr = errors.New("nats: connection closed")

	_, err := r.Reserve(context.Background(), "m1", 0, ada)
	if !errors.Is(err, ErrRemoteWrite) {
		t.Fatalf("Reserve error = %v, want ErrRemoteWrite", err)
	}
	if st.updates != 1 {
		t.Errorf("updates = %d, want 1 (no automatic retry on remote failure)", st.updates)
	}
}

func TestReserveMeetingNotFound(t *testing.T) {
	r := NewReconciler(&fakeStore{}, nil)

	_, err := r.Reserve(context.Background(), "missing", 0, ada)
	if !errors.Is(err, store.ErrMeetingNotFound) {
		t.Fatalf("Reserve error = %v, want ErrMeetingNotFound", err)
	}
}
