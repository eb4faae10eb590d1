// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package live projects the document store's change notifications into
// continuously updated local views. Each watch delivers full snapshots in
// store commit order, starting with the current state, and keeps delivering
// until its Stop handle is invoked. Ownership of a watch is never ambiguous:
// whoever opened it must stop it, or the subscription leaks for the process
// lifetime.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/slotmeet/slotmeet/internal/meeting"
	"github.com/slotmeet/slotmeet/internal/store"
)

const errKey = "error"

// WatchSource provides the raw KV watch primitives. *store.KVStore satisfies
// this; tests substitute fakes.
type WatchSource interface {
	WatchMeeting(ctx context.Context, meetingID string) (jetstream.KeyWatcher, error)
	WatchAll(ctx context.Context) (jetstream.KeyWatcher, error)
}

// Projector turns KV watches into typed snapshot streams.
type Projector struct {
	src     WatchSource
	codec   meeting.Codec
	logger  *slog.Logger
	onError func(error)
}

// Option configures a Projector.
type Option func(*Projector)

// WithErrorHandler installs the out-of-band callback for stream errors, such
// as undecodable entries. Errors never terminate a watch; the projector logs
// them and keeps listening.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Projector) { p.onError = fn }
}

// NewProjector builds a projector over the given watch source.
func NewProjector(src WatchSource, codec meeting.Codec, logger *slog.Logger, opts ...Option) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Projector{src: src, codec: codec, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Projector) streamError(ctx context.Context, err error, key string) {
	p.logger.With(errKey, err, "key", key).ErrorContext(ctx, "live projection stream error")
	if p.onError != nil {
		p.onError(err)
	}
}

// MeetingWatch is a live projection of one meeting document.
type MeetingWatch struct {
	updates  chan store.Snapshot
	done     chan struct{}
	stopOnce sync.Once
	watcher  jetstream.KeyWatcher
}

// Updates returns the snapshot stream. The channel is closed after Stop.
func (w *MeetingWatch) Updates() <-chan store.Snapshot {
	return w.updates
}

// Stop cancels the subscription. No further snapshots are delivered even if
// the remote document keeps changing.
func (w *MeetingWatch) Stop() {
	w.stopOnce.Do(func() {
		_ = w.watcher.Stop()
		close(w.done)
	})
}

// WatchMeeting subscribes to a single meeting document. The current state, if
// the document exists, arrives as the first snapshot.
func (p *Projector) WatchMeeting(ctx context.Context, meetingID string) (*MeetingWatch, error) {
	watcher, err := p.src.WatchMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("subscribe to meeting %s: %w", meetingID, err)
	}

	w := &MeetingWatch{
		updates: make(chan store.Snapshot, 1),
		done:    make(chan struct{}),
		watcher: watcher,
	}

	go func() {
		defer close(w.updates)
		for entry := range watcher.Updates() {
			if entry == nil {
				// End-of-initial-values marker.
				continue
			}
			if op := entry.Operation(); op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
				continue
			}
			m, err := p.codec.Decode(entry.Value())
			if err != nil {
				p.streamError(ctx, err, entry.Key())
				continue
			}
			select {
			case w.updates <- store.Snapshot{Meeting: *m, Revision: entry.Revision()}:
			case <-w.done:
				return
			}
		}
	}()

	return w, nil
}

// MeetingListWatch is a live projection of every meeting owned by one user.
type MeetingListWatch struct {
	updates  chan []meeting.Meeting
	done     chan struct{}
	stopOnce sync.Once
	watcher  jetstream.KeyWatcher
}

// Updates returns the list snapshot stream. Every relevant change re-emits
// the whole list; the channel is closed after Stop.
func (w *MeetingListWatch) Updates() <-chan []meeting.Meeting {
	return w.updates
}

// Stop cancels the subscription.
func (w *MeetingListWatch) Stop() {
	w.stopOnce.Do(func() {
		_ = w.watcher.Stop()
		close(w.done)
	})
}

// WatchOwner subscribes to the meeting list of one owner. The store has no
// server-side query, so this watches the whole bucket and filters on the
// owner uid, mirroring the meetings-by-owner query subscription of the
// original client. Initial bucket replay is buffered so the first emitted
// snapshot is the complete current list (possibly empty).
func (p *Projector) WatchOwner(ctx context.Context, ownerID string) (*MeetingListWatch, error) {
	watcher, err := p.src.WatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe to meetings of %s: %w", ownerID, err)
	}

	w := &MeetingListWatch{
		updates: make(chan []meeting.Meeting, 1),
		done:    make(chan struct{}),
		watcher: watcher,
	}

	go func() {
		defer close(w.updates)
		owned := make(map[string]meeting.Meeting)
		replaying := true

		emit := func() bool {
			list := make([]meeting.Meeting, 0, len(owned))
			for _, m := range owned {
				list = append(list, m)
			}
			sort.Slice(list, func(i, j int) bool { return list[i].MeetingID < list[j].MeetingID })
			select {
			case w.updates <- list:
				return true
			case <-w.done:
				return false
			}
		}

		for entry := range watcher.Updates() {
			if entry == nil {
				// Initial replay complete; emit the first full list.
				replaying = false
				if !emit() {
					return
				}
				continue
			}

			relevant := false
			switch entry.Operation() {
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				if _, ok := owned[entry.Key()]; ok {
					delete(owned, entry.Key())
					relevant = true
				}
			default:
				m, err := p.codec.Decode(entry.Value())
				if err != nil {
					p.streamError(ctx, err, entry.Key())
					continue
				}
				if m.UID == ownerID {
					owned[entry.Key()] = *m
					relevant = true
				} else if _, ok := owned[entry.Key()]; ok {
					// Ownership changed away; drop it.
					delete(owned, entry.Key())
					relevant = true
				}
			}

			if relevant && !replaying {
				if !emit() {
					return
				}
			}
		}
	}()

	return w, nil
}
