// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/slotmeet/slotmeet/internal/meeting"
)

const errKey = "error"

// DefaultBucket is the KV bucket holding meeting documents, keyed by meeting id.
const DefaultBucket = "meetings"

// KVStore is the JetStream KV implementation of MeetingStore. It also exposes
// the bucket watch primitives consumed by the live projector.
type KVStore struct {
	kv     jetstream.KeyValue
	codec  meeting.Codec
	logger *slog.Logger
}

// NewKVStore wraps an existing KV bucket handle.
func NewKVStore(kv jetstream.KeyValue, codec meeting.Codec, logger *slog.Logger) *KVStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{kv: kv, codec: codec, logger: logger}
}

// EnsureBucket creates or opens the meetings KV bucket.
func EnsureBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "slotmeet meeting documents",
		Storage:     jetstream.FileStorage,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure KV bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// Create implements MeetingStore.
func (s *KVStore) Create(ctx context.Context, m *meeting.Meeting) error {
	data, err := s.codec.Encode(m)
	if err != nil {
		return fmt.Errorf("encode meeting %s: %w", m.MeetingID, err)
	}
	if _, err := s.kv.Create(ctx, m.MeetingID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%w: %s", ErrMeetingExists, m.MeetingID)
		}
		return fmt.Errorf("create meeting %s: %w", m.MeetingID, err)
	}
	s.logger.With("meeting_id", m.MeetingID, "slots", len(m.TimeSlots), "encoding", s.codec.Format()).
		InfoContext(ctx, "created meeting document")
	return nil
}

// Get implements MeetingStore.
func (s *KVStore) Get(ctx context.Context, meetingID string) (Snapshot, error) {
	entry, err := s.kv.Get(ctx, meetingID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrMeetingNotFound, meetingID)
		}
		return Snapshot{}, fmt.Errorf("get meeting %s: %w", meetingID, err)
	}
	m, err := s.codec.Decode(entry.Value())
	if err != nil {
		return Snapshot{}, fmt.Errorf("meeting %s: %w", meetingID, err)
	}
	return Snapshot{Meeting: *m, Revision: entry.Revision()}, nil
}

// Update implements MeetingStore.
func (s *KVStore) Update(ctx context.Context, m *meeting.Meeting, revision uint64) (uint64, error) {
	data, err := s.codec.Encode(m)
	if err != nil {
		return 0, fmt.Errorf("encode meeting %s: %w", m.MeetingID, err)
	}
	newRevision, err := s.kv.Update(ctx, m.MeetingID, data, revision)
	if err != nil {
		if isRevisionMismatchError(err) {
			return 0, fmt.Errorf("%w: %s at revision %d", ErrWrongRevision, m.MeetingID, revision)
		}
		return 0, fmt.Errorf("update meeting %s: %w", m.MeetingID, err)
	}
	return newRevision, nil
}

// ListByOwner implements MeetingStore. The bucket has no server-side query,
// so this scans all keys and filters on the owner uid.
func (s *KVStore) ListByOwner(ctx context.Context, ownerID string) ([]meeting.Meeting, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list meeting keys: %w", err)
	}
	defer lister.Stop()

	meetings := []meeting.Meeting{}
	for key := range lister.Keys() {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get meeting %s: %w", key, err)
		}
		m, err := s.codec.Decode(entry.Value())
		if err != nil {
			s.logger.With(errKey, err, "meeting_id", key).WarnContext(ctx, "skipping undecodable meeting document")
			continue
		}
		if m.UID == ownerID {
			meetings = append(meetings, *m)
		}
	}
	return meetings, nil
}

// WatchMeeting opens a KV watch on one meeting key, delivering the current
// entry first and then every subsequent commit in order.
func (s *KVStore) WatchMeeting(ctx context.Context, meetingID string) (jetstream.KeyWatcher, error) {
	w, err := s.kv.Watch(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("watch meeting %s: %w", meetingID, err)
	}
	return w, nil
}

// WatchAll opens a bucket-wide KV watch used by the owner-list projection.
func (s *KVStore) WatchAll(ctx context.Context) (jetstream.KeyWatcher, error) {
	w, err := s.kv.WatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch meetings bucket: %w", err)
	}
	return w, nil
}

// Codec returns the document codec, for consumers that decode watch entries.
func (s *KVStore) Codec() meeting.Codec {
	return s.codec
}

// isRevisionMismatchError checks if an error is a KV revision conflict that
// the read-modify-write cycle should retry.
func isRevisionMismatchError(err error) bool {
	var jsErr jetstream.JetStreamError
	if errors.As(err, &jsErr) {
		if apiErr := jsErr.APIError(); apiErr != nil && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return true
		}
	}

	// Older servers report the conflict only in the error string.
	errStr := err.Error()
	return strings.Contains(errStr, "err_code=10071") ||
		strings.Contains(errStr, "wrong last sequence") ||
		strings.Contains(errStr, "key exists")
}
