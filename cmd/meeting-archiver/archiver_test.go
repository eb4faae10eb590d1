// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/slotmeet/slotmeet/internal/meeting"
	"github.com/slotmeet/slotmeet/internal/timeslot"
)

type fakeDynamo struct {
	putInputs    []*dynamodb.PutItemInput
	deleteInputs []*dynamodb.DeleteItemInput
	putErr       error
}

func (f *fakeDynamo) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInputs = append(f.putInputs, params)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deleteInputs = append(f.deleteInputs, params)
	return &dynamodb.DeleteItemOutput{}, nil
}

func testMeetingDoc(t *testing.T) (*meeting.Meeting, []byte) {
	t.Helper()
	start, err := timeslot.ParseWallClock("09:00")
	if err != nil {
		t.Fatalf("ParseWallClock: %v", err)
	}
	end, err := timeslot.ParseWallClock("10:00")
	if err != nil {
		t.Fatalf("ParseWallClock: %v", err)
	}
	m, err := meeting.New("Office hours", start, end, 30, "owner-1", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := meeting.Codec{}.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return m, data
}

func TestArchiveWritesConditionalItem(t *testing.T) {
	db := &fakeDynamo{}
	a := NewArchiver("meetings-archive", meeting.Codec{}, db, nil)
	a.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }

	m, data := testMeetingDoc(t)
	if err := a.Archive(context.Background(), m.MeetingID, data, 7); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if len(db.putInputs) != 1 {
		t.Fatalf("PutItem calls = %d, want 1", len(db.putInputs))
	}
	in := db.putInputs[0]
	if *in.TableName != "meetings-archive" {
		t.Errorf("table = %q, want meetings-archive", *in.TableName)
	}
	id, ok := in.Item["meetingId"].(*types.AttributeValueMemberS)
	if !ok || id.Value != m.MeetingID {
		t.Errorf("meetingId attribute = %v, want %q", in.Item["meetingId"], m.MeetingID)
	}
	rev, ok := in.Item["revision"].(*types.AttributeValueMemberN)
	if !ok || rev.Value != "7" {
		t.Errorf("revision attribute = %v, want 7", in.Item["revision"])
	}
	archivedAt, ok := in.Item["archivedAt"].(*types.AttributeValueMemberS)
	if !ok || archivedAt.Value != "2026-08-28T12:00:00Z" {
		t.Errorf("archivedAt attribute = %v", in.Item["archivedAt"])
	}
	if _, ok := in.Item["document"].(*types.AttributeValueMemberM); !ok {
		t.Errorf("document attribute = %T, want a map", in.Item["document"])
	}
	if in.ConditionExpression == nil || *in.ConditionExpression == "" {
		t.Error("PutItem has no condition expression; stale redeliveries could clobber newer state")
	}
}

func TestArchiveToleratesStaleRevision(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	a := NewArchiver("meetings-archive", meeting.Codec{}, db, nil)

	m, data := testMeetingDoc(t)
	if err := a.Archive(context.Background(), m.MeetingID, data, 3); err != nil {
		t.Fatalf("Archive on stale revision = %v, want nil", err)
	}
}

func TestArchiveSurfacesPutFailure(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("throttled")}
	a := NewArchiver("meetings-archive", meeting.Codec{}, db, nil)

	m, data := testMeetingDoc(t)
	if err := a.Archive(context.Background(), m.MeetingID, data, 3); err == nil {
		t.Fatal("expected error for failed PutItem")
	}
}

func TestArchiveRejectsUndecodableDocument(t *testing.T) {
	db := &fakeDynamo{}
	a := NewArchiver("meetings-archive", meeting.Codec{}, db, nil)

	err := a.Archive(context.Background(), "m1", []byte("not a document"), 1)
	if err == nil {
		t.Fatal("expected error for undecodable document")
	}
	if !errors.Is(err, errBadDocument) {
		t.Errorf("error = %v, want errBadDocument so the consumer drops the entry", err)
	}
	if len(db.putInputs) != 0 {
		t.Errorf("PutItem calls = %d, want 0", len(db.putInputs))
	}
}

func TestRemoveDeletesByMeetingID(t *testing.T) {
	db := &fakeDynamo{}
	a := NewArchiver("meetings-archive", meeting.Codec{}, db, nil)

	if err := a.Remove(context.Background(), "m1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(db.deleteInputs) != 1 {
		t.Fatalf("DeleteItem calls = %d, want 1", len(db.deleteInputs))
	}
	key, ok := db.deleteInputs[0].Key["meetingId"].(*types.AttributeValueMemberS)
	if !ok || key.Value != "m1" {
		t.Errorf("delete key = %v, want m1", db.deleteInputs[0].Key["meetingId"])
	}
}
