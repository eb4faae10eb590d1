// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Archiving of meeting documents into DynamoDB
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/slotmeet/slotmeet/internal/meeting"
)

// dynamoAPI is the slice of the DynamoDB client the archiver uses.
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Archiver mirrors the meetings KV bucket into a DynamoDB table, one item per
// meeting, keyed by meeting id. Each archived item carries the KV revision it
// was taken from, so replays and redeliveries are idempotent.
type Archiver struct {
	table  string
	codec  meeting.Codec
	db     dynamoAPI
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver builds an archiver writing to the given table.
func NewArchiver(table string, codec meeting.Codec, db dynamoAPI, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{table: table, codec: codec, db: db, logger: logger, now: time.Now}
}

// archiveRecord is the DynamoDB item shape. The meeting document is stored as
// a nested map so the table remains queryable without decoding blobs.
type archiveRecord struct {
	MeetingID  string          `dynamodbav:"meetingId"`
	Revision   uint64          `dynamodbav:"revision"`
	ArchivedAt string          `dynamodbav:"archivedAt"`
	Document   meeting.Meeting `dynamodbav:"document"`
}

// errBadDocument marks entries that can never be archived; redelivery will
// not help, so consumers drop them instead of Nak'ing.
var errBadDocument = errors.New("undecodable meeting document")

// Archive decodes one committed document state and upserts it into the table.
func (a *Archiver) Archive(ctx context.Context, key string, value []byte, revision uint64) error {
	m, err := a.codec.Decode(value)
	if err != nil {
		return fmt.Errorf("%w %s: %v", errBadDocument, key, err)
	}

	item, err := attributevalue.MarshalMap(archiveRecord{
		MeetingID:  key,
		Revision:   revision,
		ArchivedAt: a.now().UTC().Format(time.RFC3339),
		Document:   *m,
	})
	if err != nil {
		return fmt.Errorf("marshal archive record %s: %w", key, err)
	}

	// Only move forward: a redelivered older revision must not clobber a
	// newer archived state.
	_, err = a.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(a.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(revision) OR revision < :rev"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rev": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", revision)},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			a.logger.With("meeting_id", key, "revision", revision).
				DebugContext(ctx, "skipping stale revision, newer state already archived")
			return nil
		}
		return fmt.Errorf("put archive record %s: %w", key, err)
	}

	a.logger.With("meeting_id", key, "revision", revision).InfoContext(ctx, "archived meeting document")
	return nil
}

// Remove deletes the archived item after the KV entry was deleted or purged.
func (a *Archiver) Remove(ctx context.Context, key string) error {
	_, err := a.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(a.table),
		Key: map[string]types.AttributeValue{
			"meetingId": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("delete archive record %s: %w", key, err)
	}
	a.logger.With("meeting_id", key).InfoContext(ctx, "removed archived meeting document")
	return nil
}
