// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The meeting-archiver service mirrors the meetings KV bucket into a DynamoDB
// table. It consumes the bucket's change stream through a durable JetStream
// pull consumer, so multiple instances compete for messages and the archive
// survives restarts without re-reading the whole bucket.
//
// Required environment variables:
//
//	ARCHIVE_TABLE  DynamoDB table receiving archived meeting documents.
//
// Optional environment variables (with defaults):
//
//	NATS_URL             nats://nats:4222
//	MEETINGS_BUCKET      meetings
//	USE_MSGPACK          false
//	AWS_REGION           us-west-2
//	AWS_ASSUME_ROLE_ARN  (none)
//	MAX_ACK_PENDING      1000
//	PORT                 8080
//	BIND                 *
//	DEBUG                false
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	nats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/slotmeet/slotmeet/internal/meeting"
)

const (
	errKey                  = "error"
	gracefulShutdownSeconds = 25
)

var (
	logger   *slog.Logger
	cfg      *Config
	natsConn *nats.Conn
)

func main() {
	var err error
	cfg, err = LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	var debug = flag.Bool("d", false, "enable debug logging")
	var port = flag.String("p", cfg.Port, "health checks port")
	var bind = flag.String("bind", cfg.Bind, "interface to bind on")
	flag.Parse()

	logOptions := &slog.HandlerOptions{}
	if cfg.Debug || *debug {
		logOptions.Level = slog.LevelDebug
		logOptions.AddSource = true
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, logOptions))
	slog.SetDefault(logger)

	// Health check server.
	http.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "OK\n")
	})
	http.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if natsConn == nil || !natsConn.IsConnected() || natsConn.IsDraining() {
			http.Error(w, "NATS connection not ready", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "OK\n")
	})

	var addr string
	if *bind == "*" {
		addr = ":" + *port
	} else {
		addr = *bind + ":" + *port
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.With(errKey, err).Error("http listener error")
			os.Exit(1)
		}
	}()

	gracefulCloseWG := sync.WaitGroup{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	// Connect to NATS.
	gracefulCloseWG.Add(1)
	natsConn, err = nats.Connect(
		cfg.NATSURL,
		nats.DrainTimeout(gracefulShutdownSeconds*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, s *nats.Subscription, err error) {
			if s != nil {
				logger.With(errKey, err, "subject", s.Subject, "queue", s.Queue).Error("async NATS error")
			} else {
				logger.With(errKey, err).Error("async NATS error outside subscription")
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if ctx.Err() != nil {
				gracefulCloseWG.Done()
				return
			}
			logger.Error("NATS max-reconnects exhausted; connection closed")
			done <- os.Interrupt
			time.Sleep(5 * time.Second)
			os.Exit(1)
		}),
	)
	if err != nil {
		logger.With(errKey, err).Error("error creating NATS client")
		os.Exit(1)
	}

	jsContext, err := jetstream.New(natsConn)
	if err != nil {
		logger.With(errKey, err).Error("error creating JetStream context")
		os.Exit(1)
	}

	// Load AWS configuration from the environment / instance profile.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.With(errKey, err).Error("error loading AWS config")
		os.Exit(1)
	}

	// If a role ARN is configured, assume it via STS for cross-account DynamoDB access.
	if cfg.AssumeRoleARN != "" {
		logger.With("role_arn", cfg.AssumeRoleARN).Info("assuming IAM role for DynamoDB access")
		stsClient := sts.NewFromConfig(awsCfg)
		awsCfg.Credentials = stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN)
	}

	archiver := NewArchiver(
		cfg.ArchiveTable,
		meeting.Codec{UseMsgpack: cfg.UseMsgpack},
		dynamodb.NewFromConfig(awsCfg),
		logger,
	)

	// Create or get the durable pull consumer over the meetings KV bucket's
	// backing stream. DeliverLastPerSubjectPolicy means a fresh consumer
	// archives only the newest state of each meeting instead of replaying
	// history.
	consumerName := "meeting-archiver-kv-consumer"
	streamName := "KV_" + cfg.MeetingsBucket
	subjectPrefix := "$KV." + cfg.MeetingsBucket + "."

	consumer, err := jsContext.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: subjectPrefix + ">",
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
		MaxAckPending: cfg.MaxAckPending,
		Description:   "Pull consumer for meeting-archiver to mirror meeting documents into DynamoDB",
	})
	if err != nil {
		logger.With(errKey, err, "consumer", consumerName, "stream", streamName).Error("error creating JetStream pull consumer")
		os.Exit(1)
	}

	var consumerWG sync.WaitGroup
	consumerWG.Add(1)
	go func() {
		defer consumerWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
				if err != nil {
					if err == jetstream.ErrNoMessages {
						continue
					}
					logger.With(errKey, err, "consumer", consumerName).Error("error fetching messages from consumer")
					continue
				}
				for msg := range msgs.Messages() {
					handleChange(ctx, archiver, subjectPrefix, msg)
				}
			}
		}
	}()

	// Block until SIGINT / SIGTERM.
	<-done
	logger.Debug("beginning graceful shutdown")

	cancel()
	consumerWG.Wait()

	if !natsConn.IsClosed() && !natsConn.IsDraining() {
		logger.Info("draining NATS connection")
		if err := natsConn.Drain(); err != nil {
			logger.With(errKey, err).Error("error draining NATS connection")
			os.Exit(1)
		}
	}

	gracefulCloseWG.Wait()
	logger.Debug("graceful shutdown complete")

	if err = httpServer.Close(); err != nil {
		logger.With(errKey, err).Error("http listener error on close")
	}
}

// handleChange archives or removes one KV change and acknowledges the message.
// Failures are Nak'd; MaxDeliver bounds the redelivery attempts.
func handleChange(ctx context.Context, archiver *Archiver, subjectPrefix string, msg jetstream.Msg) {
	key := strings.TrimPrefix(msg.Subject(), subjectPrefix)
	if key == "" || key == msg.Subject() {
		logger.With("subject", msg.Subject()).Warn("skipping message with unexpected subject")
		if err := msg.Ack(); err != nil {
			logger.With(errKey, err).Error("failed to acknowledge JetStream message")
		}
		return
	}

	var opErr error
	switch msg.Headers().Get("KV-Operation") {
	case "DEL", "PURGE":
		opErr = archiver.Remove(ctx, key)
	default:
		revision := uint64(0)
		if meta, err := msg.Metadata(); err == nil {
			revision = meta.Sequence.Stream
		}
		opErr = archiver.Archive(ctx, key, msg.Data(), revision)
	}

	if opErr != nil {
		if errors.Is(opErr, errBadDocument) {
			// Permanent: redelivering an undecodable entry cannot succeed.
			logger.With(errKey, opErr, "key", key).Error("dropping undecodable KV entry")
			if err := msg.Ack(); err != nil {
				logger.With(errKey, err, "key", key).Error("failed to acknowledge JetStream message")
			}
			return
		}
		logger.With(errKey, opErr, "key", key).Error("error archiving KV change")
		if err := msg.Nak(); err != nil {
			logger.With(errKey, err, "key", key).Error("failed to negatively acknowledge JetStream message")
		}
		return
	}
	if err := msg.Ack(); err != nil {
		logger.With(errKey, err, "key", key).Error("failed to acknowledge JetStream message")
	}
}
