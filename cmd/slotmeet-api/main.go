// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The slotmeet-api service is the HTTP and WebSocket face of the scheduling
// core. It signs users up and in against Auth0, creates meeting documents in
// the NATS JetStream KV bucket, applies slot reservations through the
// conditional-write reconciler, and streams live document projections to
// connected clients.
//
// Required environment variables:
//
//	AUTH0_DOMAIN         Auth0 tenant domain, e.g. "slotmeet.us.auth0.com".
//	AUTH0_CLIENT_ID      Auth0 application client ID.
//	AUTH0_CLIENT_SECRET  Auth0 application client secret.
//
// Optional environment variables (with defaults):
//
//	NATS_URL              nats://nats:4222
//	MEETINGS_BUCKET       meetings
//	USE_MSGPACK           false
//	AUTH0_CONNECTION      Username-Password-Authentication
//	LINK_BASE_URL         https://app.slotmeet.dev
//	SHORTENER_API_URL     https://tinyurl.com/api-create.php
//	RESERVE_MAX_ATTEMPTS  5
//	PORT                  8080  (health checks)
//	API_PORT              8090  (HTTP/WebSocket API)
//	BIND                  *
//	DEBUG                 false
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/slotmeet/slotmeet/internal/identity"
	"github.com/slotmeet/slotmeet/internal/live"
	"github.com/slotmeet/slotmeet/internal/meeting"
	"github.com/slotmeet/slotmeet/internal/reserve"
	"github.com/slotmeet/slotmeet/internal/shortlink"
	"github.com/slotmeet/slotmeet/internal/store"
)

const (
	errKey = "error"
	// gracefulShutdownSeconds should be higher than NATS client
	// request timeout, and lower than the pod or liveness probe's
	// terminationGracePeriodSeconds.
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

	flag.Usage = func() {
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()

	logOptions := &slog.HandlerOptions{}
	if cfg.Debug || *debug {
		logOptions.Level = slog.LevelDebug
		logOptions.AddSource = true
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, logOptions))
	slog.SetDefault(logger)

	// Support GET/POST monitoring "ping".
	http.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		// This always returns as long as the service is still running. As this
		// endpoint is expected to be used as a Kubernetes liveness check, this
		// service must likewise self-detect non-recoverable errors and
		// self-terminate.
		fmt.Fprintf(w, "OK\n")
	})

	// Basic health check.
	http.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if natsConn == nil || !natsConn.IsConnected() || natsConn.IsDraining() {
			http.Error(w, "NATS connection not ready", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "OK\n")
	})

	// Add an http listener for health checks. This server does NOT participate
	// in the graceful shutdown process; we want it to stay up until the process
	// is killed, to avoid liveness checks failing during the graceful shutdown.
	var addr string
	if *bind == "*" {
		addr = ":" + *port
	} else {
		addr = *bind + ":" + *port
	}
	healthServer := &http.Server{
		Addr:              addr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.With(errKey, err).Error("health listener error")
			os.Exit(1)
		}
	}()

	// Create a wait group which is used to wait while draining (gracefully
	// closing) a connection.
	gracefulCloseWG := sync.WaitGroup{}

	// Support graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	// Create NATS connection.
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
				// If our parent background context has already been canceled, this is
				// a graceful shutdown. Decrement the wait group but do not exit, to
				// allow other graceful shutdown steps to complete.
				gracefulCloseWG.Done()
				return
			}
			// Otherwise, this handler means that max reconnect attempts have been
			// exhausted.
			logger.Error("NATS max-reconnects exhausted; connection closed")
			// Send a synthetic interrupt and give any graceful-shutdown tasks 5
			// seconds to clean up.
			done <- os.Interrupt
			time.Sleep(5 * time.Second)
			// Exit with an error instead of decrementing the wait group.
			os.Exit(1)
		}),
	)
	if err != nil {
		logger.With(errKey, err).Error("error creating NATS client")
		os.Exit(1)
	}

	// Create JetStream context and the meetings KV bucket.
	jsContext, err := jetstream.New(natsConn)
	if err != nil {
		logger.With(errKey, err).Error("error creating JetStream context")
		os.Exit(1)
	}
	meetingsKV, err := store.EnsureBucket(ctx, jsContext, cfg.MeetingsBucket)
	if err != nil {
		logger.With(errKey, err, "bucket", cfg.MeetingsBucket).Error("error creating meetings KV bucket")
		os.Exit(1)
	}

	codec := meeting.Codec{UseMsgpack: cfg.UseMsgpack}
	meetingStore := store.NewKVStore(meetingsKV, codec, logger)
	reconciler := reserve.NewReconciler(meetingStore, logger, reserve.WithMaxAttempts(cfg.ReserveMaxAttempts))
	projector := live.NewProjector(meetingStore, codec, logger)

	// Initialize the Auth0 identity collaborator.
	auth, err := identity.New(ctx, identity.Config{
		Domain:       cfg.Auth0Domain,
		ClientID:     cfg.Auth0ClientID,
		ClientSecret: cfg.Auth0ClientSecret,
		Connection:   cfg.Auth0Connection,
	}, logger)
	if err != nil {
		logger.With(errKey, err).Error("error initializing Auth0 client")
		os.Exit(1)
	}

	shortener := shortlink.New(cfg.ShortenerAPIURL, nil)

	api := newAPIServer(cfg, logger, meetingStore, reconciler, projector, auth, shortener)

	var apiAddr string
	if *bind == "*" {
		apiAddr = ":" + cfg.APIPort
	} else {
		apiAddr = *bind + ":" + cfg.APIPort
	}
	apiHTTPServer := &http.Server{
		Addr:              apiAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		logger.With("addr", apiAddr).Info("serving slotmeet API")
		if err := apiHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.With(errKey, err).Error("api listener error")
			os.Exit(1)
		}
	}()

	// This next line blocks until SIGINT or SIGTERM is received, or NATS disconnects.
	<-done

	// Stop accepting API requests before draining NATS, so in-flight
	// reservations finish against a live connection.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownSeconds*time.Second)
	if err := apiHTTPServer.Shutdown(shutdownCtx); err != nil {
		logger.With(errKey, err).Error("error shutting down api listener")
	}
	shutdownCancel()

	// Cancel the background context.
	cancel()

	// Drain the connection, which will drain all subscriptions, then close the
	// connection when complete.
	if !natsConn.IsClosed() && !natsConn.IsDraining() {
		logger.Info("draining NATS connections")
		if err := natsConn.Drain(); err != nil {
			logger.With(errKey, err).Error("error draining NATS connection")
			os.Exit(1)
		}
	}

	// Wait for the graceful shutdown steps to complete.
	gracefulCloseWG.Wait()

	// Immediately close the health server after graceful shutdown has finished.
	if err = healthServer.Close(); err != nil {
		logger.With(errKey, err).Error("health listener error on close")
	}
}
