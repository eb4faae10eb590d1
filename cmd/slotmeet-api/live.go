// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// WebSocket endpoints streaming live meeting projections
package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// handleMeetingLive streams every committed state of one meeting document to
// the client, starting with the current state. Anyone holding the share link
// may watch; reservations still require authentication.
func (s *apiServer) handleMeetingLive(w http.ResponseWriter, r *http.Request) {
	meetingID := mux.Vars(r)["meetingId"]

	watch, err := s.projector.WatchMeeting(r.Context(), meetingID)
	if err != nil {
		s.logger.With(errKey, err, "meeting_id", meetingID).ErrorContext(r.Context(), "meeting watch failed")
		writeError(w, http.StatusBadGateway, "meeting watch failed")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		watch.Stop()
		s.logger.With(errKey, err).DebugContext(r.Context(), "websocket upgrade failed")
		return
	}
	defer conn.Close()
	defer watch.Stop()

	go s.readUntilClosed(conn, watch.Stop)

	for snap := range watch.Updates() {
		// Feed the reconciler's local projection so reservation pre-checks
		// see what this watcher sees.
		s.reconciler.Observe(snap)

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(meetingResponse{Meeting: snap.Meeting, Revision: snap.Revision}); err != nil {
			s.logger.With(errKey, err, "meeting_id", meetingID).DebugContext(r.Context(), "live meeting stream closed")
			return
		}
	}
}

// handleOwnerMeetingsLive streams the caller's full meeting list, re-emitted
// on every relevant change.
func (s *apiServer) handleOwnerMeetingsLive(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	watch, err := s.projector.WatchOwner(r.Context(), caller.UID)
	if err != nil {
		s.logger.With(errKey, err, "uid", caller.UID).ErrorContext(r.Context(), "owner watch failed")
		writeError(w, http.StatusBadGateway, "owner watch failed")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		watch.Stop()
		s.logger.With(errKey, err).DebugContext(r.Context(), "websocket upgrade failed")
		return
	}
	defer conn.Close()
	defer watch.Stop()

	go s.readUntilClosed(conn, watch.Stop)

	for list := range watch.Updates() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(list); err != nil {
			s.logger.With(errKey, err, "uid", caller.UID).DebugContext(r.Context(), "live meeting list stream closed")
			return
		}
	}
}

// readUntilClosed drains client frames until the connection errors, then
// stops the watch so the writer loop unblocks.
func (s *apiServer) readUntilClosed(conn *websocket.Conn, stop func()) {
	defer stop()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
