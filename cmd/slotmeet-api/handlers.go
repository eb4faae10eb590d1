// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// HTTP handlers for the slotmeet-api service
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/slotmeet/slotmeet/internal/identity"
	"github.com/slotmeet/slotmeet/internal/live"
	"github.com/slotmeet/slotmeet/internal/meeting"
	"github.com/slotmeet/slotmeet/internal/reserve"
	"github.com/slotmeet/slotmeet/internal/shortlink"
	"github.com/slotmeet/slotmeet/internal/store"
	"github.com/slotmeet/slotmeet/internal/timeslot"
)

// apiServer wires the scheduling core behind the HTTP/WebSocket API.
type apiServer struct {
	cfg        *Config
	logger     *slog.Logger
	store      *store.KVStore
	reconciler *reserve.Reconciler
	projector  *live.Projector
	auth       *identity.Authenticator
	shortener  *shortlink.Client
	upgrader   websocket.Upgrader
}

func newAPIServer(
	cfg *Config,
	logger *slog.Logger,
	st *store.KVStore,
	reconciler *reserve.Reconciler,
	projector *live.Projector,
	auth *identity.Authenticator,
	shortener *shortlink.Client,
) *apiServer {
	return &apiServer{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		reconciler: reconciler,
		projector:  projector,
		auth:       auth,
		shortener:  shortener,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Clients are native mobile apps, not browsers; origin checks
			// do not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP route table.
func (s *apiServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/auth/signup", s.handleSignUp).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/meetings", s.requireAuth(s.handleCreateMeeting)).Methods(http.MethodPost)
	r.HandleFunc("/meetings", s.requireAuth(s.handleListMeetings)).Methods(http.MethodGet)
	r.HandleFunc("/meeting/{meetingId}", s.handleGetMeeting).Methods(http.MethodGet)
	r.HandleFunc("/meeting/{meetingId}/reservations", s.requireAuth(s.handleReserveSlot)).Methods(http.MethodPost)
	r.HandleFunc("/meeting/{meetingId}/live", s.handleMeetingLive).Methods(http.MethodGet)
	r.HandleFunc("/me/meetings/live", s.requireAuth(s.handleOwnerMeetingsLive)).Methods(http.MethodGet)
	return r
}

type contextKey int

const principalKey contextKey = 0

// principal is the authenticated caller extracted from the bearer ID token.
type principal struct {
	UID         string
	DisplayName string
}

// requireAuth verifies the bearer ID token and stashes the principal on the
// request context. ID tokens are HS256-signed with the application's client
// secret; an RS256 tenant would need a JWKS fetch here instead.
func (s *apiServer) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		bearer, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || bearer == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired()).
			ParseWithClaims(bearer, claims, func(*jwt.Token) (any, error) {
				return []byte(s.cfg.Auth0ClientSecret), nil
			})
		if err != nil {
			s.logger.With(errKey, err).DebugContext(r.Context(), "rejected bearer token")
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			writeError(w, http.StatusUnauthorized, "token has no subject")
			return
		}
		name, _ := claims["name"].(string)

		ctx := context.WithValue(r.Context(), principalKey, principal{UID: sub, DisplayName: name})
		next(w, r.WithContext(ctx))
	}
}

func callerFrom(ctx context.Context) principal {
	p, _ := ctx.Value(principalKey).(principal)
	return p
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

func (s *apiServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	uid, err := s.auth.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		s.logger.With(errKey, err).ErrorContext(r.Context(), "signup failed")
		writeError(w, http.StatusBadGateway, "signup failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"uid": uid})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	IDToken     string `json:"idToken"`
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
}

func (s *apiServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := s.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.logger.With(errKey, err).InfoContext(r.Context(), "login failed")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		UID:         session.UserID,
		DisplayName: session.DisplayName,
		Email:       session.Email,
		IDToken:     session.IDToken,
		AccessToken: session.AccessToken,
		ExpiresAt:   session.Expiry.Unix(),
	})
}

type createMeetingRequest struct {
	Title        string `json:"title"`
	StartingTime string `json:"startingTime"`
	EndingTime   string `json:"endingTime"`
	Duration     int    `json:"duration"`
}

func (s *apiServer) handleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req createMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start, err := timeslot.ParseWallClock(req.StartingTime)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid startingTime: "+err.Error())
		return
	}
	end, err := timeslot.ParseWallClock(req.EndingTime)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid endingTime: "+err.Error())
		return
	}

	m, err := meeting.New(req.Title, start, end, req.Duration, caller.UID, func(meetingID string) (string, error) {
		return s.shortener.Shorten(r.Context(), s.deepLink(meetingID))
	})
	if err != nil {
		switch {
		case errors.Is(err, meeting.ErrEmptyTitle),
			errors.Is(err, meeting.ErrDegenerateRange),
			errors.Is(err, meeting.ErrInvalidDuration):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			// Shortener failures surface as a generic creation failure.
			s.logger.With(errKey, err).ErrorContext(r.Context(), "meeting creation failed")
			writeError(w, http.StatusBadGateway, "meeting creation failed")
		}
		return
	}

	if err := s.store.Create(r.Context(), m); err != nil {
		s.logger.With(errKey, err, "meeting_id", m.MeetingID).ErrorContext(r.Context(), "meeting creation failed")
		writeError(w, http.StatusBadGateway, "meeting creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// deepLink builds the canonical long-form share link for a meeting.
func (s *apiServer) deepLink(meetingID string) string {
	return strings.TrimRight(s.cfg.LinkBaseURL, "/") + "/meeting/" + meetingID
}

func (s *apiServer) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	meetings, err := s.store.ListByOwner(r.Context(), caller.UID)
	if err != nil {
		s.logger.With(errKey, err, "uid", caller.UID).ErrorContext(r.Context(), "listing meetings failed")
		writeError(w, http.StatusBadGateway, "listing meetings failed")
		return
	}
	writeJSON(w, http.StatusOK, meetings)
}

type meetingResponse struct {
	Meeting  meeting.Meeting `json:"meeting"`
	Revision uint64          `json:"revision"`
}

func (s *apiServer) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	meetingID := mux.Vars(r)["meetingId"]
	snap, err := s.store.Get(r.Context(), meetingID)
	if err != nil {
		if errors.Is(err, store.ErrMeetingNotFound) {
			writeError(w, http.StatusNotFound, "meeting not found")
			return
		}
		s.logger.With(errKey, err, "meeting_id", meetingID).ErrorContext(r.Context(), "meeting lookup failed")
		writeError(w, http.StatusBadGateway, "meeting lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, meetingResponse{Meeting: snap.Meeting, Revision: snap.Revision})
}

type reserveRequest struct {
	SlotIndex int `json:"slotIndex"`
}

func (s *apiServer) handleReserveSlot(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	meetingID := mux.Vars(r)["meetingId"]

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := s.reconciler.Reserve(r.Context(), meetingID, req.SlotIndex, meeting.Participant{
		UID:         caller.UID,
		DisplayName: caller.DisplayName,
	})
	if err != nil {
		s.writeReserveError(w, r, meetingID, err)
		return
	}
	writeJSON(w, http.StatusOK, meetingResponse{Meeting: snap.Meeting, Revision: snap.Revision})
}

// writeReserveError maps reconciler failures onto HTTP statuses.
func (s *apiServer) writeReserveError(w http.ResponseWriter, r *http.Request, meetingID string, err error) {
	switch {
	case errors.Is(err, store.ErrMeetingNotFound):
		writeError(w, http.StatusNotFound, "meeting not found")
	case errors.Is(err, reserve.ErrSlotIndex):
		writeError(w, http.StatusUnprocessableEntity, "slot index out of range")
	case errors.Is(err, reserve.ErrOwnReservation):
		writeError(w, http.StatusForbidden, "meeting owner cannot reserve a slot")
	case errors.Is(err, reserve.ErrSlotUnavailableLocally), errors.Is(err, reserve.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot already reserved")
	case errors.Is(err, reserve.ErrReservationConflict):
		writeError(w, http.StatusConflict, "reservation conflict, try again")
	default:
		s.logger.With(errKey, err, "meeting_id", meetingID).ErrorContext(r.Context(), "reservation failed")
		writeError(w, http.StatusBadGateway, "reservation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().With(errKey, err).Error("error encoding response body")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
