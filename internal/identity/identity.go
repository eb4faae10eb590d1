// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package identity is the Auth0-backed identity collaborator. It owns the
// explicit session lifecycle: a session is established at sign-in, handed to
// components as a value, and torn down at sign-out. Nothing reads auth state
// from a process-wide global; consumers either hold a *Session or subscribe
// to state changes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/auth0/go-auth0/authentication"
	"github.com/auth0/go-auth0/authentication/database"
	"github.com/auth0/go-auth0/authentication/oauth"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// ErrSignedOut is returned by token sources when no session is active.
var ErrSignedOut = errors.New("no active session")

// Session is one signed-in user. The core treats UserID as an opaque string.
type Session struct {
	UserID      string
	DisplayName string
	Email       string
	AccessToken string
	IDToken     string
	Expiry      time.Time
}

// Config locates the Auth0 tenant and database connection.
type Config struct {
	Domain       string // full Auth0 domain, e.g. "slotmeet.us.auth0.com"
	ClientID     string
	ClientSecret string
	Connection   string // Auth0 database connection for email/password users
}

// Authenticator implements sign-up, sign-in, sign-out, and the
// subscribe-to-auth-state primitive over the Auth0 authentication API.
type Authenticator struct {
	client     *authentication.Authentication
	connection string
	logger     *slog.Logger

	mu      sync.Mutex
	session *Session
	subs    map[int]chan *Session
	nextSub int
}

// New builds an Authenticator against the configured Auth0 tenant.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := authentication.New(
		ctx,
		cfg.Domain,
		authentication.WithClientID(cfg.ClientID),
		authentication.WithClientSecret(cfg.ClientSecret),
	)
	if err != nil {
		return nil, fmt.Errorf("create Auth0 client: %w", err)
	}
	return &Authenticator{
		client:     client,
		connection: cfg.Connection,
		logger:     logger,
		subs:       make(map[int]chan *Session),
	}, nil
}

// SignUp registers a new email/password user and returns the opaque user id.
func (a *Authenticator) SignUp(ctx context.Context, email, password, displayName string) (string, error) {
	resp, err := a.client.Database.Signup(ctx, database.SignupRequest{
		Connection: a.connection,
		Email:      email,
		Password:   password,
		Name:       displayName,
	})
	if err != nil {
		return "", fmt.Errorf("auth0 signup: %w", err)
	}
	uid := "auth0|" + resp.ID
	a.logger.With("uid", uid).InfoContext(ctx, "signed up user")
	return uid, nil
}

// SignIn authenticates an email/password user, establishes the session, and
// notifies auth-state subscribers.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (*Session, error) {
	tokens, err := a.client.OAuth.LoginWithPassword(ctx, oauth.LoginWithPasswordRequest{
		Username: email,
		Password: password,
		Realm:    a.connection,
		Scope:    "openid profile email",
	}, oauth.IDTokenValidationOptions{})
	if err != nil {
		return nil, fmt.Errorf("auth0 login: %w", err)
	}

	session, err := sessionFromTokens(tokens.IDToken, tokens.AccessToken, tokens.ExpiresIn)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.session = session
	a.notifyLocked()
	a.mu.Unlock()

	a.logger.With("uid", session.UserID).InfoContext(ctx, "signed in user")
	return session, nil
}

// SignOut tears the session down and notifies subscribers with nil.
func (a *Authenticator) SignOut() {
	a.mu.Lock()
	a.session = nil
	a.notifyLocked()
	a.mu.Unlock()
	a.logger.Info("signed out user")
}

// Current returns the active session, or nil when signed out.
func (a *Authenticator) Current() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Subscribe yields the current auth state immediately and every change after
// that (nil means signed out). Each subscriber channel holds only the latest
// state; slow consumers observe the freshest value, not the full history.
// The returned cancel func must be called when the consumer goes away.
func (a *Authenticator) Subscribe() (<-chan *Session, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSub
	a.nextSub++
	ch := make(chan *Session, 1)
	ch <- a.session
	a.subs[id] = ch

	cancel := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if sub, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// notifyLocked replaces any undelivered state on each subscriber channel
// with the current one. Callers hold a.mu.
func (a *Authenticator) notifyLocked() {
	for _, ch := range a.subs {
		select {
		case <-ch:
		default:
		}
		ch <- a.session
	}
}

// TokenSource exposes the session's access token as an oauth2.TokenSource
// for authenticated outbound calls.
func (a *Authenticator) TokenSource() oauth2.TokenSource {
	return &sessionTokenSource{auth: a}
}

// HTTPClient returns an HTTP client that attaches the session token to every
// request.
func (a *Authenticator) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, a.TokenSource())
}

// sessionTokenSource implements oauth2.TokenSource over the live session.
type sessionTokenSource struct {
	auth *Authenticator
}

// Token implements oauth2.TokenSource.
func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	session := s.auth.Current()
	if session == nil {
		return nil, ErrSignedOut
	}
	return &oauth2.Token{
		AccessToken: session.AccessToken,
		TokenType:   "Bearer",
		Expiry:      session.Expiry,
	}, nil
}

// sessionFromTokens builds a Session from an Auth0 token set. The ID token's
// signature was already validated by the authentication client, so the claims
// are only extracted here, not re-verified.
func sessionFromTokens(idToken, accessToken string, expiresIn int64) (*Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("parse ID token: %w", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.New("ID token has no sub claim")
	}
	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)

	const leeway = 60 * time.Second
	return &Session{
		UserID:      sub,
		DisplayName: name,
		Email:       email,
		AccessToken: accessToken,
		IDToken:     idToken,
		Expiry:      time.Now().Add(time.Duration(expiresIn)*time.Second - leeway),
	}, nil
}
