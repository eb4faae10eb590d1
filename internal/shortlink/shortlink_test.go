// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package shortlink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestShorten(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.URL.Query().Get("url"); got != "https://app.slotmeet.dev/meeting/abc123" {
			t.Errorf("url param = %q", got)
		}
		w.Write([]byte("https://tinyurl.com/xyz\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	short, err := c.Shorten(context.Background(), "https://app.slotmeet.dev/meeting/abc123")
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if short != "https://tinyurl.com/xyz" {
		t.Errorf("short = %q, want %q", short, "https://tinyurl.com/xyz")
	}
}

func TestShortenServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "over quota", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	if _, err := c.Shorten(context.Background(), "https://example.com"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestShortenEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	if _, err := c.Shorten(context.Background(), "https://example.com"); err == nil {
		t.Fatal("expected error for empty short URL")
	}
}
