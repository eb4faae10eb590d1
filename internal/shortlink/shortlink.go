// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package shortlink shortens meeting share links through a TinyURL-style
// HTTP API. The collaborator is best-effort: a failure here surfaces to the
// user as a generic meeting-creation failure, and there is no retry.
package shortlink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIURL is the public TinyURL creation endpoint.
const DefaultAPIURL = "https://tinyurl.com/api-create.php"

const requestTimeout = 10 * time.Second

// Client calls the link-shortening API.
type Client struct {
	apiURL     string
	httpClient *http.Client
}

// New builds a shortener client. apiURL falls back to DefaultAPIURL and
// httpClient to a client with a modest timeout.
func New(apiURL string, httpClient *http.Client) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{apiURL: apiURL, httpClient: httpClient}
}

// Shorten returns the short URL for longURL. The API takes the long URL as a
// query parameter on a POST with no body and answers with the short URL as
// plain text.
func (c *Client) Shorten(ctx context.Context, longURL string) (string, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid shortener API URL: %w", err)
	}
	q := u.Query()
	q.Set("url", longURL)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build shorten request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("shorten %s: %w", longURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read shortener response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("shortener returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	short := strings.TrimSpace(string(body))
	if short == "" {
		return "", fmt.Errorf("shortener returned an empty URL for %s", longURL)
	}
	return short, nil
}
