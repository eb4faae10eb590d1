// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Configuration management for the slotmeet-api service
package main

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Config holds all configuration values for the slotmeet-api service.
type Config struct {
	// NATS configuration
	NATSURL        string
	MeetingsBucket string

	// Document encoding: msgpack on the wire instead of JSON
	UseMsgpack bool

	// Auth0 configuration for email/password identity
	Auth0Domain       string // full Auth0 domain, e.g. "slotmeet.us.auth0.com"
	Auth0ClientID     string
	Auth0ClientSecret string // also verifies HS256-signed ID tokens
	Auth0Connection   string // database connection name

	// Share link configuration
	LinkBaseURL     string // public base URL embedded in meeting deep links
	ShortenerAPIURL string // TinyURL-style creation endpoint

	// Reservation retry bound for the conditional-write cycle
	ReserveMaxAttempts int

	// Server configuration
	Port    string // health checks port
	APIPort string // HTTP/WebSocket API port
	Bind    string

	// Logging
	Debug bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		NATSURL:            os.Getenv("NATS_URL"),
		MeetingsBucket:     os.Getenv("MEETINGS_BUCKET"),
		UseMsgpack:         parseBooleanEnv("USE_MSGPACK"),
		Auth0Domain:        os.Getenv("AUTH0_DOMAIN"),
		Auth0ClientID:      os.Getenv("AUTH0_CLIENT_ID"),
		Auth0ClientSecret:  os.Getenv("AUTH0_CLIENT_SECRET"),
		Auth0Connection:    os.Getenv("AUTH0_CONNECTION"),
		LinkBaseURL:        os.Getenv("LINK_BASE_URL"),
		ShortenerAPIURL:    os.Getenv("SHORTENER_API_URL"),
		ReserveMaxAttempts: parseIntEnv("RESERVE_MAX_ATTEMPTS", 5),
		Port:               os.Getenv("PORT"),
		APIPort:            os.Getenv("API_PORT"),
		Bind:               os.Getenv("BIND"),
		Debug:              parseBooleanEnv("DEBUG"),
	}

	// Set defaults
	if cfg.NATSURL == "" {
		cfg.NATSURL = "nats://nats:4222"
	}
	if cfg.MeetingsBucket == "" {
		cfg.MeetingsBucket = "meetings"
	}
	if cfg.Auth0Connection == "" {
		cfg.Auth0Connection = "Username-Password-Authentication"
	}
	if cfg.LinkBaseURL == "" {
		cfg.LinkBaseURL = "https://app.slotmeet.dev"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.APIPort == "" {
		cfg.APIPort = "8090"
	}
	if cfg.Bind == "" {
		cfg.Bind = "*"
	}

	// Validate required Auth0 configuration
	if cfg.Auth0Domain == "" {
		return nil, fmt.Errorf("AUTH0_DOMAIN environment variable is required")
	}
	if cfg.Auth0ClientID == "" {
		return nil, fmt.Errorf("AUTH0_CLIENT_ID environment variable is required")
	}
	if cfg.Auth0ClientSecret == "" {
		return nil, fmt.Errorf("AUTH0_CLIENT_SECRET environment variable is required")
	}

	return cfg, nil
}

// parseBooleanEnv parses a boolean environment variable with common truthy values.
func parseBooleanEnv(envVar string) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(envVar)))
	truthyValues := []string{"true", "yes", "t", "y", "1"}
	return slices.Contains(truthyValues, value)
}

// parseIntEnv parses an integer environment variable with a default value.
func parseIntEnv(envVar string, defaultVal int) int {
	s := strings.TrimSpace(os.Getenv(envVar))
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}
