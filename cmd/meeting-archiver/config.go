// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Configuration management for the meeting-archiver service
package main

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Config holds all configuration values for the meeting-archiver service.
type Config struct {
	// NATS configuration
	NATSURL        string
	MeetingsBucket string

	// Document encoding used by the writers of the meetings bucket
	UseMsgpack bool

	// DynamoDB table receiving archived meeting documents
	ArchiveTable string

	// AWS configuration
	AWSRegion     string
	AssumeRoleARN string // Optional: IAM role ARN to assume via STS for cross-account access

	// Consumer tuning
	MaxAckPending int

	// Server configuration
	Port string
	Bind string

	// Logging
	Debug bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		NATSURL:        os.Getenv("NATS_URL"),
		MeetingsBucket: os.Getenv("MEETINGS_BUCKET"),
		UseMsgpack:     parseBooleanEnv("USE_MSGPACK"),
		ArchiveTable:   os.Getenv("ARCHIVE_TABLE"),
		AWSRegion:      os.Getenv("AWS_REGION"),
		AssumeRoleARN:  os.Getenv("AWS_ASSUME_ROLE_ARN"),
		MaxAckPending:  parseIntEnv("MAX_ACK_PENDING", 1000),
		Port:           os.Getenv("PORT"),
		Bind:           os.Getenv("BIND"),
		Debug:          parseBooleanEnv("DEBUG"),
	}

	if cfg.ArchiveTable == "" {
		return nil, fmt.Errorf("ARCHIVE_TABLE environment variable is required")
	}

	if cfg.NATSURL == "" {
		cfg.NATSURL = "nats://nats:4222"
	}
	if cfg.MeetingsBucket == "" {
		cfg.MeetingsBucket = "meetings"
	}
	if cfg.AWSRegion == "" {
		cfg.AWSRegion = "us-west-2"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Bind == "" {
		cfg.Bind = "*"
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
