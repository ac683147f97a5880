// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The access-sync service.
package main

import (
	"errors"

	"github.com/kelseyhightower/envconfig"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/constants"
)

// Config holds the environment configuration of the service.
type Config struct {
	NatsURL        string                   `envconfig:"NATS_URL" default:"nats://nats:4222"`
	CatalogBucket  string                   `envconfig:"CATALOG_BUCKET" default:"access-sync-catalog"`
	LFXEnvironment constants.LFXEnvironment `envconfig:"LFX_ENVIRONMENT" default:"dev"`

	// OpenFGA mirroring is disabled when FgaAPIURL is empty.
	FgaAPIURL  string `envconfig:"FGA_API_URL"`
	FgaStoreID string `envconfig:"FGA_STORE_ID"`
	FgaModelID string `envconfig:"FGA_MODEL_ID"`

	Port              string `envconfig:"PORT" default:"8080"`
	SnapshotCacheSize int    `envconfig:"SNAPSHOT_CACHE_SIZE" default:"64"`
	Debug             bool   `envconfig:"DEBUG"`
}

// loadConfig reads the configuration from environment variables.
func loadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.SnapshotCacheSize < 1 {
		return nil, errors.New("snapshot cache size must be positive")
	}
	if cfg.FgaAPIURL != "" && cfg.FgaStoreID == "" {
		return nil, errors.New("FGA_STORE_ID is required when FGA_API_URL is set")
	}
	return &cfg, nil
}

// Environment returns the LFX environment prefixing every subject.
func (c *Config) Environment() constants.LFXEnvironment {
	return c.LFXEnvironment
}

// FgaEnabled reports whether permissions are mirrored to OpenFGA.
func (c *Config) FgaEnabled() bool {
	return c.FgaAPIURL != ""
}
