// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package config loads and validates application configuration from
// defaults, an optional YAML file, and environment variables, in that
// order of precedence (env wins).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration.
type Config struct {
	Admin   AdminStoreConfig `koanf:"admin" validate:"required"`
	Tenancy TenancyConfig    `koanf:"tenancy"`
	Billing BillingConfig    `koanf:"billing"`
	Server  ServerConfig     `koanf:"server"`
	Auth    AuthConfig       `koanf:"auth"`
	Logging LoggingConfig    `koanf:"logging"`
}

// AdminStoreConfig points at the control-plane datastore.
type AdminStoreConfig struct {
	// URL is the admin datastore connection string. Required.
	URL string `koanf:"url" validate:"required"`

	// CallTimeout bounds every admin-store round trip. Tenant-store calls
	// inherit it through the request context.
	CallTimeout time.Duration `koanf:"call_timeout" validate:"gt=0"`
}

// TenancyConfig configures the router and connection pool.
type TenancyConfig struct {
	// DefaultURL is the datastore used when a claim set carries no tenant
	// slug (legacy compatibility). Required.
	DefaultURL string `koanf:"default_url" validate:"required"`

	// PoolCapacity bounds the LRU of datastore clients.
	PoolCapacity int `koanf:"pool_capacity" validate:"gt=0"`
}

// BillingConfig configures the subscription lifecycle.
type BillingConfig struct {
	// ReaperInterval is the sweep cadence.
	ReaperInterval time.Duration `koanf:"reaper_interval" validate:"gt=0"`

	// ReaperEnabled allows disabling the background sweep, e.g. when a
	// separate instance owns it.
	ReaperEnabled bool `koanf:"reaper_enabled"`

	// GracePeriodDays is the default grace window for new subscriptions.
	GracePeriodDays int `koanf:"grace_period_days" validate:"gt=0"`

	// WarrantySecret signs warranty tokens. Minimum 32 bytes.
	WarrantySecret string `koanf:"warranty_secret" validate:"required,min=32"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// AuthConfig configures bearer-token verification at the HTTP boundary.
// Token minting belongs to the external identity service; the core only
// verifies and extracts claims.
type AuthConfig struct {
	// JWTSecret verifies HS256 bearer tokens. Required.
	JWTSecret string `koanf:"jwt_secret" validate:"required,min=32"`
}

// LoggingConfig configures the zerolog global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration. A failure here is a CONFIG_ERROR:
// fatal at boot, the process refuses to start.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	return nil
}
