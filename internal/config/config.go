// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config reads the settings of the shopstream commands from the
// environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
)

const (
	Database          = "SHOPSTREAM_DATABASE"
	HeartbeatInterval = "SHOPSTREAM_HEARTBEAT_INTERVAL"
	CommitTimeout     = "SHOPSTREAM_COMMIT_TIMEOUT"
	CommitAttempts    = "SHOPSTREAM_COMMIT_ATTEMPTS"
	DemoPause         = "SHOPSTREAM_DEMO_PAUSE"
	MetricsAddress    = "SHOPSTREAM_METRICS_ADDRESS"
	LoggingConfig     = "SHOPSTREAM_LOGGING_CONFIG"
)

const (
	DefaultDatabase          = "test"
	DefaultHeartbeatInterval = time.Second
	DefaultCommitTimeout     = 10 * time.Second
	DefaultCommitAttempts    = 3
	DefaultDemoPause         = time.Second
	DefaultLoggingConfig     = "<root>=WARNING"
)

var fields = schema.Fields{
	Database:          schema.NonEmptyString(Database),
	HeartbeatInterval: schema.TimeDurationString(),
	CommitTimeout:     schema.TimeDurationString(),
	CommitAttempts:    schema.ForceInt(),
	DemoPause:         schema.TimeDurationString(),
	MetricsAddress:    schema.String(),
	LoggingConfig:     schema.String(),
}

var configChecker = schema.FieldMap(fields, schema.Defaults{
	Database:          DefaultDatabase,
	HeartbeatInterval: DefaultHeartbeatInterval.String(),
	CommitTimeout:     DefaultCommitTimeout.String(),
	CommitAttempts:    DefaultCommitAttempts,
	DemoPause:         DefaultDemoPause.String(),
	MetricsAddress:    "",
	LoggingConfig:     DefaultLoggingConfig,
})

// Config holds the settings shared by the commands.
type Config struct {
	// Database is the name of the database holding the collections.
	Database string

	// HeartbeatInterval is the period of the liveness signal printed
	// while change streams are watched.
	HeartbeatInterval time.Duration

	CommitTimeout  time.Duration
	CommitAttempts int

	// DemoPause is the unit of the pauses between the steps of the
	// transactions walkthrough. Zero disables them.
	DemoPause time.Duration

	// MetricsAddress, if set, is the address Prometheus metrics are
	// served on.
	MetricsAddress string

	// LoggingConfig is a loggo specification.
	LoggingConfig string
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Database == "" {
		return errors.NotValidf("empty %s", Database)
	}
	if c.HeartbeatInterval <= 0 {
		return errors.NotValidf("%s %v", HeartbeatInterval, c.HeartbeatInterval)
	}
	if c.CommitTimeout <= 0 {
		return errors.NotValidf("%s %v", CommitTimeout, c.CommitTimeout)
	}
	if c.CommitAttempts <= 0 {
		return errors.NotValidf("%s %d", CommitAttempts, c.CommitAttempts)
	}
	if c.DemoPause < 0 {
		return errors.NotValidf("%s %v", DemoPause, c.DemoPause)
	}
	return nil
}

// FromEnv reads the config from the process environment.
func FromEnv() (Config, error) {
	return Read(os.LookupEnv)
}

// Read reads the config through lookup. Unset variables take their
// default value.
func Read(lookup func(string) (string, bool)) (Config, error) {
	attrs := make(map[string]any)
	for name := range fields {
		if value, ok := lookup(name); ok {
			attrs[name] = strings.TrimSpace(value)
		}
	}
	return New(attrs)
}

// New returns the config described by attrs, with defaults for the
// attributes missing from it.
func New(attrs map[string]any) (Config, error) {
	coerced, err := configChecker.Coerce(attrs, nil)
	if err != nil {
		return Config{}, errors.NewNotValid(err, "reading config")
	}
	m := coerced.(map[string]any)

	var cfg Config
	cfg.Database = m[Database].(string)
	cfg.MetricsAddress = m[MetricsAddress].(string)
	cfg.LoggingConfig = m[LoggingConfig].(string)
	switch n := m[CommitAttempts].(type) {
	case int:
		cfg.CommitAttempts = n
	case int64:
		cfg.CommitAttempts = int(n)
	}
	for name, dst := range map[string]*time.Duration{
		HeartbeatInterval: &cfg.HeartbeatInterval,
		CommitTimeout:     &cfg.CommitTimeout,
		DemoPause:         &cfg.DemoPause,
	} {
		if *dst, err = duration(m[name]); err != nil {
			return Config{}, errors.Annotatef(err, "reading %s", name)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

func duration(v any) (time.Duration, error) {
	switch v := v.(type) {
	case time.Duration:
		return v, nil
	case int64:
		return time.Duration(v), nil
	case string:
		d, err := time.ParseDuration(v)
		return d, errors.Trace(err)
	}
	return 0, errors.NotValidf("duration of type %T", v)
}
