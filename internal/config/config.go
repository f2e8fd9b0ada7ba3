// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads the YAML configuration for a telepulse-agent
// process: where telemetry is spooled, how it's drained and shipped,
// and how the process logs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nishisan-dev/telepulse/internal/channel"
	"github.com/nishisan-dev/telepulse/internal/spool"
	"github.com/nishisan-dev/telepulse/internal/transmitter"
)

// Config is the full on-disk configuration for telepulse-agent.
type Config struct {
	Channel     ChannelInfo     `yaml:"channel"`
	Spool       SpoolInfo       `yaml:"spool"`
	Transmitter TransmitterInfo `yaml:"transmitter"`
	GC          GCInfo          `yaml:"gc"`
	Logging     LoggingInfo     `yaml:"logging"`
	Ingest      IngestInfo      `yaml:"ingest"`
}

// ChannelInfo identifies this channel instance and where it ships to.
type ChannelInfo struct {
	EndpointURL string            `yaml:"endpoint_url"`
	RoleName    string            `yaml:"role_name"`
	SDKVersion  string            `yaml:"sdk_version"`
	Properties  map[string]string `yaml:"common_properties"`
}

// SpoolInfo holds the on-disk FIFO's directory and tunables.
type SpoolInfo struct {
	Dir           string        `yaml:"dir"`
	CapacityBytes int64         `yaml:"capacity_bytes"`
	MaxFiles      int           `yaml:"max_files"`
	TrnTTL        time.Duration `yaml:"trn_ttl"`
	CorruptTTL    time.Duration `yaml:"corrupt_ttl"`
	TmpTTL        time.Duration `yaml:"tmp_ttl"`
	RetryDeadline time.Duration `yaml:"retry_deadline"`
	PeekScanLimit int           `yaml:"peek_scan_limit"`
}

// TransmitterInfo holds the drain-loop's concurrency/backoff tunables.
type TransmitterInfo struct {
	Workers              int           `yaml:"workers"`
	SendingInterval      time.Duration `yaml:"sending_interval"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	MaxRequestsPerSecond float64       `yaml:"max_requests_per_second"`
	BaseBackoff          time.Duration `yaml:"base_backoff"`
	MaxBackoff           time.Duration `yaml:"max_backoff"`
	DisposeGrace         time.Duration `yaml:"dispose_grace"`
}

// GCInfo holds the cron expression the background GC scheduler runs
// on.
type GCInfo struct {
	Schedule string `yaml:"schedule"`
}

// LoggingInfo controls the process-wide slog setup.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`

	// SessionLogDir, when set and the agent runs with a non-empty
	// -session-id, makes the agent's Channel fan its own
	// operational log lines out to a dedicated
	// {SessionLogDir}/{role_name}/{session_id}.log file in addition to
	// the process-wide logger, removed again on a clean shutdown.
	SessionLogDir string `yaml:"session_log_dir"`
}

// IngestInfo controls how telepulse-agent receives telemetry items
// from the processes it serves. When SocketPath is empty the agent
// reads JSON-lines records from stdin only.
type IngestInfo struct {
	SocketPath string `yaml:"socket_path"`
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Channel.EndpointURL == "" {
		return fmt.Errorf("channel.endpoint_url is required")
	}
	if c.Channel.RoleName == "" {
		return fmt.Errorf("channel.role_name is required")
	}
	if c.Spool.Dir == "" {
		return fmt.Errorf("spool.dir is required")
	}
	if c.GC.Schedule == "" {
		return fmt.Errorf("gc.schedule is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	spoolDefaults := spool.DefaultConfig()
	if c.Spool.CapacityBytes <= 0 {
		c.Spool.CapacityBytes = spoolDefaults.CapacityBytes
	}
	if c.Spool.MaxFiles <= 0 {
		c.Spool.MaxFiles = spoolDefaults.MaxFiles
	}
	if c.Spool.TrnTTL <= 0 {
		c.Spool.TrnTTL = spoolDefaults.TrnTTL
	}
	if c.Spool.CorruptTTL <= 0 {
		c.Spool.CorruptTTL = spoolDefaults.CorruptTTL
	}
	if c.Spool.TmpTTL <= 0 {
		c.Spool.TmpTTL = spoolDefaults.TmpTTL
	}
	if c.Spool.RetryDeadline <= 0 {
		c.Spool.RetryDeadline = spoolDefaults.RetryDeadline
	}
	if c.Spool.PeekScanLimit <= 0 {
		c.Spool.PeekScanLimit = spoolDefaults.PeekScanLimit
	}

	txDefaults := transmitter.DefaultConfig()
	if c.Transmitter.Workers <= 0 {
		c.Transmitter.Workers = txDefaults.Workers
	}
	if c.Transmitter.SendingInterval <= 0 {
		c.Transmitter.SendingInterval = txDefaults.SendingInterval
	}
	if c.Transmitter.RequestTimeout <= 0 {
		c.Transmitter.RequestTimeout = txDefaults.RequestTimeout
	}
	if c.Transmitter.BaseBackoff <= 0 {
		c.Transmitter.BaseBackoff = txDefaults.BaseBackoff
	}
	if c.Transmitter.MaxBackoff <= 0 {
		c.Transmitter.MaxBackoff = txDefaults.MaxBackoff
	}
	if c.Transmitter.DisposeGrace <= 0 {
		c.Transmitter.DisposeGrace = txDefaults.DisposeGrace
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.GC.Schedule == "" {
		c.GC.Schedule = "@every 1h"
	}
}

// SpoolConfig converts SpoolInfo to the spool package's Config type.
func (c Config) SpoolConfig() spool.Config {
	return spool.Config{
		CapacityBytes: c.Spool.CapacityBytes,
		MaxFiles:      c.Spool.MaxFiles,
		TrnTTL:        c.Spool.TrnTTL,
		CorruptTTL:    c.Spool.CorruptTTL,
		TmpTTL:        c.Spool.TmpTTL,
		RetryDeadline: c.Spool.RetryDeadline,
		PeekScanLimit: c.Spool.PeekScanLimit,
	}
}

// TransmitterConfig converts TransmitterInfo to the transmitter
// package's Config type.
func (c Config) TransmitterConfig() transmitter.Config {
	return transmitter.Config{
		Workers:              c.Transmitter.Workers,
		RetryDeadline:        c.Spool.RetryDeadline,
		SendingInterval:      c.Transmitter.SendingInterval,
		RequestTimeout:       c.Transmitter.RequestTimeout,
		MaxRequestsPerSecond: c.Transmitter.MaxRequestsPerSecond,
		BaseBackoff:          c.Transmitter.BaseBackoff,
		MaxBackoff:           c.Transmitter.MaxBackoff,
		DisposeGrace:         c.Transmitter.DisposeGrace,
	}
}

// ChannelConfig converts Config to the channel package's Config type.
func (c Config) ChannelConfig(sdkVersion, sessionID string) channel.Config {
	return channel.Config{
		EndpointURL:       c.Channel.EndpointURL,
		SpoolDir:          c.Spool.Dir,
		SpoolConfig:       c.SpoolConfig(),
		TransmitterConfig: c.TransmitterConfig(),
		RoleName:          c.Channel.RoleName,
		SDKVersion:        sdkVersion,
		SessionID:         sessionID,
		CommonProperties:  c.Channel.Properties,
		SessionLogDir:     c.Logging.SessionLogDir,
	}
}
