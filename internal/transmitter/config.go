// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transmitter

import "time"

// Config holds the tunables from spec.md §4.3.
type Config struct {
	// Workers is the size of the bounded worker pool draining the
	// spool concurrently. Default 1.
	Workers int `yaml:"workers"`

	// RetryDeadline bounds a transmission's age, measured from its
	// CreatedAtUTC, after which it is dropped rather than sent again.
	RetryDeadline time.Duration `yaml:"retry_deadline"`

	// SendingInterval is how long an idle worker sleeps after an
	// empty peek before trying again. The source this is modeled on
	// initializes this to 1ms; left unbounded that spins a core doing
	// nothing, so this implementation floors it at idleIntervalFloor
	// regardless of what's configured here.
	SendingInterval time.Duration `yaml:"sending_interval"`

	// RequestTimeout bounds a single HTTP POST attempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRequestsPerSecond rate-limits outbound POSTs across all
	// workers combined. Zero disables limiting.
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second"`

	// BaseBackoff and MaxBackoff bound the exponential backoff applied
	// after a retryable failure, reset to BaseBackoff on any success.
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`

	// DisposeGrace is how long Dispose waits for the loop to observe
	// the stop signal before returning anyway.
	DisposeGrace time.Duration `yaml:"dispose_grace"`
}

// idleIntervalFloor is the lower bound on SendingInterval (spec.md §5
// Open Questions: "bound the interval from below to a value such as
// 50 ms").
const idleIntervalFloor = 50 * time.Millisecond

// DefaultConfig returns the defaults listed in spec.md §4.3.
func DefaultConfig() Config {
	return Config{
		Workers:              1,
		RetryDeadline:        2 * time.Hour,
		SendingInterval:      idleIntervalFloor,
		RequestTimeout:       30 * time.Second,
		MaxRequestsPerSecond: 0,
		BaseBackoff:          1 * time.Second,
		MaxBackoff:           60 * time.Second,
		DisposeGrace:         5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.RetryDeadline <= 0 {
		c.RetryDeadline = d.RetryDeadline
	}
	if c.SendingInterval < idleIntervalFloor {
		c.SendingInterval = idleIntervalFloor
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.DisposeGrace <= 0 {
		c.DisposeGrace = d.DisposeGrace
	}
	return c
}
