// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package channel

import (
	"os"
	"strconv"
	"time"

	"github.com/nishisan-dev/telepulse/internal/spool"
	"github.com/nishisan-dev/telepulse/internal/transmitter"
)

// optOutEnvVar and fileEnvVar are the environment variables the
// surrounding collaborator reads before constructing a Channel
// (spec.md §6).
const (
	optOutEnvVar = "TELEPULSE_TELEMETRY_OPTOUT"
	fileEnvVar   = "TELEPULSE_TELEMETRY_FILE"
)

// Config holds everything needed to construct a Channel.
type Config struct {
	// EndpointURL is where transmissions are POSTed.
	EndpointURL string

	// SpoolDir is the directory the durable FIFO lives in.
	SpoolDir string

	SpoolConfig       spool.Config
	TransmitterConfig transmitter.Config

	// RoleName/SDKVersion/SessionID identify this channel instance in
	// every item's attached Context (spec.md §4.4).
	RoleName   string
	SDKVersion string
	SessionID  string

	// CommonProperties/CommonMeasurements are merged under every
	// item's own values on every Send (spec.md §4.4).
	CommonProperties   map[string]string
	CommonMeasurements map[string]float64

	// DisposeFlushTimeout bounds how long Dispose waits for the
	// pending send-chain to drain before moving on regardless.
	DisposeFlushTimeout time.Duration

	// SessionLogDir, when set together with a non-empty SessionID and
	// the caller passed a *slog.Logger to New, fans this channel's own operational log lines out to a
	// dedicated {SessionLogDir}/{RoleName}/{SessionID}.log file in
	// addition to the base logger, and removes that file on a clean
	// Dispose. Empty disables the feature.
	SessionLogDir string
}

func (c Config) withDefaults() Config {
	if c.DisposeFlushTimeout <= 0 {
		c.DisposeFlushTimeout = 5 * time.Second
	}
	return c
}

// optedOut reports whether the opt-out environment variable is set to
// a truthy value.
func optedOut() bool {
	v, ok := os.LookupEnv(optOutEnvVar)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// debugFilePath returns the debug-sink path from the environment, if
// any.
func debugFilePath() (string, bool) {
	v, ok := os.LookupEnv(fileEnvVar)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
