// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package channel implements the public façade producers call:
// Send, Flush, FlushAsync, Dispose (spec.md §4.4). It merges each
// item with the channel's common context, serializes and optionally
// compresses the payload, and hands it to the spool — or, when the
// surrounding process has opted out or requested the debug file sink,
// short-circuits the whole durable-delivery pipeline.
package channel

import (
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/telepulse/internal/clock"
	"github.com/nishisan-dev/telepulse/internal/envinfo"
	"github.com/nishisan-dev/telepulse/internal/frame"
	"github.com/nishisan-dev/telepulse/internal/fs"
	"github.com/nishisan-dev/telepulse/internal/httpsender"
	"github.com/nishisan-dev/telepulse/internal/logging"
	"github.com/nishisan-dev/telepulse/internal/spool"
	"github.com/nishisan-dev/telepulse/internal/telemetry"
	"github.com/nishisan-dev/telepulse/internal/transmitter"
)

// Logger is the minimal structured-logging surface Channel and its
// collaborators need; *slog.Logger satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Channel is the producer-facing façade over the spool/transmitter
// pair (or a debug sink, or nothing at all when opted out).
type Channel struct {
	cfg    Config
	ctx    telemetry.Context
	clk    clock.Clock
	logger Logger

	sp   *spool.Spool
	tx   *transmitter.Transmitter
	sink *debugSink
	noop bool

	stopped atomic.Bool

	// tail is the CAS chain preserving per-façade FIFO ordering
	// (spec.md §4.4/§5): each Send links its own completion behind
	// whatever the previous Send last installed, without ever
	// blocking the calling producer thread.
	tail atomic.Pointer[chan struct{}]

	serializeFailures atomic.Uint64

	sessionLogCloser io.Closer
}

// New constructs a Channel. Depending on the environment, it may
// start a real spool+transmitter pair, open a debug file sink, or
// become a permanent no-op (spec.md §6).
func New(cfg Config, sender httpsender.Sender, fsys fs.FileSystem, clk clock.Clock, logger Logger) (*Channel, error) {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = noopLogger{}
	}

	var sessionLogCloser io.Closer
	if cfg.SessionLogDir != "" && cfg.SessionID != "" {
		if base, ok := logger.(*slog.Logger); ok {
			sessionLogger, closer, _, err := logging.NewSessionLogger(base, cfg.SessionLogDir, cfg.RoleName, cfg.SessionID)
			if err != nil {
				return nil, err
			}
			logger = sessionLogger
			sessionLogCloser = closer
		}
	}

	c := &Channel{
		cfg:              cfg,
		clk:              clk,
		logger:           logger,
		ctx:              envinfo.ToContext(envinfo.Collect(), cfg.RoleName, cfg.SDKVersion, cfg.SessionID),
		sessionLogCloser: sessionLogCloser,
	}

	if optedOut() {
		c.noop = true
		logger.Info("channel disabled by " + optOutEnvVar)
		return c, nil
	}

	if path, ok := debugFilePath(); ok {
		sink, err := newDebugSink(path)
		if err != nil {
			return nil, err
		}
		c.sink = sink
		logger.Info("channel using debug file sink", "path", path)
		return c, nil
	}

	sp, err := spool.New(cfg.SpoolDir, cfg.SpoolConfig, fsys, clk, logger)
	if err != nil {
		return nil, err
	}
	c.sp = sp
	c.tx = transmitter.New(sp, sender, clk, cfg.TransmitterConfig, logger)
	c.tx.Start()

	return c, nil
}

// Send merges item with the channel's common context and enqueues it.
// It never blocks longer than the enqueue itself and never raises to
// the caller; serialization failures are caught and counted (spec.md
// §4.4).
func (c *Channel) Send(item telemetry.Item) {
	if c.noop || c.stopped.Load() {
		return
	}

	merged := telemetry.Merge(item, c.cfg.CommonProperties, c.cfg.CommonMeasurements)

	if c.sink != nil {
		if err := c.sink.write(merged, c.ctx); err != nil {
			c.logger.Warn("channel.send.debug_sink_failed", "error", err)
		}
		return
	}

	payload, err := telemetry.Serialize(merged, c.ctx)
	if err != nil {
		c.serializeFailures.Add(1)
		c.logger.Warn("channel.send.serialize_failed", "error", err)
		return
	}

	compressed, encoding := compressPayload(payload)
	t := frame.NewTransmission(c.cfg.EndpointURL, compressed, telemetry.ContentType, encoding, c.clk.Now())
	c.chainEnqueue(t)
}

// chainEnqueue links this enqueue behind whatever the previous Send
// installed, using a lock-free compare-and-swap chain so concurrent
// producers never block each other while per-façade ordering is
// preserved (spec.md §5).
func (c *Channel) chainEnqueue(t frame.Transmission) {
	myDone := make(chan struct{})
	for {
		prev := c.tail.Load()
		if c.tail.CompareAndSwap(prev, &myDone) {
			go func() {
				if prev != nil {
					<-*prev
				}
				c.sp.Enqueue(t)
				close(myDone)
			}()
			return
		}
	}
}

// Flush waits until the pending send-chain becomes idle or timeout
// fires, whichever is first.
func (c *Channel) Flush(timeout time.Duration) bool {
	return c.FlushAsync(timeout, nil)
}

// FlushAsync waits until the pending send-chain becomes idle, timeout
// fires, or cancel is closed — whichever is first. It never signals
// failure; a false return just means the timeout or cancel fired
// before the chain went idle (spec.md §5).
func (c *Channel) FlushAsync(timeout time.Duration, cancel <-chan struct{}) bool {
	if c.noop || c.sink != nil {
		return true
	}

	prev := c.tail.Load()
	if prev == nil {
		return true
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-*prev:
		return true
	case <-timeoutCh:
		return false
	case <-cancel:
		return false
	}
}

// Dispose quiesces the façade, disposes the transmitter, then closes
// the spool (spec.md §4.4).
func (c *Channel) Dispose() {
	if c.noop {
		return
	}
	c.stopped.Store(true)

	if c.sink != nil {
		_ = c.sink.close()
		c.closeSessionLog(true)
		return
	}

	drained := c.FlushAsync(c.cfg.DisposeFlushTimeout, nil)
	if c.tx != nil {
		c.tx.Dispose()
	}
	if c.sp != nil {
		_ = c.sp.Close()
	}
	c.closeSessionLog(drained)
}

// closeSessionLog closes the per-session log file opened by New, and
// removes it when clean is true — mirroring the teacher's
// remove-the-session-log-after-a-successful-run behavior.
func (c *Channel) closeSessionLog(clean bool) {
	if c.sessionLogCloser == nil {
		return
	}
	_ = c.sessionLogCloser.Close()
	if clean && c.cfg.SessionLogDir != "" {
		logging.RemoveSessionLog(c.cfg.SessionLogDir, c.cfg.RoleName, c.cfg.SessionID)
	}
}

// SerializeFailures reports how many Send calls failed to serialize,
// for operator tooling.
func (c *Channel) SerializeFailures() uint64 {
	return c.serializeFailures.Load()
}

// RunGC forces an out-of-band spool GC pass, for a cron-driven
// scheduler running alongside the Channel. It's a no-op when the
// Channel has no spool (opted out or using the debug file sink).
func (c *Channel) RunGC() spool.GCStats {
	if c.sp == nil {
		return spool.GCStats{}
	}
	return c.sp.RunGC()
}
