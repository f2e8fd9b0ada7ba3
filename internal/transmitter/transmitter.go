// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transmitter implements the long-running drain loop that
// picks transmissions off the spool and delivers them over HTTP
// (spec.md §4.3): peek, classify the response, and either delete,
// release for a later retry, or drop once the retry deadline passes.
package transmitter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nishisan-dev/telepulse/internal/clock"
	"github.com/nishisan-dev/telepulse/internal/httpsender"
	"github.com/nishisan-dev/telepulse/internal/spool"
)

// Spool is the subset of *spool.Spool the transmitter drives, kept as
// an interface so tests can substitute a fake drain source.
type Spool interface {
	Peek() (*spool.InFlight, bool)
	Delete(*spool.InFlight)
	Release(*spool.InFlight)
}

// Logger is the minimal structured-logging surface the transmitter
// needs; *slog.Logger satisfies it directly.
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

// Transmitter owns one or more worker goroutines that drain sp,
// delivering each transmission through sender.
type Transmitter struct {
	sp     Spool
	sender httpsender.Sender
	clk    clock.Clock
	cfg    Config
	logger Logger

	limiter *rate.Limiter

	stop chan struct{}
	wg   sync.WaitGroup

	// delivered/retried/dropped are exposed via Stats for operator
	// tooling; spec.md places no durability requirement on them.
	mu        sync.Mutex
	delivered uint64
	retried   uint64
	dropped   uint64
}

// New creates a Transmitter. The worker loops are not started until
// Start is called.
func New(sp Spool, sender httpsender.Sender, clk clock.Clock, cfg Config, logger Logger) *Transmitter {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	cfg = cfg.withDefaults()

	var limiter *rate.Limiter
	if cfg.MaxRequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), int(cfg.MaxRequestsPerSecond)+1)
	}

	return &Transmitter{
		sp:      sp,
		sender:  sender,
		clk:     clk,
		cfg:     cfg,
		logger:  logger,
		limiter: limiter,
		stop:    make(chan struct{}),
	}
}

// Start spawns cfg.Workers drain-loop goroutines.
func (t *Transmitter) Start() {
	for i := 0; i < t.cfg.Workers; i++ {
		t.wg.Add(1)
		go t.runWorker(i)
	}
	t.logger.Info("transmitter started", "workers", t.cfg.Workers)
}

// Dispose signals all workers to stop and waits up to cfg.DisposeGrace
// for them to exit. In-flight POSTs are abandoned; their files remain
// on disk for the next process (spec.md §4.3).
func (t *Transmitter) Dispose() {
	close(t.stop)

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("transmitter disposed")
	case <-time.After(t.cfg.DisposeGrace):
		t.logger.Warn("transmitter dispose grace period exceeded, returning anyway")
	}
}

// Stats is a snapshot of delivery counters, for operator tooling.
type Stats struct {
	Delivered uint64
	Retried   uint64
	Dropped   uint64
}

func (t *Transmitter) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{Delivered: t.delivered, Retried: t.retried, Dropped: t.dropped}
}

func (t *Transmitter) runWorker(id int) {
	defer t.wg.Done()
	t.logger.Debug("transmitter worker started", "worker", id)

	backoff := t.cfg.BaseBackoff

	for {
		select {
		case <-t.stop:
			return
		default:
		}

		if advanced := t.iterate(&backoff); !advanced {
			t.sleepOrStop(t.cfg.SendingInterval)
		}
	}
}

// iterate runs one loop body. It returns false when the peek found
// nothing (the caller should idle-sleep), true otherwise. Panics from
// any collaborator are recovered and logged so the loop never dies —
// matching the teacher's "recover, log, keep going" idiom for
// unsupervised background work.
func (t *Transmitter) iterate(backoff *time.Duration) (advanced bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("transmitter loop panic recovered", "panic", r)
			advanced = true // avoid idle-sleeping right after a crash loop
		}
	}()

	h, ok := t.sp.Peek()
	if !ok {
		return false
	}

	if t.clk.Now().Sub(h.Transmission.CreatedAtUTC) >= t.cfg.RetryDeadline {
		t.logger.Warn("send.drop.deadline", "file", h.Filename)
		t.sp.Delete(h)
		t.recordDropped()
		return true
	}

	if t.limiter != nil {
		_ = t.limiter.Wait(context.Background())
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.RequestTimeout)
	res := t.sender.Send(ctx, httpsender.Request{
		EndpointURL:     h.Transmission.EndpointURL,
		Payload:         h.Transmission.Payload,
		ContentType:     h.Transmission.ContentType,
		ContentEncoding: h.Transmission.ContentEncoding,
	})
	cancel()

	switch res.Disposition {
	case httpsender.Delivered:
		t.sp.Delete(h)
		t.recordDelivered()
		*backoff = t.cfg.BaseBackoff

	case httpsender.Permanent:
		t.logger.Warn("send.drop.permanent",
			"file", h.Filename, "status", res.StatusCode, "error", res.Err)
		t.sp.Delete(h)
		t.recordDropped()
		*backoff = t.cfg.BaseBackoff

	default: // Retryable
		t.logger.Debug("send.retry",
			"file", h.Filename, "status", res.StatusCode, "error", res.Err)
		t.sp.Release(h)
		t.recordRetried()
		t.sleepOrStop(*backoff)
		*backoff *= 2
		if *backoff > t.cfg.MaxBackoff {
			*backoff = t.cfg.MaxBackoff
		}
	}

	return true
}

// sleepOrStop sleeps for d, returning early if Dispose is called
// meanwhile.
func (t *Transmitter) sleepOrStop(d time.Duration) {
	select {
	case <-time.After(d):
	case <-t.stop:
	}
}

func (t *Transmitter) recordDelivered() {
	t.mu.Lock()
	t.delivered++
	t.mu.Unlock()
}

func (t *Transmitter) recordRetried() {
	t.mu.Lock()
	t.retried++
	t.mu.Unlock()
}

func (t *Transmitter) recordDropped() {
	t.mu.Lock()
	t.dropped++
	t.mu.Unlock()
}
