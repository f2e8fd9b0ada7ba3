// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package gcsched schedules periodic spool garbage collection: once
// shortly after startup and then on a fixed cron expression (spec.md
// §4.2: "GC runs once shortly after init and on demand from the
// transmitter").
package gcsched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler drives RunGC once at startup and then on a cron schedule.
// A single mutex-guarded flag prevents overlapping runs the way
// Scheduler.executeJob guards concurrent backups for the same entry.
type Scheduler struct {
	cron     *cron.Cron
	logger   *slog.Logger
	runGC    func()
	mu       sync.Mutex
	running  bool
	lastRun  time.Time
	schedule string
}

// New creates a Scheduler that calls runGC on every cron schedule tick
// (e.g. "@every 10m") once started. Nothing runs until Start, which
// also performs the initial pass.
func New(schedule string, logger *slog.Logger, runGC func()) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		logger:   logger,
		runGC:    runGC,
		schedule: schedule,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, s.execute); err != nil {
		return nil, err
	}
	s.cron = c
	return s, nil
}

// Start runs an initial GC pass synchronously, then starts the cron
// loop for subsequent passes.
func (s *Scheduler) Start() {
	s.logger.Info("gc scheduler starting", "schedule", s.schedule)
	s.execute()
	s.cron.Start()
}

// Stop waits for any in-flight GC pass to finish, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("gc scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("gc scheduler stop timed out")
	}
}

func (s *Scheduler) execute() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("gc already running, skipping scheduled pass")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	s.runGC()
	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()
	s.logger.Debug("gc pass complete", "duration", time.Since(start))
}

// LastRun reports when the most recent GC pass completed.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}
