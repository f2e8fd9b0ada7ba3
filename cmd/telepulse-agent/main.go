// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command telepulse-agent is a long-running daemon that hosts a
// Channel and gives the otherwise-library-shaped Spool/Transmitter
// core a runnable surface: it accepts telemetry items as JSON lines
// over a Unix domain socket (for shared use by several local
// processes) and over stdin (for piping from a single supervised
// process), forwarding everything it parses through the Channel to
// the configured ingest endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nishisan-dev/telepulse/internal/channel"
	"github.com/nishisan-dev/telepulse/internal/clock"
	"github.com/nishisan-dev/telepulse/internal/config"
	"github.com/nishisan-dev/telepulse/internal/fs"
	"github.com/nishisan-dev/telepulse/internal/gcsched"
	"github.com/nishisan-dev/telepulse/internal/httpsender"
	"github.com/nishisan-dev/telepulse/internal/ingest"
	"github.com/nishisan-dev/telepulse/internal/logging"
)

func main() {
	configPath := flag.String("config", "/etc/telepulse/agent.yaml", "path to agent config file")
	sessionID := flag.String("session-id", "", "session identifier attached to every item's context")
	sdkVersion := flag.String("sdk-version", "dev", "SDK version attached to every item's context")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)

	if err := run(*cfg, *sessionID, *sdkVersion, logger, logCloser); err != nil {
		logger.Error("agent error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, sessionID, sdkVersion string, logger *slog.Logger, logCloser io.Closer) error {
	defer func() { logCloser.Close() }()
	logger.Info("starting telepulse-agent", "endpoint", cfg.Channel.EndpointURL, "spool_dir", cfg.Spool.Dir)

	clk := clock.System{}
	fsys := fs.System{}
	sender := httpsender.NewClient(cfg.Transmitter.RequestTimeout)

	ch, err := channel.New(cfg.ChannelConfig(sdkVersion, sessionID), sender, fsys, clk, logger)
	if err != nil {
		return fmt.Errorf("creating channel: %w", err)
	}

	sched, err := gcsched.New(cfg.GC.Schedule, logger, func() { ch.RunGC() })
	if err != nil {
		return fmt.Errorf("creating GC scheduler: %w", err)
	}
	sched.Start()

	ingestCtx, cancelIngest := context.WithCancel(context.Background())
	var ingestWG sync.WaitGroup

	if cfg.Ingest.SocketPath != "" {
		ln, err := ingest.ListenUnix(cfg.Ingest.SocketPath)
		if err != nil {
			cancelIngest()
			return fmt.Errorf("opening ingest socket: %w", err)
		}
		ingestWG.Add(1)
		go func() {
			defer ingestWG.Done()
			if err := ingest.Serve(ingestCtx, ln, ch, logger); err != nil && ingestCtx.Err() == nil {
				logger.Warn("ingest.socket.stopped", "error", err)
			}
		}()
		logger.Info("listening for telemetry", "socket", cfg.Ingest.SocketPath)
	}

	// The stdin reader is not part of ingestWG: a read on stdin only
	// returns at EOF, so waiting on it would block shutdown. Lines it
	// reads after Dispose are dropped by Channel.Send.
	go ingest.ReadLines(os.Stdin, ch, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			logger, logCloser = reopenLog(cfg, logCloser)
			continue
		}
		break
	}

	logger.Info("shutting down")
	cancelIngest()
	ingestWG.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop(stopCtx)

	ch.Dispose()
	return nil
}

// reopenLog closes the current log file and opens a fresh handle at
// the same path, the way SIGHUP is conventionally used to pick up a
// log rotation without restarting the process. It returns the new
// logger and closer, which the caller must install in place of the
// old ones — collaborators constructed before the signal (the spool,
// transmitter, and channel) keep writing through the logger they were
// handed at construction time; only the top-level agent logger that
// logs startup/shutdown/signal messages picks up the reopened file.
func reopenLog(cfg config.Config, oldCloser io.Closer) (*slog.Logger, io.Closer) {
	oldCloser.Close()
	fresh, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	fresh.Info("reopened log file", "file", cfg.Logging.File)
	return fresh, closer
}
