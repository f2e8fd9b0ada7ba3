// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ingest reads telemetry items from a local Unix domain socket
// or any io.Reader (stdin, when piping from another process) in a
// simple one-JSON-object-per-line protocol and hands each to a sink —
// the thin front door that makes the otherwise-library-shaped
// Channel/Spool/Transmitter core runnable as a standalone daemon.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/nishisan-dev/telepulse/internal/telemetry"
)

// Sink is the minimal surface ingest needs from a Channel.
type Sink interface {
	Send(item telemetry.Item)
}

// Logger is the minimal structured-logging surface ingest needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// ListenUnix opens a Unix domain socket at path, removing a stale
// socket left behind by a crashed previous instance first.
func ListenUnix(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("removing stale socket %q: %w", path, err)
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %q: %w", path, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled, handling each
// one as an independent JSON-lines stream. It always returns a non-nil
// error; a clean shutdown via ctx surfaces as context.Canceled.
func Serve(ctx context.Context, ln net.Listener, sink Sink, logger Logger) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accepting ingest connection: %w", err)
		}
		go func() {
			defer conn.Close()
			ReadLines(conn, sink, logger)
		}()
	}
}

// ReadLines scans r for newline-delimited JSON telemetry records,
// parses each with telemetry.ParseItem, and forwards well-formed ones
// to sink. A line that fails to parse is logged and skipped rather
// than aborting the whole stream — one malformed producer shouldn't
// take down the rest of a shared socket.
func ReadLines(r io.Reader, sink Sink, logger Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		item, err := telemetry.ParseItem(line)
		if err != nil {
			if logger != nil {
				logger.Warn("ingest.line.invalid", "error", err)
			}
			continue
		}
		sink.Send(item)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && logger != nil {
		logger.Warn("ingest.read_error", "error", err)
	}
}
