// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package channel

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/nishisan-dev/telepulse/internal/telemetry"
)

// debugSink replaces the Spool+Transmitter pair when
// TELEPULSE_TELEMETRY_FILE is set: every send is appended as one JSON
// line to a local file instead of being durably queued and shipped
// (spec.md §6: "a debug sink ... replaces the Spool+Transmitter
// pair"). Rotation keeps the file from growing without bound,
// mirroring the teacher's JSONL event store.
type debugSink struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	lineCount int
	maxLines  int
}

const defaultDebugSinkMaxLines = 10000

func newDebugSink(path string) (*debugSink, error) {
	lineCount, err := countLines(path)
	if err != nil {
		return nil, fmt.Errorf("counting existing lines in %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening debug sink file %s: %w", path, err)
	}

	return &debugSink{
		file:      f,
		path:      path,
		lineCount: lineCount,
		maxLines:  defaultDebugSinkMaxLines,
	}, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

// write appends item (already merged with context) as one JSON line.
func (s *debugSink) write(item telemetry.Item, ctx telemetry.Context) error {
	b, err := telemetry.Serialize(item, ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("appending to debug sink: %w", err)
	}
	s.lineCount++
	if s.lineCount > s.maxLines {
		s.rotateLocked()
	}
	return nil
}

// rotateLocked keeps the last maxLines/2 lines, discarding the rest.
// Called with s.mu held.
func (s *debugSink) rotateLocked() {
	keep := s.maxLines / 2

	f, err := os.Open(s.path)
	if err != nil {
		return
	}
	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		lines = append(lines, line)
	}
	f.Close()

	if len(lines) <= keep {
		return
	}
	lines = lines[len(lines)-keep:]

	s.file.Close()
	out, err := os.Create(s.path)
	if err != nil {
		s.file, _ = os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		return
	}
	w := bufio.NewWriter(out)
	for _, line := range lines {
		w.Write(line)
		w.WriteByte('\n')
	}
	w.Flush()
	out.Close()

	s.file, err = os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	s.lineCount = len(lines)
}

func (s *debugSink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
