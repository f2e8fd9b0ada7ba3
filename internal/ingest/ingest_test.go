// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ingest

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nishisan-dev/telepulse/internal/telemetry"
)

type fakeSink struct {
	items chan telemetry.Item
}

func newFakeSink() *fakeSink {
	return &fakeSink{items: make(chan telemetry.Item, 16)}
}

func (s *fakeSink) Send(item telemetry.Item) {
	s.items <- item
}

func TestReadLinesParsesValidAndSkipsInvalid(t *testing.T) {
	sink := newFakeSink()
	input := strings.NewReader("{\"name\":\"a\"}\nnot json\n{\"name\":\"b\",\"kind\":\"exception\"}\n")

	ReadLines(input, sink, nil)
	close(sink.items)

	var names []string
	for item := range sink.items {
		names = append(names, item.Name)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("parsed names = %v, want [a b]", names)
	}
}

func TestServeHandlesUnixSocketConnections(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "telepulse.sock")
	ln, err := ListenUnix(sockPath)
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}

	sink := newFakeSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, sink, nil) }()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := conn.Write([]byte("{\"name\":\"checkout.completed\"}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	conn.Close()

	select {
	case item := <-sink.items:
		if item.Name != "checkout.completed" {
			t.Errorf("Name = %q, want checkout.completed", item.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the ingested item")
	}

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Errorf("Serve returned nil error after cancellation, want context.Canceled")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after ctx cancellation")
	}
}

func TestListenUnixRemovesStaleSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "stale.sock")

	ln1, err := ListenUnix(sockPath)
	if err != nil {
		t.Fatalf("first ListenUnix: %v", err)
	}
	// Simulate a crash: the socket file is left behind without the
	// listener being closed through net's usual teardown path.
	ln1.(*net.UnixListener).SetUnlinkOnClose(false)
	ln1.Close()

	ln2, err := ListenUnix(sockPath)
	if err != nil {
		t.Fatalf("second ListenUnix after stale socket: %v", err)
	}
	ln2.Close()
}
