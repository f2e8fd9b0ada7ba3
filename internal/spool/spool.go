// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package spool implements the durable, disk-backed FIFO of
// serialized transmissions described in spec.md §3–§4.2: enqueue,
// peek, delete, quarantine, and TTL-based garbage collection, built
// to tolerate concurrent producers, concurrent processes sharing the
// directory, partial writes, and corruption.
package spool

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nishisan-dev/telepulse/internal/clock"
	"github.com/nishisan-dev/telepulse/internal/frame"
	"github.com/nishisan-dev/telepulse/internal/fs"
)

const (
	extTmp     = ".tmp"
	extTrn     = ".trn"
	extCorrupt = ".corrupt"

	// recentlyDeletedCap bounds the ring buffer spec.md §3 names
	// ("_recently_deleted sets are disjoint at steady state").
	recentlyDeletedCap = 10

	// filenameTimestampLayout matches spec.md §3's
	// "YYYYMMDDhhmmss" filename convention.
	filenameTimestampLayout = "20060102150405"
)

// Logger is the minimal structured-logging surface the spool needs;
// *slog.Logger satisfies it directly.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// errClosed is returned (wrapped in a DroppedIO outcome) when Enqueue
// is called after Close.
var errClosed = errors.New("spool: closed")

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EnqueueOutcome classifies the result of Enqueue.
type EnqueueOutcome int

const (
	Accepted EnqueueOutcome = iota
	DroppedCapacity
	DroppedIO
)

func (o EnqueueOutcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case DroppedCapacity:
		return "dropped_capacity"
	case DroppedIO:
		return "dropped_io"
	default:
		return "unknown"
	}
}

// EnqueueResult reports what Enqueue did. Per spec.md §7 the spool
// never raises to callers; Err is populated only for diagnostics.
type EnqueueResult struct {
	Outcome  EnqueueOutcome
	Filename string
	Err      error
}

// InFlight is the handle returned by Peek: a transmission that has
// been read off disk but not yet deleted or released (spec.md
// GLOSSARY "In-flight").
type InFlight struct {
	Filename     string
	Transmission frame.Transmission
	size         int64
}

// Spool is a directory-backed FIFO of transmissions.
type Spool struct {
	dir    string
	fsys   fs.FileSystem
	clk    clock.Clock
	cfg    Config
	logger Logger

	mu              sync.Mutex
	inFlight        map[string]struct{}
	recentlyDeleted []string
	sizeBytes       int64
	fileCount       int
	dropCount       uint64
	closed          bool
}

// New creates a Spool rooted at dir, creating it if necessary.
func New(dir string, cfg Config, fsys fs.FileSystem, clk clock.Clock, logger Logger) (*Spool, error) {
	if fsys == nil {
		fsys = fs.System{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if err := fsys.MkdirAll(dir); err != nil {
		return nil, fmt.Errorf("spool: creating directory %s: %w", dir, err)
	}

	s := &Spool{
		dir:      dir,
		fsys:     fsys,
		clk:      clk,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
	s.rescan()
	return s, nil
}

// Dir returns the spool's root directory.
func (s *Spool) Dir() string { return s.dir }

// Close marks the spool closed. The spool itself holds no persistent
// file handles or background goroutines — every operation opens and
// closes its own handle — so Close exists for symmetry with
// Channel.Dispose's "quiesce, then dispose the transmitter, then
// close the spool" sequence (spec.md §4.4) rather than to release any
// resource. Idempotent.
func (s *Spool) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (s *Spool) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Enqueue durably persists t as a new .trn file, or drops it under
// the rules in spec.md §4.2. It never returns an error the caller is
// required to act on.
func (s *Spool) Enqueue(t frame.Transmission) EnqueueResult {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return EnqueueResult{Outcome: DroppedIO, Err: errClosed}
	}

	// Rescan before the cap check: cached counters are only hints
	// under concurrent, possibly multi-process, access.
	s.rescan()

	s.mu.Lock()
	overCapacity := s.sizeBytes >= s.cfg.CapacityBytes || s.fileCount >= s.cfg.MaxFiles
	s.mu.Unlock()

	if overCapacity {
		s.recordDrop()
		return EnqueueResult{Outcome: DroppedCapacity}
	}

	suffix, err := frame.RandomSuffix()
	if err != nil {
		return EnqueueResult{Outcome: DroppedIO, Err: err}
	}

	tmpName := suffix + extTmp
	tmpPath := s.path(tmpName)

	f, err := s.fsys.CreateExclusive(tmpPath)
	if err != nil {
		return EnqueueResult{Outcome: DroppedIO, Err: fmt.Errorf("creating tmp file: %w", err)}
	}

	writeErr := frame.Write(f, t)
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		_ = s.fsys.Remove(tmpPath)
		err := writeErr
		if err == nil {
			err = closeErr
		}
		return EnqueueResult{Outcome: DroppedIO, Err: fmt.Errorf("writing frame: %w", err)}
	}

	finalName := s.clk.Now().Format(filenameTimestampLayout) + "_" + suffix + extTrn
	finalPath := s.path(finalName)
	if err := s.fsys.Rename(tmpPath, finalPath); err != nil {
		_ = s.fsys.Remove(tmpPath)
		return EnqueueResult{Outcome: DroppedIO, Err: fmt.Errorf("renaming to final: %w", err)}
	}

	size, _ := s.fsys.Size(finalPath)
	s.mu.Lock()
	s.sizeBytes += size
	s.fileCount++
	s.mu.Unlock()

	return EnqueueResult{Outcome: Accepted, Filename: finalName}
}

func (s *Spool) recordDrop() {
	s.mu.Lock()
	s.dropCount++
	n := s.dropCount
	s.mu.Unlock()

	if n%100 == 0 {
		s.logger.Info("enqueue.drop.capacity", "count", n)
	}
}

// Peek returns the next .trn transmission to attempt, or ok=false if
// none is available. Corrupt files encountered along the way are
// quarantined and skipped; the scan never returns an error.
func (s *Spool) Peek() (*InFlight, bool) {
	names, err := s.fsys.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("peek.readdir_failed", "error", err)
		return nil, false
	}

	candidates := trnCandidates(names, s.cfg.PeekScanLimit)

	for _, name := range candidates {
		s.mu.Lock()
		_, busy := s.inFlight[name]
		recent := s.wasRecentlyDeleted(name)
		s.mu.Unlock()
		if busy || recent {
			continue
		}

		path := s.path(name)
		size, sizeOK := s.fsys.Size(path)

		t, err := s.readFrame(path)
		switch {
		case err == nil:
			s.mu.Lock()
			s.inFlight[name] = struct{}{}
			s.mu.Unlock()
			if !sizeOK {
				size = 0
			}
			return &InFlight{Filename: name, Transmission: t, size: size}, true

		case fs.IsNotExist(err):
			// Another process (or GC) already removed it.
			continue

		case errors.Is(err, frame.ErrCorruptFrame):
			s.Quarantine(name)
			continue

		default:
			s.logger.Error("peek.read_failed", "file", name, "error", err)
			continue
		}
	}

	return nil, false
}

func (s *Spool) readFrame(path string) (frame.Transmission, error) {
	r, err := s.fsys.Open(path)
	if err != nil {
		return frame.Transmission{}, err
	}
	defer r.Close()
	return frame.Read(r, path)
}

// Delete removes an in-flight transmission's file (success-on-missing)
// and updates counters. Idempotent: calling it twice on the same
// handle is safe and leaves counters consistent with one call.
func (s *Spool) Delete(h *InFlight) {
	if h == nil {
		return
	}

	s.mu.Lock()
	_, stillInFlight := s.inFlight[h.Filename]
	delete(s.inFlight, h.Filename)
	if stillInFlight {
		s.pushRecentlyDeleted(h.Filename)
	}
	s.mu.Unlock()

	if !stillInFlight {
		// Already deleted by a previous call; nothing left to do.
		return
	}

	if err := s.removeWithRetry(s.path(h.Filename)); err != nil {
		s.logger.Error("delete.failed", "file", h.Filename, "error", err)
		return
	}

	s.mu.Lock()
	s.sizeBytes -= h.size
	if s.sizeBytes < 0 {
		s.sizeBytes = 0
	}
	s.fileCount--
	if s.fileCount < 0 {
		s.fileCount = 0
	}
	s.mu.Unlock()
}

// Release returns an in-flight handle to the spool without deleting
// its file, for a later retry.
func (s *Spool) Release(h *InFlight) {
	if h == nil {
		return
	}
	s.mu.Lock()
	delete(s.inFlight, h.Filename)
	s.mu.Unlock()
}

// Quarantine renames filename to its .corrupt form so peek stops
// encountering it. All errors are caught and logged, never returned.
func (s *Spool) Quarantine(filename string) {
	corruptName := replaceExt(filename, extCorrupt)
	corruptPath := s.path(corruptName)

	if _, ok := s.fsys.Size(corruptPath); ok {
		if err := s.removeWithRetry(corruptPath); err != nil {
			s.logger.Error("quarantine.replace_failed", "file", filename, "error", err)
		}
	}

	if err := s.fsys.Rename(s.path(filename), corruptPath); err != nil {
		if !fs.IsNotExist(err) {
			s.logger.Error("quarantine.rename_failed", "file", filename, "error", err)
		}
		return
	}
	s.logger.Warn("peek.corrupt", "file", filename)
}

// removeWithRetry deletes path, retrying up to 3 times back-to-back
// on transient errors (spec.md §4.2/§7). Missing file is success.
func (s *Spool) removeWithRetry(path string) error {
	var lastErr error
	for attempt := 0; attempt < 1+3; attempt++ {
		err := s.fsys.Remove(path)
		if err == nil || fs.IsNotExist(err) {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (s *Spool) wasRecentlyDeleted(name string) bool {
	for _, n := range s.recentlyDeleted {
		if n == name {
			return true
		}
	}
	return false
}

func (s *Spool) pushRecentlyDeleted(name string) {
	s.recentlyDeleted = append(s.recentlyDeleted, name)
	if len(s.recentlyDeleted) > recentlyDeletedCap {
		s.recentlyDeleted = s.recentlyDeleted[len(s.recentlyDeleted)-recentlyDeletedCap:]
	}
}

func (s *Spool) path(name string) string {
	return joinPath(s.dir, name)
}

// Stats is a snapshot of the spool's advisory counters, exposed for
// operator tooling (cmd/telepulse-ctl) without exposing payload
// contents (spec.md §1 non-goal: no read API for stored events).
type Stats struct {
	SizeBytes  int64
	FileCount  int
	DropCount  uint64
	InFlight   int
	TrnFiles   int
	TmpFiles   int
	CorruptNum int
	OldestTrn  time.Time
}

// Stat recomputes and returns a fresh snapshot by rescanning the
// directory.
func (s *Spool) Stat() Stats {
	s.rescan()

	names, _ := s.fsys.ReadDir(s.dir)
	var trn, tmp, corrupt int
	var oldest time.Time
	for _, name := range names {
		switch {
		case strings.HasSuffix(name, extTrn):
			trn++
			if t, ok := s.creationTime(name); ok {
				if oldest.IsZero() || t.Before(oldest) {
					oldest = t
				}
			}
		case strings.HasSuffix(name, extTmp):
			tmp++
		case strings.HasSuffix(name, extCorrupt):
			corrupt++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		SizeBytes:  s.sizeBytes,
		FileCount:  s.fileCount,
		DropCount:  s.dropCount,
		InFlight:   len(s.inFlight),
		TrnFiles:   trn,
		TmpFiles:   tmp,
		CorruptNum: corrupt,
		OldestTrn:  oldest,
	}
}

// rescan recomputes sizeBytes/fileCount by a full directory listing
// of .trn files, per spec.md §3: "recomputed by a full directory
// rescan before admission decisions".
func (s *Spool) rescan() {
	names, err := s.fsys.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("rescan.readdir_failed", "error", err)
		return
	}

	var size int64
	var count int
	for _, name := range names {
		if !strings.HasSuffix(name, extTrn) {
			continue
		}
		count++
		if n, ok := s.fsys.Size(s.path(name)); ok {
			size += n
		}
	}

	s.mu.Lock()
	s.sizeBytes = size
	s.fileCount = count
	s.mu.Unlock()
}

// creationTime resolves name's age using the filesystem's creation
// time when plausible, falling back to the filename's timestamp
// prefix otherwise (spec.md Open Questions).
func (s *Spool) creationTime(name string) (time.Time, bool) {
	now := s.clk.Now()

	if t, ok := s.fsys.CreationTime(s.path(name)); ok && plausible(t, now) {
		return t, true
	}
	if t, ok := parseFilenameTimestamp(name); ok && plausible(t, now) {
		return t, true
	}
	return time.Time{}, false
}

func plausible(t, now time.Time) bool {
	if t.IsZero() || t.Unix() <= 0 {
		return false
	}
	// Allow a small grace window for clock skew between producer and
	// GC host; anything further in the future is implausible.
	return !t.After(now.Add(5 * time.Minute))
}

func parseFilenameTimestamp(name string) (time.Time, bool) {
	base := name
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	prefix := base
	if i := strings.IndexByte(base, '_'); i >= 0 {
		prefix = base[:i]
	}
	if len(prefix) != len(filenameTimestampLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(filenameTimestampLayout, prefix)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func replaceExt(name, newExt string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i] + newExt
	}
	return name + newExt
}

func joinPath(dir, name string) string {
	return filepath.Join(dir, name)
}

// trnCandidates filters names to .trn files, sorted lexicographically
// descending (LIFO by timestamp prefix, per spec.md §4.2: "implementations
// MAY sort lexicographically descending to bias toward freshest
// items"), capped at limit.
func trnCandidates(names []string, limit int) []string {
	var trn []string
	for _, n := range names {
		if strings.HasSuffix(n, extTrn) {
			trn = append(trn, n)
		}
	}
	sortDescending(trn)
	if limit > 0 && len(trn) > limit {
		trn = trn[:limit]
	}
	return trn
}

func sortDescending(names []string) {
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
}

// tmpAge resolves a .tmp file's age from filesystem creation time —
// .tmp names have no timestamp prefix (unlike .trn/.corrupt), so the
// filename-fallback used by creationTime doesn't apply here.
func (s *Spool) tmpAge(name string) (time.Time, bool) {
	return s.fsys.CreationTime(s.path(name))
}
