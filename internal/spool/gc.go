// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package spool

import (
	"strings"
	"time"
)

// GCStats reports how many files of each kind a GC pass removed.
type GCStats struct {
	TmpRemoved     int
	TrnRemoved     int
	CorruptRemoved int
}

// RunGC deletes files whose age exceeds their kind's TTL (spec.md
// §4.2 "GC"). Per-file errors are caught and logged, never returned.
func (s *Spool) RunGC() GCStats {
	names, err := s.fsys.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("gc.readdir_failed", "error", err)
		return GCStats{}
	}

	now := s.clk.Now()
	var stats GCStats

	for _, name := range names {
		var ttl int
		var ext string
		switch {
		case strings.HasSuffix(name, extTmp):
			ext, ttl = extTmp, 0
		case strings.HasSuffix(name, extTrn):
			ext, ttl = extTrn, 1
		case strings.HasSuffix(name, extCorrupt):
			ext, ttl = extCorrupt, 2
		default:
			continue
		}

		age, ok := s.ageFor(ext, name)
		if !ok {
			continue
		}

		var expired bool
		switch ttl {
		case 0:
			expired = now.Sub(age) > s.cfg.TmpTTL
		case 1:
			expired = now.Sub(age) > s.cfg.TrnTTL
		case 2:
			expired = now.Sub(age) > s.cfg.CorruptTTL
		}
		if !expired {
			continue
		}

		size, _ := s.fsys.Size(s.path(name))
		if err := s.fsys.Remove(s.path(name)); err != nil {
			s.logger.Error("gc.delete.failed", "file", name, "error", err)
			continue
		}

		switch ext {
		case extTmp:
			stats.TmpRemoved++
		case extTrn:
			stats.TrnRemoved++
			s.mu.Lock()
			s.sizeBytes -= size
			if s.sizeBytes < 0 {
				s.sizeBytes = 0
			}
			s.fileCount--
			if s.fileCount < 0 {
				s.fileCount = 0
			}
			s.mu.Unlock()
		case extCorrupt:
			stats.CorruptRemoved++
		}
	}

	return stats
}

func (s *Spool) ageFor(ext, name string) (age time.Time, ok bool) {
	if ext == extTmp {
		return s.tmpAge(name)
	}
	return s.creationTime(name)
}
