// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package spool

import "time"

// Config holds the tunables from spec.md §3 "SpoolConfig".
type Config struct {
	CapacityBytes int64         `yaml:"capacity_bytes"`
	MaxFiles      int           `yaml:"max_files"`
	TrnTTL        time.Duration `yaml:"trn_ttl"`
	CorruptTTL    time.Duration `yaml:"corrupt_ttl"`
	TmpTTL        time.Duration `yaml:"tmp_ttl"`
	RetryDeadline time.Duration `yaml:"retry_deadline"`
	PeekScanLimit int           `yaml:"peek_scan_limit"`
}

// DefaultConfig returns the defaults listed in spec.md §3.
func DefaultConfig() Config {
	return Config{
		CapacityBytes: 10 * 1024 * 1024,
		MaxFiles:      100,
		TrnTTL:        30 * 24 * time.Hour,
		CorruptTTL:    7 * 24 * time.Hour,
		TmpTTL:        5 * time.Minute,
		RetryDeadline: 2 * time.Hour,
		PeekScanLimit: 50,
	}
}

// withDefaults fills any zero-valued field with its default, so a
// partially-specified Config (e.g. from YAML with only a couple of
// keys set) behaves sanely.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CapacityBytes <= 0 {
		c.CapacityBytes = d.CapacityBytes
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = d.MaxFiles
	}
	if c.TrnTTL <= 0 {
		c.TrnTTL = d.TrnTTL
	}
	if c.CorruptTTL <= 0 {
		c.CorruptTTL = d.CorruptTTL
	}
	if c.TmpTTL <= 0 {
		c.TmpTTL = d.TmpTTL
	}
	if c.RetryDeadline <= 0 {
		c.RetryDeadline = d.RetryDeadline
	}
	if c.PeekScanLimit <= 0 {
		c.PeekScanLimit = d.PeekScanLimit
	}
	return c
}
