// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command telepulse-ctl is an operator tool for inspecting and
// maintaining a telepulse spool directory out-of-band from the
// running process that owns it.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/nishisan-dev/telepulse/internal/clock"
	"github.com/nishisan-dev/telepulse/internal/config"
	"github.com/nishisan-dev/telepulse/internal/fs"
	"github.com/nishisan-dev/telepulse/internal/spool"
)

func main() {
	configPath := flag.String("config", "/etc/telepulse/agent.yaml", "path to agent config file")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: telepulse-ctl [--config path] <stat|gc>")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sp, err := spool.New(cfg.Spool.Dir, cfg.SpoolConfig(), fs.System{}, clock.System{}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening spool: %v\n", err)
		os.Exit(1)
	}
	defer sp.Close()

	switch flag.Arg(0) {
	case "stat":
		printStat(sp)
	case "gc":
		stats := sp.RunGC()
		fmt.Printf("gc: removed %d .trn, %d .tmp, %d .corrupt\n", stats.TrnRemoved, stats.TmpRemoved, stats.CorruptRemoved)
		printStat(sp)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", flag.Arg(0))
		os.Exit(2)
	}
}

func printStat(sp *spool.Spool) {
	s := sp.Stat()
	fmt.Printf("trn_files=%d size_bytes=%d corrupt=%d in_flight=%d\n",
		s.TrnFiles, s.SizeBytes, s.CorruptNum, s.InFlight)
}
