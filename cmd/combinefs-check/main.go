// Copyright 2026 The CombineFS Authors
// SPDX-License-Identifier: Apache-2.0

// Combinefs-check audits shard placement for a CombineFS
// configuration. It walks every shard's physical tree and logs a
// warning for each file whose path digest resolves to a different
// shard than the one it lives in. Nothing is moved or modified.
//
// Findings are advisory: the exit status reflects only whether the
// audit itself completed. A run over misplaced-but-readable shards
// exits 0 with warnings on stderr; an unreadable shard or invalid
// configuration exits 1.
package main

import (
	"fmt"
	"os"

	"github.com/combinefs/combinefs/lib/audit"
	"github.com/combinefs/combinefs/lib/config"
	"github.com/combinefs/combinefs/lib/version"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	pflag.StringVarP(&configPath, "config", "c", "", "config file (required)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("combinefs-check %s\n", version.Info())
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	logger := cfg.Logger()

	engine, err := cfg.Engine()
	if err != nil {
		return err
	}
	table, err := cfg.Table(engine)
	if err != nil {
		return err
	}

	auditor := audit.New(engine, table, logger)

	var misplaced int
	if err := auditor.Run(func(audit.Finding) {
		misplaced++
	}); err != nil {
		return err
	}

	logger.Info("audit complete",
		"shards", len(table.Shards()),
		"misplaced", misplaced,
	)
	return nil
}
