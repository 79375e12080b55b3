// Copyright 2026 The CombineFS Authors
// SPDX-License-Identifier: Apache-2.0

// Combinefs mounts the combined filesystem: one virtual tree backed
// by several physical shard directories, with each file routed to a
// shard by the hash of its path. The configuration file names the
// hash algorithm, the log severity, and the ordered shard list; see
// lib/config for the format.
//
// The process runs in the foreground and unmounts on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/combinefs/combinefs/lib/config"
	"github.com/combinefs/combinefs/lib/overlay"
	"github.com/combinefs/combinefs/lib/router"
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
		configPath    string
		mountpoint    string
		allowOther    bool
		multithreaded bool
		fuseDebug     bool
		showVersion   bool
	)
	pflag.StringVarP(&configPath, "config", "c", "", "config file (required)")
	pflag.StringVarP(&mountpoint, "mount", "m", "", "mount point path (required)")
	pflag.BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount (requires user_allow_other in /etc/fuse.conf)")
	pflag.BoolVar(&multithreaded, "multithreaded", false, "let the kernel dispatch filesystem requests concurrently")
	pflag.BoolVar(&fuseDebug, "fuse-debug", false, "enable FUSE protocol tracing on stderr")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("combinefs %s\n", version.Info())
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	if mountpoint == "" {
		return fmt.Errorf("--mount is required")
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

	// Overlapping ranges are tolerated (the last-configured match
	// wins) but almost always a configuration mistake worth seeing.
	for _, overlap := range table.Overlaps() {
		logger.Warn("shard ranges overlap; the later shard masks the earlier one",
			"earlier", overlap.Earlier.Root,
			"later", overlap.Later.Root,
		)
	}
	for _, shard := range cfg.Shards {
		logger.Info("shard configured",
			"path", shard.Path,
			"range_low", shard.Range[0],
			"range_high", shard.Range[1],
			"capacity", shard.Capacity.String(),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := overlay.Mount(overlay.Options{
		Mountpoint:    mountpoint,
		Router:        router.New(engine, table, logger),
		AllowOther:    allowOther,
		Multithreaded: multithreaded,
		Debug:         fuseDebug,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	// An external fusermount -u also ends the process: watch for the
	// server loop exiting on its own.
	serverDone := make(chan struct{})
	go func() {
		server.Wait()
		close(serverDone)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := server.Unmount(); err != nil {
			return fmt.Errorf("unmounting %s: %w", mountpoint, err)
		}
		<-serverDone
	case <-serverDone:
		logger.Info("filesystem unmounted externally")
	}

	return nil
}
