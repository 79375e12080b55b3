// Copyright 2026 The CombineFS Authors
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/combinefs/combinefs/lib/router"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the combined tree is
	// mounted. It is created if it does not exist.
	Mountpoint string

	// Router resolves virtual paths to physical shard paths.
	Router *router.Router

	// AllowOther permits other users (including root) to access
	// the mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Multithreaded lets the kernel dispatch requests
	// concurrently. The default is one request at a time: each
	// operation is independent, so serialization costs only
	// throughput, and it keeps the fan-out failure order trivially
	// equal to shard configuration order. Concurrent dispatch is
	// safe because no operation shares mutable state — fan-out
	// ordering is preserved inside each single operation.
	Multithreaded bool

	// Debug enables go-fuse protocol tracing on stderr.
	Debug bool

	// Logger receives routing and operation diagnostics. If nil, a
	// no-op logger is used.
	Logger *slog.Logger
}

// Mount mounts the combined filesystem at the configured mountpoint.
// The caller must call Unmount on the returned server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &overlayNode{overlay: &overlay{
		router: options.Router,
		logger: options.Logger,
	}}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:         "combinefs",
			Name:           "combinefs",
			AllowOther:     options.AllowOther,
			SingleThreaded: !options.Multithreaded,
			Debug:          options.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("combined filesystem mounted",
		"mountpoint", options.Mountpoint,
		"shards", len(options.Router.Table().Shards()),
	)
	return server, nil
}

// overlay is the state shared by every node of one mount.
type overlay struct {
	router *router.Router
	logger *slog.Logger
}
