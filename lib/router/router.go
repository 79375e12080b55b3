// Copyright 2026 The CombineFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package router maps virtual paths to physical paths. A file path is
// hash-addressed: its digest selects exactly one shard, and the
// physical path is that shard's root plus the virtual path. A
// directory is a name, not a hash-addressed object — it may exist in
// zero, one, or many shards at once, so directory-structural
// operations use ShardPaths to fan out instead of RouteFile.
package router

import (
	"log/slog"

	"github.com/combinefs/combinefs/lib/digest"
	"github.com/combinefs/combinefs/lib/partition"
)

// Router composes the digest engine and partition table. Immutable
// and safe for concurrent use.
type Router struct {
	engine *digest.Engine
	table  *partition.Table
	logger *slog.Logger
}

// New returns a Router over the given engine and table. A nil logger
// disables routing diagnostics.
func New(engine *digest.Engine, table *partition.Table, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{engine: engine, table: table, logger: logger}
}

// Table returns the underlying partition table.
func (r *Router) Table() *partition.Table { return r.table }

// RouteFile resolves a virtual path to its single physical path:
// the owning shard's root plus the virtual path. The digest covers
// the normalized slash-rooted path, leading slash included. A digest
// no shard's range contains is a partition-table gap, surfaced as an
// operation failure.
func (r *Router) RouteFile(virtualPath string) (string, error) {
	virtualPath = Normalize(virtualPath)

	sum := r.engine.HexSum([]byte(virtualPath))
	r.logger.Debug("hashed path", "path", virtualPath, "digest", sum)

	shard, err := r.table.Resolve(sum)
	if err != nil {
		return "", err
	}
	r.logger.Debug("routed path", "path", virtualPath, "shard", shard.Root)

	return shard.Root + virtualPath, nil
}

// ShardPaths returns the physical path of virtualPath inside every
// shard root, in configured order. Directory-structural operations
// (listing, mkdir, rmdir) apply to all of these.
func (r *Router) ShardPaths(virtualPath string) []string {
	virtualPath = Normalize(virtualPath)

	shards := r.table.Shards()
	paths := make([]string, len(shards))
	for i := range shards {
		paths[i] = shards[i].Root + virtualPath
	}
	return paths
}

// Normalize forces a leading slash. Virtual paths are always
// slash-rooted; the digest input depends on this, so normalization
// must happen before hashing, not after.
func Normalize(virtualPath string) string {
	if len(virtualPath) == 0 || virtualPath[0] != '/' {
		return "/" + virtualPath
	}
	return virtualPath
}
