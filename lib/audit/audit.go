// Copyright 2026 The CombineFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit verifies shard placement. It walks every shard's
// physical tree and reports each regular file whose path digest
// resolves to a different shard than the one it physically lives in.
//
// The audit is read-only and stateless: nothing is moved, nothing is
// persisted, and a run can be repeated at any time. It is meant to
// run out-of-band from a live mount; a file being moved while the
// audit runs can produce a transient false positive, which is an
// accepted limitation of running without synchronization.
package audit

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/combinefs/combinefs/lib/digest"
	"github.com/combinefs/combinefs/lib/partition"
)

// Finding is one misplaced file. ExpectedShard is nil when no shard's
// range contains the digest at all (a partition-table gap).
type Finding struct {
	// PhysicalPath is the file's on-disk location.
	PhysicalPath string

	// VirtualPath is the shard-relative path, as the overlay would
	// present it. This is the string that was digested.
	VirtualPath string

	// DigestHex is the digest of VirtualPath.
	DigestHex string

	// ActualShard is the shard the file physically resides in.
	ActualShard *partition.Shard

	// ExpectedShard is the shard the digest resolves to, or nil if
	// resolution found no owner.
	ExpectedShard *partition.Shard
}

// Auditor walks shard trees and reports placement findings.
type Auditor struct {
	engine *digest.Engine
	table  *partition.Table
	logger *slog.Logger
}

// New returns an Auditor over the given engine and table. A nil
// logger suppresses the per-finding warnings.
func New(engine *digest.Engine, table *partition.Table, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Auditor{engine: engine, table: table, logger: logger}
}

// Run walks every configured shard in order and calls report for
// each finding, in walk order. Version-control metadata at a shard
// root (.git) is never descended into. Correctly placed files are
// silent. The walk aborts on the first filesystem error — an
// unreadable shard is a process-level failure, not a finding.
func (a *Auditor) Run(report func(Finding)) error {
	shards := a.table.Shards()
	for i := range shards {
		shard := &shards[i]
		if err := a.walkShard(shard, report); err != nil {
			return fmt.Errorf("auditing shard %s: %w", shard.Root, err)
		}
	}
	return nil
}

func (a *Auditor) walkShard(shard *partition.Shard, report func(Finding)) error {
	root := filepath.Clean(shard.Root)

	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relative := strings.TrimPrefix(path, root)
		if relative == "" {
			relative = "/"
		}

		if entry.IsDir() {
			// Repository metadata at the shard root is not part
			// of the overlay tree. Prune it so its contents are
			// never hashed or reported.
			if relative == "/.git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		a.checkFile(shard, path, relative, report)
		return nil
	})
}

func (a *Auditor) checkFile(shard *partition.Shard, physical, virtual string, report func(Finding)) {
	sum := a.engine.HexSum([]byte(virtual))

	expected, err := a.table.Resolve(sum)
	if err != nil {
		a.logger.Warn("no shard owns file",
			"path", physical,
			"digest", sum,
		)
		report(Finding{
			PhysicalPath: physical,
			VirtualPath:  virtual,
			DigestHex:    sum,
			ActualShard:  shard,
		})
		return
	}

	if expected.Root == shard.Root {
		return
	}

	a.logger.Warn("file not in expected shard",
		"path", physical,
		"digest", sum,
		"actual", shard.Root,
		"expected", expected.Root,
	)
	report(Finding{
		PhysicalPath:  physical,
		VirtualPath:   virtual,
		DigestHex:     sum,
		ActualShard:   shard,
		ExpectedShard: expected,
	})
}
