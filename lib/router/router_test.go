// Copyright 2026 The CombineFS Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"strings"
	"testing"

	"github.com/combinefs/combinefs/lib/digest"
	"github.com/combinefs/combinefs/lib/partition"
)

// fullKeyspaceRouter splits the sha256 keyspace in half between two
// shard roots.
func fullKeyspaceRouter(t *testing.T) (*Router, []partition.Shard) {
	t.Helper()

	engine, err := digest.New("sha256")
	if err != nil {
		t.Fatalf("digest.New: %v", err)
	}

	shards := []partition.Shard{
		{Root: "/mnt/a", RangeLow: "0", RangeHigh: "7f", Capacity: 100},
		{Root: "/mnt/b", RangeLow: "80", RangeHigh: "f", Capacity: 200},
	}
	table, err := partition.NewTable(shards, engine.Size())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	return New(engine, table, nil), shards
}

func TestRouteFileRoundTrip(t *testing.T) {
	router, shards := fullKeyspaceRouter(t)

	paths := []string{
		"/file.txt",
		"/deeply/nested/dir/object.bin",
		"/",
		"/with space",
		"/.hidden",
	}

	for _, virtual := range paths {
		physical, err := router.RouteFile(virtual)
		if err != nil {
			t.Errorf("RouteFile(%q): %v", virtual, err)
			continue
		}

		var matched bool
		for _, shard := range shards {
			if strings.HasPrefix(physical, shard.Root) {
				matched = true
				if got := strings.TrimPrefix(physical, shard.Root); got != virtual {
					t.Errorf("RouteFile(%q) = %q: stripping %q gives %q, want the virtual path back",
						virtual, physical, shard.Root, got)
				}
			}
		}
		if !matched {
			t.Errorf("RouteFile(%q) = %q: no configured shard root prefixes it", virtual, physical)
		}
	}
}

func TestRouteFileDeterministic(t *testing.T) {
	router, _ := fullKeyspaceRouter(t)

	first, err := router.RouteFile("/stable/path")
	if err != nil {
		t.Fatalf("RouteFile: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := router.RouteFile("/stable/path")
		if err != nil {
			t.Fatalf("RouteFile: %v", err)
		}
		if again != first {
			t.Fatalf("RouteFile not deterministic: %q vs %q", again, first)
		}
	}
}

func TestRouteFileNormalizesLeadingSlash(t *testing.T) {
	router, _ := fullKeyspaceRouter(t)

	withSlash, err := router.RouteFile("/a/b")
	if err != nil {
		t.Fatalf("RouteFile: %v", err)
	}
	withoutSlash, err := router.RouteFile("a/b")
	if err != nil {
		t.Fatalf("RouteFile: %v", err)
	}
	if withSlash != withoutSlash {
		t.Errorf("normalization mismatch: %q vs %q", withSlash, withoutSlash)
	}
}

func TestRouteFileGapSurfacesError(t *testing.T) {
	engine, err := digest.New("sha256")
	if err != nil {
		t.Fatalf("digest.New: %v", err)
	}

	// A table covering almost nothing: every realistic digest
	// falls outside it.
	table, err := partition.NewTable([]partition.Shard{
		{Root: "/mnt/a", RangeLow: "0", RangeHigh: "0000000000000000000000000000000000000000000000000000000000000001"},
	}, engine.Size())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	router := New(engine, table, nil)
	if _, err := router.RouteFile("/anything"); err == nil {
		t.Fatal("expected routing error for digest outside every range")
	}
}

func TestShardPathsOrderAndShape(t *testing.T) {
	router, shards := fullKeyspaceRouter(t)

	paths := router.ShardPaths("/some/dir")
	if len(paths) != len(shards) {
		t.Fatalf("got %d paths, want %d", len(paths), len(shards))
	}
	for i, shard := range shards {
		want := shard.Root + "/some/dir"
		if paths[i] != want {
			t.Errorf("paths[%d] = %q, want %q (configured order must be preserved)", i, paths[i], want)
		}
	}
}
