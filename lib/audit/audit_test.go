// Copyright 2026 The CombineFS Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/combinefs/combinefs/lib/digest"
	"github.com/combinefs/combinefs/lib/partition"
)

// auditFixture is a two-shard layout on disk with the keyspace split
// at 0x80. Tests place files correctly or incorrectly by resolving
// the real digest first, so nothing depends on hard-coded hash values.
type auditFixture struct {
	engine *digest.Engine
	table  *partition.Table
	rootA  string
	rootB  string
}

func newFixture(t *testing.T) *auditFixture {
	t.Helper()

	engine, err := digest.New("sha256")
	if err != nil {
		t.Fatalf("digest.New: %v", err)
	}

	base := t.TempDir()
	rootA := filepath.Join(base, "shard-a")
	rootB := filepath.Join(base, "shard-b")
	for _, root := range []string{rootA, rootB} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}

	table, err := partition.NewTable([]partition.Shard{
		{Root: rootA, RangeLow: "0", RangeHigh: "7f"},
		{Root: rootB, RangeLow: "80", RangeHigh: "f"},
	}, engine.Size())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	return &auditFixture{engine: engine, table: table, rootA: rootA, rootB: rootB}
}

// owner resolves the shard that should hold the given virtual path.
func (f *auditFixture) owner(t *testing.T, virtual string) *partition.Shard {
	t.Helper()
	shard, err := f.table.Resolve(f.engine.HexSum([]byte(virtual)))
	if err != nil {
		t.Fatalf("Resolve(%q): %v", virtual, err)
	}
	return shard
}

// other returns the shard root that is not the given one.
func (f *auditFixture) other(root string) string {
	if root == f.rootA {
		return f.rootB
	}
	return f.rootA
}

// place writes an empty file for the virtual path under the given
// shard root, creating parent directories as needed.
func place(t *testing.T, root, virtual string) string {
	t.Helper()
	physical := filepath.Join(root, filepath.FromSlash(virtual))
	if err := os.MkdirAll(filepath.Dir(physical), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(physical, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return physical
}

func collect(t *testing.T, auditor *Auditor) []Finding {
	t.Helper()
	var findings []Finding
	if err := auditor.Run(func(f Finding) {
		findings = append(findings, f)
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return findings
}

func TestRunCleanShardsAreSilent(t *testing.T) {
	fixture := newFixture(t)

	// Every file goes to the shard its digest selects.
	for _, virtual := range []string{"/a.txt", "/dir/b.txt", "/dir/sub/c.bin"} {
		place(t, fixture.owner(t, virtual).Root, virtual)
	}

	auditor := New(fixture.engine, fixture.table, nil)
	if findings := collect(t, auditor); len(findings) != 0 {
		t.Fatalf("clean layout produced %d findings: %+v", len(findings), findings)
	}
}

func TestRunReportsMisplacedFile(t *testing.T) {
	fixture := newFixture(t)

	// One correctly placed file, one deliberately placed in the
	// wrong shard.
	place(t, fixture.owner(t, "/good.txt").Root, "/good.txt")

	expected := fixture.owner(t, "/stray.txt")
	wrongRoot := fixture.other(expected.Root)
	strayPhysical := place(t, wrongRoot, "/stray.txt")

	auditor := New(fixture.engine, fixture.table, nil)
	findings := collect(t, auditor)
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want exactly 1", len(findings))
	}

	finding := findings[0]
	if finding.PhysicalPath != strayPhysical {
		t.Errorf("PhysicalPath = %q, want %q", finding.PhysicalPath, strayPhysical)
	}
	if finding.VirtualPath != "/stray.txt" {
		t.Errorf("VirtualPath = %q, want /stray.txt", finding.VirtualPath)
	}
	if finding.ActualShard.Root != wrongRoot {
		t.Errorf("ActualShard = %q, want %q", finding.ActualShard.Root, wrongRoot)
	}
	if finding.ExpectedShard == nil || finding.ExpectedShard.Root != expected.Root {
		t.Errorf("ExpectedShard = %+v, want root %q", finding.ExpectedShard, expected.Root)
	}
	if finding.DigestHex != fixture.engine.HexSum([]byte("/stray.txt")) {
		t.Errorf("DigestHex = %q does not match the path digest", finding.DigestHex)
	}
}

func TestRunReportsEveryMisplacedFile(t *testing.T) {
	fixture := newFixture(t)

	virtuals := []string{"/one", "/two", "/nested/three", "/nested/deep/four"}
	for _, virtual := range virtuals {
		place(t, fixture.other(fixture.owner(t, virtual).Root), virtual)
	}

	auditor := New(fixture.engine, fixture.table, nil)
	findings := collect(t, auditor)
	if len(findings) != len(virtuals) {
		t.Fatalf("got %d findings, want %d", len(findings), len(virtuals))
	}

	seen := make(map[string]bool)
	for _, finding := range findings {
		seen[finding.VirtualPath] = true
	}
	for _, virtual := range virtuals {
		if !seen[virtual] {
			t.Errorf("no finding for misplaced %q", virtual)
		}
	}
}

func TestRunSkipsGitAtShardRoot(t *testing.T) {
	fixture := newFixture(t)

	// Files under .git are placed in the wrong shard on purpose:
	// if the walk descended, they would be reported.
	for _, virtual := range []string{"/.git/config", "/.git/objects/ab/cdef"} {
		place(t, fixture.other(fixture.owner(t, virtual).Root), virtual)
	}

	auditor := New(fixture.engine, fixture.table, nil)
	if findings := collect(t, auditor); len(findings) != 0 {
		t.Fatalf(".git contents were audited: %+v", findings)
	}
}

func TestRunGapEmitsFindingWithoutExpectedShard(t *testing.T) {
	engine, err := digest.New("sha256")
	if err != nil {
		t.Fatalf("digest.New: %v", err)
	}

	root := t.TempDir()
	// A table owning only the single digest value 1: no real path
	// digest resolves, so every file is a gap finding.
	table, err := partition.NewTable([]partition.Shard{
		{
			Root:      root,
			RangeLow:  "0000000000000000000000000000000000000000000000000000000000000001",
			RangeHigh: "0000000000000000000000000000000000000000000000000000000000000001",
		},
	}, engine.Size())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	place(t, root, "/orphan")

	auditor := New(engine, table, nil)
	findings := collect(t, auditor)
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	if findings[0].ExpectedShard != nil {
		t.Errorf("ExpectedShard = %+v, want nil for unresolvable digest", findings[0].ExpectedShard)
	}
	if findings[0].ActualShard.Root != root {
		t.Errorf("ActualShard = %q, want %q", findings[0].ActualShard.Root, root)
	}
}

func TestRunIsRestartable(t *testing.T) {
	fixture := newFixture(t)
	expected := fixture.owner(t, "/stray")
	place(t, fixture.other(expected.Root), "/stray")

	auditor := New(fixture.engine, fixture.table, nil)
	first := collect(t, auditor)
	second := collect(t, auditor)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("runs not repeatable: %d then %d findings", len(first), len(second))
	}
	if first[0].PhysicalPath != second[0].PhysicalPath {
		t.Errorf("runs disagree: %q vs %q", first[0].PhysicalPath, second[0].PhysicalPath)
	}
}

func TestRunFailsOnMissingShardRoot(t *testing.T) {
	engine, err := digest.New("sha256")
	if err != nil {
		t.Fatalf("digest.New: %v", err)
	}
	table, err := partition.NewTable([]partition.Shard{
		{Root: filepath.Join(t.TempDir(), "does-not-exist"), RangeLow: "0", RangeHigh: "f"},
	}, engine.Size())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	auditor := New(engine, table, nil)
	if err := auditor.Run(func(Finding) {}); err == nil {
		t.Fatal("expected error for unwalkable shard root")
	}
}
