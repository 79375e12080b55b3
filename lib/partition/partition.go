// Copyright 2026 The CombineFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package partition maps hash digests to shards. Each shard owns an
// inclusive sub-range of the digest keyspace, declared in the
// configuration as a pair of short hex literals that expand to
// full-width boundaries.
//
// # Boundary expansion
//
// A range literal shorter than the digest width is right-padded with
// repetitions of its own final character: at a 16-byte digest, "3"
// expands to "333…3" (32 digits), not "300…0". This makes single-digit
// literals partition the keyspace evenly — ["0","3"] and ["4","f"]
// meet exactly at the 3/4 boundary with no gap. A literal already at
// or beyond full width is used as-is, never truncated.
//
// # Resolution
//
// Resolve scans every shard in configuration order and keeps the last
// one whose range contains the digest. With overlapping ranges this
// means a later shard silently masks earlier ones; that behavior is
// load-bearing for existing deployments and is preserved exactly.
// Overlaps reports such pairs so startup can warn about them.
package partition

import (
	"fmt"
	"math/big"
	"strings"
)

// Shard is one physical backing store: a root directory, the
// inclusive hash range it owns, and its declared capacity. Shards are
// built once from configuration and are immutable for the process
// lifetime.
type Shard struct {
	// Root is the physical directory prefixed to virtual paths.
	Root string

	// RangeLow and RangeHigh are the configured partial hex
	// literals. Expansion to full-width boundaries happens in the
	// Table against a concrete digest width.
	RangeLow  string
	RangeHigh string

	// Capacity is the declared size in bytes, reported through the
	// filesystem capacity query. It is an accounting declaration,
	// not a measured value.
	Capacity int64
}

// bounds is a shard's expanded range: full-width inclusive limits as
// big integers.
type bounds struct {
	low  *big.Int
	high *big.Int
}

// Table resolves digests to shards. Construct one with NewTable; it
// is immutable and safe for concurrent use.
type Table struct {
	shards []Shard
	bounds []bounds
}

// NewTable expands every shard's range literals at the given digest
// width (in bytes) and returns the resolution table. Malformed
// literals are configuration errors.
func NewTable(shards []Shard, digestSize int) (*Table, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("no shards configured")
	}

	table := &Table{
		shards: shards,
		bounds: make([]bounds, len(shards)),
	}
	for i, shard := range shards {
		low, err := ExpandBound(shard.RangeLow, digestSize)
		if err != nil {
			return nil, fmt.Errorf("shard %s: low bound: %w", shard.Root, err)
		}
		high, err := ExpandBound(shard.RangeHigh, digestSize)
		if err != nil {
			return nil, fmt.Errorf("shard %s: high bound: %w", shard.Root, err)
		}
		if low.Cmp(high) > 0 {
			return nil, fmt.Errorf("shard %s: range [%s, %s] inverted after expansion",
				shard.Root, shard.RangeLow, shard.RangeHigh)
		}
		table.bounds[i] = bounds{low: low, high: high}
	}
	return table, nil
}

// ExpandBound expands a partial hex literal to a full-width boundary
// value at the given digest size. The literal is right-padded with
// repetitions of its own final character until it reaches
// 2×digestSize hex digits; longer literals pass through unpadded.
func ExpandBound(literal string, digestSize int) (*big.Int, error) {
	if literal == "" {
		return nil, fmt.Errorf("empty range literal")
	}

	width := 2 * digestSize
	expanded := literal
	if len(literal) < width {
		last := literal[len(literal)-1:]
		expanded = literal + strings.Repeat(last, width-len(literal))
	}

	value, ok := new(big.Int).SetString(expanded, 16)
	if !ok {
		return nil, fmt.Errorf("range literal %q is not valid hex", literal)
	}
	return value, nil
}

// Resolve returns the shard owning the given hex digest. Every shard
// is tested in configuration order and the last match wins. No match
// means the table has a gap at this digest; callers treat that as a
// fatal routing error, never a retry.
func (t *Table) Resolve(digestHex string) (*Shard, error) {
	value, ok := new(big.Int).SetString(digestHex, 16)
	if !ok {
		return nil, fmt.Errorf("digest %q is not valid hex", digestHex)
	}

	var found *Shard
	for i := range t.shards {
		if value.Cmp(t.bounds[i].low) < 0 {
			continue
		}
		if value.Cmp(t.bounds[i].high) > 0 {
			continue
		}
		found = &t.shards[i]
	}
	if found == nil {
		return nil, fmt.Errorf("no shard found for digest %s", digestHex)
	}
	return found, nil
}

// Shards returns the shards in configuration order. Directory
// operations fan out over this sequence.
func (t *Table) Shards() []Shard {
	return t.shards
}

// TotalCapacity sums the declared capacities of all shards.
func (t *Table) TotalCapacity() int64 {
	var total int64
	for i := range t.shards {
		total += t.shards[i].Capacity
	}
	return total
}

// Overlap names two shards whose expanded ranges intersect. Within
// the overlapping span the later shard masks the earlier one.
type Overlap struct {
	Earlier *Shard
	Later   *Shard
}

// Overlaps reports every pair of shards with intersecting ranges, in
// configuration order. An overlap is not rejected — resolution
// remains deterministic via the last-match rule — but deployments
// usually want to know about it, so startup logs each pair as a
// warning.
func (t *Table) Overlaps() []Overlap {
	var overlaps []Overlap
	for i := 0; i < len(t.shards); i++ {
		for j := i + 1; j < len(t.shards); j++ {
			if t.bounds[i].low.Cmp(t.bounds[j].high) > 0 {
				continue
			}
			if t.bounds[i].high.Cmp(t.bounds[j].low) < 0 {
				continue
			}
			overlaps = append(overlaps, Overlap{
				Earlier: &t.shards[i],
				Later:   &t.shards[j],
			})
		}
	}
	return overlaps
}
