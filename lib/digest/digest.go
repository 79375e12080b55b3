// Copyright 2026 The CombineFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest wraps a named cryptographic hash function and
// produces fixed-width hexadecimal digests of virtual paths. The
// algorithm name comes from configuration; an unknown name is a
// configuration error surfaced at load time, never per call.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"

	"github.com/zeebo/blake3"
)

// algorithms maps configuration names to hash constructors. The
// crypto family covers the historical configurations; blake3 is the
// modern default for new deployments.
var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
	"blake3": func() hash.Hash { return blake3.New() },
}

// Engine computes hexadecimal digests with a fixed, named algorithm.
// It is stateless: every call constructs a fresh hash, so an Engine
// is safe for concurrent use.
type Engine struct {
	name string
	new  func() hash.Hash
	size int
}

// New returns an Engine for the named algorithm. The name must be one
// of [Names]; anything else returns an error, which callers treat as
// fatal during configuration load.
func New(name string) (*Engine, error) {
	constructor, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("unknown hash algorithm %q (supported: %v)", name, Names())
	}
	return &Engine{
		name: name,
		new:  constructor,
		size: constructor().Size(),
	}, nil
}

// Name returns the configured algorithm name.
func (e *Engine) Name() string { return e.name }

// Size returns the digest length in bytes. The partition table uses
// this to size hash-range padding (2×Size hex digits).
func (e *Engine) Size() int { return e.size }

// HexSum returns the lowercase hexadecimal digest of data.
func (e *Engine) HexSum(data []byte) string {
	h := e.new()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Names returns the supported algorithm names, sorted.
func Names() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
