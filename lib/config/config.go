// Copyright 2026 The CombineFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the CombineFS configuration document.
//
// Configuration is loaded from a single file passed on the command
// line. There are no fallbacks, environment overrides, or automatic
// discovery: the file is the whole truth, which keeps a mount
// auditable after the fact. YAML is the native format; files ending
// in .json or .jsonc are parsed as JSON with comments.
//
// The document names the hash algorithm, the log severity, and the
// ordered shard list. Shard order matters twice: overlapping hash
// ranges resolve to the last matching shard, and directory fan-out
// failures abort at the first failing shard.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/combinefs/combinefs/lib/digest"
	"github.com/combinefs/combinefs/lib/partition"
	"github.com/docker/go-units"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration document.
type Config struct {
	// Hash names the digest algorithm (see lib/digest). Changing
	// it on an existing deployment strands every stored file in a
	// now-wrong shard; the balance checker will report all of them.
	Hash string `yaml:"hash" json:"hash"`

	// LogLevel is the slog severity name: debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Shards is the ordered shard list.
	Shards []ShardConfig `yaml:"shards" json:"shards"`
}

// ShardConfig declares one physical shard.
type ShardConfig struct {
	// Path is the shard's physical root directory.
	Path string `yaml:"path" json:"path"`

	// Range is the [low, high] pair of partial hex literals
	// bounding the shard's slice of the hash keyspace, inclusive
	// on both ends.
	Range [2]string `yaml:"range" json:"range"`

	// Capacity is the declared shard size: either an integer byte
	// count or a human-readable string such as "250GB".
	Capacity Capacity `yaml:"capacity" json:"capacity"`
}

// Capacity is a byte count that unmarshals from either a bare integer
// or a go-units size string.
type Capacity int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Capacity) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return c.set(raw)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Capacity) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return c.set(raw)
}

func (c *Capacity) set(raw any) error {
	switch v := raw.(type) {
	case int:
		*c = Capacity(v)
	case int64:
		*c = Capacity(v)
	case uint64:
		*c = Capacity(v)
	case float64:
		// JSON numbers arrive as float64.
		*c = Capacity(int64(v))
	case string:
		bytes, err := units.RAMInBytes(v)
		if err != nil {
			return fmt.Errorf("capacity %q: %w", v, err)
		}
		*c = Capacity(bytes)
	default:
		return fmt.Errorf("capacity must be an integer byte count or a size string, got %T", raw)
	}
	if *c < 0 {
		return fmt.Errorf("capacity must not be negative, got %d", int64(*c))
	}
	return nil
}

// String formats the capacity for log output, e.g. "250GiB".
func (c Capacity) String() string {
	return units.BytesSize(float64(c))
}

// LoadFile reads and parses a configuration file. The format is
// chosen by extension: .json and .jsonc parse as JSON with comments,
// everything else as YAML. The result is not yet validated; call
// Validate before use.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate checks the document for configuration errors. All problems
// are reported together. Any error here is fatal to the process —
// a half-usable configuration routes files to the wrong shards.
func (c *Config) Validate() error {
	var errs []error

	if _, err := digest.New(c.Hash); err != nil {
		errs = append(errs, err)
	}

	if c.LogLevel != "" {
		if _, err := parseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
		}
	}

	if len(c.Shards) == 0 {
		errs = append(errs, fmt.Errorf("at least one shard is required"))
	}
	for i, shard := range c.Shards {
		if shard.Path == "" {
			errs = append(errs, fmt.Errorf("shard %d: path is required", i))
		}
		if shard.Range[0] == "" || shard.Range[1] == "" {
			errs = append(errs, fmt.Errorf("shard %d: range requires both a low and a high literal", i))
			continue
		}
		// Expand at a nominal width just to catch non-hex
		// literals; the real width comes from the digest engine.
		if _, err := partition.ExpandBound(shard.Range[0], 1); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", i, err))
		}
		if _, err := partition.ExpandBound(shard.Range[1], 1); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// Engine constructs the digest engine named by the document.
func (c *Config) Engine() (*digest.Engine, error) {
	return digest.New(c.Hash)
}

// Table builds the partition table at the engine's digest width.
func (c *Config) Table(engine *digest.Engine) (*partition.Table, error) {
	shards := make([]partition.Shard, len(c.Shards))
	for i, shard := range c.Shards {
		shards[i] = partition.Shard{
			Root:      shard.Path,
			RangeLow:  shard.Range[0],
			RangeHigh: shard.Range[1],
			Capacity:  int64(shard.Capacity),
		}
	}
	return partition.NewTable(shards, engine.Size())
}

// parseLevel parses a slog severity name. "warning" is accepted as an
// alias for "warn" so that configurations written with the longer
// spelling keep working.
func parseLevel(name string) (slog.Level, error) {
	if strings.EqualFold(name, "warning") {
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, err
	}
	return level, nil
}

// Logger creates the standard CombineFS logger: a JSON handler
// writing to stderr at the configured severity (info when the field
// is empty). It also sets the default slog logger so that library
// code using slog.Info etc. gets the same handler.
func (c *Config) Logger() *slog.Logger {
	level := slog.LevelInfo
	if c.LogLevel != "" {
		// Validate already rejected unparseable names.
		level, _ = parseLevel(c.LogLevel)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
