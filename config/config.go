// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config loads a WatchGroup's live-editable policy from the
// node tree's persisted roConfig entries (spec.md §6): `bft`, `lt`, `i`.
package config

import (
	"strconv"

	"github.com/juju/errors"

	"github.com/dsahistorian/historian/watchgroup"
)

// Keys under which a WatchGroup's policy is persisted in roConfig.
const (
	KeyBufferFlushSeconds = "bft"
	KeyLoggingType        = "lt"
	KeyIntervalSeconds    = "i"
)

// KV is the narrow read side of whatever roConfig store a deployment
// actually uses — a file, an env var set, a real roConfig-backed node
// tree. Concrete config file I/O is explicitly out of scope (spec.md
// §1), so this is the one seam a caller must supply.
type KV interface {
	// Get returns the raw string value stored under key, and whether it
	// was present at all.
	Get(key string) (string, bool)
}

// MapKV is a KV backed by a plain map, useful for tests and for small
// in-process deployments that keep roConfig entries in memory.
type MapKV map[string]string

// Get is part of KV.
func (m MapKV) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Load reads bft/lt/i from kv, falling back to watchgroup.DefaultConfig
// for any missing entry, and applying the same negative-clamps-to-zero
// rule watchgroup.Config.Normalize applies everywhere else (spec.md §6
// "Negative numbers clamp to 0").
func Load(kv KV) (watchgroup.Config, error) {
	cfg := watchgroup.DefaultConfig

	if raw, ok := kv.Get(KeyBufferFlushSeconds); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return watchgroup.Config{}, errors.Annotatef(err, "parsing %s", KeyBufferFlushSeconds)
		}
		cfg.BufferFlushSeconds = n
	}

	if raw, ok := kv.Get(KeyLoggingType); ok {
		lt, err := watchgroup.ParseLoggingType(raw)
		if err != nil {
			return watchgroup.Config{}, errors.Annotatef(err, "parsing %s", KeyLoggingType)
		}
		cfg.LoggingType = lt
	}

	if raw, ok := kv.Get(KeyIntervalSeconds); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return watchgroup.Config{}, errors.Annotatef(err, "parsing %s", KeyIntervalSeconds)
		}
		cfg.IntervalSeconds = n
	}

	return cfg.Normalize(), nil
}
