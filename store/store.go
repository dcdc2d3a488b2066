// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package store defines the append-only persistence contract a WatchGroup
// writes through (spec.md §4.E) and a minimal in-memory reference
// implementation used by tests.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/dsahistorian/historian/core/value"
)

// ErrStopIteration is returned by a RowHandler to end a Query early without
// signalling failure.
var ErrStopIteration = errors.New("stop iteration")

// RowHandler receives one persisted row at a time, ordered by time
// ascending. Returning ErrStopIteration ends the query early; any other
// non-nil error aborts the query and is returned to the caller.
type RowHandler func(v value.Value, t time.Time) error

// Database is the pluggable backend a WatchGroup persists through. A
// Database instance is scoped to a single group, but paths within it are
// whatever the group's watches observe.
type Database interface {
	// Write appends one row. It must be safe to call concurrently with
	// Query and with other Write calls, and must be safe to call from the
	// buffer-flush task's own goroutine.
	Write(ctx context.Context, path string, v value.Value, t time.Time) error

	// Query streams rows for path in [from, to] (inclusive), ordered by
	// time ascending, to handler.
	Query(ctx context.Context, path string, from, to time.Time, handler RowHandler) error
}

type row struct {
	value value.Value
	time  time.Time
}

// Memory is an in-process, non-persistent Database. It is not meant for
// production use — spec.md §1 scopes concrete database back-ends out —
// but gives WatchGroup something real to write through in tests.
type Memory struct {
	mu   sync.Mutex
	rows map[string][]row
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string][]row)}
}

// Write implements Database.
func (m *Memory) Write(_ context.Context, path string, v value.Value, t time.Time) error {
	if path == "" {
		return errors.NotValidf("empty path")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := append(m.rows[path], row{value: v, time: t})
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].time.Before(rows[j].time) })
	m.rows[path] = rows
	return nil
}

// Query implements Database.
func (m *Memory) Query(_ context.Context, path string, from, to time.Time, handler RowHandler) error {
	m.mu.Lock()
	rows := append([]row(nil), m.rows[path]...)
	m.mu.Unlock()

	for _, r := range rows {
		if r.time.Before(from) || r.time.After(to) {
			continue
		}
		if err := handler(r.value, r.time); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return errors.Trace(err)
		}
	}
	return nil
}
