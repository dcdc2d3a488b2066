// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package watch implements the per-path ingestion sink described in
// spec.md §4.C: a Watch holds the last-seen and last-written markers for
// one bus path, fans real-time writes out to subscribers, and feeds its
// owning group.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"

	"github.com/dsahistorian/historian/bus"
	"github.com/dsahistorian/historian/core/historianlogger"
	corepath "github.com/dsahistorian/historian/core/path"
	"github.com/dsahistorian/historian/core/value"
)

const topicWritten = "watch.written"

// GroupLink is the narrow view of a WatchGroup a Watch needs. Defined here
// rather than in package watchgroup so that watch never imports
// watchgroup — the two reference each other only through interfaces, per
// the "look-up relation, not ownership" note in spec.md §9.
type GroupLink interface {
	// WritesDirectly reports whether new data should be handed to Write
	// immediately (true for ALL_DATA/POINT_CHANGE) or merely staged for
	// the next interval tick (false for INTERVAL).
	WritesDirectly() bool

	// Write applies the group's logging policy to update, persisting it
	// if the policy says so.
	Write(w *Watch, update value.SubscriptionUpdate)
}

// WrittenEvent is published to a Watch's real-time handlers after a
// successful database write for that Watch.
type WrittenEvent struct {
	Value value.Value
	Time  time.Time
}

// Handler is a real-time listener for a Watch's writes.
type Handler func(WrittenEvent)

// Watch is a subscription sink bound to exactly one bus path, for exactly
// one WatchGroup's lifetime (spec.md §3 invariant 1).
type Watch struct {
	id      string
	rawPath string
	path    string

	pool  *bus.SubscriptionPool
	group GroupLink
	hub   *pubsub.SimpleHub
	log   historianlogger.Logger

	mu               sync.RWMutex
	enabled          bool
	lastValue        value.Value
	lastWrittenValue value.Value
	lastWrittenTime  time.Time
	startDate        time.Time
	endDate          time.Time
	lastWatchUpdate  *value.WatchUpdate
}

// New returns a Watch for rawPath, not yet enabled. rawPath is decoded
// exactly once, here, per spec.md §4.C's edge case.
func New(id, rawPath string, pool *bus.SubscriptionPool, group GroupLink, log historianlogger.Logger) (*Watch, error) {
	if id == "" {
		return nil, errors.NotValidf("empty id")
	}
	if rawPath == "" {
		return nil, errors.NotValidf("empty path")
	}
	if pool == nil {
		return nil, errors.NotValidf("nil SubscriptionPool")
	}
	if group == nil {
		return nil, errors.NotValidf("nil GroupLink")
	}
	if log == nil {
		log = historianlogger.Nop
	}
	return &Watch{
		id:      id,
		rawPath: rawPath,
		path:    corepath.Decode(rawPath),
		pool:    pool,
		group:   group,
		hub:       pubsub.NewSimpleHub(nil),
		log:       log,
		lastValue: value.Null,
	}, nil
}

// ID returns the watch's stable identifier.
func (w *Watch) ID() string { return w.id }

// Path returns the decoded path this watch observes.
func (w *Watch) Path() string { return w.path }

// RawPath returns the raw, bus-facing node name.
func (w *Watch) RawPath() string { return w.rawPath }

// Enabled reports whether the watch currently holds a pool subscription.
func (w *Watch) Enabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

// Enable toggles the watch's pool subscription. It is idempotent: enabling
// an already-enabled watch, or disabling an already-disabled one, is a
// no-op (spec.md §4.C).
func (w *Watch) Enable(ctx context.Context, on bool) error {
	w.mu.Lock()
	if w.enabled == on {
		w.mu.Unlock()
		return nil
	}
	w.enabled = on
	w.mu.Unlock()

	if on {
		if err := w.pool.Subscribe(ctx, w.path, w); err != nil {
			w.mu.Lock()
			w.enabled = false
			w.mu.Unlock()
			return errors.Trace(err)
		}
		return nil
	}

	if err := w.pool.Unsubscribe(ctx, w.path, w); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Unsubscribe detaches the watch from its pool subscription. Detaching it
// from its owning group's bookkeeping is the group's responsibility (spec
// §3 lifecycle: "Unsubscribe removes the Watch from its pool and detaches
// it").
func (w *Watch) Unsubscribe(ctx context.Context) error {
	return w.Enable(ctx, false)
}

// OnData is called by the pool when the bus delivers data for this watch's
// path. It implements bus.Sink.
func (w *Watch) OnData(update value.SubscriptionUpdate) {
	if w.group.WritesDirectly() {
		w.group.Write(w, update)
		return
	}

	wu := value.WatchUpdate{WatchID: w.id, Update: update}
	w.mu.Lock()
	w.lastWatchUpdate = &wu
	w.mu.Unlock()
}

// LastValue returns the most recently observed value, used by POINT_CHANGE
// change detection.
func (w *Watch) LastValue() value.Value {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastValue
}

// SetLastValue records curr as the most recently observed value. Called by
// the group's POINT_CHANGE policy after deciding whether to write.
func (w *Watch) SetLastValue(curr value.Value) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastValue = curr
}

// LastWatchUpdate returns the update pending the next interval flush, and
// whether one is pending at all. It is never cleared once set: spec.md §8
// S4 requires the same value to be resampled on every subsequent tick
// until a newer update arrives.
func (w *Watch) LastWatchUpdate() (value.WatchUpdate, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.lastWatchUpdate == nil {
		return value.WatchUpdate{}, false
	}
	return *w.lastWatchUpdate, true
}

// HandleLastWritten is called by the group after a successful write: it
// updates lastWrittenValue, sets endDate to t, sets startDate only if it
// has not yet been set, and notifies real-time handlers (spec.md §4.C).
func (w *Watch) HandleLastWritten(v value.Value, t time.Time) {
	w.mu.Lock()
	w.lastWrittenValue = v
	w.lastWrittenTime = t
	w.endDate = t
	if w.startDate.IsZero() {
		w.startDate = t
	}
	w.mu.Unlock()

	w.NotifyHandlers(WrittenEvent{Value: v, Time: t})
}

// StartDate returns the time of the first successful write, or the zero
// time if none has happened yet.
func (w *Watch) StartDate() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.startDate
}

// EndDate returns the time of the most recent successful write.
func (w *Watch) EndDate() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.endDate
}

// LastWrittenValue returns the value most recently persisted for this
// watch (the node tree's "lwv").
func (w *Watch) LastWrittenValue() value.Value {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastWrittenValue
}

// LastWrittenTime returns the time most recently persisted for this watch.
func (w *Watch) LastWrittenTime() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastWrittenTime
}

// AddHandler registers fn to be notified after every successful write for
// this watch. The returned Unsubscriber cancels the registration; it is
// the "cancellation token" spec.md §9 calls for in place of an anonymous
// callback. Dispatch (pubsub.SimpleHub.Publish) copies its subscriber list
// before invoking handlers, so handlers may safely call AddHandler, or
// cancel a registration, on the same watch without deadlocking. A handler
// that panics is recovered and logged, so other handlers are still
// notified.
func (w *Watch) AddHandler(fn Handler) pubsub.Unsubscriber {
	return w.hub.Subscribe(topicWritten, func(_ string, data interface{}) {
		event, ok := data.(WrittenEvent)
		if !ok {
			w.log.Warningf("watch %q: unexpected handler payload %T", w.path, data)
			return
		}
		defer func() {
			if r := recover(); r != nil {
				w.log.Errorf("watch %q: real-time handler panicked: %v", w.path, r)
			}
		}()
		fn(event)
	})
}

// NotifyHandlers publishes event to every handler currently registered and
// blocks until each of them has run.
func (w *Watch) NotifyHandlers(event WrittenEvent) {
	w.hub.Publish(topicWritten, event)()
}
