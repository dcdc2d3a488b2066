// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package watchgroup implements the WatchGroup ingestion engine: the
// policy-driven pipeline that turns bus updates into database rows under
// one of three logging modes, with two independently-scheduled,
// atomically-reconfigurable tasks (spec.md §4.D, the "hard core").
package watchgroup

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"

	"github.com/dsahistorian/historian/bus"
	"github.com/dsahistorian/historian/core/historianlogger"
	"github.com/dsahistorian/historian/core/value"
	"github.com/dsahistorian/historian/core/watcher"
	"github.com/dsahistorian/historian/store"
	"github.com/dsahistorian/historian/watch"
)

const (
	taskFlush    = "flush"
	taskInterval = "interval"

	// TopicWatchAdded and TopicWatchRemoved are published on a
	// WatchGroup's event hub. Supplements spec.md §4.F's onWatchAdded
	// hook with the symmetric removal event, giving a provider the same
	// look-up-not-ownership visibility spec.md §9 asks for.
	TopicWatchAdded   = "watchgroup.watch-added"
	TopicWatchRemoved = "watchgroup.watch-removed"
)

// MinSchedulerThreads is the pool size spec.md §5 describes for a group's
// schedulers. A group's two schedulers do not draw from a shared pool here
// (each group has its own runner, see New); the provider uses this value to
// bound concurrently running range queries. The source sizes
// this pool with min(cpus, 3), which only ever shrinks it; re-implemented
// here as max(cpus, 3) to honour the stated "at least 3" intent (spec.md
// §9 open question) — see DESIGN.md.
func MinSchedulerThreads() int {
	if n := runtime.NumCPU(); n > 3 {
		return n
	}
	return 3
}

// Event carries a WatchGroup lifecycle notification.
type Event struct {
	GroupID string
	Watch   *watch.Watch
}

// WatchGroup is a policy engine owning a set of Watches, a pending-write
// queue, and the two schedulers that drain it (spec.md §3, §4.D).
type WatchGroup struct {
	id     string
	clk    clock.Clock
	db     store.Database
	logger historianlogger.Logger
	pool   *bus.SubscriptionPool
	hub    *pubsub.SimpleHub

	config atomic.Pointer[Config]

	// reconfigureMu is the group's "writeLoopLock": it serializes
	// cancel-then-restart of both schedulers so a reconfiguration is
	// observed atomically (spec.md invariant 7, §9 "two schedulers
	// coupled by one mutex").
	reconfigureMu sync.Mutex
	runner        *worker.Runner
	activeTasks   map[string]bool

	queue updateQueue

	watchesMu sync.RWMutex
	watches   map[string]*watch.Watch
}

// New constructs a WatchGroup and starts whichever schedulers cfg
// requires. db and pool are programmer-required dependencies: a nil value
// fails fast at construction rather than later at write time (spec.md
// §7).
func New(id string, clk clock.Clock, db store.Database, pool *bus.SubscriptionPool, logger historianlogger.Logger, cfg Config) (*WatchGroup, error) {
	if id == "" {
		return nil, errors.NotValidf("empty id")
	}
	if clk == nil {
		return nil, errors.NotValidf("nil Clock")
	}
	if db == nil {
		return nil, errors.NotValidf("nil Database")
	}
	if pool == nil {
		return nil, errors.NotValidf("nil SubscriptionPool")
	}
	if logger == nil {
		logger = historianlogger.Nop
	}

	// A group needs its own dedicated runner rather than a shared pool so
	// that a long-running flush tick on one group can never starve
	// another group's schedulers (spec.md §5).
	runner := worker.NewRunner(worker.RunnerParams{
		// No worker error is fatal to the runner, so a scheduler that exits
		// with an error is restarted by it; neither tick function returns
		// one. EditSettings/Unsubscribe/Close drive every start and stop
		// explicitly, under reconfigureMu.
		IsFatal: func(error) bool { return false },
		Clock:   clk,
	})

	g := &WatchGroup{
		id:          id,
		clk:         clk,
		db:          db,
		pool:        pool,
		logger:      logger,
		hub:         pubsub.NewSimpleHub(nil),
		runner:      runner,
		watches:     make(map[string]*watch.Watch),
		activeTasks: make(map[string]bool),
	}
	g.config.Store(&DefaultConfig)

	if err := g.applyConfig(cfg); err != nil {
		_ = runner.Kill()
		_ = runner.Wait()
		return nil, errors.Trace(err)
	}
	return g, nil
}

// ID returns the group's stable identifier.
func (g *WatchGroup) ID() string { return g.id }

// Config returns the group's current policy snapshot.
func (g *WatchGroup) Config() Config {
	return *g.config.Load()
}

// QueueLen reports the number of WatchUpdates currently buffered, waiting
// for the next flush tick. Exposed for diagnostics and tests.
func (g *WatchGroup) QueueLen() int {
	return g.queue.Len()
}

// Kill is part of worker.Worker: it stops the group's schedulers
// unconditionally. Providers manage a WatchGroup's process-lifetime
// through this, distinct from the domain-level Close/Unsubscribe
// operations below.
func (g *WatchGroup) Kill() { g.runner.Kill() }

// Wait is part of worker.Worker.
func (g *WatchGroup) Wait() error { return g.runner.Wait() }

// AddHandler registers fn for every watch-added/watch-removed event on
// this group.
func (g *WatchGroup) AddHandler(topic string, fn func(Event)) pubsub.Unsubscriber {
	return g.hub.Subscribe(topic, func(_ string, data interface{}) {
		event, ok := data.(Event)
		if !ok {
			return
		}
		fn(event)
	})
}

// AddWatch creates and enables a Watch for rawPath, attaching it to the
// group (spec.md §3 lifecycle, "Watches are added via addWatchPath").
func (g *WatchGroup) AddWatch(ctx context.Context, id, rawPath string) (*watch.Watch, error) {
	w, err := watch.New(id, rawPath, g.pool, g, g.logger)
	if err != nil {
		return nil, errors.Trace(err)
	}

	g.watchesMu.Lock()
	if _, exists := g.watches[id]; exists {
		g.watchesMu.Unlock()
		return nil, errors.AlreadyExistsf("watch %q", id)
	}
	g.watches[id] = w
	g.watchesMu.Unlock()

	if err := w.Enable(ctx, true); err != nil {
		g.watchesMu.Lock()
		delete(g.watches, id)
		g.watchesMu.Unlock()
		return nil, errors.Trace(err)
	}

	g.hub.Publish(TopicWatchAdded, Event{GroupID: g.id, Watch: w})
	return w, nil
}

// Watch looks up a member Watch by id.
func (g *WatchGroup) Watch(id string) (*watch.Watch, bool) {
	g.watchesMu.RLock()
	defer g.watchesMu.RUnlock()
	w, ok := g.watches[id]
	return w, ok
}

// Watches returns a snapshot of the group's member Watches.
func (g *WatchGroup) Watches() []*watch.Watch {
	g.watchesMu.RLock()
	defer g.watchesMu.RUnlock()
	out := make([]*watch.Watch, 0, len(g.watches))
	for _, w := range g.watches {
		out = append(out, w)
	}
	return out
}

// RemoveWatch unsubscribes and detaches a member Watch (spec.md §4.C
// unsubscribe: "detaches from group and pool").
func (g *WatchGroup) RemoveWatch(ctx context.Context, id string) error {
	g.watchesMu.Lock()
	w, ok := g.watches[id]
	if !ok {
		g.watchesMu.Unlock()
		return errors.NotFoundf("watch %q", id)
	}
	delete(g.watches, id)
	g.watchesMu.Unlock()

	err := w.Unsubscribe(ctx)
	g.hub.Publish(TopicWatchRemoved, Event{GroupID: g.id, Watch: w})
	return errors.Trace(err)
}

// Query runs a range query against the group's underlying Database, the
// delegation point behind the node tree's per-Watch `getHistory` action
// (spec.md §6).
func (g *WatchGroup) Query(ctx context.Context, path string, from, to time.Time, handler store.RowHandler) error {
	return g.db.Query(ctx, path, from, to, handler)
}

// EditSettings applies new policy parameters, cancelling and restarting
// both schedulers atomically under reconfigureMu (spec.md invariant 7).
func (g *WatchGroup) EditSettings(cfg Config) error {
	return g.applyConfig(cfg)
}

// Unsubscribe cancels both schedulers, discards the pending queue, and
// detaches every member Watch — the group-delete path (spec.md §3,
// "unsubscribe() → cancel interval task, cancel flush task, clear queue").
func (g *WatchGroup) Unsubscribe(ctx context.Context) error {
	g.reconfigureMu.Lock()
	g.stopTask(taskInterval)
	g.stopTask(taskFlush)
	g.reconfigureMu.Unlock()

	g.queue.DrainAll()

	for _, w := range g.Watches() {
		if err := g.RemoveWatch(ctx, w.ID()); err != nil {
			g.logger.Warningf("detaching watch %q: %v", w.ID(), err)
		}
	}
	return nil
}

// Close cancels the buffer-flush task only, leaving any queued updates in
// place for GC rather than discarding them (spec.md §3, "close() → cancel
// flush task; leaves queue as-is for GC"). It is a passive shutdown,
// distinct from the explicit user-driven Unsubscribe above. The provider
// does not call it: it removes a group with Unsubscribe and stops groups
// on exit through Kill.
func (g *WatchGroup) Close() error {
	g.reconfigureMu.Lock()
	defer g.reconfigureMu.Unlock()
	g.stopTask(taskFlush)
	return nil
}

// applyConfig is the single atomic reconfiguration primitive backing both
// New and EditSettings: stop both schedulers, publish the new snapshot,
// then start whichever schedulers the new policy requires. Holding
// reconfigureMu across the whole sequence is what makes invariant 7 ("both
// schedulers reflect the new values, either both cancelled or both
// rescheduled") hold even under concurrent edits.
func (g *WatchGroup) applyConfig(cfg Config) error {
	cfg = cfg.Normalize()

	g.reconfigureMu.Lock()
	defer g.reconfigureMu.Unlock()

	g.stopTask(taskFlush)
	g.stopTask(taskInterval)

	g.config.Store(&cfg)

	if cfg.needsFlushTask() {
		if err := g.startTask(taskFlush, g.newFlushWorker); err != nil {
			return errors.Annotate(err, "starting buffer flush scheduler")
		}
	}
	if cfg.needsIntervalTask() {
		if err := g.startTask(taskInterval, g.newIntervalWorker); err != nil {
			return errors.Annotate(err, "starting interval sampler")
		}
	}
	return nil
}

// startTask starts the named scheduler worker and records it as active.
// Callers hold reconfigureMu.
func (g *WatchGroup) startTask(name string, start func() (worker.Worker, error)) error {
	if err := g.runner.StartWorker(name, start); err != nil {
		return errors.Trace(err)
	}
	g.activeTasks[name] = true
	return nil
}

// stopTask is idempotent: stopping a task that isn't running is a no-op.
// activeTasks tracks what this group itself started, so it never asks the
// runner to stop a worker it never started. Callers hold reconfigureMu.
func (g *WatchGroup) stopTask(name string) {
	if !g.activeTasks[name] {
		return
	}
	if err := g.runner.StopAndRemoveWorker(name, nil); err != nil {
		g.logger.Warningf("stopping %s task for group %q: %v", name, g.id, err)
	}
	g.activeTasks[name] = false
}

func (g *WatchGroup) newFlushWorker() (worker.Worker, error) {
	return watcher.NewPeriodicWorker(watcher.PeriodicConfig{
		Clock: g.clk,
		Period: func() (time.Duration, bool) {
			cfg := g.Config()
			if !cfg.needsFlushTask() {
				return 0, false
			}
			return time.Duration(cfg.BufferFlushSeconds) * time.Second, true
		},
		Tick: g.runBufferFlush,
	})
}

func (g *WatchGroup) newIntervalWorker() (worker.Worker, error) {
	return watcher.NewPeriodicWorker(watcher.PeriodicConfig{
		Clock: g.clk,
		Period: func() (time.Duration, bool) {
			cfg := g.Config()
			if !cfg.needsIntervalTask() {
				return 0, false
			}
			return time.Duration(cfg.IntervalSeconds) * time.Second, true
		},
		Tick: g.runIntervalSample,
	})
}

// WritesDirectly is part of watch.GroupLink: everything except INTERVAL
// mode hands new data straight to Write.
func (g *WatchGroup) WritesDirectly() bool {
	return g.Config().LoggingType != Interval
}

// Write is part of watch.GroupLink: the policy decision from spec.md
// §4.D's logging-policy table. The change predicate runs regardless of
// nullness (invariant 2: lastValue tracks every update, not just
// non-null ones); the "null value is never written" rule is enforced
// later, at the dbWrite step in commit/writeAndNotify.
func (g *WatchGroup) Write(w *watch.Watch, update value.SubscriptionUpdate) {
	cfg := g.Config()
	switch cfg.LoggingType {
	case PointChange:
		prev := w.LastValue()
		changed := value.Changed(prev, update.Value)
		w.SetLastValue(update.Value)
		if !changed {
			return
		}
	case Interval:
		// onData never calls Write in this mode (WritesDirectly is
		// false); guard defensively in case a caller misuses GroupLink.
		return
	}

	g.commit(value.WatchUpdate{WatchID: w.ID(), Update: update})
}

// commit is the shared entry point for both a direct write() call and an
// interval-sampler tick: if the flush task is active it enqueues,
// otherwise it drains whatever is already queued (invariant 3,
// flush-before-bypass) and then writes wu itself.
func (g *WatchGroup) commit(wu value.WatchUpdate) {
	if wu.Update.Value.IsNull() {
		return
	}

	if g.Config().needsFlushTask() {
		g.queue.Push(wu)
		return
	}

	for _, pending := range g.queue.DrainAll() {
		g.writeAndNotify(pending)
	}
	g.writeAndNotify(wu)
}

func (g *WatchGroup) writeAndNotify(wu value.WatchUpdate) {
	if wu.Update.Value.IsNull() {
		return
	}
	ts := wu.WriteTimestamp()
	ctx := context.Background()
	if err := g.db.Write(ctx, wu.Update.Path, wu.Update.Value, ts); err != nil {
		g.logger.Errorf("writing %q: %v", wu.Update.Path, err)
		return
	}
	if w, ok := g.Watch(wu.WatchID); ok {
		w.HandleLastWritten(wu.Update.Value, ts)
	}
}

// runBufferFlush is one buffer-flush tick: read the queue size once, pop
// that many entries, write each, and call handleLastWritten only on the
// final successfully-written entry (spec.md §4.D "buffer flush").
func (g *WatchGroup) runBufferFlush(ctx context.Context) error {
	n := g.queue.Len()
	if n == 0 {
		return nil
	}
	batch := g.queue.PopN(n)

	var last *value.WatchUpdate
	for i := range batch {
		wu := batch[i]
		if wu.Update.Value.IsNull() {
			continue
		}
		ts := wu.WriteTimestamp()
		if err := g.db.Write(ctx, wu.Update.Path, wu.Update.Value, ts); err != nil {
			g.logger.Errorf("flushing %q: %v", wu.Update.Path, err)
			continue
		}
		last = &batch[i]
	}
	if last == nil {
		return nil
	}
	if w, ok := g.Watch(last.WatchID); ok {
		w.HandleLastWritten(last.Update.Value, last.WriteTimestamp())
	}
	return nil
}

// runIntervalSample is one interval-sampler tick: every enabled Watch
// with a pending lastWatchUpdate is enqueued (or written, if unbuffered)
// stamped with a single timestamp captured once for the whole tick
// (spec.md §9, resolving the source's per-enqueue timestamp ambiguity).
func (g *WatchGroup) runIntervalSample(ctx context.Context) error {
	now := g.clk.Now()
	for _, w := range g.Watches() {
		if !w.Enabled() {
			continue
		}
		wu, ok := w.LastWatchUpdate()
		if !ok {
			continue
		}
		wu.IntervalTimestamp = now
		g.commit(wu)
	}
	return nil
}
