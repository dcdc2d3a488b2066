// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package provider implements the DatabaseProvider described in
// spec.md §4.F: the long-lived owner of the bus subscription pool and the
// WatchGroup registry, which must outlive every group it creates.
package provider

import (
	"context"
	"sync"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/dsahistorian/historian/bus"
	"github.com/dsahistorian/historian/core/historianlogger"
	"github.com/dsahistorian/historian/store"
	"github.com/dsahistorian/historian/watch"
	"github.com/dsahistorian/historian/watchgroup"
)

const (
	// TopicGroupAdded and TopicGroupClosed are published on a provider's
	// event hub, supplementing the per-group watch-added/watch-removed
	// events with the group-level lifecycle spec.md §9's "look-up
	// relations, not ownership" note implies a provider needs to expose.
	TopicGroupAdded  = "provider.group-added"
	TopicGroupClosed = "provider.group-closed"
)

// DatabaseFactory mints a Database for a newly created group. Concrete
// providers (e.g. a sqlite-backed one) supply this; see
// store/sqlitestore.
type DatabaseFactory func(groupID string) (store.Database, error)

// DatabaseProvider owns the single SubscriptionPool shared by every Watch
// in the process and the registry of live WatchGroups (spec.md §4.F).
type DatabaseProvider struct {
	catacomb catacomb.Catacomb

	clk       clock.Clock
	logger    historianlogger.Logger
	pool      *bus.SubscriptionPool
	dbFactory DatabaseFactory
	runner    *worker.Runner
	hub       *pubsub.SimpleHub

	// querySem bounds concurrently in-flight getHistory range queries to
	// the pool sizing spec.md §5 describes (max(cpus, 3), see
	// watchgroup.MinSchedulerThreads), so a burst of heavy range scans
	// cannot starve everything else running in the process. Group
	// schedulers are not bounded by it; each group has its own runner.
	querySem chan struct{}

	mu             sync.RWMutex
	groups         map[string]*watchgroup.WatchGroup
	unsubscribeAll []pubsub.Unsubscriber

	hooksMu         sync.Mutex
	watchAddedHooks []func(*watch.Watch)
}

// New constructs a DatabaseProvider backed by client (the bus transport)
// and dbFactory (minting one Database per group).
func New(clk clock.Clock, client bus.Client, dbFactory DatabaseFactory, logger historianlogger.Logger) (*DatabaseProvider, error) {
	if clk == nil {
		return nil, errors.NotValidf("nil Clock")
	}
	if dbFactory == nil {
		return nil, errors.NotValidf("nil DatabaseFactory")
	}
	if logger == nil {
		logger = historianlogger.Nop
	}

	pool, err := bus.NewSubscriptionPool(client, logger)
	if err != nil {
		return nil, errors.Trace(err)
	}

	runner := worker.NewRunner(worker.RunnerParams{
		IsFatal: func(error) bool { return false },
		Clock:   clk,
	})

	p := &DatabaseProvider{
		clk:       clk,
		logger:    logger,
		pool:      pool,
		dbFactory: dbFactory,
		runner:    runner,
		hub:       pubsub.NewSimpleHub(nil),
		querySem:  make(chan struct{}, watchgroup.MinSchedulerThreads()),
		groups:    make(map[string]*watchgroup.WatchGroup),
	}

	if err := catacomb.Invoke(catacomb.Plan{
		Site: &p.catacomb,
		Work: p.loop,
		Init: []worker.Worker{runner},
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return p, nil
}

func (p *DatabaseProvider) loop() error {
	<-p.catacomb.Dying()
	return p.catacomb.ErrDying()
}

// Kill is part of worker.Worker.
func (p *DatabaseProvider) Kill() { p.catacomb.Kill(nil) }

// Wait is part of worker.Worker.
func (p *DatabaseProvider) Wait() error { return p.catacomb.Wait() }

// Pool returns the provider's shared SubscriptionPool.
func (p *DatabaseProvider) Pool() *bus.SubscriptionPool { return p.pool }

// OnWatchAdded registers fn to run whenever any group under this provider
// gains a Watch (spec.md §4.F onWatchAdded hook).
func (p *DatabaseProvider) OnWatchAdded(fn func(*watch.Watch)) {
	p.hooksMu.Lock()
	defer p.hooksMu.Unlock()
	p.watchAddedHooks = append(p.watchAddedHooks, fn)
}

func (p *DatabaseProvider) notifyWatchAdded(w *watch.Watch) {
	p.hooksMu.Lock()
	hooks := append([]func(*watch.Watch){}, p.watchAddedHooks...)
	p.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(w)
	}
}

// AddHandler registers fn for provider-level group-added/group-closed
// events.
func (p *DatabaseProvider) AddHandler(topic string, fn func(*watchgroup.WatchGroup)) pubsub.Unsubscriber {
	return p.hub.Subscribe(topic, func(_ string, data interface{}) {
		g, ok := data.(*watchgroup.WatchGroup)
		if !ok {
			return
		}
		fn(g)
	})
}

// AddGroup creates a new WatchGroup with its own Database instance
// (spec.md §4.F, "produces Database instances on demand per group") and
// registers it for supervision.
func (p *DatabaseProvider) AddGroup(id string, cfg watchgroup.Config) (*watchgroup.WatchGroup, error) {
	db, err := p.dbFactory(id)
	if err != nil {
		return nil, errors.Annotatef(err, "creating database for group %q", id)
	}

	g, err := watchgroup.New(id, p.clk, db, p.pool, p.logger, cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}

	p.mu.Lock()
	if _, exists := p.groups[id]; exists {
		p.mu.Unlock()
		_ = g.Kill()
		return nil, errors.AlreadyExistsf("group %q", id)
	}
	p.groups[id] = g
	unsub := g.AddHandler(watchgroup.TopicWatchAdded, func(e watchgroup.Event) {
		p.notifyWatchAdded(e.Watch)
	})
	p.unsubscribeAll = append(p.unsubscribeAll, unsub)
	p.mu.Unlock()

	if err := p.runner.StartWorker(id, func() (worker.Worker, error) { return g, nil }); err != nil {
		p.mu.Lock()
		delete(p.groups, id)
		p.mu.Unlock()
		return nil, errors.Annotatef(err, "registering group %q", id)
	}

	p.hub.Publish(TopicGroupAdded, g)
	return g, nil
}

// Group looks up a live group by id.
func (p *DatabaseProvider) Group(id string) (*watchgroup.WatchGroup, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.groups[id]
	return g, ok
}

// Groups returns a snapshot of every live group.
func (p *DatabaseProvider) Groups() []*watchgroup.WatchGroup {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*watchgroup.WatchGroup, 0, len(p.groups))
	for _, g := range p.groups {
		out = append(out, g)
	}
	return out
}

// RemoveGroup implements the node tree's "delete" action (spec.md §6):
// unsubscribes every Watch in the group, then tears the group down.
func (p *DatabaseProvider) RemoveGroup(ctx context.Context, id string) error {
	p.mu.Lock()
	g, ok := p.groups[id]
	if !ok {
		p.mu.Unlock()
		return errors.NotFoundf("group %q", id)
	}
	delete(p.groups, id)
	p.mu.Unlock()

	if err := g.Unsubscribe(ctx); err != nil {
		p.logger.Warningf("unsubscribing group %q: %v", id, err)
	}
	if err := p.runner.StopAndRemoveWorker(id, nil); err != nil {
		p.logger.Warningf("stopping group %q: %v", id, err)
	}
	p.hub.Publish(TopicGroupClosed, g)
	return nil
}

// RunQuery runs fn (a Database.Query call, typically) under the
// provider-wide concurrency bound, per spec.md §5's shared scheduler pool
// intent.
func (p *DatabaseProvider) RunQuery(ctx context.Context, fn func() error) error {
	select {
	case p.querySem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.querySem }()
	return fn()
}
