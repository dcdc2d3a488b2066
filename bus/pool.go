// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package bus multiplexes the IoT link bus's single subscription per path
// across any number of historian Watches, per spec.md §4.B.
package bus

import (
	"context"
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/dsahistorian/historian/core/historianlogger"
	"github.com/dsahistorian/historian/core/value"
)

// Client is the bus's own subscription contract — out of scope per spec.md
// §1 ("the wire protocol of the IoT bus"), so the pool depends on this
// narrow interface rather than a concrete transport.
type Client interface {
	// Subscribe asks the bus to start delivering updates for path. It may
	// perform bus I/O and therefore may block.
	Subscribe(ctx context.Context, path string) error

	// Unsubscribe asks the bus to stop delivering updates for path.
	Unsubscribe(ctx context.Context, path string) error
}

// Sink receives bus data dispatched to it by the pool. watch.Watch is the
// only production implementation.
type Sink interface {
	OnData(update value.SubscriptionUpdate)
}

// SubscriptionPool gives any number of Sinks a shared bus subscription per
// path: the bus is asked to subscribe only when the first Sink attaches to
// a path, and unsubscribed when the last one detaches.
type SubscriptionPool struct {
	client Client
	logger historianlogger.Logger

	mu     sync.RWMutex
	sinks  map[string]map[Sink]struct{}
	subbed set.Strings
}

// NewSubscriptionPool returns a pool dispatching through client.
func NewSubscriptionPool(client Client, logger historianlogger.Logger) (*SubscriptionPool, error) {
	if client == nil {
		return nil, errors.NotValidf("nil Client")
	}
	if logger == nil {
		logger = historianlogger.Nop
	}
	return &SubscriptionPool{
		client: client,
		logger: logger,
		sinks:  make(map[string]map[Sink]struct{}),
		subbed: set.NewStrings(),
	}, nil
}

// Subscribe attaches sink to path, asking the bus for a live subscription
// if this is the first sink interested in that path.
func (p *SubscriptionPool) Subscribe(ctx context.Context, path string, sink Sink) error {
	if sink == nil {
		return errors.NotValidf("nil Sink")
	}

	p.mu.Lock()
	sinkSet, ok := p.sinks[path]
	if !ok {
		sinkSet = make(map[Sink]struct{})
		p.sinks[path] = sinkSet
	}
	needsBusSubscribe := len(sinkSet) == 0
	sinkSet[sink] = struct{}{}
	p.mu.Unlock()

	if !needsBusSubscribe {
		return nil
	}

	if err := p.client.Subscribe(ctx, path); err != nil {
		p.mu.Lock()
		delete(sinkSet, sink)
		if len(sinkSet) == 0 {
			delete(p.sinks, path)
		}
		p.mu.Unlock()
		return errors.Annotatef(err, "subscribing to %q", path)
	}

	p.mu.Lock()
	p.subbed.Add(path)
	p.mu.Unlock()
	return nil
}

// Unsubscribe detaches sink from path. If it was the last sink interested
// in that path, the bus subscription is torn down too.
func (p *SubscriptionPool) Unsubscribe(ctx context.Context, path string, sink Sink) error {
	p.mu.Lock()
	sinkSet, ok := p.sinks[path]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(sinkSet, sink)
	empty := len(sinkSet) == 0
	if empty {
		delete(p.sinks, path)
	}
	p.mu.Unlock()

	if !empty {
		return nil
	}

	if err := p.client.Unsubscribe(ctx, path); err != nil {
		p.logger.Warningf("unsubscribing from %q: %v", path, err)
		return errors.Annotatef(err, "unsubscribing from %q", path)
	}

	p.mu.Lock()
	p.subbed.Remove(path)
	p.mu.Unlock()
	return nil
}

// Dispatch delivers update to every Sink currently attached to its path.
// Dispatch order across sinks is unspecified; delivery to a single sink is
// always sequential with respect to that sink, since Dispatch holds no lock
// while calling OnData and the caller (the bus client) is expected to
// deliver a single path's updates from one goroutine.
func (p *SubscriptionPool) Dispatch(update value.SubscriptionUpdate) {
	p.mu.RLock()
	sinkSet := p.sinks[update.Path]
	sinks := make([]Sink, 0, len(sinkSet))
	for sink := range sinkSet {
		sinks = append(sinks, sink)
	}
	p.mu.RUnlock()

	for _, sink := range sinks {
		sink.OnData(update)
	}
}

// ActiveSubscriptions reports the paths for which the pool currently holds
// a live bus subscription. Exposed for diagnostics and tests.
func (p *SubscriptionPool) ActiveSubscriptions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.subbed.SortedValues()
}
