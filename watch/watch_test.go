// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package watch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/dsahistorian/historian/bus"
	"github.com/dsahistorian/historian/core/value"
	"github.com/dsahistorian/historian/watch"
)

func Test(t *testing.T) { gc.TestingT(t) }

type WatchSuite struct{}

var _ = gc.Suite(&WatchSuite{})

type fakeClient struct{}

func (fakeClient) Subscribe(ctx context.Context, path string) error   { return nil }
func (fakeClient) Unsubscribe(ctx context.Context, path string) error { return nil }

type fakeGroup struct {
	direct bool

	mu      sync.Mutex
	written []value.SubscriptionUpdate
}

func (g *fakeGroup) WritesDirectly() bool { return g.direct }

func (g *fakeGroup) Write(w *watch.Watch, update value.SubscriptionUpdate) {
	g.mu.Lock()
	g.written = append(g.written, update)
	g.mu.Unlock()
	w.HandleLastWritten(update.Value, update.Value.Timestamp)
}

func (g *fakeGroup) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.written)
}

func newPool(c *gc.C) *bus.SubscriptionPool {
	pool, err := bus.NewSubscriptionPool(fakeClient{}, nil)
	c.Assert(err, jc.ErrorIsNil)
	return pool
}

func (s *WatchSuite) TestOnDataWritesDirectlyWhenGroupSaysSo(c *gc.C) {
	pool := newPool(c)
	group := &fakeGroup{direct: true}
	w, err := watch.New("w1", "a%2Fb", pool, group, nil)
	c.Assert(err, jc.ErrorIsNil)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.OnData(value.SubscriptionUpdate{Path: "a/b", Value: value.Value{Type: value.TypeNumber, Number: 7, Timestamp: ts}})

	c.Check(group.count(), gc.Equals, 1)
	_, ok := w.LastWatchUpdate()
	c.Check(ok, jc.IsFalse)
}

func (s *WatchSuite) TestOnDataStagesWhenGroupBuffers(c *gc.C) {
	pool := newPool(c)
	group := &fakeGroup{direct: false}
	w, err := watch.New("w1", "a%2Fb", pool, group, nil)
	c.Assert(err, jc.ErrorIsNil)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.OnData(value.SubscriptionUpdate{Path: "a/b", Value: value.Value{Type: value.TypeNumber, Number: 7, Timestamp: ts}})

	c.Check(group.count(), gc.Equals, 0)
	wu, ok := w.LastWatchUpdate()
	c.Assert(ok, jc.IsTrue)
	c.Check(wu.Update.Value.Number, gc.Equals, 7.0)

	// Sampling does not clear the staged update: it must be re-observable
	// by a later tick until a newer update replaces it (spec.md §8 S4).
	wu2, ok := w.LastWatchUpdate()
	c.Assert(ok, jc.IsTrue)
	c.Check(wu2.Update.Value.Number, gc.Equals, 7.0)
}

func (s *WatchSuite) TestHandleLastWrittenSetsDatesAndNotifies(c *gc.C) {
	pool := newPool(c)
	group := &fakeGroup{direct: true}
	w, err := watch.New("w1", "a%2Fb", pool, group, nil)
	c.Assert(err, jc.ErrorIsNil)

	var got []watch.WrittenEvent
	var mu sync.Mutex
	unsub := w.AddHandler(func(e watch.WrittenEvent) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	defer unsub.Unsubscribe()

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.HandleLastWritten(value.Value{Type: value.TypeNumber, Number: 1}, t1)
	c.Check(w.StartDate(), gc.Equals, t1)
	c.Check(w.EndDate(), gc.Equals, t1)

	t2 := t1.Add(time.Minute)
	w.HandleLastWritten(value.Value{Type: value.TypeNumber, Number: 2}, t2)
	c.Check(w.StartDate(), gc.Equals, t1)
	c.Check(w.EndDate(), gc.Equals, t2)
	c.Check(w.LastWrittenValue().Number, gc.Equals, 2.0)

	mu.Lock()
	defer mu.Unlock()
	c.Assert(got, gc.HasLen, 2)
	c.Check(got[1].Value.Number, gc.Equals, 2.0)
}

func (s *WatchSuite) TestEnableIsIdempotent(c *gc.C) {
	pool := newPool(c)
	group := &fakeGroup{direct: true}
	w, err := watch.New("w1", "a%2Fb", pool, group, nil)
	c.Assert(err, jc.ErrorIsNil)

	ctx := context.Background()
	c.Assert(w.Enable(ctx, true), jc.ErrorIsNil)
	c.Assert(w.Enable(ctx, true), jc.ErrorIsNil)
	c.Check(w.Enabled(), jc.IsTrue)
	c.Check(pool.ActiveSubscriptions(), gc.DeepEquals, []string{"a/b"})

	c.Assert(w.Unsubscribe(ctx), jc.ErrorIsNil)
	c.Assert(w.Unsubscribe(ctx), jc.ErrorIsNil)
	c.Check(w.Enabled(), jc.IsFalse)
	c.Check(pool.ActiveSubscriptions(), gc.HasLen, 0)
}

func (s *WatchSuite) TestPathIsDecoded(c *gc.C) {
	pool := newPool(c)
	group := &fakeGroup{direct: true}
	w, err := watch.New("w1", "a%2Fb%2Ec", pool, group, nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(w.Path(), gc.Equals, "a/b.c")
	c.Check(w.RawPath(), gc.Equals, "a%2Fb%2Ec")
}
