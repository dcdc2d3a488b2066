// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package watchgroup_test

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/dsahistorian/historian/bus"
	"github.com/dsahistorian/historian/core/value"
	"github.com/dsahistorian/historian/store"
	"github.com/dsahistorian/historian/watchgroup"
)

func Test(t *testing.T) { gc.TestingT(t) }

type GroupSuite struct{}

var _ = gc.Suite(&GroupSuite{})

type fakeClient struct{}

func (fakeClient) Subscribe(context.Context, string) error   { return nil }
func (fakeClient) Unsubscribe(context.Context, string) error { return nil }

func newGroup(c *gc.C, clk *testclock.Clock, db store.Database, cfg watchgroup.Config) (*watchgroup.WatchGroup, *bus.SubscriptionPool) {
	pool, err := bus.NewSubscriptionPool(fakeClient{}, nil)
	c.Assert(err, jc.ErrorIsNil)
	g, err := watchgroup.New("g1", clk, db, pool, nil, cfg)
	c.Assert(err, jc.ErrorIsNil)
	return g, pool
}

func numberUpdate(path string, n float64, t time.Time) value.SubscriptionUpdate {
	return value.SubscriptionUpdate{Path: path, Value: value.Value{Type: value.TypeNumber, Number: n, Timestamp: t}}
}

func queryAll(c *gc.C, db store.Database, path string) []struct {
	n float64
	t time.Time
} {
	var got []struct {
		n float64
		t time.Time
	}
	err := db.Query(context.Background(), path, time.Time{}, time.Now().Add(100*365*24*time.Hour), func(v value.Value, t time.Time) error {
		got = append(got, struct {
			n float64
			t time.Time
		}{v.Number, t})
		return nil
	})
	c.Assert(err, jc.ErrorIsNil)
	return got
}

// S1 — ALL_DATA direct write, no buffer.
func (s *GroupSuite) TestAllDataDirectWrite(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	db := store.NewMemory()
	g, pool := newGroup(c, clk, db, watchgroup.Config{LoggingType: watchgroup.AllData, BufferFlushSeconds: 0})
	ctx := context.Background()

	w, err := g.AddWatch(ctx, "w1", "a%2Fb")
	c.Assert(err, jc.ErrorIsNil)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pool.Dispatch(numberUpdate("a/b", 1, t0.Add(100*time.Millisecond)))
	pool.Dispatch(numberUpdate("a/b", 1, t0.Add(200*time.Millisecond)))
	pool.Dispatch(numberUpdate("a/b", 2, t0.Add(300*time.Millisecond)))

	rows := queryAll(c, db, "a/b")
	c.Assert(rows, gc.HasLen, 3)
	c.Check(rows[0].n, gc.Equals, 1.0)
	c.Check(rows[1].n, gc.Equals, 1.0)
	c.Check(rows[2].n, gc.Equals, 2.0)
	c.Check(w.EndDate(), gc.Equals, t0.Add(300*time.Millisecond))
	c.Check(w.StartDate(), gc.Equals, t0.Add(100*time.Millisecond))
}

// S2 — POINT_CHANGE filters duplicates.
func (s *GroupSuite) TestPointChangeFiltersDuplicates(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	db := store.NewMemory()
	g, pool := newGroup(c, clk, db, watchgroup.Config{LoggingType: watchgroup.PointChange, BufferFlushSeconds: 0})
	ctx := context.Background()

	w, err := g.AddWatch(ctx, "w1", "a%2Fb")
	c.Assert(err, jc.ErrorIsNil)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pool.Dispatch(numberUpdate("a/b", 1, t0.Add(100*time.Millisecond)))
	pool.Dispatch(numberUpdate("a/b", 1, t0.Add(200*time.Millisecond)))
	pool.Dispatch(numberUpdate("a/b", 2, t0.Add(300*time.Millisecond)))

	rows := queryAll(c, db, "a/b")
	c.Assert(rows, gc.HasLen, 2)
	c.Check(rows[0].n, gc.Equals, 1.0)
	c.Check(rows[1].n, gc.Equals, 2.0)
	c.Check(w.LastValue().Number, gc.Equals, 2.0)
}

// Invariant 2: lastValue tracks every update, null or not, so a
// null-then-repeat sequence is still recognised as a change.
func (s *GroupSuite) TestPointChangeTracksLastValueAcrossNull(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	db := store.NewMemory()
	g, pool := newGroup(c, clk, db, watchgroup.Config{LoggingType: watchgroup.PointChange, BufferFlushSeconds: 0})
	ctx := context.Background()

	w, err := g.AddWatch(ctx, "w1", "a%2Fb")
	c.Assert(err, jc.ErrorIsNil)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pool.Dispatch(numberUpdate("a/b", 5, t0.Add(100*time.Millisecond)))
	pool.Dispatch(value.SubscriptionUpdate{Path: "a/b", Value: value.Value{Type: value.TypeNull, Timestamp: t0.Add(200 * time.Millisecond)}})
	pool.Dispatch(numberUpdate("a/b", 5, t0.Add(300*time.Millisecond)))

	rows := queryAll(c, db, "a/b")
	c.Assert(rows, gc.HasLen, 2)
	c.Check(rows[0].n, gc.Equals, 5.0)
	c.Check(rows[1].n, gc.Equals, 5.0)
	c.Check(w.LastValue().IsNull(), jc.IsFalse)
	c.Check(w.LastValue().Number, gc.Equals, 5.0)
}

func waitUntil(c *gc.C, cond func() bool) {
	for i := 0; i < 500 && !cond(); i++ {
		time.Sleep(time.Millisecond)
	}
	c.Assert(cond(), jc.IsTrue)
}

// S3 — Buffered flush.
func (s *GroupSuite) TestBufferedFlush(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	db := store.NewMemory()
	g, pool := newGroup(c, clk, db, watchgroup.Config{LoggingType: watchgroup.AllData, BufferFlushSeconds: 1})
	ctx := context.Background()

	_, err := g.AddWatch(ctx, "w1", "a%2Fb")
	c.Assert(err, jc.ErrorIsNil)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		pool.Dispatch(numberUpdate("a/b", float64(i), t0.Add(time.Duration(i)*60*time.Millisecond)))
	}

	c.Check(queryAll(c, db, "a/b"), gc.HasLen, 0)
	c.Check(g.QueueLen(), gc.Equals, 5)

	c.Assert(clk.WaitAdvance(time.Second, time.Second, 1), jc.ErrorIsNil)
	waitUntil(c, func() bool { return len(queryAll(c, db, "a/b")) == 5 })
	c.Check(g.QueueLen(), gc.Equals, 0)

	w, ok := g.Watch("w1")
	c.Assert(ok, jc.IsTrue)
	waitUntil(c, func() bool { return w.LastWrittenValue().Number == 4 })
}

// S4 — INTERVAL sampling.
func (s *GroupSuite) TestIntervalSampling(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	db := store.NewMemory()
	g, pool := newGroup(c, clk, db, watchgroup.Config{LoggingType: watchgroup.Interval, IntervalSeconds: 1, BufferFlushSeconds: 0})
	ctx := context.Background()

	_, err := g.AddWatch(ctx, "w1", "a%2Fb")
	c.Assert(err, jc.ErrorIsNil)

	pool.Dispatch(numberUpdate("a/b", 7, time.Now()))

	c.Assert(clk.WaitAdvance(time.Second, time.Second, 1), jc.ErrorIsNil)
	waitUntil(c, func() bool { return len(queryAll(c, db, "a/b")) == 1 })

	c.Assert(clk.WaitAdvance(time.Second, time.Second, 1), jc.ErrorIsNil)
	waitUntil(c, func() bool { return len(queryAll(c, db, "a/b")) == 2 })

	rows := queryAll(c, db, "a/b")
	c.Assert(rows, gc.HasLen, 2)
	c.Check(rows[0].n, gc.Equals, 7.0)
	c.Check(rows[1].n, gc.Equals, 7.0)
	c.Check(rows[0].t.Equal(rows[1].t), jc.IsFalse)
}

// S5 — Reconfiguration: queued update drains before the next direct write.
func (s *GroupSuite) TestReconfigurationDrainsQueueInOrder(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	db := store.NewMemory()
	g, pool := newGroup(c, clk, db, watchgroup.Config{LoggingType: watchgroup.AllData, BufferFlushSeconds: 5})
	ctx := context.Background()

	_, err := g.AddWatch(ctx, "w1", "a%2Fb")
	c.Assert(err, jc.ErrorIsNil)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pool.Dispatch(numberUpdate("a/b", 1, t0))
	c.Check(g.QueueLen(), gc.Equals, 1)
	c.Check(queryAll(c, db, "a/b"), gc.HasLen, 0)

	c.Assert(g.EditSettings(watchgroup.Config{LoggingType: watchgroup.AllData, BufferFlushSeconds: 0}), jc.ErrorIsNil)

	pool.Dispatch(numberUpdate("a/b", 2, t0.Add(time.Second)))

	rows := queryAll(c, db, "a/b")
	c.Assert(rows, gc.HasLen, 2)
	c.Check(rows[0].n, gc.Equals, 1.0)
	c.Check(rows[1].n, gc.Equals, 2.0)
	c.Check(g.QueueLen(), gc.Equals, 0)
}

// S6 — Drain on bypass: three buffered updates then an edit to bft=0.
func (s *GroupSuite) TestDrainOnBypassFlushesAllThenNewWrite(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	db := store.NewMemory()
	g, pool := newGroup(c, clk, db, watchgroup.Config{LoggingType: watchgroup.AllData, BufferFlushSeconds: 5})
	ctx := context.Background()

	_, err := g.AddWatch(ctx, "w1", "a%2Fb")
	c.Assert(err, jc.ErrorIsNil)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		pool.Dispatch(numberUpdate("a/b", float64(i), t0.Add(time.Duration(i)*time.Second)))
	}
	c.Check(g.QueueLen(), gc.Equals, 3)

	c.Assert(g.EditSettings(watchgroup.Config{LoggingType: watchgroup.AllData, BufferFlushSeconds: 0}), jc.ErrorIsNil)

	pool.Dispatch(numberUpdate("a/b", 3, t0.Add(3*time.Second)))

	rows := queryAll(c, db, "a/b")
	c.Assert(rows, gc.HasLen, 4)
	for i, r := range rows {
		c.Check(r.n, gc.Equals, float64(i))
	}
}

// Invariant 5: after EditSettings disables the interval sampler, no tick
// scheduled under the old parameters fires.
func (s *GroupSuite) TestEditSettingsCancelsStaleTicks(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	db := store.NewMemory()
	g, pool := newGroup(c, clk, db, watchgroup.Config{LoggingType: watchgroup.Interval, IntervalSeconds: 1})
	ctx := context.Background()

	_, err := g.AddWatch(ctx, "w1", "a%2Fb")
	c.Assert(err, jc.ErrorIsNil)
	pool.Dispatch(numberUpdate("a/b", 7, time.Now()))

	c.Assert(g.EditSettings(watchgroup.Config{LoggingType: watchgroup.AllData, IntervalSeconds: 0}), jc.ErrorIsNil)

	// No waiters should exist for the old 1s interval timer any more; give
	// the clock a chance to pass the old period and confirm nothing wrote.
	clk.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	c.Check(queryAll(c, db, "a/b"), gc.HasLen, 0)
}

func (s *GroupSuite) TestUnsubscribeDetachesWatchesAndClearsQueue(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	db := store.NewMemory()
	g, pool := newGroup(c, clk, db, watchgroup.Config{LoggingType: watchgroup.AllData, BufferFlushSeconds: 5})
	ctx := context.Background()

	_, err := g.AddWatch(ctx, "w1", "a%2Fb")
	c.Assert(err, jc.ErrorIsNil)
	pool.Dispatch(numberUpdate("a/b", 1, time.Now()))
	c.Check(g.QueueLen(), gc.Equals, 1)

	c.Assert(g.Unsubscribe(ctx), jc.ErrorIsNil)
	c.Check(g.Watches(), gc.HasLen, 0)
	c.Check(g.QueueLen(), gc.Equals, 0)
	c.Check(pool.ActiveSubscriptions(), gc.HasLen, 0)
}
