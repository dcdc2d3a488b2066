// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command historiand runs a single WatchGroup against a sqlite-backed
// store and fronts it with the node-tree action facade, the process
// entrypoint SPEC_FULL.md's repository layout names.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"

	"github.com/dsahistorian/historian/core/historianlogger"
)

// stubClient satisfies bus.Client without talking to a real bus. The
// wire protocol is out of scope (spec.md §1); a deployment links in its
// own Client and builds against Config directly rather than this binary
// when it needs one.
type stubClient struct{}

func (stubClient) Subscribe(context.Context, string) error {
	return errors.NotImplementedf("bus client")
}

func (stubClient) Unsubscribe(context.Context, string) error {
	return errors.NotImplementedf("bus client")
}

func main() {
	sqlitePath := flag.String("sqlite", "historian.db", "path to the sqlite database file")
	groupID := flag.String("group", "default", "id of the WatchGroup this process serves")
	flag.Parse()

	logger := historianlogger.NewLoggo("historiand")

	d, err := start(Config{
		SqlitePath: *sqlitePath,
		GroupID:    *groupID,
		Client:     stubClient{},
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "historiand:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Infof("historiand serving group %q from %q", *groupID, *sqlitePath)
	if err := d.wait(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "historiand:", err)
		os.Exit(1)
	}
}
