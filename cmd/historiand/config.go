// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/dsahistorian/historian/apiserver/facades/historian"
	"github.com/dsahistorian/historian/bus"
	"github.com/dsahistorian/historian/config"
	"github.com/dsahistorian/historian/core/historianlogger"
)

// Config collects everything historiand needs to start a single
// WatchGroup and its facade, the same Validate-before-Start shape the
// teacher's changestream.ManifoldConfig uses.
type Config struct {
	// SqlitePath is the sqlite database file the group persists to.
	SqlitePath string

	// GroupID names the single WatchGroup this process serves.
	GroupID string

	// Client is the bus's own subscription transport. Its wire protocol
	// is out of scope (spec.md §1); a real deployment supplies its own.
	Client bus.Client

	// ConfigSource supplies the group's roConfig bft/lt/i entries. Nil
	// falls back to an empty config.MapKV, which resolves to
	// watchgroup.DefaultConfig.
	ConfigSource config.KV

	// Aliases publishes the @@getHistory bus alias. Nil disables
	// restoreGetHistoryAction rather than failing it.
	Aliases historian.AliasSetter

	// Clock defaults to clock.WallClock.
	Clock clock.Clock

	// Logger defaults to a loggo-backed Logger under "historiand".
	Logger historianlogger.Logger
}

// Validate checks cfg is complete enough to start, filling in the
// optional fields' defaults.
func (cfg *Config) Validate() error {
	if cfg.SqlitePath == "" {
		return errors.NotValidf("empty SqlitePath")
	}
	if cfg.GroupID == "" {
		return errors.NotValidf("empty GroupID")
	}
	if cfg.Client == nil {
		return errors.NotValidf("nil Client")
	}
	if cfg.ConfigSource == nil {
		cfg.ConfigSource = config.MapKV{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = historianlogger.NewLoggo("historiand")
	}
	return nil
}
