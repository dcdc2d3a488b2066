// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"

	"github.com/juju/errors"

	"github.com/dsahistorian/historian/apiserver/facade"
	"github.com/dsahistorian/historian/apiserver/facades/historian"
	"github.com/dsahistorian/historian/config"
	"github.com/dsahistorian/historian/provider"
	"github.com/dsahistorian/historian/store"
	"github.com/dsahistorian/historian/store/sqlitestore"
)

// daemon is the running process: a provider owning the one WatchGroup
// this binary serves, and the facade registry fronting it.
type daemon struct {
	provider *provider.DatabaseProvider
	registry *facade.Registrar
	db       *sqlitestore.Store
}

// start wires a Config into a running daemon, the constructor a real
// main() and a test both call.
func start(cfg Config) (*daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	db, err := sqlitestore.Open(cfg.SqlitePath, cfg.Clock)
	if err != nil {
		return nil, errors.Annotate(err, "opening sqlite store")
	}

	dbFactory := func(groupID string) (store.Database, error) {
		return db, nil
	}

	prov, err := provider.New(cfg.Clock, cfg.Client, dbFactory, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, errors.Annotate(err, "starting provider")
	}

	groupCfg, err := config.Load(cfg.ConfigSource)
	if err != nil {
		prov.Kill()
		db.Close()
		return nil, errors.Annotate(err, "loading group config")
	}

	if _, err := prov.AddGroup(cfg.GroupID, groupCfg); err != nil {
		prov.Kill()
		db.Close()
		return nil, errors.Annotatef(err, "adding group %q", cfg.GroupID)
	}

	registry := facade.NewRegistrar()
	historian.Register(registry, prov, cfg.Aliases, cfg.GroupID)

	return &daemon{provider: prov, registry: registry, db: db}, nil
}

// wait blocks until ctx is cancelled, then tears the daemon down.
func (d *daemon) wait(ctx context.Context) error {
	<-ctx.Done()
	d.provider.Kill()
	err := d.provider.Wait()
	if closeErr := d.db.Close(); err == nil {
		err = closeErr
	}
	return errors.Trace(err)
}
