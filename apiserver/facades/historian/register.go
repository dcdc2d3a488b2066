// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package historian

import (
	"context"
	"reflect"

	"github.com/dsahistorian/historian/apiserver/facade"
	"github.com/dsahistorian/historian/provider"
)

// Register exposes the historian facade for the group groupID onto
// registry under the name "Historian", version 1 — mirroring the teacher's
// per-package Register(registry facade.FacadeRegistry) convention. Since
// registrations are keyed by name and version, one registry serves the
// facade of a single group; registering a second group panics.
func Register(registry facade.Registry, prov *provider.DatabaseProvider, aliases AliasSetter, groupID string) {
	registry.MustRegister("Historian", 1, func(stdCtx context.Context, ctx facade.Context) (facade.Facade, error) {
		return newFacade(ctx, prov, aliases, groupID)
	}, reflect.TypeOf((*API)(nil)))
}
