// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package facade is the minimal node-tree action registry the historian
// needs, adapted from the teacher's apiserver/facade package: a
// facade is a request handler keyed by name and version, constructed
// lazily from a Context the registry hands it.
package facade

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/juju/errors"

	"github.com/dsahistorian/historian/core/historianlogger"
)

// Facade is any node-tree action surface. It carries no required methods
// of its own, matching the teacher's own marker-interface convention —
// callers type-assert to the concrete facade they registered.
type Facade interface{}

// Authorizer answers whether the caller may perform action against a
// node-tree path. The historian has no model/controller tag hierarchy,
// so this is deliberately narrower than the teacher's
// permission.AdminAccess-based Authorizer: one check, scoped to a path.
type Authorizer interface {
	Authorize(ctx context.Context, action, path string) error
}

// AllowAll is an Authorizer that never refuses — the default for a
// single-tenant historian process with no external auth configured.
type AllowAll struct{}

// Authorize always succeeds.
func (AllowAll) Authorize(context.Context, string, string) error { return nil }

// Context bundles what a facade constructor needs: the teacher's
// facade.ModelContext narrowed to what a historian facade actually uses —
// no model/controller UUIDs, since the historian has no model concept.
type Context interface {
	Auth() Authorizer
	Logger() historianlogger.Logger
}

// Factory constructs a Facade from a Context.
type Factory func(stdCtx context.Context, ctx Context) (Facade, error)

// Registry is where a facade package's Register function registers
// itself, mirroring the teacher's facade.FacadeRegistry.
type Registry interface {
	MustRegister(name string, version int, factory Factory, facadeType reflect.Type)
}

type registration struct {
	factory    Factory
	facadeType reflect.Type
}

// Registrar is the concrete Registry implementation: a process-wide
// table of name+version to constructor, queried by the node-tree
// dispatcher when an action subtree is first touched.
type Registrar struct {
	mu  sync.RWMutex
	regs map[string]map[int]registration
}

// NewRegistrar returns an empty Registrar.
func NewRegistrar() *Registrar {
	return &Registrar{regs: make(map[string]map[int]registration)}
}

// MustRegister panics if name+version is already registered, matching the
// teacher's fail-fast-at-startup registration convention: a duplicate
// registration is a programming error, never a runtime condition to
// recover from.
func (r *Registrar) MustRegister(name string, version int, factory Factory, facadeType reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.regs[name]
	if !ok {
		versions = make(map[int]registration)
		r.regs[name] = versions
	}
	if _, exists := versions[version]; exists {
		panic(fmt.Sprintf("facade %q version %d already registered", name, version))
	}
	versions[version] = registration{factory: factory, facadeType: facadeType}
}

// Get constructs the facade registered under name+version.
func (r *Registrar) Get(stdCtx context.Context, ctx Context, name string, version int) (Facade, error) {
	r.mu.RLock()
	versions, ok := r.regs[name]
	if !ok {
		r.mu.RUnlock()
		return nil, errors.NotFoundf("facade %q", name)
	}
	reg, ok := versions[version]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFoundf("facade %q version %d", name, version)
	}
	return reg.factory(stdCtx, ctx)
}
