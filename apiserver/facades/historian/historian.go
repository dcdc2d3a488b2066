// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package historian implements the node-tree action facade spec.md §6
// describes: per-group actions (addWatchPath, edit, delete,
// restoreGetHistoryAction) and per-Watch actions/attributes
// (enabled, startDate, endDate, lwv, unsubscribe, getHistory), grounded
// on the teacher's apiserver/facades/client/qotd facade shape.
package historian

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/dsahistorian/historian/apiserver/facade"
	"github.com/dsahistorian/historian/core/historianlogger"
	"github.com/dsahistorian/historian/core/value"
	"github.com/dsahistorian/historian/provider"
	"github.com/dsahistorian/historian/rpc/params"
	"github.com/dsahistorian/historian/watch"
	"github.com/dsahistorian/historian/watchgroup"
)

// AliasSetter publishes the bus-side `@@getHistory` alias spec.md §6
// describes. The wire protocol of the bus itself is out of scope
// (spec.md §1); this is the narrow contract a concrete bus client must
// satisfy for restoreGetHistoryAction to do anything beyond a no-op.
type AliasSetter interface {
	SetAlias(ctx context.Context, path string, payload map[string]any) error
}

// API implements the historian's node-tree action facade, one instance
// per WatchGroup the way the teacher's QOTDAPI is one instance per
// client connection.
type API struct {
	authorizer facade.Authorizer
	logger     historianlogger.Logger
	provider   *provider.DatabaseProvider
	aliases    AliasSetter
	groupID    string
}

// newFacade constructs an API bound to an existing group, the
// constructor a Register call wires into the facade registry.
func newFacade(ctx facade.Context, prov *provider.DatabaseProvider, aliases AliasSetter, groupID string) (*API, error) {
	if prov == nil {
		return nil, errors.NotValidf("nil DatabaseProvider")
	}
	if groupID == "" {
		return nil, errors.NotValidf("empty group id")
	}
	return &API{
		authorizer: ctx.Auth(),
		logger:     ctx.Logger(),
		provider:   prov,
		aliases:    aliases,
		groupID:    groupID,
	}, nil
}

func (a *API) group() (*watchgroup.WatchGroup, error) {
	g, ok := a.provider.Group(a.groupID)
	if !ok {
		return nil, errors.NotFoundf("group %q", a.groupID)
	}
	return g, nil
}

func (a *API) checkAuth(ctx context.Context, action string) error {
	if a.authorizer == nil {
		return nil
	}
	return a.authorizer.Authorize(ctx, action, a.groupID)
}

// AddWatchPath implements the `addWatchPath` action (spec.md §6): adds a
// Watch for Path to the bound group.
func (a *API) AddWatchPath(ctx context.Context, arg params.AddWatchPathArgs) (params.AddWatchPathResult, error) {
	if err := a.checkAuth(ctx, "addWatchPath"); err != nil {
		return params.AddWatchPathResult{}, errors.Trace(err)
	}
	if arg.Path == "" {
		return params.AddWatchPathResult{Error: &params.Error{Message: "empty path", Code: params.CodeBadPath}}, nil
	}

	g, err := a.group()
	if err != nil {
		return params.AddWatchPathResult{}, errors.Trace(err)
	}

	id := uuid.NewString()
	if _, err := g.AddWatch(ctx, id, arg.Path); err != nil {
		if errors.IsAlreadyExists(err) {
			return params.AddWatchPathResult{Error: &params.Error{Message: err.Error(), Code: params.CodeAlreadyExists}}, nil
		}
		return params.AddWatchPathResult{Error: &params.Error{Message: err.Error(), Code: params.CodeStoreFailure}}, nil
	}
	return params.AddWatchPathResult{WatchID: id}, nil
}

// Edit implements the group `edit` action (spec.md §6): applies new
// buffer-flush/logging-type/interval policy.
func (a *API) Edit(ctx context.Context, arg params.EditGroupArgs) (params.EditGroupResult, error) {
	if err := a.checkAuth(ctx, "edit"); err != nil {
		return params.EditGroupResult{}, errors.Trace(err)
	}

	g, err := a.group()
	if err != nil {
		return params.EditGroupResult{}, errors.Trace(err)
	}

	loggingType, err := watchgroup.ParseLoggingType(arg.LoggingType)
	if err != nil {
		return params.EditGroupResult{Error: &params.Error{Message: err.Error(), Code: params.CodeBadPath}}, nil
	}

	cfg := watchgroup.Config{
		LoggingType:        loggingType,
		BufferFlushSeconds: arg.BufferFlushSeconds,
		IntervalSeconds:    arg.IntervalSeconds,
	}
	if err := g.EditSettings(cfg); err != nil {
		return params.EditGroupResult{Error: &params.Error{Message: err.Error(), Code: params.CodeStoreFailure}}, nil
	}
	return params.EditGroupResult{}, nil
}

// Delete implements the group `delete` action: unsubscribes the group
// and removes it from the provider's registry.
func (a *API) Delete(ctx context.Context) (params.DeleteGroupResult, error) {
	if err := a.checkAuth(ctx, "delete"); err != nil {
		return params.DeleteGroupResult{}, errors.Trace(err)
	}
	if err := a.provider.RemoveGroup(ctx, a.groupID); err != nil {
		return params.DeleteGroupResult{Error: &params.Error{Message: err.Error(), Code: params.CodeNotFound}}, nil
	}
	return params.DeleteGroupResult{}, nil
}

// RestoreGetHistoryAction rebuilds the `@@getHistory` alias on every
// Watch in the group. Idempotent and batched in one pass, per
// SPEC_FULL.md's supplement to spec.md §6's terse description.
func (a *API) RestoreGetHistoryAction(ctx context.Context) (params.RestoreGetHistoryActionResult, error) {
	if err := a.checkAuth(ctx, "restoreGetHistoryAction"); err != nil {
		return params.RestoreGetHistoryActionResult{}, errors.Trace(err)
	}

	g, err := a.group()
	if err != nil {
		return params.RestoreGetHistoryActionResult{}, errors.Trace(err)
	}

	if a.aliases == nil {
		return params.RestoreGetHistoryActionResult{}, nil
	}

	var restored int
	for _, w := range g.Watches() {
		payload := map[string]any{
			"@":    "merge",
			"type": "paths",
			"val":  []string{w.Path() + "/getHistory"},
		}
		if err := a.aliases.SetAlias(ctx, w.Path()+"/@@getHistory", payload); err != nil {
			a.logger.Warningf("setting @@getHistory alias for %q: %v", w.Path(), err)
			return params.RestoreGetHistoryActionResult{RestoredCount: restored,
				Error: &params.Error{Message: err.Error(), Code: params.CodeStoreFailure}}, nil
		}
		restored++
	}
	return params.RestoreGetHistoryActionResult{RestoredCount: restored}, nil
}

func (a *API) watch(id string) (*watch.Watch, error) {
	g, err := a.group()
	if err != nil {
		return nil, errors.Trace(err)
	}
	w, ok := g.Watch(id)
	if !ok {
		return nil, errors.NotFoundf("watch %q", id)
	}
	return w, nil
}

// SetEnabled implements a Watch's writable `enabled` node.
func (a *API) SetEnabled(ctx context.Context, arg params.SetEnabledArgs) (params.SetEnabledResult, error) {
	if err := a.checkAuth(ctx, "enabled"); err != nil {
		return params.SetEnabledResult{}, errors.Trace(err)
	}
	w, err := a.watch(arg.WatchID)
	if err != nil {
		return params.SetEnabledResult{Error: &params.Error{Message: err.Error(), Code: params.CodeNotFound}}, nil
	}
	if err := w.Enable(ctx, arg.Enabled); err != nil {
		return params.SetEnabledResult{Error: &params.Error{Message: err.Error(), Code: params.CodeStoreFailure}}, nil
	}
	return params.SetEnabledResult{}, nil
}

// WatchInfo reads a Watch's `enabled`/`startDate`/`endDate`/`lwv` nodes.
func (a *API) WatchInfo(ctx context.Context, watchID string) (params.WatchInfoResult, error) {
	if err := a.checkAuth(ctx, "watchInfo"); err != nil {
		return params.WatchInfoResult{}, errors.Trace(err)
	}
	w, err := a.watch(watchID)
	if err != nil {
		return params.WatchInfoResult{Error: &params.Error{Message: err.Error(), Code: params.CodeNotFound}}, nil
	}
	return params.WatchInfoResult{
		WatchID:          w.ID(),
		Path:             w.Path(),
		Enabled:          w.Enabled(),
		StartDate:        w.StartDate(),
		EndDate:          w.EndDate(),
		LastWrittenValue: toDTO(w.LastWrittenValue()),
	}, nil
}

// UnsubscribeWatch implements a Watch's `unsubscribe` action.
func (a *API) UnsubscribeWatch(ctx context.Context, arg params.UnsubscribeWatchArgs) (params.UnsubscribeWatchResult, error) {
	if err := a.checkAuth(ctx, "unsubscribe"); err != nil {
		return params.UnsubscribeWatchResult{}, errors.Trace(err)
	}
	g, err := a.group()
	if err != nil {
		return params.UnsubscribeWatchResult{}, errors.Trace(err)
	}
	if err := g.RemoveWatch(ctx, arg.WatchID); err != nil {
		return params.UnsubscribeWatchResult{Error: &params.Error{Message: err.Error(), Code: params.CodeNotFound}}, nil
	}
	return params.UnsubscribeWatchResult{}, nil
}

// GetHistory implements the range-query front end, delegating to
// Database.Query via the owning group (spec.md §6).
func (a *API) GetHistory(ctx context.Context, arg params.GetHistoryArgs) (params.GetHistoryResult, error) {
	if err := a.checkAuth(ctx, "getHistory"); err != nil {
		return params.GetHistoryResult{}, errors.Trace(err)
	}
	g, err := a.group()
	if err != nil {
		return params.GetHistoryResult{}, errors.Trace(err)
	}
	w, err := a.watch(arg.WatchID)
	if err != nil {
		return params.GetHistoryResult{Error: &params.Error{Message: err.Error(), Code: params.CodeNotFound}}, nil
	}

	var rows []params.HistoryRow
	queryErr := a.provider.RunQuery(ctx, func() error {
		return g.Query(ctx, w.Path(), arg.From, arg.To, func(v value.Value, t time.Time) error {
			rows = append(rows, params.HistoryRow{Time: t, Value: toDTO(v)})
			return nil
		})
	})
	if queryErr != nil {
		a.logger.Errorf("querying history for %q: %v", w.Path(), queryErr)
		return params.GetHistoryResult{Error: &params.Error{Message: queryErr.Error(), Code: params.CodeStoreFailure}}, nil
	}
	return params.GetHistoryResult{Rows: rows}, nil
}

func toDTO(v value.Value) params.ValueDTO {
	return params.ValueDTO{
		Type:    v.Type.String(),
		Bool:    v.Bool,
		Number:  v.Number,
		String:  v.String,
		Dynamic: v.Dynamic,
		Time:    v.Time,
	}
}
