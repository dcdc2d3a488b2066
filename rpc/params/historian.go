// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package params

import "time"

// ValueDTO is the wire encoding of core/value.Value: a tagged union
// carried as plain JSON-friendly fields, matching core/value's own
// "only the field matching Type is meaningful" convention.
type ValueDTO struct {
	Type    string    `json:"type"`
	Bool    bool      `json:"bool,omitempty"`
	Number  float64   `json:"number,omitempty"`
	String  string    `json:"string,omitempty"`
	Dynamic any       `json:"dynamic,omitempty"`
	Time    time.Time `json:"time,omitempty"`
}

// AddWatchPathArgs is the addWatchPath action's parameter (spec.md §6).
type AddWatchPathArgs struct {
	Path string `json:"path"`
}

// AddWatchPathResult reports the new Watch's generated id.
type AddWatchPathResult struct {
	WatchID string `json:"watch-id,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// EditGroupArgs is the group `edit` action's parameters (spec.md §6):
// buffer flush time, logging type, and interval, mirroring the
// persisted roConfig keys `bft`, `lt`, `i`.
type EditGroupArgs struct {
	BufferFlushSeconds int    `json:"buffer-flush-time"`
	LoggingType        string `json:"logging-type"`
	IntervalSeconds    int    `json:"interval"`
}

// EditGroupResult reports the outcome of an edit action.
type EditGroupResult struct {
	Error *Error `json:"error,omitempty"`
}

// DeleteGroupResult reports the outcome of a group `delete` action.
type DeleteGroupResult struct {
	Error *Error `json:"error,omitempty"`
}

// RestoreGetHistoryActionResult reports the outcome of rebuilding the
// `@@getHistory` alias on every Watch in a group.
type RestoreGetHistoryActionResult struct {
	RestoredCount int    `json:"restored-count"`
	Error         *Error `json:"error,omitempty"`
}

// SetEnabledArgs toggles a Watch's `enabled` node.
type SetEnabledArgs struct {
	WatchID string `json:"watch-id"`
	Enabled bool   `json:"enabled"`
}

// SetEnabledResult reports the outcome of toggling `enabled`.
type SetEnabledResult struct {
	Error *Error `json:"error,omitempty"`
}

// WatchInfoResult is the read side of a Watch's presentation node:
// `enabled`, `startDate`, `endDate`, `lwv` (spec.md §6).
type WatchInfoResult struct {
	WatchID          string    `json:"watch-id"`
	Path             string    `json:"path"`
	Enabled          bool      `json:"enabled"`
	StartDate        time.Time `json:"start-date"`
	EndDate          time.Time `json:"end-date"`
	LastWrittenValue ValueDTO  `json:"lwv"`
	Error            *Error    `json:"error,omitempty"`
}

// UnsubscribeWatchArgs identifies the Watch to detach.
type UnsubscribeWatchArgs struct {
	WatchID string `json:"watch-id"`
}

// UnsubscribeWatchResult reports the outcome of a Watch's `unsubscribe`
// action.
type UnsubscribeWatchResult struct {
	Error *Error `json:"error,omitempty"`
}

// GetHistoryArgs is the range-query front end's parameters, delegating
// to Database.Query (spec.md §6).
type GetHistoryArgs struct {
	WatchID string    `json:"watch-id"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
}

// HistoryRow is one sample returned by a getHistory action.
type HistoryRow struct {
	Time  time.Time `json:"time"`
	Value ValueDTO  `json:"value"`
}

// GetHistoryResult carries the rows a getHistory action produced.
type GetHistoryResult struct {
	Rows  []HistoryRow `json:"rows,omitempty"`
	Error *Error       `json:"error,omitempty"`
}
