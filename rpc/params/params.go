// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package params holds the wire request/response types for the
// historian's node-tree action facade, mirroring the teacher's
// rpc/params package: plain structs, JSON-tagged, with a shared Error
// envelope distinguishing failure kinds.
package params

// Well-known error codes a historian facade call can return, narrowed
// from the teacher's much larger apiserver/errors code table to the
// failure kinds spec.md §7 actually names.
const (
	CodeBadPath       = "bad path"
	CodeNotFound      = "not found"
	CodeAlreadyExists = "already exists"
	CodeStoreFailure  = "store failure"
)

// Error is the standard failure envelope returned alongside (or instead
// of) a facade call's result.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Error implements the error interface so an *Error can be returned and
// compared like any other Go error.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ErrCode reports an Error's code, or "" for a nil Error.
func ErrCode(err *Error) string {
	if err == nil {
		return ""
	}
	return err.Code
}
