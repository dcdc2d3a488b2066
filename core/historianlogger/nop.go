// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package historianlogger

// Nop is a Logger that discards everything; useful as a default in tests
// that don't care about log output.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Errorf(string, ...interface{})   {}
func (nopLogger) Warningf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})    {}
func (nopLogger) Debugf(string, ...interface{})   {}
func (nopLogger) Tracef(string, ...interface{})   {}
func (nopLogger) IsTraceEnabled() bool            { return false }
