// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package historianlogger defines the logging interface the historian's
// components depend on, and a loggo-backed implementation of it.
package historianlogger

import (
	"github.com/juju/loggo/v2"
)

// Logger is the logging surface every component in this module depends
// on, rather than a concrete logging library. Modelled on
// worker/changestream.Logger from the teacher repository.
type Logger interface {
	Errorf(message string, args ...interface{})
	Warningf(message string, args ...interface{})
	Infof(message string, args ...interface{})
	Debugf(message string, args ...interface{})
	Tracef(message string, args ...interface{})
	IsTraceEnabled() bool
}

// loggoLogger adapts a loggo.Logger to the Logger interface.
type loggoLogger struct {
	logger loggo.Logger
}

// NewLoggo returns a Logger backed by loggo, under the given module name.
func NewLoggo(name string) Logger {
	return loggoLogger{logger: loggo.GetLogger(name)}
}

func (l loggoLogger) Errorf(message string, args ...interface{})   { l.logger.Errorf(message, args...) }
func (l loggoLogger) Warningf(message string, args ...interface{}) { l.logger.Warningf(message, args...) }
func (l loggoLogger) Infof(message string, args ...interface{})    { l.logger.Infof(message, args...) }
func (l loggoLogger) Debugf(message string, args ...interface{})   { l.logger.Debugf(message, args...) }
func (l loggoLogger) Tracef(message string, args ...interface{})   { l.logger.Tracef(message, args...) }
func (l loggoLogger) IsTraceEnabled() bool                         { return l.logger.IsTraceEnabled() }
