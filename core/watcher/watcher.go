// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package watcher holds small watcher/worker primitives shared across the
// historian.
package watcher
