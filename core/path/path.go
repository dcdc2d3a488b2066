// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package path decodes and encodes the small set of escape sequences the
// bus uses in raw node names, per spec.md §6.
package path

import "strings"

// Decode unescapes a raw node name exactly once: %2F becomes /, %2E
// becomes . . Decode must never be applied more than once to the same
// string, or a literal "%2F" embedded in a path component would be
// mangled.
func Decode(raw string) string {
	s := strings.ReplaceAll(raw, "%2F", "/")
	s = strings.ReplaceAll(s, "%2E", ".")
	return s
}

// Encode re-escapes a decoded path for display as a single raw node name.
func Encode(decoded string) string {
	s := strings.ReplaceAll(decoded, ".", "%2E")
	s = strings.ReplaceAll(s, "/", "%2F")
	return s
}
