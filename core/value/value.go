// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package value defines the typed carrier for a bus sample and the
// envelopes the rest of the historian passes it around in.
package value

import (
	"reflect"
	"time"
)

// Type tags the payload carried by a Value.
type Type int

// The set of value types the bus can deliver.
const (
	TypeNull Type = iota
	TypeBool
	TypeNumber
	TypeString
	TypeDynamic
	TypeTime
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeDynamic:
		return "dynamic"
	case TypeTime:
		return "time"
	default:
		return "unknown"
	}
}

// Value is an immutable, tagged sample observed on the bus at a point in
// time. Only the field matching Type is meaningful; the others are zero.
type Value struct {
	Type      Type
	Bool      bool
	Number    float64
	String    string
	Dynamic   any
	Time      time.Time
	Timestamp time.Time
}

// Null is the well-known absent value.
var Null = Value{Type: TypeNull}

// IsNull reports whether v carries no payload.
func (v Value) IsNull() bool {
	return v.Type == TypeNull
}

// Equal reports whether v and other carry the same tag and payload. It is
// the structural equality spec.md §4.A requires for the change predicate.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case TypeNull:
		return true
	case TypeBool:
		return v.Bool == other.Bool
	case TypeNumber:
		return v.Number == other.Number
	case TypeString:
		return v.String == other.String
	case TypeTime:
		return v.Time.Equal(other.Time)
	case TypeDynamic:
		return dynamicEqual(v.Dynamic, other.Dynamic)
	default:
		return false
	}
}

// dynamicEqual compares two dynamic payloads (maps, slices, structured
// documents) by deep structural equality.
func dynamicEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Changed implements the change predicate from spec.md §4.A: either exactly
// one of prev/curr is null, or neither is null and they are structurally
// unequal.
func Changed(prev, curr Value) bool {
	if prev.IsNull() != curr.IsNull() {
		return true
	}
	if prev.IsNull() && curr.IsNull() {
		return false
	}
	return !prev.Equal(curr)
}

// SubscriptionUpdate is what the bus delivers: a path, the value observed
// at that path, and optional metadata the bus attached to the delivery.
type SubscriptionUpdate struct {
	Path     string
	Value    Value
	Metadata map[string]string
}

// WatchUpdate is the envelope queued inside a WatchGroup. IntervalTimestamp
// is non-zero only when the owning group is sampling on an interval; it
// overrides Update.Value.Timestamp when the row is finally written.
type WatchUpdate struct {
	WatchID           string
	Update            SubscriptionUpdate
	IntervalTimestamp time.Time
}

// HasIntervalTimestamp reports whether wu carries an interval-sampler
// timestamp rather than relying on the value's own timestamp.
func (wu WatchUpdate) HasIntervalTimestamp() bool {
	return !wu.IntervalTimestamp.IsZero()
}

// WriteTimestamp resolves the timestamp a store should persist for this
// update, per the "timestamp policy at write" rule in spec.md §4.D.
func (wu WatchUpdate) WriteTimestamp() time.Time {
	if wu.HasIntervalTimestamp() {
		return wu.IntervalTimestamp
	}
	return wu.Update.Value.Timestamp
}
