// Package value implements the tagged value union: the
// nine field kinds a cell can hold, construction, kind-safe accessors,
// equality, and the Add/Subtract arithmetic that the request executor
// drives for adjust-behavior writes.
package value

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/qstore/ids"
)

// Kind is the closed set of field/value kinds.
type Kind int

const (
	KindBlob Kind = iota
	KindBool
	KindChoice
	KindEntityList
	KindEntityReference
	KindFloat
	KindInt
	KindString
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "Blob"
	case KindBool:
		return "Bool"
	case KindChoice:
		return "Choice"
	case KindEntityList:
		return "EntityList"
	case KindEntityReference:
		return "EntityReference"
	case KindFloat:
		return "Float"
	case KindInt:
		return "Int"
	case KindString:
		return "String"
	case KindTimestamp:
		return "Timestamp"
	default:
		return "Unknown"
	}
}

// ParseKind maps a kind name produced by Kind.String back to its
// Kind. Used by the snapshot and wire codecs.
func ParseKind(name string) (Kind, bool) {
	for k := KindBlob; k <= KindTimestamp; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// Value is the tagged union stored in every field cell. The zero
// value is a Blob of nil, which is never produced by the constructors
// below but is harmless as a placeholder.
type Value struct {
	kind Kind

	blob       []byte
	b          bool
	choice     int64
	entityList []ids.EntityId
	entityRef  *ids.EntityId
	f          float64
	i          int64
	s          string
	ts         time.Time
}

func NewBlob(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBlob, blob: cp}
}

func NewBool(b bool) Value { return Value{kind: KindBool, b: b} }

func NewChoice(index int64) Value { return Value{kind: KindChoice, choice: index} }

func NewEntityList(list []ids.EntityId) Value {
	cp := make([]ids.EntityId, len(list))
	copy(cp, list)
	return Value{kind: KindEntityList, entityList: cp}
}

// NewEntityReference builds a reference value. ref == nil represents
// the empty reference.
func NewEntityReference(ref *ids.EntityId) Value {
	var cp *ids.EntityId
	if ref != nil {
		id := *ref
		cp = &id
	}
	return Value{kind: KindEntityReference, entityRef: cp}
}

func NewFloat(f float64) Value { return Value{kind: KindFloat, f: f} }

func NewInt(i int64) Value { return Value{kind: KindInt, i: i} }

func NewString(s string) Value { return Value{kind: KindString, s: s} }

func NewTimestamp(ts time.Time) Value { return Value{kind: KindTimestamp, ts: ts} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsBlob() ([]byte, bool) {
	if v.kind != KindBlob {
		return nil, false
	}
	return v.blob, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsChoice() (int64, bool) {
	if v.kind != KindChoice {
		return 0, false
	}
	return v.choice, true
}

func (v Value) AsEntityList() ([]ids.EntityId, bool) {
	if v.kind != KindEntityList {
		return nil, false
	}
	return v.entityList, true
}

func (v Value) AsEntityReference() (*ids.EntityId, bool) {
	if v.kind != KindEntityReference {
		return nil, false
	}
	return v.entityRef, true
}

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) AsTimestamp() (time.Time, bool) {
	if v.kind != KindTimestamp {
		return time.Time{}, false
	}
	return v.ts, true
}

// Equal reports deep equality, used for Changes push conditions and
// trigger_on_change notification filtering.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBlob:
		return bytes.Equal(v.blob, o.blob)
	case KindBool:
		return v.b == o.b
	case KindChoice:
		return v.choice == o.choice
	case KindEntityList:
		return slices.Equal(v.entityList, o.entityList)
	case KindEntityReference:
		if v.entityRef == nil || o.entityRef == nil {
			return v.entityRef == o.entityRef
		}
		return *v.entityRef == *o.entityRef
	case KindFloat:
		return v.f == o.f
	case KindInt:
		return v.i == o.i
	case KindString:
		return v.s == o.s
	case KindTimestamp:
		return v.ts.Equal(o.ts)
	default:
		return false
	}
}

// DebugString renders a short human-readable form for logs and error
// details; it is not a wire format.
func (v Value) DebugString() string {
	switch v.kind {
	case KindBlob:
		return fmt.Sprintf("Blob(%d bytes)", len(v.blob))
	case KindBool:
		return fmt.Sprintf("Bool(%v)", v.b)
	case KindChoice:
		return fmt.Sprintf("Choice(%d)", v.choice)
	case KindEntityList:
		return fmt.Sprintf("EntityList(%v)", v.entityList)
	case KindEntityReference:
		if v.entityRef == nil {
			return "EntityReference(none)"
		}
		return fmt.Sprintf("EntityReference(%s)", v.entityRef)
	case KindFloat:
		return fmt.Sprintf("Float(%v)", v.f)
	case KindInt:
		return fmt.Sprintf("Int(%v)", v.i)
	case KindString:
		return fmt.Sprintf("String(%q)", v.s)
	case KindTimestamp:
		return fmt.Sprintf("Timestamp(%s)", v.ts.Format(time.RFC3339Nano))
	default:
		return "Unknown"
	}
}

// Add implements the Add adjust behavior.
func (v Value) Add(other Value) (Value, error) {
	if v.kind != other.kind {
		return Value{}, qerrors.ValueTypeMismatch("", "", other.kind.String(), v.kind.String())
	}
	switch v.kind {
	case KindInt:
		return NewInt(v.i + other.i), nil
	case KindFloat:
		return NewFloat(v.f + other.f), nil
	case KindString:
		return NewString(v.s + other.s), nil
	case KindBlob:
		cp := make([]byte, 0, len(v.blob)+len(other.blob))
		cp = append(cp, v.blob...)
		cp = append(cp, other.blob...)
		return Value{kind: KindBlob, blob: cp}, nil
	case KindEntityList:
		return NewEntityList(unionPreserveOrder(v.entityList, other.entityList)), nil
	case KindEntityReference:
		if v.entityRef != nil {
			return v, nil
		}
		return other, nil
	default:
		return Value{}, qerrors.UnsupportedAdjustBehavior("", "", "Add")
	}
}

// Subtract implements the Subtract adjust behavior.
func (v Value) Subtract(other Value) (Value, error) {
	if v.kind != other.kind {
		return Value{}, qerrors.ValueTypeMismatch("", "", other.kind.String(), v.kind.String())
	}
	switch v.kind {
	case KindInt:
		return NewInt(v.i - other.i), nil
	case KindFloat:
		return NewFloat(v.f - other.f), nil
	case KindEntityList:
		return NewEntityList(difference(v.entityList, other.entityList)), nil
	case KindEntityReference:
		if v.entityRef != nil && other.entityRef != nil && *v.entityRef == *other.entityRef {
			return NewEntityReference(nil), nil
		}
		return v, nil
	default:
		return Value{}, qerrors.UnsupportedAdjustBehavior("", "", "Subtract")
	}
}

func unionPreserveOrder(a, b []ids.EntityId) []ids.EntityId {
	seen := make(map[ids.EntityId]struct{}, len(a)+len(b))
	out := make([]ids.EntityId, 0, len(a)+len(b))
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func difference(a, b []ids.EntityId) []ids.EntityId {
	remove := make(map[ids.EntityId]struct{}, len(b))
	for _, id := range b {
		remove[id] = struct{}{}
	}
	out := make([]ids.EntityId, 0, len(a))
	for _, id := range a {
		if _, ok := remove[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
