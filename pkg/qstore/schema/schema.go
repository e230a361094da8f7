// Package schema implements single per-type schema storage,
// the inheritance DAG, and the rank-ordered complete-schema builder.
package schema

import (
	"time"

	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/value"
)

var zeroTime = time.Time{}

// StorageScope controls whether a field appears in a configuration
// snapshot or is runtime-only.
type StorageScope int

const (
	ScopeRuntime StorageScope = iota
	ScopeConfiguration
)

// FieldSchema is the tagged field variant: every kind carries the
// owning field type, a matching default, a rank, and a storage scope.
// Choices is only meaningful when Kind == value.KindChoice.
type FieldSchema struct {
	FieldType    ids.FieldType
	Kind         value.Kind
	Default      value.Value
	Rank         int64
	StorageScope StorageScope
	Choices      []string
}

func field(ft ids.FieldType, kind value.Kind, def value.Value, rank int64, scope StorageScope) FieldSchema {
	return FieldSchema{FieldType: ft, Kind: kind, Default: def, Rank: rank, StorageScope: scope}
}

func NewBlobField(ft ids.FieldType, rank int64, scope StorageScope) FieldSchema {
	return field(ft, value.KindBlob, value.NewBlob(nil), rank, scope)
}

func NewBoolField(ft ids.FieldType, rank int64, scope StorageScope) FieldSchema {
	return field(ft, value.KindBool, value.NewBool(false), rank, scope)
}

func NewChoiceField(ft ids.FieldType, choices []string, rank int64, scope StorageScope) FieldSchema {
	fs := field(ft, value.KindChoice, value.NewChoice(0), rank, scope)
	fs.Choices = append([]string(nil), choices...)
	return fs
}

func NewEntityListField(ft ids.FieldType, rank int64, scope StorageScope) FieldSchema {
	return field(ft, value.KindEntityList, value.NewEntityList(nil), rank, scope)
}

func NewEntityReferenceField(ft ids.FieldType, rank int64, scope StorageScope) FieldSchema {
	return field(ft, value.KindEntityReference, value.NewEntityReference(nil), rank, scope)
}

func NewFloatField(ft ids.FieldType, rank int64, scope StorageScope) FieldSchema {
	return field(ft, value.KindFloat, value.NewFloat(0), rank, scope)
}

func NewIntField(ft ids.FieldType, rank int64, scope StorageScope) FieldSchema {
	return field(ft, value.KindInt, value.NewInt(0), rank, scope)
}

func NewStringField(ft ids.FieldType, rank int64, scope StorageScope) FieldSchema {
	return field(ft, value.KindString, value.NewString(""), rank, scope)
}

func NewTimestampField(ft ids.FieldType, rank int64, scope StorageScope) FieldSchema {
	return field(ft, value.KindTimestamp, value.NewTimestamp(zeroTime), rank, scope)
}

// SingleSchema is one type's own declared schema, before inheritance
// is resolved.
type SingleSchema struct {
	EntityType ids.EntityType
	Inherit    []ids.EntityType
	Fields     map[ids.FieldType]FieldSchema
}

func (s SingleSchema) clone() SingleSchema {
	fields := make(map[ids.FieldType]FieldSchema, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	return SingleSchema{
		EntityType: s.EntityType,
		Inherit:    append([]ids.EntityType(nil), s.Inherit...),
		Fields:     fields,
	}
}

// CompleteSchema is the resolved schema obtained by merging a
// SingleSchema with every ancestor. It is a distinct Go type
// from SingleSchema so the two can never be mixed up at a call site.
type CompleteSchema struct {
	EntityType ids.EntityType
	Fields     map[ids.FieldType]FieldSchema
	// Ordered holds the same fields sorted by (rank, field name).
	Ordered []FieldSchema
}

func (c CompleteSchema) Get(ft ids.FieldType) (FieldSchema, bool) {
	fs, ok := c.Fields[ft]
	return fs, ok
}
