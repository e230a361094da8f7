// Package qstore is the store engine: it owns the typed entity graph
// and every mutation path. A batch of requests drives all reads,
// writes, entity create/delete, schema updates, and reflection; the
// wire layer maps its command taxonomy one-to-one onto these request
// variants.
package qstore

import (
	"time"

	"github.com/rqure/qcore/pkg/qstore/entity"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/page"
	"github.com/rqure/qcore/pkg/qstore/schema"
	"github.com/rqure/qcore/pkg/qstore/value"
)

// PushCondition controls whether an unchanged value still lands a
// store update.
type PushCondition int

const (
	PushAlways PushCondition = iota
	PushChanges
)

func (p PushCondition) String() string {
	if p == PushChanges {
		return "Changes"
	}
	return "Always"
}

// AdjustBehavior controls how a write combines with the existing cell
// value.
type AdjustBehavior int

const (
	AdjustSet AdjustBehavior = iota
	AdjustAdd
	AdjustSubtract
)

func (a AdjustBehavior) String() string {
	switch a {
	case AdjustAdd:
		return "Add"
	case AdjustSubtract:
		return "Subtract"
	default:
		return "Set"
	}
}

// Request is one operation in a batch. Mutating requests are only
// accepted by PerformMut; every variant carries its own output fields,
// filled on success, plus a per-request error. A failed request never
// aborts the rest of its batch.
type Request interface {
	// Mutating reports whether the request changes store state.
	Mutating() bool
	// Err returns the per-request failure, nil on success.
	Err() error

	setErr(error)
}

type result struct {
	err error
}

func (r *result) Err() error     { return r.err }
func (r *result) setErr(e error) { r.err = e }

type immutable struct{ result }

func (immutable) Mutating() bool { return false }

type mutating struct{ result }

func (mutating) Mutating() bool { return true }

// Read reads one field, possibly through an indirection path. Value,
// WriteTime and WriterId are outputs.
type Read struct {
	immutable
	EntityId   ids.EntityId
	FieldTypes []ids.FieldType

	Value     value.Value
	WriteTime time.Time
	WriterId  *ids.EntityId
}

// Write writes one field, possibly through an indirection path.
// WriteTime and WriterId are optional; WriteProcessed reports whether
// the write actually landed (false when dropped by a stale write_time
// or an unchanged value under PushChanges).
type Write struct {
	mutating
	EntityId       ids.EntityId
	FieldTypes     []ids.FieldType
	Value          value.Value
	PushCondition  PushCondition
	AdjustBehavior AdjustBehavior
	WriteTime      *time.Time
	WriterId       *ids.EntityId

	WriteProcessed bool
}

// Create makes a new entity. CreatedEntityId may be preset by the
// caller (WAL replay); if zero, a fresh id is generated and written
// back.
type Create struct {
	mutating
	EntityType ids.EntityType
	ParentId   *ids.EntityId
	Name       string

	CreatedEntityId ids.EntityId
	Timestamp       time.Time
}

// Delete removes an entity and its Children subtree.
type Delete struct {
	mutating
	EntityId ids.EntityId

	Timestamp time.Time
}

// SchemaUpdate upserts a single schema, touching every affected
// entity's cells.
type SchemaUpdate struct {
	mutating
	Schema schema.SingleSchema

	Timestamp time.Time
}

// Snapshot is a marker request: it stamps a counter and timestamp into
// the WAL stream so an external persister knows where to cut.
// Persistence itself is external.
type Snapshot struct {
	mutating
	SnapshotCounter uint64

	Timestamp time.Time
}

// GetEntityType interns (or looks up) an entity type name.
type GetEntityType struct {
	immutable
	Name string

	EntityType ids.EntityType
}

// ResolveEntityType maps an entity type id back to its name.
type ResolveEntityType struct {
	immutable
	EntityType ids.EntityType

	Name string
}

// GetFieldType interns (or looks up) a field type name. The name may
// be an indirection path ("A->B->0->C"), which yields an indirect
// field type.
type GetFieldType struct {
	immutable
	Name string

	FieldType ids.FieldType
}

// ResolveFieldType maps a field type id back to its name (the joined
// path form for indirect types).
type ResolveFieldType struct {
	immutable
	FieldType ids.FieldType

	Name string
}

// GetEntitySchema returns a type's single (unresolved) schema.
type GetEntitySchema struct {
	immutable
	EntityType ids.EntityType

	Schema schema.SingleSchema
}

// GetCompleteEntitySchema returns a type's complete schema with
// inherited fields resolved and rank-ordered.
type GetCompleteEntitySchema struct {
	immutable
	EntityType ids.EntityType

	Schema schema.CompleteSchema
}

// GetFieldSchema returns one field's schema from a type's complete
// schema.
type GetFieldSchema struct {
	immutable
	EntityType ids.EntityType
	FieldType  ids.FieldType

	Schema schema.FieldSchema
}

// EntityExists reports whether an entity is live.
type EntityExists struct {
	immutable
	EntityId ids.EntityId

	Exists bool
}

// FieldExists reports whether a type's complete schema contains a
// field.
type FieldExists struct {
	immutable
	EntityType ids.EntityType
	FieldType  ids.FieldType

	Exists bool
}

// ResolveIndirection resolves an indirection path to its final
// (entity, field) pair without reading the cell.
type ResolveIndirection struct {
	immutable
	EntityId   ids.EntityId
	FieldTypes []ids.FieldType

	ResolvedEntityId  ids.EntityId
	ResolvedFieldType ids.FieldType
}

// FindEntities pages over every entity of a type and its descendants
// (inheritance-expanded), optionally filtered.
type FindEntities struct {
	immutable
	EntityType ids.EntityType
	Page       page.Opts
	Filter     string

	Result page.Result
}

// FindEntitiesExact pages over entities created with exactly this
// type, optionally filtered.
type FindEntitiesExact struct {
	immutable
	EntityType ids.EntityType
	Page       page.Opts
	Filter     string

	Result page.Result
}

// GetEntityTypes pages over every known entity type.
type GetEntityTypes struct {
	immutable
	Page page.Opts

	Types      []ids.EntityType
	Total      int
	NextCursor string
}

// Cell re-exports the entity cell shape for callers that only import
// qstore.
type Cell = entity.Cell
