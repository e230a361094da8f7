package qstore

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/logger"
	"github.com/rqure/qcore/pkg/qstore/entity"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/page"
	"github.com/rqure/qcore/pkg/qstore/schema"
)

// executeRead handles every non-mutating request variant.
func (s *Store) executeRead(ctx context.Context, req Request) {
	switch r := req.(type) {
	case *Read:
		cell, err := s.readPath(r.EntityId, r.FieldTypes)
		if err != nil {
			r.setErr(err)
			return
		}
		r.Value = cell.Value
		r.WriteTime = cell.WriteTime
		r.WriterId = cell.WriterId

	case *GetEntityType:
		r.EntityType = s.entityNames.Intern(r.Name)

	case *ResolveEntityType:
		name, ok := s.entityNames.Resolve(r.EntityType)
		if !ok {
			r.setErr(qerrors.EntityTypeNotFound(r.EntityType.String()))
			return
		}
		r.Name = name

	case *GetFieldType:
		r.FieldType = s.InternFieldPath(r.Name)

	case *ResolveFieldType:
		name, err := s.FieldPathName(r.FieldType)
		if err != nil {
			r.setErr(err)
			return
		}
		r.Name = name

	case *GetEntitySchema:
		single, err := s.registry.GetSingle(r.EntityType)
		if err != nil {
			r.setErr(err)
			return
		}
		r.Schema = single

	case *GetCompleteEntitySchema:
		complete, err := s.registry.GetComplete(r.EntityType)
		if err != nil {
			r.setErr(err)
			return
		}
		r.Schema = complete

	case *GetFieldSchema:
		fs, err := s.registry.GetFieldSchema(r.EntityType, r.FieldType)
		if err != nil {
			r.setErr(err)
			return
		}
		r.Schema = fs

	case *EntityExists:
		r.Exists = s.entities.Exists(r.EntityId)

	case *FieldExists:
		complete, err := s.registry.GetComplete(r.EntityType)
		if err != nil {
			r.Exists = false
			return
		}
		_, r.Exists = complete.Get(r.FieldType)

	case *ResolveIndirection:
		target, ft, err := s.resolvePath(r.EntityId, r.FieldTypes)
		if err != nil {
			r.setErr(err)
			return
		}
		r.ResolvedEntityId = target
		r.ResolvedFieldType = ft

	case *FindEntities:
		res, err := s.find(ctx, r.EntityType, r.Page, r.Filter, false)
		if err != nil {
			r.setErr(err)
			return
		}
		r.Result = res

	case *FindEntitiesExact:
		res, err := s.find(ctx, r.EntityType, r.Page, r.Filter, true)
		if err != nil {
			r.setErr(err)
			return
		}
		r.Result = res

	case *GetEntityTypes:
		types := s.registry.KnownTypes()
		sortTypes(types)
		start, end, next, err := page.Window(len(types), r.Page)
		if err != nil {
			r.setErr(err)
			return
		}
		r.Types = types[start:end]
		r.Total = len(types)
		r.NextCursor = next

	default:
		req.setErr(qerrors.InvalidRequest("unknown request variant"))
	}
}

// executeMutation handles every mutating request variant. Called with
// the store's exclusive guard held.
func (s *Store) executeMutation(ctx context.Context, req Request) {
	ctx = qerrors.WithOperation(ctx, requestName(req))
	ctx, span := s.tracer.Start(ctx, "qstore."+requestName(req))
	defer span.End()

	switch r := req.(type) {
	case *Write:
		s.executeWrite(ctx, r)
	case *Create:
		s.executeCreate(ctx, r)
	case *Delete:
		s.executeDelete(ctx, r)
	case *SchemaUpdate:
		s.executeSchemaUpdate(ctx, r)
	case *Snapshot:
		s.snapshotCounter++
		r.SnapshotCounter = s.snapshotCounter
		r.Timestamp = s.now()
	default:
		req.setErr(qerrors.InvalidRequest("unknown mutating request variant"))
	}

	if err := req.Err(); err != nil {
		span.SetAttributes(attribute.String("error", err.Error()))
	}
}

// executeWrite implements the single-write semantics:
// resolve indirection, type-check against the complete schema, apply
// the adjust behavior, decide via write_time monotonicity and the push
// condition, land the cell, and fan out notifications.
func (s *Store) executeWrite(ctx context.Context, w *Write) {
	target, targetField, err := s.resolvePath(w.EntityId, w.FieldTypes)
	if err != nil {
		w.setErr(err)
		return
	}

	entityType, ok := s.entities.TypeOf(target)
	if !ok {
		w.setErr(qerrors.EntityNotFound(target))
		return
	}

	fs, err := s.registry.GetFieldSchema(entityType, targetField)
	if err != nil {
		w.setErr(err)
		return
	}
	if w.Value.Kind() != fs.Kind {
		w.setErr(qerrors.ValueTypeMismatch(target.String(), s.fieldName(targetField), w.Value.Kind().String(), fs.Kind.String()))
		return
	}

	current, err := s.entities.GetCell(target, targetField)
	if err != nil {
		w.setErr(err)
		return
	}

	newValue := w.Value
	switch w.AdjustBehavior {
	case AdjustAdd:
		newValue, err = current.Value.Add(w.Value)
	case AdjustSubtract:
		newValue, err = current.Value.Subtract(w.Value)
	}
	if err != nil {
		w.setErr(err)
		return
	}

	writeTime := s.now()
	if w.WriteTime != nil {
		writeTime = *w.WriteTime
	}
	if writeTime.Before(current.WriteTime) {
		// Stale write: silently dropped, not an error.
		w.WriteProcessed = false
		if s.metrics != nil {
			s.metrics.WriteDropped("stale_write_time")
		}
		s.logDrop("stale write_time, write dropped", target, targetField)
		return
	}

	if w.PushCondition == PushChanges && newValue.Equal(current.Value) {
		w.WriteProcessed = false
		if s.metrics != nil {
			s.metrics.WriteDropped("unchanged")
		}
		return
	}

	writer := w.WriterId
	if writer == nil {
		// No writer and no default clears the cell's writer_id; the
		// previous writer is never inherited.
		writer = s.defaultWriter
	}

	newCell := entity.Cell{Value: newValue, WriteTime: writeTime, WriterId: writer}
	if err := s.entities.SetCell(target, targetField, newCell); err != nil {
		w.setErr(err)
		return
	}
	w.WriteProcessed = true

	if !s.notifyDisabled {
		ancestors := s.registry.GetParentTypes(entityType)
		s.notifier.Fire(ctx, target, entityType, ancestors, targetField, current, newCell, s.fieldReader())
	}
}

func (s *Store) executeCreate(ctx context.Context, c *Create) {
	var preset *ids.EntityId
	if c.CreatedEntityId != 0 {
		// Preset by the caller for WAL replay; honor it.
		id := c.CreatedEntityId
		preset = &id
	}

	timestamp := s.now()
	id, err := s.entities.Create(c.EntityType, c.ParentId, c.Name, preset, timestamp, s.defaultWriter)
	if err != nil {
		c.setErr(err)
		return
	}
	c.CreatedEntityId = id
	c.Timestamp = timestamp
}

func (s *Store) executeDelete(ctx context.Context, d *Delete) {
	timestamp := s.now()
	if err := s.entities.Delete(d.EntityId, timestamp); err != nil {
		d.setErr(err)
		return
	}
	d.Timestamp = timestamp
}

// executeSchemaUpdate is the slowest path: it diffs the old complete
// schema against the new one for the updated type and every
// descendant, removing dead cells and materializing added fields with
// defaults on all affected entities.
func (s *Store) executeSchemaUpdate(ctx context.Context, su *SchemaUpdate) {
	updatedType := su.Schema.EntityType

	affected := map[ids.EntityType]struct{}{updatedType: {}}
	for _, t := range s.registry.GetDescendants(updatedType) {
		affected[t] = struct{}{}
	}

	oldComplete := make(map[ids.EntityType]schema.CompleteSchema, len(affected))
	for t := range affected {
		if cs, err := s.registry.GetComplete(t); err == nil {
			oldComplete[t] = cs
		}
	}

	s.registry.SetSchema(su.Schema)
	timestamp := s.now()

	for t := range affected {
		newCS, err := s.registry.GetComplete(t)
		if err != nil {
			continue
		}
		old := oldComplete[t]

		for ft := range old.Fields {
			if _, kept := newCS.Fields[ft]; !kept {
				s.entities.RemoveFieldFromType(t, ft)
			}
		}
		for ft, fs := range newCS.Fields {
			if _, existed := old.Fields[ft]; !existed {
				s.entities.AddFieldToType(t, fs, timestamp)
			}
		}
	}

	su.Timestamp = timestamp
	if s.log != nil {
		s.log.Info("schema updated", logger.Fields{
			"entity_type": s.entityName(updatedType),
			"types_touched": len(affected),
		})
	}
}

func (s *Store) fieldName(ft ids.FieldType) string {
	if name, err := s.FieldPathName(ft); err == nil {
		return name
	}
	return ft.String()
}

func (s *Store) entityName(t ids.EntityType) string {
	if name, ok := s.entityNames.Resolve(t); ok {
		return name
	}
	return t.String()
}

func (s *Store) logDrop(msg string, id ids.EntityId, ft ids.FieldType) {
	if s.log == nil {
		return
	}
	s.log.Warn(msg, logger.Fields{
		"entity_id":  id.String(),
		"field_type": s.fieldName(ft),
	})
}

func sortTypes(types []ids.EntityType) {
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
}
