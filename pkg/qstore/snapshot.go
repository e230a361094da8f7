package qstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/qstore/entity"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/indirect"
	"github.com/rqure/qcore/pkg/qstore/schema"
	"github.com/rqure/qcore/pkg/qstore/snapshot"
	"github.com/rqure/qcore/pkg/qstore/value"
)

// TakeSnapshot captures the whole store state under the exclusive
// guard. The result is safe to encode and persist after
// the call returns.
func (s *Store) TakeSnapshot() snapshot.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	cells, byType, _ := s.entities.Export()
	types := s.registry.KnownTypes()
	sortTypes(types)

	return snapshot.State{
		EntityNames:     s.entityNames.All(),
		FieldNames:      s.fieldNames.All(),
		Schemas:         s.registry.Export(),
		KnownTypes:      types,
		ByType:          byType,
		Cells:           cells,
		SnapshotCounter: s.snapshotCounter,
	}
}

// RestoreSnapshot replaces the whole store state, clearing the
// complete-schema cache before rebuilding the inheritance map and
// warming the cache. Notification subscriptions survive a
// restore; their entity ids may no longer resolve, which only makes
// them inert.
func (s *Store) RestoreSnapshot(st snapshot.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entityNames.Reset(st.EntityNames)
	s.fieldNames.Reset(st.FieldNames)
	s.wk = schema.ResolveWellKnown(s.entityNames, s.fieldNames)

	s.registry.ReplaceAll(st.Schemas)

	entityType := make(map[ids.EntityId]ids.EntityType)
	for t, list := range st.ByType {
		for _, id := range list {
			entityType[id] = t
		}
	}

	// The entity store and resolver hold the well-known ids by value,
	// so both are rebuilt against the refreshed tables.
	s.entities = entity.NewStore(s.registry, s.wk, &s.idGen)
	s.entities.Import(st.Cells, st.ByType, entityType, st.MaxEntityId())
	s.resolver = indirect.NewResolver(s.entities, s.fieldNames)

	s.snapshotCounter = st.SnapshotCounter
	s.registry.WarmCache()
	return nil
}

// BuildJSONSnapshot renders the factory-restore document: every
// schema, plus the entity tree from the Root entity with
// configuration-scope fields only and entity references as portable
// name paths.
func (s *Store) BuildJSONSnapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roots := s.entities.ByType(s.wk.Root)
	if len(roots) == 0 {
		return nil, qerrors.New(qerrors.KindEntityNotFound, "no Root entity to snapshot")
	}

	types := s.registry.KnownTypes()
	sortTypes(types)

	doc := snapshot.JSONDocument{}
	for _, t := range types {
		single, err := s.registry.GetSingle(t)
		if err != nil {
			continue
		}
		doc.Schemas = append(doc.Schemas, s.SchemaToJSON(single))
	}

	tree, err := s.buildJSONEntity(roots[0])
	if err != nil {
		return nil, err
	}
	doc.Tree = tree
	return snapshot.EncodeJSON(doc)
}

func (s *Store) SchemaToJSON(single schema.SingleSchema) snapshot.JSONSchema {
	out := snapshot.JSONSchema{EntityType: s.entityName(single.EntityType)}
	for _, p := range single.Inherit {
		out.Inherit = append(out.Inherit, s.entityName(p))
	}

	fields := make([]schema.FieldSchema, 0, len(single.Fields))
	for _, fs := range single.Fields {
		fields = append(fields, fs)
	}
	sort.Slice(fields, func(i, j int) bool {
		if fields[i].Rank != fields[j].Rank {
			return fields[i].Rank < fields[j].Rank
		}
		return s.fieldName(fields[i].FieldType) < s.fieldName(fields[j].FieldType)
	})

	for _, fs := range fields {
		out.Fields = append(out.Fields, snapshot.JSONField{
			Name:    s.fieldName(fs.FieldType),
			Kind:    fs.Kind.String(),
			Default: s.jsonValue(fs.Default),
			Rank:    fs.Rank,
			Scope:   scopeName(fs.StorageScope),
			Choices: fs.Choices,
		})
	}
	return out
}

// FieldSchemaToJSON renders one field schema in the portable JSON
// shape.
func (s *Store) FieldSchemaToJSON(fs schema.FieldSchema) snapshot.JSONField {
	return snapshot.JSONField{
		Name:    s.fieldName(fs.FieldType),
		Kind:    fs.Kind.String(),
		Default: s.jsonValue(fs.Default),
		Rank:    fs.Rank,
		Scope:   scopeName(fs.StorageScope),
		Choices: fs.Choices,
	}
}

// FieldSchemaFromJSON parses one portable field schema, interning its
// name.
func (s *Store) FieldSchemaFromJSON(jf snapshot.JSONField) (schema.FieldSchema, error) {
	kind, err := parseKindName(jf.Kind)
	if err != nil {
		return schema.FieldSchema{}, err
	}
	fs := schema.FieldSchema{
		FieldType:    s.fieldNames.Intern(jf.Name),
		Kind:         kind,
		Rank:         jf.Rank,
		StorageScope: parseScopeName(jf.Scope),
		Choices:      jf.Choices,
	}
	def, err := s.valueFromJSON(fs, jf.Default)
	if err != nil {
		return schema.FieldSchema{}, err
	}
	fs.Default = def
	return fs, nil
}

// CompleteSchemaToJSON renders a resolved schema in the portable JSON
// shape; Inherit is empty since inheritance is already merged in.
func (s *Store) CompleteSchemaToJSON(complete schema.CompleteSchema) snapshot.JSONSchema {
	out := snapshot.JSONSchema{EntityType: s.entityName(complete.EntityType)}
	for _, fs := range complete.Ordered {
		out.Fields = append(out.Fields, snapshot.JSONField{
			Name:    s.fieldName(fs.FieldType),
			Kind:    fs.Kind.String(),
			Default: s.jsonValue(fs.Default),
			Rank:    fs.Rank,
			Scope:   scopeName(fs.StorageScope),
			Choices: fs.Choices,
		})
	}
	return out
}

func (s *Store) buildJSONEntity(id ids.EntityId) (*snapshot.JSONEntity, error) {
	entityType, ok := s.entities.TypeOf(id)
	if !ok {
		return nil, qerrors.EntityNotFound(id)
	}
	nameCell, err := s.entities.GetCell(id, s.wk.Name)
	if err != nil {
		return nil, err
	}
	name, _ := nameCell.Value.AsString()

	node := &snapshot.JSONEntity{
		EntityType: s.entityName(entityType),
		Name:       name,
	}

	complete, err := s.registry.GetComplete(entityType)
	if err != nil {
		return nil, err
	}
	for _, fs := range complete.Ordered {
		if fs.StorageScope != schema.ScopeConfiguration {
			continue
		}
		ft := fs.FieldType
		if ft == s.wk.Name || ft == s.wk.Parent || ft == s.wk.Children {
			continue
		}
		cell, err := s.entities.GetCell(id, ft)
		if err != nil {
			continue
		}
		if node.Fields == nil {
			node.Fields = make(map[string]any)
		}
		node.Fields[s.fieldName(ft)] = s.jsonValue(cell.Value)
	}

	childrenCell, err := s.entities.GetCell(id, s.wk.Children)
	if err == nil {
		children, _ := childrenCell.Value.AsEntityList()
		for _, child := range children {
			childNode, err := s.buildJSONEntity(child)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, childNode)
		}
	}
	return node, nil
}

// jsonValue renders a value in the portable JSON form: blobs as
// base64, timestamps as RFC 3339, references and lists as name paths.
func (s *Store) jsonValue(v value.Value) any {
	switch v.Kind() {
	case value.KindBlob:
		b, _ := v.AsBlob()
		return base64.StdEncoding.EncodeToString(b)
	case value.KindBool:
		b, _ := v.AsBool()
		return b
	case value.KindChoice:
		c, _ := v.AsChoice()
		return c
	case value.KindEntityList:
		list, _ := v.AsEntityList()
		out := make([]string, 0, len(list))
		for _, id := range list {
			out = append(out, s.refPath(id))
		}
		return out
	case value.KindEntityReference:
		ref, _ := v.AsEntityReference()
		if ref == nil {
			return ""
		}
		return s.refPath(*ref)
	case value.KindFloat:
		f, _ := v.AsFloat()
		return f
	case value.KindInt:
		i, _ := v.AsInt()
		return i
	case value.KindString:
		str, _ := v.AsString()
		return str
	case value.KindTimestamp:
		ts, _ := v.AsTimestamp()
		return ts.Format(time.RFC3339Nano)
	default:
		return nil
	}
}

// refPath climbs the Parent chain and renders id as a slash-separated
// name path from the root, so references survive across instances.
func (s *Store) refPath(id ids.EntityId) string {
	var names []string
	cur := id
	for {
		nameCell, err := s.entities.GetCell(cur, s.wk.Name)
		if err != nil {
			return ""
		}
		name, _ := nameCell.Value.AsString()
		names = append([]string{name}, names...)

		parentCell, err := s.entities.GetCell(cur, s.wk.Parent)
		if err != nil {
			break
		}
		ref, _ := parentCell.Value.AsEntityReference()
		if ref == nil {
			break
		}
		cur = *ref
	}
	return snapshot.JoinRefPath(names)
}

// RestoreJSONSnapshot rebuilds a store from a factory document:
// schemas first, then the tree depth-first, then a second pass to
// resolve reference paths once every entity exists. The store must
// not already have a Root entity.
func (s *Store) RestoreJSONSnapshot(ctx context.Context, blob []byte) error {
	doc, err := snapshot.DecodeJSON(blob)
	if err != nil {
		return err
	}
	if doc.Tree == nil {
		return qerrors.InvalidFieldValue("json snapshot has no tree")
	}
	if existing := s.entities.ByType(s.wk.Root); len(existing) > 0 {
		return qerrors.EntityAlreadyExists(existing[0])
	}

	var schemaReqs []Request
	for _, js := range doc.Schemas {
		single, err := s.SchemaFromJSON(js)
		if err != nil {
			return err
		}
		schemaReqs = append(schemaReqs, &SchemaUpdate{Schema: single})
	}
	if len(schemaReqs) > 0 {
		if err := s.PerformMut(ctx, schemaReqs...); err != nil {
			return err
		}
		for _, req := range schemaReqs {
			if req.Err() != nil {
				return req.Err()
			}
		}
	}

	byPath := make(map[string]ids.EntityId)
	type deferredRef struct {
		entity ids.EntityId
		field  ids.FieldType
		kind   value.Kind
		paths  []string
	}
	var deferred []*deferredRef

	var restore func(node *snapshot.JSONEntity, parent *ids.EntityId, prefix []string) error
	restore = func(node *snapshot.JSONEntity, parent *ids.EntityId, prefix []string) error {
		entityType, ok := s.entityNames.Lookup(node.EntityType)
		if !ok {
			return qerrors.EntityTypeNotFound(node.EntityType)
		}

		create := &Create{EntityType: entityType, ParentId: parent, Name: node.Name}
		if err := s.PerformMut(ctx, create); err != nil {
			return err
		}
		if create.Err() != nil {
			return create.Err()
		}
		id := create.CreatedEntityId

		path := append(append([]string(nil), prefix...), node.Name)
		byPath[snapshot.JoinRefPath(path)] = id

		complete, err := s.registry.GetComplete(entityType)
		if err != nil {
			return err
		}
		for fieldName, raw := range node.Fields {
			ft, ok := s.fieldNames.Lookup(fieldName)
			if !ok {
				return qerrors.FieldTypeNotFound(fieldName)
			}
			fs, ok := complete.Get(ft)
			if !ok {
				return qerrors.FieldTypeNotFound(fieldName)
			}
			switch fs.Kind {
			case value.KindEntityReference:
				refPath, _ := raw.(string)
				if refPath == "" {
					continue
				}
				deferred = append(deferred, &deferredRef{entity: id, field: ft, kind: fs.Kind, paths: []string{refPath}})
			case value.KindEntityList:
				paths := toStringSlice(raw)
				if len(paths) == 0 {
					continue
				}
				deferred = append(deferred, &deferredRef{entity: id, field: ft, kind: fs.Kind, paths: paths})
			default:
				v, err := s.valueFromJSON(fs, raw)
				if err != nil {
					return err
				}
				w := &Write{EntityId: id, FieldTypes: []ids.FieldType{ft}, Value: v}
				if err := s.PerformMut(ctx, w); err != nil {
					return err
				}
				if w.Err() != nil {
					return w.Err()
				}
			}
		}

		for _, child := range node.Children {
			if err := restore(child, &id, path); err != nil {
				return err
			}
		}
		return nil
	}

	if err := restore(doc.Tree, nil, nil); err != nil {
		return err
	}

	for _, d := range deferred {
		var v value.Value
		switch d.kind {
		case value.KindEntityReference:
			target, ok := byPath[d.paths[0]]
			if !ok {
				return qerrors.New(qerrors.KindEntityNameNotFound, fmt.Sprintf("unresolved reference path %q", d.paths[0]))
			}
			v = value.NewEntityReference(&target)
		case value.KindEntityList:
			list := make([]ids.EntityId, 0, len(d.paths))
			for _, p := range d.paths {
				target, ok := byPath[p]
				if !ok {
					return qerrors.New(qerrors.KindEntityNameNotFound, fmt.Sprintf("unresolved reference path %q", p))
				}
				list = append(list, target)
			}
			v = value.NewEntityList(list)
		}
		w := &Write{EntityId: d.entity, FieldTypes: []ids.FieldType{d.field}, Value: v}
		if err := s.PerformMut(ctx, w); err != nil {
			return err
		}
		if w.Err() != nil {
			return w.Err()
		}
	}
	return nil
}

func (s *Store) SchemaFromJSON(js snapshot.JSONSchema) (schema.SingleSchema, error) {
	single := schema.SingleSchema{
		EntityType: s.entityNames.Intern(js.EntityType),
		Fields:     make(map[ids.FieldType]schema.FieldSchema, len(js.Fields)),
	}
	for _, p := range js.Inherit {
		single.Inherit = append(single.Inherit, s.entityNames.Intern(p))
	}
	for _, jf := range js.Fields {
		ft := s.fieldNames.Intern(jf.Name)
		kind, err := parseKindName(jf.Kind)
		if err != nil {
			return schema.SingleSchema{}, err
		}
		fs := schema.FieldSchema{
			FieldType:    ft,
			Kind:         kind,
			Rank:         jf.Rank,
			StorageScope: parseScopeName(jf.Scope),
			Choices:      jf.Choices,
		}
		def, err := s.valueFromJSON(fs, jf.Default)
		if err != nil {
			return schema.SingleSchema{}, err
		}
		fs.Default = def
		single.Fields[ft] = fs
	}
	return single, nil
}

// valueFromJSON converts a loosely-typed document value into the
// field's kind, applying the password sigil to strings.
func (s *Store) valueFromJSON(fs schema.FieldSchema, raw any) (value.Value, error) {
	switch fs.Kind {
	case value.KindBlob:
		str, _ := raw.(string)
		b, err := base64.StdEncoding.DecodeString(str)
		if err != nil {
			return value.Value{}, qerrors.BadValueCast("string", "base64 blob")
		}
		return value.NewBlob(b), nil
	case value.KindBool:
		b, _ := raw.(bool)
		return value.NewBool(b), nil
	case value.KindChoice:
		return value.NewChoice(toInt64(raw)), nil
	case value.KindEntityList:
		return value.NewEntityList(nil), nil
	case value.KindEntityReference:
		return value.NewEntityReference(nil), nil
	case value.KindFloat:
		f, _ := raw.(float64)
		return value.NewFloat(f), nil
	case value.KindInt:
		return value.NewInt(toInt64(raw)), nil
	case value.KindString:
		str, _ := raw.(string)
		str, err := snapshot.ApplySigil(str)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewString(str), nil
	case value.KindTimestamp:
		str, _ := raw.(string)
		if str == "" {
			return value.NewTimestamp(time.Time{}), nil
		}
		ts, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return value.Value{}, qerrors.BadValueCast("string", "RFC3339 timestamp")
		}
		return value.NewTimestamp(ts), nil
	default:
		return value.Value{}, qerrors.BadValueCast(fmt.Sprintf("%T", raw), fs.Kind.String())
	}
}

func parseKindName(name string) (value.Kind, error) {
	for k := value.KindBlob; k <= value.KindTimestamp; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, qerrors.New(qerrors.KindBadValueCast, fmt.Sprintf("unknown value kind %q", name))
}

func scopeName(sc schema.StorageScope) string {
	if sc == schema.ScopeConfiguration {
		return "Configuration"
	}
	return "Runtime"
}

func parseScopeName(name string) schema.StorageScope {
	if name == "Configuration" {
		return schema.ScopeConfiguration
	}
	return schema.ScopeRuntime
}

func toInt64(raw any) int64 {
	switch t := raw.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}

func toStringSlice(raw any) []string {
	switch t := raw.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
