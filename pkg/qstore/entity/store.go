// Package entity implements the entity cell store: id-indexed field cells keyed
// by (entity_id, field_type), per-type id lists, and parent/child link
// maintenance. It is a storage layer only — write_time monotonicity,
// notifications, and indirection are the request executor's job.
package entity

import (
	"sync"
	"time"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/schema"
	"github.com/rqure/qcore/pkg/qstore/value"
)

// Cell is the stored (value, write_time, writer_id) triple.
type Cell struct {
	Value     value.Value
	WriteTime time.Time
	WriterId  *ids.EntityId
}

// Store owns every live entity's cells plus the bookkeeping needed to
// maintain the Parent/Children link invariant and per-type id lists.
type Store struct {
	registry *schema.Registry
	wk       schema.WellKnown
	idGen    *ids.EntityIdGen

	mu         sync.RWMutex
	cells      map[ids.EntityId]map[ids.FieldType]Cell
	entityType map[ids.EntityId]ids.EntityType
	byType     map[ids.EntityType][]ids.EntityId
}

func NewStore(registry *schema.Registry, wk schema.WellKnown, idGen *ids.EntityIdGen) *Store {
	return &Store{
		registry:   registry,
		wk:         wk,
		idGen:      idGen,
		cells:      make(map[ids.EntityId]map[ids.FieldType]Cell),
		entityType: make(map[ids.EntityId]ids.EntityType),
		byType:     make(map[ids.EntityType][]ids.EntityId),
	}
}

// Create allocates (or, if preset != nil, adopts) an id, initializes
// every field from the type's complete schema, special-cases Name and
// Parent, and — if parent is given — appends the new id to the
// parent's Children list.
func (s *Store) Create(entityType ids.EntityType, parent *ids.EntityId, name string, preset *ids.EntityId, writeTime time.Time, writerId *ids.EntityId) (ids.EntityId, error) {
	cs, err := s.registry.GetComplete(entityType)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if parent != nil && !s.existsLocked(*parent) {
		return 0, qerrors.EntityNotFound(*parent)
	}

	var id ids.EntityId
	if preset != nil {
		if s.existsLocked(*preset) {
			return 0, qerrors.EntityAlreadyExists(*preset)
		}
		id = *preset
		s.idGen.Observe(id)
	} else {
		id = s.idGen.Next()
	}

	cells := make(map[ids.FieldType]Cell, len(cs.Fields))
	for ft, fs := range cs.Fields {
		cells[ft] = Cell{Value: fs.Default, WriteTime: writeTime, WriterId: writerId}
	}
	cells[s.wk.Name] = Cell{Value: value.NewString(name), WriteTime: writeTime, WriterId: writerId}
	if parent != nil {
		cells[s.wk.Parent] = Cell{Value: value.NewEntityReference(parent), WriteTime: writeTime, WriterId: writerId}
	}

	s.cells[id] = cells
	s.entityType[id] = entityType
	s.byType[entityType] = append(s.byType[entityType], id)

	if parent != nil {
		s.appendChildLocked(*parent, id, writeTime)
	}

	return id, nil
}

func (s *Store) appendChildLocked(parent, child ids.EntityId, writeTime time.Time) {
	parentCells := s.cells[parent]
	cur, ok := parentCells[s.wk.Children]
	var list []ids.EntityId
	var writer *ids.EntityId
	if ok {
		list, _ = cur.Value.AsEntityList()
		writer = cur.WriterId
	}
	parentCells[s.wk.Children] = Cell{Value: value.NewEntityList(append(append([]ids.EntityId(nil), list...), child)), WriteTime: writeTime, WriterId: writer}
}

// Delete recursively deletes id's Children subtree first, unlinks id
// from its parent's Children, and purges every (id, *)
// cell.
func (s *Store) Delete(id ids.EntityId, writeTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id, writeTime)
}

func (s *Store) deleteLocked(id ids.EntityId, writeTime time.Time) error {
	if !s.existsLocked(id) {
		return qerrors.EntityNotFound(id)
	}

	if childrenCell, ok := s.cells[id][s.wk.Children]; ok {
		children, _ := childrenCell.Value.AsEntityList()
		for _, child := range children {
			if err := s.deleteLocked(child, writeTime); err != nil {
				return err
			}
		}
	}

	if parentCell, ok := s.cells[id][s.wk.Parent]; ok {
		if ref, _ := parentCell.Value.AsEntityReference(); ref != nil {
			if parentCells, ok := s.cells[*ref]; ok {
				if childrenOfParent, ok2 := parentCells[s.wk.Children]; ok2 {
					list, _ := childrenOfParent.Value.AsEntityList()
					parentCells[s.wk.Children] = Cell{
						Value:     value.NewEntityList(removeID(list, id)),
						WriteTime: writeTime,
						WriterId:  childrenOfParent.WriterId,
					}
				}
			}
		}
	}

	entityType := s.entityType[id]
	delete(s.cells, id)
	delete(s.entityType, id)
	s.byType[entityType] = removeID(s.byType[entityType], id)
	return nil
}

// Exists reports whether id is live, defined as "the (id, Name) cell
// exists".
func (s *Store) Exists(id ids.EntityId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.existsLocked(id)
}

func (s *Store) existsLocked(id ids.EntityId) bool {
	cells, ok := s.cells[id]
	if !ok {
		return false
	}
	_, ok = cells[s.wk.Name]
	return ok
}

// TypeOf returns id's entity type.
func (s *Store) TypeOf(id ids.EntityId) (ids.EntityType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.entityType[id]
	return t, ok
}

// GetCell returns id's cell for ft, lazily materializing it from the
// schema default if the field is known but no write has landed yet.
func (s *Store) GetCell(id ids.EntityId, ft ids.FieldType) (Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.existsLocked(id) {
		return Cell{}, qerrors.EntityNotFound(id)
	}
	entityType := s.entityType[id]
	if cell, ok := s.cells[id][ft]; ok {
		return cell, nil
	}
	fs, err := s.registry.GetFieldSchema(entityType, ft)
	if err != nil {
		return Cell{}, err
	}
	return Cell{Value: fs.Default}, nil
}

// SetCell overwrites id's cell for ft unconditionally; the caller
// (request executor) is responsible for schema validation and
// write_time monotonicity.
func (s *Store) SetCell(id ids.EntityId, ft ids.FieldType, cell Cell) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.existsLocked(id) {
		return qerrors.EntityNotFound(id)
	}
	if s.cells[id] == nil {
		s.cells[id] = make(map[ids.FieldType]Cell)
	}
	s.cells[id][ft] = cell
	return nil
}

// ByType returns a snapshot of the per-type id list, in creation
// order.
func (s *Store) ByType(t ids.EntityType) []ids.EntityId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.EntityId, len(s.byType[t]))
	copy(out, s.byType[t])
	return out
}

// AddFieldToType materializes a new cell, initialized from fs's
// default, on every entity currently of type t that doesn't already
// have one.
func (s *Store) AddFieldToType(t ids.EntityType, fs schema.FieldSchema, writeTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byType[t] {
		if _, exists := s.cells[id][fs.FieldType]; !exists {
			s.cells[id][fs.FieldType] = Cell{Value: fs.Default, WriteTime: writeTime}
		}
	}
}

// RemoveFieldFromType purges (id, ft) for every entity currently of
// type t.
func (s *Store) RemoveFieldFromType(t ids.EntityType, ft ids.FieldType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byType[t] {
		delete(s.cells[id], ft)
	}
}

// TotalCount sums the length of every per-type list, the unfiltered
// pagination fast path's total.
func (s *Store) TotalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, list := range s.byType {
		total += len(list)
	}
	return total
}

// Export returns a deep copy of the whole store state, used by the
// snapshot codec. It deliberately returns plain maps
// rather than a struct so snapshot can own its own serialization
// shape.
func (s *Store) Export() (map[ids.EntityId]map[ids.FieldType]Cell, map[ids.EntityType][]ids.EntityId, map[ids.EntityId]ids.EntityType) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cells := make(map[ids.EntityId]map[ids.FieldType]Cell, len(s.cells))
	for id, fields := range s.cells {
		fc := make(map[ids.FieldType]Cell, len(fields))
		for ft, c := range fields {
			fc[ft] = c
		}
		cells[id] = fc
	}

	byType := make(map[ids.EntityType][]ids.EntityId, len(s.byType))
	for t, list := range s.byType {
		byType[t] = append([]ids.EntityId(nil), list...)
	}

	entityType := make(map[ids.EntityId]ids.EntityType, len(s.entityType))
	for id, t := range s.entityType {
		entityType[id] = t
	}

	return cells, byType, entityType
}

// Import replaces the whole store state, used to restore a snapshot.
// maxSeen advances the id generator so new creates never
// collide with a restored id.
func (s *Store) Import(cells map[ids.EntityId]map[ids.FieldType]Cell, byType map[ids.EntityType][]ids.EntityId, entityType map[ids.EntityId]ids.EntityType, maxSeen ids.EntityId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells = cells
	s.byType = byType
	s.entityType = entityType
	s.idGen.Observe(maxSeen)
}

func removeID(list []ids.EntityId, id ids.EntityId) []ids.EntityId {
	out := make([]ids.EntityId, 0, len(list))
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
