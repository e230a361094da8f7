package schema

import (
	"sort"
	"sync"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/interner"
)

// Registry is the per-type single schema store plus the derived
// complete-schema cache and inheritance map. It needs the
// field-name interner to sort a complete schema's fields by
// (rank, field_name); entity-type names are only used for error
// messages.
type Registry struct {
	entityNames *interner.Interner[ids.EntityType]
	fieldNames  *interner.Interner[ids.FieldType]

	mu            sync.RWMutex
	single        map[ids.EntityType]SingleSchema
	completeCache map[ids.EntityType]CompleteSchema
	// inheritance maps a type to every descendant, including itself,
	// recomputed in full on every schema update.
	inheritance map[ids.EntityType]map[ids.EntityType]struct{}
}

func NewRegistry(entityNames *interner.Interner[ids.EntityType], fieldNames *interner.Interner[ids.FieldType]) *Registry {
	return &Registry{
		entityNames:   entityNames,
		fieldNames:    fieldNames,
		single:        make(map[ids.EntityType]SingleSchema),
		completeCache: make(map[ids.EntityType]CompleteSchema),
		inheritance:   make(map[ids.EntityType]map[ids.EntityType]struct{}),
	}
}

// SetSchema upserts a single schema, invalidates the complete-schema
// cache wholesale, and rebuilds the inheritance map.
func (r *Registry) SetSchema(single SingleSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.single[single.EntityType] = single.clone()
	r.completeCache = make(map[ids.EntityType]CompleteSchema)
	r.rebuildInheritanceLocked()
}

// ReplaceAll swaps in a whole new single-schema table at once,
// clearing the complete-schema cache before rebuilding the
// inheritance map.
func (r *Registry) ReplaceAll(singles map[ids.EntityType]SingleSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.single = make(map[ids.EntityType]SingleSchema, len(singles))
	for t, s := range singles {
		r.single[t] = s.clone()
	}
	r.completeCache = make(map[ids.EntityType]CompleteSchema)
	r.rebuildInheritanceLocked()
}

// Export returns a copy of every registered single schema.
func (r *Registry) Export() map[ids.EntityType]SingleSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ids.EntityType]SingleSchema, len(r.single))
	for t, s := range r.single {
		out[t] = s.clone()
	}
	return out
}

// WarmCache eagerly builds the complete schema for every known type,
// so first reads after an update never pay the build.
func (r *Registry) WarmCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t := range r.single {
		if _, ok := r.completeCache[t]; ok {
			continue
		}
		if cs, err := r.buildCompleteLocked(t); err == nil {
			r.completeCache[t] = cs
		}
	}
}

func (r *Registry) GetSingle(t ids.EntityType) (SingleSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.single[t]
	if !ok {
		return SingleSchema{}, qerrors.EntityTypeNotFound(r.entityNameLocked(t))
	}
	return s.clone(), nil
}

// GetComplete returns the cached complete schema, building and
// caching it on first access.
func (r *Registry) GetComplete(t ids.EntityType) (CompleteSchema, error) {
	r.mu.RLock()
	if cs, ok := r.completeCache[t]; ok {
		r.mu.RUnlock()
		return cs, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cs, ok := r.completeCache[t]; ok {
		return cs, nil
	}
	cs, err := r.buildCompleteLocked(t)
	if err != nil {
		return CompleteSchema{}, err
	}
	r.completeCache[t] = cs
	return cs, nil
}

func (r *Registry) GetFieldSchema(t ids.EntityType, ft ids.FieldType) (FieldSchema, error) {
	cs, err := r.GetComplete(t)
	if err != nil {
		return FieldSchema{}, err
	}
	fs, ok := cs.Get(ft)
	if !ok {
		return FieldSchema{}, qerrors.FieldTypeNotFound(r.fieldNameLocked(ft))
	}
	return fs, nil
}

func (r *Registry) buildCompleteLocked(t ids.EntityType) (CompleteSchema, error) {
	single, ok := r.single[t]
	if !ok {
		return CompleteSchema{}, qerrors.EntityTypeNotFound(r.entityNameLocked(t))
	}

	fields := make(map[ids.FieldType]FieldSchema, len(single.Fields))
	for ft, fs := range single.Fields {
		fields[ft] = fs
	}

	visited := map[ids.EntityType]struct{}{t: {}}
	queue := append([]ids.EntityType(nil), single.Inherit...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}

		ancestor, ok := r.single[cur]
		if !ok {
			continue
		}
		for ft, fs := range ancestor.Fields {
			if _, exists := fields[ft]; !exists {
				fields[ft] = fs
			}
		}
		queue = append(queue, ancestor.Inherit...)
	}

	ordered := make([]FieldSchema, 0, len(fields))
	for _, fs := range fields {
		ordered = append(ordered, fs)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Rank != ordered[j].Rank {
			return ordered[i].Rank < ordered[j].Rank
		}
		return r.fieldNameLocked(ordered[i].FieldType) < r.fieldNameLocked(ordered[j].FieldType)
	})

	return CompleteSchema{EntityType: t, Fields: fields, Ordered: ordered}, nil
}

// InheritsFrom reports whether base is reachable via inherit edges
// from derived, excluding identity.
func (r *Registry) InheritsFrom(derived, base ids.EntityType) bool {
	if derived == base {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, anc := range r.getParentTypesLocked(derived) {
		if anc == base {
			return true
		}
	}
	return false
}

// GetParentTypes returns derived's ancestors, breadth-first, excluding
// itself.
func (r *Registry) GetParentTypes(t ids.EntityType) []ids.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getParentTypesLocked(t)
}

func (r *Registry) getParentTypesLocked(t ids.EntityType) []ids.EntityType {
	single, ok := r.single[t]
	if !ok {
		return nil
	}
	visited := map[ids.EntityType]struct{}{t: {}}
	var out []ids.EntityType
	queue := append([]ids.EntityType(nil), single.Inherit...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		out = append(out, cur)
		if s, ok := r.single[cur]; ok {
			queue = append(queue, s.Inherit...)
		}
	}
	return out
}

// GetDescendants returns every type that inherits from t, plus t
// itself, per the inheritance map.
func (r *Registry) GetDescendants(t ids.EntityType) []ids.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.inheritance[t]
	if !ok {
		return []ids.EntityType{t}
	}
	out := make([]ids.EntityType, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out
}

// KnownTypes returns every entity type with a registered single
// schema.
func (r *Registry) KnownTypes() []ids.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ids.EntityType, 0, len(r.single))
	for t := range r.single {
		out = append(out, t)
	}
	return out
}

func (r *Registry) rebuildInheritanceLocked() {
	newMap := make(map[ids.EntityType]map[ids.EntityType]struct{}, len(r.single))
	for t := range r.single {
		if newMap[t] == nil {
			newMap[t] = make(map[ids.EntityType]struct{})
		}
		newMap[t][t] = struct{}{}
		for _, anc := range r.getParentTypesLocked(t) {
			if newMap[anc] == nil {
				newMap[anc] = make(map[ids.EntityType]struct{})
			}
			newMap[anc][t] = struct{}{}
		}
	}
	r.inheritance = newMap
}

func (r *Registry) entityNameLocked(t ids.EntityType) string {
	if name, ok := r.entityNames.Resolve(t); ok {
		return name
	}
	return t.String()
}

func (r *Registry) fieldNameLocked(ft ids.FieldType) string {
	if name, ok := r.fieldNames.Resolve(ft); ok {
		return name
	}
	return ft.String()
}
