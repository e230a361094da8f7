// Package indirect implements indirect field resolution: path traversal of the form
// F1->F2->idx->F3 across entity references and entity lists.
package indirect

import (
	"strconv"
	"strings"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/qstore/entity"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/interner"
	"github.com/rqure/qcore/pkg/qstore/value"
)

// Resolver walks an indirection path against an entity.Store. A path
// element is an interned field type whose *name* may parse as a
// non-negative integer, in which case it is a list index rather than
// a field.
type Resolver struct {
	store      *entity.Store
	fieldNames *interner.Interner[ids.FieldType]
}

func NewResolver(store *entity.Store, fieldNames *interner.Interner[ids.FieldType]) *Resolver {
	return &Resolver{store: store, fieldNames: fieldNames}
}

// Resolve walks path starting at entityID and returns the final
// (entity, field type) pair the path designates. All
// intermediate reads go through entity.Store directly; recursion
// through further indirect field types is the caller's job (the
// request executor routes every intermediate read back through a full
// Request so additional indirection layers compose).
func (r *Resolver) Resolve(entityID ids.EntityId, path []ids.FieldType) (ids.EntityId, ids.FieldType, error) {
	if len(path) == 0 {
		return 0, 0, qerrors.InvalidFieldValue("empty indirection path")
	}
	if len(path) == 1 {
		return entityID, path[0], nil
	}

	cur := entityID
	var pendingList []ids.EntityId
	havePending := false

	for i := 0; i < len(path)-1; i++ {
		step := path[i]
		idx, isIndex := r.parseIndex(step)

		if havePending {
			if !isIndex {
				return 0, 0, r.fail(entityID, path, qerrors.ReasonExpectedIndexAfterList)
			}
			if idx < 0 {
				return 0, 0, r.fail(entityID, path, qerrors.ReasonNegativeIndex)
			}
			if idx >= len(pendingList) {
				return 0, 0, r.fail(entityID, path, qerrors.ReasonArrayIndexOutOfBounds)
			}
			next := pendingList[idx]
			if !r.store.Exists(next) {
				return 0, 0, r.fail(entityID, path, qerrors.ReasonInvalidEntityID)
			}
			cur = next
			havePending = false
			pendingList = nil
			continue
		}

		if isIndex {
			if idx < 0 {
				return 0, 0, r.fail(entityID, path, qerrors.ReasonNegativeIndex)
			}
			return 0, 0, r.fail(entityID, path, qerrors.ReasonUnexpectedValueType)
		}

		cell, err := r.store.GetCell(cur, step)
		if err != nil {
			return 0, 0, r.fail(entityID, path, qerrors.ReasonFailedToResolveField)
		}

		switch cell.Value.Kind() {
		case value.KindEntityReference:
			ref, _ := cell.Value.AsEntityReference()
			if ref == nil {
				return 0, 0, r.fail(entityID, path, qerrors.ReasonEmptyReference)
			}
			if !r.store.Exists(*ref) {
				return 0, 0, r.fail(entityID, path, qerrors.ReasonInvalidEntityID)
			}
			cur = *ref
		case value.KindEntityList:
			list, _ := cell.Value.AsEntityList()
			pendingList = list
			havePending = true
		default:
			return 0, 0, r.fail(entityID, path, qerrors.ReasonUnexpectedValueType)
		}
	}

	if havePending {
		return 0, 0, r.fail(entityID, path, qerrors.ReasonExpectedIndexAfterList)
	}

	return cur, path[len(path)-1], nil
}

func (r *Resolver) parseIndex(step ids.FieldType) (int, bool) {
	name, ok := r.fieldNames.Resolve(step)
	if !ok || name == "" {
		return 0, false
	}
	for _, c := range name {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(name)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (r *Resolver) fail(entityID ids.EntityId, path []ids.FieldType, reason qerrors.BadIndirectionReason) error {
	return qerrors.BadIndirection(entityID, r.pathString(path), reason)
}

func (r *Resolver) pathString(path []ids.FieldType) string {
	parts := make([]string, len(path))
	for i, ft := range path {
		if name, ok := r.fieldNames.Resolve(ft); ok {
			parts[i] = name
		} else {
			parts[i] = ft.String()
		}
	}
	return strings.Join(parts, "->")
}
