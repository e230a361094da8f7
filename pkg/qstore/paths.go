package qstore

import (
	"strings"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/qstore/entity"
	"github.com/rqure/qcore/pkg/qstore/ids"
)

// PathSeparator joins field names in the string form of an indirection
// path, e.g. "Parent->Name".
const PathSeparator = "->"

// ParseFieldPath splits a path string on the separator and interns
// each element as a field type. A single-element path yields a
// one-element slice holding the direct field type.
func (s *Store) ParseFieldPath(path string) []ids.FieldType {
	parts := strings.Split(path, PathSeparator)
	out := make([]ids.FieldType, len(parts))
	for i, p := range parts {
		out[i] = s.fieldNames.Intern(p)
	}
	return out
}

// InternFieldPath returns the single field-type id naming path: the
// direct field type for a plain name, or an indirect field type whose
// id encodes the ordered element sequence.
func (s *Store) InternFieldPath(path string) ids.FieldType {
	fts := s.ParseFieldPath(path)
	if len(fts) == 1 {
		return fts[0]
	}
	return s.paths.Intern(fts)
}

// FieldPathName renders a field type back to its name: the interned
// name for a direct type, the joined path form for an indirect one.
func (s *Store) FieldPathName(ft ids.FieldType) (string, error) {
	if ft.IsIndirect() {
		path, ok := s.paths.Resolve(ft)
		if !ok {
			return "", qerrors.FieldTypeNotFound(ft.String())
		}
		parts := make([]string, len(path))
		for i, f := range path {
			name, err := s.FieldPathName(f)
			if err != nil {
				return "", err
			}
			parts[i] = name
		}
		return strings.Join(parts, PathSeparator), nil
	}
	name, ok := s.fieldNames.Resolve(ft)
	if !ok {
		return "", qerrors.FieldTypeNotFound(ft.String())
	}
	return name, nil
}

// expandPath flattens every indirect field type in path into its
// element sequence, recursively, so the resolver only ever sees direct
// steps. This is what lets indirection recurse through additional
// indirect field types.
func (s *Store) expandPath(path []ids.FieldType) ([]ids.FieldType, error) {
	out := make([]ids.FieldType, 0, len(path))
	for _, ft := range path {
		if !ft.IsIndirect() {
			out = append(out, ft)
			continue
		}
		inner, ok := s.paths.Resolve(ft)
		if !ok {
			return nil, qerrors.FieldTypeNotFound(ft.String())
		}
		expanded, err := s.expandPath(inner)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// resolvePath expands indirect elements and walks the result to the
// final (entity, field) pair.
func (s *Store) resolvePath(entityID ids.EntityId, path []ids.FieldType) (ids.EntityId, ids.FieldType, error) {
	expanded, err := s.expandPath(path)
	if err != nil {
		return 0, 0, err
	}
	return s.resolver.Resolve(entityID, expanded)
}

// readPath resolves path against entityID and reads the target cell.
func (s *Store) readPath(entityID ids.EntityId, path []ids.FieldType) (entity.Cell, error) {
	target, ft, err := s.resolvePath(entityID, path)
	if err != nil {
		return entity.Cell{}, err
	}
	return s.entities.GetCell(target, ft)
}

// fieldReader adapts readPath to the notification registry's
// context-snapshot callback.
func (s *Store) fieldReader() func(ids.EntityId, string) (entity.Cell, error) {
	return func(entityID ids.EntityId, path string) (entity.Cell, error) {
		return s.readPath(entityID, s.ParseFieldPath(path))
	}
}
