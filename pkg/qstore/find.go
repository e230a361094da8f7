package qstore

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/rqure/qcore/pkg/condition"
	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/logger"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/page"
	"github.com/rqure/qcore/pkg/qstore/value"
)

// find implements FindEntities and FindEntitiesExact.
// exact limits candidates to entities created with exactly entityType;
// otherwise the candidate set is inheritance-expanded over every
// descendant type. Candidate lists are iterated in type-id order so
// cursors stay stable across pages absent mutations.
func (s *Store) find(ctx context.Context, entityType ids.EntityType, opts page.Opts, filter string, exact bool) (page.Result, error) {
	var types []ids.EntityType
	if exact {
		types = []ids.EntityType{entityType}
	} else {
		types = s.registry.GetDescendants(entityType)
		sortTypes(types)
	}

	lists := make([][]ids.EntityId, 0, len(types))
	for _, t := range types {
		lists = append(lists, s.entities.ByType(t))
	}

	if filter == "" {
		res, err := page.Collect(lists, opts)
		if err == nil && s.metrics != nil {
			s.metrics.PageServed(false)
		}
		return res, err
	}

	prog, err := s.filters.Compile(filter)
	if err != nil {
		return page.Result{}, err
	}
	vars := prog.Vars()

	started := time.Now()
	res, err := page.CollectFiltered(lists, opts, func(id ids.EntityId) bool {
		env, envErr := s.buildFilterEnv(id, vars)
		if envErr != nil {
			return false
		}
		ok, evalErr := s.filters.Evaluate(ctx, prog, env)
		if evalErr != nil {
			// A filter that raises excludes the entity but never
			// aborts the query.
			if s.log != nil {
				s.log.Warn("filter evaluation failed, entity excluded", logger.Fields{
					"entity_id": id.String(),
					"filter":    filter,
					"error":     evalErr.Error(),
				})
			}
			return false
		}
		return ok
	})
	if s.metrics != nil {
		s.metrics.ObserveFilterDuration(time.Since(started))
		if err == nil {
			s.metrics.PageServed(true)
		}
	}
	return res, err
}

// buildFilterEnv binds every variable the filter references as a field
// path read against id, plus the two synthetic variables.
func (s *Store) buildFilterEnv(id ids.EntityId, vars []string) (map[string]any, error) {
	entityType, ok := s.entities.TypeOf(id)
	if !ok {
		return nil, qerrors.EntityNotFound(id)
	}

	env := make(map[string]any, len(vars)+2)
	env["EntityId"] = id.String()
	env["EntityType"] = s.entityName(entityType)

	for _, v := range vars {
		path := s.ParseFieldPath(condition.TranslatePath(v))
		cell, err := s.readPath(id, path)
		if err != nil {
			// An unreadable variable binds nil; the expression then
			// either compares against nil or raises, both of which
			// exclude the entity.
			env[v] = nil
			continue
		}
		env[v] = filterValue(cell.Value)
	}
	return env, nil
}

// filterValue converts a cell value into its filter-environment form:
// blobs become base64 strings, timestamps wall-clock datetimes, entity
// references stringified ids, entity lists string arrays.
func filterValue(v value.Value) any {
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
		out := make([]string, len(list))
		for i, id := range list {
			out[i] = id.String()
		}
		return out
	case value.KindEntityReference:
		ref, _ := v.AsEntityReference()
		if ref == nil {
			return ""
		}
		return ref.String()
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
		return ts
	default:
		return nil
	}
}
