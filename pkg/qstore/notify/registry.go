// Package notify implements the notification registry: indexed by-id and by-type
// subscription registries, on-write/on-change filtering, inherited
// type propagation, and context-field snapshots built at fire time.
package notify

import (
	"context"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/logger"
	"github.com/rqure/qcore/pkg/qstore/entity"
	"github.com/rqure/qcore/pkg/qstore/ids"
)

// ConfigKind distinguishes the two NotifyConfig variants.
type ConfigKind int

const (
	ConfigEntityId ConfigKind = iota
	ConfigEntityType
)

// Config is a subscription's matching criteria. FieldType must be a
// direct field type; indirect paths are only allowed in Context.
type Config struct {
	Kind            ConfigKind
	EntityId        ids.EntityId
	EntityType      ids.EntityType
	FieldType       ids.FieldType
	TriggerOnChange bool
	Context         []string
}

// Hash is the subscription's config hash, an fnv64a digest over the
// config's canonical encoding so subscribers can dedupe
// re-registrations without deep struct comparison.
func (c Config) Hash() uint64 {
	h := fnv.New64a()
	switch c.Kind {
	case ConfigEntityId:
		h.Write([]byte("id:"))
		h.Write([]byte(c.EntityId.String()))
	case ConfigEntityType:
		h.Write([]byte("type:"))
		h.Write([]byte(c.EntityType.String()))
	}
	h.Write([]byte(":"))
	h.Write([]byte(c.FieldType.String()))
	h.Write([]byte(":"))
	h.Write([]byte(strconv.FormatBool(c.TriggerOnChange)))
	ctx := append([]string(nil), c.Context...)
	sort.Strings(ctx)
	for _, p := range ctx {
		h.Write([]byte(":"))
		h.Write([]byte(p))
	}
	return h.Sum64()
}

// Notification is delivered to every listener matching a fired write.
type Notification struct {
	EntityId   ids.EntityId
	FieldType  ids.FieldType
	Current    entity.Cell
	Previous   entity.Cell
	Context    map[string]entity.Cell
	ConfigHash uint64
}

// Listener is the bounded delivery queue a subscriber reads from.
type Listener chan Notification

// FieldReader performs a full read (through the request executor, so
// indirection recurses) of path against entityID, for context-field
// snapshots.
type FieldReader func(entityID ids.EntityId, path string) (entity.Cell, error)

type subscription struct {
	config   Config
	listener Listener
}

// Registry is the by-id and by-type subscription index.
type Registry struct {
	mu         sync.RWMutex
	byID       map[ids.EntityId]map[ids.FieldType][]*subscription
	byType     map[ids.EntityType]map[ids.FieldType][]*subscription
	queueDepth int
	publisher  Publisher
	log        logger.Logger
}

func NewRegistry(queueDepth int, publisher Publisher, log logger.Logger) *Registry {
	return &Registry{
		byID:       make(map[ids.EntityId]map[ids.FieldType][]*subscription),
		byType:     make(map[ids.EntityType]map[ids.FieldType][]*subscription),
		queueDepth: queueDepth,
		publisher:  publisher,
		log:        log,
	}
}

// Register creates a subscription and returns its listener channel and
// a handle to later Unregister it.
func (r *Registry) Register(cfg Config) (Listener, error) {
	if cfg.FieldType.IsIndirect() {
		return nil, qerrors.InvalidNotifyConfig("top-level field_type must not be an indirect path")
	}
	listener := make(Listener, r.queueDepth)
	sub := &subscription{config: cfg, listener: listener}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch cfg.Kind {
	case ConfigEntityId:
		if r.byID[cfg.EntityId] == nil {
			r.byID[cfg.EntityId] = make(map[ids.FieldType][]*subscription)
		}
		r.byID[cfg.EntityId][cfg.FieldType] = append(r.byID[cfg.EntityId][cfg.FieldType], sub)
	case ConfigEntityType:
		if r.byType[cfg.EntityType] == nil {
			r.byType[cfg.EntityType] = make(map[ids.FieldType][]*subscription)
		}
		r.byType[cfg.EntityType][cfg.FieldType] = append(r.byType[cfg.EntityType][cfg.FieldType], sub)
	default:
		return nil, qerrors.InvalidNotifyConfig("unknown NotifyConfig kind")
	}
	return listener, nil
}

// Unregister removes every subscription matching cfg exactly (by
// config_hash), closing their listener channels.
func (r *Registry) Unregister(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash := cfg.Hash()

	switch cfg.Kind {
	case ConfigEntityId:
		subs := r.byID[cfg.EntityId][cfg.FieldType]
		r.byID[cfg.EntityId][cfg.FieldType] = filterAndClose(subs, hash)
	case ConfigEntityType:
		subs := r.byType[cfg.EntityType][cfg.FieldType]
		r.byType[cfg.EntityType][cfg.FieldType] = filterAndClose(subs, hash)
	}
}

func filterAndClose(subs []*subscription, hash uint64) []*subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.config.Hash() == hash {
			close(s.listener)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Fire runs the fan-out for a successful write to
// (entityID, fieldType). ancestorTypes must include entityType's full
// ancestor chain.
func (r *Registry) Fire(ctx context.Context, entityID ids.EntityId, entityType ids.EntityType, ancestorTypes []ids.EntityType, fieldType ids.FieldType, previous, current entity.Cell, read FieldReader) {
	r.mu.RLock()
	var candidates []*subscription
	candidates = append(candidates, r.byID[entityID][fieldType]...)
	candidates = append(candidates, r.byType[entityType][fieldType]...)
	for _, anc := range ancestorTypes {
		candidates = append(candidates, r.byType[anc][fieldType]...)
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return
	}

	for _, sub := range candidates {
		if sub.config.TriggerOnChange && previous.Value.Equal(current.Value) {
			continue
		}

		ctxValues := make(map[string]entity.Cell, len(sub.config.Context))
		for _, path := range sub.config.Context {
			cell, err := read(entityID, path)
			if err != nil {
				r.logf("context read failed", entityID, fieldType, path, err)
				continue
			}
			ctxValues[path] = cell
		}

		n := Notification{
			EntityId:   entityID,
			FieldType:  fieldType,
			Current:    current,
			Previous:   previous,
			Context:    ctxValues,
			ConfigHash: sub.config.Hash(),
		}

		select {
		case sub.listener <- n:
		default:
			r.logf("listener queue full, notification dropped", entityID, fieldType, "", nil)
		}
	}

	if r.publisher != nil {
		r.publisher.Publish(ctx, entityID, fieldType, current)
	}
}

func (r *Registry) logf(msg string, entityID ids.EntityId, fieldType ids.FieldType, path string, err error) {
	if r.log == nil {
		return
	}
	fields := logger.Fields{"entity_id": entityID.String(), "field_type": fieldType.String()}
	if path != "" {
		fields["context_path"] = path
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	r.log.Warn(msg, fields)
}
