package qstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rqure/qcore/pkg/condition"
	"github.com/rqure/qcore/pkg/config"
	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/logger"
	"github.com/rqure/qcore/pkg/metrics"
	"github.com/rqure/qcore/pkg/qstore/entity"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/indirect"
	"github.com/rqure/qcore/pkg/qstore/interner"
	"github.com/rqure/qcore/pkg/qstore/notify"
	"github.com/rqure/qcore/pkg/qstore/schema"
)

// NotifyConfig and NotificationListener re-export the notification
// registry's types for callers that only import qstore.
type NotifyConfig = notify.Config

// NotificationListener is the bounded channel a subscriber reads
// notifications from.
type NotificationListener = notify.Listener

// Notification re-exports the delivered notification shape.
type Notification = notify.Notification

// WriteBatch is the message PerformMut posts to the write channel:
// exactly the mutating requests that were accepted, in order, so a
// downstream WAL writer observes each batch atomically.
type WriteBatch struct {
	CorrelationId string
	Timestamp     time.Time
	Requests      []Request
}

// Store owns the whole engine state: interners, schema registry,
// entity cells, notification indices, and the filter program cache.
// All of it lives behind one exclusive guard; mutations execute on one
// logical thread while reads may run concurrently with each other.
type Store struct {
	// mu is the single exclusive guard around every mutation path.
	mu sync.Mutex

	cfg config.StoreConfig
	log logger.Logger

	entityNames *interner.Interner[ids.EntityType]
	fieldNames  *interner.Interner[ids.FieldType]
	paths       *interner.PathInterner
	registry    *schema.Registry
	wk          schema.WellKnown
	idGen       ids.EntityIdGen
	entities    *entity.Store
	resolver    *indirect.Resolver
	notifier    *notify.Registry
	filters     *condition.Evaluator

	walCh         chan WriteBatch
	defaultWriter *ids.EntityId
	publisher     notify.Publisher

	// notifyDisabled suppresses fan-out during WAL replay so replays
	// never double-deliver.
	notifyDisabled bool

	snapshotCounter uint64

	now     func() time.Time
	tracer  trace.Tracer
	metrics *metrics.StoreMetrics
}

// Option customizes a Store at construction time.
type Option func(*Store)

// WithLogger sets the structured logger; a nil logger silences the
// store.
func WithLogger(log logger.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock overrides the store's time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithNotifyPublisher attaches a cross-process notification publisher
// (e.g. the Redis bridge) in addition to local listener queues.
func WithNotifyPublisher(p notify.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithMetrics attaches request/write/filter metrics.
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithTracerProvider sources the store's tracer from tp instead of
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) { s.tracer = tp.Tracer("qcore/qstore") }
}

// New builds a Store from cfg. The write channel is created with
// cfg.WALChannelDepth (bounded; a full
// channel blocks mutators) and notification listeners with cfg.NotificationQueueDepth.
func New(cfg config.StoreConfig, opts ...Option) (*Store, error) {
	if cfg.WALChannelDepth <= 0 {
		cfg.WALChannelDepth = 64
	}
	if cfg.NotificationQueueDepth <= 0 {
		cfg.NotificationQueueDepth = 16
	}

	filters, err := condition.NewEvaluator(condition.EvalOptions{})
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:         cfg,
		entityNames: interner.New[ids.EntityType](),
		fieldNames:  interner.New[ids.FieldType](),
		paths:       interner.NewPathInterner(),
		filters:     filters,
		walCh:       make(chan WriteBatch, cfg.WALChannelDepth),
		now:         time.Now,
		tracer:      otel.Tracer("qcore/qstore"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wk = schema.ResolveWellKnown(s.entityNames, s.fieldNames)
	s.registry = schema.NewRegistry(s.entityNames, s.fieldNames)
	s.entities = entity.NewStore(s.registry, s.wk, &s.idGen)
	s.resolver = indirect.NewResolver(s.entities, s.fieldNames)
	s.notifier = notify.NewRegistry(cfg.NotificationQueueDepth, s.publisher, s.log)
	s.notifyDisabled = cfg.DisableNotifications

	if cfg.DefaultWriterID != "" {
		if id, err := ids.ParseEntityId(cfg.DefaultWriterID); err == nil {
			s.defaultWriter = &id
		}
	}

	s.registry.SetSchema(schema.ObjectBaseSchema(s.wk))
	return s, nil
}

// Bootstrap registers the Folder and Root schemas and creates the Root
// entity if the store is empty, giving factory restores and tests a
// stable tree origin.
func (s *Store) Bootstrap(ctx context.Context) (ids.EntityId, error) {
	folder := schema.SingleSchema{
		EntityType: s.wk.Folder,
		Inherit:    []ids.EntityType{s.wk.Object},
		Fields:     map[ids.FieldType]schema.FieldSchema{},
	}
	root := schema.SingleSchema{
		EntityType: s.wk.Root,
		Inherit:    []ids.EntityType{s.wk.Folder},
		Fields:     map[ids.FieldType]schema.FieldSchema{},
	}

	reqs := []Request{
		&SchemaUpdate{Schema: folder},
		&SchemaUpdate{Schema: root},
	}
	if err := s.PerformMut(ctx, reqs...); err != nil {
		return 0, err
	}

	if existing := s.entities.ByType(s.wk.Root); len(existing) > 0 {
		return existing[0], nil
	}

	create := &Create{EntityType: s.wk.Root, Name: "Root"}
	if err := s.PerformMut(ctx, create); err != nil {
		return 0, err
	}
	if create.Err() != nil {
		return 0, create.Err()
	}
	return create.CreatedEntityId, nil
}

// WellKnown exposes the interned well-known type and field ids.
func (s *Store) WellKnown() schema.WellKnown { return s.wk }

// WriteChannel is the bounded channel every accepted mutation batch is
// posted to, in order, for WAL ingest.
func (s *Store) WriteChannel() <-chan WriteBatch { return s.walCh }

// SetNotificationsDisabled toggles fan-out suppression for WAL replay.
func (s *Store) SetNotificationsDisabled(disabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyDisabled = disabled
}

// RegisterNotification registers a subscription. The
// returned listener channel is bounded; a full queue drops that
// listener's notification only.
func (s *Store) RegisterNotification(cfg NotifyConfig) (NotificationListener, error) {
	return s.notifier.Register(cfg)
}

// UnregisterNotification removes every subscription matching cfg and
// closes their listeners.
func (s *Store) UnregisterNotification(cfg NotifyConfig) {
	s.notifier.Unregister(cfg)
}

// Perform executes a batch of read-only requests. Any mutating request
// in the batch fails with an invalid-request error on that request
// alone; the batch itself errors only when malformed.
func (s *Store) Perform(ctx context.Context, reqs ...Request) error {
	for _, req := range reqs {
		if req == nil {
			return qerrors.InvalidRequest("nil request in batch")
		}
	}
	for _, req := range reqs {
		if req.Mutating() {
			req.setErr(qerrors.InvalidRequest("mutating request on immutable perform"))
			continue
		}
		s.executeRead(ctx, req)
		s.observe(req)
	}
	return nil
}

// PerformMut executes a batch of requests, mutating variants included,
// then posts the accepted mutations as one WriteBatch to the write
// channel. The channel send blocks when the WAL consumer
// lags; everything before it — cell mutation and notification fan-out —
// is atomic with respect to other mutators.
func (s *Store) PerformMut(ctx context.Context, reqs ...Request) error {
	for _, req := range reqs {
		if req == nil {
			return qerrors.InvalidRequest("nil request in batch")
		}
	}

	correlationID := uuid.NewString()
	ctx = qerrors.WithRequestID(ctx, correlationID)
	ctx, span := s.tracer.Start(ctx, "qstore.PerformMut",
		trace.WithAttributes(
			attribute.String("request_id", correlationID),
			attribute.Int("batch_size", len(reqs)),
		))
	defer span.End()

	s.mu.Lock()
	accepted := make([]Request, 0, len(reqs))
	schemaUpdated := false
	for _, req := range reqs {
		if !req.Mutating() {
			s.executeRead(ctx, req)
			s.observe(req)
			continue
		}
		s.executeMutation(ctx, req)
		s.observe(req)
		if s.acceptedMutation(req) {
			accepted = append(accepted, req)
			if _, ok := req.(*SchemaUpdate); ok {
				schemaUpdated = true
			}
		}
	}
	if schemaUpdated {
		// One warm pass per batch of schema updates.
		s.registry.WarmCache()
	}
	s.mu.Unlock()

	if len(accepted) > 0 {
		batch := WriteBatch{
			CorrelationId: correlationID,
			Timestamp:     s.now(),
			Requests:      accepted,
		}
		select {
		case s.walCh <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// acceptedMutation reports whether a mutating request actually landed:
// dropped writes (stale write_time, unchanged under Changes) are
// absent from the WAL batch.
func (s *Store) acceptedMutation(req Request) bool {
	if req.Err() != nil {
		return false
	}
	if w, ok := req.(*Write); ok {
		return w.WriteProcessed
	}
	return true
}

func (s *Store) observe(req Request) {
	if s.metrics != nil {
		s.metrics.ObserveRequest(requestName(req), req.Mutating(), req.Err() == nil)
	}
	if req.Err() != nil && s.log != nil {
		s.log.Debug("request failed", logger.Fields{
			"request": requestName(req),
			"error":   req.Err().Error(),
		})
	}
}

func requestName(req Request) string {
	switch req.(type) {
	case *Read:
		return "Read"
	case *Write:
		return "Write"
	case *Create:
		return "Create"
	case *Delete:
		return "Delete"
	case *SchemaUpdate:
		return "SchemaUpdate"
	case *Snapshot:
		return "Snapshot"
	case *GetEntityType:
		return "GetEntityType"
	case *ResolveEntityType:
		return "ResolveEntityType"
	case *GetFieldType:
		return "GetFieldType"
	case *ResolveFieldType:
		return "ResolveFieldType"
	case *GetEntitySchema:
		return "GetEntitySchema"
	case *GetCompleteEntitySchema:
		return "GetCompleteEntitySchema"
	case *GetFieldSchema:
		return "GetFieldSchema"
	case *EntityExists:
		return "EntityExists"
	case *FieldExists:
		return "FieldExists"
	case *ResolveIndirection:
		return "ResolveIndirection"
	case *FindEntities:
		return "FindEntities"
	case *FindEntitiesExact:
		return "FindEntitiesExact"
	case *GetEntityTypes:
		return "GetEntityTypes"
	default:
		return "Unknown"
	}
}
