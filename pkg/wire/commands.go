package wire

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/logger"
	"github.com/rqure/qcore/pkg/qstore"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/notify"
	"github.com/rqure/qcore/pkg/qstore/page"
	"github.com/rqure/qcore/pkg/qstore/snapshot"
	"github.com/rqure/qcore/pkg/token"
)

// Command names. Every request command is a fixed uppercase
// ASCII name arriving as the first element of an array frame.
const (
	CmdGetEntityType           = "GET_ENTITY_TYPE"
	CmdResolveEntityType       = "RESOLVE_ENTITY_TYPE"
	CmdGetFieldType            = "GET_FIELD_TYPE"
	CmdResolveFieldType        = "RESOLVE_FIELD_TYPE"
	CmdGetEntitySchema         = "GET_ENTITY_SCHEMA"
	CmdGetCompleteEntitySchema = "GET_COMPLETE_ENTITY_SCHEMA"
	CmdGetFieldSchema          = "GET_FIELD_SCHEMA"
	CmdSetFieldSchema          = "SET_FIELD_SCHEMA"
	CmdEntityExists            = "ENTITY_EXISTS"
	CmdFieldExists             = "FIELD_EXISTS"
	CmdResolveIndirection      = "RESOLVE_INDIRECTION"
	CmdRead                    = "READ"
	CmdWrite                   = "WRITE"
	CmdCreateEntity            = "CREATE_ENTITY"
	CmdDeleteEntity            = "DELETE_ENTITY"
	CmdUpdateSchema            = "UPDATE_SCHEMA"
	CmdTakeSnapshot            = "TAKE_SNAPSHOT"
	CmdFindEntitiesPaginated   = "FIND_ENTITIES_PAGINATED"
	CmdFindEntitiesExact       = "FIND_ENTITIES_EXACT"
	CmdFindEntities            = "FIND_ENTITIES"
	CmdGetEntityTypes          = "GET_ENTITY_TYPES"
	CmdGetEntityTypesPaginated = "GET_ENTITY_TYPES_PAGINATED"
	CmdRegisterNotification    = "REGISTER_NOTIFICATION"
	CmdUnregisterNotification  = "UNREGISTER_NOTIFICATION"
	CmdAuthenticate            = "AUTHENTICATE"
	CmdPerform                 = "PERFORM"

	// CmdNotification keys unsolicited push frames to client
	// connections.
	CmdNotification = "NOTIFICATION"
)

// Authenticator is the credential boundary the AUTHENTICATE command
// calls into; the store engine itself never sees
// passwords.
type Authenticator interface {
	Authenticate(ctx context.Context, name, password string) (ids.EntityId, error)
}

// Handler turns parsed command frames into store requests and results
// back into response frames. One Handler serves every connection; all
// per-connection state lives in Session.
type Handler struct {
	store      *qstore.Store
	auth       Authenticator
	archiver   snapshot.Archiver
	validate   *validator.Validate
	log        logger.Logger
	sessionTTL time.Duration
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithAuthenticator requires an AUTHENTICATE exchange before any other
// command is accepted.
func WithAuthenticator(a Authenticator) HandlerOption {
	return func(h *Handler) { h.auth = a }
}

// WithArchiver uploads every TAKE_SNAPSHOT blob to an archive target.
func WithArchiver(a snapshot.Archiver) HandlerOption {
	return func(h *Handler) { h.archiver = a }
}

// WithHandlerLogger sets the handler's structured logger.
func WithHandlerLogger(log logger.Logger) HandlerOption {
	return func(h *Handler) { h.log = log }
}

// WithSessionTTL bounds how long an authenticated session stays valid.
func WithSessionTTL(ttl time.Duration) HandlerOption {
	return func(h *Handler) { h.sessionTTL = ttl }
}

func NewHandler(store *qstore.Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:      store,
		validate:   validator.New(),
		sessionTTL: time.Hour,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Session is one client connection's state: its auth token and its
// registered notification listeners. Push frames (notifications) are
// read from Push by the connection driver.
type Session struct {
	handler   *Handler
	token     *token.Payload
	listeners map[uint64]notify.Config
	push      chan Frame
	done      chan struct{}
}

// authenticated reports whether the session holds a live token.
func (s *Session) authenticated() bool {
	return s.token != nil && s.token.Valid() == nil
}

// Subject returns the authenticated subject id, zero when anonymous.
func (s *Session) Subject() ids.EntityId {
	if s.token == nil {
		return 0
	}
	return s.token.SubjectID
}

// NewSession creates a connection session. pushDepth bounds the
// unsolicited-frame queue; a full queue drops the frame for this
// connection only.
func (h *Handler) NewSession(pushDepth int) *Session {
	if pushDepth <= 0 {
		pushDepth = 64
	}
	return &Session{
		handler:   h,
		listeners: make(map[uint64]notify.Config),
		push:      make(chan Frame, pushDepth),
		done:      make(chan struct{}),
	}
}

// Push is the unsolicited-frame stream for this connection.
func (s *Session) Push() <-chan Frame { return s.push }

// Close unregisters every listener the session holds. Safe to call
// once, when the connection drops or times out.
func (s *Session) Close() {
	close(s.done)
	for _, cfg := range s.listeners {
		s.handler.store.UnregisterNotification(cfg)
	}
	s.listeners = nil
}

// Dispatch executes one command frame and returns the response frame.
// A malformed or failing command yields an error frame; the connection
// survives.
func (h *Handler) Dispatch(ctx context.Context, sess *Session, f FrameRef) Frame {
	if f.Type != TypeArray || len(f.Items) == 0 {
		return NewError(string(qerrors.KindInvalidRequest), "command must be a non-empty array")
	}
	name := f.Items[0].Text()
	args := f.Items[1:]

	if h.auth != nil && !sess.authenticated() && name != CmdAuthenticate {
		return NewError(string(qerrors.KindInvalidCredentials), "authenticate first")
	}
	if subject := sess.Subject(); subject != 0 {
		ctx = qerrors.WithSubjectID(ctx, subject.String())
	}

	resp, err := h.dispatch(ctx, sess, name, args)
	if err != nil {
		return errorFrame(err)
	}
	return resp
}

func (h *Handler) dispatch(ctx context.Context, sess *Session, name string, args []FrameRef) (Frame, error) {
	switch name {
	case CmdGetEntityType:
		if len(args) != 1 {
			return Frame{}, arityError(name, 1, len(args))
		}
		req := &qstore.GetEntityType{Name: args[0].Text()}
		return h.run(ctx, req, func() Frame { return NewInt(int64(req.EntityType)) })

	case CmdResolveEntityType:
		t, err := typeArg(args, 0, name)
		if err != nil {
			return Frame{}, err
		}
		req := &qstore.ResolveEntityType{EntityType: t}
		return h.run(ctx, req, func() Frame { return NewBulkString(req.Name) })

	case CmdGetFieldType:
		if len(args) != 1 {
			return Frame{}, arityError(name, 1, len(args))
		}
		req := &qstore.GetFieldType{Name: args[0].Text()}
		return h.run(ctx, req, func() Frame { return NewInt(int64(req.FieldType)) })

	case CmdResolveFieldType:
		ft, err := fieldTypeArg(args, 0, name)
		if err != nil {
			return Frame{}, err
		}
		req := &qstore.ResolveFieldType{FieldType: ft}
		return h.run(ctx, req, func() Frame { return NewBulkString(req.Name) })

	case CmdGetEntitySchema:
		t, err := h.typeByName(args, 0, name)
		if err != nil {
			return Frame{}, err
		}
		req := &qstore.GetEntitySchema{EntityType: t}
		return h.run(ctx, req, func() Frame {
			return jsonBulk(h.store.SchemaToJSON(req.Schema))
		})

	case CmdGetCompleteEntitySchema:
		t, err := h.typeByName(args, 0, name)
		if err != nil {
			return Frame{}, err
		}
		req := &qstore.GetCompleteEntitySchema{EntityType: t}
		return h.run(ctx, req, func() Frame {
			return jsonBulk(h.store.CompleteSchemaToJSON(req.Schema))
		})

	case CmdGetFieldSchema:
		t, err := h.typeByName(args, 0, name)
		if err != nil {
			return Frame{}, err
		}
		if len(args) != 2 {
			return Frame{}, arityError(name, 2, len(args))
		}
		req := &qstore.GetFieldSchema{EntityType: t, FieldType: h.store.InternFieldPath(args[1].Text())}
		return h.run(ctx, req, func() Frame {
			return jsonBulk(h.store.FieldSchemaToJSON(req.Schema))
		})

	case CmdSetFieldSchema:
		return h.setFieldSchema(ctx, name, args)

	case CmdEntityExists:
		id, err := idArg(args, 0, name)
		if err != nil {
			return Frame{}, err
		}
		req := &qstore.EntityExists{EntityId: id}
		return h.run(ctx, req, func() Frame { return NewBool(req.Exists) })

	case CmdFieldExists:
		t, err := h.typeByName(args, 0, name)
		if err != nil {
			return Frame{}, err
		}
		if len(args) != 2 {
			return Frame{}, arityError(name, 2, len(args))
		}
		req := &qstore.FieldExists{EntityType: t, FieldType: h.store.InternFieldPath(args[1].Text())}
		return h.run(ctx, req, func() Frame { return NewBool(req.Exists) })

	case CmdResolveIndirection:
		id, err := idArg(args, 0, name)
		if err != nil {
			return Frame{}, err
		}
		if len(args) != 2 {
			return Frame{}, arityError(name, 2, len(args))
		}
		req := &qstore.ResolveIndirection{EntityId: id, FieldTypes: h.store.ParseFieldPath(args[1].Text())}
		return h.run(ctx, req, func() Frame {
			fieldName, _ := h.store.FieldPathName(req.ResolvedFieldType)
			return NewArray(NewBulkString(req.ResolvedEntityId.String()), NewBulkString(fieldName))
		})

	case CmdRead:
		id, err := idArg(args, 0, name)
		if err != nil {
			return Frame{}, err
		}
		if len(args) != 2 {
			return Frame{}, arityError(name, 2, len(args))
		}
		req := &qstore.Read{EntityId: id, FieldTypes: h.store.ParseFieldPath(args[1].Text())}
		return h.run(ctx, req, func() Frame {
			writer := NewNullBulk()
			if req.WriterId != nil {
				writer = NewBulkString(req.WriterId.String())
			}
			return NewMap(
				NewBulkString("value"), ValueFrame(req.Value),
				NewBulkString("writeTime"), NewBulkString(req.WriteTime.Format(time.RFC3339Nano)),
				NewBulkString("writerId"), writer,
			)
		})

	case CmdWrite:
		return h.write(ctx, name, args)

	case CmdCreateEntity:
		return h.createEntity(ctx, name, args)

	case CmdDeleteEntity:
		id, err := idArg(args, 0, name)
		if err != nil {
			return Frame{}, err
		}
		req := &qstore.Delete{EntityId: id}
		return h.runMut(ctx, req, func() Frame { return OK() })

	case CmdUpdateSchema:
		if len(args) != 1 {
			return Frame{}, arityError(name, 1, len(args))
		}
		var payload schemaPayload
		if err := h.decodeJSON(args[0].Str, &payload); err != nil {
			return Frame{}, err
		}
		single, err := h.store.SchemaFromJSON(payload.toJSONSchema())
		if err != nil {
			return Frame{}, err
		}
		req := &qstore.SchemaUpdate{Schema: single}
		return h.runMut(ctx, req, func() Frame { return OK() })

	case CmdTakeSnapshot:
		req := &qstore.Snapshot{}
		resp, err := h.runMut(ctx, req, func() Frame { return NewInt(int64(req.SnapshotCounter)) })
		if err != nil || resp.IsError() {
			return resp, err
		}
		if h.archiver != nil {
			blob, encErr := snapshot.Encode(h.store.TakeSnapshot())
			if encErr == nil {
				if archErr := h.archiver.Archive(ctx, req.SnapshotCounter, blob); archErr != nil && h.log != nil {
					h.log.Warn("snapshot archive failed", logger.Fields{"error": archErr.Error()})
				}
			}
		}
		return resp, nil

	case CmdFindEntities:
		return h.findAll(ctx, name, args)

	case CmdFindEntitiesPaginated:
		return h.findPage(ctx, name, args, false)

	case CmdFindEntitiesExact:
		return h.findPage(ctx, name, args, true)

	case CmdGetEntityTypes:
		req := &qstore.GetEntityTypes{Page: page.Opts{Limit: 1 << 20}}
		return h.run(ctx, req, func() Frame { return h.typesFrame(req.Types) })

	case CmdGetEntityTypesPaginated:
		opts, err := pageArgs(args, 0)
		if err != nil {
			return Frame{}, err
		}
		req := &qstore.GetEntityTypes{Page: opts}
		return h.run(ctx, req, func() Frame {
			next := NewNullBulk()
			if req.NextCursor != "" {
				next = NewBulkString(req.NextCursor)
			}
			return NewMap(
				NewBulkString("types"), h.typesFrame(req.Types),
				NewBulkString("total"), NewInt(int64(req.Total)),
				NewBulkString("next"), next,
			)
		})

	case CmdRegisterNotification:
		return h.registerNotification(sess, name, args)

	case CmdUnregisterNotification:
		return h.unregisterNotification(sess, name, args)

	case CmdAuthenticate:
		if h.auth == nil {
			return Frame{}, qerrors.New(qerrors.KindInvalidAuthenticationMethod, "authentication not configured")
		}
		if len(args) != 2 {
			return Frame{}, arityError(name, 2, len(args))
		}
		subject, err := h.auth.Authenticate(ctx, args[0].Text(), args[1].Text())
		if err != nil {
			return Frame{}, err
		}
		payload := token.NewPayload(subject, h.sessionTTL)
		sess.token = &payload
		return NewBulkString(subject.String()), nil

	case CmdPerform:
		if len(args) != 1 || args[0].Type != TypeArray {
			return Frame{}, qerrors.InvalidRequest("PERFORM takes one array of commands")
		}
		responses := make([]Frame, 0, len(args[0].Items))
		for _, sub := range args[0].Items {
			if sub.Type == TypeArray && len(sub.Items) > 0 && sub.Items[0].Text() == CmdPerform {
				responses = append(responses, NewError(string(qerrors.KindInvalidRequest), "nested PERFORM"))
				continue
			}
			responses = append(responses, h.Dispatch(ctx, sess, sub))
		}
		return NewArray(responses...), nil

	default:
		return Frame{}, qerrors.InvalidRequest("unknown command " + name)
	}
}

// run executes one read-only request and renders its result.
func (h *Handler) run(ctx context.Context, req qstore.Request, render func() Frame) (Frame, error) {
	if err := h.store.Perform(ctx, req); err != nil {
		return Frame{}, err
	}
	if err := req.Err(); err != nil {
		return errorFrame(err), nil
	}
	return render(), nil
}

// runMut executes one mutating request and renders its result.
func (h *Handler) runMut(ctx context.Context, req qstore.Request, render func() Frame) (Frame, error) {
	if err := h.store.PerformMut(ctx, req); err != nil {
		return Frame{}, err
	}
	if err := req.Err(); err != nil {
		return errorFrame(err), nil
	}
	return render(), nil
}

func (h *Handler) write(ctx context.Context, name string, args []FrameRef) (Frame, error) {
	if len(args) < 3 || len(args) > 4 {
		return Frame{}, arityError(name, 3, len(args))
	}
	id, err := idArg(args, 0, name)
	if err != nil {
		return Frame{}, err
	}
	v, err := FrameValue(args[2].ToOwned())
	if err != nil {
		return Frame{}, err
	}

	req := &qstore.Write{
		EntityId:   id,
		FieldTypes: h.store.ParseFieldPath(args[1].Text()),
		Value:      v,
	}
	if len(args) == 4 {
		if err := applyWriteOptions(req, args[3]); err != nil {
			return Frame{}, err
		}
	}
	return h.runMut(ctx, req, func() Frame {
		return NewMap(NewBulkString("writeProcessed"), NewBool(req.WriteProcessed))
	})
}

// applyWriteOptions reads the optional trailing map: push, adjust,
// writeTime, writerId.
func applyWriteOptions(req *qstore.Write, opts FrameRef) error {
	if opts.Type != TypeMap {
		return qerrors.InvalidRequest("write options must be a map frame")
	}
	for i := 0; i+1 < len(opts.Items); i += 2 {
		key := opts.Items[i].Text()
		val := opts.Items[i+1]
		switch key {
		case "push":
			switch val.Text() {
			case "Always":
				req.PushCondition = qstore.PushAlways
			case "Changes":
				req.PushCondition = qstore.PushChanges
			default:
				return qerrors.InvalidRequest("bad push condition " + val.Text())
			}
		case "adjust":
			switch val.Text() {
			case "Set":
				req.AdjustBehavior = qstore.AdjustSet
			case "Add":
				req.AdjustBehavior = qstore.AdjustAdd
			case "Subtract":
				req.AdjustBehavior = qstore.AdjustSubtract
			default:
				return qerrors.InvalidRequest("bad adjust behavior " + val.Text())
			}
		case "writeTime":
			ts, err := time.Parse(time.RFC3339Nano, val.Text())
			if err != nil {
				return qerrors.InvalidRequest("bad writeTime")
			}
			req.WriteTime = &ts
		case "writerId":
			id, err := ids.ParseEntityId(val.Text())
			if err != nil {
				return qerrors.InvalidRequest("bad writerId")
			}
			req.WriterId = &id
		default:
			return qerrors.InvalidRequest("unknown write option " + key)
		}
	}
	return nil
}

func (h *Handler) createEntity(ctx context.Context, name string, args []FrameRef) (Frame, error) {
	if len(args) < 2 || len(args) > 3 {
		return Frame{}, arityError(name, 2, len(args))
	}
	t, err := h.typeByName(args, 0, name)
	if err != nil {
		return Frame{}, err
	}
	req := &qstore.Create{EntityType: t, Name: args[1].Text()}
	if len(args) == 3 && args[2].Type != TypeNull {
		parent, err := ids.ParseEntityId(args[2].Text())
		if err != nil {
			return Frame{}, qerrors.InvalidRequest("bad parent id")
		}
		req.ParentId = &parent
	}
	return h.runMut(ctx, req, func() Frame {
		return NewArray(
			NewBulkString(req.CreatedEntityId.String()),
			NewBulkString(req.Timestamp.Format(time.RFC3339Nano)),
		)
	})
}

func (h *Handler) setFieldSchema(ctx context.Context, name string, args []FrameRef) (Frame, error) {
	if len(args) != 3 {
		return Frame{}, arityError(name, 3, len(args))
	}
	t, err := h.typeByName(args, 0, name)
	if err != nil {
		return Frame{}, err
	}

	var payload fieldPayload
	if err := h.decodeJSON(args[2].Str, &payload); err != nil {
		return Frame{}, err
	}
	payload.Name = args[1].Text()

	fs, err := h.store.FieldSchemaFromJSON(payload.toJSONField())
	if err != nil {
		return Frame{}, err
	}

	getSingle := &qstore.GetEntitySchema{EntityType: t}
	if err := h.store.Perform(ctx, getSingle); err != nil {
		return Frame{}, err
	}
	if getSingle.Err() != nil {
		return errorFrame(getSingle.Err()), nil
	}
	single := getSingle.Schema
	single.Fields[fs.FieldType] = fs

	req := &qstore.SchemaUpdate{Schema: single}
	return h.runMut(ctx, req, func() Frame { return OK() })
}

func (h *Handler) findPage(ctx context.Context, name string, args []FrameRef, exact bool) (Frame, error) {
	t, err := h.typeByName(args, 0, name)
	if err != nil {
		return Frame{}, err
	}
	opts, err := pageArgs(args, 1)
	if err != nil {
		return Frame{}, err
	}
	filter := ""
	if len(args) >= 4 {
		filter = args[3].Text()
	}

	render := func(res page.Result) Frame {
		items := make([]Frame, len(res.Items))
		for i, id := range res.Items {
			items[i] = NewBulkString(id.String())
		}
		next := NewNullBulk()
		if res.NextCursor != "" {
			next = NewBulkString(res.NextCursor)
		}
		return NewMap(
			NewBulkString("items"), NewArray(items...),
			NewBulkString("total"), NewInt(int64(res.Total)),
			NewBulkString("next"), next,
		)
	}

	if exact {
		req := &qstore.FindEntitiesExact{EntityType: t, Page: opts, Filter: filter}
		return h.run(ctx, req, func() Frame { return render(req.Result) })
	}
	req := &qstore.FindEntities{EntityType: t, Page: opts, Filter: filter}
	return h.run(ctx, req, func() Frame { return render(req.Result) })
}

// findAll walks every page and returns the whole result set in one
// array, for callers that don't paginate.
func (h *Handler) findAll(ctx context.Context, name string, args []FrameRef) (Frame, error) {
	t, err := h.typeByName(args, 0, name)
	if err != nil {
		return Frame{}, err
	}
	filter := ""
	if len(args) >= 2 {
		filter = args[1].Text()
	}

	var items []Frame
	cursor := ""
	for {
		req := &qstore.FindEntities{
			EntityType: t,
			Page:       page.Opts{Limit: 1024, Cursor: cursor},
			Filter:     filter,
		}
		if err := h.store.Perform(ctx, req); err != nil {
			return Frame{}, err
		}
		if req.Err() != nil {
			return errorFrame(req.Err()), nil
		}
		for _, id := range req.Result.Items {
			items = append(items, NewBulkString(id.String()))
		}
		if req.Result.NextCursor == "" {
			return NewArray(items...), nil
		}
		cursor = req.Result.NextCursor
	}
}

func (h *Handler) registerNotification(sess *Session, name string, args []FrameRef) (Frame, error) {
	if len(args) != 1 {
		return Frame{}, arityError(name, 1, len(args))
	}
	var payload notifyPayload
	if err := h.decodeJSON(args[0].Str, &payload); err != nil {
		return Frame{}, err
	}
	cfg, err := h.notifyConfig(payload)
	if err != nil {
		return Frame{}, err
	}

	listener, err := h.store.RegisterNotification(cfg)
	if err != nil {
		return Frame{}, err
	}
	sess.listeners[cfg.Hash()] = cfg

	go func() {
		for n := range listener {
			frame := NotificationFrame(n)
			select {
			case sess.push <- frame:
			case <-sess.done:
				return
			default:
				// Full push queue drops the frame for this connection
				// only.
			}
		}
	}()

	return NewBulkString(strconv.FormatUint(cfg.Hash(), 10)), nil
}

func (h *Handler) unregisterNotification(sess *Session, name string, args []FrameRef) (Frame, error) {
	if len(args) != 1 {
		return Frame{}, arityError(name, 1, len(args))
	}
	var payload notifyPayload
	if err := h.decodeJSON(args[0].Str, &payload); err != nil {
		return Frame{}, err
	}
	cfg, err := h.notifyConfig(payload)
	if err != nil {
		return Frame{}, err
	}
	h.store.UnregisterNotification(cfg)
	delete(sess.listeners, cfg.Hash())
	return OK(), nil
}

// NotificationFrame encodes a delivered notification as the
// unsolicited push frame keyed by NOTIFICATION.
func NotificationFrame(n qstore.Notification) Frame {
	ctxItems := make([]Frame, 0, len(n.Context)*2)
	for path, cell := range n.Context {
		ctxItems = append(ctxItems, NewBulkString(path), ValueFrame(cell.Value))
	}
	return NewArray(
		NewBulkString(CmdNotification),
		NewMap(
			NewBulkString("entityId"), NewBulkString(n.EntityId.String()),
			NewBulkString("fieldType"), NewBulkString(n.FieldType.String()),
			NewBulkString("current"), ValueFrame(n.Current.Value),
			NewBulkString("previous"), ValueFrame(n.Previous.Value),
			NewBulkString("context"), NewMap(ctxItems...),
			NewBulkString("configHash"), NewInt(int64(n.ConfigHash)),
		),
	)
}

func (h *Handler) typesFrame(types []ids.EntityType) Frame {
	items := make([]Frame, 0, len(types))
	for _, t := range types {
		req := &qstore.ResolveEntityType{EntityType: t}
		if err := h.store.Perform(context.Background(), req); err == nil && req.Err() == nil {
			items = append(items, NewBulkString(req.Name))
		}
	}
	return NewArray(items...)
}

// typeByName resolves an entity type name argument without interning
// unknown names on read paths.
func (h *Handler) typeByName(args []FrameRef, idx int, name string) (ids.EntityType, error) {
	if len(args) <= idx {
		return 0, arityError(name, idx+1, len(args))
	}
	req := &qstore.GetEntityType{Name: args[idx].Text()}
	if err := h.store.Perform(context.Background(), req); err != nil {
		return 0, err
	}
	return req.EntityType, nil
}

func (h *Handler) decodeJSON(blob []byte, target any) error {
	if err := json.Unmarshal(blob, target); err != nil {
		return qerrors.Wrap(qerrors.KindInvalidRequest, "bad json payload", err)
	}
	if err := h.validate.Struct(target); err != nil {
		return qerrors.Wrap(qerrors.KindInvalidRequest, "payload validation failed", err)
	}
	return nil
}

func (h *Handler) notifyConfig(p notifyPayload) (notify.Config, error) {
	cfg := notify.Config{
		FieldType:       h.store.InternFieldPath(p.FieldType),
		TriggerOnChange: p.TriggerOnChange,
		Context:         p.Context,
	}
	switch p.Kind {
	case "entity_id":
		id, err := ids.ParseEntityId(p.EntityId)
		if err != nil {
			return notify.Config{}, qerrors.InvalidNotifyConfig("bad entityId")
		}
		cfg.Kind = notify.ConfigEntityId
		cfg.EntityId = id
	case "entity_type":
		req := &qstore.GetEntityType{Name: p.EntityType}
		if err := h.store.Perform(context.Background(), req); err != nil {
			return notify.Config{}, err
		}
		cfg.Kind = notify.ConfigEntityType
		cfg.EntityType = req.EntityType
	default:
		return notify.Config{}, qerrors.InvalidNotifyConfig("unknown kind " + p.Kind)
	}
	return cfg, nil
}

func idArg(args []FrameRef, idx int, name string) (ids.EntityId, error) {
	if len(args) <= idx {
		return 0, arityError(name, idx+1, len(args))
	}
	id, err := ids.ParseEntityId(args[idx].Text())
	if err != nil {
		return 0, qerrors.InvalidRequest("bad entity id " + args[idx].Text())
	}
	return id, nil
}

func typeArg(args []FrameRef, idx int, name string) (ids.EntityType, error) {
	if len(args) <= idx {
		return 0, arityError(name, idx+1, len(args))
	}
	if args[idx].Type != TypeInteger {
		return 0, qerrors.InvalidRequest("entity type must be an integer frame")
	}
	return ids.EntityType(args[idx].Int), nil
}

func fieldTypeArg(args []FrameRef, idx int, name string) (ids.FieldType, error) {
	if len(args) <= idx {
		return 0, arityError(name, idx+1, len(args))
	}
	if args[idx].Type != TypeInteger {
		return 0, qerrors.InvalidRequest("field type must be an integer frame")
	}
	return ids.FieldType(args[idx].Int), nil
}

// pageArgs reads optional [limit] [cursor] arguments starting at idx.
func pageArgs(args []FrameRef, idx int) (page.Opts, error) {
	opts := page.Opts{}
	if len(args) > idx {
		limit, err := strconv.Atoi(args[idx].Text())
		if err != nil {
			return page.Opts{}, qerrors.InvalidRequest("bad page limit")
		}
		opts.Limit = limit
	}
	if len(args) > idx+1 && args[idx+1].Type != TypeNull {
		opts.Cursor = args[idx+1].Text()
	}
	return opts, nil
}

func arityError(name string, want, got int) error {
	return qerrors.InvalidRequest(name + " expects " + strconv.Itoa(want) + " argument(s), got " + strconv.Itoa(got))
}

func jsonBulk(v any) Frame {
	blob, err := json.Marshal(v)
	if err != nil {
		return NewError(string(qerrors.KindInvalidFieldValue), err.Error())
	}
	return NewBulk(blob)
}

// errorFrame renders a store error as a `!<CODE> <text>` frame.
func errorFrame(err error) Frame {
	var se *qerrors.StoreError
	if errors.As(err, &se) {
		return NewError(qerrors.WireCode(se.Kind), se.Message)
	}
	return NewError("INTERNAL", err.Error())
}
