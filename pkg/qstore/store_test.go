package qstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rqure/qcore/pkg/config"
	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/notify"
	"github.com/rqure/qcore/pkg/qstore/page"
	"github.com/rqure/qcore/pkg/qstore/schema"
	"github.com/rqure/qcore/pkg/qstore/value"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(config.StoreConfig{})
	require.NoError(t, err)
	// Drain the write channel so mutating calls never block on a WAL
	// consumer the test doesn't have.
	done := make(chan struct{})
	go func() {
		for range s.WriteChannel() {
		}
		close(done)
	}()
	t.Cleanup(func() {
		close(s.walCh)
		<-done
	})
	return s
}

func setSchema(t *testing.T, s *Store, name string, inherit []string, fields map[ids.FieldType]schema.FieldSchema) ids.EntityType {
	t.Helper()
	et := s.entityNames.Intern(name)
	var parents []ids.EntityType
	for _, p := range inherit {
		parents = append(parents, s.entityNames.Intern(p))
	}
	if fields == nil {
		fields = map[ids.FieldType]schema.FieldSchema{}
	}
	req := &SchemaUpdate{Schema: schema.SingleSchema{EntityType: et, Inherit: parents, Fields: fields}}
	require.NoError(t, s.PerformMut(context.Background(), req))
	require.NoError(t, req.Err())
	return et
}

func createEntity(t *testing.T, s *Store, typeName, name string, parent *ids.EntityId) ids.EntityId {
	t.Helper()
	req := &Create{EntityType: s.entityNames.Intern(typeName), ParentId: parent, Name: name}
	require.NoError(t, s.PerformMut(context.Background(), req))
	require.NoError(t, req.Err())
	return req.CreatedEntityId
}

func readField(t *testing.T, s *Store, id ids.EntityId, path string) *Read {
	t.Helper()
	req := &Read{EntityId: id, FieldTypes: s.ParseFieldPath(path)}
	require.NoError(t, s.Perform(context.Background(), req))
	return req
}

func writeField(t *testing.T, s *Store, id ids.EntityId, path string, v value.Value) *Write {
	t.Helper()
	req := &Write{EntityId: id, FieldTypes: s.ParseFieldPath(path), Value: v}
	require.NoError(t, s.PerformMut(context.Background(), req))
	require.NoError(t, req.Err())
	return req
}

// A folder created with no parent is findable by exact type and reads back its name.
func TestCreateFolderScenario(t *testing.T) {
	s := newTestStore(t)
	setSchema(t, s, "Folder", []string{"Object"}, nil)
	usersID := createEntity(t, s, "Folder", "Users", nil)

	find := &FindEntitiesExact{EntityType: s.wk.Folder}
	require.NoError(t, s.Perform(context.Background(), find))
	require.NoError(t, find.Err())
	assert.Equal(t, []ids.EntityId{usersID}, find.Result.Items)

	parent := readField(t, s, usersID, "Parent")
	require.NoError(t, parent.Err())
	ref, ok := parent.Value.AsEntityReference()
	require.True(t, ok)
	assert.Nil(t, ref)

	name := readField(t, s, usersID, "Name")
	require.NoError(t, name.Err())
	got, _ := name.Value.AsString()
	assert.Equal(t, "Users", got)
}

// Creating a child links both directions and one-hop indirection reads through Parent.
func TestParentChildIndirection(t *testing.T) {
	s := newTestStore(t)
	setSchema(t, s, "Folder", []string{"Object"}, nil)
	setSchema(t, s, "User", []string{"Object"}, nil)
	usersID := createEntity(t, s, "Folder", "Users", nil)
	adminID := createEntity(t, s, "User", "admin", &usersID)

	viaParent := readField(t, s, adminID, "Parent->Name")
	require.NoError(t, viaParent.Err())
	got, _ := viaParent.Value.AsString()
	assert.Equal(t, "Users", got)

	children := readField(t, s, usersID, "Children")
	require.NoError(t, children.Err())
	list, _ := children.Value.AsEntityList()
	assert.Equal(t, []ids.EntityId{adminID}, list)
}

// Inherited find sees subtype entities; exact find does not.
func TestFindInheritedVsExact(t *testing.T) {
	s := newTestStore(t)
	setSchema(t, s, "Subject", []string{"Object"}, nil)
	setSchema(t, s, "User", []string{"Subject"}, nil)
	userID := createEntity(t, s, "User", "admin", nil)

	subjectType := s.entityNames.Intern("Subject")

	inherited := &FindEntities{EntityType: subjectType}
	require.NoError(t, s.Perform(context.Background(), inherited))
	require.NoError(t, inherited.Err())
	assert.Equal(t, []ids.EntityId{userID}, inherited.Result.Items)

	exact := &FindEntitiesExact{EntityType: subjectType}
	require.NoError(t, s.Perform(context.Background(), exact))
	require.NoError(t, exact.Err())
	assert.Empty(t, exact.Result.Items)
}

// trigger_on_change suppresses equal-value writes and fires on real changes.
func TestNotificationOnChange(t *testing.T) {
	s := newTestStore(t)
	setSchema(t, s, "User", []string{"Object"}, nil)
	userType := s.entityNames.Intern("User")
	userID := createEntity(t, s, "User", "a", nil)

	listener, err := s.RegisterNotification(NotifyConfig{
		Kind:            notify.ConfigEntityType,
		EntityType:      userType,
		FieldType:       s.wk.Name,
		TriggerOnChange: true,
	})
	require.NoError(t, err)

	// Same value again: no notification.
	w := &Write{EntityId: userID, FieldTypes: s.ParseFieldPath("Name"), Value: value.NewString("a"), PushCondition: PushChanges}
	require.NoError(t, s.PerformMut(context.Background(), w))
	require.NoError(t, w.Err())
	assert.False(t, w.WriteProcessed)
	select {
	case n := <-listener:
		t.Fatalf("unexpected notification: %+v", n)
	default:
	}

	writeField(t, s, userID, "Name", value.NewString("b"))
	select {
	case n := <-listener:
		prev, _ := n.Previous.Value.AsString()
		cur, _ := n.Current.Value.AsString()
		assert.Equal(t, "a", prev)
		assert.Equal(t, "b", cur)
	default:
		t.Fatal("expected a notification")
	}
}

// A schema update on a base type adds the field to every descendant entity.
func TestSchemaUpdateAddsFieldToDescendants(t *testing.T) {
	s := newTestStore(t)
	setSchema(t, s, "Subject", []string{"Object"}, nil)
	setSchema(t, s, "User", []string{"Subject"}, nil)
	userID := createEntity(t, s, "User", "admin", nil)
	folderType := setSchema(t, s, "Folder", []string{"Object"}, nil)
	folderID := createEntity(t, s, "Folder", "Users", nil)
	_ = folderType

	tag := s.fieldNames.Intern("Tag")
	object := schema.ObjectBaseSchema(s.wk)
	object.Fields[tag] = schema.NewStringField(tag, 10, schema.ScopeConfiguration)
	req := &SchemaUpdate{Schema: object}
	require.NoError(t, s.PerformMut(context.Background(), req))
	require.NoError(t, req.Err())

	for _, id := range []ids.EntityId{userID, folderID} {
		read := readField(t, s, id, "Tag")
		require.NoError(t, read.Err())
		got, ok := read.Value.AsString()
		require.True(t, ok)
		assert.Equal(t, "", got)
	}
}

// Filtered pagination walks every qualifying user across pages with a stable total.
func TestFilteredPaginationAcrossPages(t *testing.T) {
	s := newTestStore(t)
	age := s.fieldNames.Intern("Age")
	setSchema(t, s, "User", []string{"Object"}, map[ids.FieldType]schema.FieldSchema{
		age: schema.NewIntField(age, 5, schema.ScopeConfiguration),
	})
	userType := s.entityNames.Intern("User")

	var creates []Request
	for i := 0; i < 1000; i++ {
		creates = append(creates, &Create{EntityType: userType, Name: fmt.Sprintf("user-%03d", i)})
	}
	require.NoError(t, s.PerformMut(context.Background(), creates...))

	var writes []Request
	for _, req := range creates {
		c := req.(*Create)
		require.NoError(t, c.Err())
		writes = append(writes, &Write{
			EntityId:   c.CreatedEntityId,
			FieldTypes: []ids.FieldType{age},
			Value:      value.NewInt(21),
		})
	}
	require.NoError(t, s.PerformMut(context.Background(), writes...))

	var all []ids.EntityId
	cursor := ""
	pages := 0
	prevStart := -1
	for {
		find := &FindEntities{
			EntityType: userType,
			Page:       page.Opts{Limit: 100, Cursor: cursor},
			Filter:     `Age >= 18 && size(Name) > 0`,
		}
		require.NoError(t, s.Perform(context.Background(), find))
		require.NoError(t, find.Err())
		assert.Equal(t, 1000, find.Result.Total)
		all = append(all, find.Result.Items...)
		pages++
		if find.Result.NextCursor == "" {
			break
		}
		start, _, _, err := page.Window(1000, page.Opts{Cursor: find.Result.NextCursor})
		require.NoError(t, err)
		assert.Greater(t, start, prevStart)
		prevStart = start
		cursor = find.Result.NextCursor
	}
	assert.Equal(t, 10, pages)
	assert.Len(t, all, 1000)
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	score := s.fieldNames.Intern("Score")
	setSchema(t, s, "User", []string{"Object"}, map[ids.FieldType]schema.FieldSchema{
		score: schema.NewIntField(score, 5, schema.ScopeRuntime),
	})
	id := createEntity(t, s, "User", "admin", nil)

	writeField(t, s, id, "Score", value.NewInt(42))
	read := readField(t, s, id, "Score")
	require.NoError(t, read.Err())
	got, _ := read.Value.AsInt()
	assert.Equal(t, int64(42), got)
}

func TestWriteChangesTwiceIsNoOp(t *testing.T) {
	s := newTestStore(t)
	setSchema(t, s, "User", []string{"Object"}, nil)
	id := createEntity(t, s, "User", "admin", nil)

	first := &Write{EntityId: id, FieldTypes: s.ParseFieldPath("Name"), Value: value.NewString("x"), PushCondition: PushChanges}
	require.NoError(t, s.PerformMut(context.Background(), first))
	require.True(t, first.WriteProcessed)
	afterFirst := readField(t, s, id, "Name")

	second := &Write{EntityId: id, FieldTypes: s.ParseFieldPath("Name"), Value: value.NewString("x"), PushCondition: PushChanges}
	require.NoError(t, s.PerformMut(context.Background(), second))
	assert.False(t, second.WriteProcessed)

	afterSecond := readField(t, s, id, "Name")
	assert.Equal(t, afterFirst.WriteTime, afterSecond.WriteTime)
}

func TestStaleWriteTimeDropped(t *testing.T) {
	s := newTestStore(t)
	setSchema(t, s, "User", []string{"Object"}, nil)
	id := createEntity(t, s, "User", "admin", nil)

	writeField(t, s, id, "Name", value.NewString("current"))

	stale := time.Now().Add(-time.Hour)
	w := &Write{EntityId: id, FieldTypes: s.ParseFieldPath("Name"), Value: value.NewString("old"), WriteTime: &stale}
	require.NoError(t, s.PerformMut(context.Background(), w))
	require.NoError(t, w.Err())
	assert.False(t, w.WriteProcessed)

	read := readField(t, s, id, "Name")
	got, _ := read.Value.AsString()
	assert.Equal(t, "current", got)
}

func TestAdjustAddAndSubtract(t *testing.T) {
	s := newTestStore(t)
	count := s.fieldNames.Intern("Count")
	setSchema(t, s, "Counter", []string{"Object"}, map[ids.FieldType]schema.FieldSchema{
		count: schema.NewIntField(count, 5, schema.ScopeRuntime),
	})
	id := createEntity(t, s, "Counter", "c", nil)

	add := &Write{EntityId: id, FieldTypes: []ids.FieldType{count}, Value: value.NewInt(10), AdjustBehavior: AdjustAdd}
	require.NoError(t, s.PerformMut(context.Background(), add))
	require.NoError(t, add.Err())

	sub := &Write{EntityId: id, FieldTypes: []ids.FieldType{count}, Value: value.NewInt(3), AdjustBehavior: AdjustSubtract}
	require.NoError(t, s.PerformMut(context.Background(), sub))
	require.NoError(t, sub.Err())

	read := readField(t, s, id, "Count")
	got, _ := read.Value.AsInt()
	assert.Equal(t, int64(7), got)
}

func TestDeleteRemovesSubtree(t *testing.T) {
	s := newTestStore(t)
	setSchema(t, s, "Folder", []string{"Object"}, nil)
	root := createEntity(t, s, "Folder", "root", nil)
	child := createEntity(t, s, "Folder", "child", &root)
	grandchild := createEntity(t, s, "Folder", "grandchild", &child)

	del := &Delete{EntityId: root}
	require.NoError(t, s.PerformMut(context.Background(), del))
	require.NoError(t, del.Err())

	for _, id := range []ids.EntityId{root, child, grandchild} {
		exists := &EntityExists{EntityId: id}
		require.NoError(t, s.Perform(context.Background(), exists))
		assert.False(t, exists.Exists)
	}
}

func TestMutatingRequestRejectedByPerform(t *testing.T) {
	s := newTestStore(t)
	setSchema(t, s, "User", []string{"Object"}, nil)
	id := createEntity(t, s, "User", "admin", nil)

	w := &Write{EntityId: id, FieldTypes: s.ParseFieldPath("Name"), Value: value.NewString("x")}
	require.NoError(t, s.Perform(context.Background(), w))
	assert.True(t, qerrors.Is(w.Err(), qerrors.KindInvalidRequest))
	assert.False(t, w.WriteProcessed)
}

func TestSchemaUpdateRemovingFieldDeletesCells(t *testing.T) {
	s := newTestStore(t)
	tag := s.fieldNames.Intern("Tag")
	userType := setSchema(t, s, "User", []string{"Object"}, map[ids.FieldType]schema.FieldSchema{
		tag: schema.NewStringField(tag, 5, schema.ScopeRuntime),
	})
	id := createEntity(t, s, "User", "admin", nil)
	writeField(t, s, id, "Tag", value.NewString("keep"))

	// New schema without Tag.
	req := &SchemaUpdate{Schema: schema.SingleSchema{
		EntityType: userType,
		Inherit:    []ids.EntityType{s.wk.Object},
		Fields:     map[ids.FieldType]schema.FieldSchema{},
	}}
	require.NoError(t, s.PerformMut(context.Background(), req))
	require.NoError(t, req.Err())

	read := readField(t, s, id, "Tag")
	assert.True(t, qerrors.Is(read.Err(), qerrors.KindFieldTypeNotFound))
}

func TestWALBatchContainsOnlyAcceptedMutations(t *testing.T) {
	s, err := New(config.StoreConfig{WALChannelDepth: 8})
	require.NoError(t, err)

	et := s.entityNames.Intern("User")
	require.NoError(t, s.PerformMut(context.Background(), &SchemaUpdate{Schema: schema.SingleSchema{
		EntityType: et,
		Inherit:    []ids.EntityType{s.wk.Object},
		Fields:     map[ids.FieldType]schema.FieldSchema{},
	}}))
	<-s.WriteChannel()

	create := &Create{EntityType: et, Name: "admin"}
	require.NoError(t, s.PerformMut(context.Background(), create))
	<-s.WriteChannel()

	accepted := &Write{EntityId: create.CreatedEntityId, FieldTypes: s.ParseFieldPath("Name"), Value: value.NewString("admin2")}
	dropped := &Write{EntityId: create.CreatedEntityId, FieldTypes: s.ParseFieldPath("Name"), Value: value.NewString("admin2"), PushCondition: PushChanges}
	require.NoError(t, s.PerformMut(context.Background(), accepted, dropped))

	batch := <-s.WriteChannel()
	require.Len(t, batch.Requests, 1)
	assert.True(t, batch.Requests[0] == Request(accepted))
	assert.NotEmpty(t, batch.CorrelationId)
}

func TestNotificationSuppressionDuringReplay(t *testing.T) {
	s := newTestStore(t)
	setSchema(t, s, "User", []string{"Object"}, nil)
	userType := s.entityNames.Intern("User")
	id := createEntity(t, s, "User", "a", nil)

	listener, err := s.RegisterNotification(NotifyConfig{
		Kind:       notify.ConfigEntityType,
		EntityType: userType,
		FieldType:  s.wk.Name,
	})
	require.NoError(t, err)

	s.SetNotificationsDisabled(true)
	writeField(t, s, id, "Name", value.NewString("replayed"))
	select {
	case <-listener:
		t.Fatal("notification fired during replay")
	default:
	}

	s.SetNotificationsDisabled(false)
	writeField(t, s, id, "Name", value.NewString("live"))
	select {
	case <-listener:
	default:
		t.Fatal("expected live notification")
	}
}

func TestCreateWithPresetIdIsHonored(t *testing.T) {
	s := newTestStore(t)
	setSchema(t, s, "User", []string{"Object"}, nil)
	userType := s.entityNames.Intern("User")

	preset := ids.EntityId(5000)
	req := &Create{EntityType: userType, Name: "replayed", CreatedEntityId: preset}
	require.NoError(t, s.PerformMut(context.Background(), req))
	require.NoError(t, req.Err())
	assert.Equal(t, preset, req.CreatedEntityId)

	// The generator never reissues at or below a preset id.
	next := createEntity(t, s, "User", "fresh", nil)
	assert.Greater(t, next, preset)
}

func TestIndirectionThroughListIndex(t *testing.T) {
	s := newTestStore(t)
	setSchema(t, s, "Folder", []string{"Object"}, nil)
	parent := createEntity(t, s, "Folder", "parent", nil)
	_ = createEntity(t, s, "Folder", "first", &parent)
	second := createEntity(t, s, "Folder", "second", &parent)

	read := readField(t, s, parent, "Children->1->Name")
	require.NoError(t, read.Err())
	got, _ := read.Value.AsString()
	assert.Equal(t, "second", got)
	_ = second

	oob := readField(t, s, parent, "Children->2->Name")
	assert.True(t, qerrors.Is(oob.Err(), qerrors.KindBadIndirection))
}

func TestGetEntityTypesPaginated(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"A", "B", "C", "D"} {
		setSchema(t, s, name, []string{"Object"}, nil)
	}

	req := &GetEntityTypes{Page: page.Opts{Limit: 3}}
	require.NoError(t, s.Perform(context.Background(), req))
	require.NoError(t, req.Err())
	assert.Len(t, req.Types, 3)
	// Object plus the four registered above.
	assert.Equal(t, 5, req.Total)
	assert.NotEmpty(t, req.NextCursor)

	rest := &GetEntityTypes{Page: page.Opts{Limit: 3, Cursor: req.NextCursor}}
	require.NoError(t, s.Perform(context.Background(), rest))
	assert.Len(t, rest.Types, 2)
	assert.Empty(t, rest.NextCursor)
}

func TestBootstrapCreatesRoot(t *testing.T) {
	s := newTestStore(t)
	rootID, err := s.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.True(t, s.entities.Exists(rootID))

	// Idempotent: a second bootstrap returns the same root.
	again, err := s.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rootID, again)
}
