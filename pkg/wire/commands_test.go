package wire

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rqure/qcore/pkg/config"
	"github.com/rqure/qcore/pkg/qstore"
	"github.com/rqure/qcore/pkg/qstore/ids"
)

func newTestHandler(t *testing.T, opts ...HandlerOption) (*Handler, *Session) {
	t.Helper()
	store, err := qstore.New(config.StoreConfig{})
	require.NoError(t, err)
	go func() {
		for range store.WriteChannel() {
		}
	}()
	h := NewHandler(store, opts...)
	return h, h.NewSession(0)
}

func command(name string, args ...Frame) FrameRef {
	items := append([]Frame{NewBulkString(name)}, args...)
	encoded := Encode(NewArray(items...))
	ref, _, err := ParseRef(encoded)
	if err != nil {
		panic(err)
	}
	return ref
}

func dispatch(t *testing.T, h *Handler, sess *Session, name string, args ...Frame) Frame {
	t.Helper()
	return h.Dispatch(context.Background(), sess, command(name, args...))
}

func mustUpdateSchema(t *testing.T, h *Handler, sess *Session, payload string) {
	t.Helper()
	resp := dispatch(t, h, sess, CmdUpdateSchema, NewBulkString(payload))
	require.False(t, resp.IsError(), "schema update failed: %s %s", resp.Code, resp.Text())
}

const userSchemaJSON = `{
	"entityType": "User",
	"inherit": ["Object"],
	"fields": [
		{"name": "Age", "kind": "Int", "rank": 5, "scope": "Configuration"}
	]
}`

func TestCreateWriteReadOverWire(t *testing.T) {
	h, sess := newTestHandler(t)
	mustUpdateSchema(t, h, sess, userSchemaJSON)

	created := dispatch(t, h, sess, CmdCreateEntity, NewBulkString("User"), NewBulkString("admin"))
	require.False(t, created.IsError())
	require.Len(t, created.Items, 2)
	id := created.Items[0].Text()

	write := dispatch(t, h, sess, CmdWrite,
		NewBulkString(id),
		NewBulkString("Age"),
		ValueFrameForTest(t, 21),
	)
	require.False(t, write.IsError())
	assert.True(t, write.Items[1].Bool) // writeProcessed

	read := dispatch(t, h, sess, CmdRead, NewBulkString(id), NewBulkString("Age"))
	require.False(t, read.IsError())
	valueFrame := mapValue(t, read, "value")
	assert.Equal(t, "Int", valueFrame.Items[0].Text())
	assert.Equal(t, int64(21), valueFrame.Items[1].Int)
}

func ValueFrameForTest(t *testing.T, age int64) Frame {
	t.Helper()
	return NewArray(NewBulkString("Int"), NewInt(age))
}

func mapValue(t *testing.T, m Frame, key string) Frame {
	t.Helper()
	require.Equal(t, TypeMap, m.Type)
	for i := 0; i+1 < len(m.Items); i += 2 {
		if m.Items[i].Text() == key {
			return m.Items[i+1]
		}
	}
	t.Fatalf("key %q not in map frame", key)
	return Frame{}
}

func TestReadUnknownEntityIsErrorFrame(t *testing.T) {
	h, sess := newTestHandler(t)
	resp := dispatch(t, h, sess, CmdRead, NewBulkString("9999"), NewBulkString("Name"))
	require.True(t, resp.IsError())
	assert.Equal(t, "ENTITY_NOT_FOUND", resp.Code)
}

func TestEntityExistsOverWire(t *testing.T) {
	h, sess := newTestHandler(t)
	mustUpdateSchema(t, h, sess, userSchemaJSON)
	created := dispatch(t, h, sess, CmdCreateEntity, NewBulkString("User"), NewBulkString("a"))
	require.False(t, created.IsError())

	resp := dispatch(t, h, sess, CmdEntityExists, NewBulkString(created.Items[0].Text()))
	assert.True(t, resp.Bool)

	resp = dispatch(t, h, sess, CmdEntityExists, NewBulkString("424242"))
	assert.False(t, resp.Bool)
}

func TestFindEntitiesPaginatedOverWire(t *testing.T) {
	h, sess := newTestHandler(t)
	mustUpdateSchema(t, h, sess, userSchemaJSON)
	for _, name := range []string{"a", "b", "c"} {
		resp := dispatch(t, h, sess, CmdCreateEntity, NewBulkString("User"), NewBulkString(name))
		require.False(t, resp.IsError())
	}

	resp := dispatch(t, h, sess, CmdFindEntitiesPaginated, NewBulkString("User"), NewBulkString("2"))
	require.False(t, resp.IsError())
	items := mapValue(t, resp, "items")
	assert.Len(t, items.Items, 2)
	assert.Equal(t, int64(3), mapValue(t, resp, "total").Int)
	next := mapValue(t, resp, "next")
	require.False(t, next.NullBulk)

	resp = dispatch(t, h, sess, CmdFindEntitiesPaginated, NewBulkString("User"), NewBulkString("2"), next)
	require.False(t, resp.IsError())
	assert.Len(t, mapValue(t, resp, "items").Items, 1)
	assert.True(t, mapValue(t, resp, "next").NullBulk)
}

func TestUpdateSchemaValidationFailure(t *testing.T) {
	h, sess := newTestHandler(t)
	resp := dispatch(t, h, sess, CmdUpdateSchema, NewBulkString(`{"fields": []}`))
	require.True(t, resp.IsError())
	assert.Equal(t, "INVALID_REQUEST", resp.Code)
}

func TestPerformEnvelopeBatches(t *testing.T) {
	h, sess := newTestHandler(t)
	mustUpdateSchema(t, h, sess, userSchemaJSON)

	batch := NewArray(
		NewArray(NewBulkString(CmdCreateEntity), NewBulkString("User"), NewBulkString("one")),
		NewArray(NewBulkString(CmdGetEntityType), NewBulkString("User")),
		NewArray(NewBulkString(CmdRead), NewBulkString("bogus"), NewBulkString("Name")),
	)
	resp := dispatch(t, h, sess, CmdPerform, batch)
	require.Equal(t, TypeArray, resp.Type)
	require.Len(t, resp.Items, 3)
	assert.False(t, resp.Items[0].IsError())
	assert.Equal(t, TypeInteger, resp.Items[1].Type)
	assert.True(t, resp.Items[2].IsError())
}

func TestNotificationPushOverWire(t *testing.T) {
	h, sess := newTestHandler(t)
	mustUpdateSchema(t, h, sess, userSchemaJSON)

	created := dispatch(t, h, sess, CmdCreateEntity, NewBulkString("User"), NewBulkString("a"))
	require.False(t, created.IsError())
	id := created.Items[0].Text()

	cfg, _ := json.Marshal(map[string]any{
		"kind":       "entity_type",
		"entityType": "User",
		"fieldType":  "Name",
	})
	resp := dispatch(t, h, sess, CmdRegisterNotification, NewBulk(cfg))
	require.False(t, resp.IsError())

	write := dispatch(t, h, sess, CmdWrite,
		NewBulkString(id), NewBulkString("Name"),
		NewArray(NewBulkString("String"), NewBulkString("b")),
	)
	require.False(t, write.IsError())

	select {
	case push := <-sess.Push():
		require.Equal(t, TypeArray, push.Type)
		assert.Equal(t, CmdNotification, push.Items[0].Text())
	case <-time.After(time.Second):
		t.Fatal("expected a pushed notification frame")
	}

	resp = dispatch(t, h, sess, CmdUnregisterNotification, NewBulk(cfg))
	require.False(t, resp.IsError())
}

type staticAuth struct{ id ids.EntityId }

func (a staticAuth) Authenticate(_ context.Context, name, password string) (ids.EntityId, error) {
	if name == "admin" && password == "secret" {
		return a.id, nil
	}
	return 0, assert.AnError
}

func TestAuthenticateGatesCommands(t *testing.T) {
	h, sess := newTestHandler(t, WithAuthenticator(staticAuth{id: 7}))

	resp := dispatch(t, h, sess, CmdGetEntityTypes)
	require.True(t, resp.IsError())
	assert.Equal(t, "INVALID_CREDENTIALS", resp.Code)

	resp = dispatch(t, h, sess, CmdAuthenticate, NewBulkString("admin"), NewBulkString("secret"))
	require.False(t, resp.IsError())
	assert.Equal(t, "7", resp.Text())

	resp = dispatch(t, h, sess, CmdGetEntityTypes)
	assert.False(t, resp.IsError())
}

func TestPeerMessageRoundTrips(t *testing.T) {
	hs := PeerHandshake{StartTimeNanos: 123456, IsResponse: true, MachineId: "node-a"}
	parsed, err := ParsePeerMessage(roundTrip(t, hs.Frame()))
	require.NoError(t, err)
	assert.Equal(t, hs, parsed)

	parsed, err = ParsePeerMessage(roundTrip(t, PeerFullSyncRequest{}.Frame()))
	require.NoError(t, err)
	assert.IsType(t, PeerFullSyncRequest{}, parsed)

	blob := []byte{1, 2, 3}
	parsed, err = ParsePeerMessage(roundTrip(t, PeerFullSyncResponse{Snapshot: blob}.Frame()))
	require.NoError(t, err)
	assert.Equal(t, blob, parsed.(PeerFullSyncResponse).Snapshot)

	inner := NewArray(NewBulkString(CmdWrite), NewBulkString("7"), NewBulkString("Name"))
	parsed, err = ParsePeerMessage(roundTrip(t, PeerSyncWrite{Requests: inner}.Frame()))
	require.NoError(t, err)
	assert.Equal(t, CmdWrite, parsed.(PeerSyncWrite).Requests.Items[0].Text())
}
