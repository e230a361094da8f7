package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/rqure/qcore/pkg/qstore/entity"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/value"
)

func noReads(entityID ids.EntityId, path string) (entity.Cell, error) {
	return entity.Cell{}, nil
}

func cellOf(v value.Value) entity.Cell {
	return entity.Cell{Value: v, WriteTime: time.Now()}
}

func TestRegisterUnregisterLeavesIndicesEmpty(t *testing.T) {
	r := NewRegistry(4, nil, nil)
	cfg := Config{Kind: ConfigEntityType, EntityType: 3, FieldType: 7, TriggerOnChange: true}

	listener, err := r.Register(cfg)
	require.NoError(t, err)
	r.Unregister(cfg)

	// The listener is closed and no fan-out reaches it.
	_, open := <-listener
	assert.False(t, open)

	r.Fire(context.Background(), 1, 3, nil, 7, cellOf(value.NewString("a")), cellOf(value.NewString("b")), noReads)
	assert.Empty(t, r.byType[3][7])
}

func TestRegisterRejectsIndirectTopLevelField(t *testing.T) {
	indirect := ids.FieldType(1<<63 | 5)
	_, err := NewRegistry(4, nil, nil).Register(Config{Kind: ConfigEntityId, EntityId: 1, FieldType: indirect})
	assert.Error(t, err)
}

func TestFireMatchesByIdAndByAncestorType(t *testing.T) {
	r := NewRegistry(4, nil, nil)
	const (
		field   = ids.FieldType(7)
		baseTyp = ids.EntityType(1)
		subTyp  = ids.EntityType(2)
		target  = ids.EntityId(42)
	)

	byID, err := r.Register(Config{Kind: ConfigEntityId, EntityId: target, FieldType: field})
	require.NoError(t, err)
	byBase, err := r.Register(Config{Kind: ConfigEntityType, EntityType: baseTyp, FieldType: field})
	require.NoError(t, err)

	r.Fire(context.Background(), target, subTyp, []ids.EntityType{baseTyp}, field,
		cellOf(value.NewString("old")), cellOf(value.NewString("new")), noReads)

	for name, ch := range map[string]Listener{"byId": byID, "byAncestorType": byBase} {
		select {
		case n := <-ch:
			cur, _ := n.Current.Value.AsString()
			assert.Equal(t, "new", cur, name)
		default:
			t.Fatalf("%s listener got no notification", name)
		}
	}
}

func TestTriggerOnChangeSkipsEqualValues(t *testing.T) {
	r := NewRegistry(4, nil, nil)
	listener, err := r.Register(Config{Kind: ConfigEntityId, EntityId: 1, FieldType: 2, TriggerOnChange: true})
	require.NoError(t, err)

	same := cellOf(value.NewInt(5))
	r.Fire(context.Background(), 1, 9, nil, 2, same, same, noReads)
	select {
	case <-listener:
		t.Fatal("unchanged value must not notify under trigger_on_change")
	default:
	}
}

func TestContextFieldsSnapshotAtFireTime(t *testing.T) {
	r := NewRegistry(4, nil, nil)
	listener, err := r.Register(Config{
		Kind: ConfigEntityId, EntityId: 1, FieldType: 2,
		Context: []string{"Parent->Name"},
	})
	require.NoError(t, err)

	read := func(entityID ids.EntityId, path string) (entity.Cell, error) {
		assert.Equal(t, "Parent->Name", path)
		return cellOf(value.NewString("Users")), nil
	}
	r.Fire(context.Background(), 1, 9, nil, 2, cellOf(value.NewInt(1)), cellOf(value.NewInt(2)), read)

	n := <-listener
	got, _ := n.Context["Parent->Name"].Value.AsString()
	assert.Equal(t, "Users", got)
	assert.NotZero(t, n.ConfigHash)
}

func TestFullListenerQueueDropsSilently(t *testing.T) {
	r := NewRegistry(1, nil, nil)
	listener, err := r.Register(Config{Kind: ConfigEntityId, EntityId: 1, FieldType: 2})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		r.Fire(context.Background(), 1, 9, nil, 2, cellOf(value.NewInt(0)), cellOf(value.NewInt(int64(i))), noReads)
	}
	assert.Len(t, listener, 1)
}

func TestFireForwardsToPublisher(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := NewMockPublisher(ctrl)
	r := NewRegistry(4, pub, nil)

	_, err := r.Register(Config{Kind: ConfigEntityId, EntityId: 1, FieldType: 2})
	require.NoError(t, err)

	pub.EXPECT().Publish(gomock.Any(), ids.EntityId(1), ids.FieldType(2), gomock.Any())
	r.Fire(context.Background(), 1, 9, nil, 2, cellOf(value.NewInt(1)), cellOf(value.NewInt(2)), noReads)
}

func TestRedisPublisherPublishesJSON(t *testing.T) {
	client, mock := redismock.NewClientMock()
	pub := NewRedisPublisher(client, "qcore:notifications", nil)

	cell := cellOf(value.NewString("admin"))
	payload, err := json.Marshal(wireNotification{
		EntityId:  "7",
		FieldType: "3",
		Value:     cell.Value.DebugString(),
		WriteTime: cell.WriteTime,
	})
	require.NoError(t, err)
	mock.ExpectPublish("qcore:notifications", payload).SetVal(1)

	pub.Publish(context.Background(), 7, 3, cell)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigHashIsStableAndOrderInsensitive(t *testing.T) {
	a := Config{Kind: ConfigEntityType, EntityType: 3, FieldType: 7, Context: []string{"A", "B"}}
	b := Config{Kind: ConfigEntityType, EntityType: 3, FieldType: 7, Context: []string{"B", "A"}}
	assert.Equal(t, a.Hash(), b.Hash())

	c := Config{Kind: ConfigEntityType, EntityType: 3, FieldType: 8}
	assert.NotEqual(t, a.Hash(), c.Hash())
}
