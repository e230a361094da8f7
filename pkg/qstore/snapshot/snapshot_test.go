package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rqure/qcore/pkg/qstore/entity"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/schema"
	"github.com/rqure/qcore/pkg/qstore/value"
)

func sampleState() State {
	name := ids.FieldType(0)
	writer := ids.EntityId(1)
	return State{
		EntityNames: []string{"Object", "User"},
		FieldNames:  []string{"Name"},
		Schemas: map[ids.EntityType]schema.SingleSchema{
			1: {
				EntityType: 1,
				Inherit:    []ids.EntityType{0},
				Fields: map[ids.FieldType]schema.FieldSchema{
					name: schema.NewStringField(name, 0, schema.ScopeConfiguration),
				},
			},
		},
		KnownTypes: []ids.EntityType{0, 1},
		ByType:     map[ids.EntityType][]ids.EntityId{1: {7}},
		Cells: map[ids.EntityId]map[ids.FieldType]entity.Cell{
			7: {
				name: {
					Value:     value.NewString("admin"),
					WriteTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
					WriterId:  &writer,
				},
			},
		},
		SnapshotCounter: 3,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	st := sampleState()
	blob, err := Encode(st)
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err)

	blob2, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, blob, blob2)

	assert.Equal(t, st.SnapshotCounter, decoded.SnapshotCounter)
	assert.Equal(t, st.EntityNames, decoded.EntityNames)
	cell := decoded.Cells[7][0]
	got, _ := cell.Value.AsString()
	assert.Equal(t, "admin", got)
	require.NotNil(t, cell.WriterId)
	assert.Equal(t, ids.EntityId(1), *cell.WriterId)
}

func TestEncodeIsDeterministic(t *testing.T) {
	st := sampleState()
	a, err := Encode(st)
	require.NoError(t, err)
	b, err := Encode(st)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMaxEntityId(t *testing.T) {
	st := sampleState()
	assert.Equal(t, ids.EntityId(7), st.MaxEntityId())
	assert.Equal(t, ids.EntityId(0), State{}.MaxEntityId())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestApplySigilHashes(t *testing.T) {
	hashed, err := ApplySigil("__hashpw__(hunter2)")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hashed), []byte("hunter2")))
}

func TestApplySigilPassesPlainStrings(t *testing.T) {
	for _, s := range []string{"", "plain", "__hashpw__", "__hashpw__(unclosed"} {
		out, err := ApplySigil(s)
		require.NoError(t, err)
		assert.Equal(t, s, out)
	}
}

func TestRefPathHelpers(t *testing.T) {
	assert.Equal(t, []string{"Root", "Users", "admin"}, SplitRefPath("Root/Users/admin"))
	assert.Nil(t, SplitRefPath(""))
	assert.Equal(t, "Root/Users", JoinRefPath([]string{"Root", "Users"}))
}
