package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/rqure/qcore/pkg/qstore/ids"
)

func TestConstructorsRoundTrip(t *testing.T) {
	b, ok := NewBlob([]byte("hi")).AsBlob()
	require.True(t, ok)
	assert.Equal(t, []byte("hi"), b)

	i, ok := NewInt(42).AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(42), i)

	s, ok := NewString("x").AsString()
	require.True(t, ok)
	assert.Equal(t, "x", s)
}

func TestAsWrongKindReturnsFalse(t *testing.T) {
	_, ok := NewInt(1).AsString()
	assert.False(t, ok)
}

func TestEntityReferenceNilIsEmpty(t *testing.T) {
	v := NewEntityReference(nil)
	ref, ok := v.AsEntityReference()
	require.True(t, ok)
	assert.Nil(t, ref)
}

func TestEqual(t *testing.T) {
	assert.True(t, NewInt(5).Equal(NewInt(5)))
	assert.False(t, NewInt(5).Equal(NewInt(6)))
	assert.False(t, NewInt(5).Equal(NewFloat(5)))

	ts := time.Now()
	assert.True(t, NewTimestamp(ts).Equal(NewTimestamp(ts)))

	id := ids.EntityId(1)
	assert.True(t, NewEntityReference(&id).Equal(NewEntityReference(&id)))
	assert.False(t, NewEntityReference(&id).Equal(NewEntityReference(nil)))
}

func TestAddIntAndFloat(t *testing.T) {
	sum, err := NewInt(3).Add(NewInt(4))
	require.NoError(t, err)
	v, _ := sum.AsInt()
	assert.Equal(t, int64(7), v)

	fsum, err := NewFloat(1.5).Add(NewFloat(2.5))
	require.NoError(t, err)
	f, _ := fsum.AsFloat()
	assert.Equal(t, 4.0, f)
}

func TestAddStringConcatenates(t *testing.T) {
	out, err := NewString("foo").Add(NewString("bar"))
	require.NoError(t, err)
	s, _ := out.AsString()
	assert.Equal(t, "foobar", s)
}

func TestAddEntityListUnionPreservesOrderAndDedupes(t *testing.T) {
	a := NewEntityList([]ids.EntityId{1, 2, 3})
	b := NewEntityList([]ids.EntityId{2, 4})
	out, err := a.Add(b)
	require.NoError(t, err)
	list, _ := out.AsEntityList()
	assert.Equal(t, []ids.EntityId{1, 2, 3, 4}, list)
}

func TestAddEntityReferenceKeepsOldIfPresent(t *testing.T) {
	old := ids.EntityId(1)
	new_ := ids.EntityId(2)
	out, err := NewEntityReference(&old).Add(NewEntityReference(&new_))
	require.NoError(t, err)
	ref, _ := out.AsEntityReference()
	require.NotNil(t, ref)
	assert.Equal(t, old, *ref)

	out2, err := NewEntityReference(nil).Add(NewEntityReference(&new_))
	require.NoError(t, err)
	ref2, _ := out2.AsEntityReference()
	require.NotNil(t, ref2)
	assert.Equal(t, new_, *ref2)
}

func TestSubtractEntityListDifference(t *testing.T) {
	a := NewEntityList([]ids.EntityId{1, 2, 3})
	b := NewEntityList([]ids.EntityId{2})
	out, err := a.Subtract(b)
	require.NoError(t, err)
	list, _ := out.AsEntityList()
	assert.Equal(t, []ids.EntityId{1, 3}, list)
}

func TestSubtractEntityReferenceClearsIfEqual(t *testing.T) {
	id := ids.EntityId(9)
	out, err := NewEntityReference(&id).Subtract(NewEntityReference(&id))
	require.NoError(t, err)
	ref, _ := out.AsEntityReference()
	assert.Nil(t, ref)

	other := ids.EntityId(10)
	out2, err := NewEntityReference(&id).Subtract(NewEntityReference(&other))
	require.NoError(t, err)
	ref2, _ := out2.AsEntityReference()
	require.NotNil(t, ref2)
	assert.Equal(t, id, *ref2)
}

func TestAddUnsupportedKindFails(t *testing.T) {
	_, err := NewBool(true).Add(NewBool(false))
	assert.Error(t, err)
}

func TestSubtractUnsupportedKindFails(t *testing.T) {
	_, err := NewString("a").Subtract(NewString("b"))
	assert.Error(t, err)
}
