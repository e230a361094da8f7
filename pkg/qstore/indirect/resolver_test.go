package indirect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/qstore/entity"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/interner"
	"github.com/rqure/qcore/pkg/qstore/schema"
)

type fixture struct {
	store    *entity.Store
	wk       schema.WellKnown
	resolver *Resolver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	en := interner.New[ids.EntityType]()
	fn := interner.New[ids.FieldType]()
	wk := schema.ResolveWellKnown(en, fn)
	reg := schema.NewRegistry(en, fn)
	reg.SetSchema(schema.ObjectBaseSchema(wk))

	var gen ids.EntityIdGen
	store := entity.NewStore(reg, wk, &gen)
	return fixture{store: store, wk: wk, resolver: NewResolver(store, fn)}
}

func TestResolveSingleElementPassesThrough(t *testing.T) {
	f := newFixture(t)
	id, err := f.store.Create(f.wk.Object, nil, "root", nil, time.Now(), nil)
	require.NoError(t, err)

	gotID, gotField, err := f.resolver.Resolve(id, []ids.FieldType{f.wk.Name})
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, f.wk.Name, gotField)
}

func TestResolveThroughEntityReference(t *testing.T) {
	f := newFixture(t)
	parent, err := f.store.Create(f.wk.Object, nil, "Users", nil, time.Now(), nil)
	require.NoError(t, err)
	child, err := f.store.Create(f.wk.Object, &parent, "admin", nil, time.Now(), nil)
	require.NoError(t, err)

	gotID, gotField, err := f.resolver.Resolve(child, []ids.FieldType{f.wk.Parent, f.wk.Name})
	require.NoError(t, err)
	assert.Equal(t, parent, gotID)
	assert.Equal(t, f.wk.Name, gotField)
}

func TestResolveEmptyReferenceFails(t *testing.T) {
	f := newFixture(t)
	id, err := f.store.Create(f.wk.Object, nil, "root", nil, time.Now(), nil)
	require.NoError(t, err)

	_, _, err = f.resolver.Resolve(id, []ids.FieldType{f.wk.Parent, f.wk.Name})
	require.Error(t, err)
	assert.True(t, qerrors.Is(err, qerrors.KindBadIndirection))
}

func TestResolveThroughListAndIndex(t *testing.T) {
	f := newFixture(t)
	parent, err := f.store.Create(f.wk.Object, nil, "Users", nil, time.Now(), nil)
	require.NoError(t, err)
	child, err := f.store.Create(f.wk.Object, &parent, "admin", nil, time.Now(), nil)
	require.NoError(t, err)

	idxField := f.resolver.fieldNames.Intern("0")

	gotID, gotField, err := f.resolver.Resolve(parent, []ids.FieldType{f.wk.Children, idxField, f.wk.Name})
	require.NoError(t, err)
	assert.Equal(t, child, gotID)
	assert.Equal(t, f.wk.Name, gotField)
}

func TestResolveIndexOutOfBounds(t *testing.T) {
	f := newFixture(t)
	parent, err := f.store.Create(f.wk.Object, nil, "Users", nil, time.Now(), nil)
	require.NoError(t, err)

	idxField := f.resolver.fieldNames.Intern("0")
	_, _, err = f.resolver.Resolve(parent, []ids.FieldType{f.wk.Children, idxField, f.wk.Name})
	require.Error(t, err)
}

func TestResolveIndexWithoutPrecedingListFails(t *testing.T) {
	f := newFixture(t)
	id, err := f.store.Create(f.wk.Object, nil, "root", nil, time.Now(), nil)
	require.NoError(t, err)

	idxField := f.resolver.fieldNames.Intern("0")
	_, _, err = f.resolver.Resolve(id, []ids.FieldType{idxField, f.wk.Name})
	assert.Error(t, err)
}

func TestResolveNegativeIndexFails(t *testing.T) {
	f := newFixture(t)
	parent, err := f.store.Create(f.wk.Object, nil, "Users", nil, time.Now(), nil)
	require.NoError(t, err)

	idxField := f.resolver.fieldNames.Intern("-1")
	_, _, err = f.resolver.Resolve(parent, []ids.FieldType{f.wk.Children, idxField, f.wk.Name})
	assert.Error(t, err)
}
