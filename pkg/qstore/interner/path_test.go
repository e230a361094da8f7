package interner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/rqure/qcore/pkg/qstore/ids"
)

func TestPathInternDedupes(t *testing.T) {
	p := NewPathInterner()
	names := New[ids.FieldType]()
	path := []ids.FieldType{names.Intern("Parent"), names.Intern("Name")}

	a := p.Intern(path)
	b := p.Intern(path)
	assert.Equal(t, a, b)
	assert.True(t, a.IsIndirect())
}

func TestPathResolveRoundTrips(t *testing.T) {
	p := NewPathInterner()
	names := New[ids.FieldType]()
	path := []ids.FieldType{names.Intern("Parent"), names.Intern("Parent"), names.Intern("Name")}

	id := p.Intern(path)
	got, ok := p.Resolve(id)
	assert.True(t, ok)
	assert.Equal(t, path, got)
}

func TestPathResolveRejectsDirectFieldType(t *testing.T) {
	p := NewPathInterner()
	_, ok := p.Resolve(ids.FieldType(5))
	assert.False(t, ok)
}

func TestDistinctPathsGetDistinctIds(t *testing.T) {
	p := NewPathInterner()
	names := New[ids.FieldType]()
	a := names.Intern("A")
	b := names.Intern("B")

	id1 := p.Intern([]ids.FieldType{a, b})
	id2 := p.Intern([]ids.FieldType{b, a})
	assert.NotEqual(t, id1, id2)
}
