// Package ids defines the three identifier kinds the store engine is
// built around: interned EntityType and FieldType, and the
// opaque monotonic EntityId. None of them encode the others — an
// EntityId says nothing about its entity's type, and a FieldType says
// nothing about which entity owns a cell.
package ids

import (
	"strconv"
	"sync/atomic"
)

// EntityType is an interned 32-bit id for an entity schema's type name.
type EntityType uint32

func (t EntityType) String() string { return strconv.FormatUint(uint64(t), 10) }

// FieldType is an interned 64-bit id for a field name. The top bit
// distinguishes a direct field type (interned from a single name) from
// an indirect field type (interned from an ordered path of other field
// types, see pkg/qstore/interner's PathInterner).
type FieldType uint64

const indirectBit FieldType = 1 << 63

// IsIndirect reports whether f was produced by interning a path rather
// than a plain field name.
func (f FieldType) IsIndirect() bool { return f&indirectBit != 0 }

func (f FieldType) String() string { return strconv.FormatUint(uint64(f), 10) }

// EntityId is an opaque, globally-unique (within one store instance)
// identifier. Equality is by id only; nothing about an entity's type
// or lifecycle is recoverable from the id itself.
type EntityId uint64

func (e EntityId) String() string { return strconv.FormatUint(uint64(e), 10) }

// ParseEntityId parses the decimal string form produced by String.
func ParseEntityId(s string) (EntityId, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return EntityId(n), nil
}

// NilEntityId is the zero value, used to represent "no entity" in
// contexts that can't use a pointer (e.g. map keys). The generator
// never issues it.
const NilEntityId EntityId = 0

// EntityIdGen is a monotonic EntityId source. The zero value is ready
// to use and starts allocating at 1 so NilEntityId stays reserved.
type EntityIdGen struct {
	next uint64
}

// Next returns the next unused EntityId. Safe for concurrent use,
// though the store's single-writer guard means contention is
// never expected in practice.
func (g *EntityIdGen) Next() EntityId {
	return EntityId(atomic.AddUint64(&g.next, 1))
}

// Observe advances the generator so it never reissues an id at or
// below seen, used when replaying a WAL or restoring a snapshot whose
// entities were created with a preset id.
func (g *EntityIdGen) Observe(seen EntityId) {
	for {
		cur := atomic.LoadUint64(&g.next)
		if uint64(seen) <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&g.next, cur, uint64(seen)) {
			return
		}
	}
}
