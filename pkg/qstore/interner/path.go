package interner

import (
	"strconv"
	"strings"
	"sync"

	"github.com/rqure/qcore/pkg/qstore/ids"
)

const indirectBit ids.FieldType = 1 << 63

// PathInterner assigns FieldType ids to ordered paths of other field
// types, implementing the indirect field type
// (`F1->F2->idx->F3`). Paths are deduplicated by content the same way
// Interner dedupes names, so interning the same path twice yields the
// same id.
type PathInterner struct {
	mu      sync.RWMutex
	byKey   map[string]ids.FieldType
	byID    map[ids.FieldType][]ids.FieldType
	nextOrd uint64
}

// NewPathInterner returns a ready-to-use PathInterner.
func NewPathInterner() *PathInterner {
	return &PathInterner{
		byKey: make(map[string]ids.FieldType),
		byID:  make(map[ids.FieldType][]ids.FieldType),
	}
}

// Intern returns the FieldType for path, creating one if this exact
// sequence hasn't been seen before. A path of length 1 still gets an
// indirect id if called through this path (callers normally skip
// Intern for single-element paths and use the plain field type
// directly).
func (p *PathInterner) Intern(path []ids.FieldType) ids.FieldType {
	key := encodePathKey(path)

	p.mu.RLock()
	if id, ok := p.byKey[key]; ok {
		p.mu.RUnlock()
		return id
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.byKey[key]; ok {
		return id
	}
	ord := p.nextOrd
	p.nextOrd++
	id := indirectBit | ids.FieldType(ord)

	stored := make([]ids.FieldType, len(path))
	copy(stored, path)

	p.byKey[key] = id
	p.byID[id] = stored
	return id
}

// Resolve returns the path interned under id, or (nil, false) if id is
// not an indirect field type known to this interner.
func (p *PathInterner) Resolve(id ids.FieldType) ([]ids.FieldType, bool) {
	if !id.IsIndirect() {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	path, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	out := make([]ids.FieldType, len(path))
	copy(out, path)
	return out, true
}

func encodePathKey(path []ids.FieldType) string {
	var b strings.Builder
	for i, f := range path {
		if i > 0 {
			b.WriteByte('>')
		}
		b.WriteString(strconv.FormatUint(uint64(f), 10))
	}
	return b.String()
}
