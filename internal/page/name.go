package page

import (
	"hash/fnv"
	"sort"
)

// NamePage interns qualified names for the node layer above. Each node
// kind gets its own hash→string dictionary plus a usage count per name.
// The node-kind discriminator is opaque to the engine.
type NamePage struct {
	dirtyable

	dicts  map[uint8]map[int32]string
	counts map[uint8]map[int32]int32
}

// NewNamePage returns an empty name page.
func NewNamePage() *NamePage {
	return &NamePage{
		dicts:  make(map[uint8]map[int32]string),
		counts: make(map[uint8]map[int32]int32),
	}
}

func (p *NamePage) Kind() Kind               { return KindName }
func (p *NamePage) References() []*Reference { return nil }

// HashName maps a name to its deterministic non-negative dictionary key.
func HashName(name string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int32(h.Sum32() & 0x7fffffff)
}

// SetName interns name under the given node kind and returns its key.
// Re-interning an existing name bumps its usage count.
func (p *NamePage) SetName(name string, nodeKind uint8) int32 {
	key := HashName(name)
	dict, ok := p.dicts[nodeKind]
	if !ok {
		dict = make(map[int32]string)
		p.dicts[nodeKind] = dict
		p.counts[nodeKind] = make(map[int32]int32)
	}
	dict[key] = name
	p.counts[nodeKind][key]++
	p.dirty = true
	return key
}

// Name resolves a dictionary key, returning "" when absent.
func (p *NamePage) Name(key int32, nodeKind uint8) string {
	return p.dicts[nodeKind][key]
}

// Count returns how often the name has been interned.
func (p *NamePage) Count(key int32, nodeKind uint8) int32 {
	return p.counts[nodeKind][key]
}

// Clone returns a deep copy.
func (p *NamePage) Clone() *NamePage {
	c := NewNamePage()
	for kind, dict := range p.dicts {
		nd := make(map[int32]string, len(dict))
		for k, v := range dict {
			nd[k] = v
		}
		c.dicts[kind] = nd
	}
	for kind, counts := range p.counts {
		nc := make(map[int32]int32, len(counts))
		for k, v := range counts {
			nc[k] = v
		}
		c.counts[kind] = nc
	}
	return c
}

// nodeKinds returns the dictionary discriminators in ascending order.
func (p *NamePage) nodeKinds() []uint8 {
	kinds := make([]uint8, 0, len(p.dicts))
	for k := range p.dicts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// nameKeys returns one dictionary's keys in ascending order.
func (p *NamePage) nameKeys(nodeKind uint8) []int32 {
	dict := p.dicts[nodeKind]
	keys := make([]int32, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
