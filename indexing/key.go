package indexing

import (
	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
)

// KeySchema describes the composite key of one index: the ordered
// column types and widths. Keys are the byte concatenation of the
// column values in declared order; comparison is column-wise typed
// compare (signed integers, IEEE floats, memcmp for strings and
// datetimes), then concatenation order.
type KeySchema struct {
	Types  []common.ColType
	Lens   []int
	TotLen int
}

// NewKeySchema builds the key schema from index column metadata.
func NewKeySchema(cols []catalog.ColMeta) *KeySchema {
	ks := &KeySchema{
		Types: make([]common.ColType, len(cols)),
		Lens:  make([]int, len(cols)),
	}
	for i, col := range cols {
		ks.Types[i] = col.Type
		ks.Lens[i] = col.Len
		ks.TotLen += col.Len
	}
	return ks
}

// Compare orders two serialized keys.
func (ks *KeySchema) Compare(a, b []byte) int {
	offset := 0
	for i, t := range ks.Types {
		if cmp := common.CompareBytes(a[offset:], b[offset:], t, ks.Lens[i]); cmp != 0 {
			return cmp
		}
		offset += ks.Lens[i]
	}
	return 0
}

// FillMin writes the type minimum of every column from position from
// onwards into key.
func (ks *KeySchema) FillMin(key []byte, from int) {
	offset := 0
	for i := 0; i < from; i++ {
		offset += ks.Lens[i]
	}
	for i := from; i < len(ks.Types); i++ {
		common.MinValueBytes(key[offset:], ks.Types[i], ks.Lens[i])
		offset += ks.Lens[i]
	}
}

// FillMax writes the type maximum sentinel of every column from
// position from onwards into key.
func (ks *KeySchema) FillMax(key []byte, from int) {
	offset := 0
	for i := 0; i < from; i++ {
		offset += ks.Lens[i]
	}
	for i := from; i < len(ks.Types); i++ {
		common.MaxValueBytes(key[offset:], ks.Types[i], ks.Lens[i])
		offset += ks.Lens[i]
	}
}

// ColOffset returns the byte offset of column i within the key.
func (ks *KeySchema) ColOffset(i int) int {
	offset := 0
	for j := 0; j < i; j++ {
		offset += ks.Lens[j]
	}
	return offset
}
