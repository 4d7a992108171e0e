package dataset

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/bits-and-blooms/bitset"
)

// BitsetView is a visibility filter. Test reports true for ids that must be
// excluded from search. A nil BitsetView filters nothing.
type BitsetView interface {
	Test(id int64) bool
}

// Filtered reports whether id is excluded by view. It is nil-safe.
func Filtered(view BitsetView, id int64) bool {
	return view != nil && view.Test(id)
}

// RoaringBitset is a sparse visibility filter backed by a compressed bitmap.
// Suited to deletion lists and other sparse exclusions.
type RoaringBitset struct {
	bm *roaring64.Bitmap
}

// NewRoaringBitset returns a filter excluding ids.
func NewRoaringBitset(ids ...int64) *RoaringBitset {
	bm := roaring64.New()
	for _, id := range ids {
		if id >= 0 {
			bm.Add(uint64(id))
		}
	}
	return &RoaringBitset{bm: bm}
}

// Add excludes id.
func (b *RoaringBitset) Add(id int64) {
	if id >= 0 {
		b.bm.Add(uint64(id))
	}
}

// Test implements BitsetView.
func (b *RoaringBitset) Test(id int64) bool {
	return id >= 0 && b.bm.Contains(uint64(id))
}

// Count returns the number of excluded ids.
func (b *RoaringBitset) Count() int {
	return int(b.bm.GetCardinality())
}

// DenseBitset is a visibility filter over a fixed id space [0, n), backed by a
// plain bit vector. Suited to filters that exclude a large fraction of ids.
type DenseBitset struct {
	bs *bitset.BitSet
	n  int64
}

// NewDenseBitset returns an empty filter over n ids.
func NewDenseBitset(n int) *DenseBitset {
	return &DenseBitset{bs: bitset.New(uint(n)), n: int64(n)}
}

// Set excludes id. Ids outside [0, n) are ignored.
func (b *DenseBitset) Set(id int64) {
	if id >= 0 && id < b.n {
		b.bs.Set(uint(id))
	}
}

// Test implements BitsetView.
func (b *DenseBitset) Test(id int64) bool {
	return id >= 0 && id < b.n && b.bs.Test(uint(id))
}

// Count returns the number of excluded ids.
func (b *DenseBitset) Count() int {
	return int(b.bs.Count())
}
