// File: pool/sizeclasses.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// jemalloc4-style size class table.
//
// Every class size is expressed as
//
//	size = 1<<log2Group + nDelta<<log2Delta
//
// Classes come in groups of 1<<Log2SizeClassGroup entries; each group doubles
// the increment of the previous one. The first group is special: nDelta starts
// at 0 so the first class equals the quantum. With 8 KiB pages and 16 MiB
// chunks the table has 76 entries, 39 of them subpage (small) classes.

package pool

import (
	"fmt"
	"math/bits"
)

const (
	Log2Quantum        = 4
	Log2SizeClassGroup = 2
	Log2MaxLookupSize  = 12
)

// SizeClass is one row of the generated table.
type SizeClass struct {
	Index           int
	Log2Group       int
	Log2Delta       int
	NDelta          int
	IsPageMultiple  bool
	IsSubpage       bool
	Log2DeltaLookup int // 0 when the class is above the lookup threshold
}

// Size returns the byte size encoded by the row.
func (c SizeClass) Size() int {
	return 1<<c.Log2Group + c.NDelta<<c.Log2Delta
}

// SizeClasses maps byte sizes to class indices and page counts to page
// indices. It is immutable after construction and safe for concurrent use.
type SizeClasses struct {
	pageSize   int
	pageShifts int
	chunkSize  int

	classes []SizeClass

	nSizes          int
	nSubpages       int
	nPSizes         int
	smallMaxSizeIdx int
	lookupMaxSize   int

	sizeIdx2sizeTab []int
	pageIdx2sizeTab []int
	size2idxTab     []int
}

// NewSizeClasses generates the tables for the given geometry.
func NewSizeClasses(pageSize, pageShifts, chunkSize int) (*SizeClasses, error) {
	if pageSize <= 0 || 1<<pageShifts != pageSize {
		return nil, fmt.Errorf("size classes: page size %d does not match shift %d", pageSize, pageShifts)
	}
	if chunkSize < pageSize || chunkSize&(chunkSize-1) != 0 {
		return nil, fmt.Errorf("size classes: chunk size %d must be a power of two >= page size", chunkSize)
	}

	sc := &SizeClasses{
		pageSize:   pageSize,
		pageShifts: pageShifts,
		chunkSize:  chunkSize,
	}

	groups := log2(chunkSize) + 1 - Log2Quantum
	sc.classes = make([]SizeClass, 0, groups<<Log2SizeClassGroup)

	normalMaxSize := sc.generate()
	if normalMaxSize != chunkSize {
		return nil, fmt.Errorf("size classes: largest class %d differs from chunk size %d", normalMaxSize, chunkSize)
	}
	sc.nSizes = len(sc.classes)

	sc.sizeIdx2sizeTab = make([]int, sc.nSizes)
	sc.pageIdx2sizeTab = make([]int, 0, sc.nPSizes)
	for i, c := range sc.classes {
		size := c.Size()
		sc.sizeIdx2sizeTab[i] = size
		if c.IsPageMultiple {
			sc.pageIdx2sizeTab = append(sc.pageIdx2sizeTab, size)
		}
	}

	sc.size2idxTab = make([]int, sc.lookupMaxSize>>Log2Quantum)
	idx, size := 0, 0
	for i := 0; size <= sc.lookupMaxSize; i++ {
		times := 1 << (sc.classes[i].Log2Delta - Log2Quantum)
		for size <= sc.lookupMaxSize && times > 0 {
			sc.size2idxTab[idx] = i
			idx++
			size = (idx + 1) << Log2Quantum
			times--
		}
	}
	return sc, nil
}

// generate fills the class rows and returns the largest size produced.
func (sc *SizeClasses) generate() int {
	normalMaxSize := -1
	size := 0
	log2Group := Log2Quantum
	log2Delta := Log2Quantum
	nDeltaLimit := 1 << Log2SizeClassGroup

	for nDelta := 0; nDelta < nDeltaLimit; nDelta++ {
		size = sc.addClass(log2Group, log2Delta, nDelta)
	}
	log2Group += Log2SizeClassGroup

	for size < sc.chunkSize {
		for nDelta := 1; nDelta <= nDeltaLimit && size < sc.chunkSize; nDelta++ {
			size = sc.addClass(log2Group, log2Delta, nDelta)
			normalMaxSize = size
		}
		log2Group++
		log2Delta++
	}
	return normalMaxSize
}

func (sc *SizeClasses) addClass(log2Group, log2Delta, nDelta int) int {
	index := len(sc.classes)
	size := 1<<log2Group + nDelta<<log2Delta

	pageMultiple := log2Delta >= sc.pageShifts || size&(sc.pageSize-1) == 0

	log2NDelta := 0
	if nDelta > 0 {
		log2NDelta = log2(nDelta)
	}
	remove := 1<<log2NDelta < nDelta
	log2Size := log2Group
	if log2Delta+log2NDelta == log2Group {
		log2Size = log2Group + 1
	}
	if log2Size == log2Group {
		remove = true
	}
	subpage := log2Size < sc.pageShifts+Log2SizeClassGroup

	lookup := 0
	if log2Size < Log2MaxLookupSize || (log2Size == Log2MaxLookupSize && !remove) {
		lookup = log2Delta
	}

	sc.classes = append(sc.classes, SizeClass{
		Index:           index,
		Log2Group:       log2Group,
		Log2Delta:       log2Delta,
		NDelta:          nDelta,
		IsPageMultiple:  pageMultiple,
		IsSubpage:       subpage,
		Log2DeltaLookup: lookup,
	})

	if pageMultiple {
		sc.nPSizes++
	}
	if subpage {
		sc.nSubpages++
		sc.smallMaxSizeIdx = index
	}
	if lookup != 0 {
		sc.lookupMaxSize = size
	}
	return size
}

func (sc *SizeClasses) PageSize() int        { return sc.pageSize }
func (sc *SizeClasses) PageShifts() int      { return sc.pageShifts }
func (sc *SizeClasses) ChunkSize() int       { return sc.chunkSize }
func (sc *SizeClasses) NumSizes() int        { return sc.nSizes }
func (sc *SizeClasses) NumSubpages() int     { return sc.nSubpages }
func (sc *SizeClasses) NumPageSizes() int    { return sc.nPSizes }
func (sc *SizeClasses) SmallMaxSizeIdx() int { return sc.smallMaxSizeIdx }
func (sc *SizeClasses) LookupMaxSize() int   { return sc.lookupMaxSize }

// Class returns the table row for idx.
func (sc *SizeClasses) Class(idx int) SizeClass { return sc.classes[idx] }

// SizeIdx2Size is an O(1) table lookup.
func (sc *SizeClasses) SizeIdx2Size(sizeIdx int) int {
	return sc.sizeIdx2sizeTab[sizeIdx]
}

// SizeIdx2SizeCompute derives the class size without the table.
func (sc *SizeClasses) SizeIdx2SizeCompute(sizeIdx int) int {
	group := sizeIdx >> Log2SizeClassGroup
	mod := sizeIdx & (1<<Log2SizeClassGroup - 1)

	groupSize := 0
	if group != 0 {
		groupSize = 1 << (Log2Quantum + Log2SizeClassGroup - 1) << group
	}
	shift := group
	if group == 0 {
		shift = 1
	}
	lgDelta := shift + Log2Quantum - 1
	return groupSize + (mod+1)<<lgDelta
}

// PageIdx2Size is an O(1) table lookup.
func (sc *SizeClasses) PageIdx2Size(pageIdx int) int {
	return sc.pageIdx2sizeTab[pageIdx]
}

// PageIdx2SizeCompute derives the run size without the table.
func (sc *SizeClasses) PageIdx2SizeCompute(pageIdx int) int {
	group := pageIdx >> Log2SizeClassGroup
	mod := pageIdx & (1<<Log2SizeClassGroup - 1)

	groupSize := 0
	if group != 0 {
		groupSize = 1 << (sc.pageShifts + Log2SizeClassGroup - 1) << group
	}
	shift := group
	if group == 0 {
		shift = 1
	}
	lgDelta := shift + sc.pageShifts - 1
	return groupSize + (mod+1)<<lgDelta
}

// Size2SizeIdx returns the smallest class index holding size bytes, or
// NumSizes() when size exceeds the chunk size.
func (sc *SizeClasses) Size2SizeIdx(size int) int {
	if size == 0 {
		return 0
	}
	if size > sc.chunkSize {
		return sc.nSizes
	}
	if size <= sc.lookupMaxSize {
		return sc.size2idxTab[(size-1)>>Log2Quantum]
	}

	x := log2((size << 1) - 1)
	shift := 0
	if x >= Log2SizeClassGroup+Log2Quantum+1 {
		shift = x - (Log2SizeClassGroup + Log2Quantum)
	}
	group := shift << Log2SizeClassGroup

	log2Delta := Log2Quantum
	if x >= Log2SizeClassGroup+Log2Quantum+1 {
		log2Delta = x - Log2SizeClassGroup - 1
	}
	mod := ((size - 1) & (-1 << log2Delta)) >> log2Delta & (1<<Log2SizeClassGroup - 1)
	return group + mod
}

// Pages2PageIdx returns the smallest page index whose run holds pages pages.
func (sc *SizeClasses) Pages2PageIdx(pages int) int {
	return sc.pages2PageIdx(pages, false)
}

// Pages2PageIdxFloor returns the largest page index whose run does not
// exceed pages pages.
func (sc *SizeClasses) Pages2PageIdxFloor(pages int) int {
	return sc.pages2PageIdx(pages, true)
}

func (sc *SizeClasses) pages2PageIdx(pages int, floor bool) int {
	pageSize := pages << sc.pageShifts
	if pageSize > sc.chunkSize {
		return sc.nPSizes
	}

	x := log2((pageSize << 1) - 1)
	shift := 0
	if x >= Log2SizeClassGroup+sc.pageShifts {
		shift = x - (Log2SizeClassGroup + sc.pageShifts)
	}
	group := shift << Log2SizeClassGroup

	log2Delta := sc.pageShifts
	if x >= Log2SizeClassGroup+sc.pageShifts+1 {
		log2Delta = x - Log2SizeClassGroup - 1
	}
	mod := ((pageSize - 1) & (-1 << log2Delta)) >> log2Delta & (1<<Log2SizeClassGroup - 1)

	pageIdx := group + mod
	if floor && sc.pageIdx2sizeTab[pageIdx] > pageSize {
		pageIdx--
	}
	return pageIdx
}

// NormalizeSize rounds size up to the byte size of its class. Sizes above
// the chunk size are rounded to the class spacing of their magnitude.
func (sc *SizeClasses) NormalizeSize(size int) int {
	if size == 0 {
		return sc.sizeIdx2sizeTab[0]
	}
	if size <= sc.lookupMaxSize {
		return sc.sizeIdx2sizeTab[sc.size2idxTab[(size-1)>>Log2Quantum]]
	}
	return normalizeSizeCompute(size)
}

func normalizeSizeCompute(size int) int {
	x := log2((size << 1) - 1)
	log2Delta := Log2Quantum
	if x >= Log2SizeClassGroup+Log2Quantum+1 {
		log2Delta = x - Log2SizeClassGroup - 1
	}
	mask := 1<<log2Delta - 1
	return (size + mask) &^ mask
}

func log2(v int) int {
	return bits.Len64(uint64(v)) - 1
}
