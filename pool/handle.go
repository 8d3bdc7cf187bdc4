// File: pool/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Packed allocation handle.
//
//	oooooooo ooooooos ssssssss ssssssue bbbbbbbb bbbbbbbb bbbbbbbb bbbbbbbb
//
//	o: runOffset (page offset in the chunk), 15 bits
//	s: run size in pages, 15 bits
//	u: isUsed, 1 bit
//	e: isSubpage, 1 bit
//	b: bitmapIdx of the element inside a subpage, 32 bits
//
// A chunk holds at most 1<<14 pages, so the top bit is never set and a valid
// handle is never negative.

package pool

const (
	sizeBitLength  = 15
	isSubpageShift = 32
	isUsedShift    = isSubpageShift + 1
	sizeShift      = isUsedShift + 1
	runOffsetShift = sizeShift + sizeBitLength
	fieldMask15    = 1<<sizeBitLength - 1
	bitmapIdxMask  = 1<<32 - 1
)

// noHandle signals exhaustion on every allocation path.
const noHandle int64 = -1

func toRunHandle(runOffset, runPages int, used bool) int64 {
	h := int64(runOffset)<<runOffsetShift | int64(runPages)<<sizeShift
	if used {
		h |= 1 << isUsedShift
	}
	return h
}

func toSubpageHandle(runOffset, runPages, bitmapIdx int) int64 {
	return int64(runOffset)<<runOffsetShift |
		int64(runPages)<<sizeShift |
		1<<isUsedShift |
		1<<isSubpageShift |
		int64(bitmapIdx)
}

func runOffset(handle int64) int {
	return int(uint64(handle) >> runOffsetShift)
}

func runPages(handle int64) int {
	return int(uint64(handle) >> sizeShift & fieldMask15)
}

func runSize(pageShifts int, handle int64) int {
	return runPages(handle) << pageShifts
}

func isUsed(handle int64) bool {
	return uint64(handle)>>isUsedShift&1 == 1
}

func isSubpage(handle int64) bool {
	return uint64(handle)>>isSubpageShift&1 == 1
}

func isRun(handle int64) bool {
	return !isSubpage(handle)
}

func bitmapIdx(handle int64) int {
	return int(uint64(handle) & bitmapIdxMask)
}

func lastPage(offset, pages int) int {
	return offset + pages - 1
}
