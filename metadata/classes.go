package metadata

import "github.com/vkngwrapper/mmheap"

const (
	// NumClasses is the number of segregated free lists. Class i holds blocks of exactly
	// MinBlockSize << i bytes, except for the last class, which holds every block of at least
	// CeilingSize bytes.
	NumClasses = 10
	// CatchAllClass is the index of the free list holding blocks of mixed sizes
	CatchAllClass = NumClasses - 1
	// CeilingSize is the smallest block size stored in the catch-all class
	CeilingSize = MinBlockSize << CatchAllClass

	minBlockShift = 5
)

const (
	// PrologueOffset is the payload offset of the prologue block, which follows one word of padding
	PrologueOffset = 2 * WordSize
	// PrologueSize is the size of the prologue block. Its payload is the free list head table.
	PrologueSize = TagOverhead + NumClasses*WordSize
	// FirstBlockOffset is the payload offset of the first block after the prologue. On an empty heap
	// this is the epilogue.
	FirstBlockOffset = PrologueOffset + PrologueSize
	// InitialArenaSize is the number of bytes taken up by the padding word, the prologue and the epilogue
	InitialArenaSize = WordSize + PrologueSize + WordSize
)

// ClassOf maps a power-of-two block size to its free list
func ClassOf(size int) int {
	if size >= CeilingSize {
		return CatchAllClass
	}
	if size <= MinBlockSize {
		return 0
	}

	return mmheap.Log2(size) - minBlockShift
}

// ClassSize returns the block size stored in a class. For the catch-all class this is the
// smallest size the class may hold.
func ClassSize(class int) int {
	return MinBlockSize << class
}
