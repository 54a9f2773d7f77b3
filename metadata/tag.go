// Package metadata holds the in-arena bookkeeping used by the allocator: boundary tags, physical
// block navigation, and the segregated free list table. Nothing in this package owns memory; every
// type is a view over the arena bytes, addressed by byte offset.
package metadata

const (
	// WordSize is the size in bytes of a boundary tag or free list link
	WordSize = 8
	// Alignment is the alignment of every block payload and every block size
	Alignment = 2 * WordSize
	// TagOverhead is the number of bytes in a block taken up by its header and footer
	TagOverhead = 2 * WordSize
	// MinBlockSize is the smallest block that can hold a header, a footer and both free list links
	MinBlockSize = TagOverhead + 2*WordSize
)

// Tag is a boundary tag: a block size with the allocated flag packed into the low bit. Block sizes
// are always multiples of Alignment, so the low bits of the size are otherwise unused.
type Tag uint64

const allocatedBit Tag = 1

// Pack builds the tag for a block of the given size
func Pack(size int, allocated bool) Tag {
	tag := Tag(size)
	if allocated {
		tag |= allocatedBit
	}
	return tag
}

func (t Tag) Size() int {
	return int(t &^ Tag(Alignment-1))
}

func (t Tag) Allocated() bool {
	return t&allocatedBit != 0
}
