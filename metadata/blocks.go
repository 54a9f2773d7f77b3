package metadata

import "encoding/binary"

// Blocks is a view over the arena bytes that reads and writes boundary tags and free list links.
//
// Blocks are identified by the offset of their payload. The header lives one word before the
// payload and the footer occupies the last word of the block. A free block keeps its previous and
// next free list links in the first two words of its payload; an offset of 0 is the nil link,
// since offset 0 is arena padding and never a payload.
type Blocks struct {
	data []byte
}

func NewBlocks(data []byte) *Blocks {
	return &Blocks{data: data}
}

// Reset points the view at a new slice of arena bytes. It must be called after the arena grows.
func (b *Blocks) Reset(data []byte) {
	b.data = data
}

// Len returns the number of arena bytes currently visible through this view
func (b *Blocks) Len() int {
	return len(b.data)
}

func (b *Blocks) Word(offset int) uint64 {
	return binary.LittleEndian.Uint64(b.data[offset : offset+WordSize])
}

func (b *Blocks) SetWord(offset int, value uint64) {
	binary.LittleEndian.PutUint64(b.data[offset:offset+WordSize], value)
}

func (b *Blocks) TagAt(offset int) Tag {
	return Tag(b.Word(offset))
}

func (b *Blocks) SetTagAt(offset int, tag Tag) {
	b.SetWord(offset, uint64(tag))
}

// HeaderOf returns the offset of the header for the block whose payload begins at p
func HeaderOf(p int) int {
	return p - WordSize
}

// FooterOf returns the offset of the footer for the block whose payload begins at p. The size
// is read from the block's header.
func (b *Blocks) FooterOf(p int) int {
	return p + b.Size(p) - TagOverhead
}

func (b *Blocks) Size(p int) int {
	return b.TagAt(HeaderOf(p)).Size()
}

func (b *Blocks) IsAllocated(p int) bool {
	return b.TagAt(HeaderOf(p)).Allocated()
}

// NextPhysical returns the payload offset of the block that follows p in the arena. It must not
// be called on the epilogue.
func (b *Blocks) NextPhysical(p int) int {
	return p + b.Size(p)
}

// PrevPhysical returns the payload offset of the block that precedes p in the arena, using the
// footer of the preceding block.
func (b *Blocks) PrevPhysical(p int) int {
	return p - b.TagAt(p-TagOverhead).Size()
}

// SetTags writes identical header and footer tags for the block at p
func (b *Blocks) SetTags(p int, size int, allocated bool) {
	tag := Pack(size, allocated)
	b.SetTagAt(HeaderOf(p), tag)
	b.SetTagAt(p+size-TagOverhead, tag)
}

// FreeLinks returns the previous and next free list links stored in a free block's payload
func (b *Blocks) FreeLinks(p int) (prev, next int) {
	return int(b.Word(p)), int(b.Word(p + WordSize))
}

func (b *Blocks) SetFreeLinks(p int, prev, next int) {
	b.SetWord(p, uint64(prev))
	b.SetWord(p+WordSize, uint64(next))
}

func (b *Blocks) SetPrevFree(p int, prev int) {
	b.SetWord(p, uint64(prev))
}

func (b *Blocks) SetNextFree(p int, next int) {
	b.SetWord(p+WordSize, uint64(next))
}

// Payload returns n bytes of arena starting at p
func (b *Blocks) Payload(p int, n int) []byte {
	return b.data[p : p+n : p+n]
}
