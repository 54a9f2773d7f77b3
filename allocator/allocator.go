package allocator

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/arena"
	"github.com/vkngwrapper/mmheap/metadata"
	"golang.org/x/exp/slog"
)

// Pointer is the arena offset of an allocation's payload
type Pointer int

// Null is the Pointer returned when nothing was allocated
const Null Pointer = 0

// maxRequestSize keeps the adjusted size computation from overflowing
const maxRequestSize = math.MaxInt >> 2

// Allocator is a segregated-fit buddy allocator that manages one arena obtained from an
// arena.Source. Every block is a power of two in size. Free blocks are kept in per-size free lists
// whose heads, like every other piece of bookkeeping, live inside the arena.
//
// Allocator is not safe for concurrent use. Callers using it from several goroutines must
// serialize every call themselves.
type Allocator struct {
	logger *slog.Logger
	source arena.Source

	blocks    metadata.Blocks
	freeLists metadata.FreeLists

	chunkSize      int
	growthCallback func(offset, size int)

	arenaEnd    int
	allocCount  int
	allocBytes  int
	freeCount   int
	freeBytes   int
	growthCount int
}

// adjustedSize returns the power-of-two block size needed to hold a payload of size bytes
func adjustedSize(size int) int {
	blockSize := mmheap.AlignUp(size+metadata.TagOverhead, metadata.Alignment)
	if blockSize < metadata.MinBlockSize {
		blockSize = metadata.MinBlockSize
	}

	return mmheap.NextPow2(blockSize)
}

// Allocate returns a pointer to at least size bytes of 16-byte aligned memory. A size of 0
// returns Null and no error. If no free block is large enough the arena is grown once; if that
// fails, the returned error matches mmheap.ErrOutOfMemory and the heap is unchanged.
func (a *Allocator) Allocate(size int) (Pointer, error) {
	if size == 0 {
		return Null, nil
	}
	if size < 0 {
		return Null, errors.Wrapf(mmheap.ErrInvalidSize, "requested %d bytes", size)
	}
	if size > maxRequestSize {
		return Null, errors.Wrapf(mmheap.ErrOutOfMemory, "requested %d bytes", size)
	}

	defer mmheap.DebugValidate(a)

	blockSize := adjustedSize(size)

	p := a.findFreeBlock(blockSize)
	if p == 0 {
		extendSize := blockSize
		if extendSize < a.chunkSize {
			extendSize = a.chunkSize
		}

		err := a.extend(extendSize)
		if err != nil {
			return Null, err
		}

		p = a.findFreeBlock(blockSize)
		if p == 0 {
			return Null, errors.Wrapf(mmheap.ErrOutOfMemory, "no block of %d bytes after growing the arena by %d bytes", blockSize, extendSize)
		}
	}

	a.place(p, blockSize)
	return Pointer(p), nil
}

// findFreeBlock ascends the size classes starting at blockSize's class and unlinks the first
// block that can hold blockSize. It returns 0 if there is none.
func (a *Allocator) findFreeBlock(blockSize int) int {
	for class := metadata.ClassOf(blockSize); class < metadata.NumClasses; class++ {
		var p int
		if class == metadata.CatchAllClass {
			p = a.freeLists.FirstFit(class, blockSize)
		} else {
			p = a.freeLists.Head(class)
		}

		if p != 0 {
			a.removeFreeBlock(p)
			return p
		}
	}

	return 0
}

// place marks an unlinked free block as allocated, splitting it in half until it is exactly
// blockSize. The upper half of each split goes back to the free lists.
func (a *Allocator) place(p int, blockSize int) {
	size := a.blocks.Size(p)
	if size < blockSize {
		panic(errors.AssertionFailedf("block at offset %d has %d bytes but %d were requested", p, size, blockSize))
	}

	// The candidate stays tagged as allocated while it is split so that a released half is never
	// merged back into it.
	a.blocks.SetTags(p, size, true)
	for size > blockSize {
		size >>= 1
		a.blocks.SetTags(p, size, true)

		remainder := p + size
		a.blocks.SetTags(remainder, size, false)
		a.coalesce(remainder)
	}

	a.allocCount++
	a.allocBytes += size
}

// extend grows the arena by size bytes, which must be a power of two. The old epilogue header
// becomes the header of the new free block, which is then coalesced with its neighbors.
func (a *Allocator) extend(size int) error {
	mmheap.DebugCheckPow2(size, "arena extension size")

	base, err := a.source.Grow(size)
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "failed to grow arena",
			slog.Int("size", size),
			slog.Int("arenaSize", a.arenaEnd),
			slog.Any("error", err))
		return errors.Mark(errors.Wrapf(err, "failed to grow arena by %d bytes", size), mmheap.ErrOutOfMemory)
	}
	if base != a.arenaEnd {
		return errors.AssertionFailedf("arena source grew at offset %d but the heap ends at %d", base, a.arenaEnd)
	}

	a.arenaEnd = base + size
	a.blocks.Reset(a.source.Bytes())

	a.blocks.SetTags(base, size, false)
	a.blocks.SetTagAt(metadata.HeaderOf(a.arenaEnd), metadata.Pack(0, true))
	a.growthCount++

	a.logger.Debug("extended arena",
		slog.Int("offset", base),
		slog.Int("size", size),
		slog.Int("arenaSize", a.arenaEnd))

	if a.growthCallback != nil {
		a.growthCallback(base, size)
	}

	a.coalesce(base)
	return nil
}

// Free returns an allocation to the heap. Freeing Null or an already-free block does nothing.
func (a *Allocator) Free(ptr Pointer) error {
	if ptr == Null {
		return nil
	}

	p := int(ptr)
	err := a.checkPointer(p)
	if err != nil {
		return err
	}

	if !a.blocks.IsAllocated(p) {
		a.logger.Debug("ignoring free of a block that is already free", slog.Int("offset", p))
		return nil
	}

	defer mmheap.DebugValidate(a)

	size := a.blocks.Size(p)
	a.allocCount--
	a.allocBytes -= size

	a.blocks.SetTags(p, size, false)
	a.coalesce(p)

	return nil
}

// coalesce merges a free block that is not in any free list with equal-sized free neighbors,
// repeating on the merged block until neither neighbor matches, and then pushes the result onto
// its free list. It returns the payload offset of the final block.
func (a *Allocator) coalesce(p int) int {
	size := a.blocks.Size(p)

	for {
		prev := a.blocks.PrevPhysical(p)
		if !a.blocks.IsAllocated(prev) && a.blocks.Size(prev) == size {
			a.removeFreeBlock(prev)
			p = prev
			size <<= 1
			a.blocks.SetTags(p, size, false)
			continue
		}

		next := a.blocks.NextPhysical(p)
		if !a.blocks.IsAllocated(next) && a.blocks.Size(next) == size {
			a.removeFreeBlock(next)
			size <<= 1
			a.blocks.SetTags(p, size, false)
			continue
		}

		break
	}

	a.insertFreeBlock(p)
	return p
}

func (a *Allocator) insertFreeBlock(p int) {
	size := a.blocks.Size(p)
	a.freeLists.PushFront(metadata.ClassOf(size), p)
	a.freeCount++
	a.freeBytes += size
}

func (a *Allocator) removeFreeBlock(p int) {
	size := a.blocks.Size(p)
	a.freeLists.Remove(metadata.ClassOf(size), p)
	a.freeCount--
	a.freeBytes -= size
}

// Resize changes the size of an allocation, preserving its contents up to the smaller of the old
// and new sizes. A Null ptr behaves like Allocate and a size of 0 behaves like Free. If a new
// block cannot be allocated, the original allocation is left untouched and the error is returned.
func (a *Allocator) Resize(ptr Pointer, size int) (Pointer, error) {
	if ptr == Null {
		return a.Allocate(size)
	}
	if size == 0 {
		return Null, a.Free(ptr)
	}
	if size < 0 {
		return Null, errors.Wrapf(mmheap.ErrInvalidSize, "requested %d bytes", size)
	}

	p := int(ptr)
	err := a.checkPointer(p)
	if err != nil {
		return Null, err
	}
	if !a.blocks.IsAllocated(p) {
		return Null, errors.Wrapf(mmheap.ErrInvalidPointer, "block at offset %d is free", p)
	}

	oldSize := a.blocks.Size(p)
	if size <= maxRequestSize && adjustedSize(size) == oldSize {
		return ptr, nil
	}

	newPtr, err := a.Allocate(size)
	if err != nil {
		return Null, err
	}

	copySize := oldSize - metadata.TagOverhead
	if size < copySize {
		copySize = size
	}
	copy(a.blocks.Payload(int(newPtr), copySize), a.blocks.Payload(p, copySize))

	err = a.Free(ptr)
	if err != nil {
		return Null, err
	}

	return newPtr, nil
}

// checkPointer rejects offsets that cannot be the payload of a block in the heap. It is a sanity
// check and cannot catch every pointer that was never returned by Allocate.
func (a *Allocator) checkPointer(p int) error {
	if p < metadata.FirstBlockOffset || p >= a.arenaEnd || p%metadata.Alignment != 0 {
		return errors.Wrapf(mmheap.ErrInvalidPointer, "offset %d is outside the block range [%d, %d)", p, metadata.FirstBlockOffset, a.arenaEnd)
	}

	size := a.blocks.Size(p)
	if !mmheap.IsPow2(size) || size < metadata.MinBlockSize || p+size > a.arenaEnd {
		return errors.Wrapf(mmheap.ErrInvalidPointer, "offset %d does not have a valid block header", p)
	}

	return nil
}

// Payload returns the usable bytes of a live allocation. The slice aliases arena memory and is
// invalidated when the allocation is freed or resized.
func (a *Allocator) Payload(ptr Pointer) ([]byte, error) {
	p := int(ptr)
	err := a.checkPointer(p)
	if err != nil {
		return nil, err
	}
	if !a.blocks.IsAllocated(p) {
		return nil, errors.Wrapf(mmheap.ErrInvalidPointer, "block at offset %d is free", p)
	}

	return a.blocks.Payload(p, a.blocks.Size(p)-metadata.TagOverhead), nil
}

// UsableSize returns the number of payload bytes available in a live allocation, or 0 if ptr
// does not reference one
func (a *Allocator) UsableSize(ptr Pointer) int {
	p := int(ptr)
	if a.checkPointer(p) != nil || !a.blocks.IsAllocated(p) {
		return 0
	}

	return a.blocks.Size(p) - metadata.TagOverhead
}

// AllocationCount returns the number of live allocations
func (a *Allocator) AllocationCount() int {
	return a.allocCount
}

// FreeRegionsCount returns the number of free blocks in the heap
func (a *Allocator) FreeRegionsCount() int {
	return a.freeCount
}

// SumFreeSize returns the total size in bytes of every free block
func (a *Allocator) SumFreeSize() int {
	return a.freeBytes
}

// ArenaSize returns the number of bytes obtained from the arena source so far
func (a *Allocator) ArenaSize() int {
	return a.arenaEnd
}

// GrowthCount returns the number of times the arena has been extended
func (a *Allocator) GrowthCount() int {
	return a.growthCount
}

func (a *Allocator) IsEmpty() bool {
	return a.allocCount == 0
}
