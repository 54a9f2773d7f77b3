package allocator

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/metadata"
	"golang.org/x/exp/slog"
)

// Check runs Validate and reports whether the heap is consistent. The reason for a failure is
// logged at warning level.
func (a *Allocator) Check() bool {
	err := a.Validate()
	if err != nil {
		a.logger.Warn("heap consistency check failed", slog.String("reason", err.Error()))
		return false
	}

	return true
}

// Validate walks the physical block chain and every free list and returns an error describing the
// first structural problem found. It never modifies the heap. When the allocator is functioning
// correctly it should not be possible for this method to return an error.
func (a *Allocator) Validate() error {
	low, high := a.source.Bounds()
	if low != 0 || high != a.arenaEnd {
		return errors.Errorf("arena bounds are [%d, %d) but the heap expects [0, %d)", low, high, a.arenaEnd)
	}
	if a.blocks.Len() < high {
		return errors.Errorf("the heap can see %d bytes but the arena holds %d", a.blocks.Len(), high)
	}

	prologue := metadata.Pack(metadata.PrologueSize, true)
	if a.blocks.TagAt(metadata.HeaderOf(metadata.PrologueOffset)) != prologue {
		return errors.Errorf("prologue header is %#x, expected %#x", a.blocks.TagAt(metadata.HeaderOf(metadata.PrologueOffset)), prologue)
	}
	if a.blocks.TagAt(a.blocks.FooterOf(metadata.PrologueOffset)) != prologue {
		return errors.Errorf("prologue footer is %#x, expected %#x", a.blocks.TagAt(a.blocks.FooterOf(metadata.PrologueOffset)), prologue)
	}
	if a.blocks.TagAt(metadata.HeaderOf(high)) != metadata.Pack(0, true) {
		return errors.Errorf("epilogue header at offset %d is %#x", metadata.HeaderOf(high), a.blocks.TagAt(metadata.HeaderOf(high)))
	}

	// Walk the physical chain, indexing every free block by offset
	freeBlocks := swiss.NewMap[int, int](uint32(a.freeCount + 1))
	var allocCount, allocBytes, freeCount, freeBytes, prevFreeSize int

	p := metadata.FirstBlockOffset
	for p < high {
		header := a.blocks.TagAt(metadata.HeaderOf(p))
		size := header.Size()

		if size == 0 {
			break
		}
		if size < metadata.MinBlockSize || !mmheap.IsPow2(size) {
			return errors.Errorf("block at offset %d has size %d, which is not a power of two of at least %d", p, size, metadata.MinBlockSize)
		}
		if p+size > high {
			return errors.Errorf("block at offset %d with size %d extends past the epilogue at %d", p, size, high)
		}

		footer := a.blocks.TagAt(a.blocks.FooterOf(p))
		if footer != header {
			return errors.Errorf("block at offset %d has header %#x but footer %#x", p, header, footer)
		}

		if header.Allocated() {
			allocCount++
			allocBytes += size
			prevFreeSize = 0
		} else {
			if prevFreeSize == size {
				return errors.Errorf("free block at offset %d and the free block before it are both %d bytes but were not merged", p, size)
			}

			freeBlocks.Put(p, size)
			freeCount++
			freeBytes += size
			prevFreeSize = size
		}

		p += size
	}

	if p != high {
		return errors.Errorf("the physical block chain ended at offset %d, but the epilogue is at %d", p, high)
	}

	// Every free list member must be one of the free blocks found above, exactly once
	listedCount := 0
	for class := 0; class < metadata.NumClasses; class++ {
		prev := 0
		for block := a.freeLists.Head(class); block != 0; block = a.freeLists.Next(block) {
			if listedCount >= freeCount {
				return errors.Errorf("free lists hold more blocks than the %d free blocks in the arena", freeCount)
			}

			size, ok := freeBlocks.Get(block)
			if !ok {
				return errors.Errorf("offset %d is in free list %d but is not a free block, or is listed twice", block, class)
			}
			if metadata.ClassOf(size) != class {
				return errors.Errorf("block at offset %d with size %d is in free list %d instead of %d", block, size, class, metadata.ClassOf(size))
			}
			if a.freeLists.Prev(block) != prev {
				return errors.Errorf("block at offset %d in free list %d links back to %d instead of %d", block, class, a.freeLists.Prev(block), prev)
			}

			freeBlocks.Delete(block)
			listedCount++
			prev = block
		}
	}

	if freeBlocks.Count() != 0 {
		var missing int
		freeBlocks.Iter(func(offset int, size int) bool {
			missing = offset
			return true
		})
		return errors.Errorf("%d free blocks are not in any free list, including the block at offset %d", freeBlocks.Count(), missing)
	}

	if allocCount != a.allocCount {
		return errors.Errorf("the allocation count of the heap is %d, but the allocated blocks only added up to %d", a.allocCount, allocCount)
	}
	if allocBytes != a.allocBytes {
		return errors.Errorf("the allocated size of the heap is %d, but the allocated blocks added up to %d", a.allocBytes, allocBytes)
	}
	if freeCount != a.freeCount {
		return errors.Errorf("the free block count of the heap is %d, but there were %d free blocks", a.freeCount, freeCount)
	}
	if freeBytes != a.freeBytes {
		return errors.Errorf("the free size of the heap is %d, but the free blocks added up to %d", a.freeBytes, freeBytes)
	}

	return nil
}
