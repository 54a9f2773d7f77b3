package allocator_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/allocator"
	"github.com/vkngwrapper/mmheap/metadata"
)

type liveAllocation struct {
	ptr  allocator.Pointer
	size int
	seed byte
}

func randomSize(r *rand.Rand) int {
	switch roll := r.Intn(100); {
	case roll < 60:
		return 1 + r.Intn(128)
	case roll < 90:
		return 1 + r.Intn(4096)
	default:
		return 1 + r.Intn(40000)
	}
}

func requireDisjoint(t *testing.T, heap *allocator.Allocator, live []liveAllocation) {
	sorted := append([]liveAllocation(nil), live...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ptr < sorted[j].ptr
	})

	for i := 1; i < len(sorted); i++ {
		prevEnd := int(sorted[i-1].ptr) + heap.UsableSize(sorted[i-1].ptr)
		require.LessOrEqualf(t, prevEnd, int(sorted[i].ptr), "allocations at %d and %d overlap", sorted[i-1].ptr, sorted[i].ptr)
	}
}

func TestRandomWorkload(t *testing.T) {
	heap, _ := readyAllocator(t, 0, allocator.CreateOptions{})
	r := rand.New(rand.NewSource(1))

	var live []liveAllocation
	for op := 0; op < 3000; op++ {
		roll := r.Intn(10)

		switch {
		case len(live) == 0 || roll < 5:
			size := randomSize(r)
			ptr, err := heap.Allocate(size)
			require.NoError(t, err)
			require.Zero(t, int(ptr)%metadata.Alignment)
			require.GreaterOrEqual(t, heap.UsableSize(ptr), size)

			alloc := liveAllocation{ptr: ptr, size: size, seed: byte(r.Intn(256))}
			fill(t, heap, ptr, alloc.seed)
			live = append(live, alloc)
		case roll < 8:
			index := r.Intn(len(live))
			alloc := live[index]
			requireFilled(t, heap, alloc.ptr, alloc.seed, alloc.size)
			require.NoError(t, heap.Free(alloc.ptr))

			live[index] = live[len(live)-1]
			live = live[:len(live)-1]
		default:
			index := r.Intn(len(live))
			alloc := live[index]
			newSize := randomSize(r)

			ptr, err := heap.Resize(alloc.ptr, newSize)
			require.NoError(t, err)

			kept := alloc.size
			if newSize < kept {
				kept = newSize
			}
			requireFilled(t, heap, ptr, alloc.seed, kept)

			alloc.ptr = ptr
			alloc.size = newSize
			alloc.seed = byte(r.Intn(256))
			fill(t, heap, ptr, alloc.seed)
			live[index] = alloc
		}

		require.NoErrorf(t, heap.Validate(), "after operation %d", op)
		require.Equal(t, len(live), heap.AllocationCount())
	}

	requireDisjoint(t, heap, live)
	for _, alloc := range live {
		requireFilled(t, heap, alloc.ptr, alloc.seed, alloc.size)
	}

	for _, alloc := range live {
		require.NoError(t, heap.Free(alloc.ptr))
	}
	require.True(t, heap.IsEmpty())
	require.NoError(t, heap.Validate())

	// Neighbors merge whenever they share a size, even when they were not split from the same
	// parent, so a fully freed heap can stay in several pieces. Each piece is still a power of two
	// and no two neighbors share a size.
	prevSize := 0
	blockCount := 0
	err := heap.VisitAllBlocks(func(ptr allocator.Pointer, size int, free bool) error {
		require.True(t, free)
		require.True(t, mmheap.IsPow2(size))
		require.NotEqual(t, prevSize, size)
		prevSize = size
		blockCount++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, heap.ArenaSize()-metadata.InitialArenaSize, heap.SumFreeSize())
	require.Equal(t, blockCount, heap.FreeRegionsCount())
}

func TestRandomWorkloadSmallChunks(t *testing.T) {
	heap, _ := readyAllocator(t, 0, allocator.CreateOptions{ChunkSize: metadata.MinBlockSize})
	r := rand.New(rand.NewSource(42))

	var live []allocator.Pointer
	for op := 0; op < 2000; op++ {
		if len(live) > 0 && r.Intn(2) == 0 {
			index := r.Intn(len(live))
			require.NoError(t, heap.Free(live[index]))
			live[index] = live[len(live)-1]
			live = live[:len(live)-1]
		} else {
			ptr, err := heap.Allocate(1 + r.Intn(300))
			require.NoError(t, err)
			live = append(live, ptr)
		}

		require.NoErrorf(t, heap.Validate(), "after operation %d", op)
	}
}
