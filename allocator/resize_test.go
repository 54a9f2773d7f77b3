package allocator_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/allocator"
	"github.com/vkngwrapper/mmheap/metadata"
)

func TestResizeSameBlock(t *testing.T) {
	heap, _ := readyAllocator(t, 0, allocator.CreateOptions{})

	ptr, err := heap.Allocate(100)
	require.NoError(t, err)
	fill(t, heap, ptr, 3)

	same, err := heap.Resize(ptr, 50)
	require.NoError(t, err)
	require.Equal(t, ptr, same)

	same, err = heap.Resize(ptr, 112)
	require.NoError(t, err)
	require.Equal(t, ptr, same)

	requireFilled(t, heap, ptr, 3, 112)
	require.Equal(t, 1, heap.AllocationCount())
}

func TestResizeMovesContents(t *testing.T) {
	heap, _ := readyAllocator(t, 0, allocator.CreateOptions{})

	ptr, err := heap.Allocate(100)
	require.NoError(t, err)
	fill(t, heap, ptr, 3)

	grown, err := heap.Resize(ptr, 200)
	require.NoError(t, err)
	require.NotEqual(t, ptr, grown)
	require.GreaterOrEqual(t, heap.UsableSize(grown), 200)
	requireFilled(t, heap, grown, 3, 112)
	require.Equal(t, 1, heap.AllocationCount())
	require.NoError(t, heap.Validate())

	shrunk, err := heap.Resize(grown, 20)
	require.NoError(t, err)
	require.NotEqual(t, grown, shrunk)
	require.Equal(t, 48, heap.UsableSize(shrunk))
	requireFilled(t, heap, shrunk, 3, 20)
	require.Equal(t, 1, heap.AllocationCount())
	require.NoError(t, heap.Validate())
}

func TestResizeNullAndZero(t *testing.T) {
	heap, _ := readyAllocator(t, 0, allocator.CreateOptions{})

	ptr, err := heap.Resize(allocator.Null, 40)
	require.NoError(t, err)
	require.NotEqual(t, allocator.Null, ptr)
	require.Equal(t, 1, heap.AllocationCount())

	result, err := heap.Resize(ptr, 0)
	require.NoError(t, err)
	require.Equal(t, allocator.Null, result)
	require.True(t, heap.IsEmpty())

	result, err = heap.Resize(allocator.Null, 0)
	require.NoError(t, err)
	require.Equal(t, allocator.Null, result)

	_, err = heap.Resize(ptr, 10)
	require.ErrorIs(t, err, mmheap.ErrInvalidPointer)

	live, err := heap.Allocate(10)
	require.NoError(t, err)
	_, err = heap.Resize(live, -5)
	require.ErrorIs(t, err, mmheap.ErrInvalidSize)
	_, err = heap.Resize(live+8, 10)
	require.ErrorIs(t, err, mmheap.ErrInvalidPointer)

	require.NoError(t, heap.Validate())
}

func TestResizeFailureKeepsOriginal(t *testing.T) {
	heap, _ := readyAllocator(t, metadata.InitialArenaSize+allocator.DefaultChunkSize, allocator.CreateOptions{})

	ptr, err := heap.Allocate(1000)
	require.NoError(t, err)
	fill(t, heap, ptr, 9)

	result, err := heap.Resize(ptr, 3000)
	require.True(t, errors.Is(err, mmheap.ErrOutOfMemory))
	require.Equal(t, allocator.Null, result)

	require.Equal(t, 1, heap.AllocationCount())
	require.Equal(t, 1008, heap.UsableSize(ptr))
	requireFilled(t, heap, ptr, 9, 1008)
	require.NoError(t, heap.Validate())
}
