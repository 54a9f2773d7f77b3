package allocator_test

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/allocator"
	"github.com/vkngwrapper/mmheap/metadata"
	"golang.org/x/exp/slog"
)

func TestDetailedStatistics(t *testing.T) {
	heap, _ := readyAllocator(t, 0, allocator.CreateOptions{})

	_, err := heap.Allocate(8)
	require.NoError(t, err)

	var stats mmheap.DetailedStatistics
	stats.Clear()
	heap.AddDetailedStatistics(&stats)

	require.Equal(t, mmheap.DetailedStatistics{
		Statistics: mmheap.Statistics{
			ArenaBytes:      metadata.InitialArenaSize + 4096,
			BlockCount:      8,
			AllocationCount: 1,
			AllocationBytes: 32,
			FreeBytes:       4064,
		},
		FreeRangeCount:    7,
		AllocationSizeMin: 32,
		AllocationSizeMax: 32,
		FreeRangeSizeMin:  32,
		FreeRangeSizeMax:  2048,
	}, stats)

	var simple mmheap.Statistics
	heap.AddStatistics(&simple)
	require.Equal(t, stats.Statistics, simple)
	require.InDelta(t, 32.0/4208.0, simple.Utilization(), 1e-9)
}

type statsDocument struct {
	Total struct {
		ArenaBytes        int
		BlockCount        int
		AllocationCount   int
		AllocationBytes   int
		FreeRangeCount    int
		FreeBytes         int
		AllocationSizeMin *int
		FreeRangeSizeMax  *int
	}
	FreeLists []struct {
		Class     int
		BlockSize int
		CatchAll  bool
		Count     int
	}
	Blocks []struct {
		Offset int
		Size   int
		Type   string
	}
}

func TestBuildStatsString(t *testing.T) {
	heap, _ := readyAllocator(t, 0, allocator.CreateOptions{})

	var doc statsDocument
	require.NoError(t, json.Unmarshal([]byte(heap.BuildStatsString(false)), &doc))
	require.Equal(t, metadata.InitialArenaSize, doc.Total.ArenaBytes)
	require.Nil(t, doc.Total.AllocationSizeMin)
	require.Nil(t, doc.Total.FreeRangeSizeMax)
	require.Empty(t, doc.FreeLists)

	ptr, err := heap.Allocate(8)
	require.NoError(t, err)

	doc = statsDocument{}
	require.NoError(t, json.Unmarshal([]byte(heap.BuildStatsString(false)), &doc))
	require.Equal(t, 1, doc.Total.AllocationCount)
	require.NotNil(t, doc.Total.AllocationSizeMin)
	require.Equal(t, 32, *doc.Total.AllocationSizeMin)
	require.Equal(t, 2048, *doc.Total.FreeRangeSizeMax)
	require.Len(t, doc.FreeLists, 7)
	require.Nil(t, doc.Blocks)

	for i, list := range doc.FreeLists {
		require.Equal(t, i, list.Class)
		require.Equal(t, 32<<i, list.BlockSize)
		require.False(t, list.CatchAll)
		require.Equal(t, 1, list.Count)
	}

	doc = statsDocument{}
	require.NoError(t, json.Unmarshal([]byte(heap.BuildStatsString(true)), &doc))
	require.Len(t, doc.Blocks, 8)
	require.Equal(t, int(ptr), doc.Blocks[0].Offset)
	require.Equal(t, 32, doc.Blocks[0].Size)
	require.Equal(t, "ALLOCATED", doc.Blocks[0].Type)
	for _, block := range doc.Blocks[1:] {
		require.Equal(t, "FREE", block.Type)
	}
}

func TestVisitAllBlocksStops(t *testing.T) {
	heap, _ := readyAllocator(t, 0, allocator.CreateOptions{})

	_, err := heap.Allocate(8)
	require.NoError(t, err)

	stop := errors.New("stop")
	visited := 0
	err = heap.VisitAllBlocks(func(ptr allocator.Pointer, size int, free bool) error {
		visited++
		if visited == 3 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 3, visited)
}

func TestDebugLogAllAllocations(t *testing.T) {
	heap, _ := readyAllocator(t, 0, allocator.CreateOptions{})

	var expected []allocator.Pointer
	for _, size := range []int{8, 100, 5000} {
		ptr, err := heap.Allocate(size)
		require.NoError(t, err)
		expected = append(expected, ptr)
	}
	require.NoError(t, heap.Free(expected[1]))
	expected = append(expected[:1], expected[2])

	var logged []allocator.Pointer
	heap.DebugLogAllAllocations(nil, func(log *slog.Logger, ptr allocator.Pointer, size int) {
		logged = append(logged, ptr)
	})
	require.ElementsMatch(t, expected, logged)
}
