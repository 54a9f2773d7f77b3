package allocator

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/metadata"
	"golang.org/x/exp/slog"
)

// VisitAllBlocks calls handleBlock once for each block between the prologue and the epilogue,
// in address order. Iteration stops at the first error, which is returned.
func (a *Allocator) VisitAllBlocks(handleBlock func(ptr Pointer, size int, free bool) error) error {
	for p := metadata.FirstBlockOffset; p < a.arenaEnd; p = a.blocks.NextPhysical(p) {
		err := handleBlock(Pointer(p), a.blocks.Size(p), !a.blocks.IsAllocated(p))
		if err != nil {
			return err
		}
	}

	return nil
}

// AddStatistics sums this heap's totals into stats using the allocator's running counters
func (a *Allocator) AddStatistics(stats *mmheap.Statistics) {
	stats.ArenaBytes += a.arenaEnd
	stats.BlockCount += a.allocCount + a.freeCount
	stats.AllocationCount += a.allocCount
	stats.AllocationBytes += a.allocBytes
	stats.FreeBytes += a.freeBytes
}

// AddDetailedStatistics walks every block and sums this heap's statistics into stats
func (a *Allocator) AddDetailedStatistics(stats *mmheap.DetailedStatistics) {
	stats.ArenaBytes += a.arenaEnd

	_ = a.VisitAllBlocks(func(ptr Pointer, size int, free bool) error {
		if free {
			stats.AddFreeRange(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

// BuildStatsString returns a JSON document describing the heap. When detailedMap is true the
// document also lists every block.
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	var stats mmheap.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	objState := writer.Object()

	total := objState.Name("Total").Object()
	printStatistics(&total, &stats)
	total.End()

	lists := objState.Name("FreeLists").Array()
	for class := 0; class < metadata.NumClasses; class++ {
		count := a.freeLists.Len(class)
		if count == 0 {
			continue
		}

		obj := lists.Object()
		obj.Name("Class").Int(class)
		obj.Name("BlockSize").Int(metadata.ClassSize(class))
		obj.Name("CatchAll").Bool(class == metadata.CatchAllClass)
		obj.Name("Count").Int(count)
		obj.End()
	}
	lists.End()

	if detailedMap {
		blocks := objState.Name("Blocks").Array()
		_ = a.VisitAllBlocks(func(ptr Pointer, size int, free bool) error {
			obj := blocks.Object()
			defer obj.End()

			obj.Name("Offset").Int(int(ptr))
			obj.Name("Size").Int(size)
			if free {
				obj.Name("Type").String("FREE")
			} else {
				obj.Name("Type").String("ALLOCATED")
			}
			return nil
		})
		blocks.End()
	}

	objState.End()
	return string(writer.Bytes())
}

func printStatistics(json *jwriter.ObjectState, stats *mmheap.DetailedStatistics) {
	json.Name("ArenaBytes").Int(stats.ArenaBytes)
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("FreeRangeCount").Int(stats.FreeRangeCount)
	json.Name("FreeBytes").Int(stats.FreeBytes)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.FreeRangeCount > 0 {
		json.Name("FreeRangeSizeMin").Int(stats.FreeRangeSizeMin)
		json.Name("FreeRangeSizeMax").Int(stats.FreeRangeSizeMax)
	}
}

// DebugLogAllAllocations calls logFunc once for every live allocation. It is intended for
// reporting leaks before an allocator is discarded.
func (a *Allocator) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, ptr Pointer, size int)) {
	_ = a.VisitAllBlocks(func(ptr Pointer, size int, free bool) error {
		if !free {
			logFunc(logger, ptr, size)
		}
		return nil
	})
}
