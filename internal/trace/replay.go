package trace

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/allocator"
	"github.com/vkngwrapper/mmheap/metadata"
	"golang.org/x/exp/slog"
)

// ReplayOptions controls the checks made while a trace is replayed
type ReplayOptions struct {
	// Logger receives per-op debug output and a leak report. Leave nil to discard.
	Logger *slog.Logger
	// ValidateEachOp runs Allocator.Validate after every operation. This is slow for long traces.
	ValidateEachOp bool
}

// Result summarizes a replayed trace
type Result struct {
	Ops int
	// PeakRequestedBytes is the largest number of requested bytes live at any point
	PeakRequestedBytes int
	// ArenaBytes is the size of the arena when the trace finished
	ArenaBytes int
	Growths    int
	// Leaked is the number of ids still allocated when the trace finished
	Leaked int
	Stats  mmheap.DetailedStatistics
}

// PeakUtilization is PeakRequestedBytes as a fraction of the final arena size
func (r Result) PeakUtilization() float64 {
	if r.ArenaBytes == 0 {
		return 0
	}
	return float64(r.PeakRequestedBytes) / float64(r.ArenaBytes)
}

type liveEntry struct {
	ptr  allocator.Pointer
	size int
}

type replayer struct {
	heap   *allocator.Allocator
	logger *slog.Logger

	live         *swiss.Map[int, liveEntry]
	liveBytes    int
	peakRequests int
}

// Replay runs every op in t against heap, which should be freshly created. Each payload is
// filled with a pattern derived from its id and the pattern is verified before the allocation is
// freed or resized, so an allocator that hands out overlapping or corrupted memory is reported
// as an error.
func Replay(heap *allocator.Allocator, t *Trace, options ReplayOptions) (Result, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	r := &replayer{
		heap:   heap,
		logger: logger,
		live:   swiss.NewMap[int, liveEntry](uint32(t.IDCount)),
	}

	for i, op := range t.Ops {
		err := r.apply(op)
		if err != nil {
			return Result{Ops: i}, errors.Wrapf(err, "%s of id %d on line %d", op.Kind, op.ID, op.Line)
		}

		if options.ValidateEachOp {
			err = heap.Validate()
			if err != nil {
				return Result{Ops: i + 1}, errors.Wrapf(err, "heap invalid after line %d", op.Line)
			}
		}
	}

	result := Result{
		Ops:                len(t.Ops),
		PeakRequestedBytes: r.peakRequests,
		ArenaBytes:         heap.ArenaSize(),
		Growths:            heap.GrowthCount(),
		Leaked:             r.live.Count(),
	}
	result.Stats.Clear()
	heap.AddDetailedStatistics(&result.Stats)

	if result.Leaked > 0 {
		heap.DebugLogAllAllocations(logger, func(log *slog.Logger, ptr allocator.Pointer, size int) {
			log.Debug("allocation still live at end of trace", slog.Int("offset", int(ptr)), slog.Int("blockSize", size))
		})
	}

	return result, nil
}

func (r *replayer) apply(op Op) error {
	switch op.Kind {
	case OpAllocate:
		return r.allocate(op)
	case OpResize:
		return r.resize(op)
	case OpFree:
		return r.free(op)
	}

	return errors.Wrapf(ErrMalformed, "unknown operation %q", byte(op.Kind))
}

func (r *replayer) allocate(op Op) error {
	if _, ok := r.live.Get(op.ID); ok {
		return errors.Wrap(ErrMalformed, "id is already allocated")
	}

	ptr, err := r.heap.Allocate(op.Size)
	if err != nil {
		return err
	}

	err = r.track(op.ID, ptr, op.Size)
	if err != nil {
		return err
	}

	r.logger.Debug("allocated", slog.Int("id", op.ID), slog.Int("size", op.Size), slog.Int("offset", int(ptr)))
	return nil
}

// resize requires a live id, like free. Resizing to 0 frees the allocation and retires the id.
func (r *replayer) resize(op Op) error {
	entry, ok := r.live.Get(op.ID)
	if !ok {
		return errors.Wrap(ErrMalformed, "id is not allocated")
	}

	err := r.verify(op.ID, entry)
	if err != nil {
		return err
	}

	ptr, err := r.heap.Resize(entry.ptr, op.Size)
	if err != nil {
		return err
	}

	kept := entry.size
	if op.Size < kept {
		kept = op.Size
	}
	err = r.verify(op.ID, liveEntry{ptr: ptr, size: kept})
	if err != nil {
		return errors.Wrap(err, "contents were not preserved")
	}

	r.untrack(op.ID, entry)
	if op.Size == 0 {
		r.logger.Debug("freed by resize", slog.Int("id", op.ID), slog.Int("offset", int(entry.ptr)))
		return nil
	}

	err = r.track(op.ID, ptr, op.Size)
	if err != nil {
		return err
	}

	r.logger.Debug("resized", slog.Int("id", op.ID), slog.Int("size", op.Size), slog.Int("offset", int(ptr)))
	return nil
}

func (r *replayer) free(op Op) error {
	entry, ok := r.live.Get(op.ID)
	if !ok {
		return errors.Wrap(ErrMalformed, "id is not allocated")
	}

	err := r.verify(op.ID, entry)
	if err != nil {
		return err
	}

	err = r.heap.Free(entry.ptr)
	if err != nil {
		return err
	}

	r.untrack(op.ID, entry)
	r.logger.Debug("freed", slog.Int("id", op.ID), slog.Int("offset", int(entry.ptr)))
	return nil
}

// track records a new allocation, checks it against every other live allocation and fills it
func (r *replayer) track(id int, ptr allocator.Pointer, size int) error {
	if ptr != allocator.Null {
		if int(ptr)%metadata.Alignment != 0 {
			return errors.Newf("offset %d is not %d-byte aligned", ptr, metadata.Alignment)
		}

		usable := r.heap.UsableSize(ptr)
		if usable < size {
			return errors.Newf("allocation at offset %d holds %d bytes but %d were requested", ptr, usable, size)
		}

		var overlapErr error
		r.live.Iter(func(otherID int, other liveEntry) bool {
			if other.ptr == allocator.Null {
				return false
			}
			otherUsable := r.heap.UsableSize(other.ptr)
			if int(ptr) < int(other.ptr)+otherUsable && int(other.ptr) < int(ptr)+usable {
				overlapErr = errors.Newf("allocation at offset %d overlaps id %d at offset %d", ptr, otherID, other.ptr)
				return true
			}
			return false
		})
		if overlapErr != nil {
			return overlapErr
		}

		payload, err := r.heap.Payload(ptr)
		if err != nil {
			return err
		}
		for i := 0; i < size; i++ {
			payload[i] = pattern(id, i)
		}
	}

	r.live.Put(id, liveEntry{ptr: ptr, size: size})
	r.liveBytes += size
	if r.liveBytes > r.peakRequests {
		r.peakRequests = r.liveBytes
	}

	return nil
}

func (r *replayer) untrack(id int, entry liveEntry) {
	if r.live.Delete(id) {
		r.liveBytes -= entry.size
	}
}

func (r *replayer) verify(id int, entry liveEntry) error {
	if entry.ptr == allocator.Null || entry.size == 0 {
		return nil
	}

	payload, err := r.heap.Payload(entry.ptr)
	if err != nil {
		return err
	}

	for i := 0; i < entry.size; i++ {
		if payload[i] != pattern(id, i) {
			return errors.Newf("payload byte %d at offset %d was overwritten", i, entry.ptr)
		}
	}

	return nil
}

func pattern(id, index int) byte {
	return byte(id*31 + index)
}
