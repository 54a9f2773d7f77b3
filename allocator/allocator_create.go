package allocator

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/arena"
	"github.com/vkngwrapper/mmheap/metadata"
	"golang.org/x/exp/slog"
)

const (
	// DefaultChunkSize is the value that is used as the ChunkSize when none is provided via
	// CreateOptions. It is equal to 4KB.
	DefaultChunkSize int = 4096
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// ChunkSize is the minimum number of bytes requested from the arena source whenever the heap
	// has to grow. It must be a power of two no smaller than metadata.MinBlockSize. Leave it at 0
	// to use DefaultChunkSize.
	ChunkSize int

	// GrowthCallback is an optional callback invoked after every successful arena extension with
	// the offset and size of the new region
	GrowthCallback func(offset, size int)
}

// New creates a new Allocator over an empty arena source and lays out the prologue, the epilogue
// and an empty free list table. The source must not be shared with anything else.
//
// logger - Receives diagnostic output. A nil logger discards everything.
//
// source - The arena growth service. Its Bounds must be (0, 0).
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, source arena.Source, options CreateOptions) (*Allocator, error) {
	if source == nil {
		return nil, errors.New("an arena source is required")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	allocator := &Allocator{
		logger:         logger,
		source:         source,
		chunkSize:      options.ChunkSize,
		growthCallback: options.GrowthCallback,
	}

	if allocator.chunkSize == 0 {
		allocator.chunkSize = DefaultChunkSize
	}

	err := mmheap.CheckPow2(allocator.chunkSize, "allocator.CreateOptions.ChunkSize")
	if err != nil {
		return nil, err
	}
	if allocator.chunkSize < metadata.MinBlockSize {
		return nil, errors.Newf("allocator.CreateOptions.ChunkSize is %d but must be at least %d", allocator.chunkSize, metadata.MinBlockSize)
	}

	err = allocator.init()
	if err != nil {
		return nil, err
	}

	return allocator, nil
}

func (a *Allocator) init() error {
	low, high := a.source.Bounds()
	if low != 0 || high != 0 {
		return errors.Newf("arena source must be empty, but has bounds [%d, %d)", low, high)
	}

	base, err := a.source.Grow(metadata.InitialArenaSize)
	if err != nil {
		return errors.Wrap(err, "failed to allocate the heap prologue")
	}
	if base != 0 {
		return errors.Newf("arena source placed the heap prologue at offset %d", base)
	}

	a.arenaEnd = metadata.InitialArenaSize
	a.blocks.Reset(a.source.Bytes())
	a.freeLists = metadata.NewFreeLists(&a.blocks, metadata.PrologueOffset)

	a.blocks.SetWord(0, 0)
	a.blocks.SetTags(metadata.PrologueOffset, metadata.PrologueSize, true)
	a.freeLists.Init()
	a.blocks.SetTagAt(metadata.HeaderOf(a.arenaEnd), metadata.Pack(0, true))

	mmheap.DebugValidate(a)
	return nil
}
