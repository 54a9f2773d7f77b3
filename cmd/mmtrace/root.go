package main

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/mmheap/allocator"
	"github.com/vkngwrapper/mmheap/arena"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "mmtrace",
	Short: "Replay allocation traces against the mmheap buddy allocator",
	Long: `mmtrace replays allocation trace files against a fresh mmheap allocator
for each file, verifying payload contents as it goes, and reports peak utilization
and heap statistics.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output statistics in JSON format")
}

func execute() error {
	return rootCmd.Execute()
}

// newLogger returns a text logger on w that shows debug output only in verbose mode
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(w))
}

// heapConfig holds the flags shared by every command that builds a heap
type heapConfig struct {
	arenaKind string
	limit     int
	chunkSize int
}

func (c *heapConfig) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.arenaKind, "arena", "memory", "Arena source: memory or mapped")
	cmd.Flags().IntVar(&c.limit, "limit", arena.DefaultMemoryLimit, "Maximum arena size in bytes")
	cmd.Flags().IntVar(&c.chunkSize, "chunk", allocator.DefaultChunkSize, "Minimum arena growth in bytes, a power of two")
}

// newHeap builds an allocator over a new arena source. The returned close function releases the
// source and must always be called.
func (c *heapConfig) newHeap(logger *slog.Logger) (*allocator.Allocator, func() error, error) {
	var source arena.Source
	closeSource := func() error { return nil }

	switch c.arenaKind {
	case "memory":
		mem, err := arena.NewMemory(c.limit)
		if err != nil {
			return nil, nil, err
		}
		source = mem
	case "mapped":
		mapped, err := arena.NewMapped(c.limit)
		if err != nil {
			return nil, nil, err
		}
		source = mapped
		closeSource = mapped.Close
	default:
		return nil, nil, errors.Newf("unknown arena %q, expected memory or mapped", c.arenaKind)
	}

	heap, err := allocator.New(logger, source, allocator.CreateOptions{
		ChunkSize: c.chunkSize,
		GrowthCallback: func(offset, size int) {
			logger.Debug("arena grew", slog.Int("offset", offset), slog.Int("size", size))
		},
	})
	if err != nil {
		_ = closeSource()
		return nil, nil, err
	}

	return heap, closeSource, nil
}
