package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/mmheap/internal/trace"
	"golang.org/x/exp/slog"
)

var (
	replayHeap     heapConfig
	replayCheck    bool
	replayBlockMap bool
)

func init() {
	cmd := newReplayCmd()
	replayHeap.addFlags(cmd)
	cmd.Flags().BoolVar(&replayCheck, "check", false, "Validate the whole heap after every operation")
	cmd.Flags().BoolVar(&replayBlockMap, "map", false, "Include every block in JSON output")
	rootCmd.AddCommand(cmd)
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <trace>...",
		Short: "Replay trace files",
		Long: `The replay command runs each trace file against its own fresh heap and
reports peak utilization, arena growth, and leaked allocations.

Example:
  mmtrace replay traces/short1.rep
  mmtrace replay --check --arena mapped traces/*.rep
  mmtrace replay --json --map traces/binary.rep`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.OutOrStdout(), newLogger(cmd.ErrOrStderr()), args)
		},
	}
	return cmd
}

func runReplay(out io.Writer, logger *slog.Logger, paths []string) error {
	failed := 0
	for _, path := range paths {
		err := replayFile(out, logger, path)
		if err != nil {
			logger.Error("trace failed", slog.String("trace", path), slog.Any("error", err))
			failed++
		}
	}

	if failed > 0 {
		return errors.Newf("%d of %d traces failed", failed, len(paths))
	}
	return nil
}

func replayFile(out io.Writer, logger *slog.Logger, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open trace")
	}
	defer file.Close()

	parsed, err := trace.Parse(file)
	if err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}

	heap, closeSource, err := replayHeap.newHeap(logger.With(slog.String("trace", path)))
	if err != nil {
		return err
	}
	defer func() {
		_ = closeSource()
	}()

	result, err := trace.Replay(heap, parsed, trace.ReplayOptions{
		Logger:         logger.With(slog.String("trace", path)),
		ValidateEachOp: replayCheck,
	})
	if err != nil {
		return err
	}

	if !heap.Check() {
		return errors.Newf("heap is inconsistent after replaying %s", path)
	}

	if jsonOut {
		_, err = fmt.Fprintln(out, heap.BuildStatsString(replayBlockMap))
		return err
	}

	_, err = fmt.Fprintf(out, "%s: %d ops, peak utilization %.1f%%, arena %d bytes, %d growths, %d free blocks, %d leaked\n",
		path,
		result.Ops,
		result.PeakUtilization()*100,
		result.ArenaBytes,
		result.Growths,
		result.Stats.FreeRangeCount,
		result.Leaked)
	return err
}
