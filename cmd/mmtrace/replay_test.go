package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func writeTrace(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "test.rep")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func resetFlags() {
	replayHeap = heapConfig{arenaKind: "memory", limit: 1 << 20, chunkSize: 4096}
	replayCheck = true
	replayBlockMap = false
	jsonOut = false
	verbose = false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func TestReplayText(t *testing.T) {
	resetFlags()
	path := writeTrace(t, "a 0 100\na 1 200\nf 0\nr 1 300\n")

	var out bytes.Buffer
	require.NoError(t, runReplay(&out, discardLogger(), []string{path}))
	require.Contains(t, out.String(), path+": 4 ops")
	require.Contains(t, out.String(), "1 leaked")
}

func TestReplayJSON(t *testing.T) {
	resetFlags()
	jsonOut = true
	replayBlockMap = true
	path := writeTrace(t, "a 0 100\n")

	var out bytes.Buffer
	require.NoError(t, runReplay(&out, discardLogger(), []string{path}))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	require.Contains(t, doc, "Total")
	require.Contains(t, doc, "FreeLists")
	require.Contains(t, doc, "Blocks")
}

func TestReplayFailures(t *testing.T) {
	resetFlags()
	good := writeTrace(t, "a 0 8\nf 0\n")
	bad := writeTrace(t, "f 9\n")

	var out bytes.Buffer
	err := runReplay(&out, discardLogger(), []string{good, bad, filepath.Join(t.TempDir(), "missing.rep")})
	require.EqualError(t, err, "2 of 3 traces failed")
	require.Contains(t, out.String(), good+": 2 ops")

	replayHeap.arenaKind = "disk"
	require.Error(t, runReplay(&out, discardLogger(), []string{good}))
}
