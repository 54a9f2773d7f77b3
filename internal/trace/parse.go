// Package trace reads allocation traces and replays them against an allocator.Allocator,
// checking payload integrity and heap consistency along the way.
//
// A trace is a text file with one operation per line:
//
//	a <id> <size>   allocate size bytes and remember the result as id
//	r <id> <size>   resize the allocation remembered as id
//	f <id>          free the allocation remembered as id
//
// Lines holding a single integer before the first operation are header lines and are skipped,
// as are blank lines and lines starting with '#'.
package trace

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	pkgerrors "github.com/pkg/errors"
)

// ErrMalformed is returned when a trace cannot be parsed or refers to ids inconsistently
var ErrMalformed = pkgerrors.New("malformed trace")

type OpKind byte

const (
	OpAllocate OpKind = 'a'
	OpResize   OpKind = 'r'
	OpFree     OpKind = 'f'
)

func (k OpKind) String() string {
	switch k {
	case OpAllocate:
		return "allocate"
	case OpResize:
		return "resize"
	case OpFree:
		return "free"
	}

	return "unknown"
}

// Op is a single trace operation. Size is unused for OpFree.
type Op struct {
	Kind OpKind
	ID   int
	Size int
	// Line is the 1-based line of the trace file the op was read from
	Line int
}

// Trace is a parsed sequence of operations
type Trace struct {
	Ops []Op
	// IDCount is one more than the largest id used by any op
	IDCount int
}

// Parse reads a whole trace from r
func Parse(r io.Reader) (*Trace, error) {
	trace := &Trace{}
	scanner := bufio.NewScanner(r)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(trace.Ops) == 0 && len(fields) == 1 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				continue
			}
		}

		op, err := parseOp(fields)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNumber)
		}
		op.Line = lineNumber

		if op.ID >= trace.IDCount {
			trace.IDCount = op.ID + 1
		}
		trace.Ops = append(trace.Ops, op)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read trace")
	}

	return trace, nil
}

func parseOp(fields []string) (Op, error) {
	if len(fields[0]) != 1 {
		return Op{}, errors.Wrapf(ErrMalformed, "unknown operation %q", fields[0])
	}

	op := Op{Kind: OpKind(fields[0][0])}

	expectedFields := 3
	switch op.Kind {
	case OpAllocate, OpResize:
	case OpFree:
		expectedFields = 2
	default:
		return Op{}, errors.Wrapf(ErrMalformed, "unknown operation %q", fields[0])
	}

	if len(fields) != expectedFields {
		return Op{}, errors.Wrapf(ErrMalformed, "%s takes %d fields but has %d", op.Kind, expectedFields, len(fields))
	}

	id, err := strconv.Atoi(fields[1])
	if err != nil || id < 0 {
		return Op{}, errors.Wrapf(ErrMalformed, "bad id %q", fields[1])
	}
	op.ID = id

	if op.Kind != OpFree {
		size, err := strconv.Atoi(fields[2])
		if err != nil || size < 0 {
			return Op{}, errors.Wrapf(ErrMalformed, "bad size %q", fields[2])
		}
		op.Size = size
	}

	return op, nil
}
