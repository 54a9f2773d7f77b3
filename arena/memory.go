package arena

import (
	"github.com/cockroachdb/errors"
)

// DefaultMemoryLimit is the arena size limit used when NewMemory receives 0. It is equal to 20MB.
const DefaultMemoryLimit = 20 * 1024 * 1024

// Memory is a Source backed by an ordinary Go byte slice. The full limit is reserved up front so
// the base address never moves and payload slices handed out by the allocator remain valid as
// the arena grows.
type Memory struct {
	data  []byte
	limit int
}

var _ Source = &Memory{}

// NewMemory creates a Memory source that refuses to grow past limit bytes
func NewMemory(limit int) (*Memory, error) {
	if limit == 0 {
		limit = DefaultMemoryLimit
	}
	if limit < 0 || limit%Alignment != 0 {
		return nil, errors.Wrapf(ErrUnaligned, "memory arena limit %d", limit)
	}

	return &Memory{
		data:  make([]byte, 0, limit),
		limit: limit,
	}, nil
}

func (m *Memory) Grow(n int) (int, error) {
	if n <= 0 || n%Alignment != 0 {
		return 0, errors.Wrapf(ErrUnaligned, "requested %d bytes", n)
	}

	base := len(m.data)
	if n > m.limit-base {
		return 0, errors.Wrapf(ErrExhausted, "requested %d bytes with %d of %d in use", n, base, m.limit)
	}

	m.data = m.data[:base+n]
	return base, nil
}

func (m *Memory) Bounds() (int, int) {
	return 0, len(m.data)
}

func (m *Memory) Bytes() []byte {
	return m.data
}

// Limit returns the maximum number of bytes this source will hand out
func (m *Memory) Limit() int {
	return m.limit
}
