//go:build unix

package arena

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmheap"
	"golang.org/x/sys/unix"
)

// Mapped is a Source backed by an anonymous memory mapping. The whole reservation is mapped
// PROT_NONE when the source is created, and Grow commits pages with mprotect as the arena
// high-water mark passes them. Pages are never decommitted.
type Mapped struct {
	region    []byte
	high      int
	committed int
	pageSize  int
}

var _ Source = &Mapped{}

// NewMapped reserves reserve bytes of address space, rounded up to the page size. Close must be
// called to release the mapping.
func NewMapped(reserve int) (*Mapped, error) {
	if reserve <= 0 {
		return nil, errors.Wrapf(ErrUnaligned, "mapped arena reservation %d", reserve)
	}

	pageSize := unix.Getpagesize()
	reserve = mmheap.AlignUp(reserve, pageSize)

	region, err := unix.Mmap(-1, 0, reserve, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %d bytes", reserve)
	}

	return &Mapped{
		region:   region,
		pageSize: pageSize,
	}, nil
}

func (m *Mapped) Grow(n int) (int, error) {
	if m.region == nil {
		return 0, errors.New("mapped arena has been closed")
	}
	if n <= 0 || n%Alignment != 0 {
		return 0, errors.Wrapf(ErrUnaligned, "requested %d bytes", n)
	}

	base := m.high
	if n > len(m.region)-base {
		return 0, errors.Wrapf(ErrExhausted, "requested %d bytes with %d of %d reserved in use", n, base, len(m.region))
	}

	newHigh := base + n
	if newHigh > m.committed {
		newCommitted := mmheap.AlignUp(newHigh, m.pageSize)
		err := unix.Mprotect(m.region[m.committed:newCommitted], unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to commit pages [%d, %d)", m.committed, newCommitted)
		}
		m.committed = newCommitted
	}

	m.high = newHigh
	return base, nil
}

func (m *Mapped) Bounds() (int, int) {
	return 0, m.high
}

func (m *Mapped) Bytes() []byte {
	return m.region[:m.high]
}

// Committed returns the number of bytes currently backed by readable and writable pages
func (m *Mapped) Committed() int {
	return m.committed
}

// Close unmaps the reservation. Every slice previously returned by Bytes becomes invalid.
func (m *Mapped) Close() error {
	if m.region == nil {
		return nil
	}

	err := unix.Munmap(m.region)
	m.region = nil
	m.high = 0
	m.committed = 0
	return err
}
