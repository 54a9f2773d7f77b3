//go:build !unix

package arena

// Mapped is only available on unix platforms
type Mapped struct{}

var _ Source = &Mapped{}

// NewMapped always fails with ErrUnsupported on this platform
func NewMapped(reserve int) (*Mapped, error) {
	return nil, ErrUnsupported
}

func (m *Mapped) Grow(n int) (int, error) { return 0, ErrUnsupported }
func (m *Mapped) Bounds() (int, int)      { return 0, 0 }
func (m *Mapped) Bytes() []byte           { return nil }
func (m *Mapped) Committed() int          { return 0 }
func (m *Mapped) Close() error            { return nil }
