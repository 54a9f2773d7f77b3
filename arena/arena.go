// Package arena provides the byte sources that back an mmheap allocator. A Source only ever grows
// at its high end and never hands bytes back.
package arena

import "github.com/pkg/errors"

// Alignment is the granularity, in bytes, of every Grow request
const Alignment = 8

var (
	// ErrExhausted is returned by Grow when the source has no more bytes to hand out
	ErrExhausted = errors.New("arena exhausted")
	// ErrUnaligned is returned by Grow when the requested size is not a positive multiple of Alignment
	ErrUnaligned = errors.New("arena growth must be a positive multiple of the word size")
	// ErrUnsupported is returned when a source is not available on the current platform
	ErrUnsupported = errors.New("arena source unsupported on this platform")
)

//go:generate mockgen -source arena.go -destination mocks/source.go -package mocks

// Source is the growth service consumed by the allocator.
//
// Implementations must be synchronous and must not call back into the allocator.
type Source interface {
	// Grow appends exactly n bytes to the high end of the arena and returns the offset of the first
	// appended byte. On failure the arena is left unchanged.
	Grow(n int) (int, error)
	// Bounds returns the current [low, high) range of the arena as byte offsets
	Bounds() (low, high int)
	// Bytes returns a view of the whole arena. The view must be re-fetched after Grow, although
	// the sources in this package keep a stable base address so earlier views stay valid.
	Bytes() []byte
}
