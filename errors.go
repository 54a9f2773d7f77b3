package mmheap

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

var (
	// ErrOutOfMemory is returned when no free block can satisfy a request and the arena could not be grown
	ErrOutOfMemory = errors.New("out of memory")
	// ErrInvalidPointer is returned when a pointer does not address a block payload inside the heap
	ErrInvalidPointer = errors.New("pointer does not reference a heap block")
	// ErrInvalidSize is returned when a requested size is negative
	ErrInvalidSize = errors.New("invalid allocation size")
)
