package mmheap

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// CheckPow2 returns a wrapped PowerOfTwoError if number is not a positive power of two.
// name is used to identify the offending value in the error message.
func CheckPow2[T constraints.Integer](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// IsPow2 reports whether number is a positive power of two
func IsPow2[T constraints.Integer](number T) bool {
	return number > 0 && number&(number-1) == 0
}

// NextPow2 returns the smallest power of two greater than or equal to value. Values
// below 1 round up to 1.
func NextPow2(value int) int {
	if value <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(value-1))
}

// Log2 returns the index of the most significant set bit in value. value must be positive.
func Log2(value int) int {
	return bits.Len(uint(value)) - 1
}

func AlignUp[T constraints.Integer](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}
