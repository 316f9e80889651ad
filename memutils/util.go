package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uint32 | ~uint64
}

// CheckPow2 returns a PowerOfTwoError if number is not a power of two. Zero is rejected.
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two.
// The result wraps if value is within alignment of the type's maximum; use AlignUpChecked
// where that matters.
func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

// AlignUpChecked is AlignUp that reports false instead of wrapping around.
func AlignUpChecked(value uint64, alignment uint64) (uint64, bool) {
	aligned := AlignUp(value, alignment)
	if aligned < value {
		return 0, false
	}
	return aligned, true
}

func AlignDown[T Number](value T, alignment T) T {
	return value & ^(alignment - 1)
}

func Max[T Number](a, b T) T {
	if a > b {
		return a
	}
	return b
}

func Min[T Number](a, b T) T {
	if a < b {
		return a
	}
	return b
}
