package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// InvalidArgumentError is returned when a request is malformed: a fixed base address that is not
// aligned to the effective alignment, a zero-sized request, an unsupported range type, or an
// unusable device geometry. It is always detected before any state is modified.
var InvalidArgumentError error = errors.New("invalid argument")

// OutOfSpaceError is returned when no free range in the selected address space (including any
// fallback) can satisfy a request. It is always detected before any state is modified.
var OutOfSpaceError error = errors.New("out of virtual address space")

// OutOfMemoryError is returned when bookkeeping for a request could not be recorded, either
// because the hole set reached its node limit or because the allocation count limit was reached.
var OutOfMemoryError error = errors.New("out of memory")
