package metadata

import (
	"fmt"
	"math"
)

// InvalidAddress is the sentinel address meaning "nothing to release". Passing it to
// RangeMetadata.Release is a silent no-op.
const InvalidAddress uint64 = math.MaxUint64

// Hole is one maximal free range of address space, [Offset, Offset+Size).
type Hole struct {
	Offset uint64
	Size   uint64
}

// End returns the exclusive upper bound of the hole.
func (h Hole) End() uint64 {
	return h.Offset + h.Size
}

// Contains reports whether [offset, offset+size) lies entirely within the hole.
func (h Hole) Contains(offset, size uint64) bool {
	end := offset + size
	return offset >= h.Offset && end >= offset && end <= h.End()
}

func (h Hole) String() string {
	return fmt.Sprintf("[0x%x, 0x%x)", h.Offset, h.End())
}

func holeLess(a, b Hole) bool {
	return a.Offset < b.Offset
}
