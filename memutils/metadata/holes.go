package metadata

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/gpuva/memutils"
)

const holeTreeDegree = 16

// HoleList is a RangeMetadata that keeps its free ranges in a btree ordered by offset.
//
// A HoleList can be bounded with a hole limit. The limit stands in for the node allocations a
// hand-linked hole list would perform: splitting a hole or recording an isolated released range
// both need a new node, and when the limit has been reached those operations fail exactly the way
// an out-of-memory node allocation would.
type HoleList struct {
	start     uint64
	max       uint64
	alignment uint64
	maxHoles  int

	sumFreeSize uint64
	leakedBytes uint64
	holes       *btree.BTreeG[Hole]
}

var _ RangeMetadata = &HoleList{}

// NewHoleList creates a HoleList that rounds every allocation to alignment, which must be a power
// of two. maxHoles limits the number of holes the list will track; 0 means no limit.
func NewHoleList(alignment uint64, maxHoles int) *HoleList {
	memutils.DebugCheckPow2(alignment, "alignment")

	return &HoleList{
		alignment: alignment,
		maxHoles:  maxHoles,
		holes:     btree.NewG[Hole](holeTreeDegree, holeLess),
	}
}

func (l *HoleList) Init(start, max uint64) {
	l.start = start
	l.max = max
	l.sumFreeSize = 0
	l.leakedBytes = 0
	l.holes.Clear(false)

	if max > start {
		l.holes.ReplaceOrInsert(Hole{Offset: start, Size: max - start})
		l.sumFreeSize = max - start
	}
}

func (l *HoleList) Clear() {
	l.holes.Clear(false)
	l.sumFreeSize = 0
}

func (l *HoleList) Start() uint64       { return l.start }
func (l *HoleList) Max() uint64         { return l.max }
func (l *HoleList) Alignment() uint64   { return l.alignment }
func (l *HoleList) HoleCount() int      { return l.holes.Len() }
func (l *HoleList) SumFreeSize() uint64 { return l.sumFreeSize }
func (l *HoleList) LeakedBytes() uint64 { return l.leakedBytes }
func (l *HoleList) IsEmpty() bool       { return l.holes.Len() == 0 }

func (l *HoleList) atHoleLimit() bool {
	return l.maxHoles > 0 && l.holes.Len() >= l.maxHoles
}

func (l *HoleList) Validate() error {
	var err error
	var prev Hole
	var sum uint64
	first := true

	l.holes.Ascend(func(hole Hole) bool {
		if hole.Size == 0 {
			err = errors.Errorf("hole at offset 0x%x is empty", hole.Offset)
			return false
		}

		if hole.Offset < l.start || hole.End() > l.max || hole.End() < hole.Offset {
			err = errors.Errorf("hole %s lies outside of the managed range [0x%x, 0x%x)", hole, l.start, l.max)
			return false
		}

		if !first {
			if prev.End() > hole.Offset {
				err = errors.Errorf("hole %s overlaps hole %s", prev, hole)
				return false
			}

			if prev.End() == hole.Offset {
				err = errors.Errorf("hole %s is adjacent to hole %s but they were not merged", prev, hole)
				return false
			}
		}

		sum += hole.Size
		prev = hole
		first = false
		return true
	})
	if err != nil {
		return err
	}

	if sum != l.sumFreeSize {
		return errors.Errorf("the free size of the metadata is 0x%x, but the holes only added up to 0x%x", l.sumFreeSize, sum)
	}

	if l.sumFreeSize+l.leakedBytes > l.max-l.start && l.max > l.start {
		return errors.Errorf("the metadata reports 0x%x free and 0x%x leaked bytes, more than the 0x%x bytes it manages", l.sumFreeSize, l.leakedBytes, l.max-l.start)
	}

	return nil
}

func (l *HoleList) CreateAllocationRequest(size, alignment, fixedBase uint64, strategy PlacementStrategy) (AllocationRequest, error) {
	var request AllocationRequest

	if size == 0 {
		return request, cerrors.Wrap(memutils.InvalidArgumentError, "allocation size must be nonzero")
	}

	alignment = memutils.Max(alignment, l.alignment)

	alignedSize, ok := memutils.AlignUpChecked(size, l.alignment)
	if !ok {
		return request, cerrors.Wrapf(memutils.OutOfSpaceError, "allocation size 0x%x cannot be aligned", size)
	}
	size = alignedSize

	if fixedBase%alignment != 0 {
		return request, cerrors.Wrapf(memutils.InvalidArgumentError, "fixed base address 0x%x is not aligned to 0x%x", fixedBase, alignment)
	}

	memutils.DebugValidate(l)

	// Is there enough space at all?
	if size > l.sumFreeSize {
		return request, cerrors.Wrapf(memutils.OutOfSpaceError, "0x%x bytes requested but only 0x%x are free", size, l.sumFreeSize)
	}

	request.Size = size
	request.Alignment = alignment
	found := false

	if fixedBase != 0 {
		request.Type = AllocationRequestFixed

		// Only the hole starting at or below the base can contain it
		l.holes.DescendLessOrEqual(Hole{Offset: fixedBase}, func(hole Hole) bool {
			if hole.Contains(fixedBase, size) {
				request.Hole = hole
				request.Offset = fixedBase
				found = true
			}
			return false
		})
	} else if strategy == PlacementTopDown {
		request.Type = AllocationRequestTopDown

		l.holes.Descend(func(hole Hole) bool {
			if size > hole.Size {
				return true
			}

			offset := hole.End() - size
			offset -= offset % alignment
			if offset < hole.Offset {
				return true
			}

			request.Hole = hole
			request.Offset = offset
			found = true
			return false
		})
	} else {
		request.Type = AllocationRequestBottomUp

		l.holes.Ascend(func(hole Hole) bool {
			waste := hole.Offset % alignment
			if waste != 0 {
				waste = alignment - waste
			}

			offset := hole.Offset + waste
			if offset < hole.Offset || offset >= hole.End() || size > hole.End()-offset {
				return true
			}

			request.Hole = hole
			request.Offset = offset
			found = true
			return false
		})
	}

	if !found {
		if fixedBase != 0 {
			return request, cerrors.Wrapf(memutils.OutOfSpaceError, "no hole contains [0x%x, 0x%x)", fixedBase, fixedBase+size)
		}
		return request, cerrors.Wrapf(memutils.OutOfSpaceError, "no hole fits 0x%x bytes aligned to 0x%x", size, alignment)
	}

	return request, nil
}

func (l *HoleList) Alloc(request AllocationRequest) error {
	hole, ok := l.holes.Get(request.Hole)
	if !ok || hole != request.Hole {
		return errors.Errorf("allocation request refers to hole %s, which no longer exists", request.Hole)
	}

	if request.Size == 0 || !hole.Contains(request.Offset, request.Size) {
		return errors.Errorf("allocation request [0x%x, 0x%x) does not fit within hole %s", request.Offset, request.Offset+request.Size, hole)
	}

	if request.splitsHole() && l.atHoleLimit() {
		return cerrors.Wrapf(memutils.OutOfMemoryError, "splitting hole %s would exceed the limit of %d holes", hole, l.maxHoles)
	}

	l.subtract(hole, request.Offset, request.Offset+request.Size)
	return nil
}

// subtract removes [start, end) from hole. The caller guarantees that the range lies within the
// hole and, for an interior cut, that the hole limit has room for one more hole.
func (l *HoleList) subtract(hole Hole, start, end uint64) {
	holeEnd := hole.End()

	switch {
	case start > hole.Offset && end < holeEnd:
		// Interior cut: the lower remainder keeps the hole's key, the upper remainder is new
		l.holes.ReplaceOrInsert(Hole{Offset: hole.Offset, Size: start - hole.Offset})
		l.holes.ReplaceOrInsert(Hole{Offset: end, Size: holeEnd - end})
	case start > hole.Offset:
		l.holes.ReplaceOrInsert(Hole{Offset: hole.Offset, Size: start - hole.Offset})
	case end < holeEnd:
		l.holes.Delete(hole)
		l.holes.ReplaceOrInsert(Hole{Offset: end, Size: holeEnd - end})
	default:
		l.holes.Delete(hole)
	}

	l.sumFreeSize -= end - start
}

func (l *HoleList) Find(size, alignment, fixedBase uint64, strategy PlacementStrategy) (uint64, error) {
	request, err := l.CreateAllocationRequest(size, alignment, fixedBase, strategy)
	if err != nil {
		return 0, err
	}

	err = l.Alloc(request)
	if err != nil {
		return 0, err
	}

	return request.Offset, nil
}

func (l *HoleList) Release(offset, size uint64) error {
	if offset == InvalidAddress || size == 0 {
		return nil
	}

	alignedSize, ok := memutils.AlignUpChecked(size, l.alignment)
	if !ok || offset+alignedSize < offset {
		return cerrors.Wrapf(memutils.InvalidArgumentError, "released range at 0x%x with size 0x%x overflows the address space", offset, size)
	}
	size = alignedSize
	end := offset + size

	var lower, upper Hole
	var hasLower, hasUpper bool

	l.holes.DescendLessOrEqual(Hole{Offset: offset}, func(hole Hole) bool {
		lower = hole
		hasLower = true
		return false
	})
	l.holes.AscendGreaterOrEqual(Hole{Offset: offset}, func(hole Hole) bool {
		if hole.Offset == offset {
			return true
		}
		upper = hole
		hasUpper = true
		return false
	})

	switch {
	case hasLower && lower.End() == offset:
		// Grow the lower hole, then absorb the upper hole if the gap is now closed
		grown := Hole{Offset: lower.Offset, Size: lower.Size + size}
		if hasUpper && upper.Offset == grown.End() {
			grown.Size += upper.Size
			l.holes.Delete(upper)
		}
		l.holes.ReplaceOrInsert(grown)
	case hasUpper && upper.Offset == end:
		l.holes.Delete(upper)
		l.holes.ReplaceOrInsert(Hole{Offset: offset, Size: upper.Size + size})
	default:
		if l.atHoleLimit() {
			l.leakedBytes += size
			return cerrors.Wrapf(memutils.OutOfMemoryError, "could not record released range [0x%x, 0x%x): limit of %d holes reached", offset, end, l.maxHoles)
		}
		l.holes.ReplaceOrInsert(Hole{Offset: offset, Size: size})
	}

	l.sumFreeSize += size
	return nil
}

func (l *HoleList) VisitHoles(handleHole func(offset, size uint64) error) error {
	var err error
	l.holes.Ascend(func(hole Hole) bool {
		err = handleHole(hole.Offset, hole.Size)
		return err == nil
	})

	return err
}

func (l *HoleList) Holes() []Hole {
	holes := make([]Hole, 0, l.holes.Len())
	l.holes.Ascend(func(hole Hole) bool {
		holes = append(holes, hole)
		return true
	})

	return holes
}

func (l *HoleList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	l.AddStatistics(&stats.Statistics)

	l.holes.Ascend(func(hole Hole) bool {
		stats.AddHole(hole.Size)
		return true
	})
}

func (l *HoleList) AddStatistics(stats *memutils.Statistics) {
	stats.RangeCount++
	if l.max > l.start {
		stats.RangeBytes += l.max - l.start
	}
}

func (l *HoleList) WriteJson(json jwriter.ObjectState) {
	json.Name("Start").String(fmt.Sprintf("0x%x", l.start))
	json.Name("End").String(fmt.Sprintf("0x%x", l.max))
	json.Name("Alignment").String(fmt.Sprintf("0x%x", l.alignment))
	json.Name("FreeBytes").String(fmt.Sprintf("0x%x", l.sumFreeSize))
	json.Name("LeakedBytes").String(fmt.Sprintf("0x%x", l.leakedBytes))

	arrayState := json.Name("Holes").Array()
	defer arrayState.End()

	l.holes.Ascend(func(hole Hole) bool {
		obj := arrayState.Object()
		obj.Name("Offset").String(fmt.Sprintf("0x%x", hole.Offset))
		obj.Name("Size").String(fmt.Sprintf("0x%x", hole.Size))
		obj.End()
		return true
	})
}
