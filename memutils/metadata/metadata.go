package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gpuva/memutils"
)

// RangeMetadata tracks the free space of one contiguous range of virtual address space. It
// answers "where can an allocation of this size and alignment go" and takes ranges back when they
// are released, coalescing neighbouring free space.
//
// RangeMetadata implementations are not synchronized. Consumers that share one between goroutines
// must hold a lock across CreateAllocationRequest and Alloc so that the request cannot be
// invalidated in between.
type RangeMetadata interface {
	// Init must be called before the RangeMetadata is used. The managed range is [start, max). When
	// max <= start the range is empty and every allocation request fails with memutils.OutOfSpaceError.
	Init(start, max uint64)
	// Clear drops all free space bookkeeping. After Clear, the metadata reports no free space until
	// Init is called again. Calling Clear more than once is harmless.
	Clear()

	// Start returns the inclusive lower bound of the managed range
	Start() uint64
	// Max returns the exclusive upper bound of the managed range
	Max() uint64
	// Alignment returns the base alignment that every allocation offset and size is rounded to
	Alignment() uint64

	// Validate performs internal consistency checks on the metadata: holes must be non-empty,
	// sorted, disjoint, not adjacent to one another, within bounds, and must add up to SumFreeSize.
	// When the implementation is functioning correctly, it should not be possible for this method
	// to return an error.
	Validate() error
	// HoleCount returns the number of disjoint free ranges currently tracked
	HoleCount() int
	// SumFreeSize returns the number of free bytes across all holes
	SumFreeSize() uint64
	// LeakedBytes returns the number of bytes that were released but could not be recorded
	// because the hole limit was reached. Those bytes are permanently unavailable.
	LeakedBytes() uint64
	// IsEmpty returns true if there is no free space at all
	IsEmpty() bool

	// CreateAllocationRequest retrieves an AllocationRequest indicating where the metadata would place
	// the requested allocation. It does not modify the metadata.
	//
	// size - the size in bytes of the requested allocation. It is rounded up to Alignment().
	// alignment - the minimum alignment of the allocation. The effective alignment is the larger of
	// this value and Alignment().
	// fixedBase - if nonzero, the allocation must start at exactly this address. It must be a multiple
	// of the effective alignment or memutils.InvalidArgumentError is returned.
	// strategy - which end of the free space to pack the allocation against. Ignored when fixedBase
	// is nonzero.
	//
	// memutils.OutOfSpaceError is returned when no hole can satisfy the request.
	CreateAllocationRequest(size, alignment, fixedBase uint64, strategy PlacementStrategy) (AllocationRequest, error)
	// Alloc commits an AllocationRequest, removing its range from the free space. Every failure is
	// detected before anything is modified: if the request no longer matches a hole an error is
	// returned, and if the commit would need a new hole beyond the hole limit
	// memutils.OutOfMemoryError is returned.
	Alloc(request AllocationRequest) error
	// Find is CreateAllocationRequest followed by Alloc. It returns the offset only when the commit
	// succeeded.
	Find(size, alignment, fixedBase uint64, strategy PlacementStrategy) (uint64, error)
	// Release returns [offset, offset+size) to the free space, merging it with adjacent holes. size
	// is rounded up to Alignment(). An offset of InvalidAddress is ignored. If the range needs a hole
	// of its own and the hole limit has been reached, the range is leaked and
	// memutils.OutOfMemoryError is returned; the metadata stays consistent.
	Release(offset, size uint64) error

	// VisitHoles calls the provided callback once for each hole in ascending address order, stopping
	// at the first error.
	VisitHoles(handleHole func(offset, size uint64) error) error
	// Holes returns a snapshot of every hole in ascending address order
	Holes() []Hole

	// AddDetailedStatistics sums this range's hole statistics into the provided
	// memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this range's extent into the provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)
	// WriteJson populates a json object with information about this range and its holes
	WriteJson(json jwriter.ObjectState)
}
