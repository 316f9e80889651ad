package metadata

// AllocationRequestType is an enum that indicates how an AllocationRequest's offset was chosen.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestFixed indicates that the consumer demanded an exact base address
	AllocationRequestFixed AllocationRequestType = iota
	// AllocationRequestBottomUp indicates that the offset was found by PlacementBottomUp
	AllocationRequestBottomUp
	// AllocationRequestTopDown indicates that the offset was found by PlacementTopDown
	AllocationRequestTopDown
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestFixed:    "Fixed",
	AllocationRequestBottomUp: "BottomUp",
	AllocationRequestTopDown:  "TopDown",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from RangeMetadata.CreateAllocationRequest which indicates where
// the metadata intends to carve a new allocation. Creating the request does not modify the metadata;
// it is committed with RangeMetadata.Alloc.
type AllocationRequest struct {
	// Hole is the free range the allocation will be carved from, as it was when the request was created
	Hole Hole
	// Offset is the chosen start address of the allocation
	Offset uint64
	// Size is the total size of the allocation, rounded up to the metadata's alignment
	Size uint64
	// Alignment is the effective alignment the offset satisfies
	Alignment uint64
	// Type identifies how Offset was chosen
	Type AllocationRequestType
}

// splitsHole reports whether committing the request leaves free space on both sides of the
// allocation, which requires one additional hole.
func (r AllocationRequest) splitsHole() bool {
	return r.Offset > r.Hole.Offset && r.Offset+r.Size < r.Hole.End()
}
