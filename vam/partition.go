package vam

import "fmt"

// Partition identifies one of the four independently managed ranges of a Space.
type Partition byte

const (
	// PartitionLow is the low range above the 32-bit boundary
	PartitionLow Partition = iota
	// PartitionLow32 is the low range below the 32-bit boundary
	PartitionLow32
	// PartitionHigh is the high range above its first 4GiB window
	PartitionHigh
	// PartitionHigh32 is the first 4GiB window of the high range
	PartitionHigh32

	partitionCount = 4
)

var partitionMapping = make(map[Partition]string)

func (p Partition) String() string {
	str, ok := partitionMapping[p]
	if !ok {
		return fmt.Sprintf("Partition(%d)", byte(p))
	}
	return str
}

func init() {
	partitionMapping[PartitionLow] = "PartitionLow"
	partitionMapping[PartitionLow32] = "PartitionLow32"
	partitionMapping[PartitionHigh] = "PartitionHigh"
	partitionMapping[PartitionHigh32] = "PartitionHigh32"
}

// selectPartition maps allocation flags to the partition that should be tried first
func selectPartition(flags AllocationCreateFlags) Partition {
	high := flags&AllocationCreateHigh != 0
	restricted := flags&AllocationCreate32Bit != 0

	switch {
	case high && restricted:
		return PartitionHigh32
	case high:
		return PartitionHigh
	case restricted:
		return PartitionLow32
	default:
		return PartitionLow
	}
}

// fallbackPartition returns the 32-bit sibling that an unrestricted allocation spills into
func fallbackPartition(flags AllocationCreateFlags) Partition {
	if flags&AllocationCreateHigh != 0 {
		return PartitionHigh32
	}
	return PartitionLow32
}

// RangeType tags the logical address range an allocation was requested for. It is carried on
// the Allocation but does not influence which partition serves it.
type RangeType uint32

const (
	// RangeTypeGeneral is the device's general-purpose address range
	RangeTypeGeneral RangeType = iota
)

var rangeTypeMapping = map[RangeType]string{
	RangeTypeGeneral: "RangeTypeGeneral",
}

func (t RangeType) String() string {
	str, ok := rangeTypeMapping[t]
	if !ok {
		return fmt.Sprintf("RangeType(%d)", uint32(t))
	}
	return str
}
