package vam

import "github.com/vkngwrapper/core/v2/common"

// AllocationCreateFlags select the partition an allocation is carved from and how it is placed
// within that partition.
type AllocationCreateFlags int32

var allocationCreateFlagsMapping = common.NewFlagStringMapping[AllocationCreateFlags]()

func (f AllocationCreateFlags) Register(str string) {
	allocationCreateFlagsMapping.Register(f, str)
}
func (f AllocationCreateFlags) String() string {
	return allocationCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocationCreateHigh requests an address from the high range of the device's address space.
	// If the device does not report a high range, the flag is ignored and the allocation comes
	// from the low range instead.
	AllocationCreateHigh AllocationCreateFlags = 1 << iota
	// AllocationCreate32Bit restricts the allocation to the 32-bit window at the start of the
	// selected range. Without this flag, an allocation that does not fit its primary partition
	// spills into the 32-bit partition of the same range.
	AllocationCreate32Bit
	// AllocationCreateReplayable places the allocation top-down, flush against the highest free
	// address that can hold it. It is meant for ranges that support GPU page-fault replay.
	AllocationCreateReplayable
)

func init() {
	AllocationCreateHigh.Register("AllocationCreateHigh")
	AllocationCreate32Bit.Register("AllocationCreate32Bit")
	AllocationCreateReplayable.Register("AllocationCreateReplayable")
}
