package vam

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Allocation is a range of device virtual address space handed out by a Space. It remembers
// which of the Space's partitions produced it, so that freeing it always returns the range to
// the right place.
//
// The Space must outlive every Allocation it produced. An Allocation must be freed only once;
// after Free, StartAddress reports 0 and freeing it again does nothing.
type Allocation struct {
	address   uint64
	size      uint64
	alignment uint64
	rangeType RangeType
	partition Partition
	flags     AllocationCreateFlags
	userData  any
	name      string

	parentSpace *Space
}

func (a *Allocation) init(
	space *Space,
	partition Partition,
	address, size, alignment uint64,
	rangeType RangeType,
	flags AllocationCreateFlags,
) {
	if a.parentSpace != nil {
		panic("attempting to init an allocation that has already been initialized")
	}

	a.parentSpace = space
	a.partition = partition
	a.address = address
	a.size = size
	a.alignment = alignment
	a.rangeType = rangeType
	a.flags = flags
}

func (a *Allocation) SetName(name string) {
	a.name = name
}

func (a *Allocation) SetUserData(userData any) {
	a.userData = userData
}

func (a *Allocation) UserData() any {
	return a.userData
}

func (a *Allocation) Name() string {
	return a.name
}

// StartAddress returns the first device address of the allocation
func (a *Allocation) StartAddress() uint64 { return a.address }

// Size returns the size of the allocation, rounded up to the partition's alignment
func (a *Allocation) Size() uint64 { return a.size }

// Alignment returns the effective alignment the start address satisfies
func (a *Allocation) Alignment() uint64            { return a.alignment }
func (a *Allocation) RangeType() RangeType         { return a.rangeType }
func (a *Allocation) Partition() Partition         { return a.partition }
func (a *Allocation) Flags() AllocationCreateFlags { return a.flags }

func (a *Allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("Address").String(fmt.Sprintf("0x%x", a.address))
	json.Name("Size").String(fmt.Sprintf("0x%x", a.size))
	json.Name("RangeType").String(a.rangeType.String())

	if a.flags != 0 {
		json.Name("Flags").String(a.flags.String())
	}

	if a.userData != nil {
		json.Name("CustomData").String(fmt.Sprintf("%+v", a.userData))
	}

	if a.name != "" {
		json.Name("Name").String(a.name)
	}
}

// Free returns the allocation's range to the Space that produced it
func (a *Allocation) Free() error {
	if a.parentSpace == nil {
		return nil
	}

	a.parentSpace.logger.Debug("Allocation::Free")

	return a.parentSpace.free(a)
}
