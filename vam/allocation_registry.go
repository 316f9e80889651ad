package vam

import (
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/gpuva/memutils"
	"github.com/vkngwrapper/gpuva/vam/internal/utils"
	"golang.org/x/exp/slices"
)

// allocationRegistry indexes the live allocations of one Manager by start address
type allocationRegistry struct {
	mutex utils.OptionalRWMutex

	totalBytes  uint64
	allocations *swiss.Map[uint64, *Allocation]
}

func (r *allocationRegistry) Init(useMutex bool) {
	r.mutex = utils.NewOptionalRWMutex(useMutex)
	r.totalBytes = 0
	r.allocations = swiss.NewMap[uint64, *Allocation](42)
}

func (r *allocationRegistry) Validate() error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var actualBytes uint64
	var err error
	r.allocations.Iter(func(address uint64, alloc *Allocation) bool {
		if alloc.address != address {
			err = errors.Errorf("allocation registered at 0x%x reports address 0x%x", address, alloc.address)
			return true
		}
		actualBytes += alloc.size
		return false
	})
	if err != nil {
		return err
	}

	if actualBytes != r.totalBytes {
		return errors.Errorf("the registry claims 0x%x allocated bytes, but its allocations add up to 0x%x", r.totalBytes, actualBytes)
	}

	return nil
}

func (r *allocationRegistry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.allocations.Count()
}

func (r *allocationRegistry) TotalBytes() uint64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.totalBytes
}

func (r *allocationRegistry) IsEmpty() bool {
	return r.Count() == 0
}

func (r *allocationRegistry) AddStatistics(stats *memutils.Statistics) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats.AllocationCount += r.allocations.Count()
	stats.AllocationBytes += r.totalBytes
}

func (r *allocationRegistry) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	r.allocations.Iter(func(_ uint64, alloc *Allocation) bool {
		stats.AddAllocation(alloc.size)
		return false
	})
}

func (r *allocationRegistry) Register(alloc *Allocation) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.allocations.Has(alloc.address) {
		return errors.Errorf("an allocation at 0x%x is already registered", alloc.address)
	}

	r.allocations.Put(alloc.address, alloc)
	r.totalBytes += alloc.size
	return nil
}

func (r *allocationRegistry) Unregister(alloc *Allocation) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	registered, ok := r.allocations.Get(alloc.address)
	if !ok || registered != alloc {
		return false
	}

	r.allocations.Delete(alloc.address)
	r.totalBytes -= alloc.size
	return true
}

func (r *allocationRegistry) Lookup(address uint64) (*Allocation, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.allocations.Get(address)
}

// sortedAllocations returns every live allocation in ascending address order
func (r *allocationRegistry) sortedAllocations() []*Allocation {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	addresses := make([]uint64, 0, r.allocations.Count())
	r.allocations.Iter(func(address uint64, _ *Allocation) bool {
		addresses = append(addresses, address)
		return false
	})
	slices.Sort(addresses)

	allocs := make([]*Allocation, 0, len(addresses))
	for _, address := range addresses {
		alloc, _ := r.allocations.Get(address)
		allocs = append(allocs, alloc)
	}

	return allocs
}

func (r *allocationRegistry) BuildStatsString(json jwriter.ObjectState) {
	arrayState := json.Name("Allocations").Array()
	defer arrayState.End()

	for _, alloc := range r.sortedAllocations() {
		o := arrayState.Object()
		alloc.printParameters(&o)
		o.End()
	}
}
