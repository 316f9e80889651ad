package vam

import (
	"fmt"
	"sync/atomic"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/gpuva/memutils"
	"github.com/vkngwrapper/gpuva/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Space manages the virtual address space of one device. It is split into four partitions, each
// with its own Manager and lock; choosing a partition reads only configuration fixed at creation,
// so the Space itself is never locked.
type Space struct {
	useMutex    bool
	logger      *slog.Logger
	createFlags CreateFlags
	geometry    DeviceGeometry
	callbacks   addressCallbacks

	maxAllocationCount int
	allocationCount    uint32

	managers [partitionCount]Manager
}

// TotalStatistics contains statistics for each partition of a Space and for the Space as a whole
type TotalStatistics struct {
	Partitions [partitionCount]memutils.DetailedStatistics
	Total      memutils.DetailedStatistics
}

// Geometry returns the address space layout the Space was created with
func (s *Space) Geometry() DeviceGeometry {
	return s.geometry
}

// Manager returns the Manager serving partition, or nil if partition is not valid
func (s *Space) Manager(partition Partition) *Manager {
	if int(partition) >= partitionCount {
		return nil
	}
	return &s.managers[partition]
}

// Allocate reserves a range of device virtual address space.
//
// size - The number of bytes to reserve. It is rounded up to the device alignment and must not be 0
//
// alignment - The minimum alignment of the returned address. The device alignment is used if it
// is larger
//
// fixedBase - If nonzero, the exact address the allocation must start at. It must be a multiple of
// the effective alignment, or memutils.InvalidArgumentError is returned
//
// rangeType - The logical range the allocation is for. It is recorded on the Allocation
//
// flags - Selects the partition and placement; see AllocationCreateFlags
//
// If the selected partition cannot satisfy the request and AllocationCreate32Bit was not
// requested, the 32-bit partition of the same range is tried as well. memutils.OutOfSpaceError
// is returned when neither has room.
func (s *Space) Allocate(size, alignment, fixedBase uint64, rangeType RangeType, flags AllocationCreateFlags) (*Allocation, error) {
	s.logger.Debug("Space::Allocate",
		slog.String("Size", fmt.Sprintf("0x%x", size)),
		slog.String("Alignment", fmt.Sprintf("0x%x", alignment)),
		slog.String("FixedBase", fmt.Sprintf("0x%x", fixedBase)),
		slog.String("RangeType", rangeType.String()),
		slog.String("Flags", flags.String()),
	)

	if flags&AllocationCreateHigh != 0 && !s.managers[PartitionHigh32].IsInitialized() {
		flags &^= AllocationCreateHigh
	}

	strategy := metadata.PlacementBottomUp
	if flags&AllocationCreateReplayable != 0 {
		strategy = metadata.PlacementTopDown
	}

	var handleFailed bool
	createAllocation := func(partition Partition, address, size, alignment uint64) (*Allocation, error) {
		if !s.reserveAllocationSlot() {
			handleFailed = true
			return nil, cerrors.Wrapf(memutils.OutOfMemoryError, "the limit of %d live allocations has been reached", s.maxAllocationCount)
		}

		alloc := &Allocation{}
		alloc.init(s, partition, address, size, alignment, rangeType, flags)
		return alloc, nil
	}

	partition := selectPartition(flags)
	alloc, err := s.managers[partition].allocate(size, alignment, fixedBase, strategy, createAllocation)
	if err != nil && !handleFailed && flags&AllocationCreate32Bit == 0 {
		s.logger.Debug("  Falling back to 32-bit partition", slog.String("Partition", partition.String()), slog.Any("error", err))

		partition = fallbackPartition(flags)
		alloc, err = s.managers[partition].allocate(size, alignment, fixedBase, strategy, createAllocation)
	}

	if err != nil {
		s.logger.Debug("  Allocate FAILED", slog.Any("error", err))
		return nil, err
	}

	s.callbacks.Allocate(alloc.partition, alloc.address, alloc.size)
	return alloc, nil
}

func (s *Space) reserveAllocationSlot() bool {
	newCount := atomic.AddUint32(&s.allocationCount, 1)
	if s.maxAllocationCount > 0 && int(newCount) > s.maxAllocationCount {
		atomic.AddUint32(&s.allocationCount, ^uint32(0))
		return false
	}

	return true
}

// Free returns an allocation's range to the partition that produced it. A nil allocation, or one
// whose address is 0, is ignored. Free never fails: problems returning the range are logged.
func (s *Space) Free(alloc *Allocation) error {
	s.logger.Debug("Space::Free")

	return s.free(alloc)
}

func (s *Space) free(alloc *Allocation) error {
	if alloc == nil || alloc.address == 0 {
		return nil
	}

	if alloc.parentSpace != s {
		s.logger.Error("attempted to free an allocation that belongs to a different address space",
			slog.String("Address", fmt.Sprintf("0x%x", alloc.address)))
		return nil
	}

	manager := s.Manager(alloc.partition)
	if manager == nil {
		panic(fmt.Sprintf("allocation at 0x%x refers to an invalid partition: %s", alloc.address, alloc.partition))
	}

	err := manager.free(alloc)
	if err != nil {
		s.logger.Error("failed to free allocation", slog.Any("error", err))
		return nil
	}

	atomic.AddUint32(&s.allocationCount, ^uint32(0))
	s.callbacks.Free(alloc.partition, alloc.address, alloc.size)

	alloc.address = 0
	return nil
}

// QueryBounds returns the device's bounds for rangeType as [start, end). Only RangeTypeGeneral
// is supported; any other range type fails with memutils.InvalidArgumentError.
func (s *Space) QueryBounds(rangeType RangeType) (start, end uint64, err error) {
	s.logger.Debug("Space::QueryBounds", slog.String("RangeType", rangeType.String()))

	if rangeType != RangeTypeGeneral {
		return 0, 0, cerrors.Wrapf(memutils.InvalidArgumentError, "unsupported range type: %s", rangeType)
	}

	return s.geometry.LowStart, s.geometry.LowMax, nil
}

// LookupAllocation finds the live allocation that starts at address
func (s *Space) LookupAllocation(address uint64) (*Allocation, bool) {
	for i := range s.managers {
		alloc, ok := s.managers[i].lookup(address)
		if ok {
			return alloc, true
		}
	}

	return nil, false
}

// AllocationCount returns the number of live allocations across every partition
func (s *Space) AllocationCount() int {
	return int(atomic.LoadUint32(&s.allocationCount))
}

func (s *Space) Validate() error {
	registered := 0
	for i := range s.managers {
		err := s.managers[i].Validate()
		if err != nil {
			return err
		}
		registered += s.managers[i].AllocationCount()
	}

	if registered != s.AllocationCount() {
		return errors.Errorf("the address space counts %d live allocations, but its partitions hold %d", s.AllocationCount(), registered)
	}

	return nil
}

func (s *Space) CalculateStatistics(stats *TotalStatistics) {
	s.logger.Debug("Space::CalculateStatistics")

	stats.Total.Clear()
	for i := range s.managers {
		stats.Partitions[i].Clear()
		s.managers[i].AddDetailedStatistics(&stats.Partitions[i])
		stats.Total.AddDetailedStatistics(&stats.Partitions[i])
	}
}

// BuildStatsString returns a JSON document describing the Space. If detailedMap is true, every
// free range and live allocation is listed as well.
func (s *Space) BuildStatsString(detailedMap bool) string {
	s.logger.Debug("Space::BuildStatsString")

	var stats TotalStatistics
	s.CalculateStatistics(&stats)

	writer := jwriter.NewWriter()
	root := writer.Object()

	general := root.Name("General").Object()
	general.Name("Flags").String(s.createFlags.String())
	geometry := general.Name("Geometry").Object()
	s.geometry.writeJson(geometry)
	geometry.End()
	general.End()

	writeDetailedStatistics(root.Name("Total").Object(), &stats.Total)

	partitions := root.Name("Partitions").Object()
	for i := range s.managers {
		obj := partitions.Name(s.managers[i].partition.String()).Object()
		s.managers[i].BuildStatsString(obj, detailedMap)
		obj.End()
	}
	partitions.End()

	root.End()
	return string(writer.Bytes())
}

func writeDetailedStatistics(json jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	defer json.End()

	json.Name("RangeCount").Int(stats.RangeCount)
	json.Name("RangeBytes").String(fmt.Sprintf("0x%x", stats.RangeBytes))
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").String(fmt.Sprintf("0x%x", stats.AllocationBytes))
	json.Name("HoleCount").Int(stats.HoleCount)
	json.Name("HoleBytes").String(fmt.Sprintf("0x%x", stats.HoleBytes))

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").String(fmt.Sprintf("0x%x", stats.AllocationSizeMin))
		json.Name("AllocationSizeMax").String(fmt.Sprintf("0x%x", stats.AllocationSizeMax))
	}

	if stats.HoleCount > 0 {
		json.Name("HoleSizeMin").String(fmt.Sprintf("0x%x", stats.HoleSizeMin))
		json.Name("HoleSizeMax").String(fmt.Sprintf("0x%x", stats.HoleSizeMax))
	}
}

// Destroy drops every partition's free space. It fails, changing nothing, while any allocation
// is still live; the unfreed allocations are logged.
func (s *Space) Destroy() error {
	s.logger.Debug("Space::Destroy")

	live := 0
	for i := range s.managers {
		count := s.managers[i].AllocationCount()
		if count > 0 {
			for _, alloc := range s.managers[i].allocations.sortedAllocations() {
				s.managers[i].logUnreleasedAddress(alloc)
			}
		}
		live += count
	}

	if live > 0 {
		return errors.Errorf("the address space still has %d allocations that remain unfreed", live)
	}

	for i := range s.managers {
		err := s.managers[i].destroy()
		if err != nil {
			return err
		}
	}

	return nil
}
