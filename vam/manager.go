package vam

import (
	"context"
	"fmt"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/gpuva/memutils"
	"github.com/vkngwrapper/gpuva/memutils/metadata"
	"github.com/vkngwrapper/gpuva/vam/internal/utils"
	"golang.org/x/exp/slog"
)

// Manager owns the free space of one Partition of a Space. Every search-and-carve and every
// release happens under the Manager's own lock; Managers of the same Space never share a lock.
type Manager struct {
	logger    *slog.Logger
	partition Partition

	mutex       utils.OptionalRWMutex
	metadata    metadata.RangeMetadata
	allocations allocationRegistry
}

func (m *Manager) Init(
	logger *slog.Logger,
	useMutex bool,
	partition Partition,
	start, max uint64,
	alignment uint64,
	maxHoleCount int,
) {
	if m.metadata != nil {
		panic("attempting to initialize an address manager that is already in use")
	}

	m.logger = logger
	m.partition = partition
	m.mutex = utils.NewOptionalRWMutex(useMutex)
	m.allocations.Init(useMutex)

	m.metadata = metadata.NewHoleList(alignment, maxHoleCount)
	m.metadata.Init(start, max)

	m.logger.Debug("Manager::Init",
		slog.String("Partition", partition.String()),
		slog.String("Start", fmt.Sprintf("0x%x", start)),
		slog.String("Max", fmt.Sprintf("0x%x", max)),
	)
}

func (m *Manager) Partition() Partition { return m.partition }
func (m *Manager) Start() uint64        { return m.metadata.Start() }
func (m *Manager) Max() uint64          { return m.metadata.Max() }
func (m *Manager) Alignment() uint64    { return m.metadata.Alignment() }

// IsInitialized reports whether the Manager was given an address range. A Manager for a range
// the device does not have reports a Max of 0 and can never satisfy an allocation.
func (m *Manager) IsInitialized() bool {
	return m.metadata.Max() != 0
}

func (m *Manager) FreeBytes() uint64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.metadata.SumFreeSize()
}

// LeakedBytes returns the number of bytes that were freed but could not be returned to the free
// space, and so will never be handed out again.
func (m *Manager) LeakedBytes() uint64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.metadata.LeakedBytes()
}

func (m *Manager) HoleCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.metadata.HoleCount()
}

// Holes returns a snapshot of the Manager's free ranges in ascending address order
func (m *Manager) Holes() []metadata.Hole {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.metadata.Holes()
}

func (m *Manager) AllocationCount() int {
	return m.allocations.Count()
}

// allocate carves a range out of the Manager's free space and wraps it in an Allocation
// produced by createAllocation. If createAllocation fails, the range is released before the
// lock is dropped, so no other caller ever observes it.
func (m *Manager) allocate(
	size, alignment, fixedBase uint64,
	strategy metadata.PlacementStrategy,
	createAllocation func(partition Partition, address, size, alignment uint64) (*Allocation, error),
) (*Allocation, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	request, err := m.metadata.CreateAllocationRequest(size, alignment, fixedBase, strategy)
	if err != nil {
		return nil, err
	}

	err = m.metadata.Alloc(request)
	if err != nil {
		return nil, err
	}

	alloc, err := createAllocation(m.partition, request.Offset, request.Size, request.Alignment)
	if err != nil {
		releaseErr := m.metadata.Release(request.Offset, request.Size)
		if releaseErr != nil {
			panic(fmt.Sprintf("unexpected failure when rolling back a freshly carved range: %+v", releaseErr))
		}
		return nil, err
	}

	err = m.allocations.Register(alloc)
	if err != nil {
		panic(fmt.Sprintf("the free space handed out a range that is already allocated: %+v", err))
	}

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Allocated from manager",
		slog.String("Partition", m.partition.String()),
		slog.String("Address", fmt.Sprintf("0x%x", request.Offset)),
		slog.String("Size", fmt.Sprintf("0x%x", request.Size)),
		slog.String("Placement", request.Type.String()),
	)

	return alloc, nil
}

// free returns the allocation's range to the free space. An allocation this Manager did not
// produce, or one that was already freed, is rejected without touching the free space.
func (m *Manager) free(alloc *Allocation) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.allocations.Unregister(alloc) {
		return errors.Errorf("no live allocation at 0x%x in %s", alloc.address, m.partition)
	}

	m.release(alloc.address, alloc.size)
	return nil
}

// release must be called with the lock held. A range that cannot be recorded is lost rather
// than failing the caller's free.
func (m *Manager) release(address, size uint64) {
	err := m.metadata.Release(address, size)
	if cerrors.Is(err, memutils.OutOfMemoryError) {
		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "[LEAKED ADDRESS SPACE] freed range could not be recorded",
			slog.String("Partition", m.partition.String()),
			slog.String("Address", fmt.Sprintf("0x%x", address)),
			slog.String("Size", fmt.Sprintf("0x%x", size)),
		)
	} else if err != nil {
		m.logger.LogAttrs(context.Background(), slog.LevelError, "failed to release address range",
			slog.String("Partition", m.partition.String()),
			slog.Any("error", err),
		)
	}

	memutils.DebugValidate(m.metadata)
}

func (m *Manager) lookup(address uint64) (*Allocation, bool) {
	return m.allocations.Lookup(address)
}

func (m *Manager) Validate() error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	err := m.metadata.Validate()
	if err != nil {
		return cerrors.Wrapf(err, "%s", m.partition)
	}

	err = m.allocations.Validate()
	if err != nil {
		return cerrors.Wrapf(err, "%s", m.partition)
	}

	if m.metadata.Max() <= m.metadata.Start() {
		if !m.allocations.IsEmpty() {
			return errors.Errorf("%s has no address range but holds %d allocations", m.partition, m.allocations.Count())
		}
		return nil
	}

	rangeBytes := m.metadata.Max() - m.metadata.Start()
	accounted := m.metadata.SumFreeSize() + m.allocations.TotalBytes() + m.metadata.LeakedBytes()
	if accounted != rangeBytes {
		return errors.Errorf("%s spans 0x%x bytes, but free, allocated and leaked bytes add up to 0x%x", m.partition, rangeBytes, accounted)
	}

	return nil
}

func (m *Manager) AddStatistics(stats *memutils.Statistics) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	m.metadata.AddStatistics(stats)
	m.allocations.AddStatistics(stats)
}

func (m *Manager) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	m.metadata.AddDetailedStatistics(stats)
	m.allocations.AddDetailedStatistics(stats)
}

func (m *Manager) BuildStatsString(json jwriter.ObjectState, detailedMap bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	json.Name("Initialized").Bool(m.metadata.Max() != 0)

	var stats memutils.DetailedStatistics
	stats.Clear()
	m.metadata.AddDetailedStatistics(&stats)
	m.allocations.AddDetailedStatistics(&stats)
	writeDetailedStatistics(json.Name("Stats").Object(), &stats)

	if detailedMap {
		m.metadata.WriteJson(json)
		m.allocations.BuildStatsString(json)
	}
}

// destroy drops the Manager's free space. It refuses while allocations are still live and logs
// each of them.
func (m *Manager) destroy() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.allocations.IsEmpty() {
		for _, alloc := range m.allocations.sortedAllocations() {
			m.logUnreleasedAddress(alloc)
		}

		return errors.Errorf("%s still has %d allocations that remain unfreed", m.partition, m.allocations.Count())
	}

	m.metadata.Clear()
	return nil
}

func (m *Manager) logUnreleasedAddress(alloc *Allocation) {
	name := alloc.Name()
	if name == "" {
		name = "empty"
	}

	m.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED ADDRESS SPACE] unfreed allocation",
		slog.String("Partition", m.partition.String()),
		slog.String("Address", fmt.Sprintf("0x%x", alloc.address)),
		slog.String("Size", fmt.Sprintf("0x%x", alloc.size)),
		slog.Any("userData", alloc.UserData()),
		slog.String("name", name),
	)
}
