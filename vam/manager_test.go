package vam

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gpuva/memutils"
	"github.com/vkngwrapper/gpuva/memutils/metadata"
	"golang.org/x/exp/slog"
)

func newTestManager(t *testing.T, start, max uint64, maxHoleCount int) (*Manager, *bytes.Buffer) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))

	manager := &Manager{}
	manager.Init(logger, true, PartitionLow32, start, max, 0x1000, maxHoleCount)
	require.NoError(t, manager.Validate())

	return manager, &logs
}

func createTestAllocation(partition Partition, address, size, alignment uint64) (*Allocation, error) {
	alloc := &Allocation{}
	alloc.init(nil, partition, address, size, alignment, RangeTypeGeneral, 0)
	return alloc, nil
}

func TestManagerAllocate(t *testing.T) {
	manager, _ := newTestManager(t, 0x10000, 0x20000, 0)

	alloc, err := manager.allocate(0x1000, 0x4000, 0, metadata.PlacementBottomUp, createTestAllocation)
	require.NoError(t, err)
	require.Equal(t, PartitionLow32, alloc.Partition())
	require.Equal(t, uint64(0x10000), alloc.StartAddress())
	require.Equal(t, uint64(0x4000), alloc.Alignment())

	found, ok := manager.lookup(0x10000)
	require.True(t, ok)
	require.Same(t, alloc, found)
	require.Equal(t, uint64(0xF000), manager.FreeBytes())
	require.NoError(t, manager.Validate())

	require.NoError(t, manager.free(alloc))
	require.Equal(t, uint64(0x10000), manager.FreeBytes())
	require.Zero(t, manager.AllocationCount())
}

func TestManagerAllocateRollback(t *testing.T) {
	manager, _ := newTestManager(t, 0x10000, 0x20000, 0)

	_, err := manager.allocate(0x1000, 0, 0x14000, metadata.PlacementBottomUp, createTestAllocation)
	require.NoError(t, err)
	before := manager.Holes()

	handleErr := errors.Wrap(memutils.OutOfMemoryError, "no handles left")
	_, err = manager.allocate(0x2000, 0, 0, metadata.PlacementTopDown, func(Partition, uint64, uint64, uint64) (*Allocation, error) {
		return nil, handleErr
	})
	require.ErrorIs(t, err, handleErr)
	require.Equal(t, before, manager.Holes())
	require.Equal(t, 1, manager.AllocationCount())
	require.NoError(t, manager.Validate())
}

func TestManagerFreeUnknown(t *testing.T) {
	manager, _ := newTestManager(t, 0x10000, 0x20000, 0)

	alloc, err := manager.allocate(0x1000, 0, 0, metadata.PlacementBottomUp, createTestAllocation)
	require.NoError(t, err)

	impostor, _ := createTestAllocation(PartitionLow32, alloc.address, alloc.size, alloc.alignment)
	require.Error(t, manager.free(impostor))
	require.Equal(t, 1, manager.AllocationCount())

	require.NoError(t, manager.free(alloc))
	require.Error(t, manager.free(alloc))
	require.Equal(t, []metadata.Hole{{Offset: 0x10000, Size: 0x10000}}, manager.Holes())
	require.NoError(t, manager.Validate())
}

func TestManagerReleaseLeakIsLogged(t *testing.T) {
	manager, logs := newTestManager(t, 0x10000, 0x20000, 1)

	first, err := manager.allocate(0x1000, 0, 0, metadata.PlacementBottomUp, createTestAllocation)
	require.NoError(t, err)
	_, err = manager.allocate(0x1000, 0, 0, metadata.PlacementBottomUp, createTestAllocation)
	require.NoError(t, err)
	require.Empty(t, logs.String())

	require.NoError(t, manager.free(first))
	require.Contains(t, logs.String(), "[LEAKED ADDRESS SPACE]")
	require.Contains(t, logs.String(), `"Address":"0x10000"`)
	require.Equal(t, uint64(0x1000), manager.LeakedBytes())
	require.Equal(t, 1, manager.HoleCount())
	require.NoError(t, manager.Validate())
}

func TestManagerValidateConservation(t *testing.T) {
	manager, _ := newTestManager(t, 0x10000, 0x20000, 0)

	_, err := manager.allocate(0x3000, 0, 0, metadata.PlacementBottomUp, createTestAllocation)
	require.NoError(t, err)
	require.NoError(t, manager.Validate())

	manager.allocations.totalBytes += 0x1000
	require.Error(t, manager.Validate())
}

func TestManagerDestroy(t *testing.T) {
	manager, logs := newTestManager(t, 0x10000, 0x20000, 0)

	alloc, err := manager.allocate(0x1000, 0, 0, metadata.PlacementBottomUp, createTestAllocation)
	require.NoError(t, err)
	alloc.SetName("staging")

	require.Error(t, manager.destroy())
	require.Contains(t, logs.String(), "[UNRELEASED ADDRESS SPACE]")
	require.Contains(t, logs.String(), `"name":"staging"`)
	require.Equal(t, 1, manager.HoleCount())

	require.NoError(t, manager.free(alloc))
	require.NoError(t, manager.destroy())
	require.Zero(t, manager.HoleCount())
	require.Zero(t, manager.FreeBytes())
}

func TestManagerDoubleInitPanics(t *testing.T) {
	manager, _ := newTestManager(t, 0x10000, 0x20000, 0)

	require.Panics(t, func() {
		manager.Init(slog.Default(), true, PartitionLow, 0, 0x1000, 0x1000, 0)
	})
}
