package vam

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gpuva/memutils"
	"github.com/vkngwrapper/gpuva/memutils/metadata"
	"golang.org/x/sync/errgroup"
)

// crowdedGeometry gives every partition 1MiB so that random workloads regularly exhaust them
var crowdedGeometry = DeviceGeometry{
	LowStart:  0xFFF00000,
	LowMax:    0x100100000,
	HighStart: 0x10000FFF00000,
	HighMax:   0x1000100100000,
	Alignment: 0x1000,
}

var testAlignments = []uint64{0, 0x1000, 0x4000, 0x10000}

type spaceSnapshot [partitionCount][]metadata.Hole

func snapshotSpace(space *Space) spaceSnapshot {
	var snapshot spaceSnapshot
	for i := range space.managers {
		snapshot[i] = space.managers[i].Holes()
	}
	return snapshot
}

// requireConsistent checks that, in every partition, the live allocations and the holes tile
// the managed range without overlapping
func requireConsistent(t *testing.T, space *Space, live []*Allocation) {
	t.Helper()

	require.NoError(t, space.Validate())
	require.Equal(t, len(live), space.AllocationCount())

	for i := range space.managers {
		manager := &space.managers[i]

		type span struct{ start, end uint64 }
		var spans []span
		for _, hole := range manager.Holes() {
			spans = append(spans, span{hole.Offset, hole.End()})
		}
		for _, alloc := range live {
			if alloc.Partition() == manager.Partition() {
				require.GreaterOrEqual(t, alloc.StartAddress(), manager.Start())
				require.LessOrEqual(t, alloc.StartAddress()+alloc.Size(), manager.Max())
				spans = append(spans, span{alloc.StartAddress(), alloc.StartAddress() + alloc.Size()})
			}
		}

		sort.Slice(spans, func(a, b int) bool { return spans[a].start < spans[b].start })
		for j := 1; j < len(spans); j++ {
			require.LessOrEqual(t, spans[j-1].end, spans[j].start, "%s: [0x%x, 0x%x) overlaps [0x%x, 0x%x)",
				manager.Partition(), spans[j-1].start, spans[j-1].end, spans[j].start, spans[j].end)
		}
	}
}

func randomFlags(rng *rand.Rand) AllocationCreateFlags {
	return AllocationCreateFlags(rng.Intn(8))
}

func randomFixedBase(rng *rand.Rand, space *Space, flags AllocationCreateFlags, alignment uint64) uint64 {
	manager := space.Manager(selectPartition(flags))
	if manager.Max() <= manager.Start() {
		return 0
	}

	alignment = memutils.Max(alignment, manager.Alignment())
	base := manager.Start() + uint64(rng.Int63n(int64(manager.Max()-manager.Start())))
	return memutils.AlignUp(base, alignment)
}

func TestSpaceRandomOperations(t *testing.T) {
	for seed := int64(1); seed <= 4; seed++ {
		t.Run(fmt.Sprintf("Seed%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			space := newTestSpace(t, crowdedGeometry, CreateOptions{})
			initial := snapshotSpace(space)

			var live []*Allocation
			for op := 0; op < 1500; op++ {
				if len(live) > 0 && rng.Intn(100) < 45 {
					index := rng.Intn(len(live))
					alloc := live[index]
					live[index] = live[len(live)-1]
					live = live[:len(live)-1]

					require.NoError(t, space.Free(alloc))
					require.Zero(t, alloc.StartAddress())
					requireConsistent(t, space, live)
					continue
				}

				size := uint64(rng.Intn(0x20000) + 1)
				alignment := testAlignments[rng.Intn(len(testAlignments))]
				flags := randomFlags(rng)

				var fixedBase uint64
				if rng.Intn(10) == 0 {
					fixedBase = randomFixedBase(rng, space, flags, alignment)
				}

				before := snapshotSpace(space)
				alloc, err := space.Allocate(size, alignment, fixedBase, RangeTypeGeneral, flags)
				if err != nil {
					require.True(t, errors.Is(err, memutils.OutOfSpaceError), "unexpected error: %+v", err)
					require.Empty(t, cmp.Diff(before, snapshotSpace(space)))
					requireConsistent(t, space, live)
					continue
				}

				effectiveAlignment := memutils.Max(alignment, crowdedGeometry.Alignment)
				require.Zero(t, alloc.StartAddress()%effectiveAlignment)
				require.Zero(t, alloc.Size()%crowdedGeometry.Alignment)
				require.GreaterOrEqual(t, alloc.Size(), size)
				require.Less(t, alloc.Size()-size, crowdedGeometry.Alignment)
				if fixedBase != 0 {
					require.Equal(t, fixedBase, alloc.StartAddress())
				}
				if flags&AllocationCreate32Bit != 0 {
					require.Equal(t, selectPartition(flags), alloc.Partition())
				} else {
					require.Contains(t, []Partition{selectPartition(flags), fallbackPartition(flags)}, alloc.Partition())
				}

				// Freeing straight away restores the exact hole layout
				if rng.Intn(5) == 0 {
					require.NoError(t, alloc.Free())
					require.Empty(t, cmp.Diff(before, snapshotSpace(space)))
					requireConsistent(t, space, live)
					continue
				}

				live = append(live, alloc)
				requireConsistent(t, space, live)
			}

			for _, alloc := range live {
				require.NoError(t, alloc.Free())
			}
			require.Empty(t, cmp.Diff(initial, snapshotSpace(space)))
			require.Zero(t, space.AllocationCount())
			require.NoError(t, space.Destroy())
		})
	}
}

func TestSpacePlacementIsContiguous(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	t.Run("BottomUp", func(t *testing.T) {
		space := newTestSpace(t, crowdedGeometry, CreateOptions{})
		next := space.Manager(PartitionLow).Start()

		for {
			alloc, err := space.Allocate(uint64(rng.Intn(0x8000)+1), 0, 0, RangeTypeGeneral, 0)
			if err != nil || alloc.Partition() != PartitionLow {
				break
			}
			require.Equal(t, next, alloc.StartAddress())
			next += alloc.Size()
		}

		require.LessOrEqual(t, space.Manager(PartitionLow).FreeBytes(), uint64(0x8000))
	})

	t.Run("TopDown", func(t *testing.T) {
		space := newTestSpace(t, crowdedGeometry, CreateOptions{})
		prev := space.Manager(PartitionHigh).Max()

		for {
			alloc, err := space.Allocate(uint64(rng.Intn(0x8000)+1), 0, 0, RangeTypeGeneral, AllocationCreateReplayable|AllocationCreateHigh)
			if err != nil || alloc.Partition() != PartitionHigh {
				break
			}
			require.Equal(t, prev, alloc.StartAddress()+alloc.Size())
			prev = alloc.StartAddress()
		}
	})
}

func TestSpaceConcurrentOperations(t *testing.T) {
	space := newTestSpace(t, crowdedGeometry, CreateOptions{})
	initial := snapshotSpace(space)

	var group errgroup.Group
	for worker := 0; worker < 8; worker++ {
		seed := int64(worker + 100)
		group.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			var live []*Allocation

			for op := 0; op < 400; op++ {
				if len(live) > 0 && rng.Intn(2) == 0 {
					index := rng.Intn(len(live))
					alloc := live[index]
					live[index] = live[len(live)-1]
					live = live[:len(live)-1]

					err := alloc.Free()
					if err != nil {
						return err
					}
					continue
				}

				alignment := testAlignments[rng.Intn(len(testAlignments))]
				alloc, err := space.Allocate(uint64(rng.Intn(0x4000)+1), alignment, 0, RangeTypeGeneral, randomFlags(rng))
				if errors.Is(err, memutils.OutOfSpaceError) {
					continue
				} else if err != nil {
					return err
				}

				if alloc.StartAddress()%memutils.Max(alignment, crowdedGeometry.Alignment) != 0 {
					return errors.Newf("allocation at 0x%x is misaligned", alloc.StartAddress())
				}
				live = append(live, alloc)
			}

			for _, alloc := range live {
				err := alloc.Free()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	require.NoError(t, group.Wait())
	require.NoError(t, space.Validate())
	require.Zero(t, space.AllocationCount())
	require.Empty(t, cmp.Diff(initial, snapshotSpace(space)))
}
