package vam

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/gpuva/memutils"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific Space behaviors to activate or deactivate
type CreateFlags int32

var spaceCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	spaceCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return spaceCreateFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that this Space and all objects created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// thread at a time or are synchronized by some other mechanism, but performance may improve because
	// internal mutexes are not used.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
}

// bit32Boundary is the first address that cannot be expressed in 32 bits
const bit32Boundary uint64 = 1 << 32

// CreateOptions contains optional settings when creating a Space
type CreateOptions struct {
	// Flags indicates specific Space behaviors to activate or deactivate
	Flags CreateFlags

	// MaxAllocationCount is the maximum number of live allocations across the whole Space. When the
	// limit is reached, Allocate returns memutils.OutOfMemoryError after returning the range it carved
	// to the partition it came from. 0 means no limit.
	MaxAllocationCount int

	// MaxHoleCount is the maximum number of disjoint free ranges each partition will track. An
	// allocation that would split a free range beyond the limit fails with memutils.OutOfMemoryError,
	// and a free that cannot be merged into a neighbouring free range is permanently lost (and
	// logged) instead. 0 means no limit.
	MaxHoleCount int

	// CallbackOptions is an optional set of callbacks that will be executed whenever this Space
	// hands out or takes back an address range
	CallbackOptions *CallbackOptions
}

// New creates a new Space from the address space layout reported by device
//
// logger - The logger that Space operations are reported to. If nil, slog.Default() is used
//
// device - The device whose address space will be managed. It is queried once, here
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, device Device, options CreateOptions) (*Space, error) {
	if device == nil {
		return nil, errors.Wrap(memutils.InvalidArgumentError, "attempted to create an address space with a nil device")
	}

	geometry, err := device.VirtualAddressGeometry()
	if err != nil {
		return nil, errors.Wrap(err, "failed to query the device's virtual address geometry")
	}

	return NewWithGeometry(logger, geometry, options)
}

// NewWithGeometry creates a new Space for an explicitly provided address space layout
//
// The low range is split at the 32-bit boundary into PartitionLow32 and PartitionLow. If the
// geometry has a high range, its first 4GiB window becomes PartitionHigh32 and the remainder
// becomes PartitionHigh; otherwise both high partitions are left uninitialized and
// AllocationCreateHigh is ignored.
func NewWithGeometry(logger *slog.Logger, geometry DeviceGeometry, options CreateOptions) (*Space, error) {
	if logger == nil {
		logger = slog.Default()
	}

	err := geometry.validate()
	if err != nil {
		return nil, err
	}

	if options.MaxAllocationCount < 0 || options.MaxHoleCount < 0 {
		return nil, errors.Wrapf(memutils.InvalidArgumentError, "resource limits cannot be negative: MaxAllocationCount %d, MaxHoleCount %d", options.MaxAllocationCount, options.MaxHoleCount)
	}

	useMutex := options.Flags&CreateExternallySynchronized == 0

	space := &Space{
		useMutex:           useMutex,
		logger:             logger,
		createFlags:        options.Flags,
		geometry:           geometry,
		maxAllocationCount: options.MaxAllocationCount,
	}
	space.callbacks = addressCallbacks{
		Callbacks: options.CallbackOptions,
		Space:     space,
	}

	logger.Debug("Space::New",
		slog.String("Flags", options.Flags.String()),
		slog.Int("MaxAllocationCount", options.MaxAllocationCount),
		slog.Int("MaxHoleCount", options.MaxHoleCount),
	)

	// Low range
	space.managers[PartitionLow32].Init(logger, useMutex, PartitionLow32,
		geometry.LowStart,
		memutils.Min(geometry.LowMax, bit32Boundary),
		geometry.Alignment,
		options.MaxHoleCount,
	)
	space.managers[PartitionLow].Init(logger, useMutex, PartitionLow,
		memutils.Max(bit32Boundary, geometry.LowStart),
		memutils.Max(geometry.LowMax, bit32Boundary),
		geometry.Alignment,
		options.MaxHoleCount,
	)

	// High range
	var high32Max, highMax uint64
	if geometry.HasHighRange() {
		windowStart := memutils.AlignDown(geometry.HighStart, bit32Boundary)
		windowEnd := uint64(math.MaxUint64)
		if windowStart <= math.MaxUint64-bit32Boundary {
			windowEnd = windowStart + bit32Boundary
		}

		high32Max = memutils.Min(geometry.HighMax, windowEnd)
		highMax = memutils.Max(geometry.HighMax, high32Max)
	}

	space.managers[PartitionHigh32].Init(logger, useMutex, PartitionHigh32,
		geometry.HighStart,
		high32Max,
		geometry.Alignment,
		options.MaxHoleCount,
	)
	space.managers[PartitionHigh].Init(logger, useMutex, PartitionHigh,
		high32Max,
		highMax,
		geometry.Alignment,
		options.MaxHoleCount,
	)

	return space, nil
}
