package vam_test

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gpuva/memutils"
	"github.com/vkngwrapper/gpuva/vam"
	mock_vam "github.com/vkngwrapper/gpuva/vam/mocks"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

func TestNewQueriesDevice(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mock_vam.NewMockDevice(ctrl)

	geometry := vam.DeviceGeometry{
		LowStart:  0x200000,
		LowMax:    0x1000000000,
		HighStart: 0xffff800000000000,
		HighMax:   0xffffffffffe00000,
		Alignment: 0x1000,
	}
	device.EXPECT().VirtualAddressGeometry().Return(geometry, nil).Times(1)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	space, err := vam.New(logger, device, vam.CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, geometry, space.Geometry())

	start, end, err := space.QueryBounds(vam.RangeTypeGeneral)
	require.NoError(t, err)
	require.Equal(t, uint64(0x200000), start)
	require.Equal(t, uint64(0x1000000000), end)

	alloc, err := space.Allocate(0x10000, 0, 0, vam.RangeTypeGeneral, vam.AllocationCreate32Bit)
	require.NoError(t, err)
	require.Equal(t, uint64(0x200000), alloc.StartAddress())
	require.NoError(t, alloc.Free())
	require.NoError(t, space.Destroy())
}

func TestNewDeviceError(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mock_vam.NewMockDevice(ctrl)

	queryErr := errors.New("device lost")
	device.EXPECT().VirtualAddressGeometry().Return(vam.DeviceGeometry{}, queryErr)

	space, err := vam.New(nil, device, vam.CreateOptions{})
	require.Nil(t, space)
	require.ErrorIs(t, err, queryErr)
}

func TestNewInvalidGeometry(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mock_vam.NewMockDevice(ctrl)

	device.EXPECT().VirtualAddressGeometry().Return(vam.DeviceGeometry{
		LowStart:  0x1000,
		LowMax:    0x100000000,
		Alignment: 0x3000,
	}, nil)

	_, err := vam.New(nil, device, vam.CreateOptions{})
	require.True(t, errors.Is(err, memutils.InvalidArgumentError))
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
}

func TestNewNilDevice(t *testing.T) {
	_, err := vam.New(nil, nil, vam.CreateOptions{})
	require.ErrorIs(t, err, memutils.InvalidArgumentError)
}
