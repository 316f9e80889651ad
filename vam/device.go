package vam

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gpuva/memutils"
)

//go:generate mockgen -source device.go -destination ./mocks/device.go -package mock_vam

// Device is the collaborator a Space learns its address space layout from. It is consulted once,
// when the Space is created.
type Device interface {
	VirtualAddressGeometry() (DeviceGeometry, error)
}

// DeviceGeometry is the address space layout reported by a device. Every bound is a byte address.
type DeviceGeometry struct {
	// LowStart is the first usable address of the low range
	LowStart uint64
	// LowMax is the exclusive upper bound of the low range
	LowMax uint64
	// HighStart is the first usable address of the high range, or 0 if the device has none
	HighStart uint64
	// HighMax is the exclusive upper bound of the high range, or 0 if the device has none
	HighMax uint64
	// Alignment is the page size every allocation is rounded to. It must be a power of two.
	Alignment uint64
}

// HasHighRange reports whether the device exposes a high address range at all
func (g DeviceGeometry) HasHighRange() bool {
	return g.HighStart != 0 && g.HighMax != 0
}

func (g DeviceGeometry) validate() error {
	err := memutils.CheckPow2(g.Alignment, "DeviceGeometry.Alignment")
	if err != nil {
		return errors.Mark(err, memutils.InvalidArgumentError)
	}

	return nil
}

func (g DeviceGeometry) writeJson(json jwriter.ObjectState) {
	json.Name("LowStart").String(fmt.Sprintf("0x%x", g.LowStart))
	json.Name("LowMax").String(fmt.Sprintf("0x%x", g.LowMax))
	json.Name("HighStart").String(fmt.Sprintf("0x%x", g.HighStart))
	json.Name("HighMax").String(fmt.Sprintf("0x%x", g.HighMax))
	json.Name("Alignment").String(fmt.Sprintf("0x%x", g.Alignment))
}
