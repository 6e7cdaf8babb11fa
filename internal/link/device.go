package link

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Board vendors accepted by automatic selection.
const (
	VendorSTMicro     uint16 = 0x0483
	VendorArduino     uint16 = 0x2341
	VendorRaspberryPi uint16 = 0x2E8A
)

var DefaultVendorIDs = []uint16{VendorSTMicro, VendorArduino, VendorRaspberryPi}

// Device identifies one serial port and, for USB ports, the adapter behind it.
type Device struct {
	Port         string `json:"port"`
	USB          bool   `json:"usb"`
	VID          uint16 `json:"vid,omitempty"`
	PID          uint16 `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

func (d Device) String() string {
	if !d.USB {
		return d.Port
	}
	return fmt.Sprintf("%s (%04X:%04X)", d.Port, d.VID, d.PID)
}

// Same reports whether o is the same physical device. USB devices with a
// serial number match on identity, so a board that re-enumerates under a
// new port name is still recognised.
func (d Device) Same(o Device) bool {
	if d.USB && o.USB && d.SerialNumber != "" && o.SerialNumber != "" {
		return d.VID == o.VID && d.PID == o.PID && d.SerialNumber == o.SerialNumber
	}
	return d.Port != "" && d.Port == o.Port
}

// MatchesVendor reports whether d is a USB device from one of vids. An empty
// list accepts every USB device.
func (d Device) MatchesVendor(vids []uint16) bool {
	if !d.USB {
		return false
	}
	return len(vids) == 0 || slices.Contains(vids, d.VID)
}

// ParseVendorID accepts "0x2341", "2341" or "0X2341".
func ParseVendorID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("vendor id %q: %w", s, err)
	}
	return uint16(v), nil
}
