package link

import (
	"context"
	"fmt"
	"time"
)

// USBSelector picks a board without user interaction. A configured port
// wins; otherwise the remembered device if present, otherwise the first USB
// port from an accepted vendor. It keeps polling until a candidate appears
// or ctx is done, which is how the selection timeout is enforced.
type USBSelector struct {
	Lister    PortLister
	VendorIDs []uint16
	Port      string
	Memory    DeviceMemory
	Interval  time.Duration
}

func (s USBSelector) Select(ctx context.Context) (Device, error) {
	interval := s.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	var remembered Device
	var hasRemembered bool
	if s.Memory != nil {
		if dev, ok, err := s.Memory.LastDevice(ctx); err == nil && ok {
			remembered, hasRemembered = dev, true
		}
	}

	var lastErr error
	for {
		dev, err := s.pick(remembered, hasRemembered)
		if err == nil {
			return dev, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return Device{}, fmt.Errorf("%w: %w", ctx.Err(), lastErr)
		case <-time.After(interval):
		}
	}
}

func (s USBSelector) pick(remembered Device, hasRemembered bool) (Device, error) {
	ports, err := s.Lister.Ports()
	if err != nil {
		if s.Port != "" {
			return Device{Port: s.Port}, nil
		}
		return Device{}, err
	}

	if s.Port != "" {
		for _, p := range ports {
			if p.Port == s.Port {
				return p, nil
			}
		}
		return Device{}, fmt.Errorf("%w: %s", ErrPortNotFound, s.Port)
	}

	var candidates []Device
	for _, p := range ports {
		if p.MatchesVendor(s.VendorIDs) {
			candidates = append(candidates, p)
		}
	}
	if hasRemembered {
		for _, c := range candidates {
			if c.Same(remembered) {
				return c, nil
			}
		}
	}
	if len(candidates) == 0 {
		return Device{}, ErrNoDevice
	}
	return candidates[0], nil
}
