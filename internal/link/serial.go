package link

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaud is fixed by the board firmware.
const DefaultBaud = 115200

// DefaultReadTimeout bounds each blocking serial read.
const DefaultReadTimeout = 100 * time.Millisecond

// SerialOpener opens ports with 8N1 framing, no flow control.
type SerialOpener struct {
	Baud        int
	ReadTimeout time.Duration
}

func (o SerialOpener) Open(ctx context.Context, dev Device) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	baud := o.Baud
	if baud <= 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(dev.Port, mode)
	if err != nil {
		return nil, classifyOpenError(dev.Port, err)
	}

	timeout := o.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("%w: %s: set read timeout: %w", ErrOpenFailed, dev.Port, err)
	}
	_ = port.ResetInputBuffer()

	return &serialTransport{port: port}, nil
}

func classifyOpenError(port string, err error) error {
	var pe *serial.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case serial.PortBusy:
			return fmt.Errorf("%w: %s: %w", ErrPortBusy, port, err)
		case serial.PortNotFound:
			return fmt.Errorf("%w: %s: %w", ErrPortNotFound, port, err)
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %s: %w", ErrPermissionDenied, port, err)
		}
	}
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s: %w", ErrPermissionDenied, port, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s: %w", ErrPortNotFound, port, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrOpenFailed, port, err)
}

// serialTransport adapts serial.Port. A read timeout returns (0, nil) so the
// read loop can observe cancellation between reads.
type serialTransport struct {
	port   serial.Port
	closed atomic.Bool
}

func (t *serialTransport) Read(p []byte) (int, error) {
	n, err := t.port.Read(p)
	if err != nil {
		return n, t.mapErr(err)
	}
	return n, nil
}

func (t *serialTransport) Write(p []byte) (int, error) {
	n, err := t.port.Write(p)
	if err != nil {
		return n, t.mapErr(err)
	}
	return n, nil
}

func (t *serialTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.port.Close()
}

func (t *serialTransport) mapErr(err error) error {
	if t.closed.Load() {
		return fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}
	var pe *serial.PortError
	if errors.As(err, &pe) && pe.Code() == serial.PortClosed {
		return fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}
	return err
}

// EnumeratorLister lists serial ports with USB details.
type EnumeratorLister struct{}

func (EnumeratorLister) Ports() ([]Device, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	out := make([]Device, 0, len(details))
	for _, d := range details {
		dev := Device{Port: d.Name, USB: d.IsUSB, SerialNumber: d.SerialNumber, Product: d.Product}
		if d.IsUSB {
			if vid, err := ParseVendorID(d.VID); err == nil {
				dev.VID = vid
			}
			if pid, err := ParseVendorID(d.PID); err == nil {
				dev.PID = pid
			}
		}
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}
