package link

import (
	"errors"
	"io"
	"os"
)

var (
	ErrSelectionCancelled = errors.New("link: device selection cancelled")
	ErrSelectionTimeout   = errors.New("link: device selection timed out")
	ErrNoDevice           = errors.New("link: no matching device")
	ErrPermissionDenied   = errors.New("link: permission denied")
	ErrPortBusy           = errors.New("link: port busy")
	ErrPortNotFound       = errors.New("link: port not found")
	ErrOpenFailed         = errors.New("link: open failed")
	ErrNotOpen            = errors.New("link: not open")
	ErrWriteFailed        = errors.New("link: write failed")
	ErrWriteTimeout       = errors.New("link: write timed out")
	ErrReadFailed         = errors.New("link: read failed")
	ErrDeviceRemoved      = errors.New("link: device removed")
	ErrTransportClosed    = errors.New("link: transport closed")
	ErrSuperseded         = errors.New("link: attempt superseded")
	ErrConnectInProgress  = errors.New("link: connect already in progress")
)

// Describe maps a link error to the reason shown to the player.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSelectionCancelled):
		return "device selection was cancelled"
	case errors.Is(err, ErrSelectionTimeout):
		return "no device was selected in time, try again"
	case errors.Is(err, ErrNoDevice):
		return "no compatible device found, check the cable"
	case errors.Is(err, ErrPortNotFound):
		return "port not found, check the device"
	case errors.Is(err, ErrPermissionDenied):
		return "no permission to access the port"
	case errors.Is(err, ErrPortBusy):
		return "port already open or busy"
	case errors.Is(err, ErrOpenFailed):
		return "could not open the port"
	case errors.Is(err, ErrConnectInProgress):
		return "a connection attempt is already running"
	case errors.Is(err, ErrNotOpen):
		return "device is not connected"
	case errors.Is(err, ErrDeviceRemoved):
		return "device was unplugged"
	case errors.Is(err, ErrReadFailed):
		return "connection lost while reading"
	case errors.Is(err, ErrWriteTimeout):
		return "device stopped accepting commands"
	case errors.Is(err, ErrWriteFailed):
		return "failed to send command"
	default:
		return err.Error()
	}
}

// unusable reports whether a transport error means the handle is dead. A
// write that timed out may still be blocked on the port, so the handle is
// not trusted again.
func unusable(err error) bool {
	return errors.Is(err, ErrTransportClosed) ||
		errors.Is(err, ErrWriteTimeout) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed)
}
