package wire

import (
	"errors"

	"github.com/cu-fleet/curmd/internal/catalogue"
)

// ErrorCode is the daemon's numeric error-code enum, carried in the
// response's status value.
type ErrorCode int

const (
	ErrCodeSuccess         ErrorCode = 0
	ErrCodeGeneric         ErrorCode = -1
	ErrCodeInvalidArgument ErrorCode = -2
	ErrCodeNoDevice        ErrorCode = -3
	ErrCodeNoKernel        ErrorCode = -4
	ErrCodeNoChannel       ErrorCode = -5
	ErrCodeConnectFail     ErrorCode = -21
	ErrCodeDeviceNotLoaded ErrorCode = -31
	ErrCodeDeviceBusy      ErrorCode = -32
	ErrCodeDeviceLocked    ErrorCode = -33
)

// CodeFor maps a catalogue/allocator sentinel error (possibly wrapped with
// fmt.Errorf("%w: ...")) to its wire error code via errors.Is.
func CodeFor(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrCodeSuccess
	case errors.Is(err, catalogue.ErrInvalidArgument):
		return ErrCodeInvalidArgument
	case errors.Is(err, catalogue.ErrNoDevice):
		return ErrCodeNoDevice
	case errors.Is(err, catalogue.ErrNoKernel):
		return ErrCodeNoKernel
	case errors.Is(err, catalogue.ErrNoChannel):
		return ErrCodeNoChannel
	case errors.Is(err, catalogue.ErrDeviceNotLoaded):
		return ErrCodeDeviceNotLoaded
	case errors.Is(err, catalogue.ErrDeviceBusy):
		return ErrCodeDeviceBusy
	case errors.Is(err, catalogue.ErrDeviceLocked):
		return ErrCodeDeviceLocked
	default:
		return ErrCodeGeneric
	}
}
