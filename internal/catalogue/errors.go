package catalogue

import "errors"

// Sentinel errors returned by the catalogue and allocator. The dispatcher
// maps these to wire status codes with errors.Is; handlers never invent new
// sentinels on the fly.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNoDevice        = errors.New("no device")
	ErrNoKernel        = errors.New("no kernel")
	ErrNoChannel       = errors.New("no channel")
	ErrDeviceNotLoaded = errors.New("device is not loaded")
	ErrDeviceBusy      = errors.New("device is busy")
	ErrDeviceLocked    = errors.New("device is locked")
	ErrGeneric         = errors.New("generic error")
)
