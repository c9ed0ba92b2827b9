// Package imageloader talks to the accelerator hardware (or a fake stand-in)
// on behalf of the allocator: probing devices, opening handles, loading and
// parsing images into CU descriptors, and reporting device health.
package imageloader

import (
	"context"

	"github.com/google/uuid"

	"github.com/cu-fleet/curmd/internal/catalogue"
)

// DeviceHandle is an opaque per-device handle returned by OpenDevice.
type DeviceHandle interface{}

// Loader is the image-loader external collaborator's contract.
type Loader interface {
	// ProbeDevices returns how many physical devices are present.
	ProbeDevices(ctx context.Context) (int, error)
	// OpenDevice acquires a handle to device index.
	OpenDevice(ctx context.Context, index int) (DeviceHandle, error)
	// CloseDevice releases a handle acquired by OpenDevice.
	CloseDevice(ctx context.Context, h DeviceHandle) error
	// LoadImage programs the device at h with the image found at
	// imagePath, returning its name and uuid.
	LoadImage(ctx context.Context, h DeviceHandle, imagePath string) (name string, id uuid.UUID, err error)
	// LockDevice acquires an exclusive hardware lock on h (distinct from
	// the catalogue's own client-exclusivity bookkeeping).
	LockDevice(ctx context.Context, h DeviceHandle) error
	// UnlockDevice releases a lock acquired by LockDevice.
	UnlockDevice(ctx context.Context, h DeviceHandle) error
	// ParseImage reads imagePath and returns the CUs it declares, without
	// programming any device.
	ParseImage(ctx context.Context, imagePath string) ([]catalogue.ImageCU, error)
	// IPNameToIndex resolves a kernel/IP name to its index within an
	// already-loaded image, or -1 if not found.
	IPNameToIndex(h DeviceHandle, ipName string) int
	// IsDeviceOffline reports whether the device behind h has dropped off
	// the bus (Xid error, PCIe reset, etc).
	IsDeviceOffline(ctx context.Context, h DeviceHandle) (bool, error)
}

// New returns the hardware-backed loader if the NVML library is present on
// this host, degrading to an in-memory fake loader otherwise.
func New() Loader {
	if l, err := newNVMLLoader(); err == nil {
		return l
	}
	return newFakeLoader()
}
