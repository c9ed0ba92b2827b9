package allocator

import (
	"github.com/google/uuid"

	"github.com/cu-fleet/curmd/internal/catalogue"
)

// LoadDevice installs an image on device devID. The device must be present,
// not disabled and idle (no seated channels, no active reserves, no
// registered clients) — loading over a busy device is refused rather than
// silently evicting its clients.
func (a *Allocator) LoadDevice(devID int, imageName string, imageUUID uuid.UUID, cus []catalogue.ImageCU) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dev, err := a.cat.Device(devID)
	if err != nil {
		return err
	}
	if dev.Disabled {
		return catalogue.ErrDeviceLocked
	}
	if dev.Loaded {
		for i := range dev.CUs {
			if !dev.CUs[i].Idle() {
				return catalogue.ErrDeviceBusy
			}
		}
	}
	dev.Load(imageName, imageUUID, cus)
	return nil
}

// UnloadDevice removes the currently loaded image from devID. Refused if
// any CU is still busy.
func (a *Allocator) UnloadDevice(devID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dev, err := a.cat.Device(devID)
	if err != nil {
		return err
	}
	if !dev.Loaded {
		return catalogue.ErrDeviceNotLoaded
	}
	for i := range dev.CUs {
		if !dev.CUs[i].Idle() {
			return catalogue.ErrDeviceBusy
		}
	}
	dev.Unload()
	return nil
}

// EnableDevice clears the disabled bit set by DisableDevice.
func (a *Allocator) EnableDevice(devID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	dev, err := a.cat.Device(devID)
	if err != nil {
		return err
	}
	dev.Disabled = false
	return nil
}

// DisableDevice marks a device unavailable for new allocations without
// disturbing anything already seated on it.
func (a *Allocator) DisableDevice(devID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	dev, err := a.cat.Device(devID)
	if err != nil {
		return err
	}
	dev.Disabled = true
	return nil
}

// DeviceInfo is the read-only device dump returned by cuGetDeviceInfo.
type DeviceInfo struct {
	Index      int
	Disabled   bool
	Loaded     bool
	ImageName  string
	ImageUUID  uuid.UUID
	Exclusive  bool
	NumCUs     int
	NumClients int
}

// DeviceInfo returns a read-only snapshot of one device's top-level state.
func (a *Allocator) DeviceInfo(devID int) (DeviceInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	dev, err := a.cat.Device(devID)
	if err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{
		Index:      dev.Index,
		Disabled:   dev.Disabled,
		Loaded:     dev.Loaded,
		ImageName:  dev.ImageName,
		ImageUUID:  dev.ImageUUID,
		Exclusive:  dev.Exclusive,
		NumCUs:     len(dev.CUs),
		NumClients: len(dev.Clients),
	}, nil
}

// NumDevices returns the catalogue's device count.
func (a *Allocator) NumDevices() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cat.Devices)
}
