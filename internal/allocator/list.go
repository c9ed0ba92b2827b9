package allocator

import (
	"github.com/cu-fleet/curmd/internal/catalogue"
)

// ListMode selects how AllocCUList spreads its descriptors across devices.
type ListMode int

const (
	// ListModeAnyDevice allows each descriptor in the list to land on a
	// different device.
	ListModeAnyDevice ListMode = iota
	// ListModeSameDevice requires every descriptor in the list to be
	// seated on one single device.
	ListModeSameDevice
	// ListModeVirtualDevice groups descriptors by their VirtualDeviceID:
	// each group lands together on one device, and distinct groups land on
	// distinct devices.
	ListModeVirtualDevice
)

// AllocCUList allocates every descriptor in descs as one all-or-nothing
// transaction: if any descriptor cannot be seated, every handle already
// granted in this call is rolled back.
func (a *Allocator) AllocCUList(descs []catalogue.CUDescriptor, mode ListMode) ([]Handle, error) {
	if len(descs) == 0 || len(descs) > catalogue.MaxListCUs {
		return nil, catalogue.ErrInvalidArgument
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	switch mode {
	case ListModeSameDevice:
		return a.allocListSameDeviceLocked(descs)
	case ListModeVirtualDevice:
		return a.allocListVirtualLocked(descs)
	default:
		return a.allocListAnyDeviceLocked(descs)
	}
}

func (a *Allocator) allocListAnyDeviceLocked(descs []catalogue.CUDescriptor) ([]Handle, error) {
	handles := make([]Handle, 0, len(descs))
	for i := range descs {
		d := descs[i]
		h, err := a.allocCULocked(&d)
		if err != nil {
			a.rollback(handles)
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (a *Allocator) allocListSameDeviceLocked(descs []catalogue.CUDescriptor) ([]Handle, error) {
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		if dev.Disabled || !dev.Loaded {
			continue
		}
		handles, ok := a.tryAllocAllOnDeviceLocked(di, descs)
		if ok {
			return handles, nil
		}
	}
	return nil, catalogue.ErrNoKernel
}

// tryAllocAllOnDeviceLocked attempts to seat every descriptor pinned to
// device di, rolling back its own partial progress on any failure.
func (a *Allocator) tryAllocAllOnDeviceLocked(di int, descs []catalogue.CUDescriptor) ([]Handle, bool) {
	handles := make([]Handle, 0, len(descs))
	for i := range descs {
		d := descs[i]
		d.DeviceID = di
		h, err := a.allocCULocked(&d)
		if err != nil {
			a.rollback(handles)
			return nil, false
		}
		handles = append(handles, h)
	}
	return handles, true
}

// allocListVirtualLocked implements the virtual-device placement: all
// descriptors sharing a virtual-device index seat together on one real
// device, distinct indices on distinct devices, with the set of claimed
// devices growing as groups are seated. Descriptors with no virtual index
// (-1) seat anywhere. All-or-nothing like the other list modes.
func (a *Allocator) allocListVirtualLocked(descs []catalogue.CUDescriptor) ([]Handle, error) {
	handles := make([]Handle, len(descs))
	var granted []Handle
	usedDevices := make(map[int]bool)

	// Group descriptor positions by virtual index, in first-appearance
	// order; -1 positions stay singles.
	var groupOrder []int
	groups := make(map[int][]int)
	for i := range descs {
		vid := descs[i].VirtualDeviceID
		if vid < 0 {
			continue
		}
		if _, ok := groups[vid]; !ok {
			groupOrder = append(groupOrder, vid)
		}
		groups[vid] = append(groups[vid], i)
	}

	fail := func() ([]Handle, error) {
		a.rollback(granted)
		return nil, catalogue.ErrNoKernel
	}

	for _, vid := range groupOrder {
		members := groups[vid]
		seated := false
		for di := range a.cat.Devices {
			if usedDevices[di] {
				continue
			}
			dev := &a.cat.Devices[di]
			if dev.Disabled || !dev.Loaded {
				continue
			}
			var attempt []Handle
			ok := true
			for _, i := range members {
				d := descs[i]
				d.DeviceID = di
				d.VirtualDeviceID = -1
				h, err := a.allocCULocked(&d)
				if err != nil {
					ok = false
					break
				}
				attempt = append(attempt, h)
				handles[i] = h
			}
			if !ok {
				a.rollback(attempt)
				continue
			}
			granted = append(granted, attempt...)
			usedDevices[di] = true
			seated = true
			break
		}
		if !seated {
			return fail()
		}
	}

	for i := range descs {
		if descs[i].VirtualDeviceID >= 0 {
			continue
		}
		d := descs[i]
		h, err := a.allocCULocked(&d)
		if err != nil {
			return fail()
		}
		handles[i] = h
		granted = append(granted, h)
	}
	return handles, nil
}

// rollback releases every handle in handles, in reverse order, ignoring
// errors: it is only ever called on a path that already holds the lock and
// already knows the handles are valid.
func (a *Allocator) rollback(handles []Handle) {
	for i := len(handles) - 1; i >= 0; i-- {
		a.releaseLocked(handles[i])
	}
}

// ReleaseList releases every handle in handles. Unlike allocation, release
// does not roll back: each handle is released independently and the first
// error (if any) is returned after every release has been attempted.
func (a *Allocator) ReleaseList(handles []Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for _, h := range handles {
		if err := a.releaseLocked(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
