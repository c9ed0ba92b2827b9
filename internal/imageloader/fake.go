package imageloader

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cu-fleet/curmd/internal/catalogue"
)

// Fake is a deterministic in-memory image loader for tests and for hosts
// with no accelerator hardware.
type Fake struct {
	mu      sync.Mutex
	opened  map[int]bool
	offline map[int]bool
}

func newFakeLoader() Loader {
	return NewFake()
}

// NewFake returns a *Fake directly, so tests can reach its SetOffline hook
// without a type assertion.
func NewFake() *Fake {
	return &Fake{opened: make(map[int]bool), offline: make(map[int]bool)}
}

type fakeHandle struct {
	index int
}

// NumFakeDevices is how many synthetic devices the fake loader reports.
const NumFakeDevices = 2

func (f *Fake) ProbeDevices(_ context.Context) (int, error) {
	return NumFakeDevices, nil
}

func (f *Fake) OpenDevice(_ context.Context, index int) (DeviceHandle, error) {
	if index < 0 || index >= NumFakeDevices {
		return nil, fmt.Errorf("imageloader: no such fake device %d", index)
	}
	f.mu.Lock()
	f.opened[index] = true
	f.mu.Unlock()
	return &fakeHandle{index: index}, nil
}

func (f *Fake) CloseDevice(_ context.Context, h DeviceHandle) error {
	fh, ok := h.(*fakeHandle)
	if !ok {
		return fmt.Errorf("imageloader: invalid handle")
	}
	f.mu.Lock()
	delete(f.opened, fh.index)
	f.mu.Unlock()
	return nil
}

func (f *Fake) LoadImage(ctx context.Context, h DeviceHandle, imagePath string) (string, uuid.UUID, error) {
	if offline, err := f.IsDeviceOffline(ctx, h); err != nil {
		return "", uuid.UUID{}, err
	} else if offline {
		return "", uuid.UUID{}, catalogue.ErrDeviceLocked
	}
	return imagePath, uuid.New(), nil
}

func (f *Fake) LockDevice(_ context.Context, _ DeviceHandle) error   { return nil }
func (f *Fake) UnlockDevice(_ context.Context, _ DeviceHandle) error { return nil }

// ParseImage synthesizes the same fixed set of CUs (krnl_vadd:vadd_1 and
// krnl_vmult:vmult_1) whatever the image path, so tests get stable,
// inspectable kernel names.
func (f *Fake) ParseImage(_ context.Context, imagePath string) ([]catalogue.ImageCU, error) {
	return []catalogue.ImageCU{
		{KernelName: "krnl_vadd", InstanceName: "vadd_1", Kind: catalogue.KindHardware, MaxCapacity: catalogue.MaxUnifiedLoad, MemBank: 0},
		{KernelName: "krnl_vmult", InstanceName: "vmult_1", Kind: catalogue.KindHardware, MaxCapacity: catalogue.MaxUnifiedLoad, MemBank: 0},
	}, nil
}

func (f *Fake) IPNameToIndex(_ DeviceHandle, ipName string) int {
	switch ipName {
	case "krnl_vadd:vadd_1":
		return 0
	case "krnl_vmult:vmult_1":
		return 1
	default:
		return -1
	}
}

func (f *Fake) IsDeviceOffline(_ context.Context, h DeviceHandle) (bool, error) {
	fh, ok := h.(*fakeHandle)
	if !ok {
		return false, fmt.Errorf("imageloader: invalid handle")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offline[fh.index], nil
}

// SetOffline is a test-only hook letting unit tests simulate a card
// dropping off the bus.
func (f *Fake) SetOffline(index int, offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline[index] = offline
}
