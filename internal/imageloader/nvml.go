package imageloader

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/google/uuid"

	"github.com/cu-fleet/curmd/internal/catalogue"
)

// nvmlLoader backs the image-loader collaborator with the real hardware
// via go-nvml. Device locking shells out to nvidia-smi for
// the compute-mode switch, since go-nvml exposes no stable cross-version
// compute-mode setter.
type nvmlLoader struct {
	nvml nvml.Interface
}

// newNVMLLoader probes for a working NVML library, returning an error if
// none is present so New() can fall back to the fake loader.
func newNVMLLoader() (Loader, error) {
	lib := nvml.New()
	if ret := lib.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("imageloader: nvml init failed: %v", ret)
	}
	return &nvmlLoader{nvml: lib}, nil
}

type nvmlHandle struct {
	index  int
	uuid   string
	device nvml.Device
}

func (l *nvmlLoader) ProbeDevices(_ context.Context) (int, error) {
	count, ret := l.nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("imageloader: DeviceGetCount: %v", ret)
	}
	return count, nil
}

func (l *nvmlLoader) OpenDevice(_ context.Context, index int) (DeviceHandle, error) {
	dev, ret := l.nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("imageloader: DeviceGetHandleByIndex(%d): %v", index, ret)
	}
	id, ret := dev.GetUUID()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("imageloader: GetUUID(%d): %v", index, ret)
	}
	return &nvmlHandle{index: index, uuid: id, device: dev}, nil
}

func (l *nvmlLoader) CloseDevice(_ context.Context, _ DeviceHandle) error {
	// NVML device handles are not individually closed, and the loader
	// never calls l.nvml.Shutdown().
	return nil
}

// LoadImage programs a device from a binary image file. NVML itself has no
// "load xclbin" primitive — that concept belongs to the accelerator card's
// own runtime — so this confirms the image file and the device are both
// present and healthy and hands back a fresh identity for it.
func (l *nvmlLoader) LoadImage(ctx context.Context, h DeviceHandle, imagePath string) (string, uuid.UUID, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return "", uuid.UUID{}, fmt.Errorf("imageloader: stat %q: %w", imagePath, err)
	}
	if offline, err := l.IsDeviceOffline(ctx, h); err != nil {
		return "", uuid.UUID{}, err
	} else if offline {
		return "", uuid.UUID{}, catalogue.ErrDeviceLocked
	}
	return imagePath, uuid.New(), nil
}

func (l *nvmlLoader) LockDevice(_ context.Context, h DeviceHandle) error {
	return l.setComputeMode(h, "EXCLUSIVE_PROCESS")
}

func (l *nvmlLoader) UnlockDevice(_ context.Context, h DeviceHandle) error {
	return l.setComputeMode(h, "DEFAULT")
}

func (l *nvmlLoader) setComputeMode(h DeviceHandle, mode string) error {
	nh, ok := h.(*nvmlHandle)
	if !ok {
		return fmt.Errorf("imageloader: invalid handle")
	}
	cmd := exec.Command("nvidia-smi", "-i", nh.uuid, "-c", mode)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("imageloader: nvidia-smi -c %s: %w: %s", mode, err, out)
	}
	return nil
}

// ParseImage has no hardware-independent metadata source on real NVML
// hardware; it returns a single default CU description for any existing
// image file, matching the original daemon's behavior when an image carries no
// embedded CU manifest.
func (l *nvmlLoader) ParseImage(_ context.Context, imagePath string) ([]catalogue.ImageCU, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return nil, fmt.Errorf("imageloader: stat %q: %w", imagePath, err)
	}
	return []catalogue.ImageCU{{
		KernelName:   "default_kernel",
		InstanceName: "inst_0",
		Kind:         catalogue.KindHardware,
		MaxCapacity:  catalogue.MaxUnifiedLoad,
		MemBank:      -1,
	}}, nil
}

func (l *nvmlLoader) IPNameToIndex(_ DeviceHandle, _ string) int {
	return -1
}

// IsDeviceOffline treats a failing NVML query against an otherwise-opened
// handle as the device having dropped off the bus.
func (l *nvmlLoader) IsDeviceOffline(_ context.Context, h DeviceHandle) (bool, error) {
	nh, ok := h.(*nvmlHandle)
	if !ok {
		return false, fmt.Errorf("imageloader: invalid handle")
	}
	_, ret := nh.device.GetUUID()
	return ret != nvml.SUCCESS, nil
}
