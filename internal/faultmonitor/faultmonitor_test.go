package faultmonitor

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/cu-fleet/curmd/internal/allocator"
	"github.com/cu-fleet/curmd/internal/catalogue"
	"github.com/cu-fleet/curmd/internal/imageloader"
)

func newTestMonitor(t *testing.T) (*Monitor, *allocator.Allocator, *imageloader.Fake) {
	t.Helper()
	ctx := context.Background()

	loader := imageloader.NewFake()
	n, err := loader.ProbeDevices(ctx)
	if err != nil {
		t.Fatalf("ProbeDevices: %v", err)
	}
	handles := imageloader.NewHandles()
	for i := 0; i < n; i++ {
		h, err := loader.OpenDevice(ctx, i)
		if err != nil {
			t.Fatalf("OpenDevice(%d): %v", i, err)
		}
		handles.Set(i, h)
	}

	cat := catalogue.New(n)
	alloc := allocator.New(cat)
	for i := 0; i < n; i++ {
		err := alloc.LoadDevice(i, "test.xclbin", uuid.New(), []catalogue.ImageCU{
			{KernelName: "krnl_vadd", InstanceName: "vadd_0", Kind: catalogue.KindHardware, MaxCapacity: catalogue.MaxUnifiedLoad},
		})
		if err != nil {
			t.Fatalf("LoadDevice(%d): %v", i, err)
		}
	}

	mon, err := New(alloc, loader, handles)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mon, alloc, loader
}

func allocOn(t *testing.T, alloc *allocator.Allocator, devID int, clientID uint64, pid int) {
	t.Helper()
	desc := catalogue.CUDescriptor{
		KernelName:      "krnl_vadd",
		RequestLoad:     300_000,
		ClientID:        clientID,
		ProcessID:       pid,
		DeviceID:        devID,
		VirtualDeviceID: -1,
		MemBank:         -1,
	}
	if _, err := alloc.AllocCU(desc); err != nil {
		t.Fatalf("AllocCU on device %d: %v", devID, err)
	}
}

// An offline device is fully reset: its clients recycled, its image
// unloaded, and its handle closed for reopening once it answers again.
func TestSweepResetsOfflineDevice(t *testing.T) {
	mon, alloc, loader := newTestMonitor(t)
	ctx := context.Background()

	allocOn(t, alloc, 1, 55, 1)

	loader.SetOffline(1, true)
	mon.sweep(ctx)

	info, err := alloc.DeviceInfo(1)
	if err != nil {
		t.Fatalf("DeviceInfo: %v", err)
	}
	if info.Loaded {
		t.Fatal("expected the offline device to be unloaded by the sweep")
	}
	if rows := alloc.AllocationQuery(55); len(rows) != 0 {
		t.Fatalf("expected the offline device's client recycled, found %d channels", len(rows))
	}
	if _, ok := mon.handles.Get(1); ok {
		t.Fatal("expected the offline device's handle closed and removed")
	}

	// The healthy device is untouched.
	info, err = alloc.DeviceInfo(0)
	if err != nil {
		t.Fatalf("DeviceInfo: %v", err)
	}
	if !info.Loaded {
		t.Fatal("expected the healthy device to stay loaded")
	}

	// Once the device answers again, a later sweep reopens its handle.
	loader.SetOffline(1, false)
	mon.sweep(ctx)
	if _, ok := mon.handles.Get(1); !ok {
		t.Fatal("expected the handle reopened after the device came back")
	}
}

func TestSweepRecyclesDeadClients(t *testing.T) {
	mon, alloc, _ := newTestMonitor(t)

	// A pid that cannot exist: beyond any configurable pid_max.
	allocOn(t, alloc, 0, 55, 1<<30)

	mon.sweepDeadClients()

	if rows := alloc.AllocationQuery(55); len(rows) != 0 {
		t.Fatalf("expected the dead client's channels recycled, found %d", len(rows))
	}
}

func TestSweepKeepsLiveClients(t *testing.T) {
	mon, alloc, _ := newTestMonitor(t)

	allocOn(t, alloc, 0, 56, 1) // init always exists

	mon.sweepDeadClients()

	if rows := alloc.AllocationQuery(56); len(rows) != 1 {
		t.Fatalf("expected the live client's channel kept, found %d", len(rows))
	}
}
