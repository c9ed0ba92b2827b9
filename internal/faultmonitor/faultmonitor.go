// Package faultmonitor runs the daemon's background health sweep: once a
// second it checks every loaded device for having dropped off the bus and
// every client recorded against a device for still being a live process.
// An offline device is reset — its clients recycled, its image unloaded,
// its handle closed — and the handle is reopened once the device answers
// again.
package faultmonitor

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/procfs"
	"k8s.io/klog/v2"

	"github.com/cu-fleet/curmd/internal/allocator"
	"github.com/cu-fleet/curmd/internal/imageloader"
)

// Monitor runs the periodic device-health and client-liveness sweep.
type Monitor struct {
	alloc   *allocator.Allocator
	loader  imageloader.Loader
	handles *imageloader.Handles
	procfs  procfs.FS

	// pendingReopen holds device ids whose handle was closed by a reset
	// and not yet successfully reopened.
	pendingReopen map[int]bool

	sigbus atomic.Bool
	period time.Duration
}

// New builds a Monitor. handles must hold one opened DeviceHandle per
// present device, keyed by device index.
func New(alloc *allocator.Allocator, loader imageloader.Loader, handles *imageloader.Handles) (*Monitor, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return &Monitor{
		alloc:         alloc,
		loader:        loader,
		handles:       handles,
		procfs:        fs,
		pendingReopen: make(map[int]bool),
		period:        time.Second,
	}, nil
}

// Run blocks, sweeping once per period until ctx is canceled. It also
// installs a SIGBUS handler; a SIGBUS delivered to the daemon (typically
// from touching a memory-mapped region of a device that has just gone
// offline) sets a flag Sweep consults instead of crashing the process.
func (m *Monitor) Run(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGBUS)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			m.sigbus.Store(true)
			klog.ErrorS(nil, "received SIGBUS, flagging for next sweep")
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// SIGBUSFlagged reports whether a SIGBUS has been observed since the last
// call, clearing the flag.
func (m *Monitor) SIGBUSFlagged() bool {
	return m.sigbus.Swap(false)
}

func (m *Monitor) sweep(ctx context.Context) {
	if m.SIGBUSFlagged() {
		klog.InfoS("sweeping all devices after a SIGBUS")
	}
	m.reopenClosedDevices(ctx)
	for _, devID := range m.handles.IDs() {
		h, ok := m.handles.Get(devID)
		if !ok {
			continue
		}
		offline, err := m.loader.IsDeviceOffline(ctx, h)
		if err != nil {
			klog.ErrorS(err, "device health check failed", "device", devID)
			continue
		}
		if offline {
			m.resetDevice(ctx, devID, h)
		}
	}
	m.sweepDeadClients()
}

// resetDevice tears down a device that has dropped off the bus: every
// client registered on it is recycled, the image is unloaded, and the
// hardware handle is closed. The handle is reopened on a later sweep once
// the device answers again.
func (m *Monitor) resetDevice(ctx context.Context, devID int, h imageloader.DeviceHandle) {
	clients := m.alloc.DeviceClients(devID)
	for _, clientID := range clients {
		m.alloc.RecycleClient(clientID)
	}
	if err := m.alloc.UnloadDevice(devID); err != nil {
		klog.ErrorS(err, "failed to unload offline device", "device", devID)
	}
	if err := m.loader.CloseDevice(ctx, h); err != nil {
		klog.ErrorS(err, "failed to close offline device handle", "device", devID)
	}
	m.handles.Delete(devID)
	m.pendingReopen[devID] = true
	klog.InfoS("reset offline device", "device", devID, "recycledClients", len(clients))
}

// reopenClosedDevices retries OpenDevice for every device a reset closed,
// re-registering the handle once the hardware answers again.
func (m *Monitor) reopenClosedDevices(ctx context.Context) {
	for devID := range m.pendingReopen {
		h, err := m.loader.OpenDevice(ctx, devID)
		if err != nil {
			continue
		}
		m.handles.Set(devID, h)
		delete(m.pendingReopen, devID)
		klog.InfoS("reopened device handle", "device", devID)
	}
}

// sweepDeadClients recycles any client recorded against a device whose
// process id no longer exists in /proc, catching clients that crashed
// without a clean disconnect (a gap the socket-close path alone can't
// cover, e.g. after restoring a stale snapshot).
func (m *Monitor) sweepDeadClients() {
	for _, clientID := range m.alloc.LiveClientIDs() {
		pid, ok := m.alloc.ClientProcessID(clientID)
		if !ok {
			continue
		}
		if _, err := m.procfs.Proc(pid); err != nil {
			klog.InfoS("client process no longer exists, recycling", "client", clientID, "pid", pid)
			m.alloc.RecycleClient(clientID)
		}
	}
}
