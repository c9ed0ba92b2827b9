package imageloader

import (
	"sort"
	"sync"
)

// Handles is the shared registry of open per-device handles. The daemon
// opens one handle per probed device at startup; the fault monitor closes
// and removes a handle when its device drops off the bus and re-registers
// a fresh one once the device comes back.
type Handles struct {
	mu sync.Mutex
	m  map[int]DeviceHandle
}

// NewHandles returns an empty registry.
func NewHandles() *Handles {
	return &Handles{m: make(map[int]DeviceHandle)}
}

// Get returns the open handle for device devID, if any.
func (h *Handles) Get(devID int) (DeviceHandle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dh, ok := h.m[devID]
	return dh, ok
}

// Set registers (or replaces) the handle for device devID.
func (h *Handles) Set(devID int, dh DeviceHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[devID] = dh
}

// Delete drops the handle for device devID.
func (h *Handles) Delete(devID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.m, devID)
}

// IDs returns the registered device ids in ascending order.
func (h *Handles) IDs() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, 0, len(h.m))
	for id := range h.m {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
