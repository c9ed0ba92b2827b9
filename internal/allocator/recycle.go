package allocator

import "k8s.io/klog/v2"

// RecycleClient reclaims everything clientID holds: its reservations, its
// seated channels, and its device registrations, then releases its slot in
// the concurrent-client count.
//
// Reservation capacity the client never consumed returns to each CU's
// default pool; channels *other* clients seated against one of its
// reservations are left alone, their load counted against the default pool
// from now on. This asymmetry is deliberate and observable.
func (a *Allocator) RecycleClient(clientID uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recycleClientLocked(clientID)
}

func (a *Allocator) recycleClientLocked(clientID uint64) {
	if clientID == 0 {
		return
	}

	a.deactivateClientReserves(clientID)

	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			for chi := range cu.Channels {
				ch := &cu.Channels[chi]
				if ch.Free() || ch.ClientID != clientID {
					continue
				}
				unseat(cu, chi)
			}
		}
		dropClientFromDevice(dev, clientID)
	}

	if a.connectedClients > 0 {
		a.connectedClients--
	}
	klog.V(2).InfoS("recycled client", "client", clientID)
}
