package allocator

// LiveClientIDs returns every distinct client id currently holding any
// resource anywhere in the catalogue (a channel, a reserve, or a device
// registration, exclusive or not), used by internal/faultmonitor's
// dead-process sweep.
func (a *Allocator) LiveClientIDs() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[uint64]struct{})
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		for clientID := range dev.Clients {
			seen[clientID] = struct{}{}
		}
		if dev.Exclusive {
			seen[dev.ExclusiveClient] = struct{}{}
		}
	}
	out := make([]uint64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// DeviceClients returns every client id currently registered on device
// devID, used by the fault monitor to recycle everyone seated on a device
// that has dropped off the bus.
func (a *Allocator) DeviceClients(devID int) []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	dev, err := a.cat.Device(devID)
	if err != nil {
		return nil
	}
	out := make([]uint64, 0, len(dev.Clients))
	for clientID := range dev.Clients {
		out = append(out, clientID)
	}
	return out
}

// ClientProcessID returns the process id last recorded for clientID via
// its device registration, or ok=false if the client holds no device
// registration right now.
func (a *Allocator) ClientProcessID(clientID uint64) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		if ref, ok := dev.Clients[clientID]; ok {
			return ref.ProcessID, true
		}
	}
	return 0, false
}
