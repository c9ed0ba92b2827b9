package catalogue

import "fmt"

// CheckInvariants walks the whole catalogue and returns the first violated
// invariant it finds, or nil. It is used by tests; it is never called on
// the daemon's hot path.
func (c *Catalogue) CheckInvariants() error {
	for di := range c.Devices {
		dev := &c.Devices[di]
		if !dev.Loaded {
			if len(dev.CUs) != 0 {
				return fmt.Errorf("device %d: unloaded but has %d CUs", di, len(dev.CUs))
			}
			continue
		}
		if err := dev.checkInvariants(); err != nil {
			return fmt.Errorf("device %d: %w", di, err)
		}
	}
	return nil
}

func (d *Device) checkInvariants() error {
	for ci := range d.CUs {
		cu := &d.CUs[ci]
		if err := cu.checkInvariants(); err != nil {
			return fmt.Errorf("cu %d (%s): %w", ci, cu.CUName, err)
		}
	}

	// A client id holding any channel or active reserve on some CU of the
	// device must appear in the device's client table (exclusive holders
	// included).
	seen := make(map[uint64]bool)
	for ci := range d.CUs {
		cu := &d.CUs[ci]
		for clientID := range cu.Clients {
			seen[clientID] = true
		}
		for _, r := range cu.Reserves {
			if r.Active && r.ClientID != 0 {
				seen[r.ClientID] = true
			}
		}
	}
	if d.Exclusive {
		seen[d.ExclusiveClient] = true
	}
	for clientID := range seen {
		if _, ok := d.Clients[clientID]; !ok {
			return fmt.Errorf("client %d holds resources but is absent from device client set", clientID)
		}
	}
	if d.Exclusive && len(d.Clients) > 1 {
		return fmt.Errorf("exclusive device has %d clients registered", len(d.Clients))
	}
	return nil
}

func (cu *CU) checkInvariants() error {
	var channelSum int
	clientCounts := make(map[uint64]int)
	for i := range cu.Channels {
		ch := &cu.Channels[i]
		if ch.Free() {
			if ch.Load != 0 || ch.ClientID != 0 {
				return fmt.Errorf("channel %d: free but load=%d client=%d", i, ch.Load, ch.ClientID)
			}
			continue
		}
		if ch.Load <= 0 || ch.Load > MaxUnifiedLoad {
			return fmt.Errorf("channel %d: load %d out of range", i, ch.Load)
		}
		channelSum += ch.Load
		clientCounts[ch.ClientID]++
	}

	// I4: CU client set exactly matches which clients hold non-free
	// channels.
	if len(clientCounts) != len(cu.Clients) {
		return fmt.Errorf("client set size %d disagrees with %d distinct channel holders", len(cu.Clients), len(clientCounts))
	}
	for clientID, n := range clientCounts {
		if cu.Clients[clientID] != n {
			return fmt.Errorf("client %d: tracked count %d disagrees with %d held channels", clientID, cu.Clients[clientID], n)
		}
	}

	// I2: TotalReservedLoad equals the sum of active reserves' totals and
	// stays under the ceiling; used load inside a reserve never exceeds its
	// total.
	var reserved, reservedUsed int
	for i := range cu.Reserves {
		r := &cu.Reserves[i]
		if !r.Active {
			continue
		}
		if r.Used > r.Total {
			return fmt.Errorf("reserve pool %d: used %d exceeds total %d", r.PoolID, r.Used, r.Total)
		}
		reserved += r.Total
		reservedUsed += r.Used
	}
	if reserved != cu.TotalReservedLoad {
		return fmt.Errorf("cached TotalReservedLoad %d disagrees with reserve sum %d", cu.TotalReservedLoad, reserved)
	}
	if reserved > MaxUnifiedLoad {
		return fmt.Errorf("reserved load %d exceeds ceiling %d", reserved, MaxUnifiedLoad)
	}
	if reservedUsed != cu.TotalReservedUsedLoad {
		return fmt.Errorf("cached TotalReservedUsedLoad %d disagrees with reserve sum %d", cu.TotalReservedUsedLoad, reservedUsed)
	}

	// I1: TotalUsedLoad = channel loads + the unconsumed part of every
	// active reserve, and stays under the ceiling.
	want := channelSum + (reserved - reservedUsed)
	if cu.TotalUsedLoad != want {
		return fmt.Errorf("cached TotalUsedLoad %d disagrees with channels %d + unconsumed reserves %d",
			cu.TotalUsedLoad, channelSum, reserved-reservedUsed)
	}
	if cu.TotalUsedLoad > MaxUnifiedLoad {
		return fmt.Errorf("used load %d exceeds ceiling %d", cu.TotalUsedLoad, MaxUnifiedLoad)
	}
	return nil
}
