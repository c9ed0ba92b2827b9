package allocator

import (
	"github.com/cu-fleet/curmd/internal/catalogue"
)

// Release gives back one seated channel. The handle's service id, when
// nonzero, must match the channel's record; a mismatch is refused. The
// channel's client id and pool id are not compared against the caller.
func (a *Allocator) Release(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releaseLocked(h)
}

func (a *Allocator) releaseLocked(h Handle) error {
	dev, err := a.cat.Device(h.DeviceID)
	if err != nil {
		return err
	}
	if h.CUID < 0 || h.CUID >= len(dev.CUs) {
		return catalogue.ErrInvalidArgument
	}
	cu := &dev.CUs[h.CUID]
	if h.ChannelID < 0 || h.ChannelID >= len(cu.Channels) {
		return catalogue.ErrInvalidArgument
	}
	ch := &cu.Channels[h.ChannelID]
	if ch.Free() {
		return catalogue.ErrNoChannel
	}
	if h.ServiceID != 0 && ch.ServiceID != h.ServiceID {
		return catalogue.ErrInvalidArgument
	}
	clientID := ch.ClientID
	unseat(cu, h.ChannelID)
	unregisterClientOnDevice(dev, clientID)
	return nil
}

// ReleaseByServiceID releases every channel minted under one allocation
// service id, anywhere in the catalogue.
func (a *Allocator) ReleaseByServiceID(serviceID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if serviceID == 0 {
		return catalogue.ErrInvalidArgument
	}
	found := false
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			for chi := range cu.Channels {
				ch := &cu.Channels[chi]
				if ch.Free() || ch.ServiceID != serviceID {
					continue
				}
				clientID := ch.ClientID
				unseat(cu, chi)
				unregisterClientOnDevice(dev, clientID)
				found = true
			}
		}
	}
	if !found {
		return catalogue.ErrNoChannel
	}
	return nil
}

// ReleaseGroup releases every handle originally granted by one group
// allocation. Semantically identical to ReleaseList; kept as a distinct
// name to mirror the wire protocol's distinct verb.
func (a *Allocator) ReleaseGroup(handles []Handle) error {
	return a.ReleaseList(handles)
}
