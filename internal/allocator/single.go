package allocator

import (
	"github.com/google/uuid"

	"github.com/cu-fleet/curmd/internal/catalogue"
)

// Handle identifies one seated channel: the caller's receipt for a single
// CU allocation, carrying everything the wire response echoes back.
type Handle struct {
	DeviceID  int
	CUID      int
	ChannelID int
	ServiceID uint64
	PoolID    uint64

	KernelName   string
	InstanceName string
	CUName       string
	MemBank      int

	ImageName string
	ImageUUID uuid.UUID

	Load         int // unified
	LoadOriginal int // as the caller encoded it
}

// LoadableImage is the parsed form of a binary image the with-load alloc
// variants can install on an idle device mid-allocation.
type LoadableImage struct {
	Name string
	UUID uuid.UUID
	CUs  []catalogue.ImageCU
}

// ProgramFunc physically programs device devID with the image the caller
// named and returns its parsed contents. It runs under the global lock — a
// tolerated long operation, since it mutates catalogue state.
type ProgramFunc func(devID int) (LoadableImage, error)

// deviceEligible reports whether dev can host a request for desc at all,
// and whether it was rejected for a device-level reason (exclusively held
// by someone else) rather than simply not matching.
func deviceEligible(dev *catalogue.Device, desc *catalogue.CUDescriptor) (ok, deviceLevel bool) {
	if dev.Disabled || !dev.Loaded {
		return false, false
	}
	if dev.Exclusive && dev.ExclusiveClient != desc.ClientID {
		return false, true
	}
	if desc.Exclusive {
		for otherID := range dev.Clients {
			if otherID != desc.ClientID {
				return false, true
			}
		}
	}
	return true, false
}

// candidate is one matching, seatable CU found during a scan.
type candidate struct {
	devID int
	cuID  int
	cu    *catalogue.CU
}

// scanResult separates "nothing matched" from "a matching CU exists but
// its device is unavailable", so callers can report no-device instead of
// no-kernel.
type scanResult struct {
	cands          []candidate
	deviceExcluded bool
}

// scanCUs walks every device's CUs and collects those that match desc and
// have room. affinityOnly restricts the scan to CUs the client already
// holds a channel on — the first pass of the two-pass algorithm.
func scanCUs(cat *catalogue.Catalogue, desc *catalogue.CUDescriptor, affinityOnly bool) scanResult {
	var res scanResult
	for di := range cat.Devices {
		dev := &cat.Devices[di]
		if !catalogue.MatchesDevice(di, desc) {
			continue
		}
		ok, deviceLevel := deviceEligible(dev, desc)
		if !ok {
			if deviceLevel && deviceHasMatch(dev, desc) {
				res.deviceExcluded = true
			}
			continue
		}
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			if !catalogue.MatchesCU(cu, desc) {
				continue
			}
			if affinityOnly && !cu.UsedByClient(desc.ClientID) {
				continue
			}
			if !cu.CanSeat(desc) || cu.FreeChannelIndex() < 0 {
				continue
			}
			res.cands = append(res.cands, candidate{devID: di, cuID: ci, cu: cu})
		}
	}
	return res
}

func deviceHasMatch(dev *catalogue.Device, desc *catalogue.CUDescriptor) bool {
	for ci := range dev.CUs {
		if catalogue.MatchesCU(&dev.CUs[ci], desc) {
			return true
		}
	}
	return false
}

// pick selects one candidate according to policy. PolicyNone takes the
// first candidate in scan order (lowest device, lowest CU index), the
// original daemon's deterministic first-fit. PolicyMostUsedFirst packs load
// onto the busiest CU with room; PolicyLeastUsedFirst spreads load onto the
// idlest one, tie-breaking on scan order.
func pick(cands []candidate, policy catalogue.Policy) *candidate {
	if len(cands) == 0 {
		return nil
	}
	best := &cands[0]
	if policy == catalogue.PolicyNone {
		return best
	}
	for i := 1; i < len(cands); i++ {
		c := &cands[i]
		switch policy {
		case catalogue.PolicyMostUsedFirst:
			if c.cu.TotalUsedLoad > best.cu.TotalUsedLoad {
				best = c
			}
		case catalogue.PolicyLeastUsedFirst:
			if c.cu.TotalUsedLoad < best.cu.TotalUsedLoad {
				best = c
			}
		}
	}
	return best
}

// AllocCU performs a single-CU allocation: a two-pass affinity search over
// every eligible device, seating one channel on the first CU that matches
// and has room.
func (a *Allocator) AllocCU(desc catalogue.CUDescriptor) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocCULocked(&desc)
}

// AllocCUFromDev is AllocCU restricted to one caller-named device.
func (a *Allocator) AllocCUFromDev(devID int, desc catalogue.CUDescriptor) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.cat.Device(devID); err != nil {
		return Handle{}, err
	}
	desc.DeviceID = devID
	return a.allocCULocked(&desc)
}

func (a *Allocator) allocCULocked(desc *catalogue.CUDescriptor) (Handle, error) {
	if !desc.HasMatchField() {
		return Handle{}, catalogue.ErrInvalidArgument
	}
	if desc.RequestLoad <= 0 || desc.RequestLoad > catalogue.MaxUnifiedLoad {
		return Handle{}, catalogue.ErrInvalidArgument
	}

	res := scanCUs(a.cat, desc, true)
	chosen := pick(res.cands, desc.Policy)
	if chosen == nil {
		second := scanCUs(a.cat, desc, false)
		second.deviceExcluded = second.deviceExcluded || res.deviceExcluded
		res = second
		chosen = pick(res.cands, desc.Policy)
	}
	if chosen == nil {
		if res.deviceExcluded {
			return Handle{}, catalogue.ErrNoDevice
		}
		return Handle{}, catalogue.ErrNoKernel
	}
	return a.commitSeat(chosen, desc)
}

// commitSeat registers the client on the candidate's device and seats the
// channel, undoing the registration if the seating falls through.
func (a *Allocator) commitSeat(c *candidate, desc *catalogue.CUDescriptor) (Handle, error) {
	dev := &a.cat.Devices[c.devID]
	if err := registerClientOnDevice(dev, desc.ClientID, desc.ProcessID, desc.Exclusive); err != nil {
		return Handle{}, err
	}
	serviceID := a.newServiceID()
	idx := seat(c.cu, desc, serviceID)
	if idx < 0 {
		unregisterClientOnDevice(dev, desc.ClientID)
		return Handle{}, catalogue.ErrNoChannel
	}
	return Handle{
		DeviceID:     c.devID,
		CUID:         c.cuID,
		ChannelID:    idx,
		ServiceID:    serviceID,
		PoolID:       desc.PoolID,
		KernelName:   c.cu.KernelName,
		InstanceName: c.cu.InstanceName,
		CUName:       c.cu.CUName,
		MemBank:      c.cu.MemBank,
		ImageName:    dev.ImageName,
		ImageUUID:    dev.ImageUUID,
		Load:         desc.RequestLoad,
		LoadOriginal: desc.RequestLoadOriginal,
	}, nil
}

// AllocCUWithLoad tries a plain allocation first; when no loaded device can
// host the request, it programs the caller-supplied image onto a device
// that is either unloaded or loaded-and-idle, then retries.
func (a *Allocator) AllocCUWithLoad(desc catalogue.CUDescriptor, program ProgramFunc) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, err := a.allocCULocked(&desc)
	if err == nil {
		return h, nil
	}
	if program == nil || err != catalogue.ErrNoKernel {
		return Handle{}, err
	}
	devID, err2 := a.loadOntoIdleDeviceLocked(program)
	if err2 != nil {
		return Handle{}, err
	}
	restricted := desc
	restricted.DeviceID = devID
	return a.allocCULocked(&restricted)
}

// loadOntoIdleDeviceLocked programs the image onto the first device that is
// not loaded, or loaded but completely idle, returning the device id.
func (a *Allocator) loadOntoIdleDeviceLocked(program ProgramFunc) (int, error) {
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		if dev.Disabled {
			continue
		}
		if dev.Loaded && dev.Busy() {
			continue
		}
		img, err := program(di)
		if err != nil {
			continue
		}
		dev.Load(img.Name, img.UUID, img.CUs)
		return di, nil
	}
	return -1, catalogue.ErrNoDevice
}

// AllocLeastUsedCUWithLoad is the strict least-used variant: the hosting
// device must hold the caller-named image. It first tries to seat on a CU
// with no channels in use on such a device, then loads the image onto an
// idle device, and finally falls back to the matching CU with the minimum
// used load that still has room, tie-breaking on (load, device id, CU id)
// by scan order.
func (a *Allocator) AllocLeastUsedCUWithLoad(desc catalogue.CUDescriptor, imageName string, program ProgramFunc) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !desc.HasMatchField() {
		return Handle{}, catalogue.ErrInvalidArgument
	}
	if desc.RequestLoad <= 0 || desc.RequestLoad > catalogue.MaxUnifiedLoad {
		return Handle{}, catalogue.ErrInvalidArgument
	}

	if c := a.findLeastUsedCandidate(&desc, imageName, true); c != nil {
		return a.commitSeat(c, &desc)
	}
	if program != nil {
		if devID, err := a.loadOntoIdleDeviceLocked(program); err == nil {
			restricted := desc
			restricted.DeviceID = devID
			if h, err := a.allocCULocked(&restricted); err == nil {
				return h, nil
			}
		}
	}
	if c := a.findLeastUsedCandidate(&desc, imageName, false); c != nil {
		return a.commitSeat(c, &desc)
	}
	return Handle{}, catalogue.ErrNoKernel
}

// findLeastUsedCandidate scans devices holding imageName for the matching
// CU with minimum TotalUsedLoad that can accept the request. unusedOnly
// restricts the scan to CUs with no channels currently in use.
func (a *Allocator) findLeastUsedCandidate(desc *catalogue.CUDescriptor, imageName string, unusedOnly bool) *candidate {
	var best *candidate
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		if imageName != "" && dev.ImageName != imageName {
			continue
		}
		if ok, _ := deviceEligible(dev, desc); !ok {
			continue
		}
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			if !catalogue.MatchesCU(cu, desc) {
				continue
			}
			if unusedOnly && len(cu.Clients) > 0 {
				continue
			}
			if !cu.CanSeat(desc) || cu.FreeChannelIndex() < 0 {
				continue
			}
			if best == nil || cu.TotalUsedLoad < best.cu.TotalUsedLoad {
				best = &candidate{devID: di, cuID: ci, cu: cu}
			}
		}
	}
	return best
}
