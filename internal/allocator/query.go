package allocator

import (
	"github.com/cu-fleet/curmd/internal/catalogue"
)

// ChannelInfo is one read-only row returned by the allocation queries.
type ChannelInfo struct {
	DeviceID  int
	CUID      int
	ChannelID int
	CUName    string
	ClientID  uint64
	ProcessID int
	ServiceID uint64
	Load      int
	PoolID    uint64
}

// AllocationQuery lists every channel currently held by clientID.
func (a *Allocator) AllocationQuery(clientID uint64) []ChannelInfo {
	return a.queryChannels(func(ch *catalogue.Channel) bool {
		return ch.ClientID == clientID
	})
}

// AllocationQueryByService lists every channel minted under one allocation
// service id. Every seated channel, including each channel of a list or
// group allocation, is minted its own service id.
func (a *Allocator) AllocationQueryByService(serviceID uint64) []ChannelInfo {
	return a.queryChannels(func(ch *catalogue.Channel) bool {
		return ch.ServiceID == serviceID
	})
}

func (a *Allocator) queryChannels(match func(*catalogue.Channel) bool) []ChannelInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []ChannelInfo
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			for chi := range cu.Channels {
				ch := &cu.Channels[chi]
				if ch.Free() || !match(ch) {
					continue
				}
				out = append(out, ChannelInfo{
					DeviceID: di, CUID: ci, ChannelID: chi,
					CUName: cu.CUName, ClientID: ch.ClientID,
					ProcessID: ch.ProcessID, ServiceID: ch.ServiceID,
					Load: ch.Load, PoolID: ch.PoolID,
				})
			}
		}
	}
	return out
}

// ReserveInfo is one read-only row returned by ReservationQuery.
type ReserveInfo struct {
	DeviceID  int
	CUID      int
	CUName    string
	PoolID    uint64
	Total     int
	Used      int
	ClientID  uint64
	ProcessID int
}

// ReservationQuery lists every active reserve belonging to poolID, or to
// every pool if poolID is zero.
func (a *Allocator) ReservationQuery(poolID uint64) []ReserveInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []ReserveInfo
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			for _, r := range cu.Reserves {
				if !r.Active {
					continue
				}
				if poolID != 0 && r.PoolID != poolID {
					continue
				}
				out = append(out, ReserveInfo{
					DeviceID: di, CUID: ci, CUName: cu.CUName,
					PoolID: r.PoolID, Total: r.Total, Used: r.Used,
					ClientID: r.ClientID, ProcessID: r.ProcessID,
				})
			}
		}
	}
	return out
}

// CheckCUAvailableNum returns how many additional instances of
// desc.RequestLoad the catalogue could currently seat, summed over every
// matching CU.
func (a *Allocator) CheckCUAvailableNum(desc catalogue.CUDescriptor) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if desc.RequestLoad <= 0 || !desc.HasMatchField() {
		return 0
	}
	total := 0
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		if !catalogue.MatchesDevice(di, &desc) {
			continue
		}
		if ok, _ := deviceEligible(dev, &desc); !ok {
			continue
		}
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			if !catalogue.MatchesCU(cu, &desc) {
				continue
			}
			avail := cu.AvailableLoad()
			if desc.PoolID != 0 {
				r := cu.FindReserve(desc.PoolID)
				if r == nil {
					continue
				}
				avail = r.AvailableReservedLoad()
			}
			if avail <= 0 {
				continue
			}
			total += avail / desc.RequestLoad
		}
	}
	return total
}

// availableNumProbeCap bounds the allocate-then-release probing loops the
// list/group/pool availability checks run, the same ceiling the original
// daemon applies.
const availableNumProbeCap = 200

// CheckCUListAvailableNum reports how many times the given list could be
// allocated right now, by repeatedly allocating it and then releasing
// everything it granted.
func (a *Allocator) CheckCUListAvailableNum(descs []catalogue.CUDescriptor, mode ListMode) int {
	if len(descs) == 0 || len(descs) > catalogue.MaxListCUs {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var granted []Handle
	count := 0
	for count < availableNumProbeCap {
		var handles []Handle
		var err error
		switch mode {
		case ListModeSameDevice:
			handles, err = a.allocListSameDeviceLocked(descs)
		case ListModeVirtualDevice:
			handles, err = a.allocListVirtualLocked(descs)
		default:
			handles, err = a.allocListAnyDeviceLocked(descs)
		}
		if err != nil {
			break
		}
		granted = append(granted, handles...)
		count++
	}
	a.rollback(granted)
	return count
}

// CheckCUGroupAvailableNum reports how many times the named user-defined
// group could be allocated right now.
func (a *Allocator) CheckCUGroupAvailableNum(name string, clientID uint64, processID int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	group, ok := a.cat.Groups[name]
	if !ok {
		return 0
	}
	var granted []Handle
	count := 0
probe:
	for count < availableNumProbeCap {
		for _, option := range group.OptionLists {
			descs := make([]catalogue.CUDescriptor, len(option))
			copy(descs, option)
			for i := range descs {
				descs[i].ClientID = clientID
				descs[i].ProcessID = processID
			}
			if handles, err := a.allocListAnyDeviceLocked(descs); err == nil {
				granted = append(granted, handles...)
				count++
				continue probe
			}
		}
		break
	}
	a.rollback(granted)
	return count
}

// CheckCUPoolAvailableNum reports how many times the given pool
// specification could be reserved right now, by repeatedly reserving and
// then relinquishing every probe pool.
func (a *Allocator) CheckCUPoolAvailableNum(spec PoolSpec) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	var pools []uint64
	count := 0
	for count < availableNumProbeCap {
		poolID, err := a.reservePoolLocked(spec)
		if err != nil {
			break
		}
		pools = append(pools, poolID)
		count++
	}
	for _, poolID := range pools {
		_ = a.relinquishPoolLocked(poolID)
	}
	return count
}

// CUMaxCapacity returns the declared max-capacity hint for the first CU
// matching desc, or -1 if none match.
func (a *Allocator) CUMaxCapacity(desc catalogue.CUDescriptor) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		if !dev.Loaded {
			continue
		}
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			if catalogue.MatchesCU(cu, &desc) {
				return cu.MaxCapacity
			}
		}
	}
	return -1
}

// CUStatus reports a single CU's current busy/idle/reserved accounting.
type CUStatus struct {
	UsedLoad         int
	ReservedLoad     int
	ReservedUsedLoad int
	NumClients       int
}

func (a *Allocator) CUStatus(devID, cuID int) (CUStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cu, err := a.cat.CU(devID, cuID)
	if err != nil {
		return CUStatus{}, err
	}
	return CUStatus{
		UsedLoad:         cu.TotalUsedLoad,
		ReservedLoad:     cu.TotalReservedLoad,
		ReservedUsedLoad: cu.TotalReservedUsedLoad,
		NumClients:       len(cu.Clients),
	}, nil
}

// IsDaemonRunning always returns true from inside a live process; kept as
// a method so the dispatcher's handler for that verb has something to call
// symmetrically with every other verb.
func (a *Allocator) IsDaemonRunning() bool { return true }
