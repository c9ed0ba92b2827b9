package allocator

import (
	"github.com/google/uuid"

	"github.com/cu-fleet/curmd/internal/catalogue"
)

// PoolSpec describes one cuPoolReserve request: a CU list to reserve
// capacity on (repeated CUListNum times), a count of whole idle devices
// holding a given image to reserve outright, and an explicit device-id
// list.
type PoolSpec struct {
	CUs        []catalogue.CUDescriptor
	CUListNum  int // how many times to reserve the CU list; 0 with CUs set means once
	SameDevice bool

	ImageUUID uuid.UUID // reserve whole devices loaded with this image...
	ImageNum  int       // ...this many of them

	DeviceIDs []int // explicit whole-device reservations

	ClientID  uint64
	ProcessID int
}

// ReservePool reserves capacity per spec as one all-or-nothing transaction,
// minting and returning the new reserve-pool id.
func (a *Allocator) ReservePool(spec PoolSpec) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reservePoolLocked(spec)
}

func (a *Allocator) reservePoolLocked(spec PoolSpec) (uint64, error) {
	if len(spec.CUs) == 0 && spec.ImageNum == 0 && len(spec.DeviceIDs) == 0 {
		return 0, catalogue.ErrInvalidArgument
	}
	if len(spec.CUs) > catalogue.MaxListCUs {
		return 0, catalogue.ErrInvalidArgument
	}

	poolID := a.newPoolID()

	listRounds := spec.CUListNum
	if listRounds == 0 && len(spec.CUs) > 0 {
		listRounds = 1
	}
	for round := 0; round < listRounds; round++ {
		if err := a.reserveCUListLocked(poolID, &spec); err != nil {
			a.undoReserveLocked(poolID)
			return 0, err
		}
	}
	for n := 0; n < spec.ImageNum; n++ {
		if err := a.reserveWholeImageDeviceLocked(poolID, &spec); err != nil {
			a.undoReserveLocked(poolID)
			return 0, err
		}
	}
	for _, devID := range spec.DeviceIDs {
		if err := a.reserveWholeDeviceLocked(poolID, devID, &spec); err != nil {
			a.undoReserveLocked(poolID)
			return 0, err
		}
	}
	return poolID, nil
}

// reserveCUListLocked reserves every descriptor of the spec's CU list under
// poolID, either all on one device (SameDevice) or wherever each fits.
func (a *Allocator) reserveCUListLocked(poolID uint64, spec *PoolSpec) error {
	if spec.SameDevice {
		for di := range a.cat.Devices {
			dev := &a.cat.Devices[di]
			if dev.Disabled || !dev.Loaded {
				continue
			}
			if a.tryReserveListOnDeviceLocked(poolID, di, spec) {
				return nil
			}
		}
		return catalogue.ErrNoKernel
	}
	for i := range spec.CUs {
		if err := a.reserveOneCULocked(poolID, -1, &spec.CUs[i], spec); err != nil {
			return err
		}
	}
	return nil
}

func (a *Allocator) tryReserveListOnDeviceLocked(poolID uint64, devID int, spec *PoolSpec) bool {
	marker := a.reserveMarkerLocked(poolID)
	for i := range spec.CUs {
		if err := a.reserveOneCULocked(poolID, devID, &spec.CUs[i], spec); err != nil {
			a.undoReserveSinceLocked(poolID, marker)
			return false
		}
	}
	return true
}

// reserveOneCULocked finds the first matching CU (on devID, or anywhere if
// devID is -1) with both headroom checks satisfied, and either merges into
// the pool's existing reserve on that CU or opens a new slot.
func (a *Allocator) reserveOneCULocked(poolID uint64, devID int, desc *catalogue.CUDescriptor, spec *PoolSpec) error {
	if !desc.HasMatchField() {
		return catalogue.ErrInvalidArgument
	}
	if desc.RequestLoad <= 0 || desc.RequestLoad > catalogue.MaxUnifiedLoad {
		return catalogue.ErrInvalidArgument
	}
	for di := range a.cat.Devices {
		if devID >= 0 && di != devID {
			continue
		}
		dev := &a.cat.Devices[di]
		if dev.Disabled || !dev.Loaded {
			continue
		}
		if dev.Exclusive && dev.ExclusiveClient != spec.ClientID {
			continue
		}
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			if !catalogue.MatchesCU(cu, desc) {
				continue
			}
			if !cu.CanReserve(desc.RequestLoad) {
				continue
			}
			// One device reference per reserve slot; a merge into the
			// pool's existing slot on this CU keeps the slot's reference.
			if cu.FindReserve(poolID) == nil {
				if err := registerClientOnDevice(dev, spec.ClientID, spec.ProcessID, false); err != nil {
					continue
				}
			}
			reserveLoadOnCU(cu, poolID, desc.RequestLoad, spec.ClientID, spec.ProcessID)
			return nil
		}
	}
	return catalogue.ErrNoKernel
}

// reserveLoadOnCU commits req units of capacity to poolID on cu. Both the
// in-use and reserved totals grow: the unconsumed reservation counts
// against the default pool until channels are seated inside it.
func reserveLoadOnCU(cu *catalogue.CU, poolID uint64, req int, clientID uint64, pid int) {
	cu.TotalUsedLoad += req
	cu.TotalReservedLoad += req
	for i := range cu.Reserves {
		if cu.Reserves[i].Active && cu.Reserves[i].PoolID == poolID {
			cu.Reserves[i].Total += req
			return
		}
	}
	cu.Reserves = append(cu.Reserves, catalogue.Reserve{
		PoolID:    poolID,
		Total:     req,
		ClientID:  clientID,
		ProcessID: pid,
		Active:    true,
	})
}

// reserveWholeImageDeviceLocked reserves every CU of the first fully idle
// device loaded with the spec's image UUID, at 100% each.
func (a *Allocator) reserveWholeImageDeviceLocked(poolID uint64, spec *PoolSpec) error {
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		if dev.Disabled || !dev.Loaded || dev.ImageUUID != spec.ImageUUID {
			continue
		}
		if dev.Busy() {
			continue
		}
		return a.reserveAllCUsLocked(poolID, di, spec)
	}
	return catalogue.ErrNoKernel
}

func (a *Allocator) reserveWholeDeviceLocked(poolID uint64, devID int, spec *PoolSpec) error {
	dev, err := a.cat.Device(devID)
	if err != nil {
		return err
	}
	if !dev.Loaded {
		return catalogue.ErrDeviceNotLoaded
	}
	if dev.Disabled {
		return catalogue.ErrDeviceLocked
	}
	if dev.Busy() {
		return catalogue.ErrDeviceBusy
	}
	return a.reserveAllCUsLocked(poolID, devID, spec)
}

func (a *Allocator) reserveAllCUsLocked(poolID uint64, devID int, spec *PoolSpec) error {
	dev := &a.cat.Devices[devID]
	for ci := range dev.CUs {
		if err := registerClientOnDevice(dev, spec.ClientID, spec.ProcessID, false); err != nil {
			return err
		}
		reserveLoadOnCU(&dev.CUs[ci], poolID, catalogue.MaxUnifiedLoad, spec.ClientID, spec.ProcessID)
	}
	return nil
}

// reserveMarker records how much of poolID is reserved per CU so a failed
// same-device attempt can be unwound without touching earlier rounds.
type reserveMarker map[*catalogue.CU]int

func (a *Allocator) reserveMarkerLocked(poolID uint64) reserveMarker {
	m := make(reserveMarker)
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			for i := range cu.Reserves {
				if cu.Reserves[i].Active && cu.Reserves[i].PoolID == poolID {
					m[cu] = cu.Reserves[i].Total
				}
			}
		}
	}
	return m
}

// undoReserveSinceLocked shrinks poolID's reserves back to the totals the
// marker recorded, dropping slots the failed attempt created outright.
func (a *Allocator) undoReserveSinceLocked(poolID uint64, marker reserveMarker) {
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			for i := range cu.Reserves {
				r := &cu.Reserves[i]
				if !r.Active || r.PoolID != poolID {
					continue
				}
				prior := marker[cu]
				if excess := r.Total - prior; excess > 0 {
					r.Total = prior
					cu.TotalUsedLoad -= excess
					cu.TotalReservedLoad -= excess
					if prior == 0 {
						// The failed attempt opened this slot.
						unregisterClientOnDevice(dev, r.ClientID)
					}
				}
			}
			a.dropEmptyReserve(cu, poolID)
		}
	}
}

// undoReserveLocked removes every trace of a reservation that never
// completed. No channel can have been seated against it yet, so this is
// pure arithmetic reversal.
func (a *Allocator) undoReserveLocked(poolID uint64) {
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			for i := range cu.Reserves {
				r := &cu.Reserves[i]
				if !r.Active || r.PoolID != poolID {
					continue
				}
				cu.TotalUsedLoad -= r.Total
				cu.TotalReservedLoad -= r.Total
				r.Total = 0
				unregisterClientOnDevice(dev, r.ClientID)
			}
			a.dropEmptyReserve(cu, poolID)
		}
	}
}

func (a *Allocator) dropEmptyReserve(cu *catalogue.CU, poolID uint64) {
	live := cu.Reserves[:0]
	for _, r := range cu.Reserves {
		if r.Active && r.PoolID == poolID && r.Total == 0 {
			continue
		}
		live = append(live, r)
	}
	cu.Reserves = live
}

// RelinquishPool releases a reservation. Every reserve in the pool must
// have zero used load — callers release their channels first; a pool with
// consumed capacity is refused without mutating anything.
func (a *Allocator) RelinquishPool(poolID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.relinquishPoolLocked(poolID)
}

func (a *Allocator) relinquishPoolLocked(poolID uint64) error {
	if poolID == 0 {
		return catalogue.ErrInvalidArgument
	}
	found := false
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			for i := range cu.Reserves {
				if cu.Reserves[i].PoolID != poolID {
					continue
				}
				found = true
				if cu.Reserves[i].Used != 0 {
					return catalogue.ErrInvalidArgument
				}
			}
		}
	}
	if !found {
		return catalogue.ErrInvalidArgument
	}

	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			live := cu.Reserves[:0]
			for _, r := range cu.Reserves {
				if r.PoolID != poolID {
					live = append(live, r)
					continue
				}
				cu.TotalUsedLoad -= r.Total
				cu.TotalReservedLoad -= r.Total
				unregisterClientOnDevice(dev, r.ClientID)
			}
			cu.Reserves = live
		}
	}
	return nil
}

// deactivateClientReserves is the recycle path's reserve teardown for one
// departing client: each of its reserves gives its unconsumed capacity back
// to the default pool and disappears. Channels other clients seated against
// the pool stay; on their eventual release the reserve is gone, so their
// load returns to the default pool.
func (a *Allocator) deactivateClientReserves(clientID uint64) {
	for di := range a.cat.Devices {
		dev := &a.cat.Devices[di]
		for ci := range dev.CUs {
			cu := &dev.CUs[ci]
			live := cu.Reserves[:0]
			for _, r := range cu.Reserves {
				if !r.Active || r.ClientID != clientID {
					live = append(live, r)
					continue
				}
				cu.TotalUsedLoad -= r.Total - r.Used
				cu.TotalReservedLoad -= r.Total
				cu.TotalReservedUsedLoad -= r.Used
			}
			cu.Reserves = live
		}
	}
}
