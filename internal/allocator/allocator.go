// Package allocator implements the resource-allocation, reservation and
// recycle algorithms over an internal/catalogue.Catalogue under a single
// global lock.
//
// Every exported method acquires the lock once and then calls unexported
// helpers that assume the lock is already held and never lock themselves.
// This gives the daemon the "higher-level verbs call lower-level verbs
// inside the same critical section" behavior the original C++ daemon got
// from a reentrant mutex, without needing a reentrant lock in Go: the
// recursion happens entirely among already-unlocked helpers, so there is
// never a second Lock call on the same goroutine.
package allocator

import (
	"math"
	"sync"

	"k8s.io/klog/v2"

	"github.com/cu-fleet/curmd/internal/catalogue"
)

// DefaultClientLimit caps simultaneously connected clients unless
// configuration overrides it.
const DefaultClientLimit = 40000

// MaxClientLimit is the hard ceiling a configured limit is clamped to.
const MaxClientLimit = 1000000

// Allocator serializes every mutation of a Catalogue behind one mutex.
type Allocator struct {
	mu  sync.Mutex
	cat *catalogue.Catalogue

	serviceID uint64 // last handed-out allocation service id
	clientID  uint64 // last handed-out client id
	poolID    uint64 // last handed-out reserve-pool id

	connectedClients int
	clientLimit      int
	verbosity        int
}

// New wraps cat in an Allocator. cat must not be touched by any other
// goroutine afterward.
func New(cat *catalogue.Catalogue) *Allocator {
	return &Allocator{cat: cat, clientLimit: DefaultClientLimit}
}

// SetClientLimit applies the configured concurrent-client ceiling, clamped
// to MaxClientLimit.
func (a *Allocator) SetClientLimit(limit int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit <= 0 || limit > MaxClientLimit {
		limit = MaxClientLimit
	}
	a.clientLimit = limit
}

// CreateClient mints the next client id and counts the connection against
// the concurrent-client ceiling. It returns 0 when the ceiling is hit; ids
// wrap at 2^64-1 and never take the value zero.
func (a *Allocator) CreateClient() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connectedClients >= a.clientLimit {
		klog.InfoS("concurrent client limit reached, refusing context", "limit", a.clientLimit)
		return 0
	}
	a.connectedClients++
	if a.clientID == math.MaxUint64 {
		a.clientID = 1
	} else {
		a.clientID++
	}
	return a.clientID
}

// ConnectedClients reports how many clients currently count against the
// ceiling.
func (a *Allocator) ConnectedClients() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectedClients
}

// SetVerbosity updates the daemon's live log-level setting; it has no
// effect on allocation behavior, only on what is persisted and restored by
// internal/snapshot.
func (a *Allocator) SetVerbosity(v int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verbosity = v
}

// WithLock runs fn with the allocator's lock held, for callers (snapshot,
// admin diagnostics) that need a consistent read across the whole
// catalogue.
func (a *Allocator) WithLock(fn func(*catalogue.Catalogue)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.cat)
}

func (a *Allocator) newServiceID() uint64 {
	if a.serviceID == math.MaxUint64 {
		a.serviceID = 1
	} else {
		a.serviceID++
	}
	return a.serviceID
}

func (a *Allocator) newPoolID() uint64 {
	if a.poolID == math.MaxUint64 {
		a.poolID = 1
	} else {
		a.poolID++
	}
	return a.poolID
}

// seat commits one allocation of desc.RequestLoad onto a free channel of
// cu, returning the channel index, or -1 when the channel table is full.
// Caller holds the lock and has already verified cu.CanSeat(desc).
//
// Load arithmetic: a default-pool seating raises TotalUsedLoad; a pooled
// seating consumes the reserve instead, leaving TotalUsedLoad untouched
// because the reserve's full extent is already counted there.
func seat(cu *catalogue.CU, desc *catalogue.CUDescriptor, serviceID uint64) int {
	idx := cu.FreeChannelIndex()
	if idx < 0 {
		return -1
	}
	cu.Channels[idx] = catalogue.Channel{
		Index:        idx,
		ClientID:     desc.ClientID,
		ProcessID:    desc.ProcessID,
		ServiceID:    serviceID,
		PoolID:       desc.PoolID,
		Load:         desc.RequestLoad,
		LoadOriginal: desc.RequestLoadOriginal,
	}
	if desc.PoolID != 0 {
		r := cu.FindReserve(desc.PoolID)
		r.Used += desc.RequestLoad
		cu.TotalReservedUsedLoad += desc.RequestLoad
	} else {
		cu.TotalUsedLoad += desc.RequestLoad
	}
	cu.AddClientChannel(desc.ClientID)
	klog.V(4).InfoS("seated channel", "cu", cu.CUName, "client", desc.ClientID, "load", desc.RequestLoad, "pool", desc.PoolID)
	return idx
}

// unseat releases the channel at idx on cu, reversing what seat did. A
// channel whose reserve has since been deactivated or removed gives its
// load back to the default pool instead.
func unseat(cu *catalogue.CU, idx int) {
	ch := &cu.Channels[idx]
	if ch.Free() {
		return
	}
	if r := cu.FindReserve(ch.PoolID); r != nil {
		r.Used -= ch.Load
		cu.TotalReservedUsedLoad -= ch.Load
	} else {
		cu.TotalUsedLoad -= ch.Load
	}
	cu.RemoveClientChannel(ch.ClientID)
	klog.V(4).InfoS("unseated channel", "cu", cu.CUName, "client", ch.ClientID, "load", ch.Load)
	*ch = catalogue.Channel{Index: idx}
}

// registerClientOnDevice records one more hold of clientID on dev,
// enforcing the exclusivity rules: an exclusive request succeeds only while
// no other client is registered, and flips the device exclusive; any
// request on a device already exclusive to another client is refused.
func registerClientOnDevice(dev *catalogue.Device, clientID uint64, pid int, excl bool) error {
	if dev.Exclusive {
		if dev.ExclusiveClient != clientID {
			return catalogue.ErrNoDevice
		}
		dev.Clients[clientID].Ref++
		return nil
	}
	if excl {
		ref := 0
		for otherID, otherRef := range dev.Clients {
			if otherID != clientID {
				return catalogue.ErrNoDevice
			}
			ref = otherRef.Ref
		}
		dev.Exclusive = true
		dev.ExclusiveClient = clientID
		dev.Clients = map[uint64]*catalogue.ClientRef{
			clientID: {ClientID: clientID, ProcessID: pid, Ref: ref + 1},
		}
		return nil
	}
	if ref, ok := dev.Clients[clientID]; ok {
		ref.Ref++
		return nil
	}
	if len(dev.Clients) >= catalogue.MaxClientsPerDevice {
		return catalogue.ErrNoDevice
	}
	dev.Clients[clientID] = &catalogue.ClientRef{ClientID: clientID, ProcessID: pid, Ref: 1}
	return nil
}

// unregisterClientOnDevice gives back one hold of clientID on dev, clearing
// the exclusive flag when the last exclusive hold goes away.
func unregisterClientOnDevice(dev *catalogue.Device, clientID uint64) {
	ref, ok := dev.Clients[clientID]
	if !ok {
		return
	}
	ref.Ref--
	if ref.Ref > 0 {
		return
	}
	delete(dev.Clients, clientID)
	if dev.Exclusive && dev.ExclusiveClient == clientID {
		dev.Exclusive = false
		dev.ExclusiveClient = 0
	}
}

// dropClientFromDevice removes clientID from dev outright, regardless of
// reference count — the recycle path's "drop the client from every device
// client table" step.
func dropClientFromDevice(dev *catalogue.Device, clientID uint64) {
	delete(dev.Clients, clientID)
	if dev.Exclusive && dev.ExclusiveClient == clientID {
		dev.Exclusive = false
		dev.ExclusiveClient = 0
	}
}
