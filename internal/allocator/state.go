package allocator

import "github.com/cu-fleet/curmd/internal/catalogue"

// State is the full persistable snapshot of an Allocator: the catalogue
// plus the id counters it hands out. Live socket handles, plugin handles
// and hardware handles are deliberately absent; they are re-derived after a
// restore. The concurrent-client count is likewise not persisted — every
// client reconnects after a daemon restart.
type State struct {
	Catalogue     *catalogue.Catalogue
	NextServiceID uint64
	NextClientID  uint64
	NextPoolID    uint64
	Verbosity     int
}

// ExportState reads the id counters and verbosity under the lock for
// persistence. The catalogue is not copied: the returned State points at
// the live catalogue, so later mutations show through it.
func (a *Allocator) ExportState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		Catalogue:     a.cat,
		NextServiceID: a.serviceID,
		NextClientID:  a.clientID,
		NextPoolID:    a.poolID,
		Verbosity:     a.verbosity,
	}
}

// RestoreState replaces the allocator's catalogue and counters with a
// previously exported state.
func (a *Allocator) RestoreState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cat = s.Catalogue
	a.serviceID = s.NextServiceID
	a.clientID = s.NextClientID
	a.poolID = s.NextPoolID
	a.verbosity = s.Verbosity
}
