package allocator

import (
	"github.com/cu-fleet/curmd/internal/catalogue"
)

// DeclareUDFGroup registers a named group of ordered option lists of CU
// descriptors. Re-declaring an existing name replaces it.
func (a *Allocator) DeclareUDFGroup(name string, optionLists [][]catalogue.CUDescriptor) error {
	if name == "" || len(optionLists) == 0 || len(optionLists) > catalogue.MaxGroupOptionLists {
		return catalogue.ErrInvalidArgument
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.cat.Groups) >= catalogue.MaxUDFGroups {
		if _, exists := a.cat.Groups[name]; !exists {
			return catalogue.ErrGeneric
		}
	}
	a.cat.Groups[name] = catalogue.UDFGroup{Name: name, OptionLists: optionLists}
	return nil
}

// UndeclareUDFGroup removes a previously declared group.
func (a *Allocator) UndeclareUDFGroup(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.cat.Groups[name]; !ok {
		return catalogue.ErrInvalidArgument
	}
	delete(a.cat.Groups, name)
	return nil
}

// AllocUDFGroup tries each option list of a declared group in order and
// commits the first one that can be fully satisfied, rolling back any
// partial progress within a failed option list before trying the next one.
// The caller's identity and reserve pool propagate into every descriptor.
func (a *Allocator) AllocUDFGroup(name string, clientID uint64, processID int, poolID uint64) ([]Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	group, ok := a.cat.Groups[name]
	if !ok {
		return nil, catalogue.ErrInvalidArgument
	}

	var lastErr error
	for _, option := range group.OptionLists {
		descs := make([]catalogue.CUDescriptor, len(option))
		copy(descs, option)
		for i := range descs {
			descs[i].ClientID = clientID
			descs[i].ProcessID = processID
			descs[i].PoolID = poolID
		}
		handles, err := a.allocListAnyDeviceLocked(descs)
		if err == nil {
			return handles, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = catalogue.ErrNoKernel
	}
	return nil, lastErr
}
