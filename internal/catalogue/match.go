package catalogue

// MatchesCU reports whether cu satisfies the match fields of desc. Only the
// match fields desc actually sets are compared (empty string / zero value
// means "don't care"); every field desc does set must match exactly.
func MatchesCU(cu *CU, desc *CUDescriptor) bool {
	if desc.KernelName != "" && desc.KernelName != cu.KernelName {
		return false
	}
	if desc.KernelAlias != "" && desc.KernelAlias != cu.KernelAlias {
		return false
	}
	if desc.CUName != "" && desc.CUName != cu.CUName {
		return false
	}
	if desc.MemBank != -1 && desc.MemBank != cu.MemBank {
		return false
	}
	return true
}

// MatchesDevice reports whether a device satisfies desc's device placement
// constraint. -1 means unconstrained.
func MatchesDevice(devID int, desc *CUDescriptor) bool {
	return desc.DeviceID == -1 || desc.DeviceID == devID
}

// AvailableLoad returns how much unified load the CU's default pool can
// still accept. TotalUsedLoad already accounts for the unconsumed part of
// every active reserve, so the default-pool headroom is simply the ceiling
// minus TotalUsedLoad.
func (cu *CU) AvailableLoad() int {
	avail := MaxUnifiedLoad - cu.TotalUsedLoad
	if avail < 0 {
		return 0
	}
	return avail
}

// AvailableReservedLoad returns how much unified load is still free inside
// a reserve.
func (r *Reserve) AvailableReservedLoad() int {
	avail := r.Total - r.Used
	if avail < 0 {
		return 0
	}
	return avail
}

// CanSeat reports whether cu has room for desc.RequestLoad, honoring
// desc.PoolID: a pooled request is checked against that reserve's remaining
// capacity instead of the default pool.
func (cu *CU) CanSeat(desc *CUDescriptor) bool {
	if desc.PoolID != 0 {
		r := cu.FindReserve(desc.PoolID)
		if r == nil {
			return false
		}
		return r.AvailableReservedLoad() >= desc.RequestLoad
	}
	return cu.AvailableLoad() >= desc.RequestLoad
}

// CanReserve reports whether req more units of capacity can be committed to
// a reserve on this CU: both the in-use total and the reserved total must
// stay under the unified ceiling.
func (cu *CU) CanReserve(req int) bool {
	return cu.TotalUsedLoad+req <= MaxUnifiedLoad &&
		cu.TotalReservedLoad+req <= MaxUnifiedLoad
}

// UsedByClient reports whether clientID already holds at least one channel
// on this CU — the affinity test used by the two-pass single-CU allocation
// algorithm.
func (cu *CU) UsedByClient(clientID uint64) bool {
	_, ok := cu.Clients[clientID]
	return ok
}
