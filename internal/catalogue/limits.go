// Package catalogue holds the in-memory device/CU/channel/reserve/client
// model and the pure read/match operations over it. It owns no locking of
// its own; callers (internal/allocator) serialize access under the global
// lock.
package catalogue

// Compile-time capacity limits of the fixed-size resource tables.
const (
	MaxDevices          = 16
	MaxCUsPerDevice     = 144
	MaxChannelsPerCU    = 1000
	MaxReservesPerCU    = 1000
	MaxClientsPerDevice = 1152
	MaxListCUs          = 16
	MaxGroupOptionLists = 8
	MaxPoolCUs          = 128
	MaxUDFGroups        = 32

	// MaxUnifiedLoad is the fine-grain (unified) load ceiling: 100% == 1,000,000.
	MaxUnifiedLoad = 1_000_000
	// MaxPercentLoad is the coarse percent ceiling.
	MaxPercentLoad = 100
)
