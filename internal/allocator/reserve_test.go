package allocator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cu-fleet/curmd/internal/catalogue"
)

// Relinquishing a pool that still has consumed load is refused and changes
// nothing.
func TestRelinquishWithUsedLoadFails(t *testing.T) {
	a := newTestAllocator(t, 1, 1)

	poolID, err := a.ReservePool(PoolSpec{CUs: []catalogue.CUDescriptor{descFor(1, 500_000)}, ClientID: 1})
	require.NoError(t, err)

	pooled := descFor(2, 200_000)
	pooled.PoolID = poolID
	_, err = a.AllocCU(pooled)
	require.NoError(t, err)

	cu := &a.cat.Devices[0].CUs[0]
	usedBefore, reservedBefore := cu.TotalUsedLoad, cu.TotalReservedLoad

	err = a.RelinquishPool(poolID)
	require.ErrorIs(t, err, catalogue.ErrInvalidArgument)
	require.Equal(t, usedBefore, cu.TotalUsedLoad)
	require.Equal(t, reservedBefore, cu.TotalReservedLoad)
	require.Len(t, cu.Reserves, 1)
	require.NoError(t, a.cat.CheckInvariants())
}

// A drained pool relinquishes cleanly and gives both counters back.
func TestRelinquishAfterRelease(t *testing.T) {
	a := newTestAllocator(t, 1, 1)

	poolID, err := a.ReservePool(PoolSpec{CUs: []catalogue.CUDescriptor{descFor(1, 500_000)}, ClientID: 1})
	require.NoError(t, err)

	pooled := descFor(2, 200_000)
	pooled.PoolID = poolID
	h, err := a.AllocCU(pooled)
	require.NoError(t, err)
	require.NoError(t, a.Release(h))

	require.NoError(t, a.RelinquishPool(poolID))
	cu := &a.cat.Devices[0].CUs[0]
	require.Zero(t, cu.TotalUsedLoad)
	require.Zero(t, cu.TotalReservedLoad)
	require.Empty(t, cu.Reserves)
	require.Empty(t, a.cat.Devices[0].Clients)
	require.NoError(t, a.cat.CheckInvariants())
}

func TestRelinquishUnknownPool(t *testing.T) {
	a := newTestAllocator(t, 1, 1)
	require.ErrorIs(t, a.RelinquishPool(42), catalogue.ErrInvalidArgument)
	require.ErrorIs(t, a.RelinquishPool(0), catalogue.ErrInvalidArgument)
}

// Seating against a pool draws from the reserve, not the default total,
// and over-consuming the reserve is refused even with default headroom
// available.
func TestPooledSeatingDrawsFromReserve(t *testing.T) {
	a := newTestAllocator(t, 1, 1)

	poolID, err := a.ReservePool(PoolSpec{CUs: []catalogue.CUDescriptor{descFor(1, 300_000)}, ClientID: 1})
	require.NoError(t, err)

	cu := &a.cat.Devices[0].CUs[0]
	require.Equal(t, 300_000, cu.TotalUsedLoad)

	pooled := descFor(1, 250_000)
	pooled.PoolID = poolID
	_, err = a.AllocCU(pooled)
	require.NoError(t, err)
	// The seat moved load from "reserved unconsumed" to "channel", so the
	// total is unchanged.
	require.Equal(t, 300_000, cu.TotalUsedLoad)
	require.Equal(t, 250_000, cu.TotalReservedUsedLoad)

	over := descFor(1, 100_000)
	over.PoolID = poolID
	_, err = a.AllocCU(over)
	require.ErrorIs(t, err, catalogue.ErrNoKernel)
	require.NoError(t, a.cat.CheckInvariants())
}

// Reserving against an unknown pool id at seat time is refused.
func TestPooledSeatingUnknownPool(t *testing.T) {
	a := newTestAllocator(t, 1, 1)
	pooled := descFor(1, 100_000)
	pooled.PoolID = 99
	_, err := a.AllocCU(pooled)
	require.ErrorIs(t, err, catalogue.ErrNoKernel)
}

// Two reservations of the same pool on one CU merge into one slot.
func TestReserveMergesSamePoolOnCU(t *testing.T) {
	a := newTestAllocator(t, 1, 1)
	poolID, err := a.ReservePool(PoolSpec{
		CUs:       []catalogue.CUDescriptor{descFor(1, 200_000)},
		CUListNum: 2,
		ClientID:  1,
	})
	require.NoError(t, err)

	cu := &a.cat.Devices[0].CUs[0]
	require.Len(t, cu.Reserves, 1)
	require.Equal(t, 400_000, cu.Reserves[0].Total)
	require.Equal(t, 400_000, cu.TotalReservedLoad)
	require.Equal(t, poolID, cu.Reserves[0].PoolID)
	require.NoError(t, a.cat.CheckInvariants())
}

// A reservation that cannot be fully satisfied leaves nothing behind.
func TestReserveRollsBackOnPartialFailure(t *testing.T) {
	a := newTestAllocator(t, 1, 1)
	_, err := a.ReservePool(PoolSpec{
		CUs:       []catalogue.CUDescriptor{descFor(1, 600_000)},
		CUListNum: 2, // 1,200,000 cannot fit on one CU
		ClientID:  1,
	})
	require.ErrorIs(t, err, catalogue.ErrNoKernel)

	cu := &a.cat.Devices[0].CUs[0]
	require.Zero(t, cu.TotalUsedLoad)
	require.Zero(t, cu.TotalReservedLoad)
	require.Empty(t, cu.Reserves)
	require.Empty(t, a.cat.Devices[0].Clients)
	require.NoError(t, a.cat.CheckInvariants())
}

// Whole-image reservation takes this many entire idle devices holding the
// image, at 100% per CU, or fails without touching anything.
func TestReserveWholeImageDevices(t *testing.T) {
	a := newTestAllocator(t, 2, 2)
	imgUUID := a.cat.Devices[0].ImageUUID

	// Make device 1 hold a different image so only device 0 qualifies.
	otherCUs := []catalogue.ImageCU{{KernelName: "krnl_other", InstanceName: "o_0", Kind: catalogue.KindHardware, MaxCapacity: catalogue.MaxUnifiedLoad}}
	require.NoError(t, a.UnloadDevice(1))
	require.NoError(t, a.LoadDevice(1, "other.xclbin", uuid.New(), otherCUs))

	poolID, err := a.ReservePool(PoolSpec{ImageUUID: imgUUID, ImageNum: 1, ClientID: 1})
	require.NoError(t, err)

	for ci := range a.cat.Devices[0].CUs {
		cu := &a.cat.Devices[0].CUs[ci]
		require.Equal(t, catalogue.MaxUnifiedLoad, cu.TotalReservedLoad)
		require.Equal(t, catalogue.MaxUnifiedLoad, cu.TotalUsedLoad)
	}
	require.NotEmpty(t, a.ReservationQuery(poolID))

	// A second whole-image device does not exist.
	_, err = a.ReservePool(PoolSpec{ImageUUID: imgUUID, ImageNum: 1, ClientID: 2})
	require.ErrorIs(t, err, catalogue.ErrNoKernel)
	require.NoError(t, a.cat.CheckInvariants())
}

// The explicit device-id list reserves whole named devices and refuses
// busy ones.
func TestReserveDeviceList(t *testing.T) {
	a := newTestAllocator(t, 2, 1)
	_, err := a.AllocCU(descFor(9, 100_000)) // occupies device 0
	require.NoError(t, err)

	_, err = a.ReservePool(PoolSpec{DeviceIDs: []int{0}, ClientID: 1})
	require.ErrorIs(t, err, catalogue.ErrDeviceBusy)

	poolID, err := a.ReservePool(PoolSpec{DeviceIDs: []int{1}, ClientID: 1})
	require.NoError(t, err)
	require.Equal(t, catalogue.MaxUnifiedLoad, a.cat.Devices[1].CUs[0].TotalReservedLoad)

	require.NoError(t, a.RelinquishPool(poolID))
	require.NoError(t, a.cat.CheckInvariants())
}

func TestCheckCUPoolAvailableNum(t *testing.T) {
	a := newTestAllocator(t, 1, 1)
	spec := PoolSpec{CUs: []catalogue.CUDescriptor{descFor(1, 250_000)}, ClientID: 1}
	require.Equal(t, 4, a.CheckCUPoolAvailableNum(spec))
	// Probing must leave no trace.
	cu := &a.cat.Devices[0].CUs[0]
	require.Zero(t, cu.TotalReservedLoad)
	require.Zero(t, cu.TotalUsedLoad)
	require.NoError(t, a.cat.CheckInvariants())
}

func TestCheckCUListAvailableNum(t *testing.T) {
	a := newTestAllocator(t, 1, 2)
	descs := []catalogue.CUDescriptor{descFor(1, 500_000), descFor(1, 500_000)}
	require.Equal(t, 2, a.CheckCUListAvailableNum(descs, ListModeAnyDevice))
	// Probing must leave no trace.
	require.Empty(t, a.AllocationQuery(1))
	require.NoError(t, a.cat.CheckInvariants())
}

// A channel seated against a pool whose owner has since disconnected gives
// its load back to the default pool on release.
func TestReleaseAfterPoolDeactivation(t *testing.T) {
	a := newTestAllocator(t, 1, 1)

	poolID, err := a.ReservePool(PoolSpec{CUs: []catalogue.CUDescriptor{descFor(1, 600_000)}, ClientID: 1})
	require.NoError(t, err)

	pooled := descFor(2, 250_000)
	pooled.PoolID = poolID
	h, err := a.AllocCU(pooled)
	require.NoError(t, err)

	a.RecycleClient(1)

	cu := &a.cat.Devices[0].CUs[0]
	// B's channel load survives, now counted against the default pool.
	require.Equal(t, 250_000, cu.TotalUsedLoad)
	require.Zero(t, cu.TotalReservedLoad)

	require.NoError(t, a.Release(h))
	require.Zero(t, cu.TotalUsedLoad)
	require.NoError(t, a.cat.CheckInvariants())
}
