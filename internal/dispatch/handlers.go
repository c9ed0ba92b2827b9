package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/cu-fleet/curmd/internal/allocator"
	"github.com/cu-fleet/curmd/internal/catalogue"
	"github.com/cu-fleet/curmd/internal/wire"
)

func ok(req wire.Request, data map[string]any) wire.Response {
	return wire.NewSuccessResponse(req.Name, req.RequestID, data)
}

func fail(req wire.Request, err error) wire.Response {
	return wire.NewErrorResponse(req.Name, req.RequestID, err)
}

func registerHandlers(d *Dispatcher) {
	d.register("isDaemonRunning", handleIsDaemonRunning)
	d.register("createContext", handleCreateContext)
	d.register("echoContext", handleEchoContext)
	d.register("destroyContext", handleDestroyContext)

	d.register("loadOneDevice", handleLoadDevice)
	d.register("unloadOneDevice", handleUnloadDevice)
	d.register("enableOneDevice", handleEnableDevice)
	d.register("disableOneDevice", handleDisableDevice)
	d.register("resetDevice", handleResetDevice)
	d.register("cuGetDeviceInfo", handleGetDeviceInfo)

	d.register("cuAlloc", handleCUAlloc)
	d.register("cuAllocV2", handleCUAlloc)
	d.register("cuAllocFromDev", handleCUAllocFromDev)
	d.register("cuAllocFromDevV2", handleCUAllocFromDev)
	d.register("cuAllocWithLoad", handleCUAllocWithLoad)
	d.register("cuAllocWithLoadV2", handleCUAllocWithLoad)
	d.register("cuAllocLeastUsedWithLoad", handleCUAllocLeastUsedWithLoad)
	d.register("cuAllocLeastUsedFromDev", handleCUAllocLeastUsedFromDev)
	d.register("cuListAlloc", handleCUListAlloc)
	d.register("cuListAllocV2", handleCUListAllocV2)

	d.register("udfCuGroupDeclare", handleUDFGroupDeclare)
	d.register("udfCuGroupUndeclare", handleUDFGroupUndeclare)
	d.register("cuGroupAlloc", handleCUGroupAlloc)
	d.register("cuGroupAllocV2", handleCUGroupAlloc)

	d.register("cuRelease", handleCURelease)
	d.register("cuReleaseV2", handleCURelease)
	d.register("cuListRelease", handleCUListRelease)
	d.register("cuListReleaseV2", handleCUListRelease)
	d.register("cuGroupRelease", handleCUListRelease)
	d.register("cuGroupReleaseV2", handleCUListRelease)

	d.register("cuPoolReserve", handleCUPoolReserve)
	d.register("cuPoolReserveV2", handleCUPoolReserve)
	d.register("cuPoolRelinquish", handleCUPoolRelinquish)
	d.register("cuPoolRelinquishV2", handleCUPoolRelinquish)

	d.register("allocationQuery", handleAllocationQuery)
	d.register("allocationQueryV2", handleAllocationQuery)
	d.register("reservationQuery", handleReservationQuery)
	d.register("reservationQueryV2", handleReservationQuery)
	d.register("checkCuAvailableNum", handleCheckCUAvailableNum)
	d.register("checkCuAvailableNumV2", handleCheckCUAvailableNum)
	d.register("checkCuListAvailableNum", handleCheckCUListAvailableNum)
	d.register("checkCuListAvailableNumV2", handleCheckCUListAvailableNum)
	d.register("checkCuGroupAvailableNum", handleCheckCUGroupAvailableNum)
	d.register("checkCuGroupAvailableNumV2", handleCheckCUGroupAvailableNum)
	d.register("checkCuPoolAvailableNum", handleCheckCUPoolAvailableNum)
	d.register("checkCuPoolAvailableNumV2", handleCheckCUPoolAvailableNum)
	d.register("cuCheckStatus", handleCUCheckStatus)
	d.register("cuGetMaxCapacity", handleCUGetMaxCapacity)

	d.register("execXrmPluginFunc", handleExecPluginFunc)
}

func handleIsDaemonRunning(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	return ok(req, map[string]any{"running": d.Alloc.IsDaemonRunning()})
}

func handleCreateContext(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	clientID := d.Alloc.CreateClient()
	if clientID == 0 {
		resp := fail(req, fmt.Errorf("concurrent client limit reached"))
		resp.Data["clientId"] = uint64(0)
		return resp
	}
	return ok(req, map[string]any{"clientId": clientID})
}

func handleEchoContext(_ context.Context, _ *Dispatcher, req wire.Request) wire.Response {
	clientID, have := uint64Param(req.Params, "clientId")
	if !have {
		return fail(req, paramError("clientId"))
	}
	return ok(req, map[string]any{"clientId": clientID})
}

func handleDestroyContext(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	clientID, haveClient := uint64Param(req.Params, "clientId")
	if !haveClient {
		return fail(req, paramError("clientId"))
	}
	d.Alloc.RecycleClient(clientID)
	return ok(req, nil)
}

// programFunc builds the under-lock device-programming callback the
// with-load alloc verbs hand to the allocator. The hardware lock is held
// for the duration of the load, never across the return.
func (d *Dispatcher) programFunc(ctx context.Context, imagePath string) allocator.ProgramFunc {
	return func(devID int) (allocator.LoadableImage, error) {
		h, haveHandle := d.Devices.Get(devID)
		if !haveHandle {
			return allocator.LoadableImage{}, catalogue.ErrNoDevice
		}
		if err := d.Loader.LockDevice(ctx, h); err != nil {
			return allocator.LoadableImage{}, fmt.Errorf("locking device %d: %w", devID, err)
		}
		defer func() {
			if err := d.Loader.UnlockDevice(ctx, h); err != nil {
				klog.ErrorS(err, "failed to unlock device after image load", "device", devID)
			}
		}()
		name, id, err := d.Loader.LoadImage(ctx, h, imagePath)
		if err != nil {
			return allocator.LoadableImage{}, err
		}
		cus, err := d.Loader.ParseImage(ctx, imagePath)
		if err != nil {
			return allocator.LoadableImage{}, err
		}
		return allocator.LoadableImage{Name: name, UUID: id, CUs: cus}, nil
	}
}

func handleLoadDevice(ctx context.Context, d *Dispatcher, req wire.Request) wire.Response {
	devID, ok1 := intParam(req.Params, "deviceId")
	imagePath, ok2 := stringParam(req.Params, "xclbinFileName")
	if !ok2 {
		imagePath, ok2 = stringParam(req.Params, "imagePath")
	}
	if !ok1 || !ok2 {
		return fail(req, paramError("deviceId/xclbinFileName"))
	}
	img, err := d.programFunc(ctx, imagePath)(devID)
	if err != nil {
		return fail(req, err)
	}
	if err := d.Alloc.LoadDevice(devID, img.Name, img.UUID, img.CUs); err != nil {
		return fail(req, err)
	}
	return ok(req, map[string]any{"uuidStr": img.UUID.String()})
}

func handleUnloadDevice(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	devID, ok1 := intParam(req.Params, "deviceId")
	if !ok1 {
		return fail(req, paramError("deviceId"))
	}
	if err := d.Alloc.UnloadDevice(devID); err != nil {
		return fail(req, err)
	}
	return ok(req, nil)
}

func handleEnableDevice(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	devID, ok1 := intParam(req.Params, "deviceId")
	if !ok1 {
		return fail(req, paramError("deviceId"))
	}
	if err := d.Alloc.EnableDevice(devID); err != nil {
		return fail(req, err)
	}
	return ok(req, nil)
}

func handleDisableDevice(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	devID, ok1 := intParam(req.Params, "deviceId")
	if !ok1 {
		return fail(req, paramError("deviceId"))
	}
	if err := d.Alloc.DisableDevice(devID); err != nil {
		return fail(req, err)
	}
	return ok(req, nil)
}

// handleResetDevice fully unloads a device (refused while busy) and
// immediately re-loads the same or a caller-named image, the Go equivalent
// of the original's close-and-reopen device handle.
func handleResetDevice(ctx context.Context, d *Dispatcher, req wire.Request) wire.Response {
	devID, ok1 := intParam(req.Params, "deviceId")
	if !ok1 {
		return fail(req, paramError("deviceId"))
	}
	info, err := d.Alloc.DeviceInfo(devID)
	if err != nil {
		return fail(req, err)
	}
	imagePath, _ := stringParam(req.Params, "xclbinFileName")
	if imagePath == "" {
		imagePath = info.ImageName
	}
	if imagePath == "" {
		return fail(req, fmt.Errorf("%w: resetDevice requires xclbinFileName to re-load after reset", catalogue.ErrInvalidArgument))
	}
	if err := d.Alloc.UnloadDevice(devID); err != nil {
		return fail(req, err)
	}
	img, err := d.programFunc(ctx, imagePath)(devID)
	if err != nil {
		return fail(req, err)
	}
	if err := d.Alloc.LoadDevice(devID, img.Name, img.UUID, img.CUs); err != nil {
		return fail(req, err)
	}
	return ok(req, map[string]any{"uuidStr": img.UUID.String()})
}

func handleGetDeviceInfo(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	devID, ok1 := intParam(req.Params, "deviceId")
	if !ok1 {
		return fail(req, paramError("deviceId"))
	}
	info, err := d.Alloc.DeviceInfo(devID)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, map[string]any{
		"index":      info.Index,
		"disabled":   info.Disabled,
		"loaded":     info.Loaded,
		"imageName":  info.ImageName,
		"uuidStr":    info.ImageUUID.String(),
		"exclusive":  info.Exclusive,
		"numCUs":     info.NumCUs,
		"numClients": info.NumClients,
	})
}

func handleCUAlloc(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	desc, err := descriptorParam(req.Params)
	if err != nil {
		return fail(req, err)
	}
	h, err := d.Alloc.AllocCU(desc)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, handleData(h))
}

func handleCUAllocFromDev(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	devID, haveDev := intParam(req.Params, "deviceId")
	if !haveDev {
		return fail(req, paramError("deviceId"))
	}
	desc, err := descriptorParam(req.Params)
	if err != nil {
		return fail(req, err)
	}
	h, err := d.Alloc.AllocCUFromDev(devID, desc)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, handleData(h))
}

func handleCUAllocWithLoad(ctx context.Context, d *Dispatcher, req wire.Request) wire.Response {
	desc, err := descriptorParam(req.Params)
	if err != nil {
		return fail(req, err)
	}
	imagePath, haveImage := stringParam(req.Params, "xclbinFileName")
	if !haveImage {
		return fail(req, paramError("xclbinFileName"))
	}
	h, err := d.Alloc.AllocCUWithLoad(desc, d.programFunc(ctx, imagePath))
	if err != nil {
		return fail(req, err)
	}
	return ok(req, handleData(h))
}

func handleCUAllocLeastUsedWithLoad(ctx context.Context, d *Dispatcher, req wire.Request) wire.Response {
	desc, err := descriptorParam(req.Params)
	if err != nil {
		return fail(req, err)
	}
	imagePath, haveImage := stringParam(req.Params, "xclbinFileName")
	if !haveImage {
		return fail(req, paramError("xclbinFileName"))
	}
	h, err := d.Alloc.AllocLeastUsedCUWithLoad(desc, imagePath, d.programFunc(ctx, imagePath))
	if err != nil {
		return fail(req, err)
	}
	return ok(req, handleData(h))
}

func handleCUAllocLeastUsedFromDev(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	devID, haveDev := intParam(req.Params, "deviceId")
	if !haveDev {
		return fail(req, paramError("deviceId"))
	}
	desc, err := descriptorParam(req.Params)
	if err != nil {
		return fail(req, err)
	}
	desc.Policy = catalogue.PolicyLeastUsedFirst
	h, err := d.Alloc.AllocCUFromDev(devID, desc)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, handleData(h))
}

func handleCUListAlloc(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	descs, err := descriptorListParam(req.Params)
	if err != nil {
		return fail(req, err)
	}
	mode := allocator.ListModeAnyDevice
	if boolParam(req.Params, "sameDevice") {
		mode = allocator.ListModeSameDevice
	}
	handles, err := d.Alloc.AllocCUList(descs, mode)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, map[string]any{"cuNum": len(handles), "handles": handlesData(handles)})
}

// handleCUListAllocV2 honors per-descriptor virtual-device constraints:
// descriptors sharing a virtual index land together, distinct indices land
// on distinct devices.
func handleCUListAllocV2(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	descs, err := descriptorListParam(req.Params)
	if err != nil {
		return fail(req, err)
	}
	mode := allocator.ListModeAnyDevice
	if boolParam(req.Params, "sameDevice") {
		mode = allocator.ListModeSameDevice
	}
	for i := range descs {
		if descs[i].VirtualDeviceID >= 0 {
			mode = allocator.ListModeVirtualDevice
			break
		}
	}
	handles, err := d.Alloc.AllocCUList(descs, mode)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, map[string]any{"cuNum": len(handles), "handles": handlesData(handles)})
}

func handleUDFGroupDeclare(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	name, ok1 := stringParam(req.Params, "name")
	rawOptions, ok2 := req.Params["optionLists"].([]any)
	if !ok1 || !ok2 {
		return fail(req, paramError("name/optionLists"))
	}
	optionLists := make([][]catalogue.CUDescriptor, 0, len(rawOptions))
	for _, rawOption := range rawOptions {
		rawDescs, ok := rawOption.([]any)
		if !ok {
			return fail(req, paramError("optionLists[]"))
		}
		descs := make([]catalogue.CUDescriptor, 0, len(rawDescs))
		for _, rd := range rawDescs {
			m, ok := rd.(map[string]any)
			if !ok {
				return fail(req, paramError("optionLists[][]"))
			}
			desc, err := descriptorParam(m)
			if err != nil {
				return fail(req, err)
			}
			descs = append(descs, desc)
		}
		optionLists = append(optionLists, descs)
	}
	if err := d.Alloc.DeclareUDFGroup(name, optionLists); err != nil {
		return fail(req, err)
	}
	return ok(req, nil)
}

func handleUDFGroupUndeclare(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	name, ok1 := stringParam(req.Params, "name")
	if !ok1 {
		return fail(req, paramError("name"))
	}
	if err := d.Alloc.UndeclareUDFGroup(name); err != nil {
		return fail(req, err)
	}
	return ok(req, nil)
}

func handleCUGroupAlloc(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	name, ok1 := stringParam(req.Params, "name")
	if !ok1 {
		return fail(req, paramError("name"))
	}
	clientID, _ := uint64Param(req.Params, "clientId")
	processID, _ := intParam(req.Params, "processId")
	poolID, _ := uint64Param(req.Params, "poolId")
	handles, err := d.Alloc.AllocUDFGroup(name, clientID, processID, poolID)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, map[string]any{"cuNum": len(handles), "handles": handlesData(handles)})
}

func parseHandle(m map[string]any) (allocator.Handle, bool) {
	devID, ok1 := intParam(m, "deviceId")
	cuID, ok2 := intParam(m, "cuId")
	chID, ok3 := intParam(m, "channelId")
	if !ok1 || !ok2 || !ok3 {
		return allocator.Handle{}, false
	}
	serviceID, _ := uint64Param(m, "allocServiceId")
	return allocator.Handle{DeviceID: devID, CUID: cuID, ChannelID: chID, ServiceID: serviceID}, true
}

func handleCURelease(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	h, ok1 := parseHandle(req.Params)
	if !ok1 {
		// A bare allocServiceId releases everything minted under it.
		if serviceID, haveService := uint64Param(req.Params, "allocServiceId"); haveService {
			if err := d.Alloc.ReleaseByServiceID(serviceID); err != nil {
				return fail(req, err)
			}
			return ok(req, nil)
		}
		return fail(req, paramError("deviceId/cuId/channelId"))
	}
	if err := d.Alloc.Release(h); err != nil {
		return fail(req, err)
	}
	return ok(req, nil)
}

func handleCUListRelease(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	rawList, ok1 := req.Params["handles"].([]any)
	if !ok1 {
		if serviceID, haveService := uint64Param(req.Params, "allocServiceId"); haveService {
			if err := d.Alloc.ReleaseByServiceID(serviceID); err != nil {
				return fail(req, err)
			}
			return ok(req, nil)
		}
		return fail(req, paramError("handles"))
	}
	handles := make([]allocator.Handle, 0, len(rawList))
	for _, raw := range rawList {
		m, ok := raw.(map[string]any)
		if !ok {
			return fail(req, paramError("handles[]"))
		}
		h, ok := parseHandle(m)
		if !ok {
			return fail(req, paramError("handles[]"))
		}
		handles = append(handles, h)
	}
	if err := d.Alloc.ReleaseList(handles); err != nil {
		return fail(req, err)
	}
	return ok(req, nil)
}

func handleCUPoolReserve(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	spec := allocator.PoolSpec{SameDevice: boolParam(req.Params, "sameDevice")}
	spec.ClientID, _ = uint64Param(req.Params, "clientId")
	spec.ProcessID, _ = intParam(req.Params, "processId")

	if _, have := req.Params["cuList"]; have {
		descs, err := descriptorListParam(req.Params)
		if err != nil {
			return fail(req, err)
		}
		spec.CUs = descs
		spec.CUListNum = optIntParam(req.Params, "cuListNum", 1)
	}
	if s, have := stringParam(req.Params, "xclbinUuid"); have {
		id, err := uuid.Parse(s)
		if err != nil {
			return fail(req, fmt.Errorf("%w: xclbinUuid: %v", catalogue.ErrInvalidArgument, err))
		}
		spec.ImageUUID = id
		spec.ImageNum = optIntParam(req.Params, "xclbinNum", 1)
	}
	if rawIDs, have := req.Params["deviceIdList"].([]any); have {
		for _, raw := range rawIDs {
			n, ok := raw.(float64)
			if !ok {
				return fail(req, paramError("deviceIdList[]"))
			}
			spec.DeviceIDs = append(spec.DeviceIDs, int(n))
		}
	}

	poolID, err := d.Alloc.ReservePool(spec)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, map[string]any{"poolId": poolID})
}

func handleCUPoolRelinquish(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	poolID, ok1 := uint64Param(req.Params, "poolId")
	if !ok1 {
		return fail(req, paramError("poolId"))
	}
	if err := d.Alloc.RelinquishPool(poolID); err != nil {
		return fail(req, err)
	}
	return ok(req, nil)
}

func channelRows(rows []allocator.ChannelInfo) []map[string]any {
	data := make([]map[string]any, len(rows))
	for i, r := range rows {
		data[i] = map[string]any{
			"deviceId": r.DeviceID, "cuId": r.CUID, "channelId": r.ChannelID,
			"cuName": r.CUName, "clientId": r.ClientID, "allocServiceId": r.ServiceID,
			"channelLoadUnified": r.Load, "poolId": r.PoolID,
		}
	}
	return data
}

func handleAllocationQuery(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	if serviceID, haveService := uint64Param(req.Params, "allocServiceId"); haveService && serviceID != 0 {
		rows := d.Alloc.AllocationQueryByService(serviceID)
		return ok(req, map[string]any{"cuNum": len(rows), "channels": channelRows(rows)})
	}
	clientID, haveClient := uint64Param(req.Params, "clientId")
	if !haveClient {
		return fail(req, paramError("allocServiceId/clientId"))
	}
	rows := d.Alloc.AllocationQuery(clientID)
	return ok(req, map[string]any{"cuNum": len(rows), "channels": channelRows(rows)})
}

func handleReservationQuery(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	poolID, _ := uint64Param(req.Params, "poolId")
	rows := d.Alloc.ReservationQuery(poolID)
	data := make([]map[string]any, len(rows))
	for i, r := range rows {
		data[i] = map[string]any{
			"deviceId": r.DeviceID, "cuId": r.CUID, "cuName": r.CUName,
			"poolId": r.PoolID, "total": r.Total, "used": r.Used, "clientId": r.ClientID,
		}
	}
	return ok(req, map[string]any{"cuNum": len(rows), "reserves": data})
}

func handleCheckCUAvailableNum(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	desc, err := descriptorParam(req.Params)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, map[string]any{"availableNum": d.Alloc.CheckCUAvailableNum(desc)})
}

func handleCheckCUListAvailableNum(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	descs, err := descriptorListParam(req.Params)
	if err != nil {
		return fail(req, err)
	}
	mode := allocator.ListModeAnyDevice
	if boolParam(req.Params, "sameDevice") {
		mode = allocator.ListModeSameDevice
	}
	return ok(req, map[string]any{"availableNum": d.Alloc.CheckCUListAvailableNum(descs, mode)})
}

func handleCheckCUGroupAvailableNum(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	name, ok1 := stringParam(req.Params, "name")
	if !ok1 {
		return fail(req, paramError("name"))
	}
	clientID, _ := uint64Param(req.Params, "clientId")
	processID, _ := intParam(req.Params, "processId")
	return ok(req, map[string]any{"availableNum": d.Alloc.CheckCUGroupAvailableNum(name, clientID, processID)})
}

func handleCheckCUPoolAvailableNum(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	spec := allocator.PoolSpec{SameDevice: boolParam(req.Params, "sameDevice")}
	spec.ClientID, _ = uint64Param(req.Params, "clientId")
	spec.ProcessID, _ = intParam(req.Params, "processId")
	if _, have := req.Params["cuList"]; have {
		descs, err := descriptorListParam(req.Params)
		if err != nil {
			return fail(req, err)
		}
		spec.CUs = descs
		spec.CUListNum = optIntParam(req.Params, "cuListNum", 1)
	}
	if s, have := stringParam(req.Params, "xclbinUuid"); have {
		id, err := uuid.Parse(s)
		if err != nil {
			return fail(req, fmt.Errorf("%w: xclbinUuid: %v", catalogue.ErrInvalidArgument, err))
		}
		spec.ImageUUID = id
		spec.ImageNum = optIntParam(req.Params, "xclbinNum", 1)
	}
	return ok(req, map[string]any{"availableNum": d.Alloc.CheckCUPoolAvailableNum(spec)})
}

func handleCUCheckStatus(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	devID, ok1 := intParam(req.Params, "deviceId")
	cuID, ok2 := intParam(req.Params, "cuId")
	if !ok1 || !ok2 {
		return fail(req, paramError("deviceId/cuId"))
	}
	status, err := d.Alloc.CUStatus(devID, cuID)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, map[string]any{
		"usedLoadUnified": status.UsedLoad, "reservedLoadUnified": status.ReservedLoad,
		"reservedUsedLoadUnified": status.ReservedUsedLoad, "numClients": status.NumClients,
	})
}

func handleCUGetMaxCapacity(_ context.Context, d *Dispatcher, req wire.Request) wire.Response {
	kernelName, _ := stringParam(req.Params, "kernelName")
	kernelAlias, _ := stringParam(req.Params, "kernelAlias")
	if kernelName == "" && kernelAlias == "" {
		return fail(req, paramError("kernelName/kernelAlias"))
	}
	desc := catalogue.CUDescriptor{KernelName: kernelName, KernelAlias: kernelAlias, MemBank: -1, DeviceID: -1, VirtualDeviceID: -1}
	return ok(req, map[string]any{"maxCapacity": d.Alloc.CUMaxCapacity(desc)})
}

func handleExecPluginFunc(ctx context.Context, d *Dispatcher, req wire.Request) wire.Response {
	name, ok1 := stringParam(req.Params, "xrmPluginName")
	if !ok1 {
		name, ok1 = stringParam(req.Params, "pluginName")
	}
	param, _ := stringParam(req.Params, "input")
	funcID, ok2 := intParam(req.Params, "funcId")
	if !ok1 || !ok2 {
		return fail(req, paramError("xrmPluginName/funcId"))
	}
	result, err := d.Plugins.Call(ctx, name, int32(funcID), param)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, map[string]any{"result": result})
}
