package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cu-fleet/curmd/internal/allocator"
	"github.com/cu-fleet/curmd/internal/catalogue"
	"github.com/cu-fleet/curmd/internal/imageloader"
	"github.com/cu-fleet/curmd/internal/pluginhost"
	"github.com/cu-fleet/curmd/internal/wire"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, string) {
	t.Helper()
	loader := imageloader.NewFake()
	ctx := context.Background()

	n, err := loader.ProbeDevices(ctx)
	if err != nil {
		t.Fatalf("ProbeDevices: %v", err)
	}
	devices := imageloader.NewHandles()
	for i := 0; i < n; i++ {
		h, err := loader.OpenDevice(ctx, i)
		if err != nil {
			t.Fatalf("OpenDevice(%d): %v", i, err)
		}
		devices.Set(i, h)
	}

	cat := catalogue.New(n)
	alloc := allocator.New(cat)
	d := New(alloc, loader, pluginhost.New(), devices)

	imgPath := filepath.Join(t.TempDir(), "test.xclbin")
	if err := os.WriteFile(imgPath, []byte("fake"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return d, imgPath
}

func TestDispatchLoadThenAlloc(t *testing.T) {
	d, imgPath := newTestDispatcher(t)
	ctx := context.Background()

	loadResp := d.Dispatch(ctx, wire.Request{
		Name: "loadOneDevice", RequestID: 1,
		Params: map[string]any{"deviceId": float64(0), "xclbinFileName": imgPath},
	})
	if !loadResp.OK() {
		t.Fatalf("loadOneDevice failed: %+v", loadResp.Data)
	}

	allocResp := d.Dispatch(ctx, wire.Request{
		Name: "cuAlloc", RequestID: 2,
		Params: map[string]any{
			"kernelName":  "krnl_vadd",
			"requestLoad": float64(catalogue.MaxUnifiedLoad / 2),
			"clientId":    float64(1),
		},
	})
	if !allocResp.OK() {
		t.Fatalf("cuAlloc failed: %+v", allocResp.Data)
	}
	if allocResp.Data["cuName"] != "krnl_vadd:vadd_1" {
		t.Fatalf("unexpected cuName: %v", allocResp.Data["cuName"])
	}
	if allocResp.Data["channelLoadUnified"] != catalogue.MaxUnifiedLoad/2 {
		t.Fatalf("unexpected load echo: %v", allocResp.Data["channelLoadUnified"])
	}
}

// cuAllocWithLoad programs the image onto an unloaded device by itself.
func TestDispatchAllocWithLoadProgramsDevice(t *testing.T) {
	d, imgPath := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), wire.Request{
		Name: "cuAllocWithLoad", RequestID: 1,
		Params: map[string]any{
			"kernelName":     "krnl_vadd",
			"xclbinFileName": imgPath,
			"requestLoad":    float64(catalogue.MaxUnifiedLoad / 2),
			"clientId":       float64(1),
		},
	})
	if !resp.OK() {
		t.Fatalf("cuAllocWithLoad failed: %+v", resp.Data)
	}
	if resp.Data["uuidStr"] == "" || resp.Data["uuidStr"] == "00000000-0000-0000-0000-000000000000" {
		t.Fatalf("expected the freshly loaded image's uuid, got %v", resp.Data["uuidStr"])
	}
}

// A percent-form packed load normalizes to the fine-grain form and the
// original encoding is echoed back.
func TestDispatchPackedLoadForm(t *testing.T) {
	d, imgPath := newTestDispatcher(t)
	ctx := context.Background()

	if resp := d.Dispatch(ctx, wire.Request{
		Name: "loadOneDevice", RequestID: 1,
		Params: map[string]any{"deviceId": float64(0), "xclbinFileName": imgPath},
	}); !resp.OK() {
		t.Fatalf("loadOneDevice failed: %+v", resp.Data)
	}

	packed := wire.PackLoadOriginal(25, 0)
	resp := d.Dispatch(ctx, wire.Request{
		Name: "cuAlloc", RequestID: 2,
		Params: map[string]any{
			"kernelName":          "krnl_vadd",
			"requestLoadOriginal": float64(packed),
			"clientId":            float64(1),
		},
	})
	if !resp.OK() {
		t.Fatalf("cuAlloc failed: %+v", resp.Data)
	}
	if resp.Data["channelLoadUnified"] != 250_000 {
		t.Fatalf("expected 25%% to normalize to 250000, got %v", resp.Data["channelLoadUnified"])
	}
	if resp.Data["channelLoadOriginal"] != packed {
		t.Fatalf("expected the original encoding echoed, got %v", resp.Data["channelLoadOriginal"])
	}
}

func TestDispatchUnknownVerb(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), wire.Request{Name: "notAVerb", RequestID: 1})
	if resp.OK() {
		t.Fatal("expected unknown verb to fail")
	}
	if resp.Code() != wire.ErrCodeInvalidArgument {
		t.Fatalf("expected invalid-argument code, got %d", resp.Code())
	}
}

func TestDispatchCreateDestroyContext(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	createResp := d.Dispatch(ctx, wire.Request{Name: "createContext", RequestID: 1})
	if !createResp.OK() {
		t.Fatalf("createContext failed: %+v", createResp.Data)
	}
	clientID, ok := createResp.Data["clientId"].(uint64)
	if !ok || clientID == 0 {
		t.Fatalf("expected a nonzero clientId, got %v", createResp.Data["clientId"])
	}

	destroyResp := d.Dispatch(ctx, wire.Request{
		Name: "destroyContext", RequestID: 2,
		Params: map[string]any{"clientId": float64(clientID)},
	})
	if !destroyResp.OK() {
		t.Fatalf("destroyContext failed: %+v", destroyResp.Data)
	}
}

// At the concurrent-client ceiling, createContext answers with clientId 0.
func TestDispatchCreateContextAtCeiling(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Alloc.SetClientLimit(1)
	ctx := context.Background()

	if resp := d.Dispatch(ctx, wire.Request{Name: "createContext", RequestID: 1}); !resp.OK() {
		t.Fatalf("first createContext failed: %+v", resp.Data)
	}
	resp := d.Dispatch(ctx, wire.Request{Name: "createContext", RequestID: 2})
	if resp.OK() {
		t.Fatal("expected createContext to fail at the ceiling")
	}
	if resp.Data["clientId"] != uint64(0) {
		t.Fatalf("expected clientId 0 at the ceiling, got %v", resp.Data["clientId"])
	}
}

// Reservation and pooled allocation drive end to end through the verbs.
func TestDispatchReserveAllocRelinquish(t *testing.T) {
	d, imgPath := newTestDispatcher(t)
	ctx := context.Background()

	if resp := d.Dispatch(ctx, wire.Request{
		Name: "loadOneDevice", RequestID: 1,
		Params: map[string]any{"deviceId": float64(0), "xclbinFileName": imgPath},
	}); !resp.OK() {
		t.Fatalf("loadOneDevice failed: %+v", resp.Data)
	}

	reserveResp := d.Dispatch(ctx, wire.Request{
		Name: "cuPoolReserve", RequestID: 2,
		Params: map[string]any{
			"clientId": float64(1),
			"cuList": []any{
				map[string]any{"kernelName": "krnl_vadd", "requestLoad": float64(400_000)},
			},
		},
	})
	if !reserveResp.OK() {
		t.Fatalf("cuPoolReserve failed: %+v", reserveResp.Data)
	}
	poolID, ok := reserveResp.Data["poolId"].(uint64)
	if !ok || poolID == 0 {
		t.Fatalf("expected a nonzero poolId, got %v", reserveResp.Data["poolId"])
	}

	queryResp := d.Dispatch(ctx, wire.Request{
		Name: "reservationQuery", RequestID: 3,
		Params: map[string]any{"poolId": float64(poolID)},
	})
	if !queryResp.OK() || queryResp.Data["cuNum"] != 1 {
		t.Fatalf("reservationQuery: %+v", queryResp.Data)
	}

	allocResp := d.Dispatch(ctx, wire.Request{
		Name: "cuAlloc", RequestID: 4,
		Params: map[string]any{
			"kernelName":  "krnl_vadd",
			"requestLoad": float64(300_000),
			"clientId":    float64(2),
			"poolId":      float64(poolID),
		},
	})
	if !allocResp.OK() {
		t.Fatalf("pooled cuAlloc failed: %+v", allocResp.Data)
	}

	relinquishResp := d.Dispatch(ctx, wire.Request{
		Name: "cuPoolRelinquish", RequestID: 5,
		Params: map[string]any{"poolId": float64(poolID)},
	})
	if relinquishResp.OK() {
		t.Fatal("expected relinquish to fail while the pool has used load")
	}

	releaseResp := d.Dispatch(ctx, wire.Request{
		Name: "cuRelease", RequestID: 6,
		Params: map[string]any{
			"deviceId":       allocResp.Data["deviceId"],
			"cuId":           allocResp.Data["cuId"],
			"channelId":      allocResp.Data["channelId"],
			"allocServiceId": allocResp.Data["allocServiceId"],
		},
	})
	if !releaseResp.OK() {
		t.Fatalf("cuRelease failed: %+v", releaseResp.Data)
	}

	if resp := d.Dispatch(ctx, wire.Request{
		Name: "cuPoolRelinquish", RequestID: 7,
		Params: map[string]any{"poolId": float64(poolID)},
	}); !resp.OK() {
		t.Fatalf("cuPoolRelinquish after release failed: %+v", resp.Data)
	}
}
