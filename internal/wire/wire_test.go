package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cu-fleet/curmd/internal/catalogue"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Name: "cuAlloc", RequestID: 42, Params: map[string]any{"kernelName": "krnl_vadd"}}
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	got, err := ReadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got.Name != req.Name || got.RequestID != req.RequestID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
	if got.Params["kernelName"] != "krnl_vadd" {
		t.Fatalf("params lost: %+v", got.Params)
	}
}

func TestResponseRoundTripSuccess(t *testing.T) {
	var buf bytes.Buffer
	resp := NewSuccessResponse("cuAlloc", 42, map[string]any{"cuId": 0})
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	got, err := ReadResponse(&buf)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if !got.OK() {
		t.Fatalf("expected success response to report OK, got %+v", got)
	}
}

func TestResponseRoundTripError(t *testing.T) {
	var buf bytes.Buffer
	resp := NewErrorResponse("cuAlloc", 1, catalogue.ErrNoKernel)
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	got, err := ReadResponse(&buf)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if got.OK() {
		t.Fatal("expected error response to report not-OK")
	}
	if got.Data["failed"] == nil {
		t.Fatal("expected diagnostic message under data.failed")
	}
}

func TestLegacyStatusShape(t *testing.T) {
	legacy := []byte(`{"response":{"name":"legacyVerb","requestId":1,"status":"ok","data":{}}}`)
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(legacy)))

	var buf bytes.Buffer
	buf.Write(lenPrefix[:])
	buf.Write(legacy)

	got, err := ReadResponse(&buf)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if !got.OK() {
		t.Fatal("expected legacy \"ok\" status to report OK")
	}
}

func TestLoadEncoding(t *testing.T) {
	if got := PercentToUnified(50); got != catalogue.MaxUnifiedLoad/2 {
		t.Fatalf("PercentToUnified(50) = %d, want %d", got, catalogue.MaxUnifiedLoad/2)
	}
	if got := UnifiedToPercent(catalogue.MaxUnifiedLoad); got != 100 {
		t.Fatalf("UnifiedToPercent(max) = %d, want 100", got)
	}
}

// normalize(percent p) = p * 10,000; normalize(fine f) = f; mixed or empty
// packed values are rejected.
func TestNormalizeLoad(t *testing.T) {
	cases := []struct {
		name    string
		packed  int
		want    int
		wantErr bool
	}{
		{"percent 50", PackLoadOriginal(50, 0), 500_000, false},
		{"percent 100", PackLoadOriginal(100, 0), 1_000_000, false},
		{"fine grain", PackLoadOriginal(0, 123_456), 123_456, false},
		{"fine grain max", PackLoadOriginal(0, catalogue.MaxUnifiedLoad), catalogue.MaxUnifiedLoad, false},
		{"both set", PackLoadOriginal(50, 1000), 0, true},
		{"empty", 0, 0, true},
		{"percent out of range", PackLoadOriginal(101, 0), 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeLoad(tc.packed)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NormalizeLoad(%#x) = %d, want error", tc.packed, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeLoad(%#x): %v", tc.packed, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeLoad(%#x) = %d, want %d", tc.packed, got, tc.want)
			}
		})
	}
}

func TestPackUnpackLoadOriginal(t *testing.T) {
	packed := PackLoadOriginal(0, 750_000)
	percent, granular := UnpackLoadOriginal(packed)
	if percent != 0 || granular != 750_000 {
		t.Fatalf("unpack(pack(0, 750000)) = (%d, %d)", percent, granular)
	}
	packed = PackLoadOriginal(75, 0)
	percent, granular = UnpackLoadOriginal(packed)
	if percent != 75 || granular != 0 {
		t.Fatalf("unpack(pack(75, 0)) = (%d, %d)", percent, granular)
	}
}

func TestCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{nil, ErrCodeSuccess},
		{catalogue.ErrInvalidArgument, ErrCodeInvalidArgument},
		{catalogue.ErrNoDevice, ErrCodeNoDevice},
		{catalogue.ErrNoKernel, ErrCodeNoKernel},
		{catalogue.ErrNoChannel, ErrCodeNoChannel},
		{catalogue.ErrDeviceNotLoaded, ErrCodeDeviceNotLoaded},
		{catalogue.ErrDeviceBusy, ErrCodeDeviceBusy},
		{catalogue.ErrDeviceLocked, ErrCodeDeviceLocked},
	}
	for _, tc := range cases {
		if got := CodeFor(tc.err); got != tc.want {
			t.Errorf("CodeFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

// An error response's status value is the mapped error code, readable back
// through Code().
func TestErrorResponseCarriesCode(t *testing.T) {
	var buf bytes.Buffer
	resp := NewErrorResponse("cuAlloc", 1, catalogue.ErrNoDevice)
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	got, err := ReadResponse(&buf)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if got.Code() != ErrCodeNoDevice {
		t.Fatalf("Code() = %d, want %d", got.Code(), ErrCodeNoDevice)
	}
}

func TestLegacyFailedResponse(t *testing.T) {
	var buf bytes.Buffer
	resp := NewLegacyFailedResponse("unexpected character", `{"broken`)
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	got, err := ReadResponse(&buf)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if got.OK() {
		t.Fatal("expected legacy failed response to report not-OK")
	}
	if got.Data["request"] != `{"broken` {
		t.Fatalf("expected the raw input echoed back, got %v", got.Data["request"])
	}
}

// ReadFrame hands back the raw body so parse failures can be answered
// without dropping the connection; a zero-length frame is benign.
func TestReadFrameSplitsTransportFromParse(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0}) // zero-length frame
	garbage := []byte("not json at all")
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(garbage)))
	buf.Write(lenPrefix[:])
	buf.Write(garbage)

	body, err := ReadFrame(&buf)
	if err != nil || len(body) != 0 {
		t.Fatalf("zero-length frame: body=%q err=%v", body, err)
	}
	body, err = ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if _, err := ParseRequest(body); err == nil {
		t.Fatal("expected ParseRequest to reject garbage")
	}
}
