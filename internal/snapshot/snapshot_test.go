package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/cu-fleet/curmd/internal/allocator"
	"github.com/cu-fleet/curmd/internal/catalogue"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	cat := catalogue.New(1)
	dev, err := cat.Device(0)
	if err != nil {
		t.Fatalf("Device(0): %v", err)
	}
	dev.Load("test.xclbin", uuid.New(), []catalogue.ImageCU{
		{KernelName: "krnl_vadd", InstanceName: "vadd_1", Kind: catalogue.KindHardware, MaxCapacity: catalogue.MaxUnifiedLoad},
	})

	a := allocator.New(cat)
	if _, err := a.AllocCU(catalogue.CUDescriptor{KernelName: "krnl_vadd", RequestLoad: catalogue.MaxUnifiedLoad / 2, ClientID: 1, MemBank: -1}); err != nil {
		t.Fatalf("AllocCU: %v", err)
	}

	path := filepath.Join(t.TempDir(), "curmd.snapshot")
	if err := Save(path, a.ExportState()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	restored := allocator.New(loaded.Catalogue)
	restored.RestoreState(loaded)
	rows := restored.AllocationQuery(1)
	if len(rows) != 1 || rows[0].Load != catalogue.MaxUnifiedLoad/2 {
		t.Fatalf("restored allocation mismatch: %+v", rows)
	}
}
