// Package snapshot persists and restores an allocator's full state to a
// fixed host path for crash recovery. Writes are crash-safe: the new
// snapshot is written to a temp file in the same directory and atomically
// renamed into place via github.com/google/renameio.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio"
	"github.com/opencontainers/selinux/go-selinux"
	"k8s.io/klog/v2"

	"github.com/cu-fleet/curmd/internal/allocator"
)

// snapshotSELinuxContext is the label applied to the persisted snapshot
// file when the host has SELinux (/sys/fs/selinux exists), matching the
// daemon's own confinement domain.
const snapshotSELinuxContext = "system_u:object_r:curmd_var_lib_t:s0"

// Save encodes state and atomically writes it to path.
func Save(path string, state allocator.State) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("snapshot: write %q: %w", path, err)
	}
	if err := setSELinuxContext(path, snapshotSELinuxContext); err != nil {
		klog.ErrorS(err, "failed to set selinux context on snapshot", "path", path)
	}
	klog.V(2).InfoS("snapshot saved", "path", path, "bytes", buf.Len())
	return nil
}

// Load reads and decodes a snapshot previously written by Save.
func Load(path string) (allocator.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return allocator.State{}, fmt.Errorf("snapshot: read %q: %w", path, err)
	}
	var state allocator.State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return allocator.State{}, fmt.Errorf("snapshot: decode %q: %w", path, err)
	}
	return state, nil
}

// setSELinuxContext best-effort relabels the snapshot file after
// renameio's rename-into-place. A non-SELinux host is not an error, it is
// simply a no-op.
func setSELinuxContext(path, context string) error {
	if _, err := os.Stat("/sys/fs/selinux"); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			klog.V(4).InfoS("SELinux disabled, not updating snapshot context", "path", path)
			return nil
		}
		return fmt.Errorf("snapshot: checking SELinux availability: %w", err)
	}
	return selinux.Chcon(path, context, true)
}
