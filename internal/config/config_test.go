package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeINI(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "xrm.ini")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeINI(t, "[XRM]\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Verbosity != defaultVerbosity {
		t.Fatalf("Verbosity = %d, want default %d", cfg.Verbosity, defaultVerbosity)
	}
	if cfg.LimitConcurrentClient != defaultLimitConcurrentClient {
		t.Fatalf("LimitConcurrentClient = %d, want default %d", cfg.LimitConcurrentClient, defaultLimitConcurrentClient)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeINI(t, "[XRM]\nverbosity=5\nlimitConcurrentClient=10\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Verbosity != 5 {
		t.Fatalf("Verbosity = %d, want 5", cfg.Verbosity)
	}
	if cfg.LimitConcurrentClient != 10 {
		t.Fatalf("LimitConcurrentClient = %d, want 10", cfg.LimitConcurrentClient)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeINI(t, "[XRM]\nverbosity=5\n")
	t.Setenv("XRM.verbosity", "7")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Verbosity != 7 {
		t.Fatalf("Verbosity = %d, want env override 7", cfg.Verbosity)
	}
}

func TestIsTrueOnlyLiteralTrue(t *testing.T) {
	cases := map[string]bool{"true": true, "True": false, "1": false, "yes": false, "": false}
	for in, want := range cases {
		if got := IsTrue(in); got != want {
			t.Errorf("IsTrue(%q) = %v, want %v", in, got, want)
		}
	}
}
