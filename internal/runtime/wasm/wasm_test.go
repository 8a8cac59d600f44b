package wasm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/OvrisHQ/rove/internal/crypto"
	"github.com/OvrisHQ/rove/internal/exec"
	"github.com/OvrisHQ/rove/internal/security"
)

// minimalModule is the smallest valid WASM binary: just the magic number
// and version, no sections. Sufficient to exercise the gate logic and
// compilation without needing a real plugin toolchain in this repo.
var minimalModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func writeArtifact(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "testplugin.wasm")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testDeps(t *testing.T) HostDeps {
	t.Helper()
	root := t.TempDir()
	return HostDeps{
		Guard:    security.NewGuard(root),
		Executor: exec.NewExecutor([]string{"git"}),
	}
}

func TestLoadRejectsUndeclaredPlugin(t *testing.T) {
	path := writeArtifact(t, minimalModule)
	manifest := &crypto.Manifest{}

	_, err := Load(context.Background(), path, manifest, testDeps(t))
	if err == nil {
		t.Fatal("expected gate G1 rejection for undeclared plugin")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("artifact should be deleted after gate failure")
	}
}

func TestLoadRejectsHashMismatch(t *testing.T) {
	path := writeArtifact(t, minimalModule)
	manifest := &crypto.Manifest{
		Plugins: []crypto.PluginEntry{
			{Name: "testplugin", Hash: crypto.HashBytes([]byte("not the real bytes")), Version: "1.0.0"},
		},
	}

	_, err := Load(context.Background(), path, manifest, testDeps(t))
	if err == nil {
		t.Fatal("expected gate G2 rejection for hash mismatch")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("artifact should be deleted after gate failure")
	}
}

func TestLoadSucceedsWithMatchingHash(t *testing.T) {
	path := writeArtifact(t, minimalModule)
	manifest := &crypto.Manifest{
		Plugins: []crypto.PluginEntry{
			{Name: "testplugin", Hash: crypto.HashBytes(minimalModule), Version: "1.0.0"},
		},
	}

	plugin, err := Load(context.Background(), path, manifest, testDeps(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer plugin.Close(context.Background())

	if plugin.CrashCount() != 0 || plugin.Quarantined() {
		t.Error("freshly loaded plugin should have zero crash count and not be quarantined")
	}
}
