package testsupport

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates path, and any missing parents, holding size filler bytes.
// Sizes below one are rounded up so the file is never empty.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	writeBytes(t, path, bytes.Repeat([]byte{'B'}, int(max(size, 1))))
}

// WritePreset writes a minimal HandBrake preset export whose first entry is
// presetName.
func WritePreset(t testing.TB, path, presetName string) {
	t.Helper()
	body := fmt.Sprintf(`{"PresetList":[{"PresetName":%q}]}`+"\n", presetName)
	writeBytes(t, path, []byte(body))
}

func writeBytes(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
