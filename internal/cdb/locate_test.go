package cdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zhubert/windbg-mcp/internal/errors"
)

func TestFindExecutableOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdb.exe")
	if err := os.WriteFile(path, []byte("fake"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := FindExecutable(path)
	if err != nil {
		t.Fatalf("FindExecutable failed: %v", err)
	}
	if got != path {
		t.Errorf("FindExecutable = %q, want %q", got, path)
	}
}

func TestFindExecutableOverrideMissing(t *testing.T) {
	_, err := FindExecutable(filepath.Join(t.TempDir(), "nope.exe"))
	if err == nil {
		t.Fatal("expected error for missing override")
	}
	if !errors.Is(err, errors.KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", errors.GetKind(err))
	}
}

func TestFindExecutableOverrideIsDirectory(t *testing.T) {
	_, err := FindExecutable(t.TempDir())
	if err == nil {
		t.Fatal("expected error when override is a directory")
	}
}

func TestFindExecutableNoOverride(t *testing.T) {
	// No real CDB install on the test machine; with an empty PATH the scan
	// must come up empty rather than hang or panic.
	t.Setenv("PATH", t.TempDir())

	if path, err := FindExecutable(""); err == nil {
		// A Windows machine with the SDK installed may legitimately find one.
		if !isFile(path) {
			t.Errorf("FindExecutable returned non-file %q", path)
		}
	} else if !errors.Is(err, errors.KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", errors.GetKind(err))
	}
}
