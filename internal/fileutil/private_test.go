package fileutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// assertPermAtMost fails when path grants bits beyond want. A stricter
// umask is fine.
func assertPermAtMost(t *testing.T, path string, want os.FileMode) {
	t.Helper()
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if extra := info.Mode().Perm() &^ want; extra != 0 {
		t.Errorf("perm = %04o, extra bits %04o", info.Mode().Perm(), extra)
	}
}

func TestMkdirPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home", "credentials")
	if err := MkdirPrivate(path); err != nil {
		t.Fatalf("MkdirPrivate: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		t.Fatalf("Stat: %v, dir=%v", err, info != nil && info.IsDir())
	}
	assertPermAtMost(t, path, 0o700)
	assertPermAtMost(t, filepath.Dir(path), 0o700)

	if err := MkdirPrivate(path); err != nil {
		t.Errorf("second MkdirPrivate: %v", err)
	}
}

func TestOpenPrivateAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailroom-tui.log")
	for _, line := range []string{"one\n", "two\n"} {
		f, err := OpenPrivate(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
		if err != nil {
			t.Fatalf("OpenPrivate: %v", err)
		}
		if _, err := f.WriteString(line); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "one\ntwo\n" {
		t.Errorf("content = %q", got)
	}
	assertPermAtMost(t, path, 0o600)
}

func TestOpenPrivateMissingParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no", "such", "file")
	if _, err := OpenPrivate(path, os.O_CREATE|os.O_WRONLY); err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestChmodPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.db")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := ChmodPrivate(path); err != nil {
		t.Fatalf("ChmodPrivate: %v", err)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if got := info.Mode().Perm(); got != 0o600 {
			t.Errorf("perm = %04o, want 0600", got)
		}
	}
}
