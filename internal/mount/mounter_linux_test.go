//go:build linux

package mount

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/graftfs/graft/internal/overlay"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	reqs := []overlay.Request{
		{Mode: overlay.ModeTmpfs, Target: "/system/bin", Kind: overlay.KindDirectory, Reason: "tmpfs"},
		{Mode: overlay.ModeBind, Source: "/m/a", Target: "/system/bin/a", Kind: overlay.KindRegular, Reason: "module"},
	}
	for _, req := range reqs {
		if err := r.Apply(req); err != nil {
			t.Fatal(err)
		}
	}
	if len(r.Requests) != len(reqs) {
		t.Fatalf("recorded %d, want %d", len(r.Requests), len(reqs))
	}
	if r.Requests[1].Target != "/system/bin/a" {
		t.Fatalf("recorded %+v", r.Requests[1])
	}
}

func TestEnsureStub(t *testing.T) {
	m, err := NewMounter(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	base := t.TempDir()

	dir := filepath.Join(base, "a", "b")
	if err := m.ensureStub(dir, overlay.KindDirectory); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		t.Fatalf("stub dir: %v %v", fi, err)
	}

	file := filepath.Join(base, "c", "f.txt")
	if err := m.ensureStub(file, overlay.KindRegular); err != nil {
		t.Fatal(err)
	}
	fi, err = os.Stat(file)
	if err != nil || fi.IsDir() || fi.Size() != 0 {
		t.Fatalf("stub file: %v %v", fi, err)
	}

	// Existing targets are left alone.
	if err := os.WriteFile(file, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.ensureStub(file, overlay.KindRegular); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(file)
	if string(b) != "content" {
		t.Fatal("stub clobbered an existing file")
	}

	// Shape mismatch is an error.
	if err := m.ensureStub(file, overlay.KindDirectory); err == nil {
		t.Fatal("expected error for file where directory is needed")
	}
}

func TestInRebuilt(t *testing.T) {
	m, err := NewMounter(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	m.rebuilt = append(m.rebuilt, "/system/bin")
	cases := []struct {
		target string
		want   bool
	}{
		{"/system/bin/ls", true},
		{"/system/bin/sub/dir", true},
		{"/system/bin", false},
		{"/system/binx", false},
		{"/vendor/lib", false},
	}
	for _, c := range cases {
		if got := m.inRebuilt(c.target); got != c.want {
			t.Errorf("inRebuilt(%q) = %v, want %v", c.target, got, c.want)
		}
	}
}
