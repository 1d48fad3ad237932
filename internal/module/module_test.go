package module

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return &Store{Root: t.TempDir(), Partition: "system", Log: zerolog.Nop()}
}

// plant writes a minimal installed module directly into the store.
func plant(t *testing.T, s *Store, id string, markers ...string) {
	t.Helper()
	dir := filepath.Join(s.Root, id)
	if err := os.MkdirAll(filepath.Join(dir, s.Partition, "etc"), 0o755); err != nil {
		t.Fatal(err)
	}
	prop := "id=" + id + "\nname=" + id + "\nversion=1.0\nversionCode=1\n"
	if err := os.WriteFile(filepath.Join(dir, PropFile), []byte(prop), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, m := range markers {
		if err := os.WriteFile(filepath.Join(dir, m), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanEmptyStore(t *testing.T) {
	s := testStore(t)
	s.Root = filepath.Join(s.Root, "does-not-exist")
	mods, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(mods) != 0 {
		t.Fatalf("mods = %v", mods)
	}
}

func TestScanOrderAndState(t *testing.T) {
	s := testStore(t)
	plant(t, s, "zeta")
	plant(t, s, "alpha", markerDisable)
	plant(t, s, "mid", markerSkip)

	// Junk that must not scan as modules.
	if err := os.MkdirAll(filepath.Join(s.Root, ".staging-x-123"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Root, "stray.zip"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	mods, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(mods) != 3 {
		t.Fatalf("got %d modules", len(mods))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if mods[i].ID != want {
			t.Fatalf("order = %v", []string{mods[0].ID, mods[1].ID, mods[2].ID})
		}
	}
	if !mods[0].Disabled || mods[0].Active() {
		t.Fatalf("alpha = %+v", mods[0])
	}
	if !mods[1].SkipMount || mods[1].Active() {
		t.Fatalf("mid = %+v", mods[1])
	}
	if !mods[2].Active() || !mods[2].HasContent {
		t.Fatalf("zeta = %+v", mods[2])
	}
}

func TestModuleWithoutContent(t *testing.T) {
	s := testStore(t)
	dir := filepath.Join(s.Root, "meta")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, PropFile), []byte("id=meta\nname=Meta\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := s.Get("meta")
	if err != nil {
		t.Fatal(err)
	}
	if m.HasContent || m.Active() {
		t.Fatalf("m = %+v", m)
	}
}

func TestGetUnknown(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get("nope"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := s.Get("../escape"); err == nil {
		t.Fatal("expected error for invalid id")
	}
}

func TestDisableEnable(t *testing.T) {
	s := testStore(t)
	plant(t, s, "mod")
	if err := s.SetDisabled("mod", true); err != nil {
		t.Fatal(err)
	}
	m, _ := s.Get("mod")
	if !m.Disabled {
		t.Fatal("not disabled")
	}
	if err := s.SetDisabled("mod", false); err != nil {
		t.Fatal(err)
	}
	m, _ = s.Get("mod")
	if m.Disabled {
		t.Fatal("still disabled")
	}
	// Clearing twice is fine.
	if err := s.SetDisabled("mod", false); err != nil {
		t.Fatal(err)
	}
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	plant(t, s, "keep")
	plant(t, s, "gone", markerRemove)
	plant(t, s, "fresh", markerUpdate)

	removed, err := s.Prune()
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != "gone" {
		t.Fatalf("removed = %v", removed)
	}
	if _, err := os.Stat(filepath.Join(s.Root, "gone")); !os.IsNotExist(err) {
		t.Fatal("removed module still on disk")
	}
	m, err := s.Get("fresh")
	if err != nil {
		t.Fatal(err)
	}
	if m.Updated {
		t.Fatal("update marker not cleared")
	}
	if _, err := s.Get("keep"); err != nil {
		t.Fatal(err)
	}
}

func TestPropIDMismatchUsesDirName(t *testing.T) {
	s := testStore(t)
	dir := filepath.Join(s.Root, "realname")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, PropFile), []byte("id=othername\nname=X\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := s.Get("realname")
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "realname" {
		t.Fatalf("id = %q", m.ID)
	}
}
