package registry

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "graft.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSettings(t *testing.T) {
	db := openTestDB(t)

	got, err := db.GetSetting(SettingTrustedCert)
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("unset setting = %q", got)
	}

	if err := db.SetSetting(SettingTrustedCert, "abc123"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetSetting(SettingTrustedCert)
	if got != "abc123" {
		t.Fatalf("setting = %q", got)
	}

	// Upsert replaces.
	if err := db.SetSetting(SettingTrustedCert, "def456"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetSetting(SettingTrustedCert)
	if got != "def456" {
		t.Fatalf("setting after upsert = %q", got)
	}

	if err := db.DeleteSetting(SettingTrustedCert); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetSetting(SettingTrustedCert)
	if got != "" {
		t.Fatalf("setting after delete = %q", got)
	}
	// Deleting again is fine.
	if err := db.DeleteSetting(SettingTrustedCert); err != nil {
		t.Fatal(err)
	}
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	id, err := db.BeginRun([]string{"adblock", "fonts"})
	if err != nil {
		t.Fatal(err)
	}
	r, err := db.GetRun(id)
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.Status != RunMounting {
		t.Fatalf("run = %+v", r)
	}
	if len(r.Modules) != 2 || r.Modules[0] != "adblock" {
		t.Fatalf("modules = %v", r.Modules)
	}
	if r.StartedAt.IsZero() {
		t.Fatal("no start time")
	}
	if !r.FinishedAt.IsZero() {
		t.Fatal("unfinished run has a finish time")
	}

	reqs := json.RawMessage(`[{"mode":"bind","target":"/system/etc/hosts"}]`)
	if err := db.FinishRun(id, RunMounted, reqs, ""); err != nil {
		t.Fatal(err)
	}
	r, _ = db.GetRun(id)
	if r.Status != RunMounted || r.FinishedAt.IsZero() {
		t.Fatalf("run = %+v", r)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(r.Requests, &decoded); err != nil {
		t.Fatalf("requests not json: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["target"] != "/system/etc/hosts" {
		t.Fatalf("requests = %s", r.Requests)
	}

	if err := db.SetRunStatus(id, RunUnmounted); err != nil {
		t.Fatal(err)
	}
	r, _ = db.GetRun(id)
	if r.Status != RunUnmounted {
		t.Fatalf("status = %q", r.Status)
	}
}

func TestRunNotFound(t *testing.T) {
	db := openTestDB(t)
	r, err := db.GetRun(42)
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Fatalf("run = %+v", r)
	}
	if err := db.FinishRun(42, RunFailed, nil, "x"); err != sql.ErrNoRows {
		t.Fatalf("err = %v, want ErrNoRows", err)
	}
	if err := db.SetRunStatus(42, RunFailed); err != sql.ErrNoRows {
		t.Fatalf("err = %v, want ErrNoRows", err)
	}
}

func TestLatestAndListRuns(t *testing.T) {
	db := openTestDB(t)

	latest, err := db.LatestRun()
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Fatalf("latest on empty db = %+v", latest)
	}

	var last int64
	for i := 0; i < 3; i++ {
		id, err := db.BeginRun([]string{"m"})
		if err != nil {
			t.Fatal(err)
		}
		last = id
	}
	latest, _ = db.LatestRun()
	if latest == nil || latest.ID != last {
		t.Fatalf("latest = %+v, want id %d", latest, last)
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs", len(runs))
	}
	if runs[0].ID < runs[1].ID {
		t.Fatal("runs not newest-first")
	}
}

func TestFailedRunKeepsError(t *testing.T) {
	db := openTestDB(t)
	id, _ := db.BeginRun(nil)
	if err := db.FinishRun(id, RunFailed, nil, "bind /system/bin: permission denied"); err != nil {
		t.Fatal(err)
	}
	r, _ := db.GetRun(id)
	if r.Status != RunFailed || r.Error == "" {
		t.Fatalf("run = %+v", r)
	}
	if len(r.Modules) != 0 {
		t.Fatalf("modules = %v", r.Modules)
	}
}

func TestSources(t *testing.T) {
	db := openTestDB(t)

	s, err := db.GetSource("adblock")
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Fatalf("unset source = %+v", s)
	}

	if err := db.SetSource("adblock", "adblock-1.0.zip", "sha256:aaa"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSource("themer", "ghcr.io/acme/themer:latest", "sha256:bbb"); err != nil {
		t.Fatal(err)
	}

	s, err = db.GetSource("adblock")
	if err != nil {
		t.Fatal(err)
	}
	if s == nil || s.Source != "adblock-1.0.zip" || s.Digest != "sha256:aaa" {
		t.Fatalf("source = %+v", s)
	}
	if s.InstalledAt.IsZero() {
		t.Fatal("no install time")
	}

	// Reinstall replaces the record.
	if err := db.SetSource("adblock", "adblock-1.1.zip", "sha256:ccc"); err != nil {
		t.Fatal(err)
	}
	s, _ = db.GetSource("adblock")
	if s.Digest != "sha256:ccc" {
		t.Fatalf("source after upsert = %+v", s)
	}

	all, err := db.ListSources()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Module != "adblock" || all[1].Module != "themer" {
		t.Fatalf("sources = %+v", all)
	}

	if err := db.DeleteSource("adblock"); err != nil {
		t.Fatal(err)
	}
	all, _ = db.ListSources()
	if len(all) != 1 {
		t.Fatalf("sources after delete = %+v", all)
	}
	// Deleting again is fine.
	if err := db.DeleteSource("adblock"); err != nil {
		t.Fatal(err)
	}
}
