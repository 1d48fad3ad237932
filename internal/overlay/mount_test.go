package overlay

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// backendFunc adapts a function to the Backend interface.
type backendFunc func(Request) error

func (f backendFunc) Apply(req Request) error { return f(req) }

// scenario wires a fake root filesystem, its read-only mirror and a module
// staging area into one builder.
type scenario struct {
	t       *testing.T
	root    string
	mirror  string
	modules string
	b       *Builder
}

func newScenario(t *testing.T) *scenario {
	t.Helper()
	base := t.TempDir()
	s := &scenario{
		t:       t,
		root:    filepath.Join(base, "root"),
		mirror:  filepath.Join(base, "mirror"),
		modules: filepath.Join(base, "modules"),
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		t.Fatal(err)
	}
	layout := Layout{ModuleMount: s.modules, MirrorDir: s.mirror}
	s.b = NewBuilder(layout, s.root, "system", zerolog.Nop())
	return s
}

// seed creates rel under the fake root and replicates it into the mirror,
// the way a partition snapshot would.
func (s *scenario) seed(rel, content string) {
	s.t.Helper()
	writeTestFile(s.t, filepath.Join(s.root, rel), content)
	writeTestFile(s.t, s.mirror+s.root+"/"+rel, content)
}

func (s *scenario) seedDir(rel string) {
	s.t.Helper()
	for _, p := range []string{filepath.Join(s.root, rel), s.mirror + s.root + "/" + rel} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			s.t.Fatal(err)
		}
	}
}

func (s *scenario) moduleFile(module, rel, content string) {
	s.t.Helper()
	writeTestFile(s.t, filepath.Join(s.modules, module, "system", rel), content)
}

func (s *scenario) moduleLink(module, rel, target string) {
	s.t.Helper()
	p := filepath.Join(s.modules, module, "system", rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		s.t.Fatal(err)
	}
	if err := os.Symlink(target, p); err != nil {
		s.t.Fatal(err)
	}
}

func (s *scenario) collect(module string) {
	s.t.Helper()
	if err := s.b.AddModule(module, filepath.Join(s.modules, module, "system")); err != nil {
		s.t.Fatal(err)
	}
}

func (s *scenario) mount() []Request {
	s.t.Helper()
	tr := s.b.Finish()
	var got []Request
	err := tr.Mount(backendFunc(func(req Request) error {
		got = append(got, req)
		return nil
	}))
	if err != nil {
		s.t.Fatalf("mount: %v", err)
	}
	return got
}

// mirrorPath is where the mirror copy of rel lives.
func (s *scenario) mirrorPath(rel string) string {
	return s.mirror + s.root + "/" + rel
}

func checkRequests(t *testing.T, got, want []Request) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d requests, want %d:\n got: %+v\nwant: %+v", len(got), len(want), got, want)
	}
	for i := range want {
		if !reflect.DeepEqual(got[i], want[i]) {
			t.Errorf("request %d:\n got: %+v\nwant: %+v", i, got[i], want[i])
		}
	}
}

func TestMountSimpleMerge(t *testing.T) {
	s := newScenario(t)
	s.seed("system/bin/cat", "cat")
	s.seed("system/bin/ls", "ls")
	s.moduleFile("tools", "bin/grep", "grep")
	s.collect("tools")

	got := s.mount()
	want := []Request{
		{Mode: ModeTmpfs, Source: s.mirrorPath("system/bin"), Target: s.root + "/system/bin", Kind: KindDirectory, Reason: "tmpfs"},
		{Mode: ModeBind, Source: s.mirrorPath("system/bin/cat"), Target: s.root + "/system/bin/cat", Kind: KindRegular, Reason: "mirror"},
		{Mode: ModeBind, Source: filepath.Join(s.modules, "tools", "system", "bin", "grep"), Target: s.root + "/system/bin/grep", Kind: KindRegular, Reason: "module", Module: "tools"},
		{Mode: ModeBind, Source: s.mirrorPath("system/bin/ls"), Target: s.root + "/system/bin/ls", Kind: KindRegular, Reason: "mirror"},
	}
	checkRequests(t, got, want)
}

func TestMountOverrideInPlace(t *testing.T) {
	s := newScenario(t)
	s.seed("system/etc/hosts", "stock")
	s.moduleFile("adblock", "etc/hosts", "modded")
	s.collect("adblock")

	// The real file exists, so no rebuild is needed: one bind, nothing
	// else.
	got := s.mount()
	want := []Request{
		{Mode: ModeBind, Source: filepath.Join(s.modules, "adblock", "system", "etc", "hosts"), Target: s.root + "/system/etc/hosts", Kind: KindRegular, Reason: "module", Module: "adblock"},
	}
	checkRequests(t, got, want)
}

func TestMountWhiteoutHidesEntry(t *testing.T) {
	s := newScenario(t)
	s.seed("system/app/Bloat/bloat.apk", "apk")
	s.seed("system/app/Keep/keep.apk", "apk")

	// Whiteouts are 0:0 char devices on disk; tests cannot create those
	// unprivileged, so the node is planted directly.
	tr := s.b.Tree()
	app := mustEmplace(t)(tr.EmplaceIntermediate(s.b.base, "app"))
	mustEmplace(t)(tr.EmplaceModule(app, "Bloat", KindOther, "cleaner"))

	got := s.mount()
	want := []Request{
		{Mode: ModeTmpfs, Source: s.mirrorPath("system/app"), Target: s.root + "/system/app", Kind: KindDirectory, Reason: "tmpfs"},
		{Mode: ModeBind, Source: s.mirrorPath("system/app/Keep"), Target: s.root + "/system/app/Keep", Kind: KindDirectory, Reason: "mirror"},
	}
	checkRequests(t, got, want)
	for _, req := range got {
		if filepath.Base(req.Target) == "Bloat" {
			t.Fatalf("whiteout produced a request: %+v", req)
		}
	}
}

func TestMountReplaceDirectory(t *testing.T) {
	s := newScenario(t)
	s.seed("system/priv-app/Widget/old.apk", "old")
	s.moduleFile("skin", "priv-app/Widget/"+ReplaceMarker, "")
	s.moduleFile("skin", "priv-app/Widget/new.apk", "new")
	s.collect("skin")

	got := s.mount()
	want := []Request{
		{Mode: ModeTmpfs, Source: s.mirrorPath("system/priv-app/Widget"), Target: s.root + "/system/priv-app/Widget", Kind: KindDirectory, Reason: "replace"},
		{Mode: ModeBind, Source: filepath.Join(s.modules, "skin", "system", "priv-app", "Widget", "new.apk"), Target: s.root + "/system/priv-app/Widget/new.apk", Kind: KindRegular, Reason: "module", Module: "skin"},
	}
	checkRequests(t, got, want)
}

func TestMountSplitPartition(t *testing.T) {
	s := newScenario(t)
	s.seedDir("system")
	s.seed("vendor/lib/libreal.so", "real")
	s.moduleFile("vmod", "vendor/lib/libx.so", "x")
	s.collect("vmod")
	s.b.SplitPartitions([]string{"vendor", "product"})

	got := s.mount()
	want := []Request{
		{Mode: ModeTmpfs, Source: s.mirrorPath("vendor/lib"), Target: s.root + "/vendor/lib", Kind: KindDirectory, Reason: "tmpfs"},
		{Mode: ModeBind, Source: s.mirrorPath("vendor/lib/libreal.so"), Target: s.root + "/vendor/lib/libreal.so", Kind: KindRegular, Reason: "mirror"},
		// Module sources keep the primary partition's name even after the
		// subtree moved to its own root.
		{Mode: ModeBind, Source: filepath.Join(s.modules, "vmod", "system", "vendor", "lib", "libx.so"), Target: s.root + "/vendor/lib/libx.so", Kind: KindRegular, Reason: "module", Module: "vmod"},
	}
	checkRequests(t, got, want)
}

func TestMountInjectedTool(t *testing.T) {
	s := newScenario(t)
	s.seed("system/bin/ls", "ls")
	s.moduleFile("shadow", "bin/graft", "impostor")
	s.collect("shadow")
	toolSrc := filepath.Join(s.modules, "client")
	writeTestFile(t, toolSrc, "client binary")
	if !s.b.InjectTool("bin", "graft", toolSrc) {
		t.Fatal("inject failed")
	}

	got := s.mount()
	want := []Request{
		{Mode: ModeTmpfs, Source: s.mirrorPath("system/bin"), Target: s.root + "/system/bin", Kind: KindDirectory, Reason: "tmpfs"},
		{Mode: ModeBind, Source: toolSrc, Target: s.root + "/system/bin/graft", Kind: KindRegular, Reason: "inject"},
		{Mode: ModeBind, Source: s.mirrorPath("system/bin/ls"), Target: s.root + "/system/bin/ls", Kind: KindRegular, Reason: "mirror"},
	}
	checkRequests(t, got, want)
}

func TestMountModuleSymlink(t *testing.T) {
	s := newScenario(t)
	s.seed("system/bin/dash", "dash")
	s.moduleLink("shells", "bin/sh", "/system/bin/dash")
	s.collect("shells")

	got := s.mount()
	want := []Request{
		{Mode: ModeTmpfs, Source: s.mirrorPath("system/bin"), Target: s.root + "/system/bin", Kind: KindDirectory, Reason: "tmpfs"},
		{Mode: ModeBind, Source: s.mirrorPath("system/bin/dash"), Target: s.root + "/system/bin/dash", Kind: KindRegular, Reason: "mirror"},
		{Mode: ModeSymlink, Source: "/system/bin/dash", Target: s.root + "/system/bin/sh", Kind: KindSymlink, Reason: "module", Module: "shells"},
	}
	checkRequests(t, got, want)
}

func TestMountNestedRebuild(t *testing.T) {
	s := newScenario(t)
	s.seed("system/build.prop", "prop")
	s.moduleFile("rules", "newdir/policy.rule", "rule")
	s.collect("rules")

	// newdir has no real counterpart, so system itself is rebuilt, and
	// newdir is rebuilt inside it.
	got := s.mount()
	want := []Request{
		{Mode: ModeTmpfs, Source: s.mirrorPath("system"), Target: s.root + "/system", Kind: KindDirectory, Reason: "tmpfs"},
		{Mode: ModeBind, Source: s.mirrorPath("system/build.prop"), Target: s.root + "/system/build.prop", Kind: KindRegular, Reason: "mirror"},
		{Mode: ModeTmpfs, Source: s.mirrorPath("system/newdir"), Target: s.root + "/system/newdir", Kind: KindDirectory, Reason: "tmpfs"},
		{Mode: ModeBind, Source: filepath.Join(s.modules, "rules", "system", "newdir", "policy.rule"), Target: s.root + "/system/newdir/policy.rule", Kind: KindRegular, Reason: "module", Module: "rules"},
	}
	checkRequests(t, got, want)
}

func TestMountDropsEntryUnderPartitionRoot(t *testing.T) {
	s := newScenario(t)
	// No real system directory at all: the partition cannot be rebuilt,
	// so the subtree is dropped and nothing is mounted.
	s.moduleFile("m", "bin/tool", "tool")
	s.collect("m")

	got := s.mount()
	if len(got) != 0 {
		t.Fatalf("expected no requests, got %+v", got)
	}
}

func TestMountAggregatesBackendErrors(t *testing.T) {
	s := newScenario(t)
	s.seed("system/bin/cat", "cat")
	s.seed("system/bin/ls", "ls")
	s.moduleFile("tools", "bin/grep", "grep")
	s.collect("tools")
	tr := s.b.Finish()

	boom := errors.New("boom")
	var applied []Request
	err := tr.Mount(backendFunc(func(req Request) error {
		applied = append(applied, req)
		if req.Reason == "mirror" {
			return boom
		}
		return nil
	}))
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("error type %T", err)
	}
	if len(merr.Errors) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(merr.Errors), merr)
	}
	// The walk continued past the failures.
	if len(applied) != 4 {
		t.Fatalf("applied %d requests, want 4", len(applied))
	}
}

func TestMountPanicsTwice(t *testing.T) {
	s := newScenario(t)
	s.seed("system/etc/hosts", "stock")
	s.moduleFile("m", "etc/hosts", "mod")
	s.collect("m")
	tr := s.b.Finish()
	if err := tr.Mount(backendFunc(func(Request) error { return nil })); err != nil {
		t.Fatal(err)
	}
	mustPanic(t, func() {
		_ = tr.Mount(backendFunc(func(Request) error { return nil }))
	})
}
