package mppath

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boardfs/boardfs/pkg/session"
)

func seedTree(t *testing.T) (*session.Board, *Path, func() int) {
	t.Helper()
	b, dev := newTestPath(t)
	dev.Seed("/main.py", []byte("print('hi')\n"))
	dev.Seed("/boot.py", []byte("pass\n"))
	dev.Seed("/lib/util.py", []byte("def f(): pass\n"))
	dev.Seed("/lib/net/socket.py", []byte("class S: pass\n"))
	dev.Seed("/lib/net/README", []byte("docs\n"))
	dev.SeedDir("/empty")
	return b, New(b, "/"), dev.Execs
}

func names(paths []*Path) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPath_Iterdir(t *testing.T) {
	_, root, _ := seedTree(t)
	ctx := context.Background()

	entries, err := root.Iterdir(ctx)
	if err != nil {
		t.Fatalf("Iterdir: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	want := []string{"boot.py", "empty", "lib", "main.py"}
	if !equalStrings(got, want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}

	for _, e := range entries {
		switch e.Name() {
		case "lib", "empty":
			if !e.IsDir() {
				t.Errorf("%s not reported as directory", e.Name())
			}
		case "main.py":
			if !e.IsFile() {
				t.Error("main.py not reported as file")
			}
			if e.Size() != int64(len("print('hi')\n")) {
				t.Errorf("main.py size = %d", e.Size())
			}
		}
	}
}

func TestPath_Iterdir_Missing(t *testing.T) {
	b, _ := newTestPath(t)

	_, err := New(b, "/nowhere").Iterdir(context.Background())
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDirEntry_PrimesStatCache(t *testing.T) {
	b, root, _ := seedTree(t)
	ctx := context.Background()
	_ = b

	paths, err := root.Glob(ctx, "*.py")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("matched %v", names(paths))
	}
	// Type and size came with the listing; no further stat needed.
	isFile, err := paths[0].IsFile(ctx)
	if err != nil {
		t.Fatalf("IsFile: %v", err)
	}
	if !isFile {
		t.Error("glob result not reported as file")
	}
}

func TestDirEntry_StatFetchesTimestamps(t *testing.T) {
	b, dev := newTestPath(t)
	dev.Seed("/main.py", []byte("print('hi')\n"))
	ctx := context.Background()

	paths, err := New(b, "/").Glob(ctx, "*.py")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("matched %v", names(paths))
	}
	p := paths[0]

	// The listing carries mode and size only. Type checks are answered
	// from that record without touching the device.
	before := dev.Enters()
	if isFile, err := p.IsFile(ctx); err != nil || !isFile {
		t.Fatalf("IsFile = %v, %v", isFile, err)
	}
	if dev.Enters() != before {
		t.Error("type check entered batch mode")
	}

	// Stat must not serve the listing record: it lacks timestamps.
	st, err := p.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Mtime.IsZero() {
		t.Fatal("Stat served a record without timestamps")
	}
	if d := time.Since(st.Mtime); d < -2*time.Second || d > 2*time.Second {
		t.Errorf("mtime %v not near now", st.Mtime)
	}
	if st.Size != int64(len("print('hi')\n")) {
		t.Errorf("size = %d", st.Size)
	}
}

func TestPath_Glob(t *testing.T) {
	_, root, _ := seedTree(t)
	ctx := context.Background()

	got, err := root.Glob(ctx, "*.py")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if want := []string{"/boot.py", "/main.py"}; !equalStrings(names(got), want) {
		t.Errorf("Glob(*.py) = %v, want %v", names(got), want)
	}

	got, err = root.Glob(ctx, "lib/*/socket.py")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if want := []string{"/lib/net/socket.py"}; !equalStrings(names(got), want) {
		t.Errorf("Glob(lib/*/socket.py) = %v, want %v", names(got), want)
	}

	got, err = root.Glob(ctx, "**/*.py")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	want := []string{"/boot.py", "/lib/net/socket.py", "/lib/util.py", "/main.py"}
	if !equalStrings(names(got), want) {
		t.Errorf("Glob(**/*.py) = %v, want %v", names(got), want)
	}

	if _, err := root.Glob(ctx, "/absolute"); err == nil {
		t.Error("expected an error for an absolute pattern")
	}
	if _, err := root.Glob(ctx, "../up"); err == nil {
		t.Error("expected an error for a pattern escaping the root")
	}
}

func TestPath_RGlob(t *testing.T) {
	_, root, _ := seedTree(t)

	got, err := root.RGlob(context.Background(), "*.py")
	if err != nil {
		t.Fatalf("RGlob: %v", err)
	}
	want := []string{"/boot.py", "/lib/net/socket.py", "/lib/util.py", "/main.py"}
	if !equalStrings(names(got), want) {
		t.Errorf("RGlob(*.py) = %v, want %v", names(got), want)
	}
}

func TestPath_Glob_ListsEachDirectoryOnce(t *testing.T) {
	_, root, execs := seedTree(t)
	ctx := context.Background()

	before := execs()
	if _, err := root.Glob(ctx, "**/*.py"); err != nil {
		t.Fatalf("Glob: %v", err)
	}
	// Four directories (/, /empty, /lib, /lib/net), one listing each. A
	// ** traversal visits every directory twice, so this fails without
	// the per-traversal cache.
	if got := execs() - before; got != 4 {
		t.Errorf("traversal ran %d listings, want 4", got)
	}
}

func TestPath_Walk(t *testing.T) {
	_, root, execs := seedTree(t)
	ctx := context.Background()

	before := execs()
	var visited []string
	err := root.Walk(ctx, 0, func(p *Path, e *DirEntry) error {
		visited = append(visited, p.String())
		if e.Name() == "net" {
			return SkipDir
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := []string{"/boot.py", "/empty", "/lib", "/lib/net", "/lib/util.py", "/main.py"}
	if !equalStrings(visited, want) {
		t.Errorf("visited = %v, want %v", visited, want)
	}
	// /, /empty and /lib are listed; /lib/net is pruned.
	if got := execs() - before; got != 3 {
		t.Errorf("walk ran %d listings, want 3", got)
	}
}

func TestPath_Walk_DepthBound(t *testing.T) {
	b, dev := newTestPath(t)
	dev.Seed("/a/b/c/leaf.txt", []byte("x"))

	err := New(b, "/").Walk(context.Background(), 2, func(p *Path, e *DirEntry) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected a depth error")
	}
}
