package mppath

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boardfs/boardfs/pkg/session"
	"github.com/boardfs/boardfs/pkg/transport/transporttest"
)

func newTestPath(t *testing.T) (*session.Board, *transporttest.Device) {
	t.Helper()
	dev := transporttest.NewDevice()
	b := session.New(dev, session.WithReadTimeout(2*time.Second))
	t.Cleanup(func() { b.Close() })
	return b, dev
}

func TestPath_Lexical(t *testing.T) {
	b, _ := newTestPath(t)

	p := New(b, "/lib/net/./socket.py")
	if got := p.String(); got != "/lib/net/socket.py" {
		t.Errorf("String() = %q", got)
	}
	if got := p.Name(); got != "socket.py" {
		t.Errorf("Name() = %q", got)
	}
	if got := p.Suffix(); got != ".py" {
		t.Errorf("Suffix() = %q", got)
	}
	if got := p.Stem(); got != "socket" {
		t.Errorf("Stem() = %q", got)
	}
	if got := p.Parent().String(); got != "/lib/net" {
		t.Errorf("Parent() = %q", got)
	}
	if got := New(b, "/lib").Join("net", "socket.py"); !got.Equal(p) {
		t.Errorf("Join() = %q", got)
	}
	if !p.IsAbs() {
		t.Error("IsAbs() = false for an absolute path")
	}
	if New(b, "main.py").IsAbs() {
		t.Error("IsAbs() = true for a relative path")
	}
}

func TestPath_Resolve(t *testing.T) {
	b, dev := newTestPath(t)
	ctx := context.Background()
	dev.SeedDir("/lib")

	// Absolute paths resolve without touching the device.
	abs := New(b, "/lib/../main.py")
	r, err := abs.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.String() != "/main.py" {
		t.Errorf("resolved = %q", r)
	}
	if dev.Execs() != 0 {
		t.Errorf("absolute resolve ran %d executions, want 0", dev.Execs())
	}

	if err := New(b, "/lib").Chdir(ctx); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	r, err = New(b, "util.py").Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve relative: %v", err)
	}
	if r.String() != "/lib/util.py" {
		t.Errorf("resolved = %q", r)
	}

	// Resolving a resolved path is a no-op and returns the same value, so
	// nothing upstream invalidates a cache for nothing.
	again, err := r.Resolve(ctx)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if again != r {
		t.Error("resolving a resolved path built a new value")
	}
}

func TestPath_StatCache(t *testing.T) {
	b, dev := newTestPath(t)
	ctx := context.Background()
	dev.Seed("/main.py", []byte("pass\n"))

	p := New(b, "/main.py")
	st, err := p.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size != 5 {
		t.Errorf("size = %d, want 5", st.Size)
	}

	enters := dev.Enters()
	for i := 0; i < 3; i++ {
		if _, err := p.Stat(ctx); err != nil {
			t.Fatalf("cached Stat: %v", err)
		}
	}
	if dev.Enters() != enters {
		t.Error("cached Stat re-entered batch mode")
	}

	// The cache also covers a confirmed-missing path.
	missing := New(b, "/gone.py")
	if ok, _ := missing.Exists(ctx); ok {
		t.Error("missing path reported existing")
	}
	enters = dev.Enters()
	if ok, err := missing.Exists(ctx); err != nil || ok {
		t.Errorf("cached Exists = %v, %v", ok, err)
	}
	if dev.Enters() != enters {
		t.Error("cached missing path re-entered batch mode")
	}
}

func TestPath_WriteInvalidatesStat(t *testing.T) {
	b, dev := newTestPath(t)
	ctx := context.Background()
	dev.Seed("/data.txt", []byte("old"))

	p := New(b, "/data.txt")
	st, err := p.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size != 3 {
		t.Fatalf("size = %d", st.Size)
	}

	if err := p.WriteBytes(ctx, []byte("longer content")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	st, err = p.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat after write: %v", err)
	}
	if st.Size != int64(len("longer content")) {
		t.Errorf("size after write = %d, cache was not invalidated", st.Size)
	}

	text, err := p.ReadText(ctx)
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if text != "longer content" {
		t.Errorf("content = %q", text)
	}
}

func TestPath_AppendBytes(t *testing.T) {
	b, _ := newTestPath(t)
	ctx := context.Background()

	p := New(b, "/log.txt")
	if err := p.AppendBytes(ctx, []byte("one\n")); err != nil {
		t.Fatalf("AppendBytes to missing file: %v", err)
	}
	if err := p.AppendBytes(ctx, []byte("two\n")); err != nil {
		t.Fatalf("AppendBytes: %v", err)
	}
	text, err := p.ReadText(ctx)
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if text != "one\ntwo\n" {
		t.Errorf("content = %q", text)
	}
}

func TestPath_Unlink(t *testing.T) {
	b, dev := newTestPath(t)
	ctx := context.Background()
	dev.Seed("/old.py", []byte("x"))

	p := New(b, "/old.py")
	if _, err := p.Stat(ctx); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := p.Unlink(ctx); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if ok, err := p.Exists(ctx); err != nil || ok {
		t.Errorf("Exists after unlink = %v, %v", ok, err)
	}
	if _, err := p.Stat(ctx); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Stat after unlink err = %v, want ErrNotFound", err)
	}
}

func TestPath_Mkdir(t *testing.T) {
	b, dev := newTestPath(t)
	ctx := context.Background()

	if err := New(b, "/a/b/c").Mkdir(ctx, MkdirOptions{}); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("mkdir without parents err = %v, want ErrNotFound", err)
	}
	if err := New(b, "/a/b/c").Mkdir(ctx, MkdirOptions{Parents: true}); err != nil {
		t.Fatalf("mkdir with parents: %v", err)
	}
	if !dev.Exists("/a") || !dev.Exists("/a/b") || !dev.Exists("/a/b/c") {
		t.Error("parents missing after mkdir")
	}
	if err := New(b, "/a/b/c").Mkdir(ctx, MkdirOptions{}); !errors.Is(err, session.ErrExists) {
		t.Errorf("repeated mkdir err = %v, want ErrExists", err)
	}
	if err := New(b, "/a/b/c").Mkdir(ctx, MkdirOptions{ExistOK: true}); err != nil {
		t.Errorf("mkdir with ExistOK: %v", err)
	}
	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		if isDir, err := New(b, dir).IsDir(ctx); err != nil || !isDir {
			t.Errorf("IsDir(%s) = %v, %v", dir, isDir, err)
		}
	}

	// Tear the tree down leaf-first; the root must come back empty.
	for _, dir := range []string{"/a/b/c", "/a/b", "/a"} {
		if err := New(b, dir).Rmdir(ctx); err != nil {
			t.Fatalf("Rmdir(%s): %v", dir, err)
		}
	}
	entries, err := New(b, "/").Iterdir(ctx)
	if err != nil {
		t.Fatalf("Iterdir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("root still has %d entries", len(entries))
	}
}

func TestPath_Rename(t *testing.T) {
	b, dev := newTestPath(t)
	ctx := context.Background()
	dev.Seed("/old.py", []byte("code\n"))

	p := New(b, "/old.py")
	if _, err := p.Stat(ctx); err != nil {
		t.Fatalf("Stat: %v", err)
	}

	moved, err := p.Rename(ctx, New(b, "/new.py"))
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if moved.String() != "/new.py" {
		t.Errorf("moved = %q", moved)
	}
	if dev.Exists("/old.py") || !dev.Exists("/new.py") {
		t.Error("rename did not move the file on the device")
	}

	// The stat record travels with the file, so the result answers
	// without another round trip.
	enters := dev.Enters()
	st, err := moved.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat of moved path: %v", err)
	}
	if st.Size != 5 {
		t.Errorf("size = %d", st.Size)
	}
	if dev.Enters() != enters {
		t.Error("stat of moved path hit the device")
	}

	dev.Seed("/other.py", []byte("x"))
	if _, err := moved.Rename(ctx, New(b, "/other.py")); !errors.Is(err, session.ErrExists) {
		t.Errorf("rename onto existing err = %v, want ErrExists", err)
	}
	if _, err := moved.Replace(ctx, New(b, "/other.py")); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if string(dev.Content("/other.py")) != "code\n" {
		t.Error("replace did not overwrite the target")
	}
}

func TestPath_CopyTo_SameFileDifferentSpelling(t *testing.T) {
	b, dev := newTestPath(t)
	ctx := context.Background()
	dev.Seed("/a.py", []byte("content\n"))

	// cwd is /, so a.py and /a.py are the same file under different
	// spellings. A raw string comparison would let the copy through and
	// the device-side open for writing would truncate the source.
	err := New(b, "/a.py").CopyTo(ctx, New(b, "a.py"))
	if !errors.Is(err, session.ErrSameFile) {
		t.Fatalf("err = %v, want ErrSameFile", err)
	}
	if string(dev.Content("/a.py")) != "content\n" {
		t.Errorf("source content = %q after refused copy", dev.Content("/a.py"))
	}

	err = New(b, "/a.py").CopyTo(ctx, New(b, "b.py"))
	if err != nil {
		t.Fatalf("CopyTo distinct target: %v", err)
	}
	if string(dev.Content("/b.py")) != "content\n" {
		t.Errorf("copied content = %q", dev.Content("/b.py"))
	}
}

func TestPath_Unsupported(t *testing.T) {
	b, _ := newTestPath(t)
	ctx := context.Background()
	p := New(b, "/main.py")

	if err := p.Chmod(ctx, 0o644); !errors.Is(err, session.ErrUnsupported) {
		t.Errorf("Chmod err = %v, want ErrUnsupported", err)
	}
	if err := p.SymlinkTo(ctx, New(b, "/x")); !errors.Is(err, session.ErrUnsupported) {
		t.Errorf("SymlinkTo err = %v, want ErrUnsupported", err)
	}
	if _, err := p.Owner(ctx); !errors.Is(err, session.ErrUnsupported) {
		t.Errorf("Owner err = %v, want ErrUnsupported", err)
	}
}

func TestPath_SameFile(t *testing.T) {
	b, dev := newTestPath(t)
	ctx := context.Background()
	dev.SeedDir("/lib")
	if err := New(b, "/lib").Chdir(ctx); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	same, err := New(b, "/lib/util.py").SameFile(ctx, New(b, "util.py"))
	if err != nil {
		t.Fatalf("SameFile: %v", err)
	}
	if !same {
		t.Error("absolute and relative spellings of one file compared unequal")
	}
	same, err = New(b, "/lib/util.py").SameFile(ctx, New(b, "/lib/other.py"))
	if err != nil {
		t.Fatalf("SameFile: %v", err)
	}
	if same {
		t.Error("distinct files compared equal")
	}
}
