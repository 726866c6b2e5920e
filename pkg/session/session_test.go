package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boardfs/boardfs/pkg/transport/transporttest"
)

func newTestBoard(t *testing.T) (*Board, *transporttest.Device) {
	t.Helper()
	dev := transporttest.NewDevice()
	b := New(dev, WithReadTimeout(2*time.Second))
	t.Cleanup(func() { b.Close() })
	return b, dev
}

func TestBoard_WithSession_NestedScopesSwitchOnce(t *testing.T) {
	b, dev := newTestBoard(t)
	ctx := context.Background()

	err := b.WithSession(ctx, func(ctx context.Context) error {
		return b.WithSession(ctx, func(ctx context.Context) error {
			return b.WithSession(ctx, func(ctx context.Context) error {
				if !dev.InBatchMode() {
					t.Error("expected batch mode inside nested scopes")
				}
				return nil
			})
		})
	})
	if err != nil {
		t.Fatalf("WithSession: %v", err)
	}
	if dev.Enters() != 1 {
		t.Errorf("batch mode entered %d times, want 1", dev.Enters())
	}
	if dev.Exits() != 1 {
		t.Errorf("batch mode exited %d times, want 1", dev.Exits())
	}
	if dev.InBatchMode() {
		t.Error("console still in batch mode after outermost scope closed")
	}
}

func TestBoard_WithSession_ErrorStillExits(t *testing.T) {
	b, dev := newTestBoard(t)
	wantErr := errors.New("boom")

	err := b.WithSession(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if dev.Exits() != 1 {
		t.Errorf("batch mode exited %d times, want 1", dev.Exits())
	}
}

func TestBoard_Exec_DeviceException(t *testing.T) {
	b, _ := newTestBoard(t)

	_, err := b.Exec(context.Background(), "import nonexistent_module")
	var ee *ExecError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExecError", err)
	}
	if ee.Msg == "" || ee.Traceback == "" {
		t.Errorf("ExecError missing detail: %+v", ee)
	}
}

func TestBoard_Eval(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()

	cwd, err := b.EvalString(ctx, "os.getcwd()")
	if err != nil {
		t.Fatalf("EvalString: %v", err)
	}
	if cwd != "/" {
		t.Errorf("cwd = %q, want %q", cwd, "/")
	}
}

func TestBoard_EpochOffset(t *testing.T) {
	b, dev := newTestBoard(t)
	ctx := context.Background()

	offset, err := b.EpochOffset(ctx)
	if err != nil {
		t.Fatalf("EpochOffset: %v", err)
	}
	if offset != transporttest.EpochDelta2000 {
		t.Errorf("offset = %d, want %d", offset, transporttest.EpochDelta2000)
	}

	// The cached offset must be served without touching the device again.
	enters := dev.Enters()
	if _, err := b.EpochOffset(ctx); err != nil {
		t.Fatalf("cached EpochOffset: %v", err)
	}
	if dev.Enters() != enters {
		t.Error("cached epoch offset re-entered batch mode")
	}
}

func TestBoard_ClockOffset_Drift(t *testing.T) {
	b, dev := newTestBoard(t)
	dev.DriftSecs = 120

	drift, err := b.ClockOffset(context.Background())
	if err != nil {
		t.Fatalf("ClockOffset: %v", err)
	}
	if drift < 119*time.Second || drift > 121*time.Second {
		t.Errorf("drift = %v, want about 2m0s", drift)
	}
}

func TestBoard_CheckClock_SyncsWhenDriftExceedsTolerance(t *testing.T) {
	b, dev := newTestBoard(t)
	dev.DriftSecs = 300

	drift, err := b.CheckClock(context.Background(), true, true)
	if err != nil {
		t.Fatalf("CheckClock: %v", err)
	}
	if drift < -ClockTolerance || drift > ClockTolerance {
		t.Errorf("drift after sync = %v, want within %v", drift, ClockTolerance)
	}
	if dev.DriftSecs != 0 {
		t.Errorf("device drift = %d after sync, want 0", dev.DriftSecs)
	}
}

func TestBoard_FsStat_EpochCorrection(t *testing.T) {
	b, dev := newTestBoard(t)
	dev.Seed("/main.py", []byte("print('hi')\n"))

	st, err := b.FsStat(context.Background(), "/main.py")
	if err != nil {
		t.Fatalf("FsStat: %v", err)
	}
	if !st.IsFile() {
		t.Error("expected a regular file")
	}
	if st.Size != int64(len("print('hi')\n")) {
		t.Errorf("size = %d", st.Size)
	}
	// The device reports seconds since 2000-01-01; the corrected mtime
	// must land near host wall time, not 30 years in the past.
	age := time.Since(st.Mtime)
	if age < -2*time.Second || age > 2*time.Second {
		t.Errorf("corrected mtime %v is %v from now", st.Mtime, age)
	}
}

func TestBoard_FsStat_NotFound(t *testing.T) {
	b, _ := newTestBoard(t)

	_, err := b.FsStat(context.Background(), "/missing.py")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBoard_FsWriteRead(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()
	content := []byte("x = 42\n")

	if err := b.FsWrite(ctx, "/boot.py", content); err != nil {
		t.Fatalf("FsWrite: %v", err)
	}
	got, err := b.FsRead(ctx, "/boot.py")
	if err != nil {
		t.Fatalf("FsRead: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("read back %q, want %q", got, content)
	}
}

func TestBoard_FsMkdir(t *testing.T) {
	b, dev := newTestBoard(t)
	ctx := context.Background()

	if err := b.FsMkdir(ctx, "/lib"); err != nil {
		t.Fatalf("FsMkdir: %v", err)
	}
	if err := b.FsMkdir(ctx, "/lib"); !errors.Is(err, ErrExists) {
		t.Errorf("second mkdir err = %v, want ErrExists", err)
	}
	if err := b.FsMkdir(ctx, "/no/parent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("mkdir without parent err = %v, want ErrNotFound", err)
	}
	if !dev.Exists("/lib") {
		t.Error("/lib missing on device")
	}
}

func TestBoard_FsRemove(t *testing.T) {
	b, dev := newTestBoard(t)
	ctx := context.Background()
	dev.Seed("/lib/util.py", []byte("pass\n"))

	if err := b.FsRemoveFile(ctx, "/lib/util.py"); err != nil {
		t.Fatalf("FsRemoveFile: %v", err)
	}
	if err := b.FsRemoveDir(ctx, "/lib"); err != nil {
		t.Fatalf("FsRemoveDir: %v", err)
	}
	if err := b.FsRemoveFile(ctx, "/lib/util.py"); !errors.Is(err, ErrNotFound) {
		t.Errorf("removing missing file err = %v, want ErrNotFound", err)
	}
}

func TestBoard_FsRename(t *testing.T) {
	b, dev := newTestBoard(t)
	ctx := context.Background()
	dev.Seed("/a.py", []byte("a\n"))

	if err := b.FsRename(ctx, "/a.py", "/b.py"); err != nil {
		t.Fatalf("FsRename: %v", err)
	}
	if dev.Exists("/a.py") || !dev.Exists("/b.py") {
		t.Error("rename did not move the file")
	}
	if err := b.FsRename(ctx, "/b.py", "/b.py"); !errors.Is(err, ErrSameFile) {
		t.Errorf("rename onto itself err = %v, want ErrSameFile", err)
	}
	if err := b.FsRename(ctx, "/missing.py", "/c.py"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rename of missing file err = %v, want ErrNotFound", err)
	}
}

func TestBoard_FsCopy(t *testing.T) {
	b, dev := newTestBoard(t)
	ctx := context.Background()
	dev.Seed("/a.py", []byte("a\n"))

	if err := b.FsCopy(ctx, "/a.py", "/a2.py"); err != nil {
		t.Fatalf("FsCopy: %v", err)
	}
	if string(dev.Content("/a2.py")) != "a\n" {
		t.Errorf("copied content = %q", dev.Content("/a2.py"))
	}
	if err := b.FsCopy(ctx, "/a.py", "/a.py"); !errors.Is(err, ErrSameFile) {
		t.Errorf("copy onto itself err = %v, want ErrSameFile", err)
	}
}

func TestBoard_FsTouch(t *testing.T) {
	b, dev := newTestBoard(t)
	ctx := context.Background()

	if err := b.FsTouch(ctx, "/new.py"); err != nil {
		t.Fatalf("FsTouch: %v", err)
	}
	if !dev.Exists("/new.py") {
		t.Error("touch did not create the file")
	}
	if err := b.FsTouch(ctx, "/new.py"); err != nil {
		t.Fatalf("FsTouch existing: %v", err)
	}
}

func TestBoard_Interrupt_AbortsAndRecovers(t *testing.T) {
	dev := transporttest.NewDevice()
	dev.HangOn = "while True"
	b := New(dev, WithReadTimeout(200*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.Exec(ctx, "while True: pass")
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if dev.Interrupts() != 1 {
		t.Errorf("device received %d interrupts, want 1", dev.Interrupts())
	}

	// The console mode is undefined after an interrupt; the next outermost
	// scope must re-synchronize and work normally.
	out, err := b.Exec(context.Background(), "import time")
	if err != nil {
		t.Fatalf("Exec after interrupt: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("output = %q, want empty", out)
	}
	if dev.Enters() != 2 {
		t.Errorf("batch mode entered %d times, want 2", dev.Enters())
	}
}

func TestBoard_Interrupt_CancelledBeforeEntry(t *testing.T) {
	b, dev := newTestBoard(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.WithSession(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if dev.Enters() != 0 {
		t.Errorf("batch mode entered %d times, want 0", dev.Enters())
	}
}

func TestBoard_SoftReset_RefusedInsideSession(t *testing.T) {
	b, _ := newTestBoard(t)

	err := b.WithSession(context.Background(), func(ctx context.Context) error {
		return b.SoftReset(ctx)
	})
	if err == nil {
		t.Fatal("expected an error resetting inside an open session")
	}
}
