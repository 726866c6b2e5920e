package fsops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/boardfs/boardfs/pkg/session"
)

// Local is an Entry on the host filesystem.
type Local struct {
	p string
}

// NewLocal makes a host filesystem entry.
func NewLocal(p string) *Local {
	return &Local{p: filepath.Clean(p)}
}

// String returns the host path.
func (l *Local) String() string { return l.p }

// Name returns the final path component.
func (l *Local) Name() string { return filepath.Base(l.p) }

// Domain identifies the host filesystem.
func (l *Local) Domain() string { return "local" }

// Join returns the path extended by components.
func (l *Local) Join(parts ...string) Entry {
	return NewLocal(filepath.Join(append([]string{l.p}, parts...)...))
}

// Exists reports whether the path exists.
func (l *Local) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(l.p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsDir reports whether the path exists and is a directory.
func (l *Local) IsDir(ctx context.Context) (bool, error) {
	st, err := os.Stat(l.p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.IsDir(), nil
}

// Stat returns size, mtime and kind. A missing path maps to the shared
// not-found sentinel so callers branch the same way in both domains.
func (l *Local) Stat(ctx context.Context) (Info, error) {
	st, err := os.Stat(l.p)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, fmt.Errorf("%s: %w", l.p, session.ErrNotFound)
	}
	if err != nil {
		return Info{}, err
	}
	return Info{Size: st.Size(), Mtime: st.ModTime(), Dir: st.IsDir()}, nil
}

// ReadBytes returns the file content.
func (l *Local) ReadBytes(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(l.p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", l.p, session.ErrNotFound)
	}
	return data, err
}

// WriteBytes replaces the file content atomically: the data lands in a
// temporary file in the same directory and renames over the target, so a
// crash never leaves a half-written file.
func (l *Local) WriteBytes(ctx context.Context, data []byte) error {
	dir := filepath.Dir(l.p)
	tmp, err := os.CreateTemp(dir, ".boardfs-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", l.p, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", l.p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", l.p, err)
	}
	if err := os.Rename(tmpName, l.p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", l.p, err)
	}
	return nil
}

// Mkdir creates the directory.
func (l *Local) Mkdir(ctx context.Context, parents, existOK bool) error {
	var err error
	if parents {
		err = os.MkdirAll(l.p, 0o755)
	} else {
		err = os.Mkdir(l.p, 0o755)
	}
	if errors.Is(err, fs.ErrExist) {
		if existOK {
			if isDir, dirErr := l.IsDir(ctx); dirErr == nil && isDir {
				return nil
			}
		}
		return fmt.Errorf("%s: %w", l.p, session.ErrExists)
	}
	return err
}

// Unlink removes the file.
func (l *Local) Unlink(ctx context.Context) error {
	err := os.Remove(l.p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", l.p, session.ErrNotFound)
	}
	return err
}

// Rmdir removes the directory, which must be empty.
func (l *Local) Rmdir(ctx context.Context) error {
	return l.Unlink(ctx)
}

// RenameTo moves the file, overwriting the destination. Only host-to-host
// renames are possible.
func (l *Local) RenameTo(ctx context.Context, dst Entry) error {
	target, ok := dst.(*Local)
	if !ok {
		return fmt.Errorf("rename %s to %s: %w", l.p, dst, session.ErrUnsupported)
	}
	return os.Rename(l.p, target.p)
}

// Iterdir lists the directory sorted by name.
func (l *Local) Iterdir(ctx context.Context) ([]Entry, error) {
	des, err := os.ReadDir(l.p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", l.p, session.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(des))
	for i, de := range des {
		entries[i] = NewLocal(filepath.Join(l.p, de.Name()))
	}
	return entries, nil
}
