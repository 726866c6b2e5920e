package fsops

import (
	"context"
	"fmt"

	"github.com/boardfs/boardfs/pkg/mppath"
)

// Remote adapts a device path to the Entry interface.
type Remote struct {
	p *mppath.Path
}

// NewRemote wraps a device path.
func NewRemote(p *mppath.Path) *Remote {
	return &Remote{p: p}
}

// Path returns the underlying device path.
func (r *Remote) Path() *mppath.Path { return r.p }

// String returns the device path text.
func (r *Remote) String() string { return r.p.String() }

// Name returns the final path component.
func (r *Remote) Name() string { return r.p.Name() }

// Domain identifies the board the path lives on, so two paths on the same
// board copy device-side while paths on different boards go through the
// host.
func (r *Remote) Domain() string {
	return fmt.Sprintf("board:%p", r.p.Board())
}

// Join returns the path extended by components.
func (r *Remote) Join(parts ...string) Entry {
	return NewRemote(r.p.Join(parts...))
}

// Exists reports whether the path exists on the device.
func (r *Remote) Exists(ctx context.Context) (bool, error) {
	return r.p.Exists(ctx)
}

// IsDir reports whether the path is a directory on the device.
func (r *Remote) IsDir(ctx context.Context) (bool, error) {
	return r.p.IsDir(ctx)
}

// Stat returns size, mtime and kind.
func (r *Remote) Stat(ctx context.Context) (Info, error) {
	st, err := r.p.Stat(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{Size: st.Size, Mtime: st.Mtime, Dir: st.IsDir()}, nil
}

// ReadBytes returns the device file content.
func (r *Remote) ReadBytes(ctx context.Context) ([]byte, error) {
	return r.p.ReadBytes(ctx)
}

// WriteBytes replaces the device file content.
func (r *Remote) WriteBytes(ctx context.Context, data []byte) error {
	return r.p.WriteBytes(ctx, data)
}

// Mkdir creates the directory on the device.
func (r *Remote) Mkdir(ctx context.Context, parents, existOK bool) error {
	return r.p.Mkdir(ctx, mppath.MkdirOptions{Parents: parents, ExistOK: existOK})
}

// Unlink removes the device file.
func (r *Remote) Unlink(ctx context.Context) error {
	return r.p.Unlink(ctx)
}

// Rmdir removes the empty device directory.
func (r *Remote) Rmdir(ctx context.Context) error {
	return r.p.Rmdir(ctx)
}

// RenameTo moves the path on the device, overwriting the destination.
func (r *Remote) RenameTo(ctx context.Context, dst Entry) error {
	target, ok := dst.(*Remote)
	if !ok || target.Domain() != r.Domain() {
		return fmt.Errorf("rename %s to %s: %w", r.p, dst, errCrossDomainRename)
	}
	_, err := r.p.Replace(ctx, target.p)
	return err
}

// BulkCopyTo copies device-side when the destination is on the same board.
func (r *Remote) BulkCopyTo(ctx context.Context, dst Entry) (bool, error) {
	target, ok := dst.(*Remote)
	if !ok || target.Domain() != r.Domain() {
		return false, nil
	}
	return true, r.p.CopyTo(ctx, target.p)
}

// Iterdir lists the device directory sorted by name.
func (r *Remote) Iterdir(ctx context.Context) ([]Entry, error) {
	des, err := r.p.Iterdir(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(des))
	for i, de := range des {
		entries[i] = NewRemote(de.Path())
	}
	return entries, nil
}
