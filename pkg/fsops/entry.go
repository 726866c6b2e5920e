// Package fsops provides bulk file operations — copy, move, remove, walk —
// that work uniformly across the host filesystem and a device filesystem,
// through a small capability interface. Same-domain copies stay on their
// side (host-to-host or device-to-device); only cross-domain copies move
// content through this process.
package fsops

import (
	"context"
	"time"
)

// Info is the subset of stat data the bulk operations need.
type Info struct {
	Size  int64
	Mtime time.Time
	Dir   bool
}

// Entry is one location on some filesystem. Implementations: Local for the
// host, Remote for a device.
type Entry interface {
	// String returns the displayable path.
	String() string
	// Name returns the final path component.
	Name() string
	// Domain identifies the filesystem the entry lives on. Two entries
	// with equal domains can rename and copy without content crossing
	// the host process.
	Domain() string
	// Join returns the entry extended by path components.
	Join(parts ...string) Entry

	Exists(ctx context.Context) (bool, error)
	IsDir(ctx context.Context) (bool, error)
	Stat(ctx context.Context) (Info, error)

	ReadBytes(ctx context.Context) ([]byte, error)
	WriteBytes(ctx context.Context, data []byte) error
	Mkdir(ctx context.Context, parents, existOK bool) error
	Unlink(ctx context.Context) error
	Rmdir(ctx context.Context) error
	// RenameTo moves the entry within its own domain, overwriting the
	// destination. Cross-domain renames return an unsupported error and
	// Move falls back to copy plus remove.
	RenameTo(ctx context.Context, dst Entry) error
	Iterdir(ctx context.Context) ([]Entry, error)
}

// bulkCopier is implemented by entries that can copy to a same-domain
// destination without the content passing through the host.
type bulkCopier interface {
	BulkCopyTo(ctx context.Context, dst Entry) (bool, error)
}
