package session

import (
	"context"
	"fmt"
	"time"

	"github.com/boardfs/boardfs/internal/metrics"
	"github.com/boardfs/boardfs/pkg/transport"
)

// Stat describes one device path. Timestamps are corrected to the host
// epoch. A Stat is immutable once fetched; staleness is handled by cache
// invalidation in the path layer, never by mutating fields.
type Stat struct {
	Mode  uint32
	Inode uint64
	Size  int64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// IsDir reports whether the path is a directory.
func (s *Stat) IsDir() bool { return s.Mode&transport.ModeTypeMask == transport.ModeDir }

// IsFile reports whether the path is a regular file.
func (s *Stat) IsFile() bool { return s.Mode&transport.ModeTypeMask == transport.ModeFile }

// FsStat stats a device path, correcting the three timestamps by the epoch
// offset. Returns ErrNotFound if the path does not exist.
func (b *Board) FsStat(ctx context.Context, path string) (*Stat, error) {
	var st *Stat
	err := b.WithSession(ctx, func(ctx context.Context) error {
		offset, err := b.EpochOffset(ctx)
		if err != nil {
			return err
		}
		raw, err := b.ch.RawStat(path)
		if err != nil {
			return TranslateOSError(err, path)
		}
		st = &Stat{
			Mode:  raw.Mode,
			Inode: raw.Inode,
			Size:  raw.Size,
			Atime: time.Unix(raw.Atime+offset, 0),
			Mtime: time.Unix(raw.Mtime+offset, 0),
			Ctime: time.Unix(raw.Ctime+offset, 0),
		}
		return nil
	})
	return st, err
}

// FsRead returns the whole content of a device file.
func (b *Board) FsRead(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := b.WithSession(ctx, func(ctx context.Context) error {
		var err error
		data, err = b.ch.RawReadFile(path)
		if err != nil {
			return TranslateOSError(err, path)
		}
		metrics.RecordFileRead(int64(len(data)))
		return nil
	})
	return data, err
}

// FsWrite replaces the whole content of a device file.
func (b *Board) FsWrite(ctx context.Context, path string, data []byte) error {
	return b.WithSession(ctx, func(ctx context.Context) error {
		if err := b.ch.RawWriteFile(path, data); err != nil {
			return TranslateOSError(err, path)
		}
		metrics.RecordFileWrite(int64(len(data)))
		return nil
	})
}

// FsMkdir creates a directory on the device.
func (b *Board) FsMkdir(ctx context.Context, path string) error {
	return b.WithSession(ctx, func(ctx context.Context) error {
		return TranslateOSError(b.ch.RawMkdir(path), path)
	})
}

// FsRemoveFile removes a regular file on the device.
func (b *Board) FsRemoveFile(ctx context.Context, path string) error {
	return b.WithSession(ctx, func(ctx context.Context) error {
		return TranslateOSError(b.ch.RawRemoveFile(path), path)
	})
}

// FsRemoveDir removes an empty directory on the device.
func (b *Board) FsRemoveDir(ctx context.Context, path string) error {
	return b.WithSession(ctx, func(ctx context.Context) error {
		return TranslateOSError(b.ch.RawRemoveDir(path), path)
	})
}

// FsCopy copies a file device-side, without moving content over the wire.
func (b *Board) FsCopy(ctx context.Context, src, dst string) error {
	if src == dst {
		return fmt.Errorf("copy %s: %w", src, ErrSameFile)
	}
	return b.WithSession(ctx, func(ctx context.Context) error {
		return TranslateOSError(b.ch.RawCopy(src, dst), src)
	})
}

// FsRename renames a device path. The device has no dedicated rename
// primitive so it executes os.rename in the batch window.
func (b *Board) FsRename(ctx context.Context, src, dst string) error {
	if src == dst {
		return fmt.Errorf("rename %s: %w", src, ErrSameFile)
	}
	return b.WithSession(ctx, func(ctx context.Context) error {
		_, err := b.Exec(ctx, fmt.Sprintf("import os\nos.rename(%q, %q)", src, dst))
		return TranslateOSError(err, src)
	})
}

// FsTouch creates a file if missing and updates its timestamp otherwise.
func (b *Board) FsTouch(ctx context.Context, path string) error {
	return b.WithSession(ctx, func(ctx context.Context) error {
		_, err := b.Exec(ctx, fmt.Sprintf("f = open(%q, 'a')\nf.close()", path))
		return TranslateOSError(err, path)
	})
}
