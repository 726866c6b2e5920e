package fsops

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/boardfs/boardfs/internal/logging"
	"github.com/boardfs/boardfs/pkg/session"
)

// maxDepth bounds recursive operations so a cyclic or absurdly deep tree
// cannot run away.
const maxDepth = 20

var errCrossDomainRename = fmt.Errorf("cross-domain rename: %w", session.ErrUnsupported)

// CopyFile copies one file. Same-domain copies stay on their side of the
// connection; cross-domain copies read the whole file and write it out.
func CopyFile(ctx context.Context, src, dst Entry) error {
	if src.Domain() == dst.Domain() && src.String() == dst.String() {
		return fmt.Errorf("copy %s: %w", src, session.ErrSameFile)
	}
	if bc, ok := src.(bulkCopier); ok {
		done, err := bc.BulkCopyTo(ctx, dst)
		if done {
			return err
		}
	}
	data, err := src.ReadBytes(ctx)
	if err != nil {
		return err
	}
	logging.Debug("copying file across domains",
		zap.String("src", src.String()),
		zap.String("dst", dst.String()),
		zap.Int("bytes", len(data)))
	return dst.WriteBytes(ctx, data)
}

// SkipFile reports whether dst is already an up-to-date copy of src: same
// size and at least as new. Used by RCopy to make repeated syncs cheap.
func SkipFile(ctx context.Context, src, dst Entry) (bool, error) {
	srcInfo, err := src.Stat(ctx)
	if err != nil {
		return false, err
	}
	dstInfo, err := dst.Stat(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !dstInfo.Dir && dstInfo.Size == srcInfo.Size &&
		!dstInfo.Mtime.Before(srcInfo.Mtime), nil
}

// CopyPath copies src to dst: files by content, directories recursively.
func CopyPath(ctx context.Context, src, dst Entry) error {
	return copyPath(ctx, src, dst, maxDepth, false)
}

// RCopy copies a tree, skipping destination files that are already up to
// date.
func RCopy(ctx context.Context, src, dst Entry) error {
	return copyPath(ctx, src, dst, maxDepth, true)
}

func copyPath(ctx context.Context, src, dst Entry, depth int, fresh bool) error {
	if depth == 0 {
		return fmt.Errorf("copy %s: maximum depth exceeded", src)
	}
	isDir, err := src.IsDir(ctx)
	if err != nil {
		return err
	}
	if !isDir {
		if fresh {
			skip, err := SkipFile(ctx, src, dst)
			if err != nil {
				return err
			}
			if skip {
				return nil
			}
		}
		return CopyFile(ctx, src, dst)
	}
	if err := dst.Mkdir(ctx, false, true); err != nil {
		return err
	}
	children, err := src.Iterdir(ctx)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := copyPath(ctx, child, dst.Join(child.Name()), depth-1, fresh); err != nil {
			return err
		}
	}
	return nil
}

// Copy copies files and directories into dest. With more than one source,
// dest must be an existing directory; a single source may also name its
// destination directly.
func Copy(ctx context.Context, files []Entry, dest Entry) error {
	destIsDir, err := dest.IsDir(ctx)
	if err != nil {
		return err
	}
	if len(files) > 1 && !destIsDir {
		return fmt.Errorf("copy: destination %s is not a directory", dest)
	}
	for _, f := range files {
		target := dest
		if destIsDir {
			target = dest.Join(f.Name())
		}
		if err := CopyPath(ctx, f, target); err != nil {
			return err
		}
	}
	return nil
}

// Move moves src to dst: a cheap rename within one domain, copy plus
// remove across domains.
func Move(ctx context.Context, src, dst Entry) error {
	err := src.RenameTo(ctx, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errCrossDomainRename) && !errors.Is(err, session.ErrUnsupported) {
		return err
	}
	if err := CopyPath(ctx, src, dst); err != nil {
		return err
	}
	return Remove(ctx, src, true)
}

// Remove deletes a file, or with recursive a whole tree depth-first.
func Remove(ctx context.Context, e Entry, recursive bool) error {
	return remove(ctx, e, recursive, maxDepth)
}

func remove(ctx context.Context, e Entry, recursive bool, depth int) error {
	if depth == 0 {
		return fmt.Errorf("remove %s: maximum depth exceeded", e)
	}
	isDir, err := e.IsDir(ctx)
	if err != nil {
		return err
	}
	if !isDir {
		return e.Unlink(ctx)
	}
	if !recursive {
		return e.Rmdir(ctx)
	}
	children, err := e.Iterdir(ctx)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := remove(ctx, child, true, depth-1); err != nil {
			return err
		}
	}
	return e.Rmdir(ctx)
}

// WalkFunc receives each visited entry. Returning SkipDir prunes a
// directory.
type WalkFunc func(e Entry) error

// SkipDir prunes a directory from Walk.
var SkipDir = errors.New("skip this directory")

// Walk visits e and everything below it depth-first in listing order.
func Walk(ctx context.Context, e Entry, fn WalkFunc) error {
	return walk(ctx, e, fn, maxDepth)
}

func walk(ctx context.Context, e Entry, fn WalkFunc, depth int) error {
	if depth == 0 {
		return fmt.Errorf("walk %s: maximum depth exceeded", e)
	}
	err := fn(e)
	if errors.Is(err, SkipDir) {
		return nil
	}
	if err != nil {
		return err
	}
	isDir, err := e.IsDir(ctx)
	if err != nil {
		return err
	}
	if !isDir {
		return nil
	}
	children, err := e.Iterdir(ctx)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := walk(ctx, child, fn, depth-1); err != nil {
			return err
		}
	}
	return nil
}

// WalkFiles visits only the files below e.
func WalkFiles(ctx context.Context, e Entry, fn WalkFunc) error {
	return Walk(ctx, e, func(child Entry) error {
		isDir, err := child.IsDir(ctx)
		if err != nil {
			return err
		}
		if isDir {
			return nil
		}
		return fn(child)
	})
}
