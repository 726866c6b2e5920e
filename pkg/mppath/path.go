// Package mppath provides a pathlib-style view of a device filesystem on
// top of a session.Board. A Path is a named location plus a cached stat
// record; every mutation through a Path invalidates its cache, and
// directory listings are cached per traversal rather than per path, so a
// recursive walk reads each directory once.
package mppath

import (
	"context"
	"errors"
	"fmt"
	gopath "path"
	"strings"

	"github.com/boardfs/boardfs/internal/metrics"
	"github.com/boardfs/boardfs/pkg/session"
)

// Path is one location on a device filesystem. The zero value is not
// usable; construct with New. A Path never implies existence: Stat and the
// predicates ask the device.
//
// Paths are not safe for concurrent use, matching the single ordered byte
// stream underneath.
type Path struct {
	board *session.Board
	p     string

	st      *session.Stat // cached; nil when unknown
	missing bool          // cached "does not exist"
	partial bool          // st carries mode and size only, no timestamps
	known   bool
}

// New makes a Path for a device location. The string is cleaned lexically
// but not resolved against the device working directory; see Resolve.
func New(board *session.Board, p string) *Path {
	if p == "" {
		p = "."
	}
	return &Path{board: board, p: gopath.Clean(p)}
}

// Board returns the board this path addresses.
func (p *Path) Board() *session.Board { return p.board }

// String returns the path text.
func (p *Path) String() string { return p.p }

// Name returns the final path component.
func (p *Path) Name() string { return gopath.Base(p.p) }

// Suffix returns the file extension including the dot, or "".
func (p *Path) Suffix() string { return gopath.Ext(p.p) }

// Stem returns the final component without its extension.
func (p *Path) Stem() string {
	name := p.Name()
	return strings.TrimSuffix(name, gopath.Ext(name))
}

// IsAbs reports whether the path is absolute.
func (p *Path) IsAbs() bool { return strings.HasPrefix(p.p, "/") }

// Parent returns the lexical parent directory.
func (p *Path) Parent() *Path {
	return New(p.board, gopath.Dir(p.p))
}

// Join returns the path extended by the given components.
func (p *Path) Join(parts ...string) *Path {
	return New(p.board, gopath.Join(append([]string{p.p}, parts...)...))
}

// Equal reports whether two paths are the same location textually, on the
// same board. Use SameFile to compare through the filesystem.
func (p *Path) Equal(other *Path) bool {
	return other != nil && p.board == other.board && p.p == other.p
}

// Resolve returns the absolute, lexically normalized form of the path. A
// relative path is resolved against the device working directory, which is
// the only case that talks to the device. Returns the receiver when
// already resolved.
func (p *Path) Resolve(ctx context.Context) (*Path, error) {
	if p.IsAbs() {
		if clean := gopath.Clean(p.p); clean != p.p {
			return New(p.board, clean), nil
		}
		return p, nil
	}
	cwd, err := p.board.EvalString(ctx, "os.getcwd()")
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", p.p, err)
	}
	return New(p.board, gopath.Join(cwd, p.p)), nil
}

// Stat returns the path's full stat record, fetching it from the device on
// the first call and serving the cache afterwards. The cache also remembers
// a missing path, so repeated existence checks cost one round trip. A
// partial record primed from a directory listing is upgraded with a device
// fetch here, since listings carry no timestamps.
func (p *Path) Stat(ctx context.Context) (*session.Stat, error) {
	if p.known && !p.partial {
		metrics.RecordStatCache(true)
		if p.missing {
			return nil, fmt.Errorf("%s: %w", p.p, session.ErrNotFound)
		}
		return p.st, nil
	}
	metrics.RecordStatCache(false)
	st, err := p.board.FsStat(ctx, p.p)
	if errors.Is(err, session.ErrNotFound) {
		p.known = true
		p.missing = true
		p.partial = false
		p.st = nil
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	p.known = true
	p.missing = false
	p.partial = false
	p.st = st
	return st, nil
}

// cachedStat is Stat for callers that only need mode and size: a partial
// record from a directory listing is good enough and is served as is.
func (p *Path) cachedStat(ctx context.Context) (*session.Stat, error) {
	if p.known {
		metrics.RecordStatCache(true)
		if p.missing {
			return nil, fmt.Errorf("%s: %w", p.p, session.ErrNotFound)
		}
		return p.st, nil
	}
	return p.Stat(ctx)
}

// Invalidate drops the cached stat record. Mutating operations call this
// on the paths they touch; callers only need it when the device changed
// behind this Path's back, such as after code ran via Exec.
func (p *Path) Invalidate() {
	p.st = nil
	p.known = false
	p.missing = false
	p.partial = false
}

// setStat primes the cache with a full record, used by rename.
func (p *Path) setStat(st *session.Stat) {
	p.st = st
	p.known = true
	p.missing = false
	p.partial = false
}

// setPartialStat primes the cache with a listing record: mode and size are
// authoritative, timestamps are absent until Stat fetches a full record.
func (p *Path) setPartialStat(st *session.Stat) {
	p.st = st
	p.known = true
	p.missing = false
	p.partial = true
}

// Exists reports whether the path exists. A missing path is not an error.
func (p *Path) Exists(ctx context.Context) (bool, error) {
	_, err := p.cachedStat(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsDir reports whether the path exists and is a directory.
func (p *Path) IsDir(ctx context.Context) (bool, error) {
	st, err := p.cachedStat(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.IsDir(), nil
}

// IsFile reports whether the path exists and is a regular file.
func (p *Path) IsFile(ctx context.Context) (bool, error) {
	st, err := p.cachedStat(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.IsFile(), nil
}

// SameFile reports whether two paths name the same file on the device, by
// comparing resolved forms.
func (p *Path) SameFile(ctx context.Context, other *Path) (bool, error) {
	if other == nil || p.board != other.board {
		return false, nil
	}
	a, err := p.Resolve(ctx)
	if err != nil {
		return false, err
	}
	b, err := other.Resolve(ctx)
	if err != nil {
		return false, err
	}
	return a.p == b.p, nil
}

// ReadBytes returns the file's content.
func (p *Path) ReadBytes(ctx context.Context) ([]byte, error) {
	return p.board.FsRead(ctx, p.p)
}

// ReadText returns the file's content as a string.
func (p *Path) ReadText(ctx context.Context) (string, error) {
	data, err := p.ReadBytes(ctx)
	return string(data), err
}

// WriteBytes replaces the file's content.
func (p *Path) WriteBytes(ctx context.Context, data []byte) error {
	p.Invalidate()
	return p.board.FsWrite(ctx, p.p, data)
}

// WriteText replaces the file's content with a string.
func (p *Path) WriteText(ctx context.Context, text string) error {
	return p.WriteBytes(ctx, []byte(text))
}

// AppendBytes appends to the file, creating it if missing. The device has
// no append primitive over the wire protocol, so this runs read plus write
// in one session scope.
func (p *Path) AppendBytes(ctx context.Context, data []byte) error {
	p.Invalidate()
	return p.board.WithSession(ctx, func(ctx context.Context) error {
		old, err := p.board.FsRead(ctx, p.p)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			return err
		}
		return p.board.FsWrite(ctx, p.p, append(old, data...))
	})
}

// Touch creates the file if missing and updates its timestamp otherwise.
func (p *Path) Touch(ctx context.Context) error {
	p.Invalidate()
	return p.board.FsTouch(ctx, p.p)
}

// MkdirOptions controls Mkdir.
type MkdirOptions struct {
	Parents bool // create missing ancestors
	ExistOK bool // no error when the directory already exists
}

// Mkdir creates the directory. With Parents, missing ancestors are created
// root-first in one session scope.
func (p *Path) Mkdir(ctx context.Context, opts MkdirOptions) error {
	p.Invalidate()
	return p.board.WithSession(ctx, func(ctx context.Context) error {
		err := p.board.FsMkdir(ctx, p.p)
		if err == nil {
			return nil
		}
		if errors.Is(err, session.ErrExists) {
			if opts.ExistOK {
				if isDir, dirErr := New(p.board, p.p).IsDir(ctx); dirErr == nil && isDir {
					return nil
				}
			}
			return err
		}
		if errors.Is(err, session.ErrNotFound) && opts.Parents {
			parent := p.Parent()
			if parent.p == p.p {
				return err
			}
			if err := parent.Mkdir(ctx, opts); err != nil && !errors.Is(err, session.ErrExists) {
				return err
			}
			return p.board.FsMkdir(ctx, p.p)
		}
		return err
	})
}

// Unlink removes the file.
func (p *Path) Unlink(ctx context.Context) error {
	p.Invalidate()
	return p.board.FsRemoveFile(ctx, p.p)
}

// Rmdir removes the directory, which must be empty.
func (p *Path) Rmdir(ctx context.Context) error {
	p.Invalidate()
	return p.board.FsRemoveDir(ctx, p.p)
}

// Rename moves the path to target, failing if target exists. Returns the
// target path carrying over this path's cached stat record.
func (p *Path) Rename(ctx context.Context, target *Path) (*Path, error) {
	return p.rename(ctx, target, false)
}

// Replace moves the path to target, overwriting an existing file.
func (p *Path) Replace(ctx context.Context, target *Path) (*Path, error) {
	return p.rename(ctx, target, true)
}

func (p *Path) rename(ctx context.Context, target *Path, overwrite bool) (*Path, error) {
	var out *Path
	err := p.board.WithSession(ctx, func(ctx context.Context) error {
		if !overwrite {
			exists, err := New(p.board, target.p).Exists(ctx)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%s: %w", target.p, session.ErrExists)
			}
		}
		if err := p.board.FsRename(ctx, p.p, target.p); err != nil {
			return err
		}
		out = New(p.board, target.p)
		if p.known && !p.missing {
			out.setStat(p.st)
			out.partial = p.partial
		}
		p.Invalidate()
		target.Invalidate()
		return nil
	})
	return out, err
}

// CopyTo copies the file to target device-side. Source and target are
// compared in resolved form first: copying a file onto another spelling of
// itself would truncate it before the read drained.
func (p *Path) CopyTo(ctx context.Context, target *Path) error {
	return p.board.WithSession(ctx, func(ctx context.Context) error {
		same, err := p.SameFile(ctx, target)
		if err != nil {
			return err
		}
		if same {
			return fmt.Errorf("copy %s: %w", p.p, session.ErrSameFile)
		}
		target.Invalidate()
		return p.board.FsCopy(ctx, p.p, target.p)
	})
}

// Chdir makes this path the device working directory.
func (p *Path) Chdir(ctx context.Context) error {
	_, err := p.board.Exec(ctx, fmt.Sprintf("import os\nos.chdir(%q)", p.p))
	return session.TranslateOSError(err, p.p)
}

// Cwd returns the device working directory.
func Cwd(ctx context.Context, board *session.Board) (*Path, error) {
	cwd, err := board.EvalString(ctx, "os.getcwd()")
	if err != nil {
		return nil, err
	}
	return New(board, cwd), nil
}

// Home returns the device home directory, which is the filesystem root.
func Home(board *session.Board) *Path {
	return New(board, "/")
}

// Chmod is not supported: the device filesystem has no permission bits.
func (p *Path) Chmod(ctx context.Context, mode uint32) error {
	return fmt.Errorf("chmod %s: %w", p.p, session.ErrUnsupported)
}

// SymlinkTo is not supported: the device filesystem has no symlinks.
func (p *Path) SymlinkTo(ctx context.Context, target *Path) error {
	return fmt.Errorf("symlink %s: %w", p.p, session.ErrUnsupported)
}

// HardlinkTo is not supported: the device filesystem has no hard links.
func (p *Path) HardlinkTo(ctx context.Context, target *Path) error {
	return fmt.Errorf("hardlink %s: %w", p.p, session.ErrUnsupported)
}

// Readlink is not supported: the device filesystem has no symlinks.
func (p *Path) Readlink(ctx context.Context) (*Path, error) {
	return nil, fmt.Errorf("readlink %s: %w", p.p, session.ErrUnsupported)
}

// Owner is not supported: the device filesystem has no ownership.
func (p *Path) Owner(ctx context.Context) (string, error) {
	return "", fmt.Errorf("owner of %s: %w", p.p, session.ErrUnsupported)
}

// Group is not supported: the device filesystem has no ownership.
func (p *Path) Group(ctx context.Context) (string, error) {
	return "", fmt.Errorf("group of %s: %w", p.p, session.ErrUnsupported)
}
