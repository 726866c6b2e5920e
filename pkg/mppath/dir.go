package mppath

import (
	"context"
	"errors"
	"fmt"
	gopath "path"
	"sort"
	"strings"

	"github.com/boardfs/boardfs/internal/metrics"
	"github.com/boardfs/boardfs/pkg/session"
	"github.com/boardfs/boardfs/pkg/transport"
)

// DirEntry is one name from a directory listing. The listing already
// carries the entry's type and size, so IsDir, IsFile and Size answer
// without another round trip; timestamps need Stat.
type DirEntry struct {
	parent *Path
	name   string
	mode   uint32
	inode  uint64
	size   int64
}

// Name returns the entry's name within its directory.
func (e *DirEntry) Name() string { return e.name }

// IsDir reports whether the entry is a directory.
func (e *DirEntry) IsDir() bool { return e.mode&transport.ModeTypeMask == transport.ModeDir }

// IsFile reports whether the entry is a regular file.
func (e *DirEntry) IsFile() bool { return e.mode&transport.ModeTypeMask == transport.ModeFile }

// Size returns the entry's size in bytes, zero for directories.
func (e *DirEntry) Size() int64 { return e.size }

// Path returns the entry as a Path.
func (e *DirEntry) Path() *Path {
	return e.parent.Join(e.name)
}

// Stat fetches the entry's full stat record, including timestamps.
func (e *DirEntry) Stat(ctx context.Context) (*session.Stat, error) {
	return e.Path().Stat(ctx)
}

// Iterdir lists the directory, sorted by name. Each call reads the device;
// traversals that revisit directories should go through Glob, RGlob or
// Walk, which cache listings for their duration.
func (p *Path) Iterdir(ctx context.Context) ([]*DirEntry, error) {
	return p.listDir(ctx)
}

// listDir runs one ilistdir on the device and decodes its tuples. Entries
// come as (name, mode, inode) or (name, mode, inode, size).
func (p *Path) listDir(ctx context.Context) ([]*DirEntry, error) {
	v, err := p.board.Eval(ctx, fmt.Sprintf("list(os.ilistdir(%q))", p.p))
	if err != nil {
		return nil, session.TranslateOSError(err, p.p)
	}
	items, err := v.Items()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p.p, err)
	}
	entries := make([]*DirEntry, 0, len(items))
	for _, item := range items {
		fields, err := item.Items()
		if err != nil || len(fields) < 3 {
			return nil, fmt.Errorf("list %s: unexpected entry shape", p.p)
		}
		name, err := fields[0].Str()
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", p.p, err)
		}
		mode, err := fields[1].Int64()
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", p.p, err)
		}
		inode, _ := fields[2].Int64()
		var size int64
		if len(fields) > 3 {
			size, _ = fields[3].Int64()
		}
		entries = append(entries, &DirEntry{
			parent: p,
			name:   name,
			mode:   uint32(mode),
			inode:  uint64(inode),
			size:   size,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return entries, nil
}

// lister caches directory listings for the duration of one traversal. A
// fresh lister per Glob, RGlob or Walk call keeps the cache's lifetime
// explicit: it can never serve entries from a previous operation.
type lister struct {
	entries map[string][]*DirEntry
}

func newLister() *lister {
	return &lister{entries: make(map[string][]*DirEntry)}
}

func (l *lister) list(ctx context.Context, dir *Path) ([]*DirEntry, error) {
	if entries, ok := l.entries[dir.p]; ok {
		metrics.RecordListingCache(true)
		return entries, nil
	}
	metrics.RecordListingCache(false)
	entries, err := dir.listDir(ctx)
	if err != nil {
		return nil, err
	}
	l.entries[dir.p] = entries
	return entries, nil
}

// Glob returns the paths under p matching pattern, sorted. Pattern
// segments use shell syntax (*, ?, character classes); a ** segment
// matches any number of directories. The whole match runs in one session
// scope and reads each directory at most once.
func (p *Path) Glob(ctx context.Context, pattern string) ([]*Path, error) {
	segments := strings.Split(gopath.Clean(pattern), "/")
	if pattern == "" || segments[0] == "" || segments[0] == ".." {
		return nil, fmt.Errorf("glob %s: invalid pattern %q", p.p, pattern)
	}
	var out []*Path
	err := p.board.WithSession(ctx, func(ctx context.Context) error {
		var err error
		out, err = glob(ctx, newLister(), p, segments)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].p < out[j].p })
	return out, nil
}

// RGlob matches pattern against p and every directory below it.
func (p *Path) RGlob(ctx context.Context, pattern string) ([]*Path, error) {
	return p.Glob(ctx, "**/"+pattern)
}

func glob(ctx context.Context, l *lister, dir *Path, segments []string) ([]*Path, error) {
	if len(segments) == 0 {
		return []*Path{dir}, nil
	}
	seg, rest := segments[0], segments[1:]

	if seg == "**" {
		// Match zero directories here, then recurse into every subdirectory
		// with the ** still pending.
		out, err := glob(ctx, l, dir, rest)
		if err != nil {
			return nil, err
		}
		entries, err := l.list(ctx, dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			sub, err := glob(ctx, l, entryPath(dir, e), segments)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	}

	entries, err := l.list(ctx, dir)
	if err != nil {
		return nil, err
	}
	var out []*Path
	for _, e := range entries {
		ok, err := gopath.Match(seg, e.name)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", seg, err)
		}
		if !ok {
			continue
		}
		if len(rest) == 0 {
			out = append(out, entryPath(dir, e))
			continue
		}
		if !e.IsDir() {
			continue
		}
		sub, err := glob(ctx, l, entryPath(dir, e), rest)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// entryPath builds the entry's Path with its partial stat primed, so a
// traversal's type checks never stat the device. Stat upgrades the record
// when somebody wants timestamps.
func entryPath(dir *Path, e *DirEntry) *Path {
	child := dir.Join(e.name)
	child.setPartialStat(&session.Stat{Mode: e.mode, Inode: e.inode, Size: e.size})
	return child
}

// WalkFunc receives each visited path with its listing entry. Returning
// SkipDir for a directory prunes it from the walk.
type WalkFunc func(p *Path, entry *DirEntry) error

// SkipDir prunes a directory from Walk.
var SkipDir = errors.New("skip this directory")

// Walk visits every entry below p depth-first in name order, reading each
// directory exactly once. maxDepth bounds recursion; 0 means the default
// bound.
func (p *Path) Walk(ctx context.Context, maxDepth int, fn WalkFunc) error {
	if maxDepth <= 0 {
		maxDepth = 20
	}
	return p.board.WithSession(ctx, func(ctx context.Context) error {
		return walk(ctx, newLister(), p, maxDepth, fn)
	})
}

func walk(ctx context.Context, l *lister, dir *Path, depth int, fn WalkFunc) error {
	if depth == 0 {
		return fmt.Errorf("walk %s: maximum depth exceeded", dir.p)
	}
	entries, err := l.list(ctx, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		child := entryPath(dir, e)
		err := fn(child, e)
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}
		if e.IsDir() {
			if err := walk(ctx, l, child, depth-1, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
