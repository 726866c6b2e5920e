// Package transporttest provides an in-memory fake device implementing
// transport.Channel. It keeps a map-backed filesystem and understands the
// small set of code fragments the session layer sends, so protocol and
// path semantics can be tested without hardware.
package transporttest

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/boardfs/boardfs/pkg/transport"
)

// EpochDelta2000 is the offset of a device epoch of 2000-01-01 from the
// host epoch of 1970-01-01, in seconds.
const EpochDelta2000 = 946684800

type node struct {
	isDir bool
	data  []byte
	mtime int64 // device epoch seconds
	inode uint64
}

// Device is a fake device console plus filesystem.
type Device struct {
	// EpochDelta is subtracted from host time to produce device
	// timestamps. DriftSecs simulates a real-time clock running fast (>0)
	// or slow (<0).
	EpochDelta int64
	DriftSecs  int64

	// HangOn makes executions whose code contains the substring never
	// respond, so reads block until timeout or interruption.
	HangOn string

	mu      sync.Mutex
	batch   bool
	pending []byte // device -> host bytes not yet read
	codeBuf []byte // host -> device bytes of the current execution
	wake    chan struct{}

	cwd       string
	nodes     map[string]*node
	nextInode uint64

	enters     int
	exits      int
	interrupts int
	execs      int
}

// NewDevice returns a device with an empty root filesystem and a device
// epoch of 2000-01-01.
func NewDevice() *Device {
	d := &Device{
		EpochDelta: EpochDelta2000,
		wake:       make(chan struct{}),
		cwd:        "/",
		nodes:      map[string]*node{"/": {isDir: true}},
		nextInode:  1,
	}
	return d
}

// Enters returns how many times batch mode was physically entered.
func (d *Device) Enters() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enters
}

// Exits returns how many times batch mode was physically exited.
func (d *Device) Exits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exits
}

// Interrupts returns how many double-interrupt sequences were received.
func (d *Device) Interrupts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interrupts
}

// Execs returns how many code executions the device has run.
func (d *Device) Execs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.execs
}

// Seed creates a file with content, creating parent directories.
func (d *Device) Seed(p string, content []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p = clean(p)
	for dir := path.Dir(p); dir != "/"; dir = path.Dir(dir) {
		if _, ok := d.nodes[dir]; !ok {
			d.nodes[dir] = &node{isDir: true, mtime: d.deviceNow(), inode: d.inode()}
		}
	}
	d.nodes[p] = &node{data: append([]byte(nil), content...), mtime: d.deviceNow(), inode: d.inode()}
}

// SeedDir creates a directory, creating parents.
func (d *Device) SeedDir(p string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p = clean(p)
	for _, dir := range ancestorsAndSelf(p) {
		if _, ok := d.nodes[dir]; !ok {
			d.nodes[dir] = &node{isDir: true, mtime: d.deviceNow(), inode: d.inode()}
		}
	}
}

// Exists reports whether a path exists on the fake filesystem.
func (d *Device) Exists(p string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.nodes[clean(p)]
	return ok
}

// Content returns the raw content of a fake file.
func (d *Device) Content(p string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.nodes[clean(p)]; ok {
		return append([]byte(nil), n.data...)
	}
	return nil
}

// Entries returns the sorted child names of a directory, for assertions.
func (d *Device) Entries(dir string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var names []string
	for _, c := range d.children(clean(dir)) {
		names = append(names, path.Base(c))
	}
	return names
}

func (d *Device) deviceNow() int64 {
	return time.Now().Unix() - d.EpochDelta + d.DriftSecs
}

func (d *Device) inode() uint64 {
	d.nextInode++
	return d.nextInode
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

func ancestorsAndSelf(p string) []string {
	var out []string
	for ; p != "/"; p = path.Dir(p) {
		out = append([]string{p}, out...)
	}
	return out
}

func (d *Device) children(dir string) []string {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var out []string
	for p := range d.nodes {
		if p != "/" && strings.HasPrefix(p, prefix) && !strings.Contains(p[len(prefix):], "/") {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// --- transport.Channel: console protocol ---

// WriteBytes accepts host bytes. In batch mode, code accumulates until a
// ctrl-D triggers execution. A double ctrl-C aborts the pending execution.
func (d *Device) WriteBytes(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if bytes.Contains(data, []byte("\x03\x03")) {
		d.interrupts++
		d.codeBuf = nil
		return nil
	}
	if !d.batch {
		// Interactive echo is irrelevant to these tests.
		return nil
	}
	d.codeBuf = append(d.codeBuf, data...)
	if i := bytes.IndexByte(d.codeBuf, 0x04); i >= 0 {
		code := string(d.codeBuf[:i])
		d.codeBuf = d.codeBuf[i+1:]
		if d.HangOn != "" && strings.Contains(code, d.HangOn) {
			return nil // never respond
		}
		d.execs++
		out, errOut := d.execute(code)
		d.respond("OK" + out + "\x04" + errOut + "\x04>")
	}
	return nil
}

// respond queues device output and wakes blocked readers. Callers hold mu.
func (d *Device) respond(s string) {
	d.pending = append(d.pending, s...)
	close(d.wake)
	d.wake = make(chan struct{})
}

// ReadUntil blocks until pattern has been produced or timeout fires.
func (d *Device) ReadUntil(pattern []byte, timeout time.Duration) ([]byte, error) {
	deadline := time.After(timeout)
	for {
		d.mu.Lock()
		if i := bytes.Index(d.pending, pattern); i >= 0 {
			end := i + len(pattern)
			out := append([]byte(nil), d.pending[:end]...)
			d.pending = d.pending[end:]
			d.mu.Unlock()
			return out, nil
		}
		wake := d.wake
		d.mu.Unlock()
		select {
		case <-wake:
		case <-deadline:
			return nil, fmt.Errorf("fake device: timeout waiting for %q", pattern)
		}
	}
}

// EnterBatchMode switches to batch mode from any state.
func (d *Device) EnterBatchMode() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enters++
	d.batch = true
	d.codeBuf = nil
	d.pending = nil
	return nil
}

// ExitBatchMode returns the console to interactive mode.
func (d *Device) ExitBatchMode() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exits++
	d.batch = false
	return nil
}

// InBatchMode reports the channel's view of the console mode.
func (d *Device) InBatchMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batch
}

// Close is a no-op.
func (d *Device) Close() error { return nil }

// --- transport.Channel: file primitives ---

// RawStat returns the uncorrected stat record for a path.
func (d *Device) RawStat(p string) (*transport.RawStatResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[clean(p)]
	if !ok {
		return nil, fmt.Errorf("stat %s: %w", p, transport.ErrNotExist)
	}
	mode := uint32(transport.ModeFile | 0o644)
	size := int64(len(n.data))
	if n.isDir {
		mode = transport.ModeDir | 0o755
		size = 0
	}
	return &transport.RawStatResult{
		Mode:  mode,
		Inode: n.inode,
		Size:  size,
		Atime: n.mtime,
		Mtime: n.mtime,
		Ctime: n.mtime,
	}, nil
}

// RawReadFile returns the content of a file.
func (d *Device) RawReadFile(p string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[clean(p)]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, transport.ErrNotExist)
	}
	if n.isDir {
		return nil, fmt.Errorf("read %s: is a directory", p)
	}
	return append([]byte(nil), n.data...), nil
}

// RawWriteFile replaces the content of a file. The parent must exist.
func (d *Device) RawWriteFile(p string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p = clean(p)
	parent, ok := d.nodes[path.Dir(p)]
	if !ok || !parent.isDir {
		return fmt.Errorf("write %s: %w", p, transport.ErrNotExist)
	}
	if n, ok := d.nodes[p]; ok && n.isDir {
		return fmt.Errorf("write %s: is a directory", p)
	}
	d.nodes[p] = &node{data: append([]byte(nil), data...), mtime: d.deviceNow(), inode: d.inode()}
	return nil
}

// RawMkdir creates one directory. The parent must exist.
func (d *Device) RawMkdir(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p = clean(p)
	if _, ok := d.nodes[p]; ok {
		return fmt.Errorf("mkdir %s: %w", p, transport.ErrExist)
	}
	parent, ok := d.nodes[path.Dir(p)]
	if !ok || !parent.isDir {
		return fmt.Errorf("mkdir %s: %w", p, transport.ErrNotExist)
	}
	d.nodes[p] = &node{isDir: true, mtime: d.deviceNow(), inode: d.inode()}
	return nil
}

// RawRemoveFile removes a regular file.
func (d *Device) RawRemoveFile(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p = clean(p)
	n, ok := d.nodes[p]
	if !ok {
		return fmt.Errorf("remove %s: %w", p, transport.ErrNotExist)
	}
	if n.isDir {
		return fmt.Errorf("remove %s: is a directory", p)
	}
	delete(d.nodes, p)
	return nil
}

// RawRemoveDir removes an empty directory.
func (d *Device) RawRemoveDir(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p = clean(p)
	n, ok := d.nodes[p]
	if !ok {
		return fmt.Errorf("rmdir %s: %w", p, transport.ErrNotExist)
	}
	if !n.isDir {
		return fmt.Errorf("rmdir %s: not a directory", p)
	}
	if len(d.children(p)) > 0 {
		return fmt.Errorf("rmdir %s: directory not empty", p)
	}
	delete(d.nodes, p)
	return nil
}

// RawCopy copies a regular file device-side.
func (d *Device) RawCopy(src, dst string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[clean(src)]
	if !ok {
		return fmt.Errorf("copy %s: %w", src, transport.ErrNotExist)
	}
	if n.isDir {
		return fmt.Errorf("copy %s: is a directory", src)
	}
	d.nodes[clean(dst)] = &node{data: append([]byte(nil), n.data...), mtime: d.deviceNow(), inode: d.inode()}
	return nil
}

// --- code execution emulation ---

var (
	evalRe   = regexp.MustCompile(`(?s)^import os\nprint\(repr\((.*)\)\)$`)
	listRe   = regexp.MustCompile(`^list\(os\.ilistdir\("(.*)"\)\)$`)
	mktimeRe = regexp.MustCompile(`^time\.mktime\(\((\d+), (\d+), (\d+), (\d+), (\d+), (\d+), (\d+), (\d+)\)\)$`)
	renameRe = regexp.MustCompile(`^import os\nos\.rename\("(.*)", "(.*)"\)$`)
	chdirRe  = regexp.MustCompile(`^import os\nos\.chdir\("(.*)"\)$`)
	touchRe  = regexp.MustCompile(`^f = open\("(.*)", 'a'\)\nf\.close\(\)$`)
)

const enoent = `Traceback (most recent call last):
  File "<stdin>", line 1, in <module>
OSError: [Errno 2] ENOENT`

// execute interprets the handful of code shapes the session layer emits.
// Callers hold mu.
func (d *Device) execute(code string) (out, errOut string) {
	switch {
	case code == "import time" || code == "import os":
		return "", ""

	case strings.HasPrefix(code, "import machine"):
		d.DriftSecs = 0
		return "", ""

	case touchRe.MatchString(code):
		p := clean(touchRe.FindStringSubmatch(code)[1])
		if n, ok := d.nodes[p]; ok {
			n.mtime = d.deviceNow()
		} else {
			d.nodes[p] = &node{mtime: d.deviceNow(), inode: d.inode()}
		}
		return "", ""

	case renameRe.MatchString(code):
		m := renameRe.FindStringSubmatch(code)
		return d.rename(clean(m[1]), clean(m[2]))

	case chdirRe.MatchString(code):
		p := clean(chdirRe.FindStringSubmatch(code)[1])
		if n, ok := d.nodes[p]; !ok || !n.isDir {
			return "", enoent
		}
		d.cwd = p
		return "", ""

	case evalRe.MatchString(code):
		return d.eval(evalRe.FindStringSubmatch(code)[1])
	}
	return "", "Traceback (most recent call last):\nNameError: unscripted code: " + strconv.Quote(code)
}

func (d *Device) rename(src, dst string) (string, string) {
	n, ok := d.nodes[src]
	if !ok {
		return "", enoent
	}
	delete(d.nodes, src)
	d.nodes[dst] = n
	if n.isDir {
		prefix := src + "/"
		for p, child := range d.nodes {
			if strings.HasPrefix(p, prefix) {
				delete(d.nodes, p)
				d.nodes[dst+"/"+p[len(prefix):]] = child
			}
		}
	}
	return "", ""
}

func (d *Device) eval(expr string) (string, string) {
	switch {
	case expr == "os.getcwd()":
		return "'" + d.cwd + "'", ""

	case expr == "time.time()":
		return strconv.FormatInt(d.deviceNow(), 10), ""

	case mktimeRe.MatchString(expr):
		m := mktimeRe.FindStringSubmatch(expr)
		f := make([]int, 8)
		for i := range f {
			f[i], _ = strconv.Atoi(m[i+1])
		}
		t := time.Date(f[0], time.Month(f[1]), f[2], f[3], f[4], f[5], 0, time.UTC)
		return strconv.FormatInt(t.Unix()-d.EpochDelta, 10), ""

	case listRe.MatchString(expr):
		dir := clean(listRe.FindStringSubmatch(expr)[1])
		n, ok := d.nodes[dir]
		if !ok || !n.isDir {
			return "", enoent
		}
		var entries []string
		for _, p := range d.children(dir) {
			c := d.nodes[p]
			if c.isDir {
				entries = append(entries, fmt.Sprintf("('%s', %d, %d, 0)",
					path.Base(p), transport.ModeDir, c.inode))
			} else {
				entries = append(entries, fmt.Sprintf("('%s', %d, %d, %d)",
					path.Base(p), transport.ModeFile, c.inode, len(c.data)))
			}
		}
		return "[" + strings.Join(entries, ", ") + "]", ""
	}
	return "", "Traceback (most recent call last):\nNameError: unscripted expression: " + strconv.Quote(expr)
}
