// Package transport defines the byte-level channel to a MicroPython-class
// device. A Channel carries both free-form console traffic and the batch
// execution protocol; the file primitives are the device-side operations
// that higher layers compose into path semantics.
package transport

import (
	"errors"
	"time"
)

var (
	// ErrNotExist is returned by RawStat and the file primitives when the
	// device reports that a path does not exist.
	ErrNotExist = errors.New("no such file or directory on device")

	// ErrExist is returned when the device reports that a path already
	// exists (e.g. mkdir over an existing directory).
	ErrExist = errors.New("file or directory already exists on device")
)

// RawStatResult is an uncorrected stat record as reported by the device.
// Timestamps are seconds since the device epoch, which generally differs
// from the host epoch.
type RawStatResult struct {
	Mode  uint32
	Inode uint64
	Size  int64
	Atime int64
	Mtime int64
	Ctime int64
}

const (
	// Device st_mode type bits (POSIX layout; the device filesystem only
	// ever reports directories and regular files).
	ModeTypeMask = 0o170000
	ModeDir      = 0o040000
	ModeFile     = 0o100000
)

// IsDir reports whether the record describes a directory.
func (r *RawStatResult) IsDir() bool { return r.Mode&ModeTypeMask == ModeDir }

// IsFile reports whether the record describes a regular file.
func (r *RawStatResult) IsFile() bool { return r.Mode&ModeTypeMask == ModeFile }

// Channel is a duplex byte stream to one device plus the low-level file
// primitives it executes on our behalf. Implementations are not safe for
// concurrent use; the session layer serializes all traffic.
type Channel interface {
	// WriteBytes sends raw bytes to the device console.
	WriteBytes(data []byte) error

	// ReadUntil reads from the device until pattern is seen or the timeout
	// fires. The returned bytes include the pattern. A timeout is an error.
	ReadUntil(pattern []byte, timeout time.Duration) ([]byte, error)

	// EnterBatchMode switches the console from interactive to batch
	// execution mode. ExitBatchMode reverses it. InBatchMode reports the
	// channel's view of the current mode; after an interrupt the session
	// uses it to re-check actual device state.
	EnterBatchMode() error
	ExitBatchMode() error
	InBatchMode() bool

	// File primitives. All must be called in batch mode.
	RawStat(path string) (*RawStatResult, error)
	RawReadFile(path string) ([]byte, error)
	RawWriteFile(path string, data []byte) error
	RawMkdir(path string) error
	RawRemoveFile(path string) error
	RawRemoveDir(path string) error
	RawCopy(src, dst string) error

	Close() error
}
