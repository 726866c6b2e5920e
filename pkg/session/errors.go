package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/boardfs/boardfs/pkg/transport"
)

var (
	// ErrNotFound reports that a device path does not exist.
	ErrNotFound = errors.New("no such file or directory")

	// ErrExists reports that a device path already exists.
	ErrExists = errors.New("file or directory already exists")

	// ErrSameFile reports that the source and destination of a copy or
	// rename resolve to the same path.
	ErrSameFile = errors.New("source and destination are the same file")

	// ErrUnsupported reports an operation the device filesystem cannot
	// perform (symlinks, hard links, permissions, ownership).
	ErrUnsupported = errors.New("operation not supported by device filesystem")

	// ErrInterrupted reports that the caller cancelled an operation; the
	// running device computation was aborted with a double interrupt and
	// the console mode is left undefined until the next outermost session
	// scope re-synchronizes it.
	ErrInterrupted = errors.New("interrupted")
)

// ExecError is a device-reported exception from batch code execution.
type ExecError struct {
	Msg       string // the exception line, e.g. "OSError: [Errno 2] ENOENT"
	Traceback string // full device traceback, if any
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("device execution failed: %s", e.Msg)
}

// execError builds an ExecError from the raw error output of an execution.
// The exception line is the last non-empty line of the traceback.
func execError(errOutput []byte) *ExecError {
	tb := strings.TrimRight(string(errOutput), "\r\n \t")
	msg := tb
	if i := strings.LastIndexByte(tb, '\n'); i >= 0 {
		msg = strings.TrimSpace(tb[i+1:])
	}
	return &ExecError{Msg: msg, Traceback: tb}
}

// TranslateOSError maps a device OSError to a typed error where the
// semantics are unambiguous; other errors pass through unchanged.
func TranslateOSError(err error, path string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if errors.Is(err, transport.ErrExist) {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	var ee *ExecError
	if errors.As(err, &ee) {
		switch {
		case strings.Contains(ee.Msg, "ENOENT"), strings.Contains(ee.Msg, "Errno 2]"):
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		case strings.Contains(ee.Msg, "EEXIST"), strings.Contains(ee.Msg, "Errno 17]"):
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
	}
	return err
}
