// Package session drives the batch execution protocol on a device console.
//
// A Board owns the switch between the console's interactive mode and its
// batch execution mode. All file and code traffic runs inside session
// scopes; scopes nest so that composed operations (stat, then read, then
// write) share one uninterrupted batch window. Only the outermost scope
// performs the physical mode switches.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boardfs/boardfs/internal/logging"
	"github.com/boardfs/boardfs/internal/metrics"
	"github.com/boardfs/boardfs/pkg/pyliteral"
	"github.com/boardfs/boardfs/pkg/transport"
)

const (
	ctrlD = 0x04

	// interruptSeq aborts any computation running on the device: a carriage
	// return followed by a double ctrl-C.
	interruptSeq = "\r\x03\x03"

	defaultReadTimeout = 10 * time.Second
)

// Board is a connection to one device. It is owned by one caller at a
// time: operations must not be issued concurrently, because the underlying
// channel is a single ordered byte stream with no multiplexing.
type Board struct {
	ch          transport.Channel
	readTimeout time.Duration

	depth int
	dirty bool // an interrupt left the console mode undefined

	// staleRead is the channel of a read abandoned by an interrupt. The
	// underlying channel read keeps running until its timeout; it must be
	// drained before new traffic or it would swallow the next response.
	staleRead <-chan readResult

	epochOffset int64
	epochKnown  bool
	clockOffset time.Duration
	clockKnown  bool
}

// Option configures a Board.
type Option func(*Board)

// WithReadTimeout sets the per-read timeout for protocol responses.
func WithReadTimeout(d time.Duration) Option {
	return func(b *Board) { b.readTimeout = d }
}

// New wraps a connected channel.
func New(ch transport.Channel, opts ...Option) *Board {
	b := &Board{ch: ch, readTimeout: defaultReadTimeout}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Close closes the underlying channel.
func (b *Board) Close() error {
	return b.ch.Close()
}

// WithSession runs fn with exclusive access to the board's primitives.
//
// Entering while already in a session only increments the nesting depth;
// the physical interactive/batch switch happens exactly once per outermost
// scope. On normal return and on device-reported errors the console mode
// is restored. On interruption (context cancellation) no clean exit is
// attempted: the mode is left undefined and the next outermost entry
// re-synchronizes against the channel's actual state.
func (b *Board) WithSession(ctx context.Context, fn func(ctx context.Context) error) error {
	metrics.RecordSessionScope()
	if err := ctx.Err(); err != nil {
		return b.interrupt(err)
	}

	entered := false
	if b.depth == 0 {
		if b.staleRead != nil {
			<-b.staleRead
			b.staleRead = nil
		}
		if b.dirty || !b.ch.InBatchMode() {
			if err := b.ch.EnterBatchMode(); err != nil {
				return fmt.Errorf("enter batch mode: %w", err)
			}
			metrics.RecordModeSwitch(true)
			b.dirty = false
		}
		entered = true
	}
	b.depth++

	err := fn(ctx)

	if errors.Is(err, ErrInterrupted) {
		// The device may be unrecoverable mid-transaction; drop the whole
		// scope stack without touching the channel further.
		b.depth = 0
		return err
	}

	b.depth--
	if entered && b.depth == 0 {
		if exitErr := b.ch.ExitBatchMode(); exitErr != nil && err == nil {
			err = fmt.Errorf("exit batch mode: %w", exitErr)
		} else {
			metrics.RecordModeSwitch(false)
		}
	}
	return err
}

// interrupt aborts the running device computation and returns the typed
// cancellation failure. The console mode is left undefined.
func (b *Board) interrupt(cause error) error {
	_ = b.ch.WriteBytes([]byte(interruptSeq))
	b.dirty = true
	b.depth = 0
	metrics.RecordInterrupt()
	logging.Debug("interrupted device computation", zap.Error(cause))
	return fmt.Errorf("%w: %v", ErrInterrupted, cause)
}

type readResult struct {
	data []byte
	err  error
}

// readUntil waits for pattern while honoring cancellation: if ctx fires
// mid-read the device computation is aborted and ErrInterrupted returned.
// The abandoned read is kept for draining on the next outermost entry.
func (b *Board) readUntil(ctx context.Context, pattern []byte) ([]byte, error) {
	done := make(chan readResult, 1)
	go func() {
		data, err := b.ch.ReadUntil(pattern, b.readTimeout)
		done <- readResult{data, err}
	}()
	select {
	case <-ctx.Done():
		b.staleRead = done
		return nil, b.interrupt(ctx.Err())
	case r := <-done:
		return r.data, r.err
	}
}

// Exec runs source code on the device in batch mode and returns everything
// it printed, with trailing whitespace trimmed. A device exception is
// returned as *ExecError.
func (b *Board) Exec(ctx context.Context, code string) ([]byte, error) {
	var out []byte
	err := b.WithSession(ctx, func(ctx context.Context) error {
		var err error
		out, err = b.exec(ctx, code)
		return err
	})
	return out, err
}

// exec implements the batch execution exchange: code, ctrl-D, then an
// acknowledgement, the captured output and the error output, each
// delimited by ctrl-D.
func (b *Board) exec(ctx context.Context, code string) ([]byte, error) {
	start := time.Now()
	out, err := b.execExchange(ctx, code)
	metrics.RecordExec(time.Since(start), err)
	logging.Debug("board exec",
		zap.String("code", firstLine(code)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return out, err
}

func (b *Board) execExchange(ctx context.Context, code string) ([]byte, error) {
	if err := b.ch.WriteBytes([]byte(code)); err != nil {
		return nil, fmt.Errorf("send code: %w", err)
	}
	if err := b.ch.WriteBytes([]byte{ctrlD}); err != nil {
		return nil, fmt.Errorf("send code: %w", err)
	}

	if _, err := b.readUntil(ctx, []byte("OK")); err != nil {
		return nil, fmt.Errorf("await acknowledgement: %w", err)
	}

	out, err := b.readUntil(ctx, []byte{ctrlD})
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	out = trimDelimiter(out)

	errOut, err := b.readUntil(ctx, []byte{ctrlD})
	if err != nil {
		return nil, fmt.Errorf("read error output: %w", err)
	}
	errOut = trimDelimiter(errOut)

	if len(errOut) > 0 {
		return nil, execError(errOut)
	}
	return []byte(strings.TrimRight(string(out), "\r\n \t")), nil
}

// Eval runs an expression on the device and parses its repr() output. The
// os module is imported first since most expressions address the
// filesystem and a fresh interpreter has nothing imported.
func (b *Board) Eval(ctx context.Context, expression string) (pyliteral.Value, error) {
	out, err := b.Exec(ctx, "import os\nprint(repr("+expression+"))")
	if err != nil {
		return pyliteral.Value{}, err
	}
	return pyliteral.Parse(string(out))
}

// EvalString evaluates an expression that must yield a string.
func (b *Board) EvalString(ctx context.Context, expression string) (string, error) {
	v, err := b.Eval(ctx, expression)
	if err != nil {
		return "", err
	}
	return v.Str()
}

// EvalInt64 evaluates an expression that must yield an integer.
func (b *Board) EvalInt64(ctx context.Context, expression string) (int64, error) {
	v, err := b.Eval(ctx, expression)
	if err != nil {
		return 0, err
	}
	return v.Int64()
}

// SoftReset restarts the device interpreter. It must not be called while a
// session scope is open.
func (b *Board) SoftReset(ctx context.Context) error {
	if b.depth > 0 {
		return errors.New("cannot reset device while a session is open")
	}
	if err := b.ch.WriteBytes([]byte{0x04}); err != nil {
		return fmt.Errorf("soft reset: %w", err)
	}
	b.epochKnown = false
	b.clockKnown = false
	return nil
}

func trimDelimiter(data []byte) []byte {
	if n := len(data); n > 0 && data[n-1] == ctrlD {
		return data[:n-1]
	}
	return data
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "..."
	}
	return s
}
