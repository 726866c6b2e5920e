// Package serialport implements transport.Channel over a physical serial
// console using go.bug.st/serial. It owns the byte-level protocol for
// switching the console between its interactive and batch execution modes
// and provides the file primitives by executing os-module code in the
// batch window.
package serialport

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/boardfs/boardfs/internal/logging"
	"github.com/boardfs/boardfs/pkg/pyliteral"
	"github.com/boardfs/boardfs/pkg/retry"
	"github.com/boardfs/boardfs/pkg/transport"
)

const (
	ctrlA = "\x01" // enter batch (raw) mode
	ctrlB = "\x02" // back to interactive mode
	ctrlC = "\x03"
	ctrlD = "\x04"

	batchBanner       = "raw REPL; CTRL-B to exit\r\n>"
	interactivePrompt = ">>> "

	// writeChunk bounds how much file payload travels per execution, so a
	// device with a small input buffer never overruns.
	writeChunk = 256

	pollInterval = 10 * time.Millisecond
)

// Port is a serial console connection. Not safe for concurrent use; the
// session layer serializes access.
type Port struct {
	port  serial.Port
	name  string
	batch bool
	buf   []byte // bytes read past the last matched pattern
}

// Open connects to a serial device. Short device names (u0, a0, c1) are
// expanded to their platform form. If wait is positive the open is retried
// until the port appears, for boards still enumerating after reset.
func Open(ctx context.Context, name string, baud int, wait time.Duration) (*Port, error) {
	name = transport.DeviceLongName(name)
	mode := &serial.Mode{BaudRate: baud}

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 1
	if wait > 0 {
		cfg.MaxAttempts = int(wait/cfg.InitialWait) + 1
	}
	p, err := retry.DoWithResult(ctx, cfg, func() (serial.Port, error) {
		sp, err := serial.Open(name, mode)
		if err != nil {
			return nil, retry.Transient(err)
		}
		return sp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	logging.Info("serial port opened",
		zap.String("port", name), zap.Int("baud", baud))
	return &Port{port: p, name: name}, nil
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// Name returns the platform port name.
func (p *Port) Name() string { return p.name }

// Close releases the serial port.
func (p *Port) Close() error {
	return p.port.Close()
}

// WriteBytes sends raw bytes to the console.
func (p *Port) WriteBytes(data []byte) error {
	for len(data) > 0 {
		n, err := p.port.Write(data)
		if err != nil {
			return fmt.Errorf("write %s: %w", p.name, err)
		}
		data = data[n:]
	}
	return nil
}

// ReadUntil accumulates console output until pattern appears or timeout
// fires, returning everything up to and including the pattern. Bytes past
// the pattern are kept for the next read.
func (p *Port) ReadUntil(pattern []byte, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	if err := p.port.SetReadTimeout(pollInterval); err != nil {
		return nil, fmt.Errorf("read %s: %w", p.name, err)
	}
	chunk := make([]byte, 256)
	for {
		if i := bytes.Index(p.buf, pattern); i >= 0 {
			end := i + len(pattern)
			out := p.buf[:end]
			p.buf = append([]byte(nil), p.buf[end:]...)
			return out, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("read %s: timeout waiting for %q (got %q)",
				p.name, pattern, tail(p.buf, 64))
		}
		n, err := p.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p.name, err)
		}
		p.buf = append(p.buf, chunk[:n]...)
	}
}

// drain discards whatever the console has already produced.
func (p *Port) drain() {
	p.buf = nil
	_ = p.port.SetReadTimeout(pollInterval)
	chunk := make([]byte, 256)
	for {
		n, err := p.port.Read(chunk)
		if err != nil || n == 0 {
			return
		}
	}
}

// EnterBatchMode interrupts whatever runs on the device and switches the
// console to batch execution mode. Safe to call from any console state,
// including after an aborted execution.
func (p *Port) EnterBatchMode() error {
	if err := p.WriteBytes([]byte("\r" + ctrlC + ctrlC)); err != nil {
		return err
	}
	p.drain()
	if err := p.WriteBytes([]byte("\r" + ctrlA)); err != nil {
		return err
	}
	if _, err := p.ReadUntil([]byte(batchBanner), 5*time.Second); err != nil {
		return fmt.Errorf("enter batch mode: %w", err)
	}
	p.batch = true
	return nil
}

// ExitBatchMode returns the console to the interactive prompt.
func (p *Port) ExitBatchMode() error {
	if err := p.WriteBytes([]byte("\r" + ctrlB)); err != nil {
		return err
	}
	if _, err := p.ReadUntil([]byte(interactivePrompt), 5*time.Second); err != nil {
		return fmt.Errorf("exit batch mode: %w", err)
	}
	p.batch = false
	return nil
}

// InBatchMode reports the channel's view of the console mode. A device
// reset behind our back makes this stale, which callers handle by
// re-entering after interrupts.
func (p *Port) InBatchMode() bool { return p.batch }

// rawExec runs code in the batch window and returns its printed output.
// The console must already be in batch mode.
func (p *Port) rawExec(code string) ([]byte, error) {
	if !p.batch {
		return nil, errors.New("console not in batch mode")
	}
	if err := p.WriteBytes([]byte(code)); err != nil {
		return nil, err
	}
	if err := p.WriteBytes([]byte(ctrlD)); err != nil {
		return nil, err
	}
	if _, err := p.ReadUntil([]byte("OK"), 10*time.Second); err != nil {
		return nil, err
	}
	out, err := p.ReadUntil([]byte(ctrlD), 30*time.Second)
	if err != nil {
		return nil, err
	}
	out = bytes.TrimSuffix(out, []byte(ctrlD))
	errOut, err := p.ReadUntil([]byte(ctrlD), 10*time.Second)
	if err != nil {
		return nil, err
	}
	errOut = bytes.TrimSuffix(errOut, []byte(ctrlD))
	if len(bytes.TrimSpace(errOut)) > 0 {
		return nil, osError(string(errOut))
	}
	return bytes.TrimRight(out, "\r\n"), nil
}

// osError turns device error output into a typed error where the errno is
// unambiguous.
func osError(errOut string) error {
	msg := strings.TrimSpace(errOut)
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[i+1:])
	}
	switch {
	case strings.Contains(msg, "ENOENT"), strings.Contains(msg, "Errno 2]"):
		return fmt.Errorf("%s: %w", msg, transport.ErrNotExist)
	case strings.Contains(msg, "EEXIST"), strings.Contains(msg, "Errno 17]"):
		return fmt.Errorf("%s: %w", msg, transport.ErrExist)
	}
	return fmt.Errorf("device error: %s", msg)
}

// RawStat stats a path with os.stat, returning the uncorrected record.
func (p *Port) RawStat(path string) (*transport.RawStatResult, error) {
	out, err := p.rawExec(fmt.Sprintf("import os\nprint(repr(os.stat(%q)))", path))
	if err != nil {
		return nil, err
	}
	v, err := pyliteral.Parse(string(out))
	if err != nil {
		return nil, fmt.Errorf("parse stat of %s: %w", path, err)
	}
	items, err := v.Items()
	if err != nil || len(items) < 10 {
		return nil, fmt.Errorf("parse stat of %s: unexpected shape %q", path, out)
	}
	fields := make([]int64, 10)
	for i := range fields {
		fields[i], err = items[i].Int64()
		if err != nil {
			return nil, fmt.Errorf("parse stat of %s: %w", path, err)
		}
	}
	return &transport.RawStatResult{
		Mode:  uint32(fields[0]),
		Inode: uint64(fields[1]),
		Size:  fields[6],
		Atime: fields[7],
		Mtime: fields[8],
		Ctime: fields[9],
	}, nil
}

// RawReadFile reads a whole file, hex-encoded over the console so binary
// content survives the text channel.
func (p *Port) RawReadFile(path string) ([]byte, error) {
	out, err := p.rawExec(fmt.Sprintf(
		"import binascii\n"+
			"f = open(%q, 'rb')\n"+
			"print(binascii.hexlify(f.read()).decode())\n"+
			"f.close()", path))
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(strings.TrimSpace(string(out)))
	if err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", path, err)
	}
	return data, nil
}

// RawWriteFile replaces a file's content, sending the payload hex-encoded
// in bounded chunks.
func (p *Port) RawWriteFile(path string, data []byte) error {
	mode := "wb"
	for first := true; first || len(data) > 0; first = false {
		chunk := data
		if len(chunk) > writeChunk {
			chunk = chunk[:writeChunk]
		}
		data = data[len(chunk):]
		_, err := p.rawExec(fmt.Sprintf(
			"import binascii\n"+
				"f = open(%q, %q)\n"+
				"f.write(binascii.unhexlify('%s'))\n"+
				"f.close()",
			path, mode, hex.EncodeToString(chunk)))
		if err != nil {
			return err
		}
		mode = "ab"
	}
	return nil
}

// RawMkdir creates one directory.
func (p *Port) RawMkdir(path string) error {
	_, err := p.rawExec(fmt.Sprintf("import os\nos.mkdir(%q)", path))
	return err
}

// RawRemoveFile removes a regular file.
func (p *Port) RawRemoveFile(path string) error {
	_, err := p.rawExec(fmt.Sprintf("import os\nos.remove(%q)", path))
	return err
}

// RawRemoveDir removes an empty directory.
func (p *Port) RawRemoveDir(path string) error {
	_, err := p.rawExec(fmt.Sprintf("import os\nos.rmdir(%q)", path))
	return err
}

// RawCopy copies a file device-side so the content never crosses the wire.
func (p *Port) RawCopy(src, dst string) error {
	_, err := p.rawExec(fmt.Sprintf(
		"sf = open(%q, 'rb')\n"+
			"df = open(%q, 'wb')\n"+
			"while True:\n"+
			"    b = sf.read(%d)\n"+
			"    if not b:\n"+
			"        break\n"+
			"    df.write(b)\n"+
			"sf.close()\n"+
			"df.close()", src, dst, writeChunk))
	return err
}

// Passthrough connects the console byte-for-byte to in and out, for an
// interactive terminal on the device. Returns when in yields ctrl-] or
// fails. The console should be in interactive mode.
//
// If the serial side fails first, the goroutine reading in stays blocked
// in its Read until the process exits: an io.Reader cannot be unblocked
// from outside. Callers treat Passthrough as the final, one-shot act of
// the process (the repl subcommand exits right after).
func (p *Port) Passthrough(in io.Reader, out io.Writer) error {
	writeErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := in.Read(buf)
			if err != nil {
				writeErr <- err
				return
			}
			if i := bytes.IndexByte(buf[:n], 0x1d); i >= 0 { // ctrl-]
				if i > 0 {
					_ = p.WriteBytes(buf[:i])
				}
				writeErr <- nil
				return
			}
			if err := p.WriteBytes(buf[:n]); err != nil {
				writeErr <- err
				return
			}
		}
	}()

	if err := p.port.SetReadTimeout(pollInterval); err != nil {
		return err
	}
	chunk := make([]byte, 256)
	for {
		select {
		case err := <-writeErr:
			return err
		default:
		}
		n, err := p.port.Read(chunk)
		if err != nil {
			return err
		}
		if n > 0 {
			if _, err := out.Write(chunk[:n]); err != nil {
				return err
			}
		}
	}
}

func tail(b []byte, n int) []byte {
	if len(b) > n {
		return b[len(b)-n:]
	}
	return b
}
