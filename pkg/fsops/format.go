package fsops

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Formatter renders directory listings. Names are colored by kind when the
// writer is a terminal.
type Formatter struct {
	w     io.Writer
	dir   *color.Color
	py    *color.Color
	plain *color.Color
}

// NewFormatter makes a listing formatter. Color is enabled only when w is
// an interactive terminal.
func NewFormatter(w io.Writer) *Formatter {
	f := &Formatter{
		w:     w,
		dir:   color.New(color.FgBlue, color.Bold),
		py:    color.New(color.FgGreen),
		plain: color.New(),
	}
	if file, ok := w.(*os.File); !ok || !isatty.IsTerminal(file.Fd()) {
		f.dir.DisableColor()
		f.py.DisableColor()
		f.plain.DisableColor()
	}
	return f
}

// name renders an entry name, a trailing slash and blue for directories,
// green for source files.
func (f *Formatter) name(e Entry, isDir bool) string {
	switch {
	case isDir:
		return f.dir.Sprint(e.Name() + "/")
	case strings.HasSuffix(e.Name(), ".py"):
		return f.py.Sprint(e.Name())
	default:
		return f.plain.Sprint(e.Name())
	}
}

// Short prints the names of a directory's entries, several per line.
func (f *Formatter) Short(ctx context.Context, dir Entry) error {
	entries, err := dir.Iterdir(ctx)
	if err != nil {
		return err
	}
	const perLine = 4
	for i, e := range entries {
		isDir, err := e.IsDir(ctx)
		if err != nil {
			return err
		}
		sep := "  "
		if (i+1)%perLine == 0 || i == len(entries)-1 {
			sep = "\n"
		}
		fmt.Fprintf(f.w, "%-30s%s", f.name(e, isDir), sep)
	}
	return nil
}

// Long prints one entry per line with a humanized size and the
// modification time.
func (f *Formatter) Long(ctx context.Context, dir Entry) error {
	entries, err := dir.Iterdir(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		info, err := e.Stat(ctx)
		if err != nil {
			return err
		}
		size := humanize.Bytes(uint64(info.Size))
		if info.Dir {
			size = "-"
		}
		fmt.Fprintf(f.w, "%10s  %s  %s\n",
			size, info.Mtime.Format("2006-01-02 15:04:05"), f.name(e, info.Dir))
	}
	return nil
}
