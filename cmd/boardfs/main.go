// boardfs manipulates files on an attached board over its serial console.
//
// Remote paths are written with a leading colon (":main.py", ":/lib");
// paths without one are host paths. Commands that only make sense on the
// board (ls, cat, mkdir, ...) accept both spellings.
//
// Sub-commands:
//
//	boardfs devs                     List serial ports
//	boardfs ls [-l] [-r] [path]      List a directory
//	boardfs cat <path>               Print a file
//	boardfs mkdir [-p] <path>...     Create directories
//	boardfs rmdir <path>...          Remove empty directories
//	boardfs rm [-r] <path>...        Remove files
//	boardfs touch <path>...          Create files or update timestamps
//	boardfs cd <path>                Change the board working directory
//	boardfs pwd                      Print the board working directory
//	boardfs cp <src>... <dest>       Copy files (colon marks board side)
//	boardfs mv <src> <dest>          Move a file
//	boardfs get <remote> [local]     Copy a board file to the host
//	boardfs put <local> [remote]     Copy a host file to the board
//	boardfs clock [-set] [-utc]      Show or correct the board clock
//	boardfs repl                     Attach an interactive terminal
//	boardfs status                   Show connection and board summary
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/boardfs/boardfs/internal/config"
	"github.com/boardfs/boardfs/internal/logging"
	"github.com/boardfs/boardfs/internal/metrics"
	"github.com/boardfs/boardfs/pkg/fsops"
	"github.com/boardfs/boardfs/pkg/mppath"
	"github.com/boardfs/boardfs/pkg/session"
	"github.com/boardfs/boardfs/pkg/transport"
	"github.com/boardfs/boardfs/pkg/transport/serialport"
)

func main() {
	cfg := config.Load()
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "boardfs: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logging.Warn("metrics listener failed", zap.Error(err))
			}
		}()
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "devs" {
		cmdDevs()
		return
	}

	app, err := connect(cfg)
	if err != nil {
		fatal(err)
	}
	defer app.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "ls":
		err = app.cmdLs(ctx, args)
	case "cat":
		err = app.cmdCat(ctx, args)
	case "mkdir":
		err = app.cmdMkdir(ctx, args)
	case "rmdir":
		err = app.cmdRmdir(ctx, args)
	case "rm":
		err = app.cmdRm(ctx, args)
	case "touch":
		err = app.cmdTouch(ctx, args)
	case "cd":
		err = app.cmdCd(ctx, args)
	case "pwd":
		err = app.cmdPwd(ctx, args)
	case "cp":
		err = app.cmdCp(ctx, args)
	case "mv":
		err = app.cmdMv(ctx, args)
	case "get":
		err = app.cmdGet(ctx, args)
	case "put":
		err = app.cmdPut(ctx, args)
	case "clock":
		err = app.cmdClock(ctx, args)
	case "repl":
		err = app.cmdRepl(ctx, args)
	case "status":
		err = app.cmdStatus(ctx, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: boardfs <devs|ls|cat|mkdir|rmdir|rm|touch|cd|pwd|cp|mv|get|put|clock|repl|status> [args]")
	fmt.Fprintln(os.Stderr, "set BOARDFS_PORT to pick the serial port (u0, a0, c1 or a full device path)")
}

func fatal(err error) {
	logging.Sync()
	fmt.Fprintf(os.Stderr, "boardfs: %v\n", err)
	os.Exit(1)
}

// app bundles the live connection for the sub-commands.
type app struct {
	port  *serialport.Port
	board *session.Board
}

func connect(cfg *config.Config) (*app, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("no serial port configured: set BOARDFS_PORT")
	}
	port, err := serialport.Open(context.Background(), cfg.Port, cfg.Baud, cfg.Wait)
	if err != nil {
		return nil, err
	}
	board := session.New(port, session.WithReadTimeout(cfg.ReadTimeout))
	return &app{port: port, board: board}, nil
}

func (a *app) close() {
	if err := a.board.Close(); err != nil {
		logging.Warn("closing connection", zap.Error(err))
	}
}

// entry maps an argument to the right filesystem: a leading colon means
// the board, anything else the host.
func (a *app) entry(arg string) fsops.Entry {
	if remote, ok := strings.CutPrefix(arg, ":"); ok {
		if remote == "" {
			remote = "."
		}
		return fsops.NewRemote(mppath.New(a.board, remote))
	}
	return fsops.NewLocal(arg)
}

// remotePath maps an argument to a board path, with or without the colon.
func (a *app) remotePath(arg string) *mppath.Path {
	return mppath.New(a.board, strings.TrimPrefix(arg, ":"))
}

func (a *app) cmdLs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	long := fs.Bool("l", false, "long listing with sizes and times")
	recursive := fs.Bool("r", false, "recurse into directories")
	fs.Parse(args)

	dirs := fs.Args()
	if len(dirs) == 0 {
		dirs = []string{":."}
	}
	f := fsops.NewFormatter(os.Stdout)
	for _, d := range dirs {
		target := fsops.NewRemote(a.remotePath(d))
		if *recursive {
			if err := a.lsRecursive(ctx, f, target, *long); err != nil {
				return err
			}
			continue
		}
		if len(dirs) > 1 {
			fmt.Printf("%s:\n", target)
		}
		if err := a.lsOne(ctx, f, target, *long); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) lsOne(ctx context.Context, f *fsops.Formatter, dir fsops.Entry, long bool) error {
	if long {
		return f.Long(ctx, dir)
	}
	return f.Short(ctx, dir)
}

func (a *app) lsRecursive(ctx context.Context, f *fsops.Formatter, root fsops.Entry, long bool) error {
	return fsops.Walk(ctx, root, func(e fsops.Entry) error {
		isDir, err := e.IsDir(ctx)
		if err != nil {
			return err
		}
		if !isDir {
			return nil
		}
		fmt.Printf("%s:\n", e)
		return a.lsOne(ctx, f, e, long)
	})
}

func (a *app) cmdCat(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("cat: a path is required")
	}
	for _, arg := range args {
		data, err := a.remotePath(arg).ReadBytes(ctx)
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
	}
	return nil
}

func (a *app) cmdMkdir(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mkdir", flag.ExitOnError)
	parents := fs.Bool("p", false, "create missing parents, ignore existing")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("mkdir: a path is required")
	}
	for _, arg := range fs.Args() {
		opts := mppath.MkdirOptions{Parents: *parents, ExistOK: *parents}
		if err := a.remotePath(arg).Mkdir(ctx, opts); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) cmdRmdir(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("rmdir: a path is required")
	}
	for _, arg := range args {
		if err := a.remotePath(arg).Rmdir(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) cmdRm(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	recursive := fs.Bool("r", false, "remove directories recursively")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("rm: a path is required")
	}
	for _, arg := range fs.Args() {
		if err := fsops.Remove(ctx, fsops.NewRemote(a.remotePath(arg)), *recursive); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) cmdTouch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("touch: a path is required")
	}
	for _, arg := range args {
		if err := a.remotePath(arg).Touch(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) cmdCd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("cd: one path is required")
	}
	return a.remotePath(args[0]).Chdir(ctx)
}

func (a *app) cmdPwd(ctx context.Context, args []string) error {
	cwd, err := mppath.Cwd(ctx, a.board)
	if err != nil {
		return err
	}
	fmt.Println(cwd)
	return nil
}

func (a *app) cmdCp(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("cp: source and destination are required")
	}
	srcs := make([]fsops.Entry, len(args)-1)
	for i, arg := range args[:len(args)-1] {
		srcs[i] = a.entry(arg)
	}
	return fsops.Copy(ctx, srcs, a.entry(args[len(args)-1]))
}

func (a *app) cmdMv(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("mv: source and destination are required")
	}
	return fsops.Move(ctx, a.entry(args[0]), a.entry(args[1]))
}

func (a *app) cmdGet(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("get: usage: get <remote> [local]")
	}
	src := fsops.NewRemote(a.remotePath(args[0]))
	local := src.Name()
	if len(args) == 2 {
		local = args[1]
	}
	return fsops.CopyPath(ctx, src, fsops.NewLocal(local))
}

func (a *app) cmdPut(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("put: usage: put <local> [remote]")
	}
	src := fsops.NewLocal(args[0])
	remote := filepath.Base(args[0])
	if len(args) == 2 {
		remote = strings.TrimPrefix(args[1], ":")
	}
	return fsops.CopyPath(ctx, src, fsops.NewRemote(mppath.New(a.board, remote)))
}

func (a *app) cmdClock(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clock", flag.ExitOnError)
	set := fs.Bool("set", false, "push host time to the board when drift exceeds tolerance")
	utc := fs.Bool("utc", false, "set the board clock to UTC instead of local time")
	fs.Parse(args)

	drift, err := a.board.CheckClock(ctx, *set, *utc)
	if err != nil {
		return err
	}
	fmt.Printf("board clock drift: %v\n", drift)
	return nil
}

func (a *app) cmdRepl(ctx context.Context, args []string) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("repl: stdin is not a terminal")
	}
	fmt.Println("attached to board, ctrl-] to detach")
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, oldState)
	// Wake the prompt so the user sees something immediately.
	if err := a.port.WriteBytes([]byte("\r")); err != nil {
		return err
	}
	return a.port.Passthrough(os.Stdin, os.Stdout)
}

func (a *app) cmdStatus(ctx context.Context, args []string) error {
	fmt.Printf("port: %s\n", a.port.Name())
	fmt.Printf("short name: %s\n", transport.DeviceShortName(a.port.Name()))

	cwd, err := mppath.Cwd(ctx, a.board)
	if err != nil {
		return err
	}
	fmt.Printf("working directory: %s\n", cwd)

	drift, err := a.board.ClockOffset(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("clock drift: %v\n", drift)
	return nil
}

func cmdDevs() {
	ports, err := serialport.ListPorts()
	if err != nil {
		fatal(err)
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return
	}
	for _, p := range ports {
		fmt.Printf("%-20s %s\n", p, transport.DeviceShortName(p))
	}
}
