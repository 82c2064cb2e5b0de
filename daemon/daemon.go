// Package daemon is the supervising entry point: it resolves the workspace,
// runs the worker in the foreground, or detaches a monitor process that
// restarts the worker whenever it dies for a recoverable reason.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ezbook/autoserver/config"
	"github.com/ezbook/autoserver/logging"
	"github.com/ezbook/autoserver/module"
	"github.com/ezbook/autoserver/server"
)

// Exit codes shared between the CLI, the worker and the monitor. The monitor
// restarts a dead worker unless its code is one of the fatal ones.
const (
	ExitOK          = 0
	ExitUsage       = 1
	ExitNoWorkspace = 2
	ExitSpawn       = 3
	ExitLogTooLarge = 97
	ExitBind        = 98
	ExitConnLimit   = 99
)

// Workspace file names owned by the supervisor.
const (
	PidFileName = "daemon.pid"
	LogFileName = "daemon.log"
)

// monitorCommand is the hidden subcommand Start detaches. It is not part of
// the CLI surface.
const monitorCommand = "__monitor"

const usageText = "usage: autoserver <foreground|start|stop|restart|status> [workspace]"

// stopTimeout bounds both the worker drain in Foreground and the wait for a
// signalled child or monitor to go away.
const stopTimeout = 5 * time.Second

// Run is the CLI entry. It resolves the workspace and dispatches the
// command, returning the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(stderr, usageText)
		return ExitUsage
	}
	command := args[0]
	arg := ""
	if len(args) == 2 {
		arg = args[1]
	}

	workspace, err := config.ResolveWorkspace(arg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitNoWorkspace
	}

	switch command {
	case "foreground":
		return Foreground(workspace)
	case "start":
		return Start(workspace, stdout, stderr)
	case "stop":
		return Stop(workspace, stdout)
	case "restart":
		return Restart(workspace, stdout, stderr)
	case "status":
		return Status(workspace, stdout)
	case monitorCommand:
		return monitor(workspace)
	default:
		fmt.Fprintln(stderr, usageText)
		return ExitUsage
	}
}

// Foreground runs the worker in this process until a termination signal
// arrives or the server reports a fatal condition. The returned code is what
// the monitor inspects to decide between restart and give-up.
func Foreground(workspace string) int {
	cfg, err := config.Load(workspace)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	sink := logging.New(cfg.Debug)
	defer sink.Close()

	app, srv := module.BuildApp(workspace, cfg, sink)
	if err := app.Init(); err != nil {
		sink.Error("init failed", "error", err)
		return exitCode(err)
	}
	if err := app.Start(); err != nil {
		sink.Error("start failed", "error", err)
		stopApp(app, sink)
		return exitCode(err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	code := ExitOK
	select {
	case sig := <-sigCh:
		sink.Info("shutting down", "signal", sig)
	case err := <-srv.Fatal():
		sink.Error("server died", "error", err)
		code = exitCode(err)
	}

	stopApp(app, sink)
	return code
}

func stopApp(app interface{ Stop() error }, sink *logging.Sink) {
	done := make(chan struct{})
	go func() {
		if err := app.Stop(); err != nil {
			sink.Error("stop failed", "error", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		sink.Error("stop timed out")
	}
}

// exitCode maps a worker error to the exit code contract.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, server.ErrBind):
		return ExitBind
	case errors.Is(err, server.ErrTooManyConnections):
		return ExitConnLimit
	default:
		return ExitUsage
	}
}

// isFatalExit reports whether a worker exit code must not be retried:
// missing workspace, oversized log, unbindable port and the connection cap
// all need operator intervention before a restart can succeed.
func isFatalExit(code int) bool {
	switch code {
	case ExitNoWorkspace, ExitLogTooLarge, ExitBind, ExitConnLimit:
		return true
	}
	return false
}
