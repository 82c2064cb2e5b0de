package daemon

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ezbook/autoserver/config"
)

// restartDelay keeps a crash-looping worker from spinning the CPU.
const restartDelay = time.Second

// Start detaches a monitor process and returns. The monitor owns the pid
// file and the worker lifecycle from then on.
func Start(workspace string, stdout, stderr io.Writer) int {
	if pid, ok := readPidFile(workspace); ok && processAlive(pid) {
		fmt.Fprintf(stdout, "already running (pid %d)\n", pid)
		return ExitOK
	}
	removePidFile(workspace)

	cfg, err := config.Load(workspace)
	if err != nil {
		fmt.Fprintln(stderr, err)
	}
	logPath := filepath.Join(workspace, LogFileName)
	if info, err := os.Stat(logPath); err == nil && info.Size() > cfg.LogMaxBytes {
		fmt.Fprintf(stderr, "log file too large: %s (%d bytes)\n", logPath, info.Size())
		return ExitLogTooLarge
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitSpawn
	}
	logFile, err := openLogFile(logPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitSpawn
	}
	defer logFile.Close()

	cmd := exec.Command(exe, monitorCommand, workspace)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(stderr, err)
		return ExitSpawn
	}
	// The monitor rewrites this with the same value once it is up; writing
	// it here closes the window where status sees nothing.
	if err := writePidFile(workspace, cmd.Process.Pid); err != nil {
		fmt.Fprintln(stderr, err)
	}
	_ = cmd.Process.Release()

	fmt.Fprintf(stdout, "started (pid %d)\n", cmd.Process.Pid)
	return ExitOK
}

// Stop signals the monitor's process group and waits for it to go away.
func Stop(workspace string, stdout io.Writer) int {
	pid, ok := readPidFile(workspace)
	if !ok {
		fmt.Fprintln(stdout, "not running")
		return ExitOK
	}
	if !processAlive(pid) {
		removePidFile(workspace)
		fmt.Fprintln(stdout, "not running (stale pid file removed)")
		return ExitOK
	}

	// The monitor is a session leader, so -pid reaches it and the worker in
	// one shot. Fall back to the single process when the group is gone.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	deadline := time.Now().Add(stopTimeout)
	for processAlive(pid) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if processAlive(pid) {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	removePidFile(workspace)
	fmt.Fprintf(stdout, "stopped (pid %d)\n", pid)
	return ExitOK
}

// Restart is stop followed by start.
func Restart(workspace string, stdout, stderr io.Writer) int {
	if code := Stop(workspace, stdout); code != ExitOK {
		return code
	}
	return Start(workspace, stdout, stderr)
}

// Status reports whether the monitor is alive, probing with signal 0.
func Status(workspace string, stdout io.Writer) int {
	if pid, ok := readPidFile(workspace); ok && processAlive(pid) {
		fmt.Fprintf(stdout, "running (pid %d)\n", pid)
		return ExitOK
	}
	fmt.Fprintln(stdout, "stopped")
	return ExitOK
}

// monitor is the detached supervisor loop: spawn the worker, wait on it,
// restart it on recoverable exits. SIGTERM stops everything, SIGHUP rotates
// the log between worker generations.
func monitor(workspace string) int {
	if err := writePidFile(workspace, os.Getpid()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitSpawn
	}
	defer removePidFile(workspace)

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitSpawn
	}
	logPath := filepath.Join(workspace, LogFileName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		logFile, err := openLogFile(logPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return ExitSpawn
		}

		child := exec.Command(exe, "foreground", workspace)
		child.Stdout = logFile
		child.Stderr = logFile
		if err := child.Start(); err != nil {
			logFile.Close()
			fmt.Fprintln(os.Stderr, err)
			return ExitSpawn
		}

		done := make(chan int, 1)
		go func() { done <- waitExitCode(child) }()

		select {
		case code := <-done:
			logFile.Close()
			if isFatalExit(code) {
				fmt.Fprintf(os.Stderr, "worker exited with fatal code %d, giving up\n", code)
				return code
			}
			time.Sleep(restartDelay)
		case sig := <-sigCh:
			stopChild(child, done)
			logFile.Close()
			if sig == syscall.SIGHUP {
				rotateLog(logPath)
				continue
			}
			return ExitOK
		}
	}
}

// stopChild terminates the worker, escalating to SIGKILL when it ignores
// SIGTERM past the drain window.
func stopChild(child *exec.Cmd, done <-chan int) {
	_ = child.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(stopTimeout):
		_ = child.Process.Kill()
		<-done
	}
}

func waitExitCode(child *exec.Cmd) int {
	err := child.Wait()
	if err == nil {
		return ExitOK
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// rotateLog moves the current log aside, replacing any previous rotation.
func rotateLog(logPath string) {
	if err := os.Rename(logPath, logPath+".old"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, err)
	}
}

func openLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func pidFilePath(workspace string) string {
	return filepath.Join(workspace, PidFileName)
}

func writePidFile(workspace string, pid int) error {
	return os.WriteFile(pidFilePath(workspace), []byte(strconv.Itoa(pid)), 0o644)
}

func readPidFile(workspace string) (int, bool) {
	data, err := os.ReadFile(pidFilePath(workspace))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func removePidFile(workspace string) {
	_ = os.Remove(pidFilePath(workspace))
}

// processAlive probes pid with the null signal. EPERM still means alive.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
