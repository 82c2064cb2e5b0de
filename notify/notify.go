// Package notify raises the companion's floating window when a freshly
// analyzed bill is ready for review.
package notify

import (
	"fmt"
	"os/exec"
)

// Notifier announces a persisted bill by id.
type Notifier interface {
	Notify(id int64) error
}

// CommandRunner executes one external command. Swapped out in tests.
type CommandRunner func(name string, args ...string) error

// AmStart launches the companion UI through the Android activity manager.
type AmStart struct {
	run CommandRunner
}

// Option configures an AmStart.
type Option func(*AmStart)

// WithRunner substitutes the command runner.
func WithRunner(run CommandRunner) Option {
	return func(n *AmStart) {
		if run != nil {
			n.run = run
		}
	}
}

// NewAmStart creates the default notifier.
func NewAmStart(opts ...Option) *AmStart {
	n := &AmStart{
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify fires the floating-window intent for the bill. Errors are the
// caller's to log and swallow; the analyze reply never depends on this.
func (n *AmStart) Notify(id int64) error {
	return n.run("am", "start",
		"-a", "net.ankio.auto.ACTION_SHOW_FLOATING_WINDOW",
		"-d", fmt.Sprintf("autoaccounting://bill?id=%d", id),
		"--ez", "android.intent.extra.NO_ANIMATION", "true",
		"-f", "0x10000000")
}
