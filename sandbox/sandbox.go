// Package sandbox evaluates classification scripts in a throwaway
// JavaScript interpreter. Each evaluation gets a fresh runtime and a single
// host function, print, whose captured value is the evaluation's result.
// Nothing survives between calls.
package sandbox

import (
	"github.com/GoCodeAlone/modular"
	"github.com/dop251/goja"
)

// Sandbox runs scripts. Stateless; safe for concurrent use.
type Sandbox struct {
	logger modular.Logger
}

// New creates a Sandbox.
func New(logger modular.Logger) *Sandbox {
	return &Sandbox{logger: logger}
}

// Run evaluates src and returns the last value handed to print, or the empty
// string when the script never printed or raised. Script exceptions are
// logged, not propagated: a broken rule script must not take a request
// goroutine down.
func (s *Sandbox) Run(src string) string {
	vm := goja.New()

	var captured string
	err := vm.Set("print", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			captured = call.Argument(0).String()
		}
		return goja.Undefined()
	})
	if err != nil {
		s.logger.Error("sandbox: bind print", "error", err)
		return ""
	}

	if _, err := vm.RunString(src); err != nil {
		if ex, ok := err.(*goja.Exception); ok {
			s.logger.Warn("script exception", "error", ex.String())
		} else {
			s.logger.Warn("script failed", "error", err)
		}
		return ""
	}
	return captured
}
