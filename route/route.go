// Package route maps request modules to their handlers. A handler is built
// fresh per request from the shared dependency set; all request semantics
// outside the transport framing live here.
package route

import (
	"context"
	"sync"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/ezbook/autoserver/notify"
	"github.com/ezbook/autoserver/sandbox"
	"github.com/ezbook/autoserver/storage"
	"github.com/ezbook/autoserver/token"
	"github.com/ezbook/autoserver/version"
)

// TopicBillAnalyzed carries the id of a freshly persisted bill to whoever
// raises the companion UI.
const TopicBillAnalyzed = "bill.analyzed"

// Handler serves the functions of one module for a single request.
type Handler interface {
	Handle(function string, data map[string]any) any
}

// Factory builds a handler around the shared dependencies.
type Factory func(d *Deps) Handler

// EventPublisher publishes domain events. The eventbus module satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// ScriptMetrics counts sandbox evaluations. The metrics collector satisfies
// it; a nil value disables counting.
type ScriptMetrics interface {
	RecordScriptEvaluation(status string)
}

// Deps carries the collaborators handlers draw on. Notifier is unused by the
// handlers themselves (notification rides the event bus) but travels here so
// alternate wirings can reach it.
type Deps struct {
	Store    *storage.Engine
	Tokens   *token.Manager
	Version  *version.Manager
	Sandbox  *sandbox.Sandbox
	Notifier notify.Notifier
	Events   EventPublisher
	Metrics  ScriptMetrics
	Logger   modular.Logger
	Now      func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Registry is the process-wide module table, bootstrapped once at start.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a Registry with every served module registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("login", func(d *Deps) Handler { return &loginHandler{d: d} })
	r.Register("data", func(d *Deps) Handler { return &dataHandler{crud{d: d, table: "appData"}} })
	r.Register("log", func(d *Deps) Handler { return &logHandler{crud{d: d, table: "log"}} })
	r.Register("bill", func(d *Deps) Handler { return &billHandler{crud{d: d, table: "billInfo"}} })
	r.Register("assets", func(d *Deps) Handler { return &assetsHandler{crud{d: d, table: "assets"}} })
	r.Register("assets_map", func(d *Deps) Handler { return &assetsMapHandler{crud{d: d, table: "assetsMap"}} })
	r.Register("book_name", func(d *Deps) Handler { return &bookNameHandler{crud{d: d, table: "bookName"}} })
	r.Register("setting", func(d *Deps) Handler { return &settingHandler{d: d} })
	r.Register("category", func(d *Deps) Handler { return &categoryHandler{crud{d: d, table: "category"}} })
	r.Register("custom", func(d *Deps) Handler { return &customHandler{crud{d: d, table: "customRule"}} })
	r.Register("rule", func(d *Deps) Handler { return &ruleHandler{crud{d: d, table: "rule"}} })
	r.Register("book_bill", func(d *Deps) Handler { return &bookBillHandler{crud{d: d, table: "bookBill"}} })
	r.Register("js", func(d *Deps) Handler { return &jsHandler{d: d} })
	return r
}

// Register adds or replaces a module factory.
func (r *Registry) Register(module string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[module] = f
}

// New builds a fresh handler for module. The second return reports whether
// the module exists.
func (r *Registry) New(module string, d *Deps) (Handler, bool) {
	r.mu.RLock()
	f, ok := r.factories[module]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(d), true
}
