package module

import (
	"github.com/GoCodeAlone/modular"
	"github.com/GoCodeAlone/modular/modules/eventbus/v2"

	"github.com/ezbook/autoserver/config"
	"github.com/ezbook/autoserver/logging"
	"github.com/ezbook/autoserver/notify"
	"github.com/ezbook/autoserver/token"
)

// AppOption adjusts the assembly, mostly for tests.
type AppOption func(*appOptions)

type appOptions struct {
	tokenOpts []token.Option
	notifier  notify.Notifier
}

// WithTokenOptions passes options through to the credential manager.
func WithTokenOptions(opts ...token.Option) AppOption {
	return func(o *appOptions) { o.tokenOpts = append(o.tokenOpts, opts...) }
}

// WithNotifier replaces the am-start notifier.
func WithNotifier(n notify.Notifier) AppOption {
	return func(o *appOptions) {
		if n != nil {
			o.notifier = n
		}
	}
}

// BuildApp assembles the application for one workspace: storage, log mirror,
// credentials, version, sandbox, event bus, metrics, notifier, routes and
// the websocket endpoint. The caller drives Init, Start and Stop and watches
// the returned server module for fatal errors.
func BuildApp(workspace string, cfg config.Config, sink *logging.Sink, opts ...AppOption) (modular.Application, *ServerModule) {
	o := &appOptions{notifier: notify.NewAmStart()}
	for _, opt := range opts {
		opt(o)
	}

	app := modular.NewStdApplication(modular.NewStdConfigProvider(nil), sink)
	srv := NewServerModule(cfg.Addr(), cfg.MaxConnections)

	app.RegisterModule(NewStorageModule(workspace))
	app.RegisterModule(NewLoggingModule(sink))
	app.RegisterModule(NewTokenModule(workspace, o.tokenOpts...))
	app.RegisterModule(NewVersionModule(workspace))
	app.RegisterModule(NewSandboxModule())
	app.RegisterModule(eventbus.NewModule())
	app.RegisterModule(NewMetricsCollector())
	app.RegisterModule(NewNotifierModule(o.notifier))
	app.RegisterModule(NewRoutesModule())
	app.RegisterModule(srv)

	return app, srv
}
