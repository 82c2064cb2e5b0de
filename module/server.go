package module

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/modular"

	"github.com/ezbook/autoserver/server"
)

// ServerServiceName is the service key for the websocket endpoint.
const ServerServiceName = "ws.server"

// ServerModule runs the websocket endpoint. Its fatal channel is the
// supervisor's signal that the process must die with a specific exit code.
type ServerModule struct {
	addr     string
	maxConns int
	app      modular.Application

	mu  sync.Mutex
	srv *server.Server
}

// NewServerModule creates the transport module.
func NewServerModule(addr string, maxConns int) *ServerModule {
	return &ServerModule{addr: addr, maxConns: maxConns}
}

// Name returns the module name.
func (m *ServerModule) Name() string { return "server" }

// Init registers the module as a service.
func (m *ServerModule) Init(app modular.Application) error {
	m.app = app
	return app.RegisterService(ServerServiceName, m)
}

// ProvidesServices declares the server service.
func (m *ServerModule) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: ServerServiceName, Description: "websocket request endpoint", Instance: m},
	}
}

// RequiresServices declares the registry and metrics dependencies.
func (m *ServerModule) RequiresServices() []modular.ServiceDependency {
	return []modular.ServiceDependency{
		{Name: RoutesServiceName, Required: true},
		{Name: MetricsServiceName, Required: true},
	}
}

// Start builds the server and binds the listener. A bind failure propagates
// so startup fails outright.
func (m *ServerModule) Start(ctx context.Context) error {
	var (
		rm *RoutesModule
		mc *MetricsCollector
	)
	if err := m.app.GetService(RoutesServiceName, &rm); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := m.app.GetService(MetricsServiceName, &mc); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	srv := server.New(m.addr, rm.Registry(), rm.Deps(), m.app.Logger(),
		server.WithMaxConnections(m.maxConns),
		server.WithMetrics(mc),
		server.WithMetricsPage(mc.Handler()),
	)
	if err := srv.Start(); err != nil {
		return err
	}

	m.mu.Lock()
	m.srv = srv
	m.mu.Unlock()
	return nil
}

// Stop closes the listener and drains connections.
func (m *ServerModule) Stop(ctx context.Context) error {
	m.mu.Lock()
	srv := m.srv
	m.srv = nil
	m.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Stop(ctx)
}

// Fatal exposes the server's fatal channel. Nil before Start; a nil channel
// never delivers, which is the right behavior in a select.
func (m *ServerModule) Fatal() <-chan error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.srv == nil {
		return nil
	}
	return m.srv.Fatal()
}

// Addr returns the bound listener address, empty before Start.
func (m *ServerModule) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.srv == nil {
		return ""
	}
	return m.srv.Addr()
}
