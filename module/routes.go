package module

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/modular"
	"github.com/GoCodeAlone/modular/modules/eventbus/v2"

	"github.com/ezbook/autoserver/route"
)

// RoutesServiceName is the service key for the handler registry.
const RoutesServiceName = "route.registry"

// RoutesModule assembles the handler registry and the shared dependency set
// every request handler is built from.
type RoutesModule struct {
	app modular.Application

	mu       sync.Mutex
	registry *route.Registry
	deps     *route.Deps
}

// NewRoutesModule creates the routes module.
func NewRoutesModule() *RoutesModule {
	return &RoutesModule{}
}

// Name returns the module name.
func (m *RoutesModule) Name() string { return "routes" }

// Init builds the registry and registers the module as a service.
func (m *RoutesModule) Init(app modular.Application) error {
	m.app = app
	m.mu.Lock()
	m.registry = route.NewRegistry()
	m.mu.Unlock()
	return app.RegisterService(RoutesServiceName, m)
}

// ProvidesServices declares the registry service.
func (m *RoutesModule) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: RoutesServiceName, Description: "request handler registry", Instance: m},
	}
}

// RequiresServices declares every collaborator the dependency set needs.
func (m *RoutesModule) RequiresServices() []modular.ServiceDependency {
	return []modular.ServiceDependency{
		{Name: StorageServiceName, Required: true},
		{Name: TokenServiceName, Required: true},
		{Name: VersionServiceName, Required: true},
		{Name: SandboxServiceName, Required: true},
		{Name: MetricsServiceName, Required: true},
		{Name: eventbus.ServiceName, Required: true},
		{Name: NotifierServiceName, Required: false},
	}
}

// Start resolves the collaborators into the shared dependency set.
func (m *RoutesModule) Start(ctx context.Context) error {
	var (
		sm *StorageModule
		tm *TokenModule
		vm *VersionModule
		sb *SandboxModule
		mc *MetricsCollector
		eb *eventbus.EventBusModule
	)
	if err := m.app.GetService(StorageServiceName, &sm); err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	if err := m.app.GetService(TokenServiceName, &tm); err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	if err := m.app.GetService(VersionServiceName, &vm); err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	if err := m.app.GetService(SandboxServiceName, &sb); err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	if err := m.app.GetService(MetricsServiceName, &mc); err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	if err := m.app.GetService(eventbus.ServiceName, &eb); err != nil {
		return fmt.Errorf("routes: %w", err)
	}

	eng, err := sm.Open()
	if err != nil {
		return err
	}

	deps := &route.Deps{
		Store:   eng,
		Tokens:  tm.Manager(),
		Version: vm.Manager(),
		Sandbox: sb.Sandbox(),
		Events:  eb,
		Metrics: mc,
		Logger:  m.app.Logger(),
	}

	// The notifier is optional plumbing on the dependency set.
	var nm *NotifierModule
	if err := m.app.GetService(NotifierServiceName, &nm); err == nil && nm != nil {
		deps.Notifier = nm.Notifier()
	}

	m.mu.Lock()
	m.deps = deps
	m.mu.Unlock()
	return nil
}

// Registry returns the handler registry.
func (m *RoutesModule) Registry() *route.Registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry
}

// Deps returns the shared dependency set, nil before Start.
func (m *RoutesModule) Deps() *route.Deps {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deps
}
