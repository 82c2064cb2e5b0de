package module

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/modular"

	"github.com/ezbook/autoserver/token"
)

// TokenServiceName is the service key for the credential manager.
const TokenServiceName = "token.manager"

// TokenModule bootstraps companion credentials at startup and keeps them
// published while apps.txt changes underneath the running process.
type TokenModule struct {
	workspace string
	opts      []token.Option
	app       modular.Application

	mu      sync.Mutex
	manager *token.Manager
	watcher *token.Watcher
}

// NewTokenModule creates the token module. Options pass through to the
// manager; tests use them to redirect the publish root.
func NewTokenModule(workspace string, opts ...token.Option) *TokenModule {
	return &TokenModule{workspace: workspace, opts: opts}
}

// Name returns the module name.
func (m *TokenModule) Name() string { return "token" }

// Init registers the module as a service.
func (m *TokenModule) Init(app modular.Application) error {
	m.app = app
	return app.RegisterService(TokenServiceName, m)
}

// ProvidesServices declares the token service.
func (m *TokenModule) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: TokenServiceName, Description: "companion credential manager", Instance: m},
	}
}

// RequiresServices declares the storage dependency.
func (m *TokenModule) RequiresServices() []modular.ServiceDependency {
	return []modular.ServiceDependency{
		{Name: StorageServiceName, Required: true},
	}
}

// Start bootstraps credentials and begins watching apps.txt.
func (m *TokenModule) Start(ctx context.Context) error {
	var sm *StorageModule
	if err := m.app.GetService(StorageServiceName, &sm); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	eng, err := sm.Open()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.manager = token.NewManager(m.workspace, eng, m.app.Logger(), m.opts...)
	if err := m.manager.Bootstrap(); err != nil {
		return fmt.Errorf("token bootstrap: %w", err)
	}

	m.watcher = token.NewWatcher(m.manager)
	if err := m.watcher.Start(); err != nil {
		// Tokens still work without live reload.
		m.app.Logger().Warn("apps.txt watcher unavailable", "error", err)
		m.watcher = nil
	}
	return nil
}

// Stop halts the apps.txt watcher.
func (m *TokenModule) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher == nil {
		return nil
	}
	err := m.watcher.Stop()
	m.watcher = nil
	return err
}

// Manager returns the credential manager, nil before Start.
func (m *TokenModule) Manager() *token.Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manager
}
