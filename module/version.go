package module

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/modular"

	"github.com/ezbook/autoserver/version"
)

// VersionServiceName is the service key for the version manager.
const VersionServiceName = "version.manager"

// VersionModule loads the installed version string at startup so logins can
// detect the installation being replaced underneath us.
type VersionModule struct {
	workspace string

	mu      sync.Mutex
	manager *version.Manager
}

// NewVersionModule creates the version module for a workspace.
func NewVersionModule(workspace string) *VersionModule {
	return &VersionModule{workspace: workspace}
}

// Name returns the module name.
func (m *VersionModule) Name() string { return "version" }

// Init registers the module as a service.
func (m *VersionModule) Init(app modular.Application) error {
	return app.RegisterService(VersionServiceName, m)
}

// ProvidesServices declares the version service.
func (m *VersionModule) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: VersionServiceName, Description: "installed version tracker", Instance: m},
	}
}

// RequiresServices returns no dependencies.
func (m *VersionModule) RequiresServices() []modular.ServiceDependency { return nil }

// Start reads version.txt, seeding it on a fresh workspace.
func (m *VersionModule) Start(ctx context.Context) error {
	mgr, err := version.Load(m.workspace)
	if err != nil {
		return fmt.Errorf("load version: %w", err)
	}
	m.mu.Lock()
	m.manager = mgr
	m.mu.Unlock()
	return nil
}

// Manager returns the version manager, nil before Start.
func (m *VersionModule) Manager() *version.Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manager
}
