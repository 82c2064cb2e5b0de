// Package module adapts the daemon's components to the modular framework:
// one module per component, each registered as a service and driven through
// the framework's Init/Start/Stop lifecycle. Assembly lives in BuildApp.
package module

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/GoCodeAlone/modular"

	"github.com/ezbook/autoserver/storage"
)

// StorageServiceName is the service key for the storage module.
const StorageServiceName = "storage.engine"

// StorageModule owns the SQLite engine backing every request handler.
type StorageModule struct {
	workspace string

	mu     sync.Mutex
	engine *storage.Engine
}

// NewStorageModule creates the storage module for a workspace.
func NewStorageModule(workspace string) *StorageModule {
	return &StorageModule{workspace: workspace}
}

// Name returns the module name.
func (m *StorageModule) Name() string { return "storage" }

// Init registers the module as a service.
func (m *StorageModule) Init(app modular.Application) error {
	return app.RegisterService(StorageServiceName, m)
}

// ProvidesServices declares the storage service for dependency ordering.
func (m *StorageModule) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: StorageServiceName, Description: "SQLite storage engine", Instance: m},
	}
}

// RequiresServices returns no dependencies.
func (m *StorageModule) RequiresServices() []modular.ServiceDependency { return nil }

// Start opens the database during application startup.
func (m *StorageModule) Start(ctx context.Context) error {
	_, err := m.Open()
	return err
}

// Stop closes the database during shutdown.
func (m *StorageModule) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine == nil {
		return nil
	}
	err := m.engine.Close()
	m.engine = nil
	return err
}

// Open opens the engine on first call; later calls return the same instance.
// Modules that need the engine during their own Start call this rather than
// Engine, so they do not depend on start ordering.
func (m *StorageModule) Open() (*storage.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine != nil {
		return m.engine, nil
	}
	e, err := storage.Open(filepath.Join(m.workspace, storage.FileName))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	m.engine = e
	return e, nil
}

// Engine returns the open engine, nil before Start.
func (m *StorageModule) Engine() *storage.Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine
}
