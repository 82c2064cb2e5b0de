package module

import (
	"sync"

	"github.com/GoCodeAlone/modular"

	"github.com/ezbook/autoserver/sandbox"
)

// SandboxServiceName is the service key for the script sandbox.
const SandboxServiceName = "script.sandbox"

// SandboxModule provides the JavaScript evaluator used by the analyze path.
// The sandbox is stateless, so the module has no Start or Stop.
type SandboxModule struct {
	mu sync.Mutex
	sb *sandbox.Sandbox
}

// NewSandboxModule creates the sandbox module.
func NewSandboxModule() *SandboxModule {
	return &SandboxModule{}
}

// Name returns the module name.
func (m *SandboxModule) Name() string { return "sandbox" }

// Init builds the sandbox around the application logger and registers it.
func (m *SandboxModule) Init(app modular.Application) error {
	m.mu.Lock()
	m.sb = sandbox.New(app.Logger())
	m.mu.Unlock()
	return app.RegisterService(SandboxServiceName, m)
}

// ProvidesServices declares the sandbox service.
func (m *SandboxModule) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: SandboxServiceName, Description: "JavaScript rule sandbox", Instance: m},
	}
}

// RequiresServices returns no dependencies.
func (m *SandboxModule) RequiresServices() []modular.ServiceDependency { return nil }

// Sandbox returns the evaluator, nil before Init.
func (m *SandboxModule) Sandbox() *sandbox.Sandbox {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sb
}
