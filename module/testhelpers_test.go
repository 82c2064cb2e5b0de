package module

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/modular"
)

// mockApplication implements modular.Application for wiring tests that drive
// module lifecycles by hand.
type mockApplication struct {
	services map[string]any
	sections map[string]modular.ConfigProvider
	modules  map[string]modular.Module
	logs     *recordingLogger
}

func newMockApplication() *mockApplication {
	return &mockApplication{
		services: make(map[string]any),
		sections: make(map[string]modular.ConfigProvider),
		modules:  make(map[string]modular.Module),
		logs:     &recordingLogger{},
	}
}

func (a *mockApplication) RegisterService(name string, service any) error {
	a.services[name] = service
	return nil
}

func (a *mockApplication) GetService(name string, out any) error {
	service, exists := a.services[name]
	if !exists {
		return fmt.Errorf("service %s not found", name)
	}

	outVal := reflect.ValueOf(out)
	if outVal.Kind() != reflect.Ptr {
		return fmt.Errorf("out parameter must be a pointer")
	}

	outElem := outVal.Elem()
	if outElem.Kind() == reflect.Interface {
		outElem.Set(reflect.ValueOf(service))
		return nil
	}

	svcVal := reflect.ValueOf(service)
	if !svcVal.Type().AssignableTo(outElem.Type()) {
		return fmt.Errorf("service type %s not assignable to output type %s",
			svcVal.Type(), outElem.Type())
	}

	outElem.Set(svcVal)
	return nil
}

func (a *mockApplication) ConfigProvider() modular.ConfigProvider {
	return modular.NewStdConfigProvider(nil)
}

func (a *mockApplication) GetConfigSection(section string) (modular.ConfigProvider, error) {
	if p, ok := a.sections[section]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("config section %s not found", section)
}

func (a *mockApplication) ConfigSections() map[string]modular.ConfigProvider {
	return a.sections
}

func (a *mockApplication) RegisterConfigSection(name string, provider modular.ConfigProvider) {
	a.sections[name] = provider
}

func (a *mockApplication) Logger() modular.Logger { return a.logs }

func (a *mockApplication) SetLogger(l modular.Logger) {
	if rl, ok := l.(*recordingLogger); ok {
		a.logs = rl
	}
}

func (a *mockApplication) RegisterModule(mod modular.Module) {
	a.modules[mod.Name()] = mod
}

func (a *mockApplication) Init() error  { return nil }
func (a *mockApplication) Start() error { return nil }
func (a *mockApplication) Stop() error  { return nil }
func (a *mockApplication) Run() error   { return nil }

func (a *mockApplication) IsVerboseConfig() bool   { return false }
func (a *mockApplication) SetVerboseConfig(v bool) {}

func (a *mockApplication) SvcRegistry() modular.ServiceRegistry { return a.services }

func (a *mockApplication) GetServicesByModule(moduleName string) []string { return nil }

func (a *mockApplication) GetServiceEntry(serviceName string) (*modular.ServiceRegistryEntry, bool) {
	return nil, false
}

func (a *mockApplication) GetServicesByInterface(interfaceType reflect.Type) []*modular.ServiceRegistryEntry {
	return nil
}

func (a *mockApplication) StartTime() time.Time { return time.Time{} }

func (a *mockApplication) GetModule(name string) modular.Module { return a.modules[name] }

func (a *mockApplication) GetAllModules() map[string]modular.Module {
	out := make(map[string]modular.Module, len(a.modules))
	for name, mod := range a.modules {
		out[name] = mod
	}
	return out
}

func (a *mockApplication) OnConfigLoaded(hook func(app modular.Application) error) {}

// recordingLogger keeps every line for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprint(append([]any{msg}, args...)...))
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record(msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record(msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record(msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record(msg, args) }
func (l *recordingLogger) Fatal(msg string, args ...any) { l.record(msg, args) }

func (l *recordingLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// capturingNotifier records notified bill ids in place of launching the UI.
type capturingNotifier struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (c *capturingNotifier) Notify(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	return c.err
}

func (c *capturingNotifier) seen() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.ids))
	copy(out, c.ids)
	return out
}
