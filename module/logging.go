package module

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/modular"

	"github.com/ezbook/autoserver/logging"
)

// LoggingServiceName is the service key for the shared log sink.
const LoggingServiceName = "logging.sink"

// LoggingModule joins the process sink and the storage engine: once storage
// is up the sink mirrors its entries into the log table, and the engine
// reports its own failures through the sink.
type LoggingModule struct {
	sink *logging.Sink
	app  modular.Application
}

// NewLoggingModule wraps an already running sink. The sink exists before the
// application because the application itself logs through it.
func NewLoggingModule(sink *logging.Sink) *LoggingModule {
	return &LoggingModule{sink: sink}
}

// Name returns the module name.
func (m *LoggingModule) Name() string { return "logging" }

// Init registers the sink as a service.
func (m *LoggingModule) Init(app modular.Application) error {
	m.app = app
	return app.RegisterService(LoggingServiceName, m.sink)
}

// ProvidesServices declares the sink service.
func (m *LoggingModule) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: LoggingServiceName, Description: "process log sink", Instance: m.sink},
	}
}

// RequiresServices declares the storage dependency.
func (m *LoggingModule) RequiresServices() []modular.ServiceDependency {
	return []modular.ServiceDependency{
		{Name: StorageServiceName, Required: true},
	}
}

// Start attaches the sink and the engine to each other.
func (m *LoggingModule) Start(ctx context.Context) error {
	var sm *StorageModule
	if err := m.app.GetService(StorageServiceName, &sm); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	eng, err := sm.Open()
	if err != nil {
		return err
	}
	eng.SetLogger(m.sink)
	m.sink.AttachStore(eng)
	return nil
}

// Stop drains the sink's database mirror. Storage stops after this module,
// so the drained entries still land.
func (m *LoggingModule) Stop(ctx context.Context) error {
	m.sink.Close()
	return nil
}
