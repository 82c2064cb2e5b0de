package module

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/modular"
	"github.com/GoCodeAlone/modular/modules/eventbus/v2"

	"github.com/ezbook/autoserver/notify"
	"github.com/ezbook/autoserver/route"
)

// NotifierServiceName is the service key for the bill notifier.
const NotifierServiceName = "bill.notifier"

// NotifierModule raises the companion's floating window whenever the analyze
// path persists a bill. Failures are logged and swallowed; notification is
// never part of a request's outcome.
type NotifierModule struct {
	notifier notify.Notifier
	app      modular.Application

	mu  sync.Mutex
	sub eventbus.Subscription
}

// NewNotifierModule creates the module around a notifier implementation.
func NewNotifierModule(n notify.Notifier) *NotifierModule {
	return &NotifierModule{notifier: n}
}

// Name returns the module name.
func (m *NotifierModule) Name() string { return "notifier" }

// Init registers the module as a service.
func (m *NotifierModule) Init(app modular.Application) error {
	m.app = app
	return app.RegisterService(NotifierServiceName, m)
}

// ProvidesServices declares the notifier service.
func (m *NotifierModule) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: NotifierServiceName, Description: "analyzed-bill notifier", Instance: m},
	}
}

// RequiresServices declares the event bus dependency.
func (m *NotifierModule) RequiresServices() []modular.ServiceDependency {
	return []modular.ServiceDependency{
		{Name: eventbus.ServiceName, Required: true},
	}
}

// Start subscribes to analyzed-bill events.
func (m *NotifierModule) Start(ctx context.Context) error {
	var eb *eventbus.EventBusModule
	if err := m.app.GetService(eventbus.ServiceName, &eb); err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	sub, err := eb.Subscribe(ctx, route.TopicBillAnalyzed, m.onBillAnalyzed)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", route.TopicBillAnalyzed, err)
	}
	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
	return nil
}

// Stop cancels the subscription.
func (m *NotifierModule) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub == nil {
		return nil
	}
	err := m.sub.Cancel()
	m.sub = nil
	return err
}

// Notifier returns the wrapped notifier.
func (m *NotifierModule) Notifier() notify.Notifier { return m.notifier }

func (m *NotifierModule) onBillAnalyzed(_ context.Context, ev eventbus.Event) error {
	var payload map[string]any
	_ = ev.DataAs(&payload)
	id := billID(payload)
	if id == 0 {
		m.app.Logger().Warn("bill event without id", "topic", ev.Type())
		return nil
	}
	if err := m.notifier.Notify(id); err != nil {
		m.app.Logger().Error("floating window launch failed", "bill", id, "error", err)
	}
	return nil
}

// billID digs the bill id out of the event payload.
func billID(payload any) int64 {
	row, ok := payload.(map[string]any)
	if !ok {
		return 0
	}
	switch v := row["id"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
