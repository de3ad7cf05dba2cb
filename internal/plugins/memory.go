package plugins

import (
	"context"
	"fmt"
	"sync"
)

// MemoryConnector is an in-process connector backed by registered Go
// handlers. It serves the built-in system plugin (notify, alert) and
// scripted connectors in tests.
type MemoryConnector struct {
	name string

	mu       sync.Mutex
	handlers map[string]func(ctx context.Context, params map[string]any) (any, error)
	calls    []Call
}

// Call records one action invocation for inspection.
type Call struct {
	Action string
	Params map[string]any
}

// NewMemoryConnector creates a connector with no actions registered.
func NewMemoryConnector(name string) *MemoryConnector {
	return &MemoryConnector{
		name:     name,
		handlers: make(map[string]func(ctx context.Context, params map[string]any) (any, error)),
	}
}

// Handle registers an action handler.
func (m *MemoryConnector) Handle(action string, fn func(ctx context.Context, params map[string]any) (any, error)) *MemoryConnector {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[action] = fn
	return m
}

// Name implements Connector.
func (m *MemoryConnector) Name() string { return m.name }

// Execute implements Connector.
func (m *MemoryConnector) Execute(ctx context.Context, action string, params map[string]any) (*Result, error) {
	m.mu.Lock()
	fn, ok := m.handlers[action]
	m.calls = append(m.calls, Call{Action: action, Params: params})
	m.mu.Unlock()

	if !ok {
		return &Result{Success: false, Error: fmt.Sprintf("unknown action %q", action)}, nil
	}
	data, err := fn(ctx, params)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return &Result{Success: true, Data: data}, nil
}

// Close implements Connector.
func (m *MemoryConnector) Close() error { return nil }

// Calls returns the recorded invocations.
func (m *MemoryConnector) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// NewSystemConnector builds the built-in system plugin used by compiled
// edge-case steps: notify and alert log through the given function.
func NewSystemConnector(log func(action string, params map[string]any)) *MemoryConnector {
	c := NewMemoryConnector("system")
	c.Handle("notify", func(_ context.Context, params map[string]any) (any, error) {
		if log != nil {
			log("notify", params)
		}
		return map[string]any{"notified": true}, nil
	})
	c.Handle("alert", func(_ context.Context, params map[string]any) (any, error) {
		if log != nil {
			log("alert", params)
		}
		return map[string]any{"alerted": true}, nil
	})
	return c
}
