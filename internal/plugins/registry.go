package plugins

import (
	"context"
	"log/slog"
	"sync"

	"github.com/weftlabs/weft/pkg/schema"
)

// Registry routes action executions to registered connectors by plugin
// name. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	logger     *slog.Logger
}

// NewRegistry creates an empty connector registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		connectors: make(map[string]Connector),
		logger:     logger,
	}
}

// Register adds a connector. Re-registering a plugin name replaces the
// previous connector.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.connectors[c.Name()]; ok {
		_ = prev.Close()
		r.logger.Warn("connector replaced", "plugin", c.Name())
	}
	r.connectors[c.Name()] = c
}

// Get returns the connector for a plugin name.
func (r *Registry) Get(plugin string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[plugin]
	return c, ok
}

// Plugins lists registered plugin names.
func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	return names
}

// Execute dispatches one action call to the named plugin.
func (r *Registry) Execute(ctx context.Context, plugin, action string, params map[string]any) (*Result, error) {
	c, ok := r.Get(plugin)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConnectorUnavailable,
			"no connector registered for plugin %q", plugin)
	}
	result, err := c.Execute(ctx, action, params)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProvider,
			"plugin %q action %q: %s", plugin, action, err.Error()).WithCause(err)
	}
	return result, nil
}

// Close shuts down every connector.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, c := range r.connectors {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.connectors, name)
	}
	return firstErr
}
