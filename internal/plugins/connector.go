// Package plugins provides the connector layer action steps execute
// against. Every connector speaks the same contract: execute(action,
// params) and get back {success, data, error}. Connectors are looked
// up by plugin name through a Registry.
package plugins

import (
	"context"
)

// Result is the uniform response shape of every connector call.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Connector executes named actions for one plugin.
type Connector interface {
	// Name identifies the plugin this connector serves.
	Name() string
	// Execute runs one action. A failed action returns a Result with
	// Success false and Error set; the error return is reserved for
	// transport-level problems.
	Execute(ctx context.Context, action string, params map[string]any) (*Result, error)
	// Close releases connector resources.
	Close() error
}
