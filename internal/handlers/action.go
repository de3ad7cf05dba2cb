// Package handlers implements the per-step-type executors the engine
// dispatches to: connector-backed actions and model-backed AI
// processing. Transforms are handled by the transform engine directly.
package handlers

import (
	"context"
	"log/slog"

	"github.com/weftlabs/weft/internal/plugins"
	"github.com/weftlabs/weft/pkg/schema"
)

// ActionHandler executes action steps through the connector registry.
type ActionHandler struct {
	registry *plugins.Registry
	logger   *slog.Logger
}

// NewActionHandler creates an ActionHandler.
func NewActionHandler(registry *plugins.Registry, logger *slog.Logger) *ActionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionHandler{registry: registry, logger: logger}
}

// Execute runs one connector action with interpolated params. A soft
// connector failure (success false) becomes a step failure carrying
// the connector's error message.
func (h *ActionHandler) Execute(ctx context.Context, spec *schema.ActionSpec, params map[string]any) (any, error) {
	if spec == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "action spec is nil")
	}

	result, err := h.registry.Execute(ctx, spec.Plugin, spec.Action, params)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
			"plugin %q action %q failed: %s", spec.Plugin, spec.Action, result.Error)
	}

	h.logger.Debug("action executed",
		slog.String("plugin", spec.Plugin),
		slog.String("action", spec.Action))
	return result.Data, nil
}
