package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/pkg/schema"
)

// runLauncher starts workflow runs for both the MCP tool surface and
// the cron scheduler.
type runLauncher struct {
	store store.Store
	exec  *engine.Executor
}

// Run executes a compiled workflow under a fresh run ID and blocks
// until the run settles.
func (l *runLauncher) Run(ctx context.Context, wf *schema.Workflow, inputs map[string]any) (*schema.Run, error) {
	return l.exec.Execute(ctx, wf, uuid.New().String(), inputs)
}

// RunWorkflow looks up a stored workflow by name and runs it without
// inputs. Used by the scheduler.
func (l *runLauncher) RunWorkflow(ctx context.Context, workflowName string) (string, error) {
	stored, err := l.store.GetWorkflow(ctx, workflowName)
	if err != nil {
		return "", err
	}
	run, err := l.Run(ctx, &stored.Definition, nil)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}
