package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/weftlabs/weft/internal/diagram"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/pkg/schema"
)

// handleCompile lowers an automation IR into a workflow and stores it.
func (s *WeftServer) handleCompile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	irRaw := mcp.ParseStringMap(req, "ir", nil)
	if irRaw == nil {
		return mcp.NewToolResultError("ir is required"), nil
	}

	irBytes, err := json.Marshal(irRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid ir: %v", err)), nil
	}
	var ir schema.AutomationIR
	if err := json.Unmarshal(irBytes, &ir); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid ir: %v", err)), nil
	}

	result, err := s.compiler.Compile(ctx, &ir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("compile failed: %v", err)), nil
	}

	if result.Succeeded() && req.GetString("save", "true") != "false" {
		now := time.Now().UTC()
		stored := &store.StoredWorkflow{
			Name:        result.Workflow.Name,
			Description: result.Workflow.Description,
			Definition:  *result.Workflow,
			IR:          irBytes,
			Confidence:  result.Confidence,
			Schedule:    result.Workflow.Schedule,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.SaveWorkflow(ctx, stored); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("compiled but failed to store workflow: %v", err)), nil
		}
		if result.Workflow.Schedule != "" {
			if err := s.registerSchedule(ctx, result.Workflow.Name, result.Workflow.Schedule); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("compiled but failed to register schedule: %v", err)), nil
			}
		}
	}

	return marshalResult(result)
}

// handleRun executes a stored workflow synchronously.
func (s *WeftServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	inputs := mcp.ParseStringMap(req, "inputs", nil)

	stored, err := s.store.GetWorkflow(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
	}

	run, err := s.runner.Run(ctx, &stored.Definition, inputs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"run_id":   run.ID,
		"workflow": run.WorkflowName,
		"status":   run.Status,
		"output":   run.Output,
		"error":    run.Error,
	})
}

// handleStatus returns the run record plus its per-step states.
func (s *WeftServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
	}
	steps, err := s.store.ListStepStates(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("step state lookup failed: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"run":   run,
		"steps": steps,
	})
}

// handleQuery lists workflows, runs, or events based on filters.
func (s *WeftServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, filter)
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

func (s *WeftServer) queryWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	wf := store.WorkflowFilter{Limit: extractInt(filter, "limit", 50)}
	if prefix, ok := filter["name_prefix"].(string); ok {
		wf.NamePrefix = prefix
	}

	workflows, err := s.store.ListWorkflows(ctx, wf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

func (s *WeftServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{Limit: extractInt(filter, "limit", 50)}
	if workflow, ok := filter["workflow"].(string); ok {
		rf.WorkflowName = workflow
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *WeftServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runID, _ := filter["run_id"].(string)
	eventType, _ := filter["event_type"].(string)

	if eventType != "" {
		ef := store.EventFilter{
			RunID: runID,
			Limit: extractInt(filter, "limit", 100),
		}
		if since, ok := filter["since"].(string); ok && since != "" {
			if t, err := time.Parse(time.RFC3339, since); err == nil {
				ef.Since = &t
			}
		}
		events, err := s.store.GetEventsByType(ctx, eventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	if runID == "" {
		return mcp.NewToolResultError("event query requires 'run_id' or 'event_type' in filter"), nil
	}
	events, err := s.store.GetEvents(ctx, runID, int64(extractInt(filter, "since_sequence", 0)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// handleSchedule manages cron schedules.
func (s *WeftServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	switch action {
	case "create":
		workflow := req.GetString("workflow", "")
		cronExpr := req.GetString("cron", "")
		if workflow == "" || cronExpr == "" {
			return mcp.NewToolResultError("create requires 'workflow' and 'cron'"), nil
		}
		if _, err := s.store.GetWorkflow(ctx, workflow); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
		}
		next, err := s.scheduler.NextRun(cronExpr, time.Now().UTC())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", err)), nil
		}
		id := uuid.New().String()
		if err := s.store.CreateSchedule(ctx, &schema.Schedule{
			ID:           id,
			WorkflowName: workflow,
			Cron:         cronExpr,
			Enabled:      true,
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create schedule: %v", err)), nil
		}
		return marshalResult(map[string]any{"schedule_id": id, "next_run": next})

	case "list":
		schedules, err := s.store.ListSchedules(ctx, false)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"schedules": schedules})

	case "enable", "disable", "delete":
		id := req.GetString("schedule_id", "")
		if id == "" {
			return mcp.NewToolResultError(fmt.Sprintf("%s requires 'schedule_id'", action)), nil
		}
		if action == "delete" {
			if err := s.store.DeleteSchedule(ctx, id); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", err)), nil
			}
			return marshalResult(map[string]any{"deleted": id})
		}
		enabled := action == "enable"
		if err := s.store.UpdateSchedule(ctx, id, store.ScheduleUpdate{Enabled: &enabled}); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("update failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"schedule_id": id, "enabled": enabled})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

// handleDiagram renders a stored workflow's step graph.
func (s *WeftServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}

	stored, err := s.store.GetWorkflow(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
	}

	var states []*schema.StepState
	if runID := req.GetString("run_id", ""); runID != "" {
		if ss, err := s.store.ListStepStates(ctx, runID); err == nil {
			states = ss
		}
	}

	model, err := diagram.Build(&stored.Definition, states)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		return mcp.NewToolResultError("format must be ascii or mermaid"), nil
	}
}

// registerSchedule upserts the schedule bound to a compiled workflow's
// cron expression. One workflow keeps at most one compiler-registered
// schedule.
func (s *WeftServer) registerSchedule(ctx context.Context, workflow, cronExpr string) error {
	if _, err := s.scheduler.NextRun(cronExpr, time.Now().UTC()); err != nil {
		return err
	}
	existing, err := s.store.ListSchedules(ctx, false)
	if err != nil {
		return err
	}
	for _, sched := range existing {
		if sched.WorkflowName == workflow {
			return s.store.UpdateSchedule(ctx, sched.ID, store.ScheduleUpdate{Cron: &cronExpr})
		}
	}
	return s.store.CreateSchedule(ctx, &schema.Schedule{
		ID:           uuid.New().String(),
		WorkflowName: workflow,
		Cron:         cronExpr,
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	})
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
