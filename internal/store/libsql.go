package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/weftlabs/weft/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite
// fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a
// Store. The path should be a file URI, e.g. "file:/path/to/weft.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use
	// QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Compiled workflows ---

func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *StoredWorkflow) error {
	def, err := json.Marshal(wf.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (name, description, definition, ir, confidence, schedule, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   description=excluded.description, definition=excluded.definition,
		   ir=excluded.ir, confidence=excluded.confidence, schedule=excluded.schedule,
		   updated_at=CURRENT_TIMESTAMP`,
		wf.Name, nullStr(wf.Description), string(def), nullRaw(wf.IR),
		wf.Confidence, nullStr(wf.Schedule), timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, name string) (*StoredWorkflow, error) {
	wf := &StoredWorkflow{}
	var desc, schedule, ir sql.NullString
	var defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, description, definition, ir, confidence, schedule, created_at, updated_at
		 FROM workflows WHERE name = ?`, name,
	).Scan(&wf.Name, &desc, &defJSON, &ir, &wf.Confidence, &schedule, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", name)
	}
	if err != nil {
		return nil, err
	}
	wf.Description = desc.String
	wf.Schedule = schedule.String
	wf.IR = rawOrNil(ir)
	if err := json.Unmarshal([]byte(defJSON), &wf.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*StoredWorkflow, error) {
	query := `SELECT name, description, definition, ir, confidence, schedule, created_at, updated_at FROM workflows`
	var args []any
	if filter.NamePrefix != "" {
		query += ` WHERE name LIKE ?`
		args = append(args, filter.NamePrefix+"%")
	}
	query += ` ORDER BY name`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*StoredWorkflow
	for rows.Next() {
		wf := &StoredWorkflow{}
		var desc, schedule, ir sql.NullString
		var defJSON string
		if err := rows.Scan(&wf.Name, &desc, &defJSON, &ir, &wf.Confidence, &schedule, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		wf.Description = desc.String
		wf.Schedule = schedule.String
		wf.IR = rawOrNil(ir)
		if err := json.Unmarshal([]byte(defJSON), &wf.Definition); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", name)
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.Run) error {
	inputs, err := marshalMapOrDefault(run.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	output, err := marshalAny(run.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_name, status, inputs, output, error, created_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowName, string(run.Status), string(inputs), output,
		nullStr(run.Error), timeOrNow(run.CreatedAt), nullTime(run.StartedAt), nullTime(run.FinishedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.Run, error) {
	run := &schema.Run{}
	var status string
	var inputs, output, errMsg sql.NullString
	var startedAt, finishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_name, status, inputs, output, error, created_at, started_at, finished_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.WorkflowName, &status, &inputs, &output, &errMsg,
		&run.CreatedAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	run.Status = schema.RunStatus(status)
	run.Error = errMsg.String
	if inputs.Valid && inputs.String != "" {
		_ = json.Unmarshal([]byte(inputs.String), &run.Inputs)
	}
	if output.Valid && output.String != "" {
		_ = json.Unmarshal([]byte(output.String), &run.Output)
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		output, err := marshalAny(update.Output)
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		sets = append(sets, "output = ?")
		args = append(args, output)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error) {
	var where []string
	var args []any

	if filter.WorkflowName != "" {
		where = append(where, "workflow_name = ?")
		args = append(args, filter.WorkflowName)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, workflow_name, status, inputs, output, error, created_at, started_at, finished_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*schema.Run
	for rows.Next() {
		run := &schema.Run{}
		var status string
		var inputs, output, errMsg sql.NullString
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.WorkflowName, &status, &inputs, &output, &errMsg,
			&run.CreatedAt, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		run.Status = schema.RunStatus(status)
		run.Error = errMsg.String
		if inputs.Valid && inputs.String != "" {
			_ = json.Unmarshal([]byte(inputs.String), &run.Inputs)
		}
		if output.Valid && output.String != "" {
			_ = json.Unmarshal([]byte(output.String), &run.Output)
		}
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *schema.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Next sequence number for this run.
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	data, err := marshalMapOrDefault(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, step_id, event_type, data, sequence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.StepID), event.Type, string(data), seq, timeOrNow(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*schema.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step_id, event_type, data, sequence, created_at
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*schema.Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.StepID != "" {
		where = append(where, "step_id = ?")
		args = append(args, filter.StepID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, run_id, step_id, event_type, data, sequence, created_at FROM events WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*schema.Event, error) {
	var events []*schema.Event
	for rows.Next() {
		e := &schema.Event{}
		var stepID, data sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &stepID, &e.Type, &data, &e.Sequence, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.StepID = stepID.String
		if data.Valid && data.String != "" {
			_ = json.Unmarshal([]byte(data.String), &e.Data)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Step state ---

func (s *LibSQLStore) UpsertStepState(ctx context.Context, state *schema.StepState) error {
	output, err := marshalAny(state.Output)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO step_state (run_id, step_id, status, tier, allocated, attempts, output, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step_id) DO UPDATE SET
		   status=excluded.status, tier=excluded.tier, allocated=excluded.allocated,
		   attempts=excluded.attempts, output=excluded.output, error=excluded.error,
		   started_at=excluded.started_at, finished_at=excluded.finished_at`,
		state.RunID, state.StepID, string(state.Status), nullStr(string(state.Tier)),
		state.Allocated, state.Attempts, output, nullStr(state.Error),
		nullTime(state.StartedAt), nullTime(state.FinishedAt),
	)
	return err
}

func (s *LibSQLStore) GetStepState(ctx context.Context, runID, stepID string) (*schema.StepState, error) {
	st := &schema.StepState{}
	var status string
	var tier, output, errMsg sql.NullString
	var startedAt, finishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, step_id, status, tier, allocated, attempts, output, error, started_at, finished_at
		 FROM step_state WHERE run_id = ? AND step_id = ?`, runID, stepID,
	).Scan(&st.RunID, &st.StepID, &status, &tier, &st.Allocated, &st.Attempts,
		&output, &errMsg, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("step_state", runID+"/"+stepID)
	}
	if err != nil {
		return nil, err
	}
	st.Status = schema.StepStatus(status)
	st.Tier = schema.Tier(tier.String)
	st.Error = errMsg.String
	if output.Valid && output.String != "" {
		_ = json.Unmarshal([]byte(output.String), &st.Output)
	}
	if startedAt.Valid {
		st.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		st.FinishedAt = &finishedAt.Time
	}
	return st, nil
}

func (s *LibSQLStore) ListStepStates(ctx context.Context, runID string) ([]*schema.StepState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_id, status, tier, allocated, attempts, output, error, started_at, finished_at
		 FROM step_state WHERE run_id = ? ORDER BY step_id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*schema.StepState
	for rows.Next() {
		st := &schema.StepState{}
		var status string
		var tier, output, errMsg sql.NullString
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&st.RunID, &st.StepID, &status, &tier, &st.Allocated, &st.Attempts,
			&output, &errMsg, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		st.Status = schema.StepStatus(status)
		st.Tier = schema.Tier(tier.String)
		st.Error = errMsg.String
		if output.Valid && output.String != "" {
			_ = json.Unmarshal([]byte(output.String), &st.Output)
		}
		if startedAt.Valid {
			st.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			st.FinishedAt = &finishedAt.Time
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// --- Token usage ---

func (s *LibSQLStore) RecordTokenUsage(ctx context.Context, usage *schema.TokenUsage, bucket int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage (run_id, step_id, intent, tier, model, bucket, input_tokens, output_tokens, total_tokens, allocated, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.RunID, usage.StepID, usage.Intent, string(usage.Tier), nullStr(usage.Model),
		bucket, usage.InputTokens, usage.OutputTokens, usage.Total(), usage.Allocated,
		timeOrNow(usage.RecordedAt),
	)
	return err
}

// QueryUsageStats returns sample count, mean and standard deviation of total
// token usage for one intent at one tier and complexity bucket. SQLite has no
// stddev aggregate, so the variance is derived from avg(x^2) - avg(x)^2.
func (s *LibSQLStore) QueryUsageStats(ctx context.Context, intent string, tier schema.Tier, bucket int) (*schema.UsageStats, error) {
	var samples int
	var mean, meanSq sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        AVG(CAST(total_tokens AS REAL)),
		        AVG(CAST(total_tokens AS REAL) * CAST(total_tokens AS REAL))
		 FROM token_usage WHERE intent = ? AND tier = ? AND bucket = ?`,
		intent, string(tier), bucket,
	).Scan(&samples, &mean, &meanSq)
	if err != nil {
		return nil, err
	}

	stats := &schema.UsageStats{
		Intent:           intent,
		ComplexityBucket: bucket,
		Samples:          samples,
	}
	if samples > 0 && mean.Valid {
		stats.Mean = mean.Float64
		variance := meanSq.Float64 - mean.Float64*mean.Float64
		if variance > 0 {
			stats.StdDev = math.Sqrt(variance)
		}
	}
	return stats, nil
}

// --- Schedules ---

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sched *schema.Schedule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, workflow_name, cron, enabled, last_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.WorkflowName, sched.Cron, boolToInt(sched.Enabled),
		nullTime(sched.LastRunAt), timeOrNow(sched.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*schema.Schedule, error) {
	sched := &schema.Schedule{}
	var enabled int
	var lastRun sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_name, cron, enabled, last_run_at, created_at
		 FROM schedules WHERE id = ?`, id,
	).Scan(&sched.ID, &sched.WorkflowName, &sched.Cron, &enabled, &lastRun, &sched.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("schedule", id)
	}
	if err != nil {
		return nil, err
	}
	sched.Enabled = enabled != 0
	if lastRun.Valid {
		sched.LastRunAt = &lastRun.Time
	}
	return sched, nil
}

func (s *LibSQLStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.Cron != nil {
		sets = append(sets, "cron = ?")
		args = append(args, *update.Cron)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE schedules SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, enabledOnly bool) ([]*schema.Schedule, error) {
	query := `SELECT id, workflow_name, cron, enabled, last_run_at, created_at FROM schedules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*schema.Schedule
	for rows.Next() {
		sched := &schema.Schedule{}
		var enabled int
		var lastRun sql.NullTime
		if err := rows.Scan(&sched.ID, &sched.WorkflowName, &sched.Cron, &enabled, &lastRun, &sched.CreatedAt); err != nil {
			return nil, err
		}
		sched.Enabled = enabled != 0
		if lastRun.Valid {
			sched.LastRunAt = &lastRun.Time
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.WeftError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

// marshalAny returns a nullable JSON string for arbitrary output values.
func marshalAny(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

var _ Store = (*LibSQLStore)(nil)
