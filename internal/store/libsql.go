package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/solweave/chainflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/chainflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	graph, err := json.Marshal(run.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	inputs, err := marshalMapOrNil(run.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline_name, graph, status, inputs, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullStr(run.PipelineName), string(graph), string(run.Status), inputs,
		timeOrNow(run.CreatedAt), timeOrNow(run.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var pipeline, inputs, output, errJSON sql.NullString
	var graph string
	var started, completed sql.NullTime
	var status string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline_name, graph, status, inputs, output, error,
		        created_at, started_at, completed_at, updated_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &pipeline, &graph, &status, &inputs, &output, &errJSON,
		&run.CreatedAt, &started, &completed, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}

	run.PipelineName = pipeline.String
	run.Status = schema.RunStatus(status)
	if err := json.Unmarshal([]byte(graph), &run.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph for run %s: %w", id, err)
	}
	if inputs.Valid && inputs.String != "" {
		if err := json.Unmarshal([]byte(inputs.String), &run.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs for run %s: %w", id, err)
		}
	}
	run.Output = jsonOrNil(output)
	run.Error = jsonOrNil(errJSON)
	if started.Valid {
		run.StartedAt = &started.Time
	}
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET `+joinSets(sets)+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT id FROM runs WHERE 1=1`
	args := []any{}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.PipelineName != "" {
		query += ` AND pipeline_name = ?`
		args = append(args, filter.PipelineName)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// --- Event log ---

// AppendEvent appends an event with a monotonically increasing per-run sequence.
// The sequence read and insert happen in one transaction; MaxOpenConns(1)
// serializes writers on the single connection.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, node_id, edge_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeID), nullStr(event.EdgeID), event.Type,
		nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, edge_id, event_type, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID, edgeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &nodeID, &edgeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.EdgeID = edgeID.String
		e.Payload = jsonOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Node states ---

func (s *LibSQLStore) UpsertNodeState(ctx context.Context, state *NodeState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_states (run_id, node_id, status, output, error, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, node_id) DO UPDATE SET
		   status=excluded.status, output=excluded.output, error=excluded.error,
		   started_at=excluded.started_at, completed_at=excluded.completed_at,
		   duration_ms=excluded.duration_ms`,
		state.RunID, state.NodeID, string(state.Status),
		nullRaw(state.Output), nullRaw(state.Error),
		nullTime(state.StartedAt), nullTime(state.CompletedAt), state.DurationMs,
	)
	return err
}

func (s *LibSQLStore) GetNodeState(ctx context.Context, runID, nodeID string) (*NodeState, error) {
	ns := &NodeState{}
	var status string
	var output, errJSON sql.NullString
	var started, completed sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, node_id, status, output, error, started_at, completed_at, duration_ms
		 FROM node_states WHERE run_id = ? AND node_id = ?`, runID, nodeID,
	).Scan(&ns.RunID, &ns.NodeID, &status, &output, &errJSON, &started, &completed, &ns.DurationMs)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("node state", runID+"/"+nodeID)
	}
	if err != nil {
		return nil, err
	}

	ns.Status = schema.NodeStatus(status)
	ns.Output = jsonOrNil(output)
	ns.Error = jsonOrNil(errJSON)
	if started.Valid {
		ns.StartedAt = &started.Time
	}
	if completed.Valid {
		ns.CompletedAt = &completed.Time
	}
	return ns, nil
}

func (s *LibSQLStore) ListNodeStates(ctx context.Context, runID string) ([]*NodeState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id FROM node_states WHERE run_id = ? ORDER BY node_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	states := make([]*NodeState, 0, len(ids))
	for _, id := range ids {
		ns, err := s.GetNodeState(ctx, runID, id)
		if err != nil {
			return nil, err
		}
		states = append(states, ns)
	}
	return states, nil
}

// --- Pipelines ---

func (s *LibSQLStore) StorePipeline(ctx context.Context, p *Pipeline) error {
	graph, err := json.Marshal(p.Graph)
	if err != nil {
		return fmt.Errorf("marshal pipeline graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipelines (name, description, graph, created_at, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET
		   description=excluded.description, graph=excluded.graph, updated_at=CURRENT_TIMESTAMP`,
		p.Name, nullStr(p.Description), string(graph), timeOrNow(p.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetPipeline(ctx context.Context, name string) (*Pipeline, error) {
	p := &Pipeline{}
	var desc sql.NullString
	var graph string

	err := s.db.QueryRowContext(ctx,
		`SELECT name, description, graph, created_at, updated_at FROM pipelines WHERE name = ?`, name,
	).Scan(&p.Name, &desc, &graph, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("pipeline", name)
	}
	if err != nil {
		return nil, err
	}

	p.Description = desc.String
	if err := json.Unmarshal([]byte(graph), &p.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph for pipeline %s: %w", name, err)
	}
	return p, nil
}

func (s *LibSQLStore) ListPipelines(ctx context.Context) ([]*Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pipelines ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pipelines := make([]*Pipeline, 0, len(names))
	for _, name := range names {
		p, err := s.GetPipeline(ctx, name)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}

func (s *LibSQLStore) DeletePipeline(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "pipeline", name)
}

// --- Schedules ---

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sch *Schedule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, pipeline_name, cron_expression, inputs, enabled, next_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sch.ID, sch.PipelineName, sch.CronExpression, nullRaw(sch.Inputs),
		boolToInt(sch.Enabled), nullTime(sch.NextRunAt), timeOrNow(sch.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	sch := &Schedule{}
	var inputs, lastStatus sql.NullString
	var lastRun, nextRun sql.NullTime
	var enabled int

	err := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline_name, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM schedules WHERE id = ?`, id,
	).Scan(&sch.ID, &sch.PipelineName, &sch.CronExpression, &inputs, &enabled,
		&lastRun, &nextRun, &lastStatus, &sch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("schedule", id)
	}
	if err != nil {
		return nil, err
	}

	sch.Inputs = jsonOrNil(inputs)
	sch.Enabled = enabled != 0
	sch.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		sch.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		sch.NextRunAt = &nextRun.Time
	}
	return sch, nil
}

func (s *LibSQLStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	sets := []string{}
	args := []any{}

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET `+joinSets(sets)+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	query := `SELECT id FROM schedules WHERE 1=1`
	args := []any{}
	if filter.Enabled != nil {
		query += ` AND enabled = ?`
		args = append(args, boolToInt(*filter.Enabled))
	}
	if filter.PipelineName != "" {
		query += ` AND pipeline_name = ?`
		args = append(args, filter.PipelineName)
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	schedules := make([]*Schedule, 0, len(ids))
	for _, id := range ids {
		sch, err := s.GetSchedule(ctx, id)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sch)
	}
	return schedules, nil
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM secrets WHERE key = ?`, key,
	).Scan(&value)
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
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

var _ Store = (*LibSQLStore)(nil)

// --- Helpers ---

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func jsonOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func marshalMapOrNil(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinSets(sets []string) string {
	out := ""
	for i, s := range sets {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

func storeNotFound(kind, id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s not found: %s", kind, id)
}

func storeConflict(kind, id string) error {
	return schema.NewErrorf(schema.ErrCodeConflict, "%s already exists: %s", kind, id)
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(kind, id)
	}
	return nil
}
