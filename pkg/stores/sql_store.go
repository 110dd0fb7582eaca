package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openzap/openzap/pkg/engine"
)

// sqlStore holds the queries shared by the SQLite and Postgres stores.
// Queries are written with "?" placeholders and rebound per dialect.
type sqlStore struct {
	db       *sql.DB
	postgres bool
}

func (s *sqlStore) q(query string) string {
	if !s.postgres {
		return query
	}
	return rebindDollar(query)
}

// rebindDollar rewrites "?" placeholders as $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.q(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.q(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.q(query), args...)
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *sqlStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

// Zaps

// CreateZap creates or replaces a zap. LastRunAt is preserved on replace.
func (s *sqlStore) CreateZap(ctx context.Context, zap *engine.Zap) error {
	if zap.ID == "" {
		zap.ID = uuid.NewString()
	}
	query := `
		INSERT INTO zaps (id, name, is_active, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, is_active = excluded.is_active
	`
	if _, err := s.exec(ctx, query, zap.ID, zap.Name, zap.IsActive, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create zap: %w", err)
	}
	return nil
}

// SetZapActive switches a zap on or off.
func (s *sqlStore) SetZapActive(ctx context.Context, zapID string, active bool) error {
	result, err := s.exec(ctx, `UPDATE zaps SET is_active = ? WHERE id = ?`, active, zapID)
	if err != nil {
		return fmt.Errorf("failed to update zap: %w", err)
	}
	return requireRow(result, "zap", zapID)
}

// ListActiveZaps returns every active zap.
func (s *sqlStore) ListActiveZaps(ctx context.Context) ([]*engine.Zap, error) {
	return s.listZaps(ctx, `SELECT id, name, is_active, last_run_at FROM zaps WHERE is_active = ? ORDER BY id`, true)
}

// ListZaps returns every zap.
func (s *sqlStore) ListZaps(ctx context.Context) ([]*engine.Zap, error) {
	return s.listZaps(ctx, `SELECT id, name, is_active, last_run_at FROM zaps ORDER BY id`)
}

func (s *sqlStore) listZaps(ctx context.Context, query string, args ...any) ([]*engine.Zap, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list zaps: %w", err)
	}
	defer rows.Close()

	zaps := []*engine.Zap{}
	for rows.Next() {
		zap, err := scanZap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zap: %w", err)
		}
		zaps = append(zaps, zap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating zaps: %w", err)
	}
	return zaps, nil
}

// GetZap returns the zap or nil when it does not exist.
func (s *sqlStore) GetZap(ctx context.Context, id string) (*engine.Zap, error) {
	row := s.queryRow(ctx, `SELECT id, name, is_active, last_run_at FROM zaps WHERE id = ?`, id)
	zap, err := scanZap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get zap: %w", err)
	}
	return zap, nil
}

// Steps

// CreateStep creates or replaces a step.
func (s *sqlStore) CreateStep(ctx context.Context, step *engine.Step) error {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	if err := step.Validate(); err != nil {
		return err
	}
	payload, err := encodeJSON(step.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode step payload: %w", err)
	}

	query := `
		INSERT INTO steps (id, zap_id, step_type, step_order, trigger_id, action_id, connection_id, source_step_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			zap_id = excluded.zap_id,
			step_type = excluded.step_type,
			step_order = excluded.step_order,
			trigger_id = excluded.trigger_id,
			action_id = excluded.action_id,
			connection_id = excluded.connection_id,
			source_step_id = excluded.source_step_id,
			payload = excluded.payload
	`
	_, err = s.exec(ctx, query,
		step.ID,
		step.ZapID,
		string(step.StepType),
		step.StepOrder,
		nullString(step.TriggerID),
		nullString(step.ActionID),
		nullStringPtr(step.ConnectionID),
		nullStringPtr(step.SourceStepID),
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to create step: %w", err)
	}
	return nil
}

const stepColumns = `id, zap_id, step_type, step_order, trigger_id, action_id, connection_id, source_step_id, payload`

// ListSteps returns a zap's steps ordered by step_order.
func (s *sqlStore) ListSteps(ctx context.Context, zapID string) ([]*engine.Step, error) {
	return s.listSteps(ctx, `SELECT `+stepColumns+` FROM steps WHERE zap_id = ? ORDER BY step_order, id`, zapID)
}

func (s *sqlStore) listSteps(ctx context.Context, query string, args ...any) ([]*engine.Step, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := []*engine.Step{}
	for rows.Next() {
		var (
			step                 engine.Step
			triggerID, actionID  sql.NullString
			connectionID, source sql.NullString
			payload              string
		)
		err := rows.Scan(
			&step.ID,
			&step.ZapID,
			&step.StepType,
			&step.StepOrder,
			&triggerID,
			&actionID,
			&connectionID,
			&source,
			&payload,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.TriggerID = triggerID.String
		step.ActionID = actionID.String
		step.ConnectionID = stringPtr(connectionID)
		step.SourceStepID = stringPtr(source)
		if err := decodeJSON(payload, &step.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of step %s: %w", step.ID, err)
		}
		steps = append(steps, &step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return steps, nil
}

// Catalog

// PutTrigger creates or replaces a trigger definition.
func (s *sqlStore) PutTrigger(ctx context.Context, def *engine.TriggerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	variables, err := encodeVariables(def.Variables)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO triggers (id, service_id, name, class_name, trigger_type, polling_interval_ms, variables)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			service_id = excluded.service_id,
			name = excluded.name,
			class_name = excluded.class_name,
			trigger_type = excluded.trigger_type,
			polling_interval_ms = excluded.polling_interval_ms,
			variables = excluded.variables
	`
	_, err = s.exec(ctx, query,
		def.ID,
		def.ServiceID,
		def.Name,
		def.ClassName,
		string(def.TriggerType),
		def.PollingInterval.Milliseconds(),
		variables,
	)
	if err != nil {
		return fmt.Errorf("failed to put trigger: %w", err)
	}
	return nil
}

const triggerColumns = `id, service_id, name, class_name, trigger_type, polling_interval_ms, variables`

// GetTrigger returns the definition or nil when the id is unknown.
func (s *sqlStore) GetTrigger(ctx context.Context, id string) (*engine.TriggerDefinition, error) {
	defs, err := s.listTriggers(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = ?`, id)
	if err != nil || len(defs) == 0 {
		return nil, err
	}
	return defs[0], nil
}

// ListTriggers returns every trigger definition.
func (s *sqlStore) ListTriggers(ctx context.Context) ([]*engine.TriggerDefinition, error) {
	return s.listTriggers(ctx, `SELECT `+triggerColumns+` FROM triggers ORDER BY id`)
}

func (s *sqlStore) listTriggers(ctx context.Context, query string, args ...any) ([]*engine.TriggerDefinition, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	defs := []*engine.TriggerDefinition{}
	for rows.Next() {
		var (
			def       engine.TriggerDefinition
			interval  int64
			variables sql.NullString
		)
		err := rows.Scan(
			&def.ID,
			&def.ServiceID,
			&def.Name,
			&def.ClassName,
			&def.TriggerType,
			&interval,
			&variables,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		def.PollingInterval = time.Duration(interval) * time.Millisecond
		if def.Variables, err = decodeVariables(variables); err != nil {
			return nil, fmt.Errorf("failed to decode variables of trigger %s: %w", def.ID, err)
		}
		defs = append(defs, &def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}
	return defs, nil
}

// PutAction creates or replaces an action definition.
func (s *sqlStore) PutAction(ctx context.Context, def *engine.ActionDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	variables, err := encodeVariables(def.Variables)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO actions (id, service_id, name, class_name, variables)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			service_id = excluded.service_id,
			name = excluded.name,
			class_name = excluded.class_name,
			variables = excluded.variables
	`
	if _, err := s.exec(ctx, query, def.ID, def.ServiceID, def.Name, def.ClassName, variables); err != nil {
		return fmt.Errorf("failed to put action: %w", err)
	}
	return nil
}

const actionColumns = `id, service_id, name, class_name, variables`

// GetAction returns the definition or nil when the id is unknown.
func (s *sqlStore) GetAction(ctx context.Context, id string) (*engine.ActionDefinition, error) {
	defs, err := s.listActions(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	if err != nil || len(defs) == 0 {
		return nil, err
	}
	return defs[0], nil
}

// ListActions returns every action definition.
func (s *sqlStore) ListActions(ctx context.Context) ([]*engine.ActionDefinition, error) {
	return s.listActions(ctx, `SELECT `+actionColumns+` FROM actions ORDER BY id`)
}

func (s *sqlStore) listActions(ctx context.Context, query string, args ...any) ([]*engine.ActionDefinition, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	defs := []*engine.ActionDefinition{}
	for rows.Next() {
		var (
			def       engine.ActionDefinition
			variables sql.NullString
		)
		if err := rows.Scan(&def.ID, &def.ServiceID, &def.Name, &def.ClassName, &variables); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		if def.Variables, err = decodeVariables(variables); err != nil {
			return nil, fmt.Errorf("failed to decode variables of action %s: %w", def.ID, err)
		}
		defs = append(defs, &def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return defs, nil
}

// Connections

// PutConnection creates or replaces a connection.
func (s *sqlStore) PutConnection(ctx context.Context, conn *Connection) error {
	if conn.ID == "" {
		return fmt.Errorf("connection id is required")
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO connections (id, service_id, name, access_token, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			service_id = excluded.service_id,
			name = excluded.name,
			access_token = excluded.access_token
	`
	_, err := s.exec(ctx, query, conn.ID, conn.ServiceID, conn.Name, conn.AccessToken, conn.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to put connection: %w", err)
	}
	return nil
}

// GetAccessToken returns the connection's token. ok is false when the
// connection does not exist or holds no token.
func (s *sqlStore) GetAccessToken(ctx context.Context, connectionID string) (string, bool, error) {
	var token string
	err := s.queryRow(ctx, `SELECT access_token FROM connections WHERE id = ?`, connectionID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get access token: %w", err)
	}
	return token, token != "", nil
}

// Executions

// StartZapExecution inserts an in_progress execution.
func (s *sqlStore) StartZapExecution(ctx context.Context, zapID string, startedAt time.Time) (string, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO executions (id, zap_id, status, started_at, duration_ms)
		VALUES (?, ?, ?, ?, 0)
	`
	if _, err := s.exec(ctx, query, id, zapID, string(engine.ExecutionStatusInProgress), startedAt.UTC()); err != nil {
		return "", fmt.Errorf("failed to start execution: %w", err)
	}
	return id, nil
}

// FinishZapExecution closes an in_progress execution. A done execution also
// stamps the zap's last_run_at in the same transaction.
func (s *sqlStore) FinishZapExecution(ctx context.Context, executionID, zapID string, status engine.ExecutionStatus, endedAt time.Time, duration time.Duration, errMsg *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, s.q(`
		UPDATE executions
		SET status = ?, ended_at = ?, duration_ms = ?, error = ?
		WHERE id = ? AND status = ?
	`), string(status), endedAt.UTC(), duration.Milliseconds(), nullStringPtr(errMsg), executionID, string(engine.ExecutionStatusInProgress))
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	if err := requireRow(result, "in_progress execution", executionID); err != nil {
		return err
	}

	// Only a done execution moves the zap's readiness clock
	if status == engine.ExecutionStatusDone {
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE zaps SET last_run_at = ? WHERE id = ?`), endedAt.UTC(), zapID); err != nil {
			return fmt.Errorf("failed to stamp last_run_at: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit execution: %w", err)
	}
	return nil
}

// DeleteZapExecution removes an execution and, by cascade, its step
// executions.
func (s *sqlStore) DeleteZapExecution(ctx context.Context, executionID string) error {
	result, err := s.exec(ctx, `DELETE FROM executions WHERE id = ?`, executionID)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	return requireRow(result, "execution", executionID)
}

const executionColumns = `id, zap_id, status, started_at, ended_at, duration_ms, error`

// LatestZapExecution returns the most recently started execution of the zap
// or nil when it has none.
func (s *sqlStore) LatestZapExecution(ctx context.Context, zapID string) (*engine.Execution, error) {
	row := s.queryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE zap_id = ? ORDER BY started_at DESC LIMIT 1`, zapID)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest execution: %w", err)
	}
	return exec, nil
}

// GetExecution retrieves an execution by ID.
func (s *sqlStore) GetExecution(ctx context.Context, id string) (*engine.Execution, error) {
	exec, err := scanExecution(s.queryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

// ListExecutions lists executions newest first.
func (s *sqlStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*engine.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	args := []any{}

	if filter.ZapID != "" {
		query += ` AND zap_id = ?`
		args = append(args, filter.ZapID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	execs := []*engine.Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return execs, nil
}

// StartStepExecution inserts an in_progress step execution.
func (s *sqlStore) StartStepExecution(ctx context.Context, stepID, executionID string, startedAt time.Time) (string, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO step_executions (id, execution_id, step_id, status, data, started_at, duration_ms)
		VALUES (?, ?, ?, ?, '{}', ?, 0)
	`
	if _, err := s.exec(ctx, query, id, executionID, stepID, string(engine.ExecutionStatusInProgress), startedAt.UTC()); err != nil {
		return "", fmt.Errorf("failed to start step execution: %w", err)
	}
	return id, nil
}

// FinishStepExecution closes an in_progress step execution.
func (s *sqlStore) FinishStepExecution(ctx context.Context, id string, data map[string]any, status engine.ExecutionStatus, endedAt time.Time, duration time.Duration, errMsg *string) error {
	encoded, err := encodeJSON(data)
	if err != nil {
		return fmt.Errorf("failed to encode step data: %w", err)
	}

	result, err := s.exec(ctx, `
		UPDATE step_executions
		SET status = ?, data = ?, ended_at = ?, duration_ms = ?, error = ?
		WHERE id = ? AND status = ?
	`, string(status), encoded, endedAt.UTC(), duration.Milliseconds(), nullStringPtr(errMsg), id, string(engine.ExecutionStatusInProgress))
	if err != nil {
		return fmt.Errorf("failed to finish step execution: %w", err)
	}
	return requireRow(result, "in_progress step execution", id)
}

// ListStepExecutions returns the step executions of one execution in the
// order they started.
func (s *sqlStore) ListStepExecutions(ctx context.Context, executionID string) ([]*engine.StepExecution, error) {
	rows, err := s.query(ctx, `
		SELECT id, execution_id, step_id, status, data, error, started_at, ended_at, duration_ms
		FROM step_executions
		WHERE execution_id = ?
		ORDER BY started_at, id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step executions: %w", err)
	}
	defer rows.Close()

	out := []*engine.StepExecution{}
	for rows.Next() {
		var (
			se       engine.StepExecution
			data     string
			errMsg   sql.NullString
			endedAt  sql.NullTime
			duration int64
		)
		err := rows.Scan(
			&se.ID,
			&se.ExecutionID,
			&se.StepID,
			&se.Status,
			&data,
			&errMsg,
			&se.StartedAt,
			&endedAt,
			&duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}
		if err := decodeJSON(data, &se.Data); err != nil {
			return nil, fmt.Errorf("failed to decode data of step execution %s: %w", se.ID, err)
		}
		se.Error = stringPtr(errMsg)
		se.EndedAt = timePtr(endedAt)
		se.StartedAt = se.StartedAt.UTC()
		se.Duration = time.Duration(duration) * time.Millisecond
		out = append(out, &se)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step executions: %w", err)
	}
	return out, nil
}

// FailStaleExecutions closes every in_progress record as failed. It is
// meant to run at startup, before the scheduler, to clean up after a crash.
// It returns the number of executions closed.
func (s *sqlStore) FailStaleExecutions(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.q(`
		UPDATE step_executions SET status = ?, ended_at = ?, error = ? WHERE status = ?
	`), string(engine.ExecutionStatusFailed), now, reason, string(engine.ExecutionStatusInProgress)); err != nil {
		return 0, fmt.Errorf("failed to close stale step executions: %w", err)
	}

	result, err := tx.ExecContext(ctx, s.q(`
		UPDATE executions SET status = ?, ended_at = ?, error = ? WHERE status = ?
	`), string(engine.ExecutionStatusFailed), now, reason, string(engine.ExecutionStatusInProgress))
	if err != nil {
		return 0, fmt.Errorf("failed to close stale executions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return n, nil
}

// Scanning helpers

type scanner interface {
	Scan(dest ...any) error
}

func scanZap(row scanner) (*engine.Zap, error) {
	var (
		zap       engine.Zap
		lastRunAt sql.NullTime
	)
	if err := row.Scan(&zap.ID, &zap.Name, &zap.IsActive, &lastRunAt); err != nil {
		return nil, err
	}
	zap.LastRunAt = timePtr(lastRunAt)
	return &zap, nil
}

func scanExecution(row scanner) (*engine.Execution, error) {
	var (
		exec     engine.Execution
		endedAt  sql.NullTime
		duration int64
		errMsg   sql.NullString
	)
	err := row.Scan(
		&exec.ID,
		&exec.ZapID,
		&exec.Status,
		&exec.StartedAt,
		&endedAt,
		&duration,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}
	exec.StartedAt = exec.StartedAt.UTC()
	exec.EndedAt = timePtr(endedAt)
	exec.Duration = time.Duration(duration) * time.Millisecond
	exec.Error = stringPtr(errMsg)
	return &exec, nil
}

func requireRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func encodeJSON(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeJSON(raw string, out *map[string]any) error {
	if raw == "" {
		*out = map[string]any{}
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func encodeVariables(vars map[string]string) (sql.NullString, error) {
	if len(vars) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(vars)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode variables: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeVariables(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var vars map[string]string
	if err := json.Unmarshal([]byte(raw.String), &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
