package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyzr/workflowcore/internal/config"
	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/model"
)

// Postgres is a Repository backed by a pgxpool connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// New connects to Postgres using cfg.Database and verifies the connection
// with a timed ping, mirroring the reference db package's startup check.
func New(ctx context.Context, cfg *config.DatabaseConfig, dsn string, logger *logging.Logger) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: parse database url: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("repository: create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("repository: ping database: %w", err)
	}

	logger.Info("database connected", "host", cfg.Host, "db", cfg.Database)
	return &Postgres{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.logger.Info("closing database connection pool")
	p.pool.Close()
}

// Health checks database reachability.
func (p *Postgres) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.pool.Ping(ctx)
}

func (p *Postgres) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	definition, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("repository: marshal workflow: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO workflow_snapshot (tenant_id, workflow_id, version, definition)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, workflow_id, version) DO NOTHING
	`, wf.TenantID, wf.ID, wf.Version, definition)
	if err != nil {
		return fmt.Errorf("repository: save workflow %s/%d: %w", wf.ID, wf.Version, err)
	}
	return nil
}

func (p *Postgres) LoadWorkflow(ctx context.Context, tenantID, workflowID string, version int) (*model.Workflow, error) {
	var definition []byte
	err := p.pool.QueryRow(ctx, `
		SELECT definition FROM workflow_snapshot
		WHERE tenant_id = $1 AND workflow_id = $2 AND version = $3
	`, tenantID, workflowID, version).Scan(&definition)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("repository: workflow %s/%d not found: %w", workflowID, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: load workflow %s/%d: %w", workflowID, version, err)
	}
	var wf model.Workflow
	if err := json.Unmarshal(definition, &wf); err != nil {
		return nil, fmt.Errorf("repository: unmarshal workflow %s/%d: %w", workflowID, version, err)
	}
	return &wf, nil
}

func (p *Postgres) CreateRun(ctx context.Context, run *model.WorkflowRun) error {
	input, err := json.Marshal(run.Input)
	if err != nil {
		return fmt.Errorf("repository: marshal run input: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO workflow_run (run_id, workflow_id, workflow_version, tenant_id, mode, input, status, parent_run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.WorkflowID, run.WorkflowVersion, run.TenantID, run.Mode, input, run.Status, run.ParentRunID)
	if err != nil {
		return fmt.Errorf("repository: create run %s: %w", run.ID, err)
	}
	return nil
}

func (p *Postgres) LoadRun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	run := &model.WorkflowRun{ID: runID}
	var input []byte
	err := p.pool.QueryRow(ctx, `
		SELECT workflow_id, workflow_version, tenant_id, mode, input, status,
		       started_at, ended_at, error_message, claim_epoch, worker_id,
		       claimed_at, cancel_requested, parent_run_id
		FROM workflow_run WHERE run_id = $1
	`, runID).Scan(
		&run.WorkflowID, &run.WorkflowVersion, &run.TenantID, &run.Mode, &input, &run.Status,
		&run.StartedAt, &run.EndedAt, &run.ErrorMessage, &run.ClaimEpoch, &run.WorkerID,
		&run.ClaimedAt, &run.CancelRequested, &run.ParentRunID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("repository: run %s not found: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: load run %s: %w", runID, err)
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &run.Input); err != nil {
			return nil, fmt.Errorf("repository: unmarshal run %s input: %w", runID, err)
		}
	}
	results, err := p.LoadNodeResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.NodeResults = results
	return run, nil
}

func (p *Postgres) ClaimRun(ctx context.Context, runID, workerID string, _ model.JSON) (bool, int64, error) {
	var epoch int64
	err := p.pool.QueryRow(ctx, `
		UPDATE workflow_run
		SET status = $2, worker_id = $3, claim_epoch = claim_epoch + 1,
		    claimed_at = now(), started_at = COALESCE(started_at, now())
		WHERE run_id = $1 AND status = $4 AND cancel_requested = false
		RETURNING claim_epoch
	`, runID, model.RunRunning, workerID, model.RunPending).Scan(&epoch)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("repository: claim run %s: %w", runID, err)
	}
	return true, epoch, nil
}

func (p *Postgres) UpdateStatusCAS(ctx context.Context, runID string, expected, next model.RunStatus, epoch int64, errMessage string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE workflow_run
		SET status = $2, error_message = NULLIF($3, ''),
		    ended_at = CASE WHEN $2 IN ('completed','failed','cancelled') THEN now() ELSE ended_at END
		WHERE run_id = $1 AND status = $4 AND claim_epoch = $5
	`, runID, next, errMessage, expected, epoch)
	if err != nil {
		return false, fmt.Errorf("repository: update run %s status: %w", runID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) RequestCancellation(ctx context.Context, runID string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE workflow_run SET cancel_requested = true WHERE run_id = $1
	`, runID)
	if err != nil {
		return fmt.Errorf("repository: request cancellation for run %s: %w", runID, err)
	}
	return nil
}

func (p *Postgres) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*model.WorkflowRun, error) {
	return p.listRuns(ctx, `
		SELECT run_id, workflow_id, workflow_version, tenant_id, mode, input, status,
		       started_at, ended_at, error_message, claim_epoch, worker_id, claimed_at, cancel_requested, parent_run_id
		FROM workflow_run WHERE workflow_id = $1 ORDER BY submitted_at DESC LIMIT NULLIF($2, 0)
	`, workflowID, limit)
}

// ListByStatus with limit 0 returns every matching run (NULLIF turns a
// zero limit into an unbounded LIMIT NULL), used by the
// dispatcher's reconciliation sweep which needs every stale run, not a
// page of them.
func (p *Postgres) ListByStatus(ctx context.Context, status model.RunStatus, limit int) ([]*model.WorkflowRun, error) {
	return p.listRuns(ctx, `
		SELECT run_id, workflow_id, workflow_version, tenant_id, mode, input, status,
		       started_at, ended_at, error_message, claim_epoch, worker_id, claimed_at, cancel_requested, parent_run_id
		FROM workflow_run WHERE status = $1 ORDER BY submitted_at DESC LIMIT NULLIF($2, 0)
	`, status, limit)
}

func (p *Postgres) listRuns(ctx context.Context, query string, arg any, limit int) ([]*model.WorkflowRun, error) {
	rows, err := p.pool.Query(ctx, query, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.WorkflowRun
	for rows.Next() {
		run := &model.WorkflowRun{}
		var input []byte
		if err := rows.Scan(
			&run.ID, &run.WorkflowID, &run.WorkflowVersion, &run.TenantID, &run.Mode, &input, &run.Status,
			&run.StartedAt, &run.EndedAt, &run.ErrorMessage, &run.ClaimEpoch, &run.WorkerID,
			&run.ClaimedAt, &run.CancelRequested, &run.ParentRunID,
		); err != nil {
			return nil, fmt.Errorf("repository: scan run: %w", err)
		}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &run.Input); err != nil {
				return nil, fmt.Errorf("repository: unmarshal run %s input: %w", run.ID, err)
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate runs: %w", err)
	}
	return runs, nil
}

func (p *Postgres) SaveNodeResult(ctx context.Context, result model.NodeExecutionResult) error {
	input, err := json.Marshal(result.Input)
	if err != nil {
		return fmt.Errorf("repository: marshal node input: %w", err)
	}
	output, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Errorf("repository: marshal node output: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: begin save node result: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO node_result (run_id, node_id, status, attempt, input, output, error_message, started_at, ended_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, node_id) DO UPDATE SET
			status = EXCLUDED.status, attempt = EXCLUDED.attempt, input = EXCLUDED.input,
			output = EXCLUDED.output, error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at, ended_at = EXCLUDED.ended_at, duration_ms = EXCLUDED.duration_ms
	`, result.RunID, result.NodeID, result.Status, result.Attempt, input, output,
		result.ErrorMessage, result.StartedAt, result.EndedAt, result.DurationMs)
	if err != nil {
		return fmt.Errorf("repository: upsert node result %s/%s: %w", result.RunID, result.NodeID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO node_result_attempt (run_id, node_id, attempt, status, input, output, error_message, started_at, ended_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, result.RunID, result.NodeID, result.Attempt, result.Status, input, output,
		result.ErrorMessage, result.StartedAt, result.EndedAt, result.DurationMs)
	if err != nil {
		return fmt.Errorf("repository: append node result attempt %s/%s: %w", result.RunID, result.NodeID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: commit save node result %s/%s: %w", result.RunID, result.NodeID, err)
	}
	return nil
}

func (p *Postgres) LoadNodeResults(ctx context.Context, runID string) (map[string]model.NodeExecutionResult, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT node_id, status, attempt, input, output, error_message, started_at, ended_at, duration_ms
		FROM node_result WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("repository: load node results for run %s: %w", runID, err)
	}
	defer rows.Close()

	results := make(map[string]model.NodeExecutionResult)
	for rows.Next() {
		var r model.NodeExecutionResult
		r.RunID = runID
		var input, output []byte
		if err := rows.Scan(&r.NodeID, &r.Status, &r.Attempt, &input, &output, &r.ErrorMessage, &r.StartedAt, &r.EndedAt, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("repository: scan node result: %w", err)
		}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &r.Input); err != nil {
				return nil, fmt.Errorf("repository: unmarshal node %s input: %w", r.NodeID, err)
			}
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &r.Output); err != nil {
				return nil, fmt.Errorf("repository: unmarshal node %s output: %w", r.NodeID, err)
			}
		}
		results[r.NodeID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate node results for run %s: %w", runID, err)
	}
	return results, nil
}

// ErrNotFound is returned when a lookup by ID finds no matching row.
var ErrNotFound = errors.New("repository: not found")
