package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dinbutler/obox/internal/agent"
	"github.com/dinbutler/obox/internal/orchestrator"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one orchestrated run.
type RunRecord struct {
	ID         uuid.UUID  `json:"id"`
	Prompt     string     `json:"prompt"`
	Model      string     `json:"model"`
	NumForks   int        `json:"num_forks"`
	MaxTurns   int        `json:"max_turns"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

const runSelectCols = `id, prompt, model, num_forks, max_turns, started_at, finished_at,
 successful, failed, total_tokens, total_cost`

// CreateRun records the start of a run. A zero ID is assigned.
func (s *Store) CreateRun(ctx context.Context, run *RunRecord) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, prompt, model, num_forks, max_turns, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.Prompt, run.Model, run.NumForks, run.MaxTurns, run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the per-fork results and stamps the run with its
// aggregate outcome, atomically.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, results []orchestrator.ForkResult) error {
	agg := orchestrator.AggregateResults(results)
	finished := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, r := range results {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO fork_results (run_id, fork_id, success, status, final_response,
			 turns, tool_calls, errors, total_tokens, total_cost, execution_time, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID.String(), r.ForkID, r.Success, string(r.Status), r.FinalResponse,
			r.Turns, r.ToolCalls, r.Errors, r.TotalTokens, r.TotalCost, r.ExecutionTime, r.Error)
		if err != nil {
			return fmt.Errorf("insert fork result %d: %w", r.ForkID, err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, successful = ?, failed = ?, total_tokens = ?, total_cost = ?
		 WHERE id = ?`,
		finished, agg.Successful, agg.Failed, agg.TotalTokens, agg.TotalCost, runID.String())
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return tx.Commit()
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runSelectCols+` FROM runs WHERE id = ?`, id.String())
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runSelectCols+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []RunRecord
	for rows.Next() {
		run, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *run)
	}
	return result, rows.Err()
}

// ForkResults returns the stored per-fork results for a run, ordered by
// fork id.
func (s *Store) ForkResults(ctx context.Context, runID uuid.UUID) ([]orchestrator.ForkResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fork_id, success, status, final_response, turns, tool_calls, errors,
		 total_tokens, total_cost, execution_time, error
		 FROM fork_results WHERE run_id = ? ORDER BY fork_id ASC`, runID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []orchestrator.ForkResult
	for rows.Next() {
		var r orchestrator.ForkResult
		var status string
		err := rows.Scan(&r.ForkID, &r.Success, &status, &r.FinalResponse,
			&r.Turns, &r.ToolCalls, &r.Errors, &r.TotalTokens, &r.TotalCost,
			&r.ExecutionTime, &r.Error)
		if err != nil {
			return nil, err
		}
		r.Status = agent.Status(status)
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteRun removes a run and, via cascade, its fork results.
func (s *Store) DeleteRun(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func scanRun(row *sql.Row) (*RunRecord, error) {
	var run RunRecord
	var id string
	var finished *time.Time
	err := row.Scan(&id, &run.Prompt, &run.Model, &run.NumForks, &run.MaxTurns,
		&run.StartedAt, &finished, &run.Successful, &run.Failed,
		&run.TotalTokens, &run.TotalCost)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	run.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt run id %q: %w", id, err)
	}
	run.FinishedAt = finished
	return &run, nil
}

func scanRunRows(rows *sql.Rows) (*RunRecord, error) {
	var run RunRecord
	var id string
	var finished *time.Time
	err := rows.Scan(&id, &run.Prompt, &run.Model, &run.NumForks, &run.MaxTurns,
		&run.StartedAt, &finished, &run.Successful, &run.Failed,
		&run.TotalTokens, &run.TotalCost)
	if err != nil {
		return nil, err
	}
	run.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt run id %q: %w", id, err)
	}
	run.FinishedAt = finished
	return &run, nil
}
