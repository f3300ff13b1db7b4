package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/quorum/internal/orchestrator"
	"github.com/aristath/quorum/internal/scheduler"
)

// SaveRun records a finished run and all of its sub-tasks.
// Saving the same run twice replaces the earlier record.
func (s *SQLiteStore) SaveRun(ctx context.Context, res *orchestrator.Result) error {
	if res == nil || res.RunID == "" {
		return fmt.Errorf("run has no id")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var reason, unresolved string
	if res.Deadlock != nil {
		reason = res.Deadlock.Reason
		unresolved = joinList(res.Deadlock.Unresolved)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, task, final_answer, status, decomposed, synthesized, cancelled,
			deadlock_reason, deadlock_unresolved, overflow, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task = excluded.task,
			final_answer = excluded.final_answer,
			status = excluded.status,
			decomposed = excluded.decomposed,
			synthesized = excluded.synthesized,
			cancelled = excluded.cancelled,
			deadlock_reason = excluded.deadlock_reason,
			deadlock_unresolved = excluded.deadlock_unresolved,
			overflow = excluded.overflow,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, res.RunID, res.Task, res.FinalAnswer, res.Status(), res.Decomposed, res.Synthesized, res.Cancelled,
		reason, unresolved, joinList(res.Overflow), res.Started.UnixNano(), res.Finished.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	// Sub-tasks are rewritten wholesale; dependencies cascade.
	if _, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE run_id = ?`, res.RunID); err != nil {
		return fmt.Errorf("failed to delete old subtasks: %w", err)
	}
	if err := saveSubTasks(ctx, tx, res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRun loads a recorded run.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*orchestrator.Result, error) {
	res := &orchestrator.Result{RunID: runID}
	var (
		status, reason, unresolved, overflow string
		started, finished                    int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT task, final_answer, status, decomposed, synthesized, cancelled,
			deadlock_reason, deadlock_unresolved, overflow, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, runID).Scan(&res.Task, &res.FinalAnswer, &status, &res.Decomposed, &res.Synthesized, &res.Cancelled,
		&reason, &unresolved, &overflow, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	if status == "deadlocked" {
		res.Deadlock = &scheduler.Deadlock{Reason: reason, Unresolved: splitList(unresolved)}
	}
	res.Overflow = splitList(overflow)
	res.Started = time.Unix(0, started)
	res.Finished = time.Unix(0, finished)

	if err := s.loadSubTasks(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all of them.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.task, r.status, r.synthesized, r.started_at, r.finished_at,
			(SELECT COUNT(*) FROM subtasks st WHERE st.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC, r.id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			sum               RunSummary
			started, finished int64
		)
		if err := rows.Scan(&sum.ID, &sum.Task, &sum.Status, &sum.Synthesized, &started, &finished, &sum.SubTasks); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		sum.Started = time.Unix(0, started)
		sum.Finished = time.Unix(0, finished)
		runs = append(runs, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run and its sub-tasks.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
