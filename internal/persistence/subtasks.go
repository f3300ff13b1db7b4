package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/aristath/quorum/internal/orchestrator"
)

// saveSubTasks writes every sub-task of res. Sub-tasks in res.Order keep their
// synthesis position; the rest follow sorted by id.
func saveSubTasks(ctx context.Context, tx *sql.Tx, res *orchestrator.Result) error {
	ids := make([]string, 0, len(res.SubTasks))
	ordered := make(map[string]bool, len(res.Order))
	for _, id := range res.Order {
		if _, ok := res.SubTasks[id]; ok && !ordered[id] {
			ordered[id] = true
			ids = append(ids, id)
		}
	}
	var rest []string
	for id := range res.SubTasks {
		if !ordered[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	ids = append(ids, rest...)

	for pos, id := range ids {
		st := res.SubTasks[id]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO subtasks (run_id, id, description, status, final_answer, winning_worker,
				score, attempts, agents_tried, parent, position, ordered)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, res.RunID, id, st.Description, st.Status, st.FinalAnswer, st.WinningWorker,
			st.Score, st.Attempts, joinList(st.AgentsTried), st.Parent, pos, ordered[id])
		if err != nil {
			return fmt.Errorf("failed to insert subtask %s: %w", id, err)
		}
	}

	// Dependencies go in after every sub-task row exists.
	for _, id := range ids {
		for seq, dep := range res.SubTasks[id].Dependencies {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO subtask_dependencies (run_id, subtask_id, depends_on_id, seq)
				VALUES (?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`, res.RunID, id, dep, seq)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", id, dep, err)
			}
		}
	}
	return nil
}

// loadSubTasks fills res.SubTasks and res.Order.
func (s *SQLiteStore) loadSubTasks(ctx context.Context, res *orchestrator.Result) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, status, final_answer, winning_worker, score, attempts,
			agents_tried, parent, ordered
		FROM subtasks
		WHERE run_id = ?
		ORDER BY position
	`, res.RunID)
	if err != nil {
		return fmt.Errorf("failed to query subtasks: %w", err)
	}
	defer rows.Close()

	res.SubTasks = map[string]orchestrator.SubTaskReport{}
	for rows.Next() {
		var (
			id, agents string
			inOrder    bool
			st         orchestrator.SubTaskReport
		)
		if err := rows.Scan(&id, &st.Description, &st.Status, &st.FinalAnswer, &st.WinningWorker,
			&st.Score, &st.Attempts, &agents, &st.Parent, &inOrder); err != nil {
			return fmt.Errorf("failed to scan subtask: %w", err)
		}
		st.AgentsTried = splitList(agents)
		res.SubTasks[id] = st
		if inOrder {
			res.Order = append(res.Order, id)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating subtasks: %w", err)
	}
	rows.Close()

	deps, err := s.db.QueryContext(ctx, `
		SELECT subtask_id, depends_on_id
		FROM subtask_dependencies
		WHERE run_id = ?
		ORDER BY subtask_id, seq
	`, res.RunID)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer deps.Close()

	for deps.Next() {
		var id, dep string
		if err := deps.Scan(&id, &dep); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		st := res.SubTasks[id]
		st.Dependencies = append(st.Dependencies, dep)
		res.SubTasks[id] = st
	}
	return deps.Err()
}
