package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		final_answer TEXT NOT NULL,
		status TEXT NOT NULL,
		decomposed INTEGER NOT NULL,
		synthesized INTEGER NOT NULL,
		cancelled INTEGER NOT NULL,
		deadlock_reason TEXT,
		deadlock_unresolved TEXT,
		overflow TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS subtasks (
		run_id TEXT NOT NULL,
		id TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		final_answer TEXT,
		winning_worker TEXT,
		score REAL NOT NULL,
		attempts INTEGER NOT NULL,
		agents_tried TEXT,
		parent TEXT,
		position INTEGER NOT NULL,
		ordered INTEGER NOT NULL,
		PRIMARY KEY (run_id, id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS subtask_dependencies (
		run_id TEXT NOT NULL,
		subtask_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (run_id, subtask_id, depends_on_id),
		FOREIGN KEY (run_id, subtask_id) REFERENCES subtasks(run_id, id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_subtask_dependencies_subtask
		ON subtask_dependencies(run_id, subtask_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
