package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/quorum/internal/orchestrator"
)

// RunSummary is one row of the run journal listing.
type RunSummary struct {
	ID          string
	Task        string
	Status      string
	SubTasks    int
	Synthesized bool
	Started     time.Time
	Finished    time.Time
}

// Store records finished runs for later inspection. It is a journal only:
// nothing is ever resumed from it.
type Store interface {
	SaveRun(ctx context.Context, res *orchestrator.Result) error
	GetRun(ctx context.Context, runID string) (*orchestrator.Result, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	DeleteRun(ctx context.Context, runID string) error
	Close() error
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the journal at dbPath, creating parent
// directories. The database runs in WAL mode with foreign keys on.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	return open(ctx, fmt.Sprintf("file:%s?%s&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath, connPragmas))
}

// NewMemoryStore creates an in-memory journal for tests. The shared cache
// lets the pool's connections see one database; the unique name keeps
// stores apart, and the database is dropped on Close.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	return open(ctx, fmt.Sprintf("file:quorum-%s?mode=memory&cache=shared&%s", uuid.NewString(), connPragmas))
}

// connPragmas run on every pooled connection. A one-off PRAGMA exec would
// only reach one of them, and ON DELETE CASCADE depends on foreign_keys.
const connPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

func open(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Two connections: GetRun reads sub-tasks and then their dependencies
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
