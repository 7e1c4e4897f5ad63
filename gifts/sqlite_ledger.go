package gifts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteLedger implements Ledger in a single SQLite file. It suits single-instance
// deployments that need grants to survive a restart without a PostgreSQL server.
type SQLiteLedger struct {
	db        *sql.DB
	path      string
	closeOnce sync.Once
}

// NewSQLiteLedger opens (or creates) the database at path. Use ":memory:" for a
// throwaway ledger.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}

	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	l := &SQLiteLedger{db: db, path: path}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return l, nil
}

func (l *SQLiteLedger) initSchema() error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS gift_grants (
		id TEXT PRIMARY KEY,
		student TEXT NOT NULL,
		gift TEXT NOT NULL,
		rule_set TEXT NOT NULL DEFAULT '',
		granted_at INTEGER NOT NULL
	);

	DROP INDEX IF EXISTS idx_gift_grants_student_gift;
	CREATE UNIQUE INDEX IF NOT EXISTS uq_gift_grants_student_gift ON gift_grants(student, gift);
	CREATE INDEX IF NOT EXISTS idx_gift_grants_granted_at ON gift_grants(granted_at);
	`)
	return err
}

// Record inserts a new grant, or returns ErrAlreadyGranted
func (l *SQLiteLedger) Record(ctx context.Context, grant *Grant) error {
	prepareGrant(grant)

	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM gift_grants WHERE id = ?)`, grant.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check grant existence: %w", err)
	}
	if exists {
		return fmt.Errorf("grant with ID %s already exists", grant.ID)
	}

	result, err := l.db.ExecContext(ctx, `
		INSERT INTO gift_grants (id, student, gift, rule_set, granted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (student, gift) DO NOTHING
	`, grant.ID, grant.Student, grant.Gift, grant.RuleSet, grant.GrantedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert grant: %w", err)
	}
	return checkInserted(result, grant)
}

// Get retrieves a grant by ID
func (l *SQLiteLedger) Get(ctx context.Context, id string) (*Grant, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, student, gift, rule_set, granted_at
		FROM gift_grants
		WHERE id = ?
	`, id)

	g, err := scanSQLiteGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGrantNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return g, nil
}

// Has reports whether the student already received the gift
func (l *SQLiteLedger) Has(ctx context.Context, student, gift string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM gift_grants WHERE student = ? AND gift = ?)`,
		student, gift).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return exists, nil
}

// ListByStudent returns the student's grants, oldest first
func (l *SQLiteLedger) ListByStudent(ctx context.Context, student string) ([]*Grant, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, student, gift, rule_set, granted_at
		FROM gift_grants
		WHERE student = ?
		ORDER BY granted_at ASC, rowid ASC
	`, student)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return scanSQLiteGrants(rows)
}

// List returns the most recent grants
func (l *SQLiteLedger) List(ctx context.Context, limit int) ([]*Grant, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, student, gift, rule_set, granted_at
		FROM gift_grants
		ORDER BY granted_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return scanSQLiteGrants(rows)
}

// Ping checks the database connection.
func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close releases the database. It is safe to call more than once.
func (l *SQLiteLedger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.db.Close()
	})
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteGrant(row rowScanner) (*Grant, error) {
	var (
		g     Grant
		nanos int64
	)
	if err := row.Scan(&g.ID, &g.Student, &g.Gift, &g.RuleSet, &nanos); err != nil {
		return nil, err
	}
	g.GrantedAt = time.Unix(0, nanos).UTC()
	return &g, nil
}

func scanSQLiteGrants(rows *sql.Rows) ([]*Grant, error) {
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		g, err := scanSQLiteGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grants: %w", err)
	}
	return grants, nil
}
