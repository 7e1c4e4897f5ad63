package gifts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresLedger implements Ledger backed by the gift_grants table
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a PostgreSQL-backed ledger
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Record inserts a new grant. The unique (student, gift) index decides between
// concurrent grants of the same gift.
func (l *PostgresLedger) Record(ctx context.Context, grant *Grant) error {
	prepareGrant(grant)

	var exists bool
	err := l.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM gift_grants WHERE id = $1)
	`, grant.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check grant existence: %w", err)
	}
	if exists {
		return fmt.Errorf("grant with ID %s already exists", grant.ID)
	}

	result, err := l.db.ExecContext(ctx, `
		INSERT INTO gift_grants (id, student, gift, rule_set, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student, gift) DO NOTHING
	`, grant.ID, grant.Student, grant.Gift, grant.RuleSet, grant.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to insert grant: %w", err)
	}

	return checkInserted(result, grant)
}

// Get retrieves a grant by ID
func (l *PostgresLedger) Get(ctx context.Context, id string) (*Grant, error) {
	var g Grant
	err := l.db.QueryRowContext(ctx, `
		SELECT id, student, gift, rule_set, granted_at
		FROM gift_grants
		WHERE id = $1
	`, id).Scan(&g.ID, &g.Student, &g.Gift, &g.RuleSet, &g.GrantedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGrantNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	return &g, nil
}

// Has reports whether the student already received the gift
func (l *PostgresLedger) Has(ctx context.Context, student, gift string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM gift_grants WHERE student = $1 AND gift = $2)
	`, student, gift).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return exists, nil
}

// ListByStudent returns the student's grants, oldest first
func (l *PostgresLedger) ListByStudent(ctx context.Context, student string) ([]*Grant, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, student, gift, rule_set, granted_at
		FROM gift_grants
		WHERE student = $1
		ORDER BY granted_at ASC
	`, student)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return scanGrants(rows)
}

// List returns the most recent grants
func (l *PostgresLedger) List(ctx context.Context, limit int) ([]*Grant, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, student, gift, rule_set, granted_at
		FROM gift_grants
		ORDER BY granted_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return scanGrants(rows)
}

func scanGrants(rows *sql.Rows) ([]*Grant, error) {
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.ID, &g.Student, &g.Gift, &g.RuleSet, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, &g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grants: %w", err)
	}

	return grants, nil
}

// checkInserted turns an insert skipped by ON CONFLICT into ErrAlreadyGranted
func checkInserted(result sql.Result, grant *Grant) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s holds %s: %w", grant.Student, grant.Gift, ErrAlreadyGranted)
	}
	return nil
}
