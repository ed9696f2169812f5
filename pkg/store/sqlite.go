package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/datasphere-labs/connector/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLite is the embedded store. It also serves as a usage counter: the
// compare-and-increment is a single conditional UPDATE, atomic per rule.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	remote_id TEXT,
	definition BLOB NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS agreements (
	id TEXT PRIMARY KEY,
	remote_id TEXT NOT NULL,
	rule_text BLOB,
	confirmed INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_usage (
	rule_id TEXT PRIMARY KEY,
	used INTEGER NOT NULL DEFAULT 0
);
`

// NewSQLite creates a store over an open database handle and applies the
// schema.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db}
	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		return nil, fmt.Errorf("store: sqlite migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) LoadRule(ctx context.Context, id string) (*contracts.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, remote_id, definition, status, created_at
		FROM rules WHERE id = ? AND status = ?`, id, string(contracts.RuleActive))

	var r contracts.Rule
	var status string
	if err := row.Scan(&r.ID, &r.RemoteID, &r.Definition, &status, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load rule: %w", err)
	}
	r.Status = contracts.RuleStatus(status)
	return &r, nil
}

func (s *SQLite) SaveRule(ctx context.Context, rule *contracts.Rule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (id, remote_id, definition, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rule.ID, rule.RemoteID, rule.Definition, string(rule.Status), rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save rule: %w", err)
	}
	return nil
}

func (s *SQLite) SupersedeRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET status = ? WHERE id = ?`, string(contracts.RuleSuperseded), id)
	if err != nil {
		return fmt.Errorf("store: supersede rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) SaveAgreement(ctx context.Context, a *contracts.Agreement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agreements (id, remote_id, rule_text, confirmed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.RemoteID, a.RuleText, a.Confirmed, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save agreement: %w", err)
	}
	return nil
}

func (s *SQLite) ConfirmAgreement(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agreements SET confirmed = 1, updated_at = ?
		WHERE id = ? AND confirmed = 0`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: confirm agreement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	// Distinguish missing from already-confirmed.
	var confirmed bool
	err = s.db.QueryRowContext(ctx, `SELECT confirmed FROM agreements WHERE id = ?`, id).Scan(&confirmed)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: confirm agreement: %w", err)
	}
	return ErrAlreadyConfirmed
}

func (s *SQLite) GetAgreement(ctx context.Context, id string) (*contracts.Agreement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, remote_id, rule_text, confirmed, created_at, updated_at
		FROM agreements WHERE id = ?`, id)

	var a contracts.Agreement
	if err := row.Scan(&a.ID, &a.RemoteID, &a.RuleText, &a.Confirmed, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get agreement: %w", err)
	}
	return &a, nil
}

// CheckAndIncrement implements the enforcement engine's UsageCounter.
func (s *SQLite) CheckAndIncrement(ctx context.Context, ruleID string, max int64) (int64, bool, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rule_usage (rule_id, used) VALUES (?, 0)`, ruleID); err != nil {
		return 0, false, fmt.Errorf("store: usage init: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE rule_usage SET used = used + 1 WHERE rule_id = ? AND used < ?`, ruleID, max)
	if err != nil {
		return 0, false, fmt.Errorf("store: usage increment: %w", err)
	}
	granted, _ := res.RowsAffected()

	var used int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT used FROM rule_usage WHERE rule_id = ?`, ruleID).Scan(&used); err != nil {
		return 0, false, fmt.Errorf("store: usage read: %w", err)
	}
	return used, granted == 1, nil
}
