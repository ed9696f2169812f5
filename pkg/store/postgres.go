package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/datasphere-labs/connector/pkg/contracts"

	_ "github.com/lib/pq"
)

// Postgres is the shared store for multi-instance deployments.
type Postgres struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	remote_id TEXT,
	definition BYTEA NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS agreements (
	id TEXT PRIMARY KEY,
	remote_id TEXT NOT NULL,
	rule_text BYTEA,
	confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_usage (
	rule_id TEXT PRIMARY KEY,
	used BIGINT NOT NULL DEFAULT 0
);
`

// NewPostgres creates a store over an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Init applies the schema.
func (s *Postgres) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

func (s *Postgres) LoadRule(ctx context.Context, id string) (*contracts.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, remote_id, definition, status, created_at
		FROM rules WHERE id = $1 AND status = $2`, id, string(contracts.RuleActive))

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

func (s *Postgres) SaveRule(ctx context.Context, rule *contracts.Rule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (id, remote_id, definition, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rule.ID, rule.RemoteID, rule.Definition, string(rule.Status), rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save rule: %w", err)
	}
	return nil
}

func (s *Postgres) SupersedeRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET status = $1 WHERE id = $2`, string(contracts.RuleSuperseded), id)
	if err != nil {
		return fmt.Errorf("store: supersede rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SaveAgreement(ctx context.Context, a *contracts.Agreement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agreements (id, remote_id, rule_text, confirmed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.RemoteID, a.RuleText, a.Confirmed, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save agreement: %w", err)
	}
	return nil
}

func (s *Postgres) ConfirmAgreement(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agreements SET confirmed = TRUE, updated_at = $1
		WHERE id = $2 AND confirmed = FALSE`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: confirm agreement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var confirmed bool
	err = s.db.QueryRowContext(ctx, `SELECT confirmed FROM agreements WHERE id = $1`, id).Scan(&confirmed)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: confirm agreement: %w", err)
	}
	return ErrAlreadyConfirmed
}

func (s *Postgres) GetAgreement(ctx context.Context, id string) (*contracts.Agreement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, remote_id, rule_text, confirmed, created_at, updated_at
		FROM agreements WHERE id = $1`, id)

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
// The conditional UPDATE makes the compare-and-increment atomic across
// connector instances sharing the database.
func (s *Postgres) CheckAndIncrement(ctx context.Context, ruleID string, max int64) (int64, bool, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_usage (rule_id, used) VALUES ($1, 0)
		ON CONFLICT (rule_id) DO NOTHING`, ruleID); err != nil {
		return 0, false, fmt.Errorf("store: usage init: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE rule_usage SET used = used + 1 WHERE rule_id = $1 AND used < $2`, ruleID, max)
	if err != nil {
		return 0, false, fmt.Errorf("store: usage increment: %w", err)
	}
	granted, _ := res.RowsAffected()

	var used int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT used FROM rule_usage WHERE rule_id = $1`, ruleID).Scan(&used); err != nil {
		return 0, false, fmt.Errorf("store: usage read: %w", err)
	}
	return used, granted == 1, nil
}
