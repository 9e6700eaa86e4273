package policy

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresTable implements Table backed by the policies table.
type PostgresTable struct {
	db *sql.DB
}

// NewPostgresTable creates a new Postgres-backed policy table.
func NewPostgresTable(db *sql.DB) *PostgresTable {
	return &PostgresTable{db: db}
}

// Get retrieves the policy entry for an action kind.
func (t *PostgresTable) Get(actionKind string) (*Entry, error) {
	var e Entry
	query := `SELECT action_kind, minimum_tier, capabilities, enabled, updated_at
	          FROM policies WHERE action_kind = $1`
	err := t.db.QueryRow(query, actionKind).Scan(
		&e.ActionKind, &e.MinimumTier, pq.Array(&e.Capabilities), &e.Enabled, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return &e, nil
}

// Set creates or replaces the entry for an action kind.
func (t *PostgresTable) Set(entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	entry.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO policies (action_kind, minimum_tier, capabilities, enabled, updated_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (action_kind) DO UPDATE
	          SET minimum_tier = EXCLUDED.minimum_tier,
	              capabilities = EXCLUDED.capabilities,
	              enabled = EXCLUDED.enabled,
	              updated_at = EXCLUDED.updated_at`
	_, err := t.db.Exec(query, entry.ActionKind, entry.MinimumTier,
		pq.Array(entry.Capabilities), entry.Enabled, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set policy: %w", err)
	}
	return nil
}

// Disable blocks future approvals for the action kind.
func (t *PostgresTable) Disable(actionKind string) error {
	return t.setEnabled(actionKind, false)
}

// Enable re-enables a previously disabled action kind.
func (t *PostgresTable) Enable(actionKind string) error {
	return t.setEnabled(actionKind, true)
}

func (t *PostgresTable) setEnabled(actionKind string, enabled bool) error {
	res, err := t.db.Exec(`UPDATE policies SET enabled = $1, updated_at = NOW() WHERE action_kind = $2`,
		enabled, actionKind)
	if err != nil {
		return fmt.Errorf("failed to update policy enablement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all entries ordered by action kind.
func (t *PostgresTable) List() ([]Entry, error) {
	rows, err := t.db.Query(`SELECT action_kind, minimum_tier, capabilities, enabled, updated_at
	                         FROM policies ORDER BY action_kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ActionKind, &e.MinimumTier, pq.Array(&e.Capabilities), &e.Enabled, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
