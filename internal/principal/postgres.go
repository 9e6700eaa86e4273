package principal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRegistry implements Registry backed by the principals table.
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry creates a new Postgres-backed principal registry.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// Lookup retrieves a principal by id.
func (r *PostgresRegistry) Lookup(id string) (*Principal, error) {
	var p Principal
	var lineage sql.NullString

	query := `SELECT id, tier, standing, created_at, lineage_ref
	          FROM principals WHERE id = $1`
	err := r.db.QueryRow(query, id).Scan(&p.ID, &p.Tier, &p.Standing, &p.CreatedAt, &lineage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lookup principal: %w", err)
	}
	if lineage.Valid {
		p.LineageRef = lineage.String
	}
	return &p, nil
}

// Create registers a new principal.
func (r *PostgresRegistry) Create(p *Principal) error {
	if p.Standing == "" {
		p.Standing = StandingActive
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	var lineage interface{}
	if p.LineageRef != "" {
		lineage = p.LineageRef
	}

	query := `INSERT INTO principals (id, tier, standing, created_at, lineage_ref)
	          VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Exec(query, p.ID, p.Tier, p.Standing, p.CreatedAt, lineage)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create principal: %w", err)
	}
	return nil
}

// UpdateStanding changes a principal's standing inside a transaction so the
// transition check and the write are atomic with respect to concurrent
// updates of the same row.
func (r *PostgresRegistry) UpdateStanding(id, newStanding string) error {
	if !ValidStandings[newStanding] {
		return ErrInvalidStanding
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRow(`SELECT standing FROM principals WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read current standing: %w", err)
	}

	if !CanTransition(current, newStanding) {
		return ErrInvalidTransition
	}

	if _, err := tx.Exec(`UPDATE principals SET standing = $1 WHERE id = $2`, newStanding, id); err != nil {
		return fmt.Errorf("failed to update standing: %w", err)
	}
	return tx.Commit()
}

// VerifyLineage walks the lineage chain toward the root using a recursive
// query bounded by MaxLineageDepth.
func (r *PostgresRegistry) VerifyLineage(id string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM principals WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check principal existence: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}

	// Walk the chain: count hops until a principal with no lineage_ref.
	// A dangling reference or a walk exceeding the depth bound fails.
	query := `
	WITH RECURSIVE chain AS (
	    SELECT id, lineage_ref, 0 AS depth
	    FROM principals WHERE id = $1
	    UNION ALL
	    SELECT p.id, p.lineage_ref, c.depth + 1
	    FROM principals p
	    JOIN chain c ON p.id = c.lineage_ref
	    WHERE c.depth < $2
	)
	SELECT
	    bool_and(lineage_ref IS NULL OR EXISTS(SELECT 1 FROM principals x WHERE x.id = chain.lineage_ref)),
	    bool_or(lineage_ref IS NULL)
	FROM chain`

	var allResolve, terminated sql.NullBool
	if err := r.db.QueryRow(query, id, MaxLineageDepth).Scan(&allResolve, &terminated); err != nil {
		return false, fmt.Errorf("failed to walk lineage chain: %w", err)
	}
	return allResolve.Valid && allResolve.Bool && terminated.Valid && terminated.Bool, nil
}

// All returns every registered principal, ordered by creation time.
func (r *PostgresRegistry) All() ([]Principal, error) {
	rows, err := r.db.Query(`SELECT id, tier, standing, created_at, lineage_ref
	                         FROM principals ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var out []Principal
	for rows.Next() {
		var p Principal
		var lineage sql.NullString
		if err := rows.Scan(&p.ID, &p.Tier, &p.Standing, &p.CreatedAt, &lineage); err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		if lineage.Valid {
			p.LineageRef = lineage.String
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
