package audit

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository implements Repository backed by the audit_log table.
//
// Appends run inside a transaction that locks the chain head, so concurrent
// writers serialize and the hash chain never forks.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new Postgres-backed audit repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const auditColumns = `id, kind, principal_id, action_kind, outcome, reason,
	request_id, token_id, detail, emergency, created_at, previous_hash, entry_hash`

// Append writes a new entry, chaining it to the current head.
func (r *PostgresRepository) Append(e Entry) (*Entry, error) {
	if !ValidKinds[e.Kind] {
		return nil, ErrInvalidKind
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize appends on the head row so the chain cannot fork.
	var prevHash string
	err = tx.QueryRow(`SELECT entry_hash FROM audit_log ORDER BY seq DESC LIMIT 1 FOR UPDATE`).Scan(&prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}

	e.ID = uuid.New().String()
	// Truncate to microseconds so the timestamp round-trips through
	// timestamptz and chain verification can recompute identical hashes.
	e.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	e.PreviousHash = prevHash
	e.EntryHash = ComputeHash(&e)

	_, err = tx.Exec(`INSERT INTO audit_log (`+auditColumns+`)
	                  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.Kind, e.PrincipalID, e.ActionKind, e.Outcome, e.Reason,
		e.RequestID, e.TokenID, e.Detail, e.Emergency, e.CreatedAt, e.PreviousHash, e.EntryHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit entry: %w", err)
	}
	return &e, nil
}

// QueryByPrincipal retrieves entries for a principal, newest first.
func (r *PostgresRepository) QueryByPrincipal(principalID string, limit int) ([]*Entry, error) {
	return r.queryWhere(`principal_id = $1`, principalID, limit)
}

// QueryByKind retrieves entries of a given kind, newest first.
func (r *PostgresRepository) QueryByKind(kind string, limit int) ([]*Entry, error) {
	return r.queryWhere(`kind = $1`, kind, limit)
}

func (r *PostgresRepository) queryWhere(where string, arg string, limit int) ([]*Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE ` + where + ` ORDER BY seq DESC`
	args := []interface{}{arg}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var results []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// Head returns the hash of the most recent entry.
func (r *PostgresRepository) Head() (string, error) {
	var head string
	err := r.db.QueryRow(`SELECT entry_hash FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&head)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read chain head: %w", err)
	}
	return head, nil
}

// VerifyChain recomputes every hash from genesis in sequence order.
func (r *PostgresRepository) VerifyChain() error {
	rows, err := r.db.Query(`SELECT ` + auditColumns + ` FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	defer rows.Close()

	prev := ""
	i := 0
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if e.PreviousHash != prev {
			return fmt.Errorf("%w: entry %d previous hash mismatch", ErrChainBroken, i)
		}
		if ComputeHash(e) != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		prev = e.EntryHash
		i++
	}
	return rows.Err()
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var e Entry
	var principalID, actionKind, reason, requestID, tokenID, detail sql.NullString
	if err := rows.Scan(&e.ID, &e.Kind, &principalID, &actionKind, &e.Outcome, &reason,
		&requestID, &tokenID, &detail, &e.Emergency, &e.CreatedAt, &e.PreviousHash, &e.EntryHash); err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	e.PrincipalID = principalID.String
	e.ActionKind = actionKind.String
	e.Reason = reason.String
	e.RequestID = requestID.String
	e.TokenID = tokenID.String
	e.Detail = detail.String
	return &e, nil
}
