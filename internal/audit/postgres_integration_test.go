//go:build integration

// Integration tests for the Postgres audit repository. They start a
// disposable Postgres via testcontainers.
//
// Run with: go test -tags=integration -v ./internal/audit/...
package audit

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("authbridge_test"),
		tcpostgres.WithUsername("authbridge"),
		tcpostgres.WithPassword("authbridge"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("could not start postgres container (docker unavailable?): %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ddl, err := os.ReadFile(filepath.Join("..", "..", "migrations", "000003_create_audit_log.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := db.Exec(string(ddl)); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	return db
}

func TestPostgresAppendChains(t *testing.T) {
	db := startPostgres(t)
	repo := NewPostgresRepository(db)

	first, err := repo.Append(Entry{
		Kind:        KindDecision,
		PrincipalID: "p-1",
		ActionKind:  "grant_credit",
		Outcome:     OutcomeApproved,
		TokenID:     "tok-1",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if first.PreviousHash != "" {
		t.Errorf("genesis entry must have empty previous hash, got %q", first.PreviousHash)
	}

	second, err := repo.Append(Entry{
		Kind:        KindExecution,
		PrincipalID: "p-1",
		ActionKind:  "grant_credit",
		Outcome:     OutcomeSuccess,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if second.PreviousHash != first.EntryHash {
		t.Error("second entry must chain to the first entry's hash")
	}

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head != second.EntryHash {
		t.Error("head must be the most recent entry's hash")
	}
}

func TestPostgresVerifyChainSurvivesRoundTrip(t *testing.T) {
	db := startPostgres(t)
	repo := NewPostgresRepository(db)

	// Timestamps round-trip through timestamptz at microsecond precision;
	// verification recomputes hashes from the stored values.
	for i := 0; i < 5; i++ {
		if _, err := repo.Append(Entry{
			Kind:        KindDecision,
			PrincipalID: "p-1",
			ActionKind:  "grant_credit",
			Outcome:     OutcomeDenied,
			Reason:      "runtime_inactive",
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := repo.VerifyChain(); err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
}

func TestPostgresVerifyChainDetectsTampering(t *testing.T) {
	db := startPostgres(t)
	repo := NewPostgresRepository(db)

	for i := 0; i < 3; i++ {
		if _, err := repo.Append(Entry{
			Kind:    KindSync,
			Outcome: OutcomeSuccess,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if _, err := db.Exec(`UPDATE audit_log SET outcome = 'failure' WHERE seq = 2`); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if err := repo.VerifyChain(); err == nil {
		t.Fatal("expected chain verification to fail after tampering")
	}
}

func TestPostgresQueryByPrincipal(t *testing.T) {
	db := startPostgres(t)
	repo := NewPostgresRepository(db)

	for _, pid := range []string{"p-1", "p-2", "p-1"} {
		if _, err := repo.Append(Entry{
			Kind:        KindDecision,
			PrincipalID: pid,
			ActionKind:  "grant_credit",
			Outcome:     OutcomeApproved,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := repo.QueryByPrincipal("p-1", 0)
	if err != nil {
		t.Fatalf("QueryByPrincipal: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for p-1, got %d", len(entries))
	}
	// Newest first.
	if entries[0].CreatedAt.Before(entries[1].CreatedAt) {
		t.Error("expected newest-first ordering")
	}
}
