package api

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/openclavis/authbridge/internal/audit"
	"github.com/openclavis/authbridge/internal/authz"
	"github.com/openclavis/authbridge/internal/gate"
	"github.com/openclavis/authbridge/internal/liveness"
	"github.com/openclavis/authbridge/internal/policy"
	"github.com/openclavis/authbridge/internal/principal"
	"github.com/openclavis/authbridge/internal/replay"
	"github.com/openclavis/authbridge/internal/token"
)

const (
	testSigningSecret = "api-test-signing-secret-x1y2z3"
	testRootSecret    = "api-test-root-secret-a9b8c7"
	testRuntimeID     = "runtime-1"
)

// testStack wires the full in-memory engine behind the handlers.
type testStack struct {
	monitor   *liveness.Monitor
	registry  *principal.InMemoryRegistry
	policies  *policy.InMemoryTable
	cache     *replay.InMemoryCache
	engine    *authz.Engine
	gate      *gate.Gate
	auditRepo *audit.InMemoryRepository
	auditLog  *audit.Log
	rootKey   *authz.RootKey
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	repo := audit.NewInMemoryRepository()
	auditLog, err := audit.NewLog(repo)
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	monitor := liveness.NewMonitor(15 * time.Minute)
	registry := principal.NewInMemoryRegistry()
	policies := policy.NewInMemoryTable()
	cache := replay.NewInMemoryCache(0)
	rootKey := authz.NewRootKey(testRootSecret)

	engine := authz.NewEngine(authz.Config{
		Monitor:  monitor,
		Registry: registry,
		Policies: policies,
		Cache:    cache,
		Issuer:   token.NewIssuer(testSigningSecret, time.Minute),
		RootKey:  rootKey,
		AuditLog: auditLog,
		Logger:   logger,
	})

	return &testStack{
		monitor:   monitor,
		registry:  registry,
		policies:  policies,
		cache:     cache,
		engine:    engine,
		gate:      gate.New(engine, cache, auditLog, logger),
		auditRepo: repo,
		auditLog:  auditLog,
		rootKey:   rootKey,
	}
}

// seed installs a live runtime, an active tier-5 principal, and an enabled
// grant_credit policy requiring tier 3.
func (s *testStack) seed(t *testing.T) {
	t.Helper()

	if err := s.monitor.Record(testRuntimeID, liveness.StatusBlessed, 1); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.registry.Create(&principal.Principal{ID: "p-1", Tier: 5}); err != nil {
		t.Fatalf("Create principal: %v", err)
	}
	if err := s.policies.Set(&policy.Entry{
		ActionKind:  "grant_credit",
		MinimumTier: 3,
		Enabled:     true,
	}); err != nil {
		t.Fatalf("Set policy: %v", err)
	}
}
