package authz

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/openclavis/authbridge/internal/audit"
	"github.com/openclavis/authbridge/internal/liveness"
	"github.com/openclavis/authbridge/internal/policy"
	"github.com/openclavis/authbridge/internal/principal"
	"github.com/openclavis/authbridge/internal/replay"
	"github.com/openclavis/authbridge/internal/token"
)

const testSigningSecret = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="
const testRootSecret = "root-1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk9J3p6="

type fixture struct {
	engine   *Engine
	monitor  *liveness.Monitor
	registry *principal.InMemoryRegistry
	policies *policy.InMemoryTable
	auditRep *audit.InMemoryRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	monitor := liveness.NewMonitor(15 * time.Minute)
	registry := principal.NewInMemoryRegistry()
	policies := policy.NewInMemoryTable()
	auditRepo := audit.NewInMemoryRepository()
	auditLog, err := audit.NewLog(auditRepo)
	if err != nil {
		t.Fatalf("NewLog() error = %v", err)
	}

	engine := NewEngine(Config{
		Monitor:  monitor,
		Registry: registry,
		Policies: policies,
		Cache:    replay.NewInMemoryCache(0),
		Issuer:   token.NewIssuer(testSigningSecret, time.Minute),
		RootKey:  NewRootKey(testRootSecret),
		AuditLog: auditLog,
	})

	return &fixture{
		engine:   engine,
		monitor:  monitor,
		registry: registry,
		policies: policies,
		auditRep: auditRepo,
	}
}

// seed installs a live runtime, an active tier-5 principal, and an enabled
// policy requiring tier 3.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	if err := f.monitor.Record("runtime-1", liveness.StatusBlessed, 1); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := f.registry.Create(&principal.Principal{ID: "p-1", Tier: 5}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := f.policies.Set(&policy.Entry{ActionKind: "grant_credit", MinimumTier: 3, Enabled: true}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
}

func baseRequest(nonce string) Request {
	return Request{
		PrincipalID:  "p-1",
		ActionKind:   "grant_credit",
		RuntimeID:    "runtime-1",
		RequestNonce: nonce,
	}
}

func TestAuthorizeApproved(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	dec, err := f.engine.Authorize(context.Background(), baseRequest("n-1"))
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if !dec.Approved {
		t.Fatalf("Authorize() denied with reason %q, want approval", dec.Reason)
	}
	if dec.TokenID == "" || dec.Token == "" || dec.ExpiresAt == "" {
		t.Errorf("approval missing token fields: %+v", dec)
	}

	// The approval must already be durably logged.
	entries, _ := f.auditRep.QueryByKind(audit.KindDecision, 0)
	if len(entries) != 1 {
		t.Fatalf("audit log has %d decision entries, want 1", len(entries))
	}
	if entries[0].Outcome != audit.OutcomeApproved || entries[0].TokenID != dec.TokenID {
		t.Errorf("audit entry = %+v, want approved with token id %q", entries[0], dec.TokenID)
	}
}

func TestDenialOrderAndReasons(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, f *fixture)
		req    func() Request
		reason string
	}{
		{
			name:   "runtime never seen",
			setup:  func(t *testing.T, f *fixture) {},
			req:    func() Request { return baseRequest("n-1") },
			reason: ReasonRuntimeInactive,
		},
		{
			name: "runtime degraded",
			setup: func(t *testing.T, f *fixture) {
				f.monitor.Record("runtime-1", liveness.StatusDegraded, 1)
			},
			req:    func() Request { return baseRequest("n-1") },
			reason: ReasonRuntimeInactive,
		},
		{
			name: "runtime inactive outranks unknown principal",
			setup: func(t *testing.T, f *fixture) {
				// Neither runtime nor principal exist; the runtime
				// check runs first and determines the reason.
			},
			req: func() Request {
				r := baseRequest("n-1")
				r.PrincipalID = "ghost"
				return r
			},
			reason: ReasonRuntimeInactive,
		},
		{
			name: "unknown principal",
			setup: func(t *testing.T, f *fixture) {
				f.monitor.Record("runtime-1", liveness.StatusBlessed, 1)
			},
			req:    func() Request { return baseRequest("n-1") },
			reason: ReasonPrincipalNotFound,
		},
		{
			name: "suspended principal",
			setup: func(t *testing.T, f *fixture) {
				f.seed(t)
				f.registry.UpdateStanding("p-1", principal.StandingSuspended)
			},
			req:    func() Request { return baseRequest("n-1") },
			reason: ReasonPrincipalSuspended,
		},
		{
			name: "revoked principal",
			setup: func(t *testing.T, f *fixture) {
				f.seed(t)
				f.registry.UpdateStanding("p-1", principal.StandingRevoked)
			},
			req:    func() Request { return baseRequest("n-1") },
			reason: ReasonPrincipalRevoked,
		},
		{
			name: "no policy entry",
			setup: func(t *testing.T, f *fixture) {
				f.monitor.Record("runtime-1", liveness.StatusBlessed, 1)
				f.registry.Create(&principal.Principal{ID: "p-1", Tier: 5})
			},
			req:    func() Request { return baseRequest("n-1") },
			reason: ReasonPolicyDisabled,
		},
		{
			name: "disabled policy",
			setup: func(t *testing.T, f *fixture) {
				f.seed(t)
				f.policies.Disable("grant_credit")
			},
			req:    func() Request { return baseRequest("n-1") },
			reason: ReasonPolicyDisabled,
		},
		{
			name: "tier 2 principal against tier 3 policy",
			setup: func(t *testing.T, f *fixture) {
				f.monitor.Record("runtime-1", liveness.StatusBlessed, 1)
				f.registry.Create(&principal.Principal{ID: "p-1", Tier: 2})
				f.policies.Set(&policy.Entry{ActionKind: "grant_credit", MinimumTier: 3, Enabled: true})
			},
			req:    func() Request { return baseRequest("n-1") },
			reason: ReasonInsufficientTier,
		},
		{
			name: "missing capability",
			setup: func(t *testing.T, f *fixture) {
				f.monitor.Record("runtime-1", liveness.StatusBlessed, 1)
				f.registry.Create(&principal.Principal{ID: "p-1", Tier: 5})
				f.policies.Set(&policy.Entry{
					ActionKind:   "grant_credit",
					MinimumTier:  3,
					Capabilities: []string{"credit:grant"},
					Enabled:      true,
				})
			},
			req:    func() Request { return baseRequest("n-1") },
			reason: ReasonMissingCapability,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)

			dec, err := f.engine.Authorize(context.Background(), tt.req())
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
			if dec.Approved {
				t.Fatal("Authorize() approved, want denial")
			}
			if dec.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", dec.Reason, tt.reason)
			}

			// Denials are audit-logged too.
			entries, _ := f.auditRep.QueryByKind(audit.KindDecision, 0)
			if len(entries) != 1 || entries[0].Reason != tt.reason {
				t.Errorf("audit log entries = %+v, want single denial with reason %q", entries, tt.reason)
			}
		})
	}
}

func TestAuthorizeStaleRuntimeDeniedRegardlessOfTier(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	monitor := liveness.NewMonitorWithClock(15*time.Minute, func() time.Time { return now })

	f := newFixture(t)
	f.monitor = monitor
	f.engine.monitor = monitor

	monitor.Record("runtime-1", liveness.StatusBlessed, 1)
	f.registry.Create(&principal.Principal{ID: "p-1", Tier: principal.MaxTier})
	f.policies.Set(&policy.Entry{ActionKind: "grant_credit", MinimumTier: 0, Enabled: true})

	now = now.Add(16 * time.Minute)
	dec, err := f.engine.Authorize(context.Background(), baseRequest("n-1"))
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if dec.Approved || dec.Reason != ReasonRuntimeInactive {
		t.Errorf("Decision = %+v, want runtime_inactive denial", dec)
	}
}

func TestAuthorizeNonceReplay(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	if _, err := f.engine.Authorize(ctx, baseRequest("n-reused")); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	dec, err := f.engine.Authorize(ctx, baseRequest("n-reused"))
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if dec.Approved || dec.Reason != ReasonReplayRejected {
		t.Errorf("Decision = %+v, want replay_rejected denial", dec)
	}
}

func TestAuthorizeEmptyNonce(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	if _, err := f.engine.Authorize(context.Background(), baseRequest("")); !errors.Is(err, ErrEmptyNonce) {
		t.Errorf("Authorize() error = %v, want ErrEmptyNonce", err)
	}
}

func TestOverride(t *testing.T) {
	f := newFixture(t)
	// No runtime, no principal, no policy: the override path skips all of it.
	req := baseRequest("n-override")
	payload, _ := json.Marshal(req)

	t.Run("valid root signature", func(t *testing.T) {
		sig := NewRootKey(testRootSecret).Sign(payload)
		dec, err := f.engine.Override(context.Background(), req, payload, sig)
		if err != nil {
			t.Fatalf("Override() error = %v", err)
		}
		if !dec.Approved || dec.Token == "" {
			t.Fatalf("Override() = %+v, want approval with token", dec)
		}

		claims, err := f.engine.Issuer().Verify(dec.Token)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if !claims.Emergency {
			t.Error("emergency token missing emergency claim")
		}

		entries, _ := f.auditRep.QueryByKind(audit.KindDecision, 0)
		if len(entries) != 1 || !entries[0].Emergency {
			t.Errorf("audit entries = %+v, want single emergency-flagged decision", entries)
		}
	})

	t.Run("invalid root signature raises security alert", func(t *testing.T) {
		sig := NewRootKey("wrong-secret").Sign(payload)
		_, err := f.engine.Override(context.Background(), req, payload, sig)
		if !errors.Is(err, ErrRootSignature) {
			t.Fatalf("Override() error = %v, want ErrRootSignature", err)
		}

		alerts, _ := f.auditRep.QueryByKind(audit.KindSecurityAlert, 0)
		if len(alerts) != 1 || alerts[0].Reason != ReasonRootSignature {
			t.Errorf("security alerts = %+v, want single root_signature_invalid entry", alerts)
		}
	})
}
