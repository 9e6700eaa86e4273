package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openclavis/authbridge/internal/audit"
	"github.com/openclavis/authbridge/internal/liveness"
	"github.com/openclavis/authbridge/internal/policy"
	"github.com/openclavis/authbridge/internal/principal"
	"github.com/openclavis/authbridge/internal/replay"
	"github.com/openclavis/authbridge/internal/token"
)

var (
	// ErrEmptyNonce is returned when a request arrives without a nonce.
	// Every attempt, including a retry of a denied request, must mint a
	// fresh nonce.
	ErrEmptyNonce = errors.New("request nonce cannot be empty")

	// ErrAuditUnavailable wraps an audit append failure. The engine fails
	// closed: a decision that cannot be durably logged is not returned.
	ErrAuditUnavailable = errors.New("audit log unavailable")
)

// Engine evaluates authorization requests through a fixed-order state
// machine and issues approval tokens on success.
//
// States per request: Received -> RuntimeChecked -> PrincipalChecked ->
// PolicyChecked -> Approved|Denied. The first failing check determines the
// denial reason. Every decision, approved or denied, is appended to the
// audit log synchronously before the call returns.
type Engine struct {
	monitor  *liveness.Monitor
	registry principal.Registry
	policies policy.Table
	cache    replay.Cache
	issuer   *token.Issuer
	rootKey  *RootKey
	auditLog *audit.Log
	metrics  *Metrics
	logger   *slog.Logger
}

// Config holds the engine's collaborators.
type Config struct {
	Monitor  *liveness.Monitor
	Registry principal.Registry
	Policies policy.Table
	Cache    replay.Cache
	Issuer   *token.Issuer
	RootKey  *RootKey
	AuditLog *audit.Log
	Metrics  *Metrics
	Logger   *slog.Logger
}

// NewEngine creates an authorization engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		monitor:  cfg.Monitor,
		registry: cfg.Registry,
		policies: cfg.Policies,
		cache:    cfg.Cache,
		issuer:   cfg.Issuer,
		rootKey:  cfg.RootKey,
		auditLog: cfg.AuditLog,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Authorize evaluates a request and returns the decision. All
// authorization-path failures are recovered into a structured denial; an
// error return means the decision itself could not be made durable.
func (e *Engine) Authorize(ctx context.Context, req Request) (*Decision, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ObserveDecisionDuration(req.ActionKind, time.Since(start).Seconds())
		}
	}()

	if req.RequestNonce == "" {
		return nil, ErrEmptyNonce
	}

	// A replayed request must never be re-evaluated, so the nonce check
	// runs before everything else.
	seen, err := e.cache.SeenNonce(ctx, req.RequestNonce)
	if err != nil {
		return nil, fmt.Errorf("nonce check failed: %w", err)
	}
	if seen {
		return e.deny(ctx, req, ReasonReplayRejected)
	}

	// Received -> RuntimeChecked
	if !e.monitor.IsLive(req.RuntimeID) {
		return e.deny(ctx, req, ReasonRuntimeInactive)
	}

	// RuntimeChecked -> PrincipalChecked
	p, err := e.registry.Lookup(req.PrincipalID)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return e.deny(ctx, req, ReasonPrincipalNotFound)
		}
		return nil, fmt.Errorf("principal lookup failed: %w", err)
	}
	switch p.Standing {
	case principal.StandingActive:
		// proceed
	case principal.StandingRevoked:
		return e.deny(ctx, req, ReasonPrincipalRevoked)
	default:
		return e.deny(ctx, req, ReasonPrincipalSuspended)
	}

	// PrincipalChecked -> PolicyChecked
	pol, err := e.policies.Get(req.ActionKind)
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			// No policy entry means the action kind is not enabled.
			return e.deny(ctx, req, ReasonPolicyDisabled)
		}
		return nil, fmt.Errorf("policy lookup failed: %w", err)
	}
	if !pol.Enabled {
		return e.deny(ctx, req, ReasonPolicyDisabled)
	}
	if p.Tier < pol.MinimumTier {
		return e.deny(ctx, req, ReasonInsufficientTier)
	}
	if missing := pol.MissingCapability(req.CapabilitiesClaimed); missing != "" {
		return e.deny(ctx, req, ReasonMissingCapability)
	}

	// PolicyChecked -> Approved
	approval, err := e.issuer.Issue(req.PrincipalID, req.ActionKind, req.RuntimeID, p.Tier)
	if err != nil {
		return nil, fmt.Errorf("token issuance failed: %w", err)
	}

	if err := e.logDecision(req, audit.OutcomeApproved, "", approval.TokenID, false); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.IncDecisions(req.ActionKind, "approved")
	}

	return &Decision{
		Approved:  true,
		TokenID:   approval.TokenID,
		Token:     approval.Signed,
		ExpiresAt: approval.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// Override is the emergency path: it bypasses the state machine for a
// request signed directly by the root key. The signature covers the raw
// request payload as transmitted, so clients sign the exact bytes they
// send. The issued token is short-lived and flagged as an emergency grant
// in both its claims and the audit log. An invalid root signature raises a
// security alert and fails the request.
func (e *Engine) Override(ctx context.Context, req Request, payload []byte, signature string) (*Decision, error) {
	if !e.rootKey.Verify(payload, signature) {
		alert := audit.Entry{
			Kind:        audit.KindSecurityAlert,
			PrincipalID: req.PrincipalID,
			ActionKind:  req.ActionKind,
			Outcome:     audit.OutcomeDenied,
			Reason:      ReasonRootSignature,
			RequestID:   req.RequestNonce,
		}
		if _, auditErr := e.auditLog.Append(alert); auditErr != nil {
			e.logger.Error("failed to log security alert", "error", auditErr)
		}
		if e.metrics != nil {
			e.metrics.IncOverrides("rejected")
		}
		e.logger.Warn("emergency override with invalid root signature",
			"principal_id", req.PrincipalID,
			"action_kind", req.ActionKind,
		)
		return nil, ErrRootSignature
	}

	approval, err := e.issuer.IssueEmergency(req.PrincipalID, req.ActionKind, req.RuntimeID, principal.MaxTier)
	if err != nil {
		return nil, fmt.Errorf("emergency token issuance failed: %w", err)
	}

	if err := e.logDecision(req, audit.OutcomeApproved, "", approval.TokenID, true); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.IncOverrides("granted")
	}

	return &Decision{
		Approved:  true,
		TokenID:   approval.TokenID,
		Token:     approval.Signed,
		ExpiresAt: approval.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// Issuer exposes the engine's token issuer for gate-side verification.
func (e *Engine) Issuer() *token.Issuer {
	return e.issuer
}

func (e *Engine) deny(ctx context.Context, req Request, reason string) (*Decision, error) {
	if err := e.logDecision(req, audit.OutcomeDenied, reason, "", false); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.IncDecisions(req.ActionKind, reason)
	}
	return &Decision{Approved: false, Reason: reason}, nil
}

// logDecision appends the decision to the audit log. Callers must never
// observe an approval that was not already durably logged.
func (e *Engine) logDecision(req Request, outcome, reason, tokenID string, emergency bool) error {
	entry := audit.Entry{
		Kind:        audit.KindDecision,
		PrincipalID: req.PrincipalID,
		ActionKind:  req.ActionKind,
		Outcome:     outcome,
		Reason:      reason,
		RequestID:   req.RequestNonce,
		TokenID:     tokenID,
		Emergency:   emergency,
	}
	if _, err := e.auditLog.Append(entry); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}
	return nil
}
