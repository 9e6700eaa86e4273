// Package gate couples authorization, token consumption, and execution into
// a single guarded operation. Callers hand the gate an action; the gate runs
// it only behind a freshly approved, exactly-once-consumed token.
package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openclavis/authbridge/internal/audit"
	"github.com/openclavis/authbridge/internal/authz"
	"github.com/openclavis/authbridge/internal/replay"
	"github.com/openclavis/authbridge/internal/token"
)

// ErrReplayRejected is returned when the approval token was already consumed
// or expired before the action could run.
var ErrReplayRejected = errors.New("approval token already consumed or expired")

// DeniedError is returned when the authorization engine denies the request.
// The action is never executed.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("action denied: %s", e.Reason)
}

// Action is the guarded operation. It runs only after authorization succeeds
// and the approval token is consumed. The returned bytes are digested into
// the signature stamp.
type Action func(ctx context.Context) ([]byte, error)

// Outcome describes a completed gated action.
type Outcome struct {
	StampID      string    `json:"stamp_id"`
	TokenID      string    `json:"token_id"`
	PrincipalID  string    `json:"principal_id"`
	ActionKind   string    `json:"action_kind"`
	ResultDigest string    `json:"result_digest"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// Gate performs authorized actions.
type Gate struct {
	engine   *authz.Engine
	cache    replay.Cache
	auditLog *audit.Log
	logger   *slog.Logger
}

// New creates a Gate.
func New(engine *authz.Engine, cache replay.Cache, auditLog *audit.Log, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		engine:   engine,
		cache:    cache,
		auditLog: auditLog,
		logger:   logger,
	}
}

// Perform authorizes the request, consumes the resulting approval token, and
// executes the action. On denial the action never runs and a *DeniedError is
// returned. Consumption happens before execution and is not rolled back if
// the action fails afterward.
func (g *Gate) Perform(ctx context.Context, req authz.Request, action Action) (*Outcome, error) {
	decision, err := g.engine.Authorize(ctx, req)
	if err != nil {
		return nil, err
	}
	if !decision.Approved {
		return nil, &DeniedError{Reason: decision.Reason}
	}

	claims, err := g.engine.Issuer().Verify(decision.Token)
	if err != nil {
		return nil, fmt.Errorf("approval token verification failed: %w", err)
	}

	consumed, err := g.cache.Consume(ctx, decision.TokenID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, fmt.Errorf("token consumption failed: %w", err)
	}
	if !consumed {
		return nil, ErrReplayRejected
	}

	result, err := action(ctx)
	if err != nil {
		// The token stays consumed. Log enough to reconcile the attempt.
		g.logger.Error("gated action failed after token consumption",
			"token_id", decision.TokenID,
			"principal_id", req.PrincipalID,
			"action_kind", req.ActionKind,
			"error", err,
		)
		g.logExecution(req, decision.TokenID, audit.OutcomeFailure, err.Error(), "")
		return nil, fmt.Errorf("action execution failed: %w", err)
	}

	digest := sha256.Sum256(result)
	outcome := &Outcome{
		StampID:      uuid.New().String(),
		TokenID:      decision.TokenID,
		PrincipalID:  req.PrincipalID,
		ActionKind:   req.ActionKind,
		ResultDigest: hex.EncodeToString(digest[:]),
		ExecutedAt:   time.Now().UTC(),
	}

	// The stamp carries the token's signature segment, not the whole token,
	// so the audit record is not a usable bearer credential.
	stamp := stampDetail(outcome.StampID, outcome.ResultDigest, token.SignaturePart(decision.Token))
	g.logExecution(req, decision.TokenID, audit.OutcomeSuccess, "", stamp)

	return outcome, nil
}

func stampDetail(stampID, digest, signature string) string {
	return fmt.Sprintf("stamp=%s digest=%s sig=%s", stampID, digest, signature)
}

func (g *Gate) logExecution(req authz.Request, tokenID, outcome, reason, detail string) {
	entry := audit.Entry{
		Kind:        audit.KindExecution,
		PrincipalID: req.PrincipalID,
		ActionKind:  req.ActionKind,
		Outcome:     outcome,
		Reason:      reason,
		RequestID:   req.RequestNonce,
		TokenID:     tokenID,
		Detail:      detail,
	}
	if _, err := g.auditLog.Append(entry); err != nil {
		g.logger.Error("failed to append execution audit entry",
			"token_id", tokenID,
			"error", err,
		)
	}
}
