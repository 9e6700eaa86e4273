// Package authz implements the authorization engine: the fixed-order state
// machine that approves or denies a requested action and issues approval
// tokens.
package authz

// Denial reasons, in the order the checks run. The first failing check
// determines the reason; failures are never aggregated.
const (
	ReasonReplayRejected     = "replay_rejected"
	ReasonRuntimeInactive    = "runtime_inactive"
	ReasonPrincipalNotFound  = "principal_not_found"
	ReasonPrincipalSuspended = "principal_suspended"
	ReasonPrincipalRevoked   = "principal_revoked"
	ReasonPolicyDisabled     = "policy_disabled"
	ReasonInsufficientTier   = "insufficient_tier"
	ReasonMissingCapability  = "missing_capability"
	ReasonRootSignature      = "root_signature_invalid"
)

// Request is an authorization request presented to the engine.
type Request struct {
	PrincipalID         string   `json:"principal_id"`
	ActionKind          string   `json:"action_kind"`
	RuntimeID           string   `json:"runtime_id"`
	RequestNonce        string   `json:"request_nonce"`
	CapabilitiesClaimed []string `json:"capabilities_claimed,omitempty"`
}

// Decision is the engine's answer. On approval the signed token and its
// metadata are populated; on denial only the reason is.
type Decision struct {
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
	TokenID   string `json:"token_id,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}
