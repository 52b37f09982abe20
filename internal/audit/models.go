package audit

import "time"

// Event is an append-only record of an operator acting on a live call.
//
// Invariants:
// - Events are never updated or deleted.
// - organization_id is required for tenancy isolation.
// - recording is best-effort; call control never blocks on audit failures.
type Event struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`

	Action Action `json:"action" db:"action"`
	CallID string `json:"call_id" db:"call_id"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	// ActorRole may include hidden roles.
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Outcome is "accepted" or the error class returned to the operator.
	Outcome string `json:"outcome" db:"outcome"`
	// Detail is free-form, e.g. the redirect URL.
	Detail string `json:"detail,omitempty" db:"detail"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Action string

const (
	ActionHangup   Action = "call_hangup"
	ActionRedirect Action = "call_redirect"
)
