package models

import "time"

// ActorType identifies who caused an audit event.
type ActorType string

const (
	ActorDiscordUser ActorType = "discord_user"
	ActorSystem      ActorType = "system"
)

// Audit event kinds recorded by the ledger and orchestrator.
const (
	AuditClaimCreated    = "identity_claim_created"
	AuditVerifyExpired   = "identity_verification_expired"
	AuditVerifyNotFound  = "identity_verification_not_found"
	AuditVerified        = "identity_verified"
	AuditUnlinked        = "identity_unlinked"
	AuditReportGenerated = "report_generated"
	AuditRoleApplied     = "role_change_applied"
	AuditAssignApplied   = "assignment_applied"
)

// AuditEvent is one append-only audit trail entry.
type AuditEvent struct {
	ID        string         `json:"id"` // ULID
	Timestamp time.Time      `json:"timestamp"`
	ActorType ActorType      `json:"actor_type"`
	ActorID   string         `json:"actor_id"`
	Kind      string         `json:"event_type"`
	Context   map[string]any `json:"context"`
}
