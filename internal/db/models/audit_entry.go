// Package models - audit_entry.go defines the AuditEntry model for recording
// security-relevant events, capturing actor, action, affected target, client IP,
// and action-specific metadata.
package models

import "time"

// SystemActor is the actor ID used for automated actions (retention cleanup,
// detector-emitted entries) that are not attributable to a human principal.
const SystemActor = "system"

// Action is the closed enumeration of recordable security-relevant actions.
type Action string

const (
	ActionUserLogin           Action = "user_login"
	ActionFailedLogin         Action = "failed_login"
	ActionUserLogout          Action = "user_logout"
	ActionUserCreated         Action = "user_created"
	ActionUserDeleted         Action = "user_deleted"
	ActionRoleChanged         Action = "role_changed"
	ActionDataExported        Action = "data_exported"
	ActionSystemAccess        Action = "system_access"
	ActionConfigChanged       Action = "config_changed"
	ActionInvitationSent      Action = "invitation_sent"
	ActionInvitationAccepted  Action = "invitation_accepted"
	ActionInvitationCancelled Action = "invitation_cancelled"
	ActionSuspiciousActivity  Action = "suspicious_activity"
	ActionAccountDeleted      Action = "account_deleted"
)

// knownActions is the authoritative set used by Valid.
var knownActions = map[Action]struct{}{
	ActionUserLogin: {}, ActionFailedLogin: {}, ActionUserLogout: {},
	ActionUserCreated: {}, ActionUserDeleted: {}, ActionRoleChanged: {},
	ActionDataExported: {}, ActionSystemAccess: {}, ActionConfigChanged: {},
	ActionInvitationSent: {}, ActionInvitationAccepted: {}, ActionInvitationCancelled: {},
	ActionSuspiciousActivity: {}, ActionAccountDeleted: {},
}

// Valid reports whether a is part of the closed action enumeration.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

func (a Action) String() string { return string(a) }

// AlertLevel grades the severity attached to a suspicious-activity entry.
type AlertLevel string

const (
	AlertLevelLow      AlertLevel = "low"
	AlertLevelMedium   AlertLevel = "medium"
	AlertLevelHigh     AlertLevel = "high"
	AlertLevelCritical AlertLevel = "critical"
)

// AuditEntry represents one recorded security-relevant action. Entries are
// immutable once written; corrections are recorded as new entries, and deletion
// happens only through retention cleanup.
type AuditEntry struct {
	ID        string    `db:"id" json:"id"`
	ActorID   string    `db:"actor_id" json:"actor_id"`
	Action    Action    `db:"action" json:"action"`
	TargetID  *string   `db:"target_id" json:"target_id,omitempty"`
	IPAddress *string   `db:"ip_address" json:"ip_address,omitempty"`
	Metadata  *Metadata `db:"-" json:"metadata,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Metadata is the action-specific context attached to an entry. Only the
// fields relevant to the entry's action are populated; Extra is a
// forward-compatible catch-all for fields no variant covers yet. The whole
// struct serializes to a single JSONB column.
type Metadata struct {
	// Auth actions (user_login, failed_login)
	FailureReason string `json:"failure_reason,omitempty"`
	AuthMethod    string `json:"auth_method,omitempty"`

	// role_changed
	PreviousRole string `json:"previous_role,omitempty"`
	NewRole      string `json:"new_role,omitempty"`

	// data_exported
	ExportFormat string `json:"export_format,omitempty"`
	RowCount     int    `json:"row_count,omitempty"`

	// invitation lifecycle
	InviteeEmail string `json:"invitee_email,omitempty"`
	Reason       string `json:"reason,omitempty"`

	// suspicious_activity (detector-emitted)
	SourceAction Action     `json:"source_action,omitempty"`
	AlertLevel   AlertLevel `json:"alert_level,omitempty"`
	WindowCount  int        `json:"window_count,omitempty"`

	// retention cleanup (system_access)
	CleanupCutoff *time.Time `json:"cleanup_cutoff,omitempty"`
	DeletedCount  *int64     `json:"deleted_count,omitempty"`

	// Extra carries action-specific fields that have no dedicated slot above.
	Extra map[string]any `json:"extra,omitempty"`
}
