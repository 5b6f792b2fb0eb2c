package guard

import (
	"time"

	"github.com/google/uuid"
)

// SecurityEvent is one observed occurrence of a protected action, already
// attributed to an actor through the audit trail. Immutable after creation.
type SecurityEvent struct {
	ID           string
	GuildID      string
	ActorID      string
	Action       Action
	TargetID     string
	AuditEntryID string
	CreatedAt    time.Time
	Metadata     map[string]string
}

func NewSecurityEvent(guildID, actorID string, action Action, targetID, auditEntryID string, at time.Time, metadata map[string]string) SecurityEvent {
	return SecurityEvent{
		ID:           uuid.NewString(),
		GuildID:      guildID,
		ActorID:      actorID,
		Action:       action,
		TargetID:     targetID,
		AuditEntryID: auditEntryID,
		CreatedAt:    at,
		Metadata:     metadata,
	}
}
