package agentrelay

import "time"

// Role is a principal's RBAC role as carried in bearer tokens.
type Role string

const (
	RolePresident Role = "president"
	RoleBoss      Role = "boss"
	RoleWorker    Role = "worker"
)

// Message event types delivered to MessageHook.
const (
	EventMessageSent          = "message.sent"
	EventMessageStatusChanged = "message.status"
	EventMessageDeleted       = "message.deleted"
)

// Message is the public representation of a relayed message.
// No internal package imports, so it is safe to use from outside the module.
type Message struct {
	ID        string
	From      string
	To        string
	Content   string
	Type      string
	Status    string
	Timestamp time.Time
	UpdatedAt *time.Time
	UserID    string
}

// MessageEvent is one committed change to the message store.
type MessageEvent struct {
	Type    string
	Message Message
}
