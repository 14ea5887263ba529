package model

import (
	"fmt"
	"time"
)

// AgentType is the position an agent holds in the automation pipeline.
type AgentType string

const (
	AgentPresident AgentType = "president"
	AgentBoss      AgentType = "boss"
	AgentWorker    AgentType = "worker"
)

// AgentStatus is the availability of an agent.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
	AgentBusy     AgentStatus = "busy"
)

// Agent is a registered agent identity.
type Agent struct {
	ID        string      `json:"id" cbor:"id"`
	Name      string      `json:"name" cbor:"name"`
	Type      AgentType   `json:"type" cbor:"type"`
	SessionID string      `json:"sessionId" cbor:"session_id"`
	Status    AgentStatus `json:"status" cbor:"status"`
	CreatedAt time.Time   `json:"createdAt" cbor:"created_at"`
	UpdatedAt *time.Time  `json:"updatedAt,omitempty" cbor:"updated_at,omitempty"`
	CreatedBy string      `json:"createdBy" cbor:"created_by"`
}

// LastActive is the most recent time the agent record changed.
func (a Agent) LastActive() time.Time {
	if a.UpdatedAt != nil {
		return *a.UpdatedAt
	}
	return a.CreatedAt
}

// AgentStatusView is the response for GET /agents/{id}/status.
type AgentStatusView struct {
	ID         string      `json:"id"`
	Status     AgentStatus `json:"status"`
	LastActive time.Time   `json:"lastActive"`
}

// ParseAgentType validates an agent type.
func ParseAgentType(s string) (AgentType, error) {
	switch t := AgentType(s); t {
	case AgentPresident, AgentBoss, AgentWorker:
		return t, nil
	default:
		return "", InvalidArgument(fmt.Sprintf("invalid agent type %q: must be one of president, boss, worker", s))
	}
}

// ParseAgentStatus validates an agent status.
func ParseAgentStatus(s string) (AgentStatus, error) {
	switch st := AgentStatus(s); st {
	case AgentActive, AgentInactive, AgentBusy:
		return st, nil
	default:
		return "", InvalidArgument(fmt.Sprintf("invalid agent status %q: must be one of active, inactive, busy", s))
	}
}

// DefaultSessionID is the tmux-style session an agent of type t joins when
// none is given.
func DefaultSessionID(t AgentType) string {
	if t == AgentBoss {
		return "multiagent:0.0"
	}
	return "multiagent:0.1"
}
