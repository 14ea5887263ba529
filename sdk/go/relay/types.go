package relay

import "time"

// Agent is a registered agent identity.
type Agent struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	SessionID string     `json:"sessionId"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	CreatedBy string     `json:"createdBy"`
}

// AgentStatus is the response for GetAgentStatus.
type AgentStatus struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	LastActive time.Time `json:"lastActive"`
}

// Message is an addressed message between two agents.
type Message struct {
	ID        string     `json:"id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Content   string     `json:"content"`
	Type      string     `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Status    string     `json:"status"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	UserID    string     `json:"userId"`
}

// Conversation is the chronological exchange between two agents.
type Conversation struct {
	Conversation []Message `json:"conversation"`
	Participants [2]string `json:"participants"`
	MessageCount int       `json:"messageCount"`
}

// Pagination describes a page of a list response.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// AgentList is the response for ListAgents.
type AgentList struct {
	Agents     []Agent    `json:"agents"`
	Pagination Pagination `json:"pagination"`
}

// MessageList is the response for ListMessages.
type MessageList struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// HealthResponse is the response for Health.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version"`
	Store         string    `json:"store"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// CreateAgentRequest is the input for CreateAgent. Type is one of
// "president", "boss" or "worker".
type CreateAgentRequest struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}

// UpdateAgentRequest is the input for UpdateAgent. Nil fields are left
// unchanged.
type UpdateAgentRequest struct {
	Name   *string `json:"name,omitempty"`
	Status *string `json:"status,omitempty"`
}

// SendMessageRequest is the input for SendMessage. Type defaults to "text".
type SendMessageRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

// ListAgentsOptions are optional filters for ListAgents.
type ListAgentsOptions struct {
	Type  string
	Page  int
	Limit int
}

// ListMessagesOptions are optional filters for ListMessages.
type ListMessagesOptions struct {
	From  string
	To    string
	Page  int
	Limit int
}

// Event is one message change delivered by Stream.
type Event struct {
	Type    string
	Message Message
}
