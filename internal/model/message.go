package model

import (
	"fmt"
	"time"
)

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageCommand MessageType = "command"
	MessageStatus  MessageType = "status"
)

// DeliveryStatus tracks a message through delivery.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Message is an addressed message between two agent identifiers. Only Status
// and UpdatedAt change after creation.
type Message struct {
	ID        string         `json:"id" cbor:"id"`
	From      string         `json:"from" cbor:"from"`
	To        string         `json:"to" cbor:"to"`
	Content   string         `json:"content" cbor:"content"`
	Type      MessageType    `json:"type" cbor:"type"`
	Timestamp time.Time      `json:"timestamp" cbor:"timestamp"`
	Status    DeliveryStatus `json:"status" cbor:"status"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty" cbor:"updated_at,omitempty"`
	UserID    string         `json:"userId" cbor:"user_id"`
}

// Conversation is the chronological exchange between two agents.
type Conversation struct {
	Conversation []Message `json:"conversation"`
	Participants [2]string `json:"participants"`
	MessageCount int       `json:"messageCount"`
}

// ParseMessageType validates a message type. Empty defaults to text.
func ParseMessageType(s string) (MessageType, error) {
	if s == "" {
		return MessageText, nil
	}
	switch t := MessageType(s); t {
	case MessageText, MessageCommand, MessageStatus:
		return t, nil
	default:
		return "", InvalidArgument(fmt.Sprintf("invalid message type %q: must be one of text, command, status", s))
	}
}

// ParseDeliveryStatus validates a delivery status.
func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	switch st := DeliveryStatus(s); st {
	case DeliverySent, DeliveryDelivered, DeliveryRead, DeliveryFailed:
		return st, nil
	default:
		return "", InvalidArgument(fmt.Sprintf("invalid message status %q: must be one of sent, delivered, read, failed", s))
	}
}
