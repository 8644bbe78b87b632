package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PresenceStatus announces a user's availability.
type PresenceStatus string

const (
	Online  PresenceStatus = "ONLINE"
	Away    PresenceStatus = "AWAY"
	Offline PresenceStatus = "OFFLINE"
)

// ParsePresenceStatus maps a wire string to a known presence status.
// ok is false for empty or unrecognized values.
func ParsePresenceStatus(s string) (PresenceStatus, bool) {
	switch PresenceStatus(s) {
	case Online, Away, Offline:
		return PresenceStatus(s), true
	}
	return "", false
}

// MessageStatus announces a typing or delivery state transition.
type MessageStatus string

const (
	Typing    MessageStatus = "TYPING"
	NotTyping MessageStatus = "NOT_TYPING"
	Sending   MessageStatus = "SENDING"
	Sent      MessageStatus = "SENT"
	NotSent   MessageStatus = "NOT_SENT"
	Delivered MessageStatus = "DELIVERED"
	Seen      MessageStatus = "SEEN"
	Failed    MessageStatus = "FAILED"
)

// ParseMessageStatus maps a wire string to a known message status.
// ok is false for empty or unrecognized values.
func ParseMessageStatus(s string) (MessageStatus, bool) {
	switch MessageStatus(s) {
	case Typing, NotTyping, Sending, Sent, NotSent, Delivered, Seen, Failed:
		return MessageStatus(s), true
	}
	return "", false
}

// Envelope is the single wire unit shared by content messages, presence
// signals and status signals. Which optional field is populated decides
// the kind; see Classify.
type Envelope struct {
	ID                 string `json:"id"`
	ChatReference      string `json:"chat_reference"`
	Sender             string `json:"sender"`
	Receiver           string `json:"receiver"`
	Body               string `json:"body,omitempty"`
	SentAt             int64  `json:"sent_at"`
	DeliveredAt        int64  `json:"delivered_at,omitempty"`
	SeenAt             int64  `json:"seen_at,omitempty"`
	PresenceStatus     string `json:"presence_status,omitempty"`
	MessageStatus      string `json:"message_status,omitempty"`
	ReadReceiptEnabled bool   `json:"read_receipt_enabled,omitempty"`
}

// NewContent creates a content envelope with a fresh id and local clock stamp.
func NewContent(chatRef, sender, receiver, body string) *Envelope {
	return &Envelope{
		ID:            uuid.New().String(),
		ChatReference: chatRef,
		Sender:        sender,
		Receiver:      receiver,
		Body:          body,
		SentAt:        time.Now().UnixMilli(),
	}
}

// NewPresence creates a presence signal envelope.
func NewPresence(chatRef, sender, receiver string, status PresenceStatus) *Envelope {
	return &Envelope{
		ID:             uuid.New().String(),
		ChatReference:  chatRef,
		Sender:         sender,
		Receiver:       receiver,
		SentAt:         time.Now().UnixMilli(),
		PresenceStatus: string(status),
	}
}

// NewStatus creates a status signal envelope.
func NewStatus(chatRef, sender, receiver string, status MessageStatus) *Envelope {
	return &Envelope{
		ID:            uuid.New().String(),
		ChatReference: chatRef,
		Sender:        sender,
		Receiver:      receiver,
		SentAt:        time.Now().UnixMilli(),
		MessageStatus: string(status),
	}
}

// ErrMalformed marks envelopes missing required fields. They are dropped
// with a diagnostic, never processed.
var ErrMalformed = errors.New("malformed envelope")

// Validate checks the fields every envelope must carry.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if e.ChatReference == "" {
		return fmt.Errorf("%w: missing chat reference", ErrMalformed)
	}
	if e.SentAt <= 0 {
		return fmt.Errorf("%w: missing sent timestamp", ErrMalformed)
	}
	return nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses a wire payload into the envelope.
func (e *Envelope) Decode(data []byte) error {
	if err := json.Unmarshal(data, e); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	return nil
}
