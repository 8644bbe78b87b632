package chat

import (
	"time"

	"github.com/mcoutinho/pigeon/internal/envelope"
	"github.com/mcoutinho/pigeon/internal/store"
)

func nowMilli() int64 {
	return time.Now().UnixMilli()
}

// toStoreMessage maps a content envelope to its persisted form.
func toStoreMessage(env *envelope.Envelope, status string) *store.Message {
	return &store.Message{
		MsgID:       env.ID,
		ChatRef:     env.ChatReference,
		Sender:      env.Sender,
		Receiver:    env.Receiver,
		Body:        env.Body,
		Status:      status,
		SentAt:      env.SentAt,
		DeliveredAt: env.DeliveredAt,
		SeenAt:      env.SeenAt,
	}
}

// toEnvelope rebuilds the wire form of a persisted message, used when
// flushing the outbox and looping back read receipts.
func toEnvelope(m *store.Message, readReceipts bool) *envelope.Envelope {
	return &envelope.Envelope{
		ID:                 m.MsgID,
		ChatReference:      m.ChatRef,
		Sender:             m.Sender,
		Receiver:           m.Receiver,
		Body:               m.Body,
		SentAt:             m.SentAt,
		DeliveredAt:        m.DeliveredAt,
		SeenAt:             m.SeenAt,
		ReadReceiptEnabled: readReceipts,
	}
}
