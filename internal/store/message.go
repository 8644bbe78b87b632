package store

import (
	"database/sql"
	"fmt"
	"time"
)

const messageCols = `id, msg_id, chat_ref, sender, receiver, body, status, sent_at, delivered_at, seen_at`

// StoreMessage inserts or updates a message (idempotent on chat_ref +
// msg_id). Delivery and seen stamps only ever move from unset to set;
// when both sides carry a stamp the earliest wins.
func (db *DB) StoreMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (msg_id, chat_ref, sender, receiver, body, status, sent_at, delivered_at, seen_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_ref, msg_id) DO UPDATE SET
			body = excluded.body,
			status = excluded.status,
			delivered_at = CASE
				WHEN messages.delivered_at = 0 THEN excluded.delivered_at
				WHEN excluded.delivered_at = 0 THEN messages.delivered_at
				ELSE MIN(messages.delivered_at, excluded.delivered_at)
			END,
			seen_at = CASE
				WHEN messages.seen_at = 0 THEN excluded.seen_at
				WHEN excluded.seen_at = 0 THEN messages.seen_at
				ELSE MIN(messages.seen_at, excluded.seen_at)
			END`,
		m.MsgID, m.ChatRef, m.Sender, m.Receiver, m.Body, m.Status, m.SentAt, m.DeliveredAt, m.SeenAt, now)
	return err
}

// StoreMessages inserts or updates a batch of messages in one transaction.
func (db *DB) StoreMessages(msgs []*Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (msg_id, chat_ref, sender, receiver, body, status, sent_at, delivered_at, seen_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_ref, msg_id) DO UPDATE SET
				body = excluded.body,
				status = excluded.status,
				delivered_at = CASE
					WHEN messages.delivered_at = 0 THEN excluded.delivered_at
					WHEN excluded.delivered_at = 0 THEN messages.delivered_at
					ELSE MIN(messages.delivered_at, excluded.delivered_at)
				END,
				seen_at = CASE
					WHEN messages.seen_at = 0 THEN excluded.seen_at
					WHEN excluded.seen_at = 0 THEN messages.seen_at
					ELSE MIN(messages.seen_at, excluded.seen_at)
				END`,
			m.MsgID, m.ChatRef, m.Sender, m.Receiver, m.Body, m.Status, m.SentAt, m.DeliveredAt, m.SeenAt, now); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// SetDelivered records a delivery stamp exactly once. A message already
// carrying a stamp keeps it, so retried writes are idempotent.
func (db *DB) SetDelivered(msgID, chatRef string, deliveredAt int64) error {
	_, err := db.Exec(`
		UPDATE messages SET delivered_at = ?, status = ?
		WHERE chat_ref = ? AND msg_id = ? AND delivered_at = 0`,
		deliveredAt, StatusDelivered, chatRef, msgID)
	return err
}

// SetSeen records a seen stamp exactly once.
func (db *DB) SetSeen(msgID, chatRef string, seenAt int64) error {
	_, err := db.Exec(`
		UPDATE messages SET seen_at = ?, status = ?
		WHERE chat_ref = ? AND msg_id = ? AND seen_at = 0`,
		seenAt, StatusSeen, chatRef, msgID)
	return err
}

// MarkSent moves a pending message to sent after the transport echo.
// Returns whether a row actually moved; echoes for messages already
// sent or delivered report false.
func (db *DB) MarkSent(msgID, chatRef string) (bool, error) {
	res, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE chat_ref = ? AND msg_id = ? AND status = ?`,
		StatusSent, chatRef, msgID, StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkFailed records a permanent send failure.
func (db *DB) MarkFailed(msgID, chatRef string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ? WHERE chat_ref = ? AND msg_id = ?`,
		StatusFailed, chatRef, msgID)
	return err
}

// Undelivered returns the user's sent messages with no delivery stamp,
// oldest first.
func (db *DB) Undelivered(user, chatRef string) ([]*Message, error) {
	return db.queryMessages(`
		SELECT `+messageCols+` FROM messages
		WHERE chat_ref = ? AND sender = ? AND status = ? AND delivered_at = 0
		ORDER BY sent_at ASC`, chatRef, user, StatusSent)
}

// Pending returns messages queued locally that were never handed to the
// transport, oldest first.
func (db *DB) Pending(chatRef string) ([]*Message, error) {
	return db.queryMessages(`
		SELECT `+messageCols+` FROM messages
		WHERE chat_ref = ? AND status = ?
		ORDER BY sent_at ASC`, chatRef, StatusPending)
}

// LoadPage returns a page of messages using keyset pagination by sent
// timestamp, newest first. beforeTs <= 0 means "from the latest".
func (db *DB) LoadPage(chatRef string, beforeTs int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	return db.queryMessages(`
		SELECT `+messageCols+` FROM messages
		WHERE chat_ref = ? AND sent_at < ?
		ORDER BY sent_at DESC
		LIMIT ?`, chatRef, beforeTs, limit)
}

// GetMessage returns a single message, or nil when absent.
func (db *DB) GetMessage(msgID, chatRef string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT `+messageCols+` FROM messages
		WHERE chat_ref = ? AND msg_id = ?`, chatRef, msgID).
		Scan(&m.ID, &m.MsgID, &m.ChatRef, &m.Sender, &m.Receiver, &m.Body, &m.Status, &m.SentAt, &m.DeliveredAt, &m.SeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (db *DB) queryMessages(query string, args ...any) ([]*Message, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MsgID, &m.ChatRef, &m.Sender, &m.Receiver, &m.Body, &m.Status, &m.SentAt, &m.DeliveredAt, &m.SeenAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
