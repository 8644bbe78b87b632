package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or replaces a conversation summary.
// Last-writer-wins; the projector owns the authoritative in-memory copy.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (chat_ref, other_user, last_message_text, last_message_at, unread_count, avatar_ref, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_ref) DO UPDATE SET
			other_user = excluded.other_user,
			last_message_text = excluded.last_message_text,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			avatar_ref = excluded.avatar_ref,
			updated_at = excluded.updated_at`,
		c.ChatRef, c.OtherUser, c.LastMessageText, c.LastMessageAt, c.UnreadCount, c.AvatarRef, now)
	return err
}

// Conversations returns all summaries sorted by last message timestamp
// descending.
func (db *DB) Conversations() ([]*Conversation, error) {
	rows, err := db.Query(`
		SELECT chat_ref, other_user, last_message_text, last_message_at, unread_count, avatar_ref
		FROM conversations
		ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []*Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ChatRef, &c.OtherUser, &c.LastMessageText, &c.LastMessageAt, &c.UnreadCount, &c.AvatarRef); err != nil {
			return nil, err
		}
		convs = append(convs, &c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single summary, or nil when absent.
func (db *DB) GetConversation(chatRef string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT chat_ref, other_user, last_message_text, last_message_at, unread_count, avatar_ref
		FROM conversations WHERE chat_ref = ?`, chatRef).
		Scan(&c.ChatRef, &c.OtherUser, &c.LastMessageText, &c.LastMessageAt, &c.UnreadCount, &c.AvatarRef)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ZeroUnread resets the unread counter for a chat without touching the
// last message fields.
func (db *DB) ZeroUnread(chatRef string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations SET unread_count = 0, updated_at = ? WHERE chat_ref = ?`,
		now, chatRef)
	return err
}
