package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Direction of a transcript message relative to the agent.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// MessageKind tags a message. Proactive messages carry their topic type;
// ordinary replies are KindChat.
type MessageKind string

const KindChat MessageKind = "chat"

// KindOf returns the message kind for a proactive message about a topic type.
func KindOf(t TopicType) MessageKind {
	return MessageKind(t)
}

// Proactive reports whether the message was initiated by the engine.
func (k MessageKind) Proactive() bool {
	return k != KindChat && k != ""
}

// Message is one transcript entry.
type Message struct {
	ID             int64
	ConversationID string
	Direction      Direction
	Kind           MessageKind
	TopicID        string
	Text           string
	CreatedAt      time.Time
}

// AddMessage appends a message. A zero CreatedAt is set to the current time.
func (q *Queries) AddMessage(m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Kind == "" {
		m.Kind = KindChat
	}
	result, err := q.q.Exec(`
		INSERT INTO messages (conversation_id, direction, kind, topic_id, text, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?)
	`, m.ConversationID, string(m.Direction), string(m.Kind), m.TopicID, m.Text, m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	m.ID, _ = result.LastInsertId()
	return nil
}

// RecentMessages returns up to limit messages, oldest first.
func (q *Queries) RecentMessages(conversationID string, limit int) ([]Message, error) {
	rows, err := q.q.Query(`
		SELECT id, conversation_id, direction, kind, topic_id, text, created_at FROM (
			SELECT * FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at, id
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// LastProactive returns the most recent proactive outbound message, or nil.
func (q *Queries) LastProactive(conversationID string) (*Message, error) {
	row := q.q.QueryRow(`
		SELECT id, conversation_id, direction, kind, topic_id, text, created_at
		FROM messages WHERE conversation_id = ? AND direction = 'outbound' AND kind != 'chat'
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, conversationID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last proactive: %w", err)
	}
	return m, nil
}

// CountOutboundSince counts outbound messages at or after since.
func (q *Queries) CountOutboundSince(conversationID string, since time.Time) (int, error) {
	var n int
	err := q.q.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND direction = 'outbound' AND created_at >= ?
	`, conversationID, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outbound: %w", err)
	}
	return n, nil
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	var dir, kind string
	var topic sql.NullString
	var created int64
	if err := r.Scan(&m.ID, &m.ConversationID, &dir, &kind, &topic, &m.Text, &created); err != nil {
		return nil, err
	}
	m.Direction = Direction(dir)
	m.Kind = MessageKind(kind)
	m.TopicID = topic.String
	m.CreatedAt = fromMillis(created)
	return &m, nil
}
