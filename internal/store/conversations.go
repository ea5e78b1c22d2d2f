package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Conversation is the metadata the policy subsystem supplies for a
// conversation. Nil overrides fall back to the global wind configuration.
type Conversation struct {
	ID          string
	DisplayName string
	WindEnabled bool
	Allowed     bool
	Threshold   *float64
	DailyCap    *int
	QuietStart  *int
	QuietEnd    *int
	Timezone    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpsertConversation creates or replaces a conversation's metadata.
func (q *Queries) UpsertConversation(c *Conversation) error {
	now := time.Now()
	_, err := q.q.Exec(`
		INSERT INTO conversations (id, display_name, wind_enabled, allowed, threshold, daily_cap,
			quiet_start, quiet_end, timezone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)
		ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name,
			wind_enabled = excluded.wind_enabled, allowed = excluded.allowed,
			threshold = excluded.threshold, daily_cap = excluded.daily_cap,
			quiet_start = excluded.quiet_start, quiet_end = excluded.quiet_end,
			timezone = excluded.timezone, updated_at = excluded.updated_at
	`, c.ID, c.DisplayName, boolInt(c.WindEnabled), boolInt(c.Allowed),
		nullFloat(c.Threshold), nullInt(c.DailyCap), nullInt(c.QuietStart), nullInt(c.QuietEnd),
		c.Timezone, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	c.UpdatedAt = now
	return nil
}

// GetConversation returns a conversation by id, or nil if not found.
func (q *Queries) GetConversation(id string) (*Conversation, error) {
	row := q.q.QueryRow(`
		SELECT id, display_name, wind_enabled, allowed, threshold, daily_cap, quiet_start, quiet_end,
			timezone, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns every known conversation ordered by id.
func (q *Queries) ListConversations() ([]Conversation, error) {
	rows, err := q.q.Query(`
		SELECT id, display_name, wind_enabled, allowed, threshold, daily_cap, quiet_start, quiet_end,
			timezone, created_at, updated_at
		FROM conversations ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (*Conversation, error) {
	var c Conversation
	var enabled, allowed int
	var name, tz sql.NullString
	var threshold sql.NullFloat64
	var dailyCap, quietStart, quietEnd sql.NullInt64
	var created, updated int64
	if err := r.Scan(&c.ID, &name, &enabled, &allowed, &threshold, &dailyCap,
		&quietStart, &quietEnd, &tz, &created, &updated); err != nil {
		return nil, err
	}
	c.DisplayName = name.String
	c.Timezone = tz.String
	c.WindEnabled = enabled != 0
	c.Allowed = allowed != 0
	if threshold.Valid {
		c.Threshold = &threshold.Float64
	}
	c.DailyCap = intPtr(dailyCap)
	c.QuietStart = intPtr(quietStart)
	c.QuietEnd = intPtr(quietEnd)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
