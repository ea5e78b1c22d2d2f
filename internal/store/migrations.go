package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "conversations + wind_state: per-conversation policy and engine state",
		SQL: `
CREATE TABLE conversations (
    id           TEXT PRIMARY KEY,
    display_name TEXT,
    wind_enabled INTEGER NOT NULL DEFAULT 1,
    allowed      INTEGER NOT NULL DEFAULT 0,
    threshold    REAL,
    daily_cap    INTEGER,
    quiet_start  INTEGER,
    quiet_end    INTEGER,
    timezone     TEXT,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);

CREATE TABLE wind_state (
    conversation_id            TEXT PRIMARY KEY,
    last_user_interaction_at   INTEGER,
    last_outbound_at           INTEGER,
    last_proactive_sent_at     INTEGER,
    proactive_sent_today       INTEGER NOT NULL DEFAULT 0,
    day_bucket                 TEXT NOT NULL DEFAULT '',
    unanswered_proactive_count INTEGER NOT NULL DEFAULT 0,
    snooze_until               INTEGER,
    fatigue_damper             REAL NOT NULL DEFAULT 0,
    backoff_until              INTEGER,
    pause_cleaned_at           INTEGER,
    updated_at                 INTEGER NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "topics: candidate subjects with lifecycle and pursuit state",
		SQL: `
CREATE TABLE topics (
    id                      TEXT PRIMARY KEY,
    conversation_id         TEXT NOT NULL,
    type                    TEXT NOT NULL CHECK (type IN ('wind', 'reminder', 'critical', 'tension', 'discovery')),
    family                  TEXT NOT NULL,
    title                   TEXT NOT NULL,
    content                 TEXT,
    source                  TEXT,
    novelty_key             TEXT NOT NULL,
    base_priority           REAL NOT NULL,
    dynamic_priority        REAL NOT NULL,
    decay_rate              REAL NOT NULL DEFAULT 0,
    decay_penalty           REAL NOT NULL DEFAULT 0,
    status                  TEXT NOT NULL CHECK (status IN ('pending', 'armed', 'active_pursuit', 'mentioned',
                                'snoozed', 'dismissed', 'expired', 'merged', 'suppressed', 'stale_after_pause')),
    created_at              INTEGER NOT NULL,
    expires_at              INTEGER,
    last_evaluated_at       INTEGER NOT NULL,
    last_evidence_at        INTEGER NOT NULL,
    last_referenced_at      INTEGER,
    negative_feedback_score REAL NOT NULL DEFAULT 0,
    ignore_count            INTEGER NOT NULL DEFAULT 0,
    merge_count             INTEGER NOT NULL DEFAULT 0,
    merged_into             TEXT,

    -- Pursuit
    pursuit_status          TEXT,
    attempt_count           INTEGER NOT NULL DEFAULT 0,
    attempt_budget          INTEGER NOT NULL DEFAULT 0,
    next_attempt_at         INTEGER,
    last_attempt_at         INTEGER,
    pursuit_expires_at      INTEGER,
    failure_count           INTEGER NOT NULL DEFAULT 0,

    updated_at              INTEGER NOT NULL,

    FOREIGN KEY (merged_into) REFERENCES topics(id)
);

CREATE INDEX idx_topics_conversation ON topics(conversation_id, status);

CREATE INDEX idx_topics_novelty ON topics(conversation_id, novelty_key);
`,
	},
	{
		Version:     3,
		Description: "topic_affinity: per-conversation interest/rejection by topic family",
		SQL: `
CREATE TABLE topic_affinity (
    conversation_id  TEXT NOT NULL,
    topic_family     TEXT NOT NULL,
    interest_weight  REAL NOT NULL DEFAULT 0,
    rejection_weight REAL NOT NULL DEFAULT 0,
    engagement_count INTEGER NOT NULL DEFAULT 0,
    ignore_count     INTEGER NOT NULL DEFAULT 0,
    last_positive_at INTEGER,
    last_negative_at INTEGER,
    cooldown_until   INTEGER,
    PRIMARY KEY (conversation_id, topic_family)
);
`,
	},
	{
		Version:     4,
		Description: "impulse_logs: append-only scorer breakdowns",
		SQL: `
CREATE TABLE impulse_logs (
    id                INTEGER PRIMARY KEY,
    conversation_id   TEXT NOT NULL,
    tick_at           INTEGER NOT NULL,
    base              REAL NOT NULL,
    silence           REAL NOT NULL,
    topic_pressure    REAL NOT NULL,
    time_factor       REAL NOT NULL,
    entropy           REAL NOT NULL,
    engagement_damper REAL NOT NULL,
    fatigue_damper    REAL NOT NULL,
    score             REAL NOT NULL,
    threshold         REAL NOT NULL,
    decision          TEXT NOT NULL,
    skip_reason       TEXT,
    topic_id          TEXT,
    created_at        INTEGER NOT NULL
);

CREATE INDEX idx_impulse_conversation ON impulse_logs(conversation_id, tick_at DESC);

CREATE TRIGGER impulse_logs_immutable BEFORE UPDATE ON impulse_logs
BEGIN
    SELECT RAISE(ABORT, 'impulse_logs is append-only');
END;
`,
	},
	{
		Version:     5,
		Description: "messages: tagged conversation transcript",
		SQL: `
CREATE TABLE messages (
    id              INTEGER PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    direction       TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
    kind            TEXT NOT NULL CHECK (kind IN ('chat', 'wind', 'reminder', 'critical', 'tension', 'discovery')),
    topic_id        TEXT,
    text            TEXT NOT NULL,
    created_at      INTEGER NOT NULL
);

CREATE INDEX idx_messages_conversation ON messages(conversation_id, created_at DESC);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
