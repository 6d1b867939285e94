package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS global_state (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	state TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS agents (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	instructions   TEXT NOT NULL DEFAULT '',
	internal_state TEXT NOT NULL DEFAULT '{}',
	external_state TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS players (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS actions (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	name               TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	triggered_agent_id INTEGER
);

CREATE TABLE IF NOT EXISTS action_params (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	action_id      INTEGER NOT NULL,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	type           TEXT NOT NULL,
	literal_values TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_action_params_action ON action_params(action_id);

CREATE TABLE IF NOT EXISTS agent_actions (
	agent_id  INTEGER NOT NULL,
	action_id INTEGER NOT NULL,
	position  INTEGER NOT NULL,
	PRIMARY KEY (agent_id, action_id)
);

CREATE TABLE IF NOT EXISTS agent_messages (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id         INTEGER NOT NULL,
	caller_agent_id  INTEGER,
	caller_player_id INTEGER,
	query            TEXT NOT NULL,
	response         TEXT NOT NULL DEFAULT '{}',
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_messages_agent ON agent_messages(agent_id);

CREATE TABLE IF NOT EXISTS condition_operators (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id        INTEGER,
	root_id          INTEGER NOT NULL DEFAULT 0,
	logical_operator TEXT NOT NULL,
	action_id        INTEGER
);
CREATE INDEX IF NOT EXISTS idx_condition_operators_root ON condition_operators(root_id);

CREATE TABLE IF NOT EXISTS conditions (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id           INTEGER NOT NULL,
	root_id             INTEGER NOT NULL,
	action_id           INTEGER,
	state_agent_id      INTEGER,
	state_variable_name TEXT NOT NULL,
	comparison          TEXT NOT NULL,
	expected_value      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conditions_root ON conditions(root_id);
`

// postgresSchema mirrors sqliteSchema with server-side id generation.
var postgresSchema = strings.NewReplacer(
	"INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY",
	"INTEGER", "BIGINT",
).Replace(sqliteSchema)

// Migrate creates missing tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == Postgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}
