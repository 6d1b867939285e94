// Package sqlstore persists agentgate entities in a relational database
// through database/sql. Two dialects are supported: "sqlite" (pure Go,
// modernc.org/sqlite) and "postgres" (pgx stdlib driver). States, action
// params and message responses are stored as JSON text.
package sqlstore
