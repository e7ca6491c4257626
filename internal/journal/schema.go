package journal

import (
	"database/sql"

	"codeberg.org/mutker/posturectl/internal/errors"
	"codeberg.org/mutker/posturectl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS sessions (
	       id             INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp      INTEGER NOT NULL,
	       session_id     TEXT NOT NULL,
	       source         TEXT NOT NULL,
	       overall_score  REAL NOT NULL CHECK (overall_score >= 0 AND overall_score <= 100),
	       prediction     TEXT NOT NULL DEFAULT '',
	       metrics        TEXT NOT NULL,
	       persisted      INTEGER NOT NULL CHECK (persisted IN (0, 1))
	   );
	   CREATE INDEX IF NOT EXISTS idx_sessions_timestamp ON sessions (timestamp DESC);`

	insertSessionSQL = `
    INSERT INTO sessions (
        timestamp, session_id, source,
        overall_score, prediction, metrics, persisted
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`

	recentSessionsSQL = `
    SELECT timestamp, session_id, source, overall_score, prediction, metrics, persisted
    FROM sessions
    ORDER BY timestamp DESC, id DESC
    LIMIT ?`

	insertVersionSQL = `INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`
	latestVersionSQL = `SELECT version FROM schema_versions ORDER BY version DESC LIMIT 1`
	tableExistsSQL   = `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`
)

// InitSchema creates the tables and records the current version.
func InitSchema(db *sql.DB, log logger.Logger) error {
	log.Debug().Msg("Creating journal database...")

	err := withTx(db, ErrSchemaInitFailed, log, func(tx *sql.Tx) error {
		if _, err := tx.Exec(createTablesSQL); err != nil {
			return stepFailed(ErrSchemaInitFailed, step{Phase: "create_tables"}, err)
		}
		if _, err := tx.Exec(insertVersionSQL, SchemaVersion); err != nil {
			return stepFailed(ErrSchemaInitFailed, step{Phase: "record_version"}, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Int("version", SchemaVersion).Msg("Journal schema initialized")
	return nil
}

// GetSchemaVersion returns the recorded schema version. A database without
// a version table reports 0.
func GetSchemaVersion(db *sql.DB) (int, error) {
	exists, err := TableExists(db, "schema_versions")
	if err != nil || !exists {
		return 0, err
	}

	var version int
	switch err := db.QueryRow(latestVersionSQL).Scan(&version); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, stepFailed(ErrSchemaValidationFailed, step{Phase: "get_version"}, err)
	}
	return version, nil
}

func TableExists(db *sql.DB, name string) (bool, error) {
	var exists bool
	if err := db.QueryRow(tableExistsSQL, name).Scan(&exists); err != nil {
		return false, stepFailed(ErrSchemaValidationFailed, step{Phase: "check_table_exists", Table: name}, err)
	}
	return exists, nil
}
