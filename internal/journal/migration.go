package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/posturectl/internal/logger"
)

// journalTables lists tables in drop order.
var journalTables = []string{"sessions", "schema_versions"}

// ValidateAndUpdateSchema keeps a database at the current schema version.
// A database written by another version is copied into backupDir and then
// rebuilt empty, since journal entries are a local mirror of backend records.
func ValidateAndUpdateSchema(db *sql.DB, backupDir string, log logger.Logger) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	if version == SchemaVersion {
		log.Debug().Int("version", version).Msg("Journal schema version is current")
		return nil
	}

	if version != 0 {
		log.Warn().
			Int("found", version).
			Int("expected", SchemaVersion).
			Msg("Journal schema version mismatch, rebuilding")
		if _, err := backupDatabase(db, backupDir, version, log); err != nil {
			return err
		}
	}

	err = withTx(db, ErrSchemaMigrationFailed, log, func(tx *sql.Tx) error {
		for _, table := range journalTables {
			if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return stepFailed(ErrSchemaMigrationFailed, step{Phase: "drop_table", Table: table}, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return InitSchema(db, log)
}

func backupDatabase(db *sql.DB, dir string, version int, log logger.Logger) (string, error) {
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", stepFailed(ErrSchemaMigrationFailed, step{Phase: "create_backup_dir", Path: dir}, err)
	}

	name := fmt.Sprintf("journal_v%d_%s.db", version, time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	// VACUUM INTO takes no bound parameters and cannot run inside a transaction.
	stmt := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(path, "'", "''"))
	if _, err := db.Exec(stmt); err != nil {
		return "", stepFailed(ErrSchemaMigrationFailed, step{Phase: "create_backup", Path: path}, err)
	}

	log.Info().Str("path", path).Int("version", version).Msg("Journal backup created")
	return path, nil
}
