package journal

import (
	"database/sql"

	"codeberg.org/mutker/posturectl/internal/errors"
	"codeberg.org/mutker/posturectl/internal/logger"
)

// step names the schema operation that failed.
type step struct {
	Phase string
	Table string `json:",omitempty"`
	Path  string `json:",omitempty"`
	Error string
}

func stepFailed(code errors.ErrorCode, s step, err error) error {
	s.Error = err.Error()
	return errors.New().WithData(code, s)
}

// withTx runs fn inside a transaction, committing only when fn succeeds.
func withTx(db *sql.DB, code errors.ErrorCode, log logger.Logger, fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.New().Wrap(code, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Debug().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.New().Wrap(code, err)
	}
	return nil
}
