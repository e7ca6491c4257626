package journal

import (
	"path/filepath"

	"codeberg.org/mutker/posturectl/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm   = 0o755
	backupDirName    = "backups"
	defaultBatchSize = 10
)

type Config struct {
	DBPath string
	// BatchSize is the number of entries buffered before a flush.
	BatchSize int
	// BatchTimeout is the periodic flush interval in seconds.
	BatchTimeout int
	Enabled      bool
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: 5,
		Enabled:      false, // Disabled by default
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if the journal is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout int
		}{
			BatchSize:    c.BatchSize,
			BatchTimeout: c.BatchTimeout,
		})
	}
	return nil
}

func (c Config) backupDir() string {
	return filepath.Join(filepath.Dir(c.DBPath), backupDirName)
}
