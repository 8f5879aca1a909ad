package database

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// NewTestDB opens a throwaway migrated database in a temp directory.
// Intended for tests; the file vanishes with the temp dir.
func NewTestDB() (*Database, error) {
	dir, err := os.MkdirTemp("", "hdblens-test-")
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := NewDatabase(filepath.Join(dir, "test.db"), logger)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(); err != nil {
		return nil, err
	}
	return db, nil
}
