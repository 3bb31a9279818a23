package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/logger"
)

// SQLiteStore keeps the catalog in a single SQLite file
type SQLiteStore struct {
	DataStore
	Path string
}

func validateSQLiteConfig(path string) error {
	if path == "" {
		return errors.ValidationError("sqlite catalog path is empty")
	}
	return nil
}

// Open creates the database file and its directory if needed and migrates
// the schema.
func (store *SQLiteStore) Open() error {
	if err := validateSQLiteConfig(store.Path); err != nil {
		return err
	}

	if dir := filepath.Dir(store.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.FileError(err, dir)
		}
	}

	db, err := gorm.Open(sqlite.Open(store.Path), gormConfig(store.log))
	if err != nil {
		store.log.Error("failed to open SQLite database",
			logger.String("path", store.Path),
			logger.Error(err))
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Context("db_type", "SQLite").
			Context("path", store.Path).
			Build()
	}

	store.DB = db
	return performAutoMigration(db, "SQLite")
}
