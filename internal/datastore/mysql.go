package datastore

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/logger"
)

// MySQLStore keeps the catalog in a MySQL database
type MySQLStore struct {
	DataStore
	DSN string
}

func validateMySQLConfig(dsn string) error {
	if dsn == "" {
		return errors.ValidationError("mysql catalog dsn is empty")
	}
	return nil
}

// Open connects to the database and migrates the schema
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.DSN); err != nil {
		return err
	}

	db, err := gorm.Open(mysql.Open(store.DSN), gormConfig(store.log))
	if err != nil {
		// the DSN carries credentials and is never logged
		store.log.Error("failed to open MySQL database", logger.Error(err))
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Context("db_type", "MySQL").
			Build()
	}

	store.DB = db
	return performAutoMigration(db, "MySQL")
}
