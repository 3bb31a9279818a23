// interfaces.go: this code defines the interface for the catalog database operations
package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/nutrigraph/internal/catalog"
	"github.com/tphakala/nutrigraph/internal/conf"
	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/logger"
)

// insertBatchSize keeps multi-row inserts under SQLite's bound variable limit
const insertBatchSize = 100

// slowQueryThreshold is where GORM statements start being logged at WARN
const slowQueryThreshold = 2 * time.Second

// Interface abstracts the underlying database that holds the cleaned catalog.
type Interface interface {
	Open() error
	// ReplaceAll swaps the whole catalog for items in one transaction. The
	// rows are read back inside it and the swap is rolled back unless they
	// match items exactly.
	ReplaceAll(ctx context.Context, items []catalog.CanonicalIngredient) error
	// LoadAll returns the catalog in the order it was written
	LoadAll(ctx context.Context) ([]catalog.CanonicalIngredient, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// DataStore implements Interface on top of a GORM database.
type DataStore struct {
	DB  *gorm.DB
	log logger.Logger
}

// New returns the store selected by catalog.driver. Open must be called
// before use.
func New(settings *conf.Settings, log logger.Logger) (Interface, error) {
	if log == nil {
		log = logger.Global().Module("datastore")
	}

	switch settings.Catalog.Driver {
	case conf.DriverSQLite, "":
		return &SQLiteStore{
			DataStore: DataStore{log: log},
			Path:      settings.CatalogPath(),
		}, nil
	case conf.DriverMySQL:
		return &MySQLStore{
			DataStore: DataStore{log: log},
			DSN:       settings.Catalog.DSN,
		}, nil
	default:
		return nil, errors.Newf("unsupported catalog driver %q", settings.Catalog.Driver).
			Category(errors.CategoryConfiguration).
			Context("driver", settings.Catalog.Driver).
			Build()
	}
}

func gormConfig(log logger.Logger) *gorm.Config {
	return &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	}
}

func performAutoMigration(db *gorm.DB, dbType string) error {
	if err := db.AutoMigrate(&Ingredient{}); err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Context("db_type", dbType).
			Context("operation", "auto_migrate").
			Build()
	}
	return nil
}

// ReplaceAll deletes every row and inserts items in their given order, then
// reads them back and compares them with items before committing. Either
// the whole verified catalog is visible afterwards or the old one is.
func (ds *DataStore) ReplaceAll(ctx context.Context, items []catalog.CanonicalIngredient) error {
	if ds.DB == nil {
		return errors.NewStd("database connection is not initialized")
	}

	rows := make([]Ingredient, len(items))
	for i := range items {
		rows[i] = fromCanonical(&items[i])
	}

	start := time.Now()
	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Ingredient{}).Error; err != nil {
			return fmt.Errorf("clearing catalog: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
			return fmt.Errorf("inserting catalog rows: %w", err)
		}

		var stored []Ingredient
		if err := tx.Order("id ASC").Find(&stored).Error; err != nil {
			return fmt.Errorf("reading catalog back: %w", err)
		}
		return Verify(items, toCanonicalRows(stored))
	})
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Context("operation", "replace_catalog").
			Context("rows", len(rows)).
			Build()
	}

	ds.log.Info("catalog table replaced",
		logger.Int("rows", len(rows)),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// LoadAll reads the catalog back ordered by insertion
func (ds *DataStore) LoadAll(ctx context.Context) ([]catalog.CanonicalIngredient, error) {
	if ds.DB == nil {
		return nil, errors.NewStd("database connection is not initialized")
	}

	var rows []Ingredient
	if err := ds.DB.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryDatabase).
			Context("operation", "load_catalog").
			Build()
	}

	return toCanonicalRows(rows), nil
}

func toCanonicalRows(rows []Ingredient) []catalog.CanonicalIngredient {
	out := make([]catalog.CanonicalIngredient, len(rows))
	for i := range rows {
		out[i] = rows[i].toCanonical()
	}
	return out
}

// Count returns the number of catalog rows
func (ds *DataStore) Count(ctx context.Context) (int64, error) {
	if ds.DB == nil {
		return 0, errors.NewStd("database connection is not initialized")
	}

	var n int64
	if err := ds.DB.WithContext(ctx).Model(&Ingredient{}).Count(&n).Error; err != nil {
		return 0, errors.New(err).
			Category(errors.CategoryDatabase).
			Context("operation", "count_catalog").
			Build()
	}
	return n, nil
}

// Close releases the underlying connection pool
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Close()
}
