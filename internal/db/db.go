package db

import (
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultPath returns ~/.nameflow/app.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home dir")
	}
	return filepath.Join(home, ".nameflow", "app.db"), nil
}

// Open opens the SQLite database at path and migrates the schema. Pass ":memory:"
// for a throwaway database.
//
// The pool is capped at one connection: SQLite serializes writers anyway, and an
// in-memory database only exists on the connection that created it.
func Open(path string) (*gorm.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "create database dir")
		}
	}

	d, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := d.DB()
	if err != nil {
		return nil, errors.Wrap(err, "database handle")
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Migrate creates or updates the tables.
func Migrate(d *gorm.DB) error {
	if err := d.AutoMigrate(&NamingRequest{}, &StatusHistoryEntry{}); err != nil {
		return errors.Wrap(err, "migrate")
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(d *gorm.DB) error {
	sqlDB, err := d.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
