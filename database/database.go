// Package database provides database connection management for the rental
// market pipeline.
//
// This package includes:
//   - Connection management using GORM and PostgreSQL
//   - A lib/pq NOTIFY listener that wakes the dispatcher on new events
//   - Schema migration for every pipeline table
//   - Typed errors shared by the repositories
//
// Data Models:
//
//	All data models (WebhookEvent, Unit, DailyUnitSnapshot, etc.) are defined in
//	the models_pkg package to avoid circular import dependencies. Repositories
//	live in sub-packages (events, leasing, market, synclog), and memory holds
//	an in-process backend with the same behaviour.
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database holds the GORM database connection and provides access to the underlying DB instance.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect establishes database connection using GORM
func Connect(dsn string) (*Database, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Silent logging for production
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)
	sqlDB.SetConnMaxLifetime(ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: db}, nil
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
