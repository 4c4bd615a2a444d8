package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pulseguard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const memoryPath = ":memory:"

var (
	db   *gorm.DB
	once sync.Once
)

// Initialize opens the process-wide archive database.
func Initialize(dbPath string) error {
	var initErr error
	once.Do(func() {
		db, initErr = Open(dbPath)
	})
	return initErr
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	if db == nil {
		panic("Database not initialized. Call Initialize() first")
	}
	return db
}

// Open connects to the sqlite file at dbPath, creating its directory, and
// migrates the schema. ":memory:" opens a private in-memory database.
func Open(dbPath string) (*gorm.DB, error) {
	if dbPath != memoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: shared
	sqlDB.SetMaxOpenConns(1)

	if err := conn.AutoMigrate(
		&models.Alert{},
		&models.ScaleDecision{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return conn, nil
}

// Close closes the database connection
func Close() error {
	if db == nil {
		return nil
	}
	return closeDB(db)
}

func closeDB(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	return sqlDB.Close()
}
