package db

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"netval/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open connects to the SQLite database at path, applies the pragmas the
// service depends on, and migrates the schema.
func Open(path string) *gorm.DB {
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create database directory: %v", err)
		}
	}

	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if err := conn.Exec(pragma).Error; err != nil {
			log.Fatalf("Failed to apply %q: %v", pragma, err)
		}
	}

	err = conn.AutoMigrate(
		&models.Project{},
		&models.Device{},
		&models.Interface{},
		&models.DeviceVlan{},
		&models.Link{},
		&models.ConfigSnapshot{},
		&models.Job{},
		&models.RemediationPlan{},
		&models.RemediationItem{},
		&models.AuditLog{},
	)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	return conn
}

var memSeq atomic.Int64

// OpenMemory opens a throwaway in-memory database, used by tests. Shared cache
// keeps the database alive across the pooled connections gorm opens.
func OpenMemory() *gorm.DB {
	n := memSeq.Add(1)
	return Open(fmt.Sprintf("file:netvalmem%d?mode=memory&cache=shared", n))
}
