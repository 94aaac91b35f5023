package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// IdempotencyKey stores the response of a mutation so that a resubmission with
// the same key from the same caller is answered without re-executing it.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	Caller    string `gorm:"primaryKey;size:42"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AuditEvent mirrors a committed change feed entry for operators that query
// the audit trail with SQL. Sequence is zero when the entry could not be
// journaled.
type AuditEvent struct {
	ID          string `gorm:"primaryKey;size:36"`
	Sequence    uint64 `gorm:"index"`
	Type        string `gorm:"size:64;index"`
	RecordID    string `gorm:"size:32;index"`
	Actor       string `gorm:"size:42;index"`
	Attributes  string `gorm:"type:text"`
	CommittedAt time.Time
	CreatedAt   time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&IdempotencyKey{},
		&AuditEvent{},
	)
}

// Open connects to the configured backend ("sqlite" or "postgres") and runs
// migrations.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return db, nil
}
