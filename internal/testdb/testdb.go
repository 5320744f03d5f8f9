// Package testdb gives package tests a migrated, seeded in-memory sqlite
// database behind gorm.
package testdb

import (
	"fmt"
	"strings"
	"testing"

	"pantry-backend/internal/database"
	"pantry-backend/internal/models"

	"gorm.io/gorm"
)

func New(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := database.Open("sqlite", dsn, false)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	if err := database.SeedUnits(db); err != nil {
		t.Fatalf("seed test db: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Unit looks up a seeded unit by symbol.
func Unit(t testing.TB, db *gorm.DB, symbol string) models.MeasurementUnit {
	t.Helper()
	var u models.MeasurementUnit
	if err := db.First(&u, "symbol = ?", symbol).Error; err != nil {
		t.Fatalf("unit %q: %v", symbol, err)
	}
	return u
}
