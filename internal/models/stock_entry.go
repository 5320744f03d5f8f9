package models

import "time"

// StockEntry: one fridge row. (user, ingredient, unit, expiry) is unique and
// writes to an existing key add to Amount. Rows never stay at Amount <= 0.
type StockEntry struct {
	ID           uint `gorm:"primaryKey"`
	UserID       uint `gorm:"not null;uniqueIndex:idx_stock_key,priority:1"`
	IngredientID uint `gorm:"not null;uniqueIndex:idx_stock_key,priority:2"`
	Ingredient   Ingredient
	UnitID       uint `gorm:"not null;uniqueIndex:idx_stock_key,priority:3"`
	Unit         MeasurementUnit
	Amount       float64    `gorm:"type:double precision;not null"`
	ExpiryDate   *time.Time `gorm:"uniqueIndex:idx_stock_key,priority:4"` // date only, UTC midnight
	PurchaseDate time.Time  `gorm:"not null;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (StockEntry) TableName() string { return "fridge_items" }

// DateOnly truncates t to UTC midnight so expiry keys compare equal.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
