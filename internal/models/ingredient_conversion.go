package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// IngredientConversion: amount(from) * Ratio = amount(to). Directional, the
// reverse is never stored implicitly. IngredientID nil marks a generic ratio.
type IngredientConversion struct {
	ID           uint  `gorm:"primaryKey"`
	IngredientID *uint `gorm:"uniqueIndex:idx_conversion_triple,priority:1"`
	Ingredient   *Ingredient
	FromUnitID   uint `gorm:"not null;uniqueIndex:idx_conversion_triple,priority:2"`
	FromUnit     MeasurementUnit
	ToUnitID     uint `gorm:"not null;uniqueIndex:idx_conversion_triple,priority:3"`
	ToUnit       MeasurementUnit
	Ratio        decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	IsExact      bool            `gorm:"not null;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
