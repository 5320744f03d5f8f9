package database

import (
	"fmt"

	"pantry-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DefaultUnits is the unit set a fresh database starts with.
func DefaultUnits() []models.MeasurementUnit {
	u := func(name, symbol string, t models.UnitType, ratio string, common bool) models.MeasurementUnit {
		return models.MeasurementUnit{
			Name:      name,
			Symbol:    symbol,
			Type:      t,
			BaseRatio: decimal.RequireFromString(ratio),
			IsCommon:  common,
		}
	}
	return []models.MeasurementUnit{
		u("gram", "g", models.UnitTypeWeight, "1", true),
		u("kilogram", "kg", models.UnitTypeWeight, "1000", true),
		u("milligram", "mg", models.UnitTypeWeight, "0.001", false),
		u("ounce", "oz", models.UnitTypeWeight, "28.349523", false),
		u("pound", "lb", models.UnitTypeWeight, "453.59237", false),
		u("milliliter", "ml", models.UnitTypeVolume, "1", true),
		u("liter", "l", models.UnitTypeVolume, "1000", true),
		u("cup", "cup", models.UnitTypeVolume, "240", true),
		u("fluid ounce", "fl_oz", models.UnitTypeVolume, "29.573530", false),
		u("piece", "pcs", models.UnitTypePiece, "1", true),
		u("dozen", "dozen", models.UnitTypePiece, "12", false),
		u("teaspoon", "tsp", models.UnitTypeSpoon, "5", true),
		u("tablespoon", "tbsp", models.UnitTypeSpoon, "15", true),
		u("pinch", "pinch", models.UnitTypeCustom, "1", false),
		u("bunch", "bunch", models.UnitTypeCustom, "1", false),
	}
}

// SeedUnits inserts DefaultUnits when the units table is empty.
func SeedUnits(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.MeasurementUnit{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count units: %w", err)
	}
	if count > 0 {
		return nil
	}
	units := DefaultUnits()
	if err := db.Create(&units).Error; err != nil {
		return fmt.Errorf("seed units: %w", err)
	}
	return nil
}
