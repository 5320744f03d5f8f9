package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Ingredient struct {
	ID              uint                          `gorm:"primaryKey"`
	Name            string                        `gorm:"size:100;not null;unique"`
	Capabilities    datatypes.JSONSlice[UnitType] `gorm:"column:unit_capabilities"` // weight, volume, piece, spoon
	DefaultUnitID   *uint
	DefaultUnit     *MeasurementUnit
	CompatibleUnits []MeasurementUnit   `gorm:"many2many:ingredient_compatible_units;"`
	Density         decimal.NullDecimal `gorm:"type:numeric(12,6)"` // g/ml
	PieceWeight     decimal.NullDecimal `gorm:"type:numeric(12,4)"` // g per piece
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (i *Ingredient) Has(c UnitType) bool {
	if i == nil {
		return false
	}
	for _, have := range i.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// PrimaryCapability picks the capability whose canonical unit stock is
// normalized to: weight first, then volume.
func (i *Ingredient) PrimaryCapability() (UnitType, bool) {
	switch {
	case i.Has(UnitTypeWeight):
		return UnitTypeWeight, true
	case i.Has(UnitTypeVolume):
		return UnitTypeVolume, true
	}
	return "", false
}

func (i *Ingredient) DensityValue() (float64, bool) {
	if i == nil || !i.Density.Valid {
		return 0, false
	}
	return i.Density.Decimal.InexactFloat64(), true
}

func (i *Ingredient) PieceWeightValue() (float64, bool) {
	if i == nil || !i.PieceWeight.Valid {
		return 0, false
	}
	return i.PieceWeight.Decimal.InexactFloat64(), true
}
