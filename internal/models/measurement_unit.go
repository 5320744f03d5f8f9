package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type UnitType string

const (
	UnitTypeWeight UnitType = "weight"
	UnitTypeVolume UnitType = "volume"
	UnitTypePiece  UnitType = "piece"
	UnitTypeSpoon  UnitType = "spoon"
	UnitTypeCustom UnitType = "custom"
)

func (t UnitType) Valid() bool {
	switch t {
	case UnitTypeWeight, UnitTypeVolume, UnitTypePiece, UnitTypeSpoon, UnitTypeCustom:
		return true
	}
	return false
}

// MeasurementUnit: BaseRatio is relative to the canonical unit of its type
// (g for weight, ml for volume and spoon, one piece for piece).
type MeasurementUnit struct {
	ID        uint            `gorm:"primaryKey"`
	Name      string          `gorm:"size:50;not null"`
	Symbol    string          `gorm:"size:20;not null;uniqueIndex"` // g, kg, ml, tbsp, pcs ...
	Type      UnitType        `gorm:"size:20;not null;index"`
	BaseRatio decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	IsCommon  bool            `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u MeasurementUnit) Ratio() float64 {
	return u.BaseRatio.InexactFloat64()
}
