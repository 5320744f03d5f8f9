package models

import "time"

type Recipe struct {
	ID          uint               `gorm:"primaryKey"`
	Name        string             `gorm:"size:150;not null"`
	Servings    float64            `gorm:"not null"`
	Ingredients []RecipeIngredient `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type RecipeIngredient struct {
	ID           uint `gorm:"primaryKey"`
	RecipeID     uint `gorm:"index;not null"`
	IngredientID uint `gorm:"index;not null"`
	Ingredient   Ingredient
	UnitID       uint `gorm:"not null"`
	Unit         MeasurementUnit
	Amount       float64 `gorm:"not null"`
	Position     int     `gorm:"not null;default:0"`
}
