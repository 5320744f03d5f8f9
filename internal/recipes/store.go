// Package recipes stores recipes and answers what a user's fridge can make.
package recipes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pantry-backend/internal/apperr"
	"pantry-backend/internal/models"
	"pantry-backend/internal/units"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Line struct {
	IngredientID uint    `json:"ingredient_id"`
	Amount       float64 `json:"amount"`
	UnitID       uint    `json:"unit_id"`
}

type Store struct {
	db       *gorm.DB
	registry *units.Registry
}

func NewStore(db *gorm.DB, registry *units.Registry) *Store {
	return &Store{db: db, registry: registry}
}

func (s *Store) Create(ctx context.Context, name string, servings float64, lines []Line) (*models.Recipe, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("recipe name is required")
	}
	if !(servings > 0) {
		return nil, apperr.Invalid("servings must be positive")
	}
	if len(lines) == 0 {
		return nil, apperr.Invalid("a recipe needs at least one ingredient")
	}
	for i, l := range lines {
		if !(l.Amount > 0) {
			return nil, apperr.Invalid("line %d: amount must be positive", i+1)
		}
		if _, err := s.registry.Lookup(l.UnitID); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}

	recipe := models.Recipe{Name: name, Servings: servings}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]uint, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.IngredientID)
		}
		var known int64
		if err := tx.Model(&models.Ingredient{}).Where("id IN ?", ids).Distinct("id").Count(&known).Error; err != nil {
			return fmt.Errorf("check ingredients: %w", err)
		}
		if int(known) != countDistinct(ids) {
			return apperr.Invalid("recipe references an unknown ingredient")
		}

		if err := tx.Omit(clause.Associations).Create(&recipe).Error; err != nil {
			return fmt.Errorf("create recipe: %w", err)
		}
		rows := make([]models.RecipeIngredient, 0, len(lines))
		for i, l := range lines {
			rows = append(rows, models.RecipeIngredient{
				RecipeID:     recipe.ID,
				IngredientID: l.IngredientID,
				UnitID:       l.UnitID,
				Amount:       l.Amount,
				Position:     i,
			})
		}
		if err := tx.Omit(clause.Associations).Create(&rows).Error; err != nil {
			return fmt.Errorf("create recipe lines: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, recipe.ID)
}

func countDistinct(ids []uint) int {
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

func (s *Store) Get(ctx context.Context, id uint) (*models.Recipe, error) {
	var r models.Recipe
	err := s.db.WithContext(ctx).
		Preload("Ingredients", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") }).
		Preload("Ingredients.Ingredient").
		Preload("Ingredients.Unit").
		First(&r, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("recipe %d", id)
		}
		return nil, fmt.Errorf("get recipe: %w", err)
	}
	return &r, nil
}

func (s *Store) List(ctx context.Context) ([]models.Recipe, error) {
	var list []models.Recipe
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list recipes: %w", err)
	}
	return list, nil
}
