// Package catalog manages units, ingredients and conversion ratios and
// keeps the in-memory registry and conversion store in step with them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pantry-backend/internal/apperr"
	"pantry-backend/internal/audit"
	"pantry-backend/internal/conversion"
	"pantry-backend/internal/logger"
	"pantry-backend/internal/models"
	"pantry-backend/internal/units"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db       *gorm.DB
	registry *units.Registry
	store    *conversion.Store
	resolver *conversion.Resolver
	log      *zap.Logger
}

func NewService(db *gorm.DB, registry *units.Registry, store *conversion.Store, log *zap.Logger) *Service {
	return &Service{
		db:       db,
		registry: registry,
		store:    store,
		resolver: conversion.NewResolver(registry, store),
		log:      logger.OrNop(log),
	}
}

func (s *Service) Resolver() *conversion.Resolver { return s.resolver }

func (s *Service) Units() []models.MeasurementUnit { return s.registry.All() }

func (s *Service) CreateUnit(ctx context.Context, userID uint, u models.MeasurementUnit) (models.MeasurementUnit, error) {
	u.Symbol = strings.TrimSpace(u.Symbol)
	u.Name = strings.TrimSpace(u.Name)
	if err := units.Validate(u); err != nil {
		return u, err
	}
	if _, ok := s.registry.BySymbol(u.Symbol); ok {
		return u, apperr.Invalid("unit %q already exists", u.Symbol)
	}
	if u.Name == "" {
		u.Name = u.Symbol
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&u).Error; err != nil {
			return fmt.Errorf("create unit: %w", err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      userID,
			EntityType:  "measurement_unit",
			EntityID:    u.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("unit %s (%s) = %s", u.Symbol, u.Type, u.BaseRatio),
			After:       u,
		})
	})
	if err != nil {
		return u, err
	}
	return u, s.registry.Reload(ctx, s.db)
}

type IngredientInput struct {
	Name              string
	Capabilities      []models.UnitType
	DefaultUnitID     *uint
	CompatibleUnitIDs []uint
	Density           *decimal.Decimal
	PieceWeight       *decimal.Decimal
}

func (s *Service) validateIngredient(in IngredientInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Invalid("ingredient name is required")
	}
	for _, c := range in.Capabilities {
		if !c.Valid() || c == models.UnitTypeCustom {
			return apperr.Invalid("unknown unit capability %q", c)
		}
	}
	if in.Density != nil && !in.Density.IsPositive() {
		return apperr.Invalid("density must be > 0")
	}
	if in.PieceWeight != nil && !in.PieceWeight.IsPositive() {
		return apperr.Invalid("piece weight must be > 0")
	}
	if in.DefaultUnitID != nil {
		if _, err := s.registry.Lookup(*in.DefaultUnitID); err != nil {
			return err
		}
	}
	for _, id := range in.CompatibleUnitIDs {
		if _, err := s.registry.Lookup(id); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(caps []models.UnitType) []models.UnitType {
	out := make([]models.UnitType, 0, len(caps))
	seen := make(map[models.UnitType]bool)
	for _, c := range caps {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func (s *Service) apply(ing *models.Ingredient, in IngredientInput) {
	ing.Name = strings.TrimSpace(in.Name)
	ing.Capabilities = dedupe(in.Capabilities)
	ing.DefaultUnitID = in.DefaultUnitID
	ing.Density = nullDecimal(in.Density)
	ing.PieceWeight = nullDecimal(in.PieceWeight)
}

func (s *Service) compatible(ids []uint) []models.MeasurementUnit {
	out := make([]models.MeasurementUnit, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.registry.Unit(id); ok {
			out = append(out, u)
		}
	}
	return out
}

func (s *Service) CreateIngredient(ctx context.Context, userID uint, in IngredientInput) (*models.Ingredient, error) {
	if err := s.validateIngredient(in); err != nil {
		return nil, err
	}
	var ing models.Ingredient
	s.apply(&ing, in)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Ingredient{}).Where("name = ?", ing.Name).Count(&n).Error; err != nil {
			return fmt.Errorf("check ingredient name: %w", err)
		}
		if n > 0 {
			return apperr.Invalid("ingredient %q already exists", ing.Name)
		}
		if err := tx.Omit(clause.Associations).Create(&ing).Error; err != nil {
			return fmt.Errorf("create ingredient: %w", err)
		}
		if linked := s.compatible(in.CompatibleUnitIDs); len(linked) > 0 {
			if err := tx.Model(&ing).Association("CompatibleUnits").Append(linked); err != nil {
				return fmt.Errorf("link compatible units: %w", err)
			}
		}
		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      userID,
			EntityType:  "ingredient",
			EntityID:    ing.ID,
			Action:      models.AuditActionCreate,
			Description: "ingredient " + ing.Name,
			After:       ing,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Ingredient(ctx, ing.ID)
}

func (s *Service) UpdateIngredient(ctx context.Context, userID, id uint, in IngredientInput) (*models.Ingredient, error) {
	if err := s.validateIngredient(in); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) (err error) {
		var ing models.Ingredient
		if err := tx.First(&ing, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("ingredient %d", id)
			}
			return fmt.Errorf("load ingredient: %w", err)
		}
		before := ing
		s.apply(&ing, in)

		var n int64
		if err := tx.Model(&models.Ingredient{}).Where("name = ? AND id <> ?", ing.Name, id).Count(&n).Error; err != nil {
			return fmt.Errorf("check ingredient name: %w", err)
		}
		if n > 0 {
			return apperr.Invalid("ingredient %q already exists", ing.Name)
		}
		if err := tx.Omit(clause.Associations).Save(&ing).Error; err != nil {
			return fmt.Errorf("update ingredient: %w", err)
		}
		assoc := tx.Model(&ing).Association("CompatibleUnits")
		if linked := s.compatible(in.CompatibleUnitIDs); len(linked) > 0 {
			err = assoc.Replace(linked)
		} else {
			err = assoc.Clear()
		}
		if err != nil {
			return fmt.Errorf("link compatible units: %w", err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      userID,
			EntityType:  "ingredient",
			EntityID:    ing.ID,
			Action:      models.AuditActionUpdate,
			Description: "ingredient " + ing.Name,
			Before:      before,
			After:       ing,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Ingredient(ctx, id)
}

func (s *Service) Ingredient(ctx context.Context, id uint) (*models.Ingredient, error) {
	var ing models.Ingredient
	err := s.db.WithContext(ctx).Preload("DefaultUnit").Preload("CompatibleUnits").First(&ing, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("ingredient %d", id)
		}
		return nil, fmt.Errorf("get ingredient: %w", err)
	}
	return &ing, nil
}

func (s *Service) Ingredients(ctx context.Context) ([]models.Ingredient, error) {
	var list []models.Ingredient
	err := s.db.WithContext(ctx).Preload("DefaultUnit").Preload("CompatibleUnits").Order("name ASC").Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list ingredients: %w", err)
	}
	return list, nil
}

type ConversionInput struct {
	IngredientID *uint
	FromUnitID   uint
	ToUnitID     uint
	Ratio        decimal.Decimal
	IsExact      bool
}

func (s *Service) Conversions(ctx context.Context, ingredientID *uint) ([]models.IngredientConversion, error) {
	q := s.db.WithContext(ctx).Preload("FromUnit").Preload("ToUnit").Order("id ASC")
	if ingredientID != nil {
		q = q.Where("ingredient_id = ?", *ingredientID)
	}
	var list []models.IngredientConversion
	if err := q.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	return list, nil
}

func (s *Service) CreateConversion(ctx context.Context, userID uint, in ConversionInput) (models.IngredientConversion, error) {
	row := models.IngredientConversion{
		IngredientID: in.IngredientID,
		FromUnitID:   in.FromUnitID,
		ToUnitID:     in.ToUnitID,
		Ratio:        in.Ratio,
		IsExact:      in.IsExact,
	}
	if !in.Ratio.IsPositive() {
		return row, apperr.Invalid("ratio must be > 0")
	}
	if in.FromUnitID == in.ToUnitID {
		return row, apperr.Invalid("a conversion needs two different units")
	}
	if _, err := s.registry.Lookup(in.FromUnitID); err != nil {
		return row, err
	}
	if _, err := s.registry.Lookup(in.ToUnitID); err != nil {
		return row, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dup := tx.Model(&models.IngredientConversion{}).Where("from_unit_id = ? AND to_unit_id = ?", in.FromUnitID, in.ToUnitID)
		if in.IngredientID != nil {
			var n int64
			if err := tx.Model(&models.Ingredient{}).Where("id = ?", *in.IngredientID).Count(&n).Error; err != nil {
				return fmt.Errorf("check ingredient: %w", err)
			}
			if n == 0 {
				return apperr.Invalid("ingredient %d does not exist", *in.IngredientID)
			}
			dup = dup.Where("ingredient_id = ?", *in.IngredientID)
		} else {
			dup = dup.Where("ingredient_id IS NULL")
		}
		var n int64
		if err := dup.Count(&n).Error; err != nil {
			return fmt.Errorf("check conversion: %w", err)
		}
		if n > 0 {
			return apperr.Invalid("conversion already registered")
		}

		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return fmt.Errorf("create conversion: %w", err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      userID,
			EntityType:  "conversion",
			EntityID:    row.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("%d -> %d x %s", row.FromUnitID, row.ToUnitID, row.Ratio),
			After:       row,
		})
	})
	if err != nil {
		return row, err
	}
	return row, s.store.Reload(ctx, s.db)
}

func (s *Service) DeleteConversion(ctx context.Context, userID, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.IngredientConversion
		if err := tx.First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("conversion %d", id)
			}
			return fmt.Errorf("load conversion: %w", err)
		}
		if err := tx.Delete(&row).Error; err != nil {
			return fmt.Errorf("delete conversion: %w", err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			UserID:     userID,
			EntityType: "conversion",
			EntityID:   id,
			Action:     models.AuditActionDelete,
			Before:     row,
		})
	})
	if err != nil {
		return err
	}
	return s.store.Reload(ctx, s.db)
}

// Convert uses the ingredient's own ratios and parameters when ingredientID
// is set.
func (s *Service) Convert(ctx context.Context, amount float64, from, to models.MeasurementUnit, ingredientID uint) (conversion.Result, error) {
	var ing *models.Ingredient
	if ingredientID != 0 {
		var err error
		if ing, err = s.Ingredient(ctx, ingredientID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return conversion.Result{}, apperr.Invalid("ingredient %d does not exist", ingredientID)
			}
			return conversion.Result{}, err
		}
	}
	return s.resolver.ConvertDetailed(amount, from, to, ing)
}
