// Package units holds the measurement unit registry: every known unit, its
// type and its ratio to the canonical unit of that type.
package units

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pantry-backend/internal/apperr"
	"pantry-backend/internal/logger"
	"pantry-backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Canonical unit symbol per type. Spoon ratios are expressed in ml and
// custom units have no canonical unit.
var canonicalSymbols = map[models.UnitType]string{
	models.UnitTypeWeight: "g",
	models.UnitTypeVolume: "ml",
	models.UnitTypePiece:  "pcs",
}

type Registry struct {
	mu       sync.RWMutex
	byID     map[uint]models.MeasurementUnit
	bySymbol map[string]models.MeasurementUnit
	log      *zap.Logger
}

func NewRegistry(list []models.MeasurementUnit, log *zap.Logger) *Registry {
	r := &Registry{log: logger.OrNop(log)}
	r.replace(list)
	return r
}

// Load builds a registry from the measurement_units table.
func Load(ctx context.Context, db *gorm.DB, log *zap.Logger) (*Registry, error) {
	r := NewRegistry(nil, log)
	if err := r.Reload(ctx, db); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Reload(ctx context.Context, db *gorm.DB) error {
	var list []models.MeasurementUnit
	if err := db.WithContext(ctx).Find(&list).Error; err != nil {
		return fmt.Errorf("load units: %w", err)
	}
	r.replace(list)
	return nil
}

func (r *Registry) replace(list []models.MeasurementUnit) {
	byID := make(map[uint]models.MeasurementUnit, len(list))
	bySymbol := make(map[string]models.MeasurementUnit, len(list))
	for _, u := range list {
		if err := Validate(u); err != nil {
			r.log.Warn("skipping invalid unit", zap.Uint("unit_id", u.ID), zap.String("symbol", u.Symbol), zap.Error(err))
			continue
		}
		byID[u.ID] = u
		bySymbol[normalizeSymbol(u.Symbol)] = u
	}

	r.mu.Lock()
	r.byID = byID
	r.bySymbol = bySymbol
	r.mu.Unlock()
}

func (r *Registry) Unit(id uint) (models.MeasurementUnit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	return u, ok
}

func (r *Registry) BySymbol(symbol string) (models.MeasurementUnit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.bySymbol[normalizeSymbol(symbol)]
	return u, ok
}

// Lookup resolves a unit by id, failing with ErrInvalidInput.
func (r *Registry) Lookup(id uint) (models.MeasurementUnit, error) {
	u, ok := r.Unit(id)
	if !ok {
		return models.MeasurementUnit{}, apperr.Invalid("unknown unit id %d", id)
	}
	return u, nil
}

// Base returns the canonical unit of t (g, ml, pcs) if it is registered.
func (r *Registry) Base(t models.UnitType) (models.MeasurementUnit, bool) {
	symbol, ok := canonicalSymbols[t]
	if !ok {
		return models.MeasurementUnit{}, false
	}
	u, ok := r.BySymbol(symbol)
	if !ok || u.Type != t {
		return models.MeasurementUnit{}, false
	}
	return u, true
}

func (r *Registry) IsBase(u models.MeasurementUnit) bool {
	base, ok := r.Base(u.Type)
	return ok && base.ID == u.ID
}

// All returns the units ordered by type, then ratio, then symbol.
func (r *Registry) All() []models.MeasurementUnit {
	r.mu.RLock()
	list := make([]models.MeasurementUnit, 0, len(r.byID))
	for _, u := range r.byID {
		list = append(list, u)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Type != list[j].Type {
			return list[i].Type < list[j].Type
		}
		if c := list[i].BaseRatio.Cmp(list[j].BaseRatio); c != 0 {
			return c < 0
		}
		return list[i].Symbol < list[j].Symbol
	})
	return list
}

func Validate(u models.MeasurementUnit) error {
	if strings.TrimSpace(u.Symbol) == "" {
		return apperr.Invalid("unit symbol is required")
	}
	if !u.Type.Valid() {
		return apperr.Invalid("unknown unit type %q", u.Type)
	}
	if !u.BaseRatio.IsPositive() {
		return apperr.Invalid("base ratio of %q must be > 0", u.Symbol)
	}
	return nil
}

func normalizeSymbol(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
