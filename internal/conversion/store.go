package conversion

import (
	"context"
	"fmt"
	"sync"

	"pantry-backend/internal/apperr"
	"pantry-backend/internal/logger"
	"pantry-backend/internal/models"
	"pantry-backend/internal/units"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// generic marks rows registered independent of any ingredient.
const generic uint = 0

type edgeKey struct {
	ingredient uint
	from, to   uint
}

// Ratio is a directional factor: amount(from) * Value = amount(to).
type Ratio struct {
	Value float64
	Exact bool
}

var errZeroRatio = fmt.Errorf("%w: zero ratio", apperr.ErrNoConversionPath)

// Store is an in-memory snapshot of the ingredient_conversions table.
// Lookups never touch the database.
type Store struct {
	mu       sync.RWMutex
	edges    map[edgeKey]Ratio
	registry *units.Registry
	log      *zap.Logger
}

func NewStore(registry *units.Registry, rows []models.IngredientConversion, log *zap.Logger) *Store {
	s := &Store{registry: registry, log: logger.OrNop(log)}
	s.replace(rows)
	return s
}

func LoadStore(ctx context.Context, db *gorm.DB, registry *units.Registry, log *zap.Logger) (*Store, error) {
	s := NewStore(registry, nil, log)
	if err := s.Reload(ctx, db); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Reload(ctx context.Context, db *gorm.DB) error {
	var rows []models.IngredientConversion
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("load conversions: %w", err)
	}
	s.replace(rows)
	return nil
}

func (s *Store) replace(rows []models.IngredientConversion) {
	edges := make(map[edgeKey]Ratio, len(rows))
	for _, row := range rows {
		if !row.Ratio.IsPositive() {
			s.log.Warn("skipping non-positive conversion ratio",
				zap.Uint("conversion_id", row.ID), zap.String("ratio", row.Ratio.String()))
			continue
		}
		key := edgeKey{ingredient: generic, from: row.FromUnitID, to: row.ToUnitID}
		if row.IngredientID != nil {
			key.ingredient = *row.IngredientID
		}
		edges[key] = Ratio{Value: row.Ratio.InexactFloat64(), Exact: row.IsExact}
	}

	s.mu.Lock()
	s.edges = edges
	s.mu.Unlock()
}

// hop resolves a single edge: the stored (from,to) row, else the reciprocal
// of the stored (to,from) row.
func (s *Store) hop(ingredient, from, to uint) (Ratio, bool, error) {
	s.mu.RLock()
	direct, okDirect := s.edges[edgeKey{ingredient, from, to}]
	reverse, okReverse := s.edges[edgeKey{ingredient, to, from}]
	s.mu.RUnlock()

	switch {
	case okDirect:
		if direct.Value <= 0 {
			return Ratio{}, false, errZeroRatio
		}
		return direct, true, nil
	case okReverse:
		if reverse.Value <= 0 {
			return Ratio{}, false, errZeroRatio
		}
		return Ratio{Value: 1 / reverse.Value, Exact: reverse.Exact}, true, nil
	}
	return Ratio{}, false, nil
}

// Ratio looks up an ingredient specific factor from -> to. When no row links
// the two units it tries one bridge through the canonical unit of either
// side's type, each leg resolved by hop only. The search never goes deeper.
func (s *Store) Ratio(ingredientID uint, from, to models.MeasurementUnit) (Ratio, error) {
	if ingredientID == generic {
		return Ratio{}, fmt.Errorf("%w: no ingredient given", apperr.ErrNoConversionPath)
	}

	r, ok, err := s.hop(ingredientID, from.ID, to.ID)
	if err != nil || ok {
		return r, err
	}

	visited := map[uint]bool{from.ID: true, to.ID: true}
	for _, t := range []models.UnitType{from.Type, to.Type} {
		bridge, ok := s.registry.Base(t)
		if !ok || visited[bridge.ID] {
			continue
		}
		visited[bridge.ID] = true

		first, ok, err := s.hop(ingredientID, from.ID, bridge.ID)
		if err != nil {
			return Ratio{}, err
		}
		if !ok {
			continue
		}
		second, ok, err := s.hop(ingredientID, bridge.ID, to.ID)
		if err != nil {
			return Ratio{}, err
		}
		if !ok {
			continue
		}
		return Ratio{Value: first.Value * second.Value, Exact: first.Exact && second.Exact}, nil
	}

	return Ratio{}, fmt.Errorf("%w: no stored ratio %s -> %s for ingredient %d",
		apperr.ErrNoConversionPath, from.Symbol, to.Symbol, ingredientID)
}

// GenericRatio is the ingredient independent direct or reverse ratio.
func (s *Store) GenericRatio(from, to models.MeasurementUnit) (Ratio, bool, error) {
	return s.hop(generic, from.ID, to.ID)
}

// Edges reports how many stored ratios the snapshot holds.
func (s *Store) Edges() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}
