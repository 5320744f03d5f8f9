// Package conversion converts amounts between measurement units, using
// ingredient specific ratios, generic ratios, per-type base ratios, density
// and piece weight, in that order.
package conversion

import (
	"errors"
	"fmt"
	"math"

	"pantry-backend/internal/apperr"
	"pantry-backend/internal/models"
	"pantry-backend/internal/units"
)

// Via names the rule that produced a conversion.
type Via string

const (
	ViaIdentity    Via = "identity"
	ViaIngredient  Via = "ingredient_ratio"
	ViaGeneric     Via = "generic_ratio"
	ViaSameType    Via = "base_ratio"
	ViaDensity     Via = "density"
	ViaPieceWeight Via = "piece_weight"
	ViaBoth        Via = "density_piece_weight"
	ViaSpoon       Via = "spoon_approximation"
)

type Result struct {
	Amount float64
	Exact  bool
	Via    Via
}

type Resolver struct {
	registry *units.Registry
	store    *Store
}

func NewResolver(registry *units.Registry, store *Store) *Resolver {
	return &Resolver{registry: registry, store: store}
}

func (r *Resolver) Registry() *units.Registry { return r.registry }

// Convert returns amount expressed in to. ingredient may be nil.
func (r *Resolver) Convert(amount float64, from, to models.MeasurementUnit, ingredient *models.Ingredient) (float64, error) {
	res, err := r.ConvertDetailed(amount, from, to, ingredient)
	return res.Amount, err
}

// ConvertIDs is Convert with units resolved through the registry.
func (r *Resolver) ConvertIDs(amount float64, fromID, toID uint, ingredient *models.Ingredient) (float64, error) {
	from, err := r.registry.Lookup(fromID)
	if err != nil {
		return 0, err
	}
	to, err := r.registry.Lookup(toID)
	if err != nil {
		return 0, err
	}
	return r.Convert(amount, from, to, ingredient)
}

func (r *Resolver) ConvertDetailed(amount float64, from, to models.MeasurementUnit, ingredient *models.Ingredient) (Result, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return Result{}, apperr.Invalid("amount %v is not a non-negative number", amount)
	}

	if from.ID == to.ID {
		return Result{Amount: amount, Exact: true, Via: ViaIdentity}, nil
	}

	if ingredient != nil {
		lookup := func(a, b models.MeasurementUnit) (Ratio, bool, error) {
			ratio, err := r.store.Ratio(ingredient.ID, a, b)
			switch {
			case err == nil:
				return ratio, true, nil
			case errors.Is(err, errZeroRatio):
				return Ratio{}, false, err
			}
			return Ratio{}, false, nil
		}
		res, ok, err := r.stored(amount, from, to, lookup, ViaIngredient)
		if err != nil || ok {
			return res, err
		}
	}

	res, ok, err := r.stored(amount, from, to, r.store.GenericRatio, ViaGeneric)
	if err != nil || ok {
		return res, err
	}

	if from.Type == to.Type {
		if from.Type == models.UnitTypeCustom {
			// custom units share no canonical unit; only stored ratios link them
			return Result{}, fmt.Errorf("%w: %s -> %s needs a stored ratio", apperr.ErrNoConversionPath, from.Symbol, to.Symbol)
		}
		return scale(amount, from, to, from.Type != models.UnitTypeSpoon, ViaSameType)
	}

	return r.crossType(amount, from, to, ingredient)
}

type lookupFunc func(from, to models.MeasurementUnit) (Ratio, bool, error)

// stored applies a stored ratio. The exact pair is tried first; after that
// a stored edge between any unit of from's type and any unit of to's type
// is combined with same-type rescales on either side (cup -> g stored
// answers l -> kg). At most one stored edge is used per conversion.
func (r *Resolver) stored(amount float64, from, to models.MeasurementUnit, lookup lookupFunc, via Via) (Result, bool, error) {
	ratio, ok, err := lookup(from, to)
	if err != nil {
		return Result{}, false, err
	}
	if ok {
		return Result{Amount: amount * ratio.Value, Exact: ratio.Exact, Via: via}, true, nil
	}

	froms := append([]models.MeasurementUnit{from}, r.sameType(from)...)
	tos := append([]models.MeasurementUnit{to}, r.sameType(to)...)
	for _, x := range froms {
		for _, y := range tos {
			if x.ID == from.ID && y.ID == to.ID {
				continue
			}
			if x.ID == y.ID {
				continue
			}
			ratio, ok, err := lookup(x, y)
			if err != nil {
				return Result{}, false, err
			}
			if !ok {
				continue
			}
			head, err := scale(amount, from, x, true, via)
			if err != nil {
				return Result{}, false, err
			}
			tail, err := scale(head.Amount*ratio.Value, y, to, true, via)
			if err != nil {
				return Result{}, false, err
			}
			exact := ratio.Exact && !involvesSpoon(from, x) && !involvesSpoon(y, to)
			return Result{Amount: tail.Amount, Exact: exact, Via: via}, true, nil
		}
	}
	return Result{}, false, nil
}

func (r *Resolver) sameType(u models.MeasurementUnit) []models.MeasurementUnit {
	if u.Type == models.UnitTypeCustom {
		return nil
	}
	var out []models.MeasurementUnit
	for _, other := range r.registry.All() {
		if other.Type == u.Type && other.ID != u.ID {
			out = append(out, other)
		}
	}
	return out
}

func involvesSpoon(a, b models.MeasurementUnit) bool {
	return a.ID != b.ID && (a.Type == models.UnitTypeSpoon || b.Type == models.UnitTypeSpoon)
}

func scale(amount float64, from, to models.MeasurementUnit, exact bool, via Via) (Result, error) {
	fr, tr := from.Ratio(), to.Ratio()
	if fr <= 0 || tr <= 0 {
		return Result{}, fmt.Errorf("%w: zero base ratio between %s and %s", apperr.ErrNoConversionPath, from.Symbol, to.Symbol)
	}
	return Result{Amount: amount * fr / tr, Exact: exact, Via: via}, nil
}

// physical maps a unit type to the quantity it measures. Spoons measure
// volume approximately; custom units measure nothing convertible.
func physical(t models.UnitType) (models.UnitType, bool) {
	switch t {
	case models.UnitTypeWeight, models.UnitTypeVolume, models.UnitTypePiece:
		return t, true
	case models.UnitTypeSpoon:
		return models.UnitTypeVolume, true
	}
	return "", false
}

func (r *Resolver) crossType(amount float64, from, to models.MeasurementUnit, ing *models.Ingredient) (Result, error) {
	fk, okFrom := physical(from.Type)
	tk, okTo := physical(to.Type)
	if !okFrom || !okTo {
		return Result{}, fmt.Errorf("%w: %s (%s) -> %s (%s)", apperr.ErrNoConversionPath, from.Symbol, from.Type, to.Symbol, to.Type)
	}
	spoon := from.Type == models.UnitTypeSpoon || to.Type == models.UnitTypeSpoon

	if fk == tk {
		// spoon <-> volume: both are ml based
		return scale(amount, from, to, false, ViaSpoon)
	}

	fr, tr := from.Ratio(), to.Ratio()
	if fr <= 0 || tr <= 0 {
		return Result{}, fmt.Errorf("%w: zero base ratio between %s and %s", apperr.ErrNoConversionPath, from.Symbol, to.Symbol)
	}

	density, hasDensity := ing.DensityValue()
	pieceWeight, hasPieceWeight := ing.PieceWeightValue()
	if (hasDensity && density <= 0) || (hasPieceWeight && pieceWeight <= 0) {
		return Result{}, fmt.Errorf("%w: zero density or piece weight", apperr.ErrNoConversionPath)
	}

	pair := fmt.Sprintf("%s -> %s", from.Symbol, to.Symbol)
	quantity := amount * fr // g, ml or pieces

	var out float64
	via := ViaDensity
	exact := true

	switch {
	case fk == models.UnitTypeWeight && tk == models.UnitTypeVolume, fk == models.UnitTypeVolume && tk == models.UnitTypeWeight:
		if !hasDensity {
			if !spoon {
				return Result{}, fmt.Errorf("%w: %s needs a density", apperr.ErrMissingConversionParameter, pair)
			}
			density, via, exact = 1, ViaSpoon, false
		}
		if fk == models.UnitTypeVolume {
			out = quantity * density
		} else {
			out = quantity / density
		}

	case fk == models.UnitTypeWeight && tk == models.UnitTypePiece, fk == models.UnitTypePiece && tk == models.UnitTypeWeight:
		if !hasPieceWeight {
			return Result{}, fmt.Errorf("%w: %s needs a piece weight", apperr.ErrMissingConversionParameter, pair)
		}
		via = ViaPieceWeight
		if fk == models.UnitTypePiece {
			out = quantity * pieceWeight
		} else {
			out = quantity / pieceWeight
		}

	default:
		// volume <-> piece, chained through grams
		if !hasPieceWeight || (!hasDensity && !spoon) {
			return Result{}, fmt.Errorf("%w: %s needs both density and piece weight", apperr.ErrNoConversionPath, pair)
		}
		via = ViaBoth
		if !hasDensity {
			density, exact = 1, false
		}
		if fk == models.UnitTypeVolume {
			out = quantity * density / pieceWeight
		} else {
			out = quantity * pieceWeight / density
		}
	}

	if spoon {
		exact = false
	}
	return Result{Amount: out / tr, Exact: exact, Via: via}, nil
}
