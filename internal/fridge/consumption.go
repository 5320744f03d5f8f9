package fridge

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"pantry-backend/internal/apperr"
	"pantry-backend/internal/audit"
	"pantry-backend/internal/logger"
	"pantry-backend/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Requirement is an amount of one ingredient in one unit.
type Requirement struct {
	IngredientID uint    `json:"ingredient_id"`
	UnitID       uint    `json:"unit_id"`
	Amount       float64 `json:"amount"`
}

type Missing struct {
	IngredientID   uint    `json:"ingredient_id"`
	IngredientName string  `json:"ingredient_name"`
	UnitID         uint    `json:"unit_id"`
	UnitSymbol     string  `json:"unit_symbol"`
	Required       float64 `json:"required"`
	Available      float64 `json:"available"`
	Shortfall      float64 `json:"shortfall"`
}

// UsedEntry records what one withdrawal took from one stock entry.
type UsedEntry struct {
	EntryID     uint    `json:"entry_id"`
	UnitID      uint    `json:"unit_id"`
	Taken       float64 `json:"taken"`
	TakenAsUsed float64 `json:"taken_in_requested_unit"`
	Remaining   float64 `json:"remaining"`
	Deleted     bool    `json:"deleted"`
}

type ConsumptionResult struct {
	Success     bool                 `json:"success"`
	OperationID string               `json:"operation_id,omitempty"`
	Missing     []Missing            `json:"missing"`
	Used        map[uint][]UsedEntry `json:"used"`
	Residual    map[uint]float64     `json:"residual"`
}

// Engine withdraws stock through a Ledger. Every withdrawal is checked in
// full before anything is written.
type Engine struct {
	ledger *Ledger
	log    *zap.Logger

	// planner is plan unless a test replaces it.
	planner func(list []models.StockEntry, ing *models.Ingredient, unit models.MeasurementUnit, amount float64) ([]take, float64)
}

func NewEngine(ledger *Ledger, log *zap.Logger) *Engine {
	e := &Engine{ledger: ledger, log: logger.OrNop(log)}
	e.planner = e.plan
	return e
}

func (e *Engine) Ledger() *Ledger { return e.ledger }

// Requirements scales a recipe's lines and merges lines naming the same
// ingredient and unit, keeping first-seen order.
func Requirements(recipe *models.Recipe, scale float64) []Requirement {
	type key struct{ ingredient, unit uint }
	index := make(map[key]int)
	var out []Requirement

	lines := append([]models.RecipeIngredient(nil), recipe.Ingredients...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Position < lines[j].Position })

	for _, line := range lines {
		k := key{line.IngredientID, line.UnitID}
		if i, ok := index[k]; ok {
			out[i].Amount += line.Amount * scale
			continue
		}
		index[k] = len(out)
		out = append(out, Requirement{IngredientID: line.IngredientID, UnitID: line.UnitID, Amount: line.Amount * scale})
	}
	return out
}

func recipeScale(recipe *models.Recipe, servings *float64) (float64, error) {
	if recipe == nil {
		return 0, apperr.Invalid("recipe is required")
	}
	if !validAmount(recipe.Servings) || recipe.Servings <= 0 {
		return 0, apperr.Invalid("recipe %d has no positive servings", recipe.ID)
	}
	if servings == nil {
		return 1, nil
	}
	if !validAmount(*servings) || *servings <= 0 {
		return 0, apperr.Invalid("servings must be positive")
	}
	return *servings / recipe.Servings, nil
}

// take is one planned decrement of a stock entry.
type take struct {
	index     int
	fromEntry float64
	asUsed    float64
}

// stock is the working copy of a user's entries that a plan runs against.
type stock struct {
	ingredients map[uint]*models.Ingredient
	entries     map[uint][]models.StockEntry
	original    map[uint]float64
}

func (e *Engine) loadStock(tx *gorm.DB, userID uint, reqs []Requirement, forUpdate bool) (*stock, error) {
	s := &stock{
		ingredients: make(map[uint]*models.Ingredient),
		entries:     make(map[uint][]models.StockEntry),
		original:    make(map[uint]float64),
	}
	for _, r := range reqs {
		if _, ok := s.ingredients[r.IngredientID]; ok {
			continue
		}
		ing, err := loadIngredient(tx, r.IngredientID)
		if err != nil {
			return nil, err
		}
		list, err := entries(tx, userID, r.IngredientID, forUpdate)
		if err != nil {
			return nil, err
		}
		s.ingredients[ing.ID] = ing
		s.entries[ing.ID] = list
		for _, en := range list {
			s.original[en.ID] = en.Amount
		}
	}
	return s, nil
}

// plan withdraws amount in unit from list in memory: entries already in
// unit first, then the rest, each group in FIFO order. It returns the
// takes and whatever could not be covered.
func (e *Engine) plan(list []models.StockEntry, ing *models.Ingredient, unit models.MeasurementUnit, amount float64) ([]take, float64) {
	order := make([]int, 0, len(list))
	for i := range list {
		if list[i].UnitID == unit.ID {
			order = append(order, i)
		}
	}
	for i := range list {
		if list[i].UnitID != unit.ID {
			order = append(order, i)
		}
	}

	tol := tolerance(amount)
	remaining := amount
	var takes []take
	for _, i := range order {
		if remaining <= tol {
			break
		}
		en := &list[i]
		if en.Amount <= 0 {
			continue
		}
		have, err := e.ledger.inUnit(*en, unit, ing)
		if err != nil || have <= 0 {
			continue
		}
		t := take{index: i}
		if have <= remaining+tol {
			t.fromEntry, t.asUsed = en.Amount, have
			remaining -= have
		} else {
			t.fromEntry, t.asUsed = en.Amount*remaining/have, remaining
			remaining = 0
		}
		en.Amount -= t.fromEntry
		takes = append(takes, t)
	}
	if remaining <= tol {
		remaining = 0
	}
	return takes, remaining
}

type evaluation struct {
	stock    *stock
	missing  []Missing
	used     map[uint][]UsedEntry
	residual map[uint]float64
	touched  []uint
}

// evaluate checks every requirement against the working stock and plans
// the withdrawals of those that are covered.
func (e *Engine) evaluate(tx *gorm.DB, userID uint, reqs []Requirement, forUpdate bool) (*evaluation, error) {
	s, err := e.loadStock(tx, userID, reqs, forUpdate)
	if err != nil {
		return nil, err
	}
	ev := &evaluation{stock: s, used: make(map[uint][]UsedEntry), residual: make(map[uint]float64)}
	seen := make(map[uint]bool)
	reg := e.ledger.resolver.Registry()

	for _, r := range reqs {
		unit, err := reg.Lookup(r.UnitID)
		if err != nil {
			return nil, err
		}
		if !validAmount(r.Amount) || r.Amount < 0 {
			return nil, apperr.Invalid("requirement for ingredient %d has an invalid amount", r.IngredientID)
		}
		if r.Amount <= epsilon {
			continue
		}
		ing := s.ingredients[r.IngredientID]
		list := s.entries[r.IngredientID]

		have := e.ledger.sum(list, ing, unit)
		if have+tolerance(r.Amount) < r.Amount {
			ev.missing = append(ev.missing, Missing{
				IngredientID:   ing.ID,
				IngredientName: ing.Name,
				UnitID:         unit.ID,
				UnitSymbol:     unit.Symbol,
				Required:       Round(r.Amount),
				Available:      Round(have),
				Shortfall:      Round(r.Amount - have),
			})
			continue
		}

		takes, residual := e.planner(list, ing, unit, r.Amount)
		ev.residual[ing.ID] += residual
		for _, t := range takes {
			en := list[t.index]
			if !seen[en.ID] {
				seen[en.ID] = true
				ev.touched = append(ev.touched, en.ID)
			}
			ev.used[ing.ID] = append(ev.used[ing.ID], UsedEntry{
				EntryID:     en.ID,
				UnitID:      en.UnitID,
				Taken:       Round(t.fromEntry),
				TakenAsUsed: Round(t.asUsed),
				Remaining:   Round(max(en.Amount, 0)),
				Deleted:     en.Amount <= tolerance(s.original[en.ID]),
			})
		}
	}
	return ev, nil
}

func (s *stock) find(id uint) (models.StockEntry, bool) {
	for _, list := range s.entries {
		for _, en := range list {
			if en.ID == id {
				return en, true
			}
		}
	}
	return models.StockEntry{}, false
}

// consume checks and withdraws reqs in one transaction. A shortfall leaves
// the stock untouched and returns Success false.
func (e *Engine) consume(ctx context.Context, userID uint, reqs []Requirement, description string) (ConsumptionResult, error) {
	ids := make([]uint, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.IngredientID)
	}
	unlock := e.ledger.locks.lock(userID, ids...)
	defer unlock()

	opID := uuid.NewString()
	var result ConsumptionResult

	err := e.ledger.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := e.evaluate(tx, userID, reqs, true)
		if err != nil {
			return err
		}
		result = ConsumptionResult{Missing: ev.missing, Used: ev.used, Residual: ev.residual}
		if len(ev.missing) > 0 {
			return nil
		}

		for id, residual := range ev.residual {
			if residual > 0 {
				e.log.Error("withdrawal left a residual after the availability check passed",
					zap.Uint("user_id", userID),
					zap.Uint("ingredient_id", id),
					zap.Float64("residual", residual),
					zap.String("operation_id", opID))
				return fmt.Errorf("%w: ingredient %d short by %g", apperr.ErrInvariantViolation, id, residual)
			}
		}

		for _, id := range ev.touched {
			after, _ := ev.stock.find(id)
			before := after
			before.Amount = ev.stock.original[id]

			opts := audit.LogOptions{
				UserID:      userID,
				EntityType:  entityStockEntry,
				EntityID:    id,
				Action:      models.AuditActionConsume,
				Description: description,
				OperationID: opID,
				Before:      snapshot(before),
			}
			if after.Amount <= tolerance(before.Amount) {
				err = casDelete(tx, before)
			} else {
				err = casAmount(tx, before, after.Amount)
				opts.After = snapshot(after)
			}
			if err != nil {
				return err
			}
			if err := audit.WriteLog(tx, opts); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConcurrentModification) {
			e.log.Warn("withdrawal rolled back", zap.Uint("user_id", userID), zap.Error(err))
		}
		return ConsumptionResult{}, err
	}

	if len(result.Missing) == 0 {
		result.Success = true
		result.OperationID = opID
	}
	if result.Missing == nil {
		result.Missing = []Missing{}
	}
	return result, nil
}

// UseForRecipe withdraws everything a recipe needs, scaled to servings
// when given, or nothing at all.
func (e *Engine) UseForRecipe(ctx context.Context, userID uint, recipe *models.Recipe, servings *float64) (ConsumptionResult, error) {
	scale, err := recipeScale(recipe, servings)
	if err != nil {
		return ConsumptionResult{}, err
	}
	return e.consume(ctx, userID, Requirements(recipe, scale), fmt.Sprintf("prepared %s", recipe.Name))
}

// Remove withdraws a single amount and reports the entries touched.
func (e *Engine) Remove(ctx context.Context, userID, ingredientID uint, amount float64, unitID uint) (ConsumptionResult, error) {
	if !validAmount(amount) || amount <= 0 {
		return ConsumptionResult{}, apperr.Invalid("amount must be a positive number")
	}
	req := Requirement{IngredientID: ingredientID, UnitID: unitID, Amount: amount}
	return e.consume(ctx, userID, []Requirement{req}, "removed from fridge")
}

// RemoveSingle reports false, with nothing changed, when the stock does not
// cover amount.
func (e *Engine) RemoveSingle(ctx context.Context, userID, ingredientID uint, amount float64, unitID uint) (bool, error) {
	res, err := e.Remove(ctx, userID, ingredientID, amount, unitID)
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

func (e *Engine) MissingIngredients(ctx context.Context, userID uint, recipe *models.Recipe, servings *float64) ([]Missing, error) {
	scale, err := recipeScale(recipe, servings)
	if err != nil {
		return nil, err
	}
	ev, err := e.evaluate(e.ledger.db.WithContext(ctx), userID, Requirements(recipe, scale), false)
	if err != nil {
		return nil, err
	}
	if ev.missing == nil {
		return []Missing{}, nil
	}
	return ev.missing, nil
}

func (e *Engine) CanPrepare(ctx context.Context, userID uint, recipe *models.Recipe) (bool, error) {
	missing, err := e.MissingIngredients(ctx, userID, recipe, nil)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

type ShoppingItem struct {
	IngredientID   uint    `json:"ingredient_id"`
	IngredientName string  `json:"ingredient_name"`
	UnitID         uint    `json:"unit_id"`
	UnitSymbol     string  `json:"unit_symbol"`
	Amount         float64 `json:"amount"`
}

// ShoppingShortfall lists what has to be bought before the recipe can be
// prepared: required minus available, positive amounts only.
func (e *Engine) ShoppingShortfall(ctx context.Context, userID uint, recipe *models.Recipe, servings *float64) ([]ShoppingItem, error) {
	missing, err := e.MissingIngredients(ctx, userID, recipe, servings)
	if err != nil {
		return nil, err
	}
	items := make([]ShoppingItem, 0, len(missing))
	for _, m := range missing {
		if m.Shortfall <= 0 {
			continue
		}
		items = append(items, ShoppingItem{
			IngredientID:   m.IngredientID,
			IngredientName: m.IngredientName,
			UnitID:         m.UnitID,
			UnitSymbol:     m.UnitSymbol,
			Amount:         m.Shortfall,
		})
	}
	return items, nil
}
