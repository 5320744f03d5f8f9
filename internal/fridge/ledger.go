// Package fridge keeps a user's stock entries and withdraws from them for
// recipes and single removals.
package fridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"pantry-backend/internal/apperr"
	"pantry-backend/internal/audit"
	"pantry-backend/internal/conversion"
	"pantry-backend/internal/logger"
	"pantry-backend/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// epsilon absorbs float drift when comparing stock against requirements.
// It is relative to the magnitude compared; see tolerance.
const epsilon = 1e-9

func tolerance(v float64) float64 {
	return epsilon * math.Max(1, math.Abs(v))
}

const entityStockEntry = "stock_entry"

type Ledger struct {
	db       *gorm.DB
	resolver *conversion.Resolver
	log      *zap.Logger
	locks    *keyLocks

	// BestEffortNormalize keeps the caller's unit when conversion to the
	// canonical unit fails. When false the conversion error is returned.
	BestEffortNormalize bool
}

func NewLedger(db *gorm.DB, resolver *conversion.Resolver, log *zap.Logger, bestEffort bool) *Ledger {
	return &Ledger{
		db:                  db,
		resolver:            resolver,
		log:                 logger.OrNop(log),
		locks:               newKeyLocks(),
		BestEffortNormalize: bestEffort,
	}
}

type AddInput struct {
	UserID       uint
	IngredientID uint
	Amount       float64
	UnitID       uint
	ExpiryDate   *time.Time
	// zero means now
	PurchaseDate time.Time
}

type Total struct {
	IngredientID   uint    `json:"ingredient_id"`
	IngredientName string  `json:"ingredient_name"`
	UnitID         uint    `json:"unit_id"`
	UnitSymbol     string  `json:"unit_symbol"`
	Amount         float64 `json:"amount"`
	Entries        int     `json:"entries"`
	Skipped        int     `json:"skipped"`
}

type entrySnapshot struct {
	IngredientID uint       `json:"ingredient_id"`
	UnitID       uint       `json:"unit_id"`
	Amount       float64    `json:"amount"`
	ExpiryDate   *time.Time `json:"expiry_date"`
}

func snapshot(e models.StockEntry) entrySnapshot {
	return entrySnapshot{IngredientID: e.IngredientID, UnitID: e.UnitID, Amount: e.Amount, ExpiryDate: e.ExpiryDate}
}

func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Round trims reported amounts to six decimal places.
func Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(6).InexactFloat64()
}

func loadIngredient(db *gorm.DB, id uint) (*models.Ingredient, error) {
	var ing models.Ingredient
	if err := db.First(&ing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Invalid("ingredient %d does not exist", id)
		}
		return nil, fmt.Errorf("load ingredient: %w", err)
	}
	return &ing, nil
}

// entries reads a user's stock of one ingredient in FIFO order. With
// forUpdate the rows are locked on databases that support it.
func entries(tx *gorm.DB, userID, ingredientID uint, forUpdate bool) ([]models.StockEntry, error) {
	q := tx.Where("user_id = ? AND ingredient_id = ?", userID, ingredientID)
	if forUpdate && tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var list []models.StockEntry
	if err := q.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("load stock entries: %w", err)
	}
	sortFIFO(list)
	return list, nil
}

func sortFIFO(list []models.StockEntry) {
	sort.SliceStable(list, func(i, j int) bool { return fifoLess(list[i], list[j]) })
}

// fifoLess orders by expiry (missing expiry last), then purchase date, then id.
func fifoLess(a, b models.StockEntry) bool {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return false
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return true
	case a.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
		return a.ExpiryDate.Before(*b.ExpiryDate)
	}
	if !a.PurchaseDate.Equal(b.PurchaseDate) {
		return a.PurchaseDate.Before(b.PurchaseDate)
	}
	return a.ID < b.ID
}

// inUnit expresses one entry in unit.
func (l *Ledger) inUnit(e models.StockEntry, unit models.MeasurementUnit, ing *models.Ingredient) (float64, error) {
	from, err := l.resolver.Registry().Lookup(e.UnitID)
	if err != nil {
		return 0, err
	}
	return l.resolver.Convert(e.Amount, from, unit, ing)
}

// sum is the one availability computation: every positive entry converted
// into unit, entries that cannot be converted are skipped.
func (l *Ledger) sum(list []models.StockEntry, ing *models.Ingredient, unit models.MeasurementUnit) float64 {
	total := 0.0
	for _, e := range list {
		if e.Amount <= 0 {
			continue
		}
		v, err := l.inUnit(e, unit, ing)
		if err != nil {
			l.log.Debug("stock entry skipped in availability",
				zap.Uint("entry_id", e.ID), zap.Uint("unit_id", unit.ID), zap.Error(err))
			continue
		}
		total += v
	}
	return total
}

// normalize picks the unit an added amount is stored in.
func (l *Ledger) normalize(ing *models.Ingredient, unit models.MeasurementUnit, amount float64) (models.MeasurementUnit, float64, bool, error) {
	if unit.Type == models.UnitTypePiece && ing.Has(models.UnitTypePiece) {
		return unit, amount, false, nil
	}
	primary, ok := ing.PrimaryCapability()
	if !ok {
		return unit, amount, false, nil
	}
	base, ok := l.resolver.Registry().Base(primary)
	if !ok || base.ID == unit.ID {
		return unit, amount, false, nil
	}

	converted, err := l.resolver.Convert(amount, unit, base, ing)
	if err != nil {
		if l.BestEffortNormalize {
			l.log.Info("keeping original unit",
				zap.Uint("ingredient_id", ing.ID), zap.String("unit", unit.Symbol), zap.Error(err))
			return unit, amount, false, nil
		}
		return unit, amount, false, err
	}
	return base, converted, true, nil
}

// Add stores amount of an ingredient, normalized to the ingredient's
// canonical unit when possible, merging into an entry with the same key.
func (l *Ledger) Add(ctx context.Context, in AddInput) (models.StockEntry, bool, error) {
	if !validAmount(in.Amount) || in.Amount <= 0 {
		return models.StockEntry{}, false, apperr.Invalid("amount must be a positive number")
	}
	unit, err := l.resolver.Registry().Lookup(in.UnitID)
	if err != nil {
		return models.StockEntry{}, false, err
	}
	db := l.db.WithContext(ctx)
	ing, err := loadIngredient(db, in.IngredientID)
	if err != nil {
		return models.StockEntry{}, false, err
	}

	target, amount, normalized, err := l.normalize(ing, unit, in.Amount)
	if err != nil {
		return models.StockEntry{}, false, err
	}

	var expiry *time.Time
	if in.ExpiryDate != nil {
		d := models.DateOnly(*in.ExpiryDate)
		expiry = &d
	}
	purchase := in.PurchaseDate
	if purchase.IsZero() {
		purchase = time.Now()
	}
	purchase = purchase.UTC()

	unlock := l.locks.lock(in.UserID, ing.ID)
	defer unlock()

	var entry models.StockEntry
	err = db.Transaction(func(tx *gorm.DB) error {
		q := tx.Where("user_id = ? AND ingredient_id = ? AND unit_id = ?", in.UserID, ing.ID, target.ID)
		if expiry == nil {
			q = q.Where("expiry_date IS NULL")
		} else {
			q = q.Where("expiry_date = ?", *expiry)
		}

		err := q.Take(&entry).Error
		switch {
		case err == nil:
			before := snapshot(entry)
			if err := casAmount(tx, entry, entry.Amount+amount); err != nil {
				return err
			}
			entry.Amount += amount
			return audit.WriteLog(tx, audit.LogOptions{
				UserID:      in.UserID,
				EntityType:  entityStockEntry,
				EntityID:    entry.ID,
				Action:      models.AuditActionUpdate,
				Description: fmt.Sprintf("added %g %s of %s", amount, target.Symbol, ing.Name),
				Before:      before,
				After:       snapshot(entry),
			})
		case errors.Is(err, gorm.ErrRecordNotFound):
			entry = models.StockEntry{
				UserID:       in.UserID,
				IngredientID: ing.ID,
				UnitID:       target.ID,
				Amount:       amount,
				ExpiryDate:   expiry,
				PurchaseDate: purchase,
			}
			if err := tx.Omit(clause.Associations).Create(&entry).Error; err != nil {
				return fmt.Errorf("create stock entry: %w", err)
			}
			return audit.WriteLog(tx, audit.LogOptions{
				UserID:      in.UserID,
				EntityType:  entityStockEntry,
				EntityID:    entry.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("stocked %g %s of %s", amount, target.Symbol, ing.Name),
				After:       snapshot(entry),
			})
		default:
			return fmt.Errorf("find stock entry: %w", err)
		}
	})
	if err != nil {
		return models.StockEntry{}, false, err
	}

	entry.Ingredient = *ing
	entry.Unit = target
	return entry, normalized, nil
}

// casAmount writes amount only if the row still holds the amount read.
func casAmount(tx *gorm.DB, e models.StockEntry, amount float64) error {
	res := tx.Model(&models.StockEntry{}).
		Where("id = ? AND amount = ?", e.ID, e.Amount).
		Update("amount", amount)
	if res.Error != nil {
		return fmt.Errorf("update stock entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: stock entry %d", apperr.ErrConcurrentModification, e.ID)
	}
	return nil
}

func casDelete(tx *gorm.DB, e models.StockEntry) error {
	res := tx.Where("id = ? AND amount = ?", e.ID, e.Amount).Delete(&models.StockEntry{})
	if res.Error != nil {
		return fmt.Errorf("delete stock entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: stock entry %d", apperr.ErrConcurrentModification, e.ID)
	}
	return nil
}

func (l *Ledger) List(ctx context.Context, userID uint) ([]models.StockEntry, error) {
	var list []models.StockEntry
	err := l.db.WithContext(ctx).
		Preload("Ingredient").
		Preload("Unit").
		Where("user_id = ?", userID).
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list stock entries: %w", err)
	}
	sortFIFO(list)
	return list, nil
}

func (l *Ledger) Get(ctx context.Context, userID, id uint) (models.StockEntry, error) {
	return getEntry(l.db.WithContext(ctx).Preload("Ingredient").Preload("Unit"), userID, id)
}

func getEntry(db *gorm.DB, userID, id uint) (models.StockEntry, error) {
	var e models.StockEntry
	if err := db.Where("id = ? AND user_id = ?", id, userID).Take(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return e, apperr.NotFound("stock entry %d", id)
		}
		return e, fmt.Errorf("get stock entry: %w", err)
	}
	return e, nil
}

// SetAmount overwrites an entry's amount. An amount of zero or less deletes
// the entry, in which case the returned entry is nil.
func (l *Ledger) SetAmount(ctx context.Context, userID, id uint, amount float64) (*models.StockEntry, error) {
	if !validAmount(amount) {
		return nil, apperr.Invalid("amount must be a finite number")
	}
	db := l.db.WithContext(ctx)
	current, err := getEntry(db, userID, id)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.lock(userID, current.IngredientID)
	defer unlock()

	var out *models.StockEntry
	err = db.Transaction(func(tx *gorm.DB) error {
		e, err := getEntry(tx, userID, id)
		if err != nil {
			return err
		}
		before := snapshot(e)
		if amount <= 0 {
			if err := casDelete(tx, e); err != nil {
				return err
			}
			return audit.WriteLog(tx, audit.LogOptions{
				UserID:      userID,
				EntityType:  entityStockEntry,
				EntityID:    e.ID,
				Action:      models.AuditActionDelete,
				Description: "amount set to zero",
				Before:      before,
			})
		}
		if err := casAmount(tx, e, amount); err != nil {
			return err
		}
		e.Amount = amount
		out = &e
		return audit.WriteLog(tx, audit.LogOptions{
			UserID:      userID,
			EntityType:  entityStockEntry,
			EntityID:    e.ID,
			Action:      models.AuditActionUpdate,
			Description: "amount set",
			Before:      before,
			After:       snapshot(e),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) Delete(ctx context.Context, userID, id uint) error {
	_, err := l.SetAmount(ctx, userID, id, 0)
	return err
}

// RemoveExpired deletes every entry whose expiry date is before asOf's date
// and returns how many were removed.
func (l *Ledger) RemoveExpired(ctx context.Context, userID uint, asOf time.Time) (int, error) {
	cutoff := models.DateOnly(asOf)
	db := l.db.WithContext(ctx)

	var expired []models.StockEntry
	if err := db.Where("user_id = ? AND expiry_date IS NOT NULL AND expiry_date < ?", userID, cutoff).
		Find(&expired).Error; err != nil {
		return 0, fmt.Errorf("find expired entries: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]uint, 0, len(expired))
	for _, e := range expired {
		ids = append(ids, e.IngredientID)
	}
	unlock := l.locks.lock(userID, ids...)
	defer unlock()

	removed := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, e := range expired {
			res := tx.Where("id = ? AND user_id = ?", e.ID, userID).Delete(&models.StockEntry{})
			if res.Error != nil {
				return fmt.Errorf("delete expired entry: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			removed++
			if err := audit.WriteLog(tx, audit.LogOptions{
				UserID:      userID,
				EntityType:  entityStockEntry,
				EntityID:    e.ID,
				Action:      models.AuditActionDelete,
				Description: fmt.Sprintf("expired before %s", cutoff.Format("2006-01-02")),
				Before:      snapshot(e),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	l.log.Info("expired stock removed", zap.Uint("user_id", userID), zap.Int("removed", removed))
	return removed, nil
}

// totalUnit is the unit an ingredient's total is reported in.
func (l *Ledger) totalUnit(ing *models.Ingredient, fallback uint) (models.MeasurementUnit, error) {
	reg := l.resolver.Registry()
	if ing.DefaultUnitID != nil {
		if u, ok := reg.Unit(*ing.DefaultUnitID); ok {
			return u, nil
		}
	}
	if primary, ok := ing.PrimaryCapability(); ok {
		if u, ok := reg.Base(primary); ok {
			return u, nil
		}
	}
	return reg.Lookup(fallback)
}

// Totals sums each ingredient's stock in its default unit. Entries that
// cannot be converted are counted in Skipped.
func (l *Ledger) Totals(ctx context.Context, userID uint) ([]Total, error) {
	list, err := l.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	byIngredient := make(map[uint][]models.StockEntry)
	var order []uint
	for _, e := range list {
		if _, ok := byIngredient[e.IngredientID]; !ok {
			order = append(order, e.IngredientID)
		}
		byIngredient[e.IngredientID] = append(byIngredient[e.IngredientID], e)
	}

	totals := make([]Total, 0, len(order))
	for _, id := range order {
		group := byIngredient[id]
		ing := group[0].Ingredient
		unit, err := l.totalUnit(&ing, group[0].UnitID)
		if err != nil {
			l.log.Warn("no unit to total ingredient in", zap.Uint("ingredient_id", id), zap.Error(err))
			continue
		}
		t := Total{IngredientID: id, IngredientName: ing.Name, UnitID: unit.ID, UnitSymbol: unit.Symbol, Entries: len(group)}
		for _, e := range group {
			v, err := l.inUnit(e, unit, &ing)
			if err != nil {
				t.Skipped++
				continue
			}
			t.Amount += v
		}
		t.Amount = Round(t.Amount)
		totals = append(totals, t)
	}
	sort.SliceStable(totals, func(i, j int) bool { return totals[i].IngredientName < totals[j].IngredientName })
	return totals, nil
}

// Available is the user's stock of an ingredient expressed in unitID.
func (l *Ledger) Available(ctx context.Context, userID, ingredientID, unitID uint) (float64, error) {
	unit, err := l.resolver.Registry().Lookup(unitID)
	if err != nil {
		return 0, err
	}
	db := l.db.WithContext(ctx)
	ing, err := loadIngredient(db, ingredientID)
	if err != nil {
		return 0, err
	}
	list, err := entries(db, userID, ingredientID, false)
	if err != nil {
		return 0, err
	}
	return l.sum(list, ing, unit), nil
}

func (l *Ledger) CheckAvailability(ctx context.Context, userID, ingredientID uint, amount float64, unitID uint) (bool, error) {
	if !validAmount(amount) {
		return false, apperr.Invalid("amount must be a finite number")
	}
	if amount <= 0 {
		return true, nil
	}
	have, err := l.Available(ctx, userID, ingredientID, unitID)
	if err != nil {
		return false, err
	}
	return have+tolerance(amount) >= amount, nil
}
