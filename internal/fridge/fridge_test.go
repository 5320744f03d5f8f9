package fridge

import (
	"context"
	"math"
	"testing"
	"time"

	"pantry-backend/internal/conversion"
	"pantry-backend/internal/models"
	"pantry-backend/internal/testdb"
	"pantry-backend/internal/units"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type env struct {
	db     *gorm.DB
	ledger *Ledger
	engine *Engine
}

func newEnv(t *testing.T, bestEffort bool) env {
	t.Helper()
	ctx := context.Background()
	db := testdb.New(t)
	reg, err := units.Load(ctx, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	store, err := conversion.LoadStore(ctx, db, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	ledger := NewLedger(db, conversion.NewResolver(reg, store), nil, bestEffort)
	return env{db: db, ledger: ledger, engine: NewEngine(ledger, nil)}
}

func (e env) unit(t *testing.T, symbol string) models.MeasurementUnit {
	t.Helper()
	return testdb.Unit(t, e.db, symbol)
}

func (e env) ingredient(t *testing.T, name, density, pieceWeight string, caps ...models.UnitType) models.Ingredient {
	t.Helper()
	ing := models.Ingredient{Name: name, Capabilities: caps}
	if density != "" {
		ing.Density = decimal.NewNullDecimal(decimal.RequireFromString(density))
	}
	if pieceWeight != "" {
		ing.PieceWeight = decimal.NewNullDecimal(decimal.RequireFromString(pieceWeight))
	}
	if err := e.db.Create(&ing).Error; err != nil {
		t.Fatal(err)
	}
	return ing
}

func (e env) add(t *testing.T, user uint, ing models.Ingredient, amount float64, symbol string, expiry *time.Time) models.StockEntry {
	t.Helper()
	entry, _, err := e.ledger.Add(context.Background(), AddInput{
		UserID:       user,
		IngredientID: ing.ID,
		Amount:       amount,
		UnitID:       e.unit(t, symbol).ID,
		ExpiryDate:   expiry,
	})
	if err != nil {
		t.Fatalf("Add(%s, %v %s) error = %v", ing.Name, amount, symbol, err)
	}
	return entry
}

// rows returns id -> amount for every entry of a user.
func (e env) rows(t *testing.T, user uint) map[uint]float64 {
	t.Helper()
	var list []models.StockEntry
	if err := e.db.Where("user_id = ?", user).Find(&list).Error; err != nil {
		t.Fatal(err)
	}
	out := make(map[uint]float64, len(list))
	for _, en := range list {
		out[en.ID] = en.Amount
	}
	return out
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}
