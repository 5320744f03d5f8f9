package fridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pantry-backend/internal/apperr"
	"pantry-backend/internal/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRemoveSingle_FIFOAcrossEntries(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	first := e.add(t, 1, flour, 150, "g", date(2024, time.January, 1))
	second := e.add(t, 1, flour, 300, "g", date(2024, time.February, 1))

	ok, err := e.engine.RemoveSingle(context.Background(), 1, flour.ID, 200, e.unit(t, "g").ID)
	if err != nil || !ok {
		t.Fatalf("RemoveSingle(200 g) = %v, %v, want true", ok, err)
	}
	rows := e.rows(t, 1)
	if _, ok := rows[first.ID]; ok {
		t.Error("first entry not deleted")
	}
	if got := rows[second.ID]; !near(got, 250) {
		t.Errorf("second entry = %v, want 250", got)
	}
}

func TestRemoveSingle_TouchesOnlyEarliestExpiry(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	first := e.add(t, 1, flour, 150, "g", date(2024, time.January, 1))
	second := e.add(t, 1, flour, 300, "g", date(2024, time.February, 1))

	res, err := e.engine.Remove(context.Background(), 1, flour.ID, 150, e.unit(t, "g").ID)
	if err != nil || !res.Success {
		t.Fatalf("Remove(150 g) = %+v, %v", res, err)
	}
	used := res.Used[flour.ID]
	if len(used) != 1 || used[0].EntryID != first.ID || !used[0].Deleted {
		t.Errorf("Used = %+v, want only entry %d, deleted", used, first.ID)
	}
	if got := e.rows(t, 1)[second.ID]; got != 300 {
		t.Errorf("second entry = %v, want 300 untouched", got)
	}
}

func TestRemoveSingle_InsufficientChangesNothing(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	e.add(t, 1, flour, 150, "g", nil)
	before := e.rows(t, 1)

	ok, err := e.engine.RemoveSingle(context.Background(), 1, flour.ID, 151, e.unit(t, "g").ID)
	if err != nil || ok {
		t.Fatalf("RemoveSingle(151 g) = %v, %v, want false", ok, err)
	}
	after := e.rows(t, 1)
	for id, amt := range before {
		if after[id] != amt {
			t.Errorf("entry %d = %v, want %v", id, after[id], amt)
		}
	}
}

func TestRemoveSingle_ConvertsOtherUnits(t *testing.T) {
	e := newEnv(t, true)
	eggs := e.ingredient(t, "eggs", "", "50", models.UnitTypePiece, models.UnitTypeWeight)
	pieces := e.add(t, 1, eggs, 2, "pcs", date(2024, time.March, 1))
	grams := e.add(t, 1, eggs, 100, "g", date(2024, time.January, 1))

	res, err := e.engine.Remove(context.Background(), 1, eggs.ID, 3, e.unit(t, "pcs").ID)
	if err != nil || !res.Success {
		t.Fatalf("Remove(3 pcs) = %+v, %v", res, err)
	}
	rows := e.rows(t, 1)
	if _, ok := rows[pieces.ID]; ok {
		t.Error("piece entry should be used up first")
	}
	if got := rows[grams.ID]; !near(got, 50) {
		t.Errorf("gram entry = %v, want 50", got)
	}
}

func TestRemove_RejectsBadAmount(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	for _, amt := range []float64{0, -1} {
		if _, err := e.engine.Remove(context.Background(), 1, flour.ID, amt, e.unit(t, "g").ID); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Remove(%v) error = %v, want InvalidInput", amt, err)
		}
	}
}

func recipe(name string, servings float64, lines ...models.RecipeIngredient) *models.Recipe {
	for i := range lines {
		lines[i].Position = i
	}
	return &models.Recipe{ID: 1, Name: name, Servings: servings, Ingredients: lines}
}

func line(ing models.Ingredient, amount float64, unit models.MeasurementUnit) models.RecipeIngredient {
	return models.RecipeIngredient{IngredientID: ing.ID, UnitID: unit.ID, Amount: amount}
}

func TestUseForRecipe_MissingEggsIsAllOrNothing(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	eggs := e.ingredient(t, "eggs", "", "50", models.UnitTypePiece, models.UnitTypeWeight)
	e.add(t, 1, flour, 500, "g", nil)
	before := e.rows(t, 1)

	r := recipe("pancakes", 2, line(flour, 200, e.unit(t, "g")), line(eggs, 3, e.unit(t, "pcs")))
	res, err := e.engine.UseForRecipe(context.Background(), 1, r, nil)
	if err != nil {
		t.Fatalf("UseForRecipe() error = %v", err)
	}
	if res.Success {
		t.Fatal("UseForRecipe() succeeded without eggs")
	}
	if len(res.Missing) != 1 || res.Missing[0].IngredientID != eggs.ID || res.Missing[0].Shortfall != 3 {
		t.Errorf("Missing = %+v, want eggs:3", res.Missing)
	}
	after := e.rows(t, 1)
	for id, amt := range before {
		if after[id] != amt {
			t.Errorf("entry %d = %v, want %v", id, after[id], amt)
		}
	}
	var logs int64
	e.db.Model(&models.AuditLog{}).Where("action = ?", models.AuditActionConsume).Count(&logs)
	if logs != 0 {
		t.Errorf("consume audit rows = %d, want 0", logs)
	}
}

func TestUseForRecipe_ScalesAndAudits(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	milk := e.ingredient(t, "milk", "1.03", "", models.UnitTypeVolume)
	e.add(t, 1, flour, 1, "kg", nil)
	e.add(t, 1, milk, 1, "l", nil)

	r := recipe("crepes", 4,
		line(flour, 100, e.unit(t, "g")),
		line(milk, 250, e.unit(t, "ml")),
		line(flour, 50, e.unit(t, "g")),
	)
	servings := 8.0
	res, err := e.engine.UseForRecipe(context.Background(), 1, r, &servings)
	if err != nil || !res.Success {
		t.Fatalf("UseForRecipe() = %+v, %v", res, err)
	}
	if res.OperationID == "" {
		t.Error("OperationID is empty")
	}

	got, _ := e.ledger.Available(context.Background(), 1, flour.ID, e.unit(t, "g").ID)
	if !near(got, 700) {
		t.Errorf("flour left = %v, want 700", got)
	}
	got, _ = e.ledger.Available(context.Background(), 1, milk.ID, e.unit(t, "ml").ID)
	if !near(got, 500) {
		t.Errorf("milk left = %v, want 500", got)
	}

	var logs []models.AuditLog
	e.db.Where("operation_id = ?", res.OperationID).Find(&logs)
	if len(logs) != 2 {
		t.Errorf("audit rows for operation = %d, want 2", len(logs))
	}
}

func TestUseForRecipe_InvalidServings(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	r := recipe("bread", 1, line(flour, 100, e.unit(t, "g")))
	zero := 0.0
	if _, err := e.engine.UseForRecipe(context.Background(), 1, r, &zero); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("UseForRecipe(servings 0) error = %v, want InvalidInput", err)
	}
	r.Servings = 0
	if _, err := e.engine.UseForRecipe(context.Background(), 1, r, nil); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("UseForRecipe(recipe servings 0) error = %v, want InvalidInput", err)
	}
}

func TestUseForRecipe_RepeatedLinesShareStock(t *testing.T) {
	e := newEnv(t, true)
	sugar := e.ingredient(t, "sugar", "", "", models.UnitTypeWeight)
	e.add(t, 1, sugar, 150, "g", nil)

	r := recipe("syrup", 1, line(sugar, 100, e.unit(t, "g")), line(sugar, 0.1, e.unit(t, "kg")))
	res, err := e.engine.UseForRecipe(context.Background(), 1, r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("UseForRecipe() counted the same stock twice")
	}
	if got := e.rows(t, 1); len(got) != 1 {
		t.Errorf("rows = %v, want stock untouched", got)
	}
}

func TestMissingAndShopping(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	eggs := e.ingredient(t, "eggs", "", "50", models.UnitTypePiece, models.UnitTypeWeight)
	e.add(t, 1, flour, 150, "g", nil)
	e.add(t, 1, eggs, 1, "pcs", nil)
	ctx := context.Background()

	r := recipe("cake", 1, line(flour, 100, e.unit(t, "g")), line(eggs, 2, e.unit(t, "pcs")))

	ok, err := e.engine.CanPrepare(ctx, 1, r)
	if err != nil || ok {
		t.Errorf("CanPrepare() = %v, %v, want false", ok, err)
	}

	servings := 2.0
	items, err := e.engine.ShoppingShortfall(ctx, 1, r, &servings)
	if err != nil {
		t.Fatal(err)
	}
	want := map[uint]float64{flour.ID: 50, eggs.ID: 3}
	if len(items) != len(want) {
		t.Fatalf("ShoppingShortfall() = %+v, want %v", items, want)
	}
	for _, it := range items {
		if !near(it.Amount, want[it.IngredientID]) {
			t.Errorf("shortfall of %s = %v, want %v", it.IngredientName, it.Amount, want[it.IngredientID])
		}
	}

	e.add(t, 1, eggs, 1, "pcs", nil)
	if ok, _ := e.engine.CanPrepare(ctx, 1, r); !ok {
		t.Error("CanPrepare() = false after restocking")
	}
}

func TestRemove_ConcurrentNeverOverdraws(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	e.add(t, 1, flour, 500, "g", nil)
	g := e.unit(t, "g").ID

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := e.engine.RemoveSingle(context.Background(), 1, flour.ID, 100, g)
			if err != nil {
				t.Errorf("RemoveSingle() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Errorf("successful removals = %d, want 5", succeeded)
	}
	if got := e.rows(t, 1); len(got) != 0 {
		t.Errorf("rows left = %v, want none", got)
	}
}

func TestRequirements_Aggregates(t *testing.T) {
	r := &models.Recipe{Servings: 2, Ingredients: []models.RecipeIngredient{
		{IngredientID: 2, UnitID: 1, Amount: 10, Position: 1},
		{IngredientID: 1, UnitID: 1, Amount: 5, Position: 0},
		{IngredientID: 2, UnitID: 1, Amount: 4, Position: 2},
		{IngredientID: 2, UnitID: 3, Amount: 1, Position: 3},
	}}
	got := Requirements(r, 2)
	want := []Requirement{{1, 1, 10}, {2, 1, 28}, {2, 3, 2}}
	if len(got) != len(want) {
		t.Fatalf("Requirements() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Requirements()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRemove_FullStockInMilligrams(t *testing.T) {
	e := newEnv(t, true)
	mg := e.unit(t, "mg")
	combos := [][3]float64{
		{91, 37, 13},
		{1, 1, 1},
		{73.3, 19.7, 88.1},
		{2.5, 91, 47},
		{59, 3.3, 71.9},
	}

	for i, c := range combos {
		user := uint(i + 1)
		flour := e.ingredient(t, fmt.Sprintf("flour %d", i), "", "", models.UnitTypeWeight)
		for j, symbol := range []string{"kg", "lb", "oz"} {
			en := models.StockEntry{
				UserID:       user,
				IngredientID: flour.ID,
				UnitID:       e.unit(t, symbol).ID,
				Amount:       c[j],
				PurchaseDate: time.Date(2024, time.January, j+1, 0, 0, 0, 0, time.UTC),
			}
			if err := e.db.Create(&en).Error; err != nil {
				t.Fatal(err)
			}
		}

		have, err := e.ledger.Available(context.Background(), user, flour.ID, mg.ID)
		if err != nil {
			t.Fatal(err)
		}
		ok, err := e.ledger.CheckAvailability(context.Background(), user, flour.ID, have, mg.ID)
		if err != nil || !ok {
			t.Errorf("%v: CheckAvailability(%v mg) = %v, %v, want true", c, have, ok, err)
		}
		res, err := e.engine.Remove(context.Background(), user, flour.ID, have, mg.ID)
		if err != nil || !res.Success {
			t.Errorf("%v: Remove(%v mg) = %+v, %v, want success", c, have, res, err)
			continue
		}
		if n := len(e.rows(t, user)); n != 0 {
			t.Errorf("%v: %d rows left after withdrawing everything, want 0", c, n)
		}
	}
}

func TestRemove_ResidualAfterCheckRollsBack(t *testing.T) {
	e := newEnv(t, true)
	core, logs := observer.New(zap.ErrorLevel)
	engine := NewEngine(e.ledger, zap.New(core))
	engine.planner = func(list []models.StockEntry, ing *models.Ingredient, unit models.MeasurementUnit, amount float64) ([]take, float64) {
		takes, residual := engine.plan(list, ing, unit, amount)
		return takes, residual + amount/2
	}
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	e.add(t, 1, flour, 150, "g", date(2024, time.January, 1))
	e.add(t, 1, flour, 300, "g", date(2024, time.February, 1))
	before := e.rows(t, 1)

	_, err := engine.Remove(context.Background(), 1, flour.ID, 200, e.unit(t, "g").ID)
	if !errors.Is(err, apperr.ErrInvariantViolation) {
		t.Fatalf("Remove() error = %v, want InvariantViolation", err)
	}

	after := e.rows(t, 1)
	if len(after) != len(before) {
		t.Errorf("rows = %v, want %v", after, before)
	}
	for id, amt := range before {
		if after[id] != amt {
			t.Errorf("entry %d = %v, want %v", id, after[id], amt)
		}
	}
	var audits int64
	e.db.Model(&models.AuditLog{}).Where("action = ?", models.AuditActionConsume).Count(&audits)
	if audits != 0 {
		t.Errorf("consume audit rows = %d, want 0", audits)
	}

	entries := logs.FilterMessage("withdrawal left a residual after the availability check passed").All()
	if len(entries) != 1 {
		t.Fatalf("error logs = %d, want 1", len(entries))
	}
	if entries[0].Level != zap.ErrorLevel {
		t.Errorf("log level = %v, want error", entries[0].Level)
	}
	if got := entries[0].ContextMap()["ingredient_id"]; got != uint64(flour.ID) {
		t.Errorf("logged ingredient_id = %v, want %d", got, flour.ID)
	}
}
