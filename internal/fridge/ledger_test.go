package fridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"pantry-backend/internal/apperr"
	"pantry-backend/internal/models"
)

func TestLedger_AddNormalizesToCanonicalUnit(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)

	entry, normalized, err := e.ledger.Add(context.Background(), AddInput{
		UserID: 1, IngredientID: flour.ID, Amount: 1.5, UnitID: e.unit(t, "kg").ID,
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !normalized || entry.UnitID != e.unit(t, "g").ID || !near(entry.Amount, 1500) {
		t.Errorf("Add(1.5 kg) = %v %d, normalized %v, want 1500 g, true", entry.Amount, entry.UnitID, normalized)
	}
}

func TestLedger_AddKeepsPieces(t *testing.T) {
	e := newEnv(t, true)
	eggs := e.ingredient(t, "eggs", "", "50", models.UnitTypePiece, models.UnitTypeWeight)

	entry, normalized, err := e.ledger.Add(context.Background(), AddInput{
		UserID: 1, IngredientID: eggs.ID, Amount: 6, UnitID: e.unit(t, "pcs").ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if normalized || entry.UnitID != e.unit(t, "pcs").ID || entry.Amount != 6 {
		t.Errorf("Add(6 pcs) = %v %d, normalized %v, want 6 pcs unchanged", entry.Amount, entry.UnitID, normalized)
	}
}

func TestLedger_NormalizationPolicy(t *testing.T) {
	t.Run("best effort", func(t *testing.T) {
		e := newEnv(t, true)
		milk := e.ingredient(t, "milk", "", "", models.UnitTypeWeight, models.UnitTypeVolume)
		entry, normalized, err := e.ledger.Add(context.Background(), AddInput{UserID: 1, IngredientID: milk.ID, Amount: 250, UnitID: e.unit(t, "ml").ID})
		if err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		if normalized || entry.UnitID != e.unit(t, "ml").ID || entry.Amount != 250 {
			t.Errorf("Add() = %v %d, normalized %v, want 250 ml kept", entry.Amount, entry.UnitID, normalized)
		}
	})

	t.Run("strict", func(t *testing.T) {
		e := newEnv(t, false)
		milk := e.ingredient(t, "milk", "", "", models.UnitTypeWeight, models.UnitTypeVolume)
		_, _, err := e.ledger.Add(context.Background(), AddInput{UserID: 1, IngredientID: milk.ID, Amount: 250, UnitID: e.unit(t, "ml").ID})
		if !errors.Is(err, apperr.ErrMissingConversionParameter) {
			t.Errorf("Add() error = %v, want MissingConversionParameter", err)
		}
		if n := len(e.rows(t, 1)); n != 0 {
			t.Errorf("Add() left %d rows, want 0", n)
		}
	})
}

func TestLedger_AddMergesOnKey(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	exp := date(2024, time.March, 1)

	first := e.add(t, 1, flour, 100, "g", exp)
	second := e.add(t, 1, flour, 0.2, "kg", exp)
	if first.ID != second.ID || !near(second.Amount, 300) {
		t.Errorf("merged entry = %d %v, want %d 300", second.ID, second.Amount, first.ID)
	}

	e.add(t, 1, flour, 50, "g", nil)
	e.add(t, 1, flour, 50, "g", date(2024, time.April, 1))
	e.add(t, 2, flour, 50, "g", exp)
	if n := len(e.rows(t, 1)); n != 3 {
		t.Errorf("user 1 rows = %d, want 3", n)
	}
}

func TestLedger_AddRejectsBadInput(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	g := e.unit(t, "g")
	ctx := context.Background()

	testCases := []AddInput{
		{UserID: 1, IngredientID: flour.ID, Amount: 0, UnitID: g.ID},
		{UserID: 1, IngredientID: flour.ID, Amount: -1, UnitID: g.ID},
		{UserID: 1, IngredientID: 999, Amount: 1, UnitID: g.ID},
		{UserID: 1, IngredientID: flour.ID, Amount: 1, UnitID: 999},
	}
	for _, in := range testCases {
		if _, _, err := e.ledger.Add(ctx, in); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Add(%+v) error = %v, want InvalidInput", in, err)
		}
	}
}

func TestLedger_CheckAvailability(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "0.6", "", models.UnitTypeWeight, models.UnitTypeVolume)
	e.add(t, 1, flour, 300, "g", nil)
	ctx := context.Background()

	g, kg, ml := e.unit(t, "g").ID, e.unit(t, "kg").ID, e.unit(t, "ml").ID
	testCases := []struct {
		amount float64
		unit   uint
		want   bool
	}{
		{0, g, true},
		{-5, g, true},
		{300, g, true},
		{300.0000000001, g, true},
		{301, g, false},
		{0.3, kg, true},
		{500, ml, true},
		{501, ml, false},
	}
	for _, tc := range testCases {
		got, err := e.ledger.CheckAvailability(ctx, 1, flour.ID, tc.amount, tc.unit)
		if err != nil || got != tc.want {
			t.Errorf("CheckAvailability(%v, unit %d) = %v, %v, want %v", tc.amount, tc.unit, got, err, tc.want)
		}
	}
}

func TestLedger_AvailabilityIsMonotonic(t *testing.T) {
	e := newEnv(t, true)
	sugar := e.ingredient(t, "sugar", "", "", models.UnitTypeWeight)
	e.add(t, 1, sugar, 120, "g", date(2024, time.May, 1))
	e.add(t, 1, sugar, 80, "g", nil)
	ctx := context.Background()
	g := e.unit(t, "g").ID

	ok, err := e.ledger.CheckAvailability(ctx, 1, sugar.ID, 200, g)
	if err != nil || !ok {
		t.Fatalf("CheckAvailability(200) = %v, %v, want true", ok, err)
	}
	for _, amt := range []float64{199.9, 150, 80, 1, 0.001} {
		if ok, _ := e.ledger.CheckAvailability(ctx, 1, sugar.ID, amt, g); !ok {
			t.Errorf("CheckAvailability(%v) = false below an available amount", amt)
		}
	}
}

func TestLedger_AvailableSkipsUnconvertibleEntries(t *testing.T) {
	e := newEnv(t, true)
	parsley := e.ingredient(t, "parsley", "", "", models.UnitTypeWeight)
	e.add(t, 1, parsley, 20, "g", nil)
	e.add(t, 1, parsley, 2, "bunch", nil)

	got, err := e.ledger.Available(context.Background(), 1, parsley.ID, e.unit(t, "g").ID)
	if err != nil || got != 20 {
		t.Errorf("Available() = %v, %v, want 20", got, err)
	}
}

func TestLedger_SetAmountAndDelete(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	entry := e.add(t, 1, flour, 100, "g", nil)
	ctx := context.Background()

	updated, err := e.ledger.SetAmount(ctx, 1, entry.ID, 40)
	if err != nil || updated == nil || updated.Amount != 40 {
		t.Fatalf("SetAmount(40) = %+v, %v", updated, err)
	}
	if _, err := e.ledger.SetAmount(ctx, 2, entry.ID, 10); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("SetAmount() by another user error = %v, want NotFound", err)
	}

	deleted, err := e.ledger.SetAmount(ctx, 1, entry.ID, 0)
	if err != nil || deleted != nil {
		t.Errorf("SetAmount(0) = %+v, %v, want nil, nil", deleted, err)
	}
	if _, err := e.ledger.Get(ctx, 1, entry.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want NotFound", err)
	}
	if err := e.ledger.Delete(ctx, 1, entry.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Delete() of missing entry error = %v, want NotFound", err)
	}
}

func TestLedger_RemoveExpired(t *testing.T) {
	e := newEnv(t, true)
	milk := e.ingredient(t, "milk", "1.03", "", models.UnitTypeVolume)
	old := e.add(t, 1, milk, 500, "ml", date(2024, time.January, 1))
	today := e.add(t, 1, milk, 500, "ml", date(2024, time.January, 10))
	forever := e.add(t, 1, milk, 500, "ml", nil)
	other := e.add(t, 2, milk, 500, "ml", date(2024, time.January, 1))

	n, err := e.ledger.RemoveExpired(context.Background(), 1, time.Date(2024, time.January, 10, 15, 0, 0, 0, time.UTC))
	if err != nil || n != 1 {
		t.Fatalf("RemoveExpired() = %d, %v, want 1", n, err)
	}
	rows := e.rows(t, 1)
	if _, ok := rows[old.ID]; ok {
		t.Error("expired entry still present")
	}
	if _, ok := rows[today.ID]; !ok {
		t.Error("entry expiring today was removed")
	}
	if _, ok := rows[forever.ID]; !ok {
		t.Error("entry without expiry was removed")
	}
	if _, ok := e.rows(t, 2)[other.ID]; !ok {
		t.Error("another user's entry was removed")
	}
}

func TestLedger_Totals(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	e.add(t, 1, flour, 1, "kg", nil)
	e.add(t, 1, flour, 250, "g", date(2024, time.June, 1))
	e.add(t, 1, flour, 1, "pinch", nil)

	totals, err := e.ledger.Totals(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 1 {
		t.Fatalf("Totals() = %+v, want a single ingredient", totals)
	}
	got := totals[0]
	if got.UnitSymbol != "g" || got.Amount != 1250 || got.Entries != 3 || got.Skipped != 1 {
		t.Errorf("Totals()[0] = %+v, want 1250 g over 3 entries with 1 skipped", got)
	}
}

func TestCasAmount_DetectsConflict(t *testing.T) {
	e := newEnv(t, true)
	flour := e.ingredient(t, "flour", "", "", models.UnitTypeWeight)
	stale := e.add(t, 1, flour, 100, "g", nil)

	if err := e.db.Model(&models.StockEntry{}).Where("id = ?", stale.ID).Update("amount", 70.0).Error; err != nil {
		t.Fatal(err)
	}
	if err := casAmount(e.db, stale, 50); !errors.Is(err, apperr.ErrConcurrentModification) {
		t.Errorf("casAmount() on stale row error = %v, want ConcurrentModification", err)
	}
	if err := casDelete(e.db, stale); !errors.Is(err, apperr.ErrConcurrentModification) {
		t.Errorf("casDelete() on stale row error = %v, want ConcurrentModification", err)
	}
	if got := e.rows(t, 1)[stale.ID]; got != 70 {
		t.Errorf("amount = %v, want 70", got)
	}
}

func TestFifoLess(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	list := []models.StockEntry{
		{ID: 1, PurchaseDate: base},
		{ID: 2, ExpiryDate: date(2024, time.March, 1), PurchaseDate: base},
		{ID: 3, ExpiryDate: date(2024, time.February, 1), PurchaseDate: base.Add(time.Hour)},
		{ID: 4, ExpiryDate: date(2024, time.February, 1), PurchaseDate: base},
		{ID: 5, ExpiryDate: date(2024, time.February, 1), PurchaseDate: base},
	}
	sortFIFO(list)
	want := []uint{4, 5, 3, 2, 1}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("sortFIFO order = %v, want %v", ids(list), want)
		}
	}
}

func ids(list []models.StockEntry) []uint {
	out := make([]uint, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}
