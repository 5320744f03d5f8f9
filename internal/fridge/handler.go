package fridge

import (
	"strconv"
	"strings"
	"time"

	"pantry-backend/internal/apperr"
	"pantry-backend/internal/auth"
	"pantry-backend/internal/models"
	"pantry-backend/internal/units"

	"github.com/gofiber/fiber/v2"
)

type AddStockRequest struct {
	IngredientID uint    `json:"ingredient_id"`
	Amount       float64 `json:"amount"`
	UnitID       uint    `json:"unit_id"`
	ExpiryDate   string  `json:"expiry_date"`   // "2024-01-31", optional
	PurchaseDate string  `json:"purchase_date"` // optional, defaults to now
}

type SetAmountRequest struct {
	Amount float64 `json:"amount"`
}

type RemoveStockRequest struct {
	IngredientID uint    `json:"ingredient_id"`
	Amount       float64 `json:"amount"`
	UnitID       uint    `json:"unit_id"`
}

type StockEntryResponse struct {
	ID             uint    `json:"id"`
	IngredientID   uint    `json:"ingredient_id"`
	IngredientName string  `json:"ingredient_name"`
	UnitID         uint    `json:"unit_id"`
	UnitSymbol     string  `json:"unit_symbol"`
	Amount         float64 `json:"amount"`
	ExpiryDate     *string `json:"expiry_date"`
	PurchaseDate   string  `json:"purchase_date"`
	Normalized     bool    `json:"normalized,omitempty"`
}

func toResponse(e models.StockEntry) StockEntryResponse {
	resp := StockEntryResponse{
		ID:             e.ID,
		IngredientID:   e.IngredientID,
		IngredientName: e.Ingredient.Name,
		UnitID:         e.UnitID,
		UnitSymbol:     e.Unit.Symbol,
		Amount:         Round(e.Amount),
		PurchaseDate:   e.PurchaseDate.UTC().Format(time.RFC3339),
	}
	if e.ExpiryDate != nil {
		s := e.ExpiryDate.UTC().Format("2006-01-02")
		resp.ExpiryDate = &s
	}
	return resp
}

func parseDate(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, field+" must be 'YYYY-MM-DD'")
	}
	return &d, nil
}

func idParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

// UnitParam resolves a unit given either by id or by symbol.
func UnitParam(reg *units.Registry, s string) (models.MeasurementUnit, error) {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseUint(s, 10, 64); err == nil {
		u, err := reg.Lookup(uint(id))
		if err != nil {
			return u, apperr.ToFiber(err, "")
		}
		return u, nil
	}
	if u, ok := reg.BySymbol(s); ok {
		return u, nil
	}
	return models.MeasurementUnit{}, fiber.NewError(fiber.StatusBadRequest, "unknown unit "+strconv.Quote(s))
}

// GET /api/fridge
func ListStockHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		list, err := l.List(c.UserContext(), userID)
		if err != nil {
			return apperr.ToFiber(err, "could not load fridge")
		}
		resp := make([]StockEntryResponse, 0, len(list))
		for _, e := range list {
			resp = append(resp, toResponse(e))
		}
		return c.JSON(resp)
	}
}

// POST /api/fridge
func AddStockHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		var body AddStockRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if body.IngredientID == 0 || body.UnitID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "ingredient_id and unit_id are required")
		}
		expiry, err := parseDate(body.ExpiryDate, "expiry_date")
		if err != nil {
			return err
		}
		purchase, err := parseDate(body.PurchaseDate, "purchase_date")
		if err != nil {
			return err
		}

		in := AddInput{
			UserID:       userID,
			IngredientID: body.IngredientID,
			Amount:       body.Amount,
			UnitID:       body.UnitID,
			ExpiryDate:   expiry,
		}
		if purchase != nil {
			in.PurchaseDate = *purchase
		}
		entry, normalized, err := l.Add(c.UserContext(), in)
		if err != nil {
			return apperr.ToFiber(err, "could not add stock")
		}
		resp := toResponse(entry)
		resp.Normalized = normalized
		return c.Status(fiber.StatusCreated).JSON(resp)
	}
}

// PUT /api/fridge/:id
func SetAmountHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		id, err := idParam(c)
		if err != nil {
			return err
		}
		var body SetAmountRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		entry, err := l.SetAmount(c.UserContext(), userID, id, body.Amount)
		if err != nil {
			return apperr.ToFiber(err, "could not update stock")
		}
		if entry == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		full, err := l.Get(c.UserContext(), userID, id)
		if err != nil {
			return apperr.ToFiber(err, "could not load stock entry")
		}
		return c.JSON(toResponse(full))
	}
}

// DELETE /api/fridge/:id
func DeleteStockHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		id, err := idParam(c)
		if err != nil {
			return err
		}
		if err := l.Delete(c.UserContext(), userID, id); err != nil {
			return apperr.ToFiber(err, "could not delete stock entry")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/fridge/totals
func TotalsHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		totals, err := l.Totals(c.UserContext(), userID)
		if err != nil {
			return apperr.ToFiber(err, "could not compute totals")
		}
		return c.JSON(totals)
	}
}

// GET /api/fridge/availability?ingredient_id=&amount=&unit=
func AvailabilityHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		ingredientID, err := strconv.ParseUint(c.Query("ingredient_id"), 10, 64)
		if err != nil || ingredientID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "ingredient_id is required")
		}
		unit, err := UnitParam(l.resolver.Registry(), c.Query("unit"))
		if err != nil {
			return err
		}
		amount := 0.0
		if s := c.Query("amount"); s != "" {
			if amount, err = strconv.ParseFloat(s, 64); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "amount must be a number")
			}
		}

		ctx := c.UserContext()
		have, err := l.Available(ctx, userID, uint(ingredientID), unit.ID)
		if err != nil {
			return apperr.ToFiber(err, "could not compute availability")
		}
		ok, err := l.CheckAvailability(ctx, userID, uint(ingredientID), amount, unit.ID)
		if err != nil {
			return apperr.ToFiber(err, "could not compute availability")
		}
		return c.JSON(fiber.Map{
			"ingredient_id": ingredientID,
			"unit_id":       unit.ID,
			"unit_symbol":   unit.Symbol,
			"available":     Round(have),
			"requested":     amount,
			"sufficient":    ok,
		})
	}
}

// POST /api/fridge/remove
func RemoveStockHandler(e *Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		var body RemoveStockRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		res, err := e.Remove(c.UserContext(), userID, body.IngredientID, body.Amount, body.UnitID)
		if err != nil {
			return apperr.ToFiber(err, "could not remove stock")
		}
		if !res.Success {
			return c.Status(fiber.StatusConflict).JSON(res)
		}
		return c.JSON(res)
	}
}

// DELETE /api/fridge/expired?as_of=2024-01-31
func RemoveExpiredHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		asOf := time.Now()
		d, err := parseDate(c.Query("as_of"), "as_of")
		if err != nil {
			return err
		}
		if d != nil {
			asOf = *d
		}
		n, err := l.RemoveExpired(c.UserContext(), userID, asOf)
		if err != nil {
			return apperr.ToFiber(err, "could not remove expired stock")
		}
		return c.JSON(fiber.Map{"removed": n})
	}
}

// Register mounts the fridge routes on r.
func Register(r fiber.Router, l *Ledger, e *Engine) {
	g := r.Group("/fridge")
	g.Get("/", ListStockHandler(l))
	g.Post("/", AddStockHandler(l))
	g.Get("/totals", TotalsHandler(l))
	g.Get("/availability", AvailabilityHandler(l))
	g.Post("/remove", RemoveStockHandler(e))
	g.Delete("/expired", RemoveExpiredHandler(l))
	g.Put("/:id", SetAmountHandler(l))
	g.Delete("/:id", DeleteStockHandler(l))
}
