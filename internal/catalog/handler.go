package catalog

import (
	"strconv"

	"pantry-backend/internal/apperr"
	"pantry-backend/internal/auth"
	"pantry-backend/internal/fridge"
	"pantry-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type UnitRequest struct {
	Name      string          `json:"name"`
	Symbol    string          `json:"symbol"`
	Type      models.UnitType `json:"type"`
	BaseRatio decimal.Decimal `json:"base_ratio"`
	IsCommon  bool            `json:"is_common"`
}

type UnitResponse struct {
	ID        uint            `json:"id"`
	Name      string          `json:"name"`
	Symbol    string          `json:"symbol"`
	Type      models.UnitType `json:"type"`
	BaseRatio decimal.Decimal `json:"base_ratio"`
	IsCommon  bool            `json:"is_common"`
}

func unitResponse(u models.MeasurementUnit) UnitResponse {
	return UnitResponse{ID: u.ID, Name: u.Name, Symbol: u.Symbol, Type: u.Type, BaseRatio: u.BaseRatio, IsCommon: u.IsCommon}
}

type IngredientRequest struct {
	Name              string            `json:"name"`
	Capabilities      []models.UnitType `json:"unit_capabilities"`
	DefaultUnitID     *uint             `json:"default_unit_id"`
	CompatibleUnitIDs []uint            `json:"compatible_unit_ids"`
	Density           *decimal.Decimal  `json:"density"`
	PieceWeight       *decimal.Decimal  `json:"piece_weight"`
}

func (r IngredientRequest) input() IngredientInput {
	return IngredientInput{
		Name:              r.Name,
		Capabilities:      r.Capabilities,
		DefaultUnitID:     r.DefaultUnitID,
		CompatibleUnitIDs: r.CompatibleUnitIDs,
		Density:           r.Density,
		PieceWeight:       r.PieceWeight,
	}
}

type IngredientResponse struct {
	ID              uint                `json:"id"`
	Name            string              `json:"name"`
	Capabilities    []models.UnitType   `json:"unit_capabilities"`
	DefaultUnit     *UnitResponse       `json:"default_unit"`
	CompatibleUnits []UnitResponse      `json:"compatible_units"`
	Density         decimal.NullDecimal `json:"density"`
	PieceWeight     decimal.NullDecimal `json:"piece_weight"`
}

func ingredientResponse(i *models.Ingredient) IngredientResponse {
	resp := IngredientResponse{
		ID:              i.ID,
		Name:            i.Name,
		Capabilities:    append([]models.UnitType{}, i.Capabilities...),
		CompatibleUnits: []UnitResponse{},
		Density:         i.Density,
		PieceWeight:     i.PieceWeight,
	}
	if i.DefaultUnit != nil {
		u := unitResponse(*i.DefaultUnit)
		resp.DefaultUnit = &u
	}
	for _, u := range i.CompatibleUnits {
		resp.CompatibleUnits = append(resp.CompatibleUnits, unitResponse(u))
	}
	return resp
}

type ConversionRequest struct {
	IngredientID *uint           `json:"ingredient_id"`
	FromUnitID   uint            `json:"from_unit_id"`
	ToUnitID     uint            `json:"to_unit_id"`
	Ratio        decimal.Decimal `json:"ratio"`
	IsExact      *bool           `json:"is_exact"`
}

type ConversionResponse struct {
	ID           uint            `json:"id"`
	IngredientID *uint           `json:"ingredient_id"`
	FromUnitID   uint            `json:"from_unit_id"`
	FromSymbol   string          `json:"from_symbol,omitempty"`
	ToUnitID     uint            `json:"to_unit_id"`
	ToSymbol     string          `json:"to_symbol,omitempty"`
	Ratio        decimal.Decimal `json:"ratio"`
	IsExact      bool            `json:"is_exact"`
}

func conversionResponse(c models.IngredientConversion) ConversionResponse {
	return ConversionResponse{
		ID:           c.ID,
		IngredientID: c.IngredientID,
		FromUnitID:   c.FromUnitID,
		FromSymbol:   c.FromUnit.Symbol,
		ToUnitID:     c.ToUnitID,
		ToSymbol:     c.ToUnit.Symbol,
		Ratio:        c.Ratio,
		IsExact:      c.IsExact,
	}
}

func idParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

// GET /api/units
func ListUnitsHandler(s *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list := s.Units()
		resp := make([]UnitResponse, 0, len(list))
		for _, u := range list {
			resp = append(resp, unitResponse(u))
		}
		return c.JSON(resp)
	}
}

// POST /api/units
func CreateUnitHandler(s *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		var body UnitRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		u, err := s.CreateUnit(c.UserContext(), userID, models.MeasurementUnit{
			Name:      body.Name,
			Symbol:    body.Symbol,
			Type:      body.Type,
			BaseRatio: body.BaseRatio,
			IsCommon:  body.IsCommon,
		})
		if err != nil {
			return apperr.ToFiber(err, "could not create unit")
		}
		return c.Status(fiber.StatusCreated).JSON(unitResponse(u))
	}
}

// GET /api/ingredients
func ListIngredientsHandler(s *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := s.Ingredients(c.UserContext())
		if err != nil {
			return apperr.ToFiber(err, "could not list ingredients")
		}
		resp := make([]IngredientResponse, 0, len(list))
		for i := range list {
			resp = append(resp, ingredientResponse(&list[i]))
		}
		return c.JSON(resp)
	}
}

// POST /api/ingredients
func CreateIngredientHandler(s *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		var body IngredientRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		ing, err := s.CreateIngredient(c.UserContext(), userID, body.input())
		if err != nil {
			return apperr.ToFiber(err, "could not create ingredient")
		}
		return c.Status(fiber.StatusCreated).JSON(ingredientResponse(ing))
	}
}

// PUT /api/ingredients/:id
func UpdateIngredientHandler(s *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		id, err := idParam(c)
		if err != nil {
			return err
		}
		var body IngredientRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		ing, err := s.UpdateIngredient(c.UserContext(), userID, id, body.input())
		if err != nil {
			return apperr.ToFiber(err, "could not update ingredient")
		}
		return c.JSON(ingredientResponse(ing))
	}
}

// GET /api/conversions?ingredient_id=
func ListConversionsHandler(s *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var ingredientID *uint
		if raw := c.Query("ingredient_id"); raw != "" {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "ingredient_id must be a number")
			}
			id := uint(v)
			ingredientID = &id
		}
		list, err := s.Conversions(c.UserContext(), ingredientID)
		if err != nil {
			return apperr.ToFiber(err, "could not list conversions")
		}
		resp := make([]ConversionResponse, 0, len(list))
		for _, row := range list {
			resp = append(resp, conversionResponse(row))
		}
		return c.JSON(resp)
	}
}

// POST /api/conversions
func CreateConversionHandler(s *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		var body ConversionRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		exact := true
		if body.IsExact != nil {
			exact = *body.IsExact
		}
		row, err := s.CreateConversion(c.UserContext(), userID, ConversionInput{
			IngredientID: body.IngredientID,
			FromUnitID:   body.FromUnitID,
			ToUnitID:     body.ToUnitID,
			Ratio:        body.Ratio,
			IsExact:      exact,
		})
		if err != nil {
			return apperr.ToFiber(err, "could not create conversion")
		}
		return c.Status(fiber.StatusCreated).JSON(conversionResponse(row))
	}
}

// DELETE /api/conversions/:id
func DeleteConversionHandler(s *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		id, err := idParam(c)
		if err != nil {
			return err
		}
		if err := s.DeleteConversion(c.UserContext(), userID, id); err != nil {
			return apperr.ToFiber(err, "could not delete conversion")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/convert?amount=&from=&to=&ingredient_id=
func ConvertHandler(s *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		amount, err := strconv.ParseFloat(c.Query("amount"), 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "amount must be a number")
		}
		reg := s.resolver.Registry()
		from, err := fridge.UnitParam(reg, c.Query("from"))
		if err != nil {
			return err
		}
		to, err := fridge.UnitParam(reg, c.Query("to"))
		if err != nil {
			return err
		}
		var ingredientID uint
		if raw := c.Query("ingredient_id"); raw != "" {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "ingredient_id must be a number")
			}
			ingredientID = uint(v)
		}

		res, err := s.Convert(c.UserContext(), amount, from, to, ingredientID)
		if err != nil {
			return apperr.ToFiber(err, "conversion failed")
		}
		return c.JSON(fiber.Map{
			"amount": fridge.Round(res.Amount),
			"from":   from.Symbol,
			"to":     to.Symbol,
			"exact":  res.Exact,
			"via":    res.Via,
		})
	}
}

func Register(r fiber.Router, s *Service) {
	r.Get("/units", ListUnitsHandler(s))
	r.Post("/units", CreateUnitHandler(s))
	r.Get("/ingredients", ListIngredientsHandler(s))
	r.Post("/ingredients", CreateIngredientHandler(s))
	r.Put("/ingredients/:id", UpdateIngredientHandler(s))
	r.Get("/conversions", ListConversionsHandler(s))
	r.Post("/conversions", CreateConversionHandler(s))
	r.Delete("/conversions/:id", DeleteConversionHandler(s))
	r.Get("/convert", ConvertHandler(s))
}
