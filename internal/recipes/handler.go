package recipes

import (
	"strconv"

	"pantry-backend/internal/apperr"
	"pantry-backend/internal/auth"
	"pantry-backend/internal/fridge"
	"pantry-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

type CreateRecipeRequest struct {
	Name        string  `json:"name"`
	Servings    float64 `json:"servings"`
	Ingredients []Line  `json:"ingredients"`
}

type PrepareRequest struct {
	Servings *float64 `json:"servings"`
}

type RecipeLineResponse struct {
	IngredientID   uint    `json:"ingredient_id"`
	IngredientName string  `json:"ingredient_name"`
	Amount         float64 `json:"amount"`
	UnitID         uint    `json:"unit_id"`
	UnitSymbol     string  `json:"unit_symbol"`
}

type RecipeResponse struct {
	ID          uint                 `json:"id"`
	Name        string               `json:"name"`
	Servings    float64              `json:"servings"`
	Ingredients []RecipeLineResponse `json:"ingredients"`
}

func toResponse(r *models.Recipe) RecipeResponse {
	resp := RecipeResponse{ID: r.ID, Name: r.Name, Servings: r.Servings, Ingredients: []RecipeLineResponse{}}
	for _, l := range r.Ingredients {
		resp.Ingredients = append(resp.Ingredients, RecipeLineResponse{
			IngredientID:   l.IngredientID,
			IngredientName: l.Ingredient.Name,
			Amount:         l.Amount,
			UnitID:         l.UnitID,
			UnitSymbol:     l.Unit.Symbol,
		})
	}
	return resp
}

func recipeParam(c *fiber.Ctx, s *Store) (*models.Recipe, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid recipe id")
	}
	r, err := s.Get(c.UserContext(), uint(id))
	if err != nil {
		return nil, apperr.ToFiber(err, "could not load recipe")
	}
	return r, nil
}

func servingsQuery(c *fiber.Ctx) (*float64, error) {
	raw := c.Query("servings")
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "servings must be a number")
	}
	return &v, nil
}

// POST /api/recipes
func CreateRecipeHandler(s *Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateRecipeRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		r, err := s.Create(c.UserContext(), body.Name, body.Servings, body.Ingredients)
		if err != nil {
			return apperr.ToFiber(err, "could not create recipe")
		}
		return c.Status(fiber.StatusCreated).JSON(toResponse(r))
	}
}

// GET /api/recipes
func ListRecipesHandler(s *Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := s.List(c.UserContext())
		if err != nil {
			return apperr.ToFiber(err, "could not list recipes")
		}
		resp := make([]RecipeResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toResponse(&list[i]))
		}
		return c.JSON(resp)
	}
}

// GET /api/recipes/:id
func GetRecipeHandler(s *Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		r, err := recipeParam(c, s)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(r))
	}
}

// GET /api/recipes/:id/can-prepare
func CanPrepareHandler(s *Store, e *fridge.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		r, err := recipeParam(c, s)
		if err != nil {
			return err
		}
		ok, err := e.CanPrepare(c.UserContext(), userID, r)
		if err != nil {
			return apperr.ToFiber(err, "could not check recipe")
		}
		return c.JSON(fiber.Map{"recipe_id": r.ID, "can_prepare": ok})
	}
}

// GET /api/recipes/:id/missing?servings=
func MissingHandler(s *Store, e *fridge.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		r, err := recipeParam(c, s)
		if err != nil {
			return err
		}
		servings, err := servingsQuery(c)
		if err != nil {
			return err
		}
		missing, err := e.MissingIngredients(c.UserContext(), userID, r, servings)
		if err != nil {
			return apperr.ToFiber(err, "could not check recipe")
		}
		return c.JSON(missing)
	}
}

// GET /api/recipes/:id/shopping?servings=
func ShoppingHandler(s *Store, e *fridge.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		r, err := recipeParam(c, s)
		if err != nil {
			return err
		}
		servings, err := servingsQuery(c)
		if err != nil {
			return err
		}
		items, err := e.ShoppingShortfall(c.UserContext(), userID, r, servings)
		if err != nil {
			return apperr.ToFiber(err, "could not build shopping list")
		}
		return c.JSON(items)
	}
}

// POST /api/recipes/:id/prepare
func PrepareHandler(s *Store, e *fridge.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}
		r, err := recipeParam(c, s)
		if err != nil {
			return err
		}
		var body PrepareRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
			}
		}
		res, err := e.UseForRecipe(c.UserContext(), userID, r, body.Servings)
		if err != nil {
			return apperr.ToFiber(err, "could not prepare recipe")
		}
		if !res.Success {
			return c.Status(fiber.StatusConflict).JSON(res)
		}
		return c.JSON(res)
	}
}

func Register(r fiber.Router, s *Store, e *fridge.Engine) {
	g := r.Group("/recipes")
	g.Get("/", ListRecipesHandler(s))
	g.Post("/", CreateRecipeHandler(s))
	g.Get("/:id", GetRecipeHandler(s))
	g.Get("/:id/can-prepare", CanPrepareHandler(s, e))
	g.Get("/:id/missing", MissingHandler(s, e))
	g.Get("/:id/shopping", ShoppingHandler(s, e))
	g.Post("/:id/prepare", PrepareHandler(s, e))
}
