package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

const secret = "0123456789abcdef0123456789abcdef"

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(JWTMiddleware(secret))
	app.Get("/me", func(c *fiber.Ctx) error {
		id, err := UserID(c)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"user_id": id})
	})
	return app
}

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken(secret, 42, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("UserID = %d, want 42", claims.UserID)
	}
	if _, err := ParseToken("another-secret-another-secret-xx", token); err == nil {
		t.Error("ParseToken() with wrong secret error = nil")
	}
}

func TestParseToken_Expired(t *testing.T) {
	token, err := GenerateToken(secret, 1, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(secret, token); err == nil {
		t.Error("ParseToken() of expired token error = nil")
	}
}

func TestJWTMiddleware(t *testing.T) {
	valid, _ := GenerateToken(secret, 7, time.Hour)
	zeroUser, _ := GenerateToken(secret, 0, time.Hour)

	testCases := []struct {
		header string
		want   int
	}{
		{"Bearer " + valid, fiber.StatusOK},
		{"bearer " + valid, fiber.StatusOK},
		{"", fiber.StatusUnauthorized},
		{valid, fiber.StatusUnauthorized},
		{"Basic abc", fiber.StatusUnauthorized},
		{"Bearer not-a-token", fiber.StatusUnauthorized},
		{"Bearer " + zeroUser, fiber.StatusUnauthorized},
	}

	app := newApp()
	for _, tc := range testCases {
		req := httptest.NewRequest("GET", "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test() error = %v", err)
		}
		if resp.StatusCode != tc.want {
			t.Errorf("Authorization %q status = %d, want %d", tc.header, resp.StatusCode, tc.want)
		}
	}
}
