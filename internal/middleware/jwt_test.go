package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTProtectedPopulatesLocals(t *testing.T) {
	app := fiber.New()
	app.Use(JWTProtected("secret"))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"id":   c.Locals("user_id"),
			"role": c.Locals("user_role"),
			"name": c.Locals("user_name"),
		})
	})

	token := signedToken(t, "secret", jwt.MapClaims{
		"sub":  "42",
		"role": []interface{}{"Teacher"},
		"name": " Ada Lovelace ",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, float64(42), body["id"])
	require.Equal(t, "teacher", body["role"])
	require.Equal(t, "Ada Lovelace", body["name"])
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	app := fiber.New()
	app.Use(JWTProtected("secret"))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc",
		"wrong secret":   "Bearer " + signedToken(t, "other", jwt.MapClaims{"sub": 1}),
		"expired":        "Bearer " + signedToken(t, "secret", jwt.MapClaims{"sub": 1, "exp": time.Now().Add(-time.Hour).Unix()}),
	}

	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err, name)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, name)
	}
}
