package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

// OwnerKey is the context key the authenticated owner is stored under.
const OwnerKey ContextKey = "owner"

// RequireBearerOwner resolves the bearer token on every request to an
// owner username and rejects the request with 401 if none is present.
// There is no token introspection service in this engine: the bearer
// value itself is the owner, the way a single-tenant deployment or a
// trusted upstream gateway would issue it.
func RequireBearerOwner() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			owner, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || owner == "" {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"success": false, "error": "missing or malformed Authorization header",
				})
			}
			c.Set(string(OwnerKey), owner)
			return next(c)
		}
	}
}

// Owner retrieves the authenticated owner from the request context.
func Owner(c echo.Context) string {
	owner, _ := c.Get(string(OwnerKey)).(string)
	return owner
}
