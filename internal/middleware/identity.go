package middleware

import "github.com/labstack/echo/v4"

// currentUserID returns the id JWTAuth stored, or "anon" on public routes.
func currentUserID(c echo.Context) string {
	if s, ok := c.Get(CtxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
