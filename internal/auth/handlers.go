package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// WhoAmI reports the principal attached by Middleware.
func WhoAmI(c echo.Context) error {
	principal := PrincipalFromContext(c)
	if principal == nil {
		return c.JSON(http.StatusOK, map[string]any{"authenticated": false})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"authenticated": true,
		"principal":     principal,
	})
}
