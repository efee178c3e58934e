package middleware

import (
	"net/http"

	"github.com/damacus/iron-objects/internal/utils"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
)

// CSRF guards mutating HTMX requests that ride on a session cookie.
func CSRF() echo.MiddlewareFunc {
	return echoMiddleware.CSRFWithConfig(echoMiddleware.CSRFConfig{
		TokenLookup:    "header:X-CSRF-Token",
		CookieName:     "csrf",
		CookiePath:     "/",
		CookieSameSite: http.SameSiteStrictMode,
		Skipper: func(c echo.Context) bool {
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
				return false
			}

			if _, err := c.Cookie(utils.CookieName); err != nil {
				return true
			}
			return c.Request().Header.Get("HX-Request") != "true"
		},
	})
}
