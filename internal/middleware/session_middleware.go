package middleware

import (
	"net/http"

	"github.com/damacus/iron-objects/internal/models"
	"github.com/damacus/iron-objects/internal/services"
	"github.com/damacus/iron-objects/internal/utils"
	"github.com/labstack/echo/v4"
)

var publicPaths = map[string]bool{
	"/health":     true,
	"/metrics":    true,
	"/connect":    true,
	"/disconnect": true,
}

// SessionMiddleware resolves the IronSeal cookie to the session's client.
// Requests without a live session get a 401 with the "config" category,
// the same answer a disconnected client gives.
func SessionMiddleware(authService *services.AuthService, sessions *services.SessionStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(utils.CookieName)
			if err == nil && cookie.Value != "" {
				id, decErr := authService.DecryptToken(cookie.Value)
				if decErr == nil {
					if client, ok := sessions.Get(id); ok {
						c.Set(utils.ContextKeySession, id)
						c.Set(utils.ContextKeyClient, client)
						return next(c)
					}
				}

				// Stale or forged cookie: clear it to prevent loops
				cookie.Value = ""
				cookie.Path = "/"
				cookie.MaxAge = -1
				c.SetCookie(cookie)
			}

			if publicPaths[c.Request().URL.Path] {
				return next(c)
			}

			return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:    services.ErrConfig.Error(),
				Category: "config",
			})
		}
	}
}
