package handlers

import (
	"errors"
	"net/http"

	"github.com/damacus/iron-objects/internal/models"
	"github.com/damacus/iron-objects/internal/services"
	"github.com/damacus/iron-objects/internal/utils"
	"github.com/labstack/echo/v4"
)

// GetClient retrieves the session's client from the context
func GetClient(c echo.Context) (*services.Client, error) {
	client, ok := c.Get(utils.ContextKeyClient).(*services.Client)
	if !ok || client == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
	return client, nil
}

// HTMXRedirect sets the HX-Redirect header and returns a 200 OK response.
// This is used for HTMX requests that should trigger a client-side redirect.
func HTMXRedirect(c echo.Context, url string) error {
	c.Response().Header().Set("HX-Redirect", url)
	return c.NoContent(http.StatusOK)
}

func isHTMX(c echo.Context) bool {
	return c.Request().Header.Get("HX-Request") == "true"
}

// errorStatus maps a client error category onto the HTTP status we answer with.
func errorStatus(err error) (int, string) {
	var opErr *services.OpError
	switch {
	case errors.Is(err, services.ErrConfig):
		return http.StatusUnauthorized, "config"
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &opErr) && opErr.IsAuth():
		return http.StatusForbidden, "auth"
	case errors.Is(err, services.ErrNetwork):
		return http.StatusBadGateway, "network"
	case errors.Is(err, services.ErrParse):
		return http.StatusBadGateway, "parse"
	case errors.As(err, &opErr) && opErr.StatusCode == http.StatusNotFound:
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusBadGateway, "upstream"
	}
}

// respondError writes a categorized JSON error, surfacing the raw server
// body when there is one.
func respondError(c echo.Context, err error) error {
	status, category := errorStatus(err)
	body := models.ErrorResponse{Error: err.Error(), Category: category}

	var opErr *services.OpError
	if errors.As(err, &opErr) {
		body.Status = opErr.StatusCode
		body.Code = opErr.Code
		body.ServerBody = opErr.Body
	}
	return c.JSON(status, body)
}
