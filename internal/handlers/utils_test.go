package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/damacus/iron-objects/internal/models"
	"github.com/damacus/iron-objects/internal/services"
	"github.com/damacus/iron-objects/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClient_WithClient(t *testing.T) {
	client := services.NewClient(services.Credentials{})
	c, _ := newContext(http.MethodGet, "/", nil, client)

	got, err := GetClient(c)

	require.NoError(t, err)
	assert.Same(t, client, got)
}

func TestGetClient_WithoutClient(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/", nil, nil)

	got, err := GetClient(c)

	assert.Nil(t, got)
	requireHTTPError(t, err, http.StatusUnauthorized)
}

func TestGetClient_WithWrongType(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/", nil, nil)
	c.Set(utils.ContextKeyClient, "not-a-client")

	_, err := GetClient(c)

	requireHTTPError(t, err, http.StatusUnauthorized)
}

func TestHTMXRedirect(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/", nil, nil)

	err := HTMXRedirect(c, "/?path=docs")

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/?path=docs", rec.Header().Get("HX-Redirect"))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		category string
	}{
		{"config", &services.OpError{Op: "list", Kind: services.ErrConfig}, http.StatusUnauthorized, "config"},
		{"validation", &services.OpError{Op: "upload", Kind: services.ErrValidation, Err: errors.New("bad key")}, http.StatusBadRequest, "validation"},
		{"auth by status", &services.OpError{Op: "delete", Kind: services.ErrDelete, StatusCode: 403}, http.StatusForbidden, "auth"},
		{"auth by code", &services.OpError{Op: "download", Kind: services.ErrDownload, StatusCode: 400, Code: "ExpiredToken"}, http.StatusForbidden, "auth"},
		{"network", &services.OpError{Op: "list", Kind: services.ErrNetwork}, http.StatusBadGateway, "network"},
		{"parse", &services.OpError{Op: "list", Kind: services.ErrParse}, http.StatusBadGateway, "parse"},
		{"missing object", &services.OpError{Op: "download", Kind: services.ErrDownload, StatusCode: 404, Code: "NoSuchKey"}, http.StatusNotFound, "not_found"},
		{"server error", &services.OpError{Op: "upload", Kind: services.ErrUpload, StatusCode: 500}, http.StatusBadGateway, "upstream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, category := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.category, category)
		})
	}
}

func TestRespondError_SurfacesServerBody(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/", nil, nil)
	body := "<Error><Code>InternalError</Code></Error>"

	err := respondError(c, &services.OpError{
		Op: "upload", Kind: services.ErrUpload, StatusCode: 500, Code: "InternalError", Body: body,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "upstream", resp.Category)
	assert.Equal(t, 500, resp.Status)
	assert.Equal(t, "InternalError", resp.Code)
	assert.Equal(t, body, resp.ServerBody)
}
