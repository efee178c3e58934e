package handlers

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/damacus/iron-objects/internal/s3test"
	"github.com/damacus/iron-objects/internal/services"
	"github.com/damacus/iron-objects/internal/utils"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

const (
	testAccessKey = "AKIDEXAMPLE"
	testSecret    = "very-secret-key"
	testBucket    = "photos"
	testRegion    = "us-east-1"
)

func newFakeS3() *s3test.Server {
	return s3test.New(testRegion, testAccessKey, testSecret, testBucket)
}

func clientFactory(srv *s3test.Server) ClientFactory {
	return func() *services.Client {
		return services.NewClient(
			services.Credentials{Endpoint: "s3.example.com", Region: testRegion, UseSSL: true},
			services.WithHTTPClient(srv.Doer()),
		)
	}
}

func connectedClient(t *testing.T, srv *s3test.Server) *services.Client {
	t.Helper()
	client := clientFactory(srv)()
	_, err := client.Connect(context.Background(), testAccessKey, testSecret, testBucket)
	require.NoError(t, err)
	return client
}

// newContext builds an echo context with client bound as the session's client.
func newContext(method, target string, body io.Reader, client *services.Client) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if client != nil {
		c.Set(utils.ContextKeyClient, client)
	}
	return c, rec
}

func newTestSessions() *services.SessionStore {
	return services.NewSessionStore(10, time.Hour)
}

func requireHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected *echo.HTTPError, got %T", err)
	require.Equal(t, code, httpErr.Code)
}

