package handlers

import (
	"net/http"
	"time"

	"github.com/damacus/iron-objects/internal/services"
	"github.com/damacus/iron-objects/internal/utils"
	"github.com/labstack/echo/v4"
)

// ClientFactory builds a fresh, disconnected client for a new session.
type ClientFactory func() *services.Client

type SessionHandler struct {
	authService *services.AuthService
	sessions    *services.SessionStore
	newClient   ClientFactory
	ttl         time.Duration
}

func NewSessionHandler(authService *services.AuthService, sessions *services.SessionStore, newClient ClientFactory, ttl time.Duration) *SessionHandler {
	return &SessionHandler{
		authService: authService,
		sessions:    sessions,
		newClient:   newClient,
		ttl:         ttl,
	}
}

type connectResponse struct {
	State   services.ClientState `json:"state"`
	Listing services.ListResult  `json:"listing"`
}

// Connect handles the form submission: it probes the credentials and, on
// success, opens a session.
func (h *SessionHandler) Connect(c echo.Context) error {
	accessKey := c.FormValue("accessKey")
	secretKey := c.FormValue("secretKey")
	bucket := c.FormValue("bucket")

	// Reconnecting replaces any session the caller already holds
	if old, ok := c.Get(utils.ContextKeySession).(string); ok {
		h.sessions.Remove(old)
	}

	client := h.newClient()
	result, err := client.Connect(c.Request().Context(), accessKey, secretKey, bucket)
	if err != nil {
		return respondError(c, err)
	}

	id, err := h.sessions.Create(client)
	if err != nil {
		_ = client.Disconnect(c.Request().Context())
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create session")
	}
	encrypted, err := h.authService.EncryptToken(id)
	if err != nil {
		h.sessions.Remove(id)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create session")
	}

	cookie := h.sessionCookie(c, encrypted)
	cookie.Expires = time.Now().Add(h.ttl)
	c.SetCookie(cookie)

	if isHTMX(c) {
		return HTMXRedirect(c, "/")
	}
	return c.JSON(http.StatusOK, connectResponse{State: client.State(), Listing: result})
}

// Disconnect ends the session, wiping the client's secret.
func (h *SessionHandler) Disconnect(c echo.Context) error {
	if id, ok := c.Get(utils.ContextKeySession).(string); ok {
		h.sessions.Remove(id)
	}

	cookie := h.sessionCookie(c, "")
	cookie.Expires = time.Now().Add(-1 * time.Hour)
	cookie.MaxAge = -1
	c.SetCookie(cookie)

	if isHTMX(c) {
		return HTMXRedirect(c, "/")
	}
	return c.JSON(http.StatusOK, services.ClientState{Status: services.StateDisconnected.String()})
}

// State reports the session's client state.
func (h *SessionHandler) State(c echo.Context) error {
	client, err := GetClient(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, client.State())
}

type connectionSettings struct {
	Endpoint    string `json:"endpoint"`
	Region      string `json:"region"`
	UseSSL      bool   `json:"useSSL"`
	Bucket      string `json:"bucket"`
	AccessKeyID string `json:"accessKeyId"`
}

// Settings returns the session's own connection settings, never the secret.
func (h *SessionHandler) Settings(c echo.Context) error {
	client, err := GetClient(c)
	if err != nil {
		return err
	}
	creds := client.Settings()
	return c.JSON(http.StatusOK, connectionSettings{
		Endpoint:    creds.Endpoint,
		Region:      creds.Region,
		UseSSL:      creds.UseSSL,
		Bucket:      creds.Bucket,
		AccessKeyID: creds.AccessKeyID,
	})
}

func (h *SessionHandler) sessionCookie(c echo.Context, value string) *http.Cookie {
	return &http.Cookie{
		Name:     utils.CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   requestIsSecure(c),
	}
}

func requestIsSecure(c echo.Context) bool {
	req := c.Request()
	if req.TLS != nil {
		return true
	}

	return req.Header.Get("X-Forwarded-Proto") == "https"
}
