package auth_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorBody struct {
	Error struct {
		Code     int            `json:"code"`
		TextCode string         `json:"text_code"`
		Message  string         `json:"message"`
		Metadata map[string]any `json:"metadata"`
	} `json:"error"`
}

func serveError(t *testing.T, err error) (int, errorBody) {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: auth.ErrorHandler(nil)})
	app.Get("/", func(*fiber.Ctx) error { return err })

	resp, terr := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, terr)
	defer resp.Body.Close()

	raw, rerr := io.ReadAll(resp.Body)
	require.NoError(t, rerr)

	var body errorBody
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return resp.StatusCode, body
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		textCode string
	}{
		{"not found", auth.NewError(auth.ErrNotFound, "user 3 not found"), http.StatusNotFound, auth.TextCodeNotFound},
		{"conflict", auth.ErrAlreadyInUse, http.StatusConflict, auth.TextCodeAlreadyInUse},
		{"forbidden", auth.ErrForbidden, http.StatusForbidden, auth.TextCodeForbidden},
		{"bad credentials", auth.ErrMismatchedHashAndPassword, http.StatusUnauthorized, auth.TextCodeInvalidCreds},
		{"lagging projection", auth.ErrProjectionLag, http.StatusServiceUnavailable, auth.TextCodeProjectionLag},
		{"fiber error", fiber.NewError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := serveError(t, tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.status, body.Error.Code)
			if tt.textCode != "" {
				assert.Equal(t, tt.textCode, body.Error.TextCode)
			}
		})
	}
}

func TestErrorHandlerMasksInternalErrors(t *testing.T) {
	status, body := serveError(t, errors.New("dial tcp 10.0.0.3:5432: secret detail"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.NotContains(t, body.Error.Message, "secret detail")

	rich := goerrors.New("pool exhausted", goerrors.CategoryInternal).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"dsn": "postgres://"})
	status, body = serveError(t, rich)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "An unexpected error occurred", body.Error.Message)
	assert.Empty(t, body.Error.Metadata)
	assert.Equal(t, "pool exhausted", rich.Message, "handler works on a copy")
}

func TestTokenCookies(t *testing.T) {
	cfg := auth.CookieConfig{Domain: "example.org", Secure: true, Duration: time.Hour}
	assert.Equal(t, auth.TokenCookieName, cfg.CookieName())

	app := fiber.New()
	app.Get("/set", func(c *fiber.Ctx) error {
		auth.SetTokenCookie(c, cfg, "abc")
		return nil
	})
	app.Get("/clear", func(c *fiber.Ctx) error {
		auth.ClearTokenCookie(c, auth.CookieConfig{Name: "sso"})
		return nil
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/set", nil))
	require.NoError(t, err)
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "token", cookies[0].Name)
	assert.Equal(t, "abc", cookies[0].Value)
	assert.Equal(t, "example.org", cookies[0].Domain)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.True(t, cookies[0].Expires.After(time.Now()))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/clear", nil))
	require.NoError(t, err)
	cookies = resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sso", cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.True(t, cookies[0].Expires.Before(time.Now()))
}
