package bearer_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/middleware/bearer"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(t *testing.T, cfg bearer.Config) (*fiber.App, *auth.ServiceTokenCodec) {
	t.Helper()
	codec, err := auth.NewServiceTokenCodec([]byte("test-secret"))
	require.NoError(t, err)
	cfg.Verifier = codec

	app := fiber.New(fiber.Config{ErrorHandler: auth.ErrorHandler(nil)})
	app.Get("/me", bearer.New(cfg), func(c *fiber.Ctx) error {
		token := bearer.Token(c)
		if token == nil {
			return c.SendString("anonymous")
		}
		return c.SendString(strconv.FormatInt(token.PrincipalID, 10))
	})
	return app, codec
}

func body(t *testing.T, res *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestBearerHeaderAndCookie(t *testing.T) {
	app, codec := newApp(t, bearer.Config{})
	token, err := codec.Create(42, []string{"svc"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "42", body(t, res))

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.TokenCookieName, Value: token})
	res, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "42", body(t, res))
}

func TestBearerRejectsMissingAndInvalidTokens(t *testing.T) {
	app, _ := newApp(t, bearer.Config{})

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, body(t, res), auth.TextCodeUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	res, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, body(t, res), auth.TextCodeSignature)
}

func TestBearerOptional(t *testing.T) {
	app, _ := newApp(t, bearer.Config{Optional: true})

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "anonymous", body(t, res))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	res, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, "a bad token is still rejected")
}

func TestExtractorsRespectOrderAndScheme(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(bearer.Extract(c, bearer.Extractors("query:access_token,header:Authorization", "Bearer")))
	})

	req := httptest.NewRequest(http.MethodGet, "/?access_token=fromquery", nil)
	req.Header.Set("Authorization", "Bearer fromheader")
	res, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "fromquery", body(t, res))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	res, err = app.Test(req)
	require.NoError(t, err)
	assert.Empty(t, body(t, res))
}
