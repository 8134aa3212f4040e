package api_test

import (
	"context"
	"net/http"
	"testing"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceBody struct {
	Identifier string   `json:"identifier"`
	Claims     []string `json:"claims"`
	Secret     string   `json:"secret"`
}

func TestCreateService(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, e.adminID)

	res := e.do(t, request{method: http.MethodPost, target: "/api/services", token: admin, body: map[string]any{
		"identifier":     "calendar",
		"display_name":   "Calendar",
		"redirect_url":   "https://calendar.example/callback",
		"privacy_policy": "We keep your email.",
		"claims":         []string{"sub", "email"},
	}})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	created := decode[serviceBody](t, res)
	assert.Equal(t, "calendar", created.Identifier)
	assert.Len(t, created.Secret, 48)
	assert.ElementsMatch(t, []string{"sub", "email"}, created.Claims)

	stored, err := e.repos.Services().GetByIdentifier(context.Background(), "calendar")
	require.NoError(t, err)
	assert.True(t, stored.CheckSecret(created.Secret))
	assert.Equal(t, "We keep your email.", stored.PrivacyPolicy)

	t.Run("public client", func(t *testing.T) {
		res := e.do(t, request{method: http.MethodPost, target: "/api/services", token: admin, body: map[string]any{
			"identifier":   "spa",
			"display_name": "SPA",
			"redirect_url": "https://spa.example/",
			"public":       true,
		}})
		require.Equal(t, http.StatusCreated, res.StatusCode)
		assert.Empty(t, decode[serviceBody](t, res).Secret)
	})

	t.Run("duplicate identifier", func(t *testing.T) {
		res := e.do(t, request{method: http.MethodPost, target: "/api/services", token: admin, body: map[string]any{
			"identifier":   "calendar",
			"display_name": "Calendar",
			"redirect_url": "https://calendar.example/callback",
		}})
		assert.Equal(t, http.StatusConflict, res.StatusCode)
	})

	t.Run("unknown claim", func(t *testing.T) {
		res := e.do(t, request{method: http.MethodPost, target: "/api/services", token: admin, body: map[string]any{
			"identifier":   "weird",
			"display_name": "Weird",
			"redirect_url": "https://weird.example/",
			"claims":       []string{"shoe_size"},
		}})
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("not an admin", func(t *testing.T) {
		user := e.createUser(t, "alice")
		res := e.do(t, request{method: http.MethodPost, target: "/api/services", token: e.token(t, user), body: map[string]any{}})
		assert.Equal(t, http.StatusForbidden, res.StatusCode)
		assert.Contains(t, readBody(t, res), auth.TextCodeForbidden)
	})
}

func TestListServices(t *testing.T) {
	e := newEnv(t)

	res := e.do(t, request{method: http.MethodGet, target: "/api/services", token: e.token(t, e.adminID)})
	require.Equal(t, http.StatusOK, res.StatusCode)

	list := decode[[]serviceBody](t, res)
	require.Len(t, list, 2)
	assert.Equal(t, otherID, list[0].Identifier)
	assert.Equal(t, svcID, list[1].Identifier)
	for _, s := range list {
		assert.Empty(t, s.Secret)
	}
}

func TestUpdatePermissions(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, e.adminID)
	body := map[string]any{"claims": []string{"sub", "name"}}

	type response struct {
		Diff      auth.ClaimsDiff `json:"diff"`
		Committed bool            `json:"committed"`
	}

	res := e.do(t, request{method: http.MethodPost, target: "/api/services/svc/permissions?dry_run=true", token: admin, body: body})
	require.Equal(t, http.StatusOK, res.StatusCode)
	dry := decode[response](t, res)
	assert.False(t, dry.Committed)
	assert.Contains(t, dry.Diff.Added, "name")
	assert.Contains(t, dry.Diff.Removed, "email")

	stored, err := e.repos.Services().GetByIdentifier(context.Background(), svcID)
	require.NoError(t, err)
	assert.True(t, stored.Permissions.Allows("email"), "dry run must not commit")

	res = e.do(t, request{method: http.MethodPost, target: "/api/services/svc/permissions", token: admin, body: body})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, decode[response](t, res).Committed)

	stored, err = e.repos.Services().GetByIdentifier(context.Background(), svcID)
	require.NoError(t, err)
	assert.False(t, stored.Permissions.Allows("email"))
	assert.True(t, stored.Permissions.Allows("name"))

	t.Run("unknown service", func(t *testing.T) {
		res := e.do(t, request{method: http.MethodPost, target: "/api/services/nope/permissions", token: admin, body: body})
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}
