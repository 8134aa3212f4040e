package api_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	e := newEnv(t)

	body := map[string]any{
		"username": "carol",
		"name":     "Carol Example",
		"email":    "Carol@Example.com",
		"phone":    "040 7654321",
		"password": "long enough",
		"tktl":     true,
	}
	res := e.do(t, request{method: http.MethodPost, target: "/api/users", body: body})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	created := decode[struct {
		ID int64 `json:"id"`
	}](t, res)

	user, err := e.engine.Fetch(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", user.Email)
	assert.Equal(t, "+358407654321", user.Phone)
	assert.Equal(t, auth.RoleUser, user.Role)
	assert.Equal(t, auth.MembershipNone, user.Membership)
	assert.True(t, user.TKTL)
	assert.NotEmpty(t, user.PasswordHash)

	t.Run("username taken", func(t *testing.T) {
		body := map[string]any{"username": "carol", "email": "other@example.com", "password": "long enough"}
		res := e.do(t, request{method: http.MethodPost, target: "/api/users", body: body})
		assert.Equal(t, http.StatusConflict, res.StatusCode)
		assert.Contains(t, readBody(t, res), auth.TextCodeAlreadyInUse)
	})

	t.Run("short password", func(t *testing.T) {
		body := map[string]any{"username": "dave", "email": "dave@example.com", "password": "short"}
		res := e.do(t, request{method: http.MethodPost, target: "/api/users", body: body})
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("invalid email", func(t *testing.T) {
		body := map[string]any{"username": "erin", "email": "not-an-email", "password": "long enough"}
		res := e.do(t, request{method: http.MethodPost, target: "/api/users", body: body})
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestUserAccess(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")
	bob := e.createUser(t, "bob")
	aliceToken := e.token(t, alice)
	adminToken := e.token(t, e.adminID)

	tests := []struct {
		name   string
		token  string
		target int64
		status int
	}{
		{"self", aliceToken, alice, http.StatusOK},
		{"other user", aliceToken, bob, http.StatusForbidden},
		{"admin", adminToken, bob, http.StatusOK},
		{"admin missing user", adminToken, 42, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.do(t, request{method: http.MethodGet, target: fmt.Sprintf("/api/users/%d", tt.target), token: tt.token})
			assert.Equal(t, tt.status, res.StatusCode)
		})
	}

	t.Run("hashes are never exposed", func(t *testing.T) {
		res := e.do(t, request{method: http.MethodGet, target: fmt.Sprintf("/api/users/%d", alice), token: aliceToken})
		body := readBody(t, res)
		assert.Contains(t, body, `"username":"alice"`)
		assert.NotContains(t, body, "password_hash")
		assert.NotContains(t, body, "salt")
	})

	t.Run("malformed id", func(t *testing.T) {
		res := e.do(t, request{method: http.MethodGet, target: "/api/users/abc", token: aliceToken})
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestUpdateUser(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")
	e.createUser(t, "bob")
	aliceToken := e.token(t, alice)
	target := fmt.Sprintf("/api/users/%d", alice)

	res := e.do(t, request{method: http.MethodPatch, target: target, token: aliceToken, body: map[string]any{
		"name":      "Alice Updated",
		"residence": "Espoo",
	}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	updated := decode[struct {
		Changed int        `json:"changed"`
		User    *auth.User `json:"user"`
	}](t, res)
	assert.Equal(t, 2, updated.Changed)
	assert.Equal(t, "Alice Updated", updated.User.Name)
	assert.Equal(t, "Espoo", updated.User.Residence)

	t.Run("no changes", func(t *testing.T) {
		res := e.do(t, request{method: http.MethodPatch, target: target, token: aliceToken, body: map[string]any{"residence": "Espoo"}})
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Contains(t, readBody(t, res), `"changed":0`)
	})

	t.Run("email collision", func(t *testing.T) {
		res := e.do(t, request{method: http.MethodPatch, target: target, token: aliceToken, body: map[string]any{"email": "bob@example.com"}})
		assert.Equal(t, http.StatusConflict, res.StatusCode)
		assert.Contains(t, readBody(t, res), auth.TextCodeAlreadyInUse)
	})

	t.Run("role is admin only", func(t *testing.T) {
		res := e.do(t, request{method: http.MethodPatch, target: target, token: aliceToken, body: map[string]any{"role": auth.RoleAdmin}})
		assert.Equal(t, http.StatusForbidden, res.StatusCode)

		res = e.do(t, request{method: http.MethodPatch, target: target, token: e.token(t, e.adminID), body: map[string]any{
			"role":       auth.RoleOfficer,
			"membership": auth.MembershipHonorary,
		}})
		require.Equal(t, http.StatusOK, res.StatusCode)

		user, err := e.engine.Fetch(context.Background(), alice)
		require.NoError(t, err)
		assert.Equal(t, auth.RoleOfficer, user.Role)
		assert.Equal(t, auth.MembershipHonorary, user.Membership)
	})

	t.Run("password change", func(t *testing.T) {
		res := e.do(t, request{method: http.MethodPatch, target: target, token: aliceToken, body: map[string]any{"password": "brand new password"}})
		require.Equal(t, http.StatusOK, res.StatusCode)

		res = e.do(t, request{method: http.MethodPost, target: "/authenticate", body: authenticate("alice", "brand new password", svcID)})
		assert.Equal(t, http.StatusOK, res.StatusCode)
	})
}

func TestUpdateUserWhileProjectionLags(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.listener.Stop(ctx))

	res := e.do(t, request{method: http.MethodPatch, target: fmt.Sprintf("/api/users/%d", alice), token: e.token(t, alice), body: map[string]any{
		"name": "Alice Pending",
	}})
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	pending := decode[struct {
		Changed int  `json:"changed"`
		Pending bool `json:"pending"`
	}](t, res)
	assert.Equal(t, 1, pending.Changed)
	assert.True(t, pending.Pending)
}

func TestDeleteUser(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")
	target := fmt.Sprintf("/api/users/%d", alice)

	res := e.do(t, request{method: http.MethodDelete, target: target, token: e.token(t, alice)})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = e.do(t, request{method: http.MethodDelete, target: target, token: e.token(t, e.adminID)})
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	_, err := e.engine.Fetch(context.Background(), alice)
	assert.True(t, auth.IsNotFound(err))

	res = e.do(t, request{method: http.MethodGet, target: "/api/users/me", token: e.token(t, alice)})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
