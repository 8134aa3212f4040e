package api_test

import (
	"context"
	"net/http"
	"testing"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildEndpoint(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.createUser(t, "alice")
	admin := e.token(t, e.adminID)

	res := e.do(t, request{method: http.MethodPost, target: "/api/admin/projection/rebuild", token: admin})
	require.Equal(t, http.StatusOK, res.StatusCode)
	report := decode[projection.RebuildReport](t, res)
	assert.True(t, report.Committed)
	assert.Empty(t, report.Discrepancies)
	assert.Equal(t, 2, report.UsersAfter)

	_, err := e.repos.DB().NewDelete().Model((*auth.User)(nil)).Where("id = ?", alice).Exec(ctx)
	require.NoError(t, err)

	res = e.do(t, request{method: http.MethodPost, target: "/api/admin/projection/rebuild", token: admin})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	report = decode[projection.RebuildReport](t, res)
	assert.False(t, report.Committed)
	require.Len(t, report.Flagged(), 1)
	assert.Equal(t, projection.DiscrepancyCreated, report.Flagged()[0].Kind)

	_, err = e.engine.Fetch(ctx, alice)
	assert.True(t, auth.IsNotFound(err), "a rejected rebuild must roll back")

	res = e.do(t, request{method: http.MethodPost, target: "/api/admin/projection/rebuild", token: admin, body: map[string]any{"allow_create": true}})
	require.Equal(t, http.StatusOK, res.StatusCode)

	user, err := e.engine.Fetch(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	t.Run("listener resumes", func(t *testing.T) {
		id := e.createUser(t, "bob")
		_, err := e.engine.Fetch(ctx, id)
		assert.NoError(t, err)
	})

	t.Run("admin only", func(t *testing.T) {
		res := e.do(t, request{method: http.MethodPost, target: "/api/admin/projection/rebuild", token: e.token(t, alice)})
		assert.Equal(t, http.StatusForbidden, res.StatusCode)
	})
}
