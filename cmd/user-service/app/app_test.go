package app

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/TKOaly/user-service-sub000/projection"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("USER_SERVICE_ISSUER", "https://sso.example")
	t.Setenv("USER_SERVICE_SERVICE_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("USER_SERVICE_DATABASE_DSN", "file:"+filepath.Join(t.TempDir(), "users.db"))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "applied")

	out, err = execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")
}

func TestRebuildCommandDryRun(t *testing.T) {
	setupEnv(t)
	mr := miniredis.RunT(t)
	t.Setenv("USER_SERVICE_REDIS_ADDR", mr.Addr())

	out, err := execute(t, "rebuild", "--dry-run")
	require.NoError(t, err)

	var report projection.RebuildReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Events)
	assert.False(t, report.Committed)
}

func TestCommandRequiresConfiguration(t *testing.T) {
	t.Setenv("USER_SERVICE_ISSUER", "")
	t.Setenv("USER_SERVICE_SERVICE_TOKEN_SECRET", "")

	_, err := execute(t, "migrate")
	assert.Error(t, err)
}
