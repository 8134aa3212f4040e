package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/api"
	"github.com/TKOaly/user-service-sub000/eventlog"
	"github.com/TKOaly/user-service-sub000/internal/metrics"
	"github.com/TKOaly/user-service-sub000/projection"
	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	svcID    = "svc"
	otherID  = "other"
	password = "correct horse"
)

func TestMain(m *testing.M) {
	auth.SetPasswordHashCost(bcrypt.MinCost)
	os.Exit(m.Run())
}

type env struct {
	app      *fiber.App
	engine   *projection.Engine
	repos    auth.RepositoryManager
	listener *projection.Listener
	tokens   *auth.ServiceTokenCodec
	adminID  int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := auth.OpenDatabase(fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = auth.Migrate(ctx, db)
	require.NoError(t, err)
	repos := auth.NewRepositoryManager(db)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	gateway := eventlog.NewRedisGateway(eventlog.NewConnWithClient(client))

	engine, err := projection.NewEngine(repos, gateway, projection.WithDurabilityTimeout(3*time.Second))
	require.NoError(t, err)

	listener := projection.NewListener(engine, gateway, eventlog.SubscribeConfig{
		Consumer: "api-test",
		Block:    20 * time.Millisecond,
	})
	require.NoError(t, listener.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = listener.Stop(stopCtx)
	})

	for _, s := range []*auth.Service{
		{Identifier: svcID, DisplayName: "Service", RedirectURL: "https://svc.example/cb", Permissions: auth.MaskForClaims("sub", "email")},
		{Identifier: otherID, DisplayName: "Other", RedirectURL: "https://other.example/cb", Permissions: auth.MaskForClaims("sub", "name")},
	} {
		_, err := repos.Services().Create(ctx, s)
		require.NoError(t, err)
	}

	tokens, err := auth.NewServiceTokenCodec([]byte("api-test-secret"))
	require.NoError(t, err)

	controller, err := api.NewController(api.Config{
		Users:       engine,
		Services:    repos.Services(),
		Credentials: auth.NewCredentialStore(engine),
		Tokens:      tokens,
		Listener:    listener,
	}, api.WithMetrics(metrics.New()))
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: auth.ErrorHandler(nil)})
	controller.Register(app)

	e := &env{app: app, engine: engine, repos: repos, listener: listener, tokens: tokens}

	admin := userFields("root", "root@example.com")
	admin.Role = auth.RoleAdmin
	e.adminID, err = engine.Create(ctx, admin, password, projection.CreateOptions{WaitForDurability: true})
	require.NoError(t, err)
	return e
}

func userFields(username, email string) auth.UserFields {
	return auth.UserFields{
		Username:   username,
		Name:       "User " + username,
		ScreenName: username,
		Email:      email,
		Phone:      "040 1234567",
		Membership: auth.MembershipMember,
		Role:       auth.RoleUser,
	}
}

// createUser adds a regular user and returns its id.
func (e *env) createUser(t *testing.T, username string) int64 {
	t.Helper()
	id, err := e.engine.Create(context.Background(), userFields(username, username+"@example.com"), password,
		projection.CreateOptions{WaitForDurability: true})
	require.NoError(t, err)
	return id
}

func (e *env) token(t *testing.T, userID int64, services ...string) string {
	t.Helper()
	if len(services) == 0 {
		services = []string{svcID}
	}
	token, err := e.tokens.Create(userID, services)
	require.NoError(t, err)
	return token
}

type request struct {
	method string
	target string
	body   any
	token  string
	header map[string]string
	cookie *http.Cookie
}

func (e *env) do(t *testing.T, r request) *http.Response {
	t.Helper()

	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(r.method, r.target, body)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	for k, v := range r.header {
		req.Header.Set(k, v)
	}
	if r.cookie != nil {
		req.AddCookie(r.cookie)
	}

	res, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var out T
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(raw)
}

func tokenCookie(res *http.Response) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == auth.TokenCookieName {
			return c
		}
	}
	return nil
}
