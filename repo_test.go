package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryManagerValidate(t *testing.T) {
	repos := auth.NewRepositoryManager(newDB(t))
	require.NoError(t, repos.Validate())
	assert.NotPanics(t, repos.MustValidate)
	assert.Error(t, auth.NewRepositoryManager(nil).Validate())
}

func TestReservationsAreExclusive(t *testing.T) {
	ctx := context.Background()
	repos := auth.NewRepositoryManager(newDB(t))
	rsv := repos.Reservations()

	first, err := rsv.ReserveUsername(ctx, "alice", 1)
	require.NoError(t, err)

	_, err = rsv.ReserveUsername(ctx, " alice ", 2)
	assert.True(t, auth.IsAlreadyInUse(err))

	emailID, err := rsv.ReserveEmail(ctx, "Alice@Example.com", 1)
	require.NoError(t, err)
	_, err = rsv.ReserveEmail(ctx, "alice@example.com", 2)
	assert.True(t, auth.IsAlreadyInUse(err))

	held, err := rsv.HasUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, rsv.Release(ctx, first, emailID))
	require.NoError(t, rsv.Release(ctx))

	_, err = rsv.ReserveUsername(ctx, "alice", 2)
	assert.NoError(t, err)

	held, err = rsv.HasUser(ctx, 1)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestReservationsReleasedWithProjection(t *testing.T) {
	ctx := context.Background()
	repos := auth.NewRepositoryManager(newDB(t))
	rsv := repos.Reservations()

	_, err := rsv.ReserveUsername(ctx, "bob", 5)
	require.NoError(t, err)
	_, err = rsv.ReserveEmail(ctx, "bob@example.com", 5)
	require.NoError(t, err)
	_, err = rsv.ReserveUsername(ctx, "bobby", 5)
	require.NoError(t, err)

	now := time.Now().UTC()
	record := &auth.User{ID: 5, Username: "bob", Email: "bob@example.com", Role: auth.RoleUser, Membership: auth.MembershipNone, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repos.Users().UpsertTx(ctx, repos.DB(), record))
	require.NoError(t, rsv.ReleaseAppliedTx(ctx, repos.DB(), record))

	_, err = rsv.ReserveEmail(ctx, "bob@example.com", 6)
	require.NoError(t, err, "applied email reservation is released")
	_, err = rsv.ReserveUsername(ctx, "bobby", 6)
	assert.True(t, auth.IsAlreadyInUse(err), "unrelated reservation is kept")

	require.NoError(t, rsv.ReleaseForUserTx(ctx, repos.DB(), 5))
	held, err := rsv.HasUser(ctx, 5)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestUsersRepository(t *testing.T) {
	ctx := context.Background()
	repos := auth.NewRepositoryManager(newDB(t))
	users := repos.Users()

	_, ok, err := users.LastSequence(ctx, 9)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now().UTC().Truncate(time.Second)
	record := &auth.User{
		ID:                  9,
		Username:            "carol",
		Email:               "carol@example.com",
		Role:                auth.RoleUser,
		Membership:          auth.MembershipMember,
		LastAppliedSequence: 12,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, users.UpsertTx(ctx, repos.DB(), record))

	seq, ok, err := users.LastSequence(ctx, 9)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(12), seq)

	for _, identifier := range []string{"9", "carol", "Carol@Example.com"} {
		found, err := users.GetByIdentifier(ctx, identifier)
		require.NoError(t, err, identifier)
		assert.Equal(t, int64(9), found.ID)
	}

	_, err = users.GetByIdentifier(ctx, "dave")
	assert.True(t, auth.IsNotFound(err))
	_, err = users.GetByID(ctx, 404)
	assert.True(t, auth.IsNotFound(err))

	missing, err := users.FindByUsername(ctx, "dave")
	require.NoError(t, err)
	assert.Nil(t, missing)

	record.Name = "Carol"
	record.LastAppliedSequence = 13
	require.NoError(t, users.UpsertTx(ctx, repos.DB(), record))
	found, err := users.GetByID(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "Carol", found.Name)
	assert.Equal(t, uint64(13), found.LastAppliedSequence)

	require.NoError(t, users.DeleteTx(ctx, repos.DB(), 9))
	list, err := users.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestServicesRepository(t *testing.T) {
	ctx := context.Background()
	services := auth.NewServicesRepository(newDB(t))

	created, err := services.Create(ctx, &auth.Service{
		Identifier:    "calendar",
		DisplayName:   "Calendar",
		RedirectURL:   "https://calendar.example/callback",
		Permissions:   auth.MaskForClaims("sub"),
		PrivacyPolicy: "we keep it safe",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	_, err = services.Create(ctx, &auth.Service{Identifier: "calendar", RedirectURL: "https://x.example"})
	assert.True(t, auth.IsAlreadyInUse(err))

	generated, err := services.Create(ctx, &auth.Service{DisplayName: "Anon", RedirectURL: "https://anon.example"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.Identifier)

	byID, err := services.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "calendar", byID.Identifier)

	updated, err := services.UpdatePermissions(ctx, "calendar", auth.MaskForClaims("sub", "email"))
	require.NoError(t, err)
	assert.True(t, updated.Permissions.Allows("email"))

	loaded, err := services.GetByIdentifier(ctx, "calendar")
	require.NoError(t, err)
	assert.Equal(t, auth.MaskForClaims("sub", "email"), loaded.Permissions)

	policy, err := services.PolicyFor(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, "we keep it safe", policy)

	_, err = services.UpdatePermissions(ctx, "missing", 0)
	assert.True(t, auth.IsNotFound(err))

	list, err := services.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestConsentsRepository(t *testing.T) {
	ctx := context.Background()
	consents := auth.NewConsentsRepository(newDB(t))

	status, err := consents.Get(ctx, 1, "calendar")
	require.NoError(t, err)
	assert.Equal(t, auth.ConsentUnknown, status)

	require.NoError(t, consents.Record(ctx, 1, "calendar", auth.ConsentDeclined))
	require.NoError(t, consents.Record(ctx, 1, "calendar", auth.ConsentAccepted))
	require.NoError(t, consents.Record(ctx, 1, "wiki", auth.ConsentDeclined))

	status, err = consents.Get(ctx, 1, "calendar")
	require.NoError(t, err)
	assert.Equal(t, auth.ConsentAccepted, status)

	require.NoError(t, consents.DeleteForUser(ctx, 1))
	status, err = consents.Get(ctx, 1, "wiki")
	require.NoError(t, err)
	assert.Equal(t, auth.ConsentUnknown, status)
}
