package oauth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/kvstore"
	"github.com/TKOaly/user-service-sub000/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepTransitions(t *testing.T) {
	tests := []struct {
		from, to oauth.Step
		allowed  bool
	}{
		{oauth.StepLogin, oauth.StepPrivacy, true},
		{oauth.StepLogin, oauth.StepGDPR, true},
		{oauth.StepLogin, oauth.StepGranted, false},
		{oauth.StepPrivacy, oauth.StepGDPR, true},
		{oauth.StepPrivacy, oauth.StepDenied, true},
		{oauth.StepPrivacy, oauth.StepLogin, false},
		{oauth.StepGDPR, oauth.StepGranted, true},
		{oauth.StepGDPR, oauth.StepDenied, true},
		{oauth.StepGranted, oauth.StepLogin, false},
		{oauth.StepDenied, oauth.StepGDPR, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))

			flow := &oauth.Flow{Step: tt.from}
			err := flow.Advance(tt.to)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.to, flow.Step)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.from, flow.Step)
			}
		})
	}
}

func TestParseStep(t *testing.T) {
	step, ok := oauth.ParseStep("privacy")
	assert.True(t, ok)
	assert.Equal(t, oauth.StepPrivacy, step)

	_, ok = oauth.ParseStep("granted")
	assert.False(t, ok, "terminal steps are not addressable")
}

func TestFlowStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	defer kv.Close()
	store := oauth.NewFlowStore(kv, time.Minute)

	flow := &oauth.Flow{ServiceIdentifier: svcID, Scopes: []string{"openid"}, ResponseType: oauth.ResponseTypeCode}
	require.NoError(t, store.Create(ctx, flow))
	assert.Len(t, flow.ID, 64)
	assert.Equal(t, oauth.StepLogin, flow.Step)

	other := &oauth.Flow{ServiceIdentifier: svcID}
	require.NoError(t, store.Create(ctx, other))
	assert.NotEqual(t, flow.ID, other.ID)

	require.NoError(t, flow.Advance(oauth.StepPrivacy))
	require.NoError(t, store.Save(ctx, flow))

	got, err := store.Get(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, oauth.StepPrivacy, got.Step)
	assert.Equal(t, []string{"openid"}, got.Scopes)

	taken, err := store.Take(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, oauth.StepPrivacy, taken.Step)

	_, err = store.Take(ctx, flow.ID)
	assert.True(t, auth.IsNotFound(err))
	_, err = store.Get(ctx, flow.ID)
	assert.True(t, auth.IsNotFound(err))
}

func TestFlowExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }

	kv := kvstore.NewMemoryStore(kvstore.WithClock(clock))
	defer kv.Close()
	store := oauth.NewFlowStore(kv, time.Minute)

	flow := &oauth.Flow{ServiceIdentifier: svcID}
	require.NoError(t, store.Create(ctx, flow))

	now = now.Add(2 * time.Minute)
	_, err := store.Get(ctx, flow.ID)
	assert.True(t, auth.IsNotFound(err))
}

func TestCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	defer kv.Close()
	codes := oauth.NewCodeStore(kv, 0)

	value, err := codes.Issue(ctx, &oauth.Code{UserID: aliceID, ServiceIdentifier: svcID, RedirectURL: svcRedirect})
	require.NoError(t, err)

	code, err := codes.Redeem(ctx, value)
	require.NoError(t, err)
	assert.Equal(t, aliceID, code.UserID)
	assert.Equal(t, value, code.Code)

	for i := 0; i < 2; i++ {
		_, err = codes.Redeem(ctx, value)
		assert.True(t, auth.IsNotFound(err))
	}
}
