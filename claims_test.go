package auth_test

import (
	"strconv"
	"testing"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/stretchr/testify/assert"
)

func TestClaimMask(t *testing.T) {
	mask := auth.MaskForClaims("sub", "email", "username")

	assert.True(t, mask.Allows("sub"))
	assert.True(t, mask.Allows("email"))
	assert.True(t, mask.Allows("preferred_username"), "claims in one group travel together")
	assert.False(t, mask.Allows("name"))
	assert.Equal(t, []string{"sub", "preferred_username", "username", "email"}, mask.Claims())
	assert.Equal(t, "10011", mask.String())

	assert.Zero(t, auth.MaskForClaims("unknown"))
	assert.Empty(t, auth.ClaimMask(0).Claims())
}

func TestClaimGroupsAreUniqueBits(t *testing.T) {
	seen := map[uint]bool{}
	claims := map[string]bool{}
	for _, g := range auth.ClaimGroups() {
		assert.False(t, seen[g.Bit], "bit %d reused", g.Bit)
		seen[g.Bit] = true
		for _, c := range g.Claims {
			assert.False(t, claims[c], "claim %s in two groups", c)
			claims[c] = true
		}
	}
	assert.Len(t, auth.SupportedClaims(), len(claims))
}

func TestScopes(t *testing.T) {
	assert.Equal(t, []string{"openid", "email"}, auth.ParseScopes("openid  email openid"))
	assert.Empty(t, auth.ParseScopes("   "))

	assert.True(t, auth.IsSupportedScope("profile"))
	assert.False(t, auth.IsSupportedScope("admin"))
	assert.Contains(t, auth.SupportedScopes(), "openid")

	assert.Equal(t, []string{"sub", "email"}, auth.ClaimsForScopes([]string{"openid", "email", "nope"}))
}

func TestReleasedClaimsIsIntersection(t *testing.T) {
	tests := []struct {
		name   string
		mask   auth.ClaimMask
		scopes []string
		want   []string
	}{
		{"scope wider than mask", auth.MaskForClaims("sub", "email"), []string{"openid", "profile", "email"}, []string{"sub", "email"}},
		{"mask wider than scope", auth.MaskForClaims("sub", "email", "name"), []string{"openid"}, []string{"sub"}},
		{"no overlap", auth.MaskForClaims("phone_number"), []string{"email"}, nil},
		{"no scopes", auth.MaskForClaims("sub"), nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.ReleasedClaims(tt.mask, tt.scopes))
		})
	}
}

func TestDiffClaimMasks(t *testing.T) {
	diff := auth.DiffClaimMasks(auth.MaskForClaims("sub", "email"), auth.MaskForClaims("sub", "name"))
	assert.Equal(t, []string{"name"}, diff.Added)
	assert.Equal(t, []string{"email"}, diff.Removed)
	assert.False(t, diff.IsEmpty())

	same := auth.DiffClaimMasks(auth.MaskForClaims("sub"), auth.MaskForClaims("sub"))
	assert.True(t, same.IsEmpty())
	assert.NotNil(t, same.Added)
}

func TestUserClaims(t *testing.T) {
	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	u := &auth.User{
		ID:         42,
		Username:   "alice",
		Name:       "Alice",
		ScreenName: "al",
		Email:      "alice@example.com",
		Membership: auth.MembershipMember,
		TKTL:       true,
		CreatedAt:  created,
	}

	claims := auth.UserClaims(u, []string{"sub", "preferred_username", "nickname", "email", "tktl", "created_at"})
	assert.Equal(t, map[string]any{
		"sub":                strconv.Itoa(42),
		"preferred_username": "alice",
		"nickname":           "al",
		"email":              "alice@example.com",
		"tktl":               true,
		"created_at":         created.Unix(),
	}, claims)

	assert.Empty(t, auth.UserClaims(u, nil))
}
