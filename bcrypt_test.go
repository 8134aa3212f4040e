package auth_test

import (
	"testing"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "Valid password",
			password: "securePassword123!",
		},
		{
			name:     "Empty password",
			password: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := auth.HashPassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, auth.HasTextCode(err, auth.TextCodeEmptyPassword))
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NoError(t, auth.ComparePasswordAndHash(tt.password, hash))
		})
	}
}

func TestComparePasswordAndHash(t *testing.T) {
	password := "testPassword123!"
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		hash     string
		wantErr  bool
	}{
		{"Matching password", password, hash, false},
		{"Wrong password", "wrongPassword", hash, true},
		{"Invalid hash", password, "invalidhash", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ComparePasswordAndHash(tt.password, tt.hash)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			if tt.hash == hash {
				assert.True(t, auth.IsInvalidCredentials(err))
			}
		})
	}
}

func TestLegacyPassword(t *testing.T) {
	// sha1("salt" + "password")
	const known = "59b3e8d637cf97edbe2384cf59cb7453dfe30789"
	assert.Equal(t, known, auth.HashLegacyPassword("password", "salt"))

	assert.NoError(t, auth.CompareLegacyPassword("password", "salt", known))
	assert.True(t, auth.IsInvalidCredentials(auth.CompareLegacyPassword("Password", "salt", known)))
	assert.True(t, auth.IsInvalidCredentials(auth.CompareLegacyPassword("password", "pepper", known)))
	assert.True(t, auth.IsInvalidCredentials(auth.CompareLegacyPassword("password", "salt", "")))
}

func TestHashCredential(t *testing.T) {
	hashes, err := auth.HashCredential("hunter22")
	require.NoError(t, err)

	assert.Len(t, hashes.Salt, 32)
	assert.NoError(t, auth.CompareLegacyPassword("hunter22", hashes.Salt, hashes.LegacyHash))
	assert.NoError(t, auth.ComparePasswordAndHash("hunter22", hashes.PasswordHash))

	other, err := auth.HashCredential("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, hashes.Salt, other.Salt)

	patch := hashes.Patch()
	require.NotNil(t, patch.PasswordHash)
	assert.Equal(t, hashes.PasswordHash, *patch.PasswordHash)

	_, err = auth.HashCredential("")
	assert.Error(t, err)
}
