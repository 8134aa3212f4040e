package auth_test

import (
	"errors"
	"fmt"
	"testing"

	auth "github.com/TKOaly/user-service-sub000"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTokenExpiredError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"structured", auth.ErrTokenExpired, true},
		{"legacy string match", errors.New("some wrapper: token is expired"), true},
		{"different structured error", auth.ErrNotFound, false},
		{"different legacy error", errors.New("invalid token"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.IsTokenExpiredError(tt.err))
		})
	}
}

func TestNewErrorDoesNotMutateSentinel(t *testing.T) {
	err := auth.NewError(auth.ErrNotFound, "user 7 not found", map[string]any{"id": 7})

	assert.Equal(t, "user 7 not found", err.Message)
	assert.Equal(t, 7, err.Metadata["id"])
	assert.Equal(t, "record not found", auth.ErrNotFound.Message)
	assert.Empty(t, auth.ErrNotFound.Metadata)
	assert.True(t, auth.IsNotFound(err))
}

func TestHasTextCodeFollowsSources(t *testing.T) {
	inner := auth.NewError(auth.ErrAlreadyInUse, "username taken")
	outer := auth.WrapError(auth.ErrMalformedRequest, inner, "registration failed")
	wrapped := fmt.Errorf("handler: %w", outer)

	assert.True(t, auth.HasTextCode(wrapped, auth.TextCodeMalformedRequest))
	assert.True(t, auth.IsAlreadyInUse(wrapped))
	assert.False(t, auth.IsConflict(wrapped))
	assert.False(t, auth.HasTextCode(errors.New("plain"), auth.TextCodeNotFound))
	assert.False(t, auth.HasTextCode(nil, auth.TextCodeNotFound))
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, auth.IsInvalidCredentials(auth.ErrMismatchedHashAndPassword))
	assert.True(t, auth.IsInvalidCredentials(auth.ErrTooManyLoginAttempts))
	assert.True(t, auth.IsSignatureError(auth.NewError(auth.ErrSignature, "bad")))
	assert.True(t, auth.IsProjectionLag(auth.ErrProjectionLag))
	assert.True(t, auth.IsBrokerUnavailable(auth.WrapError(auth.ErrBrokerUnavailable, errors.New("dial"), "")))
	assert.True(t, auth.IsConflict(auth.ErrConflict))
	assert.False(t, auth.IsNotFound(auth.ErrForbidden))
}

func TestNewValidationError(t *testing.T) {
	req := struct{ Username string }{}
	verr := validation.ValidateStruct(&req, validation.Field(&req.Username, validation.Required))
	require.Error(t, verr)

	err := auth.NewValidationError(verr, "invalid registration")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeMalformedRequest))

	var rich *goerrors.Error
	require.True(t, errors.As(err, &rich))
	assert.Equal(t, goerrors.CodeBadRequest, rich.Code)
	assert.NotEmpty(t, rich.ValidationErrors)

	assert.NoError(t, auth.NewValidationError(nil, "nothing"))
}
