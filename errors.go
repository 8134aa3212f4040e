package auth

import (
	"net/http"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeNotFound           = "NOT_FOUND"
	TextCodeAlreadyInUse       = "ALREADY_IN_USE"
	TextCodeSequenceConflict   = "SEQUENCE_CONFLICT"
	TextCodeInvalidCreds       = errors.TextCodeInvalidCredentials
	TextCodeTooManyAttempts    = errors.TextCodeTooManyAttempts
	TextCodeUnauthorized       = "UNAUTHORIZED"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeMalformedRequest   = "MALFORMED_REQUEST"
	TextCodeSignature          = "SIGNATURE_INVALID"
	TextCodeTokenExpired       = errors.TextCodeTokenExpired
	TextCodeBrokerUnavailable  = "BROKER_UNAVAILABLE"
	TextCodeRebuildDrift       = "PROJECTION_DRIFT"
	TextCodeProjectionLag      = "PROJECTION_LAGGING"
	TextCodeEmptyPassword      = errors.TextCodeEmptyPassword
	TextCodeServiceTokenRevoke = "SERVICE_TOKEN_REVOKED"
)

// ErrNotFound is returned when a user, service or other record does not exist.
var ErrNotFound = errors.New("record not found", errors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(errors.CodeNotFound)

// ErrAlreadyInUse is returned when a username or email reservation collides.
var ErrAlreadyInUse = errors.New("identity already in use", errors.CategoryConflict).
	WithTextCode(TextCodeAlreadyInUse).
	WithCode(errors.CodeConflict)

// ErrConflict is returned when a write precondition on the user sequence fails.
var ErrConflict = errors.New("user was modified concurrently", errors.CategoryConflict).
	WithTextCode(TextCodeSequenceConflict).
	WithCode(errors.CodeConflict)

// ErrMismatchedHashAndPassword is returned for any failed credential check.
var ErrMismatchedHashAndPassword = errors.New("the credentials provided are invalid", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(errors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned while a username is cooling down.
var ErrTooManyLoginAttempts = errors.New("too many login attempts", errors.CategoryAuth).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(errors.CodeUnauthorized)

// ErrUnauthorized is returned for missing or invalid bearer credentials.
var ErrUnauthorized = errors.New("missing or invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(errors.CodeUnauthorized)

// ErrForbidden is returned when a principal or service may not access a resource.
var ErrForbidden = errors.New("access forbidden", errors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(errors.CodeForbidden)

// ErrMalformedRequest is returned for requests that fail validation.
var ErrMalformedRequest = errors.New("malformed request", errors.CategoryBadInput).
	WithTextCode(TextCodeMalformedRequest).
	WithCode(errors.CodeBadRequest)

// ErrSignature is returned when a token fails verification.
var ErrSignature = errors.New("token signature is invalid", errors.CategoryAuth).
	WithTextCode(TextCodeSignature).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned for well formed but expired tokens.
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrBrokerUnavailable is returned when the event log cannot be reached.
var ErrBrokerUnavailable = errors.New("event log unavailable", errors.CategoryExternal).
	WithTextCode(TextCodeBrokerUnavailable).
	WithCode(http.StatusServiceUnavailable)

// ErrRebuildDrift is returned when a projection rebuild finds unexpected differences.
var ErrRebuildDrift = errors.New("projection rebuild detected drift", errors.CategoryInternal).
	WithTextCode(TextCodeRebuildDrift).
	WithCode(errors.CodeInternal)

// ErrProjectionLag is returned when an event was committed to the log but
// the projection did not reflect it within the wait budget.
var ErrProjectionLag = errors.New("change committed but not yet visible", errors.CategoryExternal).
	WithTextCode(TextCodeProjectionLag).
	WithCode(http.StatusServiceUnavailable)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = errors.New("password can not be an empty string", errors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(errors.CodeBadRequest)

// NewError returns a copy of base with a request specific message and metadata.
// Sentinels are never mutated so they can be shared between goroutines.
func NewError(base *errors.Error, message string, meta ...map[string]any) *errors.Error {
	err := base.Clone()
	if message != "" {
		err.Message = message
	}
	if len(meta) > 0 {
		err.WithMetadata(meta...)
	}
	return err
}

// WrapError attaches source as the cause of a copy of base.
func WrapError(base *errors.Error, source error, message string) *errors.Error {
	err := NewError(base, message)
	err.Source = source
	return err
}

// HasTextCode reports whether err, or anything it wraps, carries code.
func HasTextCode(err error, code string) bool {
	for err != nil {
		var richErr *errors.Error
		if !errors.As(err, &richErr) {
			return false
		}
		if richErr.TextCode == code {
			return true
		}
		err = richErr.Source
	}
	return false
}

func IsNotFound(err error) bool {
	return HasTextCode(err, TextCodeNotFound) || errors.IsNotFound(err)
}

func IsAlreadyInUse(err error) bool {
	return HasTextCode(err, TextCodeAlreadyInUse)
}

func IsConflict(err error) bool {
	return HasTextCode(err, TextCodeSequenceConflict)
}

func IsInvalidCredentials(err error) bool {
	return HasTextCode(err, TextCodeInvalidCreds) || HasTextCode(err, TextCodeTooManyAttempts)
}

func IsSignatureError(err error) bool {
	return HasTextCode(err, TextCodeSignature)
}

func IsProjectionLag(err error) bool {
	return HasTextCode(err, TextCodeProjectionLag)
}

func IsBrokerUnavailable(err error) bool {
	return HasTextCode(err, TextCodeBrokerUnavailable)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if HasTextCode(err, TextCodeTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// NewValidationError converts ozzo validation errors into a malformed
// request carrying the per field messages.
func NewValidationError(err error, message string) error {
	verr := errors.FromOzzoValidation(err, message)
	if verr == nil {
		return nil
	}
	verr.TextCode = TextCodeMalformedRequest
	verr.Code = errors.CodeBadRequest
	return verr
}
