package oauth

import (
	"net/http"
	"net/url"
	"strings"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/goliatone/go-errors"
)

// Error codes defined by RFC 6749 and OpenID Connect Core.
const (
	ErrorInvalidRequest          = "invalid_request"
	ErrorInvalidClient           = "invalid_client"
	ErrorInvalidGrant            = "invalid_grant"
	ErrorUnauthorizedClient      = "unauthorized_client"
	ErrorUnsupportedGrantType    = "unsupported_grant_type"
	ErrorUnsupportedResponseType = "unsupported_response_type"
	ErrorInvalidScope            = "invalid_scope"
	ErrorAccessDenied            = "access_denied"
	ErrorServerError             = "server_error"
	ErrorInvalidToken            = "invalid_token"
	ErrorInsufficientScope       = "insufficient_scope"
)

// Error is an OAuth protocol error. When RedirectURI is set the error is
// reported to the client through a redirect, otherwise as a JSON body.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	State       string `json:"state,omitempty"`
	Status      int    `json:"-"`

	RedirectURI string `json:"-"`
	Fragment    bool   `json:"-"`

	cause error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Redirectable reports whether the error goes back to the client.
func (e *Error) Redirectable() bool {
	return e.RedirectURI != ""
}

// Location builds the redirect target carrying error, error_description and
// state.
func (e *Error) Location() string {
	params := url.Values{}
	params.Set("error", e.Code)
	if e.Description != "" {
		params.Set("error_description", e.Description)
	}
	if e.State != "" {
		params.Set("state", e.State)
	}
	return appendParams(e.RedirectURI, params, e.Fragment)
}

func newError(code, description string) *Error {
	status := http.StatusBadRequest
	switch code {
	case ErrorInvalidClient, ErrorInvalidToken:
		status = http.StatusUnauthorized
	case ErrorAccessDenied, ErrorInsufficientScope:
		status = http.StatusForbidden
	case ErrorServerError:
		status = http.StatusInternalServerError
	}
	return &Error{Code: code, Description: description, Status: status}
}

func wrapError(code, description string, cause error) *Error {
	e := newError(code, description)
	e.cause = cause
	return e
}

// redirectTo marks e to be reported to redirectURI.
func (e *Error) redirectTo(redirectURI, state string, fragment bool) *Error {
	e.RedirectURI = redirectURI
	e.State = state
	e.Fragment = fragment
	return e
}

// AsError finds an *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr, true
	}
	return nil, false
}

// serverError converts unexpected failures. Broker and lag failures keep
// their temporary nature in the description.
func serverError(err error) *Error {
	desc := "the authorization server encountered an unexpected condition"
	if auth.IsBrokerUnavailable(err) || auth.IsProjectionLag(err) {
		desc = "the authorization server is temporarily unavailable"
	}
	return wrapError(ErrorServerError, desc, err)
}

func appendParams(target string, params url.Values, fragment bool) string {
	encoded := params.Encode()
	if fragment {
		if i := strings.IndexByte(target, '#'); i >= 0 {
			target = target[:i]
		}
		return target + "#" + encoded
	}
	if strings.Contains(target, "?") {
		return target + "&" + encoded
	}
	return target + "?" + encoded
}
