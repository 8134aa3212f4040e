package api

import (
	"strings"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/middleware/bearer"
	"github.com/TKOaly/user-service-sub000/oauth"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
)

type authenticateRequest struct {
	Username          string `json:"username" form:"username"`
	Password          string `json:"password" form:"password"`
	ServiceIdentifier string `json:"serviceIdentifier" form:"serviceIdentifier"`
}

func (r *authenticateRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.ServiceIdentifier, validation.Required),
	)
}

type tokenResponse struct {
	Token string `json:"token"`
}

// authenticate logs a user in to one service. A bearer already held by the
// same user is extended with the service instead of replaced.
func (h *Controller) authenticate(c *fiber.Ctx) error {
	var req authenticateRequest
	if err := c.BodyParser(&req); err != nil {
		return bodyError(err)
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := req.Validate(); err != nil {
		return auth.NewValidationError(err, "invalid authentication request")
	}

	ctx := c.UserContext()
	service, err := h.cfg.Services.GetByIdentifier(ctx, req.ServiceIdentifier)
	if err != nil {
		if auth.IsNotFound(err) {
			return auth.NewError(auth.ErrMalformedRequest, "unknown service")
		}
		return err
	}

	user, err := h.cfg.Credentials.Verify(ctx, req.Username, req.Password)
	if err != nil {
		if auth.HasTextCode(err, auth.TextCodeTooManyAttempts) {
			h.metrics.Login("throttled")
		} else {
			h.metrics.Login("failure")
		}
		return err
	}
	h.metrics.Login("success")

	token, err := h.issue(c, user.ID, service.Identifier)
	if err != nil {
		return err
	}
	auth.SetTokenCookie(c, h.cfg.Cookie, token)
	h.record(ctx, auth.ActivityEventServiceTokenIssue, user.ID, service.Identifier)
	return c.JSON(tokenResponse{Token: token})
}

func (h *Controller) issue(c *fiber.Ctx, userID int64, serviceID string) (string, error) {
	raw := bearer.FromRequest(c, h.cfg.Cookie.CookieName())
	if raw != "" {
		existing, err := h.cfg.Tokens.Verify(raw)
		if err == nil && existing.PrincipalID == userID {
			return h.cfg.Tokens.Append(raw, serviceID)
		}
	}
	return h.cfg.Tokens.Create(userID, []string{serviceID})
}

type logoutRequest struct {
	ServiceIdentifier string `json:"serviceIdentifier" form:"serviceIdentifier"`
}

type logoutResponse struct {
	Token   string `json:"token,omitempty"`
	Revoked bool   `json:"revoked"`
}

// logout drops one service from the caller's token. Removing the last one
// revokes the token and clears the cookie.
func (h *Controller) logout(c *fiber.Ctx) error {
	var req logoutRequest
	if err := c.BodyParser(&req); err != nil {
		return bodyError(err)
	}
	err := validation.ValidateStruct(&req,
		validation.Field(&req.ServiceIdentifier, validation.Required),
	)
	if err != nil {
		return auth.NewValidationError(err, "invalid logout request")
	}

	current := bearer.Token(c)
	token, revoked, err := h.cfg.Tokens.Remove(bearer.RawToken(c), req.ServiceIdentifier)
	if err != nil {
		return err
	}

	if revoked {
		auth.ClearTokenCookie(c, h.cfg.Cookie)
	} else {
		auth.SetTokenCookie(c, h.cfg.Cookie, token)
	}
	h.record(c.UserContext(), auth.ActivityEventServiceLogout, current.PrincipalID, req.ServiceIdentifier)
	return c.JSON(logoutResponse{Token: token, Revoked: revoked})
}

// me returns the claims the requesting service may read about the caller.
func (h *Controller) me(c *fiber.Ctx) error {
	token := bearer.Token(c)

	serviceID := c.Get(oauth.HeaderServiceIdentifier)
	if serviceID == "" {
		if len(token.ServiceIDs) != 1 {
			return auth.NewError(auth.ErrMalformedRequest, oauth.HeaderServiceIdentifier+" header is required")
		}
		serviceID = token.ServiceIDs[0]
	}
	if !token.AuthenticatedTo(serviceID) {
		return auth.NewError(auth.ErrForbidden, "token is not authenticated to "+serviceID)
	}

	ctx := c.UserContext()
	service, err := h.cfg.Services.GetByIdentifier(ctx, serviceID)
	if err != nil {
		return err
	}
	user, err := h.principal(c)
	if err != nil {
		return err
	}
	return c.JSON(auth.UserClaims(user, service.Permissions.Claims()))
}
