package oauth

import (
	"encoding/base64"
	"net/url"
	"strings"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/middleware/bearer"
	"github.com/gofiber/fiber/v2"
)

// HeaderServiceIdentifier selects the service a multi service token is
// being used for.
const HeaderServiceIdentifier = "X-Service-Identifier"

// Controller exposes a Provider over HTTP.
type Controller struct {
	provider *Provider
	cookie   auth.CookieConfig
	logger   auth.Logger
}

func NewController(provider *Provider, cookie auth.CookieConfig, logger auth.Logger) *Controller {
	return &Controller{
		provider: provider,
		cookie:   cookie,
		logger:   auth.NormalizeLogger(logger),
	}
}

// Register mounts the provider routes and the discovery document.
func (h *Controller) Register(r fiber.Router) {
	g := r.Group(h.provider.BasePath())
	g.Get("/authorize", h.authorize)
	g.Get("/flow/:id/:step", h.describe)
	g.Post("/flow/:id/login", h.login)
	g.Post("/flow/:id/privacy", h.privacy)
	g.Post("/flow/:id/gdpr", h.confirm)
	g.Post("/token", h.token)
	g.Get("/userinfo", h.userinfo)
	g.Get("/jwks.json", h.jwks)

	r.Get("/.well-known/openid-configuration", h.discovery)
}

func (h *Controller) authorize(c *fiber.Ctx) error {
	var req AuthorizeRequest
	if err := c.QueryParser(&req); err != nil {
		return h.fail(c, wrapError(ErrorInvalidRequest, "malformed authorization request", err))
	}

	res, err := h.provider.Authorize(c.UserContext(), req, h.bearerToken(c))
	if err != nil {
		return h.fail(c, err)
	}
	return h.follow(c, res, fiber.StatusFound)
}

func (h *Controller) describe(c *fiber.Ctx) error {
	step, ok := ParseStep(c.Params("step"))
	if !ok {
		return fiber.ErrNotFound
	}

	view, err := h.provider.Describe(c.UserContext(), c.Params("id"), step)
	if err != nil {
		return h.fail(c, err)
	}
	if view.Step != step {
		return c.Redirect(h.provider.StepPath(view.FlowID, view.Step), fiber.StatusFound)
	}
	return c.JSON(view)
}

type loginForm struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

func (h *Controller) login(c *fiber.Ctx) error {
	var form loginForm
	if err := c.BodyParser(&form); err != nil {
		return auth.WrapError(auth.ErrMalformedRequest, err, "")
	}

	res, err := h.provider.Login(c.UserContext(), c.Params("id"), form.Username, form.Password)
	if err != nil {
		return h.fail(c, err)
	}
	return h.follow(c, res, fiber.StatusSeeOther)
}

type privacyForm struct {
	Accept bool `form:"accept" json:"accept"`
}

func (h *Controller) privacy(c *fiber.Ctx) error {
	var form privacyForm
	if err := c.BodyParser(&form); err != nil {
		return auth.WrapError(auth.ErrMalformedRequest, err, "")
	}

	res, err := h.provider.Privacy(c.UserContext(), c.Params("id"), form.Accept)
	if err != nil {
		return h.fail(c, err)
	}
	return h.follow(c, res, fiber.StatusSeeOther)
}

type confirmForm struct {
	Confirm bool `form:"confirm" json:"confirm"`
}

func (h *Controller) confirm(c *fiber.Ctx) error {
	var form confirmForm
	if err := c.BodyParser(&form); err != nil {
		return auth.WrapError(auth.ErrMalformedRequest, err, "")
	}

	res, err := h.provider.Confirm(c.UserContext(), c.Params("id"), form.Confirm, h.bearerToken(c))
	if err != nil {
		return h.fail(c, err)
	}
	return h.follow(c, res, fiber.StatusSeeOther)
}

func (h *Controller) token(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set(fiber.HeaderPragma, "no-cache")

	var req TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, wrapError(ErrorInvalidRequest, "malformed token request", err))
	}
	if id, secret, ok := basicAuth(c.Get(fiber.HeaderAuthorization)); ok {
		req.ClientID, req.ClientSecret = id, secret
	}

	res, err := h.provider.Exchange(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

func (h *Controller) userinfo(c *fiber.Ctx) error {
	raw := bearer.Extract(c, bearer.Extractors("header:"+fiber.HeaderAuthorization, "Bearer"))
	if raw == "" {
		return h.fail(c, newError(ErrorInvalidToken, "an access token is required"))
	}

	claims, err := h.provider.UserInfo(c.UserContext(), raw, c.Get(HeaderServiceIdentifier))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(claims)
}

func (h *Controller) jwks(c *fiber.Ctx) error {
	set, err := h.provider.JWKS(c.UserContext())
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderCacheControl, "public, max-age=300")
	return c.JSON(set)
}

func (h *Controller) discovery(c *fiber.Ctx) error {
	return c.JSON(h.provider.Discovery())
}

func (h *Controller) bearerToken(c *fiber.Ctx) string {
	return bearer.FromRequest(c, h.cookie.CookieName())
}

func (h *Controller) follow(c *fiber.Ctx, res *Result, status int) error {
	if res.Token != "" {
		auth.SetTokenCookie(c, h.cookie, res.Token)
	}
	return c.Redirect(res.Redirect, status)
}

// fail renders OAuth errors. Anything else goes to the app error handler.
func (h *Controller) fail(c *fiber.Ctx, err error) error {
	oerr, ok := AsError(err)
	if !ok {
		return err
	}
	if oerr.Redirectable() {
		status := fiber.StatusSeeOther
		if c.Method() == fiber.MethodGet {
			status = fiber.StatusFound
		}
		return c.Redirect(oerr.Location(), status)
	}

	switch oerr.Code {
	case ErrorInvalidClient:
		c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="oauth"`)
	case ErrorInvalidToken, ErrorInsufficientScope:
		c.Set(fiber.HeaderWWWAuthenticate, `Bearer error="`+oerr.Code+`"`)
	}
	return c.Status(oerr.Status).JSON(oerr)
}

// basicAuth decodes client credentials sent with HTTP Basic. Both parts
// are form encoded before base64.
func basicAuth(header string) (string, string, bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	id, secret, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}
	if v, err := url.QueryUnescape(id); err == nil {
		id = v
	}
	if v, err := url.QueryUnescape(secret); err == nil {
		secret = v
	}
	return id, secret, true
}
