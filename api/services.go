package api

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"

	auth "github.com/TKOaly/user-service-sub000"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/gofiber/fiber/v2"
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]*$`)

var supportedClaim = validation.By(func(value any) error {
	claim, _ := value.(string)
	for _, c := range auth.SupportedClaims() {
		if c == claim {
			return nil
		}
	}
	return validation.NewError("validation_unknown_claim", "unknown claim")
})

type createServiceRequest struct {
	Identifier    string   `json:"identifier"`
	DisplayName   string   `json:"display_name"`
	RedirectURL   string   `json:"redirect_url"`
	PrivacyPolicy string   `json:"privacy_policy"`
	Claims        []string `json:"claims"`
	// Public clients get no secret and can only use the implicit flow.
	Public bool `json:"public"`
}

func (r *createServiceRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Identifier, validation.Required, validation.Length(2, 64), validation.Match(identifierPattern)),
		validation.Field(&r.DisplayName, validation.Required),
		validation.Field(&r.RedirectURL, validation.Required, is.RequestURL),
		validation.Field(&r.Claims, validation.Each(supportedClaim)),
	)
}

type serviceResponse struct {
	*auth.Service
	Claims []string `json:"claims"`
	// Secret is only returned when the service is created.
	Secret string `json:"secret,omitempty"`
}

func newServiceResponse(s *auth.Service) serviceResponse {
	return serviceResponse{Service: s, Claims: s.Permissions.Claims()}
}

func (h *Controller) createService(c *fiber.Ctx) error {
	var req createServiceRequest
	if err := c.BodyParser(&req); err != nil {
		return bodyError(err)
	}
	if err := req.Validate(); err != nil {
		return auth.NewValidationError(err, "invalid service")
	}

	record := &auth.Service{
		Identifier:    req.Identifier,
		DisplayName:   req.DisplayName,
		RedirectURL:   req.RedirectURL,
		PrivacyPolicy: req.PrivacyPolicy,
		Permissions:   auth.MaskForClaims(req.Claims...),
	}
	var secret string
	if !req.Public {
		var err error
		if secret, err = newClientSecret(); err != nil {
			return err
		}
		record.Secret = &secret
	}

	created, err := h.cfg.Services.Create(c.UserContext(), record)
	if err != nil {
		return err
	}
	h.logger.Info("service registered", "identifier", created.Identifier, "public", req.Public)

	res := newServiceResponse(created)
	res.Secret = secret
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *Controller) listServices(c *fiber.Ctx) error {
	records, err := h.cfg.Services.List(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]serviceResponse, 0, len(records))
	for _, s := range records {
		out = append(out, newServiceResponse(s))
	}
	return c.JSON(out)
}

type permissionsRequest struct {
	Claims []string `json:"claims"`
}

type permissionsQuery struct {
	DryRun bool `query:"dry_run"`
}

type permissionsResponse struct {
	Diff      auth.ClaimsDiff `json:"diff"`
	Claims    []string        `json:"claims"`
	Committed bool            `json:"committed"`
}

// updatePermissions replaces the claims a service may read. With dry_run
// only the difference is reported.
func (h *Controller) updatePermissions(c *fiber.Ctx) error {
	var query permissionsQuery
	if err := c.QueryParser(&query); err != nil {
		return bodyError(err)
	}
	var req permissionsRequest
	if err := c.BodyParser(&req); err != nil {
		return bodyError(err)
	}
	err := validation.ValidateStruct(&req,
		validation.Field(&req.Claims, validation.Each(supportedClaim)),
	)
	if err != nil {
		return auth.NewValidationError(err, "invalid permissions")
	}

	ctx := c.UserContext()
	service, err := h.cfg.Services.GetByIdentifier(ctx, c.Params("identifier"))
	if err != nil {
		return err
	}

	mask := auth.MaskForClaims(req.Claims...)
	res := permissionsResponse{
		Diff:   auth.DiffClaimMasks(service.Permissions, mask),
		Claims: mask.Claims(),
	}
	if query.DryRun || res.Diff.IsEmpty() {
		return c.JSON(res)
	}

	if _, err := h.cfg.Services.UpdatePermissions(ctx, service.Identifier, mask); err != nil {
		return err
	}
	h.logger.Info("service permissions updated",
		"identifier", service.Identifier,
		"added", res.Diff.Added,
		"removed", res.Diff.Removed,
	)
	res.Committed = true
	return c.JSON(res)
}

func newClientSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
