package auth

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
)

// TokenCookieName is the cookie carrying the service token.
const TokenCookieName = "token"

// DefaultCookieDuration is used when CookieConfig.Duration is zero.
const DefaultCookieDuration = 24 * time.Hour

// CookieConfig controls how the service token cookie is written.
type CookieConfig struct {
	Name     string
	Domain   string
	Secure   bool
	Duration time.Duration
}

// CookieName returns the configured name or TokenCookieName.
func (c CookieConfig) CookieName() string {
	if c.Name == "" {
		return TokenCookieName
	}
	return c.Name
}

func (c CookieConfig) duration() time.Duration {
	if c.Duration <= 0 {
		return DefaultCookieDuration
	}
	return c.Duration
}

// SetTokenCookie stores token in an HTTP only cookie.
func SetTokenCookie(ctx *fiber.Ctx, cfg CookieConfig, token string) {
	ctx.Cookie(&fiber.Cookie{
		Name:     cfg.CookieName(),
		Value:    token,
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  time.Now().Add(cfg.duration()),
		HTTPOnly: true,
		Secure:   cfg.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// ClearTokenCookie expires the token cookie.
func ClearTokenCookie(ctx *fiber.Ctx, cfg CookieConfig) {
	ctx.Cookie(&fiber.Cookie{
		Name:     cfg.CookieName(),
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   cfg.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// ToRichError maps any error to a go-errors value with an HTTP code. The
// result is always a copy so sentinels are never mutated.
func ToRichError(err error) *errors.Error {
	mappers := append([]errors.ErrorMapper{mapFiberError}, errors.DefaultErrorMappers()...)
	richErr := errors.MapToError(err, mappers).Clone()
	if richErr.Code == 0 {
		richErr.Code = errors.CodeInternal
	}
	return richErr
}

func mapFiberError(err error) *errors.Error {
	var fe *fiber.Error
	if !errors.As(err, &fe) {
		return nil
	}
	return errors.New(fe.Message, errors.HTTPStatusToCategory(fe.Code)).
		WithCode(fe.Code).
		WithTextCode(errors.HTTPStatusToTextCode(fe.Code))
}

// ErrorHandler is the fiber error handler shared by every controller. It
// renders errors.ErrorResponse bodies.
func ErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = NormalizeLogger(logger)
	return func(c *fiber.Ctx, err error) error {
		richErr := ToRichError(err)

		if richErr.Code >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"error", err,
			)
			// internal details stay in the log
			if richErr.Category == errors.CategoryInternal {
				richErr.Message = "An unexpected error occurred"
				richErr.Metadata = nil
			}
		} else {
			logger.Debug("request rejected",
				"path", c.Path(),
				"text_code", richErr.TextCode,
				"error", richErr.Message,
			)
		}

		return c.Status(richErr.Code).JSON(richErr.ToErrorResponse(false, nil))
	}
}
