package bearer

import (
	"strings"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultContextKey  = "service_token"
	defaultTokenLookup = "header:" + fiber.HeaderAuthorization + ",cookie:" + auth.TokenCookieName
)

// Verifier decodes service tokens. *auth.ServiceTokenCodec satisfies it.
type Verifier interface {
	Verify(token string) (*auth.ServiceToken, error)
}

type Config struct {
	// Filter skips the middleware when it returns true.
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	ErrorHandler   fiber.ErrorHandler
	Verifier       Verifier
	// ContextKey is the locals key the decoded token is stored under.
	ContextKey string
	// TokenLookup is a comma separated list of source:name pairs, checked in
	// order. Sources are header, query and cookie.
	TokenLookup string
	AuthScheme  string
	// Optional lets requests without a token through. Invalid tokens are
	// still rejected.
	Optional bool
}

// New returns a middleware that requires a valid service token.
func New(config ...Config) fiber.Handler {
	cfg := defaultConfig(config...)
	extractors := Extractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw := Extract(c, extractors)
		if raw == "" {
			if cfg.Optional {
				return c.Next()
			}
			return cfg.ErrorHandler(c, auth.NewError(auth.ErrUnauthorized, "missing bearer token"))
		}

		token, err := cfg.Verifier.Verify(raw)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, token)
		c.Locals(cfg.ContextKey+".raw", raw)
		return cfg.SuccessHandler(c)
	}
}

// Token returns the token stored by the middleware, nil when the request
// was not authenticated.
func Token(c *fiber.Ctx, contextKey ...string) *auth.ServiceToken {
	key := defaultContextKey
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}
	token, _ := c.Locals(key).(*auth.ServiceToken)
	return token
}

// RawToken returns the encoded token the middleware accepted.
func RawToken(c *fiber.Ctx, contextKey ...string) string {
	key := defaultContextKey
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}
	raw, _ := c.Locals(key + ".raw").(string)
	return raw
}

// FromRequest reads a bearer token from the Authorization header or the
// named cookie without verifying it.
func FromRequest(c *fiber.Ctx, cookieName string) string {
	if cookieName == "" {
		cookieName = auth.TokenCookieName
	}
	return Extract(c, Extractors("header:"+fiber.HeaderAuthorization+",cookie:"+cookieName, "Bearer"))
}

func defaultConfig(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Verifier == nil {
		panic("bearer middleware: Verifier is required")
	}
	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
			return err
		}
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = defaultContextKey
	}
	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}
	return cfg
}

// Extractor pulls a raw token out of a request. It returns "" when the
// source holds none.
type Extractor func(c *fiber.Ctx) string

// Extract returns the first token any extractor finds.
func Extract(c *fiber.Ctx, extractors []Extractor) string {
	for _, extractor := range extractors {
		if raw := extractor(c); raw != "" {
			return raw
		}
	}
	return ""
}

// Extractors parses a lookup such as "header:Authorization,cookie:token".
func Extractors(tokenLookup, authScheme string) []Extractor {
	extractors := make([]Extractor, 0)
	for _, part := range strings.Split(tokenLookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		switch strings.TrimSpace(source) {
		case "header":
			extractors = append(extractors, fromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, fromQuery(name))
		case "cookie":
			extractors = append(extractors, fromCookie(name))
		}
	}
	return extractors
}

func fromHeader(header, authScheme string) Extractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c *fiber.Ctx) string {
		value := c.Get(header)
		l := len(authScheme)
		if l == 0 {
			return strings.TrimSpace(value)
		}
		if len(value) > l+1 && strings.EqualFold(value[:l], authScheme) && value[l] == ' ' {
			return strings.TrimSpace(value[l:])
		}
		return ""
	}
}

func fromQuery(param string) Extractor {
	return func(c *fiber.Ctx) string {
		return c.Query(param)
	}
}

func fromCookie(name string) Extractor {
	return func(c *fiber.Ctx) string {
		return c.Cookies(name)
	}
}
