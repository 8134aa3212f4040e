package auth

import (
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// ServiceToken is the decoded multi-service bearer credential.
type ServiceToken struct {
	PrincipalID int64
	ServiceIDs  []string
	IssuedAt    time.Time
}

// AuthenticatedTo reports whether the token carries serviceID.
func (t *ServiceToken) AuthenticatedTo(serviceID string) bool {
	return t != nil && contains(t.ServiceIDs, serviceID)
}

type serviceTokenClaims struct {
	jwt.RegisteredClaims
	Services []string `json:"svc"`
}

// ServiceTokenCodec signs and verifies service tokens with a server held
// symmetric secret.
type ServiceTokenCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	logger Logger
}

type ServiceTokenOption func(*ServiceTokenCodec)

func WithServiceTokenIssuer(issuer string) ServiceTokenOption {
	return func(c *ServiceTokenCodec) {
		c.issuer = issuer
	}
}

// WithServiceTokenTTL adds an expiry to issued tokens. Zero disables it.
func WithServiceTokenTTL(ttl time.Duration) ServiceTokenOption {
	return func(c *ServiceTokenCodec) {
		c.ttl = ttl
	}
}

func WithServiceTokenClock(now func() time.Time) ServiceTokenOption {
	return func(c *ServiceTokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

func WithServiceTokenLogger(l Logger) ServiceTokenOption {
	return func(c *ServiceTokenCodec) {
		c.logger = NormalizeLogger(l)
	}
}

// NewServiceTokenCodec creates a codec. The secret must not be empty.
func NewServiceTokenCodec(secret []byte, opts ...ServiceTokenOption) (*ServiceTokenCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("service token secret is required", errors.CategoryBadInput)
	}
	c := &ServiceTokenCodec{
		secret: secret,
		now:    time.Now,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// TTL returns the configured lifetime, zero when tokens do not expire.
func (c *ServiceTokenCodec) TTL() time.Duration {
	return c.ttl
}

// Create issues a token for principalID authenticated to serviceIDs.
func (c *ServiceTokenCodec) Create(principalID int64, serviceIDs []string) (string, error) {
	services := dedupe(serviceIDs)
	if len(services) == 0 {
		return "", NewError(ErrMalformedRequest, "service token requires at least one service")
	}

	now := c.now()
	claims := &serviceTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   c.issuer,
			Subject:  strconv.FormatInt(principalID, 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
		Services: services,
	}
	if c.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign service token")
	}
	return signed, nil
}

// Append re-signs token with serviceID added to its service set.
func (c *ServiceTokenCodec) Append(token, serviceID string) (string, error) {
	decoded, err := c.Verify(token)
	if err != nil {
		return "", err
	}
	services := decoded.ServiceIDs
	if !contains(services, serviceID) {
		services = append(services, serviceID)
	}
	return c.Create(decoded.PrincipalID, services)
}

// Remove re-signs token without serviceID. When the removed entry was the
// last one no token is returned and revoked is true.
func (c *ServiceTokenCodec) Remove(token, serviceID string) (string, bool, error) {
	decoded, err := c.Verify(token)
	if err != nil {
		return "", false, err
	}

	remaining := make([]string, 0, len(decoded.ServiceIDs))
	for _, s := range decoded.ServiceIDs {
		if s != serviceID {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		return "", true, nil
	}

	signed, err := c.Create(decoded.PrincipalID, remaining)
	return signed, false, err
}

// Verify checks the signature and returns the decoded token.
func (c *ServiceTokenCodec) Verify(token string) (*ServiceToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &serviceTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		c.logger.Debug("service token rejected", "error", err)
		return nil, WrapError(ErrSignature, err, "")
	}
	if !parsed.Valid {
		return nil, ErrSignature
	}

	principal, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, WrapError(ErrSignature, err, "service token subject is not a user id")
	}
	if len(claims.Services) == 0 {
		return nil, NewError(ErrUnauthorized, "service token carries no services")
	}

	out := &ServiceToken{
		PrincipalID: principal,
		ServiceIDs:  claims.Services,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}
