package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultIDTokenTTL is how long issued id tokens stay valid.
const DefaultIDTokenTTL = time.Hour

// IDTokenRequest describes one id token.
type IDTokenRequest struct {
	User     *User
	Audience string
	Claims   []string
	Nonce    string
	AuthTime time.Time
}

// IDTokenSigner mints OIDC id tokens for relying services using the
// provider's asymmetric key.
type IDTokenSigner struct {
	keys   KeyProvider
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type IDTokenOption func(*IDTokenSigner)

func WithIDTokenTTL(ttl time.Duration) IDTokenOption {
	return func(s *IDTokenSigner) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithIDTokenClock(now func() time.Time) IDTokenOption {
	return func(s *IDTokenSigner) {
		if now != nil {
			s.now = now
		}
	}
}

func NewIDTokenSigner(keys KeyProvider, issuer string, opts ...IDTokenOption) *IDTokenSigner {
	s := &IDTokenSigner{
		keys:   keys,
		issuer: issuer,
		ttl:    DefaultIDTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// TTL returns the lifetime of issued tokens.
func (s *IDTokenSigner) TTL() time.Duration {
	return s.ttl
}

// Issuer returns the iss claim value.
func (s *IDTokenSigner) Issuer() string {
	return s.issuer
}

// Sign returns a signed id token carrying the released claims of req.User.
// Protected claims cannot be overridden by user claims.
func (s *IDTokenSigner) Sign(ctx context.Context, req IDTokenRequest) (string, error) {
	if req.User == nil {
		return "", errors.New("id token requires a user", errors.CategoryBadInput)
	}
	key, err := s.keys.SigningKey(ctx)
	if err != nil {
		return "", err
	}

	now := s.now()
	authTime := req.AuthTime
	if authTime.IsZero() {
		authTime = now
	}

	claims := jwt.MapClaims{}
	for k, v := range UserClaims(req.User, req.Claims) {
		claims[k] = v
	}
	claims["iss"] = s.issuer
	claims["sub"] = strconv.FormatInt(req.User.ID, 10)
	claims["aud"] = req.Audience
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(s.ttl).Unix()
	claims["auth_time"] = authTime.Unix()
	claims["jti"] = uuid.NewString()
	if req.Nonce != "" {
		claims["nonce"] = req.Nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.KeyID

	signed, err := token.SignedString(key.Private)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign id token")
	}
	return signed, nil
}
