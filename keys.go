package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"os"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// SigningKey is the asymmetric key used for id tokens.
type SigningKey struct {
	KeyID     string
	Algorithm string
	Private   *rsa.PrivateKey
}

// JWK returns the public JSON web key for k.
func (k *SigningKey) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       k.Private.Public(),
		KeyID:     k.KeyID,
		Algorithm: k.Algorithm,
		Use:       "sig",
	}
}

// KeyProvider hands out the current id token signing key.
type KeyProvider interface {
	SigningKey(ctx context.Context) (*SigningKey, error)
	PublicJWKS(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// DeriveKeyID computes the RFC 7638 thumbprint of a public key, base64url encoded.
func DeriveKeyID(pub crypto.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to compute key thumbprint")
	}
	return base64.RawURLEncoding.EncodeToString(thumb), nil
}

func newSigningKey(priv *rsa.PrivateKey) (*SigningKey, error) {
	kid, err := DeriveKeyID(priv.Public())
	if err != nil {
		return nil, err
	}
	return &SigningKey{
		KeyID:     kid,
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Private:   priv,
	}, nil
}

type staticKeyProvider struct {
	key *SigningKey
}

// NewStaticKeyProvider serves a fixed RSA key.
func NewStaticKeyProvider(priv *rsa.PrivateKey) (KeyProvider, error) {
	key, err := newSigningKey(priv)
	if err != nil {
		return nil, err
	}
	return &staticKeyProvider{key: key}, nil
}

// LoadKeyProviderFromFile reads a PEM encoded RSA private key.
func LoadKeyProviderFromFile(path string) (KeyProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to read signing key")
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse signing key")
	}
	return NewStaticKeyProvider(priv)
}

func (p *staticKeyProvider) SigningKey(context.Context) (*SigningKey, error) {
	return p.key, nil
}

func (p *staticKeyProvider) PublicJWKS(context.Context) (*jose.JSONWebKeySet, error) {
	return &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{p.key.JWK()}}, nil
}

// GeneratingKeyProvider creates an RSA key on first use. Keys do not survive
// restarts, so it is meant for development and tests.
type GeneratingKeyProvider struct {
	mu   sync.Mutex
	bits int
	key  *SigningKey
}

func NewGeneratingKeyProvider(bits int) *GeneratingKeyProvider {
	if bits < 2048 {
		bits = 2048
	}
	return &GeneratingKeyProvider{bits: bits}
}

func (p *GeneratingKeyProvider) SigningKey(context.Context) (*SigningKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key != nil {
		return p.key, nil
	}

	priv, err := rsa.GenerateKey(rand.Reader, p.bits)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to generate signing key")
	}
	key, err := newSigningKey(priv)
	if err != nil {
		return nil, err
	}
	p.key = key
	return key, nil
}

func (p *GeneratingKeyProvider) PublicJWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	key, err := p.SigningKey(ctx)
	if err != nil {
		return nil, err
	}
	return &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{key.JWK()}}, nil
}
