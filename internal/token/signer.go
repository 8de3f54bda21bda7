// Package token issues and verifies RS256-signed session tokens.
package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
)

const (
	// DefaultIssuer is the iss claim of every token.
	DefaultIssuer = "self"
	// DefaultTTL is the token lifetime when none is configured.
	DefaultTTL = time.Hour
	// KeyBits is the RSA modulus size of generated keys.
	KeyBits = 2048

	leeway = 30 * time.Second
)

// Claims is the token payload.
type Claims struct {
	Roles  []string `json:"roles"`
	UserID int64    `json:"userId"`
	jwt.RegisteredClaims
}

// Principal converts verified claims to the authenticated identity.
func (c *Claims) Principal() model.Principal {
	return model.Principal{UserID: c.UserID, Username: c.Subject, Roles: c.Roles}
}

// Signer signs tokens with an RSA private key and verifies them with its public half.
type Signer struct {
	key    *rsa.PrivateKey
	kid    string
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// GenerateKey creates a fresh RSA key pair.
func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, bits)
}

// LoadKey reads a PEM encoded RSA private key (PKCS#1 or PKCS#8).
func LoadKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", path, err)
	}
	return key, nil
}

// NewSigner constructs a signer. Empty issuer and non-positive ttl fall back to defaults.
func NewSigner(key *rsa.PrivateKey, issuer string, ttl time.Duration) *Signer {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{key: key, kid: thumbprint(&key.PublicKey), issuer: issuer, ttl: ttl, now: time.Now}
}

// KeyID identifies the signing key in token headers and the JWK set.
func (s *Signer) KeyID() string { return s.kid }

// Sign issues a token for p and returns it with its expiry.
func (s *Signer) Sign(p model.Principal) (string, time.Time, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Roles:  p.Roles,
		UserID: p.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Issuer:    s.issuer,
			Subject:   p.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign: %w", err)
	}
	return signed, exp, nil
}

// Verify parses raw, checks the RS256 signature, issuer and expiry, and returns the claims.
func (s *Signer) Verify(raw string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return &s.key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, classify(err)
	}
	return &claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return errs.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return errs.ErrTokenSignature
	default:
		return errs.ErrTokenMalformed
	}
}

// JWK is a single RSA public key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is the document served at /.well-known/jwks.json.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWKS publishes the verification key.
func (s *Signer) JWKS() JWKSet {
	pub := s.key.PublicKey
	return JWKSet{Keys: []JWK{{
		Kty: "RSA",
		Kid: s.kid,
		Use: "sig",
		Alg: jwt.SigningMethodRS256.Alg(),
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

func thumbprint(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(x509.MarshalPKCS1PublicKey(pub))
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}
