// Package token signs and verifies the bearer tokens issued at login.
// Tokens are RS256 JWTs; the signing key is loaded once at construction
// and verification only ever needs the public half.
package token

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/formica-tech/formic-api/internal/domain"
)

// TokenTTL is the validity window encoded into every signed token.
const TokenTTL = 24 * time.Hour

// UserClaim identifies the token subject.
type UserClaim struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// HasuraClaim carries the role set consumed by the GraphQL gateway.
type HasuraClaim struct {
	AllowedRoles []string `json:"allowedRoles"`
}

// Payload is the application claim set embedded in each token.
type Payload struct {
	User   UserClaim   `json:"user"`
	Hasura HasuraClaim `json:"hasura"`
}

// Codec signs and verifies bearer tokens. Safe for concurrent use.
type Codec struct {
	signer jose.Signer
	public *rsa.PublicKey
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec builds a codec from an RSA key pair.
func NewCodec(private *rsa.PrivateKey, public *rsa.PublicKey) (*Codec, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: private},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("construct signer: %w", err)
	}
	return &Codec{signer: signer, public: public, ttl: TokenTTL, now: time.Now}, nil
}

// NewCodecFromFiles loads the key pair the way the deployment lays it out:
// the private key PEM at keyPath and the public key PEM at keyPath + ".pub".
func NewCodecFromFiles(keyPath string) (*Codec, error) {
	private, err := loadPrivateKey(keyPath)
	if err != nil {
		return nil, err
	}
	public, err := loadPublicKey(keyPath + ".pub")
	if err != nil {
		return nil, err
	}
	return NewCodec(private, public)
}

// Sign produces a compact serialized token carrying the payload, valid for
// TokenTTL from now.
func (c *Codec) Sign(payload Payload) (string, error) {
	now := c.now()
	std := jwt.Claims{
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(c.ttl)),
	}
	raw, err := jwt.Signed(c.signer).Claims(std).Claims(payload).Serialize()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSigning, err)
	}
	return raw, nil
}

// Verify checks the signature and expiry and returns the embedded payload.
// Tokens asserting any algorithm other than RS256 are rejected outright.
func (c *Codec) Verify(raw string) (Payload, error) {
	parsed, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	var (
		std     jwt.Claims
		payload Payload
	)
	if err := parsed.Claims(c.public, &std, &payload); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if err := std.Validate(jwt.Expected{Time: c.now()}); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	return payload, nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("private key: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key: not an RSA key")
	}
	return key, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("public key: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key: not an RSA key")
	}
	return key, nil
}
