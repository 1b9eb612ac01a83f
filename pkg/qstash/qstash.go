package qstash

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SignatureHeader carries the JWT QStash signs every delivery with.
const SignatureHeader = "Upstash-Signature"

const issuer = "Upstash"

var (
	ErrMissingSignature = errors.New("qstash signature is missing")
	ErrInvalidSignature = errors.New("qstash signature is invalid")
)

type Config struct {
	CurrentSigningKey string `split_words:"true"`
	NextSigningKey    string `split_words:"true"`
	// DestinationURL, when set, must equal the token subject.
	DestinationURL string        `split_words:"true"`
	ClockSkew      time.Duration `split_words:"true" default:"0s"`
}

// Enabled reports whether deliveries should be verified at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.CurrentSigningKey) != ""
}

type claims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Verifier checks QStash delivery signatures against the current signing key
// and falls back to the next key during key rotation.
type Verifier struct {
	currentKey     []byte
	nextKey        []byte
	destinationURL string
	skew           time.Duration
	now            func() time.Time
}

func NewVerifier(cfg Config) (*Verifier, error) {
	current := strings.TrimSpace(cfg.CurrentSigningKey)
	if current == "" {
		return nil, errors.New("qstash current signing key is required")
	}
	if cfg.ClockSkew < 0 {
		return nil, errors.New("qstash clock skew must be >= 0")
	}

	v := &Verifier{
		currentKey:     []byte(current),
		destinationURL: strings.TrimSpace(cfg.DestinationURL),
		skew:           cfg.ClockSkew,
		now:            time.Now,
	}
	if next := strings.TrimSpace(cfg.NextSigningKey); next != "" {
		v.nextKey = []byte(next)
	}
	return v, nil
}

func MustNewVerifier(cfg Config) *Verifier {
	v, err := NewVerifier(cfg)
	if err != nil {
		panic(err)
	}
	return v
}

// Verify validates signature for body. The error wraps ErrMissingSignature or
// ErrInvalidSignature.
func (v *Verifier) Verify(signature string, body []byte) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}

	err := v.verifyWithKey(v.currentKey, signature, body)
	if err == nil {
		return nil
	}
	if v.nextKey != nil {
		if errNext := v.verifyWithKey(v.nextKey, signature, body); errNext == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
}

func (v *Verifier) verifyWithKey(key []byte, signature string, body []byte) error {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())

	var c claims
	if _, err := parser.ParseWithClaims(signature, &c, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return err
	}

	now := v.now()
	if !c.VerifyExpiresAt(now.Add(-v.skew), true) {
		return errors.New("token expired")
	}
	if !c.VerifyNotBefore(now.Add(v.skew), false) {
		return errors.New("token not valid yet")
	}
	if !c.VerifyIssuer(issuer, true) {
		return fmt.Errorf("unexpected issuer %q", c.Issuer)
	}
	if v.destinationURL != "" && c.Subject != v.destinationURL {
		return fmt.Errorf("unexpected subject %q", c.Subject)
	}
	if strings.TrimRight(c.Body, "=") != BodyHash(body) {
		return errors.New("body hash mismatch")
	}
	return nil
}

// BodyHash is the unpadded base64url SHA-256 of body, as carried in the "body" claim.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
