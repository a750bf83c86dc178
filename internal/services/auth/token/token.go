// Package token signs and verifies compact bearer tokens.
//
// A token is base64url(payload) + "." + base64url(hmac-sha256(payload)),
// where the payload plaintext is "<userId>:<expiryEpochSeconds>". There is no
// revocation list: the embedded expiry is the sole control over the
// post-issuance risk window.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	apperrors "github.com/olympstage/olympstage/internal/platform/errors"
)

// ErrInvalidToken covers malformed, tampered, and expired tokens alike so
// callers cannot distinguish which check failed.
var ErrInvalidToken = apperrors.New(apperrors.CodeUnauthenticated, "bearer token is invalid")

// Config controls token signing.
type Config struct {
	Secret string        `env:"OLYMPSTAGE_TOKEN_SECRET"`
	TTL    time.Duration `env:"OLYMPSTAGE_TOKEN_TTL" envDefault:"168h"`
}

// LoadConfigFromEnv reads token configuration. The secret has no default:
// an unset secret is a startup error, never a silent fallback.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse token env: %w", err)
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return Config{}, fmt.Errorf("OLYMPSTAGE_TOKEN_SECRET is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 168 * time.Hour
	}
	return cfg, nil
}

// Codec issues and verifies bearer tokens. It holds no state beyond its key.
type Codec struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewCodec builds a codec from validated configuration.
func NewCodec(cfg Config) *Codec {
	return &Codec{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		clock:  time.Now,
	}
}

// WithClock returns a codec using the supplied clock. Used by tests and by
// callers that need deterministic expiry.
func (c *Codec) WithClock(clock func() time.Time) *Codec {
	out := *c
	out.clock = clock
	return &out
}

// TTL reports the configured token lifetime.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token bound to userID expiring after the configured TTL.
func (c *Codec) Issue(userID int64) string {
	expiry := c.clock().UTC().Add(c.ttl).Unix()
	payload := strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(expiry, 10)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + c.sign(encoded)
}

// Verify checks the signature and expiry and returns the embedded user id.
//
// The signature comparison is constant-time; all failure modes collapse into
// ErrInvalidToken.
func (c *Codec) Verify(token string) (int64, error) {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || signature == "" {
		return 0, ErrInvalidToken
	}
	if !hmac.Equal([]byte(c.sign(encoded)), []byte(signature)) {
		return 0, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return 0, ErrInvalidToken
	}
	userPart, expiryPart, ok := strings.Cut(string(payload), ":")
	if !ok {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(userPart, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}
	expiry, err := strconv.ParseInt(expiryPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	if expiry < c.clock().UTC().Unix() {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

func (c *Codec) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
