package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DefaultAdminPassword is accepted while no password hash is stored.
const DefaultAdminPassword = "admin123"

const defaultTokenSecret = "picchat-admin-token-secret"

// Service issues and validates stateless admin tokens. Tokens are a
// base64url JSON payload plus an HMAC-SHA256 signature, so no server
// side session state is kept.
type Service struct {
	secret   []byte
	tokenTTL time.Duration
}

type tokenPayload struct {
	Exp int64 `json:"exp"` // unix milliseconds
}

// NewService constructs an auth service with the supplied signing
// secret and token lifetime.
func NewService(secret string, ttl time.Duration) *Service {
	if secret == "" {
		secret = defaultTokenSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{secret: []byte(secret), tokenTTL: ttl}
}

// HashPassword returns the hex sha256 digest used for stored passwords.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// IssueToken mints a signed token that expires after the configured TTL.
func (s *Service) IssueToken() (string, error) {
	payload, err := json.Marshal(tokenPayload{Exp: time.Now().Add(s.tokenTTL).UnixMilli()})
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.sign(encoded), nil
}

// VerifyToken reports whether the token is authentic and unexpired.
func (s *Service) VerifyToken(token string) bool {
	if token == "" {
		return false
	}
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return false
	}
	encoded, signature := parts[0], parts[1]
	if !hmac.Equal([]byte(signature), []byte(s.sign(encoded))) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false
	}
	return payload.Exp > time.Now().UnixMilli()
}

func (s *Service) sign(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

var ErrInvalidToken = errors.New("invalid or expired token")
