package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTTL is the lifetime of a login
const DefaultTokenTTL = 7 * 24 * time.Hour

// TokenSigner issues bearer tokens of the form "userID.expiry.mac", where mac
// is an HMAC-SHA256 over "userID.expiry".
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenSigner(secret string, ttl time.Duration) *TokenSigner {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (t *TokenSigner) mac(payload string) string {
	h := hmac.New(sha256.New, t.secret)
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Issue creates a token for userID
func (t *TokenSigner) Issue(userID uuid.UUID) string {
	payload := fmt.Sprintf("%s.%d", userID.String(), t.now().Add(t.ttl).Unix())
	return payload + "." + t.mac(payload)
}

// Verify checks the signature and expiry and returns the token's user
func (t *TokenSigner) Verify(token string) (uuid.UUID, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return uuid.Nil, ErrInvalidToken
	}

	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(t.mac(payload))) {
		return uuid.Nil, ErrInvalidToken
	}

	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	if t.now().Unix() >= expiry {
		return uuid.Nil, ErrTokenExpired
	}

	userID, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return userID, nil
}

// BearerToken extracts the token from an Authorization header value.
// A bare token without the "Bearer " prefix is accepted.
func BearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return header
}
