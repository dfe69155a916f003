package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Claims are issued by the identity provider. Sub is the user id every
// project and grant refers to; Email is where invitations are delivered and
// must be unique per user.
type Claims struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email"`
	JTI   string `json:"jti"`
	Exp   int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// normalize trims the identity fields and folds the email so the same
// mailbox always maps to the same users row.
func (c Claims) normalize() Claims {
	c.Sub = strings.TrimSpace(c.Sub)
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.JTI = strings.TrimSpace(c.JTI)
	return c
}

func (c Claims) validate(now time.Time) error {
	switch {
	case c.Sub == "":
		return fmt.Errorf("%w: sub claim is required", ErrInvalidToken)
	case c.Email == "" || !strings.Contains(c.Email, "@"):
		return fmt.Errorf("%w: email claim is required", ErrInvalidToken)
	case c.JTI == "":
		return fmt.Errorf("%w: jti claim is required", ErrInvalidToken)
	case c.Exp == 0:
		return fmt.Errorf("%w: exp claim is required", ErrInvalidToken)
	case now.Unix() >= c.Exp:
		return ErrExpiredToken
	}
	return nil
}

// IssueToken signs claims in the provider's format. The API only verifies
// tokens; issuing exists for local tooling and tests.
func IssueToken(secret []byte, claims Claims) (string, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + tokenMAC(secret, payload), nil
}

// ParseToken checks the signature, then the claims this API depends on.
func ParseToken(secret []byte, token string) (Claims, error) {
	payload, signature, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || payload == "" || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(tokenMAC(secret, payload))) {
		return Claims{}, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	claims = claims.normalize()
	if err := claims.validate(time.Now()); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func tokenMAC(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
