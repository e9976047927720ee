// Package auth signs and verifies the dashboard's bearer tokens.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ignisos/api/internal/util"
)

const (
	tokenVersion = "v1"
	issuer       = "ignisos"
)

// Claims identify the signed-in user.
type Claims struct {
	Iss   string `json:"iss"`
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
	JTI   string `json:"jti"`
	Iat   int64  `json:"iat"`
	Exp   int64  `json:"exp"`
}

func (c Claims) ExpiresAt() time.Time { return time.Unix(c.Exp, 0) }

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Signer issues access tokens of the form "v1.<payload>.<signature>", with
// payload and signature base64url without padding. The version prefix is part
// of the signed material.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a fresh token for the user. Each token gets its own JTI so it
// can be revoked on its own.
func (s *Signer) Issue(userID, email, name string) (string, Claims, error) {
	now := s.now()
	claims := Claims{
		Iss:   issuer,
		Sub:   userID,
		Email: email,
		Name:  name,
		JTI:   util.NewID("jti"),
		Iat:   now.Unix(),
		Exp:   now.Add(s.ttl).Unix(),
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, fmt.Errorf("marshal claims: %w", err)
	}
	signed := tokenVersion + "." + base64.RawURLEncoding.EncodeToString(raw)
	return signed + "." + s.sign(signed), claims, nil
}

func (s *Signer) Parse(token string) (Claims, error) {
	version, rest, ok := strings.Cut(token, ".")
	if !ok || version != tokenVersion {
		return Claims{}, ErrInvalidToken
	}
	payload, signature, ok := strings.Cut(rest, ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(version+"."+payload))) {
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
	if claims.Iss != issuer || claims.Sub == "" || claims.Email == "" || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if s.now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func (s *Signer) sign(material string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(material))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// HashToken is the at-rest form of refresh and reset tokens.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
