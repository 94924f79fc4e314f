package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer signs HS256 session tokens for authenticated users.
type TokenIssuer struct {
	cfg JWTConfig
	ttl time.Duration
	now func() time.Time
}

func NewTokenIssuer(cfg JWTConfig, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{cfg: cfg, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for u and its expiry.
func (ti *TokenIssuer) Issue(u *User) (string, time.Time, error) {
	now := ti.now()
	exp := now.Add(ti.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    ti.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: u.Email,
		Role:  u.Role,
	}
	if u.ClinicID != nil {
		claims.ClinicID = u.ClinicID.String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}
