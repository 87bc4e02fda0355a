package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpirySkew is subtracted from a token's exp claim before comparing it to the current time.
const ExpirySkew = 90 * time.Second

type Credential string

// ExpiresAt decodes the payload segment without verifying the signature. ok is false when
// the token carries no exp claim.
func (c Credential) ExpiresAt() (expiresAt time.Time, ok bool, err error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(string(c), claims); err != nil {
		return time.Time{}, false, fmt.Errorf("decode token payload: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, false, nil
	}

	return exp.Time, true, nil
}

// IsExpired reports whether the token is expired at now, counting ExpirySkew.
func (c Credential) IsExpired(now time.Time) (bool, error) {
	expiresAt, ok, err := c.ExpiresAt()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return expiresAt.Add(-ExpirySkew).Before(now), nil
}

// Fingerprint is a short, log-safe identifier of the token.
func (c Credential) Fingerprint() string {
	sum := sha256.Sum256([]byte(c))
	return hex.EncodeToString(sum[:6])
}

type Profile struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}
