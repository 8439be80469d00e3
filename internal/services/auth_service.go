package services

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/latticeworks/facet/internal/config"
	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/types"
)

// SessionClaims is the payload of a signed login cookie.
type SessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// IssueSession signs a login token for user, valid for the configured TTL.
func IssueSession(cfg *config.Config, user *models.User) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.UserID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.SessionTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.SessionSecret))
}

// ValidateSession parses and verifies a login token, returning its claims.
func ValidateSession(cfg *config.Config, tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(cfg.SessionSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, &types.PermissionError{Message: "invalid session token"}
	}
	return claims, nil
}

// SessionUserID extracts the numeric user id from validated claims.
func (c *SessionClaims) SessionUserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, &types.PermissionError{Message: "invalid session token"}
	}
	return uint(id), nil
}
