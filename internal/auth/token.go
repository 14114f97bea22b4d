package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTTL = 24 * time.Hour

// Claims is the bearer token claim set. MetaVersion carries the catalog
// version current at issuance; the transport layer treats a mismatch as a
// forced-refresh signal.
type Claims struct {
	Username    string `json:"username"`
	TokenDate   string `json:"token_date"`
	MetaVersion string `json:"meta_version"`
	jwt.RegisteredClaims
}

// IssueToken signs a bearer token for the given user using HS256 with the
// process secret.
func (s *Service) IssueToken(username string) (string, time.Time, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", time.Time{}, BadRequest("Username is empty")
	}
	now := s.now().UTC()
	expiresAt := now.Add(tokenTTL)
	claims := Claims{
		Username:    username,
		TokenDate:   now.Format(time.RFC3339),
		MetaVersion: s.catalogVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// decodeToken validates the signature and expiry and returns the claims.
// An expired token surfaces the stable MsgTokenExpired message; any other
// failure collapses to the generic access-denied response.
func (s *Service) decodeToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, Unauthorized(MsgAccessDenied)
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, Unauthorized(MsgTokenExpired)
		}
		return nil, Unauthorized(MsgAccessDenied)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Username) == "" {
		return nil, Unauthorized(MsgAccessDenied)
	}
	return claims, nil
}
