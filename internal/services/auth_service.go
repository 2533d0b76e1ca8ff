package services

import (
	"context"
	"errors"
	"time"

	"meshly/internal/config"
	meshly_errors "meshly/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthService verifies bearer tokens and resolves the acting user. Account
// management lives in the identity service; this subsystem only needs to
// know who is calling.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
}

func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{
		jwtSecret: []byte(cfg.JWT.Secret),
		accessTTL: time.Duration(cfg.JWT.ExpiryHours) * time.Hour,
	}
}

type AccessClaims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, meshly_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, meshly_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return AccessClaims{}, meshly_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return AccessClaims{}, meshly_errors.ErrUnauthorized
	}

	return *claims, nil
}

// MintAccessToken issues a signed token for a user. Used by the local dev
// command and tests; production tokens come from the identity service with
// the same secret.
func (s *AuthService) MintAccessToken(userID uuid.UUID) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTTL)

	claims := AccessClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(s.accessTTL.Seconds()), nil
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, meshly_errors.ErrInvalidInput), errors.Is(err, meshly_errors.ErrTooLarge):
		return 400
	case errors.Is(err, meshly_errors.ErrUnauthorized):
		return 401
	case errors.Is(err, meshly_errors.ErrForbidden):
		return 403
	case errors.Is(err, meshly_errors.ErrNotFound):
		return 404
	case errors.Is(err, meshly_errors.ErrAlreadyExists), errors.Is(err, meshly_errors.ErrConflict):
		return 409
	case errors.Is(err, meshly_errors.ErrRateLimited):
		return 429
	default:
		return 500
	}
}

type ctxKey string

var userIDKey ctxKey = "user_id"

func WithUserContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	value := ctx.Value(userIDKey)
	if value == nil {
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	return userID, ok
}
