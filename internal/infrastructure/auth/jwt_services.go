package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/redis"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
)

// TokenService issues bot API tokens. The latest token per user is kept in
// Redis so that issuing a new one or revoking invalidates the old one.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	store  redis.RedisClient
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration, store redis.RedisClient) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl, store: store, now: time.Now}
}

func tokenKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":token"
}

func (s *TokenService) Issue(ctx context.Context, userID int64) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("JWT secret not set")
	}
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(s.ttl).Unix(),
		"jti":     uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	if err := s.store.Set(ctx, tokenKey(userID), signed, s.ttl); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	return signed, nil
}

// Parse validates the signature and expiry and returns the user id claim.
func (s *TokenService) Parse(tokenStr string) (int64, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return 0, pkgerrors.ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, pkgerrors.ErrUnauthorized
	}
	// numeric claims decode as float64
	userID, ok := claims["user_id"].(float64)
	if !ok || userID <= 0 {
		return 0, pkgerrors.ErrUnauthorized
	}
	return int64(userID), nil
}

// Active reports whether tokenStr is still the current token for userID.
func (s *TokenService) Active(ctx context.Context, userID int64, tokenStr string) bool {
	stored, err := s.store.Get(ctx, tokenKey(userID))
	return err == nil && stored == tokenStr
}

func (s *TokenService) Revoke(ctx context.Context, userID int64) error {
	return s.store.Del(ctx, tokenKey(userID))
}
