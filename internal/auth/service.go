package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"scribeserver/internal/identity"
	"scribeserver/internal/models"
	"scribeserver/internal/redis"
)

var (
	ErrMissingCredential = errors.New("no token provided")
	ErrInvalidCredential = errors.New("invalid token")
	ErrUserNotFound      = identity.ErrUserNotFound
)

const redisIdentityPrefix = "auth:identity:"

// Claims is the signed payload of a bearer token.
type Claims struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Service issues bearer tokens and resolves them to user identities.
type Service struct {
	secret     []byte
	users      identity.Store
	cache      *redis.Client
	tokenTTL   time.Duration
	cacheTTL   time.Duration
	headerName string
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService constructs an auth service. cache may be nil.
func NewService(secret string, users identity.Store, cache *redis.Client, tokenTTL, cacheTTL time.Duration, logger zerolog.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		secret:     []byte(secret),
		users:      users,
		cache:      cache,
		tokenTTL:   tokenTTL,
		cacheTTL:   cacheTTL,
		headerName: "Authorization",
		logger:     logger.With().Str("component", "auth").Logger(),
		now:        time.Now,
	}
}

// IssueToken signs a token for the user.
func (s *Service) IssueToken(user *models.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("invalid user")
	}
	now := s.now()
	claims := Claims{
		ID:    user.ID,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Resolve verifies the token signature and expiry, then looks the subject up.
func (s *Service) Resolve(ctx context.Context, token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingCredential
	}
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}

	cacheKey := redisIdentityPrefix + tokenDigest(token)
	if user, ok := s.cachedUser(ctx, cacheKey); ok {
		return user, nil
	}

	user, err := s.users.FindByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	s.cacheUser(ctx, cacheKey, user, claims.ExpiresAt)
	return user, nil
}

func (s *Service) parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidCredential
	}
	if claims.ID == "" {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

func (s *Service) cachedUser(ctx context.Context, key string) (*models.User, bool) {
	if !s.cache.Enabled() {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Warn().Err(err).Msg("identity cache read failed")
		}
		return nil, false
	}
	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logger.Warn().Err(err).Msg("identity cache decode failed")
		return nil, false
	}
	return &user, true
}

func (s *Service) cacheUser(ctx context.Context, key string, user *models.User, expiresAt *jwt.NumericDate) {
	if !s.cache.Enabled() || s.cacheTTL <= 0 {
		return
	}
	ttl := s.cacheTTL
	if expiresAt != nil {
		if remaining := expiresAt.Sub(s.now()); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		s.logger.Warn().Err(err).Msg("identity cache write failed")
	}
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
