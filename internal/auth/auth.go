package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vnmchuo/careerkit-gateway/internal/logger"
	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

var ErrKeyNotFound = errors.New("api key not found")

// Capability is a named permission carried by an API key.
type Capability string

// CapActOnBehalf lets a key act for a user other than its owner.
const CapActOnBehalf Capability = "act_on_behalf"

type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Tier      string    `json:"tier"`
	KeyHash   string    `json:"key_hash"`
	RateLimit int64     `json:"rate_limit"` // max tokens per minute, 0 = gateway default
	Scopes    []string  `json:"scopes"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (a *APIKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (a *APIKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

// Principal is the authenticated caller.
type Principal struct {
	UserID    string
	Tier      tier.ID
	KeyID     string
	RateLimit int64
	Scopes    []string
}

func (p *Principal) Can(c Capability) bool {
	return p != nil && slices.Contains(p.Scopes, string(c))
}

func principalFor(k *APIKey) *Principal {
	return &Principal{
		UserID:    k.UserID,
		Tier:      tier.Resolve(k.Tier),
		KeyID:     k.ID,
		RateLimit: k.RateLimit,
		Scopes:    k.Scopes,
	}
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*APIKey, error)
	Create(ctx context.Context, apiKey *APIKey) error
	Revoke(ctx context.Context, keyID string) error
	// TierForUser returns the tier on the user's newest active key.
	TierForUser(ctx context.Context, userID string) (tier.ID, error)
}

// Cache is the subset of *redis.Client used for key lookups.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

const cacheTTL = 5 * time.Minute

// HashKey is the stored form of a raw API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	principalKey contextKey = "principal"
	requestIDKey contextKey = "request_id"
)

// NewMiddleware resolves the bearer key to a Principal. cache may be nil.
func NewMiddleware(store Store, cache Cache, log *zap.Logger) Middleware {
	log = logger.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := middleware.GetReqID(ctx)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid Authorization header")
				return
			}
			key := strings.TrimPrefix(authHeader, "Bearer ")
			redisKey := fmt.Sprintf("auth:%s", HashKey(key))

			if cache != nil {
				var apiKey APIKey
				err := cache.Get(ctx, redisKey).Scan(&apiKey)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principalFor(&apiKey))))
					return
				} else if !errors.Is(err, redis.Nil) {
					log.Warn("auth cache lookup failed", zap.Error(err))
				}
			}

			apiKey, err := store.GetByKey(ctx, key)
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
					return
				}
				log.Error("api key lookup failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
				return
			}

			if cache != nil {
				if err := cache.Set(ctx, redisKey, apiKey, cacheTTL).Err(); err != nil {
					log.Warn("auth cache write failed", zap.Error(err))
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principalFor(apiKey))))
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

// Helpers to extract from context
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		return p
	}
	return nil
}

func GetUserID(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.UserID
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
