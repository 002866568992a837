package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdempotencyHeader is the request header carrying the client-chosen key.
const IdempotencyHeader = "Idempotency-Key"

// CachedResponse is a response replayed for a repeated idempotency key.
type CachedResponse struct {
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	CachedAt    time.Time `json:"cached_at"`
}

// IdempotencyStore persists responses by key. Reserve marks a key in flight
// and reports false when the key is already reserved or completed.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, error)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ErrNotCached is returned by Get when the key has no completed response.
var ErrNotCached = errors.New("idempotency key not cached")

type bodyCapture struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the first completed response for a repeated
// Idempotency-Key on mutating routes. Keys are scoped to the caller and route.
// 5xx responses are not cached so the client can retry them.
func IdempotencyMiddleware(store IdempotencyStore, ttl time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		userID, _ := GetUserID(c)
		scoped := fmt.Sprintf("idem:%s:%s:%s:%s", userID, c.Request.Method, c.Request.URL.Path, key)
		ctx := c.Request.Context()

		if cached, err := store.Get(ctx, scoped); err == nil {
			c.Header("Idempotent-Replayed", "true")
			c.Data(cached.StatusCode, cached.ContentType, cached.Body)
			c.Abort()
			return
		} else if !errors.Is(err, ErrNotCached) {
			log.Warn("idempotency lookup failed", zap.Error(err))
			c.Next()
			return
		}

		reserved, err := store.Reserve(ctx, scoped, ttl)
		if err != nil {
			log.Warn("idempotency reserve failed", zap.Error(err))
			c.Next()
			return
		}
		if !reserved {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"success": false,
				"error":   gin.H{"code": "CONFLICT", "message": "request with this idempotency key is in progress"},
			})
			return
		}

		capture := &bodyCapture{ResponseWriter: c.Writer}
		c.Writer = capture
		c.Next()

		status := capture.Status()
		if status >= 500 {
			if err := store.Release(ctx, scoped); err != nil {
				log.Warn("idempotency release failed", zap.Error(err))
			}
			return
		}
		resp := CachedResponse{
			StatusCode:  status,
			ContentType: capture.Header().Get("Content-Type"),
			Body:        capture.body.Bytes(),
			CachedAt:    time.Now().UTC(),
		}
		if err := store.Complete(ctx, scoped, resp, ttl); err != nil {
			log.Warn("idempotency store failed", zap.Error(err))
		}
	}
}

// MemoryIdempotencyStore is an in-process IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	resp      *CachedResponse
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates an empty in-process store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryIdempotencyStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// Get returns the completed response for key.
func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*CachedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok || e.resp == nil {
		return nil, ErrNotCached
	}
	return e.resp, nil
}

// Reserve marks key in flight.
func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{expiresAt: s.now().Add(ttl)}
	return true, nil
}

// Complete stores the response for key.
func (s *MemoryIdempotencyStore) Complete(_ context.Context, key string, resp CachedResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{resp: &resp, expiresAt: s.now().Add(ttl)}
	return nil
}

// Release drops a reservation.
func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// RedisIdempotencyStore shares idempotency state across instances.
type RedisIdempotencyStore struct {
	client *redis.Client
}

// NewRedisIdempotencyStore creates a Redis-backed store.
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

const inFlightMarker = "in-flight"

// Get returns the completed response for key.
func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if string(raw) == inFlightMarker {
		return nil, ErrNotCached
	}
	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode cached response: %w", err)
	}
	return &resp, nil
}

// Reserve marks key in flight with SET NX.
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, inFlightMarker, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return ok, nil
}

// Complete stores the response for key.
func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode cached response: %w", err)
	}
	return s.client.Set(ctx, key, raw, ttl).Err()
}

// Release drops a reservation.
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
