package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID tags every request with an id, honoring an incoming X-Request-ID
// of at most 128 bytes and minting one otherwise.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom extracts the request id, or "" outside a request.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// LimiterStore abstracts the bucket storage so multi-replica deployments
// can share limits through Redis.
type LimiterStore interface {
	// Allow reports whether one request by actor fits the configured rate.
	Allow(ctx context.Context, actor string) (bool, error)
}

// RateLimiter applies a per-requester request rate.
type RateLimiter struct {
	store LimiterStore
}

// NewRateLimiter builds a limiter over store.
func NewRateLimiter(store LimiterStore) *RateLimiter {
	return &RateLimiter{store: store}
}

// Allow defers to the store; an empty actor shares the anonymous bucket.
func (l *RateLimiter) Allow(ctx context.Context, actor string) (bool, error) {
	if actor == "" {
		actor = "anonymous"
	}
	return l.store.Allow(ctx, actor)
}

// MemoryLimiterStore keeps one token bucket per actor in process.
type MemoryLimiterStore struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

// NewMemoryLimiterStore builds the in-process store.
func NewMemoryLimiterStore(rps float64, burst int) *MemoryLimiterStore {
	return &MemoryLimiterStore{
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

// Allow implements LimiterStore.
func (s *MemoryLimiterStore) Allow(_ context.Context, actor string) (bool, error) {
	s.mu.Lock()
	lim, ok := s.buckets[actor]
	if !ok {
		lim = rate.NewLimiter(s.rps, s.burst)
		s.buckets[actor] = lim
	}
	s.mu.Unlock()
	return lim.Allow(), nil
}
