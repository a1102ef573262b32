package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nimbus-wallet/wallet-engine/internal/logger"
)

// RequestID stamps every request with an id for log correlation, honoring an
// upstream X-Request-ID when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-request-id"
	}
	return hex.EncodeToString(b)
}

// Logging writes one line per request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// OriginLimiter rate-limits dapp traffic per origin with a token bucket.
type OriginLimiter struct {
	mu      sync.Mutex
	buckets map[string]*originBucket
	rps     rate.Limit
	burst   int
}

type originBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewOriginLimiter(rps, burst int) *OriginLimiter {
	l := &OriginLimiter{
		buckets: make(map[string]*originBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go l.cleanup()
	return l
}

// Allow consumes one token for the origin.
func (l *OriginLimiter) Allow(origin string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[origin]
	if !ok {
		b = &originBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[origin] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

func (l *OriginLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		l.mu.Lock()
		for origin, b := range l.buckets {
			if time.Since(b.lastSeen) > 3*time.Minute {
				delete(l.buckets, origin)
			}
		}
		l.mu.Unlock()
	}
}
