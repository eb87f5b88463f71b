package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"buste/internal/budget"
	"buste/internal/cache"
	"buste/internal/log"
	"buste/internal/services"
	"buste/internal/smartfill"
)

// Server exposes the envelope and smart-fill API. It embeds http.Server and
// owns the rate limiter and the classification cache.
type Server struct {
	http.Server
	reader    budget.EnvelopeReader
	writer    budget.EnvelopeWriter
	transfers *services.TransferService
	batches   budget.BatchLister

	rateLimiter *rateLimiter

	// Classification is recomputed on every write, so the cache only has to
	// absorb bursts of reads between edits.
	planCache    cache.Cache[smartfill.Plan]
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// Simple in-memory rate limiter
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// startCleanup runs periodic cleanup to remove stale client entries
func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

// NewServer configures routes and caches, returning a ready-to-run server.
func NewServer(addr string, reader budget.EnvelopeReader, writer budget.EnvelopeWriter, transfers *services.TransferService, batches budget.BatchLister) *Server {
	mux := http.NewServeMux()

	planCache := cache.NewLRUCache[smartfill.Plan](8, 30*time.Second)

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		reader:       reader,
		writer:       writer,
		transfers:    transfers,
		batches:      batches,
		rateLimiter:  newRateLimiter(),
		planCache:    planCache,
		cacheManager: cache.NewManager(),
	}

	s.cacheManager.Register(planCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("/api/envelopes", s.withSecurityHeaders(s.handleEnvelopes))
	mux.HandleFunc("/api/envelopes/", s.withSecurityHeaders(s.handleEnvelopeByID))
	mux.HandleFunc("/api/smartfill", s.withSecurityHeaders(s.handleClassify))
	mux.HandleFunc("/api/smartfill/plan", s.withSecurityHeaders(s.handlePlan))
	mux.HandleFunc("/api/smartfill/apply", s.withSecurityHeaders(s.handleApply))
	mux.HandleFunc("/api/transfers", s.withSecurityHeaders(s.handleTransfers))

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.cacheManager != nil {
			s.cacheManager.Stop()
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request logging.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Extract client IP (considering proxies)
		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldClientIP, clientIP,
			log.FieldUserAgent, r.Header.Get("User-Agent"))

		// Rate limit mutations only; classification reads are cheap.
		if (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete) && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				log.FieldComponent, log.ComponentRateLimit,
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.").Write(w)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		fields := log.NewFields().
			WithComponent(log.ComponentHTTP).
			WithRequestID(requestID)
		fields[log.FieldMethod] = r.Method
		fields[log.FieldPath] = r.URL.Path
		fields[log.FieldStatusCode] = rw.statusCode
		fields[log.FieldDuration] = duration.Milliseconds()
		fields[log.FieldClientIP] = clientIP
		slog.InfoContext(ctx, "Request completed", fields.ToSlice()...)
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp if random fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

const planCacheKey = "classification"

// invalidatePlan drops the cached classification after any envelope mutation.
func (s *Server) invalidatePlan() {
	s.planCache.Delete(planCacheKey)
}

// currentPlan returns the classification of the current envelope snapshot,
// served from cache when fresh.
func (s *Server) currentPlan(ctx context.Context) (smartfill.Plan, error) {
	if plan, found := s.planCache.Get(planCacheKey); found {
		slog.DebugContext(ctx, "Classification cache hit")
		return plan, nil
	}

	envelopes, err := s.reader.ListEnvelopes(ctx)
	if err != nil {
		return smartfill.Plan{}, fmt.Errorf("list envelopes: %w", err)
	}
	plan := smartfill.NewPlan(envelopes)
	s.planCache.Set(planCacheKey, plan)
	slog.DebugContext(ctx, "Classification cached",
		"sources", len(plan.Sources),
		"destinations", len(plan.Destinations))
	return plan, nil
}
