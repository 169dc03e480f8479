// Package httpapi exposes the authorization entity cache over HTTP
// (§4.J.1, §6.2): GET /v1/hierarchy, /v1/users, /v1/agents, and /v1/all,
// gated by API key authentication and a per-key rate limit, plus
// HMAC-verified webhook entry points. /health and /metrics are served
// without authentication.
package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/loomctx/loomctx/pkg/authz"
	"github.com/loomctx/loomctx/pkg/identity"
)

// Error codes at the HTTP boundary (§6.2, §6.4).
const (
	codeUnauthorized      = "UNAUTHORIZED"
	codeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	codeInvalidSignature  = "INVALID_SIGNATURE"
	codeBadRequest        = "BAD_REQUEST"
	codeInternalError     = "INTERNAL_ERROR"
)

// KeyStore resolves an API key to the tenant it authenticates.
type KeyStore interface {
	TenantForKey(key string) (identity.TenantID, bool)
}

// MapKeyStore is a static, in-memory [KeyStore].
type MapKeyStore map[string]identity.TenantID

func (m MapKeyStore) TenantForKey(key string) (identity.TenantID, bool) {
	t, ok := m[key]
	return t, ok
}

// RateLimiterConfig tunes the per-key sliding window (§5 "Rate limiting:
// sliding 60-second window per API key or per tenant id").
type RateLimiterConfig struct {
	// RequestsPerWindow is the number of requests allowed per Window.
	// Default: 100.
	RequestsPerWindow int
	// Window is the sliding window duration. Default: 60s.
	Window time.Duration
}

func (c RateLimiterConfig) withDefaults() RateLimiterConfig {
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = 100
	}
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	return c
}

// keyLimiter tracks the per-API-key token bucket approximation of the
// sliding window: a bucket of RequestsPerWindow tokens refilling
// continuously over Window, which is the standard token-bucket
// approximation of a sliding counter.
type keyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      RateLimiterConfig
}

func newKeyLimiter(cfg RateLimiterConfig) *keyLimiter {
	return &keyLimiter{limiters: make(map[string]*rate.Limiter), cfg: cfg.withDefaults()}
}

func (k *keyLimiter) allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		every := rate.Every(k.cfg.Window / time.Duration(k.cfg.RequestsPerWindow))
		l = rate.NewLimiter(every, k.cfg.RequestsPerWindow)
		k.limiters[key] = l
	}
	return l.Allow()
}

// Server wires the authorization cache, API key store, and rate limiter
// into a chi router.
type Server struct {
	cache             *authz.Cache
	keys              KeyStore
	limiter           *keyLimiter
	webhookHMACSecret []byte
	router            chi.Router
}

// NewServer builds a Server. webhookHMACSecret authenticates POST webhook
// bodies via X-Signature: sha256=<hex> (§4.J.1, §6.2).
func NewServer(cache *authz.Cache, keys KeyStore, rlCfg RateLimiterConfig, webhookHMACSecret []byte) *Server {
	s := &Server{
		cache:             cache,
		keys:              keys,
		limiter:           newKeyLimiter(rlCfg),
		webhookHMACSecret: webhookHMACSecret,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Signature"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/v1/hierarchy", s.handleHierarchy)
		r.Get("/v1/users", s.handleUsers)
		r.Get("/v1/agents", s.handleAgents)
		r.Get("/v1/all", s.handleAll)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.verifyWebhookSignature)
		r.Post("/v1/webhooks/referential", s.handleWebhook)
	})

	return r
}

type tenantContextKey struct{}

// authenticate enforces "Authorization: Bearer <api_key>" (§6.2) and the
// per-key rate limit (§5).
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing or malformed Authorization header")
			return
		}

		tenantID, ok := s.keys.TenantForKey(key)
		if !ok {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "unknown API key")
			return
		}

		if !s.limiter.allow(key) {
			writeError(w, http.StatusTooManyRequests, codeRateLimitExceeded, "rate limit exceeded")
			return
		}

		ctx := withTenant(r.Context(), tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifyWebhookSignature validates X-Signature: sha256=<hex> over the raw
// request body using HMAC-SHA256 and constant-time comparison (§4.J.1).
func (s *Server) verifyWebhookSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig := r.Header.Get("X-Signature")
		const prefix = "sha256="
		if !strings.HasPrefix(sig, prefix) {
			writeError(w, http.StatusUnauthorized, codeInvalidSignature, "missing or malformed X-Signature header")
			return
		}

		body, err := readAndRestoreBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "failed to read request body")
			return
		}

		mac := hmac.New(sha256.New, s.webhookHMACSecret)
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))

		if !hmac.Equal([]byte(strings.TrimPrefix(sig, prefix)), []byte(expected)) {
			writeError(w, http.StatusUnauthorized, codeInvalidSignature, "signature verification failed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"units": s.cache.Hierarchy(tenantID)})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"users": s.cache.Users(tenantID)})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	agents := s.cache.Agents(tenantID)
	type agentWithDelegations struct {
		authz.Agent
		Delegations []authz.Delegation `json:"delegations"`
	}
	out := make([]agentWithDelegations, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentWithDelegations{Agent: a, Delegations: s.cache.Delegations(tenantID, a.ID)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"units":  s.cache.Hierarchy(tenantID),
		"users":  s.cache.Users(tenantID),
		"agents": s.cache.Agents(tenantID),
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
