package router

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/rotiride/orderd/internal/apperr"
	"github.com/rotiride/orderd/internal/auth"
	"github.com/rotiride/orderd/internal/config"
	"github.com/rotiride/orderd/internal/observability"
)

// Middleware processes a request context before the handler. The first
// middleware to return an error aborts the pipeline and its error
// becomes the response.
type Middleware interface {
	Name() string
	Handle(ctx context.Context, rc *RequestContext) error
}

// Registry resolves middleware names into instances. Routes reference
// middleware by name; an unknown name is a startup error, never a
// per-request one.
type Registry struct {
	middlewares map[string]Middleware
}

// NewRegistry creates an empty middleware registry.
func NewRegistry() *Registry {
	return &Registry{middlewares: make(map[string]Middleware)}
}

// Register adds a middleware under its own name.
func (r *Registry) Register(m Middleware) {
	r.middlewares[m.Name()] = m
}

// Resolve maps an ordered name list to an ordered middleware list.
func (r *Registry) Resolve(names []string) ([]Middleware, error) {
	resolved := make([]Middleware, 0, len(names))
	for _, name := range names {
		m, ok := r.middlewares[name]
		if !ok {
			return nil, fmt.Errorf("unregistered middleware %q", name)
		}
		resolved = append(resolved, m)
	}
	return resolved, nil
}

// Canonical middleware names.
const (
	MiddlewareLogging   = "logging"
	MiddlewareAuth      = "auth"
	MiddlewareValidate  = "validation"
	MiddlewareCORS      = "cors"
	MiddlewareRateLimit = "ratelimit"
)

// LoggingMiddleware logs every request with its correlation id.
type LoggingMiddleware struct {
	logger observability.Logger
}

// NewLoggingMiddleware creates the request logging middleware.
func NewLoggingMiddleware(logger observability.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Name() string { return MiddlewareLogging }

func (m *LoggingMiddleware) Handle(_ context.Context, rc *RequestContext) error {
	m.logger.Info("request received",
		observability.String("method", rc.Method),
		observability.String("path", rc.Path),
		observability.String("requestId", rc.RequestID),
		observability.String("remoteAddr", rc.RemoteAddr))
	return nil
}

// BearerAuthenticator is the authentication surface the auth middleware
// needs.
type BearerAuthenticator interface {
	Authenticate(ctx context.Context, authorizationHeader string) (*auth.Identity, error)
}

// AuthMiddleware resolves the Authorization header into an identity and
// attaches it to the request context.
type AuthMiddleware struct {
	authenticator BearerAuthenticator
}

// NewAuthMiddleware creates the bearer authentication middleware.
func NewAuthMiddleware(authenticator BearerAuthenticator) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator}
}

func (m *AuthMiddleware) Name() string { return MiddlewareAuth }

func (m *AuthMiddleware) Handle(ctx context.Context, rc *RequestContext) error {
	identity, err := m.authenticator.Authenticate(ctx, rc.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	rc.Identity = identity
	return nil
}

// ValidationMiddleware rejects requests whose shape exceeds the
// configured limits.
type ValidationMiddleware struct {
	maxPathLength int
	maxBodyBytes  int64
}

// NewValidationMiddleware creates the request shape validator.
func NewValidationMiddleware(cfg *config.ServerConfig) *ValidationMiddleware {
	return &ValidationMiddleware{
		maxPathLength: cfg.MaxPathLength,
		maxBodyBytes:  cfg.MaxBodyBytes,
	}
}

func (m *ValidationMiddleware) Name() string { return MiddlewareValidate }

func (m *ValidationMiddleware) Handle(_ context.Context, rc *RequestContext) error {
	if m.maxPathLength > 0 && len(rc.Path) > m.maxPathLength {
		return apperr.Validation("request path too long")
	}
	if m.maxBodyBytes > 0 && int64(len(rc.Body)) > m.maxBodyBytes {
		return apperr.Validation("request body too large")
	}
	return nil
}

// CORSMiddleware stamps the permissive CORS header set onto the
// response.
type CORSMiddleware struct{}

// NewCORSMiddleware creates the CORS middleware.
func NewCORSMiddleware() *CORSMiddleware { return &CORSMiddleware{} }

func (m *CORSMiddleware) Name() string { return MiddlewareCORS }

func (m *CORSMiddleware) Handle(_ context.Context, rc *RequestContext) error {
	rc.ResponseHeader.Set("Access-Control-Allow-Origin", "*")
	rc.ResponseHeader.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	rc.ResponseHeader.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	return nil
}

// RateLimitMiddleware rejects requests beyond the configured rate.
type RateLimitMiddleware struct {
	limiter *rate.Limiter
}

// NewRateLimitMiddleware creates a process-wide token bucket limiter.
// When limiting is disabled in the configuration the middleware passes
// every request through.
func NewRateLimitMiddleware(cfg *config.RateLimitConfig) *RateLimitMiddleware {
	m := &RateLimitMiddleware{}
	if cfg.Enabled {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	}
	return m
}

func (m *RateLimitMiddleware) Name() string { return MiddlewareRateLimit }

func (m *RateLimitMiddleware) Handle(_ context.Context, _ *RequestContext) error {
	if m.limiter != nil && !m.limiter.Allow() {
		return apperr.RateLimited("request rate limit exceeded")
	}
	return nil
}
