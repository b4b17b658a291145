package router

import (
	"context"
	"fmt"

	"github.com/rotiride/orderd/internal/apperr"
	"github.com/rotiride/orderd/internal/auth"
	"github.com/rotiride/orderd/internal/observability"
)

// Handler produces a response for a fully authenticated, authorized
// request.
type Handler func(ctx context.Context, rc *RequestContext) (*Response, error)

// Route is one immutable route table entry.
type Route struct {
	Method string
	Path   string

	// Middlewares is the ordered list of middleware names for this
	// route, resolved against the registry when the route is
	// registered.
	Middlewares []string

	// Permission is enforced after the pipeline and before the handler.
	Permission auth.Permission

	Handler Handler
}

// routeEntry is a registered route with its pipeline resolved.
type routeEntry struct {
	route    Route
	pipeline []Middleware
}

// Router matches (method, path) exactly and drives the per-route
// pipeline. The route table is immutable after startup and shared
// read-only across all requests.
type Router struct {
	routes   map[string]routeEntry
	logger   observability.Logger
	onDenied func(auth.Permission)
	sealed   bool
}

// RouterOption customises a Router.
type RouterOption func(*Router)

// WithDenialRecorder installs a callback invoked with the route's
// permission whenever authorization denies a request.
func WithDenialRecorder(fn func(auth.Permission)) RouterOption {
	return func(r *Router) {
		r.onDenied = fn
	}
}

// NewRouter creates an empty router.
func NewRouter(logger observability.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = observability.NopLogger()
	}
	r := &Router{
		routes: make(map[string]routeEntry),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func routeKey(method, path string) string {
	return method + " " + path
}

// Register adds a route, resolving its middleware names. Duplicate
// (method, path) pairs and unknown middleware names are configuration
// errors.
func (r *Router) Register(registry *Registry, route Route) error {
	if r.sealed {
		return fmt.Errorf("route table is sealed")
	}
	if route.Method == "" || route.Path == "" || route.Handler == nil {
		return fmt.Errorf("route requires method, path and handler")
	}
	if route.Permission == "" {
		return fmt.Errorf("route %s %s has no permission", route.Method, route.Path)
	}

	key := routeKey(route.Method, route.Path)
	if _, exists := r.routes[key]; exists {
		return fmt.Errorf("duplicate route %s", key)
	}

	pipeline, err := registry.Resolve(route.Middlewares)
	if err != nil {
		return fmt.Errorf("route %s: %w", key, err)
	}

	r.routes[key] = routeEntry{route: route, pipeline: pipeline}
	r.logger.Debug("route registered",
		observability.String("method", route.Method),
		observability.String("path", route.Path),
		observability.String("permission", string(route.Permission)))
	return nil
}

// Seal freezes the route table. Registration after Seal fails.
func (r *Router) Seal() {
	r.sealed = true
}

// Routes returns the number of registered routes.
func (r *Router) Routes() int {
	return len(r.routes)
}

// Dispatch runs one request through match, pipeline, authorization and
// handler. The pipeline short-circuits on the first failing middleware;
// the handler never runs for a failed pipeline or a denied permission.
func (r *Router) Dispatch(ctx context.Context, rc *RequestContext) (*Response, error) {
	entry, ok := r.routes[routeKey(rc.Method, rc.Path)]
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("no route for %s %s", rc.Method, rc.Path))
	}

	for _, m := range entry.pipeline {
		if err := m.Handle(ctx, rc); err != nil {
			r.logger.Debug("middleware aborted request",
				observability.String("middleware", m.Name()),
				observability.String("requestId", rc.RequestID),
				observability.Error(err))
			return nil, err
		}
	}

	if err := auth.Authorize(rc.Identity, entry.route.Permission); err != nil {
		if r.onDenied != nil {
			r.onDenied(entry.route.Permission)
		}
		return nil, err
	}

	if rc.Identity != nil {
		ctx = auth.ContextWithIdentity(ctx, rc.Identity)
	}
	ctx = observability.ContextWithRequestID(ctx, rc.RequestID)

	return entry.route.Handler(ctx, rc)
}
