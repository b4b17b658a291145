package handlers

import (
	"net/http"

	"github.com/rotiride/orderd/internal/auth"
	"github.com/rotiride/orderd/internal/router"
)

// Middleware pipelines by route class. Order matters: logging first,
// shape validation before anything touches the body, auth last so
// rejected requests are still logged and rate limited.
var (
	publicPipeline = []string{
		router.MiddlewareLogging,
		router.MiddlewareRateLimit,
		router.MiddlewareValidate,
		router.MiddlewareCORS,
	}
	authenticatedPipeline = []string{
		router.MiddlewareLogging,
		router.MiddlewareRateLimit,
		router.MiddlewareValidate,
		router.MiddlewareCORS,
		router.MiddlewareAuth,
	}
)

// Register installs every route on the router and seals the table.
func Register(rt *router.Router, registry *router.Registry, svc *Services) error {
	routes := []router.Route{
		{
			Method:      http.MethodGet,
			Path:        "/",
			Middlewares: publicPipeline,
			Permission:  auth.PermissionPublic,
			Handler:     svc.ServiceInfo,
		},
		{
			Method:      http.MethodGet,
			Path:        "/health",
			Middlewares: publicPipeline,
			Permission:  auth.PermissionPublic,
			Handler:     svc.Health,
		},
		{
			Method:      http.MethodPost,
			Path:        "/auth/login/start",
			Middlewares: publicPipeline,
			Permission:  auth.PermissionPublic,
			Handler:     svc.StartLogin,
		},
		{
			Method:      http.MethodPost,
			Path:        "/auth/login/verify",
			Middlewares: publicPipeline,
			Permission:  auth.PermissionPublic,
			Handler:     svc.CompleteLogin,
		},
		{
			Method:      http.MethodPost,
			Path:        "/auth/refresh",
			Middlewares: authenticatedPipeline,
			Permission:  auth.PermissionAuthenticatedOnly,
			Handler:     svc.Refresh,
		},
		{
			Method:      http.MethodPost,
			Path:        "/auth/logout",
			Middlewares: authenticatedPipeline,
			Permission:  auth.PermissionAuthenticatedOnly,
			Handler:     svc.Logout,
		},
		{
			Method:      http.MethodGet,
			Path:        "/profile",
			Middlewares: authenticatedPipeline,
			Permission:  auth.PermissionAuthenticatedOnly,
			Handler:     svc.Profile,
		},
		{
			Method:      http.MethodGet,
			Path:        "/admin/sessions",
			Middlewares: authenticatedPipeline,
			Permission:  auth.PermissionAdminScope,
			Handler:     svc.SessionStats,
		},
	}

	for _, route := range routes {
		if err := rt.Register(registry, route); err != nil {
			return err
		}
	}
	rt.Seal()
	return nil
}
