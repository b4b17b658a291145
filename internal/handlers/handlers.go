// Package handlers implements the service's HTTP-facing endpoints:
// service info, health, the OTP login flow, session refresh/logout and
// the profile view.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rotiride/orderd/internal/apperr"
	"github.com/rotiride/orderd/internal/auth"
	"github.com/rotiride/orderd/internal/observability"
	"github.com/rotiride/orderd/internal/router"
	"github.com/rotiride/orderd/internal/session"
)

// Version is the service version reported by the info endpoint.
const Version = "1.0.0"

// Pinger is the reachability probe the health endpoint uses.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the collaborators handlers depend on.
type Services struct {
	Auth     *auth.Authenticator
	Sessions *session.Store
	Backend  Pinger
	Logger   observability.Logger
}

// decodeJSON unmarshals a request body into dst.
func decodeJSON(rc *router.RequestContext, dst interface{}) error {
	if len(rc.Body) == 0 {
		return apperr.Validation("request body is required")
	}
	if err := json.Unmarshal(rc.Body, dst); err != nil {
		return apperr.Validation("malformed JSON body")
	}
	return nil
}

// ServiceInfo answers the root path with service identification.
func (s *Services) ServiceInfo(_ context.Context, _ *router.RequestContext) (*router.Response, error) {
	return router.NewJSONResponse(http.StatusOK, map[string]string{
		"service": "orderd",
		"version": Version,
	})
}

// Health reports liveness of the service and its durable backend.
func (s *Services) Health(ctx context.Context, _ *router.RequestContext) (*router.Response, error) {
	if s.Backend != nil {
		if err := s.Backend.Ping(ctx); err != nil {
			return nil, apperr.ExternalService("session-store", err)
		}
	}
	return router.NewJSONResponse(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StartLogin triggers an OTP dispatch to the given phone number.
func (s *Services) StartLogin(ctx context.Context, rc *router.RequestContext) (*router.Response, error) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := decodeJSON(rc, &req); err != nil {
		return nil, err
	}

	sessionInfo, err := s.Auth.StartLogin(ctx, req.Phone)
	if err != nil {
		return nil, err
	}

	return router.NewJSONResponse(http.StatusOK, map[string]string{
		"session_info": sessionInfo,
	})
}

// CompleteLogin exchanges the OTP code for a session.
func (s *Services) CompleteLogin(ctx context.Context, rc *router.RequestContext) (*router.Response, error) {
	var req struct {
		SessionInfo string `json:"session_info"`
		Code        string `json:"code"`
	}
	if err := decodeJSON(rc, &req); err != nil {
		return nil, err
	}

	identity, err := s.Auth.CompleteLogin(ctx, req.SessionInfo, req.Code)
	if err != nil {
		return nil, err
	}

	return router.NewJSONResponse(http.StatusOK, map[string]interface{}{
		"session_token": identity.SessionToken,
		"user":          identity,
	})
}

// Refresh extends the caller's session using its stored refresh token.
func (s *Services) Refresh(ctx context.Context, rc *router.RequestContext) (*router.Response, error) {
	identity, err := s.Auth.RefreshSession(ctx, rc.Identity.SessionToken)
	if err != nil {
		return nil, err
	}
	return router.NewJSONResponse(http.StatusOK, map[string]interface{}{
		"session_token": identity.SessionToken,
		"user":          identity,
	})
}

// Logout removes the caller's session.
func (s *Services) Logout(ctx context.Context, rc *router.RequestContext) (*router.Response, error) {
	if err := s.Auth.Logout(ctx, rc.Identity.SessionToken); err != nil {
		return nil, err
	}
	return router.NewNoContentResponse(), nil
}

// Profile returns the caller's resolved identity.
func (s *Services) Profile(_ context.Context, rc *router.RequestContext) (*router.Response, error) {
	return router.NewJSONResponse(http.StatusOK, rc.Identity)
}

// SessionStats reports session cache occupancy. Admin only.
func (s *Services) SessionStats(_ context.Context, _ *router.RequestContext) (*router.Response, error) {
	return router.NewJSONResponse(http.StatusOK, map[string]int{
		"cached_sessions": s.Sessions.CachedCount(),
	})
}
