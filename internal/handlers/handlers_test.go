package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotiride/orderd/internal/apperr"
	"github.com/rotiride/orderd/internal/auth"
	"github.com/rotiride/orderd/internal/config"
	"github.com/rotiride/orderd/internal/firebase"
	"github.com/rotiride/orderd/internal/observability"
	"github.com/rotiride/orderd/internal/router"
	"github.com/rotiride/orderd/internal/session"
)

type stubVerifier struct {
	claims *firebase.Claims
	err    error
}

func (v *stubVerifier) Verify(_ context.Context, _ string) (*firebase.Claims, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.claims, nil
}

type stubOTP struct {
	tokens *firebase.Tokens
}

func (o *stubOTP) SendOTP(_ context.Context, _ string) (string, error) {
	return "otp-handle", nil
}

func (o *stubOTP) ExchangeOTP(_ context.Context, _, _ string) (*firebase.Tokens, error) {
	return o.tokens, nil
}

func (o *stubOTP) RefreshToken(_ context.Context, _ string) (*firebase.Tokens, error) {
	return o.tokens, nil
}

type stubPinger struct{ err error }

func (p *stubPinger) Ping(_ context.Context) error { return p.err }

type testEnv struct {
	router  *router.Router
	store   *session.Store
	pinger  *stubPinger
	backend session.Backend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	backend := session.NewRedisBackendWithClient(client, "test:", observability.NopLogger())
	store := session.NewStore(backend)

	now := time.Now()
	verifier := &stubVerifier{claims: &firebase.Claims{
		UserID:    "u1",
		Email:     "u1@example.com",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}}
	otp := &stubOTP{tokens: &firebase.Tokens{
		IDToken:      "provider-id-token",
		RefreshToken: "provider-refresh",
		ExpiresIn:    time.Hour,
		UserID:       "u1",
	}}

	roles := auth.NewStaticRoleDirectory(&config.RolesConfig{Admins: []string{"admin-1"}})
	authenticator := auth.NewAuthenticator(store, verifier, otp, roles)

	pinger := &stubPinger{}
	svc := &Services{
		Auth:     authenticator,
		Sessions: store,
		Backend:  pinger,
		Logger:   observability.NopLogger(),
	}

	cfg := config.Default()
	registry := router.NewRegistry()
	registry.Register(router.NewLoggingMiddleware(observability.NopLogger()))
	registry.Register(router.NewRateLimitMiddleware(&config.RateLimitConfig{RPS: 1000, Burst: 1000}))
	registry.Register(router.NewValidationMiddleware(&cfg.Server))
	registry.Register(router.NewCORSMiddleware())
	registry.Register(router.NewAuthMiddleware(authenticator))

	rt := router.NewRouter(nil)
	require.NoError(t, Register(rt, registry, svc))

	return &testEnv{router: rt, store: store, pinger: pinger, backend: backend}
}

func (e *testEnv) dispatch(t *testing.T, method, rawURL, bearer string, body interface{}) (*router.Response, error) {
	t.Helper()

	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	header := make(http.Header)
	if bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}

	rc := router.NewRequestContext(method, u, header, payload, "127.0.0.1:1")
	return e.router.Dispatch(context.Background(), rc)
}

func decodeBody(t *testing.T, resp *router.Response) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	return body
}

func TestServiceInfo(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.dispatch(t, http.MethodGet, "/", "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	body := decodeBody(t, resp)
	assert.Equal(t, "orderd", body["service"])
	assert.Equal(t, Version, body["version"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.dispatch(t, http.MethodGet, "/health", "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	env.pinger.err = errors.New("redis down")
	_, err = env.dispatch(t, http.MethodGet, "/health", "", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeExternalService, apperr.From(err).Code)
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.dispatch(t, http.MethodPost, "/auth/login/start", "",
		map[string]string{"phone": "+15550100"})
	require.NoError(t, err)
	assert.Equal(t, "otp-handle", decodeBody(t, resp)["session_info"])

	resp, err = env.dispatch(t, http.MethodPost, "/auth/login/verify", "",
		map[string]string{"session_info": "otp-handle", "code": "123456"})
	require.NoError(t, err)

	token, _ := decodeBody(t, resp)["session_token"].(string)
	require.NotEmpty(t, token)
	assert.NotEqual(t, "provider-id-token", token)

	// The minted session authenticates subsequent requests.
	resp, err = env.dispatch(t, http.MethodGet, "/profile", token, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "u1", decodeBody(t, resp)["user_id"])
}

func TestLoginStartRequiresBody(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.dispatch(t, http.MethodPost, "/auth/login/start", "", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.From(err).Code)
}

func TestProfileRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.dispatch(t, http.MethodGet, "/profile", "", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnauthenticated, apperr.From(err).Code)
}

func TestAdminRouteForbiddenForCustomer(t *testing.T) {
	env := newTestEnv(t)

	// Any bearer token resolves to u1, a customer.
	_, err := env.dispatch(t, http.MethodGet, "/admin/sessions", "any-token", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeForbidden, apperr.From(err).Code)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.dispatch(t, http.MethodPost, "/auth/login/verify", "",
		map[string]string{"session_info": "otp-handle", "code": "123456"})
	require.NoError(t, err)
	token, _ := decodeBody(t, resp)["session_token"].(string)
	require.NotEmpty(t, token)

	resp, err = env.dispatch(t, http.MethodPost, "/auth/logout", token, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)

	// The session is gone from the store.
	_, err = env.store.Get(context.Background(), token)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.dispatch(t, http.MethodPost, "/auth/login/verify", "",
		map[string]string{"session_info": "otp-handle", "code": "123456"})
	require.NoError(t, err)
	token, _ := decodeBody(t, resp)["session_token"].(string)
	require.NotEmpty(t, token)

	resp, err = env.dispatch(t, http.MethodPost, "/auth/refresh", token, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, token, decodeBody(t, resp)["session_token"])
}
