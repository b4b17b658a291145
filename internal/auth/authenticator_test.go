package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotiride/orderd/internal/apperr"
	"github.com/rotiride/orderd/internal/config"
	"github.com/rotiride/orderd/internal/firebase"
	"github.com/rotiride/orderd/internal/session"
)

// fakeStore is an in-memory SessionStore that counts calls and can
// inject failures.
type fakeStore struct {
	mu       sync.Mutex
	records  map[string]session.Record
	gets     int
	puts     int
	touches  int
	removes  int
	touchErr error
	putErr   error
	getErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]session.Record)}
}

func (s *fakeStore) Put(_ context.Context, rec session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return s.putErr
	}
	s.records[rec.Token] = rec
	return nil
}

func (s *fakeStore) Get(_ context.Context, token string) (session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return session.Record{}, s.getErr
	}
	rec, ok := s.records[token]
	if !ok {
		return session.Record{}, session.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) Touch(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touches++
	if s.touchErr != nil {
		return s.touchErr
	}
	if rec, ok := s.records[token]; ok {
		rec.LastActivityAt = time.Now()
		s.records[token] = rec
	}
	return nil
}

func (s *fakeStore) Remove(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removes++
	delete(s.records, token)
	return nil
}

// fakeVerifier returns canned claims and counts invocations.
type fakeVerifier struct {
	mu     sync.Mutex
	calls  int
	claims *firebase.Claims
	err    error
}

func (v *fakeVerifier) Verify(_ context.Context, _ string) (*firebase.Claims, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	return v.claims, nil
}

func (v *fakeVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// fakeOTP is a canned OTP provider.
type fakeOTP struct {
	sessionInfo string
	tokens      *firebase.Tokens
	err         error
}

func (o *fakeOTP) SendOTP(_ context.Context, _ string) (string, error) {
	return o.sessionInfo, o.err
}

func (o *fakeOTP) ExchangeOTP(_ context.Context, _, _ string) (*firebase.Tokens, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.tokens, nil
}

func (o *fakeOTP) RefreshToken(_ context.Context, _ string) (*firebase.Tokens, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.tokens, nil
}

func testClaims(now time.Time) *firebase.Claims {
	return &firebase.Claims{
		UserID:    "u1",
		Email:     "u1@example.com",
		Phone:     "+15550100",
		Name:      "User One",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func newTestAuthenticator(store *fakeStore, verifier *fakeVerifier, otp *fakeOTP, now time.Time) *Authenticator {
	roles := NewStaticRoleDirectory(&config.RolesConfig{Admins: []string{"admin-1"}})
	return NewAuthenticator(store, verifier, otp, roles,
		WithNow(func() time.Time { return now }))
}

func TestAuthenticateCachedSession(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	verifier := &fakeVerifier{claims: testClaims(now)}
	a := newTestAuthenticator(store, verifier, &fakeOTP{}, now)

	store.records["abc123"] = session.Record{
		Token:     "abc123",
		UserID:    "u1",
		Email:     "u1@example.com",
		ExpiresAt: now.Add(time.Hour),
	}

	identity, err := a.Authenticate(context.Background(), "Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, RoleCustomer, identity.Role)
	assert.Equal(t, "abc123", identity.SessionToken)

	// The cached session answers without the verifier.
	assert.Equal(t, 0, verifier.callCount())
	assert.Equal(t, 1, store.touches)
}

func TestAuthenticateExpiredSessionReverifies(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	verifier := &fakeVerifier{claims: testClaims(now)}
	a := newTestAuthenticator(store, verifier, &fakeOTP{}, now)

	store.records["abc123"] = session.Record{
		Token:     "abc123",
		UserID:    "u1",
		ExpiresAt: now.Add(-time.Minute),
	}

	identity, err := a.Authenticate(context.Background(), "Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)

	// Expired session removed, verifier consulted exactly once, session
	// repaired.
	assert.Equal(t, 1, store.removes)
	assert.Equal(t, 1, verifier.callCount())
	rec, ok := store.records["abc123"]
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour), rec.ExpiresAt)
}

func TestAuthenticateMalformedHeaders(t *testing.T) {
	now := time.Now()

	headers := []string{
		"",
		"Basic dXNlcjpwYXNz",
		"Bearer",
		"Bearer ",
		"Bearer    ",
		"bearer abc123",
		"BEARER abc123",
	}

	for _, header := range headers {
		store := newFakeStore()
		verifier := &fakeVerifier{claims: testClaims(now)}
		a := newTestAuthenticator(store, verifier, &fakeOTP{}, now)

		_, err := a.Authenticate(context.Background(), header)
		require.Error(t, err, "header %q", header)
		assert.Equal(t, apperr.CodeUnauthenticated, apperr.From(err).Code)
		assert.Contains(t, err.Error(), "malformed credential")

		// Neither the store nor the verifier is consulted.
		assert.Equal(t, 0, store.gets, "header %q", header)
		assert.Equal(t, 0, verifier.callCount(), "header %q", header)
	}
}

func TestAuthenticateUnknownTokenCreatesSession(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	verifier := &fakeVerifier{claims: testClaims(now)}
	a := newTestAuthenticator(store, verifier, &fakeOTP{}, now)

	identity, err := a.Authenticate(context.Background(), "Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)

	rec, ok := store.records["abc123"]
	require.True(t, ok)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, now.Add(time.Hour), rec.ExpiresAt)

	// A second request within the hour is served from cache; the
	// verifier call count stays at one.
	identity, err = a.Authenticate(context.Background(), "Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, 1, verifier.callCount())
}

func TestAuthenticateTouchFailureIsNotFatal(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	store.touchErr = errors.New("redis down")
	verifier := &fakeVerifier{claims: testClaims(now)}
	a := newTestAuthenticator(store, verifier, &fakeOTP{}, now)

	store.records["abc123"] = session.Record{
		Token:     "abc123",
		UserID:    "u1",
		ExpiresAt: now.Add(time.Hour),
	}

	identity, err := a.Authenticate(context.Background(), "Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
}

func TestAuthenticateInvalidToken(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	verifier := &fakeVerifier{err: firebase.ErrTokenInvalid}
	a := newTestAuthenticator(store, verifier, &fakeOTP{}, now)

	_, err := a.Authenticate(context.Background(), "Bearer garbage")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnauthenticated, apperr.From(err).Code)
	assert.Contains(t, err.Error(), "invalid or expired credential")
}

func TestAuthenticateVerifierOutage(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	verifier := &fakeVerifier{err: firebase.ErrKeyFetch}
	a := newTestAuthenticator(store, verifier, &fakeOTP{}, now)

	_, err := a.Authenticate(context.Background(), "Bearer abc123")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeExternalService, apperr.From(err).Code)
}

func TestAuthenticateStoreOutage(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	store.getErr = errors.New("redis down")
	verifier := &fakeVerifier{claims: testClaims(now)}
	a := newTestAuthenticator(store, verifier, &fakeOTP{}, now)

	_, err := a.Authenticate(context.Background(), "Bearer abc123")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeExternalService, apperr.From(err).Code)
	assert.Equal(t, 0, verifier.callCount())
}

func TestAuthenticateRoleFromDirectory(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	claims := testClaims(now)
	claims.UserID = "admin-1"
	verifier := &fakeVerifier{claims: claims}
	a := newTestAuthenticator(store, verifier, &fakeOTP{}, now)

	identity, err := a.Authenticate(context.Background(), "Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, identity.Role)
}

func TestStartLogin(t *testing.T) {
	now := time.Now()
	a := newTestAuthenticator(newFakeStore(), &fakeVerifier{}, &fakeOTP{sessionInfo: "handle-1"}, now)

	handle, err := a.StartLogin(context.Background(), "+15550100")
	require.NoError(t, err)
	assert.Equal(t, "handle-1", handle)

	_, err = a.StartLogin(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.From(err).Code)
}

func TestCompleteLoginMintsFreshToken(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	verifier := &fakeVerifier{claims: testClaims(now)}
	otp := &fakeOTP{tokens: &firebase.Tokens{
		IDToken:      "provider-id-token",
		RefreshToken: "provider-refresh",
		ExpiresIn:    time.Hour,
		UserID:       "u1",
	}}
	a := newTestAuthenticator(store, verifier, otp, now)

	identity, err := a.CompleteLogin(context.Background(), "handle-1", "123456")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)

	// The session token is freshly minted, never the provider's token.
	require.NotEmpty(t, identity.SessionToken)
	assert.NotEqual(t, "provider-id-token", identity.SessionToken)

	rec, ok := store.records[identity.SessionToken]
	require.True(t, ok)
	assert.Equal(t, "provider-id-token", rec.IDToken)
	assert.Equal(t, "provider-refresh", rec.RefreshToken)
}

func TestCompleteLoginRequiresInputs(t *testing.T) {
	now := time.Now()
	a := newTestAuthenticator(newFakeStore(), &fakeVerifier{}, &fakeOTP{}, now)

	_, err := a.CompleteLogin(context.Background(), "", "123456")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.From(err).Code)

	_, err = a.CompleteLogin(context.Background(), "handle", "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.From(err).Code)
}

func TestRefreshSession(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	claims := testClaims(now)
	claims.ExpiresAt = now.Add(2 * time.Hour)
	verifier := &fakeVerifier{claims: claims}
	otp := &fakeOTP{tokens: &firebase.Tokens{
		IDToken:      "new-id-token",
		RefreshToken: "new-refresh",
		ExpiresIn:    2 * time.Hour,
	}}
	a := newTestAuthenticator(store, verifier, otp, now)

	store.records["sess-1"] = session.Record{
		Token:        "sess-1",
		UserID:       "u1",
		RefreshToken: "old-refresh",
		ExpiresAt:    now.Add(time.Minute),
	}

	identity, err := a.RefreshSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)

	rec := store.records["sess-1"]
	assert.Equal(t, "new-id-token", rec.IDToken)
	assert.Equal(t, "new-refresh", rec.RefreshToken)
	assert.Equal(t, now.Add(2*time.Hour), rec.ExpiresAt)
}

func TestRefreshSessionUnknownToken(t *testing.T) {
	now := time.Now()
	a := newTestAuthenticator(newFakeStore(), &fakeVerifier{}, &fakeOTP{}, now)

	_, err := a.RefreshSession(context.Background(), "absent")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnauthenticated, apperr.From(err).Code)
}

func TestLogout(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	a := newTestAuthenticator(store, &fakeVerifier{}, &fakeOTP{}, now)

	store.records["sess-1"] = session.Record{Token: "sess-1", UserID: "u1"}

	require.NoError(t, a.Logout(context.Background(), "sess-1"))
	assert.Empty(t, store.records)

	// Logging out an unknown token is not an error.
	assert.NoError(t, a.Logout(context.Background(), "sess-1"))
}
