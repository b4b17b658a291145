package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rotiride/orderd/internal/apperr"
	"github.com/rotiride/orderd/internal/firebase"
	"github.com/rotiride/orderd/internal/observability"
	"github.com/rotiride/orderd/internal/session"
)

const tracerName = "orderd/auth"

// bearerPrefix is the accepted credential scheme. Case-sensitive, single
// space.
const bearerPrefix = "Bearer "

// OTPClient is the out-of-band login surface of the credential provider.
type OTPClient interface {
	SendOTP(ctx context.Context, phone string) (string, error)
	ExchangeOTP(ctx context.Context, sessionInfo, code string) (*firebase.Tokens, error)
	RefreshToken(ctx context.Context, refreshToken string) (*firebase.Tokens, error)
}

// SessionStore is the session persistence surface the authenticator
// drives.
type SessionStore interface {
	Put(ctx context.Context, rec session.Record) error
	Get(ctx context.Context, token string) (session.Record, error)
	Touch(ctx context.Context, token string) error
	Remove(ctx context.Context, token string) error
}

// Authenticator resolves bearer credentials into identities and owns the
// session lifecycle around them.
type Authenticator struct {
	store    SessionStore
	verifier firebase.TokenVerifier
	otp      OTPClient
	roles    RoleDirectory
	logger   observability.Logger
	metrics  *Metrics
	now      func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the authenticator's logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics sets the authenticator's metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *Authenticator) {
		a.metrics = m
	}
}

// WithNow overrides the authenticator's time source. Used by tests.
func WithNow(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator wires the authenticator's collaborators.
func NewAuthenticator(store SessionStore, verifier firebase.TokenVerifier, otp OTPClient, roles RoleDirectory, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:    store,
		verifier: verifier,
		otp:      otp,
		roles:    roles,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// extractBearer pulls the token out of an Authorization header value. The
// scheme must be exactly "Bearer " and the remainder, trimmed, must be
// non-empty.
func extractBearer(header string) (string, error) {
	if header == "" {
		return "", apperr.Unauthenticated("malformed credential")
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", apperr.Unauthenticated("malformed credential")
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", apperr.Unauthenticated("malformed credential")
	}
	return token, nil
}

// Authenticate resolves the Authorization header into an identity.
//
// Resolution is strictly two-phase: a cached, unexpired session answers
// without touching the verifier; anything else falls through to full
// remote verification, which also repairs the cache by minting a new
// session keyed by the same bearer token.
func (a *Authenticator) Authenticate(ctx context.Context, authorizationHeader string) (*Identity, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "auth.Authenticate")
	defer span.End()

	token, err := extractBearer(authorizationHeader)
	if err != nil {
		a.metrics.RecordAuthentication(OutcomeRejected)
		return nil, err
	}

	now := a.now()

	rec, err := a.store.Get(ctx, token)
	switch {
	case err == nil:
		if !rec.IsExpired(now) {
			// Activity tracking is best-effort: a failed touch is
			// logged, not surfaced.
			if err := a.store.Touch(ctx, token); err != nil {
				a.logger.Warn("session activity update failed",
					observability.Error(err))
			}
			span.SetAttributes(attribute.String("auth.outcome", OutcomeCacheHit))
			a.metrics.RecordAuthentication(OutcomeCacheHit)
			a.logger.Debug("session reused",
				observability.String("userId", rec.UserID),
				observability.Duration("sessionAge", rec.Age(now)),
				observability.Duration("idleTime", rec.IdleTime(now)))
			return a.identityFromRecord(ctx, rec)
		}

		if err := a.store.Remove(ctx, token); err != nil {
			a.logger.Warn("expired session removal failed",
				observability.Error(err))
		}

	case errors.Is(err, session.ErrNotFound):
		// Fall through to verification.

	default:
		a.metrics.RecordAuthentication(OutcomeError)
		return nil, apperr.ExternalService("session-store", err)
	}

	claims, err := a.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, firebase.ErrKeyFetch) {
			a.metrics.RecordAuthentication(OutcomeError)
			return nil, apperr.ExternalService("firebase", err)
		}
		a.metrics.RecordAuthentication(OutcomeRejected)
		return nil, apperr.Unauthenticated("invalid or expired credential")
	}

	rec = session.Record{
		Token:          token,
		UserID:         claims.UserID,
		Email:          claims.Email,
		Phone:          claims.Phone,
		Name:           claims.Name,
		Picture:        claims.Picture,
		IDToken:        token,
		ExpiresAt:      claims.ExpiresAt,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := a.store.Put(ctx, rec); err != nil {
		a.metrics.RecordAuthentication(OutcomeError)
		return nil, apperr.ExternalService("session-store", err)
	}

	span.SetAttributes(attribute.String("auth.outcome", OutcomeVerified))
	a.metrics.RecordAuthentication(OutcomeVerified)
	return a.identityFromRecord(ctx, rec)
}

// identityFromRecord derives the per-request identity from a session
// record, resolving the role through the directory.
func (a *Authenticator) identityFromRecord(ctx context.Context, rec session.Record) (*Identity, error) {
	role := RoleCustomer
	if a.roles != nil {
		resolved, err := a.roles.RoleFor(ctx, rec.UserID)
		if err != nil {
			a.logger.Warn("role lookup failed, defaulting to customer",
				observability.String("userId", rec.UserID),
				observability.Error(err))
		} else {
			role = resolved
		}
	}

	return &Identity{
		UserID:       rec.UserID,
		Email:        rec.Email,
		Phone:        rec.Phone,
		Name:         rec.Name,
		Picture:      rec.Picture,
		Role:         role,
		SessionToken: rec.Token,
	}, nil
}

// StartLogin begins a phone/OTP login and returns the opaque handle that
// pairs with the delivered code.
func (a *Authenticator) StartLogin(ctx context.Context, phone string) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "auth.StartLogin")
	defer span.End()

	if strings.TrimSpace(phone) == "" {
		return "", apperr.Validation("phone number is required")
	}
	return a.otp.SendOTP(ctx, phone)
}

// CompleteLogin exchanges the OTP for provider credentials, verifies
// them, and mints a fresh session. The session token is an internally
// generated opaque identifier, never the provider's own token.
func (a *Authenticator) CompleteLogin(ctx context.Context, sessionInfo, code string) (*Identity, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "auth.CompleteLogin")
	defer span.End()

	if sessionInfo == "" || code == "" {
		return nil, apperr.Validation("session info and code are required")
	}

	tokens, err := a.otp.ExchangeOTP(ctx, sessionInfo, code)
	if err != nil {
		a.metrics.RecordLogin(OutcomeRejected)
		return nil, err
	}

	claims, err := a.verifier.Verify(ctx, tokens.IDToken)
	if err != nil {
		if errors.Is(err, firebase.ErrKeyFetch) {
			a.metrics.RecordLogin(OutcomeError)
			return nil, apperr.ExternalService("firebase", err)
		}
		a.metrics.RecordLogin(OutcomeRejected)
		return nil, apperr.Unauthenticated("invalid or expired credential")
	}

	sessionToken, err := newSessionToken()
	if err != nil {
		a.metrics.RecordLogin(OutcomeError)
		return nil, apperr.Wrap(apperr.CodeInternal, "session token generation failed", err)
	}

	now := a.now()
	expiresAt := claims.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(tokens.ExpiresIn)
	}

	rec := session.Record{
		Token:          sessionToken,
		UserID:         claims.UserID,
		Email:          claims.Email,
		Phone:          firstNonEmpty(claims.Phone, tokens.Phone),
		Name:           claims.Name,
		Picture:        claims.Picture,
		IDToken:        tokens.IDToken,
		RefreshToken:   tokens.RefreshToken,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := a.store.Put(ctx, rec); err != nil {
		a.metrics.RecordLogin(OutcomeError)
		return nil, apperr.ExternalService("session-store", err)
	}

	a.metrics.RecordLogin(OutcomeVerified)
	a.logger.Info("login completed",
		observability.String("userId", claims.UserID))
	return a.identityFromRecord(ctx, rec)
}

// RefreshSession trades the session's refresh token for fresh provider
// credentials and extends the session's lifetime in place.
func (a *Authenticator) RefreshSession(ctx context.Context, sessionToken string) (*Identity, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "auth.RefreshSession")
	defer span.End()

	rec, err := a.store.Get(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, apperr.Unauthenticated("unknown session")
		}
		return nil, apperr.ExternalService("session-store", err)
	}
	if rec.RefreshToken == "" {
		return nil, apperr.Unauthenticated("session is not refreshable")
	}

	tokens, err := a.otp.RefreshToken(ctx, rec.RefreshToken)
	if err != nil {
		return nil, err
	}

	claims, err := a.verifier.Verify(ctx, tokens.IDToken)
	if err != nil {
		if errors.Is(err, firebase.ErrKeyFetch) {
			return nil, apperr.ExternalService("firebase", err)
		}
		return nil, apperr.Unauthenticated("invalid or expired credential")
	}

	now := a.now()
	rec.IDToken = tokens.IDToken
	if tokens.RefreshToken != "" {
		rec.RefreshToken = tokens.RefreshToken
	}
	rec.ExpiresAt = claims.ExpiresAt
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = now.Add(tokens.ExpiresIn)
	}
	rec.LastActivityAt = now

	if err := a.store.Put(ctx, rec); err != nil {
		return nil, apperr.ExternalService("session-store", err)
	}
	return a.identityFromRecord(ctx, rec)
}

// Logout removes the session unconditionally. Logging out an unknown
// token is not an error.
func (a *Authenticator) Logout(ctx context.Context, sessionToken string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "auth.Logout")
	defer span.End()

	if err := a.store.Remove(ctx, sessionToken); err != nil {
		return apperr.ExternalService("session-store", err)
	}
	a.metrics.RecordLogout()
	return nil
}

// newSessionToken returns a fresh 256-bit opaque token.
func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
