// Package firebase is the credential verifier: a client for the Firebase
// phone-auth REST API plus offline ID token verification against Google's
// published signing certificates.
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rotiride/orderd/internal/apperr"
	"github.com/rotiride/orderd/internal/config"
	"github.com/rotiride/orderd/internal/observability"
)

const (
	defaultIdentityEndpoint = "https://identitytoolkit.googleapis.com/v1"
	defaultTokenEndpoint    = "https://securetoken.googleapis.com/v1"

	tracerName = "orderd/firebase"
)

// Tokens is a credential set issued by the identity service.
type Tokens struct {
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
	UserID       string
	Phone        string
}

// Client talks to the Firebase identity REST API. All outbound calls go
// through a circuit breaker so a degraded upstream fails fast instead of
// tying up streams.
type Client struct {
	httpClient       *http.Client
	apiKey           string
	identityEndpoint string
	tokenEndpoint    string
	breaker          *gobreaker.CircuitBreaker
	logger           observability.Logger
	metrics          *Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client's logger.
func WithClientLogger(logger observability.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClientMetrics sets the client's metrics.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithHTTPClient overrides the HTTP client. Used by tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a Firebase identity client.
func NewClient(cfg *config.FirebaseConfig, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:       &http.Client{Timeout: 10 * time.Second},
		apiKey:           cfg.APIKey,
		identityEndpoint: defaultIdentityEndpoint,
		tokenEndpoint:    defaultTokenEndpoint,
		logger:           observability.NopLogger(),
	}
	if cfg.IdentityEndpoint != "" {
		c.identityEndpoint = strings.TrimSuffix(cfg.IdentityEndpoint, "/")
	}
	if cfg.TokenEndpoint != "" {
		c.tokenEndpoint = strings.TrimSuffix(cfg.TokenEndpoint, "/")
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "firebase",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 4xx rejection reached a healthy upstream; only transport
		// failures and 5xx responses count toward tripping.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var api *apiError
			return errors.As(err, &api) && api.status < http.StatusInternalServerError
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("firebase circuit breaker state change",
				observability.String("from", from.String()),
				observability.String("to", to.String()))
		},
	})

	return c
}

// SendOTP starts a phone sign-in and returns the opaque session info that
// pairs with the one-time code delivered to the phone.
func (c *Client) SendOTP(ctx context.Context, phone string) (string, error) {
	var resp struct {
		SessionInfo string `json:"sessionInfo"`
	}

	err := c.post(ctx, "sendVerificationCode",
		c.identityURL("accounts:sendVerificationCode"),
		map[string]string{"phoneNumber": phone},
		&resp)
	if err != nil {
		return "", err
	}
	if resp.SessionInfo == "" {
		return "", apperr.ExternalService("firebase",
			errors.New("sendVerificationCode returned no sessionInfo"))
	}
	return resp.SessionInfo, nil
}

// ExchangeOTP completes a phone sign-in: session info plus the one-time
// code yields a credential set. A wrong or stale code is an
// authentication failure, not an upstream outage.
func (c *Client) ExchangeOTP(ctx context.Context, sessionInfo, code string) (*Tokens, error) {
	var resp struct {
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    string `json:"expiresIn"`
		LocalID      string `json:"localId"`
		PhoneNumber  string `json:"phoneNumber"`
	}

	err := c.post(ctx, "signInWithPhoneNumber",
		c.identityURL("accounts:signInWithPhoneNumber"),
		map[string]string{"sessionInfo": sessionInfo, "code": code},
		&resp)
	if err != nil {
		return nil, err
	}

	return &Tokens{
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    parseExpiresIn(resp.ExpiresIn),
		UserID:       resp.LocalID,
		Phone:        resp.PhoneNumber,
	}, nil
}

// RefreshToken trades a refresh token for a fresh credential set.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "firebase.RefreshToken",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	endpoint := c.tokenEndpoint + "/token?key=" + url.QueryEscape(c.apiKey)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
			strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		return c.do(req)
	})
	if err != nil {
		c.metrics.RecordRequest("refreshToken", "error")
		span.SetStatus(codes.Error, err.Error())
		return nil, c.mapError("refreshToken", err)
	}
	c.metrics.RecordRequest("refreshToken", "ok")

	var resp struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
		UserID       string `json:"user_id"`
	}
	if err := json.Unmarshal(result.([]byte), &resp); err != nil {
		return nil, apperr.ExternalService("firebase", err)
	}

	return &Tokens{
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    parseExpiresIn(resp.ExpiresIn),
		UserID:       resp.UserID,
	}, nil
}

func (c *Client) identityURL(method string) string {
	return c.identityEndpoint + "/" + method + "?key=" + url.QueryEscape(c.apiKey)
}

// post sends a JSON request through the circuit breaker and decodes the
// response into out.
func (c *Client) post(ctx context.Context, operation, endpoint string, body, out interface{}) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "firebase."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("firebase.operation", operation)))
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "encode firebase request", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
			bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		return c.do(req)
	})
	if err != nil {
		c.metrics.RecordRequest(operation, "error")
		span.SetStatus(codes.Error, err.Error())
		return c.mapError(operation, err)
	}
	c.metrics.RecordRequest(operation, "ok")

	if err := json.Unmarshal(result.([]byte), out); err != nil {
		return apperr.ExternalService("firebase", err)
	}
	return nil
}

// do executes the request and returns the body, folding non-2xx statuses
// into apiError.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// apiError is a non-2xx response from the identity service.
type apiError struct {
	status  int
	message string
}

func newAPIError(status int, body []byte) *apiError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := http.StatusText(status)
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}
	return &apiError{status: status, message: message}
}

func (e *apiError) Error() string {
	return fmt.Sprintf("firebase API error %d: %s", e.status, e.message)
}

// mapError translates transport, breaker and API errors into the
// application taxonomy. Client-side rejections (wrong code, bad session
// info) become authentication failures; everything else is an upstream
// outage.
func (c *Client) mapError(operation string, err error) error {
	var api *apiError
	if errors.As(err, &api) && api.status >= 400 && api.status < 500 {
		c.logger.Debug("firebase rejected credentials",
			observability.String("operation", operation),
			observability.String("reason", api.message))
		return apperr.Unauthenticated(api.message)
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Warn("firebase circuit breaker rejecting requests",
			observability.String("operation", operation))
	} else {
		c.logger.Error("firebase request failed",
			observability.String("operation", operation),
			observability.Error(err))
	}
	return apperr.ExternalService("firebase", err)
}

func parseExpiresIn(s string) time.Duration {
	seconds, err := strconv.ParseInt(s, 10, 64)
	if err != nil || seconds <= 0 {
		return time.Hour
	}
	return time.Duration(seconds) * time.Second
}
