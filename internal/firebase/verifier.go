package firebase

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rotiride/orderd/internal/config"
	"github.com/rotiride/orderd/internal/observability"
)

// defaultKeysEndpoint serves the x509 certificates Firebase signs ID
// tokens with, keyed by key id.
const defaultKeysEndpoint = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

// clockSkew is how far in the future a token's issue time may sit before
// it is rejected. Expiry gets no such grace: a token past exp is dead.
const clockSkew = 5 * time.Minute

// Verification errors. ErrTokenExpired is distinguished because an
// expired credential triggers session teardown rather than a plain
// rejection.
var (
	ErrTokenExpired = errors.New("id token expired")
	ErrTokenInvalid = errors.New("id token invalid")

	// ErrKeyFetch means the signing key set could not be retrieved. An
	// upstream outage, not a credential problem.
	ErrKeyFetch = errors.New("signing key fetch failed")
)

// Claims is the identity carried by a verified ID token.
type Claims struct {
	UserID        string
	Email         string
	EmailVerified bool
	Phone         string
	Name          string
	Picture       string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// TokenVerifier validates an upstream-issued ID token and extracts its
// identity claims.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*Claims, error)
}

// idTokenClaims is the JWT payload of a Firebase ID token.
type idTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Phone         string `json:"phone_number"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Verifier verifies Firebase ID tokens offline against Google's published
// signing certificates. Certificates are cached for the lifetime Google
// advertises in the response's Cache-Control header.
type Verifier struct {
	projectID    string
	keysEndpoint string
	httpClient   *http.Client
	logger       observability.Logger
	metrics      *Metrics
	now          func() time.Time

	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	keysExpiry time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierLogger sets the verifier's logger.
func WithVerifierLogger(logger observability.Logger) VerifierOption {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithVerifierMetrics sets the verifier's metrics.
func WithVerifierMetrics(m *Metrics) VerifierOption {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// WithVerifierClock overrides the verifier's time source. Used by tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier creates an ID token verifier for the configured project.
func NewVerifier(cfg *config.FirebaseConfig, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		projectID:    cfg.ProjectID,
		keysEndpoint: defaultKeysEndpoint,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       observability.NopLogger(),
		now:          time.Now,
		keys:         make(map[string]*rsa.PublicKey),
	}
	if cfg.KeysEndpoint != "" {
		v.keysEndpoint = cfg.KeysEndpoint
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the token's signature, issuer, audience and lifetime and
// returns its claims. Expired tokens return ErrTokenExpired; all other
// failures return ErrTokenInvalid.
func (v *Verifier) Verify(ctx context.Context, idToken string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)

	claims := &idTokenClaims{}
	token, err := parser.ParseWithClaims(idToken, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return v.signingKey(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			v.metrics.RecordVerification("expired")
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		if errors.Is(err, ErrKeyFetch) {
			v.metrics.RecordVerification("error")
			return nil, err
		}
		v.metrics.RecordVerification("invalid")
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Subject == "" {
		v.metrics.RecordVerification("invalid")
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	// Issue times up to clockSkew in the future are tolerated; the parser
	// above keeps exp strict.
	if claims.IssuedAt != nil && claims.IssuedAt.After(v.now().Add(clockSkew)) {
		v.metrics.RecordVerification("invalid")
		return nil, fmt.Errorf("%w: token issued in the future", ErrTokenInvalid)
	}

	v.metrics.RecordVerification("ok")

	out := &Claims{
		UserID:        claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Phone:         claims.Phone,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// signingKey returns the public key for the key id, refreshing the cached
// certificate set when it is stale.
func (v *Verifier) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	fresh := v.now().Before(v.keysExpiry)
	v.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if err := v.refreshKeys(ctx); err != nil {
		// A stale key is better than no key when the refresh fails.
		if ok {
			v.logger.Warn("using stale signing key after refresh failure",
				observability.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}

	v.mu.RLock()
	key, ok = v.keys[kid]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

var maxAgePattern = regexp.MustCompile(`max-age=(\d+)`)

// refreshKeys fetches and parses the published certificate set.
func (v *Verifier) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.keysEndpoint, nil)
	if err != nil {
		return err
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch signing keys: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch signing keys: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("fetch signing keys: %w", err)
	}

	var certs map[string]string
	if err := json.Unmarshal(body, &certs); err != nil {
		return fmt.Errorf("decode signing keys: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, certPEM := range certs {
		key, err := publicKeyFromCert(certPEM)
		if err != nil {
			v.logger.Warn("skipping unparsable signing certificate",
				observability.String("kid", kid),
				observability.Error(err))
			continue
		}
		keys[kid] = key
	}
	if len(keys) == 0 {
		return errors.New("signing key set is empty")
	}

	ttl := time.Hour
	if m := maxAgePattern.FindStringSubmatch(resp.Header.Get("Cache-Control")); m != nil {
		if seconds, err := strconv.Atoi(m[1]); err == nil && seconds > 0 {
			ttl = time.Duration(seconds) * time.Second
		}
	}

	v.mu.Lock()
	v.keys = keys
	v.keysExpiry = v.now().Add(ttl)
	v.mu.Unlock()

	v.logger.Debug("signing keys refreshed",
		observability.Int("count", len(keys)),
		observability.Duration("ttl", ttl))
	return nil
}

func publicKeyFromCert(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate key is not RSA")
	}
	return key, nil
}
