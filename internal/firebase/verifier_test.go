package firebase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotiride/orderd/internal/config"
)

const (
	testProjectID = "orderd-test"
	testKeyID     = "test-key-1"
)

// newSigningKey generates an RSA key and a self-signed certificate for it,
// PEM encoded the way Google publishes Firebase signing certificates.
func newSigningKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return key, string(certPEM)
}

func newTestVerifier(t *testing.T) (*Verifier, *rsa.PrivateKey) {
	t.Helper()

	key, certPEM := newSigningKey(t)

	keysServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(map[string]string{testKeyID: certPEM})
	}))
	t.Cleanup(keysServer.Close)

	v := NewVerifier(&config.FirebaseConfig{
		ProjectID:    testProjectID,
		KeysEndpoint: keysServer.URL,
	})
	return v, key
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func validClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":            "https://securetoken.google.com/" + testProjectID,
		"aud":            testProjectID,
		"sub":            "user-123",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"email":          "user@example.com",
		"email_verified": true,
		"phone_number":   "+15550100",
		"name":           "Test User",
		"picture":        "https://example.com/p.png",
	}
}

func TestVerifyValidToken(t *testing.T) {
	v, key := newTestVerifier(t)
	now := time.Now()

	idToken := signToken(t, key, testKeyID, validClaims(now))

	claims, err := v.Verify(context.Background(), idToken)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.True(t, claims.EmailVerified)
	assert.Equal(t, "+15550100", claims.Phone)
	assert.Equal(t, "Test User", claims.Name)
	assert.WithinDuration(t, now.Add(time.Hour), claims.ExpiresAt, 2*time.Second)
}

func TestVerifyExpiredToken(t *testing.T) {
	v, key := newTestVerifier(t)
	now := time.Now()

	claims := validClaims(now.Add(-2 * time.Hour))
	claims["exp"] = now.Add(-time.Hour).Unix()
	idToken := signToken(t, key, testKeyID, claims)

	_, err := v.Verify(context.Background(), idToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRecentlyExpiredToken(t *testing.T) {
	v, key := newTestVerifier(t)
	now := time.Now()

	// Expiry gets no grace period: a token a few seconds or minutes past
	// exp is rejected even though issue-time skew is tolerated.
	for _, past := range []time.Duration{5 * time.Second, 2 * time.Minute, 4 * time.Minute} {
		claims := validClaims(now.Add(-time.Hour))
		claims["exp"] = now.Add(-past).Unix()
		idToken := signToken(t, key, testKeyID, claims)

		_, err := v.Verify(context.Background(), idToken)
		assert.ErrorIs(t, err, ErrTokenExpired, "exp %s in the past", past)
	}
}

func TestVerifyWrongAudience(t *testing.T) {
	v, key := newTestVerifier(t)

	claims := validClaims(time.Now())
	claims["aud"] = "some-other-project"
	idToken := signToken(t, key, testKeyID, claims)

	_, err := v.Verify(context.Background(), idToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyWrongIssuer(t *testing.T) {
	v, key := newTestVerifier(t)

	claims := validClaims(time.Now())
	claims["iss"] = "https://evil.example.com/" + testProjectID
	idToken := signToken(t, key, testKeyID, claims)

	_, err := v.Verify(context.Background(), idToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyIssuedInFuture(t *testing.T) {
	v, key := newTestVerifier(t)
	now := time.Now()

	// Small skew within the tolerance is accepted.
	claims := validClaims(now)
	claims["iat"] = now.Add(2 * time.Minute).Unix()
	idToken := signToken(t, key, testKeyID, claims)
	_, err := v.Verify(context.Background(), idToken)
	assert.NoError(t, err)

	// Skew beyond the tolerance is rejected.
	claims["iat"] = now.Add(10 * time.Minute).Unix()
	idToken = signToken(t, key, testKeyID, claims)
	_, err = v.Verify(context.Background(), idToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyUnknownKeyID(t *testing.T) {
	v, key := newTestVerifier(t)

	idToken := signToken(t, key, "unknown-key", validClaims(time.Now()))

	_, err := v.Verify(context.Background(), idToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyWrongSigningKey(t *testing.T) {
	v, _ := newTestVerifier(t)
	otherKey, _ := newSigningKey(t)

	idToken := signToken(t, otherKey, testKeyID, validClaims(time.Now()))

	_, err := v.Verify(context.Background(), idToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsSymmetricAlg(t *testing.T) {
	v, _ := newTestVerifier(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims(time.Now()))
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyMissingSubject(t *testing.T) {
	v, key := newTestVerifier(t)

	claims := validClaims(time.Now())
	delete(claims, "sub")
	idToken := signToken(t, key, testKeyID, claims)

	_, err := v.Verify(context.Background(), idToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyGarbageToken(t *testing.T) {
	v, _ := newTestVerifier(t)

	_, err := v.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
