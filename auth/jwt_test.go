package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testKey = "0123456789abcdef0123"

func newTestAuth(t *testing.T, clock func() time.Time) *Auth {
	t.Helper()
	a, err := New(Options{
		Logger:        zaptest.NewLogger(t),
		JWTSigningKey: testKey,
		Clock:         clock,
	})
	require.NoError(t, err)
	return a
}

func protected(a *Auth) http.Handler {
	return a.Middleware()(a.ClaimCheck()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		w.Write([]byte(claims.ID))
	})))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Logger: zaptest.NewLogger(t), JWTSigningKey: "short"})
	require.Error(t, err)

	_, err = New(Options{JWTSigningKey: testKey})
	require.Error(t, err)
}

func TestMiddlewareAcceptsSignedToken(t *testing.T) {
	a := newTestAuth(t, nil)
	token, err := a.CreateTokenFromClaims(Claims{ID: "operator", Email: "ops@example.com"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operator", rec.Body.String())
}

func TestMiddlewareRejects(t *testing.T) {
	a := newTestAuth(t, nil)
	expired := newTestAuth(t, func() time.Time { return time.Now().Add(-time.Hour) })
	stale, err := expired.CreateTokenFromClaims(Claims{ID: "operator"})
	require.NoError(t, err)

	other, err := New(Options{Logger: zaptest.NewLogger(t), JWTSigningKey: "another-signing-key-entirely"})
	require.NoError(t, err)
	forged, err := other.CreateTokenFromClaims(Claims{ID: "operator"})
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing": "",
		"scheme":  "Basic abc",
		"garbage": "Bearer not-a-token",
		"expired": "Bearer " + stale,
		"forged":  "Bearer " + forged,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			protected(a).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "No valid Bearer token found in header")
		})
	}
}

func TestClaimCheckWithoutMiddleware(t *testing.T) {
	a := newTestAuth(t, nil)
	handler := a.ClaimCheck()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
