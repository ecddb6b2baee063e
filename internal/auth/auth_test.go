package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledWhenNoCredentialsConfigured(t *testing.T) {
	m := New("", "")
	require.False(t, m.Enabled())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.True(t, m.Authenticate(r))
}

func TestAPIKeyHeader(t *testing.T) {
	m := New("secret", "")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "secret")
	require.True(t, m.Authenticate(r))

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("X-API-Key", "wrong")
	require.False(t, m.Authenticate(r2))
}

func TestBearerToken(t *testing.T) {
	m := New("", "tokenA, tokenB")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer tokenB")
	require.True(t, m.Authenticate(r))

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("Authorization", "Bearer tokenC")
	require.False(t, m.Authenticate(r2))
}

func TestAddAndRemoveToken(t *testing.T) {
	m := New("", "")
	require.False(t, m.Enabled())

	m.AddToken("runtime-token")
	require.True(t, m.Enabled())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer runtime-token")
	require.True(t, m.Authenticate(r))

	m.RemoveToken("runtime-token")
	require.False(t, m.Authenticate(r))
}

func TestHandlerRejectsUnauthenticated(t *testing.T) {
	m := New("secret", "")
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("X-API-Key", "secret")
	handler.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}
