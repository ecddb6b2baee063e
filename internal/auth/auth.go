// Package auth implements the bearer-token / API-key check the page
// server's HTTP surface requires when configured with an API key or a
// set of auth tokens. Authentication is optional: a server started
// without either stays open.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// Middleware checks an incoming request's X-API-Key header or Bearer
// token against a configured API key and token set.
type Middleware struct {
	apiKey   string
	tokens   map[string]bool
	tokensMu sync.RWMutex
	enabled  bool
}

// New creates a Middleware. authTokens is a comma-separated list; an
// empty apiKey and authTokens disables authentication entirely.
func New(apiKey string, authTokens string) *Middleware {
	m := &Middleware{tokens: make(map[string]bool)}

	if apiKey != "" {
		m.apiKey = apiKey
		m.enabled = true
	}

	for _, token := range strings.Split(authTokens, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		m.tokens[token] = true
		m.enabled = true
	}

	return m
}

// Enabled reports whether any credential was configured.
func (m *Middleware) Enabled() bool { return m.enabled }

// AddToken registers an additional bearer token at runtime.
func (m *Middleware) AddToken(token string) {
	m.tokensMu.Lock()
	defer m.tokensMu.Unlock()
	m.tokens[token] = true
	m.enabled = true
}

// RemoveToken revokes a bearer token.
func (m *Middleware) RemoveToken(token string) {
	m.tokensMu.Lock()
	defer m.tokensMu.Unlock()
	delete(m.tokens, token)
}

// Authenticate reports whether r carries a valid credential. It always
// returns true when authentication is disabled.
func (m *Middleware) Authenticate(r *http.Request) bool {
	if !m.enabled {
		return true
	}

	if m.apiKey != "" {
		if key := r.Header.Get("X-API-Key"); key != "" && constantTimeEqual(key, m.apiKey) {
			return true
		}
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return false
	}
	scheme, value, ok := strings.Cut(authHeader, " ")
	if !ok {
		return false
	}
	if strings.EqualFold(scheme, "bearer") {
		m.tokensMu.RLock()
		valid := m.tokens[value]
		m.tokensMu.RUnlock()
		return valid
	}
	return false
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Handler returns a chi-compatible http.Handler wrapper rejecting
// any request Authenticate does not accept.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Authenticate(r) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="page-server"`)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "error",
				"error":  "authentication required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
