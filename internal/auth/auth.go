// Package auth guards the diagnostics endpoint with a bearer token or basic
// auth credentials.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ServerConfig holds the credentials a request must carry.
// BearerToken takes precedence over basic auth when both are set.
type ServerConfig struct {
	BearerToken       string
	BasicAuthUsername string
	BasicAuthPassword string
}

// Enabled reports whether any credential is configured.
func (c ServerConfig) Enabled() bool {
	return c.BearerToken != "" || c.BasicAuthUsername != "" || c.BasicAuthPassword != ""
}

// Validate checks that basic auth credentials come in pairs.
func (c ServerConfig) Validate() error {
	if c.BearerToken == "" && (c.BasicAuthUsername == "") != (c.BasicAuthPassword == "") {
		return errors.New("basic auth needs both username and password")
	}
	return nil
}

// HTTPMiddleware rejects requests without valid credentials with 401.
// Paths listed in open are served without authentication.
func HTTPMiddleware(cfg ServerConfig, next http.Handler, open ...string) http.Handler {
	if !cfg.Enabled() {
		return next
	}
	public := make(map[string]struct{}, len(open))
	for _, p := range open {
		public[p] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := public[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		if msg := check(cfg, r); msg != "" {
			if cfg.BearerToken != "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="diagnostics"`)
			} else {
				w.Header().Set("WWW-Authenticate", `Basic realm="diagnostics"`)
			}
			http.Error(w, msg, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// check returns a client-facing reason when r is not authorized.
func check(cfg ServerConfig, r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "missing authorization header"
	}

	if cfg.BearerToken != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return "invalid authorization header format"
		}
		if !equal(token, cfg.BearerToken) {
			return "invalid bearer token"
		}
		return ""
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return "invalid authorization header format"
	}
	// Both fields are always compared.
	userOK := equal(user, cfg.BasicAuthUsername)
	passOK := equal(pass, cfg.BasicAuthPassword)
	if !userOK || !passOK {
		return "invalid basic auth credentials"
	}
	return ""
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
