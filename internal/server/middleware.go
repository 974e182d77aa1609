package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// contextKey is a private type for context keys in this package.
type contextKey string

const adminUserKey contextKey = "admin_user"

// User holds information about the authenticated admin caller.
type User struct {
	UserID string
	Roles  []string
}

// GetUser returns the User from context, or nil if not set.
func GetUser(ctx context.Context) *User {
	u, _ := ctx.Value(adminUserKey).(*User)
	return u
}

// Authenticator validates admin credentials.
type Authenticator interface {
	Authenticate(r *http.Request) (*User, error)
}

// APIKeyAuthenticator validates admin access by comparing the X-API-Key
// header against bcrypt hashes. Only hashes are configured; the plaintext
// keys never live in the config file.
type APIKeyAuthenticator struct {
	Hashes []string
}

// Authenticate checks the X-API-Key header.
func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (*User, error) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		return nil, nil //nolint:nilnil // nil user with nil error means no credentials provided
	}

	for _, hash := range a.Hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
			return &User{UserID: "api-key", Roles: []string{"admin"}}, nil
		}
	}
	return nil, nil //nolint:nilnil // nil user with nil error means invalid key (unauthenticated)
}

// JWTAuthenticator validates admin access via HMAC-signed bearer tokens.
type JWTAuthenticator struct {
	SigningKey []byte
}

// Authenticate checks the Authorization: Bearer header.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (*User, error) {
	auth := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || raw == "" {
		return nil, nil //nolint:nilnil // nil user with nil error means no credentials provided
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.SigningKey, nil
	})
	if err != nil || !token.Valid {
		return nil, nil //nolint:nilnil // invalid token is unauthenticated, not a server error
	}

	sub, _ := claims["sub"].(string)
	return &User{UserID: sub, Roles: rolesFromClaims(claims)}, nil
}

func rolesFromClaims(claims jwt.MapClaims) []string {
	raw, ok := claims["roles"].([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

// ChainAuthenticators tries each authenticator in order and returns the
// first authenticated user.
type ChainAuthenticators []Authenticator

// Authenticate implements Authenticator.
func (c ChainAuthenticators) Authenticate(r *http.Request) (*User, error) {
	for _, a := range c {
		user, err := a.Authenticate(r)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}
	return nil, nil //nolint:nilnil // no authenticator matched
}

// errNoAuthenticators guards against an accidentally open admin API.
var errNoAuthenticators = errors.New("no admin authenticators configured")

// RequireAdmin creates middleware that enforces admin authentication.
func RequireAdmin(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				slog.Error("server: admin request rejected", "error", errNoAuthenticators)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			user, err := auth.Authenticate(r)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "authentication error")
				return
			}
			if user == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !slices.Contains(user.Roles, "admin") {
				writeError(w, http.StatusForbidden, "admin role required")
				return
			}

			ctx := context.WithValue(r.Context(), adminUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs each request with a generated request ID.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(rec, r)

		slog.Info("server: request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
