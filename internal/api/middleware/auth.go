package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/legal-settlement/internal/api/problem"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleAdmin may review withdrawals and register case parties.
const RoleAdmin = "admin"

type contextKey string

const (
	actorContextKey contextKey = "actor"
	traceContextKey contextKey = "trace_id"
)

// Actor is the authenticated caller. Beneficiaries (lawyer, sales, institution)
// carry their own role; reviewers carry RoleAdmin.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

var jwtSettings struct {
	secret   []byte
	issuer   string
	audience string
}

// clockSkew tolerated on exp/nbf between token issuer and this service.
const clockSkew = 30 * time.Second

type authClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	jwtSettings.secret = []byte(secret)
}

func SetJWTValidation(issuer, audience string) {
	jwtSettings.issuer = strings.TrimSpace(issuer)
	jwtSettings.audience = strings.TrimSpace(audience)
}

// JWTSecret returns a copy of the signing key.
func JWTSecret() []byte {
	return append([]byte(nil), jwtSettings.secret...)
}

func parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	}
	if jwtSettings.issuer != "" {
		opts = append(opts, jwt.WithIssuer(jwtSettings.issuer))
	}
	if jwtSettings.audience != "" {
		opts = append(opts, jwt.WithAudience(jwtSettings.audience))
	}
	return opts
}

func parseActor(raw string) (Actor, string) {
	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return jwtSettings.secret, nil
	}, parserOptions()...)
	if err != nil || !token.Valid {
		return Actor{}, "invalid-token"
	}
	if claims.Subject != "" && claims.Subject != claims.UserID {
		return Actor{}, "invalid-token-claims"
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil || id == uuid.Nil {
		return Actor{}, "invalid-token-claims"
	}
	return Actor{ID: id, Role: strings.TrimSpace(claims.Role)}, ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, slug, detail string) {
	problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/"+slug), http.StatusText(http.StatusUnauthorized), detail)
}

// AuthMiddleware validates the bearer token and stores the Actor in the request context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			unauthorized(w, r, "authorization-header-required", "Authorization header required")
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			unauthorized(w, r, "invalid-token-format", "Invalid token format")
			return
		}
		if len(jwtSettings.secret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		}

		actor, failure := parseActor(strings.TrimSpace(raw))
		if failure != "" {
			unauthorized(w, r, failure, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorContextKey, actor)))
	})
}

// RequireRole lets the request through when the actor holds one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := ActorFromContext(r.Context())
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), http.StatusText(http.StatusForbidden), "insufficient permissions")
		})
	}
}

// ActorFromContext returns the authenticated caller, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey).(Actor)
	return actor, ok
}

// UserIDFromContext returns the authenticated user id as a string, or "".
func UserIDFromContext(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.ID.String()
	}
	return ""
}

// TraceIDFromContext returns the trace id for the request.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceContextKey).(string); ok {
		return v
	}
	return ""
}
