package transport

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/floe/internal/config"
	"github.com/pitabwire/floe/model"
)

// LoadSigningSecret reads the HMAC signing secret from the environment
// variable named by the identity configuration.
func LoadSigningSecret(cfg config.IdentityConfig) ([]byte, error) {
	secret := os.Getenv(cfg.SecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("signing secret environment variable %s is not set", cfg.SecretEnv)
	}
	return []byte(secret), nil
}

// JWTAuthenticator returns middleware that verifies HMAC-signed bearer
// tokens from the Authorization header and stores the verified claims in
// the request context. When header tenancy is allowed, requests without
// an Authorization header pass through unverified and the tenant context
// middleware falls back to headers.
func JWTAuthenticator(cfg config.IdentityConfig, secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				if cfg.AllowHeaderTenancy {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(r.Context(), w, model.NewUnauthorizedError("missing authorization header"))
				return
			}
			if !strings.HasPrefix(auth, "Bearer ") {
				WriteError(r.Context(), w, model.NewUnauthorizedError("invalid authorization header format"))
				return
			}
			tokenStr := auth[7:]

			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
				jwt.WithLeeway(30 * time.Second),
				jwt.WithExpirationRequired(),
			}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}

			token, err := jwt.Parse(tokenStr,
				func(_ *jwt.Token) (any, error) { return secret, nil },
				opts...,
			)
			if err != nil {
				WriteError(r.Context(), w, model.NewUnauthorizedError(classifyJWTError(err)))
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				WriteError(r.Context(), w, model.NewUnauthorizedError("invalid token"))
				return
			}

			ctx := WithClaims(r.Context(), map[string]any(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func classifyJWTError(err error) string {
	s := err.Error()
	switch {
	case strings.Contains(s, "expired"):
		return "token expired"
	case strings.Contains(s, "issuer"):
		return "invalid token issuer"
	case strings.Contains(s, "audience"):
		return "invalid token audience"
	case strings.Contains(s, "signing method"):
		return "disallowed signing algorithm"
	case strings.Contains(s, "signature"):
		return "invalid token signature"
	default:
		return "invalid token"
	}
}
