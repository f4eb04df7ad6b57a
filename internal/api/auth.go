// Package api is the thin HTTP control-plane adapter over the Factory's
// services: pause/resume/stop a project's Scheduler session, trigger a
// one-shot run or publish tick, and report status. Grounded on the
// teacher's internal/api (chi router, composition-root Server type) and
// taibuivan-yomira's internal/platform/middleware.Authenticate bearer-JWT
// pattern, simplified from RS256 multi-service verification to a single
// HS256 operator secret since this API has one trust domain, not a
// multi-tenant user base.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const claimsKey ctxKey = "api_claims"

// OperatorClaims is the payload of a control-plane bearer token.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Operator string `json:"operator"`
}

// TokenVerifier verifies a bearer token string and returns its claims.
type TokenVerifier interface {
	Verify(tokenString string) (*OperatorClaims, error)
}

// HMACVerifier verifies HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier constructs a verifier over secret. It always verifies;
// auth is disabled only by passing a nil TokenVerifier to authenticate,
// which New does when no secret is configured — useful for local
// development, never for a deployed control plane.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("api: unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("api: invalid token: %w", err)
	}
	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("api: invalid token claims")
	}
	return claims, nil
}

// authenticate requires a valid "Authorization: Bearer <token>" header on
// every request. A nil verifier (no secret configured) skips the check.
func authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := verifier.Verify(parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFrom(ctx context.Context) *OperatorClaims {
	c, _ := ctx.Value(claimsKey).(*OperatorClaims)
	return c
}
