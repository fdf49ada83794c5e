package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"
)

type ctxKey int

const ctxKeyClaims ctxKey = iota

// Verifier checks bearer tokens. RS256 tokens are verified against the JWKS
// endpoint; HS256 tokens only when a development secret is configured.
type Verifier struct {
	JWKS *JWKSClient
	// DevSecret enables HS256 tokens for local development.
	DevSecret string
	// AuthorizedParties, when set, restricts the azp claim.
	AuthorizedParties []string
	Now               func() time.Time
}

func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	header, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}

	var claims *Claims
	switch {
	case header.Alg == "RS256" && v.JWKS != nil && header.Kid != "":
		key, err := v.JWKS.Get(ctx, header.Kid)
		if err != nil {
			return nil, ErrInvalidToken
		}
		claims, err = VerifyRS256(token, key, now)
		if err != nil {
			return nil, err
		}
	case header.Alg == "HS256" && v.DevSecret != "":
		claims, err = ParseAndVerifyHS256(token, v.DevSecret, now)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidToken
	}

	if len(v.AuthorizedParties) > 0 && claims.AuthorizedParty != "" && !slices.Contains(v.AuthorizedParties, claims.AuthorizedParty) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireUser rejects requests without a valid bearer token and stores the
// verified claims in the request context.
func RequireUser(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			claims, err := v.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// UserIDFromContext returns the authenticated coach id, or "" outside RequireUser.
func UserIDFromContext(ctx context.Context) string {
	claims, _ := ctx.Value(ctxKeyClaims).(*Claims)
	if claims == nil {
		return ""
	}
	return claims.Sub
}
