package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/identity"
)

// TokenResolver turns a bearer token into a principal.
type TokenResolver interface {
	Resolve(token string) (identity.Principal, error)
}

// Authenticate rejects requests without a valid bearer token and stores
// the resolved principal in the request context.
func Authenticate(tokens TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				writeError(w, r, errors.Join(errors.New("missing bearer token"), generic.ErrUnauthenticated))
				return
			}
			p, err := tokens.Resolve(strings.TrimSpace(raw))
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
		})
	}
}

// principal returns the caller. Routes behind Authenticate always have one.
func principal(r *http.Request) identity.Principal {
	p, _ := identity.FromContext(r.Context())
	return p
}
