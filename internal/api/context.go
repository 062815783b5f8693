package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/Maverick0351a/latticedb/internal/acl"
)

// claimsContextKey is the context key for the caller's ACL claims.
type claimsContextKey struct{}

// requestIDContextKey is the context key for the request ULID.
type requestIDContextKey struct{}

// Claims headers. Auth (who you are) is the API key; these are capability
// claims scoping which lattices the call may see.
const (
	tenantHeader = "X-Lattice-Tenant"
	rolesHeader  = "X-Lattice-Roles"
)

// ClaimsMiddleware extracts ACL claims from request headers into the context.
func ClaimsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := acl.Claims{Tenant: strings.TrimSpace(r.Header.Get(tenantHeader))}
		if raw := r.Header.Get(rolesHeader); raw != "" {
			for _, role := range strings.Split(raw, ",") {
				if role = strings.TrimSpace(role); role != "" {
					claims.Roles = append(claims.Roles, role)
				}
			}
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// WithClaims returns a new context with the claims attached.
func WithClaims(ctx context.Context, claims acl.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts the claims; absent claims are empty, and the
// strict-claims policy decides whether that is acceptable.
func ClaimsFromContext(ctx context.Context) acl.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(acl.Claims)
	return claims
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
