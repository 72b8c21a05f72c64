// ABOUTME: Request-scoped principal for authenticated HTTP requests
// ABOUTME: Provides WithPrincipal/PrincipalFromContext for propagating the token subject

package auth

import "context"

// principalKey is the key type for storing the principal in context.Context.
type principalKey struct{}

// WithPrincipal returns a new context carrying the authenticated subject.
func WithPrincipal(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, principalKey{}, subject)
}

// PrincipalFromContext returns the authenticated subject, or "" if none.
func PrincipalFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(principalKey{}).(string)
	return sub
}
