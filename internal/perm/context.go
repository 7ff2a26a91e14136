package perm

import "context"

type securityContextKey struct{}

// ContextWithSecurity stores the caller's security context.
func ContextWithSecurity(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// SecurityFromContext extracts the security context, nil when absent.
func SecurityFromContext(ctx context.Context) *SecurityContext {
	sc, _ := ctx.Value(securityContextKey{}).(*SecurityContext)
	return sc
}
