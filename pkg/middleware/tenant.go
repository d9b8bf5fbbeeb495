// Package middleware provides shared request-context helpers for the
// sales engine. It lives in pkg/ (not internal/) so that deployment
// wrappers can read the same identity the API middleware sets.
package middleware

import "context"

type contextKey string

const tenantKey contextKey = "tenant"

// GetTenantID extracts the tenant id from the context.
// Returns "default" if no tenant is set.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey).(string); ok && v != "" {
		return v
	}
	return "default"
}

// SetTenantID stores the tenant id in the context.
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}
