package middleware

import (
	"context"

	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

const (
	principalKey contextKey = "principal"
	adminKey     contextKey = "admin"
)

// SetPrincipal stores the authenticated principal in the context.
// Called by the auth middleware after a successful token lookup.
func SetPrincipal(ctx context.Context, p *models.Principal) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the authenticated principal from the context.
// Returns nil for an unauthenticated request.
func GetPrincipal(ctx context.Context) *models.Principal {
	if v, ok := ctx.Value(principalKey).(*models.Principal); ok {
		return v
	}
	return nil
}

// SetAdmin marks the request as carrying the tenant's admin token.
func SetAdmin(ctx context.Context, isAdmin bool) context.Context {
	return context.WithValue(ctx, adminKey, isAdmin)
}

// IsAdmin reports whether the request carried the tenant's admin token.
func IsAdmin(ctx context.Context) bool {
	v, _ := ctx.Value(adminKey).(bool)
	return v
}
