package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	pkgmw "github.com/mediaforge/mediaforge/sales-engine/pkg/middleware"
)

// Auth resolves caller identity against the store. Two credentials
// exist: x-access-token identifies a principal (advertiser agent),
// x-admin-token marks the caller as the tenant's publisher admin.
//
// The middleware only resolves; handlers enforce. A request may carry
// neither credential and still reach public endpoints.
type Auth struct {
	store store.Store
}

// NewAuth creates the auth middleware.
func NewAuth(s store.Store) *Auth {
	return &Auth{store: s}
}

// Handler resolves credentials into the request context.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID := pkgmw.GetTenantID(ctx)

		if token := r.Header.Get("x-access-token"); token != "" {
			principal, err := a.store.GetPrincipalByToken(ctx, tenantID, token)
			if err != nil {
				if _, ok := err.(*store.ErrNotFound); !ok {
					http.Error(w, "auth lookup failed", http.StatusInternalServerError)
					return
				}
				log.Warn().
					Bool("security", true).
					Str("tenant", tenantID).
					Str("remote", r.RemoteAddr).
					Msg("Unknown access token rejected")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "authentication_failed",
					"message": "unknown access token",
				})
				return
			}
			ctx = pkgmw.SetPrincipal(ctx, principal)
		}

		if admin := r.Header.Get("x-admin-token"); admin != "" {
			tenant, err := a.store.GetTenant(ctx, tenantID)
			if err == nil && tenant.AdminToken != "" &&
				subtle.ConstantTimeCompare([]byte(admin), []byte(tenant.AdminToken)) == 1 {
				ctx = pkgmw.SetAdmin(ctx, true)
			} else {
				log.Warn().
					Bool("security", true).
					Str("tenant", tenantID).
					Str("remote", r.RemoteAddr).
					Msg("Invalid admin token ignored")
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
