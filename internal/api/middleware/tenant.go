package middleware

import (
	"net/http"
	"strings"

	pkgmw "github.com/mediaforge/mediaforge/sales-engine/pkg/middleware"
)

// TenantExtractor resolves the tenant for the request. It checks the
// x-tenant-id header, then the tenant query parameter, and falls back
// to "default".
func TenantExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := ""

		if h := r.Header.Get("x-tenant-id"); h != "" {
			tenantID = strings.TrimSpace(h)
		}
		if tenantID == "" {
			if q := r.URL.Query().Get("tenant"); q != "" {
				tenantID = strings.TrimSpace(q)
			}
		}
		if tenantID == "" {
			tenantID = "default"
		}

		next.ServeHTTP(w, r.WithContext(pkgmw.SetTenantID(r.Context(), tenantID)))
	})
}
