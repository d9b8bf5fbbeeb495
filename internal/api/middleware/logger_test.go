package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	pkgmw "github.com/mediaforge/mediaforge/sales-engine/pkg/middleware"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

func TestLoggerCarriesResolvedIdentity(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(TenantExtractor)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := pkgmw.SetPrincipal(req.Context(), &models.Principal{TenantID: "tenant_1", PrincipalID: "adv_1"})
			ctx = pkgmw.SetAdmin(ctx, true)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Use(Logger)
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("x-tenant-id", "tenant_1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	for _, want := range []string{
		`"tenant":"tenant_1"`,
		`"principal":"adv_1"`,
		`"admin":true`,
		`"status":204`,
		`"request_id"`,
	} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}
