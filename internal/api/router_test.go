package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mediaforge/mediaforge/sales-engine/internal/adapters"
	"github.com/mediaforge/mediaforge/sales-engine/internal/api"
	"github.com/mediaforge/mediaforge/sales-engine/internal/api/handlers"
	"github.com/mediaforge/mediaforge/sales-engine/internal/catalog"
	"github.com/mediaforge/mediaforge/sales-engine/internal/config"
	"github.com/mediaforge/mediaforge/sales-engine/internal/lifecycle"
	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	"github.com/mediaforge/mediaforge/sales-engine/internal/workflow"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

// newTestRouter wires the full middleware and handler stack against a
// seeded in-memory store, the way pkg/server composes it.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("SALESENGINE_DATA_DIR", t.TempDir())

	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CreateTenant(ctx, &models.Tenant{
		TenantID:            "tenant_1",
		Name:                "Test Publisher",
		AdServer:            "mock",
		AdapterConfig:       map[string]any{},
		AdminToken:          "adm_secret",
		AutoCreateMediaBuys: true,
		AutoApproveFormats:  []string{"display"},
		CreatedAt:           now,
		UpdatedAt:           now,
	}); err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	if err := s.CreatePrincipal(ctx, &models.Principal{
		TenantID:    "tenant_1",
		PrincipalID: "adv_1",
		Name:        "Acme DSP",
		AccessToken: "tok_adv1",
		CreatedAt:   now,
	}); err != nil {
		t.Fatalf("CreatePrincipal() error = %v", err)
	}
	if err := s.CreateProduct(ctx, &models.Product{
		ProductID:         "prod_display",
		TenantID:          "tenant_1",
		Name:              "Run of Site Display",
		Formats:           []string{"display"},
		Delivery:          models.DeliveryGuaranteed,
		IsFixedPrice:      true,
		CPM:               10,
		AutoCreateEnabled: true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}); err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}

	registry := adapters.NewRegistry()
	matcher := catalog.NewMatcher(s)
	engine := workflow.NewEngine(s, nil)
	coord := lifecycle.NewCoordinator(s, registry, matcher, engine)
	h := handlers.New(s, coord, engine, registry, matcher)

	cfg := &config.Config{Version: "test"}
	return api.NewRouter(cfg, s, h)
}

func doJSON(t *testing.T, router http.Handler, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func buyerHeaders() map[string]string {
	return map[string]string{"x-tenant-id": "tenant_1", "x-access-token": "tok_adv1"}
}

func adminHeaders() map[string]string {
	return map[string]string{"x-tenant-id": "tenant_1", "x-admin-token": "adm_secret"}
}

func TestHealthAndVersion(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/version", nil, nil)
	var v map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if v["version"] != "test" {
		t.Errorf("version = %q, want test", v["version"])
	}
}

func TestCreateMediaBuyRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/create-media-buy",
		map[string]string{"x-tenant-id": "tenant_1"}, map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestUnknownAccessTokenRejected(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/create-media-buy",
		map[string]string{"x-tenant-id": "tenant_1", "x-access-token": "tok_bogus"}, map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "authentication_failed" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestCreateMediaBuyEndToEnd(t *testing.T) {
	router := newTestRouter(t)

	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour)
	req := models.CreateMediaBuyRequest{
		ProductIDs:      []string{"prod_display"},
		TotalBudget:     1000,
		PONumber:        "PO777",
		FlightStartDate: start,
		FlightEndDate:   start.AddDate(0, 0, 10),
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/create-media-buy", buyerHeaders(), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp models.CreateMediaBuyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.MediaBuyID != "buy_PO777" {
		t.Errorf("MediaBuyID = %q, want buy_PO777", resp.MediaBuyID)
	}

	// The buy shows up in delivery reporting for its owner.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/get-media-buy-delivery", buyerHeaders(),
		map[string]any{"media_buy_ids": []string{"buy_PO777"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("delivery status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestProductsRequirePrincipal(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/products",
		map[string]string{"x-tenant-id": "tenant_1"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/products", buyerHeaders(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Products []map[string]any `json:"products"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Products) != 1 {
		t.Fatalf("products = %d, want 1", len(body.Products))
	}
	// implementation_config must not leak to buyers.
	if _, leaked := body.Products[0]["implementation_config"]; leaked {
		t.Error("implementation_config leaked through external view")
	}
}

func TestAdaptersListing(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/adapters", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Adapters []struct {
			Name string `json:"name"`
		} `json:"adapters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Adapters) != 5 {
		t.Errorf("adapters = %d, want 5", len(body.Adapters))
	}
}

func TestAdminSurfaceRequiresAdminToken(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/admin/tenants/", buyerHeaders(), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	// A wrong admin token is ignored by the middleware, so the handler
	// still sees a non-admin caller.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/admin/tenants/",
		map[string]string{"x-tenant-id": "tenant_1", "x-admin-token": "wrong"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for bad admin token", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/admin/tenants/", adminHeaders(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAdminProductCRUD(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/admin/products/", adminHeaders(), map[string]any{
		"product_id":            "prod_audio",
		"name":                  "Streaming Audio",
		"formats":               []string{"audio_30s"},
		"delivery_type":         "guaranteed",
		"is_fixed_price":        true,
		"cpm":                   25,
		"implementation_config": map[string]any{"station_id": "st_42"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/admin/products/", adminHeaders(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Products []models.Product `json:"products"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Products) != 2 {
		t.Fatalf("products = %d, want 2", len(list.Products))
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/admin/products/prod_audio", adminHeaders(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
}

func TestPendingWorkflowsAdminView(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/create-workflow-step", adminHeaders(), map[string]any{
		"task_type":    "compliance_review",
		"principal_id": "adv_1",
		"priority":     "high",
		"comment":      "Q3 audit",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create task status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/get-pending-workflows", adminHeaders(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pending status = %d", rec.Code)
	}
	var pending models.PendingWorkflowsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if pending.TotalCount != 1 || len(pending.Tasks) != 1 {
		t.Fatalf("tasks = %d (total %d), want 1", len(pending.Tasks), pending.TotalCount)
	}
	if pending.Tasks[0].TaskType != "compliance_review" {
		t.Errorf("TaskType = %q", pending.Tasks[0].TaskType)
	}
}
