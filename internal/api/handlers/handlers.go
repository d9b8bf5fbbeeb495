// Package handlers exposes the media buy operation surface and the
// admin CRUD endpoints over HTTP. Handlers decode, enforce identity,
// delegate to the coordinator or workflow engine, and encode; no
// business rules live here.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mediaforge/mediaforge/sales-engine/internal/adapters"
	"github.com/mediaforge/mediaforge/sales-engine/internal/catalog"
	"github.com/mediaforge/mediaforge/sales-engine/internal/lifecycle"
	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	"github.com/mediaforge/mediaforge/sales-engine/internal/workflow"
	pkgmw "github.com/mediaforge/mediaforge/sales-engine/pkg/middleware"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

// Handlers carries the wired services. One instance serves all routes.
type Handlers struct {
	Store    store.Store
	Coord    *lifecycle.Coordinator
	Engine   *workflow.Engine
	Registry *adapters.Registry
	Catalog  *catalog.Matcher
}

// New creates a Handlers instance.
func New(s store.Store, coord *lifecycle.Coordinator, engine *workflow.Engine, registry *adapters.Registry, cat *catalog.Matcher) *Handlers {
	return &Handlers{
		Store:    s,
		Coord:    coord,
		Engine:   engine,
		Registry: registry,
		Catalog:  cat,
	}
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Warn().Err(err).Msg("Response encode failed")
		}
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

// respondServiceError maps typed service errors onto HTTP codes.
func respondServiceError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *store.ErrNotFound:
		respondError(w, http.StatusNotFound, err.Error())
	case *lifecycle.OwnershipError:
		respondError(w, http.StatusForbidden, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// requirePrincipal resolves the authenticated principal or writes 401.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (*models.Principal, bool) {
	p := pkgmw.GetPrincipal(r.Context())
	if p == nil {
		respondError(w, http.StatusUnauthorized, "x-access-token required")
		return nil, false
	}
	return p, true
}

// requireAdmin checks the admin flag or writes 403.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !pkgmw.IsAdmin(r.Context()) {
		respondError(w, http.StatusForbidden, "admin token required")
		return false
	}
	return true
}

// ══════════════════════════════════════════════════════════════
// ── Media Buy Handlers ───────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) CreateMediaBuy(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req models.CreateMediaBuyRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	resp, err := h.Coord.CreateMediaBuy(r.Context(), pkgmw.GetTenantID(r.Context()), principal, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) UpdateMediaBuy(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req models.UpdateMediaBuyRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	resp, err := h.Coord.UpdateMediaBuy(r.Context(), pkgmw.GetTenantID(r.Context()), principal, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) UpdatePackage(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req models.UpdatePackageRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Packages) == 0 {
		respondError(w, http.StatusBadRequest, "packages is required")
		return
	}
	resp, err := h.Coord.UpdatePackage(r.Context(), pkgmw.GetTenantID(r.Context()), principal, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) CheckMediaBuyStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	var req struct {
		ContextID string `json:"context_id"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ContextID == "" {
		respondError(w, http.StatusBadRequest, "context_id is required")
		return
	}
	resp, err := h.Coord.CheckMediaBuyStatus(r.Context(), pkgmw.GetTenantID(r.Context()), req.ContextID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetMediaBuyDelivery(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req struct {
		MediaBuyIDs  []string   `json:"media_buy_ids,omitempty"`
		StatusFilter string     `json:"status_filter,omitempty"`
		Today        *time.Time `json:"today,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	today := time.Now().UTC()
	if req.Today != nil {
		today = *req.Today
	}
	resp, err := h.Coord.GetMediaBuyDelivery(r.Context(), pkgmw.GetTenantID(r.Context()),
		principal, req.MediaBuyIDs, req.StatusFilter, today)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) AddCreativeAssets(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req struct {
		MediaBuyID string                 `json:"media_buy_id"`
		Creatives  []models.CreativeAsset `json:"creatives"`
		Today      *time.Time             `json:"today,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.MediaBuyID == "" || len(req.Creatives) == 0 {
		respondError(w, http.StatusBadRequest, "media_buy_id and creatives are required")
		return
	}
	today := time.Now().UTC()
	if req.Today != nil {
		today = *req.Today
	}
	statuses, err := h.Coord.AddCreativeAssets(r.Context(), pkgmw.GetTenantID(r.Context()),
		principal, req.MediaBuyID, req.Creatives, today)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

func (h *Handlers) CheckCreativeStatus(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req struct {
		CreativeIDs []string `json:"creative_ids"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	statuses, err := h.Coord.CheckCreativeStatus(r.Context(), pkgmw.GetTenantID(r.Context()), principal, req.CreativeIDs)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

func (h *Handlers) UpdatePerformanceIndex(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req struct {
		MediaBuyID  string                      `json:"media_buy_id"`
		Performance []models.PackagePerformance `json:"performance"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	applied, err := h.Coord.UpdatePerformanceIndex(r.Context(), pkgmw.GetTenantID(r.Context()),
		principal, req.MediaBuyID, req.Performance)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"performance_accepted": applied})
}

// ══════════════════════════════════════════════════════════════
// ── Catalog Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	products, err := h.Catalog.ListProducts(r.Context(), pkgmw.GetTenantID(r.Context()),
		r.URL.Query().Get("format"), models.DeliveryType(r.URL.Query().Get("delivery_type")))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handlers) ListAdapters(w http.ResponseWriter, r *http.Request) {
	type adapterInfo struct {
		Name         string                `json:"name"`
		Capabilities adapters.Capabilities `json:"capabilities"`
	}
	out := []adapterInfo{}
	for _, name := range h.Registry.Names() {
		caps, _ := h.Registry.StaticCapabilities(name)
		out = append(out, adapterInfo{Name: name, Capabilities: caps})
	}
	respondJSON(w, http.StatusOK, map[string]any{"adapters": out})
}

// ══════════════════════════════════════════════════════════════
// ── Task Queue Handlers ──────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) CreateWorkflowStepForTask(w http.ResponseWriter, r *http.Request) {
	var req workflow.CreateTaskRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	// A principal creates tasks under its own identity. The admin may
	// create tasks on behalf of any principal in the tenant.
	if principal := pkgmw.GetPrincipal(r.Context()); principal != nil {
		req.PrincipalID = principal.PrincipalID
	} else if !pkgmw.IsAdmin(r.Context()) {
		respondError(w, http.StatusUnauthorized, "x-access-token or x-admin-token required")
		return
	}
	step, err := h.Engine.CreateWorkflowStepForTask(r.Context(), pkgmw.GetTenantID(r.Context()), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, step)
}

func (h *Handlers) GetPendingWorkflows(w http.ResponseWriter, r *http.Request) {
	isAdmin := pkgmw.IsAdmin(r.Context())
	if !isAdmin {
		if _, ok := requirePrincipal(w, r); !ok {
			return
		}
	}
	resp, err := h.Engine.GetPendingWorkflows(r.Context(), pkgmw.GetTenantID(r.Context()), isAdmin)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) AssignTask(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req struct {
		TaskID     string `json:"task_id"`
		AssignedTo string `json:"assigned_to"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	step, err := h.Engine.AssignTask(r.Context(), pkgmw.GetTenantID(r.Context()), req.TaskID, req.AssignedTo, true)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, step)
}

func (h *Handlers) CompleteTask(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req struct {
		TaskID     string `json:"task_id"`
		Resolution string `json:"resolution"`
		Comment    string `json:"comment,omitempty"`
		ResolvedBy string `json:"resolved_by,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	step, err := h.Engine.CompleteTask(r.Context(), pkgmw.GetTenantID(r.Context()),
		req.TaskID, req.Resolution, req.Comment, req.ResolvedBy, true)
	if err != nil {
		// The resolution is recorded before the deferred operation
		// replays, so a replay failure still returns the step.
		if step != nil {
			respondJSON(w, http.StatusBadGateway, map[string]any{"step": step, "error": err.Error()})
			return
		}
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, step)
}

func (h *Handlers) VerifyTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	resolved, status, err := h.Engine.VerifyTask(r.Context(), pkgmw.GetTenantID(r.Context()), req.TaskID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"resolved": resolved, "status": status})
}

func (h *Handlers) MarkTaskComplete(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req struct {
		TaskID     string `json:"task_id"`
		VerifiedBy string `json:"verified_by,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	step, err := h.Engine.MarkTaskComplete(r.Context(), pkgmw.GetTenantID(r.Context()), req.TaskID, req.VerifiedBy, true)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, step)
}

// ══════════════════════════════════════════════════════════════
// ── Admin: Tenant Handlers ───────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	tenants, err := h.Store.ListTenants(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if tenants == nil {
		tenants = []models.Tenant{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var tenant models.Tenant
	if err := decode(r, &tenant); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if tenant.TenantID == "" || tenant.AdServer == "" {
		respondError(w, http.StatusBadRequest, "tenant_id and ad_server are required")
		return
	}
	if _, ok := h.Registry.StaticCapabilities(tenant.AdServer); !ok {
		respondError(w, http.StatusBadRequest, "unknown ad_server "+tenant.AdServer)
		return
	}
	now := time.Now().UTC()
	tenant.CreatedAt, tenant.UpdatedAt = now, now
	if err := h.Store.CreateTenant(r.Context(), &tenant); err != nil {
		respondServiceError(w, err)
		return
	}
	log.Info().Str("tenant", tenant.TenantID).Str("ad_server", tenant.AdServer).Msg("Tenant created")
	respondJSON(w, http.StatusCreated, tenant)
}

func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	tenant, err := h.Store.GetTenant(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tenant)
}

func (h *Handlers) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var tenant models.Tenant
	if err := decode(r, &tenant); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	tenant.TenantID = chi.URLParam(r, "tenantID")
	tenant.UpdatedAt = time.Now().UTC()
	if err := h.Store.UpdateTenant(r.Context(), &tenant); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tenant)
}

func (h *Handlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	if err := h.Store.DeleteTenant(r.Context(), chi.URLParam(r, "tenantID")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// ══════════════════════════════════════════════════════════════
// ── Admin: Principal Handlers ────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListPrincipals(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	principals, err := h.Store.ListPrincipals(r.Context(), pkgmw.GetTenantID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if principals == nil {
		principals = []models.Principal{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"principals": principals})
}

func (h *Handlers) CreatePrincipal(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var principal models.Principal
	if err := decode(r, &principal); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if principal.PrincipalID == "" || principal.AccessToken == "" {
		respondError(w, http.StatusBadRequest, "principal_id and access_token are required")
		return
	}
	principal.TenantID = pkgmw.GetTenantID(r.Context())
	principal.CreatedAt = time.Now().UTC()
	if err := h.Store.CreatePrincipal(r.Context(), &principal); err != nil {
		respondServiceError(w, err)
		return
	}
	log.Info().Str("tenant", principal.TenantID).Str("principal", principal.PrincipalID).Msg("Principal created")
	respondJSON(w, http.StatusCreated, principal)
}

func (h *Handlers) DeletePrincipal(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	err := h.Store.DeletePrincipal(r.Context(), pkgmw.GetTenantID(r.Context()), chi.URLParam(r, "principalID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// ══════════════════════════════════════════════════════════════
// ── Admin: Product Handlers ──────────────────────────────────
// ══════════════════════════════════════════════════════════════

// adminProduct mirrors Product with implementation_config writable.
// Only the admin surface may set it; it never round-trips to buyers.
type adminProduct struct {
	models.Product
	ImplementationConfig map[string]any `json:"implementation_config,omitempty"`
}

func (h *Handlers) AdminListProducts(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	products, err := h.Store.ListProducts(r.Context(), pkgmw.GetTenantID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req adminProduct
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "product_id is required")
		return
	}
	product := req.Product
	product.ImplementationConfig = req.ImplementationConfig
	product.TenantID = pkgmw.GetTenantID(r.Context())
	now := time.Now().UTC()
	product.CreatedAt, product.UpdatedAt = now, now
	if err := h.Store.CreateProduct(r.Context(), &product); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

func (h *Handlers) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req adminProduct
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	product := req.Product
	product.ImplementationConfig = req.ImplementationConfig
	product.ProductID = chi.URLParam(r, "productID")
	product.TenantID = pkgmw.GetTenantID(r.Context())
	product.UpdatedAt = time.Now().UTC()
	if err := h.Store.UpdateProduct(r.Context(), &product); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	err := h.Store.DeleteProduct(r.Context(), pkgmw.GetTenantID(r.Context()), chi.URLParam(r, "productID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// ══════════════════════════════════════════════════════════════
// ── Admin: Inventory Sync ────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// SyncInventory pulls ad units and targeting keys from the tenant's
// backend into the store, for adapters that support discovery.
func (h *Handlers) SyncInventory(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	tenantID := pkgmw.GetTenantID(r.Context())
	tenant, err := h.Store.GetTenant(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	dryRun, _ := tenant.AdapterConfig["dry_run"].(bool)
	adapter, err := h.Registry.Build(tenant.AdServer, tenant.AdapterConfig, &models.Principal{TenantID: tenantID}, dryRun)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	syncer, ok := adapter.(adapters.InventorySyncer)
	if !ok {
		respondError(w, http.StatusBadRequest, "adapter "+tenant.AdServer+" does not support inventory sync")
		return
	}

	units, keys := syncer.SyncInventory(r.Context(), tenantID)
	if len(units) > 0 {
		if err := h.Store.UpsertAdUnits(r.Context(), tenantID, units); err != nil {
			respondServiceError(w, err)
			return
		}
	}
	if len(keys) > 0 {
		if err := h.Store.UpsertTargetingKeys(r.Context(), tenantID, keys); err != nil {
			respondServiceError(w, err)
			return
		}
	}
	log.Info().Str("tenant", tenantID).Int("ad_units", len(units)).Int("targeting_keys", len(keys)).Msg("Inventory synced")
	respondJSON(w, http.StatusOK, map[string]int{"ad_units": len(units), "targeting_keys": len(keys)})
}
