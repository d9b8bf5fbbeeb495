// Package lifecycle coordinates media buy operations end to end:
// ownership checks, capability validation, the manual-approval decision,
// adapter dispatch, and persistence.
//
// Asynchrony is durable state only. A deferred operation is a workflow
// step holding the verbatim request; approval replays it through the
// same synchronous path a direct call takes. There is exactly one call
// site for each adapter operation in this package.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mediaforge/mediaforge/sales-engine/internal/adapters"
	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	"github.com/mediaforge/mediaforge/sales-engine/internal/workflow"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/contracts"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

// OwnershipError marks a principal touching another principal's buy.
// Always a hard rejection, always security-logged.
type OwnershipError struct {
	PrincipalID string
	MediaBuyID  string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("principal %s does not own media buy %s", e.PrincipalID, e.MediaBuyID)
}

// Coordinator drives the media buy lifecycle against one store, one
// adapter registry, and the workflow engine.
type Coordinator struct {
	store    store.Store
	registry *adapters.Registry
	matcher  contracts.ProductMatcher
	engine   *workflow.Engine

	// buyByCtx accelerates context → media buy resolution. Invalidated
	// on writes and rebuilt from the store on miss; never the source of
	// truth.
	cacheMu  sync.Mutex
	buyByCtx map[string]string
}

// NewCoordinator wires the coordinator and registers its resume
// handlers with the workflow engine.
func NewCoordinator(s store.Store, r *adapters.Registry, m contracts.ProductMatcher, e *workflow.Engine) *Coordinator {
	c := &Coordinator{
		store:    s,
		registry: r,
		matcher:  m,
		engine:   e,
		buyByCtx: make(map[string]string),
	}
	e.RegisterResumeHandler("create_media_buy", c.resumeCreate)
	e.RegisterResumeHandler("update_media_buy", c.resumeUpdate)
	e.RegisterResumeHandler("creative_approval", c.resumeCreativeApproval)
	return c
}

// adapterFor builds the tenant's configured adapter bound to one
// principal. The dry_run flag rides in the tenant's adapter config.
func (c *Coordinator) adapterFor(tenant *models.Tenant, principal *models.Principal) (adapters.Adapter, error) {
	dryRun, _ := tenant.AdapterConfig["dry_run"].(bool)
	return c.registry.Build(tenant.AdServer, tenant.AdapterConfig, principal, dryRun)
}

// execAdapter builds the adapter for an execute path. The approval
// decision is settled at the coordinator before execution, so the
// manual-approval flag is stripped; a backend must not re-defer an
// approved replay.
func (c *Coordinator) execAdapter(tenant *models.Tenant, principal *models.Principal) (adapters.Adapter, error) {
	cfg := tenant.AdapterConfig
	if _, ok := cfg["manual_approval_required"]; ok {
		stripped := make(map[string]any, len(cfg))
		for k, v := range cfg {
			if k == "manual_approval_required" {
				continue
			}
			stripped[k] = v
		}
		cfg = stripped
	}
	dryRun, _ := cfg["dry_run"].(bool)
	return c.registry.Build(tenant.AdServer, cfg, principal, dryRun)
}

// ownedBuy loads a buy and enforces ownership.
func (c *Coordinator) ownedBuy(ctx context.Context, tenantID string, principal *models.Principal, mediaBuyID string) (*models.MediaBuy, error) {
	buy, err := c.store.GetMediaBuy(ctx, tenantID, mediaBuyID)
	if err != nil {
		return nil, err
	}
	if buy.PrincipalID != principal.PrincipalID {
		log.Warn().
			Bool("security", true).
			Str("tenant", tenantID).
			Str("principal", principal.PrincipalID).
			Str("media_buy", mediaBuyID).
			Str("owner", buy.PrincipalID).
			Msg("Ownership violation rejected")
		return nil, &OwnershipError{PrincipalID: principal.PrincipalID, MediaBuyID: mediaBuyID}
	}
	return buy, nil
}

// ── Create ──────────────────────────────────────────────────

// CreateMediaBuy validates, applies the approval decision, and either
// defers or places the buy synchronously. Validation violations fail
// the request with nothing persisted and no backend call.
func (c *Coordinator) CreateMediaBuy(ctx context.Context, tenantID string, principal *models.Principal, req *models.CreateMediaBuyRequest) (*models.CreateMediaBuyResponse, error) {
	tenant, err := c.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	adapter, err := c.adapterFor(tenant, principal)
	if err != nil {
		return nil, fmt.Errorf("build adapter: %w", err)
	}

	if violations := adapter.ValidateTargeting(req.TargetingOverlay); len(violations) > 0 {
		return &models.CreateMediaBuyResponse{
			Status: models.StatusFailed,
			Reason: strings.Join(violations, "; "),
		}, nil
	}

	// Approval decision. Deferral creates durable state and stops; the
	// adapter is not called until a human approves.
	if reason, priority, due, deferred := c.createDeferral(ctx, tenant, req); deferred {
		raw, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		d, err := c.engine.DeferForApproval(ctx, tenantID, principal.PrincipalID, req.ContextID,
			"create_media_buy", reason, priority, due, raw, "")
		if err != nil {
			return nil, err
		}
		return &models.CreateMediaBuyResponse{
			Status:    models.StatusPendingManual,
			Detail:    reason,
			ContextID: d.Context.ContextID,
		}, nil
	}

	return c.executeCreate(ctx, tenant, principal, req, "")
}

// createDeferral applies the decision algorithm for creates.
func (c *Coordinator) createDeferral(ctx context.Context, tenant *models.Tenant, req *models.CreateMediaBuyRequest) (reason string, priority models.TaskPriority, due time.Duration, deferred bool) {
	if tenant.ManualApprovalRequired("create_media_buy") {
		return "Manual approval required for media buy creation", models.PriorityHigh, 4 * time.Hour, true
	}
	if !tenant.AutoCreateMediaBuys {
		return "Tenant configuration requires manual approval", models.PriorityMedium, 8 * time.Hour, true
	}
	for _, productID := range req.ProductIDs {
		product, err := c.store.GetProduct(ctx, tenant.TenantID, productID)
		if err != nil {
			continue // missing products surface later in package resolution
		}
		if !product.AutoCreateEnabled {
			return "Product configuration requires manual approval", models.PriorityMedium, 8 * time.Hour, true
		}
	}
	return "", "", 0, false
}

// executeCreate is the single synchronous create path, shared by the
// direct call and approval resumption. contextID is empty on the
// direct path and the approval step's context on the resumed path.
func (c *Coordinator) executeCreate(ctx context.Context, tenant *models.Tenant, principal *models.Principal, req *models.CreateMediaBuyRequest, contextID string) (*models.CreateMediaBuyResponse, error) {
	adapter, err := c.execAdapter(tenant, principal)
	if err != nil {
		return nil, fmt.Errorf("build adapter: %w", err)
	}

	packages, err := c.matcher.ResolvePackages(ctx, tenant.TenantID, req.ProductIDs, req.TotalBudget, req.PerPackageCPM)
	if err != nil {
		return nil, fmt.Errorf("resolve packages: %w", err)
	}

	result, err := adapter.CreateMediaBuy(ctx, req, packages, req.FlightStartDate, req.FlightEndDate)
	if err != nil {
		return &models.CreateMediaBuyResponse{
			Status: models.StatusFailed,
			Reason: err.Error(),
		}, nil
	}
	if result.Status == models.StatusFailed {
		return &models.CreateMediaBuyResponse{
			Status: models.StatusFailed,
			Reason: result.Detail,
		}, nil
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	now := time.Now().UTC()
	buy := &models.MediaBuy{
		MediaBuyID:  result.MediaBuyID,
		TenantID:    tenant.TenantID,
		PrincipalID: principal.PrincipalID,
		OrderName:   req.OrderName,
		Budget:      req.TotalBudget,
		Currency:    req.Currency,
		StartDate:   req.FlightStartDate,
		EndDate:     req.FlightEndDate,
		Status:      result.Status,
		RawRequest:  raw,
		ContextID:   contextID,
		Packages:    result.Packages,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.CreateMediaBuy(ctx, buy); err != nil {
		return nil, fmt.Errorf("persist media buy: %w", err)
	}
	if contextID != "" {
		c.invalidateContext(tenant.TenantID, contextID)
	}

	resp := &models.CreateMediaBuyResponse{
		MediaBuyID:       buy.MediaBuyID,
		Status:           buy.Status,
		Detail:           result.Detail,
		ContextID:        contextID,
		CreativeDeadline: result.CreativeDeadline,
		Packages:         result.Packages,
	}

	if len(req.Creatives) > 0 {
		statuses, err := c.addCreatives(ctx, tenant, principal, adapter, buy, req.Creatives, now)
		if err != nil {
			log.Warn().Err(err).Str("media_buy", buy.MediaBuyID).Msg("Attached creative forwarding failed")
		} else {
			log.Info().Int("creatives", len(statuses)).Str("media_buy", buy.MediaBuyID).Msg("Attached creatives forwarded")
		}
	}

	log.Info().
		Str("tenant", tenant.TenantID).
		Str("principal", principal.PrincipalID).
		Str("media_buy", buy.MediaBuyID).
		Str("status", string(buy.Status)).
		Float64("budget", buy.Budget).
		Msg("Media buy created")
	return resp, nil
}

// resumeCreate replays an approved create from its workflow step.
func (c *Coordinator) resumeCreate(ctx context.Context, step *models.WorkflowStep) error {
	var req models.CreateMediaBuyRequest
	if err := json.Unmarshal(step.RequestData, &req); err != nil {
		return fmt.Errorf("decode stored request: %w", err)
	}
	tenant, principal, err := c.stepActors(ctx, step)
	if err != nil {
		return err
	}
	resp, err := c.executeCreate(ctx, tenant, principal, &req, step.ContextID)
	if err != nil {
		return err
	}
	if resp.Status == models.StatusFailed {
		return fmt.Errorf("create failed after approval: %s", resp.Reason)
	}
	out, _ := json.Marshal(resp)
	step.ResponseData = out
	step.MediaBuyID = resp.MediaBuyID
	if err := c.store.UpdateWorkflowStep(ctx, step); err != nil {
		log.Warn().Err(err).Str("step_id", step.StepID).Msg("Step response record failed")
	}
	return nil
}

// stepActors resolves the tenant and acting principal for a step via
// its context.
func (c *Coordinator) stepActors(ctx context.Context, step *models.WorkflowStep) (*models.Tenant, *models.Principal, error) {
	tenant, err := c.store.GetTenant(ctx, step.TenantID)
	if err != nil {
		return nil, nil, err
	}
	stepCtx, err := c.store.GetContext(ctx, step.TenantID, step.ContextID)
	if err != nil {
		return nil, nil, fmt.Errorf("load step context: %w", err)
	}
	principal, err := c.store.GetPrincipal(ctx, step.TenantID, stepCtx.PrincipalID)
	if err != nil {
		return nil, nil, fmt.Errorf("load step principal: %w", err)
	}
	return tenant, principal, nil
}

// ── Update ──────────────────────────────────────────────────

// UpdateMediaBuy applies PATCH semantics: only supplied fields change.
// Package updates apply in caller order and the first backend failure
// aborts the remainder; the response lists what did land.
func (c *Coordinator) UpdateMediaBuy(ctx context.Context, tenantID string, principal *models.Principal, req *models.UpdateMediaBuyRequest) (*models.UpdateMediaBuyResponse, error) {
	tenant, err := c.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	buy, err := c.ownedBuy(ctx, tenantID, principal, req.MediaBuyID)
	if err != nil {
		return nil, err
	}

	if tenant.ManualApprovalRequired("update_media_buy") {
		raw, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reason := "Manual approval required for media buy update"
		d, err := c.engine.DeferForApproval(ctx, tenantID, principal.PrincipalID, req.ContextID,
			"update_media_buy", reason, models.PriorityHigh, 4*time.Hour, raw, buy.MediaBuyID)
		if err != nil {
			return nil, err
		}
		return &models.UpdateMediaBuyResponse{
			MediaBuyID: buy.MediaBuyID,
			Status:     "pending_manual",
			Detail:     reason,
			ContextID:  d.Context.ContextID,
		}, nil
	}

	return c.executeUpdate(ctx, tenant, principal, buy, req)
}

// executeUpdate is the single synchronous update path, shared by the
// direct call and approval resumption.
func (c *Coordinator) executeUpdate(ctx context.Context, tenant *models.Tenant, principal *models.Principal, buy *models.MediaBuy, req *models.UpdateMediaBuyRequest) (*models.UpdateMediaBuyResponse, error) {
	adapter, err := c.execAdapter(tenant, principal)
	if err != nil {
		return nil, fmt.Errorf("build adapter: %w", err)
	}

	today := time.Now().UTC()
	if req.Today != nil {
		today = *req.Today
	}

	// Durable trace of the attempt, owned by the caller.
	raw, _ := json.Marshal(req)
	stepCtx, err := c.engine.EnsureContext(ctx, tenant.TenantID, principal.PrincipalID, req.ContextID)
	if err != nil {
		return nil, fmt.Errorf("ensure context: %w", err)
	}
	now := time.Now().UTC()
	step := &models.WorkflowStep{
		StepID:      workflow.NewStepID(),
		ContextID:   stepCtx.ContextID,
		TenantID:    tenant.TenantID,
		Type:        models.StepTypeToolCall,
		Owner:       models.OwnerPrincipal,
		Status:      models.StepInProgress,
		ToolName:    "update_media_buy",
		RequestData: raw,
		MediaBuyID:  buy.MediaBuyID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.CreateWorkflowStep(ctx, step); err != nil {
		return nil, fmt.Errorf("create workflow step: %w", err)
	}

	var applied []string
	fail := func(reason string) (*models.UpdateMediaBuyResponse, error) {
		step.Status = models.StepFailed
		step.Error = reason
		step.UpdatedAt = time.Now().UTC()
		if uerr := c.store.UpdateWorkflowStep(ctx, step); uerr != nil {
			log.Warn().Err(uerr).Str("step_id", step.StepID).Msg("Step failure record failed")
		}
		return &models.UpdateMediaBuyResponse{
			MediaBuyID:      buy.MediaBuyID,
			Status:          "failed",
			Reason:          reason,
			AppliedPackages: applied,
			ContextID:       stepCtx.ContextID,
		}, nil
	}

	var implementationDate *time.Time

	// Campaign-level toggle first.
	if req.Active != nil {
		action := adapters.ActionPauseMediaBuy
		if *req.Active {
			action = adapters.ActionResumeMediaBuy
		}
		result, err := adapter.UpdateMediaBuy(ctx, buy.MediaBuyID, action, "", nil, nil, today)
		if err != nil {
			return fail(err.Error())
		}
		if result.Status != "accepted" {
			return fail(result.Reason)
		}
		implementationDate = result.ImplementationDate
		applied = append(applied, action)
		if *req.Active {
			buy.Status = models.StatusDelivering
		} else {
			buy.Status = models.StatusPaused
		}
	}

	// Per-package updates in caller order.
	for _, pkg := range req.Packages {
		if pkg.Active != nil {
			action := adapters.ActionPausePackage
			if *pkg.Active {
				action = adapters.ActionResumePackage
			}
			result, err := adapter.UpdateMediaBuy(ctx, buy.MediaBuyID, action, pkg.PackageID, nil, nil, today)
			if err != nil {
				return fail(err.Error())
			}
			if result.Status != "accepted" {
				return fail(result.Reason)
			}
			applied = append(applied, pkg.PackageID+":"+action)
		}
		if pkg.Impressions != nil {
			result, err := adapter.UpdateMediaBuy(ctx, buy.MediaBuyID, adapters.ActionUpdatePackageImpressions, pkg.PackageID, nil, pkg.Impressions, today)
			if err != nil {
				return fail(err.Error())
			}
			if result.Status != "accepted" {
				return fail(result.Reason)
			}
			applied = append(applied, pkg.PackageID+":"+adapters.ActionUpdatePackageImpressions)
			c.applyPackagePatch(buy, pkg.PackageID, nil, pkg.Impressions)
		}
		if pkg.Budget != nil {
			result, err := adapter.UpdateMediaBuy(ctx, buy.MediaBuyID, adapters.ActionUpdatePackageBudget, pkg.PackageID, pkg.Budget, nil, today)
			if err != nil {
				return fail(err.Error())
			}
			if result.Status != "accepted" {
				return fail(result.Reason)
			}
			applied = append(applied, pkg.PackageID+":"+adapters.ActionUpdatePackageBudget)
			c.applyPackagePatch(buy, pkg.PackageID, pkg.Budget, nil)
		}
	}

	buy.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateMediaBuy(ctx, buy); err != nil {
		return fail(fmt.Sprintf("persist update: %v", err))
	}
	if buy.ContextID != "" {
		c.invalidateContext(tenant.TenantID, buy.ContextID)
	}

	summary, _ := json.Marshal(map[string]any{"updates_applied": applied})
	step.Status = models.StepCompleted
	step.ResponseData = summary
	step.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateWorkflowStep(ctx, step); err != nil {
		log.Warn().Err(err).Str("step_id", step.StepID).Msg("Step completion record failed")
	}

	return &models.UpdateMediaBuyResponse{
		MediaBuyID:         buy.MediaBuyID,
		Status:             "accepted",
		ImplementationDate: implementationDate,
		AppliedPackages:    applied,
		ContextID:          stepCtx.ContextID,
	}, nil
}

// UpdatePackage applies per-package changes without touching the
// campaign-level state. It shares the update path, so approval
// deferral and the durable tool_call trace behave identically.
func (c *Coordinator) UpdatePackage(ctx context.Context, tenantID string, principal *models.Principal, req *models.UpdatePackageRequest) (*models.UpdateMediaBuyResponse, error) {
	if len(req.Packages) == 0 {
		return nil, fmt.Errorf("no package updates supplied")
	}
	return c.UpdateMediaBuy(ctx, tenantID, principal, &models.UpdateMediaBuyRequest{
		MediaBuyID: req.MediaBuyID,
		Packages:   req.Packages,
		ContextID:  req.ContextID,
		Today:      req.Today,
	})
}

// applyPackagePatch mirrors an accepted backend change onto the
// persisted package record.
func (c *Coordinator) applyPackagePatch(buy *models.MediaBuy, packageID string, budget *float64, impressions *int64) {
	for i := range buy.Packages {
		if buy.Packages[i].PackageID != packageID {
			continue
		}
		if impressions != nil {
			buy.Packages[i].Impressions = *impressions
		}
		if budget != nil && buy.Packages[i].CPM > 0 {
			buy.Packages[i].Impressions = int64(*budget / buy.Packages[i].CPM * 1000)
		}
		return
	}
}

// resumeUpdate replays an approved update from its workflow step.
func (c *Coordinator) resumeUpdate(ctx context.Context, step *models.WorkflowStep) error {
	var req models.UpdateMediaBuyRequest
	if err := json.Unmarshal(step.RequestData, &req); err != nil {
		return fmt.Errorf("decode stored request: %w", err)
	}
	tenant, principal, err := c.stepActors(ctx, step)
	if err != nil {
		return err
	}
	buy, err := c.ownedBuy(ctx, tenant.TenantID, principal, req.MediaBuyID)
	if err != nil {
		return err
	}
	resp, err := c.executeUpdate(ctx, tenant, principal, buy, &req)
	if err != nil {
		return err
	}
	if resp.Status == "failed" {
		return fmt.Errorf("update failed after approval: %s", resp.Reason)
	}
	return nil
}

// ── Status ──────────────────────────────────────────────────

// CheckMediaBuyStatus resolves a context to its buy's coarse state.
// "not_found" is a normal outcome; callers probe for buys that may not
// exist yet.
func (c *Coordinator) CheckMediaBuyStatus(ctx context.Context, tenantID, contextID string) (*models.CheckMediaBuyStatusResponse, error) {
	resp := &models.CheckMediaBuyStatusResponse{ContextID: contextID}

	buy, err := c.buyForContext(ctx, tenantID, contextID)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); !ok {
			return nil, err
		}
	}

	pending, err := c.pendingApprovalForContext(ctx, tenantID, contextID)
	if err != nil {
		return nil, err
	}
	if pending {
		resp.Status = "pending_manual"
		resp.Detail = "Awaiting manual approval"
		if buy != nil {
			resp.MediaBuyID = buy.MediaBuyID
		}
		return resp, nil
	}

	if buy == nil {
		resp.Status = "not_found"
		return resp, nil
	}

	resp.MediaBuyID = buy.MediaBuyID
	assignments, err := c.store.ListCreativeAssignments(ctx, tenantID, buy.MediaBuyID)
	if err != nil {
		return nil, err
	}
	if len(assignments) > 0 {
		resp.Status = "active"
	} else {
		resp.Status = "pending_creative"
	}
	return resp, nil
}

// buyForContext resolves a context to its buy through the cache.
func (c *Coordinator) buyForContext(ctx context.Context, tenantID, contextID string) (*models.MediaBuy, error) {
	key := tenantID + ":" + contextID

	c.cacheMu.Lock()
	id, hit := c.buyByCtx[key]
	c.cacheMu.Unlock()

	if hit {
		buy, err := c.store.GetMediaBuy(ctx, tenantID, id)
		if err == nil {
			return buy, nil
		}
		// Stale entry; drop it and rebuild from the store.
		c.invalidateContext(tenantID, contextID)
	}

	buy, err := c.store.GetMediaBuyByContext(ctx, tenantID, contextID)
	if err != nil {
		return nil, err
	}
	c.cacheMu.Lock()
	c.buyByCtx[key] = buy.MediaBuyID
	c.cacheMu.Unlock()
	return buy, nil
}

func (c *Coordinator) invalidateContext(tenantID, contextID string) {
	c.cacheMu.Lock()
	delete(c.buyByCtx, tenantID+":"+contextID)
	c.cacheMu.Unlock()
}

// pendingApprovalForContext reports whether the context has an
// unresolved approval step.
func (c *Coordinator) pendingApprovalForContext(ctx context.Context, tenantID, contextID string) (bool, error) {
	steps, err := c.store.ListWorkflowSteps(ctx, tenantID, store.StepFilter{
		Statuses: []models.StepStatus{models.StepRequiresApproval},
	})
	if err != nil {
		return false, err
	}
	for _, s := range steps {
		if s.ContextID == contextID && s.Type == models.StepTypeApproval {
			return true, nil
		}
	}
	return false, nil
}

// ── Delivery ────────────────────────────────────────────────

// statusesForFilter maps the delivery status filter to buy statuses.
// An empty slice means no constraint.
func statusesForFilter(filter string) []models.MediaBuyStatus {
	switch filter {
	case "all":
		return nil
	case "completed":
		return []models.MediaBuyStatus{models.StatusCompleted}
	default: // "active" and unset
		return []models.MediaBuyStatus{
			models.StatusDelivering, models.StatusPendingStart, models.StatusPaused,
		}
	}
}

// GetMediaBuyDelivery aggregates backend delivery for the caller's
// buys over the yesterday→today window. Per-buy adapter failures are
// logged and skipped, never fatal to the report.
func (c *Coordinator) GetMediaBuyDelivery(ctx context.Context, tenantID string, principal *models.Principal, mediaBuyIDs []string, statusFilter string, today time.Time) (*models.GetMediaBuyDeliveryResponse, error) {
	tenant, err := c.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	adapter, err := c.adapterFor(tenant, principal)
	if err != nil {
		return nil, fmt.Errorf("build adapter: %w", err)
	}
	if today.IsZero() {
		today = time.Now().UTC()
	}

	var buys []models.MediaBuy
	if len(mediaBuyIDs) > 0 {
		for _, id := range mediaBuyIDs {
			buy, err := c.ownedBuy(ctx, tenantID, principal, id)
			if err != nil {
				return nil, err
			}
			buys = append(buys, *buy)
		}
	} else {
		buys, err = c.store.ListMediaBuys(ctx, tenantID, store.MediaBuyFilter{
			PrincipalID: principal.PrincipalID,
			Statuses:    statusesForFilter(statusFilter),
		})
		if err != nil {
			return nil, err
		}
	}

	period := models.ReportingPeriod{Start: today.Add(-24 * time.Hour), End: today}
	resp := &models.GetMediaBuyDeliveryResponse{ReportingPeriod: period}

	for i := range buys {
		buy := &buys[i]
		delivery, err := adapter.GetMediaBuyDelivery(ctx, buy.MediaBuyID, period, today)
		if err != nil {
			log.Warn().Err(err).
				Str("tenant", tenantID).
				Str("media_buy", buy.MediaBuyID).
				Msg("Delivery fetch failed, skipping buy")
			continue
		}

		total, elapsed := flightWindow(buy.StartDate, buy.EndDate, today)
		entry := models.MediaBuyDeliveryEntry{
			MediaBuyID:  buy.MediaBuyID,
			Status:      deliveryStatus(buy, today),
			Spend:       delivery.Spend,
			Impressions: delivery.Impressions,
			Pacing:      classifyPacing(buy.Budget, total, elapsed, delivery.Spend),
			DaysElapsed: elapsed,
			TotalDays:   total,
			ByPackage:   delivery.ByPackage,
		}
		resp.Deliveries = append(resp.Deliveries, entry)
		resp.TotalSpend += delivery.Spend
		resp.TotalImpressions += delivery.Impressions
		if entry.Status == models.StatusDelivering {
			resp.ActiveCount++
		}
	}
	return resp, nil
}

// flightWindow returns total and elapsed flight days. Minimum one day;
// elapsed clamps to [0, total].
func flightWindow(start, end, today time.Time) (total, elapsed int) {
	total = int(end.Sub(start).Hours()/24) + 1
	if total < 1 {
		total = 1
	}
	elapsed = int(today.Sub(start).Hours() / 24)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > total {
		elapsed = total
	}
	return total, elapsed
}

// classifyPacing compares actual spend to the linear expected line:
// over 1.1× is ahead, under 0.9× is behind.
func classifyPacing(budget float64, totalDays, daysElapsed int, spend float64) models.Pacing {
	if totalDays == 0 || daysElapsed == 0 {
		return models.PacingOnTrack
	}
	expected := budget / float64(totalDays) * float64(daysElapsed)
	switch {
	case spend > expected*1.1:
		return models.PacingAhead
	case spend < expected*0.9:
		return models.PacingBehind
	default:
		return models.PacingOnTrack
	}
}

// deliveryStatus derives the per-buy report status from the flight
// window, with paused passed through.
func deliveryStatus(buy *models.MediaBuy, today time.Time) models.MediaBuyStatus {
	if buy.Status == models.StatusPaused {
		return models.StatusPaused
	}
	switch {
	case today.Before(buy.StartDate):
		return models.StatusPendingStart
	case today.After(buy.EndDate):
		return models.StatusCompleted
	default:
		return models.StatusDelivering
	}
}

// ── Creatives ───────────────────────────────────────────────

// AddCreativeAssets submits creatives for a buy. Formats on the
// tenant's auto-approve list go straight to the backend; everything
// else parks in pending_review behind a creative_approval task.
func (c *Coordinator) AddCreativeAssets(ctx context.Context, tenantID string, principal *models.Principal, mediaBuyID string, assets []models.CreativeAsset, today time.Time) ([]models.AssetStatus, error) {
	tenant, err := c.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	buy, err := c.ownedBuy(ctx, tenantID, principal, mediaBuyID)
	if err != nil {
		return nil, err
	}
	adapter, err := c.adapterFor(tenant, principal)
	if err != nil {
		return nil, fmt.Errorf("build adapter: %w", err)
	}
	if today.IsZero() {
		today = time.Now().UTC()
	}
	return c.addCreatives(ctx, tenant, principal, adapter, buy, assets, today)
}

// addCreatives is the shared creative submission path, also used for
// creatives attached to a create request.
func (c *Coordinator) addCreatives(ctx context.Context, tenant *models.Tenant, principal *models.Principal, adapter adapters.Adapter, buy *models.MediaBuy, assets []models.CreativeAsset, today time.Time) ([]models.AssetStatus, error) {
	var forward []models.CreativeAsset
	statuses := make([]models.AssetStatus, 0, len(assets))
	now := time.Now().UTC()

	for _, asset := range assets {
		status := models.CreativeStatusPendingReview
		if autoApproved(tenant, asset.Format) {
			status = models.CreativeStatusApproved
			forward = append(forward, asset)
		}

		creative := &models.Creative{
			CreativeID:  asset.CreativeID,
			TenantID:    tenant.TenantID,
			PrincipalID: principal.PrincipalID,
			Name:        asset.Name,
			Format:      asset.Format,
			ContentURI:  asset.MediaURL,
			ClickURL:    asset.ClickURL,
			Status:      status,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := c.store.CreateCreative(ctx, creative); err != nil {
			return nil, fmt.Errorf("persist creative %s: %w", asset.CreativeID, err)
		}

		if status == models.CreativeStatusPendingReview {
			// The task carries the asset verbatim so an approval can
			// replay the submission through the resume handler.
			raw, merr := json.Marshal(asset)
			if merr != nil {
				return nil, fmt.Errorf("marshal creative %s: %w", asset.CreativeID, merr)
			}
			_, err := c.engine.CreateWorkflowStepForTask(ctx, tenant.TenantID, workflow.CreateTaskRequest{
				TaskType:    "creative_approval",
				Title:       fmt.Sprintf("Review creative %s (%s)", asset.Name, asset.Format),
				Priority:    models.PriorityMedium,
				PrincipalID: principal.PrincipalID,
				MediaBuyID:  buy.MediaBuyID,
				RequestData: raw,
				Comment:     fmt.Sprintf("Creative %s requires review: format %s is not auto-approved", asset.CreativeID, asset.Format),
			})
			if err != nil {
				log.Warn().Err(err).Str("creative", asset.CreativeID).Msg("Creative review task creation failed")
			}
			statuses = append(statuses, models.AssetStatus{
				CreativeID: asset.CreativeID,
				Status:     models.CreativeStatusPendingReview,
				Detail:     "Awaiting review",
			})
			continue
		}

		for _, packageID := range assetPackages(asset, buy) {
			assignment := &models.CreativeAssignment{
				AssignmentID: uuid.New().String(),
				TenantID:     tenant.TenantID,
				MediaBuyID:   buy.MediaBuyID,
				PackageID:    packageID,
				CreativeID:   asset.CreativeID,
				CreatedAt:    now,
			}
			if err := c.store.CreateCreativeAssignment(ctx, assignment); err != nil {
				return nil, fmt.Errorf("persist assignment: %w", err)
			}
		}
	}

	if len(forward) > 0 {
		backendStatuses, err := adapter.AddCreativeAssets(ctx, buy.MediaBuyID, forward, today)
		if err != nil {
			return nil, fmt.Errorf("backend creative submit: %w", err)
		}
		statuses = append(statuses, backendStatuses...)
	}
	return statuses, nil
}

// resumeCreativeApproval finishes a human-approved creative: the
// stored record flips to approved, package assignments are created,
// and the asset goes to the backend the same way an auto-approved
// submission would have.
func (c *Coordinator) resumeCreativeApproval(ctx context.Context, step *models.WorkflowStep) error {
	var asset models.CreativeAsset
	if err := json.Unmarshal(step.RequestData, &asset); err != nil {
		return fmt.Errorf("decode stored creative: %w", err)
	}
	tenant, principal, err := c.stepActors(ctx, step)
	if err != nil {
		return err
	}

	creative, err := c.store.GetCreative(ctx, tenant.TenantID, asset.CreativeID)
	if err != nil {
		return err
	}
	creative.Status = models.CreativeStatusApproved
	creative.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateCreative(ctx, creative); err != nil {
		return fmt.Errorf("persist creative approval: %w", err)
	}

	buy, err := c.store.GetMediaBuy(ctx, tenant.TenantID, step.MediaBuyID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, packageID := range assetPackages(asset, buy) {
		assignment := &models.CreativeAssignment{
			AssignmentID: uuid.New().String(),
			TenantID:     tenant.TenantID,
			MediaBuyID:   buy.MediaBuyID,
			PackageID:    packageID,
			CreativeID:   asset.CreativeID,
			CreatedAt:    now,
		}
		if err := c.store.CreateCreativeAssignment(ctx, assignment); err != nil {
			return fmt.Errorf("persist assignment: %w", err)
		}
	}

	adapter, err := c.execAdapter(tenant, principal)
	if err != nil {
		return fmt.Errorf("build adapter: %w", err)
	}
	if _, err := adapter.AddCreativeAssets(ctx, buy.MediaBuyID, []models.CreativeAsset{asset}, now); err != nil {
		return fmt.Errorf("backend creative submit: %w", err)
	}

	log.Info().
		Str("tenant", tenant.TenantID).
		Str("creative", asset.CreativeID).
		Str("media_buy", buy.MediaBuyID).
		Msg("Creative approved and submitted")
	return nil
}

// autoApproved checks the tenant's auto-approve format list.
func autoApproved(tenant *models.Tenant, format string) bool {
	for _, f := range tenant.AutoApproveFormats {
		if f == format {
			return true
		}
	}
	return false
}

// assetPackages resolves an asset's package assignments, defaulting to
// every package on the buy.
func assetPackages(asset models.CreativeAsset, buy *models.MediaBuy) []string {
	if len(asset.PackageAssignments) > 0 {
		return asset.PackageAssignments
	}
	out := make([]string, 0, len(buy.Packages))
	for _, p := range buy.Packages {
		out = append(out, p.PackageID)
	}
	return out
}

// CheckCreativeStatus reports the stored status of the caller's
// creatives.
func (c *Coordinator) CheckCreativeStatus(ctx context.Context, tenantID string, principal *models.Principal, creativeIDs []string) ([]models.AssetStatus, error) {
	statuses := make([]models.AssetStatus, 0, len(creativeIDs))
	for _, id := range creativeIDs {
		creative, err := c.store.GetCreative(ctx, tenantID, id)
		if err != nil {
			if _, ok := err.(*store.ErrNotFound); ok {
				statuses = append(statuses, models.AssetStatus{
					CreativeID: id,
					Status:     models.CreativeStatusFailed,
					Detail:     "Creative not found",
				})
				continue
			}
			return nil, err
		}
		if creative.PrincipalID != principal.PrincipalID {
			return nil, &OwnershipError{PrincipalID: principal.PrincipalID, MediaBuyID: id}
		}
		statuses = append(statuses, models.AssetStatus{
			CreativeID: creative.CreativeID,
			Status:     creative.Status,
		})
	}
	return statuses, nil
}

// ── Performance index ───────────────────────────────────────

// UpdatePerformanceIndex forwards buyer performance signals to the
// backend. Returns whether the backend acted on them.
func (c *Coordinator) UpdatePerformanceIndex(ctx context.Context, tenantID string, principal *models.Principal, mediaBuyID string, perf []models.PackagePerformance) (bool, error) {
	tenant, err := c.store.GetTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	buy, err := c.ownedBuy(ctx, tenantID, principal, mediaBuyID)
	if err != nil {
		return false, err
	}
	adapter, err := c.adapterFor(tenant, principal)
	if err != nil {
		return false, fmt.Errorf("build adapter: %w", err)
	}
	return adapter.UpdatePerformanceIndex(ctx, buy.MediaBuyID, perf)
}
