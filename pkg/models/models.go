// Package models defines the canonical, backend-neutral types for the
// sales engine: targeting overlays, media buys, packages, creatives,
// workflow steps, and the tenant/principal/product records they hang off.
//
// Everything here is pure data. Adapters translate these types into
// backend-native payloads; they never mutate them.
package models

import (
	"encoding/json"
	"time"
)

// ── Media Buy Status ─────────────────────────────────────────

// MediaBuyStatus is the externally observable lifecycle state of a buy.
type MediaBuyStatus string

const (
	// StatusPendingManual — awaiting human approval, no backend call yet.
	StatusPendingManual MediaBuyStatus = "pending_manual"
	// StatusPendingCreative — created on the backend, no creatives assigned.
	StatusPendingCreative MediaBuyStatus = "pending_creative"
	// StatusPendingActivation — creatives received, backend not yet serving.
	StatusPendingActivation MediaBuyStatus = "pending_activation"
	// StatusPendingStart — fully set up, flight window not yet open.
	StatusPendingStart MediaBuyStatus = "pending_start"
	StatusDelivering   MediaBuyStatus = "delivering"
	StatusPaused       MediaBuyStatus = "paused"
	StatusCompleted    MediaBuyStatus = "completed"
	// StatusFailed is terminal. Validation or backend rejection; no row
	// is persisted for a failed create.
	StatusFailed MediaBuyStatus = "failed"
)

// ── Targeting ────────────────────────────────────────────────

// FrequencyCapScope controls what a suppression window applies to.
type FrequencyCapScope string

const (
	FreqCapScopeMediaBuy FrequencyCapScope = "media_buy"
	FreqCapScopePackage  FrequencyCapScope = "package"
)

// FrequencyCap suppresses repeat impressions within a time window.
type FrequencyCap struct {
	SuppressMinutes int               `json:"suppress_minutes"` // must be > 0
	Scope           FrequencyCapScope `json:"scope"`
}

// DaypartSchedule is one day/hour window. Days use 0=Sunday..6=Saturday.
// Hours are inclusive start, exclusive end, in the Dayparting timezone.
type DaypartSchedule struct {
	Days      []int `json:"days"`
	StartHour int   `json:"start_hour"`
	EndHour   int   `json:"end_hour"`
}

// Dayparting restricts delivery to named presets or explicit schedules.
type Dayparting struct {
	Timezone  string            `json:"timezone,omitempty"`
	Presets   []string          `json:"presets,omitempty"` // e.g. "drive_time_morning"
	Schedules []DaypartSchedule `json:"schedules,omitempty"`
}

// Targeting is the canonical targeting overlay. Every dimension is an
// optional any-of (include) / none-of (exclude) pair; absent means
// "no constraint". Immutable once attached to a request.
type Targeting struct {
	GeoCountryAnyOf  []string `json:"geo_country_any_of,omitempty"`
	GeoCountryNoneOf []string `json:"geo_country_none_of,omitempty"`
	GeoRegionAnyOf   []string `json:"geo_region_any_of,omitempty"`
	GeoRegionNoneOf  []string `json:"geo_region_none_of,omitempty"`
	GeoMetroAnyOf    []string `json:"geo_metro_any_of,omitempty"`
	GeoMetroNoneOf   []string `json:"geo_metro_none_of,omitempty"`
	GeoCityAnyOf     []string `json:"geo_city_any_of,omitempty"`
	GeoCityNoneOf    []string `json:"geo_city_none_of,omitempty"`
	GeoZipAnyOf      []string `json:"geo_zip_any_of,omitempty"`
	GeoZipNoneOf     []string `json:"geo_zip_none_of,omitempty"`

	DeviceTypeAnyOf  []string `json:"device_type_any_of,omitempty"`
	DeviceTypeNoneOf []string `json:"device_type_none_of,omitempty"`
	OSAnyOf          []string `json:"os_any_of,omitempty"`
	OSNoneOf         []string `json:"os_none_of,omitempty"`
	BrowserAnyOf     []string `json:"browser_any_of,omitempty"`
	BrowserNoneOf    []string `json:"browser_none_of,omitempty"`

	ContentCategoryAnyOf  []string `json:"content_cat_any_of,omitempty"`
	ContentCategoryNoneOf []string `json:"content_cat_none_of,omitempty"`
	KeywordsAnyOf         []string `json:"keywords_any_of,omitempty"`
	KeywordsNoneOf        []string `json:"keywords_none_of,omitempty"`
	AudiencesAnyOf        []string `json:"audiences_any_of,omitempty"`
	AudiencesNoneOf       []string `json:"audiences_none_of,omitempty"`
	MediaTypeAnyOf        []string `json:"media_type_any_of,omitempty"`
	MediaTypeNoneOf       []string `json:"media_type_none_of,omitempty"`

	Signals      []string       `json:"signals,omitempty"`
	Dayparting   *Dayparting    `json:"dayparting,omitempty"`
	FrequencyCap *FrequencyCap  `json:"frequency_cap,omitempty"`
	Custom       map[string]any `json:"custom,omitempty"`

	// KeyValuePairs is managed-only signal targeting injected by the
	// platform (never by callers). Excluded from external serialization;
	// adapters MERGE it with per-package custom key-values rather than
	// letting one override the other.
	KeyValuePairs map[string]string `json:"-"`
}

// ExternalView returns a copy safe to echo back to a principal:
// managed-only key-value pairs are stripped.
func (t *Targeting) ExternalView() *Targeting {
	if t == nil {
		return nil
	}
	cp := *t
	cp.KeyValuePairs = nil
	return &cp
}

// ── Media Package ────────────────────────────────────────────

// DeliveryType distinguishes guaranteed from non-guaranteed inventory.
type DeliveryType string

const (
	DeliveryGuaranteed    DeliveryType = "guaranteed"
	DeliveryNonGuaranteed DeliveryType = "non_guaranteed"
)

// MediaPackage is one line item within a media buy. Always derived from
// a Product at create time, never constructed directly by a caller.
type MediaPackage struct {
	PackageID   string       `json:"package_id"`
	Name        string       `json:"name"`
	Delivery    DeliveryType `json:"delivery_type"`
	CPM         float64      `json:"cpm"`
	Impressions int64        `json:"impressions"`
	FormatIDs   []string     `json:"format_ids,omitempty"`
	PlatformID  string       `json:"platform_id,omitempty"` // backend line-item/flight id

	// ImplementationConfig is carried over from the source Product for
	// the adapter's eyes only. Never serialized to principals.
	ImplementationConfig map[string]any `json:"-"`
}

// ── Create Media Buy ─────────────────────────────────────────

// CreateMediaBuyRequest is the canonical create request. Persisted
// verbatim on the resulting MediaBuy (and on the approval step when the
// operation is deferred) so it can be replayed exactly.
type CreateMediaBuyRequest struct {
	ProductIDs       []string        `json:"product_ids"`
	TotalBudget      float64         `json:"total_budget"`
	Currency         string          `json:"currency,omitempty"`
	FlightStartDate  time.Time       `json:"flight_start_date"`
	FlightEndDate    time.Time       `json:"flight_end_date"`
	PONumber         string          `json:"po_number,omitempty"`
	OrderName        string          `json:"order_name,omitempty"`
	TargetingOverlay *Targeting      `json:"targeting_overlay,omitempty"`
	Creatives        []CreativeAsset `json:"creatives,omitempty"`
	ContextID        string          `json:"context_id,omitempty"`

	// PerPackageCPM overrides the product CPM when sizing packages.
	PerPackageCPM map[string]float64 `json:"per_package_cpm,omitempty"`
}

// CreateMediaBuyResponse reports the outcome of a create operation.
// A deferred operation carries status pending_manual and a context id;
// the media buy id is then a synthetic placeholder.
type CreateMediaBuyResponse struct {
	MediaBuyID       string         `json:"media_buy_id,omitempty"`
	Status           MediaBuyStatus `json:"status"`
	Detail           string         `json:"detail,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	ContextID        string         `json:"context_id,omitempty"`
	CreativeDeadline *time.Time     `json:"creative_deadline,omitempty"`
	Packages         []MediaPackage `json:"packages,omitempty"`
}

// ── Update Media Buy ─────────────────────────────────────────

// PackageUpdate is a PATCH for one package: only non-nil fields are
// applied; an omitted package is left completely untouched.
type PackageUpdate struct {
	PackageID   string   `json:"package_id"`
	Active      *bool    `json:"active,omitempty"`
	Budget      *float64 `json:"budget,omitempty"`
	Impressions *int64   `json:"impressions,omitempty"`
}

// UpdateMediaBuyRequest carries PATCH semantics: nil means "don't touch".
type UpdateMediaBuyRequest struct {
	MediaBuyID string          `json:"media_buy_id"`
	Active     *bool           `json:"active,omitempty"` // campaign-level pause/resume
	Packages   []PackageUpdate `json:"packages,omitempty"`
	Targeting  *Targeting      `json:"targeting_overlay,omitempty"`
	ContextID  string          `json:"context_id,omitempty"`
	Today      *time.Time      `json:"today,omitempty"` // simulation clock, defaults to now
}

// UpdatePackageRequest is the package-scoped subset of an update:
// no campaign-level toggle, only per-package changes.
type UpdatePackageRequest struct {
	MediaBuyID string          `json:"media_buy_id"`
	Packages   []PackageUpdate `json:"packages"`
	ContextID  string          `json:"context_id,omitempty"`
	Today      *time.Time      `json:"today,omitempty"`
}

// UpdateMediaBuyResponse reports which package updates were applied.
// On a partial failure AppliedPackages lists everything that DID reach
// the backend before the aborting error.
type UpdateMediaBuyResponse struct {
	MediaBuyID         string     `json:"media_buy_id"`
	Status             string     `json:"status"` // accepted | failed | pending_manual
	Reason             string     `json:"reason,omitempty"`
	Detail             string     `json:"detail,omitempty"`
	ImplementationDate *time.Time `json:"implementation_date,omitempty"`
	AppliedPackages    []string   `json:"applied_packages,omitempty"`
	ContextID          string     `json:"context_id,omitempty"`
}

// ── Creatives ────────────────────────────────────────────────

type CreativeStatus string

const (
	CreativeStatusPendingReview CreativeStatus = "pending_review"
	CreativeStatusApproved      CreativeStatus = "approved"
	CreativeStatusRejected      CreativeStatus = "rejected"
	CreativeStatusFailed        CreativeStatus = "failed"
)

// CreativeAsset is a creative as submitted with (or after) a media buy.
type CreativeAsset struct {
	CreativeID         string   `json:"creative_id"`
	Name               string   `json:"name"`
	Format             string   `json:"format"`
	MediaURL           string   `json:"media_url"`
	ClickURL           string   `json:"click_url,omitempty"`
	PackageAssignments []string `json:"package_assignments,omitempty"`
}

// AssetStatus is the per-asset outcome of AddCreativeAssets.
type AssetStatus struct {
	CreativeID string         `json:"creative_id"`
	Status     CreativeStatus `json:"status"`
	Detail     string         `json:"detail,omitempty"`
}

// Creative is the persisted creative-library record.
type Creative struct {
	CreativeID  string         `json:"creative_id" db:"creative_id"`
	TenantID    string         `json:"tenant_id" db:"tenant_id"`
	PrincipalID string         `json:"principal_id" db:"principal_id"`
	Name        string         `json:"name" db:"name"`
	Format      string         `json:"format" db:"format"`
	ContentURI  string         `json:"content_uri" db:"content_uri"`
	ClickURL    string         `json:"click_url,omitempty" db:"click_url"`
	Status      CreativeStatus `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// CreativeAssignment links an approved creative to a package of a buy.
type CreativeAssignment struct {
	AssignmentID string    `json:"assignment_id" db:"assignment_id"`
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	MediaBuyID   string    `json:"media_buy_id" db:"media_buy_id"`
	PackageID    string    `json:"package_id" db:"package_id"`
	CreativeID   string    `json:"creative_id" db:"creative_id"`
	Weight       int       `json:"weight,omitempty" db:"weight"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ── Delivery & Pacing ────────────────────────────────────────

// ReportingPeriod is a half-open [Start, End) reporting window.
type ReportingPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type DeliveryTotals struct {
	Impressions int64   `json:"impressions"`
	Spend       float64 `json:"spend"`
}

type PackageDelivery struct {
	PackageID   string  `json:"package_id"`
	Impressions int64   `json:"impressions"`
	Spend       float64 `json:"spend"`
}

// Pacing classifies actual spend against the linear expected-spend line.
type Pacing string

const (
	PacingAhead   Pacing = "ahead"
	PacingBehind  Pacing = "behind"
	PacingOnTrack Pacing = "on_track"
)

// MediaBuyDeliveryEntry is one buy's slice of a delivery report.
type MediaBuyDeliveryEntry struct {
	MediaBuyID  string            `json:"media_buy_id"`
	Status      MediaBuyStatus    `json:"status"`
	Spend       float64           `json:"spend"`
	Impressions int64             `json:"impressions"`
	Pacing      Pacing            `json:"pacing"`
	DaysElapsed int               `json:"days_elapsed"`
	TotalDays   int               `json:"total_days"`
	ByPackage   []PackageDelivery `json:"by_package,omitempty"`
}

// GetMediaBuyDeliveryResponse aggregates delivery across requested buys.
type GetMediaBuyDeliveryResponse struct {
	Deliveries       []MediaBuyDeliveryEntry `json:"deliveries"`
	TotalSpend       float64                 `json:"total_spend"`
	TotalImpressions int64                   `json:"total_impressions"`
	ActiveCount      int                     `json:"active_count"`
	ReportingPeriod  ReportingPeriod         `json:"reporting_period"`
}

// PackagePerformance is a buyer-supplied performance index per package,
// 1.0 meaning baseline. Forwarded to adapters that can act on it.
type PackagePerformance struct {
	PackageID        string  `json:"package_id"`
	PerformanceIndex float64 `json:"performance_index"`
}

// ── Media Buy (persisted) ────────────────────────────────────

// MediaBuy is the persisted record of a placed (or approved) buy.
// PrincipalID is immutable after creation. RawRequest is the original
// CreateMediaBuyRequest kept verbatim for replay and audit.
type MediaBuy struct {
	MediaBuyID  string          `json:"media_buy_id" db:"media_buy_id"`
	TenantID    string          `json:"tenant_id" db:"tenant_id"`
	PrincipalID string          `json:"principal_id" db:"principal_id"`
	OrderName   string          `json:"order_name,omitempty" db:"order_name"`
	Budget      float64         `json:"budget" db:"budget"`
	Currency    string          `json:"currency,omitempty" db:"currency"`
	StartDate   time.Time       `json:"start_date" db:"start_date"`
	EndDate     time.Time       `json:"end_date" db:"end_date"`
	Status      MediaBuyStatus  `json:"status" db:"status"`
	RawRequest  json.RawMessage `json:"raw_request,omitempty" db:"raw_request"`
	ContextID   string          `json:"context_id,omitempty" db:"context_id"` // empty on the synchronous path
	Packages    []MediaPackage  `json:"packages,omitempty"`

	// Version is an optimistic concurrency counter. The store rejects an
	// update whose Version does not match the persisted row.
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CheckMediaBuyStatusResponse is the probe result for a context.
// "not_found" is a normal outcome — callers routinely probe for buys
// that do not exist yet.
type CheckMediaBuyStatusResponse struct {
	MediaBuyID string `json:"media_buy_id,omitempty"`
	ContextID  string `json:"context_id,omitempty"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
}

// ── Context ──────────────────────────────────────────────────

// ConversationEntry is one free-text exchange in a context's history.
type ConversationEntry struct {
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// Context is a lightweight conversation record grouping workflow steps
// for one tenant+principal. Created lazily, only when an operation goes
// asynchronous. History is append-only.
type Context struct {
	ContextID    string              `json:"context_id" db:"context_id"`
	TenantID     string              `json:"tenant_id" db:"tenant_id"`
	PrincipalID  string              `json:"principal_id" db:"principal_id"`
	Conversation []ConversationEntry `json:"conversation,omitempty"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at" db:"updated_at"`
}

// ── Workflow Step ────────────────────────────────────────────

type StepType string

const (
	StepTypeToolCall     StepType = "tool_call"
	StepTypeApproval     StepType = "approval"
	StepTypeNotification StepType = "notification"
)

type StepOwner string

const (
	OwnerPrincipal StepOwner = "principal"
	OwnerPublisher StepOwner = "publisher"
	OwnerSystem    StepOwner = "system"
)

type StepStatus string

const (
	StepPending          StepStatus = "pending"
	StepInProgress       StepStatus = "in_progress"
	StepCompleted        StepStatus = "completed"
	StepFailed           StepStatus = "failed"
	StepRequiresApproval StepStatus = "requires_approval"
)

// StepComment is one free-form comment on a workflow step.
type StepComment struct {
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// WorkflowStep is a durable unit of work. Append-mostly: after creation
// only Status, ResponseData, Error, AssignedTo, and Comments change.
// ToolName and RequestData are fixed for the life of the step — they are
// what resumption replays.
type WorkflowStep struct {
	StepID       string          `json:"step_id" db:"step_id"`
	ContextID    string          `json:"context_id" db:"context_id"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	Type         StepType        `json:"step_type" db:"step_type"`
	Owner        StepOwner       `json:"owner" db:"owner"`
	Status       StepStatus      `json:"status" db:"status"`
	ToolName     string          `json:"tool_name" db:"tool_name"`
	RequestData  json.RawMessage `json:"request_data,omitempty" db:"request_data"`
	ResponseData json.RawMessage `json:"response_data,omitempty" db:"response_data"`
	Error        string          `json:"error,omitempty" db:"error"`
	AssignedTo   string          `json:"assigned_to,omitempty" db:"assigned_to"`
	Comments     []StepComment   `json:"comments,omitempty"`
	Priority     TaskPriority    `json:"priority,omitempty" db:"priority"`
	MediaBuyID   string          `json:"media_buy_id,omitempty" db:"media_buy_id"`
	DueBy        *time.Time      `json:"due_by,omitempty" db:"due_by"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// ObjectWorkflowMapping is an append-only audit edge tying a business
// object to a workflow step. Never updated, only inserted.
type ObjectWorkflowMapping struct {
	MappingID  string    `json:"mapping_id" db:"mapping_id"`
	ObjectType string    `json:"object_type" db:"object_type"` // media_buy | creative
	ObjectID   string    `json:"object_id" db:"object_id"`
	StepID     string    `json:"step_id" db:"step_id"`
	Action     string    `json:"action" db:"action"` // e.g. approval_required
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ── Human Tasks ──────────────────────────────────────────────

type TaskPriority string

const (
	PriorityUrgent TaskPriority = "urgent"
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// HumanTask is the queue view of a workflow step awaiting a human.
type HumanTask struct {
	TaskID     string       `json:"task_id"` // == step_id
	ContextID  string       `json:"context_id,omitempty"`
	TaskType   string       `json:"task_type"` // == tool_name
	Title      string       `json:"title,omitempty"`
	Status     StepStatus   `json:"status"`
	Owner      StepOwner    `json:"owner"`
	Priority   TaskPriority `json:"priority,omitempty"`
	AssignedTo string       `json:"assigned_to,omitempty"`
	MediaBuyID string       `json:"media_buy_id,omitempty"`
	DueBy      *time.Time   `json:"due_by,omitempty"`
	Overdue    bool         `json:"overdue"`
	CreatedAt  time.Time    `json:"created_at"`
}

// PendingWorkflowsResponse is the task-queue listing for a caller.
type PendingWorkflowsResponse struct {
	Tasks        []HumanTask `json:"tasks"`
	TotalCount   int         `json:"total_count"`
	OverdueCount int         `json:"overdue_count"`
}

// ── Notification Channels ────────────────────────────────────

// ChannelKind names a notification transport.
type ChannelKind string

const (
	ChannelWebhook ChannelKind = "webhook"
	ChannelSlack   ChannelKind = "slack"
)

// NotificationChannel is one configured notification destination for a
// tenant. Empty Events means "all events".
type NotificationChannel struct {
	Kind   ChannelKind `json:"kind"`
	Name   string      `json:"name"`
	URL    string      `json:"url"`
	Secret string      `json:"secret,omitempty"` // HMAC signing key (webhook)
	Events []string    `json:"events,omitempty"`
	Active bool        `json:"active"`
}

// ── Tenant / Principal / Product ─────────────────────────────

// Tenant is one publisher account. AdapterConfig is the backend
// configuration handed to the adapter constructor (credentials plus the
// manual-approval flags the decision algorithm reads).
type Tenant struct {
	TenantID             string                `json:"tenant_id" db:"tenant_id"`
	Name                 string                `json:"name" db:"name"`
	Subdomain            string                `json:"subdomain,omitempty" db:"subdomain"`
	AdServer             string                `json:"ad_server" db:"ad_server"` // adapter name
	AdapterConfig        map[string]any        `json:"adapter_config,omitempty"`
	AutoApproveFormats   []string              `json:"auto_approve_formats,omitempty"`
	AutoCreateMediaBuys  bool                  `json:"auto_create_media_buys" db:"auto_create_media_buys"`
	SlackWebhookURL      string                `json:"slack_webhook_url,omitempty" db:"slack_webhook_url"`
	NotificationChannels []NotificationChannel `json:"notification_channels,omitempty"`
	AdminToken           string                `json:"admin_token,omitempty" db:"admin_token"`

	// TaskRetentionDays overrides how long resolved workflow steps stay
	// in the hot store before the retention janitor archives or purges
	// them. Zero means the server default applies.
	TaskRetentionDays int `json:"task_retention_days,omitempty" db:"task_retention_days"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultManualApprovalOperations are assumed when the tenant config
// enables manual approval without listing operations.
var DefaultManualApprovalOperations = []string{
	"create_media_buy", "update_media_buy", "add_creative_assets",
}

// ManualApprovalRequired reports whether the tenant's adapter config
// demands human approval for the named operation.
func (t *Tenant) ManualApprovalRequired(operation string) bool {
	if t.AdapterConfig == nil {
		return false
	}
	required, _ := t.AdapterConfig["manual_approval_required"].(bool)
	if !required {
		return false
	}
	for _, op := range manualApprovalOperations(t.AdapterConfig) {
		if op == operation {
			return true
		}
	}
	return false
}

func manualApprovalOperations(cfg map[string]any) []string {
	raw, ok := cfg["manual_approval_operations"]
	if !ok {
		return DefaultManualApprovalOperations
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return DefaultManualApprovalOperations
}

// Principal is one advertiser identity within a tenant. PlatformMappings
// holds the backend account ids keyed by adapter name (e.g. the GAM
// advertiser id).
type Principal struct {
	TenantID         string                    `json:"tenant_id" db:"tenant_id"`
	PrincipalID      string                    `json:"principal_id" db:"principal_id"`
	Name             string                    `json:"name" db:"name"`
	AccessToken      string                    `json:"access_token,omitempty" db:"access_token"`
	PlatformMappings map[string]map[string]any `json:"platform_mappings,omitempty"`
	CreatedAt        time.Time                 `json:"created_at" db:"created_at"`
}

// PlatformID returns a string-valued mapping field for an adapter, or "".
func (p *Principal) PlatformID(adapter, field string) string {
	if p.PlatformMappings == nil {
		return ""
	}
	m, ok := p.PlatformMappings[adapter]
	if !ok {
		return ""
	}
	if v, ok := m[field].(string); ok {
		return v
	}
	return ""
}

// Product is a sellable inventory definition owned by a tenant.
// ImplementationConfig carries backend-specific line-item settings and
// is never serialized to principals.
type Product struct {
	ProductID            string         `json:"product_id" db:"product_id"`
	TenantID             string         `json:"tenant_id" db:"tenant_id"`
	Name                 string         `json:"name" db:"name"`
	Description          string         `json:"description,omitempty" db:"description"`
	Formats              []string       `json:"formats,omitempty"`
	Delivery             DeliveryType   `json:"delivery_type" db:"delivery_type"`
	IsFixedPrice         bool           `json:"is_fixed_price" db:"is_fixed_price"`
	CPM                  float64        `json:"cpm,omitempty" db:"cpm"`
	AutoCreateEnabled    bool           `json:"auto_create_enabled" db:"auto_create_enabled"`
	ImplementationConfig map[string]any `json:"-"`
	CreatedAt            time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at" db:"updated_at"`
}

// externalProduct mirrors Product without internal fields.
type externalProduct struct {
	ProductID    string       `json:"product_id"`
	TenantID     string       `json:"tenant_id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Formats      []string     `json:"formats,omitempty"`
	Delivery     DeliveryType `json:"delivery_type"`
	IsFixedPrice bool         `json:"is_fixed_price"`
	CPM          float64      `json:"cpm,omitempty"`
}

// ExternalView returns the principal-safe projection of the product.
func (p *Product) ExternalView() any {
	return externalProduct{
		ProductID:    p.ProductID,
		TenantID:     p.TenantID,
		Name:         p.Name,
		Description:  p.Description,
		Formats:      p.Formats,
		Delivery:     p.Delivery,
		IsFixedPrice: p.IsFixedPrice,
		CPM:          p.CPM,
	}
}

// ── Ad Server Inventory (discovery) ──────────────────────────

// AdUnit is a synced backend inventory node (GAM ad units and the like).
type AdUnit struct {
	TenantID string    `json:"tenant_id" db:"tenant_id"`
	AdUnitID string    `json:"ad_unit_id" db:"ad_unit_id"`
	Name     string    `json:"name" db:"name"`
	Path     string    `json:"path,omitempty" db:"path"`
	ParentID string    `json:"parent_id,omitempty" db:"parent_id"`
	SyncedAt time.Time `json:"synced_at" db:"synced_at"`
}

// TargetingKey is a synced backend custom targeting key.
type TargetingKey struct {
	TenantID string    `json:"tenant_id" db:"tenant_id"`
	KeyID    string    `json:"key_id" db:"key_id"`
	Name     string    `json:"name" db:"name"`
	Kind     string    `json:"kind,omitempty" db:"kind"` // predefined | freeform
	Values   []string  `json:"values,omitempty"`
	SyncedAt time.Time `json:"synced_at" db:"synced_at"`
}
