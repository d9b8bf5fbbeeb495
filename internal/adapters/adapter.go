// Package adapters translates canonical media buy requests into
// backend-native ad server calls. Each adapter declares its capabilities
// up front; validation is all-or-nothing at create time so a buy either
// lands completely or not at all.
package adapters

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

// Capabilities declares what a backend can target. Anything a request
// asks for outside these sets is a validation violation, never a silent
// drop.
type Capabilities struct {
	DeviceTypes []string `json:"device_types"`
	MediaTypes  []string `json:"media_types"`
}

func (c Capabilities) SupportsDevice(d string) bool { return contains(c.DeviceTypes, d) }
func (c Capabilities) SupportsMedia(m string) bool  { return contains(c.MediaTypes, m) }

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// ── Results ─────────────────────────────────────────────────

// CreateResult is the backend outcome of a create call. Packages come
// back with their backend line-item ids filled in.
type CreateResult struct {
	MediaBuyID       string
	Status           models.MediaBuyStatus
	Detail           string
	CreativeDeadline *time.Time
	Packages         []models.MediaPackage
}

// UpdateResult reports one update action against the backend.
type UpdateResult struct {
	Status             string // accepted | failed
	Reason             string
	ImplementationDate *time.Time
}

// StatusResult is the backend's view of a buy's lifecycle state.
type StatusResult struct {
	MediaBuyID string
	Status     models.MediaBuyStatus
	Detail     string
}

// DeliveryResult carries backend-reported delivery for one buy.
type DeliveryResult struct {
	Impressions int64
	Spend       float64
	ByPackage   []models.PackageDelivery
}

// ── Adapter contract ────────────────────────────────────────

// Adapter is the backend contract. Implementations validate before they
// translate and never call the network on a validation failure. With
// dryRun set they share every validation and translation step and skip
// only the send.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	// ValidateTargeting returns human-readable violations, empty when
	// the overlay is fully expressible on this backend.
	ValidateTargeting(t *models.Targeting) []string

	CreateMediaBuy(ctx context.Context, req *models.CreateMediaBuyRequest, packages []models.MediaPackage, start, end time.Time) (*CreateResult, error)

	// UpdateMediaBuy applies exactly one action. Budget/impressions are
	// consulted only by the actions that need them.
	UpdateMediaBuy(ctx context.Context, mediaBuyID, action, packageID string, budget *float64, impressions *int64, today time.Time) (*UpdateResult, error)

	AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []models.CreativeAsset, today time.Time) ([]models.AssetStatus, error)
	CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*StatusResult, error)
	GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, period models.ReportingPeriod, today time.Time) (*DeliveryResult, error)
	UpdatePerformanceIndex(ctx context.Context, mediaBuyID string, perf []models.PackagePerformance) (bool, error)
}

// ── Update actions ──────────────────────────────────────────

const (
	ActionPauseMediaBuy            = "pause_media_buy"
	ActionResumeMediaBuy           = "resume_media_buy"
	ActionPausePackage             = "pause_package"
	ActionResumePackage            = "resume_package"
	ActionUpdatePackageBudget      = "update_package_budget"
	ActionUpdatePackageImpressions = "update_package_impressions"
)

// SupportedActions is the exhaustive update action list, in the order
// reported to callers on an unknown action.
var SupportedActions = []string{
	ActionPauseMediaBuy,
	ActionResumeMediaBuy,
	ActionPausePackage,
	ActionResumePackage,
	ActionUpdatePackageBudget,
	ActionUpdatePackageImpressions,
}

// ActionSupported reports whether action is a known update action.
func ActionSupported(action string) bool { return contains(SupportedActions, action) }

// UnknownActionResult is the shared failure result for an unknown action.
func UnknownActionResult(action string) *UpdateResult {
	return &UpdateResult{
		Status: "failed",
		Reason: fmt.Sprintf("Action '%s' not supported. Supported actions: [%s]",
			action, strings.Join(SupportedActions, ", ")),
	}
}

// ── Shared validation ───────────────────────────────────────

// capabilityViolations checks the device and media dimensions of an
// overlay against a capability set. Adapter-specific rules layer on top.
func capabilityViolations(t *models.Targeting, caps Capabilities) []string {
	if t == nil {
		return nil
	}
	var v []string
	for _, d := range t.DeviceTypeAnyOf {
		if !caps.SupportsDevice(d) {
			v = append(v, fmt.Sprintf("Device type '%s' not supported", d))
		}
	}
	for _, m := range t.MediaTypeAnyOf {
		if !caps.SupportsMedia(m) {
			v = append(v, fmt.Sprintf("Media type '%s' not supported", m))
		}
	}
	return v
}

// flightDays returns total and elapsed day counts for pacing and
// simulated delivery. Minimum one day; elapsed clamps to [0, total].
func flightDays(start, end, today time.Time) (total, elapsed int) {
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

// ── Registry ────────────────────────────────────────────────

// Constructor builds an adapter bound to one tenant's backend config and
// one principal's platform mappings.
type Constructor func(cfg map[string]any, principal *models.Principal, dryRun bool) (Adapter, error)

// Registry maps adapter names to constructors and static capabilities.
// Selection happens here once per request; call sites never branch on
// the adapter name.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
	caps  map[string]Capabilities
}

// NewRegistry returns a registry with all built-in adapters registered.
func NewRegistry() *Registry {
	r := &Registry{
		ctors: make(map[string]Constructor),
		caps:  make(map[string]Capabilities),
	}
	r.Register("mock", NewMockAdapter, mockCapabilities)
	r.Register("google_ad_manager", NewGAMAdapter, gamCapabilities)
	r.Register("kevel", NewKevelAdapter, kevelCapabilities)
	r.Register("triton", NewTritonAdapter, tritonCapabilities)
	r.Register("xandr", NewXandrAdapter, xandrCapabilities)
	return r
}

func (r *Registry) Register(name string, c Constructor, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = c
	r.caps[name] = caps
}

// Build constructs the named adapter for a tenant config and principal.
func (r *Registry) Build(name string, cfg map[string]any, principal *models.Principal, dryRun bool) (Adapter, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q", name)
	}
	return ctor(cfg, principal, dryRun)
}

// Names lists registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// StaticCapabilities returns the capability set for a registered name
// without constructing the adapter.
func (r *Registry) StaticCapabilities(name string) (Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// cfgString reads a string field out of an adapter config map.
func cfgString(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

// cfgBool reads a bool field out of an adapter config map.
func cfgBool(cfg map[string]any, key string) bool {
	if cfg == nil {
		return false
	}
	v, _ := cfg[key].(bool)
	return v
}
