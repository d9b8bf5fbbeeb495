package adapters

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

var mockCapabilities = Capabilities{
	DeviceTypes: []string{"mobile", "desktop", "tablet", "ctv", "dooh", "audio"},
	MediaTypes:  []string{"video", "display", "native", "audio", "dooh"},
}

// MockAdapter accepts every targeting dimension and simulates delivery
// from flight progress. It backs local dev, integration tests, and any
// tenant that wants the full workflow without a real ad server.
type MockAdapter struct {
	cfg       map[string]any
	principal *models.Principal
	dryRun    bool
}

type mockFlight struct {
	start    time.Time
	end      time.Time
	budget   float64
	packages []models.MediaPackage
}

// Simulated flights live at package level, keyed by tenant and buy id.
// The coordinator builds a fresh adapter for every call, so state held
// on the instance would be gone by the first status or delivery probe.
var (
	mockFlightsMu sync.RWMutex
	mockFlights   = make(map[string]mockFlight)
)

func (a *MockAdapter) flightKey(mediaBuyID string) string {
	tenant := ""
	if a.principal != nil {
		tenant = a.principal.TenantID
	}
	return tenant + "/" + mediaBuyID
}

func (a *MockAdapter) recordFlight(mediaBuyID string, f mockFlight) {
	mockFlightsMu.Lock()
	mockFlights[a.flightKey(mediaBuyID)] = f
	mockFlightsMu.Unlock()
}

func (a *MockAdapter) lookupFlight(mediaBuyID string) (mockFlight, bool) {
	mockFlightsMu.RLock()
	f, ok := mockFlights[a.flightKey(mediaBuyID)]
	mockFlightsMu.RUnlock()
	return f, ok
}

// NewMockAdapter builds the mock backend.
func NewMockAdapter(cfg map[string]any, principal *models.Principal, dryRun bool) (Adapter, error) {
	return &MockAdapter{
		cfg:       cfg,
		principal: principal,
		dryRun:    dryRun,
	}, nil
}

func (a *MockAdapter) Name() string               { return "mock" }
func (a *MockAdapter) Capabilities() Capabilities { return mockCapabilities }

func (a *MockAdapter) ValidateTargeting(t *models.Targeting) []string {
	// The mock accepts everything its capability set covers.
	return capabilityViolations(t, mockCapabilities)
}

func (a *MockAdapter) CreateMediaBuy(ctx context.Context, req *models.CreateMediaBuyRequest, packages []models.MediaPackage, start, end time.Time) (*CreateResult, error) {
	// The mock honors its own manual-approval config so the approval
	// flow can be exercised against the adapter directly.
	if cfgBool(a.cfg, "manual_approval_required") {
		return &CreateResult{
			Status: models.StatusPendingManual,
			Detail: "Manual approval required by adapter configuration",
		}, nil
	}

	id := "buy_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	if req.PONumber != "" {
		id = "buy_" + req.PONumber
	}

	out := make([]models.MediaPackage, len(packages))
	for i, p := range packages {
		p.PlatformID = fmt.Sprintf("%s_pkg_%d", id, i+1)
		out[i] = p
	}

	if a.dryRun {
		log.Info().
			Str("adapter", "mock").
			Str("media_buy_id", id).
			Float64("budget", req.TotalBudget).
			Int("packages", len(out)).
			Msg("dry-run: would create media buy")
	}

	a.recordFlight(id, mockFlight{start: start, end: end, budget: req.TotalBudget, packages: out})

	deadline := start.Add(-48 * time.Hour)
	return &CreateResult{
		MediaBuyID:       id,
		Status:           models.StatusPendingCreative,
		CreativeDeadline: &deadline,
		Packages:         out,
	}, nil
}

func (a *MockAdapter) UpdateMediaBuy(ctx context.Context, mediaBuyID, action, packageID string, budget *float64, impressions *int64, today time.Time) (*UpdateResult, error) {
	if !ActionSupported(action) {
		return UnknownActionResult(action), nil
	}
	if a.dryRun {
		log.Info().
			Str("adapter", "mock").
			Str("media_buy_id", mediaBuyID).
			Str("action", action).
			Str("package_id", packageID).
			Msg("dry-run: would apply update")
	}
	impl := today
	return &UpdateResult{Status: "accepted", ImplementationDate: &impl}, nil
}

func (a *MockAdapter) AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []models.CreativeAsset, today time.Time) ([]models.AssetStatus, error) {
	out := make([]models.AssetStatus, len(assets))
	for i, asset := range assets {
		out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusApproved}
	}
	if a.dryRun {
		log.Info().Str("adapter", "mock").Str("media_buy_id", mediaBuyID).
			Int("assets", len(assets)).Msg("dry-run: would upload creatives")
	}
	return out, nil
}

func (a *MockAdapter) CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*StatusResult, error) {
	f, ok := a.lookupFlight(mediaBuyID)
	if !ok {
		return &StatusResult{MediaBuyID: mediaBuyID, Status: models.StatusPendingCreative}, nil
	}
	st := models.StatusDelivering
	switch {
	case today.Before(f.start):
		st = models.StatusPendingStart
	case today.After(f.end):
		st = models.StatusCompleted
	}
	return &StatusResult{MediaBuyID: mediaBuyID, Status: st}, nil
}

func (a *MockAdapter) GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, period models.ReportingPeriod, today time.Time) (*DeliveryResult, error) {
	f, ok := a.lookupFlight(mediaBuyID)
	if !ok {
		return &DeliveryResult{}, nil
	}
	total, elapsed := flightDays(f.start, f.end, today)
	progress := float64(elapsed) / float64(total)
	spend := f.budget * progress

	res := &DeliveryResult{Spend: spend}
	for _, p := range f.packages {
		imps := int64(float64(p.Impressions) * progress)
		res.Impressions += imps
		res.ByPackage = append(res.ByPackage, models.PackageDelivery{
			PackageID:   p.PackageID,
			Impressions: imps,
			Spend:       spend / float64(len(f.packages)),
		})
	}
	return res, nil
}

func (a *MockAdapter) UpdatePerformanceIndex(ctx context.Context, mediaBuyID string, perf []models.PackagePerformance) (bool, error) {
	log.Debug().Str("adapter", "mock").Str("media_buy_id", mediaBuyID).
		Int("packages", len(perf)).Msg("performance index recorded")
	return true, nil
}
