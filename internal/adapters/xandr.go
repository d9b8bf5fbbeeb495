package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mediaforge/mediaforge/sales-engine/internal/auth"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

var xandrCapabilities = Capabilities{
	DeviceTypes: []string{"mobile", "desktop", "tablet", "ctv"},
	MediaTypes:  []string{"display", "video", "native"},
}

// xandrDeviceTypes maps canonical device types onto Xandr numeric ids.
var xandrDeviceTypes = map[string]int{
	"desktop": 1,
	"mobile":  2,
	"tablet":  3,
	"ctv":     4,
}

// xandrTokenTTL is how long an auth token is trusted before re-auth.
// The API expires tokens after two hours.
const xandrTokenTTL = 2 * time.Hour

// XandrAdapter drives Xandr (Microsoft Monetize). A buy maps to one
// insertion order with one line item per package, each bound to a
// targeting profile.
type XandrAdapter struct {
	cfg          map[string]any
	principal    *models.Principal
	dryRun       bool
	username     string
	password     string
	memberID     string
	advertiserID string
	baseURL      string
	client       *http.Client

	tokenMu     sync.Mutex
	token       string
	tokenIssued time.Time
}

// NewXandrAdapter builds the Xandr adapter.
func NewXandrAdapter(cfg map[string]any, principal *models.Principal, dryRun bool) (Adapter, error) {
	username := cfgString(cfg, "username")
	password, err := auth.ResolveString(context.Background(), "xandr", "password", cfg)
	if err != nil {
		return nil, fmt.Errorf("xandr: %w", err)
	}
	if (username == "" || password == "") && !dryRun {
		return nil, fmt.Errorf("xandr: username and password are required")
	}
	a := &XandrAdapter{
		cfg:          cfg,
		principal:    principal,
		dryRun:       dryRun,
		username:     username,
		password:     password,
		memberID:     cfgString(cfg, "member_id"),
		advertiserID: principal.PlatformID("xandr", "advertiser_id"),
		baseURL:      cfgString(cfg, "api_base_url"),
	}
	if a.baseURL == "" {
		a.baseURL = "https://api.appnexus.com"
	}
	if !dryRun {
		a.client = &http.Client{Timeout: 30 * time.Second}
	}
	return a, nil
}

func (a *XandrAdapter) Name() string               { return "xandr" }
func (a *XandrAdapter) Capabilities() Capabilities { return xandrCapabilities }

func (a *XandrAdapter) ValidateTargeting(t *models.Targeting) []string {
	return capabilityViolations(t, xandrCapabilities)
}

// authToken returns a valid token, re-authenticating when the cached
// one is older than the TTL.
func (a *XandrAdapter) authToken(ctx context.Context) (string, error) {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	if a.token != "" && time.Since(a.tokenIssued) < xandrTokenTTL {
		return a.token, nil
	}

	var resp struct {
		Response struct {
			Token string `json:"token"`
		} `json:"response"`
	}
	body := map[string]any{"auth": map[string]string{
		"username": a.username,
		"password": a.password,
	}}
	if err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/auth", nil, body, &resp); err != nil {
		return "", fmt.Errorf("xandr auth: %w", err)
	}
	a.token = resp.Response.Token
	a.tokenIssued = time.Now()
	return a.token, nil
}

func (a *XandrAdapter) headers(ctx context.Context) (map[string]string, error) {
	token, err := a.authToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": token}, nil
}

// buildProfile translates the overlay into a Xandr targeting profile.
func buildProfile(t *models.Targeting) map[string]any {
	profile := map[string]any{}
	if t == nil {
		return profile
	}
	if len(t.DeviceTypeAnyOf) > 0 {
		var targets []map[string]any
		for _, d := range t.DeviceTypeAnyOf {
			if id, ok := xandrDeviceTypes[d]; ok {
				targets = append(targets, map[string]any{"id": id})
			}
		}
		profile["device_type_targets"] = targets
		profile["device_type_action"] = "include"
	}
	var countries []map[string]any
	for _, c := range t.GeoCountryAnyOf {
		countries = append(countries, map[string]any{"code": c})
	}
	if len(countries) > 0 {
		profile["country_targets"] = countries
		profile["country_action"] = "include"
	}
	var regions []map[string]any
	for _, r := range t.GeoRegionAnyOf {
		regions = append(regions, map[string]any{"code": r})
	}
	if len(regions) > 0 {
		profile["region_targets"] = regions
		profile["region_action"] = "include"
	}
	if len(t.AudiencesAnyOf) > 0 {
		var segs []map[string]any
		for _, s := range t.AudiencesAnyOf {
			segs = append(segs, map[string]any{"code": s, "action": "include"})
		}
		profile["segment_targets"] = segs
	}
	return profile
}

func (a *XandrAdapter) CreateMediaBuy(ctx context.Context, req *models.CreateMediaBuyRequest, packages []models.MediaPackage, start, end time.Time) (*CreateResult, error) {
	ioName := req.OrderName
	if ioName == "" {
		ioName = fmt.Sprintf("%s - %s", a.principal.Name, req.PONumber)
	}
	profile := buildProfile(req.TargetingOverlay)

	out := make([]models.MediaPackage, len(packages))
	copy(out, packages)

	if a.dryRun {
		ioID := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
		for i := range out {
			out[i].PlatformID = fmt.Sprintf("li_%s_%d", ioID, i+1)
		}
		log.Info().Str("adapter", "xandr").
			Str("insertion_order", ioName).
			Int("line_items", len(out)).
			Interface("profile", profile).
			Msg("dry-run: would create insertion order, profile, and line items")
		return &CreateResult{
			MediaBuyID: "xandr_io_" + ioID,
			Status:     models.StatusPendingCreative,
			Packages:   out,
		}, nil
	}

	hdrs, err := a.headers(ctx)
	if err != nil {
		return nil, err
	}

	var ioResp struct {
		Response struct {
			InsertionOrder struct {
				ID int64 `json:"id"`
			} `json:"insertion-order"`
		} `json:"response"`
	}
	ioBody := map[string]any{"insertion-order": map[string]any{
		"name":          ioName,
		"advertiser_id": a.advertiserID,
		"start_date":    start.Format("2006-01-02 15:04:05"),
		"end_date":      end.Format("2006-01-02 15:04:05"),
		"budget_intervals": []map[string]any{{
			"start_date":      start.Format("2006-01-02 15:04:05"),
			"end_date":        end.Format("2006-01-02 15:04:05"),
			"lifetime_budget": req.TotalBudget,
		}},
	}}
	url := fmt.Sprintf("%s/insertion-order?advertiser_id=%s", a.baseURL, a.advertiserID)
	if err := doJSON(ctx, a.client, http.MethodPost, url, hdrs, ioBody, &ioResp); err != nil {
		return nil, fmt.Errorf("xandr create insertion order: %w", err)
	}
	ioID := ioResp.Response.InsertionOrder.ID

	var profResp struct {
		Response struct {
			Profile struct {
				ID int64 `json:"id"`
			} `json:"profile"`
		} `json:"response"`
	}
	profURL := fmt.Sprintf("%s/profile?advertiser_id=%s", a.baseURL, a.advertiserID)
	if err := doJSON(ctx, a.client, http.MethodPost, profURL, hdrs, map[string]any{"profile": profile}, &profResp); err != nil {
		return nil, fmt.Errorf("xandr create profile: %w", err)
	}

	for i, p := range out {
		var liResp struct {
			Response struct {
				LineItem struct {
					ID int64 `json:"id"`
				} `json:"line-item"`
			} `json:"response"`
		}
		liBody := map[string]any{"line-item": map[string]any{
			"name":               p.Name,
			"insertion_order_id": ioID,
			"profile_id":         profResp.Response.Profile.ID,
			"revenue_type":       "cpm",
			"revenue_value":      p.CPM,
			"lifetime_budget":    float64(p.Impressions) * p.CPM / 1000,
			"goal_type":          "impressions",
			"lifetime_pacing":    true,
		}}
		liURL := fmt.Sprintf("%s/line-item?advertiser_id=%s", a.baseURL, a.advertiserID)
		if err := doJSON(ctx, a.client, http.MethodPost, liURL, hdrs, liBody, &liResp); err != nil {
			return nil, fmt.Errorf("xandr create line item %q: %w", p.PackageID, err)
		}
		out[i].PlatformID = fmt.Sprintf("%d", liResp.Response.LineItem.ID)
	}

	return &CreateResult{
		MediaBuyID: fmt.Sprintf("xandr_io_%d", ioID),
		Status:     models.StatusPendingCreative,
		Packages:   out,
	}, nil
}

func (a *XandrAdapter) UpdateMediaBuy(ctx context.Context, mediaBuyID, action, packageID string, budget *float64, impressions *int64, today time.Time) (*UpdateResult, error) {
	if !ActionSupported(action) {
		return UnknownActionResult(action), nil
	}
	ioID := strings.TrimPrefix(mediaBuyID, "xandr_io_")

	var path string
	var payload map[string]any
	switch action {
	case ActionPauseMediaBuy:
		path = fmt.Sprintf("/insertion-order?id=%s", ioID)
		payload = map[string]any{"insertion-order": map[string]any{"state": "inactive"}}
	case ActionResumeMediaBuy:
		path = fmt.Sprintf("/insertion-order?id=%s", ioID)
		payload = map[string]any{"insertion-order": map[string]any{"state": "active"}}
	case ActionPausePackage:
		path = fmt.Sprintf("/line-item?id=%s", packageID)
		payload = map[string]any{"line-item": map[string]any{"state": "inactive"}}
	case ActionResumePackage:
		path = fmt.Sprintf("/line-item?id=%s", packageID)
		payload = map[string]any{"line-item": map[string]any{"state": "active"}}
	case ActionUpdatePackageBudget:
		if budget == nil {
			return &UpdateResult{Status: "failed", Reason: "update_package_budget requires a budget"}, nil
		}
		path = fmt.Sprintf("/line-item?id=%s", packageID)
		payload = map[string]any{"line-item": map[string]any{"lifetime_budget": *budget}}
	case ActionUpdatePackageImpressions:
		if impressions == nil {
			return &UpdateResult{Status: "failed", Reason: "update_package_impressions requires an impression goal"}, nil
		}
		path = fmt.Sprintf("/line-item?id=%s", packageID)
		payload = map[string]any{"line-item": map[string]any{"lifetime_budget_imps": *impressions}}
	}

	if a.dryRun {
		log.Info().Str("adapter", "xandr").Str("action", action).Str("path", path).
			Msg("dry-run: would apply update")
		impl := today
		return &UpdateResult{Status: "accepted", ImplementationDate: &impl}, nil
	}

	hdrs, err := a.headers(ctx)
	if err != nil {
		return nil, err
	}
	if err := doJSON(ctx, a.client, http.MethodPut, a.baseURL+path, hdrs, payload, nil); err != nil {
		return &UpdateResult{Status: "failed", Reason: err.Error()}, nil
	}
	impl := today
	return &UpdateResult{Status: "accepted", ImplementationDate: &impl}, nil
}

func (a *XandrAdapter) AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []models.CreativeAsset, today time.Time) ([]models.AssetStatus, error) {
	out := make([]models.AssetStatus, len(assets))
	for i, asset := range assets {
		if a.dryRun {
			log.Info().Str("adapter", "xandr").Str("creative_id", asset.CreativeID).
				Msg("dry-run: would upload creative")
			out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusApproved}
			continue
		}
		hdrs, err := a.headers(ctx)
		if err != nil {
			return nil, err
		}
		body := map[string]any{"creative": map[string]any{
			"name":          asset.Name,
			"advertiser_id": a.advertiserID,
			"media_url":     asset.MediaURL,
			"click_url":     asset.ClickURL,
		}}
		url := fmt.Sprintf("%s/creative?advertiser_id=%s", a.baseURL, a.advertiserID)
		if err := doJSON(ctx, a.client, http.MethodPost, url, hdrs, body, nil); err != nil {
			out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusFailed, Detail: err.Error()}
			continue
		}
		out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusApproved}
	}
	return out, nil
}

func (a *XandrAdapter) CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*StatusResult, error) {
	if a.dryRun {
		return &StatusResult{MediaBuyID: mediaBuyID, Status: models.StatusDelivering}, nil
	}
	ioID := strings.TrimPrefix(mediaBuyID, "xandr_io_")
	hdrs, err := a.headers(ctx)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Response struct {
			InsertionOrder struct {
				State string `json:"state"`
			} `json:"insertion-order"`
		} `json:"response"`
	}
	url := fmt.Sprintf("%s/insertion-order?id=%s", a.baseURL, ioID)
	if err := doJSON(ctx, a.client, http.MethodGet, url, hdrs, nil, &resp); err != nil {
		return nil, fmt.Errorf("xandr insertion order status: %w", err)
	}
	st := models.StatusPaused
	if resp.Response.InsertionOrder.State == "active" {
		st = models.StatusDelivering
	}
	return &StatusResult{MediaBuyID: mediaBuyID, Status: st}, nil
}

func (a *XandrAdapter) GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, period models.ReportingPeriod, today time.Time) (*DeliveryResult, error) {
	if a.dryRun {
		log.Info().Str("adapter", "xandr").Str("media_buy_id", mediaBuyID).
			Msg("dry-run: would pull delivery report")
		return &DeliveryResult{}, nil
	}
	ioID := strings.TrimPrefix(mediaBuyID, "xandr_io_")
	hdrs, err := a.headers(ctx)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Response struct {
			Rows []struct {
				LineItemID  int64   `json:"line_item_id"`
				Impressions int64   `json:"imps"`
				Spend       float64 `json:"revenue"`
			} `json:"rows"`
		} `json:"response"`
	}
	body := map[string]any{"report": map[string]any{
		"report_type": "network_analytics",
		"columns":     []string{"line_item_id", "imps", "revenue"},
		"filters":     []map[string]any{{"insertion_order_id": ioID}},
		"start_date":  period.Start.Format("2006-01-02"),
		"end_date":    period.End.Format("2006-01-02"),
	}}
	if err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/report", hdrs, body, &resp); err != nil {
		return nil, fmt.Errorf("xandr delivery report: %w", err)
	}
	res := &DeliveryResult{}
	for _, row := range resp.Response.Rows {
		res.Impressions += row.Impressions
		res.Spend += row.Spend
		res.ByPackage = append(res.ByPackage, models.PackageDelivery{
			PackageID:   fmt.Sprintf("%d", row.LineItemID),
			Impressions: row.Impressions,
			Spend:       row.Spend,
		})
	}
	return res, nil
}

func (a *XandrAdapter) UpdatePerformanceIndex(ctx context.Context, mediaBuyID string, perf []models.PackagePerformance) (bool, error) {
	log.Info().Str("adapter", "xandr").Str("media_buy_id", mediaBuyID).
		Int("packages", len(perf)).Msg("performance index noted, no backend action")
	return false, nil
}
