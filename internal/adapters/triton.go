package adapters

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mediaforge/mediaforge/sales-engine/internal/auth"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

var tritonCapabilities = Capabilities{
	DeviceTypes: []string{"mobile", "desktop", "audio"},
	MediaTypes:  []string{"audio"},
}

// tritonDaypartPresets names the streaming-audio daypart windows. Hours
// are local to the station, inclusive start, exclusive end.
var tritonDaypartPresets = map[string]models.DaypartSchedule{
	"drive_time_morning": {Days: []int{1, 2, 3, 4, 5}, StartHour: 6, EndHour: 10},
	"midday":             {Days: []int{1, 2, 3, 4, 5}, StartHour: 10, EndHour: 15},
	"drive_time_evening": {Days: []int{1, 2, 3, 4, 5}, StartHour: 15, EndHour: 19},
	"evening":            {Days: []int{0, 1, 2, 3, 4, 5, 6}, StartHour: 19, EndHour: 24},
	"overnight":          {Days: []int{0, 1, 2, 3, 4, 5, 6}, StartHour: 0, EndHour: 6},
}

// TritonAdapter drives Triton Digital's streaming audio platform.
// Audio-only: a buy maps to one campaign with one flight per package.
type TritonAdapter struct {
	cfg          map[string]any
	principal    *models.Principal
	dryRun       bool
	authToken    string
	advertiserID string
	stationID    string
	baseURL      string
	client       *http.Client
}

// NewTritonAdapter builds the Triton adapter.
func NewTritonAdapter(cfg map[string]any, principal *models.Principal, dryRun bool) (Adapter, error) {
	token, err := auth.ResolveString(context.Background(), "triton", "auth_token", cfg)
	if err != nil {
		return nil, fmt.Errorf("triton: %w", err)
	}
	if token == "" && !dryRun {
		return nil, fmt.Errorf("triton: auth_token is required")
	}
	a := &TritonAdapter{
		cfg:          cfg,
		principal:    principal,
		dryRun:       dryRun,
		authToken:    token,
		advertiserID: principal.PlatformID("triton", "advertiser_id"),
		stationID:    cfgString(cfg, "station_id"),
		baseURL:      cfgString(cfg, "api_base_url"),
	}
	if a.baseURL == "" {
		a.baseURL = "https://api.tritondigital.com/v1"
	}
	if !dryRun {
		a.client = &http.Client{Timeout: 30 * time.Second}
	}
	return a, nil
}

func (a *TritonAdapter) Name() string               { return "triton" }
func (a *TritonAdapter) Capabilities() Capabilities { return tritonCapabilities }

func (a *TritonAdapter) ValidateTargeting(t *models.Targeting) []string {
	v := capabilityViolations(t, tritonCapabilities)
	if t == nil {
		return v
	}
	if len(t.ContentCategoryAnyOf) > 0 || len(t.ContentCategoryNoneOf) > 0 {
		v = append(v, "Content category targeting not supported; use custom genre targeting")
	}
	if len(t.BrowserAnyOf) > 0 || len(t.BrowserNoneOf) > 0 {
		v = append(v, "Browser targeting not supported")
	}
	if t.Dayparting != nil {
		for _, preset := range t.Dayparting.Presets {
			if _, ok := tritonDaypartPresets[preset]; !ok {
				v = append(v, fmt.Sprintf("Unknown daypart preset '%s'", preset))
			}
		}
	}
	return v
}

func (a *TritonAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.authToken}
}

// resolveDayparts expands presets into explicit schedules and appends
// any explicit schedules alongside them.
func resolveDayparts(dp *models.Dayparting) []models.DaypartSchedule {
	if dp == nil {
		return nil
	}
	var out []models.DaypartSchedule
	for _, preset := range dp.Presets {
		if s, ok := tritonDaypartPresets[preset]; ok {
			out = append(out, s)
		}
	}
	out = append(out, dp.Schedules...)
	return out
}

func (a *TritonAdapter) CreateMediaBuy(ctx context.Context, req *models.CreateMediaBuyRequest, packages []models.MediaPackage, start, end time.Time) (*CreateResult, error) {
	campaignName := req.OrderName
	if campaignName == "" {
		campaignName = fmt.Sprintf("%s - %s", a.principal.Name, req.PONumber)
	}

	flights := make([]map[string]any, 0, len(packages))
	out := make([]models.MediaPackage, len(packages))
	for i, p := range packages {
		flight := map[string]any{
			"name":        p.Name,
			"start_date":  start.Format("2006-01-02"),
			"end_date":    end.Format("2006-01-02"),
			"cpm":         p.CPM,
			"goal_type":   "impressions",
			"goal_amount": p.Impressions,
		}
		if t := req.TargetingOverlay; t != nil {
			if dayparts := resolveDayparts(t.Dayparting); len(dayparts) > 0 {
				flight["dayparts"] = dayparts
			}
			if len(t.GeoCountryAnyOf) > 0 {
				flight["countries"] = t.GeoCountryAnyOf
			}
			if len(t.GeoMetroAnyOf) > 0 {
				flight["metros"] = t.GeoMetroAnyOf
			}
		}
		flights = append(flights, flight)
		out[i] = p
	}

	if a.dryRun {
		campaignID := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
		for i := range out {
			out[i].PlatformID = fmt.Sprintf("flight_%s_%d", campaignID, i+1)
		}
		log.Info().Str("adapter", "triton").
			Str("campaign", campaignName).Int("flights", len(flights)).
			Msg("dry-run: would create campaign and flights")
		return &CreateResult{
			MediaBuyID: "triton_" + campaignID,
			Status:     models.StatusPendingCreative,
			Packages:   out,
		}, nil
	}

	var campaign struct {
		ID string `json:"id"`
	}
	if err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/campaigns", a.headers(), map[string]any{
		"name":          campaignName,
		"advertiser_id": a.advertiserID,
		"station_id":    a.stationID,
	}, &campaign); err != nil {
		return nil, fmt.Errorf("triton create campaign: %w", err)
	}

	for i, flight := range flights {
		flight["campaign_id"] = campaign.ID
		var created struct {
			ID string `json:"id"`
		}
		if err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/flights", a.headers(), flight, &created); err != nil {
			return nil, fmt.Errorf("triton create flight %q: %w", out[i].PackageID, err)
		}
		out[i].PlatformID = created.ID
	}

	return &CreateResult{
		MediaBuyID: "triton_" + campaign.ID,
		Status:     models.StatusPendingCreative,
		Packages:   out,
	}, nil
}

func (a *TritonAdapter) UpdateMediaBuy(ctx context.Context, mediaBuyID, action, packageID string, budget *float64, impressions *int64, today time.Time) (*UpdateResult, error) {
	if !ActionSupported(action) {
		return UnknownActionResult(action), nil
	}
	campaignID := strings.TrimPrefix(mediaBuyID, "triton_")

	var path string
	var payload map[string]any
	switch action {
	case ActionPauseMediaBuy:
		path, payload = "/campaigns/"+campaignID, map[string]any{"status": "paused"}
	case ActionResumeMediaBuy:
		path, payload = "/campaigns/"+campaignID, map[string]any{"status": "active"}
	case ActionPausePackage:
		path, payload = "/flights/"+packageID, map[string]any{"status": "paused"}
	case ActionResumePackage:
		path, payload = "/flights/"+packageID, map[string]any{"status": "active"}
	case ActionUpdatePackageBudget:
		if budget == nil {
			return &UpdateResult{Status: "failed", Reason: "update_package_budget requires a budget"}, nil
		}
		path, payload = "/flights/"+packageID, map[string]any{"budget": *budget}
	case ActionUpdatePackageImpressions:
		if impressions == nil {
			return &UpdateResult{Status: "failed", Reason: "update_package_impressions requires an impression goal"}, nil
		}
		path, payload = "/flights/"+packageID, map[string]any{"goal_amount": *impressions}
	}

	if a.dryRun {
		log.Info().Str("adapter", "triton").Str("action", action).Str("path", path).
			Msg("dry-run: would apply update")
		impl := today
		return &UpdateResult{Status: "accepted", ImplementationDate: &impl}, nil
	}

	if err := doJSON(ctx, a.client, http.MethodPatch, a.baseURL+path, a.headers(), payload, nil); err != nil {
		return &UpdateResult{Status: "failed", Reason: err.Error()}, nil
	}
	impl := today
	return &UpdateResult{Status: "accepted", ImplementationDate: &impl}, nil
}

func (a *TritonAdapter) AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []models.CreativeAsset, today time.Time) ([]models.AssetStatus, error) {
	out := make([]models.AssetStatus, len(assets))
	for i, asset := range assets {
		// Triton only serves audio.
		if asset.Format != "audio" {
			out[i] = models.AssetStatus{
				CreativeID: asset.CreativeID,
				Status:     models.CreativeStatusRejected,
				Detail:     fmt.Sprintf("Format '%s' not supported; audio only", asset.Format),
			}
			continue
		}
		if a.dryRun {
			log.Info().Str("adapter", "triton").Str("creative_id", asset.CreativeID).
				Msg("dry-run: would upload audio creative")
			out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusApproved}
			continue
		}
		body := map[string]any{
			"name":      asset.Name,
			"audio_url": asset.MediaURL,
			"click_url": asset.ClickURL,
		}
		if err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/creatives", a.headers(), body, nil); err != nil {
			out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusFailed, Detail: err.Error()}
			continue
		}
		out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusApproved}
	}
	return out, nil
}

func (a *TritonAdapter) CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*StatusResult, error) {
	if a.dryRun {
		return &StatusResult{MediaBuyID: mediaBuyID, Status: models.StatusDelivering}, nil
	}
	campaignID := strings.TrimPrefix(mediaBuyID, "triton_")
	var resp struct {
		Status string `json:"status"`
	}
	if err := doJSON(ctx, a.client, http.MethodGet, a.baseURL+"/campaigns/"+campaignID, a.headers(), nil, &resp); err != nil {
		return nil, fmt.Errorf("triton campaign status: %w", err)
	}
	st := models.StatusDelivering
	switch resp.Status {
	case "paused":
		st = models.StatusPaused
	case "completed":
		st = models.StatusCompleted
	case "pending":
		st = models.StatusPendingActivation
	}
	return &StatusResult{MediaBuyID: mediaBuyID, Status: st}, nil
}

// GetMediaBuyDelivery requests a CSV delivery report and polls for it,
// at most 10 attempts 500ms apart.
func (a *TritonAdapter) GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, period models.ReportingPeriod, today time.Time) (*DeliveryResult, error) {
	if a.dryRun {
		log.Info().Str("adapter", "triton").Str("media_buy_id", mediaBuyID).
			Msg("dry-run: would request delivery report")
		return &DeliveryResult{}, nil
	}
	campaignID := strings.TrimPrefix(mediaBuyID, "triton_")

	var job struct {
		ID string `json:"report_id"`
	}
	body := map[string]any{
		"campaign_id": campaignID,
		"start_date":  period.Start.Format("2006-01-02"),
		"end_date":    period.End.Format("2006-01-02"),
		"format":      "csv",
	}
	if err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/reports", a.headers(), body, &job); err != nil {
		return nil, fmt.Errorf("triton request report: %w", err)
	}

	for attempt := 0; attempt < 10; attempt++ {
		res, done, err := a.fetchReport(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if done {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("triton report %s did not finish in time", job.ID)
}

// fetchReport downloads the report; 202 means still running.
func (a *TritonAdapter) fetchReport(ctx context.Context, reportID string) (*DeliveryResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/reports/"+reportID+"/download", nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+a.authToken)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return nil, false, nil
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, false, fmt.Errorf("triton report download: status %d: %s", resp.StatusCode, snippet(data))
	}

	res, err := parseTritonCSV(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// parseTritonCSV reads the flight_id,impressions,spend report body.
func parseTritonCSV(r io.Reader) (*DeliveryResult, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("triton report parse: %w", err)
	}
	res := &DeliveryResult{}
	for i, row := range rows {
		if i == 0 || len(row) < 3 {
			continue // header
		}
		imps, _ := strconv.ParseInt(strings.TrimSpace(row[1]), 10, 64)
		spend, _ := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		res.Impressions += imps
		res.Spend += spend
		res.ByPackage = append(res.ByPackage, models.PackageDelivery{
			PackageID:   strings.TrimSpace(row[0]),
			Impressions: imps,
			Spend:       spend,
		})
	}
	return res, nil
}

func (a *TritonAdapter) UpdatePerformanceIndex(ctx context.Context, mediaBuyID string, perf []models.PackagePerformance) (bool, error) {
	log.Info().Str("adapter", "triton").Str("media_buy_id", mediaBuyID).
		Int("packages", len(perf)).Msg("performance index noted, no backend action")
	return false, nil
}
