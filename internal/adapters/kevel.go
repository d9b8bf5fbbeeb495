package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mediaforge/mediaforge/sales-engine/internal/auth"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

var kevelCapabilities = Capabilities{
	DeviceTypes: []string{"mobile", "desktop", "tablet"},
	MediaTypes:  []string{"display", "native"},
}

// KevelAdapter drives the Kevel (Adzerk) ad server. A buy maps to one
// campaign with one flight per package.
type KevelAdapter struct {
	cfg          map[string]any
	principal    *models.Principal
	dryRun       bool
	apiKey       string
	networkID    string
	advertiserID string
	baseURL      string
	client       *http.Client

	userDBEnabled   bool
	freqCapsEnabled bool
}

// NewKevelAdapter builds the Kevel adapter.
func NewKevelAdapter(cfg map[string]any, principal *models.Principal, dryRun bool) (Adapter, error) {
	apiKey, err := auth.ResolveString(context.Background(), "kevel", "api_key", cfg)
	if err != nil {
		return nil, fmt.Errorf("kevel: %w", err)
	}
	if apiKey == "" && !dryRun {
		return nil, fmt.Errorf("kevel: api_key is required")
	}
	a := &KevelAdapter{
		cfg:             cfg,
		principal:       principal,
		dryRun:          dryRun,
		apiKey:          apiKey,
		networkID:       cfgString(cfg, "network_id"),
		advertiserID:    principal.PlatformID("kevel", "advertiser_id"),
		baseURL:         cfgString(cfg, "api_base_url"),
		userDBEnabled:   cfgBool(cfg, "userdb_enabled"),
		freqCapsEnabled: cfgBool(cfg, "frequency_capping_enabled"),
	}
	if a.baseURL == "" {
		a.baseURL = "https://api.kevel.co/v1"
	}
	if !dryRun {
		a.client = &http.Client{Timeout: 30 * time.Second}
	}
	return a, nil
}

func (a *KevelAdapter) Name() string               { return "kevel" }
func (a *KevelAdapter) Capabilities() Capabilities { return kevelCapabilities }

func (a *KevelAdapter) ValidateTargeting(t *models.Targeting) []string {
	v := capabilityViolations(t, kevelCapabilities)
	if t == nil {
		return v
	}
	if (len(t.AudiencesAnyOf) > 0 || len(t.AudiencesNoneOf) > 0) && !a.userDBEnabled {
		v = append(v, "Audience targeting requires UserDB to be enabled")
	}
	if fc := t.FrequencyCap; fc != nil {
		if !a.freqCapsEnabled {
			v = append(v, "Frequency capping is not enabled for this network")
		}
		if fc.Scope == models.FreqCapScopeMediaBuy {
			v = append(v, "Frequency cap scope 'media_buy' not supported; use 'package'")
		}
	}
	return v
}

func (a *KevelAdapter) headers() map[string]string {
	return map[string]string{"X-Adzerk-ApiKey": a.apiKey}
}

// kevelDay converts a canonical day (0=Sunday) to Kevel's 0=Monday week.
func kevelDay(day int) int { return (day + 6) % 7 }

func kevelDayparts(dp *models.Dayparting) []map[string]any {
	if dp == nil {
		return nil
	}
	var out []map[string]any
	for _, s := range dp.Schedules {
		days := make([]int, len(s.Days))
		for i, d := range s.Days {
			days[i] = kevelDay(d)
		}
		out = append(out, map[string]any{
			"days":      days,
			"startHour": s.StartHour,
			"endHour":   s.EndHour,
			"timezone":  dp.Timezone,
		})
	}
	return out
}

func (a *KevelAdapter) CreateMediaBuy(ctx context.Context, req *models.CreateMediaBuyRequest, packages []models.MediaPackage, start, end time.Time) (*CreateResult, error) {
	campaignName := req.OrderName
	if campaignName == "" {
		campaignName = fmt.Sprintf("%s - %s", a.principal.Name, req.PONumber)
	}

	flights := make([]map[string]any, 0, len(packages))
	out := make([]models.MediaPackage, len(packages))
	for i, p := range packages {
		flight := map[string]any{
			"Name":              p.Name,
			"StartDateISO":      start.Format(time.RFC3339),
			"EndDateISO":        end.Format(time.RFC3339),
			"Price":             p.CPM,
			"RateType":          2, // CPM
			"GoalType":          1, // impressions
			"Impressions":       p.Impressions,
			"IsActive":          true,
		}
		if t := req.TargetingOverlay; t != nil {
			if kw := kevelKeywords(t); kw != "" {
				flight["Keywords"] = kw
			}
			if dp := kevelDayparts(t.Dayparting); len(dp) > 0 {
				flight["DayPartingV2"] = dp
			}
			if fc := t.FrequencyCap; fc != nil {
				flight["FreqCap"] = 1
				flight["FreqCapDuration"] = fc.SuppressMinutes
				flight["FreqCapType"] = 1 // minutes
			}
			if len(t.GeoCountryAnyOf) > 0 || len(t.GeoRegionAnyOf) > 0 || len(t.GeoMetroAnyOf) > 0 {
				flight["GeoTargeting"] = kevelGeo(t)
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
		log.Info().Str("adapter", "kevel").
			Str("campaign", campaignName).Int("flights", len(flights)).
			Msg("dry-run: would create campaign and flights")
		return &CreateResult{
			MediaBuyID: "kevel_" + campaignID,
			Status:     models.StatusPendingActivation,
			Packages:   out,
		}, nil
	}

	var campaign struct {
		ID int64 `json:"Id"`
	}
	if err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/campaign", a.headers(), map[string]any{
		"Name":         campaignName,
		"AdvertiserId": a.advertiserID,
		"StartDateISO": start.Format(time.RFC3339),
		"EndDateISO":   end.Format(time.RFC3339),
		"IsActive":     false,
	}, &campaign); err != nil {
		return nil, fmt.Errorf("kevel create campaign: %w", err)
	}

	for i, flight := range flights {
		flight["CampaignId"] = campaign.ID
		var created struct {
			ID int64 `json:"Id"`
		}
		if err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/flight", a.headers(), flight, &created); err != nil {
			return nil, fmt.Errorf("kevel create flight %q: %w", out[i].PackageID, err)
		}
		out[i].PlatformID = fmt.Sprintf("%d", created.ID)
	}

	return &CreateResult{
		MediaBuyID: fmt.Sprintf("kevel_%d", campaign.ID),
		Status:     models.StatusPendingActivation,
		Packages:   out,
	}, nil
}

func kevelKeywords(t *models.Targeting) string {
	return strings.Join(t.KeywordsAnyOf, ",")
}

func kevelGeo(t *models.Targeting) []map[string]any {
	var out []map[string]any
	for _, c := range t.GeoCountryAnyOf {
		out = append(out, map[string]any{"CountryCode": c, "IsExclude": false})
	}
	for _, r := range t.GeoRegionAnyOf {
		out = append(out, map[string]any{"Region": r, "IsExclude": false})
	}
	for _, m := range t.GeoMetroAnyOf {
		out = append(out, map[string]any{"MetroCode": m, "IsExclude": false})
	}
	for _, c := range t.GeoCountryNoneOf {
		out = append(out, map[string]any{"CountryCode": c, "IsExclude": true})
	}
	return out
}

func (a *KevelAdapter) UpdateMediaBuy(ctx context.Context, mediaBuyID, action, packageID string, budget *float64, impressions *int64, today time.Time) (*UpdateResult, error) {
	if !ActionSupported(action) {
		return UnknownActionResult(action), nil
	}
	campaignID := strings.TrimPrefix(mediaBuyID, "kevel_")

	var path string
	var payload map[string]any
	switch action {
	case ActionPauseMediaBuy:
		path, payload = "/campaign/"+campaignID, map[string]any{"IsActive": false}
	case ActionResumeMediaBuy:
		path, payload = "/campaign/"+campaignID, map[string]any{"IsActive": true}
	case ActionPausePackage:
		path, payload = "/flight/"+packageID, map[string]any{"IsActive": false}
	case ActionResumePackage:
		path, payload = "/flight/"+packageID, map[string]any{"IsActive": true}
	case ActionUpdatePackageBudget:
		if budget == nil {
			return &UpdateResult{Status: "failed", Reason: "update_package_budget requires a budget"}, nil
		}
		path, payload = "/flight/"+packageID, map[string]any{"LifetimeCapAmount": *budget}
	case ActionUpdatePackageImpressions:
		if impressions == nil {
			return &UpdateResult{Status: "failed", Reason: "update_package_impressions requires an impression goal"}, nil
		}
		path, payload = "/flight/"+packageID, map[string]any{"Impressions": *impressions}
	}

	if a.dryRun {
		log.Info().Str("adapter", "kevel").Str("action", action).Str("path", path).
			Msg("dry-run: would apply update")
		impl := today
		return &UpdateResult{Status: "accepted", ImplementationDate: &impl}, nil
	}

	if err := doJSON(ctx, a.client, http.MethodPut, a.baseURL+path, a.headers(), payload, nil); err != nil {
		return &UpdateResult{Status: "failed", Reason: err.Error()}, nil
	}
	impl := today
	return &UpdateResult{Status: "accepted", ImplementationDate: &impl}, nil
}

func (a *KevelAdapter) AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []models.CreativeAsset, today time.Time) ([]models.AssetStatus, error) {
	out := make([]models.AssetStatus, len(assets))
	for i, asset := range assets {
		if a.dryRun {
			log.Info().Str("adapter", "kevel").Str("creative_id", asset.CreativeID).
				Msg("dry-run: would create ad")
			out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusApproved}
			continue
		}
		body := map[string]any{
			"AdvertiserId": a.advertiserID,
			"Title":        asset.Name,
			"Url":          asset.ClickURL,
			"ImageLink":    asset.MediaURL,
			"IsActive":     true,
		}
		if err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/creative", a.headers(), body, nil); err != nil {
			out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusFailed, Detail: err.Error()}
			continue
		}
		out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusApproved}
	}
	return out, nil
}

func (a *KevelAdapter) CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*StatusResult, error) {
	if a.dryRun {
		return &StatusResult{MediaBuyID: mediaBuyID, Status: models.StatusDelivering}, nil
	}
	campaignID := strings.TrimPrefix(mediaBuyID, "kevel_")
	var resp struct {
		IsActive bool `json:"IsActive"`
	}
	if err := doJSON(ctx, a.client, http.MethodGet, a.baseURL+"/campaign/"+campaignID, a.headers(), nil, &resp); err != nil {
		return nil, fmt.Errorf("kevel campaign status: %w", err)
	}
	st := models.StatusPaused
	if resp.IsActive {
		st = models.StatusDelivering
	}
	return &StatusResult{MediaBuyID: mediaBuyID, Status: st}, nil
}

// GetMediaBuyDelivery queues a report job and polls it a bounded number
// of times. A report that never finishes is an error, not a hang.
func (a *KevelAdapter) GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, period models.ReportingPeriod, today time.Time) (*DeliveryResult, error) {
	if a.dryRun {
		log.Info().Str("adapter", "kevel").Str("media_buy_id", mediaBuyID).
			Msg("dry-run: would queue delivery report")
		return &DeliveryResult{}, nil
	}
	campaignID := strings.TrimPrefix(mediaBuyID, "kevel_")

	var queued struct {
		ID string `json:"Id"`
	}
	body := map[string]any{
		"StartDateISO": period.Start.Format("2006-01-02"),
		"EndDateISO":   period.End.Format("2006-01-02"),
		"GroupBy":      []string{"flightId"},
		"Parameters":   []map[string]any{{"campaignId": campaignID}},
	}
	if err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/report/queue", a.headers(), body, &queued); err != nil {
		return nil, fmt.Errorf("kevel queue report: %w", err)
	}

	for attempt := 0; attempt < 10; attempt++ {
		var result struct {
			Status int `json:"Status"` // 1 queued, 2 done, 3 error
			Result struct {
				Records []struct {
					FlightID    int64   `json:"FlightId"`
					Impressions int64   `json:"Impressions"`
					Revenue     float64 `json:"Revenue"`
				} `json:"Records"`
			} `json:"Result"`
		}
		if err := doJSON(ctx, a.client, http.MethodGet, a.baseURL+"/report/queue/"+queued.ID, a.headers(), nil, &result); err != nil {
			return nil, fmt.Errorf("kevel poll report: %w", err)
		}
		switch result.Status {
		case 2:
			res := &DeliveryResult{}
			for _, r := range result.Result.Records {
				res.Impressions += r.Impressions
				res.Spend += r.Revenue
				res.ByPackage = append(res.ByPackage, models.PackageDelivery{
					PackageID:   fmt.Sprintf("%d", r.FlightID),
					Impressions: r.Impressions,
					Spend:       r.Revenue,
				})
			}
			return res, nil
		case 3:
			return nil, fmt.Errorf("kevel report %s failed", queued.ID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("kevel report %s did not finish in time", queued.ID)
}

func (a *KevelAdapter) UpdatePerformanceIndex(ctx context.Context, mediaBuyID string, perf []models.PackagePerformance) (bool, error) {
	log.Info().Str("adapter", "kevel").Str("media_buy_id", mediaBuyID).
		Int("packages", len(perf)).Msg("performance index noted, no backend action")
	return false, nil
}
