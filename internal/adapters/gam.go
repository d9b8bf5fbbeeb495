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

var gamCapabilities = Capabilities{
	DeviceTypes: []string{"mobile", "desktop", "tablet", "ctv", "dooh"},
	MediaTypes:  []string{"video", "display", "native"},
}

// gamDeviceCategories maps canonical device types onto Ad Manager device
// category names.
var gamDeviceCategories = map[string]string{
	"mobile":  "MOBILE",
	"desktop": "DESKTOP",
	"tablet":  "TABLET",
	"ctv":     "CONNECTED_TV",
	"dooh":    "SET_TOP_BOX",
}

// Static geo criteria tables. Ad Manager targets numeric criteria ids;
// codes missing from these tables are logged and skipped rather than
// failing the buy.
var gamCountryCriteria = map[string]int{
	"US": 2840, "CA": 2124, "GB": 2826, "AU": 2036, "DE": 2276,
	"FR": 2250, "JP": 2392, "MX": 2484, "BR": 2076, "IN": 2356,
}

var gamRegionCriteria = map[string]int{
	"US-NY": 21167, "US-CA": 21137, "US-TX": 21176,
	"US-IL": 21147, "US-FL": 21142, "US-WA": 21180,
}

// DMA codes → Ad Manager metro criteria ids.
var gamMetroCriteria = map[string]int{
	"501": 200501, "803": 200803, "602": 200602,
	"807": 200807, "506": 200506, "511": 200511,
}

// GAMAdapter drives Google Ad Manager through its REST API. A buy maps
// to one order with one line item per package.
type GAMAdapter struct {
	cfg          map[string]any
	principal    *models.Principal
	dryRun       bool
	networkCode  string
	advertiserID string
	traffickerID string
	baseURL      string
	bearerToken  string
	client       *http.Client
}

// NewGAMAdapter builds the Ad Manager adapter. The HTTP client stays nil
// in dry-run so no live call can slip through.
func NewGAMAdapter(cfg map[string]any, principal *models.Principal, dryRun bool) (Adapter, error) {
	networkCode := cfgString(cfg, "network_code")
	if networkCode == "" && !dryRun {
		return nil, fmt.Errorf("google_ad_manager: network_code is required")
	}
	bearerToken, err := auth.ResolveString(context.Background(), "google_ad_manager", "access_token", cfg)
	if err != nil {
		return nil, fmt.Errorf("google_ad_manager: %w", err)
	}
	a := &GAMAdapter{
		cfg:          cfg,
		principal:    principal,
		dryRun:       dryRun,
		networkCode:  networkCode,
		advertiserID: principal.PlatformID("google_ad_manager", "advertiser_id"),
		traffickerID: cfgString(cfg, "trafficker_id"),
		baseURL:      cfgString(cfg, "api_base_url"),
		bearerToken:  bearerToken,
	}
	if a.baseURL == "" {
		a.baseURL = "https://admanager.googleapis.com/v1"
	}
	if !dryRun {
		a.client = &http.Client{Timeout: 30 * time.Second}
	}
	return a, nil
}

func (a *GAMAdapter) Name() string               { return "google_ad_manager" }
func (a *GAMAdapter) Capabilities() Capabilities { return gamCapabilities }

func (a *GAMAdapter) ValidateTargeting(t *models.Targeting) []string {
	v := capabilityViolations(t, gamCapabilities)
	if t == nil {
		return v
	}
	// No geo lookup service: city and zip codes cannot be resolved to
	// criteria ids.
	if len(t.GeoCityAnyOf) > 0 || len(t.GeoCityNoneOf) > 0 {
		v = append(v, "City targeting not supported")
	}
	if len(t.GeoZipAnyOf) > 0 || len(t.GeoZipNoneOf) > 0 {
		v = append(v, "Postal code targeting not supported")
	}
	return v
}

func (a *GAMAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.bearerToken}
}

// buildGeoTargeting resolves canonical geo codes into criteria ids.
// Unknown codes are skipped with a warning.
func (a *GAMAdapter) buildGeoTargeting(t *models.Targeting) (include, exclude []int) {
	resolve := func(codes []string, table map[string]int, kind string) []int {
		var ids []int
		for _, c := range codes {
			id, ok := table[c]
			if !ok {
				log.Warn().Str("adapter", "google_ad_manager").
					Str("kind", kind).Str("code", c).
					Msg("No criteria id for geo code, skipping")
				continue
			}
			ids = append(ids, id)
		}
		return ids
	}
	include = append(include, resolve(t.GeoCountryAnyOf, gamCountryCriteria, "country")...)
	include = append(include, resolve(t.GeoRegionAnyOf, gamRegionCriteria, "region")...)
	include = append(include, resolve(t.GeoMetroAnyOf, gamMetroCriteria, "metro")...)
	exclude = append(exclude, resolve(t.GeoCountryNoneOf, gamCountryCriteria, "country")...)
	exclude = append(exclude, resolve(t.GeoRegionNoneOf, gamRegionCriteria, "region")...)
	exclude = append(exclude, resolve(t.GeoMetroNoneOf, gamMetroCriteria, "metro")...)
	return include, exclude
}

// mergeCustomTargeting combines the product's custom targeting keys with
// the platform-managed key-value pairs. Both sides survive; on a key
// collision the values union.
func mergeCustomTargeting(impl map[string]any, managed map[string]string) map[string][]string {
	merged := make(map[string][]string)
	if impl != nil {
		if raw, ok := impl["custom_targeting_keys"].(map[string]any); ok {
			for k, v := range raw {
				switch val := v.(type) {
				case string:
					merged[k] = append(merged[k], val)
				case []any:
					for _, e := range val {
						if s, ok := e.(string); ok {
							merged[k] = append(merged[k], s)
						}
					}
				}
			}
		}
	}
	for k, v := range managed {
		if !contains(merged[k], v) {
			merged[k] = append(merged[k], v)
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// creativePlaceholders reads placeholder sizes from implementation
// config, defaulting to a single 300x250 slot.
func creativePlaceholders(impl map[string]any) []map[string]int {
	out := []map[string]int{}
	if impl != nil {
		if raw, ok := impl["creative_placeholders"].([]any); ok {
			for _, e := range raw {
				m, ok := e.(map[string]any)
				if !ok {
					continue
				}
				w, _ := m["width"].(float64)
				h, _ := m["height"].(float64)
				if w > 0 && h > 0 {
					out = append(out, map[string]int{"width": int(w), "height": int(h)})
				}
			}
		}
	}
	if len(out) == 0 {
		out = append(out, map[string]int{"width": 300, "height": 250})
	}
	return out
}

func implInts(impl map[string]any, key string) []int64 {
	if impl == nil {
		return nil
	}
	raw, ok := impl[key].([]any)
	if !ok {
		return nil
	}
	var out []int64
	for _, e := range raw {
		if f, ok := e.(float64); ok {
			out = append(out, int64(f))
		}
	}
	return out
}

func (a *GAMAdapter) CreateMediaBuy(ctx context.Context, req *models.CreateMediaBuyRequest, packages []models.MediaPackage, start, end time.Time) (*CreateResult, error) {
	orderName := req.OrderName
	if orderName == "" {
		orderName = fmt.Sprintf("%s - %s", a.principal.Name, req.PONumber)
	}

	order := map[string]any{
		"name":          orderName,
		"advertiserId":  a.advertiserID,
		"traffickerId":  a.traffickerID,
		"startDateTime": start.Format(time.RFC3339),
		"endDateTime":   end.Format(time.RFC3339),
	}
	if teams := implTeams(a.cfg); len(teams) > 0 {
		order["appliedTeamIds"] = teams
	}

	var geoInclude, geoExclude []int
	var devices []string
	merged := map[string][]string{}
	if t := req.TargetingOverlay; t != nil {
		geoInclude, geoExclude = a.buildGeoTargeting(t)
		for _, d := range t.DeviceTypeAnyOf {
			devices = append(devices, gamDeviceCategories[d])
		}
		merged = mergeCustomTargeting(nil, t.KeyValuePairs)
	}

	lineItems := make([]map[string]any, 0, len(packages))
	out := make([]models.MediaPackage, len(packages))
	for i, p := range packages {
		impl := p.ImplementationConfig
		custom := mergeCustomTargeting(impl, nil)
		for k, vals := range merged {
			for _, v := range vals {
				if !contains(custom[k], v) {
					if custom == nil {
						custom = map[string][]string{}
					}
					custom[k] = append(custom[k], v)
				}
			}
		}

		li := map[string]any{
			"name":         p.Name,
			"lineItemType": "STANDARD",
			"priority":     8,
			"costType":     "CPM",
			"costPerUnit":  map[string]any{"currencyCode": currency(req.Currency), "microAmount": int64(p.CPM * 1_000_000)},
			"primaryGoal": map[string]any{
				"goalType": "LIFETIME",
				"unitType": "IMPRESSIONS",
				"units":    p.Impressions,
			},
			"creativePlaceholders": creativePlaceholders(impl),
		}
		targeting := map[string]any{}
		if len(geoInclude) > 0 || len(geoExclude) > 0 {
			targeting["geoTargeting"] = map[string]any{
				"targetedCriteriaIds": geoInclude,
				"excludedCriteriaIds": geoExclude,
			}
		}
		if len(devices) > 0 {
			targeting["deviceCategories"] = devices
		}
		if units := implInts(impl, "targeted_ad_unit_ids"); len(units) > 0 {
			targeting["inventoryTargeting"] = map[string]any{"targetedAdUnitIds": units}
		}
		if placements := implInts(impl, "targeted_placement_ids"); len(placements) > 0 {
			inv, _ := targeting["inventoryTargeting"].(map[string]any)
			if inv == nil {
				inv = map[string]any{}
			}
			inv["targetedPlacementIds"] = placements
			targeting["inventoryTargeting"] = inv
		}
		if len(custom) > 0 {
			targeting["customTargeting"] = custom
		}
		if t := req.TargetingOverlay; t != nil && t.FrequencyCap != nil {
			targeting["frequencyCaps"] = []map[string]any{{
				"maxImpressions": 1,
				"timeUnit":       "MINUTE",
				"numTimeUnits":   t.FrequencyCap.SuppressMinutes,
			}}
		}
		li["targeting"] = targeting
		lineItems = append(lineItems, li)
		out[i] = p
	}

	if a.dryRun {
		orderID := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
		for i := range out {
			out[i].PlatformID = fmt.Sprintf("li_%s_%d", orderID, i+1)
		}
		log.Info().Str("adapter", "google_ad_manager").
			Str("order_name", orderName).
			Int("line_items", len(lineItems)).
			Msg("dry-run: would create order and line items")
		return &CreateResult{
			MediaBuyID: "gam_" + orderID,
			Status:     models.StatusPendingCreative,
			Packages:   out,
		}, nil
	}

	var created struct {
		OrderID   string `json:"orderId"`
		LineItems []struct {
			ID string `json:"lineItemId"`
		} `json:"lineItems"`
	}
	url := fmt.Sprintf("%s/networks/%s/orders", a.baseURL, a.networkCode)
	if err := doJSON(ctx, a.client, http.MethodPost, url,
		a.headers(), map[string]any{"order": order, "lineItems": lineItems}, &created); err != nil {
		return nil, fmt.Errorf("gam create order: %w", err)
	}
	for i := range out {
		if i < len(created.LineItems) {
			out[i].PlatformID = created.LineItems[i].ID
		}
	}
	return &CreateResult{
		MediaBuyID: "gam_" + created.OrderID,
		Status:     models.StatusPendingCreative,
		Packages:   out,
	}, nil
}

func implTeams(cfg map[string]any) []int64 {
	return implInts(cfg, "applied_team_ids")
}

func currency(c string) string {
	if c == "" {
		return "USD"
	}
	return c
}

func (a *GAMAdapter) UpdateMediaBuy(ctx context.Context, mediaBuyID, action, packageID string, budget *float64, impressions *int64, today time.Time) (*UpdateResult, error) {
	if !ActionSupported(action) {
		return UnknownActionResult(action), nil
	}
	orderID := strings.TrimPrefix(mediaBuyID, "gam_")

	var payload map[string]any
	var path string
	switch action {
	case ActionPauseMediaBuy:
		path, payload = fmt.Sprintf("orders/%s:pause", orderID), map[string]any{}
	case ActionResumeMediaBuy:
		path, payload = fmt.Sprintf("orders/%s:resume", orderID), map[string]any{}
	case ActionPausePackage:
		path, payload = fmt.Sprintf("lineItems/%s:pause", packageID), map[string]any{}
	case ActionResumePackage:
		path, payload = fmt.Sprintf("lineItems/%s:resume", packageID), map[string]any{}
	case ActionUpdatePackageBudget:
		if budget == nil {
			return &UpdateResult{Status: "failed", Reason: "update_package_budget requires a budget"}, nil
		}
		path = fmt.Sprintf("lineItems/%s", packageID)
		payload = map[string]any{"budget": map[string]any{"microAmount": int64(*budget * 1_000_000)}}
	case ActionUpdatePackageImpressions:
		if impressions == nil {
			return &UpdateResult{Status: "failed", Reason: "update_package_impressions requires an impression goal"}, nil
		}
		path = fmt.Sprintf("lineItems/%s", packageID)
		payload = map[string]any{"primaryGoal": map[string]any{"units": *impressions}}
	}

	if a.dryRun {
		log.Info().Str("adapter", "google_ad_manager").
			Str("action", action).Str("path", path).
			Msg("dry-run: would apply update")
		impl := today
		return &UpdateResult{Status: "accepted", ImplementationDate: &impl}, nil
	}

	url := fmt.Sprintf("%s/networks/%s/%s", a.baseURL, a.networkCode, path)
	if err := doJSON(ctx, a.client, http.MethodPost, url, a.headers(), payload, nil); err != nil {
		return &UpdateResult{Status: "failed", Reason: err.Error()}, nil
	}
	impl := today
	return &UpdateResult{Status: "accepted", ImplementationDate: &impl}, nil
}

func (a *GAMAdapter) AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []models.CreativeAsset, today time.Time) ([]models.AssetStatus, error) {
	out := make([]models.AssetStatus, len(assets))
	for i, asset := range assets {
		if a.dryRun {
			log.Info().Str("adapter", "google_ad_manager").
				Str("creative_id", asset.CreativeID).Str("format", asset.Format).
				Msg("dry-run: would upload creative")
			out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusApproved}
			continue
		}
		url := fmt.Sprintf("%s/networks/%s/creatives", a.baseURL, a.networkCode)
		body := map[string]any{
			"advertiserId":        a.advertiserID,
			"name":                asset.Name,
			"destinationUrl":      asset.ClickURL,
			"snippet":             asset.MediaURL,
		}
		if err := doJSON(ctx, a.client, http.MethodPost, url, a.headers(), body, nil); err != nil {
			out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusFailed, Detail: err.Error()}
			continue
		}
		out[i] = models.AssetStatus{CreativeID: asset.CreativeID, Status: models.CreativeStatusApproved}
	}
	return out, nil
}

func (a *GAMAdapter) CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*StatusResult, error) {
	if a.dryRun {
		return &StatusResult{MediaBuyID: mediaBuyID, Status: models.StatusDelivering}, nil
	}
	orderID := strings.TrimPrefix(mediaBuyID, "gam_")
	var resp struct {
		Status string `json:"status"`
	}
	url := fmt.Sprintf("%s/networks/%s/orders/%s", a.baseURL, a.networkCode, orderID)
	if err := doJSON(ctx, a.client, http.MethodGet, url, a.headers(), nil, &resp); err != nil {
		return nil, fmt.Errorf("gam order status: %w", err)
	}
	return &StatusResult{MediaBuyID: mediaBuyID, Status: gamOrderStatus(resp.Status)}, nil
}

func gamOrderStatus(s string) models.MediaBuyStatus {
	switch s {
	case "DRAFT", "PENDING_APPROVAL":
		return models.StatusPendingActivation
	case "APPROVED":
		return models.StatusDelivering
	case "PAUSED":
		return models.StatusPaused
	case "CANCELED", "DELETED":
		return models.StatusFailed
	default:
		return models.StatusDelivering
	}
}

func (a *GAMAdapter) GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, period models.ReportingPeriod, today time.Time) (*DeliveryResult, error) {
	if a.dryRun {
		log.Info().Str("adapter", "google_ad_manager").Str("media_buy_id", mediaBuyID).
			Msg("dry-run: would run delivery report")
		return &DeliveryResult{}, nil
	}
	orderID := strings.TrimPrefix(mediaBuyID, "gam_")
	var resp struct {
		Rows []struct {
			LineItemID  string  `json:"lineItemId"`
			Impressions int64   `json:"impressions"`
			Spend       float64 `json:"spend"`
		} `json:"rows"`
	}
	url := fmt.Sprintf("%s/networks/%s/reports:run", a.baseURL, a.networkCode)
	body := map[string]any{
		"dimensions": []string{"LINE_ITEM_ID"},
		"metrics":    []string{"IMPRESSIONS", "TOTAL_CPM_CPC_REVENUE"},
		"filters":    map[string]any{"orderId": orderID},
		"dateRange": map[string]any{
			"start": period.Start.Format("2006-01-02"),
			"end":   period.End.Format("2006-01-02"),
		},
	}
	if err := doJSON(ctx, a.client, http.MethodPost, url, a.headers(), body, &resp); err != nil {
		return nil, fmt.Errorf("gam delivery report: %w", err)
	}
	res := &DeliveryResult{}
	for _, row := range resp.Rows {
		res.Impressions += row.Impressions
		res.Spend += row.Spend
		res.ByPackage = append(res.ByPackage, models.PackageDelivery{
			PackageID:   row.LineItemID,
			Impressions: row.Impressions,
			Spend:       row.Spend,
		})
	}
	return res, nil
}

func (a *GAMAdapter) UpdatePerformanceIndex(ctx context.Context, mediaBuyID string, perf []models.PackagePerformance) (bool, error) {
	// Ad Manager has no direct performance index input; recorded for
	// trafficker review only.
	log.Info().Str("adapter", "google_ad_manager").Str("media_buy_id", mediaBuyID).
		Int("packages", len(perf)).Msg("performance index noted, no backend action")
	return false, nil
}
