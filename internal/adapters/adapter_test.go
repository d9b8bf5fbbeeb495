package adapters

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

func testPrincipal() *models.Principal {
	return &models.Principal{
		TenantID:    "acme",
		PrincipalID: "buyer_1",
		Name:        "Buyer One",
		PlatformMappings: map[string]map[string]any{
			"google_ad_manager": {"advertiser_id": "12345"},
			"kevel":             {"advertiser_id": "678"},
			"triton":            {"advertiser_id": "tr_1"},
			"xandr":             {"advertiser_id": "999"},
		},
	}
}

func dryAdapter(t *testing.T, name string, cfg map[string]any) Adapter {
	t.Helper()
	a, err := NewRegistry().Build(name, cfg, testPrincipal(), true)
	if err != nil {
		t.Fatalf("Build(%q) error = %v", name, err)
	}
	return a
}

func flight() (time.Time, time.Time) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 29)
}

// ─── Capability gating ───────────────────────────────────────

func TestTritonRejectsNonAudioTargeting(t *testing.T) {
	a := dryAdapter(t, "triton", nil)

	v := a.ValidateTargeting(&models.Targeting{
		MediaTypeAnyOf:       []string{"video"},
		ContentCategoryAnyOf: []string{"IAB1"},
		BrowserAnyOf:         []string{"chrome"},
	})
	if len(v) != 3 {
		t.Fatalf("ValidateTargeting() = %v, want 3 violations", v)
	}
	wantGenre := "Content category targeting not supported; use custom genre targeting"
	found := false
	for _, msg := range v {
		if msg == wantGenre {
			found = true
		}
	}
	if !found {
		t.Errorf("violations %v missing %q", v, wantGenre)
	}
}

func TestGAMRejectsAudioAndCityZip(t *testing.T) {
	a := dryAdapter(t, "google_ad_manager", nil)

	v := a.ValidateTargeting(&models.Targeting{
		MediaTypeAnyOf: []string{"audio"},
		GeoCityAnyOf:   []string{"New York"},
		GeoZipAnyOf:    []string{"10001"},
	})
	if len(v) != 3 {
		t.Fatalf("ValidateTargeting() = %v, want 3 violations", v)
	}
}

func TestKevelFrequencyCapRules(t *testing.T) {
	// Caps disabled: any frequency cap is a violation.
	a := dryAdapter(t, "kevel", nil)
	v := a.ValidateTargeting(&models.Targeting{
		FrequencyCap: &models.FrequencyCap{SuppressMinutes: 30, Scope: models.FreqCapScopePackage},
	})
	if len(v) != 1 {
		t.Fatalf("disabled caps: violations = %v, want 1", v)
	}

	// Caps enabled: package scope fine, media_buy scope rejected.
	a = dryAdapter(t, "kevel", map[string]any{"frequency_capping_enabled": true})
	v = a.ValidateTargeting(&models.Targeting{
		FrequencyCap: &models.FrequencyCap{SuppressMinutes: 30, Scope: models.FreqCapScopePackage},
	})
	if len(v) != 0 {
		t.Fatalf("package scope: violations = %v, want none", v)
	}
	v = a.ValidateTargeting(&models.Targeting{
		FrequencyCap: &models.FrequencyCap{SuppressMinutes: 30, Scope: models.FreqCapScopeMediaBuy},
	})
	if len(v) != 1 {
		t.Fatalf("media_buy scope: violations = %v, want 1", v)
	}
}

func TestKevelAudiencesRequireUserDB(t *testing.T) {
	a := dryAdapter(t, "kevel", nil)
	if v := a.ValidateTargeting(&models.Targeting{AudiencesAnyOf: []string{"sports_fans"}}); len(v) != 1 {
		t.Fatalf("violations = %v, want 1", v)
	}

	a = dryAdapter(t, "kevel", map[string]any{"userdb_enabled": true})
	if v := a.ValidateTargeting(&models.Targeting{AudiencesAnyOf: []string{"sports_fans"}}); len(v) != 0 {
		t.Fatalf("violations = %v, want none with userdb enabled", v)
	}
}

func TestMockAcceptsEverything(t *testing.T) {
	a := dryAdapter(t, "mock", nil)
	v := a.ValidateTargeting(&models.Targeting{
		DeviceTypeAnyOf: []string{"mobile", "desktop", "tablet", "ctv", "dooh", "audio"},
		MediaTypeAnyOf:  []string{"video", "display", "native", "audio", "dooh"},
		GeoCityAnyOf:    []string{"New York"},
		GeoZipAnyOf:     []string{"10001"},
	})
	if len(v) != 0 {
		t.Errorf("mock violations = %v, want none", v)
	}
}

// ─── Dry-run purity ──────────────────────────────────────────

// Dry-run adapters carry a nil HTTP client; any network attempt would
// panic. Every operation must complete with simulated results.
func TestDryRunNeverCallsNetwork(t *testing.T) {
	start, end := flight()
	req := &models.CreateMediaBuyRequest{
		ProductIDs:  []string{"prod_1"},
		TotalBudget: 5000,
		PONumber:    "PO-42",
	}
	packages := []models.MediaPackage{
		{PackageID: "prod_1", Name: "Homepage Takeover", CPM: 10, Impressions: 500000},
	}

	for _, name := range []string{"mock", "google_ad_manager", "kevel", "triton", "xandr"} {
		a := dryAdapter(t, name, nil)
		ctx := context.Background()

		res, err := a.CreateMediaBuy(ctx, req, packages, start, end)
		if err != nil {
			t.Fatalf("%s: CreateMediaBuy() error = %v", name, err)
		}
		if res.MediaBuyID == "" {
			t.Errorf("%s: CreateMediaBuy() returned empty id", name)
		}

		if _, err := a.UpdateMediaBuy(ctx, res.MediaBuyID, ActionPauseMediaBuy, "", nil, nil, start); err != nil {
			t.Errorf("%s: UpdateMediaBuy() error = %v", name, err)
		}
		if _, err := a.CheckMediaBuyStatus(ctx, res.MediaBuyID, start); err != nil {
			t.Errorf("%s: CheckMediaBuyStatus() error = %v", name, err)
		}
		period := models.ReportingPeriod{Start: start, End: start.AddDate(0, 0, 1)}
		if _, err := a.GetMediaBuyDelivery(ctx, res.MediaBuyID, period, start.AddDate(0, 0, 5)); err != nil {
			t.Errorf("%s: GetMediaBuyDelivery() error = %v", name, err)
		}
	}
}

// ─── IDs ─────────────────────────────────────────────────────

func TestMediaBuyIDFormats(t *testing.T) {
	start, end := flight()
	ctx := context.Background()
	packages := []models.MediaPackage{{PackageID: "p1", Name: "P1", CPM: 10, Impressions: 1000}}

	mock := dryAdapter(t, "mock", nil)
	res, err := mock.CreateMediaBuy(ctx, &models.CreateMediaBuyRequest{PONumber: "PO-7", TotalBudget: 100}, packages, start, end)
	if err != nil {
		t.Fatalf("mock CreateMediaBuy() error = %v", err)
	}
	if res.MediaBuyID != "buy_PO-7" {
		t.Errorf("mock id = %q, want buy_PO-7", res.MediaBuyID)
	}

	cases := map[string]string{
		"google_ad_manager": "gam_",
		"kevel":             "kevel_",
		"triton":            "triton_",
		"xandr":             "xandr_io_",
	}
	for name, prefix := range cases {
		a := dryAdapter(t, name, nil)
		res, err := a.CreateMediaBuy(ctx, &models.CreateMediaBuyRequest{TotalBudget: 100}, packages, start, end)
		if err != nil {
			t.Fatalf("%s CreateMediaBuy() error = %v", name, err)
		}
		if !strings.HasPrefix(res.MediaBuyID, prefix) {
			t.Errorf("%s id = %q, want prefix %q", name, res.MediaBuyID, prefix)
		}
	}
}

// ─── Update actions ──────────────────────────────────────────

func TestUnknownActionFails(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"mock", "google_ad_manager", "kevel", "triton", "xandr"} {
		a := dryAdapter(t, name, nil)
		res, err := a.UpdateMediaBuy(ctx, "buy_x", "explode", "", nil, nil, time.Now())
		if err != nil {
			t.Fatalf("%s: UpdateMediaBuy() error = %v", name, err)
		}
		if res.Status != "failed" {
			t.Errorf("%s: status = %q, want failed", name, res.Status)
		}
		if !strings.Contains(res.Reason, "Action 'explode' not supported") {
			t.Errorf("%s: reason = %q", name, res.Reason)
		}
		if !strings.Contains(res.Reason, ActionUpdatePackageBudget) {
			t.Errorf("%s: reason should list supported actions, got %q", name, res.Reason)
		}
	}
}

func TestBudgetActionRequiresBudget(t *testing.T) {
	a := dryAdapter(t, "kevel", nil)
	res, err := a.UpdateMediaBuy(context.Background(), "kevel_1", ActionUpdatePackageBudget, "fl_1", nil, nil, time.Now())
	if err != nil {
		t.Fatalf("UpdateMediaBuy() error = %v", err)
	}
	if res.Status != "failed" {
		t.Errorf("status = %q, want failed when budget missing", res.Status)
	}
}

// ─── Backend translation details ─────────────────────────────

func TestKevelDayConversion(t *testing.T) {
	// Canonical weeks start Sunday (0); Kevel weeks start Monday (0).
	cases := map[int]int{0: 6, 1: 0, 2: 1, 3: 2, 4: 3, 5: 4, 6: 5}
	for canonical, want := range cases {
		if got := kevelDay(canonical); got != want {
			t.Errorf("kevelDay(%d) = %d, want %d", canonical, got, want)
		}
	}
}

func TestTritonDaypartPresets(t *testing.T) {
	dp := resolveDayparts(&models.Dayparting{Presets: []string{"drive_time_morning", "overnight"}})
	if len(dp) != 2 {
		t.Fatalf("resolveDayparts() = %d schedules, want 2", len(dp))
	}
	if dp[0].StartHour != 6 || dp[0].EndHour != 10 {
		t.Errorf("drive_time_morning = %d-%d, want 6-10", dp[0].StartHour, dp[0].EndHour)
	}
	if dp[1].StartHour != 0 || dp[1].EndHour != 6 {
		t.Errorf("overnight = %d-%d, want 0-6", dp[1].StartHour, dp[1].EndHour)
	}

	a := dryAdapter(t, "triton", nil)
	v := a.ValidateTargeting(&models.Targeting{
		Dayparting: &models.Dayparting{Presets: []string{"rush_hour"}},
	})
	if len(v) != 1 {
		t.Errorf("unknown preset: violations = %v, want 1", v)
	}
}

func TestXandrDeviceIDs(t *testing.T) {
	profile := buildProfile(&models.Targeting{DeviceTypeAnyOf: []string{"desktop", "mobile", "tablet", "ctv"}})
	targets, ok := profile["device_type_targets"].([]map[string]any)
	if !ok || len(targets) != 4 {
		t.Fatalf("device_type_targets = %v", profile["device_type_targets"])
	}
	want := []int{1, 2, 3, 4}
	for i, tg := range targets {
		if tg["id"] != want[i] {
			t.Errorf("device target %d = %v, want %d", i, tg["id"], want[i])
		}
	}
}

func TestGAMCustomTargetingMerge(t *testing.T) {
	impl := map[string]any{
		"custom_targeting_keys": map[string]any{
			"section":  "sports",
			"audience": []any{"runners"},
		},
	}
	managed := map[string]string{"audience": "cyclists", "deal": "premium"}

	merged := mergeCustomTargeting(impl, managed)
	if len(merged["section"]) != 1 || merged["section"][0] != "sports" {
		t.Errorf("section = %v", merged["section"])
	}
	// Collision unions, neither side wins.
	if len(merged["audience"]) != 2 {
		t.Errorf("audience = %v, want both runners and cyclists", merged["audience"])
	}
	if len(merged["deal"]) != 1 || merged["deal"][0] != "premium" {
		t.Errorf("deal = %v", merged["deal"])
	}
}

func TestGAMDefaultPlaceholder(t *testing.T) {
	ph := creativePlaceholders(nil)
	if len(ph) != 1 || ph[0]["width"] != 300 || ph[0]["height"] != 250 {
		t.Errorf("creativePlaceholders(nil) = %v, want single 300x250", ph)
	}

	ph = creativePlaceholders(map[string]any{
		"creative_placeholders": []any{
			map[string]any{"width": float64(728), "height": float64(90)},
		},
	})
	if len(ph) != 1 || ph[0]["width"] != 728 {
		t.Errorf("explicit placeholders = %v", ph)
	}
}

func TestTritonRejectsNonAudioCreative(t *testing.T) {
	a := dryAdapter(t, "triton", nil)
	statuses, err := a.AddCreativeAssets(context.Background(), "triton_1", []models.CreativeAsset{
		{CreativeID: "c1", Format: "display"},
		{CreativeID: "c2", Format: "audio"},
	}, time.Now())
	if err != nil {
		t.Fatalf("AddCreativeAssets() error = %v", err)
	}
	if statuses[0].Status != models.CreativeStatusRejected {
		t.Errorf("display creative status = %q, want rejected", statuses[0].Status)
	}
	if statuses[1].Status != models.CreativeStatusApproved {
		t.Errorf("audio creative status = %q, want approved", statuses[1].Status)
	}
}

// ─── Mock delivery simulation ────────────────────────────────

func TestMockDeliveryTracksFlightProgress(t *testing.T) {
	a := dryAdapter(t, "mock", nil)
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 9) // 10-day flight

	res, err := a.CreateMediaBuy(ctx, &models.CreateMediaBuyRequest{PONumber: "PO-1", TotalBudget: 1000},
		[]models.MediaPackage{{PackageID: "p1", CPM: 10, Impressions: 100000}}, start, end)
	if err != nil {
		t.Fatalf("CreateMediaBuy() error = %v", err)
	}

	period := models.ReportingPeriod{Start: start, End: end}
	halfway := start.AddDate(0, 0, 5)
	d, err := a.GetMediaBuyDelivery(ctx, res.MediaBuyID, period, halfway)
	if err != nil {
		t.Fatalf("GetMediaBuyDelivery() error = %v", err)
	}
	if d.Spend != 500 {
		t.Errorf("spend at day 5 of 10 = %v, want 500", d.Spend)
	}
	if d.Impressions != 50000 {
		t.Errorf("impressions at day 5 of 10 = %v, want 50000", d.Impressions)
	}
}

// A create and a later delivery probe arrive on different adapter
// instances; the simulation must survive the instance boundary.
func TestMockStateSharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 9)

	creator := dryAdapter(t, "mock", nil)
	res, err := creator.CreateMediaBuy(ctx, &models.CreateMediaBuyRequest{PONumber: "PO-shared", TotalBudget: 1000},
		[]models.MediaPackage{{PackageID: "p1", CPM: 10, Impressions: 100000}}, start, end)
	if err != nil {
		t.Fatalf("CreateMediaBuy() error = %v", err)
	}

	reader := dryAdapter(t, "mock", nil)
	halfway := start.AddDate(0, 0, 5)
	d, err := reader.GetMediaBuyDelivery(ctx, res.MediaBuyID, models.ReportingPeriod{Start: start, End: end}, halfway)
	if err != nil {
		t.Fatalf("GetMediaBuyDelivery() error = %v", err)
	}
	if d.Spend != 500 || d.Impressions != 50000 {
		t.Errorf("fresh instance delivery = %v spend / %d impressions, want 500 / 50000", d.Spend, d.Impressions)
	}

	st, err := reader.CheckMediaBuyStatus(ctx, res.MediaBuyID, halfway)
	if err != nil {
		t.Fatalf("CheckMediaBuyStatus() error = %v", err)
	}
	if st.Status != models.StatusDelivering {
		t.Errorf("fresh instance status = %q, want delivering", st.Status)
	}

	// Flights are tenant-scoped: another tenant's adapter sees nothing.
	other, err := NewRegistry().Build("mock", nil, &models.Principal{TenantID: "rival"}, true)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	d, err = other.GetMediaBuyDelivery(ctx, res.MediaBuyID, models.ReportingPeriod{Start: start, End: end}, halfway)
	if err != nil {
		t.Fatalf("GetMediaBuyDelivery() error = %v", err)
	}
	if d.Spend != 0 {
		t.Errorf("cross-tenant delivery spend = %v, want 0", d.Spend)
	}
}

// ─── Registry ────────────────────────────────────────────────

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	names := r.Names()
	want := []string{"google_ad_manager", "kevel", "mock", "triton", "xandr"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v", names)
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], n)
		}
	}

	if _, err := r.Build("doubleclick", nil, testPrincipal(), true); err == nil {
		t.Error("Build() of unknown adapter should fail")
	}

	caps, ok := r.StaticCapabilities("triton")
	if !ok || !caps.SupportsMedia("audio") || caps.SupportsMedia("display") {
		t.Errorf("triton capabilities = %+v", caps)
	}
}
