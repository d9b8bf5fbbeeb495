package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

func newCatalogStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	t.Setenv("SALESENGINE_DATA_DIR", t.TempDir())
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.CreateTenant(ctx, &models.Tenant{
		TenantID:  "tenant_1",
		Name:      "Test Publisher",
		AdServer:  "mock",
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}

	products := []models.Product{
		{
			ProductID:    "prod_fixed_ros",
			TenantID:     "tenant_1",
			Name:         "Run of Site Display",
			Formats:      []string{"display_300x250", "display_728x90"},
			Delivery:     models.DeliveryGuaranteed,
			IsFixedPrice: true,
			CPM:          12,
			ImplementationConfig: map[string]any{
				"ad_unit_ids": []string{"au_1001"},
			},
		},
		{
			ProductID: "prod_audio_open",
			TenantID:  "tenant_1",
			Name:      "Streaming Audio",
			Formats:   []string{"audio_30s"},
			Delivery:  models.DeliveryNonGuaranteed,
			CPM:       6,
		},
		{
			ProductID: "prod_video_open",
			TenantID:  "tenant_1",
			Name:      "Preroll Video",
			Formats:   []string{"video_15s"},
			Delivery:  models.DeliveryNonGuaranteed,
		},
	}
	for i := range products {
		if err := s.CreateProduct(ctx, &products[i]); err != nil {
			t.Fatalf("CreateProduct(%s) error = %v", products[i].ProductID, err)
		}
	}
	return s
}

func TestResolvePackagesSplitsBudget(t *testing.T) {
	s := newCatalogStore(t)
	m := NewMatcher(s)

	pkgs, err := m.ResolvePackages(context.Background(), "tenant_1",
		[]string{"prod_fixed_ros", "prod_audio_open"}, 24000, nil)
	if err != nil {
		t.Fatalf("ResolvePackages() error = %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("len(packages) = %d, want 2", len(pkgs))
	}

	// 24000 split evenly: 12000 at fixed CPM 12 and 12000 at rate card 6.
	if pkgs[0].CPM != 12 || pkgs[0].Impressions != 1_000_000 {
		t.Errorf("fixed package = cpm %v / %d impressions, want 12 / 1000000",
			pkgs[0].CPM, pkgs[0].Impressions)
	}
	if pkgs[1].CPM != 6 || pkgs[1].Impressions != 2_000_000 {
		t.Errorf("rate card package = cpm %v / %d impressions, want 6 / 2000000",
			pkgs[1].CPM, pkgs[1].Impressions)
	}

	if pkgs[0].ImplementationConfig == nil {
		t.Error("implementation config not carried through to the package")
	}
	if len(pkgs[0].FormatIDs) != 1 || pkgs[0].FormatIDs[0] != "display_300x250" {
		t.Errorf("FormatIDs = %v, want primary format only", pkgs[0].FormatIDs)
	}
}

func TestResolvePackagesCPMPrecedence(t *testing.T) {
	s := newCatalogStore(t)
	m := NewMatcher(s)
	ctx := context.Background()

	// Fixed-price products ignore the caller override.
	pkgs, err := m.ResolvePackages(ctx, "tenant_1", []string{"prod_fixed_ros"}, 1200,
		map[string]float64{"prod_fixed_ros": 99})
	if err != nil {
		t.Fatalf("ResolvePackages() error = %v", err)
	}
	if pkgs[0].CPM != 12 {
		t.Errorf("fixed product CPM = %v, want rate card 12", pkgs[0].CPM)
	}

	// Non-fixed products take the override over the rate card.
	pkgs, err = m.ResolvePackages(ctx, "tenant_1", []string{"prod_audio_open"}, 1200,
		map[string]float64{"prod_audio_open": 8})
	if err != nil {
		t.Fatalf("ResolvePackages() error = %v", err)
	}
	if pkgs[0].CPM != 8 {
		t.Errorf("override CPM = %v, want 8", pkgs[0].CPM)
	}

	// No rate card and no override falls back to the default.
	pkgs, err = m.ResolvePackages(ctx, "tenant_1", []string{"prod_video_open"}, 1000, nil)
	if err != nil {
		t.Fatalf("ResolvePackages() error = %v", err)
	}
	if pkgs[0].CPM != defaultCPM {
		t.Errorf("default CPM = %v, want %v", pkgs[0].CPM, defaultCPM)
	}
}

func TestResolvePackagesUnknownProduct(t *testing.T) {
	s := newCatalogStore(t)
	m := NewMatcher(s)

	_, err := m.ResolvePackages(context.Background(), "tenant_1",
		[]string{"prod_fixed_ros", "prod_missing"}, 1000, nil)
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("ResolvePackages() error = %v, want *ErrNotFound", err)
	}

	if _, err := m.ResolvePackages(context.Background(), "tenant_1", nil, 1000, nil); err == nil {
		t.Error("empty product selection accepted")
	}
}

func TestListProductsFilters(t *testing.T) {
	s := newCatalogStore(t)
	m := NewMatcher(s)
	ctx := context.Background()

	all, err := m.ListProducts(ctx, "tenant_1", "", "")
	if err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(products) = %d, want 3", len(all))
	}

	guaranteed, err := m.ListProducts(ctx, "tenant_1", "", models.DeliveryGuaranteed)
	if err != nil {
		t.Fatalf("ListProducts(guaranteed) error = %v", err)
	}
	if len(guaranteed) != 1 {
		t.Fatalf("guaranteed products = %d, want 1", len(guaranteed))
	}

	audio, err := m.ListProducts(ctx, "tenant_1", "audio_30s", "")
	if err != nil {
		t.Fatalf("ListProducts(audio) error = %v", err)
	}
	if len(audio) != 1 {
		t.Fatalf("audio products = %d, want 1", len(audio))
	}
}
