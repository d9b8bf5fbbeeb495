package adapters

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

// InventorySyncer pulls ad units and custom targeting keys out of a
// backend for product setup. Read-only: retry exhaustion logs and
// returns whatever was fetched, never an error to the caller.
type InventorySyncer interface {
	SyncInventory(ctx context.Context, tenantID string) ([]models.AdUnit, []models.TargetingKey)
}

// SyncInventory fetches the Ad Manager ad unit tree and custom
// targeting keys. Each read is wrapped in bounded exponential backoff
// (3 attempts); a sync that exhausts its retries contributes nothing
// but does not sink the other half.
func (a *GAMAdapter) SyncInventory(ctx context.Context, tenantID string) ([]models.AdUnit, []models.TargetingKey) {
	if a.dryRun {
		log.Info().Str("adapter", "google_ad_manager").Str("tenant", tenantID).
			Msg("dry-run: would sync inventory")
		return nil, nil
	}

	now := time.Now().UTC()
	units := a.syncAdUnits(ctx, tenantID, now)
	keys := a.syncTargetingKeys(ctx, tenantID, now)
	log.Info().Str("tenant", tenantID).
		Int("ad_units", len(units)).Int("targeting_keys", len(keys)).
		Msg("Inventory sync finished")
	return units, keys
}

func (a *GAMAdapter) syncAdUnits(ctx context.Context, tenantID string, now time.Time) []models.AdUnit {
	var resp struct {
		AdUnits []struct {
			ID       string `json:"adUnitId"`
			Name     string `json:"displayName"`
			Path     string `json:"adUnitCode"`
			ParentID string `json:"parentAdUnit"`
		} `json:"adUnits"`
	}

	fetch := func() error {
		url := fmt.Sprintf("%s/networks/%s/adUnits", a.baseURL, a.networkCode)
		return doJSON(ctx, a.client, http.MethodGet, url, a.headers(), nil, &resp)
	}
	if err := backoff.Retry(fetch, syncBackoff(ctx)); err != nil {
		log.Warn().Err(err).Str("tenant", tenantID).Msg("Ad unit sync exhausted retries")
		return nil
	}

	out := make([]models.AdUnit, 0, len(resp.AdUnits))
	for _, u := range resp.AdUnits {
		out = append(out, models.AdUnit{
			TenantID: tenantID,
			AdUnitID: u.ID,
			Name:     u.Name,
			Path:     u.Path,
			ParentID: u.ParentID,
			SyncedAt: now,
		})
	}
	return out
}

func (a *GAMAdapter) syncTargetingKeys(ctx context.Context, tenantID string, now time.Time) []models.TargetingKey {
	var resp struct {
		Keys []struct {
			ID     string   `json:"customTargetingKeyId"`
			Name   string   `json:"name"`
			Type   string   `json:"type"`
			Values []string `json:"values"`
		} `json:"customTargetingKeys"`
	}

	fetch := func() error {
		url := fmt.Sprintf("%s/networks/%s/customTargetingKeys", a.baseURL, a.networkCode)
		return doJSON(ctx, a.client, http.MethodGet, url, a.headers(), nil, &resp)
	}
	if err := backoff.Retry(fetch, syncBackoff(ctx)); err != nil {
		log.Warn().Err(err).Str("tenant", tenantID).Msg("Targeting key sync exhausted retries")
		return nil
	}

	out := make([]models.TargetingKey, 0, len(resp.Keys))
	for _, k := range resp.Keys {
		kind := "freeform"
		if k.Type == "PREDEFINED" {
			kind = "predefined"
		}
		out = append(out, models.TargetingKey{
			TenantID: tenantID,
			KeyID:    k.ID,
			Name:     k.Name,
			Kind:     kind,
			Values:   k.Values,
			SyncedAt: now,
		})
	}
	return out
}

func syncBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)
}
