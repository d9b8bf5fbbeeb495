// Package catalog resolves a buyer's product selection into the media
// packages an adapter provisions.
//
// Packages are always derived from tenant products, never constructed
// from caller input. The derivation carries the product's managed
// implementation_config through to the package so adapters can read
// backend-specific settings (ad unit ids, key-values, site ids) that
// principals never see.
package catalog

import (
	"context"
	"fmt"

	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
	"github.com/rs/zerolog/log"
)

// defaultCPM is used for non-fixed-price products with no rate card.
const defaultCPM = 10.0

// Matcher derives media packages from tenant products. Implements
// contracts.ProductMatcher.
type Matcher struct {
	store store.Store
}

// NewMatcher creates a product matcher backed by the given store.
func NewMatcher(s store.Store) *Matcher {
	return &Matcher{store: s}
}

// ResolvePackages maps each requested product to one media package.
// The total budget is split evenly across the selected products, and
// perPackageCPM (keyed by product id) overrides the product rate card
// for non-fixed-price products.
//
// Returns store.ErrNotFound if any product id does not exist, in which
// case no packages are returned.
func (m *Matcher) ResolvePackages(ctx context.Context, tenantID string, productIDs []string, totalBudget float64, perPackageCPM map[string]float64) ([]models.MediaPackage, error) {
	if len(productIDs) == 0 {
		return nil, fmt.Errorf("no product ids supplied")
	}

	perPackageBudget := totalBudget / float64(len(productIDs))
	packages := make([]models.MediaPackage, 0, len(productIDs))

	for _, productID := range productIDs {
		product, err := m.store.GetProduct(ctx, tenantID, productID)
		if err != nil {
			return nil, err
		}

		cpm := packageCPM(product, perPackageCPM[productID])
		impressions := int64(0)
		if cpm > 0 {
			impressions = int64(perPackageBudget / cpm * 1000)
		}

		pkg := models.MediaPackage{
			PackageID:            product.ProductID,
			Name:                 product.Name,
			Delivery:             product.Delivery,
			CPM:                  cpm,
			Impressions:          impressions,
			ImplementationConfig: product.ImplementationConfig,
		}
		if len(product.Formats) > 0 {
			pkg.FormatIDs = product.Formats[:1]
		}
		packages = append(packages, pkg)

		log.Debug().
			Str("tenant", tenantID).
			Str("product", productID).
			Float64("cpm", cpm).
			Int64("impressions", impressions).
			Msg("Resolved product to package")
	}

	return packages, nil
}

// packageCPM picks the effective CPM for a product. Fixed-price
// products always use their rate card; others take the caller's
// override, then the rate card, then the default.
func packageCPM(product *models.Product, override float64) float64 {
	if product.IsFixedPrice && product.CPM > 0 {
		return product.CPM
	}
	if override > 0 {
		return override
	}
	if product.CPM > 0 {
		return product.CPM
	}
	return defaultCPM
}

// ListProducts returns the principal-safe projections of a tenant's
// products, optionally filtered by format and delivery type.
func (m *Matcher) ListProducts(ctx context.Context, tenantID, format string, delivery models.DeliveryType) ([]any, error) {
	products, err := m.store.ListProducts(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(products))
	for i := range products {
		p := &products[i]
		if delivery != "" && p.Delivery != delivery {
			continue
		}
		if format != "" && !hasFormat(p, format) {
			continue
		}
		out = append(out, p.ExternalView())
	}
	return out, nil
}

func hasFormat(p *models.Product, format string) bool {
	for _, f := range p.Formats {
		if f == format {
			return true
		}
	}
	return false
}
