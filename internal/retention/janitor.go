// Package retention implements data retention for resolved workflow
// steps. Approval and task steps accumulate forever otherwise; the
// janitor periodically archives and purges steps that resolved longer
// ago than the tenant's retention window.
//
// Retention window: 90 days by default, per-tenant override via
// Tenant.TaskRetentionDays.
//
// Archive modes: when an archive driver is registered the janitor
// archives before purging, and archive failures are fail-safe: steps
// are NOT deleted if archiving fails. Without a driver the janitor
// purges directly.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/contracts"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultRetentionDays is how long resolved steps stay in the hot
// store when the tenant does not override it.
const DefaultRetentionDays = 90

// DefaultArchiveBatchSize is the max steps per archive write.
const DefaultArchiveBatchSize = 1000

// sweepLimit caps how many resolved steps one cycle considers per tenant.
const sweepLimit = 10000

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Tenant        string
	StepsArchived int
	StepsPurged   int
	ArchiveURIs   []string
	Errors        []error
}

// Janitor periodically archives and purges resolved workflow steps.
type Janitor struct {
	store    store.Store
	interval time.Duration
	days     int

	// archiveDrivers is a registry of pluggable archive backends.
	archiveDrivers map[string]contracts.ArchiveDriver
	driverMu       sync.RWMutex

	// defaultBackend is used when no backend is requested explicitly.
	defaultBackend string
}

// NewJanitor creates a retention janitor that runs on the given interval.
func NewJanitor(s store.Store, interval time.Duration, days int) *Janitor {
	if interval < time.Minute {
		interval = time.Hour // minimum 1 hour
	}
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return &Janitor{
		store:          s,
		interval:       interval,
		days:           days,
		archiveDrivers: make(map[string]contracts.ArchiveDriver),
	}
}

// RegisterArchiver adds an archive driver. The first registered driver
// becomes the default backend.
func (j *Janitor) RegisterArchiver(driver contracts.ArchiveDriver) {
	j.driverMu.Lock()
	defer j.driverMu.Unlock()
	kind := driver.Kind()
	if len(j.archiveDrivers) == 0 {
		j.defaultBackend = kind
	}
	j.archiveDrivers[kind] = driver
	log.Info().Str("kind", kind).Msg("Archive driver registered")
}

// GetArchiver returns the registered driver for the given kind.
func (j *Janitor) GetArchiver(kind string) (contracts.ArchiveDriver, bool) {
	j.driverMu.RLock()
	defer j.driverMu.RUnlock()
	d, ok := j.archiveDrivers[kind]
	return d, ok
}

// ListArchivers returns the kinds of all registered archive drivers.
func (j *Janitor) ListArchivers() []string {
	j.driverMu.RLock()
	defer j.driverMu.RUnlock()
	kinds := make([]string, 0, len(j.archiveDrivers))
	for k := range j.archiveDrivers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Start runs the janitor in a background goroutine. It blocks until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Int("retention_days", j.days).
		Strs("archivers", j.ListArchivers()).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep across all tenants.
func (j *Janitor) RunCycle(ctx context.Context) {
	start := time.Now()
	tenants, err := j.store.ListTenants(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Retention janitor: failed to list tenants")
		return
	}

	totalPurged := 0
	totalArchived := 0

	for _, tenant := range tenants {
		stats := j.ProcessTenant(ctx, tenant)
		totalPurged += stats.StepsPurged
		totalArchived += stats.StepsArchived

		for _, e := range stats.Errors {
			log.Warn().Err(e).Str("tenant", tenant.TenantID).Msg("Retention cycle error")
		}
	}

	if totalPurged > 0 || totalArchived > 0 {
		log.Info().
			Int("purged_steps", totalPurged).
			Int("archived_steps", totalArchived).
			Int("tenants", len(tenants)).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
}

// ProcessTenant handles archive+purge for a single tenant.
func (j *Janitor) ProcessTenant(ctx context.Context, tenant models.Tenant) CycleStats {
	stats := CycleStats{Tenant: tenant.TenantID}

	days := tenant.TaskRetentionDays
	if days <= 0 {
		days = j.days
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	expired, err := j.findExpiredSteps(ctx, tenant.TenantID, cutoff)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return stats
	}
	if len(expired) == 0 {
		return stats
	}

	j.driverMu.RLock()
	backend := j.defaultBackend
	hasArchivers := len(j.archiveDrivers) > 0
	j.driverMu.RUnlock()

	if !hasArchivers {
		j.purgeSteps(ctx, tenant.TenantID, expired, &stats)
		return stats
	}

	// Archive first, then purge only what was archived (fail-safe).
	driver, _ := j.GetArchiver(backend)
	for i := 0; i < len(expired); i += DefaultArchiveBatchSize {
		end := i + DefaultArchiveBatchSize
		if end > len(expired) {
			end = len(expired)
		}
		batch := expired[i:end]

		uri, err := driver.ArchiveSteps(ctx, tenant.TenantID, batch)
		if err != nil {
			log.Warn().Err(err).
				Str("tenant", tenant.TenantID).
				Str("backend", backend).
				Int("batch_size", len(batch)).
				Msg("Failed to archive steps, skipping purge for batch")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.StepsArchived += len(batch)
		stats.ArchiveURIs = append(stats.ArchiveURIs, uri)
		j.purgeSteps(ctx, tenant.TenantID, batch, &stats)
	}
	return stats
}

// findExpiredSteps returns resolved steps older than cutoff. A step is
// resolved once it reaches completed or failed; pending approvals are
// never purged no matter how old.
func (j *Janitor) findExpiredSteps(ctx context.Context, tenantID string, cutoff time.Time) ([]models.WorkflowStep, error) {
	steps, err := j.store.ListWorkflowSteps(ctx, tenantID, store.StepFilter{
		Statuses: []models.StepStatus{models.StepCompleted, models.StepFailed},
		Limit:    sweepLimit,
	})
	if err != nil {
		return nil, err
	}
	var expired []models.WorkflowStep
	for _, s := range steps {
		resolvedAt := s.UpdatedAt
		if resolvedAt.IsZero() {
			resolvedAt = s.CreatedAt
		}
		if resolvedAt.Before(cutoff) {
			expired = append(expired, s)
		}
	}
	return expired, nil
}

// purgeSteps deletes steps from the hot store.
func (j *Janitor) purgeSteps(ctx context.Context, tenantID string, steps []models.WorkflowStep, stats *CycleStats) {
	for _, s := range steps {
		if err := j.store.DeleteWorkflowStep(ctx, tenantID, s.StepID); err != nil {
			log.Warn().Err(err).Str("step_id", s.StepID).Msg("Failed to delete expired step")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.StepsPurged++
	}
}
