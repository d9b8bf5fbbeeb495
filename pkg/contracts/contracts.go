// Package contracts defines the interfaces and shared types that
// internal packages implement against. Keeping them in one place
// avoids import cycles between the store, notify, and lifecycle
// layers and gives extensions a stable surface to build on.
package contracts

import (
	"context"
	"time"

	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

// ── Store ───────────────────────────────────────────────────

// Store is the persistence interface consumed by the API and
// lifecycle layers. Implementations: MemoryStore (snapshot-backed)
// and PostgresStore.
type Store = store.Store

// ErrNotFound is re-exported so callers outside internal/ can
// detect missing entities without importing the store package.
type ErrNotFound = store.ErrNotFound

// ── Notifications ───────────────────────────────────────────

// NotificationEvent is the payload delivered to notification
// channels when a task is created, completed, or overdue.
type NotificationEvent struct {
	Type       string     `json:"event_type"`
	TenantID   string     `json:"tenant_id"`
	StepID     string     `json:"step_id,omitempty"`
	TaskType   string     `json:"task_type,omitempty"`
	Priority   string     `json:"priority,omitempty"`
	MediaBuyID string     `json:"media_buy_id,omitempty"`
	DueBy      *time.Time `json:"due_by,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ChannelDriver delivers notification events to one kind of
// channel (webhook, Slack). Drivers are registered in the notify
// service and looked up by channel kind at dispatch time.
type ChannelDriver interface {
	// Kind returns the channel kind this driver handles.
	Kind() models.ChannelKind

	// Send delivers the event to the given channel. Send is called
	// concurrently for different channels and must be safe for that.
	Send(ctx context.Context, ch *models.NotificationChannel, event NotificationEvent) error
}

// ── Catalog ─────────────────────────────────────────────────

// ProductMatcher resolves a buyer's product selection into the
// media packages an adapter provisions. The budget is split evenly
// across the selected products.
type ProductMatcher interface {
	ResolvePackages(ctx context.Context, tenantID string, productIDs []string, totalBudget float64, perPackageCPM map[string]float64) ([]models.MediaPackage, error)
}

// ── Retention ───────────────────────────────────────────────

// ArchiveDriver writes expired workflow steps to a durable archive
// before the retention janitor purges them from the hot store.
// Implementations are registered on the janitor and selected by kind.
type ArchiveDriver interface {
	// Kind returns the archive backend identifier (e.g. "local").
	Kind() string

	// ArchiveSteps persists a batch of resolved steps for a tenant and
	// returns a URI locating the written archive.
	ArchiveSteps(ctx context.Context, tenantID string, steps []models.WorkflowStep) (string, error)
}
