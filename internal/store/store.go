// Package store provides the storage interface and implementations for
// the sales engine. The in-memory store covers local dev and tests;
// PostgreSQL (pgx) backs production deployments.
package store

import (
	"context"
	"time"

	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

// Store is the primary storage interface. All coordinator and handler
// code depends on this interface, making it easy to swap between
// in-memory (tests) and PostgreSQL (production) implementations.
//
// No cross-entity transactions are assumed: MediaBuy and WorkflowStep
// rows are committed independently.
type Store interface {
	TenantStore
	PrincipalStore
	ProductStore
	MediaBuyStore
	ContextStore
	WorkflowStepStore
	ObjectMappingStore
	CreativeStore
	InventoryStore

	// Ping checks if the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Tenant Store ────────────────────────────────────────────

type TenantStore interface {
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	UpdateTenant(ctx context.Context, tenant *models.Tenant) error
	DeleteTenant(ctx context.Context, tenantID string) error
}

// ── Principal Store ─────────────────────────────────────────

type PrincipalStore interface {
	ListPrincipals(ctx context.Context, tenantID string) ([]models.Principal, error)
	GetPrincipal(ctx context.Context, tenantID, principalID string) (*models.Principal, error)

	// GetPrincipalByToken resolves an access token to a principal within
	// a tenant. This is the auth lookup the API middleware performs.
	GetPrincipalByToken(ctx context.Context, tenantID, token string) (*models.Principal, error)

	CreatePrincipal(ctx context.Context, principal *models.Principal) error
	DeletePrincipal(ctx context.Context, tenantID, principalID string) error
}

// ── Product Store ───────────────────────────────────────────

type ProductStore interface {
	ListProducts(ctx context.Context, tenantID string) ([]models.Product, error)
	GetProduct(ctx context.Context, tenantID, productID string) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, product *models.Product) error
	DeleteProduct(ctx context.Context, tenantID, productID string) error
}

// ── Media Buy Store ─────────────────────────────────────────

// MediaBuyFilter narrows ListMediaBuys.
type MediaBuyFilter struct {
	PrincipalID string
	Statuses    []models.MediaBuyStatus
	Limit       int
}

type MediaBuyStore interface {
	ListMediaBuys(ctx context.Context, tenantID string, filter MediaBuyFilter) ([]models.MediaBuy, error)
	GetMediaBuy(ctx context.Context, tenantID, mediaBuyID string) (*models.MediaBuy, error)

	// GetMediaBuyByContext returns the buy linked to a context, if any.
	GetMediaBuyByContext(ctx context.Context, tenantID, contextID string) (*models.MediaBuy, error)

	CreateMediaBuy(ctx context.Context, buy *models.MediaBuy) error

	// UpdateMediaBuy applies an optimistic-concurrency update: the write
	// is rejected with *ErrVersionConflict when buy.Version does not
	// match the persisted row. On success the stored version increments.
	UpdateMediaBuy(ctx context.Context, buy *models.MediaBuy) error
}

// ── Context Store ───────────────────────────────────────────

type ContextStore interface {
	GetContext(ctx context.Context, tenantID, contextID string) (*models.Context, error)
	CreateContext(ctx context.Context, c *models.Context) error

	// AppendConversation adds an entry to a context's history.
	AppendConversation(ctx context.Context, tenantID, contextID string, entry models.ConversationEntry) error
}

// ── Workflow Step Store ─────────────────────────────────────

// StepFilter narrows ListWorkflowSteps.
type StepFilter struct {
	Owner    models.StepOwner
	Statuses []models.StepStatus
	ToolName string
	Limit    int
}

type WorkflowStepStore interface {
	ListWorkflowSteps(ctx context.Context, tenantID string, filter StepFilter) ([]models.WorkflowStep, error)
	GetWorkflowStep(ctx context.Context, tenantID, stepID string) (*models.WorkflowStep, error)
	CreateWorkflowStep(ctx context.Context, step *models.WorkflowStep) error
	UpdateWorkflowStep(ctx context.Context, step *models.WorkflowStep) error

	// DeleteWorkflowStep removes a step permanently. Only the retention
	// janitor calls this; resolved steps stay queryable until they age out.
	DeleteWorkflowStep(ctx context.Context, tenantID, stepID string) error
}

// ── Object Workflow Mapping Store ───────────────────────────

type ObjectMappingStore interface {
	// CreateObjectMapping inserts an audit edge. Mappings are append-only.
	CreateObjectMapping(ctx context.Context, m *models.ObjectWorkflowMapping) error

	// ListObjectMappings returns every step ever linked to an object.
	ListObjectMappings(ctx context.Context, objectType, objectID string) ([]models.ObjectWorkflowMapping, error)
}

// ── Creative Store ──────────────────────────────────────────

type CreativeStore interface {
	ListCreatives(ctx context.Context, tenantID, principalID string) ([]models.Creative, error)
	GetCreative(ctx context.Context, tenantID, creativeID string) (*models.Creative, error)
	CreateCreative(ctx context.Context, creative *models.Creative) error
	UpdateCreative(ctx context.Context, creative *models.Creative) error

	CreateCreativeAssignment(ctx context.Context, a *models.CreativeAssignment) error
	ListCreativeAssignments(ctx context.Context, tenantID, mediaBuyID string) ([]models.CreativeAssignment, error)
}

// ── Inventory Store (discovery sync) ────────────────────────

type InventoryStore interface {
	UpsertAdUnits(ctx context.Context, tenantID string, units []models.AdUnit) error
	ListAdUnits(ctx context.Context, tenantID string) ([]models.AdUnit, error)
	UpsertTargetingKeys(ctx context.Context, tenantID string, keys []models.TargetingKey) error
	ListTargetingKeys(ctx context.Context, tenantID string) ([]models.TargetingKey, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrVersionConflict is returned when an optimistic-concurrency update
// loses the race: the caller read a stale version of the row.
type ErrVersionConflict struct {
	Entity  string
	Key     string
	Version int64
}

func (e *ErrVersionConflict) Error() string {
	return e.Entity + " version conflict: " + e.Key
}

// ── Filter helpers ──────────────────────────────────────────

// ListFilter provides common pagination/filter options.
type ListFilter struct {
	Limit  int
	Offset int
	Since  *time.Time
}
