// Package store — in-memory Store implementation.
// Used for local dev and tests. Supports file-based snapshot persistence
// so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
	"github.com/rs/zerolog/log"
)

// persistedProduct restores implementation_config, which the external
// JSON view of Product deliberately omits.
type persistedProduct struct {
	models.Product
	ImplementationConfig map[string]any `json:"implementation_config,omitempty"`
}

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Tenants     map[string]*models.Tenant                `json:"tenants"`
	Principals  map[string]*models.Principal             `json:"principals"`  // key: tenant:principal_id
	Products    map[string]*persistedProduct             `json:"products"`    // key: tenant:product_id
	MediaBuys   map[string]*models.MediaBuy              `json:"media_buys"`  // key: tenant:media_buy_id
	Contexts    map[string]*models.Context               `json:"contexts"`    // key: tenant:context_id
	Steps       map[string]*models.WorkflowStep          `json:"steps"`       // key: tenant:step_id
	Mappings    []*models.ObjectWorkflowMapping          `json:"mappings"`    // append-only
	Creatives   map[string]*models.Creative              `json:"creatives"`   // key: tenant:creative_id
	Assignments map[string][]*models.CreativeAssignment  `json:"assignments"` // key: tenant:media_buy_id
	AdUnits     map[string][]*models.AdUnit              `json:"ad_units"`    // key: tenant_id
	Keys        map[string][]*models.TargetingKey        `json:"targeting_keys"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	tenants     map[string]*models.Tenant
	principals  map[string]*models.Principal            // key: tenant:principal_id
	products    map[string]*models.Product              // key: tenant:product_id
	mediaBuys   map[string]*models.MediaBuy             // key: tenant:media_buy_id
	contexts    map[string]*models.Context              // key: tenant:context_id
	steps       map[string]*models.WorkflowStep         // key: tenant:step_id
	mappings    []*models.ObjectWorkflowMapping         // append-only audit log
	creatives   map[string]*models.Creative             // key: tenant:creative_id
	assignments map[string][]*models.CreativeAssignment // key: tenant:media_buy_id
	adUnits     map[string][]*models.AdUnit             // key: tenant_id
	keys        map[string][]*models.TargetingKey       // key: tenant_id

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the save goroutine to stop
	closeOnce    sync.Once
}

// NewMemoryStore creates a new in-memory store.
// If SALESENGINE_DATA_DIR is set, data is persisted to a JSON file in
// that directory; otherwise persistence is disabled.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		tenants:     make(map[string]*models.Tenant),
		principals:  make(map[string]*models.Principal),
		products:    make(map[string]*models.Product),
		mediaBuys:   make(map[string]*models.MediaBuy),
		contexts:    make(map[string]*models.Context),
		steps:       make(map[string]*models.WorkflowStep),
		mappings:    make([]*models.ObjectWorkflowMapping, 0),
		creatives:   make(map[string]*models.Creative),
		assignments: make(map[string][]*models.CreativeAssignment),
		adUnits:     make(map[string][]*models.AdUnit),
		keys:        make(map[string][]*models.TargetingKey),
		saveCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}

	if dataDir := os.Getenv("SALESENGINE_DATA_DIR"); dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

func key2(tenantID, id string) string { return tenantID + ":" + id }

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max one write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	products := make(map[string]*persistedProduct, len(m.products))
	for k, p := range m.products {
		products[k] = &persistedProduct{Product: *p, ImplementationConfig: p.ImplementationConfig}
	}
	snap := snapshot{
		Tenants:     m.tenants,
		Principals:  m.principals,
		Products:    products,
		MediaBuys:   m.mediaBuys,
		Contexts:    m.contexts,
		Steps:       m.steps,
		Mappings:    m.mappings,
		Creatives:   m.creatives,
		Assignments: m.assignments,
		AdUnits:     m.adUnits,
		Keys:        m.keys,
	}
	data, err := json.MarshalIndent(&snap, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		log.Warn().Err(err).Msg("Snapshot marshal failed")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Warn().Err(err).Msg("Snapshot write failed")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Warn().Err(err).Msg("Snapshot rename failed")
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Snapshot read failed")
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Msg("Snapshot corrupt, starting empty")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Tenants != nil {
		m.tenants = snap.Tenants
	}
	if snap.Principals != nil {
		m.principals = snap.Principals
	}
	if snap.Products != nil {
		m.products = make(map[string]*models.Product, len(snap.Products))
		for k, pp := range snap.Products {
			p := pp.Product
			p.ImplementationConfig = pp.ImplementationConfig
			m.products[k] = &p
		}
	}
	if snap.MediaBuys != nil {
		m.mediaBuys = snap.MediaBuys
	}
	if snap.Contexts != nil {
		m.contexts = snap.Contexts
	}
	if snap.Steps != nil {
		m.steps = snap.Steps
	}
	if snap.Mappings != nil {
		m.mappings = snap.Mappings
	}
	if snap.Creatives != nil {
		m.creatives = snap.Creatives
	}
	if snap.Assignments != nil {
		m.assignments = snap.Assignments
	}
	if snap.AdUnits != nil {
		m.adUnits = snap.AdUnits
	}
	if snap.Keys != nil {
		m.keys = snap.Keys
	}
	log.Info().Int("media_buys", len(m.mediaBuys)).Int("steps", len(m.steps)).Msg("Snapshot loaded")
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close stops the save goroutine and flushes a final snapshot.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
	})
	return nil
}

// ── Tenants ─────────────────────────────────────────────────

func (m *MemoryStore) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (m *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, &ErrNotFound{Entity: "tenant", Key: tenantID}
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	m.mu.Lock()
	cp := *tenant
	m.tenants[tenant.TenantID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[tenant.TenantID]; !ok {
		return &ErrNotFound{Entity: "tenant", Key: tenant.TenantID}
	}
	cp := *tenant
	cp.UpdatedAt = time.Now().UTC()
	m.tenants[tenant.TenantID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteTenant(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[tenantID]; !ok {
		return &ErrNotFound{Entity: "tenant", Key: tenantID}
	}
	delete(m.tenants, tenantID)
	m.requestSave()
	return nil
}

// ── Principals ──────────────────────────────────────────────

func (m *MemoryStore) ListPrincipals(ctx context.Context, tenantID string) ([]models.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Principal
	for _, p := range m.principals {
		if p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrincipalID < out[j].PrincipalID })
	return out, nil
}

func (m *MemoryStore) GetPrincipal(ctx context.Context, tenantID, principalID string) (*models.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[key2(tenantID, principalID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "principal", Key: principalID}
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetPrincipalByToken(ctx context.Context, tenantID, token string) (*models.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.principals {
		if p.TenantID == tenantID && p.AccessToken != "" && p.AccessToken == token {
			cp := *p
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "principal", Key: "token"}
}

func (m *MemoryStore) CreatePrincipal(ctx context.Context, principal *models.Principal) error {
	m.mu.Lock()
	cp := *principal
	m.principals[key2(principal.TenantID, principal.PrincipalID)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeletePrincipal(ctx context.Context, tenantID, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key2(tenantID, principalID)
	if _, ok := m.principals[k]; !ok {
		return &ErrNotFound{Entity: "principal", Key: principalID}
	}
	delete(m.principals, k)
	m.requestSave()
	return nil
}

// ── Products ────────────────────────────────────────────────

func (m *MemoryStore) ListProducts(ctx context.Context, tenantID string) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Product
	for _, p := range m.products {
		if p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *MemoryStore) GetProduct(ctx context.Context, tenantID, productID string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[key2(tenantID, productID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "product", Key: productID}
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) CreateProduct(ctx context.Context, product *models.Product) error {
	m.mu.Lock()
	cp := *product
	m.products[key2(product.TenantID, product.ProductID)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateProduct(ctx context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key2(product.TenantID, product.ProductID)
	if _, ok := m.products[k]; !ok {
		return &ErrNotFound{Entity: "product", Key: product.ProductID}
	}
	cp := *product
	cp.UpdatedAt = time.Now().UTC()
	m.products[k] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteProduct(ctx context.Context, tenantID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key2(tenantID, productID)
	if _, ok := m.products[k]; !ok {
		return &ErrNotFound{Entity: "product", Key: productID}
	}
	delete(m.products, k)
	m.requestSave()
	return nil
}

// ── Media Buys ──────────────────────────────────────────────

func (m *MemoryStore) ListMediaBuys(ctx context.Context, tenantID string, filter MediaBuyFilter) ([]models.MediaBuy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MediaBuy
	for _, b := range m.mediaBuys {
		if b.TenantID != tenantID {
			continue
		}
		if filter.PrincipalID != "" && b.PrincipalID != filter.PrincipalID {
			continue
		}
		if len(filter.Statuses) > 0 && !statusIn(b.Status, filter.Statuses) {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func statusIn(s models.MediaBuyStatus, set []models.MediaBuyStatus) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetMediaBuy(ctx context.Context, tenantID, mediaBuyID string) (*models.MediaBuy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.mediaBuys[key2(tenantID, mediaBuyID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "media buy", Key: mediaBuyID}
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) GetMediaBuyByContext(ctx context.Context, tenantID, contextID string) (*models.MediaBuy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.mediaBuys {
		if b.TenantID == tenantID && b.ContextID != "" && b.ContextID == contextID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "media buy", Key: "context:" + contextID}
}

func (m *MemoryStore) CreateMediaBuy(ctx context.Context, buy *models.MediaBuy) error {
	m.mu.Lock()
	cp := *buy
	if cp.Version == 0 {
		cp.Version = 1
	}
	m.mediaBuys[key2(buy.TenantID, buy.MediaBuyID)] = &cp
	buy.Version = cp.Version
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateMediaBuy(ctx context.Context, buy *models.MediaBuy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key2(buy.TenantID, buy.MediaBuyID)
	cur, ok := m.mediaBuys[k]
	if !ok {
		return &ErrNotFound{Entity: "media buy", Key: buy.MediaBuyID}
	}
	if cur.Version != buy.Version {
		return &ErrVersionConflict{Entity: "media buy", Key: buy.MediaBuyID, Version: cur.Version}
	}
	// Owning principal never changes.
	cp := *buy
	cp.PrincipalID = cur.PrincipalID
	cp.Version = cur.Version + 1
	cp.UpdatedAt = time.Now().UTC()
	m.mediaBuys[k] = &cp
	buy.Version = cp.Version
	m.requestSave()
	return nil
}

// ── Contexts ────────────────────────────────────────────────

func (m *MemoryStore) GetContext(ctx context.Context, tenantID, contextID string) (*models.Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[key2(tenantID, contextID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "context", Key: contextID}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateContext(ctx context.Context, c *models.Context) error {
	m.mu.Lock()
	cp := *c
	m.contexts[key2(c.TenantID, c.ContextID)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) AppendConversation(ctx context.Context, tenantID, contextID string, entry models.ConversationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[key2(tenantID, contextID)]
	if !ok {
		return &ErrNotFound{Entity: "context", Key: contextID}
	}
	c.Conversation = append(c.Conversation, entry)
	c.UpdatedAt = time.Now().UTC()
	m.requestSave()
	return nil
}

// ── Workflow Steps ──────────────────────────────────────────

func (m *MemoryStore) ListWorkflowSteps(ctx context.Context, tenantID string, filter StepFilter) ([]models.WorkflowStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.WorkflowStep
	for _, s := range m.steps {
		if s.TenantID != tenantID {
			continue
		}
		if filter.Owner != "" && s.Owner != filter.Owner {
			continue
		}
		if filter.ToolName != "" && s.ToolName != filter.ToolName {
			continue
		}
		if len(filter.Statuses) > 0 && !stepStatusIn(s.Status, filter.Statuses) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func stepStatusIn(s models.StepStatus, set []models.StepStatus) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetWorkflowStep(ctx context.Context, tenantID, stepID string) (*models.WorkflowStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.steps[key2(tenantID, stepID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "workflow step", Key: stepID}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CreateWorkflowStep(ctx context.Context, step *models.WorkflowStep) error {
	m.mu.Lock()
	cp := *step
	m.steps[key2(step.TenantID, step.StepID)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateWorkflowStep(ctx context.Context, step *models.WorkflowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key2(step.TenantID, step.StepID)
	cur, ok := m.steps[k]
	if !ok {
		return &ErrNotFound{Entity: "workflow step", Key: step.StepID}
	}
	// tool_name and request_data are fixed at creation.
	cp := *step
	cp.ToolName = cur.ToolName
	cp.RequestData = cur.RequestData
	cp.UpdatedAt = time.Now().UTC()
	m.steps[k] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteWorkflowStep(ctx context.Context, tenantID, stepID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key2(tenantID, stepID)
	if _, ok := m.steps[k]; !ok {
		return &ErrNotFound{Entity: "workflow step", Key: stepID}
	}
	delete(m.steps, k)
	m.requestSave()
	return nil
}

// ── Object Workflow Mappings ────────────────────────────────

func (m *MemoryStore) CreateObjectMapping(ctx context.Context, mapping *models.ObjectWorkflowMapping) error {
	m.mu.Lock()
	cp := *mapping
	m.mappings = append(m.mappings, &cp)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListObjectMappings(ctx context.Context, objectType, objectID string) ([]models.ObjectWorkflowMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ObjectWorkflowMapping
	for _, e := range m.mappings {
		if e.ObjectType == objectType && e.ObjectID == objectID {
			out = append(out, *e)
		}
	}
	return out, nil
}

// ── Creatives ───────────────────────────────────────────────

func (m *MemoryStore) ListCreatives(ctx context.Context, tenantID, principalID string) ([]models.Creative, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Creative
	for _, c := range m.creatives {
		if c.TenantID != tenantID {
			continue
		}
		if principalID != "" && c.PrincipalID != principalID {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreativeID < out[j].CreativeID })
	return out, nil
}

func (m *MemoryStore) GetCreative(ctx context.Context, tenantID, creativeID string) (*models.Creative, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creatives[key2(tenantID, creativeID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "creative", Key: creativeID}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateCreative(ctx context.Context, creative *models.Creative) error {
	m.mu.Lock()
	cp := *creative
	m.creatives[key2(creative.TenantID, creative.CreativeID)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateCreative(ctx context.Context, creative *models.Creative) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key2(creative.TenantID, creative.CreativeID)
	if _, ok := m.creatives[k]; !ok {
		return &ErrNotFound{Entity: "creative", Key: creative.CreativeID}
	}
	cp := *creative
	cp.UpdatedAt = time.Now().UTC()
	m.creatives[k] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) CreateCreativeAssignment(ctx context.Context, a *models.CreativeAssignment) error {
	m.mu.Lock()
	cp := *a
	k := key2(a.TenantID, a.MediaBuyID)
	m.assignments[k] = append(m.assignments[k], &cp)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListCreativeAssignments(ctx context.Context, tenantID, mediaBuyID string) ([]models.CreativeAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.assignments[key2(tenantID, mediaBuyID)]
	out := make([]models.CreativeAssignment, 0, len(list))
	for _, a := range list {
		out = append(out, *a)
	}
	return out, nil
}

// ── Inventory ───────────────────────────────────────────────

func (m *MemoryStore) UpsertAdUnits(ctx context.Context, tenantID string, units []models.AdUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.adUnits[tenantID]
	byID := make(map[string]*models.AdUnit, len(existing))
	for _, u := range existing {
		byID[u.AdUnitID] = u
	}
	for i := range units {
		cp := units[i]
		byID[cp.AdUnitID] = &cp
	}
	merged := make([]*models.AdUnit, 0, len(byID))
	for _, u := range byID {
		merged = append(merged, u)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].AdUnitID < merged[j].AdUnitID })
	m.adUnits[tenantID] = merged
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListAdUnits(ctx context.Context, tenantID string) ([]models.AdUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.adUnits[tenantID]
	out := make([]models.AdUnit, 0, len(list))
	for _, u := range list {
		out = append(out, *u)
	}
	return out, nil
}

func (m *MemoryStore) UpsertTargetingKeys(ctx context.Context, tenantID string, keys []models.TargetingKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.keys[tenantID]
	byID := make(map[string]*models.TargetingKey, len(existing))
	for _, k := range existing {
		byID[k.KeyID] = k
	}
	for i := range keys {
		cp := keys[i]
		byID[cp.KeyID] = &cp
	}
	merged := make([]*models.TargetingKey, 0, len(byID))
	for _, k := range byID {
		merged = append(merged, k)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].KeyID < merged[j].KeyID })
	m.keys[tenantID] = merged
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListTargetingKeys(ctx context.Context, tenantID string) ([]models.TargetingKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.keys[tenantID]
	out := make([]models.TargetingKey, 0, len(list))
	for _, k := range list {
		out = append(out, *k)
	}
	return out, nil
}
