package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"
)

// PostgresStore implements Store on PostgreSQL via pgx. Nested documents
// (adapter config, targeting, packages, conversation history) live in
// JSONB columns; everything queried by filter gets its own column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and runs migrations.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS se_tenants (
			tenant_id   TEXT PRIMARY KEY,
			doc         JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS se_principals (
			tenant_id    TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			access_token TEXT NOT NULL DEFAULT '',
			doc          JSONB NOT NULL,
			PRIMARY KEY (tenant_id, principal_id)
		);
		CREATE INDEX IF NOT EXISTS idx_se_principals_token
			ON se_principals (tenant_id, access_token);

		CREATE TABLE IF NOT EXISTS se_products (
			tenant_id  TEXT NOT NULL,
			product_id TEXT NOT NULL,
			doc        JSONB NOT NULL,
			PRIMARY KEY (tenant_id, product_id)
		);

		CREATE TABLE IF NOT EXISTS se_media_buys (
			tenant_id    TEXT NOT NULL,
			media_buy_id TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			context_id   TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			version      BIGINT NOT NULL DEFAULT 1,
			doc          JSONB NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tenant_id, media_buy_id)
		);
		CREATE INDEX IF NOT EXISTS idx_se_media_buys_ctx
			ON se_media_buys (tenant_id, context_id);

		CREATE TABLE IF NOT EXISTS se_contexts (
			tenant_id  TEXT NOT NULL,
			context_id TEXT NOT NULL,
			doc        JSONB NOT NULL,
			PRIMARY KEY (tenant_id, context_id)
		);

		CREATE TABLE IF NOT EXISTS se_workflow_steps (
			tenant_id  TEXT NOT NULL,
			step_id    TEXT NOT NULL,
			owner      TEXT NOT NULL,
			status     TEXT NOT NULL,
			tool_name  TEXT NOT NULL,
			doc        JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tenant_id, step_id)
		);
		CREATE INDEX IF NOT EXISTS idx_se_steps_queue
			ON se_workflow_steps (tenant_id, owner, status);

		CREATE TABLE IF NOT EXISTS se_object_mappings (
			mapping_id  TEXT PRIMARY KEY,
			object_type TEXT NOT NULL,
			object_id   TEXT NOT NULL,
			doc         JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_se_mappings_obj
			ON se_object_mappings (object_type, object_id);

		CREATE TABLE IF NOT EXISTS se_creatives (
			tenant_id    TEXT NOT NULL,
			creative_id  TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			doc          JSONB NOT NULL,
			PRIMARY KEY (tenant_id, creative_id)
		);

		CREATE TABLE IF NOT EXISTS se_creative_assignments (
			assignment_id TEXT PRIMARY KEY,
			tenant_id     TEXT NOT NULL,
			media_buy_id  TEXT NOT NULL,
			doc           JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_se_assignments_buy
			ON se_creative_assignments (tenant_id, media_buy_id);

		CREATE TABLE IF NOT EXISTS se_ad_units (
			tenant_id  TEXT NOT NULL,
			ad_unit_id TEXT NOT NULL,
			doc        JSONB NOT NULL,
			PRIMARY KEY (tenant_id, ad_unit_id)
		);

		CREATE TABLE IF NOT EXISTS se_targeting_keys (
			tenant_id TEXT NOT NULL,
			key_id    TEXT NOT NULL,
			doc       JSONB NOT NULL,
			PRIMARY KEY (tenant_id, key_id)
		);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// scanDoc unmarshals a JSONB doc column into dst.
func scanDoc(raw []byte, dst any) error {
	return json.Unmarshal(raw, dst)
}

// ── Tenants ─────────────────────────────────────────────────

func (s *PostgresStore) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM se_tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var t models.Tenant
		if err := scanDoc(raw, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM se_tenants WHERE tenant_id = $1`, tenantID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "tenant", Key: tenantID}
	}
	if err != nil {
		return nil, err
	}
	var t models.Tenant
	if err := scanDoc(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	doc, err := json.Marshal(tenant)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO se_tenants (tenant_id, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		tenant.TenantID, doc, time.Now().UTC())
	return err
}

func (s *PostgresStore) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	tenant.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(tenant)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE se_tenants SET doc = $2, updated_at = NOW() WHERE tenant_id = $1`,
		tenant.TenantID, doc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "tenant", Key: tenant.TenantID}
	}
	return nil
}

func (s *PostgresStore) DeleteTenant(ctx context.Context, tenantID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM se_tenants WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "tenant", Key: tenantID}
	}
	return nil
}

// ── Principals ──────────────────────────────────────────────

func (s *PostgresStore) ListPrincipals(ctx context.Context, tenantID string) ([]models.Principal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM se_principals WHERE tenant_id = $1 ORDER BY principal_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	defer rows.Close()

	var out []models.Principal
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var p models.Principal
		if err := scanDoc(raw, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPrincipal(ctx context.Context, tenantID, principalID string) (*models.Principal, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM se_principals WHERE tenant_id = $1 AND principal_id = $2`,
		tenantID, principalID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "principal", Key: principalID}
	}
	if err != nil {
		return nil, err
	}
	var p models.Principal
	if err := scanDoc(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPrincipalByToken(ctx context.Context, tenantID, token string) (*models.Principal, error) {
	if token == "" {
		return nil, &ErrNotFound{Entity: "principal", Key: "token"}
	}
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM se_principals WHERE tenant_id = $1 AND access_token = $2`,
		tenantID, token).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "principal", Key: "token"}
	}
	if err != nil {
		return nil, err
	}
	var p models.Principal
	if err := scanDoc(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CreatePrincipal(ctx context.Context, principal *models.Principal) error {
	doc, err := json.Marshal(principal)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO se_principals (tenant_id, principal_id, access_token, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, principal_id) DO UPDATE
			SET access_token = EXCLUDED.access_token, doc = EXCLUDED.doc`,
		principal.TenantID, principal.PrincipalID, principal.AccessToken, doc)
	return err
}

func (s *PostgresStore) DeletePrincipal(ctx context.Context, tenantID, principalID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM se_principals WHERE tenant_id = $1 AND principal_id = $2`,
		tenantID, principalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "principal", Key: principalID}
	}
	return nil
}

// ── Products ────────────────────────────────────────────────

func (s *PostgresStore) ListProducts(ctx context.Context, tenantID string) ([]models.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM se_products WHERE tenant_id = $1 ORDER BY product_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var p models.Product
		if err := scanDoc(raw, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetProduct(ctx context.Context, tenantID, productID string) (*models.Product, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM se_products WHERE tenant_id = $1 AND product_id = $2`,
		tenantID, productID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "product", Key: productID}
	}
	if err != nil {
		return nil, err
	}
	var p models.Product
	if err := scanDoc(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, product *models.Product) error {
	doc, err := marshalProduct(product)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO se_products (tenant_id, product_id, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, product_id) DO UPDATE SET doc = EXCLUDED.doc`,
		product.TenantID, product.ProductID, doc)
	return err
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, product *models.Product) error {
	product.UpdatedAt = time.Now().UTC()
	doc, err := marshalProduct(product)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE se_products SET doc = $3 WHERE tenant_id = $1 AND product_id = $2`,
		product.TenantID, product.ProductID, doc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "product", Key: product.ProductID}
	}
	return nil
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, tenantID, productID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM se_products WHERE tenant_id = $1 AND product_id = $2`,
		tenantID, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "product", Key: productID}
	}
	return nil
}

// marshalProduct includes implementation_config, which the external JSON
// view deliberately omits. The persisted doc needs it back.
func marshalProduct(p *models.Product) ([]byte, error) {
	type persisted struct {
		models.Product
		ImplementationConfig map[string]any `json:"implementation_config,omitempty"`
	}
	return json.Marshal(persisted{Product: *p, ImplementationConfig: p.ImplementationConfig})
}

// ── Media Buys ──────────────────────────────────────────────

func (s *PostgresStore) ListMediaBuys(ctx context.Context, tenantID string, filter MediaBuyFilter) ([]models.MediaBuy, error) {
	q := `SELECT doc, version FROM se_media_buys WHERE tenant_id = $1`
	args := []any{tenantID}
	idx := 2
	if filter.PrincipalID != "" {
		q += fmt.Sprintf(" AND principal_id = $%d", idx)
		args = append(args, filter.PrincipalID)
		idx++
	}
	if len(filter.Statuses) > 0 {
		set := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			set[i] = string(st)
		}
		q += fmt.Sprintf(" AND status = ANY($%d)", idx)
		args = append(args, set)
		idx++
	}
	q += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list media buys: %w", err)
	}
	defer rows.Close()

	var out []models.MediaBuy
	for rows.Next() {
		var raw []byte
		var version int64
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, err
		}
		var b models.MediaBuy
		if err := scanDoc(raw, &b); err != nil {
			return nil, err
		}
		b.Version = version
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetMediaBuy(ctx context.Context, tenantID, mediaBuyID string) (*models.MediaBuy, error) {
	var raw []byte
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT doc, version FROM se_media_buys WHERE tenant_id = $1 AND media_buy_id = $2`,
		tenantID, mediaBuyID).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "media buy", Key: mediaBuyID}
	}
	if err != nil {
		return nil, err
	}
	var b models.MediaBuy
	if err := scanDoc(raw, &b); err != nil {
		return nil, err
	}
	b.Version = version
	return &b, nil
}

func (s *PostgresStore) GetMediaBuyByContext(ctx context.Context, tenantID, contextID string) (*models.MediaBuy, error) {
	if contextID == "" {
		return nil, &ErrNotFound{Entity: "media buy", Key: "context:"}
	}
	var raw []byte
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT doc, version FROM se_media_buys WHERE tenant_id = $1 AND context_id = $2`,
		tenantID, contextID).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "media buy", Key: "context:" + contextID}
	}
	if err != nil {
		return nil, err
	}
	var b models.MediaBuy
	if err := scanDoc(raw, &b); err != nil {
		return nil, err
	}
	b.Version = version
	return &b, nil
}

func (s *PostgresStore) CreateMediaBuy(ctx context.Context, buy *models.MediaBuy) error {
	if buy.Version == 0 {
		buy.Version = 1
	}
	doc, err := json.Marshal(buy)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO se_media_buys (tenant_id, media_buy_id, principal_id, context_id, status, version, doc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		buy.TenantID, buy.MediaBuyID, buy.PrincipalID, buy.ContextID,
		string(buy.Status), buy.Version, doc, buy.CreatedAt)
	return err
}

func (s *PostgresStore) UpdateMediaBuy(ctx context.Context, buy *models.MediaBuy) error {
	cur, err := s.GetMediaBuy(ctx, buy.TenantID, buy.MediaBuyID)
	if err != nil {
		return err
	}
	// Owning principal never changes.
	buy.PrincipalID = cur.PrincipalID
	buy.UpdatedAt = time.Now().UTC()

	next := buy.Version + 1
	cp := *buy
	cp.Version = next
	doc, err := json.Marshal(&cp)
	if err != nil {
		return err
	}

	// The WHERE version guard is what makes this optimistic: a stale
	// writer updates zero rows.
	tag, err := s.pool.Exec(ctx, `
		UPDATE se_media_buys
		SET status = $3, context_id = $4, version = $5, doc = $6
		WHERE tenant_id = $1 AND media_buy_id = $2 AND version = $7`,
		buy.TenantID, buy.MediaBuyID, string(buy.Status), buy.ContextID,
		next, doc, buy.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		stored, gerr := s.GetMediaBuy(ctx, buy.TenantID, buy.MediaBuyID)
		if gerr != nil {
			return gerr
		}
		return &ErrVersionConflict{Entity: "media buy", Key: buy.MediaBuyID, Version: stored.Version}
	}
	buy.Version = next
	return nil
}

// ── Contexts ────────────────────────────────────────────────

func (s *PostgresStore) GetContext(ctx context.Context, tenantID, contextID string) (*models.Context, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM se_contexts WHERE tenant_id = $1 AND context_id = $2`,
		tenantID, contextID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "context", Key: contextID}
	}
	if err != nil {
		return nil, err
	}
	var c models.Context
	if err := scanDoc(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateContext(ctx context.Context, c *models.Context) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO se_contexts (tenant_id, context_id, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, context_id) DO NOTHING`,
		c.TenantID, c.ContextID, doc)
	return err
}

func (s *PostgresStore) AppendConversation(ctx context.Context, tenantID, contextID string, entry models.ConversationEntry) error {
	c, err := s.GetContext(ctx, tenantID, contextID)
	if err != nil {
		return err
	}
	c.Conversation = append(c.Conversation, entry)
	c.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE se_contexts SET doc = $3 WHERE tenant_id = $1 AND context_id = $2`,
		tenantID, contextID, doc)
	return err
}

// ── Workflow Steps ──────────────────────────────────────────

func (s *PostgresStore) ListWorkflowSteps(ctx context.Context, tenantID string, filter StepFilter) ([]models.WorkflowStep, error) {
	q := `SELECT doc FROM se_workflow_steps WHERE tenant_id = $1`
	args := []any{tenantID}
	idx := 2
	if filter.Owner != "" {
		q += fmt.Sprintf(" AND owner = $%d", idx)
		args = append(args, string(filter.Owner))
		idx++
	}
	if filter.ToolName != "" {
		q += fmt.Sprintf(" AND tool_name = $%d", idx)
		args = append(args, filter.ToolName)
		idx++
	}
	if len(filter.Statuses) > 0 {
		set := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			set[i] = string(st)
		}
		q += fmt.Sprintf(" AND status = ANY($%d)", idx)
		args = append(args, set)
		idx++
	}
	q += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	defer rows.Close()

	var out []models.WorkflowStep
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var st models.WorkflowStep
		if err := scanDoc(raw, &st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetWorkflowStep(ctx context.Context, tenantID, stepID string) (*models.WorkflowStep, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM se_workflow_steps WHERE tenant_id = $1 AND step_id = $2`,
		tenantID, stepID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "workflow step", Key: stepID}
	}
	if err != nil {
		return nil, err
	}
	var st models.WorkflowStep
	if err := scanDoc(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) CreateWorkflowStep(ctx context.Context, step *models.WorkflowStep) error {
	doc, err := json.Marshal(step)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO se_workflow_steps (tenant_id, step_id, owner, status, tool_name, doc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		step.TenantID, step.StepID, string(step.Owner), string(step.Status),
		step.ToolName, doc, step.CreatedAt)
	return err
}

func (s *PostgresStore) UpdateWorkflowStep(ctx context.Context, step *models.WorkflowStep) error {
	cur, err := s.GetWorkflowStep(ctx, step.TenantID, step.StepID)
	if err != nil {
		return err
	}
	// tool_name and request_data are fixed at creation.
	step.ToolName = cur.ToolName
	step.RequestData = cur.RequestData
	step.UpdatedAt = time.Now().UTC()

	doc, err := json.Marshal(step)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE se_workflow_steps SET status = $3, doc = $4
		WHERE tenant_id = $1 AND step_id = $2`,
		step.TenantID, step.StepID, string(step.Status), doc)
	return err
}

func (s *PostgresStore) DeleteWorkflowStep(ctx context.Context, tenantID, stepID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM se_workflow_steps WHERE tenant_id = $1 AND step_id = $2`,
		tenantID, stepID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "workflow step", Key: stepID}
	}
	return nil
}

// ── Object Workflow Mappings ────────────────────────────────

func (s *PostgresStore) CreateObjectMapping(ctx context.Context, m *models.ObjectWorkflowMapping) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO se_object_mappings (mapping_id, object_type, object_id, doc, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.MappingID, m.ObjectType, m.ObjectID, doc, m.CreatedAt)
	return err
}

func (s *PostgresStore) ListObjectMappings(ctx context.Context, objectType, objectID string) ([]models.ObjectWorkflowMapping, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM se_object_mappings
		WHERE object_type = $1 AND object_id = $2
		ORDER BY created_at`,
		objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("list object mappings: %w", err)
	}
	defer rows.Close()

	var out []models.ObjectWorkflowMapping
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m models.ObjectWorkflowMapping
		if err := scanDoc(raw, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ── Creatives ───────────────────────────────────────────────

func (s *PostgresStore) ListCreatives(ctx context.Context, tenantID, principalID string) ([]models.Creative, error) {
	q := `SELECT doc FROM se_creatives WHERE tenant_id = $1`
	args := []any{tenantID}
	if principalID != "" {
		q += " AND principal_id = $2"
		args = append(args, principalID)
	}
	q += " ORDER BY creative_id"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list creatives: %w", err)
	}
	defer rows.Close()

	var out []models.Creative
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var c models.Creative
		if err := scanDoc(raw, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCreative(ctx context.Context, tenantID, creativeID string) (*models.Creative, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM se_creatives WHERE tenant_id = $1 AND creative_id = $2`,
		tenantID, creativeID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "creative", Key: creativeID}
	}
	if err != nil {
		return nil, err
	}
	var c models.Creative
	if err := scanDoc(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateCreative(ctx context.Context, creative *models.Creative) error {
	doc, err := json.Marshal(creative)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO se_creatives (tenant_id, creative_id, principal_id, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, creative_id) DO UPDATE SET doc = EXCLUDED.doc`,
		creative.TenantID, creative.CreativeID, creative.PrincipalID, doc)
	return err
}

func (s *PostgresStore) UpdateCreative(ctx context.Context, creative *models.Creative) error {
	creative.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(creative)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE se_creatives SET doc = $3 WHERE tenant_id = $1 AND creative_id = $2`,
		creative.TenantID, creative.CreativeID, doc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "creative", Key: creative.CreativeID}
	}
	return nil
}

func (s *PostgresStore) CreateCreativeAssignment(ctx context.Context, a *models.CreativeAssignment) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO se_creative_assignments (assignment_id, tenant_id, media_buy_id, doc)
		VALUES ($1, $2, $3, $4)`,
		a.AssignmentID, a.TenantID, a.MediaBuyID, doc)
	return err
}

func (s *PostgresStore) ListCreativeAssignments(ctx context.Context, tenantID, mediaBuyID string) ([]models.CreativeAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM se_creative_assignments
		WHERE tenant_id = $1 AND media_buy_id = $2`,
		tenantID, mediaBuyID)
	if err != nil {
		return nil, fmt.Errorf("list creative assignments: %w", err)
	}
	defer rows.Close()

	var out []models.CreativeAssignment
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a models.CreativeAssignment
		if err := scanDoc(raw, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ── Inventory ───────────────────────────────────────────────

func (s *PostgresStore) UpsertAdUnits(ctx context.Context, tenantID string, units []models.AdUnit) error {
	for _, u := range units {
		doc, err := json.Marshal(u)
		if err != nil {
			return err
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO se_ad_units (tenant_id, ad_unit_id, doc)
			VALUES ($1, $2, $3)
			ON CONFLICT (tenant_id, ad_unit_id) DO UPDATE SET doc = EXCLUDED.doc`,
			tenantID, u.AdUnitID, doc)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ListAdUnits(ctx context.Context, tenantID string) ([]models.AdUnit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM se_ad_units WHERE tenant_id = $1 ORDER BY ad_unit_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list ad units: %w", err)
	}
	defer rows.Close()

	var out []models.AdUnit
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var u models.AdUnit
		if err := scanDoc(raw, &u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertTargetingKeys(ctx context.Context, tenantID string, keys []models.TargetingKey) error {
	for _, k := range keys {
		doc, err := json.Marshal(k)
		if err != nil {
			return err
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO se_targeting_keys (tenant_id, key_id, doc)
			VALUES ($1, $2, $3)
			ON CONFLICT (tenant_id, key_id) DO UPDATE SET doc = EXCLUDED.doc`,
			tenantID, k.KeyID, doc)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ListTargetingKeys(ctx context.Context, tenantID string) ([]models.TargetingKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM se_targeting_keys WHERE tenant_id = $1 ORDER BY key_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list targeting keys: %w", err)
	}
	defer rows.Close()

	var out []models.TargetingKey
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var k models.TargetingKey
		if err := scanDoc(raw, &k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
