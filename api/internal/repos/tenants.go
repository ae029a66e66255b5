package repos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/api/internal/models"
)

// TenantsRepo resolves tenants by id or slug. Lookup misses surface as
// pgx.ErrNoRows so the tenant middleware can distinguish them from outages.
type TenantsRepo struct {
	pool *pgxpool.Pool
}

func NewTenantsRepo(pool *pgxpool.Pool) *TenantsRepo {
	return &TenantsRepo{pool: pool}
}

const tenantColumns = `tenant_id, slug, name, created_at`

func scanTenant(row pgx.Row) (models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.TenantID, &t.Slug, &t.Name, &t.CreatedAt)
	return t, err
}

func (r *TenantsRepo) CreateTenant(ctx context.Context, slug string, name string) (models.Tenant, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tenants (slug, name)
		VALUES ($1, $2)
		RETURNING `+tenantColumns,
		slug, name)
	return scanTenant(row)
}

func (r *TenantsRepo) GetTenantByID(ctx context.Context, tenantID uuid.UUID) (models.Tenant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE tenant_id = $1
	`, tenantID)
	return scanTenant(row)
}

func (r *TenantsRepo) GetTenantBySlug(ctx context.Context, slug string) (models.Tenant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE slug = $1
	`, slug)
	return scanTenant(row)
}
