package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/shared/apperr"
)

// AssetsRepo mirrors the external asset directory. Rows are written only by
// the sync path, never by request handlers.
type AssetsRepo struct {
	pool *pgxpool.Pool
}

func NewAssetsRepo(pool *pgxpool.Pool) *AssetsRepo {
	return &AssetsRepo{pool: pool}
}

const assetColumns = `
	asset_id, tenant_id, code, name, asset_type, criticality, installed_at,
	replacement_cost, current_meter, updated_at`

func scanAsset(row pgx.Row) (models.Asset, error) {
	var a models.Asset
	err := row.Scan(
		&a.AssetID, &a.TenantID, &a.Code, &a.Name, &a.AssetType, &a.Criticality,
		&a.InstalledAt, &a.ReplacementCost, &a.CurrentMeter, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, apperr.NotFound("asset")
	}
	return a, err
}

func (r *AssetsRepo) Upsert(ctx context.Context, a models.Asset) (models.Asset, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO assets (
			asset_id, tenant_id, code, name, asset_type, criticality, installed_at, replacement_cost, current_meter
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, asset_id) DO UPDATE SET
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			asset_type = EXCLUDED.asset_type,
			criticality = EXCLUDED.criticality,
			installed_at = EXCLUDED.installed_at,
			replacement_cost = EXCLUDED.replacement_cost,
			current_meter = EXCLUDED.current_meter,
			updated_at = now()
		RETURNING`+assetColumns,
		a.AssetID, a.TenantID, a.Code, a.Name, a.AssetType, a.Criticality, a.InstalledAt, a.ReplacementCost, a.CurrentMeter,
	)
	return scanAsset(row)
}

func (r *AssetsRepo) Get(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID) (models.Asset, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+assetColumns+`
		FROM assets
		WHERE tenant_id = $1 AND asset_id = $2
	`, tenantID, assetID)
	return scanAsset(row)
}

func (r *AssetsRepo) List(ctx context.Context, tenantID uuid.UUID, assetType string, limit int, offset int) ([]models.Asset, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+assetColumns+`
		FROM assets
		WHERE tenant_id = $1 AND ($2 = '' OR asset_type = $2)
		ORDER BY code ASC
		LIMIT $3 OFFSET $4
	`, tenantID, assetType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Asset, 0, 16)
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAll pages assets across tenants. The analytics sweep walks every asset
// regardless of tenant.
func (r *AssetsRepo) ListAll(ctx context.Context, limit int, offset int) ([]models.Asset, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+assetColumns+`
		FROM assets
		ORDER BY tenant_id, asset_id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Asset, 0, 16)
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateMeter bumps the cached meter from an ingested meter reading.
func (r *AssetsRepo) UpdateMeter(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID, value float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE assets
		SET current_meter = GREATEST(current_meter, $3), updated_at = now()
		WHERE tenant_id = $1 AND asset_id = $2
	`, tenantID, assetID, value)
	return err
}
