package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/api/internal/models"
)

type ReadingsRepo struct {
	pool *pgxpool.Pool
}

func NewReadingsRepo(pool *pgxpool.Pool) *ReadingsRepo {
	return &ReadingsRepo{pool: pool}
}

const readingColumns = `
	reading_id, tenant_id, asset_id, reading_type, kind, value, unit, recorded_at, created_at`

func scanReading(row pgx.Row) (models.Reading, error) {
	var rd models.Reading
	err := row.Scan(
		&rd.ReadingID, &rd.TenantID, &rd.AssetID, &rd.ReadingType, &rd.Kind,
		&rd.Value, &rd.Unit, &rd.RecordedAt, &rd.CreatedAt,
	)
	return rd, err
}

func (r *ReadingsRepo) Insert(ctx context.Context, rd models.Reading) (models.Reading, error) {
	if rd.ReadingID == uuid.Nil {
		rd.ReadingID = uuid.New()
	}
	if rd.RecordedAt.IsZero() {
		rd.RecordedAt = time.Now().UTC()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO asset_readings (
			reading_id, tenant_id, asset_id, reading_type, kind, value, unit, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING`+readingColumns,
		rd.ReadingID, rd.TenantID, rd.AssetID, rd.ReadingType, rd.Kind, rd.Value, rd.Unit, rd.RecordedAt,
	)
	return scanReading(row)
}

func (r *ReadingsRepo) InsertBatch(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range readings {
		rd := readings[i]
		if rd.ReadingID == uuid.Nil {
			rd.ReadingID = uuid.New()
		}
		if rd.RecordedAt.IsZero() {
			rd.RecordedAt = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO asset_readings (
				reading_id, tenant_id, asset_id, reading_type, kind, value, unit, recorded_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, rd.ReadingID, rd.TenantID, rd.AssetID, rd.ReadingType, rd.Kind, rd.Value, rd.Unit, rd.RecordedAt)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range readings {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Latest returns the most recent reading per kind for an asset, the input map
// of the trigger evaluator.
func (r *ReadingsRepo) Latest(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID) (map[string]float64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (kind) kind, value
		FROM asset_readings
		WHERE tenant_id = $1 AND asset_id = $2
		ORDER BY kind, recorded_at DESC
	`, tenantID, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	latest := make(map[string]float64)
	for rows.Next() {
		var kind string
		var value float64
		if err := rows.Scan(&kind, &value); err != nil {
			return nil, err
		}
		latest[kind] = value
	}
	return latest, rows.Err()
}

// Baseline returns the values of the most recent window readings of one kind.
// Callers pass the candidate reading separately; it is not stored yet when the
// detector runs.
func (r *ReadingsRepo) Baseline(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID, kind string, window int) ([]float64, error) {
	if window <= 0 {
		window = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT value
		FROM asset_readings
		WHERE tenant_id = $1 AND asset_id = $2 AND kind = $3
		ORDER BY recorded_at DESC
		LIMIT $4
	`, tenantID, assetID, kind, window)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]float64, 0, window)
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Series returns readings of one kind in ascending time order for trend
// analysis.
func (r *ReadingsRepo) Series(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID, kind string, since time.Time, limit int) ([]models.Reading, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+readingColumns+`
		FROM asset_readings
		WHERE tenant_id = $1 AND asset_id = $2 AND kind = $3 AND recorded_at >= $4
		ORDER BY recorded_at ASC
		LIMIT $5
	`, tenantID, assetID, kind, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Reading, 0, 64)
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

func (r *ReadingsRepo) CountByAsset(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM asset_readings WHERE tenant_id = $1 AND asset_id = $2
	`, tenantID, assetID).Scan(&n)
	return n, err
}

// PruneOlderThan drops readings past the retention horizon. Long-term series
// live in the time-series store.
func (r *ReadingsRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM asset_readings WHERE recorded_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
