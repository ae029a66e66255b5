package repos

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/shared/apperr"
)

type PredictionModelsRepo struct {
	pool *pgxpool.Pool
}

func NewPredictionModelsRepo(pool *pgxpool.Pool) *PredictionModelsRepo {
	return &PredictionModelsRepo{pool: pool}
}

const predictionModelColumns = `
	model_id, tenant_id, asset_type, name, params, stats, sample_count,
	accuracy, trained_at, created_at, updated_at`

func scanPredictionModel(row pgx.Row) (models.PredictionModel, error) {
	var m models.PredictionModel
	var params, stats []byte
	err := row.Scan(
		&m.ModelID, &m.TenantID, &m.AssetType, &m.Name, &params, &stats, &m.SampleCount,
		&m.Accuracy, &m.TrainedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return m, apperr.NotFound("prediction model")
		}
		return m, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &m.Params); err != nil {
			return m, err
		}
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &m.Stats); err != nil {
			return m, err
		}
	}
	return m, nil
}

// Upsert keeps one model per tenant and asset type.
func (r *PredictionModelsRepo) Upsert(ctx context.Context, m models.PredictionModel) (models.PredictionModel, error) {
	if m.ModelID == uuid.Nil {
		m.ModelID = uuid.New()
	}
	params, err := json.Marshal(m.Params)
	if err != nil {
		return models.PredictionModel{}, err
	}
	stats, err := json.Marshal(m.Stats)
	if err != nil {
		return models.PredictionModel{}, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO prediction_models (
			model_id, tenant_id, asset_type, name, params, stats, sample_count, accuracy, trained_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, asset_type) DO UPDATE SET
			name = EXCLUDED.name,
			params = EXCLUDED.params,
			stats = EXCLUDED.stats,
			sample_count = EXCLUDED.sample_count,
			accuracy = EXCLUDED.accuracy,
			trained_at = EXCLUDED.trained_at,
			updated_at = now()
		RETURNING`+predictionModelColumns,
		m.ModelID, m.TenantID, m.AssetType, m.Name, params, stats, m.SampleCount, m.Accuracy, m.TrainedAt,
	)
	return scanPredictionModel(row)
}

func (r *PredictionModelsRepo) GetByAssetType(ctx context.Context, tenantID uuid.UUID, assetType string) (models.PredictionModel, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+predictionModelColumns+`
		FROM prediction_models
		WHERE tenant_id = $1 AND asset_type = $2
	`, tenantID, assetType)
	return scanPredictionModel(row)
}

func (r *PredictionModelsRepo) List(ctx context.Context, tenantID uuid.UUID) ([]models.PredictionModel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+predictionModelColumns+`
		FROM prediction_models
		WHERE tenant_id = $1
		ORDER BY asset_type ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.PredictionModel, 0, 8)
	for rows.Next() {
		m, err := scanPredictionModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PredictionModelsRepo) RecordTraining(ctx context.Context, tenantID uuid.UUID, modelID uuid.UUID, params models.ModelParams, stats models.TrainedStats, sampleCount int, trainedAt time.Time) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE prediction_models
		SET params = $3, stats = $4, sample_count = $5, trained_at = $6, updated_at = now()
		WHERE tenant_id = $1 AND model_id = $2
	`, tenantID, modelID, paramsJSON, statsJSON, sampleCount, trainedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("prediction model")
	}
	return nil
}
