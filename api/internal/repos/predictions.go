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
	"predictive-maintenance-engine/api/internal/workflow"
	"predictive-maintenance-engine/shared/apperr"
)

type PredictionsRepo struct {
	pool *pgxpool.Pool
}

func NewPredictionsRepo(pool *pgxpool.Pool) *PredictionsRepo {
	return &PredictionsRepo{pool: pool}
}

const predictionColumns = `
	prediction_id, tenant_id, asset_id, kind, narrative, probability,
	confidence, risk_tier, status, factors, recommended_action, cost_estimate,
	acknowledged_by, acknowledged_at, resolved_by, resolved_at, work_order_ref,
	created_at, updated_at`

func scanPrediction(row pgx.Row) (models.Prediction, error) {
	var p models.Prediction
	var factors []byte
	err := row.Scan(
		&p.PredictionID, &p.TenantID, &p.AssetID, &p.Kind, &p.Narrative, &p.Probability,
		&p.Confidence, &p.RiskTier, &p.Status, &factors, &p.RecommendedAction, &p.CostEstimate,
		&p.AcknowledgedBy, &p.AcknowledgedAt, &p.ResolvedBy, &p.ResolvedAt, &p.WorkOrderRef,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, apperr.NotFound("prediction")
		}
		return p, err
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &p.Factors); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (r *PredictionsRepo) Insert(ctx context.Context, p models.Prediction) (models.Prediction, error) {
	if p.PredictionID == uuid.Nil {
		p.PredictionID = uuid.New()
	}
	if p.Status == "" {
		p.Status = workflow.PredictionStatusNew
	}
	factors, err := json.Marshal(p.Factors)
	if err != nil {
		return models.Prediction{}, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO predictions (
			prediction_id, tenant_id, asset_id, kind, narrative, probability,
			confidence, risk_tier, status, factors, recommended_action, cost_estimate
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING`+predictionColumns,
		p.PredictionID, p.TenantID, p.AssetID, p.Kind, p.Narrative, p.Probability,
		p.Confidence, p.RiskTier, p.Status, factors, p.RecommendedAction, p.CostEstimate,
	)
	return scanPrediction(row)
}

func (r *PredictionsRepo) Get(ctx context.Context, tenantID uuid.UUID, predictionID uuid.UUID) (models.Prediction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+predictionColumns+`
		FROM predictions
		WHERE tenant_id = $1 AND prediction_id = $2
	`, tenantID, predictionID)
	return scanPrediction(row)
}

// Transition moves a prediction between lifecycle statuses. The WHERE clause
// pins the expected source status so concurrent transitions lose cleanly.
func (r *PredictionsRepo) Transition(ctx context.Context, tenantID uuid.UUID, predictionID uuid.UUID, fromStatus string, toStatus string, actor *uuid.UUID, now time.Time) (models.Prediction, error) {
	var ackBy, resolvedBy *uuid.UUID
	var ackAt, resolvedAt *time.Time
	switch toStatus {
	case workflow.PredictionStatusAcknowledged:
		ackBy, ackAt = actor, &now
	case workflow.PredictionStatusResolved, workflow.PredictionStatusDismissed, workflow.PredictionStatusFalsePositive:
		resolvedBy, resolvedAt = actor, &now
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE predictions
		SET status = $4,
		    acknowledged_by = COALESCE($5, acknowledged_by),
		    acknowledged_at = COALESCE($6, acknowledged_at),
		    resolved_by = COALESCE($7, resolved_by),
		    resolved_at = COALESCE($8, resolved_at),
		    updated_at = now()
		WHERE tenant_id = $1 AND prediction_id = $2 AND status = $3
		RETURNING`+predictionColumns,
		tenantID, predictionID, fromStatus, toStatus, ackBy, ackAt, resolvedBy, resolvedAt,
	)
	p, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			if _, getErr := r.Get(ctx, tenantID, predictionID); getErr == nil {
				return models.Prediction{}, apperr.Conflict("prediction status changed concurrently")
			}
			return models.Prediction{}, apperr.NotFound("prediction")
		}
		return models.Prediction{}, err
	}
	return p, nil
}

func (r *PredictionsRepo) AttachWorkOrder(ctx context.Context, tenantID uuid.UUID, predictionID uuid.UUID, workOrderRef string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE predictions
		SET work_order_ref = $3, updated_at = now()
		WHERE tenant_id = $1 AND prediction_id = $2
	`, tenantID, predictionID, workOrderRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("prediction")
	}
	return nil
}

func (r *PredictionsRepo) List(ctx context.Context, tenantID uuid.UUID, status string, riskTier string, limit int, offset int) ([]models.Prediction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+predictionColumns+`
		FROM predictions
		WHERE tenant_id = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR risk_tier = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, tenantID, status, riskTier, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectPredictions(rows)
}

func (r *PredictionsRepo) ListOpenByAsset(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID) ([]models.Prediction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+predictionColumns+`
		FROM predictions
		WHERE tenant_id = $1 AND asset_id = $2 AND status IN ($3, $4, $5)
		ORDER BY created_at DESC
	`, tenantID, assetID,
		workflow.PredictionStatusNew, workflow.PredictionStatusAcknowledged, workflow.PredictionStatusWorkOrderCreated)
	if err != nil {
		return nil, err
	}
	return collectPredictions(rows)
}

// HasOpenOfKind suppresses duplicate predictions for the same asset and kind.
func (r *PredictionsRepo) HasOpenOfKind(ctx context.Context, tenantID uuid.UUID, assetID uuid.UUID, kind string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM predictions
			WHERE tenant_id = $1 AND asset_id = $2 AND kind = $3 AND status IN ($4, $5, $6)
		)
	`, tenantID, assetID, kind,
		workflow.PredictionStatusNew, workflow.PredictionStatusAcknowledged, workflow.PredictionStatusWorkOrderCreated).Scan(&exists)
	return exists, err
}

// DashboardCounts aggregates open predictions by risk tier, plus the rollups
// the dashboard header shows: anomalies flagged in the last day, the summed
// cost estimate of open predictions and the mean trained-model accuracy.
type DashboardCounts struct {
	Open             int            `json:"open"`
	ByRiskTier       map[string]int `json:"by_risk_tier"`
	ByStatus         map[string]int `json:"by_status"`
	AvgConfidence    float64        `json:"avg_confidence"`
	Anomalies24h     int            `json:"anomalies_24h"`
	PotentialSavings float64        `json:"potential_savings"`
	ModelAccuracy    float64        `json:"model_accuracy"`
}

func (r *PredictionsRepo) Dashboard(ctx context.Context, tenantID uuid.UUID) (DashboardCounts, error) {
	counts := DashboardCounts{ByRiskTier: map[string]int{}, ByStatus: map[string]int{}}
	rows, err := r.pool.Query(ctx, `
		SELECT status, risk_tier, count(*), avg(confidence)
		FROM predictions
		WHERE tenant_id = $1
		GROUP BY status, risk_tier
	`, tenantID)
	if err != nil {
		return counts, err
	}
	defer rows.Close()

	totalConfidence := 0.0
	total := 0
	for rows.Next() {
		var status, tier string
		var n int
		var avgConfidence float64
		if err := rows.Scan(&status, &tier, &n, &avgConfidence); err != nil {
			return counts, err
		}
		counts.ByStatus[status] += n
		if workflow.IsOpen(status) {
			counts.Open += n
			counts.ByRiskTier[tier] += n
		}
		totalConfidence += avgConfidence * float64(n)
		total += n
	}
	if total > 0 {
		counts.AvgConfidence = totalConfidence / float64(total)
	}
	if err := rows.Err(); err != nil {
		return counts, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE kind = $2 AND created_at >= now() - interval '24 hours'),
			COALESCE(sum(cost_estimate) FILTER (WHERE status IN ($3, $4, $5)), 0)
		FROM predictions
		WHERE tenant_id = $1
	`, tenantID, models.PredictionKindAnomaly,
		workflow.PredictionStatusNew, workflow.PredictionStatusAcknowledged, workflow.PredictionStatusWorkOrderCreated,
	).Scan(&counts.Anomalies24h, &counts.PotentialSavings)
	if err != nil {
		return counts, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(avg(accuracy), 0)
		FROM prediction_models
		WHERE tenant_id = $1 AND accuracy IS NOT NULL
	`, tenantID).Scan(&counts.ModelAccuracy)
	return counts, err
}

func collectPredictions(rows pgx.Rows) ([]models.Prediction, error) {
	defer rows.Close()
	out := make([]models.Prediction, 0, 16)
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
