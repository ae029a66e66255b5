package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/api/internal/anomaly"
	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/prediction"
	"predictive-maintenance-engine/api/internal/repos"
	"predictive-maintenance-engine/api/internal/stats"
	"predictive-maintenance-engine/api/internal/trigger"
	"predictive-maintenance-engine/api/internal/workorder"
	"predictive-maintenance-engine/shared/apperr"
	"predictive-maintenance-engine/shared/cachex"
	woclient "predictive-maintenance-engine/shared/clients/workorder"
	"predictive-maintenance-engine/shared/config"
	"predictive-maintenance-engine/shared/dbx"
	"predictive-maintenance-engine/shared/events"
	"predictive-maintenance-engine/shared/logx"
	"predictive-maintenance-engine/shared/metricsx"
	"predictive-maintenance-engine/shared/observability"
)

const (
	taskSweepTime      = "sweep.time"
	taskSweepMeter     = "sweep.meter"
	taskSweepCondition = "sweep.condition"
	taskSweepOverdue   = "sweep.overdue"
	taskSweepAnalytics = "sweep.analytics"
	taskReadingsPrune  = "readings.prune"

	// Recent window sizes for the analytics sweep.
	trendLookbackDays    = 30
	workOrderLookback    = 90 * 24 * time.Hour
	anomalyTailReadings  = 20
	analyticsSeriesLimit = 200
)

type sweeper struct {
	cfg         config.Config
	logger      logx.Logger
	pool        *pgxpool.Pool
	schedules   *repos.SchedulesRepo
	executions  *repos.ExecutionsRepo
	readings    *repos.ReadingsRepo
	predictions *repos.PredictionsRepo
	assets      *repos.AssetsRepo
	outbox      *repos.OutboxRepo
	generator   *workorder.Generator
	detector    *anomaly.Detector
}

func main() {
	cfg, problems := config.Load("maintenance-sweeper", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	metricsx.Register()

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "redis init failed, falling back to process-local locks",
				slog.String("error", err.Error()),
			)
		}
	}
	if cache != nil {
		defer cache.Close()
	}

	schedulesRepo := repos.NewSchedulesRepo(dbPool)
	executionsRepo := repos.NewExecutionsRepo(dbPool)
	readingsRepo := repos.NewReadingsRepo(dbPool)
	predictionsRepo := repos.NewPredictionsRepo(dbPool)
	assetsRepo := repos.NewAssetsRepo(dbPool)
	outboxRepo := repos.NewOutboxRepo(dbPool)

	var creator workorder.WorkOrderCreator = workorder.LocalRefCreator{}
	if cfg.WorkOrderEnabled {
		client, err := woclient.New(cfg)
		if err != nil {
			logger.Error(context.Background(), "workorder_init_failed", "work order client init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		creator = workorder.ServiceCreator{Client: client}
	}
	var locker workorder.Locker = workorder.NewProcessLocker()
	if cache != nil {
		locker = workorder.RedisLocker{Redis: cache.Client()}
	}

	s := &sweeper{
		cfg:         cfg,
		logger:      logger,
		pool:        dbPool,
		schedules:   schedulesRepo,
		executions:  executionsRepo,
		readings:    readingsRepo,
		predictions: predictionsRepo,
		assets:      assetsRepo,
		outbox:      outboxRepo,
		generator: workorder.NewGenerator(
			schedulesRepo,
			executionsRepo,
			locker,
			creator,
			workorder.OutboxRecorder{Outbox: outboxRepo, DB: dbPool},
			logger,
			workorder.Config{
				MeterDedupWindow:     time.Duration(cfg.MeterDedupHours) * time.Hour,
				ConditionDedupWindow: time.Duration(cfg.ConditionDedupHours) * time.Hour,
			},
		),
		detector: anomaly.NewDetector(cfg.MinBaselinePoints, cfg.ZThreshold, cfg.IQRMultiplier),
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskSweepTime, s.sweepTime)
	mux.HandleFunc(taskSweepMeter, s.sweepMeter)
	mux.HandleFunc(taskSweepCondition, s.sweepCondition)
	mux.HandleFunc(taskSweepOverdue, s.sweepOverdue)
	mux.HandleFunc(taskSweepAnalytics, s.sweepAnalytics)
	mux.HandleFunc(taskReadingsPrune, s.pruneReadings)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	cadences := []struct {
		task string
		sec  int
	}{
		{taskSweepTime, cfg.TimeSweepSec},
		{taskSweepMeter, cfg.MeterSweepSec},
		{taskSweepCondition, cfg.ConditionSweepSec},
		{taskSweepOverdue, cfg.OverdueSweepSec},
		{taskSweepAnalytics, cfg.AnalyticsSweepSec},
		{taskReadingsPrune, 86400},
	}
	for _, c := range cadences {
		if _, err := scheduler.Register("@every "+strconv.Itoa(c.sec)+"s", asynq.NewTask(c.task, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
			logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("task", c.task),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "sweeper_start", "sweeper started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
			slog.Int("batch_size", cfg.SweepBatchSize),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "sweeper_failed", "sweeper failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "sweeper_stop", "sweeper stopped")
}

func (s *sweeper) sweepTime(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	defer func() { metricsx.ObserveSweep("time", time.Since(start)) }()

	now := time.Now().UTC()
	due, err := s.schedules.ListTimeDue(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	for _, schedule := range due {
		s.fireSchedule(ctx, "time", schedule, models.ReasonTimeDue, now)
	}
	return nil
}

func (s *sweeper) sweepMeter(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	defer func() { metricsx.ObserveSweep("meter", time.Since(start)) }()

	now := time.Now().UTC()
	candidates, err := s.schedules.ListMeterCandidates(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	for _, schedule := range candidates {
		s.fireSchedule(ctx, "meter", schedule, models.ReasonMeterTrigger, now)
	}
	return nil
}

func (s *sweeper) sweepCondition(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	defer func() { metricsx.ObserveSweep("condition", time.Since(start)) }()

	now := time.Now().UTC()
	candidates, err := s.schedules.ListConditionCandidates(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	for _, schedule := range candidates {
		s.fireSchedule(ctx, "condition", schedule, models.ReasonConditionTrigger, now)
	}
	return nil
}

// fireSchedule evaluates one schedule and generates work orders for the
// firings matching reason. Other trigger paths of a hybrid schedule belong to
// their own sweeps. Failures are isolated per schedule so one bad row cannot
// stall the batch.
func (s *sweeper) fireSchedule(ctx context.Context, sweep string, schedule models.Schedule, reason string, now time.Time) {
	latest, err := s.readings.Latest(ctx, schedule.TenantID, schedule.AssetID)
	if err != nil {
		s.logSweepError(ctx, sweep, schedule.ScheduleID, err)
		metricsx.IncSweepItem(sweep, "error")
		return
	}
	decision, err := trigger.Evaluate(schedule, now, latest)
	if err != nil {
		s.logSweepError(ctx, sweep, schedule.ScheduleID, err)
		metricsx.IncSweepItem(sweep, "error")
		return
	}
	fired := false
	for _, firing := range decision.Firings {
		if firing.Reason != reason {
			continue
		}
		fired = true
		if _, err := s.generator.Generate(ctx, schedule, firing, now); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				metricsx.IncDedupConflict(firing.Reason)
				metricsx.IncSweepItem(sweep, "conflict")
				continue
			}
			s.logSweepError(ctx, sweep, schedule.ScheduleID, err)
			metricsx.IncSweepItem(sweep, "error")
			continue
		}
		metricsx.IncWorkOrderGenerated(firing.Reason)
		metricsx.IncSweepItem(sweep, "fired")
	}
	if !fired {
		metricsx.IncSweepItem(sweep, "skipped")
	}
}

func (s *sweeper) sweepOverdue(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	defer func() { metricsx.ObserveSweep("overdue", time.Since(start)) }()

	now := time.Now().UTC()
	marked, err := s.executions.MarkOverdue(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	for _, record := range marked {
		if record.ScheduleID != nil {
			if err := s.schedules.BumpMissed(ctx, record.TenantID, *record.ScheduleID); err != nil {
				s.logger.Warn(ctx, "bump_missed_failed", "failed to bump missed count",
					slog.String("schedule_id", record.ScheduleID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
		s.recordEvent(ctx, record.TenantID, events.TopicCompliance, "execution", record.ExecutionID, events.EventExecutionMissed, record)
		metricsx.IncSweepItem("overdue", "marked")
	}
	if len(marked) > 0 {
		s.logger.Info(ctx, "executions_overdue", "marked executions missed",
			slog.Int("count", len(marked)),
		)
	}
	return nil
}

// sweepAnalytics scores every asset for failure risk and opens a prediction
// when the risk is at least medium and no failure prediction is already open.
func (s *sweeper) sweepAnalytics(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	defer func() { metricsx.ObserveSweep("analytics", time.Since(start)) }()

	now := time.Now().UTC()
	offset := 0
	for {
		assets, err := s.assets.ListAll(ctx, s.cfg.SweepBatchSize, offset)
		if err != nil {
			return err
		}
		if len(assets) == 0 {
			return nil
		}
		for _, asset := range assets {
			if err := s.scoreAsset(ctx, asset, now); err != nil {
				s.logger.Error(ctx, "asset_score_failed", "failed to score asset",
					slog.String("error_code", apperr.Code(err)),
					slog.String("asset_id", asset.AssetID.String()),
					slog.String("error", err.Error()),
				)
				metricsx.IncSweepItem("analytics", "error")
			}
		}
		offset += len(assets)
	}
}

func (s *sweeper) scoreAsset(ctx context.Context, asset models.Asset, now time.Time) error {
	open, err := s.predictions.HasOpenOfKind(ctx, asset.TenantID, asset.AssetID, models.PredictionKindFailure)
	if err != nil {
		return err
	}
	if open {
		metricsx.IncSweepItem("analytics", "skipped")
		return nil
	}

	totalReadings, err := s.readings.CountByAsset(ctx, asset.TenantID, asset.AssetID)
	if err != nil {
		return err
	}
	series, err := s.longestSeries(ctx, asset, now)
	if err != nil {
		return err
	}

	inputs := prediction.FailureInputs{
		AnomalyRate:   s.detector.ReplayRate(series, anomalyTailReadings),
		Criticality:   asset.Criticality,
		TotalReadings: totalReadings,
	}
	if state, err := stats.DoubleExponential(series, stats.DefaultSmoothingAlpha, stats.DefaultSmoothingBeta); err == nil {
		inputs.TrendDirection = state.Direction(stats.DefaultTrendThreshold)
		inputs.TrendPoints = len(series)
	}

	lastCompleted, err := s.executions.LastCompletedAt(ctx, asset.TenantID, asset.AssetID)
	if err != nil {
		return err
	}
	switch {
	case lastCompleted != nil:
		inputs.DaysSinceMaintenance = now.Sub(*lastCompleted).Hours() / 24
	case asset.InstalledAt != nil:
		inputs.DaysSinceMaintenance = now.Sub(*asset.InstalledAt).Hours() / 24
	}
	inputs.RecentWorkOrders, err = s.executions.CountRecentByAsset(ctx, asset.TenantID, asset.AssetID, now.Add(-workOrderLookback))
	if err != nil {
		return err
	}

	score := prediction.ScoreFailure(inputs)
	if score.RiskTier == models.RiskTierLow {
		metricsx.IncSweepItem("analytics", "below_threshold")
		return nil
	}

	created, err := s.predictions.Insert(ctx, models.Prediction{
		TenantID:          asset.TenantID,
		AssetID:           asset.AssetID,
		Kind:              models.PredictionKindFailure,
		Narrative:         prediction.FailureNarrative(asset.Name, asset.Code, score),
		Probability:       score.Probability,
		Confidence:        score.Confidence,
		RiskTier:          score.RiskTier,
		Factors:           score.Factors,
		RecommendedAction: prediction.RecommendedAction(score.RiskTier),
		CostEstimate:      asset.ReplacementCost * score.Probability / 100,
	})
	if err != nil {
		return err
	}
	metricsx.IncPredictionCreated(models.PredictionKindFailure, score.RiskTier)
	metricsx.IncSweepItem("analytics", "created")
	s.recordEvent(ctx, asset.TenantID, events.TopicPredictions, "prediction", created.PredictionID, events.EventPredictionCreated, created)
	s.logger.Info(ctx, "prediction_created", "failure prediction created",
		slog.String("tenant_id", asset.TenantID.String()),
		slog.String("asset_id", asset.AssetID.String()),
		slog.String("risk_tier", score.RiskTier),
		slog.Float64("probability", score.Probability),
	)
	return nil
}

// longestSeries returns the values of the asset's most sampled reading kind,
// oldest first. The trend and anomaly-rate inputs both read it.
func (s *sweeper) longestSeries(ctx context.Context, asset models.Asset, now time.Time) ([]float64, error) {
	latest, err := s.readings.Latest(ctx, asset.TenantID, asset.AssetID)
	if err != nil {
		return nil, err
	}
	since := now.AddDate(0, 0, -trendLookbackDays)
	var longest []float64
	for kind := range latest {
		series, err := s.readings.Series(ctx, asset.TenantID, asset.AssetID, kind, since, analyticsSeriesLimit)
		if err != nil {
			return nil, err
		}
		if len(series) <= len(longest) {
			continue
		}
		values := make([]float64, len(series))
		for i, reading := range series {
			values[i] = reading.Value
		}
		longest = values
	}
	return longest, nil
}

func (s *sweeper) pruneReadings(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	defer func() { metricsx.ObserveSweep("prune", time.Since(start)) }()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.ReadingRetentionDays)
	pruned, err := s.readings.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if pruned > 0 {
		s.logger.Info(ctx, "readings_pruned", "pruned old readings",
			slog.Int64("count", pruned),
			slog.String("cutoff", cutoff.Format(time.RFC3339)),
		)
	}
	return nil
}

func (s *sweeper) recordEvent(ctx context.Context, tenantID uuid.UUID, topic string, aggregateType string, aggregateID uuid.UUID, eventType string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	envelope := events.Envelope{
		EventID:       uuid.New(),
		TenantID:      tenantID,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}
	envelopeJSON, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	if _, err := s.outbox.Insert(ctx, s.pool, models.OutboxEvent{
		EventID:       envelope.EventID,
		TenantID:      tenantID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Topic:         topic,
		Payload:       envelopeJSON,
	}); err != nil {
		s.logger.Warn(ctx, "event_record_failed", "failed to record outbox event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}

func (s *sweeper) logSweepError(ctx context.Context, sweep string, scheduleID uuid.UUID, err error) {
	s.logger.Error(ctx, "sweep_item_failed", "failed to process schedule",
		slog.String("error_code", apperr.Code(err)),
		slog.String("sweep", sweep),
		slog.String("schedule_id", scheduleID.String()),
		slog.String("error", err.Error()),
	)
}

