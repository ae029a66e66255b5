// The outbox worker relays committed domain events from the outbox table to
// kafka. A periodic scan claims ripe rows and fans them out as dispatch tasks
// so deliveries retry independently.
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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"predictive-maintenance-engine/api/internal/repos"
	"predictive-maintenance-engine/shared/config"
	"predictive-maintenance-engine/shared/dbx"
	"predictive-maintenance-engine/shared/logx"
	"predictive-maintenance-engine/shared/metricsx"
	"predictive-maintenance-engine/shared/mqx"
	"predictive-maintenance-engine/shared/observability"
)

const (
	taskOutboxScan     = "outbox.scan"
	taskOutboxDispatch = "outbox.dispatch"

	queueDepthInterval = 10 * time.Second
)

type dispatchPayload struct {
	EventID string `json:"event_id"`
}

// relay owns the scan and dispatch handlers.
type relay struct {
	cfg      config.Config
	logger   logx.Logger
	outbox   *repos.OutboxRepo
	producer *mqx.Producer
	tasks    *asynq.Client
}

func main() {
	cfg, problems := config.Load("outbox-worker", 8083)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	for field, ok := range map[string]bool{
		"DATABASE_URL":     cfg.DatabaseURL != "",
		"ASYNQ_REDIS_ADDR": cfg.AsynqRedisAddr != "",
		"KAFKA_BROKERS":    len(cfg.KafkaBrokers) > 0,
	} {
		if !ok {
			problems = append(problems, config.Problem{Field: field, Message: field + " is required"})
		}
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

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	tasks := asynq.NewClient(redisOpt)
	defer tasks.Close()

	r := &relay{
		cfg:      cfg,
		logger:   logger,
		outbox:   repos.NewOutboxRepo(dbPool),
		producer: producer,
		tasks:    tasks,
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues:      map[string]int{cfg.AsynqQueue: 1},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskOutboxScan, r.handleScan)
	mux.HandleFunc(taskOutboxDispatch, r.handleDispatch)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	defer scheduler.Shutdown()
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.OutboxScanSec)+"s", asynq.NewTask(taskOutboxScan, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	go reportQueueDepth(inspector, cfg.AsynqQueue)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "outbox worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
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
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "worker_stop", "outbox worker stopped")
}

// handleScan claims a batch of pending events and enqueues one dispatch task
// per event. Enqueue failures put the row back on the retry schedule.
func (r *relay) handleScan(ctx context.Context, _ *asynq.Task) error {
	events, err := r.outbox.ClaimPending(ctx, r.cfg.ServiceName, r.cfg.OutboxBatchSize)
	if err != nil {
		return err
	}
	for _, event := range events {
		payload, _ := json.Marshal(dispatchPayload{EventID: event.EventID.String()})
		task := asynq.NewTask(taskOutboxDispatch, payload, asynq.Queue(r.cfg.AsynqQueue))
		if _, err := r.tasks.Enqueue(task); err != nil {
			r.logger.Error(ctx, "enqueue_failed", "failed to enqueue outbox dispatch",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			r.recordFailure(ctx, event.EventID, event.Attempts+1, err)
		}
	}
	return nil
}

// handleDispatch publishes one event to kafka. Re-dispatch of an already
// delivered or dead event is a no-op so duplicate tasks are harmless.
func (r *relay) handleDispatch(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("asynq").Start(ctx, "outbox.dispatch")
	span.SetAttributes(attribute.String("queue", r.cfg.AsynqQueue))
	defer span.End()

	var payload dispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	eventID, err := uuid.Parse(strings.TrimSpace(payload.EventID))
	if err != nil {
		return err
	}

	event, err := r.outbox.GetByID(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Status == repos.OutboxStatusDelivered || event.Status == repos.OutboxStatusDead {
		return nil
	}

	headers := map[string]string{
		"event_id":       event.EventID.String(),
		"tenant_id":      event.TenantID.String(),
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"published_at":   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := r.producer.Publish(ctx, event.Topic, []byte(event.AggregateID.String()), event.Payload, headers); err != nil {
		attempts := event.Attempts + 1
		dead := r.recordFailure(ctx, event.EventID, attempts, err)
		if dead {
			r.logger.Warn(ctx, "outbox_dead", "outbox event moved to dead-letter",
				slog.String("event_id", event.EventID.String()),
				slog.String("topic", event.Topic),
				slog.Int("attempts", attempts),
			)
			return nil
		}
		return err
	}
	return r.outbox.MarkDelivered(ctx, event.EventID)
}

// recordFailure books a failed attempt and reports whether the event is dead.
func (r *relay) recordFailure(ctx context.Context, eventID uuid.UUID, attempts int, cause error) bool {
	nextRetry := time.Now().UTC().Add(retryDelay(attempts))
	dead := attempts >= r.cfg.OutboxMaxAttempts
	_ = r.outbox.MarkFailed(ctx, eventID, attempts, &nextRetry, cause.Error(), dead)
	return dead
}

func reportQueueDepth(inspector *asynq.Inspector, queue string) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()
	for range ticker.C {
		info, err := inspector.GetQueueInfo(queue)
		if err != nil {
			continue
		}
		metricsx.SetAsynqQueueDepth(queue, info.Size)
	}
}

// retryDelay backs off quadratically, capped at five minutes.
func retryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 5 * time.Second
	}
	delay := time.Duration(attempt*attempt) * 5 * time.Second
	if delay > 5*time.Minute {
		return 5 * time.Minute
	}
	return delay
}
