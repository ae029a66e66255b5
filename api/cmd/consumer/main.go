package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/repos"
	"predictive-maintenance-engine/shared/config"
	"predictive-maintenance-engine/shared/dbx"
	"predictive-maintenance-engine/shared/events"
	"predictive-maintenance-engine/shared/logx"
	"predictive-maintenance-engine/shared/metricsx"
	"predictive-maintenance-engine/shared/mqx"
	"predictive-maintenance-engine/shared/observability"
)

// The consumer fans every published domain topic into the notification log so
// operators get one chronological feed per tenant.
var consumedTopics = []string{
	events.TopicWorkOrders,
	events.TopicAnomalyAlerts,
	events.TopicCompliance,
	events.TopicPredictions,
}

func main() {
	cfg, problems := config.Load("notifications-consumer", 8081)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
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

	notificationsRepo := repos.NewNotificationsRepo(dbPool)

	readers := make([]*kafka.Reader, 0, len(consumedTopics))
	for _, topic := range consumedTopics {
		reader, err := mqx.NewConsumer(cfg, topic, cfg.KafkaGroupID)
		if err != nil {
			logger.Error(context.Background(), "kafka_init_failed", "kafka reader init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		readers = append(readers, reader)
	}
	defer func() {
		for _, reader := range readers {
			_ = reader.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info(ctx, "consumer_start", "notifications consumer started",
		slog.Any("topics", consumedTopics),
		slog.String("group", cfg.KafkaGroupID),
	)

	var wg sync.WaitGroup
	for i, topic := range consumedTopics {
		wg.Add(1)
		go func(reader *kafka.Reader, topic string) {
			defer wg.Done()
			consumeTopic(ctx, reader, topic, cfg.KafkaGroupID, notificationsRepo, logger)
		}(readers[i], topic)
	}
	wg.Wait()

	logger.Info(context.Background(), "consumer_stop", "notifications consumer stopped")
}

func consumeTopic(ctx context.Context, reader *kafka.Reader, topic string, groupID string, notifications *repos.NotificationsRepo, logger logx.Logger) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		spanCtx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
		)
		if err := recordNotification(spanCtx, notifications, topic, msg.Value); err != nil {
			span.End()
			logger.Error(ctx, "event_handle_failed", "failed to handle event",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			continue
		}
		span.End()
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, groupID, stats.Lag)
	}
}

// recordNotification lands the event in the notification log. The log key is
// the event id, so redeliveries after a commit failure are absorbed.
func recordNotification(ctx context.Context, notifications *repos.NotificationsRepo, topic string, payload []byte) error {
	var envelope events.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return err
	}
	if envelope.EventID == uuid.Nil || envelope.TenantID == uuid.Nil {
		return errors.New("missing event_id/tenant_id")
	}
	_, err := notifications.Insert(ctx, models.NotificationEntry{
		NotificationID: envelope.EventID,
		TenantID:       envelope.TenantID,
		Topic:          topic,
		EventType:      envelope.EventType,
		AggregateID:    envelope.AggregateID,
		Message:        notificationMessage(envelope),
		Payload:        envelope.Payload,
		OccurredAt:     envelope.OccurredAt,
	})
	return err
}

func notificationMessage(envelope events.Envelope) string {
	switch envelope.EventType {
	case events.EventWorkOrderGenerated:
		return "Work order generated for " + envelope.AggregateType + " " + envelope.AggregateID.String()
	case events.EventExecutionMissed:
		return "Maintenance execution " + envelope.AggregateID.String() + " missed its overdue threshold"
	case events.EventExecutionCompleted:
		return "Maintenance execution " + envelope.AggregateID.String() + " completed"
	case events.EventAnomalyDetected:
		return "Anomalous reading detected"
	case events.EventPredictionCreated:
		return "New failure prediction opened"
	default:
		return strings.ReplaceAll(envelope.EventType, "_", " ")
	}
}
