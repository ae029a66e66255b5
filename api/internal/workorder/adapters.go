package workorder

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/repos"
	"predictive-maintenance-engine/shared/apperr"
	woclient "predictive-maintenance-engine/shared/clients/workorder"
	"predictive-maintenance-engine/shared/events"
	"predictive-maintenance-engine/shared/lockx"
)

// RedisLocker backs the generator's per-schedule lock with Redis SETNX.
type RedisLocker struct {
	Redis *redis.Client
}

func (l RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	lock, ok, err := lockx.Acquire(ctx, l.Redis, key, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	release := func(ctx context.Context) {
		_ = lockx.Release(ctx, l.Redis, lock)
	}
	return release, true, nil
}

// ProcessLocker is the single-instance fallback when Redis is not configured.
// It only excludes goroutines inside this process.
type ProcessLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewProcessLocker() *ProcessLocker {
	return &ProcessLocker{held: make(map[string]struct{})}
}

func (l *ProcessLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	release := func(context.Context) {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}
	return release, true, nil
}

// OutboxRecorder persists domain events through the transactional outbox; the
// worker ships them to Kafka later.
type OutboxRecorder struct {
	Outbox *repos.OutboxRepo
	DB     repos.DBTX
}

func (r OutboxRecorder) Record(ctx context.Context, tenantID uuid.UUID, topic string, envelope events.Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	_, err = r.Outbox.Insert(ctx, r.DB, models.OutboxEvent{
		EventID:       envelope.EventID,
		TenantID:      tenantID,
		AggregateType: envelope.AggregateType,
		AggregateID:   envelope.AggregateID,
		Topic:         topic,
		Payload:       payload,
	})
	return err
}

// ServiceCreator pushes work orders into the external work order service.
type ServiceCreator struct {
	Client *woclient.Client
}

func (c ServiceCreator) Create(ctx context.Context, req CreateRequest) (string, error) {
	resp, err := c.Client.CreateWorkOrder(ctx, woclient.CreateWorkOrderRequest{
		TenantID:    req.TenantID.String(),
		AssetID:     req.AssetID.String(),
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		DueAt:       req.DueAt.UTC().Format(time.RFC3339),
		Checklist:   req.Checklist,
		AssigneeID:  req.AssigneeID,
		Source:      req.Source,
	})
	if err != nil {
		return "", apperr.Unavailable("workorder service", err)
	}
	return resp.WorkOrderRef, nil
}

// LocalRefCreator mints a local reference when no external work order service
// is configured. The execution record is still the source of truth.
type LocalRefCreator struct{}

func (LocalRefCreator) Create(_ context.Context, _ CreateRequest) (string, error) {
	return "WO-" + strings.ToUpper(uuid.NewString()[:8]), nil
}
