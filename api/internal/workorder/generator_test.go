package workorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"predictive-maintenance-engine/api/internal/models"
	"predictive-maintenance-engine/api/internal/trigger"
	"predictive-maintenance-engine/shared/apperr"
	"predictive-maintenance-engine/shared/events"
	"predictive-maintenance-engine/shared/logx"
)

type fakeScheduleStore struct {
	nextDueAt    time.Time
	lastReading  float64
	nextMeterDue float64
}

func (f *fakeScheduleStore) AdvanceTimeDue(_ context.Context, _ uuid.UUID, _ uuid.UUID, nextDueAt time.Time) error {
	f.nextDueAt = nextDueAt
	return nil
}

func (f *fakeScheduleStore) AdvanceMeterDue(_ context.Context, _ uuid.UUID, _ uuid.UUID, lastReading float64, nextMeterDue float64) error {
	f.lastReading = lastReading
	f.nextMeterDue = nextMeterDue
	return nil
}

type fakeExecutionStore struct {
	inserted []models.ExecutionRecord
	recent   map[string]bool
}

func (f *fakeExecutionStore) Insert(_ context.Context, record models.ExecutionRecord) (models.ExecutionRecord, error) {
	record.ExecutionID = uuid.New()
	f.inserted = append(f.inserted, record)
	return record, nil
}

func (f *fakeExecutionStore) HasRecentByReason(_ context.Context, _ uuid.UUID, _ uuid.UUID, reason string, _ time.Time) (bool, error) {
	return f.recent[reason], nil
}

type fakeLocker struct {
	busy     bool
	acquired int
	released int
}

func (f *fakeLocker) Acquire(_ context.Context, _ string, _ time.Duration) (func(context.Context), bool, error) {
	if f.busy {
		return nil, false, nil
	}
	f.acquired++
	return func(context.Context) { f.released++ }, true, nil
}

type fakeCreator struct {
	requests []CreateRequest
	fail     error
}

func (f *fakeCreator) Create(_ context.Context, req CreateRequest) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.requests = append(f.requests, req)
	return "WO-1001", nil
}

type fakeRecorder struct {
	envelopes []events.Envelope
}

func (f *fakeRecorder) Record(_ context.Context, _ uuid.UUID, _ string, envelope events.Envelope) error {
	f.envelopes = append(f.envelopes, envelope)
	return nil
}

type generatorFixture struct {
	schedules  *fakeScheduleStore
	executions *fakeExecutionStore
	locks      *fakeLocker
	creator    *fakeCreator
	recorder   *fakeRecorder
	gen        *Generator
}

func newFixture() *generatorFixture {
	f := &generatorFixture{
		schedules:  &fakeScheduleStore{},
		executions: &fakeExecutionStore{recent: map[string]bool{}},
		locks:      &fakeLocker{},
		creator:    &fakeCreator{},
		recorder:   &fakeRecorder{},
	}
	f.gen = NewGenerator(f.schedules, f.executions, f.locks, f.creator, f.recorder,
		logx.New("workorder-test", "test", "", "error"), Config{})
	return f
}

func activeSchedule() models.Schedule {
	return models.Schedule{
		ScheduleID:          uuid.New(),
		TenantID:            uuid.New(),
		AssetID:             uuid.New(),
		Name:                "pump overhaul",
		TriggerKind:         models.TriggerKindTime,
		FrequencyUnit:       models.FrequencyMonthly,
		FrequencyMultiplier: 1,
		Priority:            models.PriorityMedium,
		Active:              true,
	}
}

func TestGenerateInactiveScheduleConflicts(t *testing.T) {
	f := newFixture()
	s := activeSchedule()
	s.Active = false
	_, err := f.gen.Generate(context.Background(), s, trigger.Firing{Reason: models.ReasonTimeDue}, time.Now().UTC())
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for inactive schedule, got %v", err)
	}
	if len(f.creator.requests) != 0 {
		t.Fatalf("no work order should be created for an inactive schedule")
	}
}

func TestGenerateLockBusyConflicts(t *testing.T) {
	f := newFixture()
	f.locks.busy = true
	_, err := f.gen.Generate(context.Background(), activeSchedule(), trigger.Firing{Reason: models.ReasonTimeDue}, time.Now().UTC())
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict while lock is held, got %v", err)
	}
}

func TestGenerateTimeDueAdvancesNextDue(t *testing.T) {
	f := newFixture()
	s := activeSchedule()
	dueAt := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	s.NextDueAt = dueAt

	record, err := f.gen.Generate(context.Background(), s, trigger.Firing{Reason: models.ReasonTimeDue, DueAt: dueAt}, dueAt)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if record.WorkOrderRef != "WO-1001" || record.Status != models.ExecutionStatusGenerated {
		t.Fatalf("unexpected record: %+v", record)
	}
	if !f.schedules.nextDueAt.Equal(dueAt.AddDate(0, 1, 0)) {
		t.Fatalf("expected next due advanced one month, got %v", f.schedules.nextDueAt)
	}
	if f.locks.released != 1 {
		t.Fatalf("lock must be released")
	}
	if len(f.recorder.envelopes) != 1 || f.recorder.envelopes[0].EventType != events.EventWorkOrderGenerated {
		t.Fatalf("expected one work_order_generated event, got %+v", f.recorder.envelopes)
	}
}

func TestGenerateTimeDueCatchesUpPastPeriods(t *testing.T) {
	f := newFixture()
	s := activeSchedule()
	dueAt := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	s.NextDueAt = dueAt
	now := time.Date(2024, time.April, 15, 0, 0, 0, 0, time.UTC)

	if _, err := f.gen.Generate(context.Background(), s, trigger.Firing{Reason: models.ReasonTimeDue, DueAt: dueAt}, now); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	want := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	if !f.schedules.nextDueAt.Equal(want) {
		t.Fatalf("expected catch-up to %v, got %v", want, f.schedules.nextDueAt)
	}
	if len(f.executions.inserted) != 1 {
		t.Fatalf("a lapsed schedule fires once, not once per missed period")
	}
}

func TestGenerateMeterAdvancesFromReading(t *testing.T) {
	f := newFixture()
	s := activeSchedule()
	s.TriggerKind = models.TriggerKindMeter
	s.MeterKind = "runtime_hours"
	s.MeterInterval = 500
	s.NextMeterDue = 500

	now := time.Now().UTC()
	_, err := f.gen.Generate(context.Background(), s, trigger.Firing{Reason: models.ReasonMeterTrigger, MeterValue: 512, DueAt: now}, now)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if f.schedules.lastReading != 512 || f.schedules.nextMeterDue != 1012 {
		t.Fatalf("expected meter due advanced from the observed reading, got %+v", f.schedules)
	}
}

func TestMeterReadingSequenceFiresOnce(t *testing.T) {
	f := newFixture()
	s := activeSchedule()
	s.TriggerKind = models.TriggerKindMeter
	s.MeterKind = "runtime_hours"
	s.MeterInterval = 500
	s.NextMeterDue = 500

	now := time.Now().UTC()
	for _, reading := range []float64{100, 300, 500} {
		d, err := trigger.Evaluate(s, now, map[string]float64{s.MeterKind: reading})
		if err != nil {
			t.Fatalf("evaluate failed at reading %v: %v", reading, err)
		}
		for _, firing := range d.Firings {
			if _, err := f.gen.Generate(context.Background(), s, firing, now); err != nil {
				t.Fatalf("generate failed at reading %v: %v", reading, err)
			}
		}
		if d.Due {
			s.LastMeterReading = f.schedules.lastReading
			s.NextMeterDue = f.schedules.nextMeterDue
		}
	}

	if len(f.creator.requests) != 1 {
		t.Fatalf("expected exactly one work order across the sequence, got %d", len(f.creator.requests))
	}
	if f.schedules.lastReading != 500 || f.schedules.nextMeterDue != 1000 {
		t.Fatalf("expected threshold advanced to 1000 from reading 500, got %+v", f.schedules)
	}
}

func TestGenerateDedupWindows(t *testing.T) {
	f := newFixture()
	f.executions.recent[models.ReasonMeterTrigger] = true
	s := activeSchedule()
	s.TriggerKind = models.TriggerKindMeter
	now := time.Now().UTC()

	_, err := f.gen.Generate(context.Background(), s, trigger.Firing{Reason: models.ReasonMeterTrigger, MeterValue: 600, DueAt: now}, now)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected suppression-window conflict, got %v", err)
	}

	// Manual firings have no window and must go through.
	f.executions.recent[models.ReasonManual] = true
	if _, err := f.gen.GenerateManual(context.Background(), s, now); err != nil {
		t.Fatalf("manual generate must bypass suppression, got %v", err)
	}
}

func TestGenerateConditionEscalatesPriority(t *testing.T) {
	f := newFixture()
	s := activeSchedule()
	s.TriggerKind = models.TriggerKindCondition
	s.Priority = models.PriorityLow
	s.ConditionRules = []models.ConditionRule{{SensorKind: "temperature", Operator: trigger.OpGreaterThan, Threshold: 80}}
	now := time.Now().UTC()

	_, err := f.gen.Generate(context.Background(), s, trigger.Firing{
		Reason:  models.ReasonConditionTrigger,
		DueAt:   now,
		Matched: s.ConditionRules,
	}, now)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if got := f.creator.requests[0].Priority; got != models.PriorityHigh {
		t.Fatalf("condition firings are at least high priority, got %s", got)
	}

	// A critical schedule keeps its own priority.
	s.Priority = models.PriorityCritical
	if _, err := f.gen.Generate(context.Background(), s, trigger.Firing{Reason: models.ReasonConditionTrigger, DueAt: now, Matched: s.ConditionRules}, now); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if got := f.creator.requests[1].Priority; got != models.PriorityCritical {
		t.Fatalf("expected critical kept, got %s", got)
	}
}

func TestGenerateWorkOrderServiceFailure(t *testing.T) {
	f := newFixture()
	f.creator.fail = errors.New("boom")
	_, err := f.gen.Generate(context.Background(), activeSchedule(), trigger.Firing{Reason: models.ReasonTimeDue, DueAt: time.Now().UTC()}, time.Now().UTC())
	if err == nil {
		t.Fatalf("expected error from work order service")
	}
	if len(f.executions.inserted) != 0 {
		t.Fatalf("no execution must be recorded when the work order was not created")
	}
	if !f.schedules.nextDueAt.IsZero() {
		t.Fatalf("due state must not advance on failure")
	}
}

func TestGenerateFromPrediction(t *testing.T) {
	f := newFixture()
	p := models.Prediction{
		PredictionID: uuid.New(),
		TenantID:     uuid.New(),
		AssetID:      uuid.New(),
		Kind:         models.PredictionKindFailure,
		RiskTier:     models.RiskTierCritical,
		Narrative:    "bearing wear trending up",
	}
	now := time.Now().UTC()
	record, err := f.gen.GenerateFromPrediction(context.Background(), p, now)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if record.ScheduleID != nil {
		t.Fatalf("prediction-driven executions have no schedule")
	}
	if record.TriggerReason != models.ReasonPrediction {
		t.Fatalf("unexpected reason %s", record.TriggerReason)
	}
	if f.creator.requests[0].Priority != models.PriorityCritical {
		t.Fatalf("critical risk maps to critical priority, got %s", f.creator.requests[0].Priority)
	}
}
