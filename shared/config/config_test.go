package config

import "testing"

func TestParseCSV(t *testing.T) {
	got := parseCSV("a, b, ,c,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestAsBool(t *testing.T) {
	for _, raw := range []string{"1", "t", "TRUE", "yes", "on"} {
		if b, ok := asBool(raw); !ok || !b {
			t.Fatalf("expected %q to parse true", raw)
		}
	}
	if _, ok := asBool("maybe"); ok {
		t.Fatalf("expected parse failure for non-boolean")
	}
}

func TestApplyKVParsesAndComplains(t *testing.T) {
	cfg := Config{}
	var problems []Problem

	applyKV(&cfg, "METER_SWEEP_INTERVAL_SECONDS", "1800", &problems)
	applyKV(&cfg, "Z_THRESHOLD", "2.5", &problems)
	applyKV(&cfg, "KAFKA_BROKERS", "k1:9092, k2:9092", &problems)
	if cfg.MeterSweepSec != 1800 || cfg.ZThreshold != 2.5 || len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %+v", problems)
	}

	applyKV(&cfg, "METER_SWEEP_INTERVAL_SECONDS", "soon", &problems)
	if len(problems) != 1 || problems[0].Field != "METER_SWEEP_INTERVAL_SECONDS" {
		t.Fatalf("expected a parse problem, got %+v", problems)
	}
	if cfg.MeterSweepSec != 1800 {
		t.Fatalf("a bad value must not clobber the previous one")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", "")

	cfg, problems := Load("engine-test", 8080)
	for _, p := range problems {
		if p.Field == "ENV" {
			t.Fatalf("ENV was provided, got problem %+v", p)
		}
	}
	if cfg.HTTPPort != 8080 || cfg.ServiceName != "engine-test" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MeterDedupHours != 24 || cfg.ConditionDedupHours != 4 {
		t.Fatalf("unexpected dedup defaults: %+v", cfg)
	}
	if cfg.ZThreshold != 3.0 || cfg.IQRMultiplier != 1.5 {
		t.Fatalf("unexpected detection defaults: %+v", cfg)
	}
}

func TestLoadEnvOverridesAndValidation(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("CONDITION_SWEEP_INTERVAL_SECONDS", "-5")
	t.Setenv("WORKORDER_SERVICE_URL", "http://workorders.internal")

	cfg, problems := Load("engine-test", 8080)
	if cfg.WorkOrderServiceURL != "http://workorders.internal" {
		t.Fatalf("env override not applied: %+v", cfg)
	}
	if cfg.ConditionSweepSec != 900 {
		t.Fatalf("invalid value must fall back to default, got %d", cfg.ConditionSweepSec)
	}
	found := false
	for _, p := range problems {
		if p.Field == "CONDITION_SWEEP_INTERVAL_SECONDS" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a validation problem, got %+v", problems)
	}
}
