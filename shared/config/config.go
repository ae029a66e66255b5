package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Problem is a non-fatal configuration complaint. Load returns every problem
// it found; callers decide which ones are fatal for their service.
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int
	AuditEnabled     bool

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int
	AsynqEnabled     bool

	OutboxScanSec     int
	OutboxBatchSize   int
	OutboxMaxAttempts int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	WorkOrderServiceURL string
	WorkOrderTimeoutMS  int
	WorkOrderRetryMax   int
	WorkOrderEnabled    bool

	AssetDirURL     string
	AssetDirToken   string
	AssetDirEnabled bool

	// Sweep cadences, in seconds.
	TimeSweepSec      int
	MeterSweepSec     int
	ConditionSweepSec int
	OverdueSweepSec   int
	AnalyticsSweepSec int
	SweepBatchSize    int

	// Work order suppression windows, in hours.
	MeterDedupHours     int
	ConditionDedupHours int

	// Anomaly detection defaults; per-model params override these.
	ZThreshold        float64
	IQRMultiplier     float64
	BaselineWindow    int
	MinBaselinePoints int

	ReadingRetentionDays int
	UpcomingHorizonDays  int

	CORSAllowedOrigins []string

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

// Load builds the config from defaults, then an optional JSON config file,
// then environment variables, in that order of increasing precedence.
func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := Config{
		Env:                  envRaw,
		ServiceName:          serviceNameDefault,
		HTTPPort:             httpPortDefault,
		LogLevel:             "info",
		ConfigPath:           strings.TrimSpace(os.Getenv("CONFIG_PATH")),
		RequestTimeoutMS:     30000,
		JWKSTTLSeconds:       300,
		JWTClockSkewSec:      60,
		DBMaxConns:           10,
		DBMinConns:           1,
		DBConnMaxIdleSec:     300,
		DBConnMaxLifeSec:     1800,
		KafkaRetryMax:        5,
		KafkaWriteMS:         5000,
		AsynqQueue:           "default",
		AsynqConcurrency:     10,
		OutboxScanSec:        5,
		OutboxBatchSize:      50,
		OutboxMaxAttempts:    20,
		InfluxTimeoutMS:      5000,
		WorkOrderTimeoutMS:   3000,
		WorkOrderRetryMax:    2,
		TimeSweepSec:         86400,
		MeterSweepSec:        3600,
		ConditionSweepSec:    900,
		OverdueSweepSec:      86400,
		AnalyticsSweepSec:    86400,
		SweepBatchSize:       500,
		MeterDedupHours:      24,
		ConditionDedupHours:  4,
		ZThreshold:           3.0,
		IQRMultiplier:        1.5,
		BaselineWindow:       100,
		MinBaselinePoints:    5,
		ReadingRetentionDays: 90,
		UpcomingHorizonDays:  30,
		OtelInsecure:         true,
		OtelSampleRatio:      1.0,
	}

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	if fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != ""); ok {
		problems = append(problems, fileProblems...)
		for key, value := range fileData {
			key = strings.ToUpper(strings.TrimSpace(key))
			if key == "ENV" {
				if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
					envProvided = true
				}
			}
			applyKV(&cfg, key, stringify(value), &problems)
		}
	} else {
		problems = append(problems, fileProblems...)
	}

	for _, key := range knownKeys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			applyKV(&cfg, key, v, &problems)
		}
	}
	// PORT is an alias accepted for platform compatibility.
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" && strings.TrimSpace(os.Getenv("HTTP_PORT")) == "" {
		applyKV(&cfg, "HTTP_PORT", v, &problems)
	}

	if cfg.OIDCIssuer != "" && strings.TrimSpace(cfg.OIDCJWKSURL) == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}

	validate(&cfg, httpPortDefault, &problems)
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	return cfg, problems
}

var knownKeys = []string{
	"ENV", "SERVICE_NAME", "HTTP_PORT", "LOG_LEVEL", "REQUEST_TIMEOUT_MS",
	"OIDC_ISSUER", "OIDC_AUDIENCE", "OIDC_JWKS_URL", "JWKS_CACHE_TTL_SECONDS", "JWT_CLOCK_SKEW_SECONDS",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_CONN_MAX_IDLE_SECONDS", "DB_CONN_MAX_LIFETIME_SECONDS",
	"AUDIT_ENABLED",
	"KAFKA_BROKERS", "KAFKA_CLIENT_ID", "KAFKA_CONSUMER_GROUP", "KAFKA_RETRY_MAX", "KAFKA_WRITE_TIMEOUT_MS",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"ASYNQ_REDIS_ADDR", "ASYNQ_REDIS_PASSWORD", "ASYNQ_REDIS_DB", "ASYNQ_QUEUE", "ASYNQ_CONCURRENCY", "ASYNQ_ENABLED",
	"OUTBOX_SCAN_INTERVAL_SECONDS", "OUTBOX_BATCH_SIZE", "OUTBOX_MAX_ATTEMPTS",
	"INFLUX_URL", "INFLUX_TOKEN", "INFLUX_ORG", "INFLUX_BUCKET", "INFLUX_TIMEOUT_MS",
	"WORKORDER_SERVICE_URL", "WORKORDER_TIMEOUT_MS", "WORKORDER_RETRY_MAX", "WORKORDER_ENABLED",
	"ASSETDIR_API_URL", "ASSETDIR_API_TOKEN", "ASSETDIR_ENABLED",
	"TIME_SWEEP_INTERVAL_SECONDS", "METER_SWEEP_INTERVAL_SECONDS", "CONDITION_SWEEP_INTERVAL_SECONDS",
	"OVERDUE_SWEEP_INTERVAL_SECONDS", "ANALYTICS_SWEEP_INTERVAL_SECONDS", "SWEEP_BATCH_SIZE",
	"METER_DEDUP_HOURS", "CONDITION_DEDUP_HOURS",
	"Z_THRESHOLD", "IQR_MULTIPLIER", "BASELINE_WINDOW", "MIN_BASELINE_POINTS",
	"READING_RETENTION_DAYS", "UPCOMING_HORIZON_DAYS", "CORS_ALLOWED_ORIGINS",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SAMPLE_RATIO",
}

// applyKV routes one key/value pair into the config. The config file and the
// environment share this path so both layers parse and complain identically.
func applyKV(cfg *Config, key string, raw string, problems *[]Problem) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}

	setInt := func(dst *int) {
		n, err := strconv.Atoi(raw)
		if err != nil {
			*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
			return
		}
		*dst = n
	}
	setFloat := func(dst *float64) {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			*problems = append(*problems, Problem{Field: key, Message: key + " must be a number"})
			return
		}
		*dst = f
	}
	setBool := func(dst *bool) {
		b, ok := asBool(raw)
		if !ok {
			*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
			return
		}
		*dst = b
	}

	switch key {
	case "ENV":
		cfg.Env = raw
	case "SERVICE_NAME":
		cfg.ServiceName = raw
	case "HTTP_PORT":
		setInt(&cfg.HTTPPort)
	case "LOG_LEVEL":
		cfg.LogLevel = raw
	case "REQUEST_TIMEOUT_MS":
		setInt(&cfg.RequestTimeoutMS)
	case "OIDC_ISSUER":
		cfg.OIDCIssuer = raw
	case "OIDC_AUDIENCE":
		cfg.OIDCAudience = raw
	case "OIDC_JWKS_URL":
		cfg.OIDCJWKSURL = raw
	case "JWKS_CACHE_TTL_SECONDS":
		setInt(&cfg.JWKSTTLSeconds)
	case "JWT_CLOCK_SKEW_SECONDS":
		setInt(&cfg.JWTClockSkewSec)
	case "DATABASE_URL":
		cfg.DatabaseURL = raw
	case "DB_MAX_CONNS":
		setInt(&cfg.DBMaxConns)
	case "DB_MIN_CONNS":
		setInt(&cfg.DBMinConns)
	case "DB_CONN_MAX_IDLE_SECONDS":
		setInt(&cfg.DBConnMaxIdleSec)
	case "DB_CONN_MAX_LIFETIME_SECONDS":
		setInt(&cfg.DBConnMaxLifeSec)
	case "AUDIT_ENABLED":
		setBool(&cfg.AuditEnabled)
	case "KAFKA_BROKERS":
		cfg.KafkaBrokers = parseCSV(raw)
	case "KAFKA_CLIENT_ID":
		cfg.KafkaClientID = raw
	case "KAFKA_CONSUMER_GROUP":
		cfg.KafkaGroupID = raw
	case "KAFKA_RETRY_MAX":
		setInt(&cfg.KafkaRetryMax)
	case "KAFKA_WRITE_TIMEOUT_MS":
		setInt(&cfg.KafkaWriteMS)
	case "REDIS_ADDR":
		cfg.RedisAddr = raw
	case "REDIS_PASSWORD":
		cfg.RedisPassword = raw
	case "REDIS_DB":
		setInt(&cfg.RedisDB)
	case "ASYNQ_REDIS_ADDR":
		cfg.AsynqRedisAddr = raw
	case "ASYNQ_REDIS_PASSWORD":
		cfg.AsynqRedisPass = raw
	case "ASYNQ_REDIS_DB":
		setInt(&cfg.AsynqRedisDB)
	case "ASYNQ_QUEUE":
		cfg.AsynqQueue = raw
	case "ASYNQ_CONCURRENCY":
		setInt(&cfg.AsynqConcurrency)
	case "ASYNQ_ENABLED":
		setBool(&cfg.AsynqEnabled)
	case "OUTBOX_SCAN_INTERVAL_SECONDS":
		setInt(&cfg.OutboxScanSec)
	case "OUTBOX_BATCH_SIZE":
		setInt(&cfg.OutboxBatchSize)
	case "OUTBOX_MAX_ATTEMPTS":
		setInt(&cfg.OutboxMaxAttempts)
	case "INFLUX_URL":
		cfg.InfluxURL = raw
	case "INFLUX_TOKEN":
		cfg.InfluxToken = raw
	case "INFLUX_ORG":
		cfg.InfluxOrg = raw
	case "INFLUX_BUCKET":
		cfg.InfluxBucket = raw
	case "INFLUX_TIMEOUT_MS":
		setInt(&cfg.InfluxTimeoutMS)
	case "WORKORDER_SERVICE_URL":
		cfg.WorkOrderServiceURL = raw
	case "WORKORDER_TIMEOUT_MS":
		setInt(&cfg.WorkOrderTimeoutMS)
	case "WORKORDER_RETRY_MAX":
		setInt(&cfg.WorkOrderRetryMax)
	case "WORKORDER_ENABLED":
		setBool(&cfg.WorkOrderEnabled)
	case "ASSETDIR_API_URL":
		cfg.AssetDirURL = raw
	case "ASSETDIR_API_TOKEN":
		cfg.AssetDirToken = raw
	case "ASSETDIR_ENABLED":
		setBool(&cfg.AssetDirEnabled)
	case "TIME_SWEEP_INTERVAL_SECONDS":
		setInt(&cfg.TimeSweepSec)
	case "METER_SWEEP_INTERVAL_SECONDS":
		setInt(&cfg.MeterSweepSec)
	case "CONDITION_SWEEP_INTERVAL_SECONDS":
		setInt(&cfg.ConditionSweepSec)
	case "OVERDUE_SWEEP_INTERVAL_SECONDS":
		setInt(&cfg.OverdueSweepSec)
	case "ANALYTICS_SWEEP_INTERVAL_SECONDS":
		setInt(&cfg.AnalyticsSweepSec)
	case "SWEEP_BATCH_SIZE":
		setInt(&cfg.SweepBatchSize)
	case "METER_DEDUP_HOURS":
		setInt(&cfg.MeterDedupHours)
	case "CONDITION_DEDUP_HOURS":
		setInt(&cfg.ConditionDedupHours)
	case "Z_THRESHOLD":
		setFloat(&cfg.ZThreshold)
	case "IQR_MULTIPLIER":
		setFloat(&cfg.IQRMultiplier)
	case "BASELINE_WINDOW":
		setInt(&cfg.BaselineWindow)
	case "MIN_BASELINE_POINTS":
		setInt(&cfg.MinBaselinePoints)
	case "READING_RETENTION_DAYS":
		setInt(&cfg.ReadingRetentionDays)
	case "UPCOMING_HORIZON_DAYS":
		setInt(&cfg.UpcomingHorizonDays)
	case "CORS_ALLOWED_ORIGINS":
		cfg.CORSAllowedOrigins = parseCSV(raw)
	case "OTEL_ENABLED":
		setBool(&cfg.OtelEnabled)
	case "OTEL_EXPORTER_OTLP_ENDPOINT":
		cfg.OtelEndpoint = raw
	case "OTEL_EXPORTER_OTLP_INSECURE":
		setBool(&cfg.OtelInsecure)
	case "OTEL_SAMPLE_RATIO":
		setFloat(&cfg.OtelSampleRatio)
	}
}

func validate(cfg *Config, httpPortDefault int, problems *[]Problem) {
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		*problems = append(*problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	if cfg.JWKSTTLSeconds <= 0 {
		*problems = append(*problems, Problem{Field: "JWKS_CACHE_TTL_SECONDS", Message: "JWKS_CACHE_TTL_SECONDS must be > 0"})
		cfg.JWKSTTLSeconds = 300
	}
	if cfg.JWTClockSkewSec < 0 {
		*problems = append(*problems, Problem{Field: "JWT_CLOCK_SKEW_SECONDS", Message: "JWT_CLOCK_SKEW_SECONDS must be >= 0"})
		cfg.JWTClockSkewSec = 60
	}
	if cfg.DBMaxConns <= 0 {
		*problems = append(*problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 {
		*problems = append(*problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be >= 0"})
		cfg.DBMinConns = 1
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		*problems = append(*problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.KafkaRetryMax < 0 {
		*problems = append(*problems, Problem{Field: "KAFKA_RETRY_MAX", Message: "KAFKA_RETRY_MAX must be >= 0"})
		cfg.KafkaRetryMax = 5
	}
	if cfg.KafkaWriteMS <= 0 {
		*problems = append(*problems, Problem{Field: "KAFKA_WRITE_TIMEOUT_MS", Message: "KAFKA_WRITE_TIMEOUT_MS must be > 0"})
		cfg.KafkaWriteMS = 5000
	}
	if cfg.AsynqConcurrency <= 0 {
		*problems = append(*problems, Problem{Field: "ASYNQ_CONCURRENCY", Message: "ASYNQ_CONCURRENCY must be > 0"})
		cfg.AsynqConcurrency = 10
	}
	if cfg.OutboxScanSec <= 0 {
		*problems = append(*problems, Problem{Field: "OUTBOX_SCAN_INTERVAL_SECONDS", Message: "OUTBOX_SCAN_INTERVAL_SECONDS must be > 0"})
		cfg.OutboxScanSec = 5
	}
	if cfg.OutboxBatchSize <= 0 {
		*problems = append(*problems, Problem{Field: "OUTBOX_BATCH_SIZE", Message: "OUTBOX_BATCH_SIZE must be > 0"})
		cfg.OutboxBatchSize = 50
	}
	if cfg.OutboxMaxAttempts <= 0 {
		*problems = append(*problems, Problem{Field: "OUTBOX_MAX_ATTEMPTS", Message: "OUTBOX_MAX_ATTEMPTS must be > 0"})
		cfg.OutboxMaxAttempts = 20
	}
	if cfg.InfluxTimeoutMS <= 0 {
		*problems = append(*problems, Problem{Field: "INFLUX_TIMEOUT_MS", Message: "INFLUX_TIMEOUT_MS must be > 0"})
		cfg.InfluxTimeoutMS = 5000
	}
	if cfg.WorkOrderTimeoutMS <= 0 {
		*problems = append(*problems, Problem{Field: "WORKORDER_TIMEOUT_MS", Message: "WORKORDER_TIMEOUT_MS must be > 0"})
		cfg.WorkOrderTimeoutMS = 3000
	}
	if cfg.WorkOrderRetryMax < 0 {
		*problems = append(*problems, Problem{Field: "WORKORDER_RETRY_MAX", Message: "WORKORDER_RETRY_MAX must be >= 0"})
		cfg.WorkOrderRetryMax = 2
	}
	for _, f := range []struct {
		name  string
		value *int
		def   int
	}{
		{"TIME_SWEEP_INTERVAL_SECONDS", &cfg.TimeSweepSec, 86400},
		{"METER_SWEEP_INTERVAL_SECONDS", &cfg.MeterSweepSec, 3600},
		{"CONDITION_SWEEP_INTERVAL_SECONDS", &cfg.ConditionSweepSec, 900},
		{"OVERDUE_SWEEP_INTERVAL_SECONDS", &cfg.OverdueSweepSec, 86400},
		{"ANALYTICS_SWEEP_INTERVAL_SECONDS", &cfg.AnalyticsSweepSec, 86400},
		{"SWEEP_BATCH_SIZE", &cfg.SweepBatchSize, 500},
		{"METER_DEDUP_HOURS", &cfg.MeterDedupHours, 24},
		{"CONDITION_DEDUP_HOURS", &cfg.ConditionDedupHours, 4},
		{"BASELINE_WINDOW", &cfg.BaselineWindow, 100},
		{"MIN_BASELINE_POINTS", &cfg.MinBaselinePoints, 5},
		{"READING_RETENTION_DAYS", &cfg.ReadingRetentionDays, 90},
		{"UPCOMING_HORIZON_DAYS", &cfg.UpcomingHorizonDays, 30},
	} {
		if *f.value <= 0 {
			*problems = append(*problems, Problem{Field: f.name, Message: f.name + " must be > 0"})
			*f.value = f.def
		}
	}
	if cfg.ZThreshold <= 0 {
		*problems = append(*problems, Problem{Field: "Z_THRESHOLD", Message: "Z_THRESHOLD must be > 0"})
		cfg.ZThreshold = 3.0
	}
	if cfg.IQRMultiplier <= 0 {
		*problems = append(*problems, Problem{Field: "IQR_MULTIPLIER", Message: "IQR_MULTIPLIER must be > 0"})
		cfg.IQRMultiplier = 1.5
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}
}

func findRepoRoot() (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && !errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "on":
		return true, true
	case "0", "f", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
