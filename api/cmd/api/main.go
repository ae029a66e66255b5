package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"predictive-maintenance-engine/api/internal/anomaly"
	"predictive-maintenance-engine/api/internal/httpapi"
	"predictive-maintenance-engine/api/internal/middleware"
	"predictive-maintenance-engine/api/internal/repos"
	"predictive-maintenance-engine/api/internal/workorder"
	"predictive-maintenance-engine/shared/authx"
	"predictive-maintenance-engine/shared/cachex"
	"predictive-maintenance-engine/shared/clients/assetdir"
	woclient "predictive-maintenance-engine/shared/clients/workorder"
	"predictive-maintenance-engine/shared/config"
	"predictive-maintenance-engine/shared/dbx"
	"predictive-maintenance-engine/shared/httpx"
	"predictive-maintenance-engine/shared/influxx"
	"predictive-maintenance-engine/shared/logx"
	"predictive-maintenance-engine/shared/metricsx"
	"predictive-maintenance-engine/shared/observability"
	"predictive-maintenance-engine/shared/tenantx"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, readyProblems := config.Load("maintenance-api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	metricsx.Register()

	if cfg.DatabaseURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}

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

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		dbPool, err = dbx.NewPool(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to connect to database"})
			logger.Error(context.Background(), "db_init_failed", "database init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
	}

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		var err error
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "redis init failed, cache and locks disabled",
				slog.String("error", err.Error()),
			)
		}
	}

	var influx *influxx.Client
	if cfg.InfluxURL != "" {
		var err error
		influx, err = influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "influx init failed, reading mirror disabled",
				slog.String("error", err.Error()),
			)
		} else {
			defer influx.Close()
		}
	}

	var assetDir *assetdir.Client
	if cfg.AssetDirEnabled {
		var err error
		assetDir, err = assetdir.NewClient(cfg.AssetDirURL, cfg.AssetDirToken, 5*time.Second)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "ASSETDIR_API_URL", Message: "failed to initialize asset directory client"})
		}
	}

	tenantsRepo := repos.NewTenantsRepo(dbPool)
	auditRepo := repos.NewAuditRepo(dbPool)
	schedulesRepo := repos.NewSchedulesRepo(dbPool)
	executionsRepo := repos.NewExecutionsRepo(dbPool)
	readingsRepo := repos.NewReadingsRepo(dbPool)
	predictionsRepo := repos.NewPredictionsRepo(dbPool)
	modelsRepo := repos.NewPredictionModelsRepo(dbPool)
	assetsRepo := repos.NewAssetsRepo(dbPool)
	notificationsRepo := repos.NewNotificationsRepo(dbPool)
	outboxRepo := repos.NewOutboxRepo(dbPool)

	var creator workorder.WorkOrderCreator = workorder.LocalRefCreator{}
	if cfg.WorkOrderEnabled {
		client, err := woclient.New(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "WORKORDER_SERVICE_URL", Message: "failed to initialize work order client"})
		} else {
			creator = workorder.ServiceCreator{Client: client}
		}
	}
	var locker workorder.Locker = workorder.NewProcessLocker()
	if cache != nil {
		locker = workorder.RedisLocker{Redis: cache.Client()}
	}
	generator := workorder.NewGenerator(
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
	)

	var verifier *authx.JWTVerifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		var err error
		verifier, err = authx.NewJWTVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "OIDC_ISSUER", Message: "failed to initialize JWT verifier"})
		}
	}

	api := &httpapi.Server{
		Logger:        logger,
		Cfg:           cfg,
		Pool:          dbPool,
		Schedules:     schedulesRepo,
		Executions:    executionsRepo,
		Readings:      readingsRepo,
		Predictions:   predictionsRepo,
		Models:        modelsRepo,
		Assets:        assetsRepo,
		Notifications: notificationsRepo,
		Outbox:        outboxRepo,
		Generator:     generator,
		Detector:      anomaly.NewDetector(cfg.MinBaselinePoints, cfg.ZThreshold, cfg.IQRMultiplier),
		Cache:         cache,
		Influx:        influx,
		AssetDir:      assetDir,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsx.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: invalid configuration",
				map[string]any{"problems": readyProblems},
			)
			return
		}
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: database unavailable",
				map[string]any{"problem": "db_ping_failed"},
			)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})

	mux.HandleFunc("GET /api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		auth, ok := authx.FromContext(r.Context())
		if !ok {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"subject": auth.Subject,
			"email":   auth.Email,
			"name":    auth.Name,
			"roles":   auth.Roles,
		})
	})
	mux.HandleFunc("GET /api/v1/tenants/current", func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantx.FromContext(r.Context())
		if !ok || tenant.ID == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "missing tenant", nil)
			return
		}
		tenantID, err := uuid.Parse(tenant.ID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid tenant id", nil)
			return
		}
		record, err := tenantsRepo.GetTenantByID(r.Context(), tenantID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "tenant not found", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"tenant_id": record.TenantID,
			"slug":      record.Slug,
			"name":      record.Name,
		})
	})

	api.Routes(mux)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	skipInfra := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	}

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.DBRequiredMiddleware{
		Pool: dbPool,
		Skip: skipInfra,
	}.Wrap(handler)
	handler = middleware.AuditMiddleware{
		Enabled: cfg.AuditEnabled,
		Repo:    auditRepo,
		Logger:  logger,
		Skip:    skipInfra,
	}.Wrap(handler)
	handler = middleware.TenantMiddleware{
		Tenants: tenantsRepo,
		Skip:    skipInfra,
	}.Wrap(handler)
	handler = middleware.AuthMiddleware{
		Verifier: verifier,
		Skip:     skipInfra,
	}.Wrap(handler)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewIPRateLimiter(50, 100, 10*time.Minute),
		Skip:    skipInfra,
	}.Wrap(handler)
	if len(cfg.CORSAllowedOrigins) > 0 {
		handler = middleware.CORSMiddleware{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
			AllowCredentials: true,
			MaxAge:           10 * time.Minute,
			Skip:             skipInfra,
		}.Wrap(handler)
	}
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if cache != nil {
		_ = cache.Close()
	}
	if dbPool != nil {
		dbPool.Close()
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}
