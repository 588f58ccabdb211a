// cmd/sentinel runs the edge: it serves the threat-analysis API, inspects
// every other request, and forwards what it allows to the named backends.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/EdgeSentinel/internal/alert"
	"github.com/jmerrifield20/EdgeSentinel/internal/defense"
	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
	"github.com/jmerrifield20/EdgeSentinel/internal/gateway"
	"github.com/jmerrifield20/EdgeSentinel/internal/health"
	"github.com/jmerrifield20/EdgeSentinel/internal/storage"
	"github.com/jmerrifield20/EdgeSentinel/internal/threat"
	"github.com/jmerrifield20/EdgeSentinel/pkg/client"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("sentinel exited with error", zap.Error(err))
	}
}

func setDefaults() {
	viper.SetDefault("sentinel.port", 3001)
	viper.SetDefault("sentinel.grpc_port", 0)
	viper.SetDefault("sentinel.cors_origins", []string{"*"})
	viper.SetDefault("sentinel.analysis_url", "")
	viper.SetDefault("sentinel.analysis_timeout", "5s")
	viper.SetDefault("sentinel.model_version", "heuristic-v1")
	viper.SetDefault("sentinel.max_body_bytes", detect.DefaultLimits.MaxBodyBytes)
	viper.SetDefault("sentinel.max_repeat_run", detect.DefaultLimits.MaxRepeatRun)
	viper.SetDefault("sentinel.backends", map[string]string{
		"backend":   "http://localhost:8080",
		"ai":        "http://localhost:5000",
		"hexstrike": "http://localhost:8888",
	})
	viper.SetDefault("sentinel.routes", gateway.DefaultRoutes)
	viper.SetDefault("database.url", "")
	viper.SetDefault("cache.redis_addr", "")
	viper.SetDefault("cache.redis_password", "")
	viper.SetDefault("cache.redis_db", 0)
	viper.SetDefault("cache.ttl_seconds", 300)
	viper.SetDefault("health.interval", "1m")
	viper.SetDefault("health.probe_timeout", "5s")
	viper.SetDefault("health.fail_threshold", 3)
	viper.SetDefault("alerts.webhooks", []map[string]any{})
	viper.SetDefault("alerts.max_attempts", 1)
}

func run(logger *zap.Logger) error {
	// ── Config ────────────────────────────────────────────────────────────────
	viper.SetConfigName("sentinel")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Info("no config file found, using defaults and environment")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage ───────────────────────────────────────────────────────────────
	var store storage.Store
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.Ping(pingCtx)
		pingCancel()
		if err != nil {
			// Storage is best effort; the edge keeps running and writes fail soft.
			logger.Warn("postgres unreachable at startup (non-fatal)", zap.Error(err))
		} else {
			logger.Info("connected to postgres")
		}
		store = storage.NewPostgresStore(db)
	} else {
		logger.Info("database.url not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	// ── Historical frequency cache ───────────────────────────────────────────
	cacheTTL := time.Duration(viper.GetInt("cache.ttl_seconds")) * time.Second
	var countCache storage.CountCache
	if addr := viper.GetString("cache.redis_addr"); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: viper.GetString("cache.redis_password"),
			DB:       viper.GetInt("cache.redis_db"),
		})
		defer rdb.Close()

		rc := storage.NewRedisCountCache(rdb, cacheTTL, logger)
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rc.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable at startup (non-fatal)", zap.String("addr", addr), zap.Error(err))
		}
		pingCancel()
		countCache = rc
	} else {
		mc := storage.NewMemoryCountCache(cacheTTL)
		mc.StartEviction(ctx, cacheTTL, logger)
		countCache = mc
	}
	counter := storage.NewCachedCounter(store, countCache)

	// ── Pipeline ──────────────────────────────────────────────────────────────
	limits := detect.Limits{
		MaxBodyBytes: viper.GetInt64("sentinel.max_body_bytes"),
		MaxRepeatRun: viper.GetInt("sentinel.max_repeat_run"),
	}
	detector := detect.NewDetector(detect.BuildRuleSet(limits))
	engine := threat.NewEngine(
		threat.NewAdjuster(counter, logger),
		threat.DefaultThresholds(),
		viper.GetString("sentinel.model_version"),
	)

	svc := defense.NewService(detector, engine, logger)
	svc.SetStore(store)
	svc.SetObserver(gateway.MetricsObserver{})

	if analysisURL := viper.GetString("sentinel.analysis_url"); analysisURL != "" {
		timeout, err := time.ParseDuration(viper.GetString("sentinel.analysis_timeout"))
		if err != nil {
			return fmt.Errorf("parse sentinel.analysis_timeout: %w", err)
		}
		ac, err := client.New(analysisURL, client.WithTimeout(timeout))
		if err != nil {
			return fmt.Errorf("analysis client: %w", err)
		}
		svc.SetAnalyzer(threat.NewRemoteAnalyzer(ac))
		logger.Info("remote threat analysis enabled", zap.String("url", analysisURL))
	}

	// ── Alerts ────────────────────────────────────────────────────────────────
	var subs []alert.Subscription
	if err := viper.UnmarshalKey("alerts.webhooks", &subs); err != nil {
		return fmt.Errorf("parse alerts.webhooks: %w", err)
	}
	var alerts *alert.Dispatcher
	if len(subs) > 0 {
		alerts = alert.NewDispatcher(subs, logger)
		alerts.SetMaxAttempts(viper.GetInt("alerts.max_attempts"))
		alerts.SetMetricsRecorder(gateway.RecordAlertDelivery)
		svc.SetNotifier(alerts)
		logger.Info("webhook alerts enabled", zap.Int("subscriptions", alerts.Len()))
	}

	// ── Backends ──────────────────────────────────────────────────────────────
	backends := viper.GetStringMapString("sentinel.backends")
	proxy, err := gateway.NewProxy(backends, viper.GetStringMapString("sentinel.routes"), logger)
	if err != nil {
		return fmt.Errorf("configure proxy: %w", err)
	}

	interval, err := time.ParseDuration(viper.GetString("health.interval"))
	if err != nil {
		return fmt.Errorf("parse health.interval: %w", err)
	}
	probeTimeout, err := time.ParseDuration(viper.GetString("health.probe_timeout"))
	if err != nil {
		return fmt.Errorf("parse health.probe_timeout: %w", err)
	}
	checker := health.New(health.TargetsFromMap(backends), health.Config{
		CheckInterval: interval,
		ProbeTimeout:  probeTimeout,
		FailThreshold: viper.GetInt("health.fail_threshold"),
	}, logger)
	checker.SetMetricsRecord(gateway.RecordHealthCheck)

	// ── gRPC health ───────────────────────────────────────────────────────────
	var grpcSrv *grpcHealth
	if port := viper.GetInt("sentinel.grpc_port"); port > 0 {
		grpcSrv, err = startGRPCHealth(port, logger)
		if err != nil {
			return err
		}
	}
	checker.SetStatusChange(func(name, status string) {
		if grpcSrv != nil {
			grpcSrv.setServing(!checker.AllDegraded())
		}
		if alerts != nil {
			alerts.BackendStatus(name, status)
		}
	})
	go checker.Start(ctx)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gateway.NewRouter(gateway.RouterOptions{
		Service:      svc,
		Proxy:        proxy,
		CORSOrigins:  viper.GetStringSlice("sentinel.cors_origins"),
		Statuses:     checker.Statuses,
		MaxBodyBytes: limits.MaxBodyBytes,
		Logger:       logger,
	})

	httpPort := viper.GetInt("sentinel.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("sentinel HTTP listening",
			zap.Int("port", httpPort),
			zap.Strings("routes", proxy.Prefixes()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down sentinel...")
	cancel()

	if grpcSrv != nil {
		grpcSrv.stop()
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if alerts != nil {
		alerts.Wait()
	}

	logger.Info("sentinel stopped")
	return nil
}
