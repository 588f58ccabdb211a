// cmd/strike runs the synthetic attack service. It replays catalog payloads
// against configured targets on demand and, optionally, on a timer.
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
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/EdgeSentinel/internal/attack"
	"github.com/jmerrifield20/EdgeSentinel/internal/gateway"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("strike exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	viper.SetConfigName("strike")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("strike.port", 8888)
	viper.SetDefault("strike.timeout", "10s")
	viper.SetDefault("strike.user_agent", attack.DefaultUserAgent)
	viper.SetDefault("strike.payloads_file", "")
	viper.SetDefault("strike.schedule_interval", "0s")
	viper.SetDefault("strike.cors_origins", []string{"*"})
	viper.SetDefault("strike.targets", map[string]string{
		"backend": "http://localhost:3001",
		"ai":      "http://localhost:3001",
	})

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Info("no config file found, using defaults and environment")
	}

	// ── Catalog ───────────────────────────────────────────────────────────────
	var (
		catalog *attack.Catalog
		err     error
	)
	if path := viper.GetString("strike.payloads_file"); path != "" {
		catalog, err = attack.LoadCatalog(path)
	} else {
		catalog, err = attack.DefaultCatalog()
	}
	if err != nil {
		return fmt.Errorf("load payload catalog: %w", err)
	}

	timeout, err := time.ParseDuration(viper.GetString("strike.timeout"))
	if err != nil {
		return fmt.Errorf("parse strike.timeout: %w", err)
	}
	interval, err := time.ParseDuration(viper.GetString("strike.schedule_interval"))
	if err != nil {
		return fmt.Errorf("parse strike.schedule_interval: %w", err)
	}

	driver, err := attack.NewDriver(catalog, attack.Config{
		Targets:   viper.GetStringMapString("strike.targets"),
		Timeout:   timeout,
		UserAgent: viper.GetString("strike.user_agent"),
	}, logger)
	if err != nil {
		return fmt.Errorf("create driver: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if interval > 0 {
		go driver.StartSchedule(ctx, interval)
		logger.Info("scheduled comprehensive runs enabled", zap.Duration("interval", interval))
	}

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gateway.CORS(viper.GetStringSlice("strike.cors_origins")))
	router.Use(gateway.PrometheusMiddleware())
	router.Use(gateway.RequestLogger(logger))
	router.GET("/metrics", gateway.MetricsHandler())
	attack.NewHandler(driver, logger).Register(router)

	port := viper.GetInt("strike.port")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("strike listening",
			zap.Int("port", port),
			zap.Strings("targets", driver.Targets()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down strike...")
	cancel()

	// Comprehensive runs can take minutes; in-flight requests get the same
	// window as the edge.
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("strike stopped")
	return nil
}
