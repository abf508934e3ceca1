package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupchat/internal/core/services"
	httphandlers "groupchat/internal/handlers/http"
	"groupchat/internal/infrastructure/gateway"
	"groupchat/internal/infrastructure/middleware"
	"groupchat/internal/infrastructure/monitoring"
	"groupchat/internal/infrastructure/reliability"
	"groupchat/internal/infrastructure/repositories"
	"groupchat/pkg/config"
	"groupchat/pkg/logger"
	"groupchat/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/groupchat/config.yaml",
	"config.yaml",
}

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, source, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "groupchat: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	log.Infow("configuration loaded", "source", source, "storage", cfg.Storage.Driver)

	if err := run(cfg, zapLogger); err != nil {
		log.Errorw("gateway stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

func loadConfig() (*config.Config, string, error) {
	paths := configPaths
	if explicit := os.Getenv("GROUPCHAT_CONFIG"); explicit != "" {
		paths = []string{explicit}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	cfg, err := config.Load("")
	return cfg, "defaults", err
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "groupchat",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("tracer shutdown failed", "error", err)
		}
	}()

	factory := repositories.NewFactory(cfg, log)
	rawStore, err := factory.Open(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := factory.Close(); err != nil {
			log.Errorw("error closing store", "error", err)
		}
	}()
	store := reliability.NewStoreWrapperFromConfig(rawStore, factory.Driver(), cfg, log)

	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	directory := services.NewUserDirectory(store, cfg.Cache.UserTTL)
	defer directory.Stop()
	verifier := services.NewIdentityVerifier(auth, directory, log)
	authorizer := services.NewMembershipAuthorizer(store, log)
	registry := services.NewRoomRegistry()
	manager := services.NewConnectionManager(verifier, authorizer, registry, metrics, log)
	relay := services.NewMessageRelay(manager, registry, store, metrics, log, cfg.Gateway.MaxContentLength)
	groupService := services.NewGroupService(store, directory, authorizer, manager, log, cfg.History.DefaultLimit, cfg.History.MaxLimit)
	userService := services.NewUserService(store, directory, manager, log)

	checker := monitoring.NewHealthChecker()
	checker.AddStoreCheck(store, 15*time.Second, 2*time.Second)
	checker.AddBreakerCheck(store.GetCircuitBreakerStats, 15*time.Second)

	wsServer := gateway.NewWebSocketServer(manager, relay, metrics, cfg, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = prometheus.DefaultGatherer
	}
	httphandlers.NewHealthHandler(checker, manager.Stats, gatherer).SetupRoutes(router)
	router.GET(cfg.Gateway.Path, gin.WrapF(wsServer.HandleWebSocket))

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(verifier, cfg.Auth.SessionCookie))
	httphandlers.NewGroupHandler(groupService).SetupRoutes(api)
	httphandlers.NewUserHandler(userService).SetupRoutes(api)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("starting group chat gateway", "address", cfg.Server.Address, "ws_path", cfg.Gateway.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		checker.StartBackgroundChecks(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gateway")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// hijacked websocket connections are invisible to srv.Shutdown
		wsServer.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during server shutdown", "error", err)
			return srv.Close()
		}
		return nil
	})

	return g.Wait()
}
