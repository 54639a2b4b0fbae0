package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"flowgate/cmd/api/router/v1"
	"flowgate/internal/config"
	cacheadapter "flowgate/internal/infrastructure/cache/adapter"
	"flowgate/internal/infrastructure/database"
	notifyadapter "flowgate/internal/infrastructure/notify/adapter"
	notifyport "flowgate/internal/infrastructure/notify/port"
	dispatchadapter "flowgate/internal/pkg/dispatch/adapter"
	dispatch "flowgate/internal/pkg/dispatch/port"
	"flowgate/internal/pkg/flow/application/task"
	"flowgate/internal/pkg/flow/application/usecase"
	flowadapter "flowgate/internal/pkg/flow/persistence/repository/adapter"
	provideradapter "flowgate/internal/pkg/provider/adapter"
	provider "flowgate/internal/pkg/provider/port"
	"flowgate/internal/pkg/session/orchestrator"
	sessionadapter "flowgate/internal/pkg/session/persistence/repository/adapter"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Connect to the database on startup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	cache, err := cacheadapter.NewRedisCache(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	var sink notifyport.Sink = notifyadapter.NewNopSink()
	if cfg.AmqpURL != "" {
		rabbit, err := notifyadapter.NewRabbitSink(cfg.AmqpURL, cfg.AmqpExchange, log)
		if err != nil {
			log.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		sink = rabbit
	}
	defer sink.Close()

	sessionRepo := sessionadapter.NewPgSessionRepository(pool)
	flowRepo := flowadapter.NewPgFlowRepository(pool)

	endpoints := orchestrator.Endpoints{
		provider.KindSocket:  cfg.Provider.SocketEndpoint,
		provider.KindCloud:   cfg.Provider.CloudEndpoint,
		provider.KindGateway: cfg.Provider.GatewayEndpoint,
	}
	orch := orchestrator.New(log, sessionRepo, cache, sink,
		provideradapter.NewFactory(log), endpoints, cfg.Session)

	resolver := usecase.NewResolveMessageUseCase(flowRepo)
	handler := task.NewInboundHandler(log, resolver, orch)
	queue, err := dispatchadapter.NewAsynqQueue(log, cfg.RedisURL, cfg.Dispatch, handler, sessionRepo.ListTenantIDs)
	if err != nil {
		log.Error("failed to build dispatch queue", "error", err)
		os.Exit(1)
	}
	orch.SetInboundHandler(func(ctx context.Context, tenantID, flowID string, kind provider.Kind, msg provider.Message) error {
		return queue.Enqueue(ctx, dispatch.InboundJob{
			TenantID:     tenantID,
			FlowID:       flowID,
			ProviderKind: kind,
			Message:      msg,
		})
	})

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go func() {
		if err := queue.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("dispatch run loop ended", "error", err)
		}
	}()

	resumeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := orch.ResumeAll(resumeCtx); err != nil {
		log.Error("session resume failed", "error", err)
	}
	cancel()

	r := gin.Default()
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	v1.RegisterRoutes(r, orch, sessionRepo, flowRepo, queue, queue)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()
	log.Info("gateway listening", "addr", cfg.HTTPAddr)

	// Block until shutdown is requested, then drain in dependency order:
	// HTTP first, then sessions, then workers.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Error("session shutdown failed", "error", err)
	}
	stopRun()
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error("dispatch shutdown failed", "error", err)
	}
	_ = queue.Close()
	log.Info("bye")
}
