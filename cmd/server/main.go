package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/config"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/handler"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/metrics"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
	"github.com/pesio-ai/be-plt-approvals/internal/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Database.Driver).
		Msg("Starting Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		if err := tracing.Init(cfg.Service.Name, cfg.Service.Version, cfg.Tracing.OutputFile); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracing")
		}
		log.Info().Msg("Tracing enabled")
	}

	// Initialize store
	var store repository.Store
	switch cfg.Database.Driver {
	case config.StorePostgres:
		db, err := database.New(ctx, database.Config{
			URL:         cfg.Database.URL,
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("Database connection established")
		store = repository.NewPostgresStore(db)
	default:
		store = repository.NewMemoryStore()
		log.Warn().Msg("Using in-memory store; approvals are lost on restart")
	}

	// Workflow templates and directory
	workflows := &config.WorkflowConfig{}
	if cfg.WorkflowConfig != "" {
		workflows, err = config.LoadWorkflowConfig(cfg.WorkflowConfig)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.WorkflowConfig).Msg("Failed to load workflow config")
		}
	}
	directory := client.NewStaticDirectory(workflows.Users)

	// Initialize services
	recorder := metrics.NewRecorder("approvals")
	svc := service.NewApprovalWorkflowService(
		store,
		service.NewRoutingResolver(store, log.Component("routing")),
		service.NewStepEngine(directory),
		service.NewHistoryRecorder(store),
		recorder,
		log.Component("approvals"),
	)

	for _, tmpl := range workflows.Templates {
		if err := svc.SaveTemplate(ctx, tmpl); err != nil {
			log.Fatal().Err(err).Str("template_id", tmpl.ID).Msg("Failed to seed workflow template")
		}
	}
	log.Info().
		Int("templates", len(workflows.Templates)).
		Int("users", len(workflows.Users)).
		Msg("Workflow configuration loaded")

	// Notifications
	var publisher *client.NotificationPublisher
	if cfg.NATS.URL != "" {
		nc, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		publisher = client.NewNotificationPublisher(nc, log.Logger)
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS notifications enabled")
	}

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(svc, publisher, log.Component("http"))
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handler.RequestLogger(log.Logger))
	r.Use(middleware.Recoverer)
	r.Use(handler.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Method(http.MethodGet, "/metrics", recorder.Handler())
	r.Mount("/api/v1", httpHandler.Routes())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.UnaryLoggingInterceptor(log.Component("grpc").Logger),
		handler.UnaryErrorInterceptor(),
	))
	handler.NewGRPCHandler(svc, publisher, log).Register(grpcServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(client.ApprovalServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	grpcServer.GracefulStop()

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Tracing shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
