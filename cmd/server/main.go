package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-procurement/internal/client"
	"github.com/pesio-ai/be-procurement/internal/config"
	"github.com/pesio-ai/be-procurement/internal/database"
	"github.com/pesio-ai/be-procurement/internal/handler"
	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/middleware"
	"github.com/pesio-ai/be-procurement/internal/repository"
	"github.com/pesio-ai/be-procurement/internal/service"
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
		Msg("Starting Procurement Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run database migrations
	if err := database.RunMigrations(cfg.Database.URL(), cfg.Database.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	log.Info().Msg("Database migrations applied")

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS for notifications (optional)
	var notifier service.Notifier = service.NopNotifier{}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, notifications disabled")
		} else {
			defer nc.Close()
			js, err := nc.JetStream()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to create JetStream context, notifications disabled")
			} else {
				notifier = client.NewNotificationPublisher(js, log)
				log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
			}
		}
	}

	// Initialize repositories and engines
	stores := repository.NewStores(db)
	txManager := repository.NewTxManager(db)

	ruleResolver := service.NewRuleResolver(log)
	approvalEngine := service.NewApprovalEngine(ruleResolver, log)
	budgetLedger := service.NewBudgetLedger(log)
	numberGenerator := service.NewNumberGenerator(log)
	rateResolver := service.NewRateResolver(cfg.Currency.Base, log)

	procurementService := service.NewProcurementService(
		txManager, stores,
		approvalEngine, budgetLedger, numberGenerator, rateResolver,
		notifier, log,
	)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(procurementService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Document routes
	mux.HandleFunc("/api/v1/documents", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.GetDocument(w, r)
		case http.MethodPost:
			httpHandler.CreateRequisition(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/documents/submit", httpHandler.SubmitDocument)
	mux.HandleFunc("/api/v1/documents/approve", httpHandler.ApproveDocument)
	mux.HandleFunc("/api/v1/documents/reject", httpHandler.RejectDocument)
	mux.HandleFunc("/api/v1/documents/cancel", httpHandler.CancelDocument)
	mux.HandleFunc("/api/v1/documents/convert", httpHandler.ConvertToOrder)
	mux.HandleFunc("/api/v1/documents/number", httpHandler.GenerateNumber)
	mux.HandleFunc("/api/v1/documents/approvals", httpHandler.GetApprovalChain)
	mux.HandleFunc("/api/v1/documents/audit", httpHandler.GetAuditTrail)
	mux.HandleFunc("/api/v1/approvals/pending", httpHandler.ListPendingApprovals)
	mux.HandleFunc("/api/v1/rules", httpHandler.Rules)
	mux.HandleFunc("/api/v1/budgets", httpHandler.Budgets)
	mux.HandleFunc("/api/v1/rates", httpHandler.RecordRate)
	mux.HandleFunc("/api/v1/rates/convert", httpHandler.ConvertAmount)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
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

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
