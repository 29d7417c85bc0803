package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/medflow/medflow-slotting/internal/slotting/consumers"
	"github.com/medflow/medflow-slotting/internal/slotting/events"
	"github.com/medflow/medflow-slotting/internal/slotting/handler"
	"github.com/medflow/medflow-slotting/internal/slotting/repository"
	"github.com/medflow/medflow-slotting/internal/slotting/service"
	"github.com/medflow/medflow-slotting/migrations"
	"github.com/medflow/medflow-slotting/pkg/config"
	"github.com/medflow/medflow-slotting/pkg/database"
	"github.com/medflow/medflow-slotting/pkg/httputil"
	"github.com/medflow/medflow-slotting/pkg/logger"
	"github.com/medflow/medflow-slotting/pkg/messaging"
)

func main() {
	if config.IsDevelopment() {
		// .env is optional outside containers
		_ = godotenv.Load()
	}

	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("slotting-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("slotting-service", cfg.Server.Environment)
	log.Info().Msg("starting Slotting Service")

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Server.Environment == config.EnvDevelopment {
		if err := migrations.Apply(ctx, db.DB); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	// Messaging is optional; without it plans are stored but not announced.
	var rmq *messaging.RabbitMQ
	var publisher *events.SlottingEventPublisher
	if cfg.RabbitMQ.URL != "" {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		if err := rmq.DeclareDeadLetterQueue("slotting-service"); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}

		publisher, err = events.NewSlottingEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else {
		log.Warn().Msg("MEDFLOW_RABBITMQ_URL not set, running without events")
	}

	snapshotRepo := repository.NewSnapshotRepository(db)
	placementRepo := repository.NewPlacementRepository(db)

	slottingService := service.NewSlottingService(snapshotRepo, placementRepo, publisher, cfg.Slotting, log)
	slottingHandler := handler.NewSlottingHandler(slottingService, log)

	if rmq != nil && cfg.Slotting.ReplanOnInventoryEvents {
		inventoryConsumer, err := consumers.NewInventoryEventConsumer(rmq, slottingService, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create inventory event consumer")
		}
		if err := inventoryConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start inventory event consumer")
		}
	}

	scheduler := service.NewReplanScheduler(slottingService, db, cfg.Slotting.ReplanInterval, log)
	scheduler.Start(ctx)

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", httputil.HeaderTenantID},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.TenantMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "slotting-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	slottingHandler.RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop the scheduler and consumers before draining HTTP
	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
