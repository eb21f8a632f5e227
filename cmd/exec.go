package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"queue-system/config"
	"queue-system/handlers"
	"queue-system/internal/services/eventsink"
	"queue-system/internal/services/persist"
	"queue-system/models"
	"queue-system/monitoring"
	"queue-system/security"
	"queue-system/services"
	"queue-system/utils"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/pocketbase/dbx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"

	"github.com/pocketbase/pocketbase"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := eventsink.NewSink(cfg)
	if err != nil {
		return err
	}

	gateway, err := persist.NewGateway(cfg, redisClient)
	if err != nil {
		return err
	}

	monitor := monitoring.NewMonitor()

	// Initialize services
	engine := services.NewAdmissionEngine(gateway, sink, monitor, cfg, services.NewSystemClock())
	scheduler := services.NewReleaseScheduler(engine, cfg)

	// Initialize handlers
	queueHandler := handlers.NewQueueHandler(app, engine)
	adminHandler := handlers.NewAdminHandler(app, engine)
	limiter := security.NewRateLimiter(redisClient)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Setup graceful shutdown
	go handleShutdown(cancel, scheduler, engine, sink)

	if cfg.EnableMetrics {
		go startMetricsServer(cfg)
	}

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		restoreQueues(app, engine, gateway)
		scheduler.Start(ctx)

		guard := limiter.BlockSuspiciousAgents()

		// Queue endpoints
		e.Router.POST("/api/v1/queue/enter", queueHandler.EnterQueue).
			BindFunc(guard).
			BindFunc(limiter.PerClientLimit("enter", 30, time.Minute))
		e.Router.POST("/api/v1/queue/leave", queueHandler.LeaveQueue).
			BindFunc(guard).
			BindFunc(limiter.PerClientLimit("leave", 30, time.Minute))
		e.Router.GET("/api/v1/queue/position", queueHandler.GetQueuePosition).
			BindFunc(guard).
			BindFunc(limiter.PerClientLimit("position", 120, time.Minute))
		e.Router.POST("/api/v1/queue/claim", queueHandler.ClaimSlot).
			BindFunc(guard).
			BindFunc(limiter.PerClientLimit("claim", 30, time.Minute))
		e.Router.POST("/api/v1/queue/complete", queueHandler.CompleteSession).
			BindFunc(guard).
			BindFunc(limiter.PerClientLimit("complete", 30, time.Minute))
		e.Router.GET("/api/v1/queue/metrics", queueHandler.GetQueueMetrics).
			BindFunc(limiter.PerClientLimit("metrics", 60, time.Minute))

		// Admin endpoints
		e.Router.GET("/api/v1/admin/queue-dashboard", adminHandler.GetQueueDashboard)
		e.Router.POST("/api/v1/admin/force-release", adminHandler.ForceRelease)
		e.Router.POST("/api/v1/admin/merge-queues", adminHandler.MergeQueues)
		e.Router.POST("/api/v1/admin/remove-from-queue", adminHandler.RemoveFromQueue)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		setupQueueHooks(app, engine)

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// restoreQueues loads every queue defined in the database and brings the
// engine back to its pre-restart state. The database is authoritative for
// configuration; the persistence gateway is authoritative for sessions.
func restoreQueues(app *pocketbase.PocketBase, engine *services.AdmissionEngine, gateway persist.Gateway) {
	ctx := context.Background()

	var rows []dbx.NullStringMap
	if err := app.DB().NewQuery(
		"SELECT id, name, max_concurrent_users, release_rate_per_minute, is_active, opens_at, closes_at FROM queues",
	).All(&rows); err != nil {
		log.Printf("Error fetching queue definitions: %v", err)
		return
	}

	restored := 0
	for _, row := range rows {
		qc := queueConfigFromRow(row)
		if qc.ID == "" {
			continue
		}

		snap, err := gateway.LoadQueueSnapshot(ctx, qc.ID)
		if err != nil {
			slog.Warn("no durable snapshot for queue, starting empty",
				"queueID", qc.ID, "error", err)
			if err := engine.RegisterQueue(ctx, qc); err != nil {
				slog.Error("failed to register queue", "queueID", qc.ID, "error", err)
			}
			continue
		}

		// The database copy of the config wins over the snapshot copy.
		snap.Config = qc
		engine.RehydrateQueue(snap)
		restored++
	}

	log.Printf("Restored %d of %d queues from durable state", restored, len(rows))
}

func queueConfigFromRow(row dbx.NullStringMap) models.QueueConfig {
	qc := models.QueueConfig{
		ID:   row["id"].String,
		Name: row["name"].String,
	}
	if v, err := strconv.Atoi(row["max_concurrent_users"].String); err == nil {
		qc.MaxConcurrentUsers = v
	}
	if v, err := strconv.ParseFloat(row["release_rate_per_minute"].String, 64); err == nil {
		qc.ReleaseRatePerMinute = v
	}
	active := row["is_active"].String
	qc.IsActive = active == "1" || active == "true"

	opens := parseRecordTime(row["opens_at"].String)
	closes := parseRecordTime(row["closes_at"].String)
	if !opens.IsZero() || !closes.IsZero() {
		qc.Schedule = &models.QueueSchedule{OpensAt: opens, ClosesAt: closes}
	}
	return qc
}

func queueConfigFromRecord(record *core.Record) models.QueueConfig {
	qc := models.QueueConfig{
		ID:                   record.Id,
		Name:                 record.GetString("name"),
		MaxConcurrentUsers:   record.GetInt("max_concurrent_users"),
		ReleaseRatePerMinute: record.GetFloat("release_rate_per_minute"),
		IsActive:             record.GetBool("is_active"),
	}

	opens := record.GetDateTime("opens_at").Time()
	closes := record.GetDateTime("closes_at").Time()
	if !opens.IsZero() || !closes.IsZero() {
		qc.Schedule = &models.QueueSchedule{OpensAt: opens, ClosesAt: closes}
	}
	return qc
}

func parseRecordTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02 15:04:05.000Z", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// setupQueueHooks keeps the engine's registered queues in step with the
// "queues" collection. The hooks run after the record change has been
// persisted, so the engine only ever sees definitions the admin can see.
func setupQueueHooks(app *pocketbase.PocketBase, engine *services.AdmissionEngine) {
	app.OnRecordCreateRequest("queues").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := e.Next(); err != nil {
			return err
		}
		qc := queueConfigFromRecord(e.Record)
		if err := engine.RegisterQueue(e.Request.Context(), qc); err != nil {
			slog.Error("failed to register created queue", "queueID", qc.ID, "error", err)
			return nil
		}
		slog.Info("registered queue from collection create", "queueID", qc.ID)
		return nil
	})

	app.OnRecordUpdateRequest("queues").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := e.Next(); err != nil {
			return err
		}
		qc := queueConfigFromRecord(e.Record)
		if err := engine.RegisterQueue(e.Request.Context(), qc); err != nil {
			slog.Error("failed to apply queue update", "queueID", qc.ID, "error", err)
			return nil
		}
		slog.Info("applied queue update from collection", "queueID", qc.ID, "active", qc.IsActive)
		return nil
	})

	app.OnRecordDeleteRequest("queues").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := e.Next(); err != nil {
			return err
		}
		queueID := e.Record.Id
		if err := engine.RemoveQueue(e.Request.Context(), queueID); err != nil {
			slog.Error("failed to remove deleted queue", "queueID", queueID, "error", err)
			return nil
		}
		slog.Info("removed queue from collection delete", "queueID", queueID)
		return nil
	})
}

// startMetricsServer exposes Prometheus metrics on a sidecar port so the
// scrape path never competes with queue traffic.
func startMetricsServer(cfg *config.Config) {
	e := echo.New()
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "healthy"})
	})

	addr := ":" + cfg.MetricsPort
	log.Printf("Metrics server listening on %s", addr)
	srv := &http.Server{Addr: addr, Handler: e}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server stopped", "error", err)
	}
}

// handleShutdown drains background work before the process exits.
func handleShutdown(cancel context.CancelFunc, scheduler *services.ReleaseScheduler, engine *services.AdmissionEngine, sink eventsink.Sink) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
	scheduler.Shutdown()
	engine.Close()
	sink.Close()
}
