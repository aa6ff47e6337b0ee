/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the course sales server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (file + env)
  2. Initialize SQLite store (entities + jobs share one database)
  3. Build the reconciliation engine and the job scheduler
  4. Wire the workflow and register its job handlers
  5. Start the HTTP server and the scheduler's poll loop

COMMAND-LINE FLAGS:
  -config  Directory containing config.yaml (default: working directory)
  -db      SQLite database path, overrides config
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete
  3. Stop the scheduler (waits for an in-flight drain)
  4. Close database connection
  5. Exit

PROVIDERS:
  The provider clients wired here are the in-memory implementations. Real
  platform clients implement the same interfaces in the provider package
  and slot in without touching anything below this file.

SEE ALSO:
  - api/server.go: Router configuration
  - workflow/workflow.go: Sale lifecycle orchestration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/giltayar/coursesales/api"
	"github.com/giltayar/coursesales/config"
	"github.com/giltayar/coursesales/jobs"
	"github.com/giltayar/coursesales/provider/memory"
	"github.com/giltayar/coursesales/reconcile"
	"github.com/giltayar/coursesales/store/sqlite"
	"github.com/giltayar/coursesales/versioned"
	"github.com/giltayar/coursesales/workflow"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// Store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal("initialize database", zap.Error(err))
	}
	defer store.Close()

	entities := versioned.NewEntities(store)

	// Reconciliation
	engine := reconcile.NewEngine(memory.NewCourses(), memory.NewLists(), memory.NewGroups(), log)
	engine.Attempts = cfg.Reconcile.Attempts
	engine.Delay = cfg.Reconcile.Delay

	// Jobs
	registry := jobs.NewRegistry()
	scheduler := jobs.NewScheduler(store, registry, log)
	scheduler.PollInterval = cfg.Jobs.PollInterval
	scheduler.RunInTx = store.WithTx

	// Workflow
	wf, err := workflow.New(workflow.Config{
		Entities:    entities,
		Engine:      engine,
		Registry:    registry,
		JobStore:    store,
		Log:         log,
		RunInTx:     store.WithTx,
		Trigger:     scheduler.Trigger,
		CancelGrace: cfg.Reconcile.CancelGrace,
	})
	if err != nil {
		log.Fatal("wire workflow", zap.Error(err))
	}

	router := api.NewRouter(api.NewHandler(wf, scheduler, log))

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	scheduler.Start()

	go func() {
		log.Info("server starting", zap.String("addr", server.Addr), zap.String("db", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	scheduler.Stop()

	log.Info("server stopped")
}
