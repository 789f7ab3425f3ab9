// Command regmonitor runs the regulatory intelligence monitor: it polls
// configured regulatory sources, stores and indexes detected changes in
// the knowledge base, and routes events through the event bus.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/regulens/platform/internal/config"
	"github.com/regulens/platform/internal/eventbus"
	"github.com/regulens/platform/internal/knowledgebase"
	"github.com/regulens/platform/internal/migrations"
	"github.com/regulens/platform/internal/monitor"
	"github.com/regulens/platform/internal/sources"
	"github.com/regulens/platform/pkg/logger"
	"github.com/regulens/platform/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLog := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	appLog.WithField("env", cfg.Env).Info("starting regulatory monitor")

	db, err := sql.Open("postgres", cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	if err := migrations.Apply(db); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	kb := knowledgebase.New(db, cfg.MaxInMemory, appLog)
	if cfg.ClusterCacheInvalidation {
		if err := kb.EnableClusterInvalidation(cfg.DatabaseDSN); err != nil {
			appLog.Errorf("cluster cache invalidation disabled: %v", err)
		}
	}
	if data, err := os.ReadFile(cfg.SnapshotPath); err == nil {
		if _, err := kb.ImportFromJSON(data); err != nil {
			appLog.Errorf("load knowledge base snapshot: %v", err)
		}
	}

	bus := eventbus.New(eventbus.Config{
		MaxQueueSize:  cfg.MaxQueueSize,
		WorkerThreads: cfg.WorkerThreads,
	}, db, kb, appLog)

	activeSources, err := sources.NewConfiguredSources(cfg, kb, appLog)
	if err != nil {
		log.Fatalf("configure sources: %v", err)
	}

	rootCtx := context.Background()
	for _, src := range activeSources {
		if err := src.Initialize(rootCtx); err != nil {
			appLog.WithField("source", src.SourceID()).Errorf("initialize failed: %v", err)
		}
	}

	mon, err := monitor.New(monitor.Config{CheckInterval: cfg.CheckInterval}, activeSources, kb, bus, appLog)
	if err != nil {
		log.Fatalf("build monitor: %v", err)
	}

	bus.Initialize(rootCtx)
	mon.Start(rootCtx)

	srv := newStatusServer(cfg.ListenAddr, bus, mon)
	go func() {
		appLog.WithField("addr", cfg.ListenAddr).Info("status endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Errorf("status server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	appLog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	mon.Stop()
	bus.Shutdown()
	if data, err := kb.ExportToJSON(); err != nil {
		appLog.Errorf("export knowledge base snapshot: %v", err)
	} else if err := os.WriteFile(cfg.SnapshotPath, data, 0o644); err != nil {
		appLog.Errorf("write knowledge base snapshot: %v", err)
	}
	if err := kb.CloseClusterInvalidation(); err != nil {
		appLog.Errorf("cluster cache invalidation shutdown: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Errorf("status server shutdown: %v", err)
	}

	appLog.Info("regulatory monitor stopped")
}

func newStatusServer(addr string, bus *eventbus.Bus, mon *monitor.Monitor) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/status", handleStatus(bus, mon)).Methods(http.MethodGet)
	return &http.Server{Addr: addr, Handler: router}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func handleStatus(bus *eventbus.Bus, mon *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"version":             version.FullVersion(),
			"event_bus":           bus.GetStatistics(),
			"monitor":             mon.GetStatistics(),
			"active_source_count": mon.ActiveSourceCount(),
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
