// Package main provides the obradiario sync daemon. It owns the durable
// operation queue and exposes a localhost REST/WebSocket surface the PWA
// consumes for queue state and manual sync triggers.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obradiario/backend/internal/config"
	"github.com/obradiario/backend/internal/db"
	"github.com/obradiario/backend/internal/logging"
	"github.com/obradiario/backend/internal/netmon"
	"github.com/obradiario/backend/internal/queue"
	"github.com/obradiario/backend/internal/queue/scheduler"
	"github.com/obradiario/backend/internal/remote"
	"github.com/obradiario/backend/internal/ws"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	logging.Init(os.Stdout, logging.LevelInfo)

	if err := run(*configPath); err != nil {
		logging.Error("Daemon exited with error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database.DB); err != nil {
		return err
	}

	client, err := remote.NewClient(cfg.API.BaseURL, func() string { return cfg.API.Token })
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prober := netmon.NewProber(client, cfg.Sync.ProbeInterval.Std())
	prober.Start(ctx)
	defer prober.Stop()

	store := db.NewStore(database.DB)
	mgr := queue.NewManager(store, prober)
	dispatcher := queue.NewDispatcher(mgr, client, prober)
	mgr.SetDispatchTrigger(func() { dispatcher.ProcessQueue(ctx) })

	observer := queue.NewObserver(mgr, prober)
	defer observer.Close()

	sched := scheduler.New(dispatcher, mgr, prober, &scheduler.Config{
		SyncInterval:    cfg.Sync.Interval.Std(),
		CleanupInterval: cfg.Sync.CleanupInterval.Std(),
		Retention:       cfg.Sync.Retention.Std(),
	})
	sched.Start(ctx)
	defer sched.Stop()

	hub := ws.NewHub()
	defer hub.Close()

	unsubscribe := observer.Subscribe(func(snapshot queue.Snapshot) {
		hub.Broadcast(ws.EventQueueChanged, snapshotData(snapshot))
	})
	defer unsubscribe()

	server := newServer(serverDeps{
		mgr:        mgr,
		dispatcher: dispatcher,
		observer:   observer,
		session:    client,
		hub:        hub,
		retention:  cfg.Sync.Retention.Std(),
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Sync daemon listening", map[string]interface{}{
			"addr":    cfg.ListenAddr,
			"version": Version,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down sync daemon")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// snapshotData flattens a snapshot for the WebSocket envelope.
func snapshotData(snapshot queue.Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"pending_count":          snapshot.PendingCount,
		"failed_count":           snapshot.FailedCount,
		"is_online":              snapshot.IsOnline,
		"has_pending_operations": snapshot.HasPendingOperations,
		"session_expired":        snapshot.SessionExpired,
	}
}
