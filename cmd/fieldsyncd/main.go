// fieldsyncd runs the offline-first sync engine for a field-operations
// dashboard: durable local cache, mutation queue, network monitoring,
// and a localhost REST/WebSocket surface for the UI.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldops/fieldsync/cmd/fieldsyncd/handlers"
	"github.com/fieldops/fieldsync/internal/actor"
	"github.com/fieldops/fieldsync/internal/config"
	"github.com/fieldops/fieldsync/internal/facade"
	"github.com/fieldops/fieldsync/internal/logging"
	"github.com/fieldops/fieldsync/internal/metrics"
	"github.com/fieldops/fieldsync/internal/network"
	"github.com/fieldops/fieldsync/internal/remote"
	"github.com/fieldops/fieldsync/internal/store"
	"github.com/fieldops/fieldsync/internal/sync/queue"
	"github.com/fieldops/fieldsync/internal/sync/scheduler"
)

// notifier fans scheduler events to the websocket hub and the metrics
// collectors.
type notifier struct {
	hub *WSHub
	m   *metrics.Metrics
}

func (n *notifier) SyncStarted(pending int) {
	n.hub.SyncStarted(pending)
}

func (n *notifier) SyncCompleted(result *queue.Result) {
	n.hub.SyncCompleted(result)
	n.m.SyncBatches.Inc()
	n.m.OperationsSynced.Add(float64(result.Synced))
	n.m.OperationsFailed.Add(float64(result.Failed))
}

func (n *notifier) SyncFailed(err error) {
	n.hub.SyncFailed(err)
}

func main() {
	configPath := flag.String("config", os.Getenv("FIELDSYNC_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init(os.Stderr, "info")
		logging.Error("configuration error", err, nil)
		os.Exit(1)
	}

	logging.Init(os.Stdout, cfg.LogLevel)
	logging.Info("fieldsyncd starting", logging.Fields{
		"data_dir": cfg.DataDir, "remote": cfg.RemoteBaseURL, "listen": cfg.ListenAddr,
	})

	s, err := store.Open(cfg.DataDir, store.DefaultSchema())
	if err != nil {
		logging.Error("open store", err, nil)
		os.Exit(1)
	}
	defer s.Close()

	m := metrics.New()
	q := queue.NewManager(s, queue.Config{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BackoffBase.Std(),
		MaxDelay:   cfg.BackoffMax.Std(),
	})
	monitor := network.NewMonitor(network.Config{
		BaseURL:       cfg.RemoteBaseURL,
		ProbeInterval: cfg.ProbeInterval.Std(),
		ProbeTimeout:  cfg.ProbeTimeout.Std(),
	})
	actors := actor.NewContextStore(s)
	remoteClient := remote.New(cfg.RemoteBaseURL, cfg.SyncTimeout.Std())

	f := facade.New(s, q, monitor, actors, remoteClient, m)
	registry := queue.NewRegistry()
	f.RegisterExecutors(registry)

	hub := NewWSHub()
	monitor.Subscribe(func(online bool) {
		hub.NetworkChanged(online)
		if online {
			m.Online.Set(1)
		} else {
			m.Online.Set(0)
		}
	})

	sch := scheduler.New(q, registry, monitor, &notifier{hub: hub, m: m}, scheduler.Config{
		SyncInterval: cfg.SyncInterval.Std(),
		SyncTimeout:  cfg.SyncTimeout.Std(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	defer monitor.Stop()
	sch.Start(ctx)
	defer sch.Stop()

	go trackQueueDepth(ctx, q, m)

	mux := http.NewServeMux()
	handlers.NewStatusHandler(sch, q, monitor, actors).Register(mux)
	mux.HandleFunc("GET /ws", HandleWebSocket(hub))
	mux.Handle("GET /metrics", m.Handler())

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("http server listening", logging.Fields{"addr": cfg.ListenAddr})
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("shutting down", logging.Fields{"signal": sig.String()})
	case err := <-errCh:
		logging.Error("http server failed", err, nil)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown error", err, nil)
	}
}

// trackQueueDepth keeps the pending gauge current.
func trackQueueDepth(ctx context.Context, q *queue.Manager, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := q.PendingCount(ctx); err == nil {
				m.QueuePending.Set(float64(n))
			}
		}
	}
}
