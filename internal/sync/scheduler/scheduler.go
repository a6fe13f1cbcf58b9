// Package scheduler drives the sync queue: periodic replay while the link
// is up, an immediate replay when connectivity returns, and backoff-spaced
// re-attempts after a batch with failures. The queue itself holds no
// timers; everything time-driven lives here.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/logging"
	"github.com/fieldops/fieldsync/internal/network"
	"github.com/fieldops/fieldsync/internal/sync/queue"
)

// Notifier receives sync lifecycle events. The status websocket hub
// implements this; NopNotifier is used when nothing listens.
type Notifier interface {
	SyncStarted(pending int)
	SyncCompleted(result *queue.Result)
	SyncFailed(err error)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) SyncStarted(int)             {}
func (NopNotifier) SyncCompleted(*queue.Result) {}
func (NopNotifier) SyncFailed(error)            {}

// Config holds scheduler tuning knobs.
type Config struct {
	SyncInterval time.Duration // periodic replay cadence while online (default 5m)
	SyncTimeout  time.Duration // per-batch deadline (default 5m)
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		SyncInterval: 5 * time.Minute,
		SyncTimeout:  5 * time.Minute,
	}
}

// Scheduler owns the background replay loop.
type Scheduler struct {
	queue    *queue.Manager
	registry *queue.Registry
	monitor  *network.Monitor
	notifier Notifier

	syncInterval time.Duration
	syncTimeout  time.Duration

	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu           sync.RWMutex
	running      bool
	lastSyncTime time.Time
	lastResult   *queue.Result
	unsubscribe  func()
}

// New creates a scheduler over the queue, executor registry and monitor.
func New(q *queue.Manager, reg *queue.Registry, mon *network.Monitor, notifier Notifier, cfg Config) *Scheduler {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultConfig().SyncInterval
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultConfig().SyncTimeout
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Scheduler{
		queue:        q,
		registry:     reg,
		monitor:      mon,
		notifier:     notifier,
		syncInterval: cfg.SyncInterval,
		syncTimeout:  cfg.SyncTimeout,
		kick:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the background loop and hooks the network monitor.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true

	// A regained link triggers an immediate replay attempt.
	s.unsubscribe = s.monitor.Subscribe(func(online bool) {
		if online {
			s.TriggerSync()
		}
	})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("sync scheduler started", logging.Fields{
		"interval": s.syncInterval.String(),
	})
}

// Stop halts the loop and waits for an in-flight batch to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("sync scheduler stopped", nil)
}

// TriggerSync requests an immediate replay. It never blocks; if a kick
// is already queued the request coalesces into it.
func (s *Scheduler) TriggerSync() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	// A failed batch schedules a backoff-spaced re-attempt on this timer.
	var retry *time.Timer
	var retryC <-chan time.Time
	stopRetry := func() {
		if retry != nil {
			retry.Stop()
			retry = nil
			retryC = nil
		}
	}
	defer stopRetry()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		case <-s.kick:
		case <-retryC:
			stopRetry()
		}

		if !s.monitor.IsOnline() {
			continue
		}

		if delay, ok := s.runOnce(ctx); ok && delay > 0 {
			stopRetry()
			retry = time.NewTimer(delay)
			retryC = retry.C
		}
	}
}

// runOnce replays the queue once. It returns a re-attempt delay when the
// batch left failed operations behind.
func (s *Scheduler) runOnce(ctx context.Context) (time.Duration, bool) {
	pending, err := s.queue.PendingCount(ctx)
	if err != nil {
		logging.Error("pending count failed", err, nil)
		return 0, false
	}
	if pending == 0 {
		return 0, false
	}

	s.notifier.SyncStarted(pending)

	batchCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	result, err := s.queue.SyncAllPending(batchCtx, s.registry)
	cancel()

	if err != nil {
		if apperrors.Is(err, apperrors.ErrSyncInProgress) {
			return 0, false
		}
		logging.Error("replay batch failed", err, nil)
		s.notifier.SyncFailed(err)
		return 0, false
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.lastResult = result
	s.mu.Unlock()

	s.notifier.SyncCompleted(result)

	if result.Failed > 0 {
		// Space the next attempt by the most-retried failure's backoff.
		maxRetries := 0
		for _, e := range result.Errors {
			if op, err := s.queue.Get(ctx, e.OperationID); err == nil && op.Retries > maxRetries {
				maxRetries = op.Retries
			}
		}
		delay := s.queue.Backoff(maxRetries)
		logging.Debug("scheduling retry after failures", logging.Fields{
			"failed": result.Failed, "delay": delay.String(),
		})
		return delay, true
	}
	return 0, false
}

// SyncNow replays the queue immediately and waits for the batch.
func (s *Scheduler) SyncNow(ctx context.Context) (*queue.Result, error) {
	if !s.monitor.IsOnline() {
		return nil, apperrors.New(apperrors.ErrOffline, "cannot sync while offline")
	}

	batchCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.queue.SyncAllPending(batchCtx, s.registry)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.lastResult = result
	s.mu.Unlock()
	return result, nil
}

// Status is a point-in-time snapshot of the sync engine for the UI.
type Status struct {
	Running      bool          `json:"running"`
	Online       bool          `json:"online"`
	Syncing      bool          `json:"syncing"`
	Pending      int           `json:"pending"`
	LastSyncTime *time.Time    `json:"last_sync_time,omitempty"`
	LastResult   *queue.Result `json:"last_result,omitempty"`
}

// GetStatus builds the current snapshot.
func (s *Scheduler) GetStatus(ctx context.Context) (*Status, error) {
	pending, err := s.queue.PendingCount(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Status{
		Running:    s.running,
		Online:     s.monitor.IsOnline(),
		Syncing:    s.queue.IsSyncing(),
		Pending:    pending,
		LastResult: s.lastResult,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		st.LastSyncTime = &t
	}
	return st, nil
}

// IsRunning reports whether the background loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
