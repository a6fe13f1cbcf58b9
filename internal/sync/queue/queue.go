// Package queue provides the durable sync queue: a priority/FIFO-ordered
// record of mutations that could not be confirmed against the remote
// system, plus the loop that replays them when connectivity allows.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/logging"
	"github.com/fieldops/fieldsync/internal/models"
	"github.com/fieldops/fieldsync/internal/store"
	"github.com/fieldops/fieldsync/internal/uuid"
)

// ExecutorFunc applies one operation's payload against the remote system
// and returns the canonical server record. One function exists per
// (table, operation) pair, supplied by the surrounding application.
type ExecutorFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Registry maps (table, operation) pairs to their remote executors.
type Registry struct {
	executors map[string]ExecutorFunc
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]ExecutorFunc)}
}

// Register binds an executor to a (table, operation) pair.
func (r *Registry) Register(table string, op models.Operation, fn ExecutorFunc) {
	r.executors[table+"/"+string(op)] = fn
}

// Lookup returns the executor for a pair, or nil.
func (r *Registry) Lookup(table string, op models.Operation) ExecutorFunc {
	return r.executors[table+"/"+string(op)]
}

// Config holds queue tuning knobs.
type Config struct {
	MaxRetries int           // attempts before an operation needs operator action (default 5)
	BaseDelay  time.Duration // backoff base (default 15s)
	MaxDelay   time.Duration // backoff cap (default 30m)
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		BaseDelay:  15 * time.Second,
		MaxDelay:   30 * time.Minute,
	}
}

// Manager owns the durable queue. It keeps no timers of its own: an
// external driver schedules replay using the computed backoff.
type Manager struct {
	store      *store.Store
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	mu      sync.Mutex
	syncing bool
}

// NewManager creates a queue manager over the local store.
func NewManager(s *store.Store, cfg Config) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	return &Manager{
		store:      s,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
	}
}

// MaxRetries returns the retry budget per operation.
func (m *Manager) MaxRetries() int {
	return m.maxRetries
}

// Enqueue records a mutation for later replay. It is a pure local-store
// write and never fails because of network state.
func (m *Manager) Enqueue(ctx context.Context, op models.Operation, table string, payload json.RawMessage, category models.Category, priority models.Priority, metadata map[string]string) (*models.SyncOperation, error) {
	sop := &models.SyncOperation{
		ID:        uuid.New(),
		Operation: op,
		Table:     table,
		Payload:   payload,
		Category:  category,
		Priority:  priority,
		Status:    models.OperationStatusPending,
		Timestamp: time.Now().UnixNano(),
		Retries:   0,
		Metadata:  metadata,
	}
	if err := m.persist(ctx, sop); err != nil {
		return nil, err
	}

	logging.Debug("enqueued sync operation", logging.Fields{
		"op_id": sop.ID, "operation": string(op), "table": table, "priority": int(priority),
	})
	return sop, nil
}

// persist writes the operation into the queue collection.
func (m *Manager) persist(ctx context.Context, op *models.SyncOperation) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "marshal sync operation", err)
	}
	_, err = m.store.Put(ctx, store.CollectionSyncQueue, &models.CachedRecord{
		ID:         op.ID,
		Payload:    payload,
		SyncStatus: recordStatus(op.Status),
	})
	return err
}

func recordStatus(s models.OperationStatus) models.SyncStatus {
	switch s {
	case models.OperationStatusSynced:
		return models.SyncStatusSynced
	case models.OperationStatusFailed:
		return models.SyncStatusFailed
	default:
		return models.SyncStatusPending
	}
}

// Get returns a single queued operation by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.SyncOperation, error) {
	rec, err := m.store.Get(ctx, store.CollectionSyncQueue, id)
	if err != nil {
		return nil, err
	}
	var op models.SyncOperation
	if err := rec.Decode(&op); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCorruption, "decode sync operation", err)
	}
	return &op, nil
}

// List returns every queued operation, including failed entries that have
// exhausted their retries: those stay visible until acknowledged.
func (m *Manager) List(ctx context.Context) ([]*models.SyncOperation, error) {
	recs, err := m.store.GetAll(ctx, store.CollectionSyncQueue)
	if err != nil {
		return nil, err
	}
	ops := make([]*models.SyncOperation, 0, len(recs))
	for _, rec := range recs {
		var op models.SyncOperation
		if err := rec.Decode(&op); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCorruption, "decode sync operation", err)
		}
		ops = append(ops, &op)
	}
	return ops, nil
}

// ReplaySet returns the operations due for replay: pending ones plus
// failed ones still inside the retry budget, ordered by ascending
// priority and then by enqueue time within a priority band.
func (m *Manager) ReplaySet(ctx context.Context) ([]*models.SyncOperation, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	ops := make([]*models.SyncOperation, 0, len(all))
	for _, op := range all {
		if op.Status == models.OperationStatusPending ||
			(op.Status == models.OperationStatusFailed && op.Retries < m.maxRetries) {
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority < ops[j].Priority
		}
		if ops[i].Timestamp != ops[j].Timestamp {
			return ops[i].Timestamp < ops[j].Timestamp
		}
		return ops[i].ID < ops[j].ID
	})
	return ops, nil
}

// PendingCount returns the size of the current replay set.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	ops, err := m.ReplaySet(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// OpError describes one failed operation from a replay batch.
type OpError struct {
	OperationID string           `json:"operation_id"`
	Table       string           `json:"table"`
	Operation   models.Operation `json:"operation"`
	Message     string           `json:"message"`
}

// Result aggregates a replay batch.
type Result struct {
	Synced int       `json:"synced"`
	Failed int       `json:"failed"`
	Errors []OpError `json:"errors,omitempty"`
}

// SyncAllPending replays the ordered set sequentially against the
// registered executors. An operation leaves the queue only on confirmed
// success; a failure updates that operation's own bookkeeping and never
// halts the rest of the batch. Replaying an empty queue is a no-op.
func (m *Manager) SyncAllPending(ctx context.Context, reg *Registry) (*Result, error) {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "replay already running")
	}
	m.syncing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.mu.Unlock()
	}()

	ops, err := m.ReplaySet(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, op := range ops {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		op.Status = models.OperationStatusSyncing
		if err := m.persist(ctx, op); err != nil {
			return result, err
		}

		fn := reg.Lookup(op.Table, op.Operation)
		if fn == nil {
			m.recordFailure(ctx, op, result,
				apperrors.New(apperrors.ErrNoExecutor, fmt.Sprintf("no executor for %s/%s", op.Table, op.Operation)))
			continue
		}

		if _, err := fn(ctx, op.Payload); err != nil {
			m.recordFailure(ctx, op, result, err)
			continue
		}

		// Confirmed remotely; only now does the entry leave the queue.
		if err := m.store.Delete(ctx, store.CollectionSyncQueue, op.ID); err != nil {
			return result, err
		}
		result.Synced++
	}

	logging.Info("replay batch finished", logging.Fields{
		"synced": result.Synced, "failed": result.Failed,
	})
	return result, nil
}

// IsSyncing reports whether a replay batch is currently running.
func (m *Manager) IsSyncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncing
}

func (m *Manager) recordFailure(ctx context.Context, op *models.SyncOperation, result *Result, cause error) {
	op.Status = models.OperationStatusFailed
	op.Retries++
	op.LastError = cause.Error()
	if err := m.persist(ctx, op); err != nil {
		logging.Error("failed to persist operation failure", err, logging.Fields{"op_id": op.ID})
	}
	result.Failed++
	result.Errors = append(result.Errors, OpError{
		OperationID: op.ID,
		Table:       op.Table,
		Operation:   op.Operation,
		Message:     cause.Error(),
	})

	logging.Warn("sync operation failed", logging.Fields{
		"op_id": op.ID, "table": op.Table, "retries": op.Retries,
		"max_retries": m.maxRetries, "error": cause.Error(),
	})
}

// Backoff computes the advisory re-attempt delay for a retried operation:
// min(base * 2^retries, max) with ±25% jitter. The manager starts no
// timers itself; the auto-sync driver schedules with this value.
func (m *Manager) Backoff(retries int) time.Duration {
	delay := m.baseDelay
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay >= m.maxDelay {
			delay = m.maxDelay
			break
		}
	}
	jitter := 1 + (rand.Float64()*0.5 - 0.25)
	return time.Duration(float64(delay) * jitter)
}

// Stats summarizes the queue for staleness alerting and UI breakdowns.
type Stats struct {
	Total         int                     `json:"total"`
	Pending       int                     `json:"pending"`
	Syncing       int                     `json:"syncing"`
	Synced        int                     `json:"synced"`
	Failed        int                     `json:"failed"`
	ByCategory    map[models.Category]int `json:"by_category"`
	ByPriority    map[models.Priority]int `json:"by_priority"`
	OldestPending *time.Time              `json:"oldest_pending,omitempty"`
}

// GetStats computes queue statistics.
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	ops, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByCategory: make(map[models.Category]int),
		ByPriority: make(map[models.Priority]int),
	}
	for _, op := range ops {
		stats.Total++
		stats.ByCategory[op.Category]++
		stats.ByPriority[op.Priority]++
		switch op.Status {
		case models.OperationStatusPending:
			stats.Pending++
			at := op.EnqueuedAt()
			if stats.OldestPending == nil || at.Before(*stats.OldestPending) {
				stats.OldestPending = &at
			}
		case models.OperationStatusSyncing:
			stats.Syncing++
		case models.OperationStatusSynced:
			stats.Synced++
		case models.OperationStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Retry resets a failed operation for another replay round, clearing its
// retry count. This is the explicit operator action for entries that
// exhausted their budget.
func (m *Manager) Retry(ctx context.Context, id string) error {
	op, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if op.Status != models.OperationStatusFailed {
		return apperrors.New(apperrors.ErrInvalid, "only failed operations can be retried")
	}
	op.Status = models.OperationStatusPending
	op.Retries = 0
	op.LastError = ""
	return m.persist(ctx, op)
}

// RetryAllFailed resets every failed operation and returns how many.
func (m *Manager) RetryAllFailed(ctx context.Context) (int, error) {
	ops, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, op := range ops {
		if op.Status != models.OperationStatusFailed {
			continue
		}
		op.Status = models.OperationStatusPending
		op.Retries = 0
		op.LastError = ""
		if err := m.persist(ctx, op); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ClearSynced purges entries already marked synced that were not removed
// immediately. Idempotent and safe to call anytime.
func (m *Manager) ClearSynced(ctx context.Context) (int, error) {
	ops, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, op := range ops {
		if op.Status != models.OperationStatusSynced {
			continue
		}
		if err := m.store.Delete(ctx, store.CollectionSyncQueue, op.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Remove deletes a queued operation outright, regardless of status.
func (m *Manager) Remove(ctx context.Context, id string) error {
	return m.store.Delete(ctx, store.CollectionSyncQueue, id)
}
