// Package facade is the offline-first read/write API over the cached
// entities. Callers never branch on connectivity: writes land locally
// first and reach the remote system either immediately or through the
// sync queue, reads prefer the remote and degrade to the cache.
package facade

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fieldops/fieldsync/internal/actor"
	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/logging"
	"github.com/fieldops/fieldsync/internal/metrics"
	"github.com/fieldops/fieldsync/internal/models"
	"github.com/fieldops/fieldsync/internal/network"
	"github.com/fieldops/fieldsync/internal/store"
	"github.com/fieldops/fieldsync/internal/sync/queue"
	"github.com/fieldops/fieldsync/internal/uuid"
)

// RemoteClient is the narrow contract against the remote system of
// record. One implementation exists per deployment; the facade and the
// queue executors never see anything wider than this.
type RemoteClient interface {
	Create(ctx context.Context, table string, payload json.RawMessage) (json.RawMessage, error)
	Update(ctx context.Context, table, id string, payload json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, table, id string) error
	Get(ctx context.Context, table, id string) (json.RawMessage, error)
	List(ctx context.Context, table string, filter map[string]string) ([]json.RawMessage, error)
	UploadPhoto(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

	PassThrough
}

// PassThrough enumerates the remote operations the facade exposes by
// plain delegation, with no offline handling. They require connectivity
// and fail with ErrOffline otherwise.
type PassThrough interface {
	// ProjectSummary returns the live dashboard aggregate for a project.
	ProjectSummary(ctx context.Context, projectID string) (json.RawMessage, error)
}

// Facade wires the store, queue, monitor and actor context into the
// per-entity API.
type Facade struct {
	store    *store.Store
	queue    *queue.Manager
	monitor  *network.Monitor
	actors   *actor.ContextStore
	remote   RemoteClient
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// New creates the facade. All collaborators are required except metrics,
// which defaults to a private registry.
func New(s *store.Store, q *queue.Manager, mon *network.Monitor, actors *actor.ContextStore, remote RemoteClient, m *metrics.Metrics) *Facade {
	if m == nil {
		m = metrics.New()
	}
	return &Facade{
		store:    s,
		queue:    q,
		monitor:  mon,
		actors:   actors,
		remote:   remote,
		metrics:  m,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Queue exposes the underlying queue manager for status surfaces.
func (f *Facade) Queue() *queue.Manager {
	return f.queue
}

// Actors exposes the actor context store.
func (f *Facade) Actors() *actor.ContextStore {
	return f.actors
}

// stamp validates actor presence, assigns a client identifier when the
// record is new, and fills the audit fields. No network involved.
func (f *Facade) stamp(ctx context.Context, id *string, audit *models.Audit) error {
	act, err := f.actors.Require(ctx)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if *id == "" {
		*id = uuid.New()
		audit.StampCreate(act, now)
		return nil
	}
	if audit.CreatedAt == 0 {
		audit.StampCreate(act, now)
	} else {
		audit.StampUpdate(act, now)
	}
	return nil
}

// check runs struct validation and maps failures to the error taxonomy.
func (f *Facade) check(v any) error {
	if err := f.validate.Struct(v); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "payload validation failed", err)
	}
	return nil
}

// write is the optimistic write core. The local Put happens first and
// its failure is the only error this returns; remote trouble of any kind
// degrades to the queued path.
func (f *Facade) write(ctx context.Context, collection string, op models.Operation, id string, payload json.RawMessage, category models.Category, priority models.Priority) (*models.CachedRecord, error) {
	rec, err := f.store.Put(ctx, collection, &models.CachedRecord{
		ID:         id,
		Payload:    payload,
		SyncStatus: models.SyncStatusPending,
	})
	if err != nil {
		return nil, err
	}

	if f.monitor.IsOnline() {
		canonical, remoteErr := f.applyRemote(ctx, op, collection, id, payload)
		if remoteErr == nil {
			return f.store.Put(ctx, collection, &models.CachedRecord{
				ID:         id,
				Payload:    canonical,
				SyncStatus: models.SyncStatusSynced,
			})
		}
		logging.Debug("immediate remote write failed, queueing", logging.Fields{
			"collection": collection, "id": id, "error": remoteErr.Error(),
		})
	}

	meta := map[string]string{"collection": collection, "record_id": id}
	if _, err := f.queue.Enqueue(ctx, op, collection, payload, category, priority, meta); err != nil {
		return nil, err
	}
	f.metrics.OperationsEnqueued.WithLabelValues(string(category)).Inc()
	return rec, nil
}

func (f *Facade) applyRemote(ctx context.Context, op models.Operation, collection, id string, payload json.RawMessage) (json.RawMessage, error) {
	switch op {
	case models.OperationCreate:
		return f.remote.Create(ctx, collection, payload)
	case models.OperationUpdate:
		return f.remote.Update(ctx, collection, id, payload)
	case models.OperationUploadPhoto:
		return f.remote.UploadPhoto(ctx, payload)
	default:
		return nil, apperrors.New(apperrors.ErrInvalid, "unsupported immediate operation")
	}
}

// remove is the optimistic delete core: the cache entry goes away at
// once, the remote delete follows immediately or via the queue.
func (f *Facade) remove(ctx context.Context, collection, id string, category models.Category, priority models.Priority) error {
	if _, err := f.actors.Require(ctx); err != nil {
		return err
	}
	if err := f.store.Delete(ctx, collection, id); err != nil {
		return err
	}

	if f.monitor.IsOnline() {
		if err := f.remote.Delete(ctx, collection, id); err == nil {
			return nil
		}
	}

	payload, _ := json.Marshal(map[string]string{"id": id})
	meta := map[string]string{"collection": collection, "record_id": id}
	if _, err := f.queue.Enqueue(ctx, models.OperationDelete, collection, payload, category, priority, meta); err != nil {
		return err
	}
	f.metrics.OperationsEnqueued.WithLabelValues(string(category)).Inc()
	return nil
}

// list is the write-through read core. Online it refreshes the cache
// from the remote result first; in every case the returned rows come
// from the cache so locally pending writes stay visible.
func (f *Facade) list(ctx context.Context, collection, indexName, value string) ([]*models.CachedRecord, error) {
	if f.monitor.IsOnline() {
		var filter map[string]string
		if indexName != "" {
			filter = map[string]string{indexName: value}
		}
		payloads, err := f.remote.List(ctx, collection, filter)
		if err == nil {
			f.refresh(ctx, collection, payloads)
		} else {
			logging.Debug("remote list failed, serving cache", logging.Fields{
				"collection": collection, "error": err.Error(),
			})
		}
	}

	if indexName == "" {
		return f.store.GetAll(ctx, collection)
	}
	return f.store.GetByIndex(ctx, collection, indexName, value)
}

// get is the single-record read core with the same degradation rules.
func (f *Facade) get(ctx context.Context, collection, id string) (*models.CachedRecord, error) {
	if f.monitor.IsOnline() {
		payload, err := f.remote.Get(ctx, collection, id)
		if err == nil {
			f.refresh(ctx, collection, []json.RawMessage{payload})
		}
	}
	return f.store.Get(ctx, collection, id)
}

// refresh write-throughs remote records into the cache. Records with a
// local pending or failed copy are skipped: the unreplayed local edit
// wins until the queue settles it.
func (f *Facade) refresh(ctx context.Context, collection string, payloads []json.RawMessage) {
	for _, payload := range payloads {
		var probe struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(payload, &probe); err != nil || probe.ID == "" {
			continue
		}
		if existing, err := f.store.Get(ctx, collection, probe.ID); err == nil &&
			existing.SyncStatus != models.SyncStatusSynced {
			continue
		}
		if _, err := f.store.Put(ctx, collection, &models.CachedRecord{
			ID:         probe.ID,
			Payload:    payload,
			SyncStatus: models.SyncStatusSynced,
		}); err != nil {
			logging.Error("cache refresh failed", err, logging.Fields{
				"collection": collection, "id": probe.ID,
			})
			return
		}
	}
}

// ProjectSummary delegates to the remote system. Offline it fails; there
// is no cached fallback for live aggregates.
func (f *Facade) ProjectSummary(ctx context.Context, projectID string) (json.RawMessage, error) {
	if !f.monitor.IsOnline() {
		return nil, apperrors.New(apperrors.ErrOffline, "project summary requires connectivity")
	}
	return f.remote.ProjectSummary(ctx, projectID)
}

// ClearCache wipes every cached collection. Used on logout; the queue
// survives so unreplayed work is not lost.
func (f *Facade) ClearCache(ctx context.Context) error {
	for _, name := range f.store.Collections() {
		if name == store.CollectionSyncQueue {
			continue
		}
		if err := f.store.Clear(ctx, name); err != nil {
			return err
		}
	}
	return f.actors.Clear(ctx)
}
