package facade

import (
	"context"
	"encoding/json"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/models"
	"github.com/fieldops/fieldsync/internal/store"
	"github.com/fieldops/fieldsync/internal/sync/queue"
)

// RegisterExecutors binds the replay-side remote calls for every
// collection the facade writes. A successful replay settles the cached
// copy to the canonical server record with sync_status=synced, which is
// what turns an offline write into a confirmed one.
func (f *Facade) RegisterExecutors(reg *queue.Registry) {
	writable := []string{
		store.CollectionTickets,
		store.CollectionCrewCheckIns,
		store.CollectionDailyReports,
		store.CollectionMaterialRequests,
	}
	for _, collection := range writable {
		col := collection
		reg.Register(col, models.OperationCreate, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			canonical, err := f.remote.Create(ctx, col, payload)
			if err != nil {
				return nil, err
			}
			return canonical, f.settle(ctx, col, canonical)
		})
		reg.Register(col, models.OperationUpdate, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			id, err := payloadID(payload)
			if err != nil {
				return nil, err
			}
			canonical, err := f.remote.Update(ctx, col, id, payload)
			if err != nil {
				return nil, err
			}
			return canonical, f.settle(ctx, col, canonical)
		})
		reg.Register(col, models.OperationDelete, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			id, err := payloadID(payload)
			if err != nil {
				return nil, err
			}
			return nil, f.remote.Delete(ctx, col, id)
		})
	}

	reg.Register(store.CollectionPhotos, models.OperationUploadPhoto, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		canonical, err := f.remote.UploadPhoto(ctx, payload)
		if err != nil {
			return nil, err
		}
		return canonical, f.settle(ctx, store.CollectionPhotos, canonical)
	})
	reg.Register(store.CollectionPhotos, models.OperationDelete, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		id, err := payloadID(payload)
		if err != nil {
			return nil, err
		}
		return nil, f.remote.Delete(ctx, store.CollectionPhotos, id)
	})
}

// settle overwrites the cached copy with the server's canonical record.
func (f *Facade) settle(ctx context.Context, collection string, canonical json.RawMessage) error {
	id, err := payloadID(canonical)
	if err != nil {
		return err
	}
	_, err = f.store.Put(ctx, collection, &models.CachedRecord{
		ID:         id,
		Payload:    canonical,
		SyncStatus: models.SyncStatusSynced,
	})
	return err
}

func payloadID(payload json.RawMessage) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.ID == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "payload missing record id")
	}
	return probe.ID, nil
}
