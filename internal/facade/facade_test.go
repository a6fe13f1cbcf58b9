package facade

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fieldsync/internal/actor"
	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/models"
	"github.com/fieldops/fieldsync/internal/network"
	"github.com/fieldops/fieldsync/internal/store"
	"github.com/fieldops/fieldsync/internal/sync/queue"
)

// fakeRemote is an in-memory remote system of record.
type fakeRemote struct {
	mu      sync.Mutex
	fail    bool
	records map[string]map[string]json.RawMessage // table -> id -> payload
	calls   int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{records: make(map[string]map[string]json.RawMessage)}
}

func (r *fakeRemote) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

func (r *fakeRemote) store(table, id string, payload json.RawMessage) {
	if r.records[table] == nil {
		r.records[table] = make(map[string]json.RawMessage)
	}
	r.records[table][id] = payload
}

// canonicalize simulates the server stamping a secondary field.
func canonicalize(payload json.RawMessage) json.RawMessage {
	var m map[string]any
	_ = json.Unmarshal(payload, &m)
	m["server_revision"] = 1
	out, _ := json.Marshal(m)
	return out
}

func (r *fakeRemote) Create(ctx context.Context, table string, payload json.RawMessage) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail {
		return nil, errors.New("remote unavailable")
	}
	canonical := canonicalize(payload)
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(canonical, &probe)
	r.store(table, probe.ID, canonical)
	return canonical, nil
}

func (r *fakeRemote) Update(ctx context.Context, table, id string, payload json.RawMessage) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail {
		return nil, errors.New("remote unavailable")
	}
	canonical := canonicalize(payload)
	r.store(table, id, canonical)
	return canonical, nil
}

func (r *fakeRemote) Delete(ctx context.Context, table, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail {
		return errors.New("remote unavailable")
	}
	delete(r.records[table], id)
	return nil
}

func (r *fakeRemote) Get(ctx context.Context, table, id string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errors.New("remote unavailable")
	}
	payload, ok := r.records[table][id]
	if !ok {
		return nil, errors.New("not found")
	}
	return payload, nil
}

func (r *fakeRemote) List(ctx context.Context, table string, filter map[string]string) ([]json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errors.New("remote unavailable")
	}
	var out []json.RawMessage
	for _, payload := range r.records[table] {
		match := true
		var m map[string]any
		_ = json.Unmarshal(payload, &m)
		for field, want := range filter {
			if v, ok := m[indexField(field)]; !ok || v != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, payload)
		}
	}
	return out, nil
}

func indexField(indexName string) string {
	switch indexName {
	case store.IndexByProject:
		return "project_id"
	case store.IndexByTicket:
		return "ticket_id"
	default:
		return indexName
	}
}

func (r *fakeRemote) UploadPhoto(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return r.Create(ctx, store.CollectionPhotos, payload)
}

func (r *fakeRemote) ProjectSummary(ctx context.Context, projectID string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errors.New("remote unavailable")
	}
	return json.RawMessage(`{"open_tickets":3}`), nil
}

type env struct {
	facade   *Facade
	store    *store.Store
	queue    *queue.Manager
	registry *queue.Registry
	monitor  *network.Monitor
	remote   *fakeRemote
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := store.Open(t.TempDir(), store.DefaultSchema())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e := &env{
		store:    s,
		queue:    queue.NewManager(s, queue.Config{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute}),
		registry: queue.NewRegistry(),
		monitor:  network.NewMonitor(network.Config{BaseURL: "http://127.0.0.1:0"}),
		remote:   newFakeRemote(),
	}
	actors := actor.NewContextStore(s)
	require.NoError(t, actors.Set(context.Background(), "3f6c1c9e-8a1b-4f6e-9c7d-2b5a8d4e1f0a", "Pat Rivera", "pat@example.com", "foreman"))

	e.facade = New(s, e.queue, e.monitor, actors, e.remote, nil)
	e.facade.RegisterExecutors(e.registry)
	return e
}

func validTicket() *models.Ticket {
	return &models.Ticket{
		ProjectID: "7b1d2c3e-4f5a-4b6c-8d7e-9f0a1b2c3d4e",
		Title:     "Broken scaffold on level 3",
	}
}

func TestOfflineCreateThenReplay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec, err := e.facade.CreateTicket(ctx, validTicket())
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, rec.SyncStatus)
	assert.NotEmpty(t, rec.ID)

	// Optimistic write: present locally immediately.
	cached, err := e.store.Get(ctx, store.CollectionTickets, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, cached.SyncStatus)

	n, err := e.queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)

	// Connectivity returns; replay drains the queue and settles the copy.
	e.monitor.SetOnline(true)
	result, err := e.queue.SyncAllPending(ctx, e.registry)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	n, err = e.queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	cached, err = e.store.Get(ctx, store.CollectionTickets, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, cached.SyncStatus)

	// Stable identity: the id assigned at creation survives the sync.
	var ticket models.Ticket
	require.NoError(t, cached.Decode(&ticket))
	assert.Equal(t, rec.ID, ticket.ID)
}

func TestOnlineCreateSyncsImmediately(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.monitor.SetOnline(true)

	rec, err := e.facade.CreateTicket(ctx, validTicket())
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, rec.SyncStatus)

	// Canonical server record, including server-assigned fields.
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Payload, &m))
	assert.Contains(t, m, "server_revision")

	n, err := e.queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOnlineRemoteFailureDegradesToQueue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.monitor.SetOnline(true)
	e.remote.setFail(true)

	rec, err := e.facade.CreateTicket(ctx, validTicket())
	require.NoError(t, err, "remote failure must not surface from a write")
	assert.Equal(t, models.SyncStatusPending, rec.SyncStatus)

	n, err := e.queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWriteWithoutActorRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.facade.Actors().Clear(ctx))

	_, err := e.facade.CreateTicket(ctx, validTicket())
	assert.True(t, apperrors.Is(err, apperrors.ErrActorRequired))
}

func TestValidationRejectsBeforePersisting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.facade.CreateTicket(ctx, &models.Ticket{ProjectID: "not-a-uuid", Title: "x"})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	recs, err := e.store.GetAll(ctx, store.CollectionTickets)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestAuditStampedFromActor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec, err := e.facade.CreateTicket(ctx, validTicket())
	require.NoError(t, err)

	var ticket models.Ticket
	require.NoError(t, rec.Decode(&ticket))
	assert.Equal(t, "3f6c1c9e-8a1b-4f6e-9c7d-2b5a8d4e1f0a", ticket.CreatedBy)
	assert.Equal(t, "Pat Rivera", ticket.CreatedByName)
	assert.NotZero(t, ticket.CreatedAt)
}

func TestOfflineReadServesCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	ticket := validTicket()
	_, err := e.facade.CreateTicket(ctx, ticket)
	require.NoError(t, err)

	got, err := e.facade.GetTicketsByProject(ctx, ticket.ProjectID)
	require.NoError(t, err, "offline read must not error")
	require.Len(t, got, 1)
	assert.Equal(t, ticket.Title, got[0].Title)
}

func TestOnlineReadRefreshesCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.monitor.SetOnline(true)

	e.remote.store(store.CollectionTickets, "11111111-2222-4333-8444-555555555555",
		json.RawMessage(`{"id":"11111111-2222-4333-8444-555555555555","project_id":"`+validTicket().ProjectID+`","title":"From server"}`))

	got, err := e.facade.GetTicketsByProject(ctx, validTicket().ProjectID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "From server", got[0].Title)

	// Write-through: now cached and readable offline.
	e.monitor.SetOnline(false)
	got, err = e.facade.GetTicketsByProject(ctx, validTicket().ProjectID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRefreshPreservesPendingLocalEdits(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Offline write leaves a pending local copy.
	ticket := validTicket()
	rec, err := e.facade.CreateTicket(ctx, ticket)
	require.NoError(t, err)

	// The server later returns an older copy of the same record.
	e.remote.store(store.CollectionTickets, rec.ID,
		json.RawMessage(`{"id":"`+rec.ID+`","project_id":"`+ticket.ProjectID+`","title":"Stale server copy"}`))
	e.monitor.SetOnline(true)

	got, err := e.facade.GetTicketsByProject(ctx, ticket.ProjectID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ticket.Title, got[0].Title, "unreplayed local edit must win")
}

func TestRemoteListFailureFallsBackToCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	ticket := validTicket()
	_, err := e.facade.CreateTicket(ctx, ticket)
	require.NoError(t, err)

	e.monitor.SetOnline(true)
	e.remote.setFail(true)

	got, err := e.facade.GetTicketsByProject(ctx, ticket.ProjectID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDeleteOfflineQueuesOperation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec, err := e.facade.CreateTicket(ctx, validTicket())
	require.NoError(t, err)

	require.NoError(t, e.facade.DeleteTicket(ctx, rec.ID))

	_, err = e.store.Get(ctx, store.CollectionTickets, rec.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	ops, err := e.queue.List(ctx)
	require.NoError(t, err)
	var deletes int
	for _, op := range ops {
		if op.Operation == models.OperationDelete {
			deletes++
		}
	}
	assert.Equal(t, 1, deletes)
}

func TestUploadPhotoUsesLowPriorityBand(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	photo := &models.Photo{
		ProjectID: validTicket().ProjectID,
		Caption:   "North wall",
		MimeType:  "image/jpeg",
		Data:      []byte{0xff, 0xd8},
	}
	_, err := e.facade.UploadPhoto(ctx, photo)
	require.NoError(t, err)

	ops, err := e.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.PriorityLow, ops[0].Priority)
	assert.Equal(t, models.CategoryPhotos, ops[0].Category)
	assert.Equal(t, models.OperationUploadPhoto, ops[0].Operation)
}

func TestTicketReplaysBeforeEarlierPhoto(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Photo enqueued first, ticket second; the ticket's band wins.
	_, err := e.facade.UploadPhoto(ctx, &models.Photo{
		ProjectID: validTicket().ProjectID, Data: []byte{1},
	})
	require.NoError(t, err)
	_, err = e.facade.CreateTicket(ctx, validTicket())
	require.NoError(t, err)

	ops, err := e.queue.ReplaySet(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, store.CollectionTickets, ops[0].Table)
	assert.Equal(t, store.CollectionPhotos, ops[1].Table)
}

func TestProjectSummaryRequiresConnectivity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.facade.ProjectSummary(ctx, validTicket().ProjectID)
	assert.True(t, apperrors.Is(err, apperrors.ErrOffline))

	e.monitor.SetOnline(true)
	summary, err := e.facade.ProjectSummary(ctx, validTicket().ProjectID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"open_tickets":3}`, string(summary))
}

func TestClearCacheKeepsQueue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.facade.CreateTicket(ctx, validTicket())
	require.NoError(t, err)

	require.NoError(t, e.facade.ClearCache(ctx))

	recs, err := e.store.GetAll(ctx, store.CollectionTickets)
	require.NoError(t, err)
	assert.Empty(t, recs)

	n, err := e.queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "unreplayed work survives logout")

	act, err := e.facade.Actors().Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, act)
}

func TestUpdateRequiresID(t *testing.T) {
	e := newEnv(t)

	_, err := e.facade.UpdateTicket(context.Background(), validTicket())
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}
