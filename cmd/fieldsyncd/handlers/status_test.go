package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fieldops/fieldsync/internal/actor"
	"github.com/fieldops/fieldsync/internal/models"
	"github.com/fieldops/fieldsync/internal/network"
	"github.com/fieldops/fieldsync/internal/store"
	"github.com/fieldops/fieldsync/internal/sync/queue"
	"github.com/fieldops/fieldsync/internal/sync/scheduler"
)

type testEnv struct {
	server  *httptest.Server
	queue   *queue.Manager
	monitor *network.Monitor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.Open(t.TempDir(), store.DefaultSchema())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	q := queue.NewManager(s, queue.Config{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute})
	reg := queue.NewRegistry()
	mon := network.NewMonitor(network.Config{BaseURL: "http://127.0.0.1:0"})
	sch := scheduler.New(q, reg, mon, nil, scheduler.Config{})
	actors := actor.NewContextStore(s)

	mux := http.NewServeMux()
	NewStatusHandler(sch, q, mon, actors).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, queue: q, monitor: mon}
}

func (e *testEnv) request(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func (e *testEnv) enqueue(t *testing.T) *models.SyncOperation {
	t.Helper()
	op, err := e.queue.Enqueue(context.Background(), models.OperationCreate, "tickets",
		json.RawMessage(`{"id":"t1"}`), models.CategoryFieldData, models.PriorityHigh, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return op
}

func TestGetStatus(t *testing.T) {
	e := newTestEnv(t)
	e.enqueue(t)

	code, body := e.request(t, http.MethodGet, "/status", "")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if body["online"] != false {
		t.Errorf("online = %v, want false", body["online"])
	}
	if body["quality"] != string(network.QualityOffline) {
		t.Errorf("quality = %v, want offline", body["quality"])
	}
	if body["pending_count"] != float64(1) {
		t.Errorf("pending_count = %v, want 1", body["pending_count"])
	}
}

func TestTriggerSyncOffline(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.request(t, http.MethodPost, "/sync", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", code)
	}
	if body["error"] == nil {
		t.Error("expected error message")
	}
}

func TestQueueListing(t *testing.T) {
	e := newTestEnv(t)
	e.enqueue(t)
	e.enqueue(t)

	code, body := e.request(t, http.MethodGet, "/queue", "")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}
}

func TestRetryFlow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	op := e.enqueue(t)

	// Replay with no executor registered marks the entry failed.
	if _, err := e.queue.SyncAllPending(ctx, queue.NewRegistry()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	code, _ := e.request(t, http.MethodPost, "/queue/"+op.ID+"/retry", "")
	if code != http.StatusOK {
		t.Fatalf("retry status = %d", code)
	}

	got, err := e.queue.Get(ctx, op.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.OperationStatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}

	code, _ = e.request(t, http.MethodPost, "/queue/missing/retry", "")
	if code != http.StatusNotFound {
		t.Errorf("retry unknown id status = %d, want 404", code)
	}
}

func TestRetryAllFailedEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.enqueue(t)

	if _, err := e.queue.SyncAllPending(context.Background(), queue.NewRegistry()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	code, body := e.request(t, http.MethodPost, "/queue/retry-failed", "")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if body["retried"] != float64(1) {
		t.Errorf("retried = %v, want 1", body["retried"])
	}
}

func TestClearSyncedEndpoint(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.request(t, http.MethodDelete, "/queue/synced", "")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if body["cleared"] != float64(0) {
		t.Errorf("cleared = %v, want 0", body["cleared"])
	}
}

func TestActorLifecycle(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.request(t, http.MethodGet, "/actor", "")
	if code != http.StatusOK || body["configured"] != false {
		t.Fatalf("initial actor: code=%d body=%v", code, body)
	}

	code, _ = e.request(t, http.MethodPut, "/actor",
		`{"user_id":"u1","name":"Pat Rivera","email":"pat@example.com","role":"foreman"}`)
	if code != http.StatusOK {
		t.Fatalf("set actor status = %d", code)
	}

	code, body = e.request(t, http.MethodGet, "/actor", "")
	if code != http.StatusOK || body["configured"] != true {
		t.Fatalf("actor after set: code=%d body=%v", code, body)
	}

	code, _ = e.request(t, http.MethodPut, "/actor", `{"user_id":""}`)
	if code != http.StatusBadRequest {
		t.Errorf("empty user id status = %d, want 400", code)
	}

	code, _ = e.request(t, http.MethodDelete, "/actor", "")
	if code != http.StatusOK {
		t.Fatalf("clear actor status = %d", code)
	}
	_, body = e.request(t, http.MethodGet, "/actor", "")
	if body["configured"] != false {
		t.Errorf("actor after clear: %v", body)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.request(t, http.MethodGet, "/health", "")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health: code=%d body=%v", code, body)
	}
}
