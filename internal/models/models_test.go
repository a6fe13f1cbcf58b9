package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnqueuedAtPreservesNanoOrder(t *testing.T) {
	now := time.Now()
	a := SyncOperation{Timestamp: now.UnixNano()}
	b := SyncOperation{Timestamp: now.Add(time.Nanosecond).UnixNano()}

	if !a.EnqueuedAt().Before(b.EnqueuedAt()) {
		t.Errorf("enqueue order lost: %v vs %v", a.EnqueuedAt(), b.EnqueuedAt())
	}
	if !a.EnqueuedAt().Equal(now) {
		t.Errorf("EnqueuedAt = %v, want %v", a.EnqueuedAt(), now)
	}
}

func TestAuditStamps(t *testing.T) {
	act := &ActorContext{UserID: "u1", Name: "Pat Rivera"}

	var ticket Ticket
	ticket.StampCreate(act, 100)
	if ticket.CreatedBy != "u1" || ticket.CreatedByName != "Pat Rivera" || ticket.CreatedAt != 100 {
		t.Errorf("create stamp: %+v", ticket.Audit)
	}
	if ticket.UpdatedBy != "u1" || ticket.UpdatedAt != 100 {
		t.Errorf("create stamp should also set updater: %+v", ticket.Audit)
	}

	ticket.StampUpdate(&ActorContext{UserID: "u2", Name: "Sam Okafor"}, 200)
	if ticket.CreatedBy != "u1" || ticket.CreatedAt != 100 {
		t.Errorf("update must not touch creator fields: %+v", ticket.Audit)
	}
	if ticket.UpdatedBy != "u2" || ticket.UpdatedAt != 200 {
		t.Errorf("update stamp: %+v", ticket.Audit)
	}
}

func TestCachedRecordDecode(t *testing.T) {
	rec := CachedRecord{
		ID:         "t1",
		Payload:    json.RawMessage(`{"id":"t1","title":"Leaking valve"}`),
		SyncStatus: SyncStatusPending,
	}

	var ticket Ticket
	if err := rec.Decode(&ticket); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ticket.Title != "Leaking valve" {
		t.Errorf("title = %q", ticket.Title)
	}

	bad := CachedRecord{Payload: json.RawMessage(`{`)}
	if err := bad.Decode(&ticket); err == nil {
		t.Error("expected error for malformed payload")
	}
}
