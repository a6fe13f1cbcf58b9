// Package models provides data model definitions for the FieldSync engine.
package models

import (
	"encoding/json"
	"time"
)

// SyncStatus describes whether a cached record matches the remote system.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)

// CachedRecord is the local copy of any remote entity. The identifier is
// client-generated at creation time and never reassigned by the server, so
// a record created offline keeps its identity after it syncs.
type CachedRecord struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	SyncStatus SyncStatus      `json:"sync_status"`
	CachedAt   int64           `json:"_cached_at"`
}

// CachedAtTime returns CachedAt as time.Time.
func (r *CachedRecord) CachedAtTime() time.Time {
	return time.Unix(r.CachedAt, 0)
}

// Decode unmarshals the payload into dst.
func (r *CachedRecord) Decode(dst interface{}) error {
	return json.Unmarshal(r.Payload, dst)
}
