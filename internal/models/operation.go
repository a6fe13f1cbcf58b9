package models

import (
	"encoding/json"
	"time"
)

// Operation is the kind of remote mutation a queued entry replays.
type Operation string

const (
	OperationCreate      Operation = "CREATE"
	OperationUpdate      Operation = "UPDATE"
	OperationDelete      Operation = "DELETE"
	OperationUploadPhoto Operation = "UPLOAD_PHOTO"
)

// Category groups queued operations for UI breakdowns and priority defaults.
type Category string

const (
	CategoryFieldData Category = "field_data"
	CategoryPhotos    Category = "photos"
)

// Priority orders replay. Lower replays first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

// OperationStatus is the queue-side lifecycle of a SyncOperation.
type OperationStatus string

const (
	OperationStatusPending OperationStatus = "pending"
	OperationStatusSyncing OperationStatus = "syncing"
	OperationStatusSynced  OperationStatus = "synced"
	OperationStatusFailed  OperationStatus = "failed"
)

// SyncOperation is a unit of durable work: a mutation that could not be
// (or was not yet) confirmed against the remote system. It is removed from
// the queue only after the remote apply is confirmed.
type SyncOperation struct {
	ID        string            `json:"id"`
	Operation Operation         `json:"operation"`
	Table     string            `json:"table"`
	Payload   json.RawMessage   `json:"payload"`
	Category  Category          `json:"category"`
	Priority  Priority          `json:"priority"`
	Status    OperationStatus   `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Retries   int               `json:"retries"`
	LastError string            `json:"lastError,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EnqueuedAt returns the enqueue timestamp as time.Time.
func (op *SyncOperation) EnqueuedAt() time.Time {
	return time.Unix(0, op.Timestamp)
}
