package domain

import (
	"encoding/json"
	"time"
)

// SyncTag is the name of the background sync event registered on reconnection.
const SyncTag = "sync-data"

// PendingSyncItem is a write made while offline, waiting to be replayed.
type PendingSyncItem struct {
	ID        string          `json:"id"`
	Tag       string          `json:"tag"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	Attempts  int             `json:"attempts"`
}

// HistoryEntry is one saved action in the user's history, newest first.
type HistoryEntry struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Date     time.Time       `json:"date"`
	Location *Location       `json:"location,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Location is a point the user picked, with an optional label.
type Location struct {
	Coordinates
	Name string `json:"name,omitempty"`
}

// Label returns the location name, falling back to its coordinates.
func (l Location) Label() string {
	if l.Name != "" {
		return l.Name
	}
	return l.Coordinates.Label()
}
