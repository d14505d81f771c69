// Package store keeps conversation records in SQLite and answers keyword queries.
//
// Vectors live in the flat index under internal/vector; this store is the
// source of truth for the text behind each document ID.
package store

import (
	"time"

	"github.com/nickcecere/memex/internal/source"
)

// Record is a stored conversation message.
type Record struct {
	DocID     uint64      `json:"doc_id"`
	Key       string      `json:"key"`
	Source    source.Kind `json:"source"`
	Path      string      `json:"path"`
	SessionID string      `json:"session_id"`
	TurnID    uint32      `json:"turn_id"`
	Role      string      `json:"role"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
}

// AllocFunc hands out a fresh document ID for a record seen for the first time.
type AllocFunc func() uint64

// StoreStats contains statistics about the record store.
type StoreStats struct {
	Records  int                 `json:"records"`
	Sessions int                 `json:"sessions"`
	Files    int                 `json:"files"`
	BySource map[source.Kind]int `json:"-"`
	MaxDocID uint64              `json:"max_doc_id"`
}
