package store

import (
	"github.com/nickcecere/memex/internal/parser"
	"github.com/nickcecere/memex/internal/source"
)

// Store defines the record and text index operations.
type Store interface {
	// IndexRecords stores records in one transaction and returns their
	// document IDs in input order. A record whose key is already stored
	// keeps its existing ID; alloc is only called for new keys.
	IndexRecords(records []parser.Record, alloc AllocFunc) ([]uint64, error)

	// GetRecords returns the records for the given IDs. Unknown IDs are omitted.
	GetRecords(ids []uint64) (map[uint64]Record, error)

	// SearchText returns records containing every term of query, newest first.
	// An empty kinds slice matches all sources.
	SearchText(query string, limit int, kinds []source.Kind) ([]Record, error)

	// ForEachRecord visits every record in document ID order.
	ForEachRecord(fn func(Record) error) error

	// Stats
	Stats() (*StoreStats, error)

	Close() error
}
