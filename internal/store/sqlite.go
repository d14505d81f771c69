package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nickcecere/memex/internal/parser"
	"github.com/nickcecere/memex/internal/source"
)

// getRecordsChunk bounds the number of bound parameters per IN clause.
const getRecordsChunk = 500

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug("Opened SQLite store", "path", dbPath)

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IndexRecords inserts new records and resolves IDs of known ones.
func (s *SQLiteStore) IndexRecords(records []parser.Record, alloc AllocFunc) ([]uint64, error) {
	if len(records) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lookup, err := tx.Prepare("SELECT doc_id FROM records WHERE key = ?")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare lookup: %w", err)
	}
	defer lookup.Close()

	insert, err := tx.Prepare(`
		INSERT INTO records (doc_id, key, source, path, session_id, turn_id, role, text, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer insert.Close()

	ids := make([]uint64, len(records))
	for i, rec := range records {
		key := rec.Key()

		var existing int64
		err := lookup.QueryRow(key).Scan(&existing)
		if err == nil {
			ids[i] = uint64(existing)
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to look up record %s: %w", key, err)
		}

		id := alloc()
		if _, err := insert.Exec(
			int64(id), key, rec.Source.String(), rec.Path, rec.SessionID,
			rec.TurnID, rec.Role, rec.Text, unixNano(rec.Timestamp),
		); err != nil {
			return nil, fmt.Errorf("failed to insert record %d: %w", id, err)
		}
		ids[i] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return ids, nil
}

// GetRecords returns the records for the given IDs.
func (s *SQLiteStore) GetRecords(ids []uint64) (map[uint64]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint64]Record, len(ids))
	for start := 0; start < len(ids); start += getRecordsChunk {
		chunk := ids[start:min(start+getRecordsChunk, len(ids))]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = int64(id)
		}

		query := selectRecords + " WHERE doc_id IN (" + placeholders(len(chunk)) + ")"
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to get records: %w", err)
		}
		err = scanRecords(rows, func(r Record) error {
			out[r.DocID] = r
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// SearchText performs a case-insensitive substring search over record text.
func (s *SQLiteStore) SearchText(query string, limit int, kinds []source.Kind) ([]Record, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	var (
		where []string
		args  []any
	)
	for _, term := range terms {
		where = append(where, `text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(term)+"%")
	}
	if len(kinds) > 0 {
		where = append(where, "source IN ("+placeholders(len(kinds))+")")
		for _, k := range kinds {
			args = append(args, k.String())
		}
	}
	args = append(args, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		selectRecords+" WHERE "+strings.Join(where, " AND ")+" ORDER BY ts DESC, doc_id DESC LIMIT ?",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}

	var results []Record
	err = scanRecords(rows, func(r Record) error {
		results = append(results, r)
		return nil
	})
	return results, err
}

// ForEachRecord visits every record in document ID order. fn must not call
// back into the store's write methods.
func (s *SQLiteStore) ForEachRecord(fn func(Record) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(selectRecords + " ORDER BY doc_id")
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	return scanRecords(rows, fn)
}

// Stats returns record counts.
func (s *SQLiteStore) Stats() (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &StoreStats{BySource: make(map[source.Kind]int)}

	var maxID int64
	err := s.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT session_id), COUNT(DISTINCT path), COALESCE(MAX(doc_id), 0)
		FROM records
	`).Scan(&stats.Records, &stats.Sessions, &stats.Files, &maxID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	stats.MaxDocID = uint64(maxID)

	rows, err := s.db.Query("SELECT source, COUNT(*) FROM records GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("failed to get source counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("failed to scan source count: %w", err)
		}
		kind, err := source.ParseKind(name)
		if err != nil {
			log.Debug("Unknown source in store", "source", name)
			continue
		}
		stats.BySource[kind] = count
	}

	return stats, rows.Err()
}

const selectRecords = `SELECT doc_id, key, source, path, session_id, turn_id, role, text, ts FROM records`

// scanRecords drains rows into fn and closes them.
func scanRecords(rows *sql.Rows, fn func(Record) error) error {
	defer rows.Close()

	for rows.Next() {
		var (
			r      Record
			docID  int64
			kind   string
			tsNano int64
		)
		if err := rows.Scan(&docID, &r.Key, &kind, &r.Path, &r.SessionID, &r.TurnID, &r.Role, &r.Text, &tsNano); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}

		k, err := source.ParseKind(kind)
		if err != nil {
			return fmt.Errorf("record %d: %w", docID, err)
		}
		r.DocID = uint64(docID)
		r.Source = k
		if tsNano != 0 {
			r.Timestamp = time.Unix(0, tsNano).UTC()
		}

		if err := fn(r); err != nil {
			return err
		}
	}

	return rows.Err()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
