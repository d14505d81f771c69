// Package parser turns conversation log files into records.
//
// All supported formats are JSON Lines. Parsers only consume complete,
// newline-terminated lines, so a file that is still being written can be
// resumed later from the returned cursor without losing a half-written line.
package parser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"

	"github.com/nickcecere/memex/internal/source"
)

// maxLineSize bounds a single JSONL line. Larger lines are skipped.
const maxLineSize = 64 << 20

// Cursor is a resume position within a file.
type Cursor struct {
	Offset uint64 // Bytes consumed
	TurnID uint32 // Next turn index
}

// Record is one conversation message extracted from a log.
type Record struct {
	Source    source.Kind
	Path      string
	SessionID string
	TurnID    uint32
	Role      string
	Text      string
	Timestamp time.Time

	// End is the byte offset just past the line this record came from.
	End uint64
}

// Key returns a stable identity for the record, used to dedup re-parsed content.
func (r Record) Key() string {
	h := xxhash.New()
	h.WriteString(r.Source.String())
	h.WriteString("\x00")
	h.WriteString(r.Path)
	h.WriteString("\x00")
	h.WriteString(strconv.FormatUint(uint64(r.TurnID), 10))
	h.WriteString("\x00")
	h.WriteString(r.Role)
	h.WriteString("\x00")
	h.WriteString(r.Text)
	return fmt.Sprintf("%016x", h.Sum64())
}

// EmitFunc receives records in file order. Returning an error stops parsing.
type EmitFunc func(Record) error

// Parser reads one log format.
type Parser interface {
	// Parse reads records from path starting at from, stopping at byte limit.
	// It returns the cursor after the last complete line consumed.
	Parse(ctx context.Context, path string, from Cursor, limit uint64, emit EmitFunc) (Cursor, error)

	// Kind returns the source kind this parser produces.
	Kind() source.Kind
}

// For returns the parser for a source kind.
func For(kind source.Kind) (Parser, error) {
	switch kind {
	case source.Claude:
		return ClaudeParser{}, nil
	case source.CodexSession:
		return CodexSessionParser{}, nil
	case source.CodexHistory:
		return CodexHistoryParser{}, nil
	default:
		return nil, fmt.Errorf("no parser for source: %s", kind)
	}
}

// lineState carries per-file context shared across lines.
type lineState struct {
	path      string
	sessionID string
	turn      uint32
}

// decodeFunc extracts zero or more records from one JSONL line.
// It may update st (e.g. session ID from a header line).
type decodeFunc func(line []byte, st *lineState) []Record

// parseLines drives a decodeFunc over the complete lines of a file between
// from.Offset and limit.
func parseLines(ctx context.Context, kind source.Kind, path string, from Cursor, limit uint64, decode decodeFunc, emit EmitFunc) (Cursor, error) {
	if from.Offset >= limit {
		return from, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return from, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	st := lineState{path: path, turn: from.TurnID}
	if from.Offset > 0 {
		if err := scanHeader(f, from.Offset, decode, &st); err != nil {
			return from, fmt.Errorf("failed to read header of %s: %w", path, err)
		}
	}

	if _, err := f.Seek(int64(from.Offset), io.SeekStart); err != nil {
		return from, fmt.Errorf("failed to seek %s: %w", path, err)
	}

	r := bufio.NewReaderSize(io.LimitReader(f, int64(limit-from.Offset)), 256*1024)
	cur := from

	for {
		if err := ctx.Err(); err != nil {
			return cur, err
		}

		line, n, err := readLine(r)
		if errors.Is(err, io.EOF) {
			// Anything left is a partial line; leave it for the next run
			return cur, nil
		}
		if errors.Is(err, errLineTooLong) {
			cur.Offset += uint64(n)
			log.Debug("Skipping oversized line", "path", path, "offset", cur.Offset)
			continue
		}
		if err != nil {
			return cur, fmt.Errorf("failed to read %s: %w", path, err)
		}

		next := cur.Offset + uint64(n)
		for _, rec := range decode(trimNewline(line), &st) {
			rec.Source = kind
			rec.Path = path
			rec.End = next
			if rec.SessionID == "" {
				rec.SessionID = st.sessionID
			}
			rec.TurnID = st.turn
			st.turn++
			if err := emit(rec); err != nil {
				return cur, err
			}
		}
		cur = Cursor{Offset: next, TurnID: st.turn}
	}
}

// headerLines bounds how far scanHeader looks for a session header.
const headerLines = 8

// scanHeader recovers per-file context (the session ID) from the leading
// lines of an already-consumed prefix, so resumed records keep it.
// Decoded records are discarded.
func scanHeader(f *os.File, end uint64, decode decodeFunc, st *lineState) error {
	r := bufio.NewReader(io.LimitReader(f, int64(end)))
	for i := 0; i < headerLines && st.sessionID == ""; i++ {
		line, _, err := readLine(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, errLineTooLong) {
			continue
		}
		if err != nil {
			return err
		}
		decode(trimNewline(line), st)
	}
	return nil
}

var errLineTooLong = errors.New("line too long")

// readLine returns one newline-terminated line including the newline, and
// its length. A final line without a newline yields io.EOF.
func readLine(r *bufio.Reader) ([]byte, int, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(buf)+len(chunk) > maxLineSize {
			// Drain the rest of the line so the cursor stays aligned
			n := len(buf) + len(chunk)
			for errors.Is(err, bufio.ErrBufferFull) {
				chunk, err = r.ReadSlice('\n')
				n += len(chunk)
			}
			if err != nil {
				return nil, 0, err
			}
			return nil, n, errLineTooLong
		}
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			return buf, len(buf), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return buf, len(buf), err
		}
	}
}

func trimNewline(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return line[:n]
}
