package ingest

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/memex/internal/parser"
	"github.com/nickcecere/memex/internal/progress"
	"github.com/nickcecere/memex/internal/source"
	"github.com/nickcecere/memex/internal/state"
)

// batchRecords is how many records a parser accumulates before handing
// them to the coordinator.
const batchRecords = 256

// batch is a run of records from one file plus the cursor reached after them.
// The coordinator advances the file's state to cursor only after the records
// are indexed.
type batch struct {
	kind    source.Kind
	path    string
	size    uint64 // Size observed at planning time
	mtime   int64
	records []parser.Record
	from    parser.Cursor
	cursor  parser.Cursor

	// final means the file was read to the planned size.
	final bool
}

// parseFile reads one work item and sends its batches. It never returns an
// error for a bad file; failures are logged and reported as false.
func parseFile(ctx context.Context, item workItem, prog *progress.Progress, out chan<- batch) bool {
	kind := item.file.Kind
	p, err := parser.For(kind)
	if err != nil {
		log.Warn("No parser for file", "path", item.file.Path, "error", err)
		return false
	}

	if item.action == state.ActionRestart {
		log.Debug("Parsing file from start", "path", item.file.Path, "size", item.file.Size)
	} else {
		log.Debug("Resuming file", "path", item.file.Path, "offset", item.from.Offset, "turn", item.from.TurnID)
	}

	var (
		buf      []parser.Record
		reported = item.from.Offset
	)
	send := func(cur parser.Cursor, final bool) {
		if cur.Offset > reported {
			prog.AddParsedBytes(kind, cur.Offset-reported)
			reported = cur.Offset
		}
		out <- batch{
			kind:    kind,
			path:    item.file.Path,
			size:    item.file.Size,
			mtime:   item.mtime,
			records: buf,
			from:    item.from,
			cursor:  cur,
			final:   final,
		}
		buf = nil
	}

	cur, err := p.Parse(ctx, item.file.Path, item.from, item.file.Size, func(r parser.Record) error {
		// Only cut between lines so a committed cursor never splits one
		if len(buf) >= batchRecords && r.End != buf[len(buf)-1].End {
			last := buf[len(buf)-1]
			send(parser.Cursor{Offset: last.End, TurnID: last.TurnID + 1}, false)
		}
		buf = append(buf, r)
		prog.AddProduced(kind, 1)
		return nil
	})

	ok := true
	switch {
	case err == nil:
		send(cur, true)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		send(cur, false)
	default:
		log.Warn("Failed to parse file", "path", item.file.Path, "offset", cur.Offset, "error", err)
		send(cur, false)
		ok = false
	}

	// A trailing partial line or an early stop still completes the bar
	if item.file.Size > reported {
		prog.AddParsedBytes(kind, item.file.Size-reported)
	}
	prog.AddFilesDone(kind, 1)
	return ok
}
