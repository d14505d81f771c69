package parser

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"github.com/nickcecere/memex/internal/source"
)

// CodexSessionParser reads Codex rollout files (~/.codex/sessions/**/*.jsonl).
//
// Current rollouts wrap each item in {"type":"response_item","payload":{...}}
// and open with a session_meta line. Older rollouts write message items at
// the top level and open with a bare {"id":...} header.
type CodexSessionParser struct{}

func (CodexSessionParser) Kind() source.Kind { return source.CodexSession }

func (CodexSessionParser) Parse(ctx context.Context, path string, from Cursor, limit uint64, emit EmitFunc) (Cursor, error) {
	return parseLines(ctx, source.CodexSession, path, from, limit, decodeCodexSession, emit)
}

func decodeCodexSession(line []byte, st *lineState) []Record {
	if !gjson.ValidBytes(line) {
		log.Debug("Skipping malformed line", "path", st.path)
		return nil
	}
	doc := gjson.ParseBytes(line)

	item := doc
	switch doc.Get("type").String() {
	case "session_meta":
		if id := doc.Get("payload.id").String(); id != "" {
			st.sessionID = id
		}
		return nil
	case "response_item":
		item = doc.Get("payload")
	case "message":
	case "":
		// Legacy header line
		if id := doc.Get("id").String(); id != "" && !doc.Get("role").Exists() {
			st.sessionID = id
		}
		return nil
	default:
		return nil
	}

	if item.Get("type").String() != "message" {
		return nil
	}
	role := item.Get("role").String()
	if role != "user" && role != "assistant" {
		return nil
	}
	text := contentText(item.Get("content"), "input_text", "output_text", "text")
	if text == "" {
		return nil
	}

	ts := doc.Get("timestamp")
	if !ts.Exists() {
		ts = item.Get("timestamp")
	}
	return []Record{{
		SessionID: st.sessionID,
		Role:      role,
		Text:      text,
		Timestamp: parseTime(ts),
	}}
}

// CodexHistoryParser reads the Codex prompt history (~/.codex/history.jsonl).
type CodexHistoryParser struct{}

func (CodexHistoryParser) Kind() source.Kind { return source.CodexHistory }

func (CodexHistoryParser) Parse(ctx context.Context, path string, from Cursor, limit uint64, emit EmitFunc) (Cursor, error) {
	return parseLines(ctx, source.CodexHistory, path, from, limit, decodeCodexHistory, emit)
}

func decodeCodexHistory(line []byte, st *lineState) []Record {
	if !gjson.ValidBytes(line) {
		log.Debug("Skipping malformed line", "path", st.path)
		return nil
	}
	doc := gjson.ParseBytes(line)

	text := doc.Get("text").String()
	if text == "" {
		return nil
	}
	return []Record{{
		// History lines interleave sessions, so the id is per line
		SessionID: doc.Get("session_id").String(),
		Role:      "user",
		Text:      text,
		Timestamp: parseTime(doc.Get("ts")),
	}}
}
