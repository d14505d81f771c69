package parser

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"github.com/nickcecere/memex/internal/source"
)

// ClaudeParser reads Claude project logs (~/.claude/projects/*/*.jsonl).
type ClaudeParser struct{}

func (ClaudeParser) Kind() source.Kind { return source.Claude }

func (ClaudeParser) Parse(ctx context.Context, path string, from Cursor, limit uint64, emit EmitFunc) (Cursor, error) {
	return parseLines(ctx, source.Claude, path, from, limit, decodeClaude, emit)
}

func decodeClaude(line []byte, st *lineState) []Record {
	if !gjson.ValidBytes(line) {
		log.Debug("Skipping malformed line", "path", st.path)
		return nil
	}
	doc := gjson.ParseBytes(line)

	if sid := doc.Get("sessionId").String(); sid != "" {
		st.sessionID = sid
	}

	role := doc.Get("type").String()
	if role != "user" && role != "assistant" {
		return nil
	}
	if r := doc.Get("message.role").String(); r != "" {
		role = r
	}

	text := contentText(doc.Get("message.content"), "text")
	if text == "" {
		return nil
	}

	return []Record{{
		SessionID: st.sessionID,
		Role:      role,
		Text:      text,
		Timestamp: parseTime(doc.Get("timestamp")),
	}}
}

// contentText flattens a message content value. Strings are returned as is;
// arrays contribute the text of blocks whose type is one of types.
func contentText(content gjson.Result, types ...string) string {
	if content.Type == gjson.String {
		return strings.TrimSpace(content.String())
	}
	if !content.IsArray() {
		return ""
	}

	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Type == gjson.String {
			parts = append(parts, block.String())
			return true
		}
		kind := block.Get("type").String()
		for _, t := range types {
			if kind == t {
				if s := block.Get("text").String(); s != "" {
					parts = append(parts, s)
				}
				break
			}
		}
		return true
	})
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// parseTime accepts RFC 3339 strings and unix seconds.
func parseTime(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, v.String())
		if err != nil {
			return time.Time{}
		}
		return t.UTC()
	case gjson.Number:
		f := v.Float()
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
	default:
		return time.Time{}
	}
}
