package progress

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	barWidth   = 28
	boxWidth   = 66
	blockWidth = 6
)

// Percent returns done/total as an integer percentage clamped to [0, 100].
// A zero total is 0%.
func Percent(done, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	hi, lo := bits.Mul64(done, 100)
	q, _ := bits.Div64(hi, lo, total)
	return q
}

func bar(percent uint64) string {
	filled := int(min(percent, 100)) * barWidth / 100
	return strings.Repeat("━", filled) + strings.Repeat("░", barWidth-filled)
}

// indeterminateBar draws a block bouncing across the bar, advanced by tick.
func indeterminateBar(tick uint64) string {
	span := barWidth - blockWidth
	offset := int(tick % uint64(span+1))

	var b strings.Builder
	b.Grow(barWidth * 3)
	for i := 0; i < barWidth; i++ {
		if i >= offset && i < offset+blockWidth {
			b.WriteString("━")
		} else {
			b.WriteString("░")
		}
	}
	return b.String()
}

// pad truncates or right-pads s to exactly width runes.
func pad(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n == width {
		return s
	}
	if n < width {
		return s + strings.Repeat(" ", width-n)
	}

	var b strings.Builder
	count := 0
	for _, r := range s {
		if count == width {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

func formatBytesParts(v uint64) (string, string) {
	const (
		kb = 1024.0
		mb = kb * 1024
		gb = mb * 1024
	)
	f := float64(v)
	switch {
	case f >= gb:
		return fmt.Sprintf("%.1f", f/gb), "GB"
	case f >= mb:
		return fmt.Sprintf("%.1f", f/mb), "MB"
	case f >= kb:
		return fmt.Sprintf("%.1f", f/kb), "KB"
	default:
		return strconv.FormatUint(v, 10), "B"
	}
}

// formatBytesProgress renders "done/total unit", collapsing to the total once complete.
func formatBytesProgress(done, total uint64) string {
	if total == 0 {
		return "0 B"
	}
	doneVal, doneUnit := formatBytesParts(done)
	totalVal, totalUnit := formatBytesParts(total)
	if done >= total {
		return totalVal + " " + totalUnit
	}
	if doneUnit == totalUnit {
		return fmt.Sprintf("%s/%s %s", doneVal, totalVal, totalUnit)
	}
	return fmt.Sprintf("%s %s/%s %s", doneVal, doneUnit, totalVal, totalUnit)
}

// formatCount inserts thousands separators.
func formatCount(v uint64) string {
	s := strconv.FormatUint(v, 10)
	if len(s) <= 3 {
		return s
	}

	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// renderBox draws the five-line block for one group.
func renderBox(s Stats, tick uint64) []string {
	inner := boxWidth - 2
	lines := make([]string, 0, linesPerGroup)

	topFill := max(inner-utf8.RuneCountInString(s.Title)-2, 0)
	lines = append(lines, "┌ "+s.Title+" "+strings.Repeat("─", topFill)+"┐")

	parsePct := Percent(s.Parsed, s.Total)
	parseText := fmt.Sprintf("parse  %s  %3d%% %s", bar(parsePct), parsePct, formatBytesProgress(s.Parsed, s.Total))
	if s.FilesTotal > 0 {
		parseText += fmt.Sprintf(" f%d/%d", s.FilesDone, s.FilesTotal)
	}
	lines = append(lines, "│ "+pad(parseText, inner-2)+" │")

	parseComplete := parsePct == 100

	indexBar := indeterminateBar(tick)
	if parseComplete && s.Produced > 0 {
		indexBar = bar(Percent(s.Indexed, s.Produced))
	}
	indexText := fmt.Sprintf("index  %s  %s rec", indexBar, formatCount(s.Indexed))
	lines = append(lines, "│ "+pad(indexText, inner-2)+" │")

	embedBar := indeterminateBar(tick + 7)
	if parseComplete && s.EmbedTotal > 0 {
		embedBar = bar(Percent(s.Embedded, s.EmbedTotal))
	}
	embedText := fmt.Sprintf("embed  %s  %s emb", embedBar, formatCount(s.Embedded))
	if s.Pending > 0 {
		embedText += " processing " + formatCount(s.Pending)
	}
	switch {
	case !s.EmbeddingsEnabled:
		embedText += " (off)"
	case !s.EmbedReady:
		embedText += " init"
	}
	lines = append(lines, "│ "+pad(embedText, inner-2)+" │")

	lines = append(lines, "└"+strings.Repeat("─", inner)+"┘")
	return lines
}

// FormatLines renders every group for one tick.
func FormatLines(stats []Stats, tick uint64) []string {
	lines := make([]string, 0, len(stats)*linesPerGroup)
	for _, s := range stats {
		lines = append(lines, renderBox(s, tick)...)
	}
	return lines
}

// Summary renders a one-line report per group, for non-interactive output.
func Summary(stats []Stats) []string {
	out := make([]string, 0, len(stats))
	for _, s := range stats {
		line := fmt.Sprintf("%s: parsed %s, %s files, %s records indexed",
			s.Title, formatBytesProgress(s.Parsed, s.Total), formatCount(s.FilesDone), formatCount(s.Indexed))
		if s.EmbeddingsEnabled {
			line += fmt.Sprintf(", %s embedded", formatCount(s.Embedded))
		}
		out = append(out, line)
	}
	return out
}
