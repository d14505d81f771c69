package progress

import (
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"golang.org/x/term"

	"github.com/nickcecere/memex/internal/source"
)

const (
	linesPerGroup = 5
	tickInterval  = 200 * time.Millisecond

	hideCursor = "\x1b[?25l"
	showCursor = "\x1b[?25h"
	clearLine  = "\x1b[2K"
)

// Reporter redraws progress on a fixed cadence until Finish is called.
type Reporter struct {
	progress    *Progress
	groups      []source.Group
	out         io.Writer
	interactive bool
	interval    time.Duration
	done        chan struct{}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start launches the renderer goroutine. On a non-terminal writer nothing is
// drawn; the goroutine only waits for Finish.
func Start(p *Progress, w io.Writer, groups []source.Group) *Reporter {
	r := newReporter(p, w, groups, IsTerminal(w))
	go r.run()
	return r
}

func newReporter(p *Progress, w io.Writer, groups []source.Group, interactive bool) *Reporter {
	return &Reporter{
		progress:    p,
		groups:      groups,
		out:         w,
		interactive: interactive,
		interval:    tickInterval,
		done:        make(chan struct{}),
	}
}

// Wait blocks until the renderer has drawn its last frame and restored the cursor.
func (r *Reporter) Wait() {
	<-r.done
}

func (r *Reporter) run() {
	defer close(r.done)

	if !r.interactive {
		for !r.progress.Done() {
			time.Sleep(r.interval)
		}
		return
	}

	lineCount := len(r.groups) * linesPerGroup

	fmt.Fprint(r.out, hideCursor)
	defer fmt.Fprint(r.out, showCursor)

	// Reserve the block so the first redraw can move up over it
	for i := 0; i < lineCount; i++ {
		fmt.Fprintln(r.out)
	}

	var last []string
	var tick uint64
	for {
		done := r.progress.Done()
		lines := FormatLines(r.progress.Snapshot(r.groups), tick)
		if !slices.Equal(lines, last) {
			r.draw(lines)
			last = lines
		}
		if done {
			return
		}
		tick++
		time.Sleep(r.interval)
	}
}

func (r *Reporter) draw(lines []string) {
	// Cursor-up by zero still moves one line on most terminals
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(r.out, "\x1b[%dA", len(lines))
	for _, line := range lines {
		fmt.Fprint(r.out, clearLine+line+"\n")
	}
}
