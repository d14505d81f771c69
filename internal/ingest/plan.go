package ingest

import (
	"github.com/nickcecere/memex/internal/fs"
	"github.com/nickcecere/memex/internal/parser"
	"github.com/nickcecere/memex/internal/source"
	"github.com/nickcecere/memex/internal/state"
)

// workItem is one file that needs parsing this run.
type workItem struct {
	file   fs.FileInfo
	mtime  int64
	from   parser.Cursor
	action state.Action
}

// remaining is the number of bytes this run will read from the file.
func (w workItem) remaining() uint64 {
	if w.from.Offset >= w.file.Size {
		return 0
	}
	return w.file.Size - w.from.Offset
}

// workPlan is the outcome of comparing discovered files with the stored state.
type workPlan struct {
	items      []workItem
	discovered int
	skipped    int
	totalBytes [source.Count]uint64
	filesTotal [source.Count]uint64
}

// planWork decides per file whether to skip, resume or restart.
// Files are visited in kind order, then path order.
func planWork(st *state.IngestState, found map[source.Kind][]fs.FileInfo, kinds []source.Kind) workPlan {
	var wp workPlan
	for _, k := range kinds {
		for _, f := range found[k] {
			wp.discovered++

			mtime := f.ModTime.UnixNano()
			plan := st.Plan(f.Path, f.Size, mtime)
			if plan.Action == state.ActionSkip {
				wp.skipped++
				continue
			}

			item := workItem{
				file:   f,
				mtime:  mtime,
				from:   parser.Cursor{Offset: plan.Offset, TurnID: plan.TurnID},
				action: plan.Action,
			}
			wp.items = append(wp.items, item)
			wp.totalBytes[k.Index()] += item.remaining()
			wp.filesTotal[k.Index()]++
		}
	}
	return wp
}

// displayGroups keeps the default groups that contain at least one of kinds.
func displayGroups(kinds []source.Kind) []source.Group {
	want := make(map[source.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	var groups []source.Group
	for _, g := range source.DefaultGroups() {
		for _, k := range g.Kinds {
			if want[k] {
				groups = append(groups, g)
				break
			}
		}
	}
	return groups
}
