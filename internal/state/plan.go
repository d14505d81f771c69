package state

// Action is what the pipeline should do with a file.
type Action int

const (
	// ActionSkip means the file is unchanged since the last parse.
	ActionSkip Action = iota
	// ActionResume means parsing continues from the stored cursor.
	ActionResume
	// ActionRestart means the file is new or was rewritten; parse from zero.
	ActionRestart
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionResume:
		return "resume"
	case ActionRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Plan is the resume decision for one file.
type Plan struct {
	Action Action
	Offset uint64
	TurnID uint32
}

// Plan decides how to handle a file given its current size and mtime.
//
// A file whose size and mtime both match is skipped. A file that is
// smaller than the stored size, or whose mtime moved backward, has been
// rewritten and restarts at zero. Anything else resumes from the cursor.
func (s *IngestState) Plan(path string, size uint64, mtime int64) Plan {
	fs, ok := s.Files[path]
	if !ok {
		return Plan{Action: ActionRestart}
	}
	if fs.Size == size && fs.Mtime == mtime {
		return Plan{Action: ActionSkip, Offset: fs.Offset, TurnID: fs.TurnID}
	}
	if size < fs.Size || mtime < fs.Mtime {
		return Plan{Action: ActionRestart}
	}
	return Plan{Action: ActionResume, Offset: fs.Offset, TurnID: fs.TurnID}
}
