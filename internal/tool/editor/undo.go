package editor

import (
	"context"
	"sort"
	"time"

	"taskbench/internal/session"
)

// UndoEntry captures the state needed to revert one mutating operation.
type UndoEntry struct {
	Path        string    `json:"path"`
	PrevContent string    `json:"prev_content"`
	Existed     bool      `json:"existed"`
	Range       string    `json:"range,omitempty"`
	At          time.Time `json:"at"`
}

// State is the editor session resource: the undo stack and the table of
// files touched this run. The stack depth never exceeds mutations applied
// minus undos consumed; push and pop are the only mutators.
type State struct {
	Undo    []UndoEntry
	Touched map[string]time.Time
}

func (s *State) push(entry UndoEntry) {
	entry.At = time.Now().UTC()
	s.Undo = append(s.Undo, entry)
}

func (s *State) pop() (UndoEntry, bool) {
	if len(s.Undo) == 0 {
		return UndoEntry{}, false
	}
	entry := s.Undo[len(s.Undo)-1]
	s.Undo = s.Undo[:len(s.Undo)-1]
	return entry, true
}

func (s *State) touch(path string) {
	if s.Touched == nil {
		s.Touched = make(map[string]time.Time)
	}
	s.Touched[path] = time.Now().UTC()
}

func (s *State) Close(ctx context.Context) error {
	s.Undo = nil
	s.Touched = nil
	return nil
}

func (s *State) Describe() map[string]any {
	files := make([]string, 0, len(s.Touched))
	for path := range s.Touched {
		files = append(files, path)
	}
	sort.Strings(files)
	return map[string]any{
		"undo_depth":    len(s.Undo),
		"touched_files": files,
	}
}

// stateOf returns the session's editor state, creating it on first use.
func stateOf(sess *session.Session) *State {
	if st, ok := sess.Resource.(*State); ok {
		return st
	}
	st := &State{}
	sess.Resource = st
	return st
}
