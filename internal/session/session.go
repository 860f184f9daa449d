package session

import (
	"context"
	"time"
)

// Kind identifies the tool family a session belongs to.
type Kind string

const (
	KindEditor   Kind = "editor"
	KindShell    Kind = "shell"
	KindDatabase Kind = "database"
	KindDiagram  Kind = "diagram"
)

func (k Kind) Valid() bool {
	switch k {
	case KindEditor, KindShell, KindDatabase, KindDiagram:
		return true
	}
	return false
}

// Resource is the per-kind mutable state owned by a session: the editor's
// undo stacks, the shell's environment, the database handle, or the current
// diagram document. Only the executor of the session's kind may mutate it.
type Resource interface {
	// Close releases underlying handles. It must not panic; it reports
	// sub-failures as a single joined error.
	Close(ctx context.Context) error
	// Describe returns a read-only summary for context building.
	Describe() map[string]any
}

// Applied records one operation applied to a session, in order.
type Applied struct {
	Turn    int       `json:"turn"`
	Op      string    `json:"op"`
	Summary string    `json:"summary,omitempty"`
	At      time.Time `json:"at"`
}

// Session is the per-kind state for one orchestration run.
type Session struct {
	ID          string
	Kind        Kind
	WorkingRoot string
	SafeMode    bool
	NoExec      bool
	CreatedAt   time.Time
	History     []Applied
	Resource    Resource
}

// Record appends an applied operation to the session history.
func (s *Session) Record(turn int, op, summary string) {
	s.History = append(s.History, Applied{Turn: turn, Op: op, Summary: summary, At: time.Now().UTC()})
}

// View is an immutable snapshot of a session for context building.
type View struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	WorkingRoot string         `json:"working_root,omitempty"`
	SafeMode    bool           `json:"safe_mode"`
	History     []Applied      `json:"history"`
	Resource    map[string]any `json:"resource,omitempty"`
}

func (s *Session) snapshot() View {
	history := make([]Applied, len(s.History))
	copy(history, s.History)
	view := View{
		ID:          s.ID,
		Kind:        s.Kind,
		WorkingRoot: s.WorkingRoot,
		SafeMode:    s.SafeMode,
		History:     history,
	}
	if s.Resource != nil {
		view.Resource = s.Resource.Describe()
	}
	return view
}
