package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Config carries the per-run defaults sessions are created with.
type Config struct {
	RunID      string
	EditorRoot string
	ShellRoot  string
	SafeMode   bool
	NoExec     bool
}

// Store owns at most one session per kind for a single orchestration run.
// Sessions are created lazily on first use and live until teardown.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[Kind]*Session
	torndown bool
}

func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg, sessions: make(map[Kind]*Session)}
}

var ErrTornDown = errors.New("session store torn down")

// GetOrCreate returns the session for a kind, creating it on first use.
func (st *Store) GetOrCreate(kind Kind) (*Session, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown session kind %q", kind)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.torndown {
		return nil, ErrTornDown
	}
	if sess, ok := st.sessions[kind]; ok {
		return sess, nil
	}
	sess := &Session{
		ID:        fmt.Sprintf("%s-%s", st.cfg.RunID, kind),
		Kind:      kind,
		SafeMode:  st.cfg.SafeMode,
		NoExec:    st.cfg.NoExec,
		CreatedAt: time.Now().UTC(),
	}
	switch kind {
	case KindEditor:
		sess.WorkingRoot = st.cfg.EditorRoot
	case KindShell:
		sess.WorkingRoot = st.cfg.ShellRoot
	}
	st.sessions[kind] = sess
	return sess, nil
}

// Snapshot returns an immutable view of a session, or false when the kind
// has not been used yet.
func (st *Store) Snapshot(kind Kind) (View, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[kind]
	if !ok {
		return View{}, false
	}
	return sess.snapshot(), true
}

// Active lists the kinds that have live sessions, in creation order.
func (st *Store) Active() []Kind {
	st.mu.Lock()
	defer st.mu.Unlock()
	kinds := make([]Kind, 0, len(st.sessions))
	for _, kind := range []Kind{KindEditor, KindShell, KindDatabase, KindDiagram} {
		if _, ok := st.sessions[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Teardown closes every live session resource. It never panics and never
// stops early: sub-failures are collected and returned joined so cleanup
// always runs to completion. The store rejects further use afterwards.
func (st *Store) Teardown(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.torndown {
		return nil
	}
	st.torndown = true
	var errs []error
	for kind, sess := range st.sessions {
		if sess.Resource == nil {
			continue
		}
		if err := closeResource(ctx, sess.Resource); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
		sess.Resource = nil
	}
	return errors.Join(errs...)
}

func closeResource(ctx context.Context, res Resource) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close panicked: %v", r)
		}
	}()
	return res.Close(ctx)
}
