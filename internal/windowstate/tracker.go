// File: internal/windowstate/tracker.go
// Description: Idempotent per-session window arrangement state machine.
// Replaces ambient "is the window split" global state so concurrent
// callers touching the same window cannot race each other into
// inconsistent visual layouts.
package windowstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

// staleAfter bounds how long a recorded arrangement is trusted. The
// tracker cannot watch for the user closing the managed window, so past
// this age a matching request re-arranges instead of no-opping.
const staleAfter = 10 * time.Minute

// Tracker owns every WindowSession. Sessions are keyed independently:
// operations on unrelated sessions never contend on a shared lock.
type Tracker struct {
	arranger schemas.WindowArranger
	store    schemas.ArrangementStore
	clock    schemas.Clock
	logger   *zap.Logger

	mu       sync.Mutex // guards the sessions map only, never held across arrange calls
	sessions map[string]*session
}

type session struct {
	mu    sync.Mutex
	state schemas.WindowSession
}

// New builds a Tracker. Previously persisted arrangement state is loaded
// lazily per session key.
func New(arranger schemas.WindowArranger, store schemas.ArrangementStore, clock schemas.Clock, logger *zap.Logger) *Tracker {
	if clock == nil {
		clock = schemas.SystemClock{}
	}
	return &Tracker{
		arranger: arranger,
		store:    store,
		clock:    clock,
		logger:   logger.Named("windowstate"),
		sessions: make(map[string]*session),
	}
}

func (t *Tracker) session(key string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[key]
	if !ok {
		s = &session{state: schemas.WindowSession{
			SessionKey: key,
			State:      schemas.ArrangementUnknown,
		}}
		// Restore persisted arrangement on first touch of the key.
		if t.store != nil {
			if persisted, found, err := t.store.Load(key); err != nil {
				t.logger.Warn("Failed to load persisted arrangement", zap.String("session", key), zap.Error(err))
			} else if found {
				s.state = persisted
			}
		}
		t.sessions[key] = s
	}
	return s
}

// RequestOpen moves the session to Single by opening the target,
// unless the session is already showing exactly this target in a single
// layout.
func (t *Tracker) RequestOpen(ctx context.Context, sessionKey, target string) error {
	s := t.session(sessionKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	t.discardIfStale(s)

	if s.state.State == schemas.ArrangementSingle && s.state.WindowTarget == target {
		t.logger.Debug("Open is a no-op; desired state already holds",
			zap.String("session", sessionKey), zap.String("target", target))
		return nil
	}
	if err := t.arranger.ArrangeSingle(ctx, target); err != nil {
		return fmt.Errorf("arrange single failed: %w", err)
	}
	s.state.State = schemas.ArrangementSingle
	s.state.WindowTarget = target
	s.state.LastAppliedAt = t.clock.Now()
	t.persist(s)
	return nil
}

// RequestSplit moves the session to the matching split state from any
// state. When the current state already equals the requested one, it
// performs no OS-level arrangement call at all — preventing redundant
// calls and visual flicker — while still reporting success, because the
// desired end state already holds.
func (t *Tracker) RequestSplit(ctx context.Context, sessionKey, target string, side schemas.SplitSide) error {
	desired := schemas.ArrangementSplitLeft
	if side == schemas.SplitRight {
		desired = schemas.ArrangementSplitRight
	}

	s := t.session(sessionKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	t.discardIfStale(s)

	if s.state.State == desired && s.state.WindowTarget == target {
		t.logger.Debug("Split is a no-op; desired state already holds",
			zap.String("session", sessionKey), zap.String("side", string(side)))
		return nil
	}
	if err := t.arranger.ArrangeSplit(ctx, target, side); err != nil {
		return fmt.Errorf("arrange split %s failed: %w", side, err)
	}
	s.state.State = desired
	s.state.WindowTarget = target
	s.state.LastAppliedAt = t.clock.Now()
	t.persist(s)
	return nil
}

// Reset returns the session to Unknown. Called when an external close of
// the managed window is detected.
func (t *Tracker) Reset(sessionKey string) {
	s := t.session(sessionKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	t.resetLocked(s)
}

// resetLocked is Reset with the session lock already held.
func (t *Tracker) resetLocked(s *session) {
	s.state.State = schemas.ArrangementUnknown
	s.state.WindowTarget = ""
	s.state.LastAppliedAt = t.clock.Now()
	if t.store != nil {
		if err := t.store.Delete(s.state.SessionKey); err != nil {
			t.logger.Warn("Failed to delete persisted arrangement", zap.String("session", s.state.SessionKey), zap.Error(err))
		}
	}
}

// discardIfStale drops a recorded arrangement too old to trust, so the
// next request re-arranges rather than assuming the layout survived.
// Called with the session lock held.
func (t *Tracker) discardIfStale(s *session) {
	if s.state.State == schemas.ArrangementUnknown || s.state.LastAppliedAt.IsZero() {
		return
	}
	if t.clock.Now().Sub(s.state.LastAppliedAt) <= staleAfter {
		return
	}
	t.logger.Debug("Recorded arrangement is stale; discarding",
		zap.String("session", s.state.SessionKey), zap.Time("last_applied", s.state.LastAppliedAt))
	t.resetLocked(s)
}

// Arranger exposes the underlying OS-facing arranger, mainly so
// adapters can forward health probes to it.
func (t *Tracker) Arranger() schemas.WindowArranger {
	return t.arranger
}

// State reports the current arrangement for a session key.
func (t *Tracker) State(sessionKey string) schemas.WindowSession {
	s := t.session(sessionKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// persist is called with the session lock held.
func (t *Tracker) persist(s *session) {
	if t.store == nil {
		return
	}
	if err := t.store.Save(s.state); err != nil {
		// Persistence failure degrades restart recovery, not the request.
		t.logger.Warn("Failed to persist arrangement",
			zap.String("session", s.state.SessionKey), zap.Error(err))
	}
}
