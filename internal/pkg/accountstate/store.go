package accountstate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ManuelReschke/MemberFox/internal/pkg/billing"
	"github.com/dmitrymomot/saaskit/pkg/statemachine"
)

const (
	// Error banners dismiss themselves after this long.
	errorAutoDismiss = 5 * time.Second
	// Fatal identity errors force a logout after a short grace period so the
	// user can read the message first.
	fatalLogoutDelay = 3 * time.Second
)

// Store holds the single session's account state: the machine position plus
// the last applied status view. Status responses carry a sequence number so a
// slow timer-driven check can never overwrite the result of a later
// user-triggered one.
type Store struct {
	mu sync.Mutex

	machine statemachine.StateMachine

	nextSeq    uint64
	appliedSeq uint64

	status       *billing.StatusView
	errorMessage string
	errorUntil   time.Time
	fatalAt      time.Time
}

// Snapshot is the session-serializable form of a Store.
type Snapshot struct {
	State        string              `json:"state"`
	AppliedSeq   uint64              `json:"appliedSeq"`
	NextSeq      uint64              `json:"nextSeq"`
	Status       *billing.StatusView `json:"status,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	ErrorUntil   time.Time           `json:"errorUntil,omitempty"`
	FatalAt      time.Time           `json:"fatalAt,omitempty"`
}

// NewStore returns a store in the anonymous state.
func NewStore() *Store {
	machine, err := newMachine(StateAnonymous)
	if err != nil {
		panic("accountstate: invalid transition table: " + err.Error())
	}
	return &Store{machine: machine}
}

// Restore rebuilds a store from a session snapshot. Unknown or empty states
// fall back to anonymous rather than failing the request.
func Restore(snap Snapshot) *Store {
	initial := statemachine.StringState(snap.State)
	switch initial {
	case StateAnonymous, StateAuthenticating, StateStatusUnknown,
		StateFree, StatePremium, StatePremiumCanceling, StateError:
	default:
		initial = StateAnonymous
	}

	machine, err := newMachine(initial)
	if err != nil {
		panic("accountstate: invalid transition table: " + err.Error())
	}
	return &Store{
		machine:      machine,
		nextSeq:      snap.NextSeq,
		appliedSeq:   snap.AppliedSeq,
		status:       snap.Status,
		errorMessage: snap.ErrorMessage,
		errorUntil:   snap.ErrorUntil,
		fatalAt:      snap.FatalAt,
	}
}

// RestoreJSON rebuilds a store from its JSON snapshot, tolerating garbage.
func RestoreJSON(raw string) *Store {
	if raw == "" {
		return NewStore()
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return NewStore()
	}
	return Restore(snap)
}

// Snapshot captures the current store for session persistence.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:        s.machine.Current().Name(),
		AppliedSeq:   s.appliedSeq,
		NextSeq:      s.nextSeq,
		Status:       s.status,
		ErrorMessage: s.errorMessage,
		ErrorUntil:   s.errorUntil,
		FatalAt:      s.fatalAt,
	}
}

// SnapshotJSON returns the snapshot serialized for the session store.
func (s *Store) SnapshotJSON() string {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return ""
	}
	return string(data)
}

// NewerSnapshotJSON picks the snapshot to persist when a request writes back
// to the session. Overlapping requests of one session each restore their own
// copy, so a slow request can finish holding an older applied result than the
// one persisted in the meantime; its write must not clobber the newer one.
func NewerSnapshotJSON(current, candidate string) string {
	var cand Snapshot
	if candidate == "" || json.Unmarshal([]byte(candidate), &cand) != nil {
		return current
	}
	var cur Snapshot
	if current != "" && json.Unmarshal([]byte(current), &cur) == nil {
		if cur.AppliedSeq > cand.AppliedSeq {
			return current
		}
		// Never lose sequence numbers handed out by a concurrent request.
		if cur.NextSeq > cand.NextSeq {
			cand.NextSeq = cur.NextSeq
			if merged, err := json.Marshal(cand); err == nil {
				return string(merged)
			}
			return current
		}
	}
	return candidate
}

// State returns the current machine state name.
func (s *Store) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current().Name()
}

// Status returns the last applied status view, nil while unresolved.
func (s *Store) Status() *billing.StatusView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ErrorMessage returns the active error banner text, empty when none.
func (s *Store) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMessage
}

// SubmitCredentials moves anonymous to authenticating.
func (s *Store) SubmitCredentials(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Fire(ctx, EventSubmitCredentials, nil)
}

// AuthSucceeded moves authenticating to status-unknown. The billing status is
// not trusted across logins and must be re-resolved.
func (s *Store) AuthSucceeded(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = nil
	s.appliedSeq = 0
	s.nextSeq = 0
	s.errorMessage = ""
	s.errorUntil = time.Time{}
	s.fatalAt = time.Time{}
	return s.machine.Fire(ctx, EventAuthSucceeded, nil)
}

// AuthFailed records a credential failure with an auto-dismissing banner.
func (s *Store) AuthFailed(ctx context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.machine.Fire(ctx, EventAuthFailed, nil); err != nil {
		return err
	}
	s.errorMessage = message
	s.errorUntil = time.Now().Add(errorAutoDismiss)
	s.fatalAt = time.Time{}
	return nil
}

// BeginStatusCheck hands out the sequence number for a new status resolution.
func (s *Store) BeginStatusCheck() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	return s.nextSeq
}

// ApplyStatus applies a resolved status view. A response carrying a sequence
// number at or below the last applied one is stale and discarded; the caller
// learns that from the return value.
func (s *Store) ApplyStatus(ctx context.Context, seq uint64, view *billing.StatusView) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.appliedSeq {
		return false, nil
	}
	if err := s.machine.Fire(ctx, EventStatusResolved, view); err != nil {
		return false, err
	}
	s.appliedSeq = seq
	s.status = view
	s.errorMessage = ""
	s.errorUntil = time.Time{}
	return true, nil
}

// ApplyStatusError moves to the error state for a failed resolution. Stale
// failures are discarded like stale successes. The previous tier is kept so
// the banner can resume into a known state, but the status itself is no
// longer trusted.
func (s *Store) ApplyStatusError(ctx context.Context, seq uint64, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.appliedSeq {
		return false, nil
	}
	if err := s.machine.Fire(ctx, EventStatusFailed, nil); err != nil {
		return false, err
	}
	s.appliedSeq = seq
	s.status = nil
	s.errorMessage = message
	s.errorUntil = time.Now().Add(errorAutoDismiss)
	s.fatalAt = time.Time{}
	return true, nil
}

// FatalIdentityError marks the current error as fatal. After the grace period
// Tick forces a logout back to anonymous.
func (s *Store) FatalIdentityError(ctx context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.machine.Current().Name() != StateError.Name() {
		if err := s.machine.Fire(ctx, EventStatusFailed, nil); err != nil {
			return err
		}
	}
	s.errorMessage = message
	s.errorUntil = time.Now().Add(errorAutoDismiss)
	s.fatalAt = time.Now().Add(fatalLogoutDelay)
	return nil
}

// Logout drops back to anonymous from any state and clears all session data.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutLocked(ctx)
}

func (s *Store) logoutLocked(ctx context.Context) {
	// Fire is best effort; already-anonymous stores have no transition.
	_ = s.machine.Fire(ctx, EventLogout, nil)
	s.status = nil
	s.appliedSeq = 0
	s.nextSeq = 0
	s.errorMessage = ""
	s.errorUntil = time.Time{}
	s.fatalAt = time.Time{}
}

// Tick advances time-based transitions: fatal errors force a logout once the
// grace period passed, ordinary error banners dismiss themselves and resume
// into the pre-error state. Call it once per request before rendering. The
// return value reports a forced logout so the caller can destroy the
// surrounding session as well.
func (s *Store) Tick(ctx context.Context, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.machine.Current().Name() != StateError.Name() {
		return false
	}

	if !s.fatalAt.IsZero() && now.After(s.fatalAt) {
		s.logoutLocked(ctx)
		return true
	}

	if !s.errorUntil.IsZero() && now.After(s.errorUntil) {
		resume := statemachine.State(StateAnonymous)
		if s.status != nil || s.appliedSeq > 0 || s.nextSeq > 0 {
			resume = StateStatusUnknown
		}
		if err := s.machine.Fire(ctx, EventErrorDismissed, resume); err != nil {
			return false
		}
		s.errorMessage = ""
		s.errorUntil = time.Time{}
	}
	return false
}
