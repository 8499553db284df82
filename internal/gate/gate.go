package gate

import (
	"errors"
	"time"

	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/session"
)

// State is the access decision for a session link at a point in time.
type State string

const (
	StateNotYet       State = "not-yet"
	StateStartingSoon State = "starting-soon"
	StateActive       State = "active"
	StateExpired      State = "expired"
)

var (
	ErrTooEarly = errors.New("session window has not opened yet")
	ErrExpired  = errors.New("session window has expired")
)

// Decision carries the state and, for pre-window states, the time left
// until the scheduled start.
type Decision struct {
	State     State         `json:"state"`
	Countdown time.Duration `json:"-"`
}

// Gate decides whether a session link is usable now. The window is
// [scheduledAt-Before, scheduledAt+After].
type Gate struct {
	Before time.Duration
	After  time.Duration
	now    func() time.Time
}

func New(before, after time.Duration) *Gate {
	if before <= 0 {
		before = 15 * time.Minute
	}
	if after <= 0 {
		after = 15 * time.Minute
	}
	return &Gate{Before: before, After: after, now: time.Now}
}

// Evaluate is the pure window check. Expired status on the session is
// sticky: once a session has expired no later clock reading revives it.
func (g *Gate) Evaluate(s session.InterviewSession, now time.Time) Decision {
	if s.Status == session.StatusExpired {
		return Decision{State: StateExpired}
	}
	opens := s.ScheduledAt.Add(-g.Before)
	closes := s.ScheduledAt.Add(g.After)
	switch {
	case now.Before(opens):
		return Decision{State: StateNotYet, Countdown: s.ScheduledAt.Sub(now)}
	case now.Before(s.ScheduledAt):
		return Decision{State: StateStartingSoon, Countdown: s.ScheduledAt.Sub(now)}
	case !now.After(closes):
		return Decision{State: StateActive}
	default:
		return Decision{State: StateExpired}
	}
}

// Admit evaluates the window for a stored session and applies the state
// side effects: the first Active admission stamps startedAt and marks
// the session active; crossing into Expired sets the terminal expired
// status permanently.
func (g *Gate) Admit(store session.Store, sessionID string) (Decision, error) {
	s, ok := store.GetSession(sessionID)
	if !ok {
		return Decision{}, errors.New("unknown session")
	}
	now := g.now()
	d := g.Evaluate(s, now)
	switch d.State {
	case StateActive:
		if s.Status == session.StatusPending {
			_, err := store.UpdateSession(sessionID, func(s *session.InterviewSession) error {
				if s.Status == session.StatusPending {
					s.Status = session.StatusActive
					s.StartedAt = now
				}
				return nil
			})
			if err != nil {
				return d, err
			}
		}
	case StateExpired:
		if s.Status != session.StatusExpired {
			_, err := store.UpdateSession(sessionID, func(s *session.InterviewSession) error {
				s.Status = session.StatusExpired
				if s.EndedAt.IsZero() {
					s.EndedAt = now
				}
				return nil
			})
			if err != nil {
				return d, err
			}
		}
	}
	return d, nil
}
