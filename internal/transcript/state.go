package transcript

import (
	"sync"
	"time"
)

// StreamState tracks transcript progress for one turn's recording. The
// bridge is its only writer; the turn controller reads it to drive the
// auto-submit policy. It is discarded when the turn finalizes.
type StreamState struct {
	mu          sync.Mutex
	partial     string
	lastUpdate  time.Time
	hasText     bool
	startedAt   time.Time
	updateCh    chan struct{}
	doneCh      chan struct{}
	closed      bool
}

// NewStreamState starts the clock for one turn's answer capture.
// lastUpdate begins at the recording start so silence is measured from
// there until the first transcript fragment arrives.
func NewStreamState(startedAt time.Time) *StreamState {
	return &StreamState{
		startedAt:  startedAt,
		lastUpdate: startedAt,
		updateCh:   make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}
}

// NoteText records a transcript fragment. Partial events replace the
// running text; the auto-submit policy only cares that text exists and
// when it last changed.
func (s *StreamState) NoteText(text string, at time.Time) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.partial = text
	s.lastUpdate = at
	s.hasText = true
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.updateCh <- struct{}{}:
	default:
	}
}

// Snapshot returns the current transcript view for policy evaluation.
func (s *StreamState) Snapshot() (text string, lastUpdate time.Time, hasText bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial, s.lastUpdate, s.hasText
}

// Text returns the best transcript captured so far.
func (s *StreamState) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

// StartedAt is when the recording for this turn began.
func (s *StreamState) StartedAt() time.Time { return s.startedAt }

// Updates signals each transcript change so the policy re-checks
// immediately instead of waiting for the next tick.
func (s *StreamState) Updates() <-chan struct{} { return s.updateCh }

// Done is closed when the turn finalizes so the bridge tears down both
// legs even if the client never hangs up.
func (s *StreamState) Done() <-chan struct{} { return s.doneCh }

// Close marks the state finished; later fragments are still recorded
// but no longer signalled. Safe to call more than once.
func (s *StreamState) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.doneCh)
	}
	s.mu.Unlock()
}
