package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/llm"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/retry"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/session"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/transcript"
)

// finalize reasons, recorded in logs only; a turn is persisted the same
// way regardless of why it closed.
const (
	reasonSilence    = "silence"
	reasonMaxTime    = "max-answer-time"
	reasonStreamLost = "stream-lost"
	reasonCancelled  = "cancelled"
)

// Controller drives the question/answer loop for one session:
// AwaitingQuestion -> PlayingQuestion -> RecordingAnswer -> Finalizing,
// repeated until MaxQuestions turns are persisted. It is the only
// writer of turn records and session progress.
type Controller struct {
	cfg       Config
	sessionID string
	store     session.Store
	hub       *session.Hub
	questions QuestionGenerator
	fallback  *FallbackPool
	synth     Synthesizer
	audio     AudioStore

	mu           sync.Mutex
	state        State
	turnNumber   int
	stream       *transcript.StreamState
	streamOpen   bool
	playbackDone chan struct{}
	streamFailed chan error
}

func NewController(cfg Config, sessionID string, store session.Store, hub *session.Hub,
	questions QuestionGenerator, fallback *FallbackPool, synth Synthesizer, audio AudioStore) *Controller {
	if fallback == nil {
		fallback = NewFallbackPool(nil)
	}
	return &Controller{
		cfg:       cfg.WithDefaults(),
		sessionID: sessionID,
		store:     store,
		hub:       hub,
		questions: questions,
		fallback:  fallback,
		synth:     synth,
		audio:     audio,
		state:     StateAwaitingQuestion,
	}
}

// Run executes the full loop. It returns when every turn is finalized
// or ctx is cancelled; in both cases the in-flight turn, if any, has
// been persisted.
func (c *Controller) Run(ctx context.Context) error {
	maxQ := c.maxQuestions()
	for turn := 1; turn <= maxQ; turn++ {
		c.beginTurn(turn)

		question := c.nextQuestion(ctx, turn)
		if ctx.Err() != nil {
			// Cancelled before the question was asked; nothing to persist.
			return ctx.Err()
		}
		audioRef := c.synthesizeQuestion(ctx, turn, question)
		askedAt := time.Now()

		c.setState(StatePlayingQuestion)
		c.hub.Publish(session.Event{
			Type:       session.EventQuestionReady,
			SessionID:  c.sessionID,
			TurnNumber: turn,
			Question:   question,
			AudioRef:   audioRef,
		})

		if !c.waitPlayback(ctx) {
			// Cancelled mid-playback: the turn was asked, so it is
			// finalized with an empty transcript rather than dropped.
			c.setState(StateFinalizing)
			c.finalizeTurn(turn, question, audioRef, askedAt, nil, reasonCancelled)
			return ctx.Err()
		}

		st := transcript.NewStreamState(time.Now())
		c.attachStream(st)
		c.setState(StateRecordingAnswer)

		reason := c.awaitAnswer(ctx, st)

		c.setState(StateFinalizing)
		c.finalizeTurn(turn, question, audioRef, askedAt, st, reason)
		if reason == reasonCancelled {
			return ctx.Err()
		}
	}
	c.complete()
	return nil
}

func (c *Controller) maxQuestions() int {
	if s, ok := c.store.GetSession(c.sessionID); ok && s.MaxQuestions > 0 {
		return s.MaxQuestions
	}
	return c.cfg.MaxQuestions
}

func (c *Controller) beginTurn(turn int) {
	c.mu.Lock()
	c.turnNumber = turn
	c.state = StateAwaitingQuestion
	c.stream = nil
	c.streamOpen = false
	c.playbackDone = make(chan struct{}, 1)
	c.streamFailed = make(chan error, 1)
	c.mu.Unlock()
}

// nextQuestion never fails: adapter errors fall back to the static pool
// so the loop cannot stall on question generation.
func (c *Controller) nextQuestion(ctx context.Context, turn int) string {
	qc := c.questionContext(turn)
	question, _ := retry.DoWithFallback(ctx,
		retry.Config{Timeout: c.cfg.QuestionTimeout},
		func(ctx context.Context) (string, error) {
			if c.questions == nil {
				return "", errors.New("question generator not configured")
			}
			return c.questions.NextQuestion(ctx, qc)
		},
		func(err error) string {
			log.Printf("[%s] question generation failed (%v), using fallback pool", c.sessionID, err)
			return c.fallback.Next()
		})
	return question
}

func (c *Controller) questionContext(turn int) llm.QuestionContext {
	qc := llm.QuestionContext{TurnNumber: turn}
	if s, ok := c.store.GetSession(c.sessionID); ok {
		qc.JobTitle = s.JobTitle
		qc.CandidateRef = s.CandidateRef
	}
	for _, t := range c.store.Turns(c.sessionID) {
		qc.PriorTurns = append(qc.PriorTurns, llm.PriorTurn{Question: t.QuestionText, Answer: t.TranscriptText})
	}
	return qc
}

// synthesizeQuestion stores the spoken question and returns its
// reference, or "" to proceed text-only when synthesis fails.
func (c *Controller) synthesizeQuestion(ctx context.Context, turn int, question string) string {
	if c.synth == nil || c.audio == nil {
		return ""
	}
	ref, _ := retry.DoWithFallback(ctx,
		retry.Config{Timeout: c.cfg.SynthesisTimeout},
		func(ctx context.Context) (string, error) {
			data, err := c.synth.Synthesize(ctx, question)
			if err != nil {
				return "", err
			}
			key := fmt.Sprintf("%s/question-%d.pcm", c.sessionID, turn)
			return c.audio.Put(key, "audio/pcm", data)
		},
		func(err error) string {
			log.Printf("[%s] synthesis failed (%v), proceeding text-only for turn %d", c.sessionID, err, turn)
			return ""
		})
	return ref
}

// waitPlayback blocks until the client reports playback finished, the
// bounded wait elapses, or ctx ends. Only cancellation aborts the turn.
func (c *Controller) waitPlayback(ctx context.Context) bool {
	c.mu.Lock()
	done := c.playbackDone
	c.mu.Unlock()
	select {
	case <-ctx.Done():
		return false
	case <-done:
		return true
	case <-time.After(c.cfg.PlaybackTimeout):
		log.Printf("[%s] no playback-finished signal within %s, starting recording anyway", c.sessionID, c.cfg.PlaybackTimeout)
		return true
	}
}

// awaitAnswer applies the auto-submit policy. The three conditions are
// evaluated together on every transcript update and on a periodic tick,
// since silence must be detected even when no events arrive:
//
//	finalize when (hasText && elapsed >= MinRecordingTime && silence >= SilenceThreshold)
//	          or  elapsed >= MaxAnswerTime
func (c *Controller) awaitAnswer(ctx context.Context, st *transcript.StreamState) string {
	c.mu.Lock()
	failed := c.streamFailed
	c.mu.Unlock()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return reasonCancelled
		case err := <-failed:
			log.Printf("[%s] answer stream unrecoverable (%v), finalizing on last partial", c.sessionID, err)
			return reasonStreamLost
		case <-st.Updates():
		case <-ticker.C:
		}

		now := time.Now()
		elapsed := now.Sub(st.StartedAt())
		_, lastUpdate, hasText := st.Snapshot()
		if elapsed >= c.cfg.MaxAnswerTime {
			return reasonMaxTime
		}
		if hasText && elapsed >= c.cfg.MinRecordingTime && now.Sub(lastUpdate) >= c.cfg.SilenceThreshold {
			return reasonSilence
		}
	}
}

// finalizeTurn persists the turn with the best available transcript,
// even an empty one, and releases the turn's stream. It runs on every
// exit path so no turn is silently dropped.
func (c *Controller) finalizeTurn(turn int, question, audioRef string, askedAt time.Time, st *transcript.StreamState, reason string) {
	answeredAt := time.Now()
	text := ""
	var responseMs int64
	if st != nil {
		st.Close()
		text = st.Text()
		responseMs = answeredAt.Sub(st.StartedAt()).Milliseconds()
	}
	c.detachStream()

	rec := session.QuestionAnswerTurn{
		SessionID:        c.sessionID,
		TurnNumber:       turn,
		QuestionText:     question,
		QuestionAudioRef: audioRef,
		TranscriptText:   text,
		AskedAt:          askedAt,
		AnsweredAt:       answeredAt,
		ResponseTimeMs:   responseMs,
	}
	if err := c.store.AppendTurn(rec); err != nil {
		log.Printf("[%s] persist turn %d: %v", c.sessionID, turn, err)
	}
	log.Printf("[%s] turn %d finalized (%s), transcript %d chars", c.sessionID, turn, reason, len(text))
	c.hub.Publish(session.Event{
		Type:       session.EventTurnFinalized,
		SessionID:  c.sessionID,
		TurnNumber: turn,
	})
}

func (c *Controller) complete() {
	c.setState(StateComplete)
	_, err := c.store.UpdateSession(c.sessionID, func(s *session.InterviewSession) error {
		s.Status = session.StatusCompleted
		s.EndedAt = time.Now()
		return nil
	})
	if err != nil {
		log.Printf("[%s] mark completed: %v", c.sessionID, err)
	}
	c.hub.Publish(session.Event{Type: session.EventSessionDone, SessionID: c.sessionID})
}

// PlaybackFinished is the client's signal that question audio finished
// playing; it triggers the transition into RecordingAnswer.
func (c *Controller) PlaybackFinished() {
	c.mu.Lock()
	done := c.playbackDone
	c.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case done <- struct{}{}:
	default:
	}
}

// BeginAnswerStream hands the current turn's stream state to the
// transcription bridge. At most one stream may be open per session.
func (c *Controller) BeginAnswerStream() (*transcript.StreamState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecordingAnswer {
		return nil, fmt.Errorf("no answer recording in progress (state %s)", c.state)
	}
	if c.streamOpen {
		return nil, errors.New("answer stream already open for this session")
	}
	if c.stream == nil {
		return nil, errors.New("no stream state for current turn")
	}
	c.streamOpen = true
	return c.stream, nil
}

// EndAnswerStream releases the single-connection slot when the bridge
// tears down.
func (c *Controller) EndAnswerStream() {
	c.mu.Lock()
	c.streamOpen = false
	c.mu.Unlock()
}

// StreamFailed reports an unrecoverable answer stream; the controller
// finalizes the turn immediately on the last known partial transcript
// instead of waiting for the silence timer.
func (c *Controller) StreamFailed(err error) {
	c.mu.Lock()
	failed := c.streamFailed
	c.mu.Unlock()
	if failed == nil {
		return
	}
	select {
	case failed <- err:
	default:
	}
}

// Snapshot reports the controller position for status endpoints.
func (c *Controller) Snapshot() (State, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.turnNumber
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) attachStream(st *transcript.StreamState) {
	c.mu.Lock()
	c.stream = st
	c.streamOpen = false
	c.mu.Unlock()
}

func (c *Controller) detachStream() {
	c.mu.Lock()
	c.stream = nil
	c.streamOpen = false
	c.mu.Unlock()
}
