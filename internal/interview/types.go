package interview

import (
	"context"
	"time"

	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/llm"
)

// QuestionGenerator produces the next question from session context.
// Implemented by the Cerebras client; substituted by the fallback pool
// when the adapter times out or errors.
type QuestionGenerator interface {
	NextQuestion(ctx context.Context, qc llm.QuestionContext) (string, error)
}

// Synthesizer turns question text into spoken audio bytes.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// AudioStore persists synthesized question audio and returns a
// reference for the turn record.
type AudioStore interface {
	Put(key, contentType string, data []byte) (string, error)
}

// State is the turn controller's position in the question/answer loop.
type State string

const (
	StateAwaitingQuestion State = "awaiting-question"
	StatePlayingQuestion  State = "playing-question"
	StateRecordingAnswer  State = "recording-answer"
	StateFinalizing       State = "finalizing"
	StateComplete         State = "complete"
)

// Config carries the turn loop tunables. The auto-submit constants are
// deployment configuration, not code constants; defaults match the
// values the policy was tuned with.
type Config struct {
	MaxQuestions int

	// auto-submit policy
	MinRecordingTime time.Duration // floor before silence can close a turn
	SilenceThreshold time.Duration // inactivity window treated as answer complete
	MaxAnswerTime    time.Duration // hard cap per answer
	TickInterval     time.Duration // policy re-check period between events

	// adapter bounds
	QuestionTimeout  time.Duration
	SynthesisTimeout time.Duration
	PlaybackTimeout  time.Duration // wait bound for the playback-finished signal
}

func (c Config) WithDefaults() Config {
	if c.MaxQuestions <= 0 {
		c.MaxQuestions = 5
	}
	if c.MinRecordingTime <= 0 {
		c.MinRecordingTime = 2 * time.Second
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 5 * time.Second
	}
	if c.MaxAnswerTime <= 0 {
		c.MaxAnswerTime = 10 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.QuestionTimeout <= 0 {
		c.QuestionTimeout = 8 * time.Second
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 12 * time.Second
	}
	if c.PlaybackTimeout <= 0 {
		c.PlaybackTimeout = 60 * time.Second
	}
	return c
}
