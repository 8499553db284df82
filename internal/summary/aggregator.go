package summary

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/session"
)

// SessionSummary is the complete handoff record for one finished
// session: everything a downstream evaluation pipeline needs.
type SessionSummary struct {
	Session    session.InterviewSession    `json:"session"`
	Turns      []session.QuestionAnswerTurn `json:"turns"`
	Warnings   []session.ProctoringWarning  `json:"warnings"`
	Recording  *session.MergedRecording     `json:"recording,omitempty"`
	Flags      []string                     `json:"flags,omitempty"`
	Evaluation string                       `json:"evaluation,omitempty"`
	BuiltAt    time.Time                    `json:"builtAt"`
}

// Evaluator scores a finished interview. It is an external collaborator;
// evaluation failure never blocks the summary.
type Evaluator interface {
	Evaluate(ctx context.Context, s SessionSummary) (string, error)
}

// Aggregator assembles summaries from handoff state. It only reads;
// the controller, assembler and monitor own their slices of the store.
type Aggregator struct {
	store     session.Store
	evaluator Evaluator
}

func NewAggregator(store session.Store, evaluator Evaluator) *Aggregator {
	return &Aggregator{store: store, evaluator: evaluator}
}

// Build assembles the summary for a session in any state. A missing
// recording is reported as a flag, never an error: transcripts and
// warnings are still worth handing off.
func (a *Aggregator) Build(ctx context.Context, sessionID string) (SessionSummary, error) {
	s, ok := a.store.GetSession(sessionID)
	if !ok {
		return SessionSummary{}, fmt.Errorf("session %s not found", sessionID)
	}

	sum := SessionSummary{
		Session:  s,
		Turns:    a.store.Turns(sessionID),
		Warnings: a.store.Warnings(sessionID),
		BuiltAt:  time.Now(),
	}
	if rec, ok := a.store.GetMergedRecording(sessionID); ok {
		sum.Recording = &rec
		if rec.AudioMissing {
			sum.Flags = append(sum.Flags, "recording-audio-missing")
		}
		if len(rec.MissingChunks) > 0 {
			sum.Flags = append(sum.Flags, fmt.Sprintf("recording-missing-%d-chunks", len(rec.MissingChunks)))
		}
	} else {
		sum.Flags = append(sum.Flags, "recording-unavailable")
	}
	if s.Status == session.StatusExpired {
		sum.Flags = append(sum.Flags, "session-expired")
	}
	if s.MaxQuestions > 0 && len(sum.Turns) < s.MaxQuestions {
		sum.Flags = append(sum.Flags, fmt.Sprintf("incomplete-%d-of-%d-turns", len(sum.Turns), s.MaxQuestions))
	}

	if a.evaluator != nil && s.Terminal() {
		eval, err := a.evaluator.Evaluate(ctx, sum)
		if err != nil {
			log.Printf("[%s] evaluation failed, handing off without a score: %v", sessionID, err)
			sum.Flags = append(sum.Flags, "evaluation-failed")
		} else {
			sum.Evaluation = eval
		}
	}
	return sum, nil
}
