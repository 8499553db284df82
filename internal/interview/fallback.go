package interview

import (
	"sync"
)

// FallbackPool hands out general-purpose questions when the generation
// adapter is unavailable. The pool is bounded and cycles rather than
// running dry so the loop can always proceed.
type FallbackPool struct {
	mu        sync.Mutex
	questions []string
	next      int
}

func NewFallbackPool(questions []string) *FallbackPool {
	if len(questions) == 0 {
		questions = defaultFallbackQuestions
	}
	return &FallbackPool{questions: questions}
}

// Next returns the next pooled question, cycling when exhausted.
func (p *FallbackPool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.questions[p.next%len(p.questions)]
	p.next++
	return q
}

var defaultFallbackQuestions = []string{
	"Tell me about a recent project you are proud of and your role in it.",
	"Describe a difficult technical problem you solved and how you approached it.",
	"What interests you about this role, and what would you want to learn in it?",
	"Tell me about a time you disagreed with a teammate. How was it resolved?",
	"How do you decide what to work on first when everything feels urgent?",
	"What is a piece of feedback you received that changed how you work?",
	"Walk me through how you would ramp up on an unfamiliar codebase.",
	"Describe a mistake you made at work and what you did afterwards.",
}
