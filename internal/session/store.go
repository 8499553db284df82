package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the session-keyed repository shared by the gate, turn
// controller, assembler and proctoring monitor. Implementations must be
// safe for concurrent use; each field group has exactly one writer.
type Store interface {
	CreateSession(s InterviewSession) (InterviewSession, error)
	GetSession(id string) (InterviewSession, bool)
	UpdateSession(id string, fn func(*InterviewSession) error) (InterviewSession, error)

	AppendTurn(t QuestionAnswerTurn) error
	Turns(sessionID string) []QuestionAnswerTurn

	AppendWarning(w ProctoringWarning)
	Warnings(sessionID string) []ProctoringWarning

	// PutMergedRecording records the merged artifact for a session.
	// If one already exists it is returned unchanged and created is false.
	PutMergedRecording(rec MergedRecording) (MergedRecording, bool)
	GetMergedRecording(sessionID string) (MergedRecording, bool)
}

// MemoryStore keeps all handoff state in process memory.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]InterviewSession
	turns      map[string][]QuestionAnswerTurn
	warnings   map[string][]ProctoringWarning
	recordings map[string]MergedRecording
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]InterviewSession),
		turns:      make(map[string][]QuestionAnswerTurn),
		warnings:   make(map[string][]ProctoringWarning),
		recordings: make(map[string]MergedRecording),
	}
}

func (m *MemoryStore) CreateSession(s InterviewSession) (InterviewSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, exists := m.sessions[s.ID]; exists {
		return InterviewSession{}, fmt.Errorf("session %s already exists", s.ID)
	}
	if s.Status == "" {
		s.Status = StatusPending
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemoryStore) GetSession(id string) (InterviewSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// UpdateSession applies fn to a copy of the session under the lock and
// stores the result when fn returns nil. Completed/expired sessions are
// immutable.
func (m *MemoryStore) UpdateSession(id string, fn func(*InterviewSession) error) (InterviewSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return InterviewSession{}, fmt.Errorf("session %s not found", id)
	}
	if s.Terminal() {
		return s, nil
	}
	if err := fn(&s); err != nil {
		return InterviewSession{}, err
	}
	m.sessions[id] = s
	return s, nil
}

// AppendTurn enforces contiguous turn numbering starting at 1.
func (m *MemoryStore) AppendTurn(t QuestionAnswerTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.turns[t.SessionID]
	if want := len(existing) + 1; t.TurnNumber != want {
		return fmt.Errorf("turn number %d out of sequence, want %d", t.TurnNumber, want)
	}
	m.turns[t.SessionID] = append(existing, t)
	return nil
}

func (m *MemoryStore) Turns(sessionID string) []QuestionAnswerTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QuestionAnswerTurn, len(m.turns[sessionID]))
	copy(out, m.turns[sessionID])
	sort.Slice(out, func(i, j int) bool { return out[i].TurnNumber < out[j].TurnNumber })
	return out
}

func (m *MemoryStore) AppendWarning(w ProctoringWarning) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings[w.SessionID] = append(m.warnings[w.SessionID], w)
}

func (m *MemoryStore) Warnings(sessionID string) []ProctoringWarning {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProctoringWarning, len(m.warnings[sessionID]))
	copy(out, m.warnings[sessionID])
	return out
}

func (m *MemoryStore) PutMergedRecording(rec MergedRecording) (MergedRecording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.recordings[rec.SessionID]; ok {
		return existing, false
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.recordings[rec.SessionID] = rec
	return rec, true
}

func (m *MemoryStore) GetMergedRecording(sessionID string) (MergedRecording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recordings[sessionID]
	return rec, ok
}
