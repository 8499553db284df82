package session

import "time"

// Status is the lifecycle state of an interview session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// InterviewSession is the session record issued with a candidate link.
// It is mutated by the access gate (status transitions) and the turn
// controller (start/end) and is immutable once completed or expired.
type InterviewSession struct {
	ID           string    `json:"id"`
	CandidateID  string    `json:"candidateId"`
	CandidateRef string    `json:"candidateRef,omitempty"`
	JobTitle     string    `json:"jobTitle"`
	ScheduledAt  time.Time `json:"scheduledAt"`
	Status       Status    `json:"status"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	EndedAt      time.Time `json:"endedAt,omitempty"`
	MaxQuestions int       `json:"maxQuestions"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Terminal reports whether the session can no longer change state.
func (s *InterviewSession) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusExpired
}

// QuestionAnswerTurn is one completed question/answer exchange.
// Turns are owned by the turn controller, appended once on finalize and
// never mutated afterwards. Turn numbers are contiguous starting at 1.
type QuestionAnswerTurn struct {
	SessionID        string    `json:"sessionId"`
	TurnNumber       int       `json:"turnNumber"`
	QuestionText     string    `json:"questionText"`
	QuestionAudioRef string    `json:"questionAudioRef,omitempty"`
	TranscriptText   string    `json:"transcriptText"`
	AskedAt          time.Time `json:"askedAt"`
	AnsweredAt       time.Time `json:"answeredAt"`
	ResponseTimeMs   int64     `json:"responseTimeMs"`
}

// WarningType classifies a proctoring violation.
type WarningType string

const (
	WarningNoFace           WarningType = "no-face"
	WarningMultipleFaces    WarningType = "multiple-faces"
	WarningDisallowedObject WarningType = "disallowed-object"
)

// ProctoringWarning is one debounced violation event. Warnings are
// append-only and keep detection order.
type ProctoringWarning struct {
	SessionID   string      `json:"sessionId"`
	Type        WarningType `json:"type"`
	Detail      string      `json:"detail,omitempty"`
	SnapshotRef string      `json:"snapshotRef,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// MergedRecording is the single durable media artifact for a session.
// It is produced at most once; retried merges return the existing record.
type MergedRecording struct {
	SessionID     string    `json:"sessionId"`
	ArtifactRef   string    `json:"artifactRef"`
	DurationMs    int64     `json:"durationMs"`
	AudioMissing  bool      `json:"audioMissing,omitempty"`
	MissingChunks []int     `json:"missingChunks,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
