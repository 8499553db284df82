package interview

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/proctor"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/recording"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/session"
)

// ErrNotRunning means no live runtime exists for the session.
var ErrNotRunning = errors.New("session is not running")

// runtime is everything live for one admitted session. It exists from
// StartSession until the controller loop ends and teardown finishes.
type runtime struct {
	controller *Controller
	frames     *proctor.FrameBuffer
	cancel     context.CancelFunc
	done       chan struct{}
}

// Manager owns the live runtimes: one controller plus one proctoring
// monitor per admitted session, all sharing the bounded detector pool.
type Manager struct {
	cfg        Config
	proctorCfg proctor.MonitorConfig
	store      session.Store
	hub        *session.Hub
	assembler  *recording.Assembler
	questions  QuestionGenerator
	fallback   *FallbackPool
	synth      Synthesizer
	audio      AudioStore
	pool       *proctor.Pool
	primary    proctor.Detector
	secondary  proctor.Detector

	mu       sync.Mutex
	runtimes map[string]*runtime
}

func NewManager(cfg Config, proctorCfg proctor.MonitorConfig, store session.Store, hub *session.Hub,
	assembler *recording.Assembler, questions QuestionGenerator, synth Synthesizer, audio AudioStore,
	pool *proctor.Pool, primary, secondary proctor.Detector) *Manager {
	return &Manager{
		cfg:        cfg.WithDefaults(),
		proctorCfg: proctorCfg,
		store:      store,
		hub:        hub,
		assembler:  assembler,
		questions:  questions,
		fallback:   NewFallbackPool(nil),
		synth:      synth,
		audio:      audio,
		pool:       pool,
		primary:    primary,
		secondary:  secondary,
		runtimes:   make(map[string]*runtime),
	}
}

// StartSession launches the interview loop and proctoring monitor for
// an admitted session. Repeated calls for a running session are no-ops,
// so a page reload cannot spawn a second controller.
func (m *Manager) StartSession(sessionID string) error {
	s, ok := m.store.GetSession(sessionID)
	if !ok {
		return errors.New("session not found")
	}
	if s.Terminal() {
		return errors.New("session already ended")
	}

	m.mu.Lock()
	if _, running := m.runtimes[sessionID]; running {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt := &runtime{
		controller: NewController(m.cfg, sessionID, m.store, m.hub, m.questions, m.fallback, m.synth, m.audio),
		frames:     proctor.NewFrameBuffer(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.runtimes[sessionID] = rt
	m.mu.Unlock()

	monitor := proctor.NewMonitor(m.proctorCfg, sessionID, m.store, rt.frames, m.pool, m.primary, m.secondary)
	if m.audio != nil {
		monitor.WithSnapshots(m.audio)
	}
	go monitor.Run(ctx)
	go m.run(ctx, sessionID, rt)
	log.Printf("[%s] session runtime started", sessionID)
	return nil
}

func (m *Manager) run(ctx context.Context, sessionID string, rt *runtime) {
	defer close(rt.done)
	defer m.teardown(sessionID, rt)
	if err := rt.controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[%s] interview loop ended with error: %v", sessionID, err)
	}
}

// teardown runs whenever the loop exits, on completion or abandonment.
// The monitor is already stopping via the shared context; the recording
// merge runs best-effort with whatever chunks arrived. Every step is
// isolated so one failure cannot skip the rest.
func (m *Manager) teardown(sessionID string, rt *runtime) {
	rt.cancel()

	if _, err := m.assembler.Teardown(context.Background(), sessionID); err != nil &&
		!errors.Is(err, recording.ErrMergeFailed) {
		log.Printf("[%s] teardown merge: %v", sessionID, err)
	}

	m.mu.Lock()
	delete(m.runtimes, sessionID)
	m.mu.Unlock()
	log.Printf("[%s] session runtime released", sessionID)
}

// Controller returns the live controller for a session.
func (m *Manager) Controller(sessionID string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[sessionID]
	if !ok {
		return nil, ErrNotRunning
	}
	return rt.controller, nil
}

// Frames returns the proctoring frame buffer for a session.
func (m *Manager) Frames(sessionID string) (*proctor.FrameBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[sessionID]
	if !ok {
		return nil, ErrNotRunning
	}
	return rt.frames, nil
}

// Abandon ends a session early: the in-flight turn finalizes on its
// partial transcript, the monitor stops, and the partial recording is
// merged. Safe to call for sessions that never started or already ended.
func (m *Manager) Abandon(sessionID string) {
	m.mu.Lock()
	rt, running := m.runtimes[sessionID]
	m.mu.Unlock()

	if running {
		rt.cancel()
		select {
		case <-rt.done:
		case <-time.After(10 * time.Second):
			log.Printf("[%s] abandon: teardown still running after 10s, not waiting", sessionID)
		}
	} else {
		// No live runtime; still try to salvage any uploaded chunks.
		if _, err := m.assembler.Teardown(context.Background(), sessionID); err != nil &&
			!errors.Is(err, recording.ErrMergeFailed) {
			log.Printf("[%s] abandon merge: %v", sessionID, err)
		}
	}

	if _, err := m.store.UpdateSession(sessionID, func(s *session.InterviewSession) error {
		s.Status = session.StatusExpired
		s.EndedAt = time.Now()
		return nil
	}); err != nil {
		log.Printf("[%s] mark abandoned: %v", sessionID, err)
	}
	m.hub.Publish(session.Event{Type: session.EventSessionExpired, SessionID: sessionID})
}

// Shutdown cancels every live runtime and waits briefly for teardowns.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	rts := make([]*runtime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		rts = append(rts, rt)
	}
	m.mu.Unlock()

	for _, rt := range rts {
		rt.cancel()
	}
	for _, rt := range rts {
		select {
		case <-rt.done:
		case <-ctx.Done():
			return
		}
	}
}
