package proctor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/session"
)

// MonitorConfig tunes one session's proctoring loop.
type MonitorConfig struct {
	// Interval between frame checks.
	Interval time.Duration
	// DebounceCount consecutive violating checks before a warning is
	// recorded. Each further run of DebounceCount violations records
	// another warning.
	DebounceCount int
	// FrameMaxAge beyond which the buffered frame is ignored.
	FrameMaxAge time.Duration
	// PrimaryFailLimit consecutive primary detector errors before the
	// monitor switches to the fallback for the rest of the session.
	PrimaryFailLimit int
	// CheckTimeout bounds a single detector call.
	CheckTimeout time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.DebounceCount <= 0 {
		c.DebounceCount = 3
	}
	if c.FrameMaxAge <= 0 {
		c.FrameMaxAge = 2 * c.Interval
	}
	if c.PrimaryFailLimit <= 0 {
		c.PrimaryFailLimit = 3
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 4 * time.Second
	}
	return c
}

// SnapshotStore persists the frame that triggered a warning so the
// evidence survives the session.
type SnapshotStore interface {
	Put(key, contentType string, data []byte) (string, error)
}

// Monitor periodically analyses the latest webcam frame for one session
// and records debounced proctoring warnings. Detection failures degrade
// to the fallback detector; they never interrupt the interview.
type Monitor struct {
	cfg       MonitorConfig
	sessionID string
	store     session.Store
	frames    *FrameBuffer
	pool      *Pool
	primary   Detector
	fallback  Detector
	snapshots SnapshotStore

	active       Detector
	primaryFails int
	streaks      map[session.WarningType]int
}

func NewMonitor(cfg MonitorConfig, sessionID string, store session.Store, frames *FrameBuffer, pool *Pool, primary, fallback Detector) *Monitor {
	m := &Monitor{
		cfg:       cfg.withDefaults(),
		sessionID: sessionID,
		store:     store,
		frames:    frames,
		pool:      pool,
		primary:   primary,
		fallback:  fallback,
		streaks:   make(map[session.WarningType]int),
	}
	m.active = primary
	if m.active == nil {
		m.active = fallback
	}
	return m
}

// WithSnapshots stores the offending frame alongside each warning.
func (m *Monitor) WithSnapshots(s SnapshotStore) *Monitor {
	m.snapshots = s
	return m
}

// Run loops until ctx is cancelled. All monitor state is touched only
// from this goroutine.
func (m *Monitor) Run(ctx context.Context) {
	if m.active == nil {
		log.Printf("[%s] no proctoring detector configured, monitor idle", m.sessionID)
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	frame, at, ok := m.frames.Latest()
	if !ok || time.Since(at) > m.cfg.FrameMaxAge {
		return
	}
	// Skip the tick rather than queue behind other sessions when the
	// shared pool is saturated.
	ran := m.pool.TryRun(ctx, func(ctx context.Context) {
		obs, err := m.check(ctx, frame)
		if err != nil {
			log.Printf("[%s] proctor check failed on %s detector: %v", m.sessionID, m.active.Name(), err)
			return
		}
		m.evaluate(obs, frame)
	})
	if !ran {
		log.Printf("[%s] proctor pool saturated, skipping check", m.sessionID)
	}
}

func (m *Monitor) check(ctx context.Context, frame []byte) (Observation, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()
	obs, err := m.active.Check(cctx, frame)
	if err == nil {
		if m.active == m.primary {
			m.primaryFails = 0
		}
		return obs, nil
	}
	if m.active != m.primary || m.fallback == nil {
		return Observation{}, err
	}
	m.primaryFails++
	if m.primaryFails >= m.cfg.PrimaryFailLimit {
		log.Printf("[%s] primary detector failed %d times, switching to %s for the rest of the session",
			m.sessionID, m.primaryFails, m.fallback.Name())
		m.active = m.fallback
	}
	// Cover this check with the fallback regardless of the switch.
	cctx2, cancel2 := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel2()
	return m.fallback.Check(cctx2, frame)
}

// evaluate updates per-violation streaks. A warning is recorded each
// time a streak reaches DebounceCount, then the streak restarts, so a
// violation held for K*DebounceCount checks yields exactly K warnings.
func (m *Monitor) evaluate(obs Observation, frame []byte) {
	m.bump(session.WarningNoFace, obs.FaceCount == 0, frame)
	m.bump(session.WarningMultipleFaces, obs.FaceCount > 1, frame)
	m.bump(session.WarningDisallowedObject, len(obs.Objects) > 0, frame)
}

func (m *Monitor) bump(wt session.WarningType, violating bool, frame []byte) {
	if !violating {
		m.streaks[wt] = 0
		return
	}
	m.streaks[wt]++
	if m.streaks[wt] < m.cfg.DebounceCount {
		return
	}
	m.streaks[wt] = 0
	w := session.ProctoringWarning{
		SessionID: m.sessionID,
		Type:      wt,
		Detail:    "detected by " + m.active.Name() + " detector",
		Timestamp: time.Now(),
	}
	if m.snapshots != nil {
		key := fmt.Sprintf("%s/warning-%s-%d.jpg", m.sessionID, wt, w.Timestamp.UnixNano())
		ref, err := m.snapshots.Put(key, "image/jpeg", frame)
		if err != nil {
			log.Printf("[%s] store warning snapshot: %v", m.sessionID, err)
		} else {
			w.SnapshotRef = ref
		}
	}
	m.store.AppendWarning(w)
	log.Printf("[%s] proctoring warning recorded: %s (via %s)", m.sessionID, wt, m.active.Name())
}
