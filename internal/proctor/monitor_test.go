package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/session"
)

type scriptedDetector struct {
	name string

	mu     sync.Mutex
	obs    []Observation
	errs   []error
	calls  int
	always *Observation
}

func (d *scriptedDetector) Name() string { return d.name }

func (d *scriptedDetector) Check(context.Context, []byte) (Observation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if d.always != nil {
		return *d.always, nil
	}
	if i < len(d.errs) && d.errs[i] != nil {
		return Observation{}, d.errs[i]
	}
	if i < len(d.obs) {
		return d.obs[i], nil
	}
	return Observation{FaceCount: 1}, nil
}

func (d *scriptedDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testMonitor(store session.Store, primary, fallback Detector, debounce int) (*Monitor, *FrameBuffer) {
	frames := NewFrameBuffer()
	frames.Put([]byte("frame"))
	cfg := MonitorConfig{
		Interval:         time.Hour, // ticks driven manually
		DebounceCount:    debounce,
		FrameMaxAge:      time.Hour,
		PrimaryFailLimit: 3,
		CheckTimeout:     time.Second,
	}
	return NewMonitor(cfg, "s1", store, frames, NewPool(2), primary, fallback), frames
}

func TestMonitorDebouncesWarnings(t *testing.T) {
	store := session.NewMemoryStore()
	noFace := Observation{FaceCount: 0}
	det := &scriptedDetector{name: "http", always: &noFace}
	m, _ := testMonitor(store, det, nil, 3)

	// Two violating checks: below the debounce, no warning yet.
	ctx := context.Background()
	m.tick(ctx)
	m.tick(ctx)
	if got := store.Warnings("s1"); len(got) != 0 {
		t.Fatalf("warning before debounce threshold: %+v", got)
	}

	// Third consecutive violation records exactly one warning.
	m.tick(ctx)
	got := store.Warnings("s1")
	if len(got) != 1 || got[0].Type != session.WarningNoFace {
		t.Fatalf("got warnings %+v, want one no-face", got)
	}

	// Six more consecutive violations: exactly two more warnings.
	for i := 0; i < 6; i++ {
		m.tick(ctx)
	}
	if got := store.Warnings("s1"); len(got) != 3 {
		t.Fatalf("got %d warnings after 9 consecutive violations, want 3", len(got))
	}
}

func TestMonitorStreakResetsOnCompliantCheck(t *testing.T) {
	store := session.NewMemoryStore()
	det := &scriptedDetector{name: "http", obs: []Observation{
		{FaceCount: 0},
		{FaceCount: 0},
		{FaceCount: 1}, // streak broken
		{FaceCount: 0},
		{FaceCount: 0},
	}}
	m, _ := testMonitor(store, det, nil, 3)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m.tick(ctx)
	}
	if got := store.Warnings("s1"); len(got) != 0 {
		t.Fatalf("interrupted streak must not warn: %+v", got)
	}
}

func TestMonitorMultipleFacesAndObjects(t *testing.T) {
	store := session.NewMemoryStore()
	crowd := Observation{FaceCount: 2, Objects: []string{"phone"}}
	det := &scriptedDetector{name: "http", always: &crowd}
	m, _ := testMonitor(store, det, nil, 2)

	ctx := context.Background()
	m.tick(ctx)
	m.tick(ctx)

	got := store.Warnings("s1")
	if len(got) != 2 {
		t.Fatalf("got %d warnings, want multiple-faces and disallowed-object", len(got))
	}
	types := map[session.WarningType]bool{}
	for _, w := range got {
		types[w.Type] = true
	}
	if !types[session.WarningMultipleFaces] || !types[session.WarningDisallowedObject] {
		t.Fatalf("unexpected warning types: %+v", got)
	}
}

func TestMonitorSwitchesToFallbackAfterRepeatedFailures(t *testing.T) {
	store := session.NewMemoryStore()
	boom := errors.New("vision service down")
	primary := &scriptedDetector{name: "http", errs: []error{boom, boom, boom, boom}}
	noFace := Observation{FaceCount: 0}
	fallback := &scriptedDetector{name: "classical", always: &noFace}
	m, _ := testMonitor(store, primary, fallback, 2)

	ctx := context.Background()
	m.tick(ctx)
	m.tick(ctx)
	m.tick(ctx)
	if m.active != Detector(fallback) {
		t.Fatal("monitor did not switch to the fallback detector")
	}

	// Fallback covered each failed check, so the no-face streak already
	// produced a warning.
	if got := store.Warnings("s1"); len(got) == 0 {
		t.Fatal("fallback observations were not evaluated")
	}

	// Primary is never consulted again.
	before := primary.callCount()
	m.tick(ctx)
	if primary.callCount() != before {
		t.Fatal("primary detector still called after permanent switch")
	}
}

type captureSnapshots struct {
	mu   sync.Mutex
	keys []string
}

func (c *captureSnapshots) Put(key, _ string, _ []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	return "stored/" + key, nil
}

func TestMonitorStoresWarningSnapshots(t *testing.T) {
	store := session.NewMemoryStore()
	noFace := Observation{FaceCount: 0}
	det := &scriptedDetector{name: "http", always: &noFace}
	m, _ := testMonitor(store, det, nil, 1)
	snaps := &captureSnapshots{}
	m.WithSnapshots(snaps)

	m.tick(context.Background())
	got := store.Warnings("s1")
	if len(got) != 1 {
		t.Fatalf("got %d warnings, want 1", len(got))
	}
	if got[0].SnapshotRef == "" {
		t.Fatal("warning missing snapshot reference")
	}
	if len(snaps.keys) != 1 {
		t.Fatalf("snapshot stored %d times, want once", len(snaps.keys))
	}
}

func TestMonitorSkipsStaleFrames(t *testing.T) {
	store := session.NewMemoryStore()
	noFace := Observation{FaceCount: 0}
	det := &scriptedDetector{name: "http", always: &noFace}
	m, _ := testMonitor(store, det, nil, 1)
	m.cfg.FrameMaxAge = time.Nanosecond

	time.Sleep(time.Millisecond)
	m.tick(context.Background())
	if det.callCount() != 0 {
		t.Fatal("stale frame must not be analysed")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(1)
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = p.Run(context.Background(), func(context.Context) {
			close(started)
			<-release
		})
	}()
	<-started

	if p.TryRun(context.Background(), func(context.Context) {}) {
		t.Fatal("TryRun succeeded while the only slot was held")
	}
	close(release)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.TryRun(context.Background(), func(context.Context) {}) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("slot never released")
}

func TestPoolRunHonorsContext(t *testing.T) {
	p := NewPool(1)
	block := make(chan struct{})
	go func() {
		_ = p.Run(context.Background(), func(context.Context) { <-block })
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx, func(context.Context) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context deadline", err)
	}
	close(block)
}
