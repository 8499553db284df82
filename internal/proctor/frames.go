package proctor

import (
	"sync"
	"time"
)

// FrameBuffer holds the most recent webcam frame for a session. The
// client uploads frames on its own cadence; the monitor samples the
// latest one each tick and ignores anything older.
type FrameBuffer struct {
	mu    sync.Mutex
	frame []byte
	at    time.Time
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

func (f *FrameBuffer) Put(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.mu.Lock()
	f.frame = cp
	f.at = time.Now()
	f.mu.Unlock()
}

// Latest returns the newest frame and when it arrived. The returned
// slice is not copied; callers must not mutate it.
func (f *FrameBuffer) Latest() ([]byte, time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frame == nil {
		return nil, time.Time{}, false
	}
	return f.frame, f.at, true
}
