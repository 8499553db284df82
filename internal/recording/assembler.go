package recording

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/infra/storage"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/session"
)

var (
	// ErrChunkGap means an index below the final chunk is still missing;
	// the merge waits for it until session teardown.
	ErrChunkGap = errors.New("recording chunk gap")
	// ErrMergeFailed means no artifact could be produced at all.
	ErrMergeFailed = errors.New("recording merge failed")
)

// Track separates independently uploaded media legs.
type Track string

const (
	TrackVideo Track = "video"
	TrackAudio Track = "audio"
)

// Chunk is one uploaded slice of recorded media. Chunks are transient;
// they are deleted once the merged artifact is durable.
type Chunk struct {
	SessionID  string
	Track      Track
	Index      int
	Payload    []byte
	DurationMs int64
	IsFinal    bool
}

type trackState struct {
	chunks     map[int][]byte
	durations  map[int]int64
	finalIndex int
}

func newTrackState() *trackState {
	return &trackState{chunks: make(map[int][]byte), durations: make(map[int]int64), finalIndex: -1}
}

func (t *trackState) add(c Chunk) {
	t.chunks[c.Index] = c.Payload
	if c.DurationMs > 0 {
		t.durations[c.Index] = c.DurationMs
	}
	if c.IsFinal && c.Index > t.finalIndex {
		t.finalIndex = c.Index
	}
}

// complete reports whether the final chunk arrived and indices
// 0..finalIndex are all present.
func (t *trackState) complete() bool {
	if t.finalIndex < 0 {
		return false
	}
	for i := 0; i <= t.finalIndex; i++ {
		if _, ok := t.chunks[i]; !ok {
			return false
		}
	}
	return true
}

// assemble concatenates present chunks in index order and reports the
// missing indices below the highest one seen.
func (t *trackState) assemble() (data []byte, durationMs int64, missing []int) {
	indices := make([]int, 0, len(t.chunks))
	for i := range t.chunks {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	if len(indices) == 0 {
		return nil, 0, nil
	}
	top := indices[len(indices)-1]
	if t.finalIndex > top {
		top = t.finalIndex
	}
	for i := 0; i <= top; i++ {
		if payload, ok := t.chunks[i]; ok {
			data = append(data, payload...)
			durationMs += t.durations[i]
		} else {
			missing = append(missing, i)
		}
	}
	return data, durationMs, missing
}

type sessionChunks struct {
	mergeMu sync.Mutex
	video   *trackState
	audio   *trackState
}

// Assembler buffers out-of-order recording chunks per session and
// produces exactly one durable merged artifact regardless of how many
// times the merge is triggered.
type Assembler struct {
	store     session.Store
	artifacts storage.Store
	muxer     Muxer
	tmpDir    string

	mu       sync.Mutex
	sessions map[string]*sessionChunks
}

func NewAssembler(store session.Store, artifacts storage.Store, muxer Muxer, tmpDir string) *Assembler {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Assembler{
		store:     store,
		artifacts: artifacts,
		muxer:     muxer,
		tmpDir:    tmpDir,
		sessions:  make(map[string]*sessionChunks),
	}
}

// SubmitChunk accepts one chunk in any arrival order. When the tracks
// are complete the merge runs inline, but the returned error only ever
// reflects chunk intake: a merge failure is logged and retried on the
// next trigger or at teardown, never bounced back to the uploader.
func (a *Assembler) SubmitChunk(ctx context.Context, c Chunk) error {
	if c.SessionID == "" {
		return errors.New("chunk missing session id")
	}
	if c.Index < 0 {
		return fmt.Errorf("invalid chunk index %d", c.Index)
	}
	if c.Track == "" {
		c.Track = TrackVideo
	}

	if _, done := a.store.GetMergedRecording(c.SessionID); done {
		// Late retry after a successful merge; the artifact already exists.
		return nil
	}

	a.mu.Lock()
	sc := a.sessions[c.SessionID]
	if sc == nil {
		sc = &sessionChunks{video: newTrackState(), audio: newTrackState()}
		a.sessions[c.SessionID] = sc
	}
	switch c.Track {
	case TrackAudio:
		sc.audio.add(c)
	default:
		sc.video.add(c)
	}
	ready := sc.video.complete()
	a.mu.Unlock()

	if ready {
		if _, err := a.Merge(ctx, c.SessionID); err != nil && !errors.Is(err, ErrChunkGap) {
			log.Printf("[%s] merge after chunk %d failed, will retry: %v", c.SessionID, c.Index, err)
		}
	}
	return nil
}

// Merge produces the session's single artifact. Idempotent under
// concurrent and repeated triggers: once a MergedRecording exists every
// later call returns it without further I/O. A gap below the final
// index returns ErrChunkGap and leaves the chunks buffered.
func (a *Assembler) Merge(ctx context.Context, sessionID string) (session.MergedRecording, error) {
	return a.merge(ctx, sessionID, false)
}

// Teardown runs the best-effort merge with whatever chunks exist, used
// when a session ends or is abandoned before the final chunk arrived.
// Gaps are recorded as missing data instead of blocking.
func (a *Assembler) Teardown(ctx context.Context, sessionID string) (session.MergedRecording, error) {
	return a.merge(ctx, sessionID, true)
}

func (a *Assembler) merge(ctx context.Context, sessionID string, force bool) (session.MergedRecording, error) {
	if rec, ok := a.store.GetMergedRecording(sessionID); ok {
		return rec, nil
	}

	a.mu.Lock()
	sc := a.sessions[sessionID]
	a.mu.Unlock()
	if sc == nil {
		return session.MergedRecording{}, fmt.Errorf("%w: no chunks for session %s", ErrMergeFailed, sessionID)
	}

	// Serialize concurrent triggers for the same session.
	sc.mergeMu.Lock()
	defer sc.mergeMu.Unlock()
	if rec, ok := a.store.GetMergedRecording(sessionID); ok {
		return rec, nil
	}

	a.mu.Lock()
	videoData, videoDur, videoMissing := sc.video.assemble()
	audioData, _, _ := sc.audio.assemble()
	videoComplete := sc.video.complete()
	audioComplete := sc.audio.complete()
	audioSeen := len(sc.audio.chunks) > 0
	a.mu.Unlock()

	if !force {
		if !videoComplete {
			return session.MergedRecording{}, ErrChunkGap
		}
		// An audio track that has started uploading gets the same
		// chance to finish; only a leg that never appeared is skipped.
		// Teardown still merges whatever is there.
		if audioSeen && !audioComplete {
			return session.MergedRecording{}, ErrChunkGap
		}
	}
	if len(videoData) == 0 {
		return session.MergedRecording{}, fmt.Errorf("%w: no media data for session %s", ErrMergeFailed, sessionID)
	}

	// The audio leg never blocks completion: missing or incomplete audio
	// produces a video-only artifact flagged accordingly.
	audioMissing := !audioSeen || !audioComplete
	artifact := videoData
	contentType := "video/webm"
	if !audioMissing && a.muxer != nil {
		muxed, err := a.muxTracks(ctx, sessionID, videoData, audioData)
		if err != nil {
			log.Printf("[%s] audio mux failed (%v), keeping video-only artifact", sessionID, err)
			audioMissing = true
		} else {
			artifact = muxed
			contentType = "video/mp4"
		}
	}

	ref, err := a.artifacts.Put(fmt.Sprintf("%s/recording%s", sessionID, extForContentType(contentType)), contentType, artifact)
	if err != nil {
		return session.MergedRecording{}, fmt.Errorf("%w: store artifact: %v", ErrMergeFailed, err)
	}

	rec := session.MergedRecording{
		SessionID:     sessionID,
		ArtifactRef:   ref,
		DurationMs:    videoDur,
		AudioMissing:  audioMissing,
		MissingChunks: videoMissing,
		CreatedAt:     time.Now(),
	}
	rec, created := a.store.PutMergedRecording(rec)
	if created {
		log.Printf("[%s] merged recording stored at %s (%d bytes, audioMissing=%v, missing=%v)",
			sessionID, ref, len(artifact), audioMissing, videoMissing)
	}

	// Chunks and scratch files go away only after the artifact is
	// durable; cleanup failure never loses the merge.
	a.cleanup(sessionID)
	return rec, nil
}

func (a *Assembler) muxTracks(ctx context.Context, sessionID string, video, audio []byte) ([]byte, error) {
	dir, err := os.MkdirTemp(a.tmpDir, "merge-"+sessionID+"-")
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := os.RemoveAll(dir); rerr != nil {
			log.Printf("[%s] cleanup scratch dir: %v", sessionID, rerr)
		}
	}()

	videoPath := filepath.Join(dir, "video.webm")
	audioPath := filepath.Join(dir, "audio.webm")
	outPath := filepath.Join(dir, "merged.mp4")
	if err := os.WriteFile(videoPath, video, 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(audioPath, audio, 0o644); err != nil {
		return nil, err
	}
	if err := a.muxer.Mux(ctx, videoPath, audioPath, outPath); err != nil {
		return nil, err
	}
	return os.ReadFile(outPath)
}

func (a *Assembler) cleanup(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}

func extForContentType(ct string) string {
	if ct == "video/mp4" {
		return ".mp4"
	}
	return ".webm"
}
