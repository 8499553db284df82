package recording

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Muxer combines separately captured video and audio tracks into one
// playable file.
type Muxer interface {
	Mux(ctx context.Context, videoPath, audioPath, outPath string) error
}

// FFmpegMuxer shells out to ffmpeg. The video stream is copied as-is;
// audio is re-encoded to AAC so browsers can play the result directly.
type FFmpegMuxer struct {
	Binary  string
	Timeout time.Duration
}

func NewFFmpegMuxer() *FFmpegMuxer {
	return &FFmpegMuxer{Binary: "ffmpeg", Timeout: 60 * time.Second}
}

// Available reports whether the ffmpeg binary can be found; callers
// fall back to the video-only path when it cannot.
func (m *FFmpegMuxer) Available() bool {
	_, err := exec.LookPath(m.binary())
	return err == nil
}

func (m *FFmpegMuxer) Mux(ctx context.Context, videoPath, audioPath, outPath string) error {
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, m.binary(),
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg mux: %w: %s", err, truncate(stderr.String(), 512))
	}
	return nil
}

func (m *FFmpegMuxer) binary() string {
	if m.Binary != "" {
		return m.Binary
	}
	return "ffmpeg"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
