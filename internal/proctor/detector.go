package proctor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
)

// ErrDetectorUnavailable means the detector cannot run at all, as
// opposed to a transient check failure.
var ErrDetectorUnavailable = errors.New("detector unavailable")

// Observation is the result of analysing one webcam frame.
type Observation struct {
	FaceCount int      `json:"faces"`
	Objects   []string `json:"objects,omitempty"`
}

// Detector analyses a single encoded frame. Implementations must be
// safe for concurrent use; the shared pool bounds how many checks run
// at once across all sessions.
type Detector interface {
	Name() string
	Check(ctx context.Context, frame []byte) (Observation, error)
}

// HTTPDetector calls an external vision service. It is the primary
// detector; the monitor falls back to local analysis when it keeps
// failing.
type HTTPDetector struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

func (d *HTTPDetector) Name() string { return "http" }

func (d *HTTPDetector) Check(ctx context.Context, frame []byte) (Observation, error) {
	if d.URL == "" {
		return Observation{}, fmt.Errorf("%w: url not configured", ErrDetectorUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(frame))
	if err != nil {
		return Observation{}, fmt.Errorf("build detector request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	if d.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.APIKey)
	}
	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Observation{}, fmt.Errorf("detector request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Observation{}, fmt.Errorf("detector returned %d: %s", resp.StatusCode, string(body))
	}
	var obs Observation
	if err := json.NewDecoder(resp.Body).Decode(&obs); err != nil {
		return Observation{}, fmt.Errorf("decode detector response: %w", err)
	}
	return obs, nil
}

// ClassicalDetector is the degraded local fallback. It cannot count
// faces or recognize objects; it only distinguishes a plausibly
// occupied frame from a dark or covered camera using luminance
// statistics, reporting one face or none.
type ClassicalDetector struct {
	// MinMeanLuma below which the frame counts as dark/covered.
	MinMeanLuma float64
	// MinVariance below which the frame counts as uniform (lens blocked).
	MinVariance float64
}

func (d *ClassicalDetector) Name() string { return "classical" }

func (d *ClassicalDetector) Check(_ context.Context, frame []byte) (Observation, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return Observation{}, fmt.Errorf("decode frame: %w", err)
	}
	mean, variance := lumaStats(img)
	minMean := d.MinMeanLuma
	if minMean == 0 {
		minMean = 20
	}
	minVar := d.MinVariance
	if minVar == 0 {
		minVar = 50
	}
	if mean < minMean || variance < minVar {
		return Observation{FaceCount: 0}, nil
	}
	return Observation{FaceCount: 1}, nil
}

// lumaStats samples the image on a coarse grid; full-resolution scans
// are unnecessary for a covered-camera check.
func lumaStats(img image.Image) (mean, variance float64) {
	b := img.Bounds()
	stepX := b.Dx() / 64
	if stepX < 1 {
		stepX = 1
	}
	stepY := b.Dy() / 64
	if stepY < 1 {
		stepY = 1
	}
	var sum, sumSq float64
	var n int
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			luma := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 257
			sum += luma
			sumSq += luma * luma
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean = sum / float64(n)
	variance = sumSq/float64(n) - mean*mean
	return mean, variance
}
