package proctor

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func noisyFrame(t *testing.T) []byte {
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(rng.Intn(200) + 55)
			img.Set(x, y, color.RGBA{R: v, G: v / 2, B: v / 3, A: 255})
		}
	}
	return encodePNG(t, img)
}

func blackFrame(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	return encodePNG(t, img)
}

func TestHTTPDetectorParsesResponse(t *testing.T) {
	var gotAuth string
	var gotBody int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		gotBody = buf.Len()
		_ = json.NewEncoder(w).Encode(Observation{FaceCount: 2, Objects: []string{"phone"}})
	}))
	defer srv.Close()

	d := &HTTPDetector{URL: srv.URL, APIKey: "vision-key"}
	obs, err := d.Check(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if obs.FaceCount != 2 || len(obs.Objects) != 1 || obs.Objects[0] != "phone" {
		t.Fatalf("got observation %+v", obs)
	}
	if gotAuth != "Bearer vision-key" {
		t.Fatalf("got auth %q", gotAuth)
	}
	if gotBody == 0 {
		t.Fatal("frame bytes not forwarded")
	}
}

func TestHTTPDetectorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := &HTTPDetector{URL: srv.URL}
	if _, err := d.Check(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestHTTPDetectorRequiresURL(t *testing.T) {
	d := &HTTPDetector{}
	if _, err := d.Check(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error without url")
	}
}

func TestClassicalDetectorDistinguishesFrames(t *testing.T) {
	d := &ClassicalDetector{}

	obs, err := d.Check(context.Background(), noisyFrame(t))
	if err != nil {
		t.Fatalf("check noisy frame: %v", err)
	}
	if obs.FaceCount != 1 {
		t.Fatalf("lit varied frame reported %d faces, want 1", obs.FaceCount)
	}

	obs, err = d.Check(context.Background(), blackFrame(t))
	if err != nil {
		t.Fatalf("check black frame: %v", err)
	}
	if obs.FaceCount != 0 {
		t.Fatalf("covered camera reported %d faces, want 0", obs.FaceCount)
	}
}

func TestClassicalDetectorRejectsGarbage(t *testing.T) {
	d := &ClassicalDetector{}
	if _, err := d.Check(context.Background(), []byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}
