package tts

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// DeepgramClient synthesizes question audio through the Deepgram speak
// websocket. Audio is collected into one buffer per question so the
// result can be stored and replayed by the client.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
}

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{apiKey: apiKey, model: model, sampleRate: 48000, encoding: "linear16"}
}

func (d *DeepgramClient) Name() string { return "deepgram" }

// Synthesize streams the spoken question and returns the full PCM
// payload once the provider goes idle or ctx ends.
func (d *DeepgramClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepgram: API key missing")
	}
	if text == "" {
		return nil, fmt.Errorf("deepgram: empty text")
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	col := &pcmCollector{}
	cb := &speakCallback{onBinary: func(data []byte) error {
		col.add(data)
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}

	stopped := false
	stopClient := func() {
		if !stopped {
			stopped = true
			dg.Stop()
		}
	}
	defer stopClient()

	if ok := dg.Connect(); !ok {
		return nil, fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return nil, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}

	// The speak socket has no explicit end-of-audio event at this layer;
	// stop on an idle window after audio started. ctx bounds the whole
	// call, so no separate deadline is kept here.
	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			stopClient()
			if out := col.take(); len(out) > 0 {
				return out, nil
			}
			return nil, ctx.Err()
		case <-ticker.C:
			if col.idleFor(idleWindow) {
				stopClient()
				return col.take(), nil
			}
		}
	}
}

// pcmCollector accumulates streamed audio. The SDK delivers binary
// frames on its own goroutine, so every access is mutex-guarded.
type pcmCollector struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	lastRecv time.Time
	seen     bool
}

func (c *pcmCollector) add(data []byte) {
	if len(data) == 0 {
		return
	}
	c.mu.Lock()
	c.buf.Write(data)
	c.lastRecv = time.Now()
	c.seen = true
	c.mu.Unlock()
}

// idleFor reports whether audio has started and nothing arrived within
// the window.
func (c *pcmCollector) idleFor(window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen && time.Since(c.lastRecv) > window
}

// take copies out the collected audio; late frames from a stopping
// connection cannot corrupt the returned slice.
func (c *pcmCollector) take() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	return out
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
