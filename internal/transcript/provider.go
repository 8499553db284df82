package transcript

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Control is the one-time first message on a turn's stream: the client
// declares the audio format and model choice before sending frames.
type Control struct {
	SampleRate int    `json:"sampleRate"`
	Model      string `json:"model,omitempty"`
	Language   string `json:"language,omitempty"`
}

func (c Control) withDefaults() Control {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Language == "" {
		c.Language = "en"
	}
	return c
}

// Event is one transcript update relayed from the provider, in arrival
// order.
type Event struct {
	Type string `json:"type"` // "partial" or "final"
	Text string `json:"text"`
}

// ProviderConn is one live speech-to-text connection.
type ProviderConn interface {
	// Events yields transcript events in provider order. The channel
	// closes when the connection drops or is closed.
	Events() <-chan Event
	WriteAudio(frame []byte) error
	Close() error
}

// ProviderDialer opens provider connections; faked in tests.
type ProviderDialer interface {
	Dial(ctrl Control) (ProviderConn, error)
}

// AssemblyAIDialer connects to the AssemblyAI realtime streaming API.
type AssemblyAIDialer struct {
	APIKey  string
	BaseURL string // override for tests; default wss://streaming.assemblyai.com/v3/ws
}

// provider wire messages
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	TurnFormatted bool   `json:"turn_is_formatted"`
	EndOfTurn     bool   `json:"end_of_turn,omitempty"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (d *AssemblyAIDialer) Dial(ctrl Control) (ProviderConn, error) {
	if d.APIKey == "" {
		return nil, fmt.Errorf("assemblyai: API key is empty")
	}
	ctrl = ctrl.withDefaults()

	base := d.BaseURL
	if base == "" {
		base = "wss://streaming.assemblyai.com/v3/ws"
	}
	params := url.Values{}
	params.Set("sample_rate", fmt.Sprintf("%d", ctrl.SampleRate))
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("%s?%s", base, params.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, map[string][]string{"Authorization": {d.APIKey}})
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai connect failed with status: %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}

	p := &assemblyAIConn{conn: conn, events: make(chan Event, 100), stopCh: make(chan struct{})}
	go p.readLoop()
	return p, nil
}

type assemblyAIConn struct {
	conn   *websocket.Conn
	events chan Event
	stopCh chan struct{}
}

func (p *assemblyAIConn) Events() <-chan Event { return p.events }

func (p *assemblyAIConn) WriteAudio(frame []byte) error {
	return p.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (p *assemblyAIConn) Close() error {
	select {
	case <-p.stopCh:
		return nil
	default:
	}
	close(p.stopCh)
	_ = p.conn.WriteJSON(map[string]string{"type": "Terminate"})
	return p.conn.Close()
}

func (p *assemblyAIConn) readLoop() {
	defer close(p.events)
	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.stopCh:
			default:
				log.Printf("assemblyai read error: %v", err)
			}
			return
		}
		p.processMessage(message)
	}
}

func (p *assemblyAIConn) processMessage(message []byte) {
	var base map[string]interface{}
	if err := json.Unmarshal(message, &base); err != nil {
		log.Printf("assemblyai: unmarshal message: %v", err)
		return
	}
	msgType, _ := base["type"].(string)
	switch msgType {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			log.Printf("assemblyai session began: ID=%s", msg.ID)
		}
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("assemblyai: unmarshal Turn: %v", err)
			return
		}
		if msg.Transcript == "" {
			return
		}
		ev := Event{Type: "partial", Text: msg.Transcript}
		if msg.EndOfTurn {
			ev.Type = "final"
		}
		// Deliver in order; the bridge applies backpressure downstream.
		select {
		case p.events <- ev:
		case <-p.stopCh:
		}
	case "Termination":
		log.Printf("assemblyai session terminated")
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			log.Printf("assemblyai error: %s", msg.Error)
		}
	default:
		log.Printf("assemblyai: unknown message type: %s", msgType)
	}
}
