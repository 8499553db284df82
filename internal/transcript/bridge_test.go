package transcript

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeProviderConn struct {
	events chan Event

	mu     sync.Mutex
	audio  [][]byte
	closed bool
}

func newFakeProviderConn() *fakeProviderConn {
	return &fakeProviderConn{events: make(chan Event, 16)}
}

func (c *fakeProviderConn) Events() <-chan Event { return c.events }

func (c *fakeProviderConn) WriteAudio(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("provider closed")
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.audio = append(c.audio, cp)
	return nil
}

func (c *fakeProviderConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeProviderConn) audioFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.audio)
}

func (c *fakeProviderConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeProviderConn
	ctrls []Control
}

func (d *fakeDialer) Dial(ctrl Control) (ProviderConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newFakeProviderConn()
	d.conns = append(d.conns, conn)
	d.ctrls = append(d.ctrls, ctrl)
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeProviderConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// startBridge serves one bridge over a real websocket and reports its
// Run error.
func startBridge(t *testing.T, dialer ProviderDialer, st *StreamState) (*websocket.Conn, <-chan error) {
	t.Helper()
	runErr := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			runErr <- err
			return
		}
		runErr <- NewBridge(dialer, st).Run(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial bridge: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, runErr
}

func TestBridgeRelaysAudioAndTranscripts(t *testing.T) {
	dialer := &fakeDialer{}
	st := NewStreamState(time.Now())
	client, runErr := startBridge(t, dialer, st)

	if err := client.WriteJSON(Control{SampleRate: 16000}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	if err := client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	waitFor(t, func() bool { return dialer.dials() == 1 })
	if got := dialer.ctrls[0].SampleRate; got != 16000 {
		t.Fatalf("provider dialed with sample rate %d, want 16000", got)
	}
	waitFor(t, func() bool { return dialer.conn(0).audioFrames() == 1 })

	dialer.conn(0).events <- Event{Type: "partial", Text: "I think"}
	var ev Event
	if err := client.ReadJSON(&ev); err != nil {
		t.Fatalf("read transcript event: %v", err)
	}
	if ev.Text != "I think" {
		t.Fatalf("got event %+v, want the partial text", ev)
	}
	if st.Text() != "I think" {
		t.Fatalf("stream state not updated, got %q", st.Text())
	}

	_ = client.Close()
	select {
	case err := <-runErr:
		if !errors.Is(err, ErrClientGone) {
			t.Fatalf("got %v, want ErrClientGone", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop after client close")
	}
}

func TestBridgeStopsWhenTurnFinalizes(t *testing.T) {
	dialer := &fakeDialer{}
	st := NewStreamState(time.Now())
	client, runErr := startBridge(t, dialer, st)

	if err := client.WriteJSON(Control{SampleRate: 16000}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	waitFor(t, func() bool { return dialer.dials() == 1 })
	if err := client.WriteMessage(websocket.BinaryMessage, []byte{1, 2}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	waitFor(t, func() bool { return dialer.conn(0).audioFrames() == 1 })

	// The turn finalizes while the client is still connected; the bridge
	// must not wait for the client to hang up.
	st.Close()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run after finalize: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridge still running after the turn finalized")
	}
	if !dialer.conn(0).isClosed() {
		t.Fatal("provider leg left open after the turn finalized")
	}

	// Audio sent after teardown never reaches the provider.
	_ = client.WriteMessage(websocket.BinaryMessage, []byte{3, 4})
	time.Sleep(50 * time.Millisecond)
	if got := dialer.conn(0).audioFrames(); got != 1 {
		t.Fatalf("stale bridge relayed %d frames after finalize, want 1", got)
	}
}

func TestBridgeRequiresControlFirst(t *testing.T) {
	dialer := &fakeDialer{}
	client, runErr := startBridge(t, dialer, NewStreamState(time.Now()))

	// Audio before the control object is a protocol violation.
	if err := client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	select {
	case err := <-runErr:
		if err == nil {
			t.Fatal("expected control violation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not reject missing control message")
	}
	if dialer.dials() != 0 {
		t.Fatal("provider must not be dialed without a control message")
	}
}

func TestBridgeReconnectsExactlyOnce(t *testing.T) {
	dialer := &fakeDialer{}
	st := NewStreamState(time.Now())
	client, runErr := startBridge(t, dialer, st)

	if err := client.WriteJSON(Control{SampleRate: 16000}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	waitFor(t, func() bool { return dialer.dials() == 1 })

	// First provider drop: the bridge redials with the same control.
	close(dialer.conn(0).events)
	waitFor(t, func() bool { return dialer.dials() == 2 })
	if got := dialer.ctrls[1].SampleRate; got != 16000 {
		t.Fatalf("reconnect used sample rate %d, want the original 16000", got)
	}

	// The replacement connection still delivers transcripts.
	dialer.conn(1).events <- Event{Type: "partial", Text: "after reconnect"}
	var ev Event
	if err := client.ReadJSON(&ev); err != nil {
		t.Fatalf("read event after reconnect: %v", err)
	}
	if st.Text() != "after reconnect" {
		t.Fatalf("state text %q, want the post-reconnect partial", st.Text())
	}

	// Second drop is unrecoverable.
	close(dialer.conn(1).events)
	select {
	case err := <-runErr:
		if !errors.Is(err, ErrStreamDisconnect) {
			t.Fatalf("got %v, want ErrStreamDisconnect", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not give up after second provider drop")
	}
	if dialer.dials() != 2 {
		t.Fatalf("provider dialed %d times, want exactly 2", dialer.dials())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
