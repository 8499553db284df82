package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStreamDisconnect reports that the provider leg dropped and the one
// allowed reconnect also failed. The turn controller reacts by
// finalizing the turn on the last known partial transcript.
var ErrStreamDisconnect = errors.New("transcription stream lost")

// ErrClientGone reports that the candidate's connection closed while
// the turn was still recording.
var ErrClientGone = errors.New("client connection closed")

const controlReadTimeout = 10 * time.Second

// Bridge proxies one turn's answer stream: client websocket frames go
// to the speech-to-text provider, provider transcript events come back
// to the client and into the turn's StreamState. Lifetime is bounded to
// one turn; both legs are torn down when Run returns.
type Bridge struct {
	dialer ProviderDialer
	state  *StreamState

	provMu      sync.Mutex
	prov        ProviderConn
	reconnected bool
}

func NewBridge(dialer ProviderDialer, state *StreamState) *Bridge {
	return &Bridge{dialer: dialer, state: state}
}

// Run services the stream until the turn finalizes (the stream state is
// closed or ctx is cancelled), the client disconnects, or the provider
// becomes unrecoverable.
func (b *Bridge) Run(ctx context.Context, client *websocket.Conn) error {
	defer func() { _ = client.Close() }()
	defer b.closeProvider()
	defer b.state.Close()

	ctrl, err := readControl(client)
	if err != nil {
		return fmt.Errorf("read control message: %w", err)
	}

	prov, err := b.dialer.Dial(ctrl)
	if err != nil {
		return fmt.Errorf("%w: connect: %v", ErrStreamDisconnect, err)
	}
	b.setProvider(prov)

	// Client leg: audio frames in, relayed to the provider.
	clientErr := make(chan error, 1)
	go func() {
		for {
			mt, data, rerr := client.ReadMessage()
			if rerr != nil {
				clientErr <- ErrClientGone
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			if werr := b.writeAudio(data); werr != nil {
				// Frame lost while the provider leg is down; the
				// reconnect path decides whether the stream survives.
				continue
			}
		}
	}()

	// Provider leg: transcript events out, in arrival order.
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.state.Done():
			// Turn finalized; tear down both legs without waiting for
			// the client to hang up.
			return nil
		case err := <-clientErr:
			return err
		case ev, ok := <-b.currentEvents():
			if !ok {
				if rerr := b.reconnect(ctx, ctrl); rerr != nil {
					return rerr
				}
				continue
			}
			b.state.NoteText(ev.Text, time.Now())
			if werr := client.WriteJSON(ev); werr != nil {
				return ErrClientGone
			}
		}
	}
}

// readControl expects the one-time control object as the first text
// frame on the connection.
func readControl(client *websocket.Conn) (Control, error) {
	_ = client.SetReadDeadline(time.Now().Add(controlReadTimeout))
	defer func() { _ = client.SetReadDeadline(time.Time{}) }()
	for {
		mt, data, err := client.ReadMessage()
		if err != nil {
			return Control{}, err
		}
		if mt != websocket.TextMessage {
			return Control{}, errors.New("first message must be a control object")
		}
		var ctrl Control
		if err := json.Unmarshal(data, &ctrl); err != nil {
			return Control{}, fmt.Errorf("invalid control object: %w", err)
		}
		return ctrl.withDefaults(), nil
	}
}

func (b *Bridge) setProvider(p ProviderConn) {
	b.provMu.Lock()
	b.prov = p
	b.provMu.Unlock()
}

func (b *Bridge) currentEvents() <-chan Event {
	b.provMu.Lock()
	defer b.provMu.Unlock()
	if b.prov == nil {
		return nil
	}
	return b.prov.Events()
}

func (b *Bridge) writeAudio(frame []byte) error {
	b.provMu.Lock()
	prov := b.prov
	b.provMu.Unlock()
	if prov == nil {
		return errors.New("no provider connection")
	}
	return prov.WriteAudio(frame)
}

func (b *Bridge) closeProvider() {
	b.provMu.Lock()
	prov := b.prov
	b.prov = nil
	b.provMu.Unlock()
	if prov != nil {
		_ = prov.Close()
	}
}

// reconnect redials the provider once with the original control
// parameters. A second drop is unrecoverable.
func (b *Bridge) reconnect(ctx context.Context, ctrl Control) error {
	if b.reconnected {
		return ErrStreamDisconnect
	}
	b.reconnected = true
	if ctx.Err() != nil {
		return nil
	}
	log.Printf("transcript bridge: provider dropped, reconnecting once")
	b.closeProvider()
	prov, err := b.dialer.Dial(ctrl)
	if err != nil {
		return fmt.Errorf("%w: reconnect: %v", ErrStreamDisconnect, err)
	}
	b.setProvider(prov)
	return nil
}
