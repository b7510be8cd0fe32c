package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const connectTimeout = 10 * time.Second

// StompRelay speaks STOMP 1.2 over a websocket to the signaling server.
// One read loop dispatches MESSAGE frames to subscribed handlers in arrival
// order; an ERROR frame is surfaced once and ends the connection. There is
// no automatic reconnect — a lost relay is fatal for the current session.
type StompRelay struct {
	conn *websocket.Conn

	writeMu sync.Mutex // websocket writes must not interleave

	subMu sync.RWMutex
	subs  map[string]subscription // subscription id → entry

	closeOnce sync.Once
	done      chan struct{}

	// ErrFn, when set before any traffic, is called once if the relay
	// fails out from under us (ERROR frame or read failure).
	ErrFn func(err error)
}

type subscription struct {
	topic string
	fn    Handler
}

// DialStomp connects to url, performs the CONNECT/CONNECTED handshake and
// starts the dispatch loop.
func DialStomp(ctx context.Context, url string) (*StompRelay, error) {
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", url, err)
	}

	r := &StompRelay{
		conn: conn,
		subs: make(map[string]subscription),
		done: make(chan struct{}),
	}

	if err := r.writeFrame(&frame{
		Command: cmdConnect,
		Headers: map[string]string{
			"accept-version": "1.2,1.1",
			"heart-beat":     "0,30000",
		},
	}); err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(connectTimeout))
	f, err := r.readFrame()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: handshake: %w", err)
	}
	if f == nil || f.Command != cmdConnected {
		conn.Close()
		return nil, fmt.Errorf("relay: expected CONNECTED, got %v", f)
	}
	conn.SetReadDeadline(time.Time{})

	log.Printf("RELAY: connected to %s", url)
	go r.readLoop()
	return r, nil
}

// Send delivers body to destination as a SEND frame.
func (r *StompRelay) Send(destination string, body []byte) error {
	select {
	case <-r.done:
		return fmt.Errorf("relay: closed")
	default:
	}
	return r.writeFrame(&frame{
		Command: cmdSend,
		Headers: map[string]string{"destination": destination},
		Body:    body,
	})
}

// Subscribe registers fn for topic and issues a SUBSCRIBE frame.
func (r *StompRelay) Subscribe(topic string, fn Handler) (func(), error) {
	id := uuid.NewString()

	r.subMu.Lock()
	r.subs[id] = subscription{topic: topic, fn: fn}
	r.subMu.Unlock()

	err := r.writeFrame(&frame{
		Command: cmdSubscribe,
		Headers: map[string]string{"id": id, "destination": topic, "ack": "auto"},
	})
	if err != nil {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
		return nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			_ = r.writeFrame(&frame{
				Command: cmdUnsubscribe,
				Headers: map[string]string{"id": id},
			})
		})
	}
	return cancel, nil
}

// Close sends DISCONNECT and closes the websocket.
func (r *StompRelay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		_ = r.writeFrame(&frame{Command: cmdDisconnect, Headers: map[string]string{}})
		err = r.conn.Close()
		log.Printf("RELAY: disconnected")
	})
	return err
}

func (r *StompRelay) writeFrame(f *frame) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.WriteMessage(websocket.TextMessage, marshalFrame(f)); err != nil {
		return fmt.Errorf("relay: write %s: %w", f.Command, err)
	}
	return nil
}

func (r *StompRelay) readFrame() (*frame, error) {
	_, raw, err := r.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return parseFrame(raw)
}

// readLoop dispatches inbound frames until the connection dies. Handlers run
// on this goroutine, so delivery is strictly sequential.
func (r *StompRelay) readLoop() {
	for {
		f, err := r.readFrame()
		if err != nil {
			select {
			case <-r.done:
			default:
				log.Printf("RELAY: read failed: %v", err)
				r.fail(fmt.Errorf("relay: connection lost: %w", err))
			}
			return
		}
		if f == nil { // heart-beat
			continue
		}

		switch f.Command {
		case cmdMessage:
			r.dispatch(f)
		case cmdError:
			log.Printf("RELAY: server error: %s", f.Headers["message"])
			r.fail(fmt.Errorf("relay: server error: %s", f.Headers["message"]))
			return
		default:
			log.Printf("RELAY: ignoring frame %s", f.Command)
		}
	}
}

func (r *StompRelay) dispatch(f *frame) {
	id := f.Headers["subscription"]
	dest := f.Headers["destination"]

	r.subMu.RLock()
	sub, ok := r.subs[id]
	if !ok {
		// Some brokers key on destination only; fall back to topic match.
		for _, s := range r.subs {
			if s.topic == dest {
				sub, ok = s, true
				break
			}
		}
	}
	r.subMu.RUnlock()

	if !ok {
		log.Printf("RELAY: message for unknown subscription %q (%s), dropped", id, dest)
		return
	}
	sub.fn(f.Body)
}

func (r *StompRelay) fail(err error) {
	r.closeOnce.Do(func() {
		close(r.done)
		r.conn.Close()
	})
	if r.ErrFn != nil {
		r.ErrFn(err)
	}
}
