// Package relay is the client adapter for the signaling relay: send a body to
// a destination, subscribe a handler to a topic. Controllers only ever see
// this interface; the concrete transport is STOMP over websocket, with an
// in-memory loopback hub for tests and single-process experiments.
package relay

// Handler receives the raw body of one relay message. Handlers on a single
// relay are invoked sequentially — each runs to completion before the next
// message is dispatched.
type Handler func(body []byte)

// Relay is the message channel to the signaling server.
type Relay interface {
	// Send delivers body to destination. Fire and forget; the relay is
	// assumed reliable once connected.
	Send(destination string, body []byte) error

	// Subscribe registers fn for every message on topic. The returned
	// function cancels the subscription; calling it twice is safe.
	Subscribe(topic string, fn Handler) (func(), error)

	// Close tears the connection down. Pending handlers may still run.
	Close() error
}
