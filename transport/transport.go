// Package transport carries encoded messages between apps. Each
// transport binds one protocol codec to one ingress (TCP listener,
// WebSocket server, NATS subject) and hands every decoded message to a
// Receiver. Responses travel back over the connection the message
// arrived on.
package transport

import (
	"context"

	"github.com/c360/graphmesh/message"
)

// Receiver consumes messages a transport decodes from remote peers. The
// respond callback encodes and writes a message back to the originating
// connection; it is safe to call from any goroutine.
type Receiver interface {
	Receive(msg message.Message, respond func(message.Message) error)
}

// Transport is a running ingress. Start begins accepting traffic; Stop
// drains and closes every connection.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
