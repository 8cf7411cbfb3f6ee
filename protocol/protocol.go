// Package protocol defines the codec contract between the runtime and
// its transports. A protocol encodes one message to bytes and decodes a
// byte stream back into messages through a stateful Decoder that
// tolerates arbitrary fragmentation. The engine never assumes a framing;
// transports pick a protocol by name from the registry.
package protocol

import (
	"fmt"
	"sync"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
)

// Protocol is a message codec. Implementations must be safe for
// concurrent Encode; decoding state lives in the per-connection Decoder.
type Protocol interface {
	// Name is the registry key, also used in app URIs ("jsonframe://host").
	Name() string

	// Encode renders one message as a self-delimiting byte frame.
	Encode(m message.Message) ([]byte, error)

	// NewDecoder creates a fresh decoding state for one connection.
	NewDecoder() Decoder
}

// Decoder accumulates a fragmented byte stream and yields every message
// that completes. A corrupt frame is dropped and decoding continues with
// the next frame; Feed reports the drop through its error while still
// returning the messages that preceded and followed it.
type Decoder interface {
	Feed(chunk []byte) ([]message.Message, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Protocol)
)

// Register adds a protocol under its name. Registering the same name
// twice is a programming error.
func Register(p Protocol) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[p.Name()]; exists {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Protocol", "Register",
			fmt.Sprintf("protocol %q already registered", p.Name()))
	}
	registry[p.Name()] = p
	return nil
}

// Get resolves a registered protocol by name.
func Get(name string) (Protocol, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Protocol", "Get",
			fmt.Sprintf("unknown protocol %q", name))
	}
	return p, nil
}
