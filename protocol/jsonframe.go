package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
	"github.com/c360/graphmesh/value"
)

// maxFrameSize bounds one frame; a stream announcing a bigger frame is
// corrupt and the connection should be dropped.
const maxFrameSize = 16 << 20

// JSONFrame is the reference codec: each frame is a 4-byte big-endian
// length followed by the message's envelope rendered as JSON.
type JSONFrame struct{}

// NewJSONFrame creates the codec.
func NewJSONFrame() *JSONFrame { return &JSONFrame{} }

// Name implements Protocol.
func (*JSONFrame) Name() string { return "jsonframe" }

// Encode implements Protocol.
func (*JSONFrame) Encode(m message.Message) ([]byte, error) {
	env, err := message.ToEnvelope(m)
	if err != nil {
		return nil, errors.Wrap(err, "JSONFrame", "Encode", "envelope")
	}
	text, err := env.ToJSON()
	if err != nil {
		return nil, errors.Wrap(err, "JSONFrame", "Encode", "render")
	}
	if len(text) > maxFrameSize {
		return nil, errors.WrapInvalid(errors.ErrParseError, "JSONFrame", "Encode",
			fmt.Sprintf("frame of %d bytes exceeds limit", len(text)))
	}

	frame := make([]byte, 4+len(text))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(text)))
	copy(frame[4:], text)
	return frame, nil
}

// NewDecoder implements Protocol.
func (*JSONFrame) NewDecoder() Decoder {
	return &jsonFrameDecoder{}
}

type jsonFrameDecoder struct {
	buf []byte
}

// Feed implements Decoder. Frames may arrive in any fragmentation; a
// frame whose body fails to parse is dropped and decoding continues. An
// impossible length header poisons the stream and is returned as a fatal
// decode error.
func (d *jsonFrameDecoder) Feed(chunk []byte) ([]message.Message, error) {
	d.buf = append(d.buf, chunk...)

	var (
		out     []message.Message
		dropped error
	)
	for {
		if len(d.buf) < 4 {
			break
		}
		size := binary.BigEndian.Uint32(d.buf[:4])
		if size > maxFrameSize {
			d.buf = nil
			return out, errors.WrapFatal(errors.ErrParseError, "JSONFrame", "Feed",
				fmt.Sprintf("frame length %d exceeds limit", size))
		}
		if len(d.buf) < 4+int(size) {
			break
		}

		body := d.buf[4 : 4+size]
		m, err := decodeBody(body)
		d.buf = d.buf[4+size:]
		if err != nil {
			if dropped == nil {
				dropped = err
			}
			continue
		}
		out = append(out, m)
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out, dropped
}

func decodeBody(body []byte) (message.Message, error) {
	env, err := value.FromJSON(string(body))
	if err != nil {
		return nil, errors.Wrap(err, "JSONFrame", "Feed", "frame body")
	}
	m, err := message.FromEnvelope(env)
	if err != nil {
		return nil, errors.Wrap(err, "JSONFrame", "Feed", "envelope")
	}
	return m, nil
}
