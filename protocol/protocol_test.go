package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
	"github.com/c360/graphmesh/value"
)

func unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}

func encodeCmd(t *testing.T, name, detail string) []byte {
	t.Helper()
	cmd := message.NewCmd(name)
	require.NoError(t, cmd.SetProperty("detail", value.NewString(detail)))
	frame, err := NewJSONFrame().Encode(cmd)
	require.NoError(t, err)
	return frame
}

func TestJSONFrameRoundTrip(t *testing.T) {
	codec := NewJSONFrame()

	cmd := message.NewCmd("greet")
	cmd.SetSeqID("42")
	cmd.SetSrc(message.Location{AppURI: "jsonframe://a", Extension: "client"})
	cmd.AddDest(message.Location{AppURI: "jsonframe://b", Extension: "server"})
	require.NoError(t, cmd.SetProperty("who", value.NewString("world")))

	frame, err := codec.Encode(cmd)
	require.NoError(t, err)

	msgs, err := codec.NewDecoder().Feed(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	got, ok := msgs[0].(*message.Cmd)
	require.True(t, ok)
	assert.Equal(t, "greet", got.Name())
	assert.Equal(t, "42", got.SeqID())
	assert.Equal(t, cmd.CmdID(), got.CmdID())
	assert.Equal(t, "server", got.Dests()[0].Extension)

	who, err := got.GetProperty("who")
	require.NoError(t, err)
	s, err := who.GetString()
	require.NoError(t, err)
	assert.Equal(t, "world", s)
}

func TestJSONFrameRoundTripDataBuf(t *testing.T) {
	codec := NewJSONFrame()

	data := message.NewData("pcm")
	data.SetBuf([]byte{0x00, 0x01, 0xfe, 0xff})

	frame, err := codec.Encode(data)
	require.NoError(t, err)

	msgs, err := codec.NewDecoder().Feed(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	got, ok := msgs[0].(*message.Data)
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x01, 0xfe, 0xff}, got.Buf())
}

func TestDecoderReassemblesFragments(t *testing.T) {
	frame := encodeCmd(t, "fragmented", "one byte at a time")

	dec := NewJSONFrame().NewDecoder()
	var got []message.Message
	for i := range frame {
		msgs, err := dec.Feed(frame[i : i+1])
		require.NoError(t, err)
		got = append(got, msgs...)
	}

	require.Len(t, got, 1)
	assert.Equal(t, "fragmented", got[0].Name())
}

func TestDecoderYieldsCoalescedFrames(t *testing.T) {
	var stream []byte
	stream = append(stream, encodeCmd(t, "first", "a")...)
	stream = append(stream, encodeCmd(t, "second", "b")...)
	stream = append(stream, encodeCmd(t, "third", "c")...)

	msgs, err := NewJSONFrame().NewDecoder().Feed(stream)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Name())
	assert.Equal(t, "second", msgs[1].Name())
	assert.Equal(t, "third", msgs[2].Name())
}

func TestDecoderDropsCorruptFrameAndContinues(t *testing.T) {
	garbage := []byte{0x00, 0x00, 0x00, 0x05, 'j', 'u', 'n', 'k', '!'}

	var stream []byte
	stream = append(stream, encodeCmd(t, "before", "x")...)
	stream = append(stream, garbage...)
	stream = append(stream, encodeCmd(t, "after", "y")...)

	msgs, err := NewJSONFrame().NewDecoder().Feed(stream)
	assert.Error(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "before", msgs[0].Name())
	assert.Equal(t, "after", msgs[1].Name())
}

func TestDecoderRejectsImpossibleLength(t *testing.T) {
	header := []byte{0xff, 0xff, 0xff, 0xff}

	msgs, err := NewJSONFrame().NewDecoder().Feed(header)
	assert.Empty(t, msgs)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrParseError)
	assert.True(t, errors.IsFatal(err))
}

func TestRegistryResolvesByName(t *testing.T) {
	codec := NewJSONFrame()
	require.NoError(t, Register(codec))
	t.Cleanup(func() { unregister(codec.Name()) })

	p, err := Get("jsonframe")
	require.NoError(t, err)
	assert.Same(t, Protocol(codec), p)

	err = Register(NewJSONFrame())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = Get("no-such-codec")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
