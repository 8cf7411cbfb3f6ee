package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/value"
)

func TestNewCmdAssignsUniqueIDs(t *testing.T) {
	a := NewCmd("hello")
	b := NewCmd("hello")

	assert.Equal(t, TypeCmd, a.Type())
	assert.Equal(t, "hello", a.Name())
	assert.NotEmpty(t, a.CmdID())
	assert.NotEqual(t, a.CmdID(), b.CmdID())
	assert.NotZero(t, a.Timestamp())
}

func TestBuiltinCommandNames(t *testing.T) {
	cases := []struct {
		cmd  *Cmd
		typ  MsgType
		name string
	}{
		{NewStartGraphCmd(), TypeCmdStartGraph, NameStartGraph},
		{NewStopGraphCmd(), TypeCmdStopGraph, NameStopGraph},
		{NewTimerCmd(), TypeCmdTimer, NameTimer},
		{NewTimeoutCmd(), TypeCmdTimeout, NameTimeout},
		{NewCloseAppCmd(), TypeCmdCloseApp, NameCloseApp},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.typ, tc.cmd.Type())
		assert.Equal(t, tc.name, tc.cmd.Name())
		assert.True(t, tc.cmd.Type().IsCmd())
	}
}

func TestCmdResultInheritsCorrelation(t *testing.T) {
	cmd := NewCmd("hello")
	cmd.SetSeqID("42")
	cmd.SetSrc(Location{AppURI: "msgpack://a", Extension: "client"})

	res := NewCmdResult(StatusOk, cmd)
	assert.Equal(t, TypeCmdResult, res.Type())
	assert.Equal(t, "hello", res.Name())
	assert.Equal(t, cmd.CmdID(), res.CmdID())
	assert.Equal(t, "42", res.SeqID())
	assert.Equal(t, StatusOk, res.Status())
	assert.True(t, res.IsFinal())

	require.Len(t, res.Dests(), 1)
	assert.Equal(t, cmd.Src(), res.Dests()[0])
}

func TestCmdResultDetail(t *testing.T) {
	res := NewCmdResult(StatusGeneric, NewCmd("x"))
	assert.Equal(t, "", res.Detail())

	res.SetDetail("boom")
	assert.Equal(t, "boom", res.Detail())
}

func TestPropertyPathAccess(t *testing.T) {
	cmd := NewCmd("cfg")
	require.NoError(t, cmd.SetProperty("sensor.rate", value.NewInt32(100)))

	got, err := cmd.GetProperty("sensor.rate")
	require.NoError(t, err)
	n, err := got.GetInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(100), n)

	// Get returns a clone; mutating it leaves the message untouched.
	require.NoError(t, got.Coerce(value.TypeInt64))
	assert.Equal(t, value.TypeInt32, cmd.PeekProperty("sensor.rate").Type())

	_, err = cmd.GetProperty("sensor.missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPathError)

	require.NoError(t, cmd.DeleteProperty("sensor.rate"))
	assert.Nil(t, cmd.PeekProperty("sensor.rate"))
}

func TestReservedPrefixRejected(t *testing.T) {
	cmd := NewCmd("x")
	err := cmd.SetProperty("_ten", value.NewInt64(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPathError)

	err = cmd.SetProperty("_ten.type", value.NewString("data"))
	assert.ErrorIs(t, err, errors.ErrPathError)
}

func TestCloneForFanoutCopyOnWrite(t *testing.T) {
	src := NewData("feed")
	require.NoError(t, src.SetProperty("shared", value.NewInt64(1)))
	src.AddDest(Location{Extension: "a"})

	clone := src.CloneForFanout().(*Data)
	clone.SetDests(Location{Extension: "b"})

	// Reads on both sides see the shared tree.
	assert.Equal(t, int64(1), mustInt64(t, src.PeekProperty("shared")))
	assert.Equal(t, int64(1), mustInt64(t, clone.PeekProperty("shared")))

	// A write on the clone must not leak into the source.
	require.NoError(t, clone.SetProperty("shared", value.NewInt64(2)))
	assert.Equal(t, int64(1), mustInt64(t, src.PeekProperty("shared")))
	assert.Equal(t, int64(2), mustInt64(t, clone.PeekProperty("shared")))

	// And a later write on the source must not leak into the clone.
	require.NoError(t, src.SetProperty("shared", value.NewInt64(3)))
	assert.Equal(t, int64(3), mustInt64(t, src.PeekProperty("shared")))
	assert.Equal(t, int64(2), mustInt64(t, clone.PeekProperty("shared")))

	// Destinations are independent from the start.
	require.Len(t, src.Dests(), 1)
	assert.Equal(t, "a", src.Dests()[0].Extension)
	assert.Equal(t, "b", clone.Dests()[0].Extension)
}

func TestCmdCloneKeepsCorrelation(t *testing.T) {
	cmd := NewCmd("fanout")
	clone := cmd.CloneForFanout().(*Cmd)
	assert.Equal(t, cmd.CmdID(), clone.CmdID())
}

func mustInt64(t *testing.T, v *value.Value) int64 {
	t.Helper()
	require.NotNil(t, v)
	n, err := v.GetInt64()
	require.NoError(t, err)
	return n
}

func TestForEachFieldOrdersReservedFirst(t *testing.T) {
	cmd := NewCmd("probe")
	require.NoError(t, cmd.SetProperty("alpha", value.NewInt64(1)))
	require.NoError(t, cmd.SetProperty("beta", value.NewInt64(2)))

	var names []string
	var userFlags []bool
	err := cmd.ForEachField(func(name string, v *value.Value, userDefined bool) error {
		names = append(names, name)
		userFlags = append(userFlags, userDefined)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "type", names[0])
	assert.Equal(t, []string{"alpha", "beta"}, names[len(names)-2:])

	sawUser := false
	for _, u := range userFlags {
		if u {
			sawUser = true
		} else {
			assert.False(t, sawUser, "reserved field after a user property")
		}
	}
}

func TestForEachFieldStopsOnError(t *testing.T) {
	cmd := NewCmd("probe")
	calls := 0
	err := cmd.ForEachField(func(string, *value.Value, bool) error {
		calls++
		return errors.ErrCancelled
	})
	assert.ErrorIs(t, err, errors.ErrCancelled)
	assert.Equal(t, 1, calls)
}

func TestEnvelopeRoundTripCmd(t *testing.T) {
	cmd := NewCmd("hello")
	cmd.SetSeqID("7")
	cmd.SetSrc(Location{AppURI: "msgpack://a", GraphID: "g1", Group: "grp", Extension: "src"})
	cmd.AddDest(Location{Extension: "dst"})
	require.NoError(t, cmd.SetProperty("greeting", value.NewString("hi")))

	wire, err := ToEnvelope(cmd)
	require.NoError(t, err)

	// User property at the top level, runtime fields under the envelope key.
	assert.NotNil(t, wire.Peek("greeting"))
	assert.NotNil(t, wire.Peek("_ten.cmd_id"))

	back, err := FromEnvelope(wire)
	require.NoError(t, err)

	cmd2, ok := back.(*Cmd)
	require.True(t, ok)
	assert.Equal(t, cmd.CmdID(), cmd2.CmdID())
	assert.Equal(t, "7", cmd2.SeqID())
	assert.Equal(t, cmd.Src(), cmd2.Src())
	require.Len(t, cmd2.Dests(), 1)
	assert.Equal(t, "dst", cmd2.Dests()[0].Extension)
	assert.Equal(t, cmd.Timestamp(), cmd2.Timestamp())

	s, err := cmd2.PeekProperty("greeting").GetString()
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
}

func TestEnvelopeRoundTripResult(t *testing.T) {
	cmd := NewCmd("work")
	res := NewCmdResult(StatusTimeout, cmd)
	res.SetIsFinal(false)
	res.SetDetail("still going")

	wire, err := ToEnvelope(res)
	require.NoError(t, err)
	back, err := FromEnvelope(wire)
	require.NoError(t, err)

	res2, ok := back.(*CmdResult)
	require.True(t, ok)
	assert.Equal(t, cmd.CmdID(), res2.CmdID())
	assert.Equal(t, StatusTimeout, res2.Status())
	assert.False(t, res2.IsFinal())
	assert.Equal(t, "still going", res2.Detail())
}

func TestEnvelopeRoundTripFrames(t *testing.T) {
	audio := NewAudioFrame("mic")
	audio.SetFrameTimestamp(1000)
	audio.SetSampleRate(16000)
	audio.SetBytesPerSample(2)
	audio.SetChannels(1)
	audio.SetSamplesPerChannel(160)
	audio.SetBuf([]byte{1, 2, 3})
	audio.SetEOF(true)

	wire, err := ToEnvelope(audio)
	require.NoError(t, err)
	back, err := FromEnvelope(wire)
	require.NoError(t, err)

	audio2, ok := back.(*AudioFrame)
	require.True(t, ok)
	assert.Equal(t, int64(1000), audio2.FrameTimestamp())
	assert.Equal(t, int32(16000), audio2.SampleRate())
	assert.Equal(t, int32(2), audio2.BytesPerSample())
	assert.Equal(t, int32(1), audio2.Channels())
	assert.Equal(t, int32(160), audio2.SamplesPerChannel())
	assert.Equal(t, []byte{1, 2, 3}, audio2.Buf())
	assert.True(t, audio2.EOF())

	video := NewVideoFrame("cam")
	video.SetWidth(640)
	video.SetHeight(480)
	video.SetPixelFmt(PixelFmtI420)
	video.SetBuf([]byte{9})

	wire, err = ToEnvelope(video)
	require.NoError(t, err)
	back, err = FromEnvelope(wire)
	require.NoError(t, err)

	video2, ok := back.(*VideoFrame)
	require.True(t, ok)
	assert.Equal(t, int32(640), video2.Width())
	assert.Equal(t, int32(480), video2.Height())
	assert.Equal(t, PixelFmtI420, video2.PixelFmt())
	assert.Equal(t, []byte{9}, video2.Buf())
	assert.False(t, video2.EOF())
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	data := NewData("blob")
	data.SetBuf([]byte{0xCA, 0xFE})
	require.NoError(t, data.SetProperty("origin", value.NewString("sensor")))

	wire, err := ToEnvelope(data)
	require.NoError(t, err)
	text, err := wire.ToJSON()
	require.NoError(t, err)

	parsed, err := value.FromJSON(text)
	require.NoError(t, err)
	back, err := FromEnvelope(parsed)
	require.NoError(t, err)

	data2, ok := back.(*Data)
	require.True(t, ok)
	assert.Equal(t, []byte{0xCA, 0xFE}, data2.Buf())
	s, err := data2.PeekProperty("origin").GetString()
	require.NoError(t, err)
	assert.Equal(t, "sensor", s)
}

func TestFromEnvelopeRejectsGarbage(t *testing.T) {
	_, err := FromEnvelope(nil)
	assert.ErrorIs(t, err, errors.ErrParseError)

	_, err = FromEnvelope(value.NewObject())
	assert.ErrorIs(t, err, errors.ErrParseError)

	wire := value.NewObject()
	env := value.NewObject()
	require.NoError(t, env.ObjectSet("type", value.NewString("wibble")))
	require.NoError(t, wire.ObjectSet("_ten", env))
	_, err = FromEnvelope(wire)
	assert.ErrorIs(t, err, errors.ErrParseError)
}

func TestMsgTypeRoundTrip(t *testing.T) {
	for typ := TypeCmd; typ <= TypeCmdCloseApp; typ++ {
		assert.Equal(t, typ, MsgTypeFromString(typ.String()))
	}
	assert.Equal(t, TypeInvalid, MsgTypeFromString("nope"))
}

func TestLocationHelpers(t *testing.T) {
	assert.True(t, Location{}.IsEmpty())
	loc := Location{AppURI: "msgpack://a", Extension: "e"}
	assert.False(t, loc.IsEmpty())
	assert.True(t, loc.Equals(Location{AppURI: "msgpack://a", Extension: "e"}))
	assert.False(t, loc.Equals(Location{}))
}
