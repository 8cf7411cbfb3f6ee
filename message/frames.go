package message

import (
	"github.com/c360/graphmesh/pkg/timestamp"
)

// Data is a named binary payload routed through the graph.
type Data struct {
	header
	buf []byte
}

// NewData creates a named data message with an empty payload.
func NewData(name string) *Data {
	d := &Data{header: newHeader(TypeData, name)}
	d.timestampUS = timestamp.NowMicros()
	return d
}

// Buf returns the payload. The caller must not retain it across a send.
func (d *Data) Buf() []byte { return d.buf }

// SetBuf installs the payload. The message takes ownership of the slice.
func (d *Data) SetBuf(b []byte) { d.buf = b }

// CloneForFanout copies the message. The payload slice is shared between
// the copies; frame payloads are treated as immutable once sent.
func (d *Data) CloneForFanout() Message {
	return &Data{header: d.cloneHeader(), buf: d.buf}
}

// AudioFrame carries one buffer of PCM samples with its layout.
type AudioFrame struct {
	header
	frameTimestampUS  int64
	sampleRate        int32
	bytesPerSample    int32
	channels          int32
	samplesPerChannel int32
	buf               []byte
	eof               bool
}

// NewAudioFrame creates a named audio frame.
func NewAudioFrame(name string) *AudioFrame {
	f := &AudioFrame{header: newHeader(TypeAudioFrame, name)}
	f.timestampUS = timestamp.NowMicros()
	return f
}

// FrameTimestamp returns the media timestamp in microseconds.
func (f *AudioFrame) FrameTimestamp() int64      { return f.frameTimestampUS }
func (f *AudioFrame) SetFrameTimestamp(us int64) { f.frameTimestampUS = us }

func (f *AudioFrame) SampleRate() int32       { return f.sampleRate }
func (f *AudioFrame) SetSampleRate(hz int32)  { f.sampleRate = hz }
func (f *AudioFrame) BytesPerSample() int32   { return f.bytesPerSample }
func (f *AudioFrame) SetBytesPerSample(n int32) { f.bytesPerSample = n }
func (f *AudioFrame) Channels() int32         { return f.channels }
func (f *AudioFrame) SetChannels(n int32)     { f.channels = n }
func (f *AudioFrame) SamplesPerChannel() int32 { return f.samplesPerChannel }
func (f *AudioFrame) SetSamplesPerChannel(n int32) {
	f.samplesPerChannel = n
}

func (f *AudioFrame) Buf() []byte     { return f.buf }
func (f *AudioFrame) SetBuf(b []byte) { f.buf = b }

// EOF reports whether this frame ends the stream.
func (f *AudioFrame) EOF() bool        { return f.eof }
func (f *AudioFrame) SetEOF(eof bool)  { f.eof = eof }

func (f *AudioFrame) CloneForFanout() Message {
	out := *f
	out.header = f.cloneHeader()
	return &out
}

// VideoFrame carries one picture with its dimensions and pixel format.
type VideoFrame struct {
	header
	frameTimestampUS int64
	width            int32
	height           int32
	pixelFmt         PixelFmt
	buf              []byte
	eof              bool
}

// PixelFmt names the pixel layout of a video frame payload.
type PixelFmt int

const (
	PixelFmtInvalid PixelFmt = iota
	PixelFmtRGB24
	PixelFmtRGBA
	PixelFmtBGR24
	PixelFmtBGRA
	PixelFmtI420
	PixelFmtNV12
	PixelFmtNV21
)

func (p PixelFmt) String() string {
	switch p {
	case PixelFmtRGB24:
		return "rgb24"
	case PixelFmtRGBA:
		return "rgba"
	case PixelFmtBGR24:
		return "bgr24"
	case PixelFmtBGRA:
		return "bgra"
	case PixelFmtI420:
		return "i420"
	case PixelFmtNV12:
		return "nv12"
	case PixelFmtNV21:
		return "nv21"
	default:
		return "invalid"
	}
}

// PixelFmtFromString resolves a wire name back to its tag.
func PixelFmtFromString(s string) PixelFmt {
	for p := PixelFmtRGB24; p <= PixelFmtNV21; p++ {
		if p.String() == s {
			return p
		}
	}
	return PixelFmtInvalid
}

// NewVideoFrame creates a named video frame.
func NewVideoFrame(name string) *VideoFrame {
	f := &VideoFrame{header: newHeader(TypeVideoFrame, name)}
	f.timestampUS = timestamp.NowMicros()
	return f
}

// FrameTimestamp returns the media timestamp in microseconds.
func (f *VideoFrame) FrameTimestamp() int64      { return f.frameTimestampUS }
func (f *VideoFrame) SetFrameTimestamp(us int64) { f.frameTimestampUS = us }

func (f *VideoFrame) Width() int32          { return f.width }
func (f *VideoFrame) SetWidth(w int32)      { f.width = w }
func (f *VideoFrame) Height() int32         { return f.height }
func (f *VideoFrame) SetHeight(h int32)     { f.height = h }
func (f *VideoFrame) PixelFmt() PixelFmt    { return f.pixelFmt }
func (f *VideoFrame) SetPixelFmt(p PixelFmt) { f.pixelFmt = p }

func (f *VideoFrame) Buf() []byte     { return f.buf }
func (f *VideoFrame) SetBuf(b []byte) { f.buf = b }

// EOF reports whether this frame ends the stream.
func (f *VideoFrame) EOF() bool       { return f.eof }
func (f *VideoFrame) SetEOF(eof bool) { f.eof = eof }

func (f *VideoFrame) CloneForFanout() Message {
	out := *f
	out.header = f.cloneHeader()
	return &out
}
