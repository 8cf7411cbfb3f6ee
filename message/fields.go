package message

import (
	"fmt"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/value"
)

// The reserved envelope key. User properties live beside it at the top
// level of the wire object; everything the runtime owns lives inside it.
const (
	EnvelopeKey    = "_ten"
	reservedPrefix = "_ten"
)

// Reserved field names inside the envelope.
const (
	fieldType      = "type"
	fieldName      = "name"
	fieldCmdID     = "cmd_id"
	fieldSeqID     = "seq_id"
	fieldSrc       = "src"
	fieldDest      = "dest"
	fieldStatus    = "status_code"
	fieldIsFinal   = "is_final"
	fieldTimeout   = "timeout"
	fieldTimestamp = "timestamp"
	fieldBuf       = "buf"
	fieldEOF       = "eof"

	fieldFrameTimestamp    = "frame_timestamp"
	fieldSampleRate        = "sample_rate"
	fieldBytesPerSample    = "bytes_per_sample"
	fieldChannels          = "channels"
	fieldSamplesPerChannel = "samples_per_channel"
	fieldWidth             = "width"
	fieldHeight            = "height"
	fieldPixelFmt          = "pixel_fmt"

	propDetail = "detail"
)

func valueString(s string) *value.Value { return value.NewString(s) }

// FieldVisitor receives one field per call. Reserved fields come first
// with userDefined false; user properties follow with userDefined true.
type FieldVisitor func(name string, v *value.Value, userDefined bool) error

func locationToValue(loc Location) *value.Value {
	obj := value.NewObject()
	if loc.AppURI != "" {
		_ = obj.ObjectSet("app", value.NewString(loc.AppURI))
	}
	if loc.GraphID != "" {
		_ = obj.ObjectSet("graph", value.NewString(loc.GraphID))
	}
	if loc.Group != "" {
		_ = obj.ObjectSet("extension_group", value.NewString(loc.Group))
	}
	if loc.Extension != "" {
		_ = obj.ObjectSet("extension", value.NewString(loc.Extension))
	}
	return obj
}

func locationFromValue(v *value.Value) (Location, error) {
	var loc Location
	if v == nil {
		return loc, nil
	}
	if v.Type() != value.TypeObject {
		return loc, errors.WrapInvalid(errors.ErrParseError, "Message", "locationFromValue",
			"location must be an object")
	}
	read := func(key string) (string, error) {
		node, _ := v.ObjectGet(key)
		if node == nil {
			return "", nil
		}
		return node.GetString()
	}
	var err error
	if loc.AppURI, err = read("app"); err != nil {
		return loc, err
	}
	if loc.GraphID, err = read("graph"); err != nil {
		return loc, err
	}
	if loc.Group, err = read("extension_group"); err != nil {
		return loc, err
	}
	if loc.Extension, err = read("extension"); err != nil {
		return loc, err
	}
	return loc, nil
}

// reservedFields assembles the populated reserved fields of m in their
// canonical order.
func reservedFields(m Message) []struct {
	name string
	val  *value.Value
} {
	type field = struct {
		name string
		val  *value.Value
	}
	var out []field
	add := func(name string, v *value.Value) {
		out = append(out, field{name, v})
	}

	add(fieldType, value.NewString(m.Type().String()))
	if m.Name() != "" {
		add(fieldName, value.NewString(m.Name()))
	}

	switch msg := m.(type) {
	case *Cmd:
		add(fieldCmdID, value.NewString(msg.CmdID()))
		if msg.SeqID() != "" {
			add(fieldSeqID, value.NewString(msg.SeqID()))
		}
		if msg.timeoutUS != 0 {
			add(fieldTimeout, value.NewInt64(msg.timeoutUS))
		}
	case *CmdResult:
		add(fieldCmdID, value.NewString(msg.CmdID()))
		if msg.SeqID() != "" {
			add(fieldSeqID, value.NewString(msg.SeqID()))
		}
		add(fieldStatus, value.NewInt32(int32(msg.Status())))
		add(fieldIsFinal, value.NewBool(msg.IsFinal()))
	case *Data:
		if msg.Buf() != nil {
			add(fieldBuf, value.NewBuf(msg.Buf()))
		}
	case *AudioFrame:
		add(fieldFrameTimestamp, value.NewInt64(msg.FrameTimestamp()))
		add(fieldSampleRate, value.NewInt32(msg.SampleRate()))
		add(fieldBytesPerSample, value.NewInt32(msg.BytesPerSample()))
		add(fieldChannels, value.NewInt32(msg.Channels()))
		add(fieldSamplesPerChannel, value.NewInt32(msg.SamplesPerChannel()))
		if msg.Buf() != nil {
			add(fieldBuf, value.NewBuf(msg.Buf()))
		}
		add(fieldEOF, value.NewBool(msg.EOF()))
	case *VideoFrame:
		add(fieldFrameTimestamp, value.NewInt64(msg.FrameTimestamp()))
		add(fieldWidth, value.NewInt32(msg.Width()))
		add(fieldHeight, value.NewInt32(msg.Height()))
		add(fieldPixelFmt, value.NewString(msg.PixelFmt().String()))
		if msg.Buf() != nil {
			add(fieldBuf, value.NewBuf(msg.Buf()))
		}
		add(fieldEOF, value.NewBool(msg.EOF()))
	}

	if !m.Src().IsEmpty() {
		add(fieldSrc, locationToValue(m.Src()))
	}
	if len(m.Dests()) > 0 {
		arr := value.NewArray()
		for _, d := range m.Dests() {
			_ = arr.ArrayAppend(locationToValue(d))
		}
		add(fieldDest, arr)
	}
	if m.Timestamp() != 0 {
		add(fieldTimestamp, value.NewInt64(m.Timestamp()))
	}
	return out
}

func (h *header) forEachField(m Message, fn FieldVisitor) error {
	for _, f := range reservedFields(m) {
		if err := fn(f.name, f.val, false); err != nil {
			return err
		}
	}
	keys, _ := h.props.ObjectKeys()
	for _, key := range keys {
		node, _ := h.props.ObjectGet(key)
		if err := fn(key, node, true); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cmd) ForEachField(fn FieldVisitor) error        { return c.forEachField(c, fn) }
func (r *CmdResult) ForEachField(fn FieldVisitor) error  { return r.forEachField(r, fn) }
func (d *Data) ForEachField(fn FieldVisitor) error       { return d.forEachField(d, fn) }
func (f *AudioFrame) ForEachField(fn FieldVisitor) error { return f.forEachField(f, fn) }
func (f *VideoFrame) ForEachField(fn FieldVisitor) error { return f.forEachField(f, fn) }

// ToEnvelope renders m as a value object in wire form: user properties
// at the top level and every reserved field inside the envelope object.
func ToEnvelope(m Message) (*value.Value, error) {
	top := value.NewObject()
	for _, key := range m.PropertyNames() {
		node := m.PeekProperty(key)
		if err := top.ObjectSet(key, node.Clone()); err != nil {
			return nil, errors.Wrap(err, "Message", "ToEnvelope", fmt.Sprintf("property %q", key))
		}
	}

	env := value.NewObject()
	for _, f := range reservedFields(m) {
		if err := env.ObjectSet(f.name, f.val); err != nil {
			return nil, errors.Wrap(err, "Message", "ToEnvelope", fmt.Sprintf("field %q", f.name))
		}
	}
	if err := top.ObjectSet(EnvelopeKey, env); err != nil {
		return nil, errors.Wrap(err, "Message", "ToEnvelope", "envelope")
	}
	return top, nil
}

// FromEnvelope reconstructs a message from its wire-form value object.
func FromEnvelope(top *value.Value) (Message, error) {
	if top == nil || top.Type() != value.TypeObject {
		return nil, errors.WrapInvalid(errors.ErrParseError, "Message", "FromEnvelope",
			"wire form must be an object")
	}
	env, _ := top.ObjectGet(EnvelopeKey)
	if env == nil || env.Type() != value.TypeObject {
		return nil, errors.WrapInvalid(errors.ErrParseError, "Message", "FromEnvelope",
			"missing envelope object")
	}

	getString := func(obj *value.Value, key string) (string, error) {
		node, _ := obj.ObjectGet(key)
		if node == nil {
			return "", nil
		}
		return node.GetString()
	}
	getInt64 := func(obj *value.Value, key string) (int64, error) {
		node, _ := obj.ObjectGet(key)
		if node == nil {
			return 0, nil
		}
		return node.GetInt64()
	}
	getInt32 := func(obj *value.Value, key string) (int32, error) {
		n, err := getInt64(obj, key)
		return int32(n), err
	}
	getBool := func(obj *value.Value, key string) (bool, error) {
		node, _ := obj.ObjectGet(key)
		if node == nil {
			return false, nil
		}
		return node.GetBool()
	}
	getBuf := func(obj *value.Value, key string) ([]byte, error) {
		node, _ := obj.ObjectGet(key)
		if node == nil {
			return nil, nil
		}
		return node.GetBuf()
	}

	typName, err := getString(env, fieldType)
	if err != nil {
		return nil, errors.Wrap(err, "Message", "FromEnvelope", "type field")
	}
	typ := MsgTypeFromString(typName)
	if typ == TypeInvalid {
		return nil, errors.WrapInvalid(errors.ErrParseError, "Message", "FromEnvelope",
			fmt.Sprintf("unknown message type %q", typName))
	}

	name, err := getString(env, fieldName)
	if err != nil {
		return nil, errors.Wrap(err, "Message", "FromEnvelope", "name field")
	}

	var m Message
	switch typ {
	case TypeCmd, TypeCmdStartGraph, TypeCmdStopGraph, TypeCmdTimer, TypeCmdTimeout, TypeCmdCloseApp:
		c := newCmdOfType(typ, name)
		if id, err := getString(env, fieldCmdID); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "cmd_id field")
		} else if id != "" {
			c.cmdID = id
		}
		if c.seqID, err = getString(env, fieldSeqID); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "seq_id field")
		}
		if c.timeoutUS, err = getInt64(env, fieldTimeout); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "timeout field")
		}
		m = c

	case TypeCmdResult:
		r := &CmdResult{header: newHeader(TypeCmdResult, name), isFinal: true}
		if r.cmdID, err = getString(env, fieldCmdID); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "cmd_id field")
		}
		if r.seqID, err = getString(env, fieldSeqID); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "seq_id field")
		}
		status, err := getInt32(env, fieldStatus)
		if err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "status_code field")
		}
		r.status = StatusCode(status)
		if node, _ := env.ObjectGet(fieldIsFinal); node != nil {
			if r.isFinal, err = node.GetBool(); err != nil {
				return nil, errors.Wrap(err, "Message", "FromEnvelope", "is_final field")
			}
		}
		m = r

	case TypeData:
		d := &Data{header: newHeader(TypeData, name)}
		if d.buf, err = getBuf(env, fieldBuf); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "buf field")
		}
		m = d

	case TypeAudioFrame:
		f := &AudioFrame{header: newHeader(TypeAudioFrame, name)}
		if f.frameTimestampUS, err = getInt64(env, fieldFrameTimestamp); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "frame_timestamp field")
		}
		if f.sampleRate, err = getInt32(env, fieldSampleRate); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "sample_rate field")
		}
		if f.bytesPerSample, err = getInt32(env, fieldBytesPerSample); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "bytes_per_sample field")
		}
		if f.channels, err = getInt32(env, fieldChannels); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "channels field")
		}
		if f.samplesPerChannel, err = getInt32(env, fieldSamplesPerChannel); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "samples_per_channel field")
		}
		if f.buf, err = getBuf(env, fieldBuf); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "buf field")
		}
		if f.eof, err = getBool(env, fieldEOF); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "eof field")
		}
		m = f

	case TypeVideoFrame:
		f := &VideoFrame{header: newHeader(TypeVideoFrame, name)}
		if f.frameTimestampUS, err = getInt64(env, fieldFrameTimestamp); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "frame_timestamp field")
		}
		if f.width, err = getInt32(env, fieldWidth); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "width field")
		}
		if f.height, err = getInt32(env, fieldHeight); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "height field")
		}
		fmtName, err := getString(env, fieldPixelFmt)
		if err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "pixel_fmt field")
		}
		f.pixelFmt = PixelFmtFromString(fmtName)
		if f.buf, err = getBuf(env, fieldBuf); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "buf field")
		}
		if f.eof, err = getBool(env, fieldEOF); err != nil {
			return nil, errors.Wrap(err, "Message", "FromEnvelope", "eof field")
		}
		m = f
	}

	srcNode, _ := env.ObjectGet(fieldSrc)
	src, err := locationFromValue(srcNode)
	if err != nil {
		return nil, errors.Wrap(err, "Message", "FromEnvelope", "src field")
	}
	m.SetSrc(src)

	if destNode, _ := env.ObjectGet(fieldDest); destNode != nil {
		n, err := destNode.ArrayLen()
		if err != nil {
			return nil, errors.WrapInvalid(errors.ErrParseError, "Message", "FromEnvelope",
				"dest field must be an array")
		}
		for i := 0; i < n; i++ {
			item, _ := destNode.ArrayGet(i)
			loc, err := locationFromValue(item)
			if err != nil {
				return nil, errors.Wrap(err, "Message", "FromEnvelope", fmt.Sprintf("dest %d", i))
			}
			m.AddDest(loc)
		}
	}

	ts, err := getInt64(env, fieldTimestamp)
	if err != nil {
		return nil, errors.Wrap(err, "Message", "FromEnvelope", "timestamp field")
	}
	m.SetTimestamp(ts)

	props := value.NewObject()
	keys, _ := top.ObjectKeys()
	for _, key := range keys {
		if key == EnvelopeKey {
			continue
		}
		node, _ := top.ObjectGet(key)
		_ = props.ObjectSet(key, node.Clone())
	}
	switch msg := m.(type) {
	case *Cmd:
		msg.setProperties(props)
	case *CmdResult:
		msg.setProperties(props)
	case *Data:
		msg.setProperties(props)
	case *AudioFrame:
		msg.setProperties(props)
	case *VideoFrame:
		msg.setProperties(props)
	}
	return m, nil
}
