package value

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/c360/graphmesh/errors"
)

// bufPrefix marks strings that carry base16-encoded buffer payloads, since
// JSON has no binary representation.
const bufPrefix = "@buf:"

// FromJSON parses JSON text into a value tree. Object key order is
// preserved. Integers widen to int64 on parse (uint64 when they exceed the
// int64 range); other numbers become float64. Strings carrying the buffer
// prefix decode back into buffers so the mapping is lossless.
func FromJSON(text string) (*Value, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrParseError, "Value", "FromJSON", err.Error())
	}

	// Reject trailing garbage after the first document.
	if dec.More() {
		return nil, errors.WrapInvalid(errors.ErrParseError, "Value", "FromJSON", "trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (*Value, error) {
	switch t := tok.(type) {
	case nil:
		// JSON null has no variant of its own; it parses as an empty object
		// so round-trips stay total.
		return NewObject(), nil

	case bool:
		return NewBool(t), nil

	case json.Number:
		return decodeNumber(t)

	case string:
		if strings.HasPrefix(t, bufPrefix) {
			raw, err := hex.DecodeString(t[len(bufPrefix):])
			if err != nil {
				return nil, fmt.Errorf("malformed buffer literal: %w", err)
			}
			return NewBuf(raw), nil
		}
		return NewString(t), nil

	case json.Delim:
		switch t {
		case '[':
			arr := NewArray()
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr.arr = append(arr.arr, item)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return arr, nil

		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is not a string: %v", keyTok)
				}
				member, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.obj.set(key, member)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return obj, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func decodeNumber(n json.Number) (*Value, error) {
	if !strings.ContainsAny(n.String(), ".eE") {
		if i, err := n.Int64(); err == nil {
			return NewInt64(i), nil
		}
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return NewUint64(u), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("malformed number %q: %w", n.String(), err)
	}
	return NewFloat64(f), nil
}

// ToJSON serializes the value tree. Object keys emit in insertion order,
// buffers emit as prefixed base16 strings, and pointer values are omitted
// with a warning since they cannot cross a JSON boundary.
func (v *Value) ToJSON() (string, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return "", errors.WrapInvalid(err, "Value", "ToJSON", "encode")
	}
	return buf.String(), nil
}

func encodeValue(w *bytes.Buffer, v *Value) error {
	switch v.typ {
	case TypeInvalid:
		return fmt.Errorf("cannot serialize invalid value")

	case TypeBool:
		if v.b {
			w.WriteString("true")
		} else {
			w.WriteString("false")
		}

	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		w.WriteString(strconv.FormatInt(v.i, 10))

	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		w.WriteString(strconv.FormatUint(v.u, 10))

	case TypeFloat32, TypeFloat64:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return fmt.Errorf("cannot serialize non-finite float")
		}
		formatted := strconv.FormatFloat(v.f, 'g', -1, 64)
		// Whole floats keep a decimal point so they reparse as floats.
		if !strings.ContainsAny(formatted, ".eE") {
			formatted += ".0"
		}
		w.WriteString(formatted)

	case TypeString:
		return writeJSONString(w, v.s)

	case TypeBuf:
		return writeJSONString(w, bufPrefix+hex.EncodeToString(v.buf))

	case TypePtr:
		slog.Warn("dropping pointer value during JSON serialization")
		w.WriteString("null")

	case TypeArray:
		w.WriteByte('[')
		first := true
		for _, item := range v.arr {
			if item.typ == TypePtr {
				slog.Warn("dropping pointer value during JSON serialization")
				continue
			}
			if !first {
				w.WriteByte(',')
			}
			first = false
			if err := encodeValue(w, item); err != nil {
				return err
			}
		}
		w.WriteByte(']')

	case TypeObject:
		w.WriteByte('{')
		first := true
		for _, key := range v.obj.keys {
			member := v.obj.vals[key]
			if member.typ == TypePtr {
				slog.Warn("dropping pointer value during JSON serialization", "key", key)
				continue
			}
			if !first {
				w.WriteByte(',')
			}
			first = false
			if err := writeJSONString(w, key); err != nil {
				return err
			}
			w.WriteByte(':')
			if err := encodeValue(w, member); err != nil {
				return err
			}
		}
		w.WriteByte('}')

	default:
		return fmt.Errorf("unknown value type %d", v.typ)
	}
	return nil
}

func writeJSONString(w *bytes.Buffer, s string) error {
	encoded, err := json.Marshal(s)
	if err != nil {
		return err
	}
	w.Write(encoded)
	return nil
}
