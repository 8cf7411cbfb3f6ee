package message

import (
	"fmt"
	"strings"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/value"
)

// Message is the interface shared by commands, command results and the
// three frame kinds. Implementations embed header, which carries the
// routing fields and the user property store.
type Message interface {
	Type() MsgType
	Name() string
	SetName(name string)

	Src() Location
	SetSrc(loc Location)
	Dests() []Location
	SetDests(dests ...Location)
	AddDest(loc Location)
	ClearDests()

	Timestamp() int64
	SetTimestamp(us int64)

	// SetProperty, GetProperty and PeekProperty address user properties
	// by dotted path. GetProperty returns a deep clone; PeekProperty
	// aliases the stored node and must not be mutated.
	SetProperty(path string, v *value.Value) error
	GetProperty(path string) (*value.Value, error)
	PeekProperty(path string) *value.Value
	DeleteProperty(path string) error
	PropertyNames() []string

	// ForEachField visits every populated field, reserved ones first and
	// user properties after, stopping at the first visitor error.
	ForEachField(fn FieldVisitor) error

	// CloneForFanout produces an independently routable copy sharing the
	// property tree until either side writes to it.
	CloneForFanout() Message
}

// header carries the fields common to every message kind. Property
// storage is copy-on-write: CloneForFanout marks both trees shared, and
// the first mutation on either side clones the tree before writing.
type header struct {
	typ         MsgType
	name        string
	src         Location
	dests       []Location
	timestampUS int64

	props       *value.Value
	propsShared bool
}

func newHeader(typ MsgType, name string) header {
	return header{
		typ:   typ,
		name:  name,
		props: value.NewObject(),
	}
}

func (h *header) Type() MsgType { return h.typ }

func (h *header) Name() string        { return h.name }
func (h *header) SetName(name string) { h.name = name }

func (h *header) Src() Location          { return h.src }
func (h *header) SetSrc(loc Location)    { h.src = loc }
func (h *header) Dests() []Location      { return h.dests }
func (h *header) AddDest(loc Location)   { h.dests = append(h.dests, loc) }
func (h *header) ClearDests()            { h.dests = nil }
func (h *header) SetDests(ds ...Location) {
	h.dests = append(h.dests[:0:0], ds...)
}

func (h *header) Timestamp() int64      { return h.timestampUS }
func (h *header) SetTimestamp(us int64) { h.timestampUS = us }

// unshare clones the property tree if it is shared with a fan-out copy.
func (h *header) unshare() {
	if !h.propsShared {
		return
	}
	h.props = h.props.Clone()
	h.propsShared = false
}

func (h *header) SetProperty(path string, v *value.Value) error {
	if strings.HasPrefix(path, reservedPrefix) {
		return errors.WrapInvalid(errors.ErrPathError, "Message", "SetProperty",
			fmt.Sprintf("path %q is reserved", path))
	}
	h.unshare()
	return h.props.Set(path, v)
}

func (h *header) GetProperty(path string) (*value.Value, error) {
	found := h.props.Get(path)
	if found == nil {
		return nil, errors.WrapInvalid(errors.ErrPathError, "Message", "GetProperty",
			fmt.Sprintf("property %q not found", path))
	}
	return found, nil
}

func (h *header) PeekProperty(path string) *value.Value {
	return h.props.Peek(path)
}

func (h *header) DeleteProperty(path string) error {
	h.unshare()
	return h.props.Delete(path)
}

func (h *header) PropertyNames() []string {
	keys, _ := h.props.ObjectKeys()
	return keys
}

// cloneHeader copies the header for fan-out. The property tree is kept
// and both sides are flagged shared; whoever writes first pays for the
// deep copy.
func (h *header) cloneHeader() header {
	h.propsShared = true
	out := *h
	out.dests = append([]Location(nil), h.dests...)
	out.propsShared = true
	return out
}

// properties exposes the root property object for envelope encoding.
func (h *header) properties() *value.Value {
	return h.props
}

// setProperties replaces the property store during envelope decoding.
func (h *header) setProperties(obj *value.Value) {
	if obj == nil {
		obj = value.NewObject()
	}
	h.props = obj
	h.propsShared = false
}
