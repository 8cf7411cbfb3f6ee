// Package graph parses, validates and compiles graph descriptors. A
// descriptor is JSON naming the nodes (extension groups and extensions,
// each produced by a registered addon) and the typed connections between
// extensions. The compiled Graph is immutable and freely shared.
package graph

import (
	"encoding/json"

	"github.com/c360/graphmesh/errors"
)

// NodeType discriminates descriptor nodes.
const (
	NodeExtension      = "extension"
	NodeExtensionGroup = "extension_group"
)

// Node describes one instance to create: which addon produces it, what
// it is called, and (for extensions) which group hosts it.
type Node struct {
	Type           string          `json:"type"`
	App            string          `json:"app,omitempty"`
	Addon          string          `json:"addon"`
	Name           string          `json:"name"`
	ExtensionGroup string          `json:"extension_group,omitempty"`
	Property       json.RawMessage `json:"property,omitempty"`
}

// Dest names one routing target.
type Dest struct {
	App            string `json:"app,omitempty"`
	ExtensionGroup string `json:"extension_group,omitempty"`
	Extension      string `json:"extension"`
}

// Route binds a message name to its destination set.
type Route struct {
	Name string `json:"name"`
	Dest []Dest `json:"dest"`
}

// Connection lists the routes leaving one source extension, grouped by
// message kind.
type Connection struct {
	App            string  `json:"app,omitempty"`
	ExtensionGroup string  `json:"extension_group,omitempty"`
	Extension      string  `json:"extension"`
	Cmd            []Route `json:"cmd,omitempty"`
	Data           []Route `json:"data,omitempty"`
	AudioFrame     []Route `json:"audio_frame,omitempty"`
	VideoFrame     []Route `json:"video_frame,omitempty"`
}

// Descriptor is the wire form of a graph.
type Descriptor struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections,omitempty"`
}

// ParseDescriptor decodes a descriptor from JSON and runs full
// validation: JSON-schema shape first, then structural checks.
func ParseDescriptor(text []byte) (*Descriptor, error) {
	if err := validateShape(text); err != nil {
		return nil, err
	}

	var d Descriptor
	if err := json.Unmarshal(text, &d); err != nil {
		return nil, errors.WrapInvalid(errors.ErrParseError, "Descriptor", "ParseDescriptor",
			err.Error())
	}
	if err := d.validateStructure(); err != nil {
		return nil, err
	}
	return &d, nil
}
