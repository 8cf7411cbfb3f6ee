package graph

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/graphmesh/errors"
)

// descriptorSchema is the JSON-schema shape check applied before any
// structural validation.
const descriptorSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["nodes"],
	"additionalProperties": false,
	"properties": {
		"nodes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["type", "addon", "name"],
				"additionalProperties": false,
				"properties": {
					"type": {"enum": ["extension", "extension_group"]},
					"app": {"type": "string"},
					"addon": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 1},
					"extension_group": {"type": "string"},
					"property": {"type": "object"}
				}
			}
		},
		"connections": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["extension"],
				"additionalProperties": false,
				"properties": {
					"app": {"type": "string"},
					"extension_group": {"type": "string"},
					"extension": {"type": "string", "minLength": 1},
					"cmd": {"$ref": "#/definitions/routes"},
					"data": {"$ref": "#/definitions/routes"},
					"audio_frame": {"$ref": "#/definitions/routes"},
					"video_frame": {"$ref": "#/definitions/routes"}
				}
			}
		}
	},
	"definitions": {
		"routes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "dest"],
				"additionalProperties": false,
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"dest": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["extension"],
							"additionalProperties": false,
							"properties": {
								"app": {"type": "string"},
								"extension_group": {"type": "string"},
								"extension": {"type": "string", "minLength": 1}
							}
						}
					}
				}
			}
		}
	}
}`

func validateShape(text []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(descriptorSchema),
		gojsonschema.NewBytesLoader(text),
	)
	if err != nil {
		return errors.WrapInvalid(errors.ErrParseError, "Descriptor", "validateShape", err.Error())
	}
	if result.Valid() {
		return nil
	}

	var reasons []string
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}
	return errors.WrapInvalid(errors.ErrGraphError, "Descriptor", "validateShape",
		strings.Join(reasons, "; "))
}

// validateStructure checks the cross-references the shape check cannot:
// unique names, known parent groups, and connection endpoints that exist.
func (d *Descriptor) validateStructure() error {
	fail := func(op, reason string) error {
		return errors.WrapInvalid(errors.ErrGraphError, "Descriptor", op, reason)
	}

	groups := make(map[string]bool)
	exts := make(map[string]bool)
	for _, n := range d.Nodes {
		switch n.Type {
		case NodeExtensionGroup:
			if groups[n.Name] {
				return fail("validateStructure", fmt.Sprintf("duplicate group %q", n.Name))
			}
			if n.ExtensionGroup != "" {
				return fail("validateStructure",
					fmt.Sprintf("group %q must not name a parent group", n.Name))
			}
			groups[n.Name] = true
		case NodeExtension:
			if exts[n.Name] {
				return fail("validateStructure", fmt.Sprintf("duplicate extension %q", n.Name))
			}
			if n.ExtensionGroup == "" {
				return fail("validateStructure",
					fmt.Sprintf("extension %q names no group", n.Name))
			}
			exts[n.Name] = true
		}
	}

	for _, n := range d.Nodes {
		if n.Type == NodeExtension && !groups[n.ExtensionGroup] {
			return fail("validateStructure",
				fmt.Sprintf("extension %q references unknown group %q", n.Name, n.ExtensionGroup))
		}
	}

	for _, c := range d.Connections {
		if !exts[c.Extension] {
			return fail("validateStructure",
				fmt.Sprintf("connection from unknown extension %q", c.Extension))
		}
		for _, routes := range [][]Route{c.Cmd, c.Data, c.AudioFrame, c.VideoFrame} {
			for _, r := range routes {
				for _, dest := range r.Dest {
					// Remote destinations (another app) resolve there.
					if dest.App != "" {
						continue
					}
					if !exts[dest.Extension] {
						return fail("validateStructure",
							fmt.Sprintf("route %q targets unknown extension %q", r.Name, dest.Extension))
					}
				}
			}
		}
	}
	return nil
}
