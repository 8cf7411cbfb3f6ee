package graph

import (
	"fmt"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
)

// routeKey identifies one edge family: messages of a kind and name
// leaving one source extension.
type routeKey struct {
	src  string
	kind message.MsgType
	name string
}

// Graph is the compiled, immutable form of a descriptor. Compile once,
// share freely; lookups take no locks.
type Graph struct {
	groups     []string
	extensions []Node
	extGroup   map[string]string
	routes     map[routeKey][]message.Location
}

// Compile resolves a validated descriptor into its immutable routing
// form. appURI stamps local destinations.
func Compile(d *Descriptor, appURI string) (*Graph, error) {
	g := &Graph{
		extGroup: make(map[string]string),
		routes:   make(map[routeKey][]message.Location),
	}

	for _, n := range d.Nodes {
		switch n.Type {
		case NodeExtensionGroup:
			g.groups = append(g.groups, n.Name)
		case NodeExtension:
			g.extensions = append(g.extensions, n)
			g.extGroup[n.Name] = n.ExtensionGroup
		default:
			return nil, errors.WrapInvalid(errors.ErrGraphError, "Graph", "Compile",
				fmt.Sprintf("unknown node type %q", n.Type))
		}
	}

	for _, c := range d.Connections {
		kinds := []struct {
			kind   message.MsgType
			routes []Route
		}{
			{message.TypeCmd, c.Cmd},
			{message.TypeData, c.Data},
			{message.TypeAudioFrame, c.AudioFrame},
			{message.TypeVideoFrame, c.VideoFrame},
		}
		for _, k := range kinds {
			for _, r := range k.routes {
				key := routeKey{src: c.Extension, kind: k.kind, name: r.Name}
				if _, exists := g.routes[key]; exists {
					return nil, errors.WrapInvalid(errors.ErrGraphError, "Graph", "Compile",
						fmt.Sprintf("duplicate route (%s, %s) from %q", k.kind, r.Name, c.Extension))
				}
				for _, dest := range r.Dest {
					loc := message.Location{
						AppURI:    dest.App,
						Group:     dest.ExtensionGroup,
						Extension: dest.Extension,
					}
					if loc.AppURI == "" {
						loc.AppURI = appURI
					}
					if loc.Group == "" {
						loc.Group = g.extGroup[dest.Extension]
					}
					g.routes[key] = append(g.routes[key], loc)
				}
			}
		}
	}
	return g, nil
}

// Groups lists the group names in descriptor order.
func (g *Graph) Groups() []string {
	return append([]string(nil), g.groups...)
}

// Extensions lists the extension nodes in descriptor order.
func (g *Graph) Extensions() []Node {
	return append([]Node(nil), g.extensions...)
}

// GroupOf returns the hosting group for an extension name.
func (g *Graph) GroupOf(ext string) (string, bool) {
	grp, ok := g.extGroup[ext]
	return grp, ok
}

// RouteFor resolves the destination set for messages of the given kind
// and name leaving src. Built-in command kinds route like plain
// commands.
func (g *Graph) RouteFor(src string, kind message.MsgType, name string) []message.Location {
	if kind.IsCmd() {
		kind = message.TypeCmd
	}
	return g.routes[routeKey{src: src, kind: kind, name: name}]
}
