package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
)

const echoDescriptor = `{
	"nodes": [
		{"type": "extension_group", "addon": "default_extension_group", "name": "g1"},
		{"type": "extension_group", "addon": "default_extension_group", "name": "g2"},
		{"type": "extension", "addon": "client_ext", "name": "A", "extension_group": "g1"},
		{"type": "extension", "addon": "server_ext", "name": "B", "extension_group": "g2",
		 "property": {"greeting": "hello world, too"}}
	],
	"connections": [
		{"extension": "A",
		 "cmd": [{"name": "hello_world", "dest": [{"extension": "B"}]}],
		 "data": [{"name": "feed", "dest": [{"extension": "B"}]}]}
	]
}`

func TestParseDescriptorEcho(t *testing.T) {
	d, err := ParseDescriptor([]byte(echoDescriptor))
	require.NoError(t, err)
	assert.Len(t, d.Nodes, 4)
	assert.Len(t, d.Connections, 1)
}

func TestParseDescriptorRejectsShapeErrors(t *testing.T) {
	cases := map[string]string{
		"not json":          `{{{`,
		"no nodes":          `{"nodes": []}`,
		"bad node type":     `{"nodes": [{"type": "widget", "addon": "a", "name": "n"}]}`,
		"nameless node":     `{"nodes": [{"type": "extension", "addon": "a"}]}`,
		"empty dest":        `{"nodes": [{"type": "extension_group", "addon": "a", "name": "g"}, {"type": "extension", "addon": "a", "name": "x", "extension_group": "g"}], "connections": [{"extension": "x", "cmd": [{"name": "c", "dest": []}]}]}`,
		"unknown top field": `{"nodes": [{"type": "extension_group", "addon": "a", "name": "g"}], "wires": []}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDescriptor([]byte(text))
			require.Error(t, err)
		})
	}
}

func TestParseDescriptorRejectsStructuralErrors(t *testing.T) {
	cases := map[string]string{
		"duplicate extension": `{"nodes": [
			{"type": "extension_group", "addon": "a", "name": "g"},
			{"type": "extension", "addon": "a", "name": "x", "extension_group": "g"},
			{"type": "extension", "addon": "a", "name": "x", "extension_group": "g"}]}`,
		"unknown group": `{"nodes": [
			{"type": "extension", "addon": "a", "name": "x", "extension_group": "ghost"}]}`,
		"groupless extension": `{"nodes": [
			{"type": "extension", "addon": "a", "name": "x"}]}`,
		"dangling route": `{"nodes": [
			{"type": "extension_group", "addon": "a", "name": "g"},
			{"type": "extension", "addon": "a", "name": "x", "extension_group": "g"}],
			"connections": [{"extension": "x", "cmd": [{"name": "c", "dest": [{"extension": "ghost"}]}]}]}`,
		"connection from unknown": `{"nodes": [
			{"type": "extension_group", "addon": "a", "name": "g"},
			{"type": "extension", "addon": "a", "name": "x", "extension_group": "g"}],
			"connections": [{"extension": "ghost"}]}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDescriptor([]byte(text))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrGraphError)
		})
	}
}

func TestRemoteDestinationSkipsLocalCheck(t *testing.T) {
	text := `{"nodes": [
		{"type": "extension_group", "addon": "a", "name": "g"},
		{"type": "extension", "addon": "a", "name": "x", "extension_group": "g"}],
		"connections": [{"extension": "x",
			"cmd": [{"name": "c", "dest": [{"app": "msgpack://remote", "extension": "far"}]}]}]}`
	_, err := ParseDescriptor([]byte(text))
	require.NoError(t, err)
}

func TestCompileRoutes(t *testing.T) {
	d, err := ParseDescriptor([]byte(echoDescriptor))
	require.NoError(t, err)

	g, err := Compile(d, "msgpack://local")
	require.NoError(t, err)

	assert.Equal(t, []string{"g1", "g2"}, g.Groups())

	grp, ok := g.GroupOf("B")
	require.True(t, ok)
	assert.Equal(t, "g2", grp)

	dests := g.RouteFor("A", message.TypeCmd, "hello_world")
	require.Len(t, dests, 1)
	assert.Equal(t, message.Location{
		AppURI:    "msgpack://local",
		Group:     "g2",
		Extension: "B",
	}, dests[0])

	// Built-in command kinds resolve through the cmd routes.
	assert.Len(t, g.RouteFor("A", message.TypeCmdTimer, "hello_world"), 1)

	assert.Len(t, g.RouteFor("A", message.TypeData, "feed"), 1)
	assert.Empty(t, g.RouteFor("A", message.TypeData, "unknown"))
	assert.Empty(t, g.RouteFor("B", message.TypeCmd, "hello_world"))
}

func TestCompileRejectsDuplicateRoutes(t *testing.T) {
	text := `{"nodes": [
		{"type": "extension_group", "addon": "a", "name": "g"},
		{"type": "extension", "addon": "a", "name": "x", "extension_group": "g"},
		{"type": "extension", "addon": "a", "name": "y", "extension_group": "g"}],
		"connections": [{"extension": "x", "cmd": [
			{"name": "c", "dest": [{"extension": "y"}]},
			{"name": "c", "dest": [{"extension": "y"}]}]}]}`
	d, err := ParseDescriptor([]byte(text))
	require.NoError(t, err)

	_, err = Compile(d, "msgpack://local")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrGraphError)
}
