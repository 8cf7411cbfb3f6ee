// Package message defines the message model for graphmesh: commands,
// command results, data frames, audio frames and video frames, together
// with their shared header, the reserved `_ten` envelope used on the wire,
// and the copy-on-write fan-out discipline.
package message

// MsgType identifies the kind of message.
type MsgType int

const (
	TypeInvalid MsgType = iota
	TypeCmd
	TypeCmdResult
	TypeData
	TypeAudioFrame
	TypeVideoFrame
	TypeCmdStartGraph
	TypeCmdStopGraph
	TypeCmdTimer
	TypeCmdTimeout
	TypeCmdCloseApp
)

// String returns the wire name of the message type.
func (t MsgType) String() string {
	switch t {
	case TypeCmd:
		return "cmd"
	case TypeCmdResult:
		return "cmd_result"
	case TypeData:
		return "data"
	case TypeAudioFrame:
		return "audio_frame"
	case TypeVideoFrame:
		return "video_frame"
	case TypeCmdStartGraph:
		return "start_graph"
	case TypeCmdStopGraph:
		return "stop_graph"
	case TypeCmdTimer:
		return "timer"
	case TypeCmdTimeout:
		return "timeout"
	case TypeCmdCloseApp:
		return "close_app"
	default:
		return "invalid"
	}
}

// MsgTypeFromString resolves a wire name back to its tag.
func MsgTypeFromString(s string) MsgType {
	for t := TypeCmd; t <= TypeCmdCloseApp; t++ {
		if t.String() == s {
			return t
		}
	}
	return TypeInvalid
}

// IsCmd reports whether the type is a command (including the built-ins).
func (t MsgType) IsCmd() bool {
	switch t {
	case TypeCmd, TypeCmdStartGraph, TypeCmdStopGraph, TypeCmdTimer, TypeCmdTimeout, TypeCmdCloseApp:
		return true
	default:
		return false
	}
}

// Reserved command names for the built-in commands.
const (
	NameStartGraph = "start_graph"
	NameStopGraph  = "stop_graph"
	NameTimer      = "timer"
	NameTimeout    = "timeout"
	NameCloseApp   = "close_app"
)

// StatusCode conveys the outcome of a command on its result.
type StatusCode int

const (
	StatusOk                StatusCode = 0
	StatusGeneric           StatusCode = 1
	StatusInvalidArgument   StatusCode = 2
	StatusInvalidGraph      StatusCode = 3
	StatusExtensionNotFound StatusCode = 4
	StatusTimeout           StatusCode = 5
	StatusCancelled         StatusCode = 6
)

// String returns a human-readable name for the status code.
func (c StatusCode) String() string {
	switch c {
	case StatusOk:
		return "ok"
	case StatusGeneric:
		return "error"
	case StatusInvalidArgument:
		return "invalid_argument"
	case StatusInvalidGraph:
		return "invalid_graph"
	case StatusExtensionNotFound:
		return "extension_not_found"
	case StatusTimeout:
		return "timeout"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Location identifies a node in the mesh: an app, a graph instance inside
// it, and a (group, extension) pair inside the graph. Empty trailing fields
// widen the target (an app-only location addresses the app itself).
type Location struct {
	AppURI    string
	GraphID   string
	Group     string
	Extension string
}

// Equals reports field-wise equality.
func (l Location) Equals(other Location) bool {
	return l == other
}

// IsEmpty reports whether every field is empty.
func (l Location) IsEmpty() bool {
	return l == Location{}
}

func (l Location) String() string {
	return l.AppURI + "/" + l.GraphID + "/" + l.Group + "/" + l.Extension
}
