// Package path maintains the correlation records that route command
// results back to their senders. Every command an extension emits leaves
// a PathOut in the engine's table, and each result is matched against
// its PathOut: terminal results consume it, streaming results leave it
// in place. The table can also hold PathIn records (AddIn, ResolveIn)
// linking a received command to an upstream cmd ID; the engine does not
// create them, so results are routed by their PathOut alone.
package path

import (
	"time"

	"github.com/c360/graphmesh/message"
)

// ResultHandler receives a result routed back along a PathOut. A nil
// error means the result arrived; a non-nil error reports a broken
// return path (timeout, teardown).
type ResultHandler func(result *message.CmdResult, err error)

// PathOut records one in-flight command emitted by an extension.
type PathOut struct {
	CmdID       string
	Name        string
	OriginGroup string
	Origin      message.Location
	Handler     ResultHandler
	Deadline    time.Time

	timer *time.Timer
}

// PathIn records one command received by an extension, linking the
// result it will produce back to the upstream correlation identifier.
type PathIn struct {
	CmdID         string
	UpstreamCmdID string
	Dest          message.Location
}
