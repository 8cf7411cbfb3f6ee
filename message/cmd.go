package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/graphmesh/pkg/timestamp"
)

// Cmd is a command message. Every command carries a unique cmd ID used
// to correlate results back to the sender, and a sequence ID assigned by
// the connection layer for remote round trips.
type Cmd struct {
	header
	cmdID     string
	seqID     string
	timeoutUS int64
}

// NewCmd creates a named command with a fresh cmd ID.
func NewCmd(name string) *Cmd {
	return newCmdOfType(TypeCmd, name)
}

func newCmdOfType(typ MsgType, name string) *Cmd {
	c := &Cmd{header: newHeader(typ, name)}
	c.cmdID = uuid.New().String()
	c.timestampUS = timestamp.NowMicros()
	return c
}

// NewStartGraphCmd creates the built-in command that instantiates a graph.
func NewStartGraphCmd() *Cmd {
	return newCmdOfType(TypeCmdStartGraph, NameStartGraph)
}

// NewStopGraphCmd creates the built-in command that tears a graph down.
func NewStopGraphCmd() *Cmd {
	return newCmdOfType(TypeCmdStopGraph, NameStopGraph)
}

// NewTimerCmd creates the built-in command that starts an engine timer.
func NewTimerCmd() *Cmd {
	return newCmdOfType(TypeCmdTimer, NameTimer)
}

// NewTimeoutCmd creates the built-in notification a timer fires with.
func NewTimeoutCmd() *Cmd {
	return newCmdOfType(TypeCmdTimeout, NameTimeout)
}

// NewCloseAppCmd creates the built-in command that shuts the app down.
func NewCloseAppCmd() *Cmd {
	return newCmdOfType(TypeCmdCloseApp, NameCloseApp)
}

// CmdID returns the correlation identifier.
func (c *Cmd) CmdID() string { return c.cmdID }

// SetCmdID overrides the correlation identifier. The connection layer
// uses this when re-establishing identity across a transport hop.
func (c *Cmd) SetCmdID(id string) { c.cmdID = id }

// SeqID returns the connection-scoped sequence identifier.
func (c *Cmd) SeqID() string { return c.seqID }

// SetSeqID assigns the connection-scoped sequence identifier.
func (c *Cmd) SetSeqID(id string) { c.seqID = id }

// Timeout returns how long the sender is willing to wait for the final
// result. Zero means wait forever.
func (c *Cmd) Timeout() time.Duration { return time.Duration(c.timeoutUS) * time.Microsecond }

// SetTimeout bounds the wait for the final result. The engine answers an
// expired command with a single timeout result.
func (c *Cmd) SetTimeout(d time.Duration) { c.timeoutUS = d.Microseconds() }

// CloneForFanout copies the command for delivery to one more destination.
// The copy keeps the cmd ID so every result funnels back to one origin.
func (c *Cmd) CloneForFanout() Message {
	out := &Cmd{header: c.cloneHeader(), cmdID: c.cmdID, seqID: c.seqID, timeoutUS: c.timeoutUS}
	return out
}

// CmdResult is the reply to a command. Results stream back along the
// reverse of the command's path; IsFinal marks the one that completes
// the round trip and releases the return path.
type CmdResult struct {
	header
	cmdID   string
	seqID   string
	status  StatusCode
	isFinal bool
}

// NewCmdResult creates a result for cmd with the given status. The
// result inherits the command's correlation IDs, its name, and targets
// the command's source. Results are final unless marked otherwise.
func NewCmdResult(status StatusCode, cmd *Cmd) *CmdResult {
	r := &CmdResult{
		header:  newHeader(TypeCmdResult, cmd.Name()),
		cmdID:   cmd.cmdID,
		seqID:   cmd.seqID,
		status:  status,
		isFinal: true,
	}
	r.timestampUS = timestamp.NowMicros()
	if !cmd.Src().IsEmpty() {
		r.AddDest(cmd.Src())
	}
	return r
}

// NewCmdResultForID creates a result correlated by cmd ID alone. The
// engine uses this to answer commands whose originals are no longer at
// hand, such as timed-out or cancelled ones.
func NewCmdResultForID(status StatusCode, cmdID, name string) *CmdResult {
	r := &CmdResult{
		header:  newHeader(TypeCmdResult, name),
		cmdID:   cmdID,
		status:  status,
		isFinal: true,
	}
	r.timestampUS = timestamp.NowMicros()
	return r
}

// CmdID returns the identifier of the command this result answers.
func (r *CmdResult) CmdID() string { return r.cmdID }

// SetCmdID rewrites the correlation identifier; Env.ReturnResult uses it
// to fill in an empty cmd ID from the command being answered.
func (r *CmdResult) SetCmdID(id string) { r.cmdID = id }

// SeqID returns the connection-scoped sequence identifier.
func (r *CmdResult) SeqID() string { return r.seqID }

// SetSeqID assigns the connection-scoped sequence identifier.
func (r *CmdResult) SetSeqID(id string) { r.seqID = id }

// Status returns the outcome code.
func (r *CmdResult) Status() StatusCode { return r.status }

// IsFinal reports whether this result completes the command.
func (r *CmdResult) IsFinal() bool { return r.isFinal }

// SetIsFinal marks the result as streaming (false) or completing (true).
func (r *CmdResult) SetIsFinal(final bool) { r.isFinal = final }

// Detail returns the free-form detail string, empty when unset.
func (r *CmdResult) Detail() string {
	node := r.PeekProperty(propDetail)
	if node == nil {
		return ""
	}
	s, err := node.GetString()
	if err != nil {
		return ""
	}
	return s
}

// SetDetail attaches a free-form detail string to the result.
func (r *CmdResult) SetDetail(detail string) {
	_ = r.SetProperty(propDetail, valueString(detail))
}

// CloneForFanout copies the result; results normally have a single
// destination but the interface is uniform across kinds.
func (r *CmdResult) CloneForFanout() Message {
	out := &CmdResult{
		header:  r.cloneHeader(),
		cmdID:   r.cmdID,
		seqID:   r.seqID,
		status:  r.status,
		isFinal: r.isFinal,
	}
	return out
}
