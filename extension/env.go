package extension

import (
	"fmt"
	"log/slog"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
	"github.com/c360/graphmesh/path"
	"github.com/c360/graphmesh/schema"
	"github.com/c360/graphmesh/value"
)

// Sender is the engine-facing surface an Env emits through. The engine
// implements it; the group injects it when the extension is registered.
type Sender interface {
	// SendMessage routes msg from the given source location. For
	// commands, handler receives every result routed back; it may be
	// nil when the caller does not care.
	SendMessage(from message.Location, msg message.Message, handler path.ResultHandler) error

	// ReturnResult routes a result back toward the source of the
	// command it answers.
	ReturnResult(from message.Location, result *message.CmdResult) error
}

type ackStage int

const (
	ackNone ackStage = iota
	ackConfigure
	ackInit
	ackStart
	ackStop
	ackDeinit
)

func (s ackStage) String() string {
	switch s {
	case ackConfigure:
		return "configure_done"
	case ackInit:
		return "init_done"
	case ackStart:
		return "start_done"
	case ackStop:
		return "stop_done"
	case ackDeinit:
		return "deinit_done"
	default:
		return "none"
	}
}

// Env is the capability object handed to extension callbacks. It is
// confined to its group's goroutine: callbacks may use it freely, any
// other goroutine must go through an EnvProxy.
type Env struct {
	loc    message.Location
	logger *slog.Logger
	sender Sender
	group  *Group

	props      *value.Value
	propSchema *schema.Schema

	state State

	armed ackStage
	ack   func(err error)
}

func newEnv(loc message.Location, logger *slog.Logger, sender Sender) *Env {
	return &Env{
		loc:    loc,
		logger: logger,
		sender: sender,
		props:  value.NewObject(),
	}
}

// Location returns the address of the owning extension.
func (e *Env) Location() message.Location { return e.loc }

// Log returns the extension-scoped structured logger.
func (e *Env) Log() *slog.Logger { return e.logger }

// State returns the current lifecycle state.
func (e *Env) State() State { return e.state }

// Proxy returns a clonable handle for use off the group goroutine.
// Blocking work acks a lifecycle phase or touches properties only
// through the proxy's Notify.
func (e *Env) Proxy() *EnvProxy { return NewEnvProxy(e.group, e.loc.Extension) }

// arm installs the acknowledgement for the phase the engine is driving.
func (e *Env) arm(stage ackStage, fn func(err error)) {
	e.armed = stage
	e.ack = fn
}

func (e *Env) fire(stage ackStage) error {
	if e.armed != stage {
		return errors.WrapInvalid(errors.ErrLifecycleMisuse, "Env", stage.String(),
			fmt.Sprintf("extension %s is not awaiting %s", e.loc.Extension, stage))
	}
	fn := e.ack
	e.armed = ackNone
	e.ack = nil
	fn(nil)
	return nil
}

// ConfigureDone acknowledges OnConfigure. The first call drives the
// transition; any further call fails with a lifecycle error.
func (e *Env) ConfigureDone() error { return e.fire(ackConfigure) }

// InitDone acknowledges OnInit.
func (e *Env) InitDone() error { return e.fire(ackInit) }

// StartDone acknowledges OnStart.
func (e *Env) StartDone() error { return e.fire(ackStart) }

// StopDone acknowledges OnStop.
func (e *Env) StopDone() error { return e.fire(ackStop) }

// DeinitDone acknowledges OnDeinit.
func (e *Env) DeinitDone() error { return e.fire(ackDeinit) }

// SendCmd routes a command into the graph. When dests are empty the
// engine resolves them from the graph's connections. handler receives
// every result routed back, terminal last; it runs on this extension's
// group goroutine.
func (e *Env) SendCmd(cmd *message.Cmd, handler path.ResultHandler) error {
	return e.sender.SendMessage(e.loc, cmd, handler)
}

// SendData routes a data message into the graph.
func (e *Env) SendData(data *message.Data) error {
	return e.sender.SendMessage(e.loc, data, nil)
}

// SendAudioFrame routes an audio frame into the graph.
func (e *Env) SendAudioFrame(frame *message.AudioFrame) error {
	return e.sender.SendMessage(e.loc, frame, nil)
}

// SendVideoFrame routes a video frame into the graph.
func (e *Env) SendVideoFrame(frame *message.VideoFrame) error {
	return e.sender.SendMessage(e.loc, frame, nil)
}

// ReturnResult answers cmd with result. The result inherits the
// command's correlation if the caller did not build it via NewCmdResult.
func (e *Env) ReturnResult(result *message.CmdResult, cmd *message.Cmd) error {
	if result.CmdID() == "" {
		result.SetCmdID(cmd.CmdID())
	}
	if result.SeqID() == "" {
		result.SetSeqID(cmd.SeqID())
	}
	return e.sender.ReturnResult(e.loc, result)
}

// LoadProperties replaces the whole property tree. The engine seeds the
// descriptor's per-node properties through this before OnConfigure runs;
// after that the tree belongs to the extension.
func (e *Env) LoadProperties(v *value.Value) error {
	if e.state != StateCreated {
		return errors.WrapInvalid(errors.ErrLifecycleMisuse, "Env", "LoadProperties",
			"properties may only be seeded before configure")
	}
	if v == nil {
		e.props = value.NewObject()
		return nil
	}
	if v.Type() != value.TypeObject {
		return errors.WrapInvalid(errors.ErrTypeMismatch, "Env", "LoadProperties",
			"property tree must be an object")
	}
	e.props = v
	return nil
}

// SetPropertySchema declares the schema the extension's properties must
// conform to. Only legal while OnConfigure is running.
func (e *Env) SetPropertySchema(s *schema.Schema) error {
	if e.state != StateConfiguring {
		return errors.WrapInvalid(errors.ErrLifecycleMisuse, "Env", "SetPropertySchema",
			"schema may only be declared during configure")
	}
	e.propSchema = s
	return nil
}

// SetProperty stores v at the dotted path in the extension's property
// tree. When a schema is declared, the tree is adjusted and validated
// after the write; a violating write is rolled back.
func (e *Env) SetProperty(p string, v *value.Value) error {
	if e.propSchema == nil {
		return e.props.Set(p, v)
	}

	backup := e.props.Clone()
	if err := e.props.Set(p, v); err != nil {
		return err
	}
	if err := e.propSchema.Adjust(e.props); err != nil {
		e.props = backup
		return err
	}
	if violations := e.propSchema.Validate(e.props); len(violations) > 0 {
		e.props = backup
		return errors.WrapInvalid(errors.ErrSchemaViolation, "Env", "SetProperty",
			violations[0].String())
	}
	return nil
}

// GetProperty returns a deep clone of the value at the dotted path.
func (e *Env) GetProperty(p string) (*value.Value, error) {
	found := e.props.Get(p)
	if found == nil {
		return nil, errors.WrapInvalid(errors.ErrPathError, "Env", "GetProperty",
			fmt.Sprintf("property %q not found", p))
	}
	return found, nil
}

// PeekProperty aliases the stored node without copying. The caller must
// not hand the alias to another goroutine; cross-goroutine reads clone
// inside an EnvProxy.Notify closure.
func (e *Env) PeekProperty(p string) *value.Value {
	return e.props.Peek(p)
}

// DeleteProperty removes the value at the dotted path.
func (e *Env) DeleteProperty(p string) error {
	return e.props.Delete(p)
}
