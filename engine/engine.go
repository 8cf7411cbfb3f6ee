// Package engine runs one graph: it owns the compiled Graph, the
// extension groups, the path-correlation table and the timers, and it
// routes every message between extensions. The engine is the Sender
// behind every Env; routing runs on the sending goroutine, which keeps
// delivery FIFO per (source, destination) pair without an extra hop.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/extension"
	"github.com/c360/graphmesh/graph"
	"github.com/c360/graphmesh/message"
	"github.com/c360/graphmesh/metric"
	"github.com/c360/graphmesh/path"
	"github.com/c360/graphmesh/pkg/timestamp"
)

// AddonResolver produces extension instances from the addon names a
// graph descriptor carries. The app's addon registry implements it.
type AddonResolver interface {
	NewExtension(addonName, instanceName string, logger *slog.Logger) (extension.Extension, error)
}

// Egress carries a message whose destination lives in another app. The
// transport layer implements it; a nil Egress drops remote traffic with
// a warning.
type Egress func(msg message.Message) error

type engineState int32

const (
	stateCreated engineState = iota
	stateStarting
	stateRunning
	stateStopping
	stateStopped
)

// Config assembles an engine.
type Config struct {
	// AppURI identifies the hosting app; local destinations carry it.
	AppURI string

	// GraphID names this graph instance. Empty means a fresh UUID.
	GraphID string

	// Graph is the compiled descriptor the engine will run.
	Graph *graph.Graph

	// Resolver produces the extensions the graph names.
	Resolver AddonResolver

	Logger  *slog.Logger
	Metrics *metric.Metrics

	// Egress forwards messages addressed to other apps. Optional.
	Egress Egress

	// OnCloseApp is told when a close_app command reaches this engine.
	// Optional; without it close_app commands fail.
	OnCloseApp func()
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if c.AppURI == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "Validate", "AppURI is required")
	}
	if c.Graph == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "Validate", "Graph is required")
	}
	if c.Resolver == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "Validate", "Resolver is required")
	}
	return nil
}

// Engine owns one running graph.
type Engine struct {
	id      string
	appURI  string
	graphID string
	graph   *graph.Graph

	logger   *slog.Logger
	metrics  *metric.Metrics
	resolver AddonResolver
	egress   Egress
	closeApp func()

	table *path.Table

	groups map[string]*extension.Group
	order  []string

	timerMu sync.Mutex
	timers  map[string]chan struct{}
	done    chan struct{}

	state     atomic.Int32
	faultStop sync.Once
}

// New creates an engine from cfg. The graph does not run until Start.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	graphID := cfg.GraphID
	if graphID == "" {
		graphID = uuid.New().String()
	}

	e := &Engine{
		id:       uuid.New().String(),
		appURI:   cfg.AppURI,
		graphID:  graphID,
		graph:    cfg.Graph,
		metrics:  cfg.Metrics,
		resolver: cfg.Resolver,
		egress:   cfg.Egress,
		closeApp: cfg.OnCloseApp,
		groups:   make(map[string]*extension.Group),
		timers:   make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}
	e.logger = logger.With("component", "engine", "graph_id", graphID)
	e.table = path.NewTable(e.logger, e.onDeadline)
	return e, nil
}

// ID returns the engine's unique identifier.
func (e *Engine) ID() string { return e.id }

// GraphID returns the identifier of the graph instance this engine runs.
func (e *Engine) GraphID() string { return e.graphID }

// Graph returns the compiled graph.
func (e *Engine) Graph() *graph.Graph { return e.graph }

// Running reports whether the graph passed its start barrier and has not
// begun stopping.
func (e *Engine) Running() bool {
	return engineState(e.state.Load()) == stateRunning
}

// SendMessage routes msg from the given source. Empty destinations are
// resolved through the graph's connections; commands with a handler
// leave a correlation record so results find their way back. Part of
// the extension.Sender contract.
func (e *Engine) SendMessage(from message.Location, msg message.Message, handler path.ResultHandler) error {
	switch engineState(e.state.Load()) {
	case stateCreated:
		return errors.WrapInvalid(errors.ErrNotStarted, "Engine", "SendMessage",
			fmt.Sprintf("graph %s has not started", e.graphID))
	case stateStopping, stateStopped:
		return errors.WrapInvalid(errors.ErrShuttingDown, "Engine", "SendMessage",
			fmt.Sprintf("graph %s is stopping", e.graphID))
	}

	if msg.Src().IsEmpty() {
		msg.SetSrc(from)
	}
	if msg.Timestamp() == 0 {
		msg.SetTimestamp(timestamp.NowMicros())
	}

	if cmd, ok := msg.(*message.Cmd); ok {
		switch cmd.Type() {
		case message.TypeCmdTimer:
			return e.handleTimer(from, cmd, handler)
		case message.TypeCmdStopGraph:
			return e.handleStopGraph(cmd, handler)
		case message.TypeCmdCloseApp:
			return e.handleCloseApp(from, cmd, handler)
		}
	}

	targets := append([]message.Location(nil), msg.Dests()...)
	if len(targets) == 0 {
		targets = append(targets, e.graph.RouteFor(from.Extension, msg.Type(), msg.Name())...)
	}
	if len(targets) == 0 {
		e.recordDropped("no_route")
		return errors.WrapInvalid(errors.ErrNoPath, "Engine", "SendMessage",
			fmt.Sprintf("no route for %s %q from %q", msg.Type(), msg.Name(), from.Extension))
	}

	if cmd, ok := msg.(*message.Cmd); ok && handler != nil {
		out := &path.PathOut{
			CmdID:       cmd.CmdID(),
			Name:        cmd.Name(),
			OriginGroup: from.Group,
			Origin:      from,
			Handler:     handler,
		}
		if d := cmd.Timeout(); d > 0 {
			out.Deadline = time.Now().Add(d)
		}
		if err := e.table.AddOut(out); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.RecordPathOutDepth(e.graphID, e.table.OutDepth())
		}
	}

	for i, dest := range targets {
		m := msg
		if i > 0 {
			m = msg.CloneForFanout()
		}
		m.SetDests(dest)
		e.deliver(dest, m)
	}
	return nil
}

// ReturnResult routes a result back toward the command's originator.
// Part of the extension.Sender contract.
func (e *Engine) ReturnResult(from message.Location, result *message.CmdResult) error {
	if result.Src().IsEmpty() {
		result.SetSrc(from)
	}
	if result.Timestamp() == 0 {
		result.SetTimestamp(timestamp.NowMicros())
	}

	for _, dest := range result.Dests() {
		if dest.AppURI != "" && dest.AppURI != e.appURI {
			return e.sendRemote(result)
		}
	}
	e.dispatchResult(result)
	return nil
}

// SubmitExternal injects a message arriving from outside the graph: a
// client or a transport connection. Commands must name their
// destinations; handler receives the results.
func (e *Engine) SubmitExternal(msg message.Message, handler path.ResultHandler) error {
	from := msg.Src()
	if from.IsEmpty() {
		from = message.Location{AppURI: e.appURI, GraphID: e.graphID}
		msg.SetSrc(from)
	}
	return e.SendMessage(from, msg, handler)
}

func (e *Engine) deliver(dest message.Location, m message.Message) {
	if dest.AppURI != "" && dest.AppURI != e.appURI {
		if err := e.sendRemote(m); err != nil {
			e.failDelivery(m, message.StatusGeneric, "remote delivery failed")
		}
		return
	}

	grp := dest.Group
	if grp == "" {
		grp, _ = e.graph.GroupOf(dest.Extension)
	}
	g, ok := e.groups[grp]
	if !ok {
		e.logger.Warn("message for unknown destination",
			"extension", dest.Extension,
			"extension_group", grp,
			"type", m.Type().String(),
			"name", m.Name())
		e.recordDropped("unknown_destination")
		e.failDelivery(m, message.StatusExtensionNotFound,
			fmt.Sprintf("extension %q not found", dest.Extension))
		return
	}

	if err := g.Deliver(dest.Extension, m); err != nil {
		e.recordDropped("group_closed")
		e.failDelivery(m, message.StatusCancelled, "destination group is shutting down")
		return
	}
	if e.metrics != nil {
		e.metrics.RecordMessageRouted(e.graphID, m.Type().String())
	}
}

func (e *Engine) sendRemote(m message.Message) error {
	if e.egress == nil {
		e.logger.Warn("dropping message for remote app: no egress configured",
			"type", m.Type().String(),
			"name", m.Name())
		e.recordDropped("no_egress")
		return errors.WrapInvalid(errors.ErrTransport, "Engine", "sendRemote",
			"no egress configured")
	}
	if err := e.egress(m); err != nil {
		e.recordDropped("egress_failed")
		return errors.WrapTransient(errors.ErrTransport, "Engine", "sendRemote", err.Error())
	}
	return nil
}

// failDelivery answers an undeliverable command with an error result so
// its originator is not left waiting. Non-commands are simply dropped.
func (e *Engine) failDelivery(m message.Message, status message.StatusCode, reason string) {
	cmd, ok := m.(*message.Cmd)
	if !ok {
		return
	}
	r := message.NewCmdResultForID(status, cmd.CmdID(), cmd.Name())
	r.SetDetail(reason)
	e.dispatchResult(r)
}

// dispatchResult matches a result against its correlation record and
// hands it to the originator's handler on the originator's goroutine.
func (e *Engine) dispatchResult(result *message.CmdResult) {
	out, ok := e.table.ResolveOut(result)
	if !ok {
		e.recordDropped("no_path")
		return
	}
	if e.metrics != nil {
		e.metrics.RecordMessageRouted(e.graphID, result.Type().String())
		e.metrics.RecordPathOutDepth(e.graphID, e.table.OutDepth())
	}
	e.completeOut(out, result)
}

// completeOut runs the handler for out. When the originator lives in a
// group, the handler runs serialised on that group's goroutine; for
// external originators it runs on the calling goroutine.
func (e *Engine) completeOut(out *path.PathOut, result *message.CmdResult) {
	if out.OriginGroup != "" {
		if g, ok := e.groups[out.OriginGroup]; ok {
			err := g.NotifyEnv(out.Origin.Extension, func(*extension.Env) {
				out.Handler(result, nil)
			})
			if err == nil {
				return
			}
		}
	}
	out.Handler(result, nil)
}

// onDeadline answers an expired command with a single timeout result.
// The table has already removed the record, so a late real result is
// dropped rather than delivered twice.
func (e *Engine) onDeadline(out *path.PathOut) {
	if e.metrics != nil {
		e.metrics.RecordCommandTimeout(e.graphID)
	}
	r := message.NewCmdResultForID(message.StatusTimeout, out.CmdID, out.Name)
	r.SetDetail("command timed out")
	e.completeOut(out, r)
}

func (e *Engine) recordDropped(reason string) {
	if e.metrics != nil {
		e.metrics.RecordMessageDropped(e.graphID, reason)
	}
}
