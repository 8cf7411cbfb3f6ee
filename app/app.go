// Package app hosts engines behind a shared addon registry and a set
// of transports. The app is the process-level container: it starts and
// stops graphs on request, bridges transport connections into engines,
// and shuts everything down when a close_app command arrives.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/graphmesh/engine"
	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/graph"
	"github.com/c360/graphmesh/message"
	"github.com/c360/graphmesh/metric"
	"github.com/c360/graphmesh/transport"
	"github.com/c360/graphmesh/value"
)

const (
	propGraphJSON = "graph_json"
	propGraphID   = "graph_id"

	graphStartTimeout = 30 * time.Second
	graphStopTimeout  = 30 * time.Second
)

// Config assembles an app.
type Config struct {
	// URI names this app; it is the AppURI on every local location.
	URI string

	// Registry resolves the addon names graph descriptors carry.
	Registry *Registry

	Logger  *slog.Logger
	Metrics *metric.Metrics

	// Egress forwards messages addressed to other apps. Optional;
	// typically a NATS transport's Publish keyed by the remote URI.
	Egress engine.Egress
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if c.URI == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "App", "Validate", "URI is required")
	}
	if c.Registry == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "App", "Validate", "Registry is required")
	}
	return nil
}

// App owns a set of engines and the transports feeding them.
type App struct {
	uri      string
	registry *Registry
	logger   *slog.Logger
	metrics  *metric.Metrics
	egress   engine.Egress

	mu         sync.Mutex
	engines    map[string]*engine.Engine
	transports []transport.Transport
	closed     bool

	closeOnce sync.Once
	done      chan struct{}
}

// New creates an app. Transports attach before Start.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		uri:      cfg.URI,
		registry: cfg.Registry,
		logger:   logger.With("component", "app", "app_uri", cfg.URI),
		metrics:  cfg.Metrics,
		egress:   cfg.Egress,
		engines:  make(map[string]*engine.Engine),
		done:     make(chan struct{}),
	}, nil
}

// URI returns the app's identifier.
func (a *App) URI() string { return a.uri }

// Done closes when the app has fully shut down, typically after a
// close_app command.
func (a *App) Done() <-chan struct{} { return a.done }

// AttachTransport registers a transport the app will start and stop
// with its own lifecycle. Must happen before Start.
func (a *App) AttachTransport(t transport.Transport) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transports = append(a.transports, t)
}

// Start brings the attached transports up. Graphs start separately,
// through StartGraph or inbound start_graph commands.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	transports := append([]transport.Transport(nil), a.transports...)
	a.mu.Unlock()

	for i, t := range transports {
		if err := t.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				transports[j].Stop(ctx)
			}
			return errors.Wrap(err, "App", "Start",
				fmt.Sprintf("transport %s", t.Name()))
		}
	}
	a.logger.Info("app started", "transports", len(transports))
	return nil
}

// StartGraph compiles the descriptor and runs it in a fresh engine.
// An empty graphID means a generated one; the started engine is
// returned and indexed under its graph ID.
func (a *App) StartGraph(ctx context.Context, descriptor []byte, graphID string) (*engine.Engine, error) {
	desc, err := graph.ParseDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	g, err := graph.Compile(desc, a.uri)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(engine.Config{
		AppURI:     a.uri,
		GraphID:    graphID,
		Graph:      g,
		Resolver:   a.registry,
		Logger:     a.logger,
		Metrics:    a.metrics,
		Egress:     a.egress,
		OnCloseApp: a.initiateClose,
	})
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrShuttingDown, "App", "StartGraph", "app is shutting down")
	}
	if _, exists := a.engines[eng.GraphID()]; exists {
		a.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrAlreadyStarted, "App", "StartGraph",
			fmt.Sprintf("graph %q already running", eng.GraphID()))
	}
	a.engines[eng.GraphID()] = eng
	a.mu.Unlock()

	if err := eng.Start(ctx); err != nil {
		a.mu.Lock()
		delete(a.engines, eng.GraphID())
		a.mu.Unlock()
		return nil, err
	}
	a.logger.Info("graph started", "graph_id", eng.GraphID())
	return eng, nil
}

// StopGraph stops one running graph and forgets it.
func (a *App) StopGraph(ctx context.Context, graphID string) error {
	a.mu.Lock()
	eng, ok := a.engines[graphID]
	a.mu.Unlock()
	if !ok {
		return errors.WrapInvalid(errors.ErrGraphError, "App", "StopGraph",
			fmt.Sprintf("graph %q is not running", graphID))
	}
	err := eng.Stop(ctx)
	a.mu.Lock()
	delete(a.engines, graphID)
	a.mu.Unlock()
	return err
}

// Engine looks a running graph up by its ID.
func (a *App) Engine(graphID string) (*engine.Engine, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	eng, ok := a.engines[graphID]
	return eng, ok
}

// GraphIDs lists the running graphs.
func (a *App) GraphIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.engines))
	for id := range a.engines {
		ids = append(ids, id)
	}
	return ids
}

// Stop shuts every engine and transport down. Idempotent.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	engines := make([]*engine.Engine, 0, len(a.engines))
	for _, e := range a.engines {
		engines = append(engines, e)
	}
	a.engines = make(map[string]*engine.Engine)
	transports := a.transports
	a.mu.Unlock()

	var firstErr error
	for _, e := range engines {
		if err := e.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, t := range transports {
		if err := t.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.closeOnce.Do(func() { close(a.done) })
	a.logger.Info("app stopped")
	return firstErr
}

// initiateClose runs the close_app sequence off the requesting
// goroutine, so the engine delivering the command is free to stop.
func (a *App) initiateClose() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), graphStopTimeout)
		defer cancel()
		if err := a.Stop(ctx); err != nil {
			a.logger.Warn("close_app shutdown incomplete", "error", err)
		}
	}()
}

// Receive implements transport.Receiver: it is the bridge between a
// transport connection and the engines. App-level commands
// (start_graph, stop_graph, close_app) are handled here; everything
// else goes to the engine its destination names.
func (a *App) Receive(msg message.Message, respond func(message.Message) error) {
	if cmd, ok := msg.(*message.Cmd); ok {
		switch cmd.Type() {
		case message.TypeCmdStartGraph:
			a.receiveStartGraph(cmd, respond)
			return
		case message.TypeCmdStopGraph:
			a.receiveStopGraph(cmd, respond)
			return
		case message.TypeCmdCloseApp:
			a.respondStatus(cmd, respond, message.StatusOk, "closing")
			a.initiateClose()
			return
		}
	}

	eng, ok := a.engineFor(msg)
	if !ok {
		a.logger.Warn("message for unknown graph",
			"type", msg.Type().String(),
			"name", msg.Name())
		if cmd, isCmd := msg.(*message.Cmd); isCmd {
			a.respondStatus(cmd, respond, message.StatusInvalidGraph, "no such graph")
		}
		return
	}

	var handler func(*message.CmdResult, error)
	if _, isCmd := msg.(*message.Cmd); isCmd {
		handler = func(res *message.CmdResult, _ error) {
			if err := respond(res); err != nil {
				a.logger.Warn("failed to write result to connection", "error", err)
			}
		}
	}
	if err := eng.SubmitExternal(msg, handler); err != nil {
		a.logger.Warn("inbound message rejected",
			"type", msg.Type().String(),
			"name", msg.Name(),
			"error", err)
		if cmd, isCmd := msg.(*message.Cmd); isCmd {
			a.respondStatus(cmd, respond, message.StatusGeneric, err.Error())
		}
	}
}

// engineFor picks the engine a message is addressed to. A message
// naming no graph goes to the sole running engine, when there is
// exactly one.
func (a *App) engineFor(msg message.Message) (*engine.Engine, bool) {
	for _, dest := range msg.Dests() {
		if dest.GraphID != "" {
			return a.Engine(dest.GraphID)
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.engines) == 1 {
		for _, e := range a.engines {
			return e, true
		}
	}
	return nil, false
}

func (a *App) receiveStartGraph(cmd *message.Cmd, respond func(message.Message) error) {
	node := cmd.PeekProperty(propGraphJSON)
	if node == nil {
		a.respondStatus(cmd, respond, message.StatusInvalidArgument,
			fmt.Sprintf("start_graph requires a %q property", propGraphJSON))
		return
	}
	text, err := node.GetString()
	if err != nil {
		a.respondStatus(cmd, respond, message.StatusInvalidArgument,
			fmt.Sprintf("%q must be a string", propGraphJSON))
		return
	}

	graphID := ""
	if idNode := cmd.PeekProperty(propGraphID); idNode != nil {
		if id, idErr := idNode.GetString(); idErr == nil {
			graphID = id
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), graphStartTimeout)
	defer cancel()
	eng, err := a.StartGraph(ctx, []byte(text), graphID)
	if err != nil {
		a.respondStatus(cmd, respond, message.StatusInvalidGraph, err.Error())
		return
	}

	res := message.NewCmdResult(message.StatusOk, cmd)
	res.SetDetail(eng.GraphID())
	_ = res.SetProperty(propGraphID, value.NewString(eng.GraphID()))
	a.send(respond, res)
}

func (a *App) receiveStopGraph(cmd *message.Cmd, respond func(message.Message) error) {
	graphID := ""
	if node := cmd.PeekProperty(propGraphID); node != nil {
		if id, err := node.GetString(); err == nil {
			graphID = id
		}
	}
	if graphID == "" {
		for _, dest := range cmd.Dests() {
			if dest.GraphID != "" {
				graphID = dest.GraphID
				break
			}
		}
	}
	if graphID == "" {
		a.respondStatus(cmd, respond, message.StatusInvalidArgument,
			"stop_graph names no graph")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), graphStopTimeout)
	defer cancel()
	if err := a.StopGraph(ctx, graphID); err != nil {
		a.respondStatus(cmd, respond, message.StatusInvalidGraph, err.Error())
		return
	}
	a.respondStatus(cmd, respond, message.StatusOk, "graph stopped")
}

func (a *App) respondStatus(cmd *message.Cmd, respond func(message.Message) error,
	status message.StatusCode, detail string) {
	res := message.NewCmdResult(status, cmd)
	res.SetDetail(detail)
	a.send(respond, res)
}

func (a *App) send(respond func(message.Message) error, m message.Message) {
	if respond == nil {
		return
	}
	if err := respond(m); err != nil {
		a.logger.Warn("failed to write response to connection", "error", err)
	}
}
