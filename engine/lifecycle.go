package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/extension"
	"github.com/c360/graphmesh/graph"
	"github.com/c360/graphmesh/message"
	"github.com/c360/graphmesh/value"
)

// teardownTimeout bounds the rollback and the stop_graph handling when
// no caller-supplied context governs them.
const teardownTimeout = 10 * time.Second

// Start instantiates the graph and drives the three startup barriers:
// configure, init, start. No extension enters Running until every
// extension in the graph has acknowledged OnStart; only then do the
// groups open and buffered deliveries flush. Any failure rolls the whole
// graph back.
func (e *Engine) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(stateCreated), int32(stateStarting)) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Start",
			fmt.Sprintf("graph %s already started", e.graphID))
	}

	if err := e.build(); err != nil {
		e.teardown(false)
		return err
	}
	for _, name := range e.order {
		e.groups[name].Run()
	}

	barriers := []struct {
		name  string
		drive func(g *extension.Group, report func(ext string, err error)) error
	}{
		{"configure", func(g *extension.Group, report func(string, error)) error { return g.Configure(report) }},
		{"init", func(g *extension.Group, report func(string, error)) error { return g.Init(report) }},
		{"start", func(g *extension.Group, report func(string, error)) error { return g.Start(report) }},
	}
	for _, b := range barriers {
		if err := e.barrier(ctx, b.drive); err != nil {
			e.logger.Error("startup barrier failed", "barrier", b.name, "error", err)
			e.teardown(true)
			return errors.Wrap(err, "Engine", "Start", b.name+" barrier")
		}
	}

	for _, name := range e.order {
		if err := e.groups[name].Open(); err != nil {
			e.teardown(true)
			return errors.Wrap(err, "Engine", "Start", "open")
		}
	}

	e.state.Store(int32(stateRunning))
	if e.metrics != nil {
		e.metrics.RecordEngineStatus(e.graphID, 1)
	}
	e.logger.Info("graph running",
		"groups", len(e.order),
		"extensions", len(e.graph.Extensions()))
	return nil
}

// build creates the groups and resolves every extension node through the
// addon registry, seeding each env with the node's properties.
func (e *Engine) build() error {
	for _, name := range e.graph.Groups() {
		g := extension.NewGroup(name, e.logger, e.onFault)
		e.groups[name] = g
		e.order = append(e.order, name)
	}

	for _, node := range e.graph.Extensions() {
		g, ok := e.groups[node.ExtensionGroup]
		if !ok {
			return errors.WrapInvalid(errors.ErrGraphError, "Engine", "build",
				fmt.Sprintf("extension %q references unknown group %q", node.Name, node.ExtensionGroup))
		}
		ext, err := e.resolver.NewExtension(node.Addon, node.Name, e.logger)
		if err != nil {
			return errors.Wrap(err, "Engine", "build",
				fmt.Sprintf("addon %q for extension %q", node.Addon, node.Name))
		}
		loc := message.Location{
			AppURI:    e.appURI,
			GraphID:   e.graphID,
			Group:     node.ExtensionGroup,
			Extension: node.Name,
		}
		env, err := g.Register(node.Name, ext, loc, e)
		if err != nil {
			return err
		}
		if err := e.seedProperties(env, node); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) seedProperties(env *extension.Env, node graph.Node) error {
	if len(node.Property) == 0 {
		return nil
	}
	props, err := value.FromJSON(string(node.Property))
	if err != nil {
		return errors.Wrap(err, "Engine", "seedProperties",
			fmt.Sprintf("extension %q", node.Name))
	}
	return env.LoadProperties(props)
}

// barrier drives one lifecycle phase across every group and waits until
// each extension in the graph has acknowledged it.
func (e *Engine) barrier(
	ctx context.Context,
	drive func(g *extension.Group, report func(ext string, err error)) error,
) error {
	total := len(e.graph.Extensions())
	type ack struct {
		ext string
		err error
	}
	acks := make(chan ack, total)

	for _, name := range e.order {
		g := e.groups[name]
		if err := drive(g, func(ext string, err error) {
			acks <- ack{ext: ext, err: err}
		}); err != nil {
			return err
		}
	}

	var firstErr error
	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(errors.ErrTimeout, "Engine", "barrier",
				fmt.Sprintf("%d of %d extensions acknowledged", i, total))
		case a := <-acks:
			if a.err != nil && firstErr == nil {
				firstErr = errors.Wrap(a.err, "Engine", "barrier",
					fmt.Sprintf("extension %q", a.ext))
			}
		}
	}
	return firstErr
}

// Stop tears the graph down: timers cancel, every group runs the
// OnStop/OnDeinit chain, the goroutines terminate, and every in-flight
// command is answered with a Cancelled result.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)) {
		cur := engineState(e.state.Load())
		if cur == stateStopping || cur == stateStopped {
			return errors.WrapInvalid(errors.ErrAlreadyStopped, "Engine", "Stop",
				fmt.Sprintf("graph %s already stopping", e.graphID))
		}
		return errors.WrapInvalid(errors.ErrNotStarted, "Engine", "Stop",
			fmt.Sprintf("graph %s is not running", e.graphID))
	}

	e.stopTimers()

	err := e.barrier(ctx, func(g *extension.Group, report func(string, error)) error {
		return g.Stop(report)
	})
	if err != nil {
		e.logger.Error("stop barrier incomplete, closing groups anyway", "error", err)
	}

	for _, name := range e.order {
		e.groups[name].Close()
	}
	e.cancelInFlight()

	e.state.Store(int32(stateStopped))
	if e.metrics != nil {
		e.metrics.RecordEngineStatus(e.graphID, 0)
	}
	e.logger.Info("graph stopped")
	return err
}

// teardown is the rollback path for a failed Start. Best effort: groups
// that never ran (ran is false) are closed directly.
func (e *Engine) teardown(ran bool) {
	e.state.Store(int32(stateStopping))
	e.stopTimers()

	if ran {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		_ = e.barrier(ctx, func(g *extension.Group, report func(string, error)) error {
			return g.Stop(report)
		})
	}

	for _, name := range e.order {
		e.groups[name].Close()
	}
	e.cancelInFlight()
	e.state.Store(int32(stateStopped))
	if e.metrics != nil {
		e.metrics.RecordEngineStatus(e.graphID, 0)
	}
}

// cancelInFlight drains the correlation table and answers every pending
// command with a Cancelled result. Handlers run on the calling
// goroutine; the groups are already gone.
func (e *Engine) cancelInFlight() {
	for _, out := range e.table.Drain() {
		r := message.NewCmdResultForID(message.StatusCancelled, out.CmdID, out.Name)
		r.SetDetail("graph stopped")
		out.Handler(r, nil)
	}
}

// onFault reacts to a panicking extension callback: the extension is
// already marked Faulted, so the engine stops the graph.
func (e *Engine) onFault(extName string, err error) {
	e.logger.Error("extension faulted, stopping graph",
		"extension", extName,
		"error", err)
	if e.metrics != nil {
		e.metrics.RecordError("engine", "callback_panic")
	}
	e.faultStop.Do(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
			defer cancel()
			_ = e.Stop(ctx)
		}()
	})
}

// handleStopGraph answers the built-in stop_graph command: teardown runs
// asynchronously and the Ok result is produced once every group has
// reported Deinited.
func (e *Engine) handleStopGraph(cmd *message.Cmd, handler func(*message.CmdResult, error)) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		err := e.Stop(ctx)

		if handler == nil {
			return
		}
		status := message.StatusOk
		detail := "graph stopped"
		if err != nil && !errors.IsInvalid(err) {
			status = message.StatusGeneric
			detail = err.Error()
		}
		r := message.NewCmdResultForID(status, cmd.CmdID(), cmd.Name())
		r.SetDetail(detail)
		handler(r, nil)
	}()
	return nil
}

// handleCloseApp forwards the built-in close_app command to the hosting
// app and acknowledges it.
func (e *Engine) handleCloseApp(from message.Location, cmd *message.Cmd, handler func(*message.CmdResult, error)) error {
	if e.closeApp == nil {
		e.answer(from, handler, message.NewCmdResultForID(
			message.StatusGeneric, cmd.CmdID(), cmd.Name()))
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "handleCloseApp",
			"no app attached")
	}
	go e.closeApp()
	e.answer(from, handler, message.NewCmdResultForID(
		message.StatusOk, cmd.CmdID(), cmd.Name()))
	return nil
}

// answer delivers a built-in command's result straight to its handler,
// serialised on the originator's group goroutine when there is one.
func (e *Engine) answer(from message.Location, handler func(*message.CmdResult, error), r *message.CmdResult) {
	if handler == nil {
		return
	}
	if from.Group != "" {
		if g, ok := e.groups[from.Group]; ok {
			if err := g.NotifyEnv(from.Extension, func(*extension.Env) { handler(r, nil) }); err == nil {
				return
			}
		}
	}
	handler(r, nil)
}
