package extension

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
)

const defaultInboxDepth = 1024

// FaultHandler is told when a user callback panics. The group has
// already marked the extension Faulted; the engine reacts by tearing the
// graph down.
type FaultHandler func(extName string, err error)

type registered struct {
	name string
	ext  Extension
	env  *Env
}

// Group owns one goroutine and the extensions placed into it by the
// graph. Work arrives on a FIFO inbox of closures and is drained
// one at a time, so extensions in the same group are strictly
// serialised and share no locks. Lifecycle directives travel on a
// separate control lane so a stop can overtake a deep data backlog.
type Group struct {
	name   string
	logger *slog.Logger

	inbox chan func()
	ctl   chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	stopping atomic.Bool
	closed   atomic.Bool

	// The fields below are confined to the group goroutine once Run
	// has been called.
	exts    map[string]*registered
	order   []string
	open    bool
	pending []func()

	onFault FaultHandler
}

// NewGroup creates a group. onFault may be nil.
func NewGroup(name string, logger *slog.Logger, onFault FaultHandler) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{
		name:    name,
		logger:  logger.With("extension_group", name),
		inbox:   make(chan func(), defaultInboxDepth),
		ctl:     make(chan func(), 64),
		done:    make(chan struct{}),
		exts:    make(map[string]*registered),
		onFault: onFault,
	}
}

// Name returns the group's graph-unique name.
func (g *Group) Name() string { return g.name }

// Register places an extension into the group. Must be called before
// Run. The returned Env is confined to the group goroutine.
func (g *Group) Register(name string, ext Extension, loc message.Location, sender Sender) (*Env, error) {
	if _, exists := g.exts[name]; exists {
		return nil, errors.WrapInvalid(errors.ErrGraphError, "Group", "Register",
			fmt.Sprintf("duplicate extension %q in group %q", name, g.name))
	}
	env := newEnv(loc, g.logger.With("extension", name), sender)
	env.group = g
	g.exts[name] = &registered{name: name, ext: ext, env: env}
	g.order = append(g.order, name)
	return env, nil
}

// Run starts the group goroutine.
func (g *Group) Run() {
	g.wg.Add(1)
	go g.loop()
}

func (g *Group) loop() {
	defer g.wg.Done()
	for {
		// Control work first, so lifecycle directives are not stuck
		// behind a message backlog.
		select {
		case f := <-g.ctl:
			f()
			continue
		default:
		}
		select {
		case f := <-g.ctl:
			f()
		case f := <-g.inbox:
			f()
		case <-g.done:
			return
		}
	}
}

// submit enqueues ordinary work in FIFO order.
func (g *Group) submit(f func()) error {
	if g.closed.Load() || g.stopping.Load() {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Group", "submit",
			fmt.Sprintf("group %q is shutting down", g.name))
	}
	select {
	case g.inbox <- f:
		return nil
	case <-g.done:
		return errors.WrapInvalid(errors.ErrShuttingDown, "Group", "submit",
			fmt.Sprintf("group %q is closed", g.name))
	}
}

// control enqueues a lifecycle directive on the priority lane.
func (g *Group) control(f func()) error {
	select {
	case g.ctl <- f:
		return nil
	case <-g.done:
		return errors.WrapInvalid(errors.ErrShuttingDown, "Group", "control",
			fmt.Sprintf("group %q is closed", g.name))
	}
}

// invoke runs a user callback behind the panic boundary. A panic marks
// the extension Faulted and reports through the fault handler.
func (g *Group) invoke(r *registered, what string, fn func()) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		r.env.state = StateFaulted
		err := errors.WrapFatal(errors.ErrCallbackPanic, "Group", what,
			fmt.Sprintf("extension %q: %v", r.name, rec))
		g.logger.Error("extension callback panicked",
			"extension", r.name,
			"callback", what,
			"panic", fmt.Sprint(rec))
		if g.onFault != nil {
			g.onFault(r.name, err)
		}
	}()
	fn()
}

// Deliver enqueues msg for the named extension. Before the start
// barrier opens the group, deliveries are buffered and flushed in
// arrival order once every extension is running.
func (g *Group) Deliver(target string, msg message.Message) error {
	return g.submit(func() { g.dispatch(target, msg) })
}

func (g *Group) dispatch(target string, msg message.Message) {
	r, ok := g.exts[target]
	if !ok {
		g.logger.Warn("message for unknown extension",
			"extension", target,
			"type", msg.Type().String(),
			"name", msg.Name())
		return
	}

	if !g.open {
		g.pending = append(g.pending, func() { g.dispatch(target, msg) })
		return
	}
	if r.env.state != StateRunning {
		g.logger.Warn("dropping message for non-running extension",
			"extension", target,
			"state", r.env.state.String(),
			"type", msg.Type().String())
		return
	}

	switch m := msg.(type) {
	case *message.Cmd:
		g.invoke(r, "OnCmd", func() { r.ext.OnCmd(r.env, m) })
	case *message.Data:
		g.invoke(r, "OnData", func() { r.ext.OnData(r.env, m) })
	case *message.AudioFrame:
		g.invoke(r, "OnAudioFrame", func() { r.ext.OnAudioFrame(r.env, m) })
	case *message.VideoFrame:
		g.invoke(r, "OnVideoFrame", func() { r.ext.OnVideoFrame(r.env, m) })
	default:
		g.logger.Warn("unroutable message kind", "type", msg.Type().String())
	}
}

// NotifyEnv enqueues f against the named extension's Env. This is the
// EnvProxy entry point; f runs on the group goroutine.
func (g *Group) NotifyEnv(target string, f func(env *Env)) error {
	return g.submit(func() {
		r, ok := g.exts[target]
		if !ok {
			g.logger.Warn("notify for unknown extension", "extension", target)
			return
		}
		g.invoke(r, "Notify", func() { f(r.env) })
	})
}

// phase drives one lifecycle callback across every extension. report is
// called once per extension as it acknowledges (or faults).
func (g *Group) phase(
	stage ackStage,
	enter State,
	after State,
	call func(r *registered),
	report func(ext string, err error),
) error {
	return g.control(func() {
		for _, name := range g.order {
			r := g.exts[name]
			if r.env.state == StateFaulted {
				report(name, errors.WrapFatal(errors.ErrCallbackPanic, "Group", "phase",
					fmt.Sprintf("extension %q already faulted", name)))
				continue
			}
			r.env.state = enter
			ext := name
			rec := r
			r.env.arm(stage, func(err error) {
				if err == nil && after != rec.env.state && rec.env.state != StateFaulted {
					rec.env.state = after
				}
				report(ext, err)
			})
			call(r)
		}
	})
}

// Configure drives OnConfigure on every extension.
func (g *Group) Configure(report func(ext string, err error)) error {
	return g.phase(ackConfigure, StateConfiguring, StateConfiguring,
		func(r *registered) {
			g.invoke(r, "OnConfigure", func() { r.ext.OnConfigure(r.env) })
		}, report)
}

// Init drives OnInit on every extension. Acknowledged extensions reach
// Inited.
func (g *Group) Init(report func(ext string, err error)) error {
	return g.phase(ackInit, StateConfiguring, StateInited,
		func(r *registered) {
			g.invoke(r, "OnInit", func() { r.ext.OnInit(r.env) })
		}, report)
}

// Start drives OnStart on every extension. Extensions stay in Starting
// until Open releases the barrier.
func (g *Group) Start(report func(ext string, err error)) error {
	return g.phase(ackStart, StateStarting, StateStarting,
		func(r *registered) {
			g.invoke(r, "OnStart", func() { r.ext.OnStart(r.env) })
		}, report)
}

// Open releases the start barrier: every extension enters Running and
// buffered deliveries flush in arrival order.
func (g *Group) Open() error {
	return g.control(func() {
		for _, name := range g.order {
			r := g.exts[name]
			if r.env.state == StateStarting {
				r.env.state = StateRunning
			}
		}
		g.open = true
		queued := g.pending
		g.pending = nil
		for _, f := range queued {
			f()
		}
	})
}

// Stop begins teardown: the group refuses new deliveries, then runs
// OnStop followed by OnDeinit for each extension. report fires once per
// extension when it reaches Deinited.
func (g *Group) Stop(report func(ext string, err error)) error {
	g.stopping.Store(true)
	return g.control(func() {
		for _, name := range g.order {
			r := g.exts[name]
			if r.env.state == StateFaulted || r.env.state == StateDeinited {
				report(name, nil)
				continue
			}
			r.env.state = StateStopping
			ext := name
			rec := r
			r.env.arm(ackStop, func(err error) {
				if err != nil {
					report(ext, err)
					return
				}
				g.deinit(rec, report)
			})
			g.invoke(r, "OnStop", func() { r.ext.OnStop(r.env) })
		}
	})
}

func (g *Group) deinit(r *registered, report func(ext string, err error)) {
	ext := r.name
	r.env.arm(ackDeinit, func(err error) {
		if err == nil && r.env.state != StateFaulted {
			r.env.state = StateDeinited
		}
		report(ext, err)
	})
	g.invoke(r, "OnDeinit", func() { r.ext.OnDeinit(r.env) })
}

// Close terminates the group goroutine and marks every extension
// Destroyed. Idempotent.
func (g *Group) Close() {
	if g.closed.Swap(true) {
		return
	}
	g.stopping.Store(true)
	close(g.done)
	g.wg.Wait()
	for _, r := range g.exts {
		r.env.state = StateDestroyed
	}
}

// Extensions lists the registered extension names in placement order.
func (g *Group) Extensions() []string {
	return append([]string(nil), g.order...)
}
