package extension

import (
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
	"github.com/c360/graphmesh/path"
	"github.com/c360/graphmesh/value"
)

// recordingSender captures everything extensions emit.
type recordingSender struct {
	mu      sync.Mutex
	sent    []message.Message
	results []*message.CmdResult
}

func (s *recordingSender) SendMessage(_ message.Location, msg message.Message, _ path.ResultHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) ReturnResult(_ message.Location, result *message.CmdResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

func (s *recordingSender) lastResult() *message.CmdResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return nil
	}
	return s.results[len(s.results)-1]
}

// phaseCollector gathers per-extension acks for one lifecycle phase.
type phaseCollector struct {
	mu   sync.Mutex
	acks map[string]error
	done chan struct{}
	want int
}

func newPhaseCollector(want int) *phaseCollector {
	return &phaseCollector{
		acks: make(map[string]error),
		done: make(chan struct{}),
		want: want,
	}
}

func (c *phaseCollector) report(ext string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks[ext] = err
	if len(c.acks) == c.want {
		close(c.done)
	}
}

func (c *phaseCollector) wait(t *testing.T) map[string]error {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle phase never completed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]error, len(c.acks))
	for k, v := range c.acks {
		out[k] = v
	}
	return out
}

func runPhase(t *testing.T, n int, drive func(report func(string, error)) error) map[string]error {
	t.Helper()
	col := newPhaseCollector(n)
	require.NoError(t, drive(col.report))
	return col.wait(t)
}

// startGroup drives a registered group through configure/init/start/open.
func startGroup(t *testing.T, g *Group, n int) {
	t.Helper()
	g.Run()
	for _, err := range runPhase(t, n, g.Configure) {
		require.NoError(t, err)
	}
	for _, err := range runPhase(t, n, g.Init) {
		require.NoError(t, err)
	}
	for _, err := range runPhase(t, n, g.Start) {
		require.NoError(t, err)
	}
	require.NoError(t, g.Open())
}

func TestDefaultExtensionAnswersCmd(t *testing.T) {
	sender := &recordingSender{}
	g := NewGroup("g1", slog.Default(), nil)
	t.Cleanup(g.Close)

	_, err := g.Register("echo", DefaultExtension{}, message.Location{Extension: "echo"}, sender)
	require.NoError(t, err)
	startGroup(t, g, 1)

	cmd := message.NewCmd("ping")
	require.NoError(t, g.Deliver("echo", cmd))

	require.Eventually(t, func() bool {
		return sender.lastResult() != nil
	}, 2*time.Second, 5*time.Millisecond)

	res := sender.lastResult()
	assert.Equal(t, message.StatusOk, res.Status())
	assert.Equal(t, "default", res.Detail())
	assert.Equal(t, cmd.CmdID(), res.CmdID())
	assert.True(t, res.IsFinal())
}

type orderedExt struct {
	DefaultExtension
	mu   sync.Mutex
	seen []string
}

func (e *orderedExt) OnData(_ *Env, d *message.Data) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, d.Name())
}

func TestGroupDrainsInFIFOOrder(t *testing.T) {
	g := NewGroup("g1", slog.Default(), nil)
	t.Cleanup(g.Close)

	ext := &orderedExt{}
	_, err := g.Register("sink", ext, message.Location{Extension: "sink"}, &recordingSender{})
	require.NoError(t, err)
	startGroup(t, g, 1)

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, g.Deliver("sink", message.NewData(strconv.Itoa(i))))
	}

	require.Eventually(t, func() bool {
		ext.mu.Lock()
		defer ext.mu.Unlock()
		return len(ext.seen) == n
	}, 2*time.Second, 5*time.Millisecond)

	ext.mu.Lock()
	defer ext.mu.Unlock()
	for i, name := range ext.seen {
		assert.Equal(t, strconv.Itoa(i), name)
	}
}

func TestDeliveriesBufferUntilOpen(t *testing.T) {
	g := NewGroup("g1", slog.Default(), nil)
	t.Cleanup(g.Close)

	ext := &orderedExt{}
	_, err := g.Register("sink", ext, message.Location{Extension: "sink"}, &recordingSender{})
	require.NoError(t, err)

	g.Run()
	for _, err := range runPhase(t, 1, g.Configure) {
		require.NoError(t, err)
	}
	for _, err := range runPhase(t, 1, g.Init) {
		require.NoError(t, err)
	}
	for _, err := range runPhase(t, 1, g.Start) {
		require.NoError(t, err)
	}

	// Delivered after on_start acked but before the barrier opens.
	d := message.NewData("early")
	require.NoError(t, g.Deliver("sink", d))

	time.Sleep(20 * time.Millisecond)
	ext.mu.Lock()
	assert.Empty(t, ext.seen, "message dispatched before the barrier opened")
	ext.mu.Unlock()

	require.NoError(t, g.Open())
	require.Eventually(t, func() bool {
		ext.mu.Lock()
		defer ext.mu.Unlock()
		return len(ext.seen) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

type doubleAckExt struct {
	DefaultExtension
	second chan error
}

func (e *doubleAckExt) OnConfigure(env *Env) {
	_ = env.ConfigureDone()
	e.second <- env.ConfigureDone()
}

func TestSecondAckFailsWithLifecycleMisuse(t *testing.T) {
	g := NewGroup("g1", slog.Default(), nil)
	t.Cleanup(g.Close)

	ext := &doubleAckExt{second: make(chan error, 1)}
	_, err := g.Register("x", ext, message.Location{Extension: "x"}, &recordingSender{})
	require.NoError(t, err)

	g.Run()
	for _, err := range runPhase(t, 1, g.Configure) {
		require.NoError(t, err)
	}

	select {
	case err := <-ext.second:
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrLifecycleMisuse)
	case <-time.After(2 * time.Second):
		t.Fatal("second ack never observed")
	}
}

type panickyExt struct {
	DefaultExtension
}

func (panickyExt) OnCmd(*Env, *message.Cmd) {
	panic("user bug")
}

func TestCallbackPanicIsContained(t *testing.T) {
	faults := make(chan string, 1)
	g := NewGroup("g1", slog.Default(), func(ext string, err error) {
		assert.ErrorIs(t, err, errors.ErrCallbackPanic)
		faults <- ext
	})
	t.Cleanup(g.Close)

	_, err := g.Register("bad", panickyExt{}, message.Location{Extension: "bad"}, &recordingSender{})
	require.NoError(t, err)
	_, err = g.Register("good", DefaultExtension{}, message.Location{Extension: "good"}, &recordingSender{})
	require.NoError(t, err)
	startGroup(t, g, 2)

	require.NoError(t, g.Deliver("bad", message.NewCmd("boom")))

	select {
	case ext := <-faults:
		assert.Equal(t, "bad", ext)
	case <-time.After(2 * time.Second):
		t.Fatal("fault handler never ran")
	}

	// The group loop survives and still serves the healthy extension.
	alive := make(chan struct{})
	require.NoError(t, g.NotifyEnv("good", func(*Env) { close(alive) }))
	select {
	case <-alive:
	case <-time.After(2 * time.Second):
		t.Fatal("group loop died with the faulted extension")
	}
}

type stopTrackingExt struct {
	DefaultExtension
	mu       sync.Mutex
	stopped  bool
	deinited bool
	afterUse bool
}

func (e *stopTrackingExt) OnStop(env *Env) {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	_ = env.StopDone()
}

func (e *stopTrackingExt) OnDeinit(env *Env) {
	e.mu.Lock()
	e.deinited = true
	e.mu.Unlock()
	_ = env.DeinitDone()
}

func (e *stopTrackingExt) OnData(*Env, *message.Data) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deinited {
		e.afterUse = true
	}
}

func TestStopRunsStopThenDeinitAndRefusesNewWork(t *testing.T) {
	g := NewGroup("g1", slog.Default(), nil)
	t.Cleanup(g.Close)

	ext := &stopTrackingExt{}
	_, err := g.Register("sink", ext, message.Location{Extension: "sink"}, &recordingSender{})
	require.NoError(t, err)
	startGroup(t, g, 1)

	for _, err := range runPhase(t, 1, g.Stop) {
		require.NoError(t, err)
	}

	ext.mu.Lock()
	assert.True(t, ext.stopped)
	assert.True(t, ext.deinited)
	ext.mu.Unlock()

	err = g.Deliver("sink", message.NewData("late"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrShuttingDown)

	ext.mu.Lock()
	assert.False(t, ext.afterUse, "callback ran after deinit")
	ext.mu.Unlock()
}

func TestEnvProxyReadSeesConsistentSnapshot(t *testing.T) {
	g := NewGroup("g1", slog.Default(), nil)
	t.Cleanup(g.Close)

	env, err := g.Register("owner", DefaultExtension{}, message.Location{Extension: "owner"}, &recordingSender{})
	require.NoError(t, err)
	startGroup(t, g, 1)

	proxy := NewEnvProxy(g, "owner")

	// The owner keeps rewriting a two-field record; both fields always
	// move together.
	stopWriters := make(chan struct{})
	var writers sync.WaitGroup
	writers.Add(1)
	go func() {
		defer writers.Done()
		for i := int64(0); ; i++ {
			select {
			case <-stopWriters:
				return
			default:
			}
			n := i
			_ = proxy.Notify(func(env *Env) {
				rec := value.NewObject()
				_ = rec.ObjectSet("a", value.NewInt64(n))
				_ = rec.ObjectSet("b", value.NewInt64(n))
				_ = env.SetProperty("rec", rec)
			})
		}
	}()

	_ = env // owner-side handle is confined; reads go through the proxy

	for i := 0; i < 50; i++ {
		snap, err := proxy.ReadProperty("rec")
		require.NoError(t, err)
		if snap == nil {
			continue
		}
		a, err := snap.Peek("a").GetInt64()
		require.NoError(t, err)
		b, err := snap.Peek("b").GetInt64()
		require.NoError(t, err)
		assert.Equal(t, a, b, "torn read")
	}

	close(stopWriters)
	writers.Wait()
}

func TestEnvProxyCloneIsIndependent(t *testing.T) {
	g := NewGroup("g1", slog.Default(), nil)
	t.Cleanup(g.Close)

	_, err := g.Register("owner", DefaultExtension{}, message.Location{Extension: "owner"}, &recordingSender{})
	require.NoError(t, err)
	startGroup(t, g, 1)

	proxy := NewEnvProxy(g, "owner")
	clone := proxy.Clone()

	done := make(chan struct{})
	require.NoError(t, clone.Notify(func(env *Env) { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cloned proxy never delivered")
	}
}
