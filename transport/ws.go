package transport

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
	"github.com/c360/graphmesh/metric"
	"github.com/c360/graphmesh/pkg/retry"
	"github.com/c360/graphmesh/protocol"
)

const wsWriteTimeout = 10 * time.Second

// WSConfig assembles a WebSocket server transport.
type WSConfig struct {
	// Addr is the HTTP listen address.
	Addr string

	// Path is the upgrade endpoint. Empty means "/ws".
	Path string

	// Protocol frames and parses each binary WebSocket message.
	Protocol protocol.Protocol

	// Receiver gets every decoded message.
	Receiver Receiver

	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Validate checks the required fields.
func (c WSConfig) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "WSServer", "Validate", "Addr is required")
	}
	if c.Protocol == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "WSServer", "Validate", "Protocol is required")
	}
	if c.Receiver == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "WSServer", "Validate", "Receiver is required")
	}
	return nil
}

// WSServer upgrades HTTP connections and speaks the configured codec
// over binary WebSocket messages. WebSocket preserves message
// boundaries, but each connection still runs a stateful decoder so a
// peer may split or coalesce frames freely.
type WSServer struct {
	cfg      WSConfig
	logger   *slog.Logger
	metrics  *metric.Metrics
	upgrader websocket.Upgrader
	server   *http.Server

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewWSServer creates the transport. It does not listen until Start.
func NewWSServer(cfg WSConfig) (*WSServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &WSServer{
		cfg:     cfg,
		logger:  logger.With("transport", "websocket", "addr", cfg.Addr),
		metrics: cfg.Metrics,
		conns:   make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleUpgrade)
	s.server = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s, nil
}

// Name implements Transport.
func (s *WSServer) Name() string { return "websocket" }

// Start implements Transport.
func (s *WSServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return errors.WrapTransient(errors.ErrTransport, "WSServer", "Start", err.Error())
	}

	if s.metrics != nil {
		s.metrics.RecordTransportStatus("websocket", true)
	}
	s.logger.Info("listening", "path", s.cfg.Path)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if serveErr := s.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Warn("server stopped", "error", serveErr)
		}
	}()
	return nil
}

func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.serveConn(conn)
}

func (s *WSServer) serveConn(conn *websocket.Conn) {
	defer s.wg.Done()
	defer s.dropConn(conn)

	logger := s.logger.With("peer", conn.RemoteAddr().String())
	dec := s.cfg.Protocol.NewDecoder()

	var writeMu sync.Mutex
	respond := func(m message.Message) error {
		frame, err := s.cfg.Protocol.Encode(m)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return errors.WrapTransient(errors.ErrTransport, "WSServer", "respond", err.Error())
		}
		return nil
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msgs, decErr := dec.Feed(data)
		for _, m := range msgs {
			s.cfg.Receiver.Receive(m, respond)
		}
		if decErr != nil {
			if errors.IsFatal(decErr) {
				logger.Warn("closing connection: stream corrupt", "error", decErr)
				return
			}
			logger.Warn("dropped corrupt frame", "error", decErr)
		}
	}
}

func (s *WSServer) dropConn(conn *websocket.Conn) {
	conn.Close()
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Stop implements Transport.
func (s *WSServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(errors.ErrTimeout, "WSServer", "Stop", err.Error())
	}
	s.wg.Wait()

	if s.metrics != nil {
		s.metrics.RecordTransportStatus("websocket", false)
	}
	s.logger.Info("stopped")
	return nil
}

// WSClient is the dialing side of the WebSocket transport.
type WSClient struct {
	conn    *websocket.Conn
	proto   protocol.Protocol
	logger  *slog.Logger
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// DialWS connects to a WebSocket server, retrying transient failures
// under retry.DefaultConfig (three attempts) or until ctx ends, whichever
// comes first. onMessage runs on the read goroutine; nil means
// inbound messages are discarded.
func DialWS(ctx context.Context, url string, proto protocol.Protocol,
	onMessage func(message.Message), logger *slog.Logger) (*WSClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var conn *websocket.Conn
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		c, _, dialErr := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if dialErr != nil {
			return errors.WrapTransient(errors.ErrTransport, "WSClient", "Dial", dialErr.Error())
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	cl := &WSClient{
		conn:   conn,
		proto:  proto,
		logger: logger.With("transport", "websocket", "peer", url),
		done:   make(chan struct{}),
	}
	go cl.readLoop(onMessage)
	return cl, nil
}

func (c *WSClient) readLoop(onMessage func(message.Message)) {
	dec := c.proto.NewDecoder()
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			c.Close()
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msgs, decErr := dec.Feed(data)
		if onMessage != nil {
			for _, m := range msgs {
				onMessage(m)
			}
		}
		if decErr != nil && errors.IsFatal(decErr) {
			c.logger.Warn("closing connection: stream corrupt", "error", decErr)
			c.Close()
			return
		}
	}
}

// Send encodes and writes one message as a binary WebSocket frame.
func (c *WSClient) Send(m message.Message) error {
	select {
	case <-c.done:
		return errors.WrapInvalid(errors.ErrShuttingDown, "WSClient", "Send", "connection closed")
	default:
	}
	frame, err := c.proto.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errors.WrapTransient(errors.ErrTransport, "WSClient", "Send", err.Error())
	}
	return nil
}

// Close tears the connection down. Safe to call twice.
func (c *WSClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}
