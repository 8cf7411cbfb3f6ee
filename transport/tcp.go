package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
	"github.com/c360/graphmesh/metric"
	"github.com/c360/graphmesh/pkg/retry"
	"github.com/c360/graphmesh/protocol"
)

const tcpReadBuffer = 32 * 1024

// TCPConfig assembles a TCP listener transport.
type TCPConfig struct {
	// Addr is the listen address, for example ":9001".
	Addr string

	// Protocol frames and parses the byte stream.
	Protocol protocol.Protocol

	// Receiver gets every decoded message.
	Receiver Receiver

	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Validate checks the required fields.
func (c TCPConfig) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "TCPServer", "Validate", "Addr is required")
	}
	if c.Protocol == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "TCPServer", "Validate", "Protocol is required")
	}
	if c.Receiver == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "TCPServer", "Validate", "Receiver is required")
	}
	return nil
}

// TCPServer accepts framed connections on a TCP listener. Each
// connection gets its own decoder; a stream that announces an
// impossible frame is dropped.
type TCPServer struct {
	cfg     TCPConfig
	logger  *slog.Logger
	metrics *metric.Metrics

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// NewTCPServer creates the transport. It does not listen until Start.
func NewTCPServer(cfg TCPConfig) (*TCPServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPServer{
		cfg:     cfg,
		logger:  logger.With("transport", "tcp", "addr", cfg.Addr),
		metrics: cfg.Metrics,
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Name implements Transport.
func (s *TCPServer) Name() string { return "tcp" }

// Addr returns the bound listen address, useful when Addr was ":0".
func (s *TCPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Start implements Transport.
func (s *TCPServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return errors.WrapTransient(errors.ErrTransport, "TCPServer", "Start", err.Error())
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return errors.WrapInvalid(errors.ErrShuttingDown, "TCPServer", "Start", "transport already stopped")
	}
	s.listener = ln
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordTransportStatus("tcp", true)
	}
	s.logger.Info("listening")

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

func (s *TCPServer) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.logger.Warn("accept failed", "error", err)
			}
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
}

func (s *TCPServer) serveConn(conn net.Conn) {
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
		if _, err := conn.Write(frame); err != nil {
			return errors.WrapTransient(errors.ErrTransport, "TCPServer", "respond", err.Error())
		}
		return nil
	}

	buf := make([]byte, tcpReadBuffer)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, decErr := dec.Feed(buf[:n])
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
		if err != nil {
			return
		}
	}
}

func (s *TCPServer) dropConn(conn net.Conn) {
	conn.Close()
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Stop implements Transport.
func (s *TCPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.WrapTransient(errors.ErrTimeout, "TCPServer", "Stop", "connections did not drain")
	}

	if s.metrics != nil {
		s.metrics.RecordTransportStatus("tcp", false)
	}
	s.logger.Info("stopped")
	return nil
}

// TCPClient is the dialing side of the TCP transport. Inbound messages
// reach the handler given at dial time; Send writes frames with the
// same codec the server speaks.
type TCPClient struct {
	conn    net.Conn
	proto   protocol.Protocol
	logger  *slog.Logger
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// DialTCP connects to a framed TCP server, retrying transient failures
// under retry.DefaultConfig (three attempts) or until ctx ends, whichever
// comes first. onMessage runs on the read goroutine; nil means
// inbound messages are discarded.
func DialTCP(ctx context.Context, addr string, proto protocol.Protocol,
	onMessage func(message.Message), logger *slog.Logger) (*TCPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var conn net.Conn
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var d net.Dialer
		c, dialErr := d.DialContext(ctx, "tcp", addr)
		if dialErr != nil {
			return errors.WrapTransient(errors.ErrTransport, "TCPClient", "Dial", dialErr.Error())
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	cl := &TCPClient{
		conn:   conn,
		proto:  proto,
		logger: logger.With("transport", "tcp", "peer", addr),
		done:   make(chan struct{}),
	}
	go cl.readLoop(onMessage)
	return cl, nil
}

func (c *TCPClient) readLoop(onMessage func(message.Message)) {
	dec := c.proto.NewDecoder()
	buf := make([]byte, tcpReadBuffer)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			msgs, decErr := dec.Feed(buf[:n])
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
		if err != nil {
			c.Close()
			return
		}
	}
}

// Send encodes and writes one message.
func (c *TCPClient) Send(m message.Message) error {
	select {
	case <-c.done:
		return errors.WrapInvalid(errors.ErrShuttingDown, "TCPClient", "Send", "connection closed")
	default:
	}
	frame, err := c.proto.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		return errors.WrapTransient(errors.ErrTransport, "TCPClient", "Send",
			fmt.Sprintf("write failed: %v", err))
	}
	return nil
}

// Close tears the connection down. Safe to call twice.
func (c *TCPClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}
