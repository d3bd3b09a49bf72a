package uds

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/msageha/dbtpilot/internal/log"
)

// HandlerFunc serves one request. ctx is cancelled when the server stops.
type HandlerFunc func(ctx context.Context, req *Request) *Response

type route struct {
	handler HandlerFunc
	timeout time.Duration
}

type Server struct {
	socketPath  string
	listener    net.Listener
	routes      map[string]route
	mu          sync.RWMutex
	connTimeout time.Duration
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      log.Logger
}

func NewServer(socketPath string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:  socketPath,
		routes:      make(map[string]route),
		connTimeout: 30 * time.Second,
		ctx:         ctx,
		cancel:      cancel,
		logger:      log.WithName("uds"),
	}
}

func (s *Server) SetConnTimeout(d time.Duration) {
	s.connTimeout = d
}

// Handle registers handler under the default connection timeout.
func (s *Server) Handle(command string, handler HandlerFunc) {
	s.HandleWithTimeout(command, 0, handler)
}

// HandleWithTimeout registers a handler whose connection may stay open for
// timeout instead of the server default.
func (s *Server) HandleWithTimeout(command string, timeout time.Duration, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[command] = route{handler: handler, timeout: timeout}
}

func (s *Server) Start() error {
	// Remove stale socket file
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.listener = listener
	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("listening", "socket", s.socketPath)
	return nil
}

// Stop closes the listener, cancels in-flight handlers and waits for them.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept error", "error", err.Error())
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("panic: %v", r), "handler panicked", "stack", string(debug.Stack()))
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(s.connTimeout))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.logger.Debug("read request failed", "error", err.Error())
		return
	}

	resp := s.processRequest(conn, &req)

	if err := WriteFrame(conn, resp); err != nil {
		s.logger.Warn("write response failed", "command", req.Command, "error", err.Error())
	}
}

func (s *Server) processRequest(conn net.Conn, req *Request) *Response {
	if req.ProtocolVersion != ProtocolVersion {
		return ErrorResponse(
			ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion),
		)
	}

	s.mu.RLock()
	rt, ok := s.routes[req.Command]
	s.mu.RUnlock()

	if !ok {
		return ErrorResponse(
			ErrCodeUnknownCommand,
			fmt.Sprintf("unknown command: %q", req.Command),
		)
	}

	if rt.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(rt.timeout))
	}

	start := time.Now()
	resp := rt.handler(s.ctx, req)
	s.logger.Debug("request served", "command", req.Command, "success", resp.Success, "duration", time.Since(start))
	return resp
}
