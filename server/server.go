// Package server exposes the printer as a raw TCP print port (JetDirect
// style, usually 9100). Every byte a client sends is forwarded unchanged.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// Sink receives the raw client stream. printer.Session satisfies it.
type Sink interface {
	Connect(ctx context.Context) bool
	Connected() bool
	LastError() error
	SendRaw(ctx context.Context, data []byte) error
	Close() error
}

// Server represents a TCP server that forwards data to a printer
type Server struct {
	sink     Sink
	listener net.Listener
	address  string
	mu       sync.Mutex
	sendMu   sync.Mutex
	running  bool
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
}

// New creates a new server instance logging through the global zap logger
func New(sink Sink, address string) *Server {
	return NewWithLogger(sink, address, zap.L())
}

// NewWithLogger creates a new server instance with a custom logger
func NewWithLogger(sink Sink, address string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		sink:    sink,
		address: address,
		conns:   make(map[net.Conn]struct{}),
		logger:  logger.With(zap.String("component", "server")),
	}
}

// Start starts the TCP server and blocks until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("address", s.address), zap.String("mode", "blocking"))
	if err := s.listen(); err != nil {
		return err
	}

	s.logger.Info("Ready to accept connections")
	s.acceptConnections()
	return nil
}

// StartAsync starts the TCP server in a goroutine (non-blocking)
func (s *Server) StartAsync() error {
	s.logger.Info("Starting server", zap.String("address", s.address), zap.String("mode", "async"))
	if err := s.listen(); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptConnections()
	}()
	s.logger.Info("Server started in background, ready to accept connections")
	return nil
}

// listen binds the address and connects the printer.
func (s *Server) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Error("Server already running")
		return errors.New("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Error("Failed to start server", zap.Error(err))
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if !s.sink.Connected() {
		s.logger.Info("Connecting printer...")
		if !s.sink.Connect(s.ctx) {
			listener.Close()
			s.cancel()
			err := s.sink.LastError()
			if err == nil {
				err = errors.New("printer unavailable")
			}
			s.logger.Error("Failed to connect printer", zap.Error(err))
			return fmt.Errorf("failed to connect printer: %w", err)
		}
		s.logger.Info("Printer connected")
	} else {
		s.logger.Info("Printer already connected")
	}

	s.listener = listener
	s.running = true
	s.logger.Info("Server listening", zap.Stringer("address", listener.Addr()))
	return nil
}

// acceptConnections handles incoming client connections
func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.IsRunning() {
				s.logger.Debug("Server shutting down, stopping accept loop")
				return
			}
			s.logger.Warn("Error accepting connection", zap.Error(err))
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		s.logger.Info("Client connected", zap.Stringer("client", conn.RemoteAddr()))
		go s.handleConnection(conn)
	}
}

// handleConnection forwards one client's stream to the printer
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.logger.Info("Client disconnected", zap.Stringer("client", conn.RemoteAddr()))
	}()

	log := s.logger.With(zap.String("client", conn.RemoteAddr().String()))
	buf := make([]byte, 4096)
	total := 0

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if sendErr := s.forward(buf[:n]); sendErr != nil {
				log.Error("Error writing to printer", zap.Error(sendErr))
				return
			}
			total += n
			log.Debug("Forwarded data", zap.Int("bytes", n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("Client closed connection", zap.Int("total_bytes", total))
			} else if s.IsRunning() {
				log.Warn("Error reading from client", zap.Error(err))
			}
			return
		}
	}
}

// forward serialises writes from concurrent clients.
func (s *Server) forward(data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sink.SendRaw(s.ctx, data)
}

// Stop stops the TCP server, drops open clients and disconnects the printer
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Debug("Stop called but server is not running")
		return nil
	}

	s.logger.Info("Stopping server...")
	s.running = false
	listener := s.listener
	for conn := range s.conns {
		conn.Close()
	}
	s.cancel()
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	s.wg.Wait()
	s.logger.Debug("All connections closed")

	if err := s.sink.Close(); err != nil {
		s.logger.Error("Error disconnecting printer", zap.Error(err))
		return err
	}

	s.logger.Info("Server stopped successfully")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the configured server address
func (s *Server) Address() string {
	return s.address
}

// ListenAddr returns the bound address, or nil before Start
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sink returns the printer the server writes to
func (s *Server) Sink() Sink {
	return s.sink
}
