// Package server implements the TCP connection lifecycle: the accept
// loop, per-connection setup (write serialization, command rate
// limiting), and disconnect cleanup. Command interpretation itself lives
// in the sibling dispatch package.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kvresp/internal/config"
	"kvresp/internal/dispatch"
	"kvresp/internal/metrics"
)

// Conn wraps a net.Conn with a write mutex: the dispatcher's own
// synchronous responses and a foreign goroutine's PUBLISH/BLPOP handoff
// can both write to the same socket, and net.Conn gives no ordering
// guarantee between concurrent writers without one.
type Conn struct {
	net.Conn
	writeMu sync.Mutex
}

func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.Write(p)
}

// Server owns the listening socket and the set of live connections.
type Server struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	store    dispatcherDeps
	metrics  *metrics.Registry
	listener net.Listener
	wg       sync.WaitGroup

	connsMu sync.Mutex
	conns   map[uint64]*Conn
	nextID  uint64

	globalLimiter *rate.Limiter
}

// dispatcherDeps is the subset of New's arguments the server threads
// through to every connection's Dispatcher.
type dispatcherDeps struct {
	newDispatcher func() *dispatch.Dispatcher
}

// New builds a Server. newDispatcher is called once per accepted
// connection, so the caller can hand each connection its own Dispatcher
// wired to shared store/registry/metrics instances.
func New(cfg config.ServerConfig, logger *zap.Logger, metricsRegistry *metrics.Registry, newDispatcher func() *dispatch.Dispatcher) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   dispatcherDeps{newDispatcher: newDispatcher},
		metrics: metricsRegistry,
		conns:   make(map[uint64]*Conn),
	}
	if rateLimit, burst, enabled := cfg.CommandRateLimit(); enabled {
		s.globalLimiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}
	return s
}

// Start begins accepting connections in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.logger.Info("server listening", zap.String("addr", addr))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()
	return nil
}

// Stop closes the listener and every live connection, then waits for
// their handler goroutines to finish.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.connsMu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			s.logger.Error("accept error", zap.Error(err))
			return
		}

		if s.cfg.MaxConnections > 0 && s.activeCount() >= s.cfg.MaxConnections {
			_ = raw.Close()
			continue
		}

		conn := &Conn{Conn: raw}
		id := atomic.AddUint64(&s.nextID, 1)

		s.connsMu.Lock()
		s.conns[id] = conn
		s.connsMu.Unlock()

		if s.metrics != nil {
			s.metrics.ActiveConnections.Inc()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(id, conn)
		}()
	}
}

func (s *Server) activeCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) handleConnection(id uint64, conn *Conn) {
	connID := uuid.NewString()
	logger := s.logger.With(zap.String("conn_id", connID))
	defer func() {
		_ = conn.Close()
		s.connsMu.Lock()
		delete(s.conns, id)
		s.connsMu.Unlock()
		if s.metrics != nil {
			s.metrics.ActiveConnections.Dec()
		}
		logger.Debug("connection closed")
	}()

	logger.Debug("connection accepted", zap.String("remote", conn.RemoteAddr().String()))

	d := s.store.newDispatcher()
	d.Limiter = s.globalLimiter
	d.Serve(conn, conn)
}
