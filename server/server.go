package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/transport"
)

// Defaults for accepted connections.
const (
	DefaultIdleTimeout = 30 * time.Second
	DefaultReadTimeout = 10 * time.Second
	DefaultAcceptBurst = 3
)

// PortMapper forwards the listening port through a gateway.
type PortMapper interface {
	MapTCP(ctx context.Context, port int, description string, lease time.Duration) error
	UnmapAll(ctx context.Context) error
}

// Config configures a Server.
type Config struct {
	Identity           *crypto.Identity
	Router             *Router
	Resolver           KeyResolver
	TLSConfig          *tls.Config
	IdleTimeout        time.Duration
	ReadTimeout        time.Duration
	MessageSkew        time.Duration
	SessionBoundChains bool
	TimeProvider       crypto.TimeProvider
	AcceptRate         rate.Limit
	AcceptBurst        int
	PortMapper         PortMapper
}

// Server is the peer-facing listener.
type Server struct {
	cfg Config

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	limiters map[string]*rate.Limiter
	closed   bool
	wg       sync.WaitGroup
}

// New creates a Server. Identity, Router and Resolver are required.
func New(cfg Config) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.MessageSkew <= 0 {
		cfg.MessageSkew = limits.MessageSkew
	}
	if cfg.TimeProvider == nil {
		cfg.TimeProvider = crypto.DefaultTimeProvider{}
	}
	if cfg.AcceptRate == 0 {
		cfg.AcceptRate = rate.Every(time.Second)
	}
	if cfg.AcceptBurst <= 0 {
		cfg.AcceptBurst = DefaultAcceptBurst
	}
	return &Server{
		cfg:      cfg,
		conns:    make(map[net.Conn]struct{}),
		limiters: make(map[string]*rate.Limiter),
	}
}

// ListenAndServe listens on addr with the configured TLS settings and serves
// until ctx is cancelled or Close is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if s.cfg.TLSConfig == nil {
		return errors.New("server requires a TLS configuration")
	}
	ln, err := tls.Listen("tcp", addr, s.cfg.TLSConfig)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mapPort(ctx, ln.Addr())
	return s.Serve(ctx, ln)
}

func (s *Server) mapPort(ctx context.Context, addr net.Addr) {
	if s.cfg.PortMapper == nil {
		return
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return
	}
	port, _ := strconv.Atoi(portStr)
	go func() {
		if err := s.cfg.PortMapper.MapTCP(ctx, port, "quip peer", 0); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "mapPort",
				"port":     port,
				"error":    err.Error(),
			}).Warn("UPnP port mapping unavailable")
		}
	}()
}

// Serve accepts connections on ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	logger := logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"address":  ln.Addr().String(),
	})
	logger.Info("Peer server listening")

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.WithError(err).Warn("Accept failed")
			continue
		}
		if !s.allow(conn.RemoteAddr()) {
			logger.WithField("remote", conn.RemoteAddr().String()).Warn("Connection rate limited")
			conn.Close()
			continue
		}
		if !s.admit(conn) {
			conn.Close()
			return nil
		}
		go s.serveConn(ctx, conn)
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, closes open sessions and removes port mappings.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	if s.cfg.PortMapper != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.cfg.PortMapper.UnmapAll(ctx)
		cancel()
	}
	s.wg.Wait()
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) allow(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[host]
	if !ok {
		if len(s.limiters) > 4096 {
			s.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(s.cfg.AcceptRate, s.cfg.AcceptBurst)
		s.limiters[host] = l
	}
	return l.Allow()
}

// admit registers c as an open session. It fails once Close has started,
// so Close sees every session it has to wait for.
func (s *Server) admit(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) release(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// ServeConn runs the command loop for one connection and closes it on
// return. A closed server closes raw immediately.
func (s *Server) ServeConn(ctx context.Context, raw net.Conn) {
	if !s.admit(raw) {
		raw.Close()
		return
	}
	s.serveConn(ctx, raw)
}

func (s *Server) serveConn(ctx context.Context, raw net.Conn) {
	defer s.release(raw)
	defer raw.Close()

	logger := logrus.WithFields(logrus.Fields{
		"function": "ServeConn",
		"remote":   raw.RemoteAddr().String(),
	})

	conn, err := transport.NewConn(ctx, raw, s.cfg.SessionBoundChains, s.cfg.TimeProvider.Now())
	if err != nil {
		logger.WithError(err).Warn("Session setup failed")
		return
	}
	sess := &session{server: s, conn: conn, logger: logger}
	sess.run(ctx)
}
