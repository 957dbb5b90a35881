package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/hashchain"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/wire"
)

// Defaults for outgoing connections.
const (
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 5 * time.Second
)

// Dialer opens connections to peers. *tls.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Message is one outgoing transmission. Signed messages are wrapped in an
// envelope addressed to Peer; raw messages are written as-is.
type Message struct {
	Peer    string
	Address string
	Command wire.Command
	Payload []byte
	Sign    bool
}

// Options configures a Manager.
type Options struct {
	Dialer             Dialer
	TimeProvider       crypto.TimeProvider
	WriteTimeout       time.Duration
	SessionBoundChains bool
}

// Conn is an established connection with its reader and chain state.
type Conn struct {
	net.Conn
	Reader      *wire.Reader
	Chains      *hashchain.Sequencer
	Established time.Time
}

// NewConn wraps c. With sessionBound set, c must be a *tls.Conn and its
// chains start from the TLS-derived seed.
func NewConn(ctx context.Context, c net.Conn, sessionBound bool, now time.Time) (*Conn, error) {
	origin := ""
	if sessionBound {
		tc, ok := c.(*tls.Conn)
		if !ok {
			return nil, fmt.Errorf("session bound chains require TLS, got %T", c)
		}
		if err := tc.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		seed, err := ChainSeed(tc.ConnectionState())
		if err != nil {
			return nil, err
		}
		origin = seed
	}
	return &Conn{
		Conn:        c,
		Reader:      wire.NewReader(c),
		Chains:      hashchain.NewSeeded(origin),
		Established: now,
	}, nil
}

// Envelope signs payload for peer and returns the frame together with the
// chain value to commit once the frame is written.
func (c *Conn) Envelope(id *crypto.Identity, peer string, cmd wire.Command, payload []byte, now time.Time) ([]byte, string, error) {
	next := c.Chains.Next(peer, wire.ChainInput(payload, cmd))
	env := &wire.Envelope{
		Timestamp:   now.Unix(),
		Chain:       next,
		Destination: peer,
		Payload:     payload,
		Command:     cmd,
		Origin:      id.UID,
	}
	body, err := env.Marshal()
	if err != nil {
		return nil, "", err
	}
	return wire.SignedFrame(cmd, id.Sign(body)), next, nil
}

// Manager owns one connection per remote address.
type Manager struct {
	identity *crypto.Identity
	opts     Options

	mu    sync.Mutex
	conns map[string]*Conn
	locks map[string]*sync.Mutex
}

// NewManager creates a connection manager that signs as identity.
func NewManager(identity *crypto.Identity, opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: DefaultDialTimeout},
			Config:    ClientTLSConfig(),
		}
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = crypto.DefaultTimeProvider{}
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Manager{
		identity: identity,
		opts:     opts,
		conns:    make(map[string]*Conn),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Identity returns the signing identity.
func (m *Manager) Identity() *crypto.Identity {
	return m.identity
}

// Acquire serialises exchanges with addr. The returned function releases
// the address.
func (m *Manager) Acquire(addr string) func() {
	m.mu.Lock()
	l, ok := m.locks[addr]
	if !ok {
		l = &sync.Mutex{}
		m.locks[addr] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Send transmits msg, opening a connection if needed. A write that fails
// because the connection broke is retried once on a new connection.
func (m *Manager) Send(ctx context.Context, msg Message) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Send",
		"address":  msg.Address,
		"command":  msg.Command.String(),
		"signed":   msg.Sign,
	})

	if msg.Sign && m.identity == nil {
		return qerr.New("send", msg.Address, qerr.ErrNotLoggedIn)
	}

	c, err := m.connection(ctx, msg.Address)
	if err != nil {
		return qerr.New("send", msg.Address, fmt.Errorf("%w: %w", qerr.ErrConnectionFailure, err))
	}

	next, err := m.write(c, msg)
	if err != nil && IsBrokenPipe(err) {
		logger.WithError(err).Debug("Connection broken, reconnecting once")
		m.drop(msg.Address, c)
		c, err = m.dial(ctx, msg.Address)
		if err == nil {
			next, err = m.write(c, msg)
		}
	}
	if err != nil {
		m.drop(msg.Address, c)
		logger.WithError(err).Warn("Send failed")
		return qerr.New("send", msg.Address, fmt.Errorf("%w: %w", qerr.ErrConnectionFailure, err))
	}

	if msg.Sign {
		c.Chains.Commit(msg.Peer, next)
	}
	logger.Debug("Sent")
	return nil
}

func (m *Manager) write(c *Conn, msg Message) (string, error) {
	if c == nil {
		return "", net.ErrClosed
	}
	var frame []byte
	var next string
	if msg.Sign {
		var err error
		frame, next, err = c.Envelope(m.identity, msg.Peer, msg.Command, msg.Payload, m.opts.TimeProvider.Now())
		if err != nil {
			return "", err
		}
	} else {
		frame = wire.RawFrame(msg.Command, msg.Payload)
	}

	if err := c.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout)); err != nil {
		return "", err
	}
	if _, err := c.Write(frame); err != nil {
		return "", err
	}
	return next, nil
}

// Stream returns the established connection to addr. It never dials.
func (m *Manager) Stream(addr string) (*Conn, error) {
	m.mu.Lock()
	c, ok := m.conns[addr]
	m.mu.Unlock()
	if !ok {
		return nil, qerr.New("read", addr, fmt.Errorf("%w: no connection", qerr.ErrConnectionFailure))
	}
	return c, nil
}

// Established reports when the connection to addr was opened.
func (m *Manager) Established(addr string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[addr]
	if !ok {
		return time.Time{}, false
	}
	return c.Established, true
}

// Close drops the connection to addr.
func (m *Manager) Close(addr string) error {
	m.mu.Lock()
	c, ok := m.conns[addr]
	delete(m.conns, addr)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

// Shutdown closes every connection.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*Conn)
	m.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) connection(ctx context.Context, addr string) (*Conn, error) {
	m.mu.Lock()
	c, ok := m.conns[addr]
	m.mu.Unlock()
	if ok {
		return c, nil
	}
	return m.dial(ctx, addr)
}

func (m *Manager) dial(ctx context.Context, addr string) (*Conn, error) {
	if addr == "" {
		return nil, qerr.ErrMissingFriendAddress
	}
	raw, err := m.opts.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, err := NewConn(ctx, raw, m.opts.SessionBoundChains, m.opts.TimeProvider.Now())
	if err != nil {
		raw.Close()
		return nil, err
	}

	m.mu.Lock()
	if old, ok := m.conns[addr]; ok {
		old.Close()
	}
	m.conns[addr] = c
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "dial",
		"address":  addr,
	}).Debug("Connected")
	return c, nil
}

func (m *Manager) drop(addr string, c *Conn) {
	if c == nil {
		return
	}
	m.mu.Lock()
	if cur, ok := m.conns[addr]; ok && cur == c {
		delete(m.conns, addr)
	}
	m.mu.Unlock()
	c.Close()
}

// IsBrokenPipe reports whether err means the remote end went away.
func IsBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}

// ReadError classifies a failed read from addr. A broken connection becomes
// qerr.ErrConnectionFailure and an expired deadline qerr.ErrTimeout. Other
// errors, such as sentinels sent by the peer, are returned unchanged.
func ReadError(addr string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsBrokenPipe(err):
		return qerr.New("read", addr, fmt.Errorf("%w: %w", qerr.ErrConnectionFailure, err))
	case errors.Is(err, os.ErrDeadlineExceeded):
		return qerr.New("read", addr, fmt.Errorf("%w: %w", qerr.ErrTimeout, err))
	}
	return err
}
