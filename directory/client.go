package directory

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/transport"
	"github.com/cbrunker/quip/wire"
)

// Defaults for the directory connection.
const (
	DefaultAddress     = "127.0.0.1:8822"
	DefaultReadTimeout = 15 * time.Second
)

// Config configures a Client.
type Config struct {
	Address      string
	Store        store.Store
	Roster       *friend.Roster
	Requests     *friend.RequestManager
	Dialer       transport.Dialer
	TimeProvider crypto.TimeProvider
	ReadTimeout  time.Duration
}

// Client talks to the directory server over a single reused connection.
type Client struct {
	cfg     Config
	manager *transport.Manager

	mu       sync.RWMutex
	uid      string
	session  string
	identity *crypto.Identity
}

// NewClient creates a Client. Nil collaborators get defaults backed by
// cfg.Store.
func NewClient(cfg Config) *Client {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.TimeProvider == nil {
		cfg.TimeProvider = crypto.DefaultTimeProvider{}
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Roster == nil {
		cfg.Roster = friend.NewRosterWithTimeProvider(cfg.Store, cfg.TimeProvider)
	}
	if cfg.Requests == nil {
		cfg.Requests = friend.NewRequestManager(cfg.Store)
	}
	return &Client{
		cfg: cfg,
		manager: transport.NewManager(nil, transport.Options{
			Dialer:       cfg.Dialer,
			TimeProvider: cfg.TimeProvider,
		}),
	}
}

// Identity returns the identity of the logged in account, or nil.
func (c *Client) Identity() *crypto.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// UID returns the logged in user id, or "".
func (c *Client) UID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uid
}

// LoggedIn reports whether a session is active.
func (c *Client) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != ""
}

// Close drops the directory connection.
func (c *Client) Close() error {
	return c.manager.Shutdown()
}

// credentials returns uid ‖ session auth for authenticated commands.
func (c *Client) credentials() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.uid == "" || c.session == "" {
		return nil, qerr.ErrNotLoggedIn
	}
	return []byte(c.uid + c.session), nil
}

// call sends cmd with args on one line and returns the reply line. The
// exchange holds the connection so replies cannot interleave.
func (c *Client) call(ctx context.Context, op string, cmd wire.Command, args ...[]byte) ([]byte, error) {
	release := c.manager.Acquire(c.cfg.Address)
	defer release()
	if err := c.send(ctx, cmd, args...); err != nil {
		return nil, qerr.New(op, "", err)
	}
	line, err := c.readLine()
	if err != nil {
		return nil, qerr.New(op, "", err)
	}
	return line, nil
}

// authed is call with the session credentials prepended.
func (c *Client) authed(ctx context.Context, op string, cmd wire.Command, args ...[]byte) ([]byte, error) {
	creds, err := c.credentials()
	if err != nil {
		return nil, qerr.New(op, "", err)
	}
	return c.call(ctx, op, cmd, append([][]byte{creds}, args...)...)
}

// authedBool is authed for commands answered with a boolean marker.
func (c *Client) authedBool(ctx context.Context, op string, cmd wire.Command, args ...[]byte) (bool, error) {
	line, err := c.authed(ctx, op, cmd, args...)
	if err != nil {
		return false, err
	}
	return isTrue(line), nil
}

func (c *Client) send(ctx context.Context, cmd wire.Command, args ...[]byte) error {
	return c.manager.Send(ctx, transport.Message{
		Address: c.cfg.Address,
		Command: cmd,
		Payload: wire.Line(bytes.Join(args, nil)),
	})
}

// readLine reads one reply line. A failure sentinel in place of the line
// is returned as its error and the connection is dropped.
func (c *Client) readLine() ([]byte, error) {
	conn, err := c.manager.Stream(c.cfg.Address)
	if err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	line, err := conn.Reader.ReadLine()
	if serr := sentinel(line); serr != nil {
		c.manager.Close(c.cfg.Address)
		return nil, serr
	}
	if err != nil {
		c.manager.Close(c.cfg.Address)
		return nil, err
	}
	return line, nil
}

// readExact reads a fixed-size block following a reply line.
func (c *Client) readExact(n int) ([]byte, error) {
	conn, err := c.manager.Stream(c.cfg.Address)
	if err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	b, err := conn.Reader.ReadExact(n)
	if err != nil {
		c.manager.Close(c.cfg.Address)
		return nil, err
	}
	return b, nil
}

func sentinel(line []byte) error {
	if len(line) != len(wire.InvalidCommand.Bytes()) {
		return nil
	}
	cmd, err := wire.ParseCommand(line)
	if err != nil {
		return nil
	}
	return cmd.Err()
}

func isTrue(line []byte) bool {
	return len(line) == 1 && line[0] == wire.True
}

func (c *Client) logger(function string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"function": function,
		"address":  c.cfg.Address,
	})
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", qerr.ErrInvalidClientData, fmt.Sprintf(format, args...))
}
