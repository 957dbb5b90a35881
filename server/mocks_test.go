package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/transport"
	"github.com/cbrunker/quip/wire"
)

const (
	serverUID = "6f1d3c2e-9b7a-4c1e-8f3a-2d5b6c7e8f90"
	clientUID = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"
	strayUID  = "9d8c7b6a-5f4e-4d3c-9b2a-1f0e9d8c7b6a"
)

// mapResolver resolves keys from a fixed map
type mapResolver map[string]PeerKey

func (m mapResolver) ResolvePeer(uid string) (PeerKey, bool, error) {
	k, ok := m[uid]
	return k, ok, nil
}

// recorder counts handler invocations
type recorder struct {
	mu       sync.Mutex
	requests []*Request
	reply    []byte
	err      error
}

func (r *recorder) Handle(ctx context.Context, req *Request) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.reply, r.err
}

func (r *recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type fixture struct {
	server   *Server
	serverID *crypto.Identity
	clientID *crypto.Identity
	handler  *recorder
}

func newFixture(t *testing.T, tp crypto.TimeProvider) *fixture {
	t.Helper()
	serverID, err := crypto.NewIdentity(serverUID)
	require.NoError(t, err)
	clientID, err := crypto.NewIdentity(clientUID)
	require.NoError(t, err)

	h := &recorder{reply: []byte{wire.True}}
	router := NewRouter()
	router.Handle(wire.MessageSend, h)
	router.Handle(wire.FileRequest, h)
	router.HandleUnsigned(wire.FriendAccept, h)

	srv := New(Config{
		Identity:     serverID,
		Router:       router,
		Resolver:     mapResolver{clientUID: {Mask: "mask-1", SigningKey: clientID.SigningPublicHex()}},
		TimeProvider: tp,
		IdleTimeout:  time.Second,
		ReadTimeout:  200 * time.Millisecond,
	})
	return &fixture{server: srv, serverID: serverID, clientID: clientID, handler: h}
}

// connect starts a session over a pipe and returns the client side.
func (f *fixture) connect(t *testing.T) *transport.Conn {
	t.Helper()
	client, srv := net.Pipe()
	go f.server.ServeConn(context.Background(), srv)
	c, err := transport.NewConn(context.Background(), client, false, time.Now())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return c
}

// frame builds a signed frame and commits the client chain.
func frame(t *testing.T, c *transport.Conn, id *crypto.Identity, dest string, cmd wire.Command, payload []byte, now time.Time) []byte {
	t.Helper()
	out, next, err := c.Envelope(id, dest, cmd, payload, now)
	require.NoError(t, err)
	c.Chains.Commit(dest, next)
	return out
}

func write(t *testing.T, c *transport.Conn, data []byte) {
	t.Helper()
	c.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := c.Write(data)
	require.NoError(t, err)
}

func readReply(t *testing.T, c *transport.Conn, n int) string {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(time.Second))
	b, err := c.Reader.ReadExact(n)
	require.NoError(t, err)
	return string(b)
}

type mockTimeProvider struct{ now time.Time }

func (m mockTimeProvider) Now() time.Time                  { return m.now }
func (m mockTimeProvider) Since(t time.Time) time.Duration { return m.now.Sub(t) }
