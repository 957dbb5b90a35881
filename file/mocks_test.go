package file

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/server"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/transport"
	"github.com/cbrunker/quip/wire"
)

const (
	aliceUID = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"
	bobUID   = "6f1d3c2e-9b7a-4c1e-8f3a-2d5b6c7e8f90"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.currentTime.Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.currentTime = m.currentTime.Add(d)
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// peer is a client and server pair on loopback TCP.
type peer struct {
	id       *crypto.Identity
	store    *store.Memory
	router   *server.Router
	manager  *transport.Manager
	client   *Client
	requests *RequestHandler
	addr     string
	offers   chan Incoming
}

func newPeer(t *testing.T, uid string, opts Options) *peer {
	t.Helper()
	id, err := crypto.NewIdentity(uid)
	require.NoError(t, err)
	st := store.NewMemory()

	p := &peer{
		id:     id,
		store:  st,
		router: server.NewRouter(),
		offers: make(chan Incoming, 4),
	}
	p.requests = NewRequestHandler(st, 0)
	p.requests.OnOffer(func(in Incoming) { p.offers <- in })
	p.router.Handle(wire.FileRequest, p.requests)
	p.router.Handle(wire.FileSend, NewSendHandler(st, 0))

	srv := server.New(server.Config{
		Identity:    id,
		Router:      p.router,
		Resolver:    server.StoreResolver{Store: st},
		AcceptBurst: 100,
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	p.addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(ln.Addr().(*net.TCPAddr).Port))

	p.manager = transport.NewManager(id, transport.Options{Dialer: &net.Dialer{Timeout: time.Second}})
	t.Cleanup(func() { p.manager.Shutdown() })
	if opts.DownloadDir == "" {
		opts.DownloadDir = t.TempDir()
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	p.client = NewClient(p.manager, st, opts)
	return p
}

// befriend stores each side's keys and address on the other side and
// returns the peers as seen by a and by b.
func befriend(t *testing.T, a, b *peer) (bAsSeenByA, aAsSeenByB friend.Peer) {
	t.Helper()
	link := func(local, remote *peer) friend.Peer {
		mask, err := local.store.CreateFriend(remote.id.UID)
		require.NoError(t, err)
		require.NoError(t, local.store.SetAuthority(mask, remote.id.SigningPublicHex(), remote.id.BoxPublic()))
		require.NoError(t, local.store.SetAddress(mask, remote.addr))
		return friend.Peer{UID: remote.id.UID, Mask: mask, Address: remote.addr}
	}
	return link(a, b), link(b, a)
}
