package handshake

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

// peer is one complete client+server stack on loopback TCP.
type peer struct {
	id        *crypto.Identity
	store     *store.Memory
	requests  *friend.RequestManager
	router    *server.Router
	manager   *transport.Manager
	responder *Responder
	initiator *Initiator
	addr      string
	port      int
	auths     chan Result
}

func newPeer(t *testing.T, uid string) *peer {
	t.Helper()
	id, err := crypto.NewIdentity(uid)
	require.NoError(t, err)
	st := store.NewMemory()
	requests := friend.NewRequestManager(st)

	p := &peer{
		id:       id,
		store:    st,
		requests: requests,
		router:   server.NewRouter(),
		auths:    make(chan Result, 4),
	}
	p.responder = NewResponder(id, st, requests)
	p.responder.SetTimeout(2 * time.Second)
	p.responder.SetAuthHandler(func(res Result) { p.auths <- res })
	p.router.HandleUnsigned(wire.FriendAccept, p.responder)
	p.router.Handle(wire.MessageSend, server.HandlerFunc(func(ctx context.Context, req *server.Request) ([]byte, error) {
		return []byte{wire.True}, nil
	}))

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

	p.port = ln.Addr().(*net.TCPAddr).Port
	p.addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(p.port))
	p.manager = transport.NewManager(id, transport.Options{Dialer: &net.Dialer{Timeout: time.Second}})
	t.Cleanup(func() { p.manager.Shutdown() })
	p.initiator = NewInitiator(p.manager, st, requests, p.port)
	p.initiator.SetTimeout(2 * time.Second)
	return p
}

// exchangeRequest records a request from sender to receiver on both sides.
func exchangeRequest(t *testing.T, sender, receiver *peer, message string) {
	t.Helper()
	_, err := sender.requests.RecordOutgoing(receiver.id.UID, message)
	require.NoError(t, err)
	_, err = receiver.requests.RecordIncoming([]store.FriendRequest{{
		UID:     sender.id.UID,
		Message: message,
		Address: sender.addr,
	}})
	require.NoError(t, err)
}
