package quip

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/file"
	"github.com/cbrunker/quip/handshake"
	"github.com/cbrunker/quip/messaging"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/wire"
)

const (
	aliceUID    = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"
	bobUID      = "6f1d3c2e-9b7a-4c1e-8f3a-2d5b6c7e8f90"
	initialAuth = "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee"
	rotatedAuth = "12345678-9abc-4def-8123-456789abcdef"
)

// events collects callback deliveries for one instance.
type events struct {
	messages    chan messaging.Received
	offers      chan file.Incoming
	friendships chan handshake.Result
	avatars     chan string
}

// node is one Quip instance serving peers on loopback TCP.
type node struct {
	*Quip
	id     *crypto.Identity
	st     *store.Memory
	addr   string
	events events
}

func newNode(t *testing.T, uid string, dir *fakeDirectory) *node {
	t.Helper()
	id, err := crypto.NewIdentity(uid)
	require.NoError(t, err)
	st := store.NewMemory()
	require.NoError(t, st.SaveAccount(store.Account{
		UID:         uid,
		Auth:        initialAuth,
		SigningSeed: id.Seed(),
		BoxPrivate:  id.BoxPrivate(),
		Alias:       uid[:8],
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	options := NewOptions()
	options.UPnP = false
	options.TCPPort = port
	options.DownloadDirectory = t.TempDir()
	options.PeerDialer = &net.Dialer{Timeout: time.Second}
	options.DirectoryDialer = &net.Dialer{Timeout: time.Second}
	options.DirectoryAddress = "127.0.0.1:1"
	if dir != nil {
		options.DirectoryAddress = dir.addr
	}

	q, err := New(st, options)
	require.NoError(t, err)
	n := &node{
		Quip: q,
		id:   id,
		st:   st,
		addr: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		events: events{
			messages:    make(chan messaging.Received, 8),
			offers:      make(chan file.Incoming, 8),
			friendships: make(chan handshake.Result, 8),
			avatars:     make(chan string, 8),
		},
	}
	q.OnMessage(func(m messaging.Received) { n.events.messages <- m })
	q.OnFileOffer(func(in file.Incoming) { n.events.offers <- in })
	q.OnFriendship(func(res handshake.Result) { n.events.friendships <- res })
	q.OnAvatar(func(uid string) { n.events.avatars <- uid })

	require.NoError(t, q.Serve(context.Background(), ln))
	t.Cleanup(func() { q.Stop() })
	return n
}

// befriend runs the full request and handshake between a and b, with b
// accepting a's request.
func befriend(t *testing.T, a, b *node) {
	t.Helper()
	_, err := a.requests.RecordOutgoing(b.id.UID, "it's me")
	require.NoError(t, err)
	_, err = b.requests.RecordIncoming([]store.FriendRequest{{
		UID:     a.id.UID,
		Message: "it's me",
		Address: a.addr,
	}})
	require.NoError(t, err)

	res, err := b.CompleteFriendship(context.Background(), a.id.UID)
	require.NoError(t, err)
	require.Equal(t, handshake.StateConfirmed, res.State)
	waitFor(t, a.events.friendships)
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	var zero T
	return zero
}

// fakeDirectory is a scripted directory server shared by several nodes.
type fakeDirectory struct {
	t    *testing.T
	addr string

	mu      sync.Mutex
	tokens  map[string][]string
	records map[string][]string
}

func newFakeDirectory(t *testing.T) *fakeDirectory {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeDirectory{
		t:       t,
		addr:    ln.Addr().String(),
		tokens:  make(map[string][]string),
		records: make(map[string][]string),
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f
}

// authTokens returns the values uid registered.
func (f *fakeDirectory) authTokens(uid string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens[uid]...)
}

func (f *fakeDirectory) serve(conn net.Conn) {
	defer conn.Close()
	r := wire.NewReader(conn)
	line := func() string {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		b, err := r.ReadLine()
		if err != nil {
			return ""
		}
		return string(b)
	}
	write := func(v string) { conn.Write([]byte(v)) }
	// authenticated commands start with uid followed by the session value
	const credLen = 36 + 96

	for {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		first, err := r.ReadLine()
		if err != nil || len(first) < 8 {
			return
		}
		cmd, err := wire.ParseCommand(first[:8])
		if err != nil {
			return
		}
		args := string(first[8:])

		switch cmd {
		case wire.Login:
			if !strings.HasSuffix(args, initialAuth) {
				write("0\n")
				continue
			}
			write(rotatedAuth + "\n")
			if line() != rotatedAuth {
				write("0\n")
				continue
			}
			write("1\n")
			line()
			write("1\n")
		case wire.Logout:
			write("1\n")
		case wire.AuthTokenSet:
			uid := args[:36]
			f.mu.Lock()
			f.tokens[uid] = append(f.tokens[uid], args[credLen:])
			f.mu.Unlock()
			write("1\n")
		case wire.AuthTokenDel:
			uid, auth := args[:36], args[credLen:]
			f.mu.Lock()
			kept := f.tokens[uid][:0]
			for _, v := range f.tokens[uid] {
				if v != auth {
					kept = append(kept, v)
				}
			}
			f.tokens[uid] = kept
			f.mu.Unlock()
			write("1\n")
		case wire.DetailsGet:
			// addresses never move in these tests
			write(wire.ValueSeparator + "7071170" + wire.ValueSeparator + "\n")
		case wire.MessageStore:
			rest := args[credLen:]
			target, token := rest[:36], rest[36:132]
			size, err := strconv.Atoi(rest[132:])
			if err != nil {
				write("0\n")
				continue
			}
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			sealed, err := r.ReadExact(size)
			if err != nil {
				return
			}
			line()
			body := token + "1767225600" + string(sealed)
			f.mu.Lock()
			f.records[target] = append(f.records[target], string(wire.LengthPrefixed([]byte(body))))
			f.mu.Unlock()
			write("1\n")
		case wire.MessagesGet:
			uid := args[:36]
			f.mu.Lock()
			out := strings.Join(f.records[uid], "")
			delete(f.records, uid)
			f.mu.Unlock()
			write(out + "\n")
		default:
			conn.Write(wire.InvalidCommand.Bytes())
			return
		}
	}
}
