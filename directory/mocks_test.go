package directory

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/wire"
)

const (
	aliceUID    = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"
	bobUID      = "6f1d3c2e-9b7a-4c1e-8f3a-2d5b6c7e8f90"
	carolUID    = "11111111-2222-4333-8444-555555555555"
	initialAuth = "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee"
	rotatedAuth = "12345678-9abc-4def-8123-456789abcdef"
)

// session is the server side of one directory connection.
type session struct {
	t    *testing.T
	conn net.Conn
	r    *wire.Reader
}

func (s *session) line() string {
	s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, err := s.r.ReadLine()
	if err != nil {
		s.t.Errorf("fake directory read: %v", err)
	}
	return string(b)
}

func (s *session) exact(n int) []byte {
	s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, err := s.r.ReadExact(n)
	if err != nil {
		s.t.Errorf("fake directory read: %v", err)
	}
	return b
}

func (s *session) write(v string) {
	s.conn.Write([]byte(v))
}

// directoryHandler serves one command; args is the rest of the first line.
type directoryHandler func(s *session, args string)

// fakeDirectory is a scripted directory server on loopback TCP.
type fakeDirectory struct {
	t    *testing.T
	addr string

	mu       sync.Mutex
	handlers map[wire.Command]directoryHandler
	accepted int
}

func newFakeDirectory(t *testing.T) *fakeDirectory {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeDirectory{
		t:        t,
		addr:     ln.Addr().String(),
		handlers: make(map[wire.Command]directoryHandler),
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.accepted++
			f.mu.Unlock()
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeDirectory) handle(cmd wire.Command, h directoryHandler) {
	f.mu.Lock()
	f.handlers[cmd] = h
	f.mu.Unlock()
}

func (f *fakeDirectory) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

func (f *fakeDirectory) serve(conn net.Conn) {
	defer conn.Close()
	s := &session{t: f.t, conn: conn, r: wire.NewReader(conn)}
	for {
		line, err := s.r.ReadLine()
		if err != nil || len(line) < 8 {
			return
		}
		cmd, err := wire.ParseCommand(line[:8])
		if err != nil {
			return
		}
		f.mu.Lock()
		h, ok := f.handlers[cmd]
		f.mu.Unlock()
		if !ok {
			conn.Write(wire.InvalidCommand.Bytes())
			return
		}
		h(s, string(line[8:]))
	}
}

// newClient returns a client for dir backed by a fresh memory store.
func newClient(t *testing.T, dir *fakeDirectory) (*Client, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	c := NewClient(Config{
		Address:     dir.addr,
		Store:       st,
		Dialer:      &net.Dialer{Timeout: time.Second},
		ReadTimeout: 2 * time.Second,
	})
	t.Cleanup(func() { c.Close() })
	return c, st
}

// saveAccount stores an account for uid holding initialAuth.
func saveAccount(t *testing.T, st store.Store, uid string) *crypto.Identity {
	t.Helper()
	id, err := crypto.NewIdentity(uid)
	require.NoError(t, err)
	require.NoError(t, st.SaveAccount(store.Account{
		UID:         uid,
		Auth:        initialAuth,
		SigningSeed: id.Seed(),
		BoxPrivate:  id.BoxPrivate(),
	}))
	return id
}

// acceptLogin scripts a successful login and forwards the presence line.
func acceptLogin(dir *fakeDirectory, presence chan<- string) {
	dir.handle(wire.Login, func(s *session, args string) {
		if !strings.HasSuffix(args, initialAuth) {
			s.write("0\n")
			return
		}
		s.write(rotatedAuth + "\n")
		if s.line() != rotatedAuth {
			s.write("0\n")
			return
		}
		s.write("1\n")
		p := s.line()
		if presence != nil {
			presence <- p
		}
		s.write("1\n")
	})
}

// loggedIn returns a client logged in as aliceUID.
func loggedIn(t *testing.T, dir *fakeDirectory) (*Client, *store.Memory, *crypto.Identity) {
	t.Helper()
	c, st := newClient(t, dir)
	id := saveAccount(t, st, aliceUID)
	acceptLogin(dir, nil)
	require.NoError(t, c.Login(context.Background(), 22012, friend.StatusOnline))
	return c, st, id
}

// session prefix sent with authenticated commands after loggedIn.
func credentials() string {
	return aliceUID + crypto.SHA384Hex([]byte(rotatedAuth))
}
