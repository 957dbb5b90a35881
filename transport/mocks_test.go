package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

// pipeDialer hands out net.Pipe connections and exposes the far ends.
type pipeDialer struct {
	mu      sync.Mutex
	dials   int
	remotes chan net.Conn
	fail    error
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{remotes: make(chan net.Conn, 8)}
}

func (d *pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	d.dials++
	local, remote := net.Pipe()
	d.remotes <- remote
	return local, nil
}

func (d *pipeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// mockTimeProvider implements crypto.TimeProvider for deterministic tests
type mockTimeProvider struct {
	now time.Time
}

func (m mockTimeProvider) Now() time.Time                  { return m.now }
func (m mockTimeProvider) Since(t time.Time) time.Duration { return m.now.Sub(t) }
