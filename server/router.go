package server

import (
	"context"
	"net"
	"sync"

	"github.com/cbrunker/quip/transport"
	"github.com/cbrunker/quip/wire"
)

// Request is an authenticated (or explicitly unsigned) incoming command.
type Request struct {
	Command  wire.Command
	Envelope *wire.Envelope
	Payload  []byte
	Origin   string
	Mask     string
	Remote   net.Addr
	Conn     *transport.Conn
}

// Signed reports whether the request carried a verified envelope.
func (r *Request) Signed() bool {
	return r.Envelope != nil
}

// Handler serves one command. The returned bytes are written back to the
// peer; a returned error closes the connection with the matching sentinel.
// Handlers that need further exchanges read and write on req.Conn.
type Handler interface {
	Handle(ctx context.Context, req *Request) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) ([]byte, error)

// Handle calls f(ctx, req).
func (f HandlerFunc) Handle(ctx context.Context, req *Request) ([]byte, error) {
	return f(ctx, req)
}

type route struct {
	handler  Handler
	unsigned bool
}

// Router maps command codes to handlers.
type Router struct {
	mu     sync.RWMutex
	routes map[wire.Command]route
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[wire.Command]route)}
}

// Handle registers h for an authenticated command.
func (r *Router) Handle(cmd wire.Command, h Handler) {
	r.mu.Lock()
	r.routes[cmd] = route{handler: h}
	r.mu.Unlock()
}

// HandleUnsigned registers h for a command sent without an envelope.
func (r *Router) HandleUnsigned(cmd wire.Command, h Handler) {
	r.mu.Lock()
	r.routes[cmd] = route{handler: h, unsigned: true}
	r.mu.Unlock()
}

func (r *Router) lookup(cmd wire.Command) (route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[cmd]
	return rt, ok
}

// Commands returns the registered command codes.
func (r *Router) Commands() []wire.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.Command, 0, len(r.routes))
	for c := range r.routes {
		out = append(out, c)
	}
	return out
}
