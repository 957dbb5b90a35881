// Package hashchain tracks the rolling SHA-1 chain shared with each peer.
//
// Every authenticated envelope carries SHA1(previous ‖ payload ‖ command) as
// lowercase hex. The chain starts empty for a new connection, so an envelope
// captured on one connection does not verify on another.
package hashchain

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/qerr"
)

// Sequencer maps a peer user id to its current chain value.
type Sequencer struct {
	mu     sync.Mutex
	origin string
	chains map[string]string
}

// New returns a Sequencer whose chains start empty.
func New() *Sequencer {
	return NewSeeded("")
}

// NewSeeded returns a Sequencer whose chains start at origin instead of
// empty. Both ends of a connection must agree on the origin.
func NewSeeded(origin string) *Sequencer {
	return &Sequencer{origin: origin, chains: make(map[string]string)}
}

// Current returns the committed chain value for peer.
func (s *Sequencer) Current(peer string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(peer)
}

func (s *Sequencer) current(peer string) string {
	if v, ok := s.chains[peer]; ok {
		return v
	}
	return s.origin
}

// Next computes the value that follows the committed chain for body without
// changing state.
func (s *Sequencer) Next(peer string, body []byte) string {
	return Link(s.Current(peer), body)
}

// Commit records value as the chain for peer.
func (s *Sequencer) Commit(peer, value string) {
	s.mu.Lock()
	s.chains[peer] = value
	s.mu.Unlock()
}

// Advance computes and commits the next chain value.
func (s *Sequencer) Advance(peer string, body []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := Link(s.current(peer), body)
	s.chains[peer] = next
	return next
}

// Verify checks claimed against the expected next value for peer. State is
// not changed; the caller commits once every other check has passed.
func (s *Sequencer) Verify(peer string, body []byte, claimed string) (string, error) {
	expected := s.Next(peer, body)
	if !crypto.ConstantTimeEqual(expected, claimed) {
		logrus.WithFields(logrus.Fields{
			"function": "Verify",
			"peer":     peer,
		}).Warn("Hash chain mismatch")
		return "", fmt.Errorf("%w: chain mismatch for %s", qerr.ErrIntegrity, peer)
	}
	return expected, nil
}

// Reset returns the chain for peer to the origin.
func (s *Sequencer) Reset(peer string) {
	s.mu.Lock()
	delete(s.chains, peer)
	s.mu.Unlock()
}

// ResetAll returns every chain to the origin.
func (s *Sequencer) ResetAll() {
	s.mu.Lock()
	s.chains = make(map[string]string)
	s.mu.Unlock()
}

// Len returns the number of tracked peers.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chains)
}

// Link returns SHA1(prev ‖ body) as hex.
func Link(prev string, body []byte) string {
	return crypto.SHA1Hex([]byte(prev), body)
}
