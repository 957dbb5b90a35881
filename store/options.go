package store

import (
	"time"

	"github.com/cbrunker/quip/crypto"
)

// Default expiry windows for pending requests.
const (
	DefaultRequestExpiry = 28 * 24 * time.Hour
	DefaultFileExpiry    = 7 * 24 * time.Hour
)

// Option configures a Memory or File store.
type Option func(*Memory)

// WithRequestExpiry sets how long friend requests are kept.
func WithRequestExpiry(d time.Duration) Option {
	return func(m *Memory) {
		if d > 0 {
			m.requestExpiry = d
		}
	}
}

// WithFileExpiry sets how long file requests are kept.
func WithFileExpiry(d time.Duration) Option {
	return func(m *Memory) {
		if d > 0 {
			m.fileExpiry = d
		}
	}
}

// WithTimeProvider injects a clock for expiry decisions.
func WithTimeProvider(tp crypto.TimeProvider) Option {
	return func(m *Memory) {
		if tp != nil {
			m.timeProvider = tp
		}
	}
}
