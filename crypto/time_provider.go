package crypto

import "time"

// TimeProvider abstracts time operations for deterministic testing.
// Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since the given time.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// WithinSkew reports whether the unix timestamp ts lies within skew of now,
// in either direction.
func WithinSkew(tp TimeProvider, ts int64, skew time.Duration) bool {
	d := tp.Now().Sub(time.Unix(ts, 0))
	if d < 0 {
		d = -d
	}
	return d <= skew
}
