package friend

import (
	"sync"
	"time"
)

// mockTimeProvider is a mock implementation of TimeProvider for testing.
type mockTimeProvider struct {
	mu        sync.Mutex
	fixedTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fixedTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	m.fixedTime = m.fixedTime.Add(d)
	m.mu.Unlock()
}
