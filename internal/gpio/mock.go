package gpio

import (
	"sync"
	"time"
)

// MockLine is a development-host stand-in for SysfsLine: it has no real
// hardware, starts HIGH (released), and is driven by calling Press(); no
// HTTP endpoint calls it.
type MockLine struct {
	mu      sync.Mutex
	level   bool // true = HIGH/released
	watchFn func()
	debounce time.Duration
	lastFall time.Time
	closed  bool
}

// NewMockLine creates a released (HIGH) mock line.
func NewMockLine() *MockLine {
	return &MockLine{level: true}
}

// Read reports the current logical level.
func (m *MockLine) Read() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level, nil
}

// WatchFalling records the callback to invoke on Press(); like the real
// line, a Press arriving before debounce has elapsed since the last
// accepted one is ignored.
func (m *MockLine) WatchFalling(debounce time.Duration, fn func()) (func(), error) {
	m.mu.Lock()
	m.watchFn = fn
	m.debounce = debounce
	m.mu.Unlock()
	stop := func() {
		m.mu.Lock()
		m.watchFn = nil
		m.mu.Unlock()
	}
	return stop, nil
}

// Close marks the line closed; further Press calls are no-ops.
func (m *MockLine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.watchFn = nil
	return nil
}

// Press simulates a button press: pulls the line LOW then releases it,
// invoking the registered watcher once if outside the debounce window.
func (m *MockLine) Press() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.level = false
	fn := m.watchFn
	debounce := m.debounce
	now := time.Now()
	fire := fn != nil && now.Sub(m.lastFall) >= debounce
	if fire {
		m.lastFall = now
	}
	m.mu.Unlock()

	if fire {
		fn()
	}

	m.mu.Lock()
	m.level = true
	m.mu.Unlock()
}
