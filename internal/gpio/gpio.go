// Package gpio implements the GPIO Event Loop of spec.md §4.3: debounced
// falling-edge triggers on a handful of input lines, dispatched
// asynchronously to the Capture Service. The Line interface is the
// abstraction spec.md §9 calls for ("works on any OS" GPIO stubs): one
// implementation drives real sysfs-exported lines, another is a
// development-host mock.
package gpio

import (
	"sync"
	"time"
)

// Line is the hardware seam: a single input with a pull-up, reporting
// falling edges.
type Line interface {
	// Read reports the current logical level: true = HIGH, false = LOW
	// (pressed, since the active state is electrical LOW).
	Read() (bool, error)
	// WatchFalling arms edge detection and invokes fn (never blocking
	// more than a few microseconds) on every debounced falling edge,
	// until the returned stop function is called.
	WatchFalling(debounce time.Duration, fn func()) (stop func(), err error)
	Close() error
}

// TriggerEvent is the transient record of spec.md §3, retained only long
// enough for dashboard polling.
type TriggerEvent struct {
	Source string
	Pin    int
	At     time.Time
	Seq    uint64
	Status string // "captured" or "disabled"
}

// Loop owns the per-source software cooldown and the trigger-event ring
// buffer, and dispatches accepted edges to onTrigger.
type Loop struct {
	cooldown time.Duration

	mu       sync.Mutex
	lastFire map[string]time.Time
	counters map[string]uint64
	ring     map[string][]TriggerEvent
	ringCap  int

	lines map[string]Line
	pins  map[string]int

	onTrigger func(source string)
	isEnabled func(source string) bool

	stops []func()
}

// New constructs a Loop over the given source->Line and source->pin maps.
// onTrigger is called (never blocking) for every accepted edge on an
// enabled source; isEnabled reports whether a source's camera is currently
// enabled, consulted live on every edge so Settings edits apply
// immediately without restart.
func New(lines map[string]Line, pins map[string]int, cooldown time.Duration, ringCap int, onTrigger func(source string), isEnabled func(source string) bool) *Loop {
	return &Loop{
		cooldown:  cooldown,
		lastFire:  make(map[string]time.Time),
		counters:  make(map[string]uint64),
		ring:      make(map[string][]TriggerEvent),
		ringCap:   ringCap,
		lines:     lines,
		pins:      pins,
		onTrigger: onTrigger,
		isEnabled: isEnabled,
	}
}

// Start arms falling-edge watches on every configured line. The hardware
// debounce window (bounceTime) is the first of the two debounce stages in
// spec.md §4.3; the software cooldown held by Loop is the second.
func (l *Loop) Start(bounceTime time.Duration) error {
	for source, line := range l.lines {
		source, line := source, line
		stop, err := line.WatchFalling(bounceTime, func() {
			l.handleEdge(source)
		})
		if err != nil {
			l.Stop()
			return err
		}
		l.stops = append(l.stops, stop)
	}
	return nil
}

// Stop cancels detection and releases every line. Safe to call multiple
// times.
func (l *Loop) Stop() {
	for _, stop := range l.stops {
		stop()
	}
	l.stops = nil
	for _, line := range l.lines {
		line.Close()
	}
}

// handleEdge is the trampoline the hardware library (real or mock) calls.
// It MUST return in single-digit milliseconds: the cooldown check and
// bookkeeping are a single short lock, and the actual capture is handed
// off to onTrigger, which schedules it asynchronously.
func (l *Loop) handleEdge(source string) {
	now := time.Now()

	l.mu.Lock()
	if last, ok := l.lastFire[source]; ok && now.Sub(last) < l.cooldown {
		l.mu.Unlock()
		return
	}
	l.lastFire[source] = now
	l.counters[source]++
	seq := l.counters[source]

	status := "captured"
	enabled := l.isEnabled == nil || l.isEnabled(source)
	if !enabled {
		status = "disabled"
	}

	ev := TriggerEvent{Source: source, Pin: l.pins[source], At: now, Seq: seq, Status: status}
	buf := append(l.ring[source], ev)
	if len(buf) > l.ringCap {
		buf = buf[len(buf)-l.ringCap:]
	}
	l.ring[source] = buf
	l.mu.Unlock()

	// The GPIO-trigger-counter-vs-disabled-camera open question (spec.md
	// §9) is resolved here: the counter always increments on an accepted
	// edge, even when the camera is disabled, because the physical press
	// happened; only the downstream capture is skipped.
	if enabled && l.onTrigger != nil {
		l.onTrigger(source)
	}
}

// Status is the payload for /api/gpio/status.
type Status struct {
	Source  string
	Pin     int
	Level   *bool // nil if the line can't be read
	Count   uint64
	Recent  []TriggerEvent
}

// Status reports current pin levels, counters, and recent trigger events
// for every configured source.
func (l *Loop) Status() []Status {
	l.mu.Lock()
	counters := make(map[string]uint64, len(l.counters))
	for k, v := range l.counters {
		counters[k] = v
	}
	recent := make(map[string][]TriggerEvent, len(l.ring))
	for k, v := range l.ring {
		cp := make([]TriggerEvent, len(v))
		copy(cp, v)
		recent[k] = cp
	}
	l.mu.Unlock()

	out := make([]Status, 0, len(l.lines))
	for source, line := range l.lines {
		var level *bool
		if v, err := line.Read(); err == nil {
			level = &v
		}
		out = append(out, Status{
			Source: source,
			Pin:    l.pins[source],
			Level:  level,
			Count:  counters[source],
			Recent: recent[source],
		})
	}
	return out
}
