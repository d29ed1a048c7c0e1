// internal/realtime/helpers_test.go
package realtime

import (
	"sync"
	"time"

	"github.com/27willir/Botifex-sub002/internal/backend"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, args ...interface{})  {}
func (nopLogger) Warn(msg string, args ...interface{})  {}
func (nopLogger) Error(msg string, args ...interface{}) {}

// fakeClock is a manually advanced clock for components with an injectable
// now func.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// eventRecorder collects events delivered through a Bus subscription.
// Local pub/sub delivery is asynchronous; Wait blocks for the next event.
type eventRecorder struct {
	events chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan Event, 64)}
}

func (r *eventRecorder) Handle(event Event) {
	r.events <- event
}

func (r *eventRecorder) Wait(timeout time.Duration) (Event, bool) {
	select {
	case event := <-r.events:
		return event, true
	case <-time.After(timeout):
		return Event{}, false
	}
}

func (r *eventRecorder) Drain(window time.Duration) []Event {
	var collected []Event
	for {
		select {
		case event := <-r.events:
			collected = append(collected, event)
		case <-time.After(window):
			return collected
		}
	}
}

func newTestBus(b backend.Backend) *Bus {
	return NewBus(b, "worker-test", nopLogger{})
}
