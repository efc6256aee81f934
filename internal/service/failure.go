package service

import "sync"

// FailureLevel is the escalation state of the save pipeline.
type FailureLevel string

const (
	FailureNone     FailureLevel = "none"
	FailureWarning  FailureLevel = "warning"
	FailureCritical FailureLevel = "critical"
)

// criticalThreshold is the number of consecutive failures that escalates
// to critical. Three failed saves in a row indicate a high risk of data
// loss if the session ends.
const criticalThreshold = 3

// FailureObserver is notified on every level transition with the level and
// the last error message, nil once cleared.
type FailureObserver func(level FailureLevel, lastError *string)

// failureTracker implements the escalation state machine: one failure
// moves none to warning, three consecutive failures move to critical, any
// success resets to none and clears the recorded error.
type failureTracker struct {
	mu          sync.Mutex
	level       FailureLevel
	consecutive int
	lastError   *string
	observers   map[int]FailureObserver
	nextID      int
}

func newFailureTracker() *failureTracker {
	return &failureTracker{
		level:     FailureNone,
		observers: make(map[int]FailureObserver),
	}
}

func (t *failureTracker) recordFailure(err error) {
	t.mu.Lock()
	t.consecutive++
	level := FailureWarning
	if t.consecutive >= criticalThreshold {
		level = FailureCritical
	}
	msg := err.Error()
	changed := t.level != level || t.lastError == nil || *t.lastError != msg
	t.level = level
	t.lastError = &msg
	observers := t.snapshotObservers()
	t.mu.Unlock()

	if changed {
		notify(observers, level, &msg)
	}
}

func (t *failureTracker) recordSuccess() {
	t.reset()
}

func (t *failureTracker) reset() {
	t.mu.Lock()
	changed := t.level != FailureNone || t.lastError != nil
	t.level = FailureNone
	t.consecutive = 0
	t.lastError = nil
	observers := t.snapshotObservers()
	t.mu.Unlock()

	if changed {
		notify(observers, FailureNone, nil)
	}
}

func (t *failureTracker) state() (FailureLevel, *string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level, t.lastError
}

// observe registers fn and returns an unsubscribe handle.
func (t *failureTracker) observe(fn FailureObserver) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

func (t *failureTracker) snapshotObservers() []FailureObserver {
	out := make([]FailureObserver, 0, len(t.observers))
	for _, fn := range t.observers {
		out = append(out, fn)
	}
	return out
}

func notify(observers []FailureObserver, level FailureLevel, lastError *string) {
	for _, fn := range observers {
		fn(level, lastError)
	}
}
