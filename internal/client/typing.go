package client

import (
	"sync"
	"time"
)

// DefaultTypingQuiet is how long an indicator survives without a repeat signal.
const DefaultTypingQuiet = 3 * time.Second

type typingKey struct {
	conversation string
	userID       string
}

// TypingTracker is the receiver-local state of typing indicators. The server
// keeps none; each indicator expires after a quiet period without repeats.
type TypingTracker struct {
	mu       sync.Mutex
	quiet    time.Duration
	timers   map[typingKey]*time.Timer
	onChange func(conversation, userID string, typing bool)
}

// NewTypingTracker calls onChange (may be nil) whenever an indicator starts or stops.
// onChange runs without the tracker lock held.
func NewTypingTracker(quiet time.Duration, onChange func(conversation, userID string, typing bool)) *TypingTracker {
	if quiet <= 0 {
		quiet = DefaultTypingQuiet
	}
	return &TypingTracker{
		quiet:    quiet,
		timers:   make(map[typingKey]*time.Timer),
		onChange: onChange,
	}
}

// Signal records a typing event, starting or extending the indicator.
func (t *TypingTracker) Signal(conversation, userID string) {
	k := typingKey{conversation, userID}

	t.mu.Lock()
	old, existed := t.timers[k]
	if existed {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.quiet, func() { t.expire(k, &timer) })
	t.timers[k] = timer
	t.mu.Unlock()

	if !existed {
		t.notify(k, true)
	}
}

// Clear ends an indicator early, e.g. when the typist's message arrives.
func (t *TypingTracker) Clear(conversation, userID string) {
	k := typingKey{conversation, userID}
	t.mu.Lock()
	timer, ok := t.timers[k]
	if ok {
		timer.Stop()
		delete(t.timers, k)
	}
	t.mu.Unlock()

	if ok {
		t.notify(k, false)
	}
}

func (t *TypingTracker) IsTyping(conversation, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[typingKey{conversation, userID}]
	return ok
}

// Stop cancels every pending expiry without notifying.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, timer := range t.timers {
		timer.Stop()
		delete(t.timers, k)
	}
}

// expire reads *timer under the lock; Signal assigns it while holding the lock.
func (t *TypingTracker) expire(k typingKey, timer **time.Timer) {
	t.mu.Lock()
	current, ok := t.timers[k]
	if !ok || current != *timer {
		// Superseded by a newer signal or cleared.
		t.mu.Unlock()
		return
	}
	delete(t.timers, k)
	t.mu.Unlock()

	t.notify(k, false)
}

func (t *TypingTracker) notify(k typingKey, typing bool) {
	if t.onChange != nil {
		t.onChange(k.conversation, k.userID, typing)
	}
}
