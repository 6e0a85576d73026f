package connection

import "sync"

const (
	highFrequencyBudget = 30
	generalBudget       = 10
)

// highFrequencyTypes lists the message types spec §4.5 exempts from
// the general per-connection budget because they are expected to
// arrive often (heartbeats, barrier chatter, buffer toggles).
var highFrequencyTypes = map[string]bool{
	"ping":         true,
	"seek":         true,
	"seek_ready":   true,
	"buffer_start": true,
	"buffer_end":   true,
}

// rateLimiter is a dual fixed-window counter: one bucket for the
// high-frequency message types, one for everything else. Both windows
// reset together once per second; the worker.go ping/delete-ticker
// idiom is the model for driving it from a background goroutine.
type rateLimiter struct {
	mu            sync.Mutex
	highFrequency int
	general       int
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{}
}

// Allow reports whether a message of the given type may proceed under
// the current window, consuming budget from the matching bucket if so.
func (r *rateLimiter) Allow(messageType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if highFrequencyTypes[messageType] {
		if r.highFrequency >= highFrequencyBudget {
			return false
		}
		r.highFrequency++
		return true
	}

	if r.general >= generalBudget {
		return false
	}
	r.general++
	return true
}

// isHighFrequency reports which bucket a message type is billed
// against. Only the general bucket's rejections get an error reply
// back to the client (spec §4.6); the high-frequency bucket exists
// precisely because those types arrive often and a dropped one is
// expected to be superseded by the next, so it is dropped silently.
func isHighFrequency(messageType string) bool {
	return highFrequencyTypes[messageType]
}

// Reset starts a fresh window; called once per second by the caller's
// ticker.
func (r *rateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.highFrequency = 0
	r.general = 0
}
